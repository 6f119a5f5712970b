// Package cli implements the spamwatch-agent command-line interface:
// serve starts the long-running runners, and import/review/retrain/status
// give an operator direct control over the same services the runners use.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point; Execute runs it.
var rootCmd = &cobra.Command{
	Use:   "spamwatch-agent",
	Short: "SMS spam classification agent runtime",
	Long: `spamwatch-agent runs the SMS spam classification runtime: a durable
queue, a scoring agent that applies a three-zone threshold policy, and a
retrain agent driven by moderator gold labels.`,
	SilenceUsage: true,
}

// Execute runs the CLI, exiting the process with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(retrainCmd)
	rootCmd.AddCommand(statusCmd)
}
