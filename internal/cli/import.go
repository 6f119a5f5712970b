package cli

import (
	"context"
	"fmt"

	"github.com/spamwatch/agent/internal/config"
	"github.com/spamwatch/agent/internal/dataset"
	"github.com/spf13/cobra"
)

var importForce bool

var importCmd = &cobra.Command{
	Use:   "import [path]",
	Short: "Load the SMS spam dataset into the train pool and validation holdout",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importForce, "force", false, "delete and re-import existing dataset rows")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	path := cfg.DatasetPath
	if len(args) == 1 {
		path = args[0]
	}

	ctx := context.Background()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := dataset.Import(ctx, s, path, importForce)
	if err != nil {
		return err
	}
	printImportResult(result)
	return nil
}

func printImportResult(result dataset.Result) {
	if result.Skipped {
		fmt.Println("Dataset already imported, skipped (pass --force to re-import)")
		return
	}
	fmt.Printf("Imported %d rows: %d train_pool, %d validation_holdout\n",
		result.Imported, result.TrainSize, result.HoldoutSize)
}
