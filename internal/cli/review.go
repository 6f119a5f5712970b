package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spamwatch/agent/internal/config"
	"github.com/spamwatch/agent/internal/review"
	"github.com/spamwatch/agent/pkg/models"
	"github.com/spf13/cobra"
)

var (
	reviewBy   string
	reviewNote string
)

var reviewCmd = &cobra.Command{
	Use:   "review <message-id> <ham|spam>",
	Short: "Record a moderator's gold label for a pending-review message",
	Args:  cobra.ExactArgs(2),
	RunE:  runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewBy, "by", "cli", "moderator identifier")
	reviewCmd.Flags().StringVar(&reviewNote, "note", "", "optional free-text note")
}

func runReview(cmd *cobra.Command, args []string) error {
	messageID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", args[0], err)
	}

	var label models.Label
	switch args[1] {
	case "ham":
		label = models.LabelHam
	case "spam":
		label = models.LabelSpam
	default:
		return fmt.Errorf("label must be \"ham\" or \"spam\", got %q", args[1])
	}

	ctx := context.Background()
	cfg := config.Load()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	reviewSvc := review.New(s)
	if _, err := reviewSvc.AddReview(ctx, messageID, label, reviewBy, reviewNote); err != nil {
		return err
	}

	shouldTrigger, current, threshold, err := reviewSvc.CheckAutoRetrain(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Review recorded for message %d: %s\n", messageID, label)
	if shouldTrigger {
		fmt.Printf("Gold counter (%d) has crossed the retrain threshold (%d); the retrain runner will pick this up on its next tick, or run `spamwatch-agent retrain` now.\n", current, threshold)
	}
	return nil
}
