package cli

import (
	"context"
	"fmt"

	"github.com/spamwatch/agent/internal/config"
	"github.com/spamwatch/agent/internal/queue"
	"github.com/spamwatch/agent/pkg/models"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print queue depth, active model version, and retrain counters",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	settings, err := s.GetSettings(ctx)
	if err != nil {
		return err
	}

	counts, err := queue.New(s).Counts(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Active model version: %d\n", settings.ActiveModelVersion)
	fmt.Printf("Thresholds: allow < %.2f, block >= %.2f\n", settings.ThresholdAllow, settings.ThresholdBlock)
	fmt.Printf("Gold counter: %d / %d (auto_retrain=%v)\n", settings.NewGoldSinceLastTrain, settings.RetrainGoldThreshold, settings.AutoRetrainEnabled)
	fmt.Println("Queue depth by status:")
	for _, status := range []models.MessageStatus{
		models.StatusQueued, models.StatusProcessing, models.StatusInInbox,
		models.StatusInSpam, models.StatusPendingReview,
	} {
		fmt.Printf("  %-15s %d\n", status, counts[status])
	}
	return nil
}
