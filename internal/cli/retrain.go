package cli

import (
	"context"
	"fmt"

	"github.com/spamwatch/agent/internal/config"
	"github.com/spamwatch/agent/internal/training"
	"github.com/spamwatch/agent/pkg/models"
	"github.com/spf13/cobra"
)

var (
	retrainTemplate string
	retrainActivate bool
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Train a new model version now, bypassing the gold-counter threshold",
	RunE:  runRetrain,
}

func init() {
	retrainCmd.Flags().StringVar(&retrainTemplate, "template", "medium", "train set size preset: light, medium, full")
	retrainCmd.Flags().BoolVar(&retrainActivate, "activate", true, "activate the new version once evaluated")
}

func runRetrain(cmd *cobra.Command, args []string) error {
	template := models.TrainTemplate(retrainTemplate)
	switch template {
	case models.TemplateLight, models.TemplateMedium, models.TemplateFull:
	default:
		return fmt.Errorf("unknown template %q: must be light, medium, or full", retrainTemplate)
	}

	ctx := context.Background()
	cfg := config.Load()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	registry := newProductionClassifier()
	trainingSvc := training.New(s, registry, cfg.ModelsDirectory)

	mv, err := trainingSvc.TrainModel(ctx, template, retrainActivate)
	if err != nil {
		return err
	}

	fmt.Printf("Trained model version %d (template=%s, train_set=%d, gold_included=%d, validation_set=%d, activated=%v)\n",
		mv.Version, mv.TrainTemplate, mv.TrainSetSize, mv.GoldIncludedCount, mv.ValidationSetSize, mv.IsActive)
	fmt.Printf("Metrics: accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f\n",
		mv.Metrics.Accuracy, mv.Metrics.Precision, mv.Metrics.Recall, mv.Metrics.F1)
	return nil
}
