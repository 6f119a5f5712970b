// Package training implements the training service (spec.md §4.5): it
// assembles train/validation sets, invokes the classifier, persists a new
// model version, and performs the atomic active-version flip.
package training

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spamwatch/agent/internal/classifier"
	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/internal/store"
	"github.com/spamwatch/agent/pkg/models"
)

// Service wraps a Store and a Classifier with the training operations.
type Service struct {
	store           store.Store
	clf             classifier.Classifier
	modelsDirectory string

	// trainMu serializes TrainModel calls made through this Service. The
	// design note in spec.md §9 leaves idempotency of overlapping trainings
	// as an open question; this implementation resolves it by serializing,
	// so two near-simultaneous triggers on one Service (e.g. a retrain
	// runner tick and ForceRetrain) never train concurrently. The later
	// caller simply waits and then trains against whatever state exists at
	// that point. A Service in another process (the CLI retrain command)
	// has its own mutex and is not serialized with this one.
	trainMu sync.Mutex
}

// New returns a training Service. modelsDirectory is where artifacts are
// written; it must already exist or be creatable by the classifier driver.
func New(s store.Store, clf classifier.Classifier, modelsDirectory string) *Service {
	return &Service{store: s, clf: clf, modelsDirectory: modelsDirectory}
}

// TrainModel executes spec.md §4.5's eight steps and returns the persisted
// ModelVersion.
func (svc *Service) TrainModel(ctx context.Context, template models.TrainTemplate, activate bool) (*models.ModelVersion, error) {
	svc.trainMu.Lock()
	defer svc.trainMu.Unlock()

	trainSamples, goldCount, err := svc.gatherTrainingSet(ctx, template)
	if err != nil {
		return nil, fmt.Errorf("gather training set: %w", err)
	}
	if len(trainSamples) == 0 {
		return nil, storeerr.New(storeerr.InvalidState, "TrainModel", "model_version", "", nil)
	}

	validationSamples, err := svc.gatherValidationSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("gather validation set: %w", err)
	}

	maxVersion, err := svc.store.MaxVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read max version: %w", err)
	}
	newVersion := maxVersion + 1
	artifactPath := filepath.Join(svc.modelsDirectory, fmt.Sprintf("model-v%d.bin", newVersion))

	if _, err := svc.clf.Train(ctx, trainSamples, artifactPath); err != nil {
		return nil, fmt.Errorf("train classifier: %w", storeerr.New(storeerr.TrainingFailed, "TrainModel", "model_version", "", err))
	}

	metrics, err := svc.clf.Evaluate(ctx, validationSamples)
	if err != nil {
		return nil, fmt.Errorf("evaluate classifier: %w", storeerr.New(storeerr.TrainingFailed, "TrainModel", "model_version", "", err))
	}

	settings, err := svc.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	mv := &models.ModelVersion{
		Version:           newVersion,
		TrainTemplate:     template,
		TrainSetSize:      len(trainSamples),
		GoldIncludedCount: goldCount,
		ValidationSetSize: len(validationSamples),
		Metrics:           metrics,
		ThresholdAllow:    settings.ThresholdAllow,
		ThresholdBlock:    settings.ThresholdBlock,
		ArtifactPath:      artifactPath,
		IsActive:          false,
	}
	if err := svc.store.CreateModelVersion(ctx, mv); err != nil {
		return nil, fmt.Errorf("persist model version: %w", err)
	}

	if activate {
		if err := svc.ActivateModel(ctx, mv.ID); err != nil {
			return nil, fmt.Errorf("activate model version %d: %w", mv.ID, err)
		}
		mv.IsActive = true
	}

	if err := svc.store.ResetGoldCounterAfterTraining(ctx, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("reset gold counter: %w", err)
	}

	log.Info().
		Int64("version", mv.Version).
		Int("train_set_size", mv.TrainSetSize).
		Int("gold_included", mv.GoldIncludedCount).
		Bool("activated", activate).
		Msg("Model trained")

	return mv, nil
}

// ActivateModel performs the atomic active-pointer flip: the store
// transactionally deactivates the current active version, activates id,
// and updates SystemSettings, then the classifier is instructed to load
// the new artifact outside that transaction (spec.md §4.5 steps 1-4).
func (svc *Service) ActivateModel(ctx context.Context, versionID int64) error {
	if err := svc.store.ActivateModelVersion(ctx, versionID); err != nil {
		return err
	}

	mv, err := svc.store.GetModelVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("load activated version: %w", err)
	}

	if err := svc.clf.Load(ctx, mv.ArtifactPath); err != nil {
		return fmt.Errorf("load classifier artifact: %w", err)
	}
	return nil
}

// gatherTrainingSet collects up to template.Size() rows from
// Source=Dataset, Split=TrainPool, TrueLabel≠∅ ordered by id, concatenated
// with every row carrying a Review (the gold labels). Duplicates by text
// are allowed.
func (svc *Service) gatherTrainingSet(ctx context.Context, template models.TrainTemplate) ([]classifier.Sample, int, error) {
	size := template.Size()
	filter := store.MessageFilter{
		Source:       store.SourceFilter(models.SourceDataset),
		Split:        models.SplitTrainPool,
		HasTrueLabel: true,
	}
	if size >= 0 {
		filter.Limit = size
	}
	poolRows, err := svc.store.ListMessages(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	goldRows, err := svc.store.ListMessages(ctx, store.MessageFilter{HasReview: true, HasTrueLabel: true})
	if err != nil {
		return nil, 0, err
	}

	samples := make([]classifier.Sample, 0, len(poolRows)+len(goldRows))
	for _, m := range poolRows {
		samples = append(samples, toSample(m))
	}
	for _, m := range goldRows {
		samples = append(samples, toSample(m))
	}
	return samples, len(goldRows), nil
}

// gatherValidationSet collects every Source=Dataset, Split=ValidationHoldout
// row with a true label. This partition never changes after import, so it
// is comparable across model versions (spec.md §8 "Holdout stability").
func (svc *Service) gatherValidationSet(ctx context.Context) ([]classifier.Sample, error) {
	rows, err := svc.store.ListMessages(ctx, store.MessageFilter{
		Source:       store.SourceFilter(models.SourceDataset),
		Split:        models.SplitValidationHoldout,
		HasTrueLabel: true,
	})
	if err != nil {
		return nil, err
	}
	samples := make([]classifier.Sample, 0, len(rows))
	for _, m := range rows {
		samples = append(samples, toSample(m))
	}
	return samples, nil
}

func toSample(m models.Message) classifier.Sample {
	return classifier.Sample{Text: m.Text, IsSpam: m.TrueLabel == models.LabelSpam}
}
