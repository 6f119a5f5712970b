package training_test

import (
	"context"
	"sync"
	"testing"

	"github.com/spamwatch/agent/internal/classifier"
	"github.com/spamwatch/agent/internal/store"
	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/internal/training"
	"github.com/spamwatch/agent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore(models.SystemSettings{ThresholdAllow: 0.3, ThresholdBlock: 0.7})
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTrainAndHoldout(t *testing.T, ctx context.Context, s store.Store) {
	t.Helper()
	train := []struct {
		text  string
		label models.Label
	}{
		{"win free cash prize", models.LabelSpam},
		{"urgent click offer winner", models.LabelSpam},
		{"are we still meeting today", models.LabelHam},
		{"lunch at noon works", models.LabelHam},
	}
	for _, r := range train {
		require.NoError(t, s.CreateMessage(ctx, &models.Message{
			Text: r.text, Source: models.SourceDataset, Split: models.SplitTrainPool,
			TrueLabel: r.label, Status: models.StatusDataset,
		}))
	}
	holdout := []struct {
		text  string
		label models.Label
	}{
		{"cash prize winner alert", models.LabelSpam},
		{"see you at the office", models.LabelHam},
	}
	for _, r := range holdout {
		require.NoError(t, s.CreateMessage(ctx, &models.Message{
			Text: r.text, Source: models.SourceDataset, Split: models.SplitValidationHoldout,
			TrueLabel: r.label, Status: models.StatusDataset,
		}))
	}
}

func TestTrainModel_EmptyTrainingSetFails(t *testing.T) {
	s := newTestStore(t)
	tr := training.New(s, classifier.NewKeywordStub(), t.TempDir())
	_, err := tr.TrainModel(context.Background(), models.TemplateLight, false)
	require.Error(t, err)
	assert.Equal(t, storeerr.InvalidState, storeerr.Of(err))
}

func TestTrainModel_ProducesIncrementingVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTrainAndHoldout(t, ctx, s)
	tr := training.New(s, classifier.NewKeywordStub(), t.TempDir())

	mv1, err := tr.TrainModel(ctx, models.TemplateLight, false)
	require.NoError(t, err)
	mv2, err := tr.TrainModel(ctx, models.TemplateLight, false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), mv1.Version)
	assert.Equal(t, int64(2), mv2.Version)
	assert.False(t, mv1.IsActive)
	assert.False(t, mv2.IsActive)
}

func TestTrainModel_ActivateFlipsSingleton(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTrainAndHoldout(t, ctx, s)
	tr := training.New(s, classifier.NewKeywordStub(), t.TempDir())

	mv1, err := tr.TrainModel(ctx, models.TemplateLight, true)
	require.NoError(t, err)
	assert.True(t, mv1.IsActive)

	mv2, err := tr.TrainModel(ctx, models.TemplateLight, true)
	require.NoError(t, err)
	assert.True(t, mv2.IsActive)

	reloaded, err := s.GetModelVersion(ctx, mv1.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsActive)

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, mv2.ID, settings.ActiveModelVersion)
}

func TestTrainModel_IncludesGoldReviews(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTrainAndHoldout(t, ctx, s)

	reviewed := &models.Message{Text: "please review this", Source: models.SourceRuntime, Status: models.StatusPendingReview}
	require.NoError(t, s.CreateMessage(ctx, reviewed))
	require.NoError(t, s.CreateReview(ctx, &models.Review{MessageID: reviewed.ID, Label: models.LabelSpam, ReviewedBy: "mod"}))
	require.NoError(t, s.UpdateMessageAfterReview(ctx, reviewed.ID, models.LabelSpam, models.StatusInSpam))

	tr := training.New(s, classifier.NewKeywordStub(), t.TempDir())
	mv, err := tr.TrainModel(ctx, models.TemplateLight, false)
	require.NoError(t, err)
	assert.Equal(t, 1, mv.GoldIncludedCount)
	assert.Equal(t, 5, mv.TrainSetSize) // 4 pool rows + 1 gold review
}

func TestTrainModel_ResetsGoldCounter(t *testing.T) {
	s := store.NewMemoryStore(models.SystemSettings{ThresholdAllow: 0.3, ThresholdBlock: 0.7, RetrainGoldThreshold: 1})
	defer s.Close()
	ctx := context.Background()
	seedTrainAndHoldout(t, ctx, s)
	require.NoError(t, s.IncrementGoldCounter(ctx))

	tr := training.New(s, classifier.NewKeywordStub(), t.TempDir())
	_, err := tr.TrainModel(ctx, models.TemplateLight, false)
	require.NoError(t, err)

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Zero(t, settings.NewGoldSinceLastTrain)
}

// TestTrainModel_SerializesConcurrentCalls exercises trainMu: two concurrent
// TrainModel calls must never interleave, so MaxVersion+1 is unique for each.
func TestTrainModel_SerializesConcurrentCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTrainAndHoldout(t, ctx, s)
	tr := training.New(s, classifier.NewKeywordStub(), t.TempDir())

	var wg sync.WaitGroup
	versions := make([]int64, 4)
	errs := make([]error, 4)
	wg.Add(4)
	for i := 0; i < 4; i++ {
		i := i
		go func() {
			defer wg.Done()
			mv, err := tr.TrainModel(ctx, models.TemplateLight, false)
			errs[i] = err
			if mv != nil {
				versions[i] = mv.Version
			}
		}()
	}
	wg.Wait()

	seen := map[int64]bool{}
	for i, err := range errs {
		require.NoError(t, err)
		assert.False(t, seen[versions[i]], "duplicate version %d", versions[i])
		seen[versions[i]] = true
	}
}
