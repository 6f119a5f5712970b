// Package integration runs the end-to-end seed scenarios (spec.md §8)
// against the in-memory store and the deterministic keyword-stub
// classifier, exercising the queue, review, training, and scoring
// services together the way the agent runners do.
package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/spamwatch/agent/internal/classifier"
	"github.com/spamwatch/agent/internal/queue"
	"github.com/spamwatch/agent/internal/review"
	"github.com/spamwatch/agent/internal/scoring"
	"github.com/spamwatch/agent/internal/store"
	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/internal/training"
	"github.com/spamwatch/agent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHarness(t *testing.T) (store.Store, *queue.Service, *review.Service, *training.Service, *scoring.Service) {
	t.Helper()
	s := store.NewMemoryStore(models.SystemSettings{
		ThresholdAllow:       0.3,
		ThresholdBlock:       0.7,
		RetrainGoldThreshold: 3,
		AutoRetrainEnabled:   true,
	})
	t.Cleanup(func() { s.Close() })

	clf := classifier.NewKeywordStub()
	return s, queue.New(s), review.New(s), training.New(s, clf, t.TempDir()), scoring.New(s, clf)
}

// seedDataset inserts a handful of labeled rows split across train_pool and
// validation_holdout, standing in for dataset.Import in tests that don't
// need the real file format.
func seedDataset(t *testing.T, ctx context.Context, s store.Store) {
	t.Helper()
	rows := []struct {
		text  string
		label models.Label
		split models.MessageSplit
	}{
		{"win a free prize now", models.LabelSpam, models.SplitTrainPool},
		{"urgent click this offer", models.LabelSpam, models.SplitTrainPool},
		{"are we still meeting today", models.LabelHam, models.SplitTrainPool},
		{"lunch at noon works for me", models.LabelHam, models.SplitTrainPool},
		{"cash prize winner alert", models.LabelSpam, models.SplitValidationHoldout},
		{"see you at the office", models.LabelHam, models.SplitValidationHoldout},
	}
	for _, r := range rows {
		require.NoError(t, s.CreateMessage(ctx, &models.Message{
			Text: r.text, Source: models.SourceDataset, Split: r.split,
			TrueLabel: r.label, Status: models.StatusDataset,
		}))
	}
}

// 1. Cold start: empty store, ScoreMessage fails with NotReady.
func TestSeed_ColdStart(t *testing.T) {
	s, q, _, _, sc := newHarness(t)
	ctx := context.Background()

	msg, err := q.Enqueue(ctx, "hello")
	require.NoError(t, err)

	_, err = sc.ScoreMessage(ctx, msg)
	require.Error(t, err)
	assert.Equal(t, storeerr.NotReady, storeerr.Of(err))
	_ = s
}

// 2. Happy path: seed the dataset, train Light with activate, enqueue one
// message, claim and score it as one scoring tick does, assert a Block or
// PendingReview decision and a linked Prediction.
func TestSeed_HappyPath(t *testing.T) {
	s, q, _, tr, sc := newHarness(t)
	ctx := context.Background()
	seedDataset(t, ctx, s)

	mv, err := tr.TrainModel(ctx, models.TemplateLight, true)
	require.NoError(t, err)
	assert.True(t, mv.IsActive)

	msg, err := q.Enqueue(ctx, "WIN FREE IPHONE NOW!!!")
	require.NoError(t, err)

	claimed, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, msg.ID, claimed.ID)

	result, err := sc.ScoreMessage(ctx, claimed)
	require.NoError(t, err)
	assert.Contains(t, []models.Decision{models.DecisionBlock, models.DecisionPendingReview}, result.Decision)

	preds, err := s.ListPredictionsForMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, mv.ID, preds[0].ModelVersionID)
}

// 3. Race-free claim: one message, two concurrent claimers, exactly one
// Prediction is ever created and no message is left Processing.
func TestSeed_RaceFreeClaim(t *testing.T) {
	s, q, _, tr, sc := newHarness(t)
	ctx := context.Background()
	seedDataset(t, ctx, s)
	_, err := tr.TrainModel(ctx, models.TemplateLight, true)
	require.NoError(t, err)

	msg, err := q.Enqueue(ctx, "urgent cash offer")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	scored := 0
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			claimed, err := q.ClaimNext(ctx)
			if err != nil || claimed == nil {
				return
			}
			if _, err := sc.ScoreMessage(ctx, claimed); err == nil {
				mu.Lock()
				scored++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, scored)
	preds, err := s.ListPredictionsForMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, preds, 1)

	final, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusProcessing, final.Status)
}

// 4. Review-triggered retrain: 3 reviews cross RetrainGoldThreshold=3; the
// TrainModel call a retrain tick makes produces a new active version and
// resets the counter.
func TestSeed_ReviewTriggeredRetrain(t *testing.T) {
	s, q, rv, tr, sc := newHarness(t)
	ctx := context.Background()
	seedDataset(t, ctx, s)
	mv1, err := tr.TrainModel(ctx, models.TemplateLight, true)
	require.NoError(t, err)

	var pending []int64
	for i := 0; i < 3; i++ {
		msg, err := q.Enqueue(ctx, "please review me")
		require.NoError(t, err)
		claimed, err := q.ClaimNext(ctx)
		require.NoError(t, err)
		_, err = sc.ScoreMessage(ctx, claimed)
		require.NoError(t, err)
		pending = append(pending, msg.ID)
	}

	for _, id := range pending {
		_, err := rv.AddReview(ctx, id, models.LabelSpam, "moderator", "")
		require.NoError(t, err)
	}

	shouldTrigger, current, threshold, err := rv.CheckAutoRetrain(ctx)
	require.NoError(t, err)
	assert.True(t, shouldTrigger)
	assert.Equal(t, 3, current)
	assert.Equal(t, 3, threshold)

	mv2, err := tr.TrainModel(ctx, models.TemplateLight, true)
	require.NoError(t, err)
	assert.Equal(t, mv1.Version+1, mv2.Version)
	assert.True(t, mv2.IsActive)

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Zero(t, settings.NewGoldSinceLastTrain)
}

// 5. Holdout stability: training twice never changes the validation set.
func TestSeed_HoldoutStability(t *testing.T) {
	s, _, _, tr, _ := newHarness(t)
	ctx := context.Background()
	seedDataset(t, ctx, s)

	mv1, err := tr.TrainModel(ctx, models.TemplateMedium, false)
	require.NoError(t, err)
	mv2, err := tr.TrainModel(ctx, models.TemplateLight, false)
	require.NoError(t, err)

	assert.Equal(t, mv1.ValidationSetSize, mv2.ValidationSetSize)

	rows, err := s.ListMessages(ctx, store.MessageFilter{
		Source: store.SourceFilter(models.SourceDataset), Split: models.SplitValidationHoldout, HasTrueLabel: true,
	})
	require.NoError(t, err)
	assert.Equal(t, len(rows), mv1.ValidationSetSize)
}

// 6. Force retrain with empty gold pool: before any reviews, the
// TrainModel(Full, activate) call that ForceRetrain makes still succeeds
// with GoldIncludedCount=0, activates the version, and resets the counter.
func TestSeed_ForceRetrainEmptyGoldPool(t *testing.T) {
	s, _, _, tr, _ := newHarness(t)
	ctx := context.Background()
	seedDataset(t, ctx, s)

	mv, err := tr.TrainModel(ctx, models.TemplateFull, true)
	require.NoError(t, err)
	assert.Zero(t, mv.GoldIncludedCount)
	assert.True(t, mv.IsActive)

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Zero(t, settings.NewGoldSinceLastTrain)
}
