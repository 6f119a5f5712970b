package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/internal/store"
	"github.com/spamwatch/agent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	// No SPAMWATCH_DATA_DIR set, so persistence is disabled for tests.
	s := store.NewMemoryStore(models.SystemSettings{
		ThresholdAllow:       0.3,
		ThresholdBlock:       0.7,
		RetrainGoldThreshold: 10,
	})
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &models.Message{Text: "free prize now", Source: models.SourceRuntime, Status: models.StatusQueued}
	require.NoError(t, s.CreateMessage(ctx, msg))
	assert.NotZero(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "free prize now", got.Text)
	assert.Equal(t, models.StatusQueued, got.Status)
}

func TestGetMessage_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetMessage(context.Background(), 999)
	require.Error(t, err)
}

func TestListMessages_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMessage(ctx, &models.Message{
		Text: "ham1", Source: models.SourceDataset, Split: models.SplitTrainPool,
		TrueLabel: models.LabelHam, Status: models.StatusDataset,
	}))
	require.NoError(t, s.CreateMessage(ctx, &models.Message{
		Text: "spam1", Source: models.SourceDataset, Split: models.SplitValidationHoldout,
		TrueLabel: models.LabelSpam, Status: models.StatusDataset,
	}))
	require.NoError(t, s.CreateMessage(ctx, &models.Message{
		Text: "runtime1", Source: models.SourceRuntime, Status: models.StatusQueued,
	}))

	trainPool, err := s.ListMessages(ctx, store.MessageFilter{
		Source: store.SourceFilter(models.SourceDataset), Split: models.SplitTrainPool,
	})
	require.NoError(t, err)
	assert.Len(t, trainPool, 1)
	assert.Equal(t, "ham1", trainPool[0].Text)

	runtime, err := s.ListMessages(ctx, store.MessageFilter{Source: store.SourceFilter(models.SourceRuntime)})
	require.NoError(t, err)
	assert.Len(t, runtime, 1)

	labeled, err := s.ListMessages(ctx, store.MessageFilter{HasTrueLabel: true})
	require.NoError(t, err)
	assert.Len(t, labeled, 2)
}

// TestConditionalUpdateStatus_ExclusiveClaim races many goroutines against a
// single Queued message and asserts exactly one ConditionalUpdateStatus call
// wins, proving the claim primitive is race-free (spec.md §4.1, §8).
func TestConditionalUpdateStatus_ExclusiveClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &models.Message{Text: "claim me", Source: models.SourceRuntime, Status: models.StatusQueued}
	require.NoError(t, s.CreateMessage(ctx, msg))

	const workers = 50
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			n, err := s.ConditionalUpdateStatus(ctx, msg.ID, models.StatusQueued, models.StatusProcessing)
			require.NoError(t, err)
			if n == 1 {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins)

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
}

func TestConditionalUpdateStatus_WrongExpected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &models.Message{Text: "x", Source: models.SourceRuntime, Status: models.StatusProcessing}
	require.NoError(t, s.CreateMessage(ctx, msg))

	n, err := s.ConditionalUpdateStatus(ctx, msg.ID, models.StatusQueued, models.StatusProcessing)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOldestQueuedID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.OldestQueuedID(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty)

	first := &models.Message{Text: "first", Source: models.SourceRuntime, Status: models.StatusQueued}
	require.NoError(t, s.CreateMessage(ctx, first))
	time.Sleep(2 * time.Millisecond)
	second := &models.Message{Text: "second", Source: models.SourceRuntime, Status: models.StatusQueued}
	require.NoError(t, s.CreateMessage(ctx, second))

	oldest, err := s.OldestQueuedID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, oldest)
}

func TestMarkConsumed_And_ResetConsumed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &models.Message{
		Text: "holdout row", Source: models.SourceDataset, Split: models.SplitValidationHoldout,
		TrueLabel: models.LabelHam, Status: models.StatusDataset,
	}
	require.NoError(t, s.CreateMessage(ctx, msg))

	n, err := s.MarkConsumed(ctx, []int64{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScored, got.Status)

	reset, err := s.ResetConsumed(ctx, models.SplitValidationHoldout)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	got, err = s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDataset, got.Status)
}

func TestDeleteDatasetRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMessage(ctx, &models.Message{Text: "d1", Source: models.SourceDataset, Status: models.StatusDataset}))
	require.NoError(t, s.CreateMessage(ctx, &models.Message{Text: "d2", Source: models.SourceDataset, Status: models.StatusDataset}))
	require.NoError(t, s.CreateMessage(ctx, &models.Message{Text: "r1", Source: models.SourceRuntime, Status: models.StatusQueued}))

	n, err := s.DeleteDatasetRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := s.ListMessages(ctx, store.MessageFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
	assert.Equal(t, models.SourceRuntime, remaining[0].Source)
}

// TestCreateReview_UniquePerMessage asserts the one-review-per-message
// invariant (spec.md §4.4): a second review for the same message fails with
// Conflict rather than silently overwriting the first.
func TestCreateReview_UniquePerMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &models.Message{Text: "needs review", Source: models.SourceRuntime, Status: models.StatusPendingReview}
	require.NoError(t, s.CreateMessage(ctx, msg))

	r1 := &models.Review{MessageID: msg.ID, Label: models.LabelSpam, ReviewedBy: "mod1"}
	require.NoError(t, s.CreateReview(ctx, r1))

	r2 := &models.Review{MessageID: msg.ID, Label: models.LabelHam, ReviewedBy: "mod2"}
	err := s.CreateReview(ctx, r2)
	require.Error(t, err)
	assert.Equal(t, storeerr.Conflict, storeerr.Of(err))
}

func TestActivateModelVersion_FlipsActiveAndSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := &models.ModelVersion{Version: 1, ArtifactPath: "models/model-v1.bin"}
	require.NoError(t, s.CreateModelVersion(ctx, v1))
	v2 := &models.ModelVersion{Version: 2, ArtifactPath: "models/model-v2.bin"}
	require.NoError(t, s.CreateModelVersion(ctx, v2))

	require.NoError(t, s.ActivateModelVersion(ctx, v1.ID))
	active, err := s.GetActiveModelVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)

	require.NoError(t, s.ActivateModelVersion(ctx, v2.ID))
	active, err = s.GetActiveModelVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, active.ID)

	v1Reloaded, err := s.GetModelVersion(ctx, v1.ID)
	require.NoError(t, err)
	assert.False(t, v1Reloaded.IsActive)

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, settings.ActiveModelVersion)
}

func TestMaxVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	max, err := s.MaxVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, max)

	require.NoError(t, s.CreateModelVersion(ctx, &models.ModelVersion{Version: 1}))
	require.NoError(t, s.CreateModelVersion(ctx, &models.ModelVersion{Version: 5}))

	max, err = s.MaxVersion(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, max)
}

func TestGoldCounter_IncrementAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementGoldCounter(ctx))
	require.NoError(t, s.IncrementGoldCounter(ctx))

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, settings.NewGoldSinceLastTrain)

	now := time.Now().UTC()
	require.NoError(t, s.ResetGoldCounterAfterTraining(ctx, now))

	settings, err = s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Zero(t, settings.NewGoldSinceLastTrain)
	assert.WithinDuration(t, now, settings.LastRetrainAt, time.Second)
}

func TestCountByStatus_ExcludesDatasetRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMessage(ctx, &models.Message{Text: "d", Source: models.SourceDataset, Status: models.StatusDataset}))
	require.NoError(t, s.CreateMessage(ctx, &models.Message{Text: "r1", Source: models.SourceRuntime, Status: models.StatusQueued}))
	require.NoError(t, s.CreateMessage(ctx, &models.Message{Text: "r2", Source: models.SourceRuntime, Status: models.StatusQueued}))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusQueued])
	assert.Zero(t, counts[models.StatusDataset])
}

func TestSnapshotPersistence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SPAMWATCH_DATA_DIR", dir)

	s := store.NewMemoryStore(models.SystemSettings{ThresholdAllow: 0.3, ThresholdBlock: 0.7})
	ctx := context.Background()
	msg := &models.Message{Text: "persist me", Source: models.SourceRuntime, Status: models.StatusQueued}
	require.NoError(t, s.CreateMessage(ctx, msg))
	require.NoError(t, s.Close())

	s2 := store.NewMemoryStore(models.SystemSettings{})
	defer s2.Close()
	got, err := s2.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "persist me", got.Text)
}
