package softwareagent_test

import (
	"context"
	"testing"

	"github.com/spamwatch/agent/internal/classifier"
	"github.com/spamwatch/agent/internal/queue"
	"github.com/spamwatch/agent/internal/review"
	"github.com/spamwatch/agent/internal/scoring"
	"github.com/spamwatch/agent/internal/softwareagent"
	"github.com/spamwatch/agent/internal/store"
	"github.com/spamwatch/agent/internal/training"
	"github.com/spamwatch/agent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgent_StepReturnsNilWhenQueueEmpty(t *testing.T) {
	s := store.NewMemoryStore(models.SystemSettings{ThresholdAllow: 0.3, ThresholdBlock: 0.7})
	defer s.Close()
	clf := classifier.NewKeywordStub()
	a := softwareagent.New(queue.New(s), scoring.New(s, clf), review.New(s), training.New(s, clf, t.TempDir()))

	result, err := a.Step(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestAgent_StepScoresClaimedMessage(t *testing.T) {
	s := store.NewMemoryStore(models.SystemSettings{ThresholdAllow: 0.3, ThresholdBlock: 0.7})
	defer s.Close()
	ctx := context.Background()
	clf := classifier.NewKeywordStub()

	require.NoError(t, s.CreateMessage(ctx, &models.Message{
		Text: "win free cash", Source: models.SourceDataset, Split: models.SplitTrainPool,
		TrueLabel: models.LabelSpam, Status: models.StatusDataset,
	}))
	require.NoError(t, s.CreateMessage(ctx, &models.Message{
		Text: "ordinary text", Source: models.SourceDataset, Split: models.SplitTrainPool,
		TrueLabel: models.LabelHam, Status: models.StatusDataset,
	}))

	tr := training.New(s, clf, t.TempDir())
	_, err := tr.TrainModel(ctx, models.TemplateLight, true)
	require.NoError(t, err)

	q := queue.New(s)
	_, err = q.Enqueue(ctx, "win free prize now")
	require.NoError(t, err)

	a := softwareagent.New(q, scoring.New(s, clf), review.New(s), tr)
	result, err := a.Step(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, models.DecisionBlock, result.Decision)
}

func TestAgent_MaybeLearnNoopBelowThreshold(t *testing.T) {
	s := store.NewMemoryStore(models.SystemSettings{
		ThresholdAllow: 0.3, ThresholdBlock: 0.7, RetrainGoldThreshold: 5, AutoRetrainEnabled: true,
	})
	defer s.Close()
	clf := classifier.NewKeywordStub()
	a := softwareagent.New(queue.New(s), scoring.New(s, clf), review.New(s), training.New(s, clf, t.TempDir()))

	mv, err := a.MaybeLearn(context.Background(), models.TemplateLight, true)
	require.NoError(t, err)
	assert.Nil(t, mv)
}

func TestAgent_MaybeLearnTrainsWhenThresholdCrossed(t *testing.T) {
	s := store.NewMemoryStore(models.SystemSettings{
		ThresholdAllow: 0.3, ThresholdBlock: 0.7, RetrainGoldThreshold: 1, AutoRetrainEnabled: true,
	})
	defer s.Close()
	ctx := context.Background()
	clf := classifier.NewKeywordStub()

	require.NoError(t, s.CreateMessage(ctx, &models.Message{
		Text: "win free cash", Source: models.SourceDataset, Split: models.SplitTrainPool,
		TrueLabel: models.LabelSpam, Status: models.StatusDataset,
	}))
	require.NoError(t, s.CreateMessage(ctx, &models.Message{
		Text: "ordinary text", Source: models.SourceDataset, Split: models.SplitTrainPool,
		TrueLabel: models.LabelHam, Status: models.StatusDataset,
	}))

	msg := &models.Message{Text: "please review", Source: models.SourceRuntime, Status: models.StatusPendingReview}
	require.NoError(t, s.CreateMessage(ctx, msg))

	rv := review.New(s)
	_, err := rv.AddReview(ctx, msg.ID, models.LabelSpam, "mod", "")
	require.NoError(t, err)

	tr := training.New(s, clf, t.TempDir())
	a := softwareagent.New(queue.New(s), scoring.New(s, clf), rv, tr)

	mv, err := a.MaybeLearn(ctx, models.TemplateLight, true)
	require.NoError(t, err)
	require.NotNil(t, mv)
	assert.True(t, mv.IsActive)
}
