package classifier_test

import (
	"context"
	"testing"

	"github.com/spamwatch/agent/internal/classifier"
	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordStub_PredictUnloaded(t *testing.T) {
	k := classifier.NewKeywordStub()
	_, err := k.Predict(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, storeerr.NotReady, storeerr.Of(err))
}

func TestKeywordStub_HitCountsDriveScore(t *testing.T) {
	k := classifier.NewKeywordStub()
	ctx := context.Background()
	_, err := k.Train(ctx, []classifier.Sample{{Text: "seed", IsSpam: true}}, "")
	require.NoError(t, err)

	cases := []struct {
		text string
		want float64
	}{
		{"let's catch up later", 0.1},
		{"this is a free sample", 0.6},
		{"win a free prize now", 0.95},
	}
	for _, c := range cases {
		got, err := k.Predict(ctx, c.text)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "text=%q", c.text)
	}
}

func TestKeywordStub_Evaluate(t *testing.T) {
	k := classifier.NewKeywordStub()
	ctx := context.Background()
	_, err := k.Train(ctx, []classifier.Sample{{Text: "seed", IsSpam: true}}, "")
	require.NoError(t, err)

	samples := []classifier.Sample{
		{Text: "win free cash prize", IsSpam: true},
		{Text: "see you tomorrow", IsSpam: false},
	}
	metrics, err := k.Evaluate(ctx, samples)
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics.Accuracy)
	assert.Equal(t, 1, metrics.TP)
	assert.Equal(t, 1, metrics.TN)
}
