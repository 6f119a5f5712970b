package classifier

import (
	"context"
	"strings"
	"sync"

	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/pkg/models"
)

// defaultSpamKeywords are scored as strong spam signals by KeywordStub.
var defaultSpamKeywords = []string{"free", "win", "winner", "prize", "cash", "urgent", "click", "offer"}

// KeywordStub is a deterministic rule-based Classifier used in tests, where
// training a real model would be slow or unnecessary. It never trains a persisted artifact; Train just records
// that it has "fit" so Predict becomes available.
type KeywordStub struct {
	mu       sync.RWMutex
	loaded   bool
	keywords []string
}

// NewKeywordStub returns a stub seeded with defaultSpamKeywords.
func NewKeywordStub() *KeywordStub {
	return &KeywordStub{keywords: defaultSpamKeywords}
}

func (k *KeywordStub) Kind() string { return "keyword-stub" }

func (k *KeywordStub) Train(ctx context.Context, samples []Sample, artifactPath string) (string, error) {
	if len(samples) == 0 {
		return "", storeerr.New(storeerr.InvalidInput, "Train", "classifier", "", nil)
	}
	k.mu.Lock()
	k.loaded = true
	k.mu.Unlock()
	return artifactPath, nil
}

func (k *KeywordStub) Load(ctx context.Context, artifactPath string) error {
	k.mu.Lock()
	k.loaded = true
	k.mu.Unlock()
	return nil
}

func (k *KeywordStub) Predict(ctx context.Context, text string) (float64, error) {
	k.mu.RLock()
	loaded := k.loaded
	k.mu.RUnlock()
	if !loaded {
		return 0, storeerr.New(storeerr.NotReady, "Predict", "classifier", "", nil)
	}

	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range k.keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	switch {
	case hits == 0:
		return 0.1, nil
	case hits == 1:
		return 0.6, nil
	default:
		return 0.95, nil
	}
}

func (k *KeywordStub) Evaluate(ctx context.Context, samples []Sample) (models.Metrics, error) {
	k.mu.RLock()
	loaded := k.loaded
	k.mu.RUnlock()
	if !loaded {
		return models.Metrics{}, storeerr.New(storeerr.NotReady, "Evaluate", "classifier", "", nil)
	}

	var tp, tn, fp, fn int
	for _, s := range samples {
		pSpam, _ := k.Predict(ctx, s.Text)
		predictedSpam := pSpam >= 0.5
		switch {
		case s.IsSpam && predictedSpam:
			tp++
		case !s.IsSpam && !predictedSpam:
			tn++
		case !s.IsSpam && predictedSpam:
			fp++
		case s.IsSpam && !predictedSpam:
			fn++
		}
	}

	total := tp + tn + fp + fn
	var accuracy float64
	if total > 0 {
		accuracy = float64(tp+tn) / float64(total)
	}
	precision := ratio(tp, tp+fp)
	recall := ratio(tp, tp+fn)
	var f1 float64
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return models.Metrics{
		Accuracy:  accuracy,
		Precision: precision,
		Recall:    recall,
		F1:        f1,
		TP:        tp,
		TN:        tn,
		FP:        fp,
		FN:        fn,
	}, nil
}

var _ Classifier = (*KeywordStub)(nil)
