package classifier

import (
	"bufio"
	"context"
	"encoding/gob"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/pkg/models"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// naiveBayesArtifact is the gob-encoded shape persisted to ArtifactPath.
type naiveBayesArtifact struct {
	// WordCounts[isSpam][token] = occurrence count across training docs.
	WordCounts [2]map[string]int
	DocCounts  [2]int
	TotalWords [2]int
	Vocabulary map[string]struct{}
}

// NaiveBayesClassifier is a bag-of-words multinomial Naive Bayes spam
// classifier with Laplace (add-one) smoothing. It is the production driver
// behind the Classifier capability; Train persists a gob-encoded artifact,
// Load/Predict operate on whatever is currently in memory.
type NaiveBayesClassifier struct {
	mu       sync.RWMutex
	artifact *naiveBayesArtifact
}

// NewNaiveBayesClassifier returns an unloaded classifier. Callers must Train
// or Load before calling Predict or Evaluate.
func NewNaiveBayesClassifier() *NaiveBayesClassifier {
	return &NaiveBayesClassifier{}
}

func (c *NaiveBayesClassifier) Kind() string { return "naive-bayes" }

func (c *NaiveBayesClassifier) Train(ctx context.Context, samples []Sample, artifactPath string) (string, error) {
	if len(samples) == 0 {
		return "", storeerr.New(storeerr.InvalidInput, "Train", "classifier", "", nil)
	}

	art := &naiveBayesArtifact{
		WordCounts: [2]map[string]int{make(map[string]int), make(map[string]int)},
		Vocabulary: make(map[string]struct{}),
	}

	for _, s := range samples {
		select {
		case <-ctx.Done():
			return "", storeerr.New(storeerr.Cancelled, "Train", "classifier", "", ctx.Err())
		default:
		}
		idx := classIndex(s.IsSpam)
		art.DocCounts[idx]++
		for _, tok := range tokenize(s.Text) {
			art.WordCounts[idx][tok]++
			art.TotalWords[idx]++
			art.Vocabulary[tok] = struct{}{}
		}
	}

	f, err := os.Create(artifactPath)
	if err != nil {
		return "", storeerr.New(storeerr.TrainingFailed, "Train", "classifier", artifactPath, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(art); err != nil {
		return "", storeerr.New(storeerr.TrainingFailed, "Train", "classifier", artifactPath, err)
	}
	if err := w.Flush(); err != nil {
		return "", storeerr.New(storeerr.TrainingFailed, "Train", "classifier", artifactPath, err)
	}

	c.mu.Lock()
	c.artifact = art
	c.mu.Unlock()

	return artifactPath, nil
}

func (c *NaiveBayesClassifier) Load(ctx context.Context, artifactPath string) error {
	f, err := os.Open(artifactPath)
	if err != nil {
		return storeerr.New(storeerr.NotFound, "Load", "classifier", artifactPath, err)
	}
	defer f.Close()

	var art naiveBayesArtifact
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&art); err != nil {
		return storeerr.New(storeerr.NotFound, "Load", "classifier", artifactPath, err)
	}

	c.mu.Lock()
	c.artifact = &art
	c.mu.Unlock()
	return nil
}

func (c *NaiveBayesClassifier) Predict(ctx context.Context, text string) (float64, error) {
	c.mu.RLock()
	art := c.artifact
	c.mu.RUnlock()
	if art == nil {
		return 0, storeerr.New(storeerr.NotReady, "Predict", "classifier", "", nil)
	}

	logProbHam := logClassProb(art, 0, text)
	logProbSpam := logClassProb(art, 1, text)

	// Convert log-odds to a probability via the logistic function; this
	// avoids overflow from exponentiating very negative log-likelihoods
	// directly.
	diff := logProbHam - logProbSpam
	pSpam := 1 / (1 + math.Exp(diff))
	return pSpam, nil
}

func logClassProb(art *naiveBayesArtifact, idx int, text string) float64 {
	totalDocs := art.DocCounts[0] + art.DocCounts[1]
	if totalDocs == 0 {
		return math.Log(0.5)
	}
	prior := float64(art.DocCounts[idx]) / float64(totalDocs)
	if prior == 0 {
		prior = 1e-9
	}
	logProb := math.Log(prior)

	vocabSize := len(art.Vocabulary)
	denom := float64(art.TotalWords[idx] + vocabSize)
	for _, tok := range tokenize(text) {
		count := art.WordCounts[idx][tok]
		logProb += math.Log((float64(count) + 1) / denom)
	}
	return logProb
}

func (c *NaiveBayesClassifier) Evaluate(ctx context.Context, samples []Sample) (models.Metrics, error) {
	c.mu.RLock()
	art := c.artifact
	c.mu.RUnlock()
	if art == nil {
		return models.Metrics{}, storeerr.New(storeerr.NotReady, "Evaluate", "classifier", "", nil)
	}

	var tp, tn, fp, fn int
	for _, s := range samples {
		pSpam, err := c.Predict(ctx, s.Text)
		if err != nil {
			return models.Metrics{}, err
		}
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

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func classIndex(isSpam bool) int {
	if isSpam {
		return 1
	}
	return 0
}

var _ Classifier = (*NaiveBayesClassifier)(nil)
