package cli

import "github.com/spamwatch/agent/internal/classifier"

// newProductionClassifier returns the driver one-shot commands train
// against. The CLI always uses the naive-bayes driver; keyword-stub exists
// only for tests.
func newProductionClassifier() classifier.Classifier {
	return classifier.NewNaiveBayesClassifier()
}
