// Package classifier defines the opaque Classifier capability (spec.md §4.2)
// and a registry of named drivers, so callers can plug in alternative
// implementations without touching the agent runners.
package classifier

import (
	"context"

	"github.com/spamwatch/agent/pkg/models"
)

// Sample is one labeled training example.
type Sample struct {
	Text   string
	IsSpam bool
}

// Classifier is the capability the training and scoring services depend on.
// It is polymorphic over {Train, Evaluate, Load, Predict} (spec.md §9) so a
// rule-based stub can stand in for tests without touching the agent runners.
type Classifier interface {
	// Train fits a model over samples and persists it to artifactPath,
	// returning the path actually written. Fails with InvalidInput on an
	// empty sample set.
	Train(ctx context.Context, samples []Sample, artifactPath string) (string, error)

	// Evaluate scores samples against the currently loaded model and
	// returns a confusion-matrix summary. Fails with NotReady if no
	// model has been trained or loaded yet.
	Evaluate(ctx context.Context, samples []Sample) (models.Metrics, error)

	// Load reads a persisted artifact into memory, replacing whatever was
	// previously loaded. Fails with NotFound if artifactPath is missing.
	Load(ctx context.Context, artifactPath string) error

	// Predict returns pSpam ∈ [0,1] for text using the currently loaded
	// model. Fails with NotReady if nothing has been trained or loaded.
	Predict(ctx context.Context, text string) (float64, error)

	// Kind identifies the concrete driver, e.g. "naive-bayes", "keyword-stub".
	Kind() string
}

// Registry holds named Classifier drivers so the training service can be
// configured with the production driver while tests swap in a stub,
// following internal/router.ModelRouter's driver-map pattern.
type Registry struct {
	drivers map[string]Classifier
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Classifier)}
}

// Register adds or replaces a driver under name.
func (r *Registry) Register(name string, c Classifier) {
	r.drivers[name] = c
}

// Get returns the driver registered under name, or nil.
func (r *Registry) Get(name string) Classifier {
	return r.drivers[name]
}

// Names returns the registered driver names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.drivers))
	for n := range r.drivers {
		names = append(names, n)
	}
	return names
}
