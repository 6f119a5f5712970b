// Package store provides the storage interface and implementations for the
// spam classification agent. internal/store/memory.go is an in-memory
// implementation for local runs and tests; internal/store/postgres.go is a
// PostgreSQL-backed implementation for production use. Both implement the
// same Store interface so the queue, review, training, and scoring services
// are storage-agnostic.
package store

import (
	"context"
	"time"

	"github.com/spamwatch/agent/pkg/models"
)

// Store is the primary storage interface for the agent runtime. All
// mutations — including the exclusive queue claim and the active-model
// flip — go through it.
type Store interface {
	MessageStore
	PredictionStore
	ReviewStore
	ModelVersionStore
	SettingsStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// MessageFilter narrows ListMessages queries. Zero-valued fields are not
// used to filter.
type MessageFilter struct {
	Source MessageSourceFilter
	Split  models.MessageSplit
	Status models.MessageStatus
	// HasTrueLabel, when true, requires TrueLabel != LabelNone.
	HasTrueLabel bool
	// HasReview, when true, requires the message to have an associated Review.
	HasReview bool
	// ExcludeConsumed, when true, excludes Dataset rows already marked Scored.
	ExcludeConsumed bool
	Limit           int
}

// MessageSourceFilter optionally restricts MessageFilter.Source.
type MessageSourceFilter struct {
	Set   bool
	Value models.MessageSource
}

func SourceFilter(s models.MessageSource) MessageSourceFilter {
	return MessageSourceFilter{Set: true, Value: s}
}

// MessageStore manages Message rows and the atomic claim primitive.
type MessageStore interface {
	// CreateMessage inserts a new message and assigns it an id.
	CreateMessage(ctx context.Context, msg *models.Message) error

	// GetMessage returns a message by id, or NotFound.
	GetMessage(ctx context.Context, id int64) (*models.Message, error)

	// ListMessages returns messages matching filter, ordered by id ascending.
	ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error)

	// CountByStatus returns a histogram of runtime messages by Status.
	CountByStatus(ctx context.Context) (map[models.MessageStatus]int, error)

	// ConditionalUpdateStatus implements spec.md §4.1's conditional update:
	// it sets Status = newStatus on the row matching id AND the given
	// expected status, and returns the number of rows actually changed (0
	// or 1). This is the sole primitive used for exclusive queue claim.
	ConditionalUpdateStatus(ctx context.Context, id int64, expected, newStatus models.MessageStatus) (int, error)

	// UpdateMessageAfterScore persists the new status and LastModelVersion
	// for a message that was just scored. Must be called for a message in
	// Processing status.
	UpdateMessageAfterScore(ctx context.Context, id int64, newStatus models.MessageStatus, modelVersionID int64) error

	// UpdateMessageAfterReview sets TrueLabel and Status for a reviewed message.
	UpdateMessageAfterReview(ctx context.Context, id int64, label models.Label, newStatus models.MessageStatus) error

	// MarkConsumed flips Dataset rows to Scored so EnqueueFromValidation
	// does not reuse them. Returns the number of rows updated.
	MarkConsumed(ctx context.Context, ids []int64) (int, error)

	// ResetConsumed clears the Scored marker back to Dataset for every row
	// of the given split — used when EnqueueFromValidation exhausts the
	// unconsumed pool and must atomically recycle it (spec.md §4.3).
	ResetConsumed(ctx context.Context, split models.MessageSplit) (int, error)

	// OldestQueuedID returns the id of the oldest Queued message, or 0 if none.
	OldestQueuedID(ctx context.Context) (int64, error)

	// DeleteDatasetRows removes every Source=Dataset message, used by a
	// forced re-import (spec.md §6). Returns the number of rows removed.
	DeleteDatasetRows(ctx context.Context) (int, error)
}

// PredictionStore manages immutable Prediction rows.
type PredictionStore interface {
	CreatePrediction(ctx context.Context, p *models.Prediction) error
	ListPredictionsForMessage(ctx context.Context, messageID int64) ([]models.Prediction, error)
}

// ReviewStore manages the one-review-per-message invariant.
type ReviewStore interface {
	// CreateReview inserts a review. Returns Conflict if one already exists
	// for MessageID.
	CreateReview(ctx context.Context, r *models.Review) error
	GetReviewForMessage(ctx context.Context, messageID int64) (*models.Review, error)
}

// ModelVersionStore manages trained model artifacts' metadata.
type ModelVersionStore interface {
	CreateModelVersion(ctx context.Context, mv *models.ModelVersion) error
	GetModelVersion(ctx context.Context, id int64) (*models.ModelVersion, error)
	GetActiveModelVersion(ctx context.Context) (*models.ModelVersion, error)
	MaxVersion(ctx context.Context) (int64, error)

	// ActivateModelVersion atomically deactivates any currently-active
	// version and activates id, updating SystemSettings.ActiveModelVersion
	// in the same transaction (spec.md §4.5 steps 1-3).
	ActivateModelVersion(ctx context.Context, id int64) error
}

// SettingsStore manages the singleton SystemSettings row.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.SystemSettings, error)

	// IncrementGoldCounter increments NewGoldSinceLastTrain by 1.
	IncrementGoldCounter(ctx context.Context) error

	// ResetGoldCounterAfterTraining sets NewGoldSinceLastTrain = 0 and
	// LastRetrainAt = now (spec.md §4.5 step 8).
	ResetGoldCounterAfterTraining(ctx context.Context, at time.Time) error

	UpdateThresholds(ctx context.Context, allow, block float64) error
	UpdateRetrainGoldThreshold(ctx context.Context, threshold int) error
	UpdateAutoRetrainEnabled(ctx context.Context, enabled bool) error
}
