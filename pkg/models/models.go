// Package models defines the domain entities shared across the store,
// services, and agent runners.
package models

import "time"

// ── Message ──────────────────────────────────────────────────

// MessageSource distinguishes imported dataset rows from runtime traffic.
type MessageSource string

const (
	SourceDataset MessageSource = "dataset"
	SourceRuntime MessageSource = "runtime"
)

// MessageSplit marks which partition of the imported dataset a row belongs
// to. Runtime messages carry an empty split.
type MessageSplit string

const (
	SplitTrainPool         MessageSplit = "train_pool"
	SplitValidationHoldout MessageSplit = "validation_holdout"
	SplitNone              MessageSplit = ""
)

// Label is a ham/spam ground truth.
type Label string

const (
	LabelHam  Label = "ham"
	LabelSpam Label = "spam"
	LabelNone Label = ""
)

// MessageStatus is the message lifecycle state (spec.md §3).
type MessageStatus string

const (
	StatusDataset       MessageStatus = "dataset"
	StatusScored        MessageStatus = "scored" // dataset row consumed by EnqueueFromValidation
	StatusQueued        MessageStatus = "queued"
	StatusProcessing    MessageStatus = "processing"
	StatusInInbox       MessageStatus = "in_inbox"
	StatusInSpam        MessageStatus = "in_spam"
	StatusPendingReview MessageStatus = "pending_review"
)

// Message is the unit of work flowing through the queue and scoring agent.
type Message struct {
	ID               int64         `json:"id" db:"id"`
	Text             string        `json:"text" db:"text"`
	Source           MessageSource `json:"source" db:"source"`
	Split            MessageSplit  `json:"split" db:"split"`
	TrueLabel        Label         `json:"true_label" db:"true_label"`
	Status           MessageStatus `json:"status" db:"status"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	LastModelVersion int64         `json:"last_model_version,omitempty" db:"last_model_version"`
}

// Preview returns Text unchanged if it has at most 80 runes, otherwise its
// first 80 runes followed by "…", for callers that want a short summary
// without shipping the full message body.
func (m Message) Preview() string {
	r := []rune(m.Text)
	if len(r) <= 80 {
		return m.Text
	}
	return string(r[:80]) + "…"
}

// ── Decision / Prediction ────────────────────────────────────

// Decision is the outcome of the three-zone scoring policy.
type Decision string

const (
	DecisionAllow         Decision = "allow"
	DecisionPendingReview Decision = "pending_review"
	DecisionBlock         Decision = "block"
)

// Prediction is an immutable record of one scoring attempt.
type Prediction struct {
	ID             int64     `json:"id" db:"id"`
	MessageID      int64     `json:"message_id" db:"message_id"`
	ModelVersionID int64     `json:"model_version_id" db:"model_version_id"`
	PSpam          float64   `json:"p_spam" db:"p_spam"`
	Decision       Decision  `json:"decision" db:"decision"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ── Review ───────────────────────────────────────────────────

// Review is a moderator's gold label for one message.
type Review struct {
	ID         int64     `json:"id" db:"id"`
	MessageID  int64     `json:"message_id" db:"message_id"`
	Label      Label     `json:"label" db:"label"`
	ReviewedBy string    `json:"reviewed_by" db:"reviewed_by"`
	ReviewedAt time.Time `json:"reviewed_at" db:"reviewed_at"`
	Note       string    `json:"note,omitempty" db:"note"`
}

// ── ModelVersion ─────────────────────────────────────────────

// TrainTemplate is a sizing preset controlling the training-set cap.
type TrainTemplate string

const (
	TemplateLight  TrainTemplate = "light"
	TemplateMedium TrainTemplate = "medium"
	TemplateFull   TrainTemplate = "full"
)

// Size returns the training-set row cap for a template. -1 means unbounded.
func (t TrainTemplate) Size() int {
	switch t {
	case TemplateLight:
		return 500
	case TemplateMedium:
		return 2000
	default:
		return -1
	}
}

// Metrics holds the classifier's evaluation results on the holdout.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	TP        int     `json:"tp"`
	TN        int     `json:"tn"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
}

// ModelVersion is an artifact produced by one training run.
type ModelVersion struct {
	ID                int64         `json:"id" db:"id"`
	Version           int64         `json:"version" db:"version"`
	TrainTemplate     TrainTemplate `json:"train_template" db:"train_template"`
	TrainSetSize      int           `json:"train_set_size" db:"train_set_size"`
	GoldIncludedCount int           `json:"gold_included_count" db:"gold_included_count"`
	ValidationSetSize int           `json:"validation_set_size" db:"validation_set_size"`
	Metrics           Metrics       `json:"metrics"`
	ThresholdAllow    float64       `json:"threshold_allow" db:"threshold_allow"`
	ThresholdBlock    float64       `json:"threshold_block" db:"threshold_block"`
	ArtifactPath      string        `json:"artifact_path" db:"artifact_path"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	IsActive          bool          `json:"is_active" db:"is_active"`
}

// ── SystemSettings ───────────────────────────────────────────

// SystemSettings is the process-lifetime singleton control row.
type SystemSettings struct {
	ActiveModelVersion    int64     `json:"active_model_version" db:"active_model_version"`
	ThresholdAllow        float64   `json:"threshold_allow" db:"threshold_allow"`
	ThresholdBlock        float64   `json:"threshold_block" db:"threshold_block"`
	RetrainGoldThreshold  int       `json:"retrain_gold_threshold" db:"retrain_gold_threshold"`
	NewGoldSinceLastTrain int       `json:"new_gold_since_last_train" db:"new_gold_since_last_train"`
	AutoRetrainEnabled    bool      `json:"auto_retrain_enabled" db:"auto_retrain_enabled"`
	LastRetrainAt         time.Time `json:"last_retrain_at,omitempty" db:"last_retrain_at"`
}

// ── Result / event contract (§6) ─────────────────────────────

// ScoreResult is what ScoreMessage returns and what the scoring runner emits.
type ScoreResult struct {
	MessageID int64         `json:"message_id"`
	Text      string        `json:"text"`
	PSpam     float64       `json:"p_spam"`
	Decision  Decision      `json:"decision"`
	NewStatus MessageStatus `json:"new_status"`
	TrueLabel Label         `json:"true_label,omitempty"`
	// IsCorrect is nil when the outcome can't yet be judged (PendingReview).
	IsCorrect *bool `json:"is_correct,omitempty"`
}

// RetrainResult is what one retrain-runner tick produces.
type RetrainResult struct {
	TickID     string        `json:"tick_id"`
	NewVersion int64         `json:"new_version,omitempty"`
	Metrics    Metrics       `json:"metrics"`
	Template   TrainTemplate `json:"template"`
	Activated  bool          `json:"activated"`
	Success    bool          `json:"success"`
	Reason     string        `json:"reason,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}
