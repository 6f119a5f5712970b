// Package scoring implements the scoring service (spec.md §4.6): for one
// claimed message, load the active model, predict, apply the three-zone
// decision policy, and persist the outcome.
package scoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/spamwatch/agent/internal/classifier"
	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/internal/store"
	"github.com/spamwatch/agent/pkg/models"
)

// Service wraps a Store and a Classifier with the scoring operation.
type Service struct {
	store store.Store
	clf   classifier.Classifier

	// loadMu guards the "ensure active artifact loaded" step so a scoring
	// worker never observes a half-loaded model mid-activation (spec.md
	// §5's shared-resource policy for the classifier capability).
	loadMu          sync.Mutex
	loadedVersionID int64
}

// New returns a scoring Service.
func New(s store.Store, clf classifier.Classifier) *Service {
	return &Service{store: s, clf: clf}
}

// ScoreMessage scores one already-claimed (Status=Processing) message and
// persists the prediction and new status.
func (svc *Service) ScoreMessage(ctx context.Context, msg *models.Message) (*models.ScoreResult, error) {
	settings, err := svc.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings.ActiveModelVersion == 0 {
		return nil, storeerr.New(storeerr.NotReady, "ScoreMessage", "model_version", "", nil)
	}

	if err := svc.ensureLoaded(ctx, settings.ActiveModelVersion); err != nil {
		return nil, err
	}

	pSpam, err := svc.clf.Predict(ctx, msg.Text)
	if err != nil {
		return nil, fmt.Errorf("predict message %d: %w", msg.ID, err)
	}

	decision, newStatus := decide(pSpam, settings.ThresholdAllow, settings.ThresholdBlock)

	pred := &models.Prediction{
		MessageID:      msg.ID,
		ModelVersionID: settings.ActiveModelVersion,
		PSpam:          pSpam,
		Decision:       decision,
	}
	if err := svc.store.CreatePrediction(ctx, pred); err != nil {
		return nil, fmt.Errorf("persist prediction for message %d: %w", msg.ID, err)
	}
	if err := svc.store.UpdateMessageAfterScore(ctx, msg.ID, newStatus, settings.ActiveModelVersion); err != nil {
		return nil, fmt.Errorf("update message %d after score: %w", msg.ID, err)
	}

	return &models.ScoreResult{
		MessageID: msg.ID,
		Text:      msg.Text,
		PSpam:     pSpam,
		Decision:  decision,
		NewStatus: newStatus,
		TrueLabel: msg.TrueLabel,
		IsCorrect: isCorrect(msg.TrueLabel, decision),
	}, nil
}

// decide applies the three-zone policy (spec.md §4.6 step 4, §8 boundary
// behaviors): strict < on the allow threshold, non-strict >= on the block
// threshold, so a tie at the allow threshold goes to PendingReview and a
// tie at the block threshold goes to Block.
func decide(pSpam, thresholdAllow, thresholdBlock float64) (models.Decision, models.MessageStatus) {
	switch {
	case pSpam < thresholdAllow:
		return models.DecisionAllow, models.StatusInInbox
	case pSpam >= thresholdBlock:
		return models.DecisionBlock, models.StatusInSpam
	default:
		return models.DecisionPendingReview, models.StatusPendingReview
	}
}

func isCorrect(trueLabel models.Label, decision models.Decision) *bool {
	if decision == models.DecisionPendingReview {
		return nil
	}
	var correct bool
	switch {
	case trueLabel == models.LabelHam && decision == models.DecisionAllow:
		correct = true
	case trueLabel == models.LabelSpam && decision == models.DecisionBlock:
		correct = true
	default:
		correct = false
	}
	return &correct
}

// ensureLoaded makes sure the classifier has versionID's artifact loaded,
// reloading only when the active version has changed since the last call.
func (svc *Service) ensureLoaded(ctx context.Context, versionID int64) error {
	svc.loadMu.Lock()
	defer svc.loadMu.Unlock()

	if svc.loadedVersionID == versionID {
		return nil
	}
	mv, err := svc.store.GetModelVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("load active model version metadata: %w", err)
	}
	if err := svc.clf.Load(ctx, mv.ArtifactPath); err != nil {
		return fmt.Errorf("load classifier artifact: %w", err)
	}
	svc.loadedVersionID = versionID
	return nil
}
