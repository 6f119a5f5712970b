// Package review implements the moderator review path (spec.md §4.4): a
// gold label converts a message to a terminal state and feeds the retrain
// counter.
package review

import (
	"context"
	"fmt"

	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/internal/store"
	"github.com/spamwatch/agent/pkg/models"
)

// Service wraps a Store with the review operations.
type Service struct {
	store store.Store
}

// New returns a review Service backed by s.
func New(s store.Store) *Service {
	return &Service{store: s}
}

// AddReview records a moderator's verdict on a message. It fails with
// Conflict if the message already has a review, or NotFound if the message
// does not exist.
func (svc *Service) AddReview(ctx context.Context, messageID int64, label models.Label, reviewedBy, note string) (*models.Review, error) {
	if label != models.LabelHam && label != models.LabelSpam {
		return nil, storeerr.New(storeerr.InvalidInput, "AddReview", "review", "", nil)
	}

	if _, err := svc.store.GetMessage(ctx, messageID); err != nil {
		return nil, err
	}

	r := &models.Review{
		MessageID:  messageID,
		Label:      label,
		ReviewedBy: reviewedBy,
		Note:       note,
	}
	if err := svc.store.CreateReview(ctx, r); err != nil {
		return nil, err
	}

	newStatus := models.StatusInInbox
	if label == models.LabelSpam {
		newStatus = models.StatusInSpam
	}
	if err := svc.store.UpdateMessageAfterReview(ctx, messageID, label, newStatus); err != nil {
		return nil, fmt.Errorf("apply review to message %d: %w", messageID, err)
	}

	if err := svc.store.IncrementGoldCounter(ctx); err != nil {
		return nil, fmt.Errorf("increment gold counter: %w", err)
	}

	return r, nil
}

// CheckAutoRetrain reports whether the accumulated gold counter has crossed
// the configured threshold. Callers decide whether to invoke the retrain
// service synchronously or let the background retrain runner pick it up on
// its next tick (spec.md §4.4); both paths converge on the same store state.
func (svc *Service) CheckAutoRetrain(ctx context.Context) (shouldTrigger bool, current, threshold int, err error) {
	settings, err := svc.store.GetSettings(ctx)
	if err != nil {
		return false, 0, 0, err
	}
	current = settings.NewGoldSinceLastTrain
	threshold = settings.RetrainGoldThreshold
	shouldTrigger = settings.AutoRetrainEnabled && threshold > 0 && current >= threshold
	return shouldTrigger, current, threshold, nil
}
