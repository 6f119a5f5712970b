// Package queue implements the durable message queue (spec.md §4.3): plain
// text enqueue, a validation-replay feeder for offline measurement, the
// atomic claim loop, and status-partition counts.
package queue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/internal/store"
	"github.com/spamwatch/agent/pkg/models"
)

// Service wraps a Store with the queue operations.
type Service struct {
	store store.Store
}

// New returns a queue Service backed by s.
func New(s store.Store) *Service {
	return &Service{store: s}
}

// Enqueue creates a new runtime message ready for scoring.
func (svc *Service) Enqueue(ctx context.Context, text string) (*models.Message, error) {
	if text == "" {
		return nil, storeerr.New(storeerr.InvalidInput, "Enqueue", "message", "", nil)
	}
	msg := &models.Message{
		Text:   text,
		Source: models.SourceRuntime,
		Status: models.StatusQueued,
	}
	if err := svc.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// EnqueueFromValidation selects up to n unconsumed ValidationHoldout rows,
// creates runtime copies (optionally carrying TrueLabel for offline
// accuracy measurement), marks the originals Scored so they are not reused,
// and — if the unconsumed pool was exhausted — atomically resets and
// retries once (spec.md §4.3). It returns the created copies directly,
// never by re-querying Status=Queued, since that query would race against
// concurrent scorers claiming the very rows just created.
func (svc *Service) EnqueueFromValidation(ctx context.Context, n int, copyLabel bool) ([]models.Message, error) {
	if n <= 0 {
		return nil, storeerr.New(storeerr.InvalidInput, "EnqueueFromValidation", "message", "", nil)
	}

	candidates, err := svc.store.ListMessages(ctx, store.MessageFilter{
		Source:          store.SourceFilter(models.SourceDataset),
		Split:           models.SplitValidationHoldout,
		ExcludeConsumed: true,
		Limit:           n,
	})
	if err != nil {
		return nil, fmt.Errorf("list validation candidates: %w", err)
	}

	if len(candidates) == 0 {
		if _, err := svc.store.ResetConsumed(ctx, models.SplitValidationHoldout); err != nil {
			return nil, fmt.Errorf("reset consumed validation rows: %w", err)
		}
		candidates, err = svc.store.ListMessages(ctx, store.MessageFilter{
			Source:          store.SourceFilter(models.SourceDataset),
			Split:           models.SplitValidationHoldout,
			ExcludeConsumed: true,
			Limit:           n,
		})
		if err != nil {
			return nil, fmt.Errorf("list validation candidates after reset: %w", err)
		}
	}

	copies := make([]models.Message, 0, len(candidates))
	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		runtimeCopy := &models.Message{
			Text:   c.Text,
			Source: models.SourceRuntime,
			Status: models.StatusQueued,
		}
		if copyLabel {
			runtimeCopy.TrueLabel = c.TrueLabel
		}
		if err := svc.store.CreateMessage(ctx, runtimeCopy); err != nil {
			return nil, fmt.Errorf("create runtime copy of message %d: %w", c.ID, err)
		}
		copies = append(copies, *runtimeCopy)
		ids = append(ids, c.ID)
	}

	if len(ids) > 0 {
		if _, err := svc.store.MarkConsumed(ctx, ids); err != nil {
			return nil, fmt.Errorf("mark validation rows consumed: %w", err)
		}
	}

	return copies, nil
}

// ClaimNext atomically obtains exclusive ownership of the oldest Queued
// message. It loops on the claim race (another worker may win the
// conditional update) and returns nil, nil if the queue is empty.
// Cancellation terminates the loop immediately.
func (svc *Service) ClaimNext(ctx context.Context) (*models.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, storeerr.New(storeerr.Cancelled, "ClaimNext", "message", "", ctx.Err())
		default:
		}

		candidateID, err := svc.store.OldestQueuedID(ctx)
		if err != nil {
			return nil, fmt.Errorf("find oldest queued message: %w", err)
		}
		if candidateID == 0 {
			return nil, nil
		}

		updated, err := svc.store.ConditionalUpdateStatus(ctx, candidateID, models.StatusQueued, models.StatusProcessing)
		if err != nil {
			return nil, fmt.Errorf("claim message %d: %w", candidateID, err)
		}
		if updated == 0 {
			// Another worker won the race; retry from the top.
			log.Debug().Int64("message_id", candidateID).Msg("Lost claim race, retrying")
			continue
		}

		msg, err := svc.store.GetMessage(ctx, candidateID)
		if err != nil {
			return nil, fmt.Errorf("load claimed message %d: %w", candidateID, err)
		}
		return msg, nil
	}
}

// Counts returns the histogram of runtime messages by status.
func (svc *Service) Counts(ctx context.Context) (map[models.MessageStatus]int, error) {
	return svc.store.CountByStatus(ctx)
}
