package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spamwatch/agent/internal/review"
	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/internal/telemetry"
	"github.com/spamwatch/agent/internal/training"
	"github.com/spamwatch/agent/pkg/models"
)

// RetrainConfig drives the retrain runner's loop cadence (spec.md §4.8).
type RetrainConfig struct {
	CheckInterval   time.Duration
	ErrorBackoff    time.Duration
	DefaultTemplate models.TrainTemplate
}

// RetrainRunner periodically checks the gold-label counter and trains a new
// model version when the threshold is crossed.
type RetrainRunner struct {
	review  *review.Service
	trainer *training.Service
	emitter ResultEmitter
	cfg     RetrainConfig
}

// NewRetrainRunner builds a RetrainRunner.
func NewRetrainRunner(rv *review.Service, tr *training.Service, emitter ResultEmitter, cfg RetrainConfig) *RetrainRunner {
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	return &RetrainRunner{review: rv, trainer: tr, emitter: emitter, cfg: cfg}
}

// Run blocks, ticking until ctx is cancelled. Each iteration sleeps
// CheckInterval after a normal (no-op or successful) tick, or ErrorBackoff
// after one that failed — the counter itself is reset only by a successful
// TrainModel, never by this loop (spec.md §4.8).
func (r *RetrainRunner) Run(ctx context.Context) {
	log.Info().Dur("interval", r.cfg.CheckInterval).Msg("Retrain agent runner started")
	for {
		if ctx.Err() != nil {
			log.Info().Msg("Retrain agent runner stopped")
			return
		}
		failed := r.tick(ctx)
		if failed {
			sleep(ctx, r.cfg.ErrorBackoff)
		} else {
			sleep(ctx, r.cfg.CheckInterval)
		}
	}
}

// tick runs one retrain check and reports whether it failed. Every tick
// gets a fresh correlation id so logs and emitted results for the same
// decision can be joined.
func (r *RetrainRunner) tick(ctx context.Context) bool {
	tickID := uuid.New().String()

	tracer := telemetry.Tracer("retrain")
	ctx, span := tracer.Start(ctx, "retrain_tick")
	defer span.End()

	shouldTrigger, current, threshold, err := r.review.CheckAutoRetrain(ctx)
	if err != nil {
		log.Warn().Err(err).Str("tick_id", tickID).Msg("Retrain runner: check failed")
		return true
	}
	if !shouldTrigger {
		log.Debug().Str("tick_id", tickID).Int("current", current).Int("threshold", threshold).Msg("Retrain runner: threshold not crossed")
		return false
	}

	result := r.runTraining(ctx, tickID, r.cfg.DefaultTemplate, true)
	r.emitter.EmitRetrainResult(result)
	return !result.Success
}

// ForceRetrain bypasses the counter check and always trains, for
// operator-initiated retraining (spec.md §4.8).
func (r *RetrainRunner) ForceRetrain(ctx context.Context, template models.TrainTemplate, activate bool) models.RetrainResult {
	tickID := uuid.New().String()
	result := r.runTraining(ctx, tickID, template, activate)
	r.emitter.EmitRetrainResult(result)
	return result
}

func (r *RetrainRunner) runTraining(ctx context.Context, tickID string, template models.TrainTemplate, activate bool) models.RetrainResult {
	mv, err := r.trainer.TrainModel(ctx, template, activate)
	if err != nil {
		reason := err.Error()
		if storeerr.Of(err) == storeerr.Cancelled {
			reason = "cancelled"
		}
		log.Warn().Err(err).Str("tick_id", tickID).Msg("Retrain runner: training failed")
		return models.RetrainResult{
			TickID:    tickID,
			Template:  template,
			Success:   false,
			Reason:    reason,
			Timestamp: time.Now().UTC(),
		}
	}

	return models.RetrainResult{
		TickID:     tickID,
		NewVersion: mv.Version,
		Metrics:    mv.Metrics,
		Template:   template,
		Activated:  mv.IsActive,
		Success:    true,
		Timestamp:  time.Now().UTC(),
	}
}
