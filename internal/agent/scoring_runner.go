// Package agent implements the long-running, cancellable scoring and
// retrain agent runners (spec.md §4.7, §4.8), grounded on
// internal/retention.Janitor's ticker-driven Start(ctx) loop pattern.
package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spamwatch/agent/internal/metrics"
	"github.com/spamwatch/agent/internal/queue"
	"github.com/spamwatch/agent/internal/scoring"
	"github.com/spamwatch/agent/internal/storeerr"
	"github.com/spamwatch/agent/internal/telemetry"
	"github.com/spamwatch/agent/pkg/models"
)

// ScoringDelays are the runner's adaptive sleep durations for each outcome
// of one iteration (spec.md §4.7).
type ScoringDelays struct {
	NotReady time.Duration
	Idle     time.Duration
	Busy     time.Duration
	Error    time.Duration
}

// ResultEmitter receives fire-and-forget result records from the runners
// (spec.md §6's result/event contract). Implementations must not block the
// runner loop for long; observers are plug-ins outside the core's scope.
type ResultEmitter interface {
	EmitScoreResult(result models.ScoreResult)
	EmitRetrainResult(result models.RetrainResult)
}

// NoopEmitter discards every result. Useful when no observer is wired.
type NoopEmitter struct{}

func (NoopEmitter) EmitScoreResult(models.ScoreResult)     {}
func (NoopEmitter) EmitRetrainResult(models.RetrainResult) {}

// ScoringRunner repeatedly claims, scores, and emits one message at a time.
type ScoringRunner struct {
	queue   *queue.Service
	scoring *scoring.Service
	emitter ResultEmitter
	delays  ScoringDelays
	isReady func() bool
}

// NewScoringRunner builds a ScoringRunner. isReady reports whether an
// active model exists; the runner calls it at the top of every iteration
// instead of caching readiness across ticks (spec.md §9 "Ownership": no
// long-lived cached references across ticks).
func NewScoringRunner(q *queue.Service, s *scoring.Service, emitter ResultEmitter, delays ScoringDelays, isReady func() bool) *ScoringRunner {
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	return &ScoringRunner{queue: q, scoring: s, emitter: emitter, delays: delays, isReady: isReady}
}

// Run blocks, executing iterations until ctx is cancelled.
func (r *ScoringRunner) Run(ctx context.Context) {
	log.Info().Msg("Scoring agent runner started")
	for {
		if ctx.Err() != nil {
			log.Info().Msg("Scoring agent runner stopped")
			return
		}
		r.tick(ctx)
	}
}

func (r *ScoringRunner) tick(ctx context.Context) {
	if !r.isReady() {
		sleep(ctx, r.delays.NotReady)
		return
	}

	tracer := telemetry.Tracer("scoring")
	ctx, span := tracer.Start(ctx, "score_message")
	defer span.End()

	msg, err := r.queue.ClaimNext(ctx)
	if err != nil {
		if storeerr.Of(err) == storeerr.Cancelled {
			return
		}
		log.Warn().Err(err).Msg("Scoring runner: claim failed")
		sleep(ctx, r.delays.Error)
		return
	}
	if msg == nil {
		sleep(ctx, r.delays.Idle)
		return
	}

	started := time.Now()
	result, err := r.scoring.ScoreMessage(ctx, msg)
	metrics.ScoringDurationSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		log.Warn().Err(err).Int64("message_id", msg.ID).Msg("Scoring runner: score failed")
		sleep(ctx, r.delays.Error)
		return
	}

	r.emitter.EmitScoreResult(*result)
	sleep(ctx, r.delays.Busy)
}

// sleep waits for d or returns immediately on cancellation.
func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
