// Package softwareagent is a pedagogical wrapper expressing the scoring and
// retrain agents through a generic Agent = (Perception, Policy, Actuator,
// Learner) quartet. This is a design illustration only: the production
// runners in internal/agent are plain cancellable loops and do not depend
// on this package (spec.md §9 "Abstract agent pattern").
package softwareagent

import (
	"context"

	"github.com/spamwatch/agent/internal/queue"
	"github.com/spamwatch/agent/internal/review"
	"github.com/spamwatch/agent/internal/scoring"
	"github.com/spamwatch/agent/internal/training"
	"github.com/spamwatch/agent/pkg/models"
)

// Perception senses the environment and returns the next unit of work, or
// nil if there is none.
type Perception interface {
	Sense(ctx context.Context) (*models.Message, error)
}

// Policy decides an outcome for a sensed message.
type Policy interface {
	Decide(ctx context.Context, msg *models.Message) (*models.ScoreResult, error)
}

// Actuator commits a decided outcome to the environment. In this runtime
// Policy already persists the outcome as part of Decide, so Actuator is a
// no-op seam kept for the pedagogical shape; a different backend could
// split "decide" from "commit" here.
type Actuator interface {
	Act(ctx context.Context, result *models.ScoreResult) error
}

// Learner periodically improves Policy from accumulated feedback.
type Learner interface {
	ShouldLearn(ctx context.Context) (bool, error)
	Learn(ctx context.Context, template models.TrainTemplate, activate bool) (*models.ModelVersion, error)
}

// Agent is the generic quartet. Step runs one perceive-decide-act cycle.
type Agent struct {
	Perception Perception
	Policy     Policy
	Actuator   Actuator
	Learner    Learner
}

// Step runs a single perceive/decide/act cycle, returning the result (nil
// if Perception found nothing to do).
func (a *Agent) Step(ctx context.Context) (*models.ScoreResult, error) {
	msg, err := a.Perception.Sense(ctx)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}

	result, err := a.Policy.Decide(ctx, msg)
	if err != nil {
		return nil, err
	}

	if err := a.Actuator.Act(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// MaybeLearn checks the Learner and, if it reports readiness, trains a new
// model version. Returns nil, nil when learning was not triggered.
func (a *Agent) MaybeLearn(ctx context.Context, template models.TrainTemplate, activate bool) (*models.ModelVersion, error) {
	should, err := a.Learner.ShouldLearn(ctx)
	if err != nil {
		return nil, err
	}
	if !should {
		return nil, nil
	}
	return a.Learner.Learn(ctx, template, activate)
}

// ── concrete adapters over the production services ──────────

// QueuePerception adapts queue.Service.ClaimNext to Perception.
type QueuePerception struct{ Queue *queue.Service }

func (p QueuePerception) Sense(ctx context.Context) (*models.Message, error) {
	return p.Queue.ClaimNext(ctx)
}

// ScoringPolicy adapts scoring.Service.ScoreMessage to Policy.
type ScoringPolicy struct{ Scoring *scoring.Service }

func (p ScoringPolicy) Decide(ctx context.Context, msg *models.Message) (*models.ScoreResult, error) {
	return p.Scoring.ScoreMessage(ctx, msg)
}

// NoopActuator does nothing; ScoringPolicy already persisted the outcome.
type NoopActuator struct{}

func (NoopActuator) Act(ctx context.Context, result *models.ScoreResult) error { return nil }

// GoldThresholdLearner adapts review.Service and training.Service to Learner.
type GoldThresholdLearner struct {
	Review   *review.Service
	Training *training.Service
}

func (l GoldThresholdLearner) ShouldLearn(ctx context.Context) (bool, error) {
	shouldTrigger, _, _, err := l.Review.CheckAutoRetrain(ctx)
	return shouldTrigger, err
}

func (l GoldThresholdLearner) Learn(ctx context.Context, template models.TrainTemplate, activate bool) (*models.ModelVersion, error) {
	return l.Training.TrainModel(ctx, template, activate)
}

// New builds an Agent wired to the production services, illustrating how
// the quartet maps onto them without changing their behavior.
func New(q *queue.Service, sc *scoring.Service, rv *review.Service, tr *training.Service) *Agent {
	return &Agent{
		Perception: QueuePerception{Queue: q},
		Policy:     ScoringPolicy{Scoring: sc},
		Actuator:   NoopActuator{},
		Learner:    GoldThresholdLearner{Review: rv, Training: tr},
	}
}
