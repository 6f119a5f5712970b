package metrics

import "github.com/spamwatch/agent/pkg/models"

// Emitter records ScoreResult and RetrainResult events as Prometheus
// metrics. It implements agent.ResultEmitter structurally, without
// importing internal/agent, so the metrics package stays a leaf.
type Emitter struct{}

func (Emitter) EmitScoreResult(result models.ScoreResult) {
	DecisionsTotal.WithLabelValues(string(result.Decision)).Inc()
}

func (Emitter) EmitRetrainResult(result models.RetrainResult) {
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	RetrainCyclesTotal.WithLabelValues(outcome).Inc()
	if result.Success && result.Activated {
		ActiveModelVersion.Set(float64(result.NewVersion))
	}
}
