// Package server provides the public entry point for initializing the
// spam classification agent runtime.
//
// This package exists in pkg/ (not internal/) so alternate entry points
// (the CLI, a future HTTP façade) can compose the runtime without
// reimplementing wiring.
//
// Usage:
//
//	app, err := server.New(ctx)
//	go app.ScoringRunner.Run(ctx)
//	go app.RetrainRunner.Run(ctx)
package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spamwatch/agent/internal/agent"
	"github.com/spamwatch/agent/internal/classifier"
	"github.com/spamwatch/agent/internal/config"
	"github.com/spamwatch/agent/internal/metrics"
	"github.com/spamwatch/agent/internal/queue"
	"github.com/spamwatch/agent/internal/review"
	"github.com/spamwatch/agent/internal/scoring"
	"github.com/spamwatch/agent/internal/store"
	"github.com/spamwatch/agent/internal/telemetry"
	"github.com/spamwatch/agent/internal/training"
	"github.com/spamwatch/agent/pkg/models"
)

// App holds the fully wired agent runtime: the store, the classifier
// registry, the four domain services, and the two long-running runners.
type App struct {
	Config *config.Config
	Store  store.Store

	Classifiers *classifier.Registry
	Active      classifier.Classifier

	Queue    *queue.Service
	Review   *review.Service
	Training *training.Service
	Scoring  *scoring.Service

	ScoringRunner *agent.ScoringRunner
	RetrainRunner *agent.RetrainRunner

	// shutdownTelemetry flushes the OpenTelemetry tracer provider.
	shutdownTelemetry func(context.Context) error
}

// New builds an App from environment-derived configuration.
func New(ctx context.Context) (*App, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig builds an App from an explicit configuration, so tests and
// the CLI can override defaults without touching the environment.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	defaults := models.SystemSettings{
		ThresholdAllow:       cfg.Settings.ThresholdAllow,
		ThresholdBlock:       cfg.Settings.ThresholdBlock,
		RetrainGoldThreshold: cfg.Settings.RetrainGoldThreshold,
	}

	var dataStore store.Store
	if cfg.Database.URL != "" {
		dataStore, err = store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections, defaults)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		log.Info().Msg("Postgres store wired")
	} else {
		dataStore = store.NewMemoryStore(defaults)
		log.Info().Msg("In-memory store wired")
	}

	return buildApp(ctx, cfg, dataStore, shutdown)
}

// NewWithStore builds an App around an externally-provided store, e.g. a
// test harness's MemoryStore, skipping config-driven store selection.
func NewWithStore(ctx context.Context, cfg *config.Config, dataStore store.Store) (*App, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return buildApp(ctx, cfg, dataStore, shutdown)
}

func buildApp(ctx context.Context, cfg *config.Config, dataStore store.Store, shutdown func(context.Context) error) (*App, error) {
	registry := classifier.NewRegistry()
	registry.Register("naive-bayes", classifier.NewNaiveBayesClassifier())
	registry.Register("keyword-stub", classifier.NewKeywordStub())
	active := registry.Get("naive-bayes")
	log.Info().Strs("drivers", registry.Names()).Msg("Classifier registry initialized")

	// If a model is already active (e.g. a restart), load its artifact at
	// boot so a missing or unreadable artifact is logged immediately. The
	// scoring service tracks which version it loaded on its own, so its
	// first ScoreMessage call still loads the active artifact once more.
	if mv, err := dataStore.GetActiveModelVersion(ctx); err == nil {
		if loadErr := active.Load(ctx, mv.ArtifactPath); loadErr != nil {
			log.Warn().Err(loadErr).Str("artifact", mv.ArtifactPath).Msg("Failed to preload active model artifact")
		} else {
			log.Info().Int64("version", mv.Version).Msg("Active model artifact preloaded")
		}
	}

	queueSvc := queue.New(dataStore)
	reviewSvc := review.New(dataStore)
	trainingSvc := training.New(dataStore, active, cfg.ModelsDirectory)
	scoringSvc := scoring.New(dataStore, active)

	emitter := metrics.Emitter{}
	_ = metrics.Registry() // force collector registration at boot

	isReady := func() bool {
		settings, err := dataStore.GetSettings(ctx)
		return err == nil && settings.ActiveModelVersion != 0
	}

	scoringRunner := agent.NewScoringRunner(queueSvc, scoringSvc, emitter, agent.ScoringDelays{
		NotReady: cfg.Scoring.NotReady,
		Idle:     cfg.Scoring.Idle,
		Busy:     cfg.Scoring.Busy,
		Error:    cfg.Scoring.Error,
	}, isReady)

	retrainRunner := agent.NewRetrainRunner(reviewSvc, trainingSvc, emitter, agent.RetrainConfig{
		CheckInterval:   cfg.Retrain.CheckInterval,
		ErrorBackoff:    cfg.Retrain.ErrorBackoff,
		DefaultTemplate: models.TrainTemplate(cfg.Retrain.DefaultTemplate),
	})

	return &App{
		Config:            cfg,
		Store:             dataStore,
		Classifiers:       registry,
		Active:            active,
		Queue:             queueSvc,
		Review:            reviewSvc,
		Training:          trainingSvc,
		Scoring:           scoringSvc,
		ScoringRunner:     scoringRunner,
		RetrainRunner:     retrainRunner,
		shutdownTelemetry: shutdown,
	}, nil
}

// Shutdown releases the store and flushes telemetry. Callers must have
// already stopped ScoringRunner.Run/RetrainRunner.Run (e.g. by cancelling
// the context they were started with) before calling this.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if a.Store != nil {
		if closeErr := a.Store.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if a.shutdownTelemetry != nil {
		if shutdownErr := a.shutdownTelemetry(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}
	return err
}
