package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spamwatch/agent/internal/config"
	"github.com/spamwatch/agent/pkg/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scoring and retrain agent runners until interrupted",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	app, err := server.NewWithConfig(ctx, cfg)
	if err != nil {
		return err
	}

	log.Info().Msg("spamwatch-agent runtime starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { app.ScoringRunner.Run(gctx); return nil })
	g.Go(func() error { app.RetrainRunner.Run(gctx); return nil })
	if cfg.Simulator.Enabled {
		g.Go(func() error { runSimulator(gctx, app, cfg.Simulator); return nil })
	}

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, draining runners...")
	_ = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Error during shutdown")
	}

	log.Info().Msg("spamwatch-agent stopped")
	return nil
}

// runSimulator periodically replays holdout traffic through the queue so a
// fresh deployment has runtime messages to score without a live feed
// (spec.md §6). It stops as soon as ctx is cancelled.
func runSimulator(ctx context.Context, app *server.App, cfg config.SimulatorConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.Queue.EnqueueFromValidation(ctx, cfg.BatchSize, false); err != nil {
				log.Warn().Err(err).Msg("Simulator: EnqueueFromValidation failed")
			}
		}
	}
}
