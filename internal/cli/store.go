package cli

import (
	"context"

	"github.com/spamwatch/agent/internal/config"
	"github.com/spamwatch/agent/internal/store"
	"github.com/spamwatch/agent/pkg/models"
)

// defaultSettings builds the SystemSettings seed from config, shared by
// every one-shot command that opens its own store handle.
func defaultSettings(cfg *config.Config) models.SystemSettings {
	return models.SystemSettings{
		ThresholdAllow:       cfg.Settings.ThresholdAllow,
		ThresholdBlock:       cfg.Settings.ThresholdBlock,
		RetrainGoldThreshold: cfg.Settings.RetrainGoldThreshold,
	}
}

// openStore opens the configured backend (Postgres if DATABASE_URL is set,
// otherwise the in-memory store) for a one-shot CLI command.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	defaults := defaultSettings(cfg)
	if cfg.Database.URL != "" {
		return store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections, defaults)
	}
	return store.NewMemoryStore(defaults), nil
}
