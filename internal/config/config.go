// Package config loads the spam classification agent's configuration from
// environment variables. No CLI flag overrides these values; only the
// import command's optional path argument replaces DatasetPath.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the agent runtime (spec.md §6).
type Config struct {
	ModelsDirectory string
	DatasetPath     string
	Database        DatabaseConfig
	Telemetry       TelemetryConfig
	Settings        SettingsDefaults
	Scoring         ScoringDelays
	Retrain         RetrainConfig
	Simulator       SimulatorConfig
}

// DatabaseConfig selects and configures the Store backend. An empty URL
// means "use the in-memory store".
type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// SettingsDefaults seed the singleton SystemSettings row on first boot.
// Once persisted, runtime changes go through the store, not these defaults.
type SettingsDefaults struct {
	ThresholdAllow       float64
	ThresholdBlock       float64
	RetrainGoldThreshold int
}

// ScoringDelays are the scoring runner's adaptive sleep durations (spec.md §4.7).
type ScoringDelays struct {
	NotReady time.Duration
	Idle     time.Duration
	Busy     time.Duration
	Error    time.Duration
}

// RetrainConfig drives the retrain runner's loop cadence (spec.md §4.8).
type RetrainConfig struct {
	CheckInterval time.Duration
	ErrorBackoff  time.Duration
	DefaultTemplate string
}

// SimulatorConfig is the optional feeder that periodically replays holdout
// traffic through EnqueueFromValidation (spec.md §6).
type SimulatorConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ModelsDirectory: envStr("SPAMWATCH_MODELS_DIR", "models"),
		DatasetPath:     envStr("SPAMWATCH_DATASET_PATH", "Dataset/SMSSpamCollection"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 10),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "spamwatch-agent"),
		},
		Settings: SettingsDefaults{
			ThresholdAllow:       envFloat("SPAMWATCH_THRESHOLD_ALLOW", 0.30),
			ThresholdBlock:       envFloat("SPAMWATCH_THRESHOLD_BLOCK", 0.70),
			RetrainGoldThreshold: envInt("SPAMWATCH_RETRAIN_GOLD_THRESHOLD", 100),
		},
		Scoring: ScoringDelays{
			NotReady: envDuration("SPAMWATCH_DELAY_NOT_READY", 2000*time.Millisecond),
			Idle:     envDuration("SPAMWATCH_DELAY_IDLE", 500*time.Millisecond),
			Busy:     envDuration("SPAMWATCH_DELAY_BUSY", 100*time.Millisecond),
			Error:    envDuration("SPAMWATCH_DELAY_ERROR", 1000*time.Millisecond),
		},
		Retrain: RetrainConfig{
			CheckInterval:   envDuration("SPAMWATCH_RETRAIN_INTERVAL", 10*time.Second),
			ErrorBackoff:    envDuration("SPAMWATCH_RETRAIN_ERROR_BACKOFF", 5*time.Second),
			DefaultTemplate: envStr("SPAMWATCH_RETRAIN_TEMPLATE", "medium"),
		},
		Simulator: SimulatorConfig{
			Enabled:   envBool("SPAMWATCH_SIMULATOR_ENABLED", false),
			Interval:  envDuration("SPAMWATCH_SIMULATOR_INTERVAL", 5*time.Second),
			BatchSize: envInt("SPAMWATCH_SIMULATOR_BATCH_SIZE", 5),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
