package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// CurrentSchemaVersion is the current config schema version.
const CurrentSchemaVersion = 1

// Environment variable names for config overrides.
// Priority: Environment > Config File > Default
const (
	EnvPort            = "WORLDLOG_PORT"
	EnvLanEnabled      = "WORLDLOG_LAN_ENABLED"
	EnvRemoteURL       = "WORLDLOG_REMOTE_URL"
	EnvOwnerID         = "WORLDLOG_OWNER_ID"
	EnvContractAddress = "WORLDLOG_CONTRACT_ADDRESS"
	EnvOtelEndpoint    = "WORLDLOG_OTEL_ENDPOINT"
)

// Config holds non-sensitive application configuration.
type Config struct {
	SchemaVersion    int     `json:"schema_version"`
	Port             int     `json:"port" env:"WORLDLOG_PORT"`
	LanEnabled       bool    `json:"lan_enabled" env:"WORLDLOG_LAN_ENABLED"`
	RemoteURL        string  `json:"remote_url" env:"WORLDLOG_REMOTE_URL"`
	OwnerID          string  `json:"owner_id" env:"WORLDLOG_OWNER_ID"`
	ContractAddress  string  `json:"contract_address" env:"WORLDLOG_CONTRACT_ADDRESS"`
	PollIntervalMs   int     `json:"poll_interval_ms" env:"WORLDLOG_POLL_INTERVAL_MS"`
	LookbackBlocks   int     `json:"lookback_blocks" env:"WORLDLOG_LOOKBACK_BLOCKS"`
	BlockIntervalMs  int     `json:"block_interval_ms" env:"WORLDLOG_BLOCK_INTERVAL_MS"`
	FetchTimeoutSec  int     `json:"fetch_timeout_sec" env:"WORLDLOG_FETCH_TIMEOUT_SEC"`
	CacheTTLHours    int     `json:"cache_ttl_hours" env:"WORLDLOG_CACHE_TTL_HOURS"`
	SweepIntervalMin int     `json:"sweep_interval_min" env:"WORLDLOG_SWEEP_INTERVAL_MIN"`
	OptimisticTTLSec int     `json:"optimistic_ttl_sec" env:"WORLDLOG_OPTIMISTIC_TTL_SEC"`
	ChatRatePerSec   float64 `json:"chat_rate_per_sec" env:"WORLDLOG_CHAT_RATE_PER_SEC"`
	ChatBurst        int     `json:"chat_burst" env:"WORLDLOG_CHAT_BURST"`

	// OtelEndpoint is environment-only.
	OtelEndpoint string `json:"-" env:"WORLDLOG_OTEL_ENDPOINT"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SchemaVersion:    CurrentSchemaVersion,
		Port:             8080,
		LanEnabled:       false,
		RemoteURL:        "http://127.0.0.1:8545",
		PollIntervalMs:   500,
		LookbackBlocks:   1200,
		BlockIntervalMs:  500,
		FetchTimeoutSec:  10,
		CacheTTLHours:    72,
		SweepIntervalMin: 30,
		OptimisticTTLSec: 30,
		ChatRatePerSec:   2,
		ChatBurst:        5,
	}
}

// PollInterval returns the poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// BlockInterval returns the average block interval as a duration.
func (c Config) BlockInterval() time.Duration {
	return time.Duration(c.BlockIntervalMs) * time.Millisecond
}

// FetchTimeout returns the per-fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// CacheTTL returns the retention window of the local cache.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// SweepInterval returns how often the TTL sweep runs.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMin) * time.Minute
}

// OptimisticTTL returns how long optimistic chat stays pending.
func (c Config) OptimisticTTL() time.Duration {
	return time.Duration(c.OptimisticTTLSec) * time.Second
}

// LoadConfigFrom reads config.json at path. A missing, unreadable or
// outdated file is logged and replaced by DefaultConfig; the returned error
// is always nil so a broken file never blocks startup.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	found, err := readJSON(path, &cfg)
	switch {
	case err != nil:
		slog.Warn("config file unusable, using defaults", "path", path, "error", err)
		return DefaultConfig(), nil
	case !found:
		return cfg, nil
	case cfg.SchemaVersion != CurrentSchemaVersion:
		slog.Warn("config schema version mismatch, using defaults",
			"path", path, "got", cfg.SchemaVersion, "want", CurrentSchemaVersion)
		return DefaultConfig(), nil
	}
	return normalizeConfig(cfg), nil
}

// normalizeConfig replaces out-of-range values with defaults.
func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	cfg.SchemaVersion = CurrentSchemaVersion

	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = defaults.Port
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = defaults.PollIntervalMs
	}
	if cfg.LookbackBlocks < 0 {
		cfg.LookbackBlocks = defaults.LookbackBlocks
	}
	if cfg.BlockIntervalMs <= 0 {
		cfg.BlockIntervalMs = defaults.BlockIntervalMs
	}
	if cfg.FetchTimeoutSec <= 0 {
		cfg.FetchTimeoutSec = defaults.FetchTimeoutSec
	}
	if cfg.CacheTTLHours <= 0 {
		cfg.CacheTTLHours = defaults.CacheTTLHours
	}
	if cfg.SweepIntervalMin <= 0 {
		cfg.SweepIntervalMin = defaults.SweepIntervalMin
	}
	if cfg.OptimisticTTLSec <= 0 {
		cfg.OptimisticTTLSec = defaults.OptimisticTTLSec
	}
	if cfg.ChatRatePerSec <= 0 {
		cfg.ChatRatePerSec = defaults.ChatRatePerSec
	}
	if cfg.ChatBurst <= 0 {
		cfg.ChatBurst = defaults.ChatBurst
	}

	return cfg
}

// SaveConfigTo writes cfg to path, stamping the current schema version.
func SaveConfigTo(cfg Config, path string) error {
	cfg.SchemaVersion = CurrentSchemaVersion
	return writeJSON(path, cfg)
}

// ApplyEnvOverrides applies WORLDLOG_* environment variables on top of cfg.
// Unset variables leave the file or default value in place; values that
// fail to parse are reported and the input is returned normalized.
func ApplyEnvOverrides(cfg Config) (Config, error) {
	out := cfg
	if err := env.Parse(&out); err != nil {
		return normalizeConfig(cfg), fmt.Errorf("parse env: %w", err)
	}
	return normalizeConfig(out), nil
}
