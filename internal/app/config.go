package app

import (
	"context"
	"fmt"
	"net/url"

	"github.com/graaaaa/worldlog-companion/internal/config"
)

// ConfigUsecase defines the configuration management use case.
type ConfigUsecase interface {
	// GetConfig returns the current configuration.
	GetConfig(ctx context.Context) ConfigResponse

	// UpdateConfig updates the configuration with the given changes.
	// Returns the result indicating success and whether restart is required.
	UpdateConfig(ctx context.Context, req ConfigUpdateRequest) (ConfigUpdateResponse, error)
}

// ConfigResponse represents the current configuration (excludes secret values).
type ConfigResponse struct {
	Port                int    `json:"port"`
	LanEnabled          bool   `json:"lan_enabled"`
	RemoteURL           string `json:"remote_url"`
	OwnerID             string `json:"owner_id"`
	ContractAddress     string `json:"contract_address"`
	PollIntervalMs      int    `json:"poll_interval_ms"`
	LookbackBlocks      int    `json:"lookback_blocks"`
	CacheTTLHours       int    `json:"cache_ttl_hours"`
	BasicAuthConfigured bool   `json:"basic_auth_configured"`
}

// ConfigUpdateRequest contains optional fields for updating configuration.
// The owner is changed through WorldUsecase.SetOwner, not here.
type ConfigUpdateRequest struct {
	Port            *int    `json:"port,omitempty"`
	LanEnabled      *bool   `json:"lan_enabled,omitempty"`
	RemoteURL       *string `json:"remote_url,omitempty"`
	ContractAddress *string `json:"contract_address,omitempty"`
	PollIntervalMs  *int    `json:"poll_interval_ms,omitempty"`
	LookbackBlocks  *int    `json:"lookback_blocks,omitempty"`
	CacheTTLHours   *int    `json:"cache_ttl_hours,omitempty"`
}

// ConfigUpdateResponse indicates the result of a configuration update.
type ConfigUpdateResponse struct {
	Success         bool `json:"success"`
	RestartRequired bool `json:"restart_required"`
	NewPort         int  `json:"new_port,omitempty"`
}

// ConfigService implements ConfigUsecase.
type ConfigService struct {
	ConfigPath  string
	SecretsPath string
}

// GetConfig returns the current configuration.
func (s ConfigService) GetConfig(ctx context.Context) ConfigResponse {
	cfg, _ := config.LoadConfigFrom(s.ConfigPath)
	sec, _, _ := config.LoadSecretsFrom(s.SecretsPath)

	return ConfigResponse{
		Port:                cfg.Port,
		LanEnabled:          cfg.LanEnabled,
		RemoteURL:           cfg.RemoteURL,
		OwnerID:             cfg.OwnerID,
		ContractAddress:     cfg.ContractAddress,
		PollIntervalMs:      cfg.PollIntervalMs,
		LookbackBlocks:      cfg.LookbackBlocks,
		CacheTTLHours:       cfg.CacheTTLHours,
		BasicAuthConfigured: sec.HasBasicAuth(),
	}
}

// UpdateConfig validates and saves the requested changes. Every change
// takes effect on the next start.
func (s ConfigService) UpdateConfig(ctx context.Context, req ConfigUpdateRequest) (ConfigUpdateResponse, error) {
	cfg, err := config.LoadConfigFrom(s.ConfigPath)
	if err != nil {
		return ConfigUpdateResponse{}, fmt.Errorf("load config: %w", err)
	}

	originalPort := cfg.Port
	changed := false

	if req.Port != nil {
		if *req.Port < 1 || *req.Port > 65535 {
			return ConfigUpdateResponse{}, fmt.Errorf("port must be between 1 and 65535")
		}
		cfg.Port = *req.Port
		changed = true
	}
	if req.LanEnabled != nil {
		cfg.LanEnabled = *req.LanEnabled
		changed = true
	}
	if req.RemoteURL != nil {
		if !isValidRemoteURL(*req.RemoteURL) {
			return ConfigUpdateResponse{}, fmt.Errorf("remote_url must be an http or https URL")
		}
		cfg.RemoteURL = *req.RemoteURL
		changed = true
	}
	if req.ContractAddress != nil {
		cfg.ContractAddress = *req.ContractAddress
		changed = true
	}
	if req.PollIntervalMs != nil {
		if *req.PollIntervalMs < 100 {
			return ConfigUpdateResponse{}, fmt.Errorf("poll_interval_ms must be at least 100")
		}
		cfg.PollIntervalMs = *req.PollIntervalMs
		changed = true
	}
	if req.LookbackBlocks != nil {
		if *req.LookbackBlocks < 0 {
			return ConfigUpdateResponse{}, fmt.Errorf("lookback_blocks must be non-negative")
		}
		cfg.LookbackBlocks = *req.LookbackBlocks
		changed = true
	}
	if req.CacheTTLHours != nil {
		if *req.CacheTTLHours < 1 {
			return ConfigUpdateResponse{}, fmt.Errorf("cache_ttl_hours must be at least 1")
		}
		cfg.CacheTTLHours = *req.CacheTTLHours
		changed = true
	}

	if changed {
		if err := config.SaveConfigTo(cfg, s.ConfigPath); err != nil {
			return ConfigUpdateResponse{}, fmt.Errorf("save config: %w", err)
		}
	}

	resp := ConfigUpdateResponse{
		Success:         true,
		RestartRequired: changed,
	}
	if cfg.Port != originalPort {
		resp.NewPort = cfg.Port
	}
	return resp, nil
}

func isValidRemoteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
