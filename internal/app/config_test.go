package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/graaaaa/worldlog-companion/internal/config"
)

func ptr[T any](v T) *T { return &v }

func newConfigService(t *testing.T) ConfigService {
	t.Helper()
	dir := t.TempDir()
	return ConfigService{
		ConfigPath:  filepath.Join(dir, "config.json"),
		SecretsPath: filepath.Join(dir, "secrets.json"),
	}
}

func TestConfigService_GetConfigDefaults(t *testing.T) {
	svc := newConfigService(t)

	got := svc.GetConfig(context.Background())
	d := config.DefaultConfig()
	if got.Port != d.Port || got.LookbackBlocks != d.LookbackBlocks || got.BasicAuthConfigured {
		t.Errorf("GetConfig = %+v", got)
	}
}

func TestConfigService_UpdateConfig(t *testing.T) {
	svc := newConfigService(t)

	resp, err := svc.UpdateConfig(context.Background(), ConfigUpdateRequest{
		Port:           ptr(9001),
		RemoteURL:      ptr("https://rpc.example.net"),
		LookbackBlocks: ptr(600),
	})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if !resp.Success || !resp.RestartRequired || resp.NewPort != 9001 {
		t.Errorf("resp = %+v", resp)
	}

	got := svc.GetConfig(context.Background())
	if got.Port != 9001 || got.RemoteURL != "https://rpc.example.net" || got.LookbackBlocks != 600 {
		t.Errorf("saved config = %+v", got)
	}
}

func TestConfigService_UpdateConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		req  ConfigUpdateRequest
	}{
		{"port", ConfigUpdateRequest{Port: ptr(0)}},
		{"remote url scheme", ConfigUpdateRequest{RemoteURL: ptr("ftp://x")}},
		{"remote url host", ConfigUpdateRequest{RemoteURL: ptr("https://")}},
		{"poll interval", ConfigUpdateRequest{PollIntervalMs: ptr(10)}},
		{"lookback", ConfigUpdateRequest{LookbackBlocks: ptr(-1)}},
		{"ttl", ConfigUpdateRequest{CacheTTLHours: ptr(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newConfigService(t)
			if _, err := svc.UpdateConfig(context.Background(), tt.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfigService_NoChange(t *testing.T) {
	svc := newConfigService(t)
	resp, err := svc.UpdateConfig(context.Background(), ConfigUpdateRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.RestartRequired {
		t.Error("empty update should not require a restart")
	}
}
