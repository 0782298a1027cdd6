package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/graaaaa/worldlog-companion/internal/app"
	"github.com/graaaaa/worldlog-companion/internal/session"
)

func TestHealthEndpoint(t *testing.T) {
	health := app.HealthService{Version: "test-version"}
	server := NewServer(":8080", health)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}

	var resp app.HealthResult
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test-version" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHealthEndpointMethodNotAllowed(t *testing.T) {
	server := NewServer(":8080", app.HealthService{Version: "test-version"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	server.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestHealthIsPublicWithAuth(t *testing.T) {
	server := NewServer(":8080", app.HealthService{}, WithBasicAuth("admin", "secret"),
		WithWorldUsecase(&MockWorldService{}))

	rec := httptest.NewRecorder()
	server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/world", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("world: expected 401, got %d", rec.Code)
	}
}

func TestOptionalRoutesNotRegistered(t *testing.T) {
	server := NewServer(":8080", app.HealthService{})

	for _, path := range []string{"/api/v1/world", "/api/v1/events", "/api/v1/stats", "/api/v1/stream", "/metrics"} {
		rec := httptest.NewRecorder()
		server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("worldlog_poll_ticks_total 1\n"))
	})
	server := NewServer(":8080", app.HealthService{}, WithMetricsHandler(metrics))

	rec := httptest.NewRecorder()
	server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "worldlog_poll_ticks_total") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

type stubStats struct {
	result *app.StatsResult
	err    error
}

func (s stubStats) GetStats(ctx context.Context) (*app.StatsResult, error) { return s.result, s.err }

func TestStatsEndpoint(t *testing.T) {
	server := NewServer(":8080", app.HealthService{},
		WithStatsUsecase(stubStats{result: &app.StatsResult{CharacterID: "c1", Events: 3}}))

	rec := httptest.NewRecorder()
	server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got app.StatsResult
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.CharacterID != "c1" || got.Events != 3 {
		t.Errorf("got %+v", got)
	}

	server = NewServer(":8080", app.HealthService{}, WithStatsUsecase(stubStats{err: session.ErrNoCharacter}))
	rec = httptest.NewRecorder()
	server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("no character: expected 409, got %d", rec.Code)
	}
}

type stubConfig struct {
	got app.ConfigUpdateRequest
}

func (s *stubConfig) GetConfig(ctx context.Context) app.ConfigResponse {
	return app.ConfigResponse{Port: 8080}
}

func (s *stubConfig) UpdateConfig(ctx context.Context, req app.ConfigUpdateRequest) (app.ConfigUpdateResponse, error) {
	s.got = req
	return app.ConfigUpdateResponse{Success: true, RestartRequired: true}, nil
}

func TestConfigEndpoints(t *testing.T) {
	cfg := &stubConfig{}
	server := NewServer(":8080", app.HealthService{}, WithConfigUsecase(cfg))

	rec := httptest.NewRecorder()
	server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"port":8080`) {
		t.Errorf("GET: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(`{"lookback_blocks":600}`))
	req.Header.Set("Origin", "http://localhost:8080")
	rec = httptest.NewRecorder()
	server.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT: expected 200, got %d", rec.Code)
	}
	if cfg.got.LookbackBlocks == nil || *cfg.got.LookbackBlocks != 600 {
		t.Errorf("request = %+v", cfg.got)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(`{"unknown":1}`))
	req.Header.Set("Origin", "http://localhost:8080")
	rec = httptest.NewRecorder()
	server.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: expected 400, got %d", rec.Code)
	}
}
