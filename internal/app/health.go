// Package app provides application use cases.
package app

import (
	"context"

	"github.com/graaaaa/worldlog-companion/internal/session"
)

// HealthUsecase defines the health check use case.
type HealthUsecase interface {
	Handle(ctx context.Context) (HealthResult, error)
}

// HealthResult represents the health check response.
type HealthResult struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Polling    bool   `json:"polling"`
	FetchError string `json:"fetch_error,omitempty"`
	CacheError string `json:"cache_error,omitempty"`
}

// StatusSource reports poll and cache state.
type StatusSource interface {
	Status() session.Status
}

// HealthService implements HealthUsecase.
type HealthService struct {
	Version string
	Session StatusSource
}

// Handle returns the current health status. A failing fetch degrades the
// status; cache errors are reported but never degrade it.
func (s HealthService) Handle(ctx context.Context) (HealthResult, error) {
	result := HealthResult{
		Status:  "ok",
		Version: s.Version,
	}
	if s.Session == nil {
		return result, nil
	}

	st := s.Session.Status()
	result.Polling = st.Polling
	result.FetchError = st.FetchError
	result.CacheError = st.CacheError
	if st.FetchError != "" {
		result.Status = "degraded"
	}
	return result, nil
}
