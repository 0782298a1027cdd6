package app

import (
	"context"
	"testing"

	"github.com/graaaaa/worldlog-companion/internal/session"
)

type stubStatus session.Status

func (s stubStatus) Status() session.Status { return session.Status(s) }

func TestHealthService_Handle(t *testing.T) {
	tests := []struct {
		name   string
		status session.Status
		want   string
	}{
		{"healthy", session.Status{Polling: true}, "ok"},
		{"fetch failing", session.Status{Polling: true, FetchError: "timeout"}, "degraded"},
		{"cache failing only", session.Status{Polling: true, CacheError: "locked"}, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := HealthService{Version: "1.0", Session: stubStatus(tt.status)}
			got, err := svc.Handle(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != tt.want || got.Version != "1.0" {
				t.Errorf("Handle = %+v, want status %q", got, tt.want)
			}
		})
	}
}

func TestHealthService_NoSession(t *testing.T) {
	got, _ := HealthService{Version: "dev"}.Handle(context.Background())
	if got.Status != "ok" {
		t.Errorf("status = %q", got.Status)
	}
}
