package blocktime

import (
	"testing"
	"time"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name        string
		target      uint64
		anchorBlock uint64
		anchorMs    int64
		intervalMs  int64
		want        int64
	}{
		{"same block", 100, 100, 1_000_000, 500, 1_000_000},
		{"future block", 110, 100, 1_000_000, 500, 1_005_000},
		{"past block", 90, 100, 1_000_000, 500, 995_000},
		{"far past", 0, 1000, 1_000_000, 400, 600_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Estimate(tt.target, tt.anchorBlock, tt.anchorMs, tt.intervalMs)
			if got != tt.want {
				t.Errorf("Estimate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAnchor_Estimate(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a := Anchor{Block: 200, At: at}

	got := a.Estimate(195, time.Second)
	if want := at.Add(-5 * time.Second); !got.Equal(want) {
		t.Errorf("Estimate(195) = %v, want %v", got, want)
	}

	// Non-positive interval uses the default.
	got = a.Estimate(202, 0)
	if want := at.Add(2 * DefaultInterval); !got.Equal(want) {
		t.Errorf("Estimate(202, 0) = %v, want %v", got, want)
	}
}
