// Package blocktime estimates wall-clock display times for block numbers.
// Estimates assume a constant average block interval and drift when the
// chain's real block time varies.
package blocktime

import "time"

// DefaultInterval is the average block interval of the remote chain.
const DefaultInterval = 500 * time.Millisecond

// Estimate returns anchorMs + (target - anchorBlock) * intervalMs.
// Targets before the anchor yield earlier timestamps.
func Estimate(target, anchorBlock uint64, anchorMs, intervalMs int64) int64 {
	delta := int64(target) - int64(anchorBlock)
	return anchorMs + delta*intervalMs
}

// Anchor is a known (block, time) pair.
type Anchor struct {
	Block uint64
	At    time.Time
}

// Estimate returns the estimated time of target relative to the anchor.
// A non-positive interval falls back to DefaultInterval.
func (a Anchor) Estimate(target uint64, interval time.Duration) time.Time {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ms := Estimate(target, a.Block, a.At.UnixMilli(), interval.Milliseconds())
	return time.UnixMilli(ms).UTC()
}
