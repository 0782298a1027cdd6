package optimistic

import "time"

// TimerHandle cancels a pending expiry. *time.Timer satisfies it.
type TimerHandle interface {
	Stop() bool
}

// AfterFunc arms an expiry that calls f once d has elapsed.
type AfterFunc func(d time.Duration, f func()) TimerHandle

// DefaultAfterFunc arms real timers.
var DefaultAfterFunc AfterFunc = func(d time.Duration, f func()) TimerHandle {
	return time.AfterFunc(d, f)
}
