// Package optimistic tracks locally predicted chat messages until the
// remote source confirms them or they expire.
package optimistic

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/telemetry"
)

// DefaultTTL is how long an unconfirmed entry is shown before it is
// assumed lost.
const DefaultTTL = 30 * time.Second

// Sender identifies who submitted an optimistic message.
type Sender struct {
	ID    string
	Name  string
	Index int
}

type pending struct {
	msg       event.ChatMessage
	expiresAt time.Time
	timer     TimerHandle
}

// Tracker holds pending optimistic chat messages in submit order.
// It is safe for concurrent use.
type Tracker struct {
	ttl       time.Duration
	afterFunc AfterFunc
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	onChange  func()

	mu      sync.Mutex
	entries []*pending
	// gen invalidates timers armed before the last Reset.
	gen uint64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL sets the expiry window.
func WithTTL(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.ttl = d
		}
	}
}

// WithAfterFunc sets the timer function (for testing).
func WithAfterFunc(af AfterFunc) Option {
	return func(t *Tracker) {
		if af != nil {
			t.afterFunc = af
		}
	}
}

// WithNow sets the clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithIDFunc sets the ClientID generator (for testing).
func WithIDFunc(f func() string) Option {
	return func(t *Tracker) {
		if f != nil {
			t.newID = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics records outcomes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithOnChange sets a callback run, outside the lock, after a timer
// expires an entry.
func WithOnChange(f func()) Option {
	return func(t *Tracker) { t.onChange = f }
}

// New creates an empty Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		ttl:       DefaultTTL,
		afterFunc: DefaultAfterFunc,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add registers content from sender as a pending optimistic message.
// A byte-identical pending message from the same sender is not added
// again; the existing entry is returned with added=false.
func (t *Tracker) Add(content string, sender Sender) (msg event.ChatMessage, added bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.entries {
		if p.msg.SenderID == sender.ID && p.msg.Content == content {
			t.metrics.Optimistic(telemetry.OutcomeDuplicate)
			return p.msg, false
		}
	}

	now := t.now().UTC()
	msg = event.ChatMessage{
		Content:     content,
		SenderID:    sender.ID,
		SenderName:  sender.Name,
		SenderIndex: sender.Index,
		Timestamp:   now,
		Optimistic:  true,
		ClientID:    t.newID(),
	}
	p := &pending{msg: msg, expiresAt: now.Add(t.ttl)}

	gen, clientID := t.gen, msg.ClientID
	p.timer = t.afterFunc(t.ttl, func() { t.expireEntry(gen, clientID) })
	t.entries = append(t.entries, p)

	t.metrics.Optimistic(telemetry.OutcomeAdded)
	return msg, true
}

// Reconcile removes, for each confirmed message, the oldest pending entry
// with the same sender id and content. Each confirmed message removes at
// most one entry. confirmed must contain only messages first seen in the
// current tick. Returns the removed entries.
func (t *Tracker) Reconcile(confirmed []event.ChatMessage) []event.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []event.ChatMessage
	for _, c := range confirmed {
		if c.Optimistic {
			continue
		}
		for i, p := range t.entries {
			if p.msg.SenderID == c.SenderID && p.msg.Content == c.Content {
				p.timer.Stop()
				removed = append(removed, p.msg)
				t.entries = append(t.entries[:i], t.entries[i+1:]...)
				t.metrics.Optimistic(telemetry.OutcomeConfirmed)
				break
			}
		}
	}
	return removed
}

// Expire removes every entry whose window has elapsed at the tracker's
// current time. Returns the number removed.
func (t *Tracker) Expire() int {
	t.mu.Lock()
	now := t.now()
	kept := t.entries[:0]
	n := 0
	for _, p := range t.entries {
		if !now.Before(p.expiresAt) {
			p.timer.Stop()
			n++
			t.metrics.Optimistic(telemetry.OutcomeExpired)
			continue
		}
		kept = append(kept, p)
	}
	t.entries = kept
	t.mu.Unlock()

	if n > 0 {
		t.logger.Debug("optimistic entries expired", "count", n)
	}
	return n
}

// Pending returns the pending entries ordered by submit time.
func (t *Tracker) Pending() []event.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]event.ChatMessage, len(t.entries))
	for i, p := range t.entries {
		out[i] = p.msg
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Len returns the number of pending entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset discards every pending entry and cancels its timer.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.entries {
		p.timer.Stop()
	}
	t.entries = nil
	t.gen++
}

func (t *Tracker) expireEntry(gen uint64, clientID string) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	found := false
	for i, p := range t.entries {
		if p.msg.ClientID == clientID {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			found = true
			break
		}
	}
	onChange := t.onChange
	t.mu.Unlock()

	if !found {
		return
	}
	t.metrics.Optimistic(telemetry.OutcomeExpired)
	t.logger.Debug("optimistic entry expired", "client_id", clientID)
	if onChange != nil {
		onChange()
	}
}
