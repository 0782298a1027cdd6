// Package reconcile merges persisted history, confirmed session entries,
// the freshest poll and pending optimistic chat into one ordered
// WorldSnapshot.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/graaaaa/worldlog-companion/internal/blocktime"
	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/identity"
	"github.com/graaaaa/worldlog-companion/internal/optimistic"
	"github.com/graaaaa/worldlog-companion/internal/telemetry"
)

// Batch is one set of freshly seen records to persist.
type Batch struct {
	Scope     event.Scope
	Events    []event.Event
	Chat      []event.ChatMessage
	Character *event.CharacterSummary
}

// Empty reports whether the batch carries nothing to write.
func (b Batch) Empty() bool {
	return len(b.Events) == 0 && len(b.Chat) == 0 && b.Character == nil
}

// Persister accepts batches for asynchronous persistence. Enqueue must not
// block.
type Persister interface {
	Enqueue(Batch) bool
}

// Engine reconciles snapshots for one (owner, contract, character) scope.
// It is safe for concurrent use.
type Engine struct {
	scope     event.Scope
	resolver  *identity.Resolver
	tracker   *optimistic.Tracker
	persister Persister
	interval  time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	mu          sync.Mutex
	history     map[string]event.Event
	historyChat map[string]event.ChatMessage
	session     map[string]event.Event
	sessionChat map[string]event.ChatMessage
	// unresolved holds keys of history or session events still waiting
	// for a participant name.
	unresolved map[string]struct{}
	last       *event.RawSnapshot
	current    *event.WorldSnapshot
	touched    bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPersister sets where fresh records are sent for persistence.
func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persister = p }
}

// WithBlockInterval sets the average block interval used for display
// timestamps.
func WithBlockInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer for reconcile.apply spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithNow sets the clock used when a snapshot carries no fetch time.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine for scope. resolver and tracker are owned by
// the caller's session and shared with it.
func NewEngine(scope event.Scope, resolver *identity.Resolver, tracker *optimistic.Tracker, opts ...Option) *Engine {
	e := &Engine{
		scope:       scope,
		resolver:    resolver,
		tracker:     tracker,
		interval:    blocktime.DefaultInterval,
		logger:      slog.Default(),
		tracer:      telemetry.Tracer(),
		now:         time.Now,
		history:     make(map[string]event.Event),
		historyChat: make(map[string]event.ChatMessage),
		session:     make(map[string]event.Event),
		sessionChat: make(map[string]event.ChatMessage),
		unresolved:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scope returns the scope the engine reconciles.
func (e *Engine) Scope() event.Scope {
	return e.scope
}

// SeedHistory loads persisted records as the lowest-priority layer.
func (e *Engine) SeedHistory(events []event.Event, chat []event.ChatMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	overlayEvents(e.history, events)
	for _, ev := range events {
		if !ev.NameResolved {
			e.unresolved[ev.Key()] = struct{}{}
		}
	}
	for _, m := range chat {
		if m.Optimistic {
			continue
		}
		e.historyChat[m.Key()] = m
	}
}

// Apply reconciles raw into a new WorldSnapshot and schedules persistence
// of the records it saw for the first time. On failure the previous
// snapshot is returned unchanged together with the error.
func (e *Engine) Apply(ctx context.Context, raw *event.RawSnapshot) (*event.WorldSnapshot, error) {
	_, span := e.tracer.Start(ctx, "reconcile.apply",
		trace.WithAttributes(
			attribute.String("owner", e.scope.Owner),
			attribute.String("character", e.scope.Character),
		),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if raw == nil {
		span.SetStatus(codes.Error, ErrNoSnapshot.Error())
		return e.current, ErrNoSnapshot
	}
	if err := Validate(raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.current, err
	}
	if raw.Character.ID != e.scope.Character {
		err := &MappingError{Reason: "snapshot for character " + raw.Character.ID + " applied to " + e.scope.Character}
		span.SetStatus(codes.Error, err.Error())
		return e.current, err
	}

	e.resolver.ObserveRoster(raw.Character, raw.Combatants, raw.NonCombatants)

	fetchedAt := e.fetchTime(raw)
	anchor := blocktime.Anchor{Block: raw.EndBlock, At: fetchedAt}
	fresh := extract(raw, e.resolver, anchor, e.interval, e.logger)

	// Chat not seen before in any confirmed layer is what confirms
	// optimistic entries; re-delivered chat must not match again.
	var newChat []event.ChatMessage
	for _, m := range fresh.chat {
		key := m.Key()
		if _, ok := e.sessionChat[key]; ok {
			continue
		}
		if _, ok := e.historyChat[key]; ok {
			continue
		}
		newChat = append(newChat, m)
	}
	if e.tracker != nil {
		e.tracker.Reconcile(newChat)
		e.tracker.Expire()
	}

	backfilled := e.backfillLocked()

	changed := e.overlaySessionLocked(fresh.events)
	overlayChat(e.sessionChat, fresh.chat)

	e.last = raw
	e.current = e.buildLocked(fetchedAt)

	toWrite := append(changed, backfilled...)
	e.persistLocked(toWrite, newChat, raw.Character, fetchedAt)

	span.SetAttributes(
		attribute.Int64("end_block", int64(raw.EndBlock)),
		attribute.Int("fresh_events", len(fresh.events)),
		attribute.Int("fresh_chat", len(fresh.chat)),
		attribute.Int("merged_events", len(e.current.Events)),
	)
	return e.current, nil
}

// Rebuild re-merges the current layers with the tracker's pending entries,
// for use after an optimistic mutation. Returns nil before the first
// successful Apply.
func (e *Engine) Rebuild() *event.WorldSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	fetchedAt := time.Time{}
	if e.current != nil {
		fetchedAt = e.current.FetchedAt
	}
	e.current = e.buildLocked(fetchedAt)
	return e.current
}

// Current returns the last reconciled snapshot, or nil before the first
// successful Apply.
func (e *Engine) Current() *event.WorldSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// History returns the merged confirmed records as block-shaped history.
func (e *Engine) History() []event.CachedBlock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return event.GroupByBlock(
		mergeEvents(e.history, e.session),
		mergeChat(nil, e.historyChat, e.sessionChat),
	)
}

func (e *Engine) fetchTime(raw *event.RawSnapshot) time.Time {
	if raw.FetchTimestampMs > 0 {
		return time.UnixMilli(raw.FetchTimestampMs).UTC()
	}
	return e.now().UTC()
}

// overlaySessionLocked overlays fresh events onto the session layer and
// returns those that are new to every confirmed layer or upgrade a stored
// unresolved copy.
func (e *Engine) overlaySessionLocked(fresh []event.Event) []event.Event {
	var changed []event.Event
	for _, ev := range overlayEvents(e.session, fresh) {
		key := ev.Key()
		if h, ok := e.history[key]; ok && (h.NameResolved || !ev.NameResolved) {
			continue
		}
		changed = append(changed, ev)
	}
	for _, ev := range fresh {
		key := ev.Key()
		if ev.NameResolved {
			delete(e.unresolved, key)
		} else if merged := e.session[key]; !merged.NameResolved {
			if h, ok := e.history[key]; !ok || !h.NameResolved {
				e.unresolved[key] = struct{}{}
			}
		}
	}
	return changed
}

// backfillLocked relabels stored unresolved events with names the resolver
// has learned since, returning the events that became fully resolved.
func (e *Engine) backfillLocked() []event.Event {
	var done []event.Event
	for key := range e.unresolved {
		layer := e.session
		ev, ok := layer[key]
		if !ok {
			layer = e.history
			if ev, ok = layer[key]; !ok {
				delete(e.unresolved, key)
				continue
			}
		}
		if label(&ev, e.resolver) {
			layer[key] = ev
			delete(e.unresolved, key)
			done = append(done, ev)
		}
	}
	return done
}

func (e *Engine) buildLocked(fetchedAt time.Time) *event.WorldSnapshot {
	var pending []event.ChatMessage
	if e.tracker != nil {
		pending = e.tracker.Pending()
	}
	raw := e.last
	return &event.WorldSnapshot{
		Character:         raw.Character,
		Combatants:        raw.Combatants,
		NonCombatants:     raw.NonCombatants,
		Events:            mergeEvents(e.history, e.session),
		Chat:              mergeChat(pending, e.historyChat, e.sessionChat),
		EndBlock:          raw.EndBlock,
		BalanceShortfall:  raw.BalanceShortfall,
		UnallocatedPoints: raw.UnallocatedPoints,
		FetchedAt:         fetchedAt,
	}
}

func (e *Engine) persistLocked(events []event.Event, chat []event.ChatMessage, ch *event.Character, at time.Time) {
	if e.persister == nil {
		return
	}
	b := Batch{Scope: e.scope, Events: events, Chat: chat}
	// The character row is touched on first sight and whenever it did
	// something new.
	if !e.touched || len(events) > 0 || len(chat) > 0 {
		b.Character = &event.CharacterSummary{
			Owner:       e.scope.Owner,
			CharacterID: ch.ID,
			Name:        ch.Name,
			LastActive:  at,
		}
	}
	if b.Empty() {
		return
	}
	if e.persister.Enqueue(b) {
		e.touched = true
	} else {
		e.logger.Warn("persistence queue full, batch dropped",
			"owner", e.scope.Owner, "character", e.scope.Character,
			"events", len(events), "chat", len(chat))
	}
}

// IsMappingError reports whether err is a snapshot mapping failure.
func IsMappingError(err error) bool {
	var me *MappingError
	return errors.As(err, &me)
}
