// Package session holds the owner and character context the engine runs
// in. It implements poll.Sink and is the boundary the HTTP API reads from.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/identity"
	"github.com/graaaaa/worldlog-companion/internal/optimistic"
	"github.com/graaaaa/worldlog-companion/internal/reconcile"
	"github.com/graaaaa/worldlog-companion/internal/store"
	"github.com/graaaaa/worldlog-companion/internal/telemetry"
)

// Store is the persistence surface a Manager reads from.
type Store interface {
	LoadHistory(ctx context.Context, scope event.Scope) (store.History, error)
	ListCharacters(ctx context.Context, owner string) ([]event.CharacterSummary, error)
	InsertMappingFailure(ctx context.Context, owner string, startBlock uint64, msg string) (bool, error)
}

// Status reports poll and cache state. The two halves are independent: a
// failed cache read never sets FetchError and vice versa.
type Status struct {
	Owner        string     `json:"owner"`
	CharacterID  string     `json:"character_id,omitempty"`
	Polling      bool       `json:"polling"`
	CacheLoading bool       `json:"cache_loading"`
	FetchError   string     `json:"fetch_error,omitempty"`
	CacheError   string     `json:"cache_error,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
}

// charContext is the state tied to one (owner, character) pair. It is replaced
// wholesale on a switch.
type charContext struct {
	scope    event.Scope
	resolver *identity.Resolver
	tracker  *optimistic.Tracker
	engine   *reconcile.Engine
	sender   optimistic.Sender
}

// Manager owns the active session. It is safe for concurrent use.
type Manager struct {
	store     Store
	contract  string
	persister reconcile.Persister
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	interval  time.Duration
	ttl       time.Duration
	afterFunc optimistic.AfterFunc
	now       func() time.Time

	mu        sync.Mutex
	owner     string
	active    *charContext
	status    Status
	listeners []func(*event.WorldSnapshot)
}

// Option configures a Manager.
type Option func(*Manager)

// WithPersister sets where engines send fresh records.
func WithPersister(p reconcile.Persister) Option {
	return func(m *Manager) { m.persister = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records optimistic outcomes on mt.
func WithMetrics(mt *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithBlockInterval sets the block interval used for display timestamps.
func WithBlockInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithOptimisticTTL sets how long optimistic chat stays pending.
func WithOptimisticTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithAfterFunc sets the timer factory for optimistic expiry (for testing).
func WithAfterFunc(af optimistic.AfterFunc) Option {
	return func(m *Manager) { m.afterFunc = af }
}

// WithNow sets the clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithOwner sets the initial owner.
func WithOwner(owner string) Option {
	return func(m *Manager) { m.owner = owner }
}

// New creates a Manager for contract.
func New(st Store, contract string, opts ...Option) *Manager {
	m := &Manager{
		store:    st,
		contract: contract,
		logger:   slog.Default(),
		ttl:      optimistic.DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.status.Owner = m.owner
	return m
}

// OnUpdate registers f to receive every new snapshot. f is called without
// the manager's lock held and must not block.
func (m *Manager) OnUpdate(f func(*event.WorldSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, f)
}

// GetWorldSnapshot returns the current reconciled snapshot, or nil before
// the first successful tick of the active character.
func (m *Manager) GetWorldSnapshot() *event.WorldSnapshot {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return nil
	}
	return active.engine.Current()
}

// Scope returns the active scope.
func (m *Manager) Scope() (event.Scope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return event.Scope{}, false
	}
	return m.active.scope, true
}

// Owner returns the active owner.
func (m *Manager) Owner() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// Status returns the current poll and cache flags.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	if s.LastSuccess != nil {
		t := *s.LastSuccess
		s.LastSuccess = &t
	}
	return s
}

// SetOwner switches the owner, dropping every trace of the previous
// character. Returns false if owner is already active.
func (m *Manager) SetOwner(owner string) bool {
	m.mu.Lock()
	if owner == m.owner {
		m.mu.Unlock()
		return false
	}
	old := m.active
	m.owner = owner
	m.active = nil
	m.status = Status{Owner: owner}
	m.mu.Unlock()

	if old != nil {
		old.tracker.Reset()
	}
	m.logger.Info("owner changed", "owner", owner)
	return true
}

// AddOptimisticChatMessage shows content as sent by the active character
// until the remote confirms it or it expires. A repeated identical send
// returns the pending message with added=false.
func (m *Manager) AddOptimisticChatMessage(content string) (msg event.ChatMessage, added bool, err error) {
	if strings.TrimSpace(content) == "" {
		return event.ChatMessage{}, false, ErrEmptyMessage
	}

	m.mu.Lock()
	active := m.active
	var sender optimistic.Sender
	if active != nil {
		sender = active.sender
	}
	m.mu.Unlock()
	if active == nil {
		return event.ChatMessage{}, false, ErrNoCharacter
	}

	msg, added = active.tracker.Add(content, sender)
	if added {
		m.refresh(active)
	}
	return msg, added, nil
}

// GetHistoryForOwner lists the characters known locally for owner, most
// recently active first.
func (m *Manager) GetHistoryForOwner(ctx context.Context, owner string) ([]event.CharacterSummary, error) {
	return m.store.ListCharacters(ctx, owner)
}

// History returns block-grouped confirmed records of the active character.
func (m *Manager) History() ([]event.CachedBlock, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return nil, ErrNoCharacter
	}
	return active.engine.History(), nil
}

// HandleSnapshot implements poll.Sink.
func (m *Manager) HandleSnapshot(ctx context.Context, owner string, raw *event.RawSnapshot) error {
	active, err := m.contextFor(ctx, owner, raw)
	if err != nil {
		if reconcile.IsMappingError(err) {
			m.mappingFailed(ctx, owner, raw, err)
		}
		return err
	}

	ws, err := active.engine.Apply(ctx, raw)
	if err != nil {
		if reconcile.IsMappingError(err) {
			m.mappingFailed(ctx, owner, raw, err)
		}
		return err
	}

	m.mu.Lock()
	if m.active != active {
		m.mu.Unlock()
		return errStaleOwner
	}
	now := m.now()
	m.status.Polling = true
	m.status.FetchError = ""
	m.status.LastSuccess = &now
	listeners := m.listeners
	m.mu.Unlock()

	for _, f := range listeners {
		f(ws)
	}
	return nil
}

// HandleFetchError implements poll.Sink. The snapshot is left untouched.
func (m *Manager) HandleFetchError(ctx context.Context, owner string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner != m.owner {
		return
	}
	m.status.Polling = true
	m.status.FetchError = err.Error()
}

// contextFor returns the character context for raw, switching characters
// (and loading the new character's history) when raw belongs to another
// character than the active one.
func (m *Manager) contextFor(ctx context.Context, owner string, raw *event.RawSnapshot) (*charContext, error) {
	m.mu.Lock()
	if owner != m.owner {
		m.mu.Unlock()
		return nil, errStaleOwner
	}
	active := m.active
	m.mu.Unlock()

	if raw == nil {
		if active == nil {
			return nil, reconcile.ErrNoSnapshot
		}
		return active, nil
	}
	// A malformed snapshot must not switch characters: the active context
	// and its snapshot stay in place.
	if err := reconcile.Validate(raw); err != nil {
		return nil, err
	}
	if active != nil && active.scope.Character == raw.Character.ID {
		m.mu.Lock()
		active.sender = senderFor(raw.Character)
		m.mu.Unlock()
		return active, nil
	}
	return m.switchCharacter(ctx, owner, raw.Character)
}

func (m *Manager) switchCharacter(ctx context.Context, owner string, ch *event.Character) (*charContext, error) {
	scope := event.Scope{Owner: owner, Contract: m.contract, Character: ch.ID}
	next := &charContext{
		scope:    scope,
		resolver: identity.New(),
		sender:   senderFor(ch),
	}
	trackerOpts := []optimistic.Option{
		optimistic.WithTTL(m.ttl),
		optimistic.WithNow(m.now),
		optimistic.WithLogger(m.logger),
		optimistic.WithMetrics(m.metrics),
		optimistic.WithOnChange(func() { m.refresh(next) }),
	}
	if m.afterFunc != nil {
		trackerOpts = append(trackerOpts, optimistic.WithAfterFunc(m.afterFunc))
	}
	next.tracker = optimistic.New(trackerOpts...)
	next.engine = reconcile.NewEngine(scope, next.resolver, next.tracker,
		reconcile.WithPersister(m.persister),
		reconcile.WithBlockInterval(m.interval),
		reconcile.WithLogger(m.logger),
		reconcile.WithNow(m.now),
	)

	m.mu.Lock()
	if owner != m.owner {
		m.mu.Unlock()
		return nil, errStaleOwner
	}
	old := m.active
	m.active = next
	m.status = Status{Owner: owner, CharacterID: ch.ID, Polling: true, CacheLoading: true}
	m.mu.Unlock()

	if old != nil {
		old.tracker.Reset()
		m.logger.Info("character changed", "owner", owner, "from", old.scope.Character, "to", ch.ID)
	}

	h, err := m.store.LoadHistory(ctx, scope)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != next {
		return nil, errStaleOwner
	}
	m.status.CacheLoading = false
	if err != nil {
		m.logger.Warn("history load failed, continuing without history",
			"owner", owner, "character", ch.ID, "error", err)
		m.status.CacheError = err.Error()
		return next, nil
	}
	next.engine.SeedHistory(h.Events, h.Chat)
	m.logger.Debug("history loaded",
		"owner", owner, "character", ch.ID, "events", len(h.Events), "chat", len(h.Chat))
	return next, nil
}

// refresh rebuilds c's snapshot after an optimistic change and notifies
// listeners if c is still active.
func (m *Manager) refresh(c *charContext) {
	m.mu.Lock()
	if m.active != c {
		m.mu.Unlock()
		return
	}
	listeners := m.listeners
	m.mu.Unlock()

	ws := c.engine.Rebuild()
	if ws == nil {
		return
	}
	for _, f := range listeners {
		f(ws)
	}
}

func (m *Manager) mappingFailed(ctx context.Context, owner string, raw *event.RawSnapshot, err error) {
	m.mu.Lock()
	if owner == m.owner {
		m.status.Polling = true
		m.status.FetchError = err.Error()
	}
	m.mu.Unlock()

	m.logger.Warn("snapshot mapping failed", "owner", owner, "error", err)
	if _, serr := m.store.InsertMappingFailure(ctx, owner, firstBlock(raw), err.Error()); serr != nil {
		m.logger.Warn("record mapping failure", "owner", owner, "error", serr)
	}
}

func senderFor(ch *event.Character) optimistic.Sender {
	return optimistic.Sender{ID: ch.ID, Name: ch.Name, Index: ch.Index}
}

// firstBlock returns the lowest block raw covers, or its end block when it
// has no feeds.
func firstBlock(raw *event.RawSnapshot) uint64 {
	if raw == nil {
		return 0
	}
	first := raw.EndBlock
	for _, f := range raw.DataFeeds {
		if f.BlockNumber < first {
			first = f.BlockNumber
		}
	}
	return first
}
