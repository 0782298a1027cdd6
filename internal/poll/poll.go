// Package poll drives the remote fetch loop. Each tick requests the blocks
// after the last accepted snapshot and hands the result to a Sink.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/remote"
	"github.com/graaaaa/worldlog-companion/internal/telemetry"
)

// Defaults for a Poller.
const (
	DefaultInterval = 500 * time.Millisecond
	DefaultLookback = 1200
	DefaultTimeout  = 10 * time.Second
)

var (
	// ErrTickInFlight is returned by Tick while another tick is running.
	ErrTickInFlight = errors.New("poll tick already in flight")

	errEmptySnapshot = errors.New("remote returned no snapshot")
)

// Sink receives the outcome of every tick.
type Sink interface {
	// HandleSnapshot applies raw. A non-nil error rejects the snapshot and
	// keeps the baseline where it was.
	HandleSnapshot(ctx context.Context, owner string, raw *event.RawSnapshot) error

	// HandleFetchError reports a failed fetch.
	HandleFetchError(ctx context.Context, owner string, err error)
}

// Clock provides time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DefaultClock is the wall clock.
var DefaultClock Clock = realClock{}

// Poller fetches snapshots on a fixed interval. At most one fetch is in
// flight; ticks that fire meanwhile are dropped, not queued.
type Poller struct {
	source   remote.Source
	sink     Sink
	interval time.Duration
	lookback uint64
	timeout  time.Duration
	logger   *slog.Logger
	clock    Clock
	tracer   trace.Tracer
	metrics  *telemetry.Metrics

	inFlight atomic.Bool

	mu          sync.Mutex
	owner       string
	gen         uint64
	baseline    uint64
	hasBaseline bool
	character   string
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLookback sets how many blocks a cold start reaches back.
func WithLookback(blocks uint64) Option {
	return func(p *Poller) { p.lookback = blocks }
}

// WithTimeout bounds each fetch.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock sets the clock used for fetch latency (for testing).
func WithClock(c Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithTracer sets the tracer for poll.tick spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Poller) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithMetrics records tick results on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithOwner sets the initial owner.
func WithOwner(owner string) Option {
	return func(p *Poller) { p.owner = owner }
}

// New creates a Poller. Call Run to start ticking.
func New(source remote.Source, sink Sink, opts ...Option) *Poller {
	p := &Poller{
		source:   source,
		sink:     sink,
		interval: DefaultInterval,
		lookback: DefaultLookback,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		clock:    DefaultClock,
		tracer:   telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ticks until ctx is cancelled, starting with an immediate tick.
// Returns ctx.Err() once any in-flight tick has finished.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.interval, "lookback", p.lookback)
	defer p.logger.Info("poller stopped")

	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	launch := func() {
		if !p.inFlight.CompareAndSwap(false, true) {
			p.metrics.PollSkipped()
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.inFlight.Store(false)
			if err := p.tick(ctx); err != nil && ctx.Err() == nil {
				p.logger.Debug("poll tick failed", "error", err)
			}
		}()
	}

	launch()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			launch()
		}
	}
}

// Tick runs one poll synchronously. It returns ErrTickInFlight if a tick
// is already running and nil without fetching while no owner is set.
func (p *Poller) Tick(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.metrics.PollSkipped()
		return ErrTickInFlight
	}
	defer p.inFlight.Store(false)
	return p.tick(ctx)
}

// SetOwner switches the owner. The baseline is dropped so the next tick
// is a cold start, and a tick already in flight for the old owner is
// discarded when it returns.
func (p *Poller) SetOwner(owner string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if owner == p.owner {
		return
	}
	p.owner = owner
	p.gen++
	p.hasBaseline = false
	p.baseline = 0
	p.character = ""
}

// Owner returns the current owner.
func (p *Poller) Owner() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owner
}

// Baseline returns the end block of the last accepted snapshot.
func (p *Poller) Baseline() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baseline, p.hasBaseline
}

// StartBlock returns the first block the next tick will request: one past
// the baseline, or the latest remote block minus the lookback on a cold
// start.
func (p *Poller) StartBlock(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	baseline, ok := p.baseline, p.hasBaseline
	p.mu.Unlock()
	if ok {
		return baseline + 1, nil
	}

	latest, err := p.source.FetchLatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch latest block: %w", err)
	}
	if latest < p.lookback {
		return 0, nil
	}
	return latest - p.lookback, nil
}

func (p *Poller) tick(ctx context.Context) error {
	p.mu.Lock()
	owner, gen := p.owner, p.gen
	p.mu.Unlock()
	if owner == "" {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "poll.tick",
		trace.WithAttributes(attribute.String("owner", owner)))
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := p.clock.Now()
	raw, start, err := p.fetch(fetchCtx, owner)
	elapsed := p.clock.Now().Sub(started)
	span.SetAttributes(attribute.Int64("start_block", int64(start)))

	if !p.current(gen) {
		span.SetAttributes(attribute.Bool("discarded", true))
		return nil
	}

	if err != nil {
		p.metrics.PollTick(telemetry.ResultFetchError, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("snapshot fetch failed", "owner", owner, "start_block", start, "error", err)
		p.sink.HandleFetchError(ctx, owner, err)
		return err
	}
	span.SetAttributes(attribute.Int64("end_block", int64(raw.EndBlock)))

	if err := p.sink.HandleSnapshot(ctx, owner, raw); err != nil {
		p.metrics.PollTick(telemetry.ResultRejected, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("apply snapshot: %w", err)
	}

	p.metrics.PollTick(telemetry.ResultOK, elapsed)
	p.accept(gen, raw)
	return nil
}

func (p *Poller) fetch(ctx context.Context, owner string) (*event.RawSnapshot, uint64, error) {
	start, err := p.StartBlock(ctx)
	if err != nil {
		return nil, 0, err
	}
	raw, err := p.source.FetchSnapshot(ctx, owner, start)
	if err != nil {
		return nil, start, fmt.Errorf("fetch snapshot from block %d: %w", start, err)
	}
	if raw == nil {
		return nil, start, errEmptySnapshot
	}
	return raw, start, nil
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.gen
}

// accept advances the baseline to raw's end block. A different character
// than last time drops the baseline instead so the new character's history
// is fetched from a cold start.
func (p *Poller) accept(gen uint64, raw *event.RawSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return
	}

	var id string
	if raw.Character != nil {
		id = raw.Character.ID
	}
	if p.character != "" && id != p.character {
		p.logger.Info("character changed, restarting from lookback",
			"owner", p.owner, "from", p.character, "to", id)
		p.character = id
		p.hasBaseline = false
		p.baseline = 0
		return
	}
	p.character = id

	if !p.hasBaseline || raw.EndBlock > p.baseline {
		p.baseline = raw.EndBlock
	}
	p.hasBaseline = true
	p.metrics.PollEndBlock(p.baseline)
}
