package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/telemetry"
)

// DefaultQueueSize is the default number of batches the Writer buffers.
const DefaultQueueSize = 256

// drainTimeout bounds the best-effort drain after Run is cancelled.
const drainTimeout = 5 * time.Second

// Store is the persistence surface the Writer needs.
type Store interface {
	InsertEventIfAbsent(ctx context.Context, scope event.Scope, e *event.Event) (bool, error)
	InsertChatIfAbsent(ctx context.Context, scope event.Scope, m *event.ChatMessage) (bool, error)
	TouchCharacter(ctx context.Context, owner, characterID, name string, at time.Time) error
}

// Writer persists batches on its own goroutine. Failures are logged and
// counted, never retried and never reported to the caller.
type Writer struct {
	store   Store
	logger  *slog.Logger
	metrics *telemetry.Metrics
	queue   chan Batch
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.queue = make(chan Batch, n)
		}
	}
}

// WithWriterLogger sets the logger.
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithWriterMetrics records write results on m.
func WithWriterMetrics(m *telemetry.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

// NewWriter creates a Writer. Call Run to start persisting.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:  store,
		logger: slog.Default(),
		queue:  make(chan Batch, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue implements Persister. Non-blocking: if the queue is full the
// batch is dropped and false is returned.
func (w *Writer) Enqueue(b Batch) bool {
	if b.Empty() {
		return true
	}
	select {
	case w.queue <- b:
		w.metrics.WriterQueue(len(w.queue))
		return true
	default:
		return false
	}
}

// Run persists queued batches until ctx is cancelled, then drains what is
// already queued on a fresh context and returns ctx.Err().
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case b := <-w.queue:
			w.write(ctx, b)
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		}
	}
}

func (w *Writer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case b := <-w.queue:
			w.write(ctx, b)
		default:
			return
		}
	}
}

func (w *Writer) write(ctx context.Context, b Batch) {
	defer w.metrics.WriterQueue(len(w.queue))

	for i := range b.Events {
		_, err := w.store.InsertEventIfAbsent(ctx, b.Scope, &b.Events[i])
		w.metrics.StoreWrite("event", err)
		if err != nil {
			w.logger.Warn("event cache write failed",
				"owner", b.Scope.Owner, "character", b.Scope.Character,
				"block", b.Events[i].BlockNumber, "error", err)
		}
	}
	for i := range b.Chat {
		_, err := w.store.InsertChatIfAbsent(ctx, b.Scope, &b.Chat[i])
		w.metrics.StoreWrite("chat", err)
		if err != nil {
			w.logger.Warn("chat cache write failed",
				"owner", b.Scope.Owner, "character", b.Scope.Character,
				"block", b.Chat[i].BlockNumber, "error", err)
		}
	}
	if c := b.Character; c != nil {
		err := w.store.TouchCharacter(ctx, c.Owner, c.CharacterID, c.Name, c.LastActive)
		w.metrics.StoreWrite("character", err)
		if err != nil {
			w.logger.Warn("character cache write failed",
				"owner", c.Owner, "character", c.CharacterID, "error", err)
		}
	}
}
