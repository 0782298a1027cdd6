package api

import (
	"log/slog"
	"sync"

	"github.com/graaaaa/worldlog-companion/internal/event"
)

const defaultBroadcastBufferSize = 16

// Subscriber is one push client (SSE or WebSocket).
// It always holds at most the latest undelivered snapshot.
type Subscriber struct {
	snapshots chan *event.WorldSnapshot
	done      chan struct{}
}

// Snapshots returns the channel of world snapshots.
func (s *Subscriber) Snapshots() <-chan *event.WorldSnapshot {
	return s.snapshots
}

// Done returns a channel that is closed when the subscriber is removed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// offer replaces any undelivered snapshot with snap.
// Only the hub loop sends, so the drain-then-send cannot block.
func (s *Subscriber) offer(snap *event.WorldSnapshot) (replaced bool) {
	select {
	case <-s.snapshots:
		replaced = true
	default:
	}
	s.snapshots <- snap
	return replaced
}

func (s *Subscriber) close() {
	close(s.done)
	close(s.snapshots)
}

// Hub fans world snapshots out to subscribers.
// One goroutine owns the subscriber set; new subscribers receive the
// latest snapshot immediately.
type Hub struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan *event.WorldSnapshot
	stop       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once

	logger *slog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger for the Hub.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates a new hub. Call Run to start its loop.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		broadcast:  make(chan *event.WorldSnapshot, defaultBroadcastBufferSize),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run runs the hub loop until Stop is called.
func (h *Hub) Run() {
	clients := make(map[*Subscriber]struct{})
	var latest *event.WorldSnapshot
	defer close(h.stopped)

	for {
		select {
		case sub := <-h.register:
			clients[sub] = struct{}{}
			if latest != nil {
				sub.offer(latest)
			}
			h.logger.Debug("subscriber registered", "count", len(clients))

		case sub := <-h.unregister:
			if _, ok := clients[sub]; ok {
				delete(clients, sub)
				sub.close()
				h.logger.Debug("subscriber unregistered", "count", len(clients))
			}

		case snap := <-h.broadcast:
			latest = snap
			for sub := range clients {
				if sub.offer(snap) {
					h.logger.Debug("slow subscriber, older snapshot replaced",
						"end_block", snap.EndBlock)
				}
			}

		case <-h.stop:
			for sub := range clients {
				sub.close()
			}
			return
		}
	}
}

// Stop stops the hub loop and waits for it to exit. Idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.stopped
}

// Subscribe registers a new subscriber. The caller must Unsubscribe it.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		snapshots: make(chan *event.WorldSnapshot, 1),
		done:      make(chan struct{}),
	}

	select {
	case h.register <- sub:
	case <-h.stopped:
		sub.close()
	}
	return sub
}

// Unsubscribe removes sub. Nil is ignored.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	select {
	case h.unregister <- sub:
	case <-h.stopped:
	}
}

// Publish queues snap for broadcast without blocking. It has the shape of
// session.Manager's update callback.
func (h *Hub) Publish(snap *event.WorldSnapshot) {
	if snap == nil {
		return
	}

	select {
	case h.broadcast <- snap:
	case <-h.stopped:
	default:
		h.logger.Warn("broadcast channel full, snapshot dropped", "end_block", snap.EndBlock)
	}
}
