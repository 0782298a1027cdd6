package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "worldlog"

// Poll tick results.
const (
	ResultOK         = "ok"
	ResultFetchError = "fetch_error"
	ResultRejected   = "rejected"
)

// Optimistic entry outcomes.
const (
	OutcomeAdded     = "added"
	OutcomeDuplicate = "duplicate"
	OutcomeConfirmed = "confirmed"
	OutcomeExpired   = "expired"
)

// Metrics holds the Prometheus collectors of the daemon on a private
// registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pollTicks    *prometheus.CounterVec
	pollSkipped  prometheus.Counter
	pollFetch    prometheus.Histogram
	pollEndBlock prometheus.Gauge
	storeWrites  *prometheus.CounterVec
	optimistic   *prometheus.CounterVec
	writerQueue  prometheus.Gauge
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Completed poll ticks by result.",
		}, []string{"result"}),
		pollSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_skipped_total",
			Help:      "Ticks suppressed because a fetch was still in flight.",
		}),
		pollFetch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_fetch_seconds",
			Help:      "Remote snapshot fetch latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		pollEndBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_end_block",
			Help:      "End block of the last accepted snapshot.",
		}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Event cache writes by record kind and result.",
		}, []string{"kind", "result"}),
		optimistic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_total",
			Help:      "Optimistic chat entries by outcome.",
		}, []string{"outcome"}),
		writerQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "writer_queue_depth",
			Help:      "Batches waiting to be persisted.",
		}),
	}
	reg.MustRegister(
		m.pollTicks, m.pollSkipped, m.pollFetch, m.pollEndBlock,
		m.storeWrites, m.optimistic, m.writerQueue,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the private registry (for tests).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// PollTick counts one finished tick.
func (m *Metrics) PollTick(result string, fetch time.Duration) {
	if m == nil {
		return
	}
	m.pollTicks.WithLabelValues(result).Inc()
	if fetch > 0 {
		m.pollFetch.Observe(fetch.Seconds())
	}
}

// PollSkipped counts one suppressed tick.
func (m *Metrics) PollSkipped() {
	if m == nil {
		return
	}
	m.pollSkipped.Inc()
}

// PollEndBlock records the newest accepted end block.
func (m *Metrics) PollEndBlock(block uint64) {
	if m == nil {
		return
	}
	m.pollEndBlock.Set(float64(block))
}

// StoreWrite counts one cache write of kind ("event", "chat", "character").
func (m *Metrics) StoreWrite(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeWrites.WithLabelValues(kind, result).Inc()
}

// Optimistic counts one optimistic entry outcome.
func (m *Metrics) Optimistic(outcome string) {
	if m == nil {
		return
	}
	m.optimistic.WithLabelValues(outcome).Inc()
}

// WriterQueue records the persistence queue depth.
func (m *Metrics) WriterQueue(depth int) {
	if m == nil {
		return
	}
	m.writerQueue.Set(float64(depth))
}
