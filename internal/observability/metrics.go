// Package observability holds the Prometheus instruments of the pipeline and
// the HTTP router that exposes them.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for engine calls.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics groups all Prometheus instruments used by the pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	EngineCalls      *prometheus.CounterVec
	EngineLatency    *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	CacheEvictions   prometheus.Counter
	Retries          *prometheus.CounterVec
	Fallbacks        *prometheus.CounterVec
	SegmentStates    *prometheus.CounterVec
	DocumentDuration prometheus.Histogram
	QueueDepth       prometheus.Gauge
}

// NewMetrics registers the instruments on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EngineCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_calls_total",
			Help:      "Engine synthesis calls by engine and outcome.",
		}, []string{"engine", "outcome"}),
		EngineLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_latency_seconds",
			Help:      "Engine synthesis latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"engine"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Cache entries removed by eviction.",
		}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_retries_total",
			Help:      "Retried engine calls by engine.",
		}, []string{"engine"}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_fallbacks_total",
			Help:      "Segments handed to the fallback engine, by primary engine.",
		}, []string{"engine"}),
		SegmentStates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_states_total",
			Help:      "Final segment states.",
		}, []string{"state"}),
		DocumentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_synthesis_seconds",
			Help:      "Wall time to synthesize one document.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_queue_depth",
			Help:      "Jobs waiting for a scheduler worker.",
		}),
	}
}

// ObserveEngineCall records one engine call.
func (m *Metrics) ObserveEngineCall(engine string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}

	m.EngineCalls.WithLabelValues(engine, outcome).Inc()
	m.EngineLatency.WithLabelValues(engine).Observe(elapsed.Seconds())
}

// CacheLookup records a lookup result: "hit", "miss" or "error".
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}

	m.CacheLookups.WithLabelValues(result).Inc()
}

// CacheEvicted records evicted entries.
func (m *Metrics) CacheEvicted(count int) {
	if m == nil {
		return
	}

	m.CacheEvictions.Add(float64(count))
}

// Retry records one retry against engine.
func (m *Metrics) Retry(engine string) {
	if m == nil {
		return
	}

	m.Retries.WithLabelValues(engine).Inc()
}

// Fallback records a segment moving from engine to the fallback.
func (m *Metrics) Fallback(engine string) {
	if m == nil {
		return
	}

	m.Fallbacks.WithLabelValues(engine).Inc()
}

// SegmentFinished records the final state of a segment.
func (m *Metrics) SegmentFinished(state string) {
	if m == nil {
		return
	}

	m.SegmentStates.WithLabelValues(state).Inc()
}

// DocumentFinished records the wall time of a document.
func (m *Metrics) DocumentFinished(elapsed time.Duration) {
	if m == nil {
		return
	}

	m.DocumentDuration.Observe(elapsed.Seconds())
}

// QueueChanged adjusts the scheduler queue depth by delta.
func (m *Metrics) QueueChanged(delta int) {
	if m == nil {
		return
	}

	m.QueueDepth.Add(float64(delta))
}
