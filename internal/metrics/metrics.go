// Package metrics provides Prometheus instrumentation for the prover
// service. Each Metrics value owns its registry so independent services
// (and tests) never collide on registration.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "poam"

// Outcome labels shared by the operation counters.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	// Operation metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Rejections        *prometheus.CounterVec
	Verifications     *prometheus.CounterVec
	ChainLength       prometheus.Histogram

	// Pool metrics
	PoolInFlight prometheus.Gauge
	PoolDropped  prometheus.Gauge

	// Store metrics
	RoundsRecorded prometheus.Counter
	StoreErrors    prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers the service metrics on a fresh registry,
// together with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Prove, compose and verify calls by outcome",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Wall time of prove, compose and verify calls",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"operation"},
		),
		Rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conformance_rejections_total",
				Help:      "Rounds rejected by a conformance rule, by violation code",
			},
			[]string{"code"},
		),
		Verifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Verified receipts by validity",
			},
			[]string{"valid"},
		),
		ChainLength: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chain_length",
				Help:      "Round number of successfully proven rounds",
				Buckets:   prometheus.LinearBuckets(1, 5, 10),
			},
		),

		PoolInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "in_flight",
			Help:      "Engine calls currently holding a worker slot",
		}),
		PoolDropped: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "dropped",
			Help:      "Engine results discarded after the caller gave up",
		}),

		RoundsRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rounds_recorded_total",
			Help:      "Rounds appended to the audit store",
		}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Audit store writes that failed",
		}),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation records one prove/compose/verify call. A nil receiver
// is a no-op so callers can run without metrics.
func (m *Metrics) ObserveOperation(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveRejection records a conformance rejection.
func (m *Metrics) ObserveRejection(code string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(code).Inc()
}

// ObserveVerification records a verification result.
func (m *Metrics) ObserveVerification(valid bool) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(strconv.FormatBool(valid)).Inc()
}

// ObserveRound records a proven round and whether it reached the store.
func (m *Metrics) ObserveRound(round uint64, recorded bool, storeErr error) {
	if m == nil {
		return
	}
	m.ChainLength.Observe(float64(round))
	if recorded {
		m.RoundsRecorded.Inc()
	}
	if storeErr != nil {
		m.StoreErrors.Inc()
	}
}

// ObserveStoreError counts a failed audit store write.
func (m *Metrics) ObserveStoreError() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}

// SetPool publishes worker pool gauges.
func (m *Metrics) SetPool(inFlight, dropped int64) {
	if m == nil {
		return
	}
	m.PoolInFlight.Set(float64(inFlight))
	m.PoolDropped.Set(float64(dropped))
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
