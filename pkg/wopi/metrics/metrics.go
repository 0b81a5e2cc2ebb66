// Package metrics exposes Prometheus collectors for the WOPI request
// pipeline: per-operation request counts and latency, and the live lock
// count, registered against the Registerer passed to New. /metrics
// serves the default Prometheus registry, so they appear there only when
// New was given that registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors wopihost records against. The zero
// value is not usable; construct with New.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	locksHeld       prometheus.GaugeFunc
}

// New registers the WOPI collectors against reg. locksHeld is called
// lazily each time /metrics is scraped.
func New(reg prometheus.Registerer, locksHeld func() float64) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wopihost_requests_total",
			Help: "Total WOPI requests by operation and response status.",
		}, []string{"operation", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wopihost_request_duration_seconds",
			Help:    "WOPI request handling latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	m.locksHeld = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wopihost_locks_held",
		Help: "Number of files currently holding a live lock.",
	}, locksHeld)

	return m
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(operation, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(operation, status).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
