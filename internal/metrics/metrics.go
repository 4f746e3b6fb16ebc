// Package metrics exposes Prometheus metrics for exports and reservations.
//
// Metrics live in a private registry rather than the global default one,
// so tests and multiple servers in one process do not collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "formexport"

// Export modes.
const (
	ModeDirect      = "direct"
	ModeReservation = "reservation"
)

// Reservation events.
const (
	ReservationCreated  = "created"
	ReservationReused   = "reused"
	ReservationRearmed  = "rearmed"
	ReservationReady    = "ready"
	ReservationFailed   = "failed"
	ReservationReleased = "released"
)

// Metrics holds the collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	exports      *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	bytes        *prometheus.CounterVec
	reservations *prometheus.CounterVec
	inFlight     prometheus.Gauge
}

// New registers all collectors, including the Go runtime and process
// collectors, in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Exports produced, by mode, format, template and outcome.",
		}, []string{"mode", "format", "template", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Time spent producing an export.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"mode", "format"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_bytes_total",
			Help:      "Bytes of export output produced.",
		}, []string{"format"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation lifecycle transitions.",
		}, []string{"event"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fulfillments_in_flight",
			Help:      "Background fulfillments currently running.",
		}),
	}

	reg.MustRegister(
		m.exports,
		m.duration,
		m.bytes,
		m.reservations,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveExport records one finished export attempt.
func (m *Metrics) ObserveExport(mode, format, template string, took time.Duration, size int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.exports.WithLabelValues(mode, format, template, outcome).Inc()
	m.duration.WithLabelValues(mode, format).Observe(took.Seconds())
	if err == nil {
		m.bytes.WithLabelValues(format).Add(float64(size))
	}
}

// Reservation counts a reservation lifecycle event.
func (m *Metrics) Reservation(event string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(event).Inc()
}

// FulfillmentStarted increments the in-flight gauge and returns the
// matching decrement.
func (m *Metrics) FulfillmentStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
