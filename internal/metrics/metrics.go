// Package metrics exposes Prometheus instrumentation for engine and HTTP
// operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every counter/histogram the engine and HTTP layer record
// against, registered once per process.
type Metrics struct {
	ObjectWrites   *prometheus.CounterVec
	ObjectReads    *prometheus.CounterVec
	WriteLatency   *prometheus.HistogramVec
	ValidationFail *prometheus.CounterVec
	BusDeliveries  *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPLatency    *prometheus.HistogramVec
}

// New registers and returns the metric set against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ObjectWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "elementstore_object_writes_total",
			Help: "Total object create/update operations, by class and outcome.",
		}, []string{"class_id", "outcome"}),
		ObjectReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "elementstore_object_reads_total",
			Help: "Total object get/query operations, by class.",
		}, []string{"class_id"}),
		WriteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "elementstore_object_write_duration_seconds",
			Help:    "Latency of SetObject calls, by class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"class_id"}),
		ValidationFail: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "elementstore_validation_failures_total",
			Help: "Total validate_and_build failures, by class and property.",
		}, []string{"class_id", "property"}),
		BusDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "elementstore_bus_deliveries_total",
			Help: "Total fan-out broadcast attempts, by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "elementstore_http_requests_total",
			Help: "Total HTTP requests, by route and status.",
		}, []string{"route", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "elementstore_http_request_duration_seconds",
			Help:    "HTTP request latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveWrite records a SetObject call's outcome and duration.
func (m *Metrics) ObserveWrite(classID, outcome string, start time.Time) {
	m.ObjectWrites.WithLabelValues(classID, outcome).Inc()
	m.WriteLatency.WithLabelValues(classID).Observe(time.Since(start).Seconds())
}
