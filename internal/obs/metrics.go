// Package obs provides Prometheus metrics instrumentation for the acquisition engine.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// CONNECTOR METRICS
// =============================================================================

var (
	connectorSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acqgw_connector_samples_total",
			Help: "Total number of raw samples received per source",
		},
		[]string{"source_id", "driver"},
	)

	connectorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acqgw_connector_errors_total",
			Help: "Total number of connector errors per source",
		},
		[]string{"source_id", "kind"}, // kind: a model.ErrorKind value, e.g. DriverConnectError
	)

	connectorStateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acqgw_connector_state_transitions_total",
			Help: "Total number of connector lifecycle state transitions",
		},
		[]string{"source_id", "from", "to"},
	)

	connectorReconnectDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acqgw_connector_reconnect_delay_seconds",
			Help:    "Backoff delay before a reconnect attempt",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"source_id"},
	)
)

// =============================================================================
// MAPPING METRICS
// =============================================================================

var (
	mappingAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acqgw_mapping_applied_total",
			Help: "Total number of mapping rule applications",
		},
		[]string{"source_id", "status"}, // status: applied, skipped, error
	)

	mappingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acqgw_mapping_duration_seconds",
			Help:    "Mapping rule application duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"source_id"},
	)
)

// =============================================================================
// TRANSPORT + BUFFER METRICS
// =============================================================================

var (
	sinkPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acqgw_sink_publish_total",
			Help: "Total number of publish attempts per sink",
		},
		[]string{"sink", "status"}, // status: ok, retriable, fatal
	)

	sinkPublishDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "acqgw_sink_publish_duration_seconds",
			Help:    "Sink publish duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"sink"},
	)

	bufferDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "acqgw_buffer_depth",
			Help: "Current number of entries held in the data buffer",
		},
		[]string{"role"}, // role: cache, recovery
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordSample records that a raw sample was received from a driver.
func RecordSample(sourceID, driver string) {
	connectorSamplesTotal.WithLabelValues(sourceID, driver).Inc()
}

// RecordConnectorError records a per-connector error by taxonomy kind.
func RecordConnectorError(sourceID, kind string) {
	connectorErrorsTotal.WithLabelValues(sourceID, kind).Inc()
}

// RecordStateTransition records a supervisor lifecycle transition.
func RecordStateTransition(sourceID, from, to string) {
	connectorStateTransitionsTotal.WithLabelValues(sourceID, from, to).Inc()
}

// RecordReconnectDelay records the computed backoff delay before a reconnect attempt.
func RecordReconnectDelay(sourceID string, delaySeconds float64) {
	connectorReconnectDelaySeconds.WithLabelValues(sourceID).Observe(delaySeconds)
}

// RecordMappingApplied records a mapping engine application outcome.
func RecordMappingApplied(sourceID, status string, durationMS float64) {
	mappingAppliedTotal.WithLabelValues(sourceID, status).Inc()
	mappingDurationSeconds.WithLabelValues(sourceID).Observe(durationMS / 1000.0)
}

// RecordSinkPublish records a sink publish attempt outcome.
func RecordSinkPublish(sink, status string, durationMS float64) {
	sinkPublishTotal.WithLabelValues(sink, status).Inc()
	sinkPublishDurationSeconds.WithLabelValues(sink).Observe(durationMS / 1000.0)
}

// SetBufferDepth sets the current gauge value for buffer occupancy by role.
func SetBufferDepth(role string, depth int) {
	bufferDepth.WithLabelValues(role).Set(float64(depth))
}
