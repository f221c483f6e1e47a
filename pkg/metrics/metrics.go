// Package metrics exposes Prometheus instrumentation for the artifact
// coordinator. The Metrics type satisfies the coordinator's Observer
// hook; pass it through artifact.Config.Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/artifactgrid/pkg/artifact"
)

// Metrics tracks artifact operation Prometheus metrics.
//
// All metrics use the artifact_ prefix.
type Metrics struct {
	// OperationsTotal counts coordinator operations by name and status.
	OperationsTotal *prometheus.CounterVec

	// OperationDuration tracks latency distribution per operation.
	OperationDuration *prometheus.HistogramVec

	// BytesTransferred counts payload bytes moved per operation.
	BytesTransferred *prometheus.CounterVec
}

var _ artifact.Observer = (*Metrics)(nil)

// NewMetrics creates artifact metrics registered against reg. Panics if
// registration fails (expected during initialization only).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifact_operations_total",
				Help: "Total artifact operations by name and status",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifact_operation_duration_seconds",
				Help:    "Artifact operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BytesTransferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifact_bytes_transferred_total",
				Help: "Payload bytes moved by operation",
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.BytesTransferred,
	)

	return m
}

// ObserveOperation implements artifact.Observer.
func (m *Metrics) ObserveOperation(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		if kind := artifact.KindOf(err); kind != "" {
			status = string(kind)
		}
	}
	m.OperationsTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveBytes implements artifact.Observer.
func (m *Metrics) ObserveBytes(op string, n int64) {
	if m == nil {
		return
	}
	m.BytesTransferred.WithLabelValues(op).Add(float64(n))
}
