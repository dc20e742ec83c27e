package telemetry

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	kvErr "github.com/sajjad-MoBe/kvlog/internal/errors"
	"github.com/sajjad-MoBe/kvlog/internal/storage"
)

// Metrics holds all Prometheus metrics for one store
type Metrics struct {
	registry *prometheus.Registry

	// Operation metrics
	operationDuration *prometheus.HistogramVec
	operationTotal    *prometheus.CounterVec
	operationErrors   *prometheus.CounterVec

	// Storage metrics
	storageKeys  prometheus.Gauge
	storageSize  prometheus.Gauge
	logSize      prometheus.Gauge
	tornBytes    prometheus.Gauge
	replayedRecs prometheus.Gauge
}

// NewMetrics creates a metrics instance on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kvlog_operation_duration_seconds",
				Help:    "Duration of storage operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvlog_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "result"},
		),
		operationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvlog_operation_errors_total",
				Help: "Total number of storage operation errors",
			},
			[]string{"operation", "error_type"},
		),

		storageKeys: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kvlog_keys",
				Help: "Number of live keys",
			},
		),
		storageSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kvlog_live_bytes",
				Help: "Total size of live keys and values in bytes",
			},
		),
		logSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kvlog_log_size_bytes",
				Help: "Size of the log file in bytes",
			},
		),
		tornBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kvlog_torn_tail_bytes",
				Help: "Bytes of an incomplete trailing record dropped at open",
			},
		),
		replayedRecs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kvlog_replayed_records",
				Help: "Records replayed from the log at open",
			},
		),
	}
}

// RecordStorageMetrics records one storage operation
func (m *Metrics) RecordStorageMetrics(operation string, duration time.Duration, err error) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.operationTotal.WithLabelValues(operation, "error").Inc()
		m.operationErrors.WithLabelValues(operation, errorLabel(err)).Inc()
		return
	}
	m.operationTotal.WithLabelValues(operation, "ok").Inc()
}

// UpdateStorageMetrics copies the store's counters into the gauges
func (m *Metrics) UpdateStorageMetrics(sm *storage.StorageMetrics) {
	m.storageKeys.Set(float64(sm.TotalKeys))
	m.storageSize.Set(float64(sm.LiveBytes))
	m.logSize.Set(float64(sm.LogSize))
	m.tornBytes.Set(float64(sm.TornBytes))
	m.replayedRecs.Set(float64(sm.ReplayedRecords))
}

// WriteText writes every metric in the Prometheus text exposition format
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func errorLabel(err error) string {
	if t := kvErr.TypeOf(err); t != "" {
		return string(t)
	}
	return "UNKNOWN"
}
