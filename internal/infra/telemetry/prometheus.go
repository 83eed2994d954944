package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mcphub/internal/domain"
)

type PrometheusMetrics struct {
	workerStarts   *prometheus.CounterVec
	workerStops    *prometheus.CounterVec
	workerFailures *prometheus.CounterVec
	activeWorkers  *prometheus.GaugeVec
	callDuration   *prometheus.HistogramVec
	catalogSize    prometheus.Gauge
	tenantContexts prometheus.Gauge
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		workerStarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcphub_worker_starts_total",
				Help: "Total number of worker start attempts",
			},
			[]string{"tenant", "status"},
		),
		workerStops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcphub_worker_stops_total",
				Help: "Total number of worker stops",
			},
			[]string{"tenant", "status"},
		),
		workerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcphub_worker_failures_total",
				Help: "Total number of worker failures detected",
			},
			[]string{"tenant"},
		),
		activeWorkers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mcphub_active_workers",
				Help: "Current number of running workers",
			},
			[]string{"tenant"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcphub_tool_call_duration_seconds",
				Help:    "Duration of routed tool calls in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tool", "status"},
		),
		catalogSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcphub_catalog_tools",
				Help: "Current number of tools in the router catalog",
			},
		),
		tenantContexts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcphub_tenant_contexts",
				Help: "Current number of live tenant contexts",
			},
		),
	}
}

func statusLabel(err error) string {
	if err != nil {
		return string(domain.CallStatusError)
	}
	return string(domain.CallStatusSuccess)
}

func (m *PrometheusMetrics) ObserveWorkerStart(tenantID string, err error) {
	m.workerStarts.WithLabelValues(tenantID, statusLabel(err)).Inc()
}

func (m *PrometheusMetrics) ObserveWorkerStop(tenantID string, err error) {
	m.workerStops.WithLabelValues(tenantID, statusLabel(err)).Inc()
}

func (m *PrometheusMetrics) ObserveWorkerFailure(tenantID string) {
	m.workerFailures.WithLabelValues(tenantID).Inc()
}

func (m *PrometheusMetrics) SetActiveWorkers(tenantID string, count int) {
	m.activeWorkers.WithLabelValues(tenantID).Set(float64(count))
}

func (m *PrometheusMetrics) ObserveToolCall(publicName string, status domain.CallStatus, elapsed time.Duration) {
	m.callDuration.WithLabelValues(publicName, string(status)).Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) SetCatalogSize(count int) {
	m.catalogSize.Set(float64(count))
}

func (m *PrometheusMetrics) SetTenantContexts(count int) {
	m.tenantContexts.Set(float64(count))
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
