package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mcpchat/internal/domain"
)

type PrometheusMetrics struct {
	spawnDuration       *prometheus.HistogramVec
	toolCallDuration    *prometheus.HistogramVec
	aggregationDuration prometheus.Histogram
	aggregationFailures prometheus.Counter
	modelLatency        *prometheus.HistogramVec
	modelTokens         *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		spawnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpchat_provider_spawn_duration_seconds",
				Help:    "Duration of provider process spawn attempts in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"provider", "status"},
		),
		toolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpchat_tool_call_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "tool", "status"},
		),
		aggregationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcpchat_catalog_aggregation_duration_seconds",
				Help:    "Duration of full catalog aggregation sweeps in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		aggregationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mcpchat_catalog_aggregation_provider_failures_total",
				Help: "Total number of providers skipped during aggregation",
			},
		),
		modelLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpchat_model_latency_seconds",
				Help:    "Latency of language model calls in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"llm_provider", "model"},
		),
		modelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpchat_model_tokens_total",
				Help: "Total tokens consumed by language model calls",
			},
			[]string{"llm_provider", "model"},
		),
	}
}

func (m *PrometheusMetrics) ObserveSpawn(provider string, d time.Duration, err error) {
	m.spawnDuration.WithLabelValues(provider, statusLabel(err)).Observe(d.Seconds())
}

func (m *PrometheusMetrics) ObserveToolCall(provider, tool string, d time.Duration, err error) {
	m.toolCallDuration.WithLabelValues(provider, tool, statusLabel(err)).Observe(d.Seconds())
}

func (m *PrometheusMetrics) ObserveAggregation(d time.Duration, _, failures int) {
	m.aggregationDuration.Observe(d.Seconds())
	if failures > 0 {
		m.aggregationFailures.Add(float64(failures))
	}
}

func (m *PrometheusMetrics) ObserveModelLatency(provider, model string, d time.Duration) {
	m.modelLatency.WithLabelValues(provider, model).Observe(d.Seconds())
}

func (m *PrometheusMetrics) ObserveModelTokens(provider, model string, tokens int) {
	if tokens <= 0 {
		return
	}
	m.modelTokens.WithLabelValues(provider, model).Add(float64(tokens))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
