package telemetry

import (
	"time"

	"mcpchat/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveSpawn(_ string, _ time.Duration, _ error) {}

func (n *NoopMetrics) ObserveToolCall(_, _ string, _ time.Duration, _ error) {}

func (n *NoopMetrics) ObserveAggregation(_ time.Duration, _, _ int) {}

func (n *NoopMetrics) ObserveModelLatency(_, _ string, _ time.Duration) {}

func (n *NoopMetrics) ObserveModelTokens(_, _ string, _ int) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
