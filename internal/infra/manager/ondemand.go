package manager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/telemetry"
	"mcpchat/internal/infra/telemetry/diagnostics"
)

// OnDemandManager spawns a fresh provider process for every operation and
// disposes it as soon as the operation completes. Between operations no
// provider process is running, regardless of how the previous operation
// ended.
type OnDemandManager struct {
	specs   []domain.ProviderSpec
	factory clientFactory
	logger  *zap.Logger
	probe   diagnostics.Probe
	metrics domain.Metrics

	callTimeout time.Duration
	concurrency int
}

// NewOnDemand builds an on-demand manager over specs. Registration order is
// preserved: aggregation output and bare-name call routing follow it.
func NewOnDemand(specs []domain.ProviderSpec, opts Options) *OnDemandManager {
	opts.normalize()
	return &OnDemandManager{
		specs:       specs,
		factory:     opts.factory,
		logger:      opts.Logger.Named("manager"),
		probe:       opts.Probe,
		metrics:     opts.Metrics,
		callTimeout: opts.CallTimeout,
		concurrency: opts.Concurrency,
	}
}

// AvailableTools spawns every provider, collects its catalog and disposes
// it again. Best effort: a provider that fails to spawn or answer is
// skipped and logged, never aborting the whole aggregation.
func (m *OnDemandManager) AvailableTools(ctx context.Context) []domain.ToolDescriptor {
	started := time.Now()
	results, failures := fanOut(ctx, m.specs, m.concurrency, func(ctx context.Context, spec domain.ProviderSpec) ([]domain.ToolDescriptor, error) {
		return withTransient(ctx, m, spec, func(ctx context.Context, client toolClient) ([]domain.ToolDescriptor, error) {
			return client.ListTools(ctx)
		})
	}, m.logger)

	flat := flatten(results)
	m.metrics.ObserveAggregation(time.Since(started), len(m.specs), failures)
	m.logger.Debug("tool aggregation complete",
		telemetry.EventField(telemetry.EventAggregation),
		zap.Int("tools", len(flat)),
		zap.Int("failures", failures),
		telemetry.DurationField(time.Since(started)),
	)
	m.probe.Record(diagnostics.Event{
		Category: diagnostics.CategoryManager,
		Message:  "tool aggregation",
		Payload: map[string]string{
			"tools":    itoa(len(flat)),
			"failures": itoa(failures),
		},
	})
	return flat
}

// AvailableResources mirrors AvailableTools for addressable resources.
func (m *OnDemandManager) AvailableResources(ctx context.Context) []domain.ResourceDescriptor {
	results, _ := fanOut(ctx, m.specs, m.concurrency, func(ctx context.Context, spec domain.ProviderSpec) ([]domain.ResourceDescriptor, error) {
		return withTransient(ctx, m, spec, func(ctx context.Context, client toolClient) ([]domain.ResourceDescriptor, error) {
			return client.ListResources(ctx)
		})
	}, m.logger)
	return flatten(results)
}

// CallTool spawns candidate providers in registration order, calls the
// tool on each one that claims it and disposes the process again. A
// claimed call that fails does not end the search: the failure is logged
// and the remaining candidates are tried, so the first successful result
// wins. Only when every claimant failed is the last error surfaced; a
// name no provider claims yields (nil, nil).
func (m *OnDemandManager) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*domain.ToolResult, error) {
	if timeout <= 0 {
		timeout = m.callTimeout
	}

	providerName, toolName, qualified := splitQualified(name)
	candidates := m.specs
	if qualified {
		candidates = nil
		for _, spec := range m.specs {
			if spec.Name == providerName {
				candidates = []domain.ProviderSpec{spec}
				break
			}
		}
	} else {
		toolName = name
	}

	var lastErr error
	for _, spec := range candidates {
		result, claimed, err := m.callOn(ctx, spec, toolName, args, timeout)
		if !claimed {
			continue
		}
		if err != nil {
			m.logger.Warn("tool call failed, trying next candidate",
				telemetry.ProviderField(spec.Name),
				telemetry.ToolField(toolName),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		return result, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

// callOn runs one connect→probe→call→dispose cycle against a single
// provider. claimed reports whether the provider owns the tool; an
// unreachable provider does not claim anything.
func (m *OnDemandManager) callOn(ctx context.Context, spec domain.ProviderSpec, tool string, args map[string]any, timeout time.Duration) (result *domain.ToolResult, claimed bool, err error) {
	guardErr := guard(m.logger, spec.Name, func() error {
		client := m.factory(spec)
		defer client.Dispose(ctx)

		if connErr := client.Connect(ctx); connErr != nil {
			m.logger.Warn("provider unavailable for call",
				telemetry.ProviderField(spec.Name),
				telemetry.ToolField(tool),
				zap.Error(connErr),
			)
			return nil
		}
		tools, listErr := client.ListTools(ctx)
		if listErr != nil {
			m.logger.Warn("tool discovery failed during call",
				telemetry.ProviderField(spec.Name),
				zap.Error(listErr),
			)
			return nil
		}
		if !hasTool(tools, tool) {
			return nil
		}
		claimed = true
		result, err = client.CallTool(ctx, tool, args, timeout)
		return nil
	})
	if guardErr != nil {
		if claimed {
			return nil, true, guardErr
		}
		return nil, false, nil
	}
	return result, claimed, err
}

// ProviderStatus reports every registered provider as available. An
// on-demand provider has no standing process whose state could go stale,
// so it is never "down"; it simply carries no PID between operations.
func (m *OnDemandManager) ProviderStatus() map[string]domain.ProviderStatus {
	statuses := make(map[string]domain.ProviderStatus, len(m.specs))
	for _, spec := range m.specs {
		statuses[spec.Name] = domain.ProviderStatus{
			Running:    true,
			Connected:  true,
			Activation: spec.Activation,
		}
	}
	return statuses
}

// Shutdown is a no-op: on-demand operations never leave a process behind.
func (m *OnDemandManager) Shutdown(ctx context.Context) error {
	return nil
}

// withTransient runs one operation inside a transient client lifecycle.
func withTransient[T any](ctx context.Context, m *OnDemandManager, spec domain.ProviderSpec, op func(context.Context, toolClient) ([]T, error)) ([]T, error) {
	client := m.factory(spec)
	defer client.Dispose(ctx)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return op(ctx, client)
}

var _ domain.ToolManager = (*OnDemandManager)(nil)
