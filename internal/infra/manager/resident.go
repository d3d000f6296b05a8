package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/telemetry"
	"mcpchat/internal/infra/telemetry/diagnostics"
)

// ResidentManager keeps one long-lived client per provider. Start connects
// them all; a background monitor refreshes each provider's catalog on an
// interval and evicts providers whose session has died. Evicted providers
// stay registered and show up in status with their last error.
type ResidentManager struct {
	specs   []domain.ProviderSpec
	factory clientFactory
	logger  *zap.Logger
	probe   diagnostics.Probe
	metrics domain.Metrics

	callTimeout  time.Duration
	concurrency  int
	pingInterval time.Duration

	mu       sync.Mutex
	clients  map[string]toolClient
	catalog  []domain.ToolDescriptor
	lastErrs map[string]string

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewResident builds a resident manager over specs. Call Start before use.
func NewResident(specs []domain.ProviderSpec, opts Options) *ResidentManager {
	opts.normalize()
	return &ResidentManager{
		specs:        specs,
		factory:      opts.factory,
		logger:       opts.Logger.Named("manager"),
		probe:        opts.Probe,
		metrics:      opts.Metrics,
		callTimeout:  opts.CallTimeout,
		concurrency:  opts.Concurrency,
		pingInterval: opts.PingInterval,
		clients:      make(map[string]toolClient),
		lastErrs:     make(map[string]string),
		stop:         make(chan struct{}),
	}
}

// Start connects every provider and launches the liveness monitor. A
// provider that fails to connect is recorded and skipped; Start only
// errors when not a single provider came up and at least one was asked.
func (m *ResidentManager) Start(ctx context.Context) error {
	type outcome struct {
		client toolClient
		err    error
	}
	results, _ := fanOut(ctx, m.specs, m.concurrency, func(ctx context.Context, spec domain.ProviderSpec) ([]outcome, error) {
		client := m.factory(spec)
		if err := client.Connect(ctx); err != nil {
			client.Dispose(ctx)
			return []outcome{{err: err}}, nil
		}
		return []outcome{{client: client}}, nil
	}, m.logger)

	connected := 0
	m.mu.Lock()
	for i, spec := range m.specs {
		if len(results[i]) == 0 {
			m.lastErrs[spec.Name] = "connect panicked"
			continue
		}
		out := results[i][0]
		if out.err != nil {
			m.lastErrs[spec.Name] = out.err.Error()
			continue
		}
		m.clients[spec.Name] = out.client
		connected++
	}
	m.mu.Unlock()

	if len(m.specs) > 0 && connected == 0 {
		return domain.E(domain.CodeUnavailable, "manager.start", "no provider reachable", nil)
	}

	m.refreshCatalog(ctx)
	m.wg.Add(1)
	go m.monitor()
	return nil
}

func (m *ResidentManager) monitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.pingInterval)
			m.refreshCatalog(ctx)
			cancel()
		}
	}
}

// refreshCatalog re-lists every live provider's tools, rebuilding the
// routing catalog. A provider whose session is gone is evicted.
func (m *ResidentManager) refreshCatalog(ctx context.Context) {
	started := time.Now()
	clients := m.liveClients()
	results, failures := fanOut(ctx, m.specsFor(clients), m.concurrency, func(ctx context.Context, spec domain.ProviderSpec) ([]domain.ToolDescriptor, error) {
		client := clients[spec.Name]
		tools, err := client.ListTools(ctx)
		if err != nil {
			if sessionGone(err) {
				m.evict(spec.Name, err)
			}
			return nil, err
		}
		return tools, nil
	}, m.logger)

	catalog := flatten(results)
	m.mu.Lock()
	m.catalog = catalog
	m.mu.Unlock()
	m.metrics.ObserveAggregation(time.Since(started), len(clients), failures)
}

func (m *ResidentManager) evict(name string, cause error) {
	m.mu.Lock()
	client := m.clients[name]
	delete(m.clients, name)
	m.lastErrs[name] = cause.Error()
	m.mu.Unlock()
	if client == nil {
		return
	}

	m.logger.Warn("resident provider evicted",
		telemetry.EventField(telemetry.EventPingFailure),
		telemetry.ProviderField(name),
		zap.Error(cause),
	)
	m.probe.Record(diagnostics.Event{
		Category: diagnostics.CategoryManager,
		Provider: name,
		Message:  "provider evicted",
		Error:    cause.Error(),
	})
	disposeCtx, cancel := context.WithTimeout(context.Background(), domain.DefaultTerminateGraceSeconds*time.Second)
	defer cancel()
	client.Dispose(disposeCtx)
}

// AvailableTools refreshes and returns the aggregated catalog.
func (m *ResidentManager) AvailableTools(ctx context.Context) []domain.ToolDescriptor {
	m.refreshCatalog(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ToolDescriptor, len(m.catalog))
	copy(out, m.catalog)
	return out
}

// AvailableResources aggregates resources across live providers.
func (m *ResidentManager) AvailableResources(ctx context.Context) []domain.ResourceDescriptor {
	clients := m.liveClients()
	results, _ := fanOut(ctx, m.specsFor(clients), m.concurrency, func(ctx context.Context, spec domain.ProviderSpec) ([]domain.ResourceDescriptor, error) {
		return clients[spec.Name].ListResources(ctx)
	}, m.logger)
	return flatten(results)
}

// CallTool routes through the cached catalog first, then falls back to
// asking live providers in registration order. Unknown tools yield
// (nil, nil).
func (m *ResidentManager) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*domain.ToolResult, error) {
	if timeout <= 0 {
		timeout = m.callTimeout
	}

	providerName, toolName, qualified := splitQualified(name)
	if qualified {
		client := m.clientFor(providerName)
		if client == nil {
			return nil, nil
		}
		if !m.cachedHasTool(providerName, toolName) {
			tools, err := m.guardedList(ctx, client, providerName)
			if err != nil || !hasTool(tools, toolName) {
				return nil, nil
			}
		}
		return m.guardedCall(ctx, client, providerName, toolName, args, timeout)
	}

	// Cached route first.
	if owner := m.routeFor(name); owner != "" {
		if client := m.clientFor(owner); client != nil {
			return m.guardedCall(ctx, client, owner, name, args, timeout)
		}
	}

	// Fall back to live discovery in registration order.
	for _, spec := range m.specs {
		client := m.clientFor(spec.Name)
		if client == nil {
			continue
		}
		tools, err := m.guardedList(ctx, client, spec.Name)
		if err != nil || !hasTool(tools, name) {
			continue
		}
		return m.guardedCall(ctx, client, spec.Name, name, args, timeout)
	}
	return nil, nil
}

// ProviderStatus reports every registered provider, including evicted and
// never-connected ones.
func (m *ResidentManager) ProviderStatus() map[string]domain.ProviderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	statuses := make(map[string]domain.ProviderStatus, len(m.specs))
	for _, spec := range m.specs {
		if client, ok := m.clients[spec.Name]; ok {
			statuses[spec.Name] = client.Status()
			continue
		}
		statuses[spec.Name] = domain.ProviderStatus{
			Activation: spec.Activation,
			LastError:  m.lastErrs[spec.Name],
		}
	}
	return statuses
}

// Shutdown stops the monitor and disposes every live client. Disposal
// errors are logged inside the client; the sweep never stops early.
func (m *ResidentManager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]toolClient)
	m.mu.Unlock()

	for name, client := range clients {
		client.Dispose(ctx)
		m.logger.Debug("resident provider disposed",
			telemetry.EventField(telemetry.EventDispose),
			telemetry.ProviderField(name),
		)
	}
	return nil
}

func (m *ResidentManager) liveClients() map[string]toolClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]toolClient, len(m.clients))
	for name, client := range m.clients {
		out[name] = client
	}
	return out
}

func (m *ResidentManager) specsFor(clients map[string]toolClient) []domain.ProviderSpec {
	specs := make([]domain.ProviderSpec, 0, len(clients))
	for _, spec := range m.specs {
		if _, ok := clients[spec.Name]; ok {
			specs = append(specs, spec)
		}
	}
	return specs
}

func (m *ResidentManager) clientFor(name string) toolClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[name]
}

func (m *ResidentManager) routeFor(tool string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, desc := range m.catalog {
		if desc.Name == tool {
			return desc.Provider
		}
	}
	return ""
}

func (m *ResidentManager) cachedHasTool(providerName, tool string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, desc := range m.catalog {
		if desc.Provider == providerName && desc.Name == tool {
			return true
		}
	}
	return false
}

func (m *ResidentManager) guardedList(ctx context.Context, client toolClient, name string) (tools []domain.ToolDescriptor, err error) {
	guardErr := guard(m.logger, name, func() error {
		var listErr error
		tools, listErr = client.ListTools(ctx)
		return listErr
	})
	if guardErr != nil {
		if sessionGone(guardErr) {
			m.evict(name, guardErr)
		}
		return nil, guardErr
	}
	return tools, nil
}

func (m *ResidentManager) guardedCall(ctx context.Context, client toolClient, providerName, tool string, args map[string]any, timeout time.Duration) (result *domain.ToolResult, err error) {
	guardErr := guard(m.logger, providerName, func() error {
		var callErr error
		result, callErr = client.CallTool(ctx, tool, args, timeout)
		return callErr
	})
	if guardErr != nil {
		if sessionGone(guardErr) {
			m.evict(providerName, guardErr)
		}
		return nil, guardErr
	}
	return result, nil
}

func sessionGone(err error) bool {
	return errors.Is(err, domain.ErrConnectionClosed) || errors.Is(err, domain.ErrNotConnected)
}

var _ domain.ToolManager = (*ResidentManager)(nil)
