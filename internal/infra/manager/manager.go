package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/process"
	"mcpchat/internal/infra/provider"
	"mcpchat/internal/infra/telemetry"
	"mcpchat/internal/infra/telemetry/diagnostics"
)

// toolClient is the slice of provider.Client the managers depend on.
type toolClient interface {
	Name() string
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]domain.ToolDescriptor, error)
	ListResources(ctx context.Context) ([]domain.ResourceDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*domain.ToolResult, error)
	Dispose(ctx context.Context)
	Status() domain.ProviderStatus
	Ping() bool
}

type clientFactory func(spec domain.ProviderSpec) toolClient

// Options configures a manager.
type Options struct {
	Launcher         *process.Launcher
	Logger           *zap.Logger
	Probe            diagnostics.Probe
	Metrics          domain.Metrics
	CallTimeout      time.Duration
	HandshakeTimeout time.Duration
	TerminateGrace   time.Duration
	Concurrency      int
	PingInterval     time.Duration

	factory clientFactory
}

func (o *Options) normalize() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Probe == nil {
		o.Probe = diagnostics.NoopProbe{}
	}
	if o.Metrics == nil {
		o.Metrics = telemetry.NewNoopMetrics()
	}
	if o.Concurrency <= 0 {
		o.Concurrency = domain.DefaultAggregationConcurrency
	}
	if o.PingInterval <= 0 {
		o.PingInterval = domain.DefaultPingIntervalSeconds * time.Second
	}
	if o.factory == nil {
		launcher := o.Launcher
		o.factory = func(spec domain.ProviderSpec) toolClient {
			return provider.NewClient(spec, provider.Options{
				Launcher:         provider.NewProcessLauncher(launcher),
				Logger:           o.Logger,
				Probe:            o.Probe,
				Metrics:          o.Metrics,
				HandshakeTimeout: o.HandshakeTimeout,
				TerminateGrace:   o.TerminateGrace,
			})
		}
	}
}

// splitQualified splits a "provider:tool" name. The bare form returns
// ok=false.
func splitQualified(name string) (providerName, toolName string, ok bool) {
	idx := strings.Index(name, ":")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

func hasTool(tools []domain.ToolDescriptor, name string) bool {
	for _, tool := range tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

// guard converts a provider-local panic into an error at the manager
// boundary.
func guard(logger *zap.Logger, providerName string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider %s panicked: %v", providerName, r)
			logger.Error("provider panic recovered",
				telemetry.ProviderField(providerName),
				zap.Any("panic", r),
			)
		}
	}()
	return fn()
}
