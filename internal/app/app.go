package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/agent"
	"mcpchat/internal/infra/catalog"
	"mcpchat/internal/infra/llm"
	"mcpchat/internal/infra/manager"
	"mcpchat/internal/infra/process"
	"mcpchat/internal/infra/telemetry"
	"mcpchat/internal/infra/telemetry/diagnostics"
)

// App is the composition root: it loads configuration and assembles the
// catalog, managers, model and agent into a runnable system.
type App struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		logger: logger.With(zap.String(telemetry.FieldLogSource, telemetry.LogSourceCore)),
	}
}

// Runtime is one assembled system. Close releases every provider process
// it may have started.
type Runtime struct {
	Agent   *agent.Agent
	Manager manager.Manager
	Config  domain.Config
	Hub     *diagnostics.Hub

	logger *zap.Logger
}

// LoadConfig reads and validates the configuration file.
func (a *App) LoadConfig(ctx context.Context, path string) (domain.Config, error) {
	return catalog.NewLoader(a.logger).Load(ctx, path)
}

// Build assembles a Runtime from cfg. Resident providers (if any) are
// connected before Build returns; on-demand ones spawn lazily per
// operation. The observability listener, when configured, serves until
// ctx is canceled.
func (a *App) Build(ctx context.Context, cfg domain.Config) (*Runtime, error) {
	mgr, hub, metrics, err := a.assemble(ctx, cfg)
	if err != nil {
		return nil, err
	}

	generator, err := llm.New(ctx, cfg.LLM, llm.Options{
		Logger:  a.logger,
		Probe:   hub,
		Metrics: metrics,
	})
	if err != nil {
		shutdownQuietly(ctx, mgr, a.logger)
		return nil, fmt.Errorf("build language model: %w", err)
	}

	orchestrator := agent.New(generator, mgr, agent.Options{
		Logger:      a.logger,
		Probe:       hub,
		CallTimeout: cfg.Runtime.CallTimeout(),
	})

	return &Runtime{
		Agent:   orchestrator,
		Manager: mgr,
		Config:  cfg,
		Hub:     hub,
		logger:  a.logger,
	}, nil
}

// assemble wires everything below the model: diagnostics, metrics, the
// process launcher and the provider managers. Resident providers are
// connected before it returns.
func (a *App) assemble(ctx context.Context, cfg domain.Config) (manager.Manager, *diagnostics.Hub, domain.Metrics, error) {
	hub := diagnostics.NewHub(domain.DefaultDebugEventCapacity)

	var metrics domain.Metrics = telemetry.NewNoopMetrics()
	if addr := cfg.Runtime.Observability.ListenAddress; addr != "" {
		registry := prometheus.NewRegistry()
		metrics = telemetry.NewPrometheusMetrics(registry)
		go func() {
			err := telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
				Addr:     addr,
				Registry: registry,
				Hub:      hub,
			}, a.logger)
			if err != nil {
				a.logger.Error("observability server failed", zap.Error(err))
			}
		}()
	}

	launcher := process.NewLauncher(process.LauncherOptions{
		Logger: a.logger,
		Probe:  hub,
	})

	mgr := manager.New(cfg.Providers, manager.Options{
		Launcher:         launcher,
		Logger:           a.logger,
		Probe:            hub,
		Metrics:          metrics,
		CallTimeout:      cfg.Runtime.CallTimeout(),
		HandshakeTimeout: cfg.Runtime.HandshakeTimeout(),
		TerminateGrace:   cfg.Runtime.TerminateGrace(),
		Concurrency:      cfg.Runtime.AggregationConcurrency,
		PingInterval:     cfg.Runtime.PingInterval(),
	})
	if err := mgr.Start(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("start providers: %w", err)
	}

	return mgr, hub, metrics, nil
}

// Close disposes resident providers.
func (r *Runtime) Close(ctx context.Context) {
	shutdownQuietly(ctx, r.Manager, r.logger)
}

func shutdownQuietly(ctx context.Context, mgr domain.ToolManager, logger *zap.Logger) {
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Warn("provider shutdown failed", zap.Error(err))
	}
}
