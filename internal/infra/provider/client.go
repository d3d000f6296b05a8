package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/process"
	"mcpchat/internal/infra/session"
	"mcpchat/internal/infra/telemetry"
	"mcpchat/internal/infra/telemetry/diagnostics"
)

// Launcher starts a provider process and hands back its byte streams plus
// a handle for supervision.
type Launcher interface {
	Start(ctx context.Context, spec domain.ProviderSpec) (domain.IOStreams, ProcessHandle, error)
}

// ProcessHandle supervises one spawned provider process.
type ProcessHandle interface {
	PID() int
	IsAlive() bool
	Terminate(ctx context.Context, grace time.Duration) error
}

// ToolSession is the protocol surface a connected provider exposes.
type ToolSession interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]domain.ToolDescriptor, error)
	ListResources(ctx context.Context) ([]domain.ResourceDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*domain.ToolResult, error)
	Close()
}

type dialFunc func(ctx context.Context, streams domain.IOStreams, opts session.Options) (ToolSession, error)

// NewProcessLauncher adapts the process launcher to the Launcher interface.
func NewProcessLauncher(l *process.Launcher) Launcher {
	return processLauncher{launcher: l}
}

type processLauncher struct {
	launcher *process.Launcher
}

func (p processLauncher) Start(ctx context.Context, spec domain.ProviderSpec) (domain.IOStreams, ProcessHandle, error) {
	streams, handle, err := p.launcher.Start(ctx, spec)
	if err != nil {
		return domain.IOStreams{}, nil, err
	}
	return streams, handle, nil
}

func sessionDial(ctx context.Context, streams domain.IOStreams, opts session.Options) (ToolSession, error) {
	sess, err := session.Dial(ctx, streams, opts)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Options configures a Client.
type Options struct {
	Launcher         Launcher
	Logger           *zap.Logger
	Probe            diagnostics.Probe
	Metrics          domain.Metrics
	HandshakeTimeout time.Duration
	TerminateGrace   time.Duration

	dial dialFunc
}

// Client binds one provider spec to at most one live process and session.
// It enforces the connection state machine: Connect moves Unconnected
// through Connecting to Ready or Failed, operations require Ready, and
// Dispose is terminal and idempotent. Failed is also terminal: callers
// discard the client and build a new one for the next attempt.
type Client struct {
	spec             domain.ProviderSpec
	launcher         Launcher
	dial             dialFunc
	logger           *zap.Logger
	probe            diagnostics.Probe
	metrics          domain.Metrics
	handshakeTimeout time.Duration
	terminateGrace   time.Duration

	mu      sync.Mutex
	state   domain.ConnState
	handle  ProcessHandle
	sess    ToolSession
	lastErr error

	disposeOnce sync.Once
}

// NewClient builds an unconnected client for spec.
func NewClient(spec domain.ProviderSpec, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	probe := opts.Probe
	if probe == nil {
		probe = diagnostics.NoopProbe{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	handshakeTimeout := opts.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = domain.DefaultHandshakeTimeoutSeconds * time.Second
	}
	terminateGrace := opts.TerminateGrace
	if terminateGrace <= 0 {
		terminateGrace = domain.DefaultTerminateGraceSeconds * time.Second
	}
	dial := opts.dial
	if dial == nil {
		dial = sessionDial
	}
	return &Client{
		spec:             spec,
		launcher:         opts.Launcher,
		dial:             dial,
		logger:           logger.Named("provider").With(telemetry.ProviderField(spec.Name)),
		probe:            probe,
		metrics:          metrics,
		handshakeTimeout: handshakeTimeout,
		terminateGrace:   terminateGrace,
		state:            domain.ConnStateUnconnected,
	}
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.spec.Name }

// State returns the current connection state.
func (c *Client) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status reports the observable state of the client's process and session.
func (c *Client) Status() domain.ProviderStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := domain.ProviderStatus{
		Connected:  c.state == domain.ConnStateReady,
		Activation: c.spec.Activation,
	}
	if c.handle != nil {
		status.Running = c.handle.IsAlive()
		status.PID = c.handle.PID()
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	return status
}

// Connect spawns the provider process, establishes a session and performs
// the handshake. On any failure the process is terminated, no orphan is
// left behind, and the client lands in Failed.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transition(domain.ConnStateConnecting); err != nil {
		return err
	}

	started := time.Now()
	err := c.connect(ctx)
	c.metrics.ObserveSpawn(c.spec.Name, time.Since(started), err)
	if err != nil {
		c.fail(err)
		return domain.Wrap(domain.CodeUnavailable, "provider.connect", err)
	}
	if err := c.transition(domain.ConnStateReady); err != nil {
		// Disposed while connecting; teardown already ran.
		return err
	}
	c.logger.Debug("provider connected",
		telemetry.EventField(telemetry.EventSpawnSuccess),
		telemetry.DurationField(time.Since(started)),
	)
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	streams, handle, err := c.launcher.Start(ctx, c.spec)
	if err != nil {
		return err
	}

	sess, err := c.dial(ctx, streams, session.Options{
		Provider: c.spec.Name,
		Logger:   c.logger,
		Probe:    c.probe,
	})
	if err != nil {
		c.terminateHandle(handle)
		return err
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()
	if err := sess.Initialize(handshakeCtx); err != nil {
		sess.Close()
		c.terminateHandle(handle)
		c.logger.Warn("handshake failed",
			telemetry.EventField(telemetry.EventHandshakeFailure),
			zap.Error(err),
		)
		c.probe.Record(diagnostics.Event{
			Category: diagnostics.CategorySession,
			Provider: c.spec.Name,
			Message:  "handshake failed",
			Error:    err.Error(),
		})
		return err
	}

	c.mu.Lock()
	c.handle = handle
	c.sess = sess
	c.mu.Unlock()
	return nil
}

// ListTools returns the provider's tool catalog with each descriptor tagged
// with this provider's name.
func (c *Client) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	sess, err := c.readySession()
	if err != nil {
		return nil, err
	}
	tools, err := sess.ListTools(ctx)
	if err != nil {
		c.observeFailure(err)
		return nil, err
	}
	for i := range tools {
		tools[i].Provider = c.spec.Name
	}
	return tools, nil
}

// ListResources returns the provider's resource catalog, provider-tagged.
func (c *Client) ListResources(ctx context.Context) ([]domain.ResourceDescriptor, error) {
	sess, err := c.readySession()
	if err != nil {
		return nil, err
	}
	resources, err := sess.ListResources(ctx)
	if err != nil {
		c.observeFailure(err)
		return nil, err
	}
	for i := range resources {
		resources[i].Provider = c.spec.Name
	}
	return resources, nil
}

// CallTool invokes one tool with a per-call deadline. A timeout expires the
// call, not the client: the session stays Ready and the late response is
// discarded by correlation id.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*domain.ToolResult, error) {
	sess, err := c.readySession()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = domain.DefaultCallTimeoutSeconds * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	result, err := sess.CallTool(callCtx, name, args)
	c.metrics.ObserveToolCall(c.spec.Name, name, time.Since(started), err)
	if err != nil {
		c.observeFailure(err)
		c.logger.Warn("tool call failed",
			telemetry.EventField(telemetry.EventCallFailure),
			telemetry.ToolField(name),
			telemetry.DurationField(time.Since(started)),
			zap.Error(err),
		)
		return nil, err
	}
	c.logger.Debug("tool call succeeded",
		telemetry.EventField(telemetry.EventCallSuccess),
		telemetry.ToolField(name),
		telemetry.DurationField(time.Since(started)),
	)
	return result, nil
}

// Ping performs a cheap liveness probe against the provider process.
func (c *Client) Ping() bool {
	c.mu.Lock()
	handle := c.handle
	state := c.state
	c.mu.Unlock()
	return state == domain.ConnStateReady && handle != nil && handle.IsAlive()
}

// Dispose tears the client down: close the session, terminate the process,
// land in Disposed. Safe to call from any state, concurrently, repeatedly;
// teardown errors are logged and swallowed.
func (c *Client) Dispose(ctx context.Context) {
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		sess := c.sess
		handle := c.handle
		c.sess = nil
		c.handle = nil
		c.state = domain.ConnStateDisposed
		c.mu.Unlock()

		if sess != nil {
			sess.Close()
		}
		if handle != nil {
			termCtx, cancel := context.WithTimeout(ctx, c.terminateGrace+time.Second)
			defer cancel()
			if err := handle.Terminate(termCtx, c.terminateGrace); err != nil {
				c.logger.Warn("terminate failed", zap.Error(err))
			}
		}
		c.probe.Record(diagnostics.Event{
			Category: diagnostics.CategorySession,
			Provider: c.spec.Name,
			Message:  "disposed",
		})
		c.logger.Debug("provider disposed", telemetry.EventField(telemetry.EventDispose))
	})
}

func (c *Client) readySession() (ToolSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.ConnStateReady || c.sess == nil {
		return nil, domain.E(domain.CodeFailedPrecond, "provider.session", "", domain.ErrNotConnected)
	}
	return c.sess, nil
}

func (c *Client) transition(next domain.ConnState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CanTransition(next) {
		return domain.E(domain.CodeFailedPrecond, "provider.transition",
			"cannot move from "+string(c.state)+" to "+string(next), nil)
	}
	c.state = next
	return nil
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.state.CanTransition(domain.ConnStateFailed) {
		c.state = domain.ConnStateFailed
	}
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Warn("provider failed",
		telemetry.EventField(telemetry.EventSpawnFailure),
		zap.Error(err),
	)
}

// observeFailure demotes the client to Failed when the session is gone.
// A timeout or remote error leaves the session usable.
func (c *Client) observeFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	if errors.Is(err, domain.ErrConnectionClosed) || errors.Is(err, domain.ErrMalformedFrame) {
		if c.state.CanTransition(domain.ConnStateFailed) {
			c.state = domain.ConnStateFailed
		}
	}
}

func (c *Client) terminateHandle(handle ProcessHandle) {
	termCtx, cancel := context.WithTimeout(context.Background(), c.terminateGrace+time.Second)
	defer cancel()
	if err := handle.Terminate(termCtx, c.terminateGrace); err != nil {
		c.logger.Warn("terminate after failed connect", zap.Error(err))
	}
}
