package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/telemetry"
	"mcpchat/internal/infra/telemetry/diagnostics"
)

const (
	methodInitialize            = "initialize"
	methodListTools             = "tools/list"
	methodCallTool              = "tools/call"
	methodListResources         = "resources/list"
	notificationInitialized     = "notifications/initialized"
	clientName                  = "mcpchat"
	clientVersion               = "0.1.0"
	defaultPendingChannelBuffer = 1
)

// Options configures a Session.
type Options struct {
	Provider string
	Logger   *zap.Logger
	Probe    diagnostics.Probe

	// Pipelined allows multiple outstanding calls on one session, matched
	// by correlation id. Off by default: most stdio servers are not
	// verified to support interleaved responses, so calls are serialized
	// with at most one outstanding request.
	Pipelined bool
}

// Session drives the framed request/response protocol over one provider's
// byte streams. It owns correlation-id bookkeeping and protocol-level
// error translation; it knows nothing about the process behind the streams.
type Session struct {
	conn     mcp.Connection
	provider string
	logger   *zap.Logger
	probe    diagnostics.Probe

	pipelined bool
	callMu    sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *jsonrpc.Response
	termErr *domain.ProtocolError

	closeOnce sync.Once
	closed    chan struct{}
	cancel    context.CancelFunc
}

// Dial wires the given streams into a session and starts its read loop.
// It does not perform the handshake; call Initialize next.
func Dial(ctx context.Context, streams domain.IOStreams, opts Options) (*Session, error) {
	if streams.Reader == nil || streams.Writer == nil {
		return nil, errors.New("streams are required")
	}

	transport := &mcp.IOTransport{
		Reader: streams.Reader,
		Writer: streams.Writer,
	}
	conn, err := transport.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect io transport: %w", err)
	}
	return newSession(conn, opts), nil
}

func newSession(conn mcp.Connection, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	probe := opts.Probe
	if probe == nil {
		probe = diagnostics.NoopProbe{}
	}
	readCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:      conn,
		provider:  opts.Provider,
		logger:    logger.Named("session").With(telemetry.ProviderField(opts.Provider)),
		probe:     probe,
		pipelined: opts.Pipelined,
		pending:   make(map[string]chan *jsonrpc.Response),
		closed:    make(chan struct{}),
		cancel:    cancel,
	}
	go s.readLoop(readCtx)
	return s
}

// Initialize performs the handshake. The ctx deadline bounds the wait; an
// elapsed deadline yields a timeout ProtocolError wrapping
// domain.ErrHandshakeTimeout, distinct from a server-reported error.
func (s *Session) Initialize(ctx context.Context) error {
	params := &mcp.InitializeParams{
		ProtocolVersion: domain.DefaultProtocolVersion,
		ClientInfo: &mcp.Implementation{
			Name:    clientName,
			Version: clientVersion,
		},
		Capabilities: &mcp.ClientCapabilities{},
	}

	resp, err := s.call(ctx, methodInitialize, params)
	if err != nil {
		var protoErr *domain.ProtocolError
		if errors.As(err, &protoErr) && protoErr.Kind == domain.ProtocolTimeout {
			return &domain.ProtocolError{
				Kind:    domain.ProtocolTimeout,
				Message: "server never answered initialize",
				Cause:   domain.ErrHandshakeTimeout,
			}
		}
		return err
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return &domain.ProtocolError{Kind: domain.ProtocolMalformed, Cause: fmt.Errorf("decode initialize result: %w", err)}
	}
	if result.ServerInfo == nil || result.ServerInfo.Name == "" {
		return &domain.ProtocolError{Kind: domain.ProtocolMalformed, Message: "initialize result missing serverInfo"}
	}

	if err := s.notify(ctx, notificationInitialized, nil); err != nil {
		return err
	}

	s.probe.Record(diagnostics.Event{
		Category: diagnostics.CategorySession,
		Provider: s.provider,
		Message:  "initialized",
		Payload:  map[string]string{"server": result.ServerInfo.Name},
	})
	return nil
}

// ListTools fetches the provider's tool catalog. The owning provider field
// is left blank; the aggregator assigns it.
func (s *Session) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	resp, err := s.call(ctx, methodListTools, &mcp.ListToolsParams{})
	if err != nil {
		return nil, err
	}

	var result mcp.ListToolsResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, &domain.ProtocolError{Kind: domain.ProtocolMalformed, Cause: fmt.Errorf("decode tools/list result: %w", err)}
	}

	descriptors := make([]domain.ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		if tool == nil {
			continue
		}
		descriptors = append(descriptors, domain.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return descriptors, nil
}

// ListResources fetches the provider's resource catalog. Providers that do
// not implement the operation yield an empty list, not an error.
func (s *Session) ListResources(ctx context.Context) ([]domain.ResourceDescriptor, error) {
	resp, err := s.call(ctx, methodListResources, &mcp.ListResourcesParams{})
	if err != nil {
		if isMethodNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var result mcp.ListResourcesResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, &domain.ProtocolError{Kind: domain.ProtocolMalformed, Cause: fmt.Errorf("decode resources/list result: %w", err)}
	}

	descriptors := make([]domain.ResourceDescriptor, 0, len(result.Resources))
	for _, resource := range result.Resources {
		if resource == nil {
			continue
		}
		descriptors = append(descriptors, domain.ResourceDescriptor{
			URI:         resource.URI,
			Name:        resource.Name,
			Description: resource.Description,
		})
	}
	return descriptors, nil
}

// CallTool invokes one tool. Argument schemas are not enforced here; that
// is the provider's concern.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*domain.ToolResult, error) {
	started := time.Now()
	resp, err := s.call(ctx, methodCallTool, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		s.probe.Record(diagnostics.Event{
			Category: diagnostics.CategorySession,
			Provider: s.provider,
			Message:  "tool call failed",
			Error:    err.Error(),
			Payload:  map[string]string{"tool": name, "duration": time.Since(started).String()},
		})
		return nil, err
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, &domain.ProtocolError{Kind: domain.ProtocolMalformed, Cause: fmt.Errorf("decode tools/call result: %w", err)}
	}
	return toolResultFromMCP(&result), nil
}

// Close is best effort: it cancels the read loop, fails outstanding calls
// and closes the underlying streams. Secondary errors are logged, not
// propagated; Close never blocks indefinitely.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("close connection failed", zap.Error(err))
		}
		s.failPending(&domain.ProtocolError{Kind: domain.ProtocolConnectionClosed, Message: "session closed"})
	})
}

func (s *Session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !s.pipelined {
		s.callMu.Lock()
		defer s.callMu.Unlock()
	}
	if s.isClosed() {
		return nil, &domain.ProtocolError{Kind: domain.ProtocolConnectionClosed, Message: "session closed"}
	}

	id, err := jsonrpc.MakeID(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("build request id: %w", err)
	}
	correlationID, err := idKey(id)
	if err != nil {
		return nil, err
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	req := &jsonrpc.Request{ID: id, Method: method, Params: rawParams}

	resultCh := make(chan *jsonrpc.Response, defaultPendingChannelBuffer)
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return nil, &domain.ProtocolError{Kind: domain.ProtocolConnectionClosed, Message: "session closed"}
	}
	s.pending[correlationID] = resultCh
	s.mu.Unlock()

	if err := s.conn.Write(ctx, req); err != nil {
		s.removePending(correlationID)
		return nil, s.translateStreamError(method, err)
	}

	select {
	case resp, ok := <-resultCh:
		if !ok || resp == nil {
			return nil, s.terminalError()
		}
		if resp.Error != nil {
			return nil, remoteError(resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		// Abandon the call. The read loop discards the late response by
		// correlation id so it can never be mistaken for a later call's
		// reply.
		s.removePending(correlationID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.ProtocolError{
				Kind:    domain.ProtocolTimeout,
				Message: fmt.Sprintf("%s timed out", method),
				Cause:   domain.ErrCallTimeout,
			}
		}
		return nil, ctx.Err()
	case <-s.closed:
		s.removePending(correlationID)
		return nil, &domain.ProtocolError{Kind: domain.ProtocolConnectionClosed, Message: "session closed"}
	}
}

func (s *Session) notify(ctx context.Context, method string, params any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	req := &jsonrpc.Request{Method: method, Params: rawParams}
	if err := s.conn.Write(ctx, req); err != nil {
		return s.translateStreamError(method, err)
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		msg, err := s.conn.Read(ctx)
		if err != nil {
			s.failPending(&domain.ProtocolError{
				Kind:  domain.ProtocolConnectionClosed,
				Cause: fmt.Errorf("read: %w", err),
			})
			return
		}
		switch typed := msg.(type) {
		case *jsonrpc.Response:
			s.dispatchResponse(typed)
		case *jsonrpc.Request:
			// Server-initiated calls and notifications are not supported
			// by this client; notifications are ignored, calls refused.
			if typed.ID.IsValid() {
				s.refuseServerCall(ctx, typed)
			}
		}
	}
}

func (s *Session) dispatchResponse(resp *jsonrpc.Response) {
	key, err := idKey(resp.ID)
	if err != nil {
		s.logger.Debug("drop response with invalid id", zap.Error(err))
		return
	}
	s.mu.Lock()
	ch := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()
	if ch == nil {
		s.logger.Debug("drop abandoned response", zap.String("id", key))
		return
	}
	ch <- resp
}

func (s *Session) refuseServerCall(ctx context.Context, req *jsonrpc.Request) {
	resp := &jsonrpc.Response{
		ID:    req.ID,
		Error: &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: fmt.Sprintf("method not supported: %s", req.Method)},
	}
	if err := s.conn.Write(ctx, resp); err != nil {
		s.logger.Debug("refuse server call failed", zap.String("method", req.Method), zap.Error(err))
	}
}

func (s *Session) failPending(cause *domain.ProtocolError) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	if s.termErr == nil {
		s.termErr = cause
	}
	s.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (s *Session) terminalError() *domain.ProtocolError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.termErr != nil {
		return s.termErr
	}
	return &domain.ProtocolError{Kind: domain.ProtocolConnectionClosed, Message: "session closed"}
}

func (s *Session) removePending(key string) {
	s.mu.Lock()
	if s.pending != nil {
		delete(s.pending, key)
	}
	s.mu.Unlock()
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) translateStreamError(method string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ProtocolError{
			Kind:    domain.ProtocolTimeout,
			Message: fmt.Sprintf("%s timed out", method),
			Cause:   domain.ErrCallTimeout,
		}
	}
	return &domain.ProtocolError{
		Kind:  domain.ProtocolConnectionClosed,
		Cause: fmt.Errorf("write %s: %w", method, err),
	}
}

func remoteError(err error) error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return domain.NewRemoteError(rpcErr.Code, rpcErr.Message)
	}
	return domain.NewRemoteError(0, err.Error())
}

func isMethodNotFound(err error) bool {
	var protoErr *domain.ProtocolError
	return errors.As(err, &protoErr) &&
		protoErr.Kind == domain.ProtocolRemote &&
		protoErr.Code == jsonrpc.CodeMethodNotFound
}

func idKey(id jsonrpc.ID) (string, error) {
	if !id.IsValid() {
		return "", errors.New("missing request id")
	}
	switch typed := id.Raw().(type) {
	case string:
		return "s:" + typed, nil
	case float64:
		return fmt.Sprintf("n:%v", typed), nil
	case int64:
		return fmt.Sprintf("n:%v", typed), nil
	case json.Number:
		return "n:" + typed.String(), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", id.Raw())
	}
}

func toolResultFromMCP(result *mcp.CallToolResult) *domain.ToolResult {
	out := &domain.ToolResult{IsError: result.IsError}
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok && text.Text != "" {
			out.Text = text.Text
			break
		}
	}
	if out.Text == "" && !out.IsError {
		// Some tools return no textual content on success.
		out.Text = "Tool executed successfully"
	}
	return out
}
