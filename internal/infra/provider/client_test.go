package provider

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/session"
)

type fakeHandle struct {
	pid        int
	alive      atomic.Bool
	terminated atomic.Int32
}

func newFakeHandle(pid int) *fakeHandle {
	h := &fakeHandle{pid: pid}
	h.alive.Store(true)
	return h
}

func (h *fakeHandle) PID() int      { return h.pid }
func (h *fakeHandle) IsAlive() bool { return h.alive.Load() }

func (h *fakeHandle) Terminate(ctx context.Context, grace time.Duration) error {
	h.terminated.Add(1)
	h.alive.Store(false)
	return nil
}

type fakeLauncher struct {
	handle *fakeHandle
	err    error
	starts atomic.Int32
}

func (l *fakeLauncher) Start(ctx context.Context, spec domain.ProviderSpec) (domain.IOStreams, ProcessHandle, error) {
	l.starts.Add(1)
	if l.err != nil {
		return domain.IOStreams{}, nil, l.err
	}
	reader, writer := io.Pipe()
	return domain.IOStreams{Reader: reader, Writer: writer}, l.handle, nil
}

type fakeSession struct {
	initErr    error
	tools      []domain.ToolDescriptor
	resources  []domain.ResourceDescriptor
	callResult *domain.ToolResult
	callErr    error
	closed     atomic.Int32
}

func (s *fakeSession) Initialize(ctx context.Context) error { return s.initErr }

func (s *fakeSession) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	return s.tools, nil
}

func (s *fakeSession) ListResources(ctx context.Context) ([]domain.ResourceDescriptor, error) {
	return s.resources, nil
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args map[string]any) (*domain.ToolResult, error) {
	if s.callErr != nil {
		return nil, s.callErr
	}
	return s.callResult, nil
}

func (s *fakeSession) Close() { s.closed.Add(1) }

func newTestClient(t *testing.T, launcher *fakeLauncher, sess *fakeSession) *Client {
	t.Helper()
	spec := domain.ProviderSpec{
		Name:       "demo",
		Cmd:        []string{"demo-server"},
		Activation: domain.ActivationOnDemand,
	}
	return NewClient(spec, Options{
		Launcher: launcher,
		dial: func(ctx context.Context, streams domain.IOStreams, opts session.Options) (ToolSession, error) {
			return sess, nil
		},
	})
}

func TestClientConnectReady(t *testing.T) {
	handle := newFakeHandle(42)
	client := newTestClient(t, &fakeLauncher{handle: handle}, &fakeSession{})

	require.NoError(t, client.Connect(context.Background()))
	require.Equal(t, domain.ConnStateReady, client.State())

	status := client.Status()
	require.True(t, status.Connected)
	require.True(t, status.Running)
	require.Equal(t, 42, status.PID)
}

func TestClientConnectSpawnFailure(t *testing.T) {
	launcher := &fakeLauncher{err: domain.ErrExecutableNotFound}
	client := newTestClient(t, launcher, &fakeSession{})

	err := client.Connect(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrExecutableNotFound)
	require.Equal(t, domain.ConnStateFailed, client.State())

	status := client.Status()
	require.False(t, status.Connected)
	require.NotEmpty(t, status.LastError)
}

func TestClientConnectHandshakeFailureKillsProcess(t *testing.T) {
	handle := newFakeHandle(7)
	sess := &fakeSession{initErr: domain.ErrHandshakeTimeout}
	client := newTestClient(t, &fakeLauncher{handle: handle}, sess)

	err := client.Connect(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrHandshakeTimeout)
	require.Equal(t, domain.ConnStateFailed, client.State())
	require.Equal(t, int32(1), handle.terminated.Load(), "process must not be orphaned")
	require.Equal(t, int32(1), sess.closed.Load())
}

func TestClientConnectTwiceRejected(t *testing.T) {
	client := newTestClient(t, &fakeLauncher{handle: newFakeHandle(1)}, &fakeSession{})
	require.NoError(t, client.Connect(context.Background()))

	err := client.Connect(context.Background())
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeFailedPrecond, code)
}

func TestClientOperationsRequireReady(t *testing.T) {
	client := newTestClient(t, &fakeLauncher{handle: newFakeHandle(1)}, &fakeSession{})

	_, err := client.ListTools(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConnected)

	_, err = client.CallTool(context.Background(), "echo", nil, time.Second)
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestClientListToolsTagsProvider(t *testing.T) {
	sess := &fakeSession{
		tools: []domain.ToolDescriptor{{Name: "echo"}, {Name: "add"}},
	}
	client := newTestClient(t, &fakeLauncher{handle: newFakeHandle(1)}, sess)
	require.NoError(t, client.Connect(context.Background()))

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	for _, tool := range tools {
		require.Equal(t, "demo", tool.Provider)
	}
}

func TestClientCallToolTimeoutLeavesReady(t *testing.T) {
	sess := &fakeSession{
		callErr: &domain.ProtocolError{Kind: domain.ProtocolTimeout, Cause: domain.ErrCallTimeout},
	}
	client := newTestClient(t, &fakeLauncher{handle: newFakeHandle(1)}, sess)
	require.NoError(t, client.Connect(context.Background()))

	_, err := client.CallTool(context.Background(), "slow", nil, 10*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrCallTimeout)
	require.Equal(t, domain.ConnStateReady, client.State())
}

func TestClientConnectionLossFailsClient(t *testing.T) {
	sess := &fakeSession{
		callErr: &domain.ProtocolError{Kind: domain.ProtocolConnectionClosed},
	}
	client := newTestClient(t, &fakeLauncher{handle: newFakeHandle(1)}, sess)
	require.NoError(t, client.Connect(context.Background()))

	_, err := client.CallTool(context.Background(), "echo", nil, time.Second)
	require.ErrorIs(t, err, domain.ErrConnectionClosed)
	require.Equal(t, domain.ConnStateFailed, client.State())
}

func TestClientDisposeIdempotent(t *testing.T) {
	handle := newFakeHandle(9)
	sess := &fakeSession{}
	client := newTestClient(t, &fakeLauncher{handle: handle}, sess)
	require.NoError(t, client.Connect(context.Background()))

	client.Dispose(context.Background())
	client.Dispose(context.Background())
	client.Dispose(context.Background())

	require.Equal(t, domain.ConnStateDisposed, client.State())
	require.Equal(t, int32(1), handle.terminated.Load())
	require.Equal(t, int32(1), sess.closed.Load())

	_, err := client.ListTools(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestClientDisposeWithoutConnect(t *testing.T) {
	client := newTestClient(t, &fakeLauncher{handle: newFakeHandle(1)}, &fakeSession{})
	client.Dispose(context.Background())
	require.Equal(t, domain.ConnStateDisposed, client.State())

	err := client.Connect(context.Background())
	require.Error(t, err)
}

func TestClientConnectErrorNotFoundClassification(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("plain failure")}
	client := newTestClient(t, launcher, &fakeSession{})

	err := client.Connect(context.Background())
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeUnavailable, code)
}
