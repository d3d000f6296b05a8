package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := E(CodeUnavailable, "provider.connect", "", ErrExecutableNotFound)
	require.Equal(t, "provider.connect: UNAVAILABLE: executable not found", err.Error())
	require.ErrorIs(t, err, ErrExecutableNotFound)

	bare := E(CodeNotFound, "", "no such tool", nil)
	require.Equal(t, "NOT_FOUND: no such tool", bare.Error())
}

func TestWrapKeepsExistingError(t *testing.T) {
	inner := E(CodeDeadlineExceeded, "session.call", "", ErrCallTimeout)
	wrapped := Wrap(CodeUnavailable, "manager.call", inner)
	require.Same(t, inner, wrapped)

	plain := Wrap(CodeUnavailable, "provider.connect", errors.New("boom"))
	require.Equal(t, CodeUnavailable, plain.Code)
	require.Equal(t, "provider.connect", plain.Op)
}

func TestWrapNil(t *testing.T) {
	require.Nil(t, Wrap(CodeInternal, "op", nil))
}

func TestWrapFillsMissingOp(t *testing.T) {
	anon := E(CodeInternal, "", "broken", nil)
	wrapped := Wrap(CodeUnavailable, "manager.call", anon)
	require.Equal(t, "manager.call", wrapped.Op)
	require.Equal(t, CodeInternal, wrapped.Code)
}

func TestCodeFromSentinels(t *testing.T) {
	cases := []struct {
		err  error
		code ErrorCode
	}{
		{ErrInvalidCommand, CodeInvalidArgument},
		{ErrToolNotFound, CodeNotFound},
		{ErrConnectionClosed, CodeUnavailable},
		{ErrModelUnavailable, CodeUnavailable},
		{ErrNotConnected, CodeFailedPrecond},
		{ErrExecutableNotFound, CodeFailedPrecond},
		{ErrPermissionDenied, CodePermissionDenied},
		{ErrHandshakeTimeout, CodeDeadlineExceeded},
		{ErrCallTimeout, CodeDeadlineExceeded},
	}
	for _, tc := range cases {
		code, ok := CodeFrom(tc.err)
		require.True(t, ok, "%v", tc.err)
		require.Equal(t, tc.code, code, "%v", tc.err)
	}

	_, ok := CodeFrom(errors.New("unclassified"))
	require.False(t, ok)
}

func TestProtocolErrorUnwrap(t *testing.T) {
	remote := NewRemoteError(-32601, "method not found")
	require.Equal(t, "remote error -32601: method not found", remote.Error())

	closed := &ProtocolError{Kind: ProtocolConnectionClosed}
	require.ErrorIs(t, closed, ErrConnectionClosed)

	callTimeout := &ProtocolError{Kind: ProtocolTimeout, Cause: ErrCallTimeout}
	require.ErrorIs(t, callTimeout, ErrCallTimeout)
	require.NotErrorIs(t, callTimeout, ErrHandshakeTimeout)

	handshake := &ProtocolError{Kind: ProtocolTimeout, Cause: ErrHandshakeTimeout}
	require.ErrorIs(t, handshake, ErrHandshakeTimeout)

	malformed := &ProtocolError{Kind: ProtocolMalformed, Message: "bad frame"}
	require.ErrorIs(t, malformed, ErrMalformedFrame)
}
