package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnStateTransitions(t *testing.T) {
	cases := []struct {
		from, to ConnState
		allowed  bool
	}{
		{ConnStateUnconnected, ConnStateConnecting, true},
		{ConnStateUnconnected, ConnStateReady, false},
		{ConnStateConnecting, ConnStateReady, true},
		{ConnStateConnecting, ConnStateFailed, true},
		{ConnStateReady, ConnStateFailed, true},
		{ConnStateReady, ConnStateConnecting, false},
		{ConnStateFailed, ConnStateConnecting, false},
		{ConnStateFailed, ConnStateReady, false},
		{ConnStateDisposed, ConnStateConnecting, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.allowed, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestConnStateDisposeAllowedFromEverywhere(t *testing.T) {
	for _, state := range []ConnState{
		ConnStateUnconnected,
		ConnStateConnecting,
		ConnStateReady,
		ConnStateFailed,
		ConnStateDisposed,
	} {
		require.True(t, state.CanTransition(ConnStateDisposed), "%s", state)
	}
}

func TestConnStateTerminal(t *testing.T) {
	require.True(t, ConnStateFailed.Terminal())
	require.True(t, ConnStateDisposed.Terminal())
	require.False(t, ConnStateReady.Terminal())
	require.False(t, ConnStateUnconnected.Terminal())
}
