package domain

// ConnState tracks the lifecycle of one provider client. Failed and Disposed
// are terminal: a new attempt requires a new client.
type ConnState string

const (
	ConnStateUnconnected ConnState = "unconnected"
	ConnStateConnecting  ConnState = "connecting"
	ConnStateReady       ConnState = "ready"
	ConnStateFailed      ConnState = "failed"
	ConnStateDisposed    ConnState = "disposed"
)

// Terminal reports whether no further transitions are allowed out of s,
// other than disposal.
func (s ConnState) Terminal() bool {
	return s == ConnStateFailed || s == ConnStateDisposed
}

// CanTransition reports whether the state machine permits moving to next.
// Dispose is a total operation and is permitted from every state.
func (s ConnState) CanTransition(next ConnState) bool {
	if next == ConnStateDisposed {
		return true
	}
	switch s {
	case ConnStateUnconnected:
		return next == ConnStateConnecting
	case ConnStateConnecting:
		return next == ConnStateReady || next == ConnStateFailed
	case ConnStateReady:
		return next == ConnStateFailed
	default:
		return false
	}
}
