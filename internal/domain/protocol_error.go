package domain

import (
	"errors"
	"fmt"
)

// ProtocolErrorKind classifies a protocol-level failure.
type ProtocolErrorKind string

const (
	// ProtocolMalformed: a frame arrived that could not be decoded.
	ProtocolMalformed ProtocolErrorKind = "malformed"
	// ProtocolConnectionClosed: the stream ended or broke mid-exchange.
	ProtocolConnectionClosed ProtocolErrorKind = "connection_closed"
	// ProtocolTimeout: the peer never replied within the deadline.
	ProtocolTimeout ProtocolErrorKind = "timeout"
	// ProtocolRemote: the peer replied with a JSON-RPC error object.
	ProtocolRemote ProtocolErrorKind = "remote"
)

// ProtocolError is the session-level error surface. Remote errors carry the
// peer's code and message; the other kinds wrap a local cause.
type ProtocolError struct {
	Kind    ProtocolErrorKind
	Code    int64
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case ProtocolRemote:
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	default:
		if e.Message != "" {
			return fmt.Sprintf("protocol %s: %s", e.Kind, e.Message)
		}
		if e.Cause != nil {
			return fmt.Sprintf("protocol %s: %s", e.Kind, e.Cause.Error())
		}
		return fmt.Sprintf("protocol %s", e.Kind)
	}
}

func (e *ProtocolError) Unwrap() error {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case ProtocolMalformed:
		return ErrMalformedFrame
	case ProtocolConnectionClosed:
		return ErrConnectionClosed
	case ProtocolTimeout:
		if e.Cause != nil && errors.Is(e.Cause, ErrHandshakeTimeout) {
			return ErrHandshakeTimeout
		}
		return ErrCallTimeout
	default:
		return e.Cause
	}
}

// NewRemoteError builds a ProtocolError for a peer-reported failure.
func NewRemoteError(code int64, message string) *ProtocolError {
	return &ProtocolError{Kind: ProtocolRemote, Code: code, Message: message}
}
