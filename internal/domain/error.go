package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeFailedPrecond    ErrorCode = "FAILED_PRECONDITION"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInternal         ErrorCode = "INTERNAL"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
)

var (
	// ErrInvalidCommand reports a provider spec with no launch command.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrExecutableNotFound reports a launch command that cannot be resolved.
	ErrExecutableNotFound = errors.New("executable not found")
	// ErrPermissionDenied reports a launch command that cannot be executed.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotConnected reports an operation against a client that is not Ready.
	ErrNotConnected = errors.New("provider not connected")
	// ErrConnectionClosed reports a closed or broken session stream.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrHandshakeTimeout reports an initialize handshake that never got a
	// reply within the configured window. Distinct from a handshake the
	// server answered with an error.
	ErrHandshakeTimeout = errors.New("handshake timeout")
	// ErrCallTimeout reports a tool call that expired before a response.
	ErrCallTimeout = errors.New("tool call timeout")
	// ErrMalformedFrame reports a frame that could not be decoded.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrToolNotFound reports a tool name no provider claims. Managers
	// translate this into an absent result, not a fault.
	ErrToolNotFound = errors.New("tool not found")
	// ErrModelUnavailable reports a language model that produced no response.
	ErrModelUnavailable = errors.New("model unavailable")
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
		}
	}
	return E(code, op, "", err)
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, ErrInvalidCommand):
		return CodeInvalidArgument, true
	case errors.Is(err, ErrToolNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrModelUnavailable):
		return CodeUnavailable, true
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrExecutableNotFound):
		return CodeFailedPrecond, true
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied, true
	case errors.Is(err, ErrHandshakeTimeout), errors.Is(err, ErrCallTimeout):
		return CodeDeadlineExceeded, true
	default:
		return "", false
	}
}
