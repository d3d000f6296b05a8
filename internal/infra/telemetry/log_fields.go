package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldProvider   = "provider"
	FieldTool       = "tool"
	FieldState      = "state"
	FieldDurationMs = "duration_ms"
	FieldRequestID  = "request_id"
	FieldLogSource  = "log_source"
	FieldLogStream  = "stream"
)

const (
	EventSpawnAttempt     = "spawn_attempt"
	EventSpawnSuccess     = "spawn_success"
	EventSpawnFailure     = "spawn_failure"
	EventHandshakeFailure = "handshake_failure"
	EventCallSuccess      = "call_success"
	EventCallFailure      = "call_failure"
	EventDispose          = "dispose"
	EventPingFailure      = "ping_failure"
	EventAggregation      = "aggregation"
)

const (
	LogSourceCore       = "core"
	LogSourceDownstream = "downstream"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func ProviderField(provider string) zap.Field {
	return zap.String(FieldProvider, provider)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func StateField(state string) zap.Field {
	return zap.String(FieldState, state)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}
