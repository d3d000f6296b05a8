package domain

const (
	DefaultProtocolVersion = "2025-06-18"

	DefaultCallTimeoutSeconds      = 30
	DefaultHandshakeTimeoutSeconds = 10
	DefaultTerminateGraceSeconds   = 5
	DefaultAggregationConcurrency  = 4
	DefaultPingIntervalSeconds     = 30
	DefaultDebugEventCapacity      = 256

	DefaultObservabilityListenAddress = ""

	DefaultLLMProvider = "openai"
	DefaultLLMModel    = "mistral"
)
