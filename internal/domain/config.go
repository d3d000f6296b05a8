package domain

import "time"

// Config is the root configuration, built once at startup and passed into
// the components that need it. There is no process-wide mutable instance.
type Config struct {
	Providers []ProviderSpec `json:"providers"`
	Runtime   RuntimeConfig  `json:"runtime"`
	LLM       LLMConfig      `json:"llm"`
}

type RuntimeConfig struct {
	CallTimeoutSeconds      int                 `json:"callTimeoutSeconds"`
	HandshakeTimeoutSeconds int                 `json:"handshakeTimeoutSeconds"`
	TerminateGraceSeconds   int                 `json:"terminateGraceSeconds"`
	AggregationConcurrency  int                 `json:"aggregationConcurrency"`
	PingIntervalSeconds     int                 `json:"pingIntervalSeconds"`
	Observability           ObservabilityConfig `json:"observability"`
}

type ObservabilityConfig struct {
	ListenAddress string `json:"listenAddress"`
}

type LLMConfig struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	APIKey       string `json:"apiKey,omitempty"`
	APIKeyEnvVar string `json:"apiKeyEnvVar,omitempty"`
	BaseURL      string `json:"baseURL,omitempty"`
}

func (r RuntimeConfig) CallTimeout() time.Duration {
	return secondsOrDefault(r.CallTimeoutSeconds, DefaultCallTimeoutSeconds)
}

func (r RuntimeConfig) HandshakeTimeout() time.Duration {
	return secondsOrDefault(r.HandshakeTimeoutSeconds, DefaultHandshakeTimeoutSeconds)
}

func (r RuntimeConfig) TerminateGrace() time.Duration {
	return secondsOrDefault(r.TerminateGraceSeconds, DefaultTerminateGraceSeconds)
}

func (r RuntimeConfig) PingInterval() time.Duration {
	return secondsOrDefault(r.PingIntervalSeconds, DefaultPingIntervalSeconds)
}

func secondsOrDefault(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
