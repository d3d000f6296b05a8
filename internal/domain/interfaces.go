package domain

import (
	"context"
	"time"
)

// Generator is the language-model collaborator boundary. A transport or
// model failure is an error; there is no retry at this boundary.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ToolManager multiplexes registered providers behind one tool surface.
type ToolManager interface {
	// AvailableTools aggregates catalogs across all providers, tagging each
	// descriptor with its owning provider. Best effort: a failing provider
	// is skipped and logged, never aborting the aggregation.
	AvailableTools(ctx context.Context) []ToolDescriptor

	// AvailableResources aggregates addressable resources across providers.
	AvailableResources(ctx context.Context) []ResourceDescriptor

	// CallTool routes a call to the provider that owns name. Accepts
	// "provider:tool" qualified names; bare names are tried against
	// providers in registration order. An unknown tool yields (nil, nil).
	CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*ToolResult, error)

	// ProviderStatus reports per-provider observable state.
	ProviderStatus() map[string]ProviderStatus

	// Shutdown disposes any resident clients. Individual disposal errors
	// are logged and do not stop the sweep.
	Shutdown(ctx context.Context) error
}

// Metrics abstracts the observability backend.
type Metrics interface {
	ObserveSpawn(provider string, d time.Duration, err error)
	ObserveToolCall(provider, tool string, d time.Duration, err error)
	ObserveAggregation(d time.Duration, providers, failures int)
	ObserveModelLatency(provider, model string, d time.Duration)
	ObserveModelTokens(provider, model string, tokens int)
}
