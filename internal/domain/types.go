package domain

import "io"

// ActivationMode defines how a provider's process lifetime is managed.
type ActivationMode string

const (
	// ActivationOnDemand: a fresh process is spawned for each operation and
	// disposed as soon as the operation completes. No idle processes remain
	// between calls.
	ActivationOnDemand ActivationMode = "on-demand"

	// ActivationResident: the process is started once and kept alive across
	// operations. Liveness is checked in the background.
	ActivationResident ActivationMode = "resident"
)

// ProviderSpec describes how to launch one tool provider. Immutable after
// load; safe to share across concurrently spawned processes.
type ProviderSpec struct {
	Name       string            `json:"name"`
	Cmd        []string          `json:"cmd"`
	Env        map[string]string `json:"env,omitempty"`
	Cwd        string            `json:"cwd,omitempty"`
	Activation ActivationMode    `json:"activation"`
}

// IOStreams bundles the byte streams of a spawned provider process.
type IOStreams struct {
	Reader io.ReadCloser
	Writer io.WriteCloser
}

// ToolDescriptor describes one callable tool. Provider is assigned by the
// aggregating manager, not by the provider itself.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// QualifiedName returns the provider-qualified tool name.
func (d ToolDescriptor) QualifiedName() string {
	if d.Provider == "" {
		return d.Name
	}
	return d.Provider + ":" + d.Name
}

// ResourceDescriptor describes one addressable resource exposed by a provider.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// ToolResult carries the textual outcome of one tool invocation.
type ToolResult struct {
	Text    string `json:"text"`
	IsError bool   `json:"isError,omitempty"`
}

// ProviderStatus reports the observable state of one registered provider.
type ProviderStatus struct {
	Running    bool           `json:"running"`
	Connected  bool           `json:"connected"`
	PID        int            `json:"pid,omitempty"`
	Activation ActivationMode `json:"activation"`
	LastError  string         `json:"lastError,omitempty"`
}
