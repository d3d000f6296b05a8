package diagnostics

import "time"

// Event is one diagnostic observation. Events are append-only and purely
// informational; they never carry authoritative state.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Category  string            `json:"category"`
	Message   string            `json:"message"`
	Provider  string            `json:"provider,omitempty"`
	Error     string            `json:"error,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}

const (
	CategoryProcess   = "process"
	CategorySession   = "session"
	CategoryManager   = "manager"
	CategoryAgent     = "agent"
	CategoryModel     = "model"
	CategoryDirective = "directive"
)

// Probe records diagnostics events without blocking the caller.
type Probe interface {
	Record(event Event)
}

// NoopProbe ignores all events.
type NoopProbe struct{}

func (NoopProbe) Record(Event) {}
