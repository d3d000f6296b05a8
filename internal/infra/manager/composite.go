package manager

import (
	"context"
	"time"

	"mcpchat/internal/domain"
)

// Manager is domain.ToolManager plus lifecycle startup.
type Manager interface {
	domain.ToolManager
	Start(ctx context.Context) error
}

// Start on the on-demand manager is a no-op: processes only live inside
// operations.
func (m *OnDemandManager) Start(ctx context.Context) error { return nil }

// New builds the manager matching the activation mix of specs. A pure
// on-demand or pure resident catalog gets the dedicated manager; a mixed
// catalog gets a composite that partitions by activation mode.
func New(specs []domain.ProviderSpec, opts Options) Manager {
	var onDemand, resident []domain.ProviderSpec
	for _, spec := range specs {
		if spec.Activation == domain.ActivationResident {
			resident = append(resident, spec)
			continue
		}
		onDemand = append(onDemand, spec)
	}

	switch {
	case len(resident) == 0:
		return NewOnDemand(onDemand, opts)
	case len(onDemand) == 0:
		return NewResident(resident, opts)
	default:
		return &Composite{
			resident: NewResident(resident, opts),
			onDemand: NewOnDemand(onDemand, opts),
			owners:   ownersByName(onDemand),
		}
	}
}

// Composite serves a catalog that mixes resident and on-demand providers.
// Resident providers are consulted first: their processes are already
// running, so they answer without a spawn.
type Composite struct {
	resident *ResidentManager
	onDemand *OnDemandManager
	owners   map[string]struct{}
}

func ownersByName(specs []domain.ProviderSpec) map[string]struct{} {
	owners := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		owners[spec.Name] = struct{}{}
	}
	return owners
}

func (c *Composite) Start(ctx context.Context) error {
	return c.resident.Start(ctx)
}

func (c *Composite) AvailableTools(ctx context.Context) []domain.ToolDescriptor {
	tools := c.resident.AvailableTools(ctx)
	return append(tools, c.onDemand.AvailableTools(ctx)...)
}

func (c *Composite) AvailableResources(ctx context.Context) []domain.ResourceDescriptor {
	resources := c.resident.AvailableResources(ctx)
	return append(resources, c.onDemand.AvailableResources(ctx)...)
}

func (c *Composite) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*domain.ToolResult, error) {
	if providerName, _, qualified := splitQualified(name); qualified {
		if _, ok := c.owners[providerName]; ok {
			return c.onDemand.CallTool(ctx, name, args, timeout)
		}
		return c.resident.CallTool(ctx, name, args, timeout)
	}

	result, err := c.resident.CallTool(ctx, name, args, timeout)
	if err != nil || result != nil {
		return result, err
	}
	return c.onDemand.CallTool(ctx, name, args, timeout)
}

func (c *Composite) ProviderStatus() map[string]domain.ProviderStatus {
	statuses := c.resident.ProviderStatus()
	for name, status := range c.onDemand.ProviderStatus() {
		statuses[name] = status
	}
	return statuses
}

func (c *Composite) Shutdown(ctx context.Context) error {
	err := c.resident.Shutdown(ctx)
	if odErr := c.onDemand.Shutdown(ctx); err == nil {
		err = odErr
	}
	return err
}

var _ domain.ToolManager = (*Composite)(nil)
