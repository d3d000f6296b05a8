package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/telemetry"
	"mcpchat/internal/infra/telemetry/diagnostics"
)

// Options configures an Agent.
type Options struct {
	Logger      *zap.Logger
	Probe       diagnostics.Probe
	CallTimeout time.Duration
}

// Agent coordinates the user, the language model and the tool providers.
// A request runs in two phases: the model first selects which resources
// and tools it wants from the aggregated catalogs, then produces an
// execution response whose tool directives are carried out and fed back
// for a final synthesis.
type Agent struct {
	generator   domain.Generator
	manager     domain.ToolManager
	logger      *zap.Logger
	probe       diagnostics.Probe
	callTimeout time.Duration
}

// New builds an Agent over a generator and a tool manager.
func New(generator domain.Generator, manager domain.ToolManager, opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	probe := opts.Probe
	if probe == nil {
		probe = diagnostics.NoopProbe{}
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = domain.DefaultCallTimeoutSeconds * time.Second
	}
	return &Agent{
		generator:   generator,
		manager:     manager,
		logger:      logger.Named("agent"),
		probe:       probe,
		callTimeout: callTimeout,
	}
}

// ProcessRequest answers one user query. It never fails loudly: expected
// failures degrade step by step (empty selection, raw tool results) and
// anything unexpected is converted into an apology.
func (a *Agent) ProcessRequest(ctx context.Context, query string) (answer string) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("request processing panicked", zap.Any("panic", r))
			answer = fmt.Sprintf("I encountered an error while processing your request: %v", r)
		}
	}()

	a.logger.Info("processing user request", zap.Int("query_len", len(query)))
	a.probe.Record(diagnostics.Event{
		Category: diagnostics.CategoryAgent,
		Message:  "request started",
	})

	selectedResources := a.selectResources(ctx, query)
	selectedTools := a.selectTools(ctx, query, selectedResources)
	a.logger.Info("selection complete",
		zap.Int("resources", len(selectedResources)),
		zap.Int("tools", len(selectedTools)),
	)

	return a.execute(ctx, query, selectedTools)
}

// selectResources asks the model which resources the request needs. An
// empty catalog skips the phase; a model failure selects nothing.
func (a *Agent) selectResources(ctx context.Context, query string) []string {
	resources := a.manager.AvailableResources(ctx)
	if len(resources) == 0 {
		a.logger.Debug("no resources available, skipping resource selection")
		return nil
	}
	response, err := a.generator.Generate(ctx, resourceSelectionPrompt(query, resources))
	if err != nil {
		a.logger.Warn("resource selection failed", zap.Error(err))
		return nil
	}
	return parseSelection(response, "no resources")
}

// selectTools asks the model which tools the request needs.
func (a *Agent) selectTools(ctx context.Context, query string, selectedResources []string) []string {
	tools := a.manager.AvailableTools(ctx)
	if len(tools) == 0 {
		a.logger.Debug("no tools available, skipping tool selection")
		return nil
	}
	response, err := a.generator.Generate(ctx, toolSelectionPrompt(query, selectedResources, tools))
	if err != nil {
		a.logger.Warn("tool selection failed", zap.Error(err))
		return nil
	}
	return parseSelection(response, "no tools")
}

// execute runs the second phase: an execution prompt limited to the
// selected tools, directive execution, and a synthesis pass when any
// directive ran.
func (a *Agent) execute(ctx context.Context, query string, selectedTools []string) string {
	catalog := a.manager.AvailableTools(ctx)
	relevant := filterTools(catalog, selectedTools)

	response, err := a.generator.Generate(ctx, executionPrompt(query, relevant))
	if err != nil || response == "" {
		a.logger.Warn("execution response unavailable", zap.Error(err))
		return "I couldn't generate a response for your request."
	}

	resultLines := a.runDirectives(ctx, response, catalog)
	if len(resultLines) == 0 {
		return response
	}

	toolResults := response + "\n\n" + strings.Join(resultLines, "\n")
	return a.synthesize(ctx, query, toolResults)
}

// runDirectives parses and executes the tool directives in a model
// response, producing one result line per directive.
func (a *Agent) runDirectives(ctx context.Context, response string, catalog []domain.ToolDescriptor) []string {
	if len(catalog) == 0 {
		return nil
	}
	directives := parseDirectives(response)
	if len(directives) == 0 {
		return nil
	}
	a.logger.Info("executing tool directives", zap.Int("count", len(directives)))

	lines := make([]string, 0, len(directives))
	for _, d := range directives {
		lines = append(lines, a.runDirective(ctx, d, catalog))
	}
	return lines
}

func (a *Agent) runDirective(ctx context.Context, d directive, catalog []domain.ToolDescriptor) string {
	params, ok := parseParams(d.RawParams)
	if !ok {
		a.logger.Warn("directive parameters unparseable", telemetry.ToolField(d.Tool))
		return fmt.Sprintf("Tool '%s' parameters could not be parsed", d.Tool)
	}

	a.validateArgs(d.Tool, params, catalog)

	a.probe.Record(diagnostics.Event{
		Category: diagnostics.CategoryDirective,
		Message:  "tool directive",
		Payload:  map[string]string{"tool": d.Tool},
	})
	result, err := a.manager.CallTool(ctx, d.Tool, params, a.callTimeout)
	if err != nil {
		a.logger.Warn("tool execution failed", telemetry.ToolField(d.Tool), zap.Error(err))
		return fmt.Sprintf("Tool '%s' execution failed: %v", d.Tool, err)
	}
	if result == nil {
		return fmt.Sprintf("Tool '%s' failed to execute", d.Tool)
	}
	return fmt.Sprintf("Tool '%s' result: %s", d.Tool, result.Text)
}

// validateArgs checks directive arguments against the tool's declared
// input schema. Advisory only: a mismatch is logged and the call still
// goes out, since provider-side validation is authoritative.
func (a *Agent) validateArgs(tool string, args map[string]any, catalog []domain.ToolDescriptor) {
	var schemaSrc any
	for _, desc := range catalog {
		if strings.EqualFold(desc.Name, tool) || strings.EqualFold(desc.QualifiedName(), tool) {
			schemaSrc = desc.InputSchema
			break
		}
	}
	if schemaSrc == nil {
		return
	}
	raw, err := json.Marshal(schemaSrc)
	if err != nil {
		return
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return
	}
	var instance any = map[string]any(args)
	if args == nil {
		instance = map[string]any{}
	}
	if err := resolved.Validate(instance); err != nil {
		a.logger.Warn("directive arguments do not match tool schema",
			telemetry.ToolField(tool),
			zap.Error(err),
		)
	}
}

func (a *Agent) synthesize(ctx context.Context, query, toolResults string) string {
	final, err := a.generator.Generate(ctx, synthesisPrompt(query, toolResults))
	if err != nil || final == "" {
		a.logger.Warn("final synthesis unavailable", zap.Error(err))
		return fmt.Sprintf("I executed the requested tools but couldn't generate a final response. Here are the tool results:\n\n%s", toolResults)
	}
	return final
}

// filterTools keeps catalog entries whose name was selected. Selection
// names are lower-cased by parsing, so matching is case-insensitive.
func filterTools(catalog []domain.ToolDescriptor, selected []string) []domain.ToolDescriptor {
	if len(selected) == 0 {
		return nil
	}
	var relevant []domain.ToolDescriptor
	for _, tool := range catalog {
		for _, name := range selected {
			if strings.EqualFold(tool.Name, name) || strings.EqualFold(tool.QualifiedName(), name) {
				relevant = append(relevant, tool)
				break
			}
		}
	}
	return relevant
}
