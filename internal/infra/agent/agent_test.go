package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcpchat/internal/domain"
)

// scriptedGenerator returns canned responses in order and records prompts.
type scriptedGenerator struct {
	responses []string
	errs      []error
	prompts   []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	idx := len(g.prompts) - 1
	if idx < len(g.errs) && g.errs[idx] != nil {
		return "", g.errs[idx]
	}
	if idx < len(g.responses) {
		return g.responses[idx], nil
	}
	return "", errors.New("generator script exhausted")
}

type fakeManager struct {
	tools     []domain.ToolDescriptor
	resources []domain.ResourceDescriptor
	results   map[string]*domain.ToolResult
	callErr   error
	calls     []string
}

func (m *fakeManager) AvailableTools(ctx context.Context) []domain.ToolDescriptor {
	return m.tools
}

func (m *fakeManager) AvailableResources(ctx context.Context) []domain.ResourceDescriptor {
	return m.resources
}

func (m *fakeManager) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*domain.ToolResult, error) {
	m.calls = append(m.calls, name)
	if m.callErr != nil {
		return nil, m.callErr
	}
	return m.results[name], nil
}

func (m *fakeManager) ProviderStatus() map[string]domain.ProviderStatus { return nil }

func (m *fakeManager) Shutdown(ctx context.Context) error { return nil }

func TestProcessRequestNoProvidersSingleModelCall(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"The answer is 42."}}
	agent := New(gen, &fakeManager{}, Options{})

	answer := agent.ProcessRequest(context.Background(), "what is the answer?")
	require.Equal(t, "The answer is 42.", answer)
	require.Len(t, gen.prompts, 1, "selection phases must be skipped with no providers")
	require.Contains(t, gen.prompts[0], "No tools available")
}

func TestProcessRequestToolFlow(t *testing.T) {
	manager := &fakeManager{
		tools: []domain.ToolDescriptor{
			{Name: "weather", Description: "current weather", Provider: "meteo"},
			{Name: "news", Description: "headlines", Provider: "press"},
		},
		results: map[string]*domain.ToolResult{
			"weather": {Text: "sunny, 21C"},
		},
	}
	gen := &scriptedGenerator{responses: []string{
		"weather",
		"TOOL_CALL: weather\nPARAMETERS: {\"city\": \"Oslo\"}",
		"It is sunny and 21C in Oslo.",
	}}
	agent := New(gen, manager, Options{})

	answer := agent.ProcessRequest(context.Background(), "weather in Oslo?")
	require.Equal(t, "It is sunny and 21C in Oslo.", answer)
	require.Equal(t, []string{"weather"}, manager.calls)
	require.Len(t, gen.prompts, 3)

	// Tool selection saw the full catalog, execution only the selection.
	require.Contains(t, gen.prompts[0], "news")
	require.Contains(t, gen.prompts[1], "weather (meteo)")
	require.NotContains(t, gen.prompts[1], "news (press)")

	// The synthesis prompt carries the raw tool result.
	require.Contains(t, gen.prompts[2], "Tool 'weather' result: sunny, 21C")
}

func TestProcessRequestResourcePhase(t *testing.T) {
	manager := &fakeManager{
		resources: []domain.ResourceDescriptor{
			{Name: "docs", Description: "project docs", Provider: "files"},
		},
		tools: []domain.ToolDescriptor{
			{Name: "search", Description: "search docs", Provider: "files"},
		},
	}
	gen := &scriptedGenerator{responses: []string{
		"docs",
		"search",
		"I found nothing relevant.",
	}}
	agent := New(gen, manager, Options{})

	answer := agent.ProcessRequest(context.Background(), "find the install guide")
	require.Equal(t, "I found nothing relevant.", answer)
	require.Len(t, gen.prompts, 3)
	require.Contains(t, gen.prompts[0], "docs: project docs")
	require.Contains(t, gen.prompts[1], "Resources that will be available: docs")
}

func TestProcessRequestSelectionFailureSelectsNothing(t *testing.T) {
	manager := &fakeManager{
		tools: []domain.ToolDescriptor{{Name: "echo", Provider: "demo"}},
	}
	gen := &scriptedGenerator{
		responses: []string{"", "A direct answer without tools."},
		errs:      []error{errors.New("model offline"), nil},
	}
	agent := New(gen, manager, Options{})

	answer := agent.ProcessRequest(context.Background(), "hello")
	require.Equal(t, "A direct answer without tools.", answer)
	// Execution prompt ran with an empty tool selection.
	require.Contains(t, gen.prompts[1], "No tools available")
}

func TestProcessRequestExecutionFailure(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("model offline")}}
	agent := New(gen, &fakeManager{}, Options{})

	answer := agent.ProcessRequest(context.Background(), "hello")
	require.Equal(t, "I couldn't generate a response for your request.", answer)
}

func TestProcessRequestAbsentToolReportsFailure(t *testing.T) {
	manager := &fakeManager{
		tools:   []domain.ToolDescriptor{{Name: "echo", Provider: "demo"}},
		results: map[string]*domain.ToolResult{},
	}
	gen := &scriptedGenerator{responses: []string{
		"echo",
		"TOOL_CALL: ghost\nPARAMETERS: {}",
		"final",
	}}
	agent := New(gen, manager, Options{})

	agent.ProcessRequest(context.Background(), "call something")
	require.Contains(t, gen.prompts[2], "Tool 'ghost' failed to execute")
}

func TestProcessRequestCallErrorReported(t *testing.T) {
	manager := &fakeManager{
		tools:   []domain.ToolDescriptor{{Name: "echo", Provider: "demo"}},
		callErr: fmt.Errorf("boom"),
	}
	gen := &scriptedGenerator{responses: []string{
		"echo",
		"TOOL_CALL: echo\nPARAMETERS: {}",
		"final",
	}}
	agent := New(gen, manager, Options{})

	agent.ProcessRequest(context.Background(), "call echo")
	require.Contains(t, gen.prompts[2], "Tool 'echo' execution failed: boom")
}

func TestProcessRequestUnparseableParamsReported(t *testing.T) {
	manager := &fakeManager{
		tools: []domain.ToolDescriptor{{Name: "echo", Provider: "demo"}},
	}
	gen := &scriptedGenerator{responses: []string{
		"echo",
		"TOOL_CALL: echo\nPARAMETERS: {broken",
		"final",
	}}
	agent := New(gen, manager, Options{})

	agent.ProcessRequest(context.Background(), "call echo")
	require.Empty(t, manager.calls, "unparseable parameters must not reach the manager")
	require.Contains(t, gen.prompts[2], "Tool 'echo' parameters could not be parsed")
}

func TestProcessRequestSynthesisFallback(t *testing.T) {
	manager := &fakeManager{
		tools:   []domain.ToolDescriptor{{Name: "echo", Provider: "demo"}},
		results: map[string]*domain.ToolResult{"echo": {Text: "hi"}},
	}
	gen := &scriptedGenerator{
		responses: []string{"echo", "TOOL_CALL: echo\nPARAMETERS: {}", ""},
		errs:      []error{nil, nil, errors.New("model offline")},
	}
	agent := New(gen, manager, Options{})

	answer := agent.ProcessRequest(context.Background(), "call echo")
	require.True(t, strings.HasPrefix(answer, "I executed the requested tools but couldn't generate a final response."))
	require.Contains(t, answer, "Tool 'echo' result: hi")
}

func TestProcessRequestRecoversToApology(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"answer"}}
	agent := New(gen, &panickyManager{}, Options{})

	answer := agent.ProcessRequest(context.Background(), "hello")
	require.Contains(t, answer, "I encountered an error while processing your request:")
}

type panickyManager struct{ fakeManager }

func (m *panickyManager) AvailableResources(ctx context.Context) []domain.ResourceDescriptor {
	panic("catalog store corrupted")
}

func TestProcessRequestDirectiveWithoutToolsIgnored(t *testing.T) {
	// With an empty catalog, directive-looking text stays untouched.
	gen := &scriptedGenerator{responses: []string{
		"TOOL_CALL: ghost\nPARAMETERS: {}",
	}}
	manager := &fakeManager{}
	agent := New(gen, manager, Options{})

	answer := agent.ProcessRequest(context.Background(), "hi")
	require.Equal(t, "TOOL_CALL: ghost\nPARAMETERS: {}", answer)
	require.Empty(t, manager.calls)
}
