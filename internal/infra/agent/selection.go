package agent

import (
	"fmt"
	"strings"

	"mcpchat/internal/domain"
)

// parseSelection interprets a catalog-selection reply. The reply is folded
// to lower case before splitting, so returned names are lower-cased. A
// reply containing "none" or the given refusal phrase is authoritative: it
// selects nothing regardless of what else the model wrote.
func parseSelection(response, refusal string) []string {
	folded := strings.ToLower(strings.TrimSpace(response))
	if strings.Contains(folded, "none") || strings.Contains(folded, refusal) {
		return nil
	}
	var names []string
	for _, part := range strings.Split(folded, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

func formatTools(tools []domain.ToolDescriptor) string {
	if len(tools) == 0 {
		return "No tools available"
	}
	var b strings.Builder
	for i, tool := range tools {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s (%s): %s", tool.Name, tool.Provider, tool.Description)
	}
	return b.String()
}

func formatResources(resources []domain.ResourceDescriptor) string {
	if len(resources) == 0 {
		return "No resources available"
	}
	var b strings.Builder
	for i, resource := range resources {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", resource.Name, resource.Description)
	}
	return b.String()
}

func resourceSelectionPrompt(query string, resources []domain.ResourceDescriptor) string {
	return fmt.Sprintf(`User request: %s

Available resources:
%s

Which of these resources do you need to fulfill this request?
Respond with a list of resource names separated by commas, or 'none' if no resources are needed.

Only respond with the resource names, nothing else.`, query, formatResources(resources))
}

func toolSelectionPrompt(query string, selectedResources []string, tools []domain.ToolDescriptor) string {
	resourceLine := "None"
	if len(selectedResources) > 0 {
		resourceLine = strings.Join(selectedResources, ", ")
	}
	return fmt.Sprintf(`User request: %s

Resources that will be available: %s

Available tools:
%s

Which of these tools do you need to fulfill this request?
Respond with a list of tool names separated by commas, or 'none' if no tools are needed.

Only respond with the tool names, nothing else.`, query, resourceLine, formatTools(tools))
}

func executionPrompt(query string, tools []domain.ToolDescriptor) string {
	return fmt.Sprintf(`User request: %s

Available tools for this request:
%s

What should I do to fulfill this request? Use the available tools if needed.

IMPORTANT: If you need to call a tool, format your response EXACTLY like this:
TOOL_CALL: tool_name
PARAMETERS: {"param1": "value1", "param2": "value2"}

Rules:
1. Use the exact tool names from the available tools list
2. Provide valid JSON parameters (no extra text after the closing brace)
3. If no tools are needed, just provide a helpful response
4. Only call one tool at a time

Provide a helpful response that addresses the user's request.`, query, formatTools(tools))
}

func synthesisPrompt(query, toolResults string) string {
	return fmt.Sprintf(`User request: %s

Tool execution results:
%s

Based on the tool results above, provide a helpful and complete response to the user's request.
Summarize the key information from the tool results and answer their question directly.`, query, toolResults)
}
