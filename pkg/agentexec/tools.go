package agentexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

// Tool is one callable entry in the agent's tool table.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Call        func(ctx context.Context, args map[string]any) (string, error)
}

// Registry manages tool registration and lookup. Tools discovered from MCP
// servers and built-in definitions share one namespace; first registration
// wins on collision.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Returns false if the name is already taken.
func (r *Registry) Register(tool Tool) bool {
	if _, exists := r.tools[tool.Name]; exists {
		return false
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return true
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call executes a tool by name with raw JSON arguments.
func (r *Registry) Call(ctx context.Context, name string, rawArgs json.RawMessage) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	args := make(map[string]any)
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return "", fmt.Errorf("tool %q arguments: %w", name, err)
		}
	}
	return tool.Call(ctx, args)
}

// Schemas converts the registry to chat-completion tool params, in
// registration order.
func (r *Registry) Schemas() []openai.ChatCompletionToolParam {
	var out []openai.ChatCompletionToolParam
	for _, name := range r.order {
		tool := r.tools[name]
		params := tool.Parameters
		if params == nil {
			params = map[string]any{}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": params,
				},
			},
		})
	}
	return out
}

// AddManagerTools registers every tool advertised by the connected MCP
// servers, routed back through the manager.
func (r *Registry) AddManagerTools(m *Manager) {
	for server, tools := range m.AllTools() {
		for _, t := range tools {
			serverName := server
			toolName := t.Name

			params := map[string]any{}
			if t.InputSchema != nil {
				if data, err := json.Marshal(t.InputSchema); err == nil {
					var schema struct {
						Properties map[string]any `json:"properties"`
					}
					if json.Unmarshal(data, &schema) == nil && schema.Properties != nil {
						params = schema.Properties
					}
				}
			}

			r.Register(Tool{
				Name:        toolName,
				Description: t.Description,
				Parameters:  params,
				Call: func(ctx context.Context, args map[string]any) (string, error) {
					return m.CallTool(ctx, serverName, toolName, args)
				},
			})
		}
	}
}
