package tools

import (
	"fmt"

	"menuagent"
)

// Registry maps tool names to implementations
type Registry map[string]Tool

// NewRegistry creates a new tool registry backed by the given recipe index.
func NewRegistry(index menuagent.SearchIndex) (*Registry, error) {
	tools := map[string]Tool{
		"finalize_requirements": NewFinalizeRequirements(),
		"recipe_search":         NewRecipeSearch(index),
	}

	registry := Registry(tools)
	return &registry, nil
}

// GetTools returns all tools in the registry as a slice
func (r *Registry) GetTools() []Tool {
	tools := make([]Tool, 0, len(*r))
	for _, tool := range *r {
		tools = append(tools, tool)
	}
	return tools
}

// GetTool retrieves a tool by name from the registry
func (r Registry) GetTool(name string) (Tool, error) {
	tool, exists := r[name]
	if !exists {
		return nil, fmt.Errorf("tool %q not found in registry", name)
	}
	return tool, nil
}

// Specs converts tools into the prompt-facing tool descriptions.
func Specs(ts []Tool) []menuagent.ToolSpec {
	specs := make([]menuagent.ToolSpec, 0, len(ts))
	for _, t := range ts {
		specs = append(specs, menuagent.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return specs
}
