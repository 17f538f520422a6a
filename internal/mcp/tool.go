package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fluxterm/agentcore/internal/llm"
)

// MCPTool wraps a single MCP server tool as an llm.Tool. exposedName is the
// name the catalog assigned after collision resolution (bare, or
// "<server>___<tool>" if another origin already claimed the bare name);
// localName is always the server's own, unprefixed tool name used on the
// wire.
type MCPTool struct {
	manager     *Manager
	server      string
	localName   string
	exposedName string
	description string
	schema      map[string]any
}

// NewMCPTool creates a new MCP tool wrapper.
func NewMCPTool(manager *Manager, server string, spec ToolSpec, exposedName string) *MCPTool {
	return &MCPTool{
		manager:     manager,
		server:      server,
		localName:   spec.Name,
		exposedName: exposedName,
		description: spec.Description,
		schema:      spec.Schema,
	}
}

// Spec returns the tool specification for the LLM.
func (t *MCPTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.exposedName,
		Description: fmt.Sprintf("[%s] %s", t.server, t.description),
		Schema:      t.schema,
	}
}

// Preview returns a short description of the pending call. MCP tool specs
// carry no structured argument shape for us to inspect generically, so this
// just names the server and tool being invoked.
func (t *MCPTool) Preview(args json.RawMessage) string {
	return fmt.Sprintf("%s: %s", t.server, t.localName)
}

// Execute invokes the tool on the MCP server.
func (t *MCPTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	result, err := t.manager.CallTool(ctx, t.server, t.localName, args)
	if err != nil {
		return llm.ErrorOutput(err.Error()), nil
	}
	return llm.TextOutput(result), nil
}
