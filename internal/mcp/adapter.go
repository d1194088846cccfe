package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaymesh/relay/internal/tool"
)

// mcpToolTimeout caps a single MCP tool call so a hung server fails quickly
// and the Dispatcher can still surface a usable error to the model within
// its own call budget.
const mcpToolTimeout = 60 * time.Second

// ToolAdapter bridges a single MCP server tool to the tool.Tool interface,
// making it indistinguishable from native built-in tools to the Dispatcher
// and Registry.
//
// Naming convention: mcp_<serverName>__<toolName> (double underscore
// separator, unambiguous against single-underscore server/tool names).
type ToolAdapter struct {
	serverName string
	fn         McpFunction
	client     func() (*Client, error) // resolves the live client lazily, via Supervisor
}

// NewToolAdapter creates an adapter for a single MCP tool. client is called
// on every Execute so the adapter always reaches the current live
// connection, even across a server restart replacing the underlying *Client.
func NewToolAdapter(serverName string, fn McpFunction, client func() (*Client, error)) *ToolAdapter {
	return &ToolAdapter{serverName: serverName, fn: fn, client: client}
}

// Name returns the fully-qualified tool name: mcp_<server>__<tool>.
func (a *ToolAdapter) Name() string {
	return namespacedToolName(a.serverName, a.fn.Name)
}

// namespacedToolName is the single source of truth for the mcp_<server>__<tool>
// format. Every component that keys a tool by name off an MCP server and raw
// tool name (ToolAdapter, ToolMap) must call this instead of formatting the
// string itself, so the Registry key, the LLM-visible name, and the ToolMap
// routing key can never drift apart.
func namespacedToolName(server, toolName string) string {
	return fmt.Sprintf("mcp_%s__%s", server, toolName)
}

// Description returns the tool description reported by the MCP server.
func (a *ToolAdapter) Description() string {
	return a.fn.Description
}

// InputSchema returns the JSON Schema the MCP server provided.
func (a *ToolAdapter) InputSchema() json.RawMessage {
	if len(a.fn.Parameters) == 0 {
		return tool.BuildSchema()
	}
	return a.fn.Parameters
}

// Execute deserializes the JSON args and delegates to the MCP server via
// tools/call. Both infrastructure errors and MCP tool-level errors are
// returned as tool.ToolResult.Error (nil Go error) so the model sees them as
// part of the feedback signal rather than a crash.
func (a *ToolAdapter) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var params map[string]any
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &params); err != nil {
			return tool.ToolResult{Error: fmt.Sprintf("mcp adapter: parse args for %q: %v", a.Name(), err)}, nil
		}
	}

	cli, err := a.client()
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("mcp adapter: server %q unavailable: %v", a.serverName, err)}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, mcpToolTimeout)
	defer cancel()

	text, isError, err := cli.CallTool(callCtx, a.fn.Name, params)
	if err != nil {
		return tool.ToolResult{Error: err.Error()}, nil
	}
	if isError {
		return tool.ToolResult{Error: text}, nil
	}
	return tool.ToolResult{Output: text}, nil
}

// Init is a no-op: connection lifecycle is owned by the Supervisor.
func (a *ToolAdapter) Init(_ context.Context) error { return nil }

// Close is a no-op: connection lifecycle is owned by the Supervisor.
func (a *ToolAdapter) Close() error { return nil }
