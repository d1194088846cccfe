package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	sdkclient "github.com/mark3labs/mcp-go/client"
	sdkmcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/relaymesh/relay/internal/apperr"
)

// clientVersion is reported to every MCP server during the initialize handshake.
const clientVersion = "0.1.0"

// Client wraps a single MCP server connection using
// github.com/mark3labs/mcp-go's client package for wire framing, grounded
// directly on the teacher's own internal/mcp/client.go (Connect/ListTools/
// CallTool/Close delegating straight to an sdkclient.MCPClient). Generalized
// across this module's four ServerConfig kinds: KindHTTPRemote and
// KindHTTPLocal both connect over the SDK's SSE client (the only difference
// is who started the process listening at the other end — the Supervisor
// owns spawning a KindHTTPLocal child before Connect is ever called);
// KindStdin hands the SDK its command line directly, since
// NewStdioMCPClient spawns and owns the child process itself.
type Client struct {
	name string

	mu    sync.RWMutex
	inner sdkclient.MCPClient
	alive atomic.Bool
}

// NewClient creates an unconnected Client for server name. Call Connect
// before any other method.
func NewClient(name string) *Client {
	return &Client{name: name}
}

// Connect establishes the transport for cfg.Kind and performs the MCP
// initialize handshake.
func (c *Client) Connect(ctx context.Context, cfg ServerConfig) error {
	inner, err := dialSDKClient(ctx, cfg)
	if err != nil {
		return apperr.New(apperr.TransportError, "mcp.Client.Connect",
			fmt.Errorf("server %q: %w", cfg.Name, err))
	}

	_, err = inner.Initialize(ctx, sdkmcp.InitializeRequest{
		Params: sdkmcp.InitializeParams{
			ProtocolVersion: sdkmcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: sdkmcp.Implementation{
				Name:    "relay",
				Version: clientVersion,
			},
		},
	})
	if err != nil {
		_ = inner.Close()
		return apperr.New(apperr.TransportError, "mcp.Client.Connect",
			fmt.Errorf("initialize %q: %w", cfg.Name, err))
	}

	c.mu.Lock()
	c.inner = inner
	c.mu.Unlock()
	c.alive.Store(true)
	return nil
}

// dialSDKClient constructs (and for SSE, starts) the SDK transport for cfg.Kind.
func dialSDKClient(ctx context.Context, cfg ServerConfig) (sdkclient.MCPClient, error) {
	switch cfg.Kind {
	case KindStdin:
		cli, err := sdkclient.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("start stdio client: %w", err)
		}
		return cli, nil

	case KindHTTPRemote, KindHTTPLocal:
		cli, err := sdkclient.NewSSEMCPClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("create SSE client: %w", err)
		}
		if err := cli.Start(ctx); err != nil {
			return nil, fmt.Errorf("start SSE client: %w", err)
		}
		return cli, nil

	default:
		return nil, fmt.Errorf("unsupported transport kind %q", cfg.Kind)
	}
}

// ListTools calls tools/list and normalizes the SDK's typed result into
// McpFunction, marshaling each tool's typed InputSchema back to raw JSON so
// downstream code (ToolAdapter, ToolMap, FunctionCache) only ever handles
// plain JSON bytes, never an SDK type.
func (c *Client) ListTools(ctx context.Context) ([]McpFunction, error) {
	inner, err := c.connected()
	if err != nil {
		return nil, err
	}

	result, err := inner.ListTools(ctx, sdkmcp.ListToolsRequest{})
	if err != nil {
		c.alive.Store(false)
		return nil, apperr.New(apperr.TransportError, "mcp.Client.ListTools",
			fmt.Errorf("server %q: %w", c.name, err))
	}
	c.alive.Store(true)

	funcs := make([]McpFunction, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = nil // ToolAdapter.InputSchema falls back to a default empty-object schema
		}
		funcs = append(funcs, McpFunction{Name: t.Name, Description: t.Description, Parameters: schema})
	}
	return funcs, nil
}

// CallTool invokes tools/call. The three-value return keeps tool-level
// errors (isError=true, err=nil — visible to the model as feedback) distinct
// from transport/infrastructure failures (err != nil), per the apperr
// taxonomy's TransportError handling elsewhere in the Dispatcher.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (text string, isError bool, err error) {
	inner, connErr := c.connected()
	if connErr != nil {
		return "", false, connErr
	}

	req := sdkmcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, callErr := inner.CallTool(ctx, req)
	if callErr != nil {
		c.alive.Store(false)
		return "", false, apperr.New(apperr.TransportError, "mcp.Client.CallTool",
			fmt.Errorf("server %q tool %q: %w", c.name, name, callErr))
	}
	c.alive.Store(true)

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(sdkmcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), result.IsError, nil
}

// Probe performs a best-effort tools/list with a fixed timeout, used by the
// Health Monitor for HTTP-reached servers so a slow call doesn't get
// conflated with a tool call's own timeout budget.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) bool {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := c.ListTools(probeCtx)
	return err == nil
}

// Alive reports the last-observed reachability of the server.
func (c *Client) Alive() bool {
	return c.alive.Load()
}

func (c *Client) connected() (sdkclient.MCPClient, error) {
	c.mu.RLock()
	inner := c.inner
	c.mu.RUnlock()
	if inner == nil {
		return nil, apperr.New(apperr.TransportError, "mcp.Client", fmt.Errorf("server %q: not connected", c.name))
	}
	return inner, nil
}

// Close releases the underlying SDK client (and, for stdio, its child process).
func (c *Client) Close() error {
	c.mu.Lock()
	inner := c.inner
	c.inner = nil
	c.mu.Unlock()
	c.alive.Store(false)
	if inner == nil {
		return nil
	}
	return inner.Close()
}
