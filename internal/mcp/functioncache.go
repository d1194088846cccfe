package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// McpFunction is the {name, description, parameters} triple produced by a
// server's tools/list response, cached per server until the server restarts.
type McpFunction struct {
	Name        string
	Description string
	Parameters  []byte // JSON Schema
}

// FunctionCache memoizes tools/list results per server. It has no TTL; the
// only invalidation is an explicit Clear on restart, grounded on the
// teacher's literal per-server perCallToolInfos cache generalized to the
// general cache-with-invalidation-on-restart rule.
type FunctionCache struct {
	mu    sync.RWMutex
	funcs map[string][]McpFunction
}

// NewFunctionCache creates an empty cache.
func NewFunctionCache() *FunctionCache {
	return &FunctionCache{funcs: make(map[string][]McpFunction)}
}

// Get returns the cached function list for server, calling tools/list via
// call if there is a cache miss and the server is reachable. If the server
// is not reachable (builtin excluded — callers never ask for builtin here),
// Get returns fallback functions built from allowedTools so the LLM can
// still see tool names without provoking a spawn.
func (c *FunctionCache) Get(ctx context.Context, server string, reachable bool, allowedTools []string, call func(ctx context.Context) ([]McpFunction, error)) ([]McpFunction, error) {
	c.mu.RLock()
	if cached, ok := c.funcs[server]; ok {
		clone := make([]McpFunction, len(cached))
		copy(clone, cached)
		c.mu.RUnlock()
		return clone, nil
	}
	c.mu.RUnlock()

	if !reachable {
		return fallbackFunctions(server, allowedTools), nil
	}

	funcs, err := call(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: function cache fetch %q: %w", server, err)
	}

	c.mu.Lock()
	c.funcs[server] = funcs
	c.mu.Unlock()

	clone := make([]McpFunction, len(funcs))
	copy(clone, funcs)
	return clone, nil
}

// Clear invalidates the cached function list for server (called on restart).
func (c *FunctionCache) Clear(server string) {
	c.mu.Lock()
	delete(c.funcs, server)
	c.mu.Unlock()
}

// fallbackFunctions builds lightweight placeholders from a server's
// allowed_tools patterns, described as "server not started", filtering out
// wildcard-only patterns which carry no literal name to show.
func fallbackFunctions(server string, allowedTools []string) []McpFunction {
	out := make([]McpFunction, 0, len(allowedTools))
	for _, pattern := range allowedTools {
		name := pattern
		if idx := strings.Index(pattern, ":"); idx >= 0 {
			name = pattern[idx+1:]
		}
		if strings.Contains(name, "*") {
			continue
		}
		out = append(out, McpFunction{
			Name:        name,
			Description: fmt.Sprintf("(server %q not started)", server),
		})
	}
	return out
}
