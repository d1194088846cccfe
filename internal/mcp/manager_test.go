package mcp

import (
	"context"
	"testing"

	"github.com/relaymesh/relay/internal/tool"
)

// seedServer drives exactly the two steps Manager.connectOne performs after a
// real ListTools call (populate the FunctionCache, then build the ToolMap
// routing entries), without needing a live MCP connection — the same
// direct-state-injection style the teacher uses in its own manager tests to
// exercise Manager logic without spinning real subprocesses.
func seedServer(t *testing.T, m *Manager, cfg ServerConfig, funcs []McpFunction) {
	t.Helper()
	if _, err := m.functions.Get(context.Background(), cfg.Name, true, cfg.AllowedTools,
		func(context.Context) ([]McpFunction, error) { return funcs, nil }); err != nil {
		t.Fatalf("seed function cache for %q: %v", cfg.Name, err)
	}
	m.toolMap.Build(cfg.Name, funcs, cfg.AllowedTools)

	m.mu.Lock()
	m.configs[cfg.Name] = cfg
	m.mu.Unlock()
}

// TestRegisterTools_SharedRawToolNameAcrossServers exercises the real
// RegisterTools path end to end for two servers that both expose a tool
// literally named "search": the Registry must end up with two distinct,
// correctly-namespaced entries, and ToolMap must route each back to its own
// server — the property the namespacing bug violated (ToolMap stored the raw
// "search" name, so the second Build silently lost the first server's route
// and Dispatcher's health gate could never match either one).
func TestRegisterTools_SharedRawToolNameAcrossServers(t *testing.T) {
	m := NewManager("unused.json")
	seedServer(t, m, ServerConfig{Name: "alpha", Kind: KindStdin}, []McpFunction{{Name: "search"}})
	seedServer(t, m, ServerConfig{Name: "beta", Kind: KindStdin}, []McpFunction{{Name: "search"}})

	registry := tool.NewRegistry()
	if err := m.RegisterTools(context.Background(), registry); err != nil {
		t.Fatalf("RegisterTools: %v", err)
	}

	if _, ok := registry.Get("mcp_alpha__search"); !ok {
		t.Error("registry missing mcp_alpha__search")
	}
	if _, ok := registry.Get("mcp_beta__search"); !ok {
		t.Error("registry missing mcp_beta__search")
	}

	if server, ok := m.toolMap.GetServer("mcp_alpha__search"); !ok || server != "alpha" {
		t.Errorf("toolMap.GetServer(mcp_alpha__search) = (%q, %v), want (alpha, true)", server, ok)
	}
	if server, ok := m.toolMap.GetServer("mcp_beta__search"); !ok || server != "beta" {
		t.Errorf("toolMap.GetServer(mcp_beta__search) = (%q, %v), want (beta, true)", server, ok)
	}
}

// TestRemoveServers_UnregistersNamespacedToolName is the hot-reload
// regression test for the Unregister mismatch: AllToolNames() now returns
// the namespaced key Registry actually stores its tools under, so removing
// one server drops exactly its own tools and leaves an unrelated server's
// tools registered and routable.
func TestRemoveServers_UnregistersNamespacedToolName(t *testing.T) {
	m := NewManager("unused.json")
	seedServer(t, m, ServerConfig{Name: "alpha", Kind: KindStdin}, []McpFunction{{Name: "search"}})
	seedServer(t, m, ServerConfig{Name: "beta", Kind: KindStdin}, []McpFunction{{Name: "search"}})

	registry := tool.NewRegistry()
	if err := m.RegisterTools(context.Background(), registry); err != nil {
		t.Fatalf("RegisterTools: %v", err)
	}

	removed := m.removeServers(registry, []string{"alpha"})
	if removed != 1 {
		t.Fatalf("removeServers returned %d, want 1", removed)
	}

	if _, ok := registry.Get("mcp_alpha__search"); ok {
		t.Error("mcp_alpha__search should have been unregistered")
	}
	if _, ok := registry.Get("mcp_beta__search"); !ok {
		t.Error("mcp_beta__search should remain registered after removing alpha")
	}
	if _, ok := m.toolMap.GetServer("mcp_alpha__search"); ok {
		t.Error("toolMap should no longer route mcp_alpha__search")
	}

	m.mu.Lock()
	_, stillConfigured := m.configs["alpha"]
	m.mu.Unlock()
	if stillConfigured {
		t.Error("alpha should have been dropped from configs")
	}
}
