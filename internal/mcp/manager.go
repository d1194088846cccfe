package mcp

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/relay/internal/prompt"
	"github.com/relaymesh/relay/internal/tool"
)

// ReloadHook is called at the end of every Reload invocation. It receives
// the same ctx and registry so hooks can register/unregister tools. Its
// returned string (may be empty) is appended to the reload summary.
type ReloadHook func(ctx context.Context, registry *tool.Registry) string

// Manager is the single source of truth for which MCP servers are active and
// which tool adapters are registered in the tool.Registry. It owns a
// Supervisor, FunctionCache, ToolMap and HealthMonitor, and drives
// ConnectAll/Reload the same lock-snapshot-then-network-IO-then-lock way the
// original connection manager did, now generalized across the tagged
// ServerConfig variants.
type Manager struct {
	configPath string

	mu      sync.Mutex
	configs map[string]ServerConfig

	supervisor   *Supervisor
	functions    *FunctionCache
	toolMap      *ToolMap
	health       *HealthMonitor
	promptLoader *prompt.PromptLoader
	reloadHooks  []ReloadHook
}

// NewManager creates a Manager for the given mcp.json path. No connections
// are established until ConnectAll is called.
func NewManager(configPath string) *Manager {
	m := &Manager{
		configPath: configPath,
		configs:    make(map[string]ServerConfig),
		supervisor: NewSupervisor(),
		functions:  NewFunctionCache(),
		toolMap:    NewToolMap(),
	}
	m.health = NewHealthMonitor(m.supervisor, m.snapshotConfigs)
	return m
}

func (m *Manager) snapshotConfigs() map[string]ServerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ServerConfig, len(m.configs))
	for k, v := range m.configs {
		out[k] = v
	}
	return out
}

// SetPromptLoader registers a PromptLoader so Reload also invalidates the
// prompt cache. Must be called before the first Reload. Safe for concurrent use.
func (m *Manager) SetPromptLoader(l *prompt.PromptLoader) {
	m.mu.Lock()
	m.promptLoader = l
	m.mu.Unlock()
}

// AddReloadHook registers a function called at the end of every Reload, in
// registration order. Safe for concurrent use.
func (m *Manager) AddReloadHook(hook ReloadHook) {
	m.mu.Lock()
	m.reloadHooks = append(m.reloadHooks, hook)
	m.mu.Unlock()
}

// StartHealthMonitor arms the 30s background liveness tick.
func (m *Manager) StartHealthMonitor(ctx context.Context) {
	m.health.Start(ctx)
}

// ToolMap exposes the routing table for the Dispatcher.
func (m *Manager) ToolMap() *ToolMap { return m.toolMap }

// Supervisor exposes process state for the Dispatcher's health gate (§4.6 step 3).
func (m *Manager) Supervisor() *Supervisor { return m.supervisor }

// ConnectAll loads the config and connects to every configured server
// (builtin excepted) concurrently, then builds the ToolMap from the results.
// Each server's connect is independent network I/O, so they fan out the same
// way the Dispatcher fans out a single turn's tool calls; failures are
// per-server and never abort the others. Registration against the
// tool.Registry itself stays sequential in RegisterTools, keyed by
// orderedNames, so first-wins tool routing stays deterministic regardless of
// which server happened to finish connecting first.
func (m *Manager) ConnectAll(ctx context.Context) (int, []error) {
	configs, err := LoadConfig(m.configPath)
	if err != nil {
		return 0, []error{fmt.Errorf("mcp: load config: %w", err)}
	}

	m.mu.Lock()
	m.configs = configs
	m.mu.Unlock()

	names := orderedNames(configs)
	var mu sync.Mutex
	connected := 0
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		cfg := configs[name]
		if cfg.Kind == KindBuiltin {
			connected++
			continue
		}
		g.Go(func() error {
			if err := m.connectOne(gctx, cfg); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("server %q: %w", name, err))
				mu.Unlock()
				log.Printf("[MCP] connect failed: %s: %v", name, err)
				return nil
			}
			mu.Lock()
			connected++
			mu.Unlock()
			log.Printf("[MCP] connected: %s (%s)", name, cfg.Kind)
			return nil
		})
	}
	_ = g.Wait() // per-server errors are collected above, never returned here

	return connected, errs
}

func (m *Manager) connectOne(ctx context.Context, cfg ServerConfig) error {
	client, err := m.supervisor.EnsureRunning(ctx, cfg)
	if err != nil {
		return err
	}
	funcs, err := client.ListTools(ctx)
	if err != nil {
		return err
	}
	m.functions.Clear(cfg.Name) // defensive: ensure a fresh Get below populates from this call
	if _, err := m.functions.Get(ctx, cfg.Name, true, cfg.AllowedTools, func(context.Context) ([]McpFunction, error) {
		return funcs, nil
	}); err != nil {
		return err
	}
	m.toolMap.Build(cfg.Name, funcs, cfg.AllowedTools)
	return nil
}

// RegisterTools registers a tool.Registry adapter for every function the
// ToolMap has routed to a live connection. Builtin tools are registered by
// the caller directly (Manager has no opinion on builtin tool construction).
func (m *Manager) RegisterTools(ctx context.Context, registry *tool.Registry) error {
	m.mu.Lock()
	configs := make(map[string]ServerConfig, len(m.configs))
	for k, v := range m.configs {
		configs[k] = v
	}
	m.mu.Unlock()

	for _, name := range orderedNames(configs) {
		cfg := configs[name]
		if cfg.Kind == KindBuiltin {
			continue
		}
		funcs, err := m.functions.Get(ctx, name, m.supervisor.IsRunning(name), cfg.AllowedTools, func(ctx context.Context) ([]McpFunction, error) {
			client, err := m.supervisor.EnsureRunning(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return client.ListTools(ctx)
		})
		if err != nil {
			return fmt.Errorf("mcp: register tools for %q: %w", name, err)
		}
		serverName := name
		for _, fn := range funcs {
			adapter := NewToolAdapter(serverName, fn, func() (*Client, error) {
				return m.supervisor.EnsureRunning(ctx, configs[serverName])
			})
			registry.Register(adapter)
		}
		log.Printf("[MCP] registered %d tool(s) from server %q", len(funcs), name)
	}
	return nil
}

// Reload re-reads mcp.json and applies a diff: added servers are
// security-scanned (stdio scripts ending in .py/.ts/.js), connected, and registered;
// removed servers are unregistered and disconnected; unchanged servers are
// left untouched. Returns a human-readable summary; per-server failures are
// described in the summary but do not make Reload itself fail.
func (m *Manager) Reload(ctx context.Context, registry *tool.Registry) (string, error) {
	newConfigs, err := LoadConfig(m.configPath)
	if err != nil {
		return "", fmt.Errorf("mcp reload: load config: %w", err)
	}

	m.mu.Lock()
	toRemove := make([]string, 0)
	toAdd := make([]ServerConfig, 0)
	unchanged := 0
	for name := range m.configs {
		if _, exists := newConfigs[name]; !exists {
			toRemove = append(toRemove, name)
		}
	}
	for name, cfg := range newConfigs {
		if _, exists := m.configs[name]; !exists {
			toAdd = append(toAdd, cfg)
		} else {
			unchanged++
		}
	}
	m.mu.Unlock()

	removed := m.removeServers(registry, toRemove)
	added, notices := m.addServers(ctx, registry, toAdd)

	summary := fmt.Sprintf("MCP reload: +%d connected, -%d removed, %d unchanged", added, removed, unchanged)
	if len(notices) > 0 {
		summary += "\n" + strings.Join(notices, "\n")
	}

	m.mu.Lock()
	pl := m.promptLoader
	hooks := make([]ReloadHook, len(m.reloadHooks))
	copy(hooks, m.reloadHooks)
	m.mu.Unlock()

	if pl != nil {
		pl.Reload()
		summary += "\nPrompt cache cleared."
	}
	for _, hook := range hooks {
		if s := hook(ctx, registry); s != "" {
			summary += "\n" + s
		}
	}
	return summary, nil
}

func (m *Manager) removeServers(registry *tool.Registry, names []string) int {
	removed := 0
	for _, name := range names {
		for _, toolName := range m.toolMap.AllToolNames() {
			if server, ok := m.toolMap.GetServer(toolName); ok && server == name {
				registry.Unregister(toolName)
			}
		}
		m.toolMap.RemoveServer(name)
		m.functions.Clear(name)
		if err := m.supervisor.Stop(name); err != nil {
			log.Printf("[MCP] stop %q: %v", name, err)
		}
		m.supervisor.remove(name)

		m.mu.Lock()
		delete(m.configs, name)
		m.mu.Unlock()

		removed++
		log.Printf("[MCP] disconnected: %s", name)
	}
	return removed
}

func (m *Manager) addServers(ctx context.Context, registry *tool.Registry, toAdd []ServerConfig) (int, []string) {
	added := 0
	var notices []string

	for _, cfg := range toAdd {
		if cfg.Kind == KindStdin || cfg.Kind == KindHTTPLocal {
			if blocked, notice := m.securityScan(cfg); blocked {
				notices = append(notices, notice)
				continue
			} else if notice != "" {
				notices = append(notices, notice)
			}
		}

		if err := m.connectOne(ctx, cfg); err != nil {
			notices = append(notices, fmt.Sprintf("[WARNING] connect %q: %v", cfg.Name, err))
			continue
		}

		funcs, err := m.functions.Get(ctx, cfg.Name, true, cfg.AllowedTools, func(context.Context) ([]McpFunction, error) { return nil, fmt.Errorf("unreachable") })
		if err != nil {
			// connectOne already populated the cache; a miss here would be a bug, but
			// degrade gracefully rather than fail the whole reload.
			funcs = nil
		}
		serverName := cfg.Name
		for _, fn := range funcs {
			adapter := NewToolAdapter(serverName, fn, func() (*Client, error) {
				return m.supervisor.EnsureRunning(ctx, cfg)
			})
			registry.Register(adapter)
		}

		m.mu.Lock()
		m.configs[cfg.Name] = cfg
		m.mu.Unlock()

		added++
		log.Printf("[MCP] connected: %s (%s), %d tool(s)", cfg.Name, cfg.Kind, len(funcs))
	}
	return added, notices
}

// securityScan runs the static scanner against a stdio/http_local server's
// script (if its command or args reference a scannable script file) and
// persists the result to the server's _meta bag.
func (m *Manager) securityScan(cfg ServerConfig) (blocked bool, notice string) {
	pyScript := findScannableScript(cfg)
	if pyScript == "" {
		return false, ""
	}
	findings, err := ScanScript(pyScript)
	today := time.Now().Format("2006-01-02")
	if err != nil {
		return false, fmt.Sprintf("[WARNING] scan error for %q: %v", cfg.Name, err)
	}
	if HasCritical(findings) {
		LogFindings(cfg.Name, findings)
		var lines []string
		lines = append(lines, fmt.Sprintf("[BLOCKED] server %q: critical security findings in %s", cfg.Name, pyScript))
		for _, f := range findings {
			if f.Severity == SeverityCritical {
				lines = append(lines, fmt.Sprintf("  [%s] line %d: %s", f.Rule, f.Line, f.Snippet))
			}
		}
		if err := updateServerMeta(m.configPath, cfg.Name, map[string]string{"scan_result": "blocked", "scanned_at": today}); err != nil {
			log.Printf("[MCP] updateServerMeta: %v", err)
		}
		return true, strings.Join(lines, "\n")
	}
	LogFindings(cfg.Name, findings)
	scanResult := "clean"
	if len(findings) > 0 {
		scanResult = "warning"
	}
	if err := updateServerMeta(m.configPath, cfg.Name, map[string]string{"scan_result": scanResult, "scanned_at": today}); err != nil {
		log.Printf("[MCP] updateServerMeta: %v", err)
	}
	return false, ""
}

// CloseAll terminates every active MCP server connection and stops the
// health monitor. Safe to call multiple times.
func (m *Manager) CloseAll() {
	m.health.Stop()
	m.supervisor.StopAll()
	log.Printf("[MCP] all connections closed")
}

// scannableScriptExtensions mirrors scanner.go's scannedExtensions: a .py,
// .ts, or .js command/arg is what securityScan has a rule set for.
var scannableScriptExtensions = []string{".py", ".ts", ".js", ".mjs", ".cjs"}

func findScannableScript(cfg ServerConfig) string {
	if hasScannableSuffix(cfg.Command) {
		return cfg.Command
	}
	for _, arg := range cfg.Args {
		if hasScannableSuffix(arg) {
			return arg
		}
	}
	return ""
}

func hasScannableSuffix(s string) bool {
	for _, ext := range scannableScriptExtensions {
		if strings.HasSuffix(s, ext) {
			return true
		}
	}
	return false
}

// orderedNames returns configs' keys sorted in a stable order that matches
// how mcp.json would typically be authored (alphabetical), used wherever
// iteration order affects first-wins routing determinism.
func orderedNames(configs map[string]ServerConfig) []string {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}
