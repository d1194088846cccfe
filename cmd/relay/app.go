// Package main implements the relay CLI: the thin outer shell around the
// MCP tool-federation core and session-orchestration core (spec §6 "External
// Interfaces"). Subcommands: config, session, run, ask, shell, vars,
// completion.
//
// Environment variables: LLM_API_KEY/LLM_MODEL/LLM_BASE_URL (or
// ANTHROPIC_API_KEY/ANTHROPIC_MODEL for the native provider, selected via
// LLM_PROVIDER=anthropic), WORKSPACE_DIR, MCP_CONFIG, PROMPTS_DIR,
// USER_RULES_PATH, SOUL_PATH, SESSION_TTL_MINUTES, BRAVE_API_KEY,
// TOOL_SHELL_ENABLED, TOOL_HTTP_ENABLED.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/relaymesh/relay/internal/config"
	"github.com/relaymesh/relay/internal/dispatcher"
	"github.com/relaymesh/relay/internal/layer"
	"github.com/relaymesh/relay/internal/llm"
	"github.com/relaymesh/relay/internal/llm/anthropic"
	"github.com/relaymesh/relay/internal/llm/openai"
	"github.com/relaymesh/relay/internal/mcp"
	"github.com/relaymesh/relay/internal/prompt"
	"github.com/relaymesh/relay/internal/session"
	"github.com/relaymesh/relay/internal/tool"
	"github.com/relaymesh/relay/internal/tool/builtin"
)

// version/commit/date are populated at build time via -ldflags, following
// the same pattern the CLI-shaped examples in the retrieval pack use for
// `<cmd> --version` output.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// App bundles every collaborator a subcommand needs, built once per process
// invocation from the environment (spec's "only their interfaces are
// pinned" — concrete wiring here is boundary, not core).
type App struct {
	WorkspaceDir string
	Engine       *config.EngineConfig
	Logger       *zap.Logger

	Provider    llm.LLMProvider
	Providers   map[string]llm.LLMProvider // name -> provider, for layer.ProviderResolver
	Registry    *tool.Registry
	ToolDefs    []llm.ToolDefinition
	Dispatch    *dispatcher.Dispatcher
	MCPManager  *mcp.Manager
	Prompt      *prompt.PromptLoader
	Layers      *layer.Processor
	Cache       *session.Cache

	closers []func()
}

// Close releases every resource opened while building the App (registry
// tools, MCP connections, the session cache's eviction goroutine), in
// reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires the full runtime from environment variables, following the
// teacher's cmd/omega/main.go sequence (LoadEnv → LLM client → tool registry
// + builtins → prompt loader → MCP manager (optional) → session cache →
// runner collaborators), generalized to support either LLM provider and to
// feed a cobra-driven CLI instead of an HTTP server.
func buildApp(ctx context.Context) (*App, error) {
	config.LoadEnv()

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}

	workspaceDir := os.Getenv("WORKSPACE_DIR")
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}
	if info, err := os.Stat(workspaceDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("relay: WORKSPACE_DIR %q does not exist or is not a directory", workspaceDir)
	}

	app := &App{
		WorkspaceDir: workspaceDir,
		Engine:       config.NewEngineConfigFromEnv(),
		Logger:       logger,
		Providers:    make(map[string]llm.LLMProvider),
	}

	if err := app.wireProviders(); err != nil {
		return nil, err
	}
	app.wireRegistry()
	if err := app.Registry.InitAll(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("relay: init tools: %w", err)
	}
	app.closers = append(app.closers, app.Registry.CloseAll)

	app.wirePrompt()
	app.wireMCP(ctx)
	app.wireDispatcher()
	app.wireLayers()
	app.wireCache()

	return app, nil
}

func (a *App) wireProviders() error {
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		client, err := openai.NewClientFromEnv()
		if err != nil {
			return fmt.Errorf("relay: openai client: %w", err)
		}
		a.Providers["openai"] = client
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		client, err := anthropic.NewClientFromEnv()
		if err != nil {
			return fmt.Errorf("relay: anthropic client: %w", err)
		}
		a.Providers["anthropic"] = client
	}

	preferred := os.Getenv("LLM_PROVIDER")
	if preferred != "" {
		p, ok := a.Providers[preferred]
		if !ok {
			return fmt.Errorf("relay: LLM_PROVIDER=%q has no matching API key configured", preferred)
		}
		a.Provider = p
		return nil
	}
	if p, ok := a.Providers["anthropic"]; ok {
		a.Provider = p
		return nil
	}
	if p, ok := a.Providers["openai"]; ok {
		a.Provider = p
		return nil
	}
	return fmt.Errorf("relay: no LLM provider configured; set LLM_API_KEY or ANTHROPIC_API_KEY")
}

func (a *App) wireRegistry() {
	registry := tool.NewRegistry()

	shellEnabled := os.Getenv("TOOL_SHELL_ENABLED") != "false"
	registry.Register(builtin.NewShellTool(a.WorkspaceDir, shellEnabled))
	registry.Register(builtin.NewFileReadTool(a.WorkspaceDir))
	registry.Register(builtin.NewFileWriteTool(a.WorkspaceDir))
	registry.Register(builtin.NewFileListTool(a.WorkspaceDir))
	registry.Register(builtin.NewFileFindTool(a.WorkspaceDir))
	registry.Register(builtin.NewTimeTool())

	if os.Getenv("TOOL_HTTP_ENABLED") != "false" {
		allowInternal := os.Getenv("TOOL_HTTP_ALLOW_INTERNAL") == "true"
		registry.Register(builtin.NewHTTPRequestTool(allowInternal))
	}

	a.Registry = registry
	a.ToolDefs = registry.GenerateToolDefinitions()
}

func (a *App) wirePrompt() {
	promptsDir := os.Getenv("PROMPTS_DIR")
	if promptsDir == "" {
		promptsDir = filepath.Join(a.WorkspaceDir, "prompts")
	}
	rulesPath := os.Getenv("USER_RULES_PATH")
	if rulesPath == "" {
		rulesPath = filepath.Join(a.WorkspaceDir, "rules.md")
	}
	soulPath := os.Getenv("SOUL_PATH")
	if soulPath == "" {
		soulPath = filepath.Join(a.WorkspaceDir, "soul.md")
	}
	a.Prompt = prompt.NewPromptLoader(promptsDir, rulesPath, soulPath)
}

func (a *App) wireMCP(ctx context.Context) {
	mcpConfigPath := os.Getenv("MCP_CONFIG")
	if mcpConfigPath == "" {
		mcpConfigPath = filepath.Join(a.WorkspaceDir, "mcp.json")
	}
	if _, err := os.Stat(mcpConfigPath); err != nil {
		return
	}

	mgr := mcp.NewManager(mcpConfigPath)
	mgr.SetPromptLoader(a.Prompt)
	a.Registry.Register(mcp.NewReloadTool(mgr, a.Registry))

	n, errs := mgr.ConnectAll(ctx)
	for _, e := range errs {
		a.Logger.Warn("mcp connect", zap.Error(e))
	}
	if n > 0 {
		if err := mgr.RegisterTools(ctx, a.Registry); err != nil {
			a.Logger.Warn("mcp register tools", zap.Error(err))
		}
		a.ToolDefs = a.Registry.GenerateToolDefinitions()
	}

	mgr.StartHealthMonitor(ctx)
	a.MCPManager = mgr
	a.closers = append(a.closers, mgr.CloseAll)
}

func (a *App) wireDispatcher() {
	var toolMap *mcp.ToolMap
	var supervisor *mcp.Supervisor
	if a.MCPManager != nil {
		toolMap = a.MCPManager.ToolMap()
		supervisor = a.MCPManager.Supervisor()
	} else {
		toolMap = mcp.NewToolMap()
		supervisor = mcp.NewSupervisor()
	}

	gateThreshold := a.Engine.MCPResponseWarningThreshold
	prompter := dispatcher.Prompter(dispatcher.NonInteractivePrompter{})
	if isInteractive() {
		prompter = dispatcher.NewStdPrompter(bufio.NewReader(os.Stdin))
	}
	gate := dispatcher.NewGate(gateThreshold, prompter)

	zapLogger := a.Logger
	a.Dispatch = dispatcher.New(a.Registry, toolMap, supervisor, gate, zapLogger)
}

func (a *App) wireLayers() {
	defs, errs := layer.ScanDir(a.WorkspaceDir)
	for _, e := range errs {
		a.Logger.Warn("layer scan", zap.Error(e))
	}
	if len(defs) == 0 {
		return
	}
	resolver := func(model string) llm.LLMProvider {
		if model == "" {
			return a.Provider
		}
		for _, p := range a.Providers {
			if p.GetName() == model {
				return p
			}
		}
		return a.Provider
	}
	a.Layers = layer.NewProcessor(defs, a.Registry, a.Dispatch, resolver)
}

func (a *App) wireCache() {
	ttl := 30 * time.Minute
	if v := os.Getenv("SESSION_TTL_MINUTES"); v != "" {
		if n, err := time.ParseDuration(v + "m"); err == nil && n > 0 {
			ttl = n
		}
	}
	a.Cache = session.NewCache(ttl)
	a.closers = append(a.closers, a.Cache.Close)
}

// newRunner builds a session.Runner over the App's collaborators for a
// single session Entry, binding the Entry's own Info/CostGuard to the
// shared Dispatch/Tools/Provider and to a Checkpoint manager and Truncator
// built fresh on each call.
func (a *App) newRunner(entry *session.Entry) *session.Runner {
	ckpt := session.NewCacheCheckpointManager(a.supportsCaching(), a.Engine.CacheTokensThreshold, a.Engine.CacheBreakpointBudget)
	trunc := session.NewContextTruncator(a.Engine.MaxRequestTokensThreshold, a.Engine.MaxRequestTokensThreshold > 0)
	return session.NewRunner(a.Provider, a.ToolDefs, a.Dispatch, entry.CostGuard, entry.Info, ckpt, trunc)
}

func (a *App) supportsCaching() bool {
	cp, ok := a.Provider.(llm.CachingProvider)
	return ok && cp.SupportsCaching()
}

// isInteractive reports whether stdin is a TTY, deciding between the
// Large-Response Gate's interactive StdPrompter and the non-interactive
// always-allow path (spec §6 "run <input> ... TTY-detected").
func isInteractive() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

