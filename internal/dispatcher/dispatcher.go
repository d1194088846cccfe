// Package dispatcher resolves model tool_calls to a server (builtin or MCP),
// executes them respecting health and cancellation, and applies the
// Large-Response Gate and loop detection before results flow back into the
// Session Engine's message log.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relaymesh/relay/internal/apperr"
	"github.com/relaymesh/relay/internal/llm"
	"github.com/relaymesh/relay/internal/mcp"
	"github.com/relaymesh/relay/internal/tool"
)

// CancelFlag is a process-wide cooperative cancellation signal shared by
// every task spawned for one operation, grounded on the teacher's
// *atomic.Bool readiness flag in internal/runtime (generalized here into a
// reusable set/get/reset type). Animation cancellation uses a distinct
// CancelFlag instance so its teardown never races with a user-intent cancel.
type CancelFlag struct {
	flag atomic.Bool
}

func NewCancelFlag() *CancelFlag { return &CancelFlag{} }

func (c *CancelFlag) Cancel() { c.flag.Store(true) }

func (c *CancelFlag) Cancelled() bool { return c.flag.Load() }

func (c *CancelFlag) Reset() { c.flag.Store(false) }

// Result is one tool call's outcome, ready to become a `tool` message in the
// Message Log.
type Result struct {
	ToolCallID string
	ToolName   string
	Text       string
	IsError    bool
	Elapsed    time.Duration
}

// maxHistoryLen bounds the rolling CallRecord history the loop detector
// inspects; only the most recent window actually matters (loopWindowSize),
// but a little slack avoids truncating mid-burst.
const maxHistoryLen = loopWindowSize * 4

// Dispatcher implements spec §4.6: resolve, health-gate, execute, envelope,
// and gate every tool call, whether builtin or MCP-routed.
type Dispatcher struct {
	registry   *tool.Registry
	toolMap    *mcp.ToolMap
	supervisor *mcp.Supervisor
	gate       *Gate
	logger     *zap.Logger

	mu       sync.Mutex
	history  []CallRecord
	detector LoopDetector
}

// New builds a Dispatcher. gate and logger may be nil (defaults: an
// always-accept non-interactive gate, and a no-op logger).
func New(registry *tool.Registry, toolMap *mcp.ToolMap, supervisor *mcp.Supervisor, gate *Gate, logger *zap.Logger) *Dispatcher {
	if gate == nil {
		gate = NewGate(0, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, toolMap: toolMap, supervisor: supervisor, gate: gate, logger: logger}
}

// Execute runs a single tool call per spec §4.6 steps 1-7. Only Cancelled
// surfaces as a Go error; every other failure (UnknownTool,
// ServerUnavailable, tool-level error, declined large output) is encoded
// into Result.IsError so the model sees it as feedback, never a crash.
func (d *Dispatcher) Execute(ctx context.Context, cancel *CancelFlag, call llm.ToolCall) (Result, error) {
	start := time.Now()

	if cancel != nil && cancel.Cancelled() {
		return Result{}, apperr.New(apperr.Cancelled, "dispatcher.execute", fmt.Errorf("tool %q cancelled before start", call.Name))
	}

	t, ok := d.registry.Get(call.Name)
	if !ok {
		return d.finish(call, d.unknownToolMessage(call.Name), true, start), nil
	}

	if server, routed := d.toolMap.GetServer(call.Name); routed {
		health, _, _ := d.supervisor.Snapshot(server)
		if health != mcp.HealthRunning {
			text := fmt.Sprintf("server %q is unavailable (health=%s); it will be retried by the health monitor, not this call", server, health)
			d.logger.Warn("tool call against unhealthy server", zap.String("tool", call.Name), zap.String("server", server), zap.String("health", string(health)))
			return d.finish(call, text, true, start), nil
		}
	}

	res, execErr := t.Execute(ctx, call.Arguments)
	if execErr != nil {
		d.record(call.Name, call.Arguments, true)
		return d.finish(call, execErr.Error(), true, start), nil
	}

	isError := res.Error != ""
	text := res.Output
	if isError {
		text = res.Error
	}
	d.record(call.Name, call.Arguments, isError)

	if !isError {
		gated := d.gate.Check(ctx, call.Name, text)
		if !gated.Accepted {
			return d.finish(call, gated.Text, true, start), nil
		}
		text = gated.Text
	}

	return d.finish(call, text, isError, start), nil
}

func (d *Dispatcher) finish(call llm.ToolCall, text string, isError bool, start time.Time) Result {
	elapsed := time.Since(start)
	d.logger.Debug("tool call finished",
		zap.String("tool", call.Name), zap.Bool("error", isError), zap.Duration("elapsed", elapsed))
	return Result{ToolCallID: call.ID, ToolName: call.Name, Text: text, IsError: isError, Elapsed: elapsed}
}

func (d *Dispatcher) record(name string, args json.RawMessage, isError bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, CallRecord{ToolName: name, Arguments: string(args), IsError: isError})
	if len(d.history) > maxHistoryLen {
		d.history = d.history[len(d.history)-maxHistoryLen:]
	}
}

// CheckLoop runs the loop detector over the call history accumulated since
// the last ResetLoopHistory. The Session Runner calls this after every
// ExecutingTools round (spec §7 LoopDetected).
func (d *Dispatcher) CheckLoop() Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detector.Check(d.history)
}

// ResetLoopHistory clears the rolling call history so the next CheckLoop
// starts from an empty window.
func (d *Dispatcher) ResetLoopHistory() {
	d.mu.Lock()
	d.history = nil
	d.mu.Unlock()
}

func (d *Dispatcher) unknownToolMessage(name string) string {
	seen := make(map[string]bool)
	var names []string
	for _, n := range d.toolMap.AllToolNames() {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, t := range d.registry.List() {
		if !seen[t.Name()] {
			seen[t.Name()] = true
			names = append(names, t.Name())
		}
	}
	sort.Strings(names)
	return fmt.Sprintf("unknown tool %q; available tools: %s", name, strings.Join(names, ", "))
}

// ParallelExecute fans out every call concurrently and collects results in
// completion order (not call order — the provider matches by tool_call_id,
// so ordering doesn't matter downstream). On cancellation (ctx.Done()),
// already-completed results are retained and returned immediately;
// still-running goroutines are abandoned — their child processes, if any,
// remain owned by the Supervisor and are not killed here.
func (d *Dispatcher) ParallelExecute(ctx context.Context, cancel *CancelFlag, calls []llm.ToolCall) []Result {
	if len(calls) == 0 {
		return nil
	}

	ch := make(chan Result, len(calls))
	for _, call := range calls {
		go func(call llm.ToolCall) {
			r, err := d.Execute(ctx, cancel, call)
			if err != nil {
				r = Result{ToolCallID: call.ID, ToolName: call.Name, IsError: true, Text: err.Error()}
			}
			ch <- r
		}(call)
	}

	results := make([]Result, 0, len(calls))
	for len(results) < len(calls) {
		select {
		case r := <-ch:
			results = append(results, r)
		case <-ctx.Done():
			return results
		}
	}
	return results
}
