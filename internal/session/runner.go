package session

import (
	"context"
	"fmt"

	"github.com/relaymesh/relay/internal/apperr"
	"github.com/relaymesh/relay/internal/core"
	"github.com/relaymesh/relay/internal/dispatcher"
	"github.com/relaymesh/relay/internal/llm"
)

// Phase is the Session Runner's current state, used both to report progress
// and to pick the correct cancellation cleanup (spec §4.11).
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseReadingInput       Phase = "reading_input"
	PhaseProcessingLayers   Phase = "processing_layers"
	PhaseCallingAPI         Phase = "calling_api"
	PhaseExecutingTools     Phase = "executing_tools"
	PhaseProcessingResponse Phase = "processing_response"
	PhaseCompleted          Phase = "completed"
)

// RunState is the shared state threaded through the Session Runner's
// core.Flow for a single user turn. It is built fresh by Runner.RunTurn and
// discarded once the turn completes.
type RunState struct {
	Log        *MessageLog
	Provider   llm.LLMProvider
	Tools      []llm.ToolDefinition
	Dispatch   *dispatcher.Dispatcher
	Cancel     *dispatcher.CancelFlag
	CostGuard  *CostGuard
	Info       *Info
	Checkpoint *CacheCheckpointManager
	Truncator  *ContextTruncator

	Phase         Phase
	Input         string
	LastToolCalls []llm.ToolCall
	Cancelled     bool
	Err           error
}

// Runner drives the outer user-turn → LLM → tools → LLM loop (spec §4.11),
// built on internal/core's three-phase Node/Flow engine: one inputNode feeds
// a callAPINode, which alternates with a toolExecNode for as long as the
// model keeps requesting tool calls.
type Runner struct {
	Provider   llm.LLMProvider
	Tools      []llm.ToolDefinition
	Dispatch   *dispatcher.Dispatcher
	CostGuard  *CostGuard
	Info       *Info
	Checkpoint *CacheCheckpointManager
	Truncator  *ContextTruncator
}

// NewRunner builds a Runner over the supplied session collaborators.
func NewRunner(provider llm.LLMProvider, tools []llm.ToolDefinition, disp *dispatcher.Dispatcher, cg *CostGuard, info *Info, ckpt *CacheCheckpointManager, trunc *ContextTruncator) *Runner {
	return &Runner{Provider: provider, Tools: tools, Dispatch: disp, CostGuard: cg, Info: info, Checkpoint: ckpt, Truncator: trunc}
}

// RunTurn processes exactly one user turn against log: append the input,
// call the provider, execute any requested tools, and loop until the model
// stops requesting tools or cancel fires. The returned Phase is PhaseIdle if
// the turn was cancelled (state.Cancelled reports this explicitly) and
// PhaseCompleted otherwise; err is returned only for unrecoverable failures
// (ProviderError, log invariant violations) — Cancelled never surfaces as a
// Go error, matching spec §7's "Cancelled propagates silently."
func (r *Runner) RunTurn(ctx context.Context, log *MessageLog, cancel *dispatcher.CancelFlag, input string) (Phase, bool, error) {
	state := &RunState{
		Log:        log,
		Provider:   r.Provider,
		Tools:      r.Tools,
		Dispatch:   r.Dispatch,
		Cancel:     cancel,
		CostGuard:  r.CostGuard,
		Info:       r.Info,
		Checkpoint: r.Checkpoint,
		Truncator:  r.Truncator,
		Phase:      PhaseIdle,
		Input:      input,
	}

	flow := buildTurnFlow()
	action := flow.Run(ctx, state)
	if action == core.ActionFailure && state.Err != nil {
		return state.Phase, state.Cancelled, state.Err
	}
	return state.Phase, state.Cancelled, nil
}

func buildTurnFlow() *core.Flow[RunState] {
	input := core.NewNode[RunState, string, string](inputNode{}, 0)
	callAPI := core.NewNode[RunState, callAPIPrep, llm.Message](callAPINode{}, 0)
	toolExec := core.NewNode[RunState, toolExecPrep, []dispatcher.Result](toolExecNode{}, 0)

	input.AddSuccessor(callAPI, core.ActionContinue)
	callAPI.AddSuccessor(toolExec, core.ActionTool)
	toolExec.AddSuccessor(callAPI, core.ActionContinue)

	return core.NewFlow[RunState](input)
}

// inputNode implements ReadingInput/ProcessingLayers and the initial
// append(user(input)) step.
type inputNode struct{}

func (inputNode) Prep(state *RunState) []string {
	state.Phase = PhaseReadingInput
	return []string{state.Input}
}

func (inputNode) Exec(_ context.Context, input string) (string, error) {
	return input, nil
}

func (inputNode) ExecFallback(err error) string { return "" }

func (inputNode) Post(state *RunState, _ []string, execResults ...string) core.Action {
	state.Phase = PhaseProcessingLayers
	if state.Cancel != nil && state.Cancel.Cancelled() {
		state.Cancelled = true
		state.Phase = PhaseIdle
		return core.ActionFailure // Idle/ReadingInput: discard partial input, no log mutation
	}
	if err := state.Log.AppendUser(execResults[0]); err != nil {
		state.Err = fmt.Errorf("session: append user input: %w", err)
		return core.ActionFailure
	}
	return core.ActionContinue
}

// callAPIPrep bundles what Exec needs beyond the message slice itself:
// BaseNode.Exec only receives (ctx, PrepResult), never the shared state, so
// Prep (which does see state) packs the provider and tool list in here.
type callAPIPrep struct {
	Messages []llm.Message
	Provider llm.LLMProvider
	Tools    []llm.ToolDefinition
}

// callAPINode implements CallingAPI: issue the provider call, append the
// assistant response, and route to tool execution or end-of-turn.
type callAPINode struct{}

func (callAPINode) Prep(state *RunState) []callAPIPrep {
	state.Phase = PhaseCallingAPI
	var plan CheckpointPlan
	if state.Checkpoint != nil {
		plan = state.Checkpoint.Prepare(state.Log, len(state.Tools) > 0)
	}
	if state.Truncator != nil {
		state.Truncator.Truncate(state.Log)
	}
	messages := ToLLMMessages(state.Log.Snapshot())

	tools := state.Tools
	if plan.MarkLastToolDef && len(tools) > 0 {
		tools = append([]llm.ToolDefinition(nil), tools...)
		tools[len(tools)-1].CacheBreakpoint = true
	}

	return []callAPIPrep{{Messages: messages, Provider: state.Provider, Tools: tools}}
}

func (callAPINode) Exec(ctx context.Context, p callAPIPrep) (llm.Message, error) {
	if len(p.Tools) == 0 {
		return p.Provider.CallLLM(ctx, p.Messages)
	}
	return p.Provider.CallLLMWithTools(ctx, p.Messages, p.Tools)
}

// ExecFallback runs after Exec exhausts its retries; it can't reach
// RunState, so it smuggles the failure back to Post via an empty Role
// (a provider message never legitimately has one) plus the error text in
// Content, the only two fields Post inspects for the failure path.
func (callAPINode) ExecFallback(err error) llm.Message {
	return llm.Message{Role: "", Content: err.Error()}
}

func (callAPINode) Post(state *RunState, _ []callAPIPrep, execResults ...llm.Message) core.Action {
	if state.Cancel != nil && state.Cancel.Cancelled() {
		state.Cancelled = true
		state.Log.DropLastIfEmpty() // CallingAPI: drop the user message and any empty assistant stub
		state.Phase = PhaseIdle
		return core.ActionFailure
	}

	resp := execResults[0]
	if resp.Role == "" {
		state.Err = apperr.New(apperr.ProviderError, "session.call_api", fmt.Errorf("%s", resp.Content))
		state.Log.DropLastIfEmpty() // ProviderError: remove the preceding user message
		return core.ActionFailure
	}

	if resp.Usage != nil {
		if state.CostGuard != nil {
			_ = state.CostGuard.RecordUsage(*resp.Usage)
		}
		if state.Info != nil {
			state.Info.RecordUsage(*resp.Usage)
		}
	}

	if err := state.Log.AppendAssistant(resp.Content, resp.ToolCalls); err != nil {
		state.Err = fmt.Errorf("session: append assistant response: %w", err)
		return core.ActionFailure
	}

	if len(resp.ToolCalls) == 0 {
		state.Phase = PhaseCompleted
		if state.Info != nil {
			state.Info.RecordTurn()
		}
		return core.ActionAnswer
	}

	state.LastToolCalls = resp.ToolCalls
	return core.ActionTool
}

// toolExecPrep bundles the batch of tool calls with the collaborators Exec
// needs to fan them out, for the same reason as callAPIPrep above.
type toolExecPrep struct {
	Calls    []llm.ToolCall
	Dispatch *dispatcher.Dispatcher
	Cancel   *dispatcher.CancelFlag
}

// toolExecNode implements ExecutingTools. Prep wraps the entire tool-call
// batch as a single work item so Exec can fan the batch out through
// Dispatcher.ParallelExecute itself — core.Node.Run iterates Prep's items
// sequentially, so per-tool-call concurrency has to happen inside Exec
// rather than across separate Prep items.
type toolExecNode struct{}

func (toolExecNode) Prep(state *RunState) []toolExecPrep {
	state.Phase = PhaseExecutingTools
	return []toolExecPrep{{Calls: state.LastToolCalls, Dispatch: state.Dispatch, Cancel: state.Cancel}}
}

func (toolExecNode) Exec(ctx context.Context, p toolExecPrep) ([]dispatcher.Result, error) {
	return p.Dispatch.ParallelExecute(ctx, p.Cancel, p.Calls), nil
}

func (toolExecNode) ExecFallback(err error) []dispatcher.Result { return nil }

func (toolExecNode) Post(state *RunState, _ []toolExecPrep, execResults ...[]dispatcher.Result) core.Action {
	results := execResults[0]

	completed := make(map[string]bool, len(results))
	for _, res := range results {
		completed[res.ToolCallID] = true
	}
	if len(completed) != len(state.LastToolCalls) {
		// Not every call finished: cancellation mid-fan-out. Repair the
		// assistant message to list only completed calls before appending
		// their results (invariant §3.1).
		if err := state.Log.RepairLastAssistant(completed); err != nil {
			state.Err = fmt.Errorf("session: repair assistant tool_calls: %w", err)
			return core.ActionFailure
		}
	}

	if state.Dispatch != nil {
		if v := state.Dispatch.CheckLoop(); v.Detected {
			for i, res := range results {
				if res.ToolName == v.ToolName {
					results[i].IsError = true
					results[i].Text = fmt.Sprintf("%s\n\nloop detected (%s): %s; change your approach instead of repeating this call", res.Text, v.Rule, v.Description)
				}
			}
		}
	}

	for _, res := range results {
		if err := state.Log.AppendTool(res.ToolCallID, res.ToolName, res.Text); err != nil {
			state.Err = fmt.Errorf("session: append tool result: %w", err)
			return core.ActionFailure
		}
	}

	if state.Cancel != nil && state.Cancel.Cancelled() {
		state.Cancelled = true
		state.Phase = PhaseIdle
		return core.ActionFailure
	}

	state.Phase = PhaseProcessingResponse
	return core.ActionContinue
}
