package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaymesh/relay/internal/dispatcher"
	"github.com/relaymesh/relay/internal/llm"
	"github.com/relaymesh/relay/internal/mcp"
	"github.com/relaymesh/relay/internal/tool"
)

// scriptedProvider replays a fixed sequence of responses, one per call,
// regardless of which CallLLM* method is invoked.
type scriptedProvider struct {
	responses []llm.Message
	calls     int
}

func (p *scriptedProvider) next() llm.Message {
	if p.calls >= len(p.responses) {
		return llm.Message{Role: llm.RoleAssistant, Content: "done"}
	}
	r := p.responses[p.calls]
	p.calls++
	return r
}

func (p *scriptedProvider) CallLLM(ctx context.Context, messages []llm.Message) (llm.Message, error) {
	return p.next(), nil
}

func (p *scriptedProvider) CallLLMStream(ctx context.Context, messages []llm.Message, onChunk llm.StreamCallback) (llm.Message, error) {
	return p.next(), nil
}

func (p *scriptedProvider) CallLLMWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error) {
	return p.next(), nil
}

func (p *scriptedProvider) GetName() string { return "scripted" }

type echoTool struct{}

func (echoTool) Name() string                 { return "echo" }
func (echoTool) Description() string          { return "echoes" }
func (echoTool) InputSchema() json.RawMessage { return tool.BuildSchema() }
func (echoTool) Init(context.Context) error   { return nil }
func (echoTool) Close() error                 { return nil }
func (echoTool) Execute(ctx context.Context, _ json.RawMessage) (tool.ToolResult, error) {
	return tool.ToolResult{Output: "echoed"}, nil
}

func newTestRunner(responses []llm.Message) *Runner {
	provider := &scriptedProvider{responses: responses}
	reg := tool.NewRegistry()
	reg.Register(echoTool{})
	tm := mcp.NewToolMap()
	sv := mcp.NewSupervisor()
	disp := dispatcher.New(reg, tm, sv, dispatcher.NewGate(1000000, dispatcher.NonInteractivePrompter{}), nil)
	return NewRunner(provider, reg.GenerateToolDefinitions(), disp, nil, nil, nil, nil)
}

func TestRunner_SimpleTurnNoTools(t *testing.T) {
	r := newTestRunner([]llm.Message{
		{Role: llm.RoleAssistant, Content: "hello back"},
	})
	log := NewMessageLog()
	_ = log.AppendSystem("sys")
	cancel := dispatcher.NewCancelFlag()

	phase, cancelled, err := r.RunTurn(context.Background(), log, cancel, "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled {
		t.Error("expected not cancelled")
	}
	if phase != PhaseCompleted {
		t.Errorf("expected PhaseCompleted, got %s", phase)
	}

	snap := log.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected [system, user, assistant], got %d messages", len(snap))
	}
	if snap[2].Content != "hello back" {
		t.Errorf("unexpected assistant content: %q", snap[2].Content)
	}
}

func TestRunner_ToolCallThenAnswer(t *testing.T) {
	r := newTestRunner([]llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "1", Name: "echo"}}},
		{Role: llm.RoleAssistant, Content: "final answer"},
	})
	log := NewMessageLog()
	_ = log.AppendSystem("sys")
	cancel := dispatcher.NewCancelFlag()

	phase, cancelled, err := r.RunTurn(context.Background(), log, cancel, "use the tool")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled {
		t.Error("expected not cancelled")
	}
	if phase != PhaseCompleted {
		t.Errorf("expected PhaseCompleted, got %s", phase)
	}

	snap := log.Snapshot()
	// system, user, assistant(tool_calls), tool(result), assistant(final)
	if len(snap) != 5 {
		t.Fatalf("expected 5 messages, got %d: %+v", len(snap), snap)
	}
	if snap[3].Role != llm.RoleTool || snap[3].Content != "echoed" {
		t.Errorf("expected tool result message, got %+v", snap[3])
	}
	if snap[4].Content != "final answer" {
		t.Errorf("expected final answer content, got %q", snap[4].Content)
	}
}

func TestRunner_CancelBeforeInputDiscardsNothing(t *testing.T) {
	r := newTestRunner(nil)
	log := NewMessageLog()
	_ = log.AppendSystem("sys")
	cancel := dispatcher.NewCancelFlag()
	cancel.Cancel()

	phase, cancelled, err := r.RunTurn(context.Background(), log, cancel, "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cancelled {
		t.Error("expected cancelled=true")
	}
	if phase != PhaseIdle {
		t.Errorf("expected PhaseIdle, got %s", phase)
	}
	if log.Len() != 1 {
		t.Errorf("expected only the system message to remain, got %d", log.Len())
	}
}
