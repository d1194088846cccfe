package session

import (
	"testing"

	"github.com/relaymesh/relay/internal/llm"
)

func TestMessageLog_SystemMustBeFirst(t *testing.T) {
	l := NewMessageLog()
	if err := l.AppendUser("hi"); err != nil {
		t.Fatalf("unexpected error appending first user message: %v", err)
	}
	if err := l.AppendSystem("sys"); err == nil {
		t.Error("expected error appending system message after index 0")
	}
}

func TestMessageLog_UserBlockedWhilePending(t *testing.T) {
	l := NewMessageLog()
	_ = l.AppendSystem("sys")
	_ = l.AppendUser("hi")
	if err := l.AppendAssistant("", []llm.ToolCall{{ID: "1", Name: "t"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := l.AppendUser("again"); err == nil {
		t.Error("expected error appending user message while a tool result is pending")
	}
}

func TestMessageLog_ToolMustMatchPending(t *testing.T) {
	l := NewMessageLog()
	_ = l.AppendSystem("sys")
	_ = l.AppendUser("hi")
	_ = l.AppendAssistant("", []llm.ToolCall{{ID: "1", Name: "t"}})

	if err := l.AppendTool("wrong-id", "t", "result"); err == nil {
		t.Error("expected error for a tool_call_id that isn't pending")
	}
	if err := l.AppendTool("1", "t", "result"); err != nil {
		t.Errorf("unexpected error appending matching tool result: %v", err)
	}
	if len(l.PendingToolCallIDs()) != 0 {
		t.Error("expected no pending ids after matching result")
	}
}

func TestMessageLog_RepairLastAssistant(t *testing.T) {
	l := NewMessageLog()
	_ = l.AppendSystem("sys")
	_ = l.AppendUser("hi")
	_ = l.AppendAssistant("", []llm.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}})

	if err := l.RepairLastAssistant(map[string]bool{"1": true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := l.Snapshot()
	last := snap[len(snap)-1]
	if len(last.ToolCalls) != 1 || last.ToolCalls[0].ID != "1" {
		t.Errorf("expected only tool_call 1 to remain, got %+v", last.ToolCalls)
	}
	pending := l.PendingToolCallIDs()
	if len(pending) != 1 || pending[0] != "1" {
		t.Errorf("expected pending=[1], got %v", pending)
	}
}

func TestMessageLog_DropLastIfEmpty_User(t *testing.T) {
	l := NewMessageLog()
	_ = l.AppendSystem("sys")
	_ = l.AppendUser("hi")
	l.DropLastIfEmpty()
	if l.Len() != 1 {
		t.Errorf("expected user message dropped, len=%d", l.Len())
	}
}

func TestMessageLog_DropLastIfEmpty_AssistantStub(t *testing.T) {
	l := NewMessageLog()
	_ = l.AppendSystem("sys")
	_ = l.AppendUser("hi")
	_ = l.AppendAssistant("", nil)
	l.DropLastIfEmpty()
	if l.Len() != 2 {
		t.Errorf("expected empty assistant stub dropped, len=%d", l.Len())
	}
}

func TestMessageLog_CacheBudget(t *testing.T) {
	l := NewMessageLog()
	_ = l.AppendSystem("sys")
	for i := 0; i < 6; i++ {
		_ = l.AppendUser("u")
		l.MarkCached(l.Len() - 1)
	}
	l.EvictOldestCachedOverflow(4)
	if got := l.CountCached(); got != 4 {
		t.Errorf("expected cached count capped at 4, got %d", got)
	}
}

func TestMessageLog_EvictNeverTouchesSystem(t *testing.T) {
	l := NewMessageLog()
	_ = l.AppendSystem("sys")
	l.MarkCached(0)
	_ = l.AppendUser("u")
	l.MarkCached(1)

	l.EvictOldestCachedOverflow(1)

	snap := l.Snapshot()
	if !snap[0].Cached {
		t.Error("system message must never be evicted")
	}
	if snap[1].Cached {
		t.Error("expected the non-system marker to be the one evicted")
	}
}
