package session

import (
	"strings"
	"testing"

	"github.com/relaymesh/relay/internal/llm"
)

func buildLongLog(t *testing.T) *MessageLog {
	t.Helper()
	l := NewMessageLog()
	_ = l.AppendSystem("system prompt")
	for i := 0; i < 5; i++ {
		_ = l.AppendUser(strings.Repeat("filler ", 200))
		_ = l.AppendAssistant(strings.Repeat("reply ", 200), nil)
	}
	_ = l.AppendUser("final question")
	return l
}

func TestContextTruncator_NoopUnderThreshold(t *testing.T) {
	tr := NewContextTruncator(1000000, true)
	l := buildLongLog(t)
	before := l.Len()

	if tr.Truncate(l) {
		t.Error("expected no truncation under threshold")
	}
	if l.Len() != before {
		t.Errorf("expected log unchanged, before=%d after=%d", before, l.Len())
	}
}

func TestContextTruncator_DisabledIsNoop(t *testing.T) {
	tr := NewContextTruncator(1, false)
	l := buildLongLog(t)
	before := l.Len()

	if tr.Truncate(l) {
		t.Error("expected no truncation when disabled")
	}
	if l.Len() != before {
		t.Error("expected log unchanged when disabled")
	}
}

func TestContextTruncator_PreservesSystemAndLastUser(t *testing.T) {
	tr := NewContextTruncator(50, true)
	l := buildLongLog(t)

	tr.Truncate(l)

	snap := l.Snapshot()
	if snap[0].Role != llm.RoleSystem {
		t.Fatalf("expected system message preserved at index 0, got role=%s", snap[0].Role)
	}
	last := snap[len(snap)-1]
	if last.Role != llm.RoleUser || last.Content != "final question" {
		t.Errorf("expected last user message preserved, got %+v", last)
	}
	if l.Len() >= 12 {
		t.Errorf("expected truncation to have removed some groups, len=%d", l.Len())
	}
}

func TestContextTruncator_DropsCompleteToolTurnGroups(t *testing.T) {
	tr := NewContextTruncator(10, true)
	l := NewMessageLog()
	_ = l.AppendSystem("sys")
	_ = l.AppendUser(strings.Repeat("x", 2000))
	_ = l.AppendAssistant("", []llm.ToolCall{{ID: "1", Name: "t"}})
	_ = l.AppendTool("1", "t", strings.Repeat("y", 2000))
	_ = l.AppendUser("final")

	tr.Truncate(l)

	snap := l.Snapshot()
	for _, m := range snap {
		if m.Role == llm.RoleTool {
			t.Error("expected the tool-turn group to be dropped entirely, found a leftover tool message")
		}
	}
}

func TestReduce_CollapsesLogAndCachesSummary(t *testing.T) {
	l := buildLongLog(t)
	before := l.Len()

	result := Reduce(l, "the user and assistant discussed X and Y")

	if result.MessagesBefore != before {
		t.Errorf("expected MessagesBefore=%d, got %d", before, result.MessagesBefore)
	}
	if l.Len() != 2 {
		t.Fatalf("expected log collapsed to [system, summary], got len=%d", l.Len())
	}
	snap := l.Snapshot()
	if snap[0].Role != llm.RoleSystem {
		t.Error("expected system message preserved after reduction")
	}
	if !snap[1].Cached {
		t.Error("expected summary message marked cached")
	}
	if !strings.Contains(snap[1].Content, "discussed X and Y") {
		t.Errorf("expected summary text present, got %q", snap[1].Content)
	}
}
