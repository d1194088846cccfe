package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relaymesh/relay/internal/llm"
)

func TestEventLog_AppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	log, err := NewEventLog(path)
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}

	if err := log.AppendMessage(NewUserMessage("hello")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := log.AppendToolCall(ToolCallPayload{ToolCallID: "1", ToolName: "echo"}); err != nil {
		t.Fatalf("AppendToolCall: %v", err)
	}
	if err := log.AppendToolResult(ToolResultPayload{ToolCallID: "1", ToolName: "echo", Text: "hi"}); err != nil {
		t.Fatalf("AppendToolResult: %v", err)
	}
	if err := log.AppendRestorationPoint(RestorationPointPayload{Summary: "s", MessagesBefore: 3}); err != nil {
		t.Fatalf("AppendRestorationPoint: %v", err)
	}
	if err := log.AppendSessionStats(SessionStatsPayload{Turns: 1}); err != nil {
		t.Fatalf("AppendSessionStats: %v", err)
	}

	records, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}

	wantTags := []EventTag{EventMessage, EventToolCall, EventToolResult, EventRestorationPoint, EventSessionStats}
	for i, want := range wantTags {
		if records[i].Tag != want {
			t.Errorf("record %d: expected tag %s, got %s", i, want, records[i].Tag)
		}
	}
}

func TestEventLog_ReadAll_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.jsonl")
	log, err := NewEventLog(path)
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}
	records, err := log.ReadAll()
	if err != nil {
		t.Fatalf("unexpected error for missing file: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records, got %v", records)
	}
}

func TestEventLog_ToleratesCorruptTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	log, err := NewEventLog(path)
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}
	if err := log.AppendMessage(NewUserMessage("hello")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for corrupt append: %v", err)
	}
	if _, err := f.WriteString(`{"tag":"MESSAGE","payload":`); err != nil {
		t.Fatalf("write corrupt line: %v", err)
	}
	f.Close()

	records, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll should tolerate a trailing partial line, got error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected the one well-formed record to survive, got %d", len(records))
	}
}

func TestEventLog_AppendMessage_RoundTripsRole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	log, _ := NewEventLog(path)
	_ = log.AppendMessage(NewAssistantMessage("hi", []llm.ToolCall{{ID: "1", Name: "t"}}))

	records, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}
