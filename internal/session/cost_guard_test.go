package session

import (
	"testing"
	"time"

	"github.com/relaymesh/relay/internal/llm"
)

func TestCostGuard_DisabledByZero(t *testing.T) {
	g := NewCostGuard(0, 0)
	if err := g.RecordTokens(1_000_000); err != nil {
		t.Errorf("expected no error with maxTokens disabled, got %v", err)
	}
	if err := g.CheckDuration(); err != nil {
		t.Errorf("expected no error with maxDuration disabled, got %v", err)
	}
	if g.IsExceeded() {
		t.Error("expected IsExceeded=false when both limits disabled")
	}
}

func TestCostGuard_TokenBudgetExceeded(t *testing.T) {
	g := NewCostGuard(100, 0)
	if err := g.RecordTokens(50); err != nil {
		t.Fatalf("unexpected error under budget: %v", err)
	}
	if g.IsExceeded() {
		t.Error("expected not exceeded yet")
	}
	if err := g.RecordTokens(60); err == nil {
		t.Error("expected error once budget exceeded")
	}
	if !g.IsExceeded() {
		t.Error("expected IsExceeded=true after exceeding budget")
	}
}

func TestCostGuard_DurationExceeded(t *testing.T) {
	g := NewCostGuard(0, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if err := g.CheckDuration(); err == nil {
		t.Error("expected duration exceeded error")
	}
	if !g.IsExceeded() {
		t.Error("expected IsExceeded=true after duration exceeded")
	}
}

func TestCostGuard_RecordUsage(t *testing.T) {
	g := NewCostGuard(100, 0)
	if err := g.RecordUsage(llm.Usage{PromptTokens: 30, OutputTokens: 20}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.UsedTokens() != 50 {
		t.Errorf("expected 50 used tokens, got %d", g.UsedTokens())
	}
}
