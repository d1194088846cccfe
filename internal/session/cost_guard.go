package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/relaymesh/relay/internal/llm"
)

// CostGuard tracks a session's token-budget and wall-clock limits: its
// methods report an error once a limit is passed and set IsExceeded, but it
// does not stop a turn by itself. usedTokens is atomic so it can be read
// without taking the session's own lock.
type CostGuard struct {
	maxTokens   int64         // 0 = disabled
	maxDuration time.Duration // 0 = disabled
	usedTokens  atomic.Int64
	startTime   time.Time
	exceeded    bool
}

// NewCostGuard creates a guard with optional token and duration ceilings.
// Set maxTokens=0 and/or maxDuration=0 to disable the respective check.
func NewCostGuard(maxTokens int64, maxDuration time.Duration) *CostGuard {
	return &CostGuard{
		maxTokens:   maxTokens,
		maxDuration: maxDuration,
		startTime:   time.Now(),
	}
}

// RecordUsage folds a provider call's prompt/output token counts into the
// running total and reports whether the budget is now exceeded.
func (g *CostGuard) RecordUsage(u llm.Usage) error {
	return g.RecordTokens(u.PromptTokens + u.OutputTokens)
}

// RecordTokens adds n tokens to the running total.
func (g *CostGuard) RecordTokens(n int) error {
	if g.maxTokens <= 0 {
		return nil
	}
	total := g.usedTokens.Add(int64(n))
	if total > g.maxTokens {
		g.exceeded = true
		return fmt.Errorf("session: token budget exceeded: used %d / limit %d", total, g.maxTokens)
	}
	return nil
}

// CheckDuration reports whether the session has been running too long.
func (g *CostGuard) CheckDuration() error {
	if g.maxDuration <= 0 {
		return nil
	}
	if elapsed := time.Since(g.startTime); elapsed > g.maxDuration {
		g.exceeded = true
		return fmt.Errorf("session: duration exceeded: %v / limit %v",
			elapsed.Round(time.Second), g.maxDuration)
	}
	return nil
}

// IsExceeded reports whether any limit has tripped.
func (g *CostGuard) IsExceeded() bool { return g.exceeded }

// UsedTokens returns the running token total.
func (g *CostGuard) UsedTokens() int64 { return g.usedTokens.Load() }
