package session

import (
	"sync"

	"github.com/relaymesh/relay/internal/llm"
)

// Info accumulates the per-session accounting the Session Runner reports
// through its lifetime: token/cost totals pulled from each provider call's
// Usage, and the consecutive-loop-warning streak per tool (so a second
// consecutive warning on the same tool can escalate, per spec §4.6).
type Info struct {
	mu sync.Mutex

	Turns        int
	PromptTokens int
	OutputTokens int
	CachedTokens int
	Cost         float64

	loopStreaks map[string]int
}

// NewInfo creates an empty accounting record.
func NewInfo() *Info {
	return &Info{loopStreaks: make(map[string]int)}
}

// RecordUsage folds one provider call's usage into the running totals.
func (i *Info) RecordUsage(u llm.Usage) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.PromptTokens += u.PromptTokens
	i.OutputTokens += u.OutputTokens
	i.CachedTokens += u.CachedTokens
	i.Cost += u.Cost
}

// RecordTurn increments the completed-turn counter.
func (i *Info) RecordTurn() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Turns++
}

// NoteLoopWarning increments the consecutive-warning streak for a tool and
// returns the new streak. Call NoteLoopClear for any tool that executes
// without triggering a loop warning to reset its streak.
func (i *Info) NoteLoopWarning(toolName string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.loopStreaks[toolName]++
	return i.loopStreaks[toolName]
}

// NoteLoopClear resets a tool's consecutive-warning streak.
func (i *Info) NoteLoopClear(toolName string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.loopStreaks, toolName)
}

// Snapshot returns a stats payload suitable for persisting as a
// SESSION_STATS event.
func (i *Info) Snapshot() SessionStatsPayload {
	i.mu.Lock()
	defer i.mu.Unlock()
	return SessionStatsPayload{
		PromptTokens: i.PromptTokens,
		OutputTokens: i.OutputTokens,
		CachedTokens: i.CachedTokens,
		Cost:         i.Cost,
		Turns:        i.Turns,
	}
}

// Reset zeroes token/cost totals, used by the Context Reducer to start a
// fresh accounting window after collapsing the log.
func (i *Info) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.PromptTokens = 0
	i.OutputTokens = 0
	i.CachedTokens = 0
	i.Cost = 0
	i.loopStreaks = make(map[string]int)
}
