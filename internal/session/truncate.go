package session

import (
	"github.com/relaymesh/relay/internal/llm"
	"github.com/relaymesh/relay/internal/tokenest"
)

// group is a contiguous run of messages that must be dropped atomically: a
// plain message, or an assistant-with-tool_calls message plus every tool
// result answering it (spec §4.10: "oldest non-system messages, in complete
// tool-turn groups").
type group struct {
	start, end int // [start, end) into the snapshot
}

// ContextTruncator implements the Context Truncator (spec §4.10): before
// each provider call, if the estimated prompt exceeds maxTokens and
// truncation is enabled, drop the oldest non-system tool-turn groups —
// always preserving the system message and the most recent user message —
// until the estimate is back under the ceiling or nothing more can be
// removed.
type ContextTruncator struct {
	estimator tokenest.Estimator
	maxTokens int
	enabled   bool
}

// NewContextTruncator builds a truncator. maxTokens <= 0 disables the
// ceiling entirely (Truncate always reports false).
func NewContextTruncator(maxTokens int, enabled bool) *ContextTruncator {
	return &ContextTruncator{estimator: tokenest.Default, maxTokens: maxTokens, enabled: enabled}
}

// EstimateTokens sums the estimator's token count across every message.
func (t *ContextTruncator) EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += t.estimator.Estimate(m.Content)
		for _, tc := range m.ToolCalls {
			total += t.estimator.Estimate(string(tc.Arguments))
		}
	}
	return total
}

// Truncate drops oldest tool-turn groups from log until under the
// threshold. Returns whether anything was removed.
func (t *ContextTruncator) Truncate(log *MessageLog) bool {
	if !t.enabled || t.maxTokens <= 0 {
		return false
	}
	messages := log.Snapshot()
	if t.EstimateTokens(messages) <= t.maxTokens {
		return false
	}

	lastUser := -1
	for i, m := range messages {
		if m.Role == llm.RoleUser {
			lastUser = i
		}
	}

	groups := toolTurnGroups(messages)
	removed := false
	kept := messages
	for _, g := range groups {
		if g.start == 0 {
			continue // never drop the system message
		}
		if lastUser >= g.start && lastUser < g.end {
			continue // never drop the group holding the last user message
		}
		if t.EstimateTokens(kept) <= t.maxTokens {
			break
		}
		kept = dropGroup(kept, messages, g)
		removed = true
	}

	if removed {
		pending := recomputePending(kept)
		log.Replace(kept, pending)
	}
	return removed
}

// toolTurnGroups partitions messages into atomic units: a lone message, or
// an assistant-with-tool_calls message plus the contiguous tool messages
// answering it.
func toolTurnGroups(messages []Message) []group {
	var groups []group
	i := 0
	for i < len(messages) {
		start := i
		i++
		if messages[start].HasToolCalls() {
			for i < len(messages) && messages[i].Role == llm.RoleTool {
				i++
			}
		}
		groups = append(groups, group{start: start, end: i})
	}
	return groups
}

// dropGroup removes the messages in g (indexed against original) from kept,
// locating the group by the value of its leading message, since kept
// shrinks as groups are dropped.
// original is used only to translate g's boundaries into message values.
func dropGroup(kept, original []Message, g group) []Message {
	toDrop := original[g.start:g.end]
	out := make([]Message, 0, len(kept)-len(toDrop))
	dropSet := make(map[int]bool, len(toDrop))
	// Identify by original slice pointer-free approach: find the exact
	// subsequence in kept starting from g.start's original message and
	// remove it once. Since groups are processed in order and earlier
	// groups may already be gone, search for the first occurrence of the
	// group's leading message by value from the front.
	_ = dropSet
	start := -1
	for i := 0; i+len(toDrop) <= len(kept); i++ {
		if sameMessage(kept[i], toDrop[0]) {
			start = i
			break
		}
	}
	if start < 0 {
		return kept
	}
	out = append(out, kept[:start]...)
	out = append(out, kept[start+len(toDrop):]...)
	return out
}

func sameMessage(a, b Message) bool {
	return a.Role == b.Role && a.Content == b.Content && a.ToolCallID == b.ToolCallID
}

func recomputePending(messages []Message) []string {
	if len(messages) == 0 {
		return nil
	}
	last := messages[len(messages)-1]
	if !last.HasToolCalls() {
		return nil
	}
	ids := make([]string, len(last.ToolCalls))
	for i, tc := range last.ToolCalls {
		ids[i] = tc.ID
	}
	return ids
}

// ReductionResult reports what the Context Reducer did, for the caller to
// persist as a restoration point and reset its token counters.
type ReductionResult struct {
	Summary        string
	MessagesBefore int
}

// Reduce implements the `/done` Context Reducer (spec §4.10): replaces the
// entire log with [system, assistant(summary, cached)], so the next request
// starts from a clean, cheap context instead of the full history.
func Reduce(log *MessageLog, summary string) ReductionResult {
	before := log.Snapshot()
	messagesBefore := len(before)

	var system Message
	if len(before) > 0 && before[0].Role == llm.RoleSystem {
		system = before[0]
	} else {
		system = NewSystemMessage("")
	}
	summaryMsg := NewAssistantMessage(FormatSummary(summary), nil)
	summaryMsg.Cached = true

	log.Replace([]Message{system, summaryMsg}, nil)

	return ReductionResult{Summary: summary, MessagesBefore: messagesBefore}
}
