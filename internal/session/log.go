package session

import (
	"fmt"
	"sync"

	"github.com/relaymesh/relay/internal/llm"
)

// MessageLog is the ordered, role-validated sequence backing one session
// (spec §4.8). Appends are serialized by a single mutex; reads take the same
// lock, so a reader never observes a log mid-append — matching the
// concurrency model's "Message Log appends are serialized by a single
// session-wide lock; reads during append are disallowed."
type MessageLog struct {
	mu       sync.Mutex
	messages []Message
	pending  []string // tool_call ids still owed a result by the open tool-turn group
}

// NewMessageLog creates an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{}
}

// AppendSystem appends the system message. Must be called first, at most once.
func (l *MessageLog) AppendSystem(content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.messages) != 0 {
		return fmt.Errorf("session: system message must be index 0")
	}
	l.messages = append(l.messages, NewSystemMessage(content))
	return nil
}

// AppendUser appends a user message. Rejected while a tool-turn group is open
// (a prior assistant tool_calls message still owes results) — invariant §4.8
// "user or assistant messages MUST NOT interleave between a tool_use and its
// tool_result".
func (l *MessageLog) AppendUser(content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) > 0 {
		return fmt.Errorf("session: cannot append user message while %d tool result(s) are pending", len(l.pending))
	}
	l.messages = append(l.messages, NewUserMessage(content))
	return nil
}

// AppendAssistant appends an assistant message, opening a new tool-turn
// group if toolCalls is non-empty.
func (l *MessageLog) AppendAssistant(content string, toolCalls []llm.ToolCall) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) > 0 {
		return fmt.Errorf("session: cannot append assistant message while %d tool result(s) are pending", len(l.pending))
	}
	l.messages = append(l.messages, NewAssistantMessage(content, toolCalls))
	for _, tc := range toolCalls {
		l.pending = append(l.pending, tc.ID)
	}
	return nil
}

// AppendTool appends a tool-result message. toolCallID must match one of the
// ids owed by the currently open tool-turn group.
func (l *MessageLog) AppendTool(toolCallID, name, content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := -1
	for i, id := range l.pending {
		if id == toolCallID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("session: tool_call_id %q is not pending", toolCallID)
	}
	l.messages = append(l.messages, NewToolMessage(toolCallID, name, content))
	l.pending = append(l.pending[:idx], l.pending[idx+1:]...)
	return nil
}

// PendingToolCallIDs returns the tool_call ids the open tool-turn group still
// owes a result for, in call order.
func (l *MessageLog) PendingToolCallIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.pending))
	copy(out, l.pending)
	return out
}

// RepairLastAssistant narrows the most recent assistant message's tool_calls
// to exactly keepIDs, dropping the tool_calls field entirely if keepIDs is
// empty. Used for cancellation mid-fan-out (spec §4.11 "ExecutingTools →
// keep completed tool results; repair assistant tool_calls to list only
// those") and for the Large-Response Gate's decline path (§4.7).
func (l *MessageLog) RepairLastAssistant(keepIDs map[string]bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.messages) == 0 {
		return fmt.Errorf("session: empty log")
	}
	idx := len(l.messages) - 1
	last := l.messages[idx]
	if last.Role != llm.RoleAssistant {
		return fmt.Errorf("session: last message is not an assistant message")
	}

	kept := make([]llm.ToolCall, 0, len(last.ToolCalls))
	keptIDs := make(map[string]bool, len(keepIDs))
	for _, tc := range last.ToolCalls {
		if keepIDs[tc.ID] {
			kept = append(kept, tc)
			keptIDs[tc.ID] = true
		}
	}
	last.ToolCalls = kept
	l.messages[idx] = last

	newPending := l.pending[:0:0]
	for _, id := range l.pending {
		if keptIDs[id] {
			newPending = append(newPending, id)
		}
	}
	l.pending = newPending
	return nil
}

// DropLastIfEmpty removes the most recent message if it is an empty-content,
// tool_calls-free assistant stub (used by CallingAPI cancellation) or the
// most recent user message (ProcessingLayers/CallingAPI cancellation).
func (l *MessageLog) DropLastIfEmpty() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.messages) == 0 {
		return
	}
	last := l.messages[len(l.messages)-1]
	if last.Role == llm.RoleUser || (last.Role == llm.RoleAssistant && last.Content == "" && len(last.ToolCalls) == 0) {
		l.messages = l.messages[:len(l.messages)-1]
		l.pending = nil
	}
}

// Snapshot returns a defensive copy of the log's messages.
func (l *MessageLog) Snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages currently in the log.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Replace atomically swaps the entire log, used by the Context Reducer
// (/done) and the Context Truncator. newPending must list the tool_call ids,
// if any, still owed by the final message of replacement.
func (l *MessageLog) Replace(messages []Message, newPending []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = messages
	l.pending = newPending
}

// MarkCached sets the Cached flag on message idx. No-op if idx is out of range.
func (l *MessageLog) MarkCached(idx int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx < 0 || idx >= len(l.messages) {
		return
	}
	l.messages[idx].Cached = true
}

// CountCached returns how many messages currently carry a cache marker.
func (l *MessageLog) CountCached() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if m.Cached {
			n++
		}
	}
	return n
}

// EvictOldestCachedOverflow drops the Cached flag from the oldest non-system
// marker(s) until the total marker count is within budget (spec §4.9 rule 3:
// "on overflow, evict the oldest non-system marker").
func (l *MessageLog) EvictOldestCachedOverflow(budget int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		n := 0
		for _, m := range l.messages {
			if m.Cached {
				n++
			}
		}
		if n <= budget {
			return
		}
		evicted := false
		for i := 1; i < len(l.messages); i++ { // never evict index 0 (system)
			if l.messages[i].Cached {
				l.messages[i].Cached = false
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

// ToLLMMessages converts the log to the plain []llm.Message the provider
// contract expects. Cached carries through unchanged; only a CachingProvider
// implementation inspects it.
func ToLLMMessages(messages []Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		out[i] = m.Message
	}
	return out
}
