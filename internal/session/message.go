package session

import "github.com/relaymesh/relay/internal/llm"

// Message is one entry in a session's Message Log. It embeds llm.Message
// directly, so the Cached flag the Cache-Checkpoint Manager sets is the same
// field a CachingProvider reads after ToLLMMessages — no bookkeeping is lost
// in the conversion.
type Message struct {
	llm.Message
}

// NewUserMessage builds a plain user message.
func NewUserMessage(content string) Message {
	return Message{Message: llm.Message{Role: llm.RoleUser, Content: content}}
}

// NewSystemMessage builds the system message, always cached once caching is supported.
func NewSystemMessage(content string) Message {
	return Message{Message: llm.Message{Role: llm.RoleSystem, Content: content}}
}

// NewAssistantMessage builds an assistant message, optionally carrying tool_calls.
func NewAssistantMessage(content string, toolCalls []llm.ToolCall) Message {
	return Message{Message: llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: toolCalls}}
}

// NewToolMessage builds a tool-result message correlated to a tool_use id.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{Message: llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: toolCallID, Name: name}}
}

// HasToolCalls reports whether this assistant message carries pending tool_calls.
func (m Message) HasToolCalls() bool {
	return m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0
}
