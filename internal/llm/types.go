package llm

import (
	"context"
	"encoding/json"
)

// Message represents a chat message for LLM communication.
type Message struct {
	Role             string     `json:"role"` // "system", "user", "assistant", "tool"
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"` // Native thinking output (e.g. DeepSeek-R1, extended thinking)
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`        // Present on assistant messages that invoke tools
	ToolCallID       string     `json:"tool_call_id,omitempty"`      // Present on role="tool" messages, ties back to the invoking ToolCall
	Name             string     `json:"name,omitempty"`              // Tool name, present on role="tool" messages
	Usage            *Usage     `json:"usage,omitempty"`             // Token/cost accounting, present on assistant messages returned from a provider call
	Cached           bool       `json:"-"`                           // Carries a provider prompt-cache breakpoint; read by CachingProvider implementations, ignored by others
}

// ToolCall represents a single function-call request emitted by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a callable tool for Function Calling, shared
// between the OpenAI-compatible and Anthropic-native providers.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`

	// CacheBreakpoint marks this definition as the last one a CachingProvider
	// should attach a cache_control block to, caching the entire tool list up
	// to and including it. Set by the Cache-Checkpoint Manager, read only by
	// CachingProvider implementations.
	CacheBreakpoint bool `json:"-"`
}

// Usage captures per-call token and cost accounting, used to accumulate
// SessionInfo totals across a session's lifetime.
type Usage struct {
	PromptTokens  int
	OutputTokens  int
	CachedTokens  int // tokens served from the provider's prompt cache
	Cost          float64
	RequestTimeMs int64
}

// StreamCallback is invoked for each chunk of streamed text.
// Implementations should be lightweight; heavy work should be deferred.
type StreamCallback func(chunk string)

// LLMProvider defines the interface for all LLM implementations.
// Any OpenAI-compatible endpoint (litellm, Ollama, Azure, vLLM, etc.) or the
// native Anthropic Messages API can implement this interface.
type LLMProvider interface {
	// CallLLM sends messages to the LLM and returns the complete response.
	CallLLM(ctx context.Context, messages []Message) (Message, error)

	// CallLLMStream sends messages and streams the response token-by-token.
	// Each chunk of text triggers the onChunk callback.
	// Returns the full assembled message once streaming finishes.
	// If the provider does not support streaming, it may fall back to CallLLM.
	CallLLMStream(ctx context.Context, messages []Message, onChunk StreamCallback) (Message, error)

	// CallLLMWithTools sends messages with tool definitions for Function Calling.
	// Always uses non-streaming mode; the model may return ToolCalls or direct text.
	CallLLMWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (Message, error)

	// GetName returns the provider name/identifier.
	GetName() string
}

// CachingProvider is implemented by providers that support prompt-cache
// breakpoints (e.g. Anthropic's cache_control). The Cache-Checkpoint Manager
// type-asserts for this to decide whether checkpointing is available at all.
type CachingProvider interface {
	LLMProvider

	// SupportsCaching reports whether the underlying model honors cache_control.
	SupportsCaching() bool
}

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
