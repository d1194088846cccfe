package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaymesh/relay/internal/llm"
)

// Client implements llm.LLMProvider and llm.CachingProvider using Anthropic's
// native Messages API, the one provider in this package that actually honors
// cache_control breakpoints rather than caching automatically server-side.
type Client struct {
	client anthropicsdk.Client
	config *Config
}

// GetConfig returns the client's configuration.
func (c *Client) GetConfig() *Config {
	return c.config
}

// NewClient creates a new Anthropic client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Client{
		client: anthropicsdk.NewClient(opts...),
		config: config,
	}, nil
}

// NewClientFromEnv creates a client using environment variables.
func NewClientFromEnv() (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	return NewClient(config)
}

// CallLLM sends messages to Claude and returns the complete response.
func (c *Client) CallLLM(ctx context.Context, messages []llm.Message) (llm.Message, error) {
	return c.call(ctx, messages, nil)
}

// CallLLMWithTools sends messages with tool definitions for Function Calling.
func (c *Client) CallLLMWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error) {
	return c.call(ctx, messages, tools)
}

func (c *Client) call(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error) {
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("no messages to send")
	}
	started := time.Now()

	params, err := c.buildParams(messages, tools)
	if err != nil {
		return llm.Message{}, err
	}

	var resp *anthropicsdk.Message
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		resp, lastErr = c.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}
		if attempt < c.config.MaxRetries {
			wait := time.Duration(attempt+1) * time.Second
			log.Printf("[LLM] anthropic retry %d/%d after %v, error: %v", attempt+1, c.config.MaxRetries, wait, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return llm.Message{}, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return llm.Message{}, fmt.Errorf("anthropic call failed after %d retries: %w", c.config.MaxRetries, lastErr)
	}

	return c.toLLMMessage(resp, time.Since(started)), nil
}

// CallLLMStream sends messages and streams the response token-by-token.
func (c *Client) CallLLMStream(ctx context.Context, messages []llm.Message, onChunk llm.StreamCallback) (llm.Message, error) {
	if onChunk == nil {
		return c.CallLLM(ctx, messages)
	}
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("no messages to send")
	}
	started := time.Now()

	params, err := c.buildParams(messages, nil)
	if err != nil {
		return llm.Message{}, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	var content string
	var toolCalls []llm.ToolCall
	var currentToolID, currentToolName string
	var currentToolInput []byte
	var usage llm.Usage

	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropicsdk.ContentBlockStartEvent:
			if tu := variant.ContentBlock.AsToolUse(); tu.ID != "" {
				currentToolID = tu.ID
				currentToolName = tu.Name
				currentToolInput = nil
			}
		case anthropicsdk.ContentBlockDeltaEvent:
			if text := variant.Delta.Text; text != "" {
				content += text
				onChunk(text)
			}
			if partial := variant.Delta.PartialJSON; partial != "" {
				currentToolInput = append(currentToolInput, []byte(partial)...)
			}
		case anthropicsdk.ContentBlockStopEvent:
			if currentToolID != "" {
				toolCalls = append(toolCalls, llm.ToolCall{
					ID:        currentToolID,
					Name:      currentToolName,
					Arguments: json.RawMessage(currentToolInput),
				})
				currentToolID, currentToolName, currentToolInput = "", "", nil
			}
		case anthropicsdk.MessageDeltaEvent:
			usage.OutputTokens = int(variant.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return llm.Message{}, fmt.Errorf("anthropic stream error: %w", err)
	}

	usage.RequestTimeMs = time.Since(started).Milliseconds()
	return llm.Message{
		Role:      llm.RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
		Usage:     &usage,
	}, nil
}

// GetName returns the provider name.
func (c *Client) GetName() string {
	return fmt.Sprintf("anthropic (%s)", c.config.Model)
}

// SupportsCaching reports true: Claude honors explicit cache_control
// breakpoints, so the Cache-Checkpoint Manager's markers are meaningful here.
func (c *Client) SupportsCaching() bool {
	return true
}

func (c *Client) buildParams(messages []llm.Message, tools []llm.ToolDefinition) (anthropicsdk.MessageNewParams, error) {
	var system []anthropicsdk.TextBlockParam
	var converted []anthropicsdk.MessageParam

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			block := anthropicsdk.TextBlockParam{Text: msg.Content}
			if msg.Cached {
				block.CacheControl = anthropicsdk.NewCacheControlEphemeralParam()
			}
			system = append(system, block)
			continue
		}

		m, err := c.convertMessage(msg)
		if err != nil {
			return anthropicsdk.MessageNewParams{}, err
		}
		converted = append(converted, m)
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.config.Model),
		Messages:  converted,
		MaxTokens: int64(c.config.MaxTokens),
		System:    system,
	}
	if c.config.Temperature != nil {
		params.Temperature = anthropicsdk.Float(float64(*c.config.Temperature))
	}

	if len(tools) > 0 {
		toolParams, err := c.convertTools(tools)
		if err != nil {
			return anthropicsdk.MessageNewParams{}, err
		}
		params.Tools = toolParams
	}

	return params, nil
}

func (c *Client) convertMessage(msg llm.Message) (anthropicsdk.MessageParam, error) {
	var content []anthropicsdk.ContentBlockParamUnion

	if msg.Content != "" {
		block := anthropicsdk.NewTextBlock(msg.Content)
		if msg.Cached {
			block.OfText.CacheControl = anthropicsdk.NewCacheControlEphemeralParam()
		}
		content = append(content, block)
	}

	if msg.Role == llm.RoleTool {
		content = append(content, anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		return anthropicsdk.NewUserMessage(content...), nil
	}

	for _, tc := range msg.ToolCalls {
		var input map[string]any
		if len(tc.Arguments) > 0 {
			if err := json.Unmarshal(tc.Arguments, &input); err != nil {
				return anthropicsdk.MessageParam{}, fmt.Errorf("anthropic: invalid tool call arguments for %q: %w", tc.Name, err)
			}
		}
		content = append(content, anthropicsdk.NewToolUseBlock(tc.ID, input, tc.Name))
	}

	if msg.Role == llm.RoleAssistant {
		return anthropicsdk.NewAssistantMessage(content...), nil
	}
	return anthropicsdk.NewUserMessage(content...), nil
}

func (c *Client) convertTools(tools []llm.ToolDefinition) ([]anthropicsdk.ToolUnionParam, error) {
	result := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropicsdk.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("anthropic: invalid schema for tool %q: %w", t.Name, err)
			}
		}

		param := anthropicsdk.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: missing tool definition for %q", t.Name)
		}
		param.OfTool.Description = anthropicsdk.String(t.Description)
		if t.CacheBreakpoint {
			param.OfTool.CacheControl = anthropicsdk.NewCacheControlEphemeralParam()
		}
		result = append(result, param)
	}
	return result, nil
}

func (c *Client) toLLMMessage(resp *anthropicsdk.Message, elapsed time.Duration) llm.Message {
	var content string
	var toolCalls []llm.ToolCall

	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			content += variant.Text
		case anthropicsdk.ToolUseBlock:
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.Input),
			})
		}
	}

	return llm.Message{
		Role:      llm.RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
		Usage: &llm.Usage{
			PromptTokens:  int(resp.Usage.InputTokens),
			OutputTokens:  int(resp.Usage.OutputTokens),
			CachedTokens:  int(resp.Usage.CacheReadInputTokens),
			RequestTimeMs: elapsed.Milliseconds(),
		},
	}
}
