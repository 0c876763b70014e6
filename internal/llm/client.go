// Package llm defines the completion provider interface and the normalized
// shapes the agent loop depends on.
//
// Providers translate their wire format into CompletionResponse (one-shot)
// or a channel of StreamEvent values (incremental). The loop never sees a
// provider-specific type.
package llm

import (
	"context"
	"time"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Finish reasons reported by providers.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Stream event types.
const (
	EventDelta         = "delta"
	EventToolCallDelta = "tool_call_delta"
	EventDone          = "done"
	EventError         = "error"
)

// Message is a single turn in a conversation. Assistant turns that requested
// tools carry ToolCalls; tool results carry the ToolCallID they answer.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolDefinition describes a tool the model can invoke.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema object
}

// CompletionRequest is the input to a Complete or Stream call.
type CompletionRequest struct {
	Model       string           `json:"model,omitempty"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"maxTokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Content      string        `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	ToolCalls    []ToolCall    `json:"toolCalls,omitempty"`
	Usage        Usage         `json:"usage"`
	Model        string        `json:"model,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// WantsTools reports whether the model asked for tool execution. Tool calls
// take precedence over any content in the same response.
func (r *CompletionResponse) WantsTools() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object string
}

// ToolCallDelta is a fragment of a tool call in a streamed response.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// StreamEvent is a chunk from a streaming completion.
type StreamEvent struct {
	Type     string         `json:"type"`               // "delta", "tool_call_delta", "done", "error"
	Content  string         `json:"content,omitempty"`  // text delta
	ToolCall *ToolCallDelta `json:"toolCall,omitempty"` // type="tool_call_delta"
	Error    string         `json:"error,omitempty"`    // type="error"

	// Final fields (type="done")
	FinishReason string              `json:"finishReason,omitempty"`
	Response     *CompletionResponse `json:"response,omitempty"`
}

// Client is the interface all completion providers implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a request and returns a channel of streaming events.
	// The channel is closed when the stream ends or ctx is cancelled.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g., "openai").
	Name() string
}
