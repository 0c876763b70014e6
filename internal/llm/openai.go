package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAITimeout = 60 * time.Second
)

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	Name    string // provider name reported by Name(); defaults to "openai"
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient talks to any endpoint implementing POST /chat/completions.
type OpenAIClient struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAIClient creates a client. An empty BaseURL selects api.openai.com.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIClient{
		name:    name,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (o *OpenAIClient) Name() string {
	return o.name
}

// Complete sends a non-streaming completion request.
func (o *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	payload, err := json.Marshal(o.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := o.do(ctx, o.client, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result openAIChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Error != nil && result.Error.Message != "" {
		return nil, &ProviderError{Provider: o.name, Message: result.Error.Message}
	}
	if len(result.Choices) == 0 {
		return nil, &ProviderError{Provider: o.name, Message: "response has no choices"}
	}

	choice := result.Choices[0]
	out := &CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        result.Model,
		Duration:     time.Since(start),
		Usage: Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// Stream sends a streaming completion request. Malformed chunks are dropped.
// A done event is sent only if the provider signalled completion; a body that
// ends without one closes the channel with no done event.
func (o *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	payload, err := json.Marshal(o.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Streams may outlive the one-shot timeout; ctx bounds them instead.
	streamClient := &http.Client{Transport: o.client.Transport}
	resp, err := o.do(ctx, streamClient, payload)
	if err != nil {
		return nil, err
	}

	eventChan := make(chan StreamEvent)
	go o.readStream(ctx, resp.Body, eventChan)
	return eventChan, nil
}

func (o *OpenAIClient) do(ctx context.Context, client *http.Client, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: o.name, Message: fmt.Sprintf("request failed: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, &ProviderError{Provider: o.name, Code: resp.StatusCode, Message: errorMessage(body)}
	}
	return resp, nil
}

func (o *OpenAIClient) readStream(ctx context.Context, body io.ReadCloser, eventChan chan<- StreamEvent) {
	defer close(eventChan)
	defer body.Close()

	send := func(evt StreamEvent) bool {
		select {
		case eventChan <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		content      strings.Builder
		finishReason string
		model        string
		usage        Usage
		calls        = map[int]*ToolCall{}
		sawDone      bool
	)

	scanner := newServerSentEventScanner(body)
	for scanner.Scan() {
		if scanner.Done() {
			sawDone = true
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(scanner.Data()), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if !send(StreamEvent{Type: EventDelta, Content: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc, ok := calls[tc.Index]
				if !ok {
					acc = &ToolCall{}
					calls[tc.Index] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				acc.Name += tc.Function.Name
				acc.Arguments += tc.Function.Arguments
				delta := &ToolCallDelta{Index: tc.Index, ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
				if !send(StreamEvent{Type: EventToolCallDelta, ToolCall: delta}) {
					return
				}
			}
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		send(StreamEvent{Type: EventError, Error: fmt.Sprintf("stream read failed: %v", err)})
		return
	}
	if !sawDone && finishReason == "" {
		return
	}

	resp := &CompletionResponse{
		Content:      content.String(),
		FinishReason: finishReason,
		Model:        model,
		Usage:        usage,
	}
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		resp.ToolCalls = append(resp.ToolCalls, *calls[i])
	}
	send(StreamEvent{Type: EventDone, FinishReason: finishReason, Response: resp})
}

func (o *OpenAIClient) buildRequest(req CompletionRequest, stream bool) openAIChatRequest {
	model := req.Model
	if model == "" {
		model = o.model
	}

	out := openAIChatRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}

	if req.System != "" {
		out.Messages = append(out.Messages, openAIMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msg := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openAITool{
			Type: "function",
			Function: openAIFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = "auto"
	}
	return out
}

// errorMessage extracts {"error":{"message":...}} from an error body, falling
// back to the raw text.
func errorMessage(body []byte) string {
	var env struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = "empty error body"
	}
	return msg
}

// Wire structures

type openAIChatRequest struct {
	Model         string               `json:"model"`
	Messages      []openAIMessage      `json:"messages"`
	Tools         []openAITool         `json:"tools,omitempty"`
	ToolChoice    string               `json:"tool_choice,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

type openAIFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAIToolCall struct {
	Index    int                `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage,omitempty"`
}
