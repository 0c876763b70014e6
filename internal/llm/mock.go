package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for Client.
type MockClient struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	StreamFunc   func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	mu       sync.Mutex
	requests []CompletionRequest
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.record(req)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &CompletionResponse{Content: "mock response", FinishReason: FinishStop}, nil
}

func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	m.record(req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	ch := make(chan StreamEvent, 2)
	ch <- StreamEvent{Type: EventDelta, Content: "mock "}
	ch <- StreamEvent{
		Type:         EventDone,
		FinishReason: FinishStop,
		Response:     &CompletionResponse{Content: "mock stream response"},
	}
	close(ch)
	return ch, nil
}

// Requests returns every request the mock has received, in order.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

func (m *MockClient) record(req CompletionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

// ScriptedResponses returns a CompleteFunc that replays responses in order
// and repeats the last one once exhausted.
func ScriptedResponses(responses ...*CompletionResponse) func(context.Context, CompletionRequest) (*CompletionResponse, error) {
	var (
		mu sync.Mutex
		i  int
	)
	return func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(responses) == 0 {
			return &CompletionResponse{}, nil
		}
		r := responses[i]
		if i < len(responses)-1 {
			i++
		}
		return r, nil
	}
}

// StreamOf returns a StreamFunc that emits the given events then closes.
func StreamOf(events ...StreamEvent) func(context.Context, CompletionRequest) (<-chan StreamEvent, error) {
	return func(context.Context, CompletionRequest) (<-chan StreamEvent, error) {
		ch := make(chan StreamEvent, len(events))
		for _, e := range events {
			ch <- e
		}
		close(ch)
		return ch, nil
	}
}
