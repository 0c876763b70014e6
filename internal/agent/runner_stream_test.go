package agent

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/bizagent/internal/llm"
	"github.com/soyeahso/bizagent/internal/metrics"
	"github.com/soyeahso/bizagent/internal/tools"
)

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil
		}
	}
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func terminalCount(events []Event) int {
	n := 0
	for _, e := range events {
		if e.Terminal() {
			n++
		}
	}
	return n
}

func TestStream_ReplaysDirectReplyWordByWord(t *testing.T) {
	f := newFixture(t, scripted(textResponse("Hola, ¿qué tal estás?")), RunnerConfig{}, tools.BizumOptions{})

	events := collect(t, f.runner.ProcessMessageStream(context.Background(), Request{Message: "hola", UserID: "u1"}))
	require.NotEmpty(t, events)
	assert.Equal(t, []string{EventContent, EventContent, EventContent, EventContent, EventComplete}, eventTypes(events))
	assert.Equal(t, "Hola,", events[0].Content)
	assert.Equal(t, " ¿qué", events[1].Content)
	assert.Equal(t, " tal", events[2].Content)
	assert.Equal(t, " estás?", events[3].Content)

	last := events[len(events)-1]
	assert.True(t, last.IsComplete)
	assert.Equal(t, "Hola, ¿qué tal estás?", last.Response)
	assert.Equal(t, 1, last.Iterations)
	assert.Equal(t, "u1", last.UserID)
	assert.Equal(t, 1, terminalCount(events))

	h, _ := f.sessions.History(context.Background(), "u1")
	require.Len(t, h, 2)
	assert.Equal(t, "Hola, ¿qué tal estás?", h[1].Content)
}

func TestStream_MatchesSyncReply(t *testing.T) {
	responses := []*llm.CompletionResponse{
		toolCallResponse(call("c1", "calculator", `{"expression":"15 * 23 + 100"}`)),
		textResponse("El resultado es 445."),
	}

	syncFx := newFixture(t, scripted(responses...), RunnerConfig{}, tools.BizumOptions{})
	syncRes, err := syncFx.runner.ProcessMessage(context.Background(), Request{Message: "calcula", UserID: "u1"})
	require.NoError(t, err)

	streamFx := newFixture(t, scripted(responses...), RunnerConfig{}, tools.BizumOptions{})
	events := collect(t, streamFx.runner.ProcessMessageStream(context.Background(), Request{Message: "calcula", UserID: "u1"}))

	require.NotEmpty(t, events)
	assert.Equal(t, EventToolExecution, events[0].Type)
	assert.Equal(t, []string{"calculator"}, events[0].Tools)
	assert.Equal(t, 1, events[0].Iteration)

	final, _, ok := Collect(chanOf(events))
	require.True(t, ok)
	assert.Equal(t, syncRes.Response, final.Response)
	assert.Equal(t, syncRes.Iterations, final.Iterations)
	assert.Equal(t, syncRes.ToolsUsed, final.ToolsUsed)

	var text string
	for _, e := range events {
		if e.Type == EventContent {
			text += e.Content
		}
	}
	assert.Equal(t, syncRes.Response, text)
}

func chanOf(events []Event) <-chan Event {
	ch := make(chan Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func TestStream_NoContentStreamsFinalReply(t *testing.T) {
	mock := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: llm.ScriptedResponses(
			toolCallResponse(call("c1", "calculator", `{"expression":"2+2"}`)),
			&llm.CompletionResponse{FinishReason: llm.FinishStop},
		),
		StreamFunc: llm.StreamOf(
			llm.StreamEvent{Type: llm.EventDelta, Content: "Son "},
			llm.StreamEvent{Type: llm.EventDelta, Content: "4."},
			llm.StreamEvent{Type: llm.EventDone, FinishReason: llm.FinishStop, Response: &llm.CompletionResponse{
				Content: "Son 4.",
				Usage:   llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
			}},
		),
	}
	f := newFixture(t, mock, RunnerConfig{}, tools.BizumOptions{})

	events := collect(t, f.runner.ProcessMessageStream(context.Background(), Request{Message: "2+2", UserID: "u1"}))
	assert.Equal(t,
		[]string{EventToolExecution, EventResponseStart, EventContent, EventContent, EventComplete},
		eventTypes(events))

	last := events[len(events)-1]
	assert.Equal(t, "Son 4.", last.Response)
	assert.Equal(t, 2, last.Iterations)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 20, last.Usage.TotalTokens, "usage of every call is summed")

	reqs := mock.Requests()
	require.Len(t, reqs, 3)
	assert.True(t, reqs[2].Stream)
	assert.Empty(t, reqs[2].Tools, "the final streamed call offers no tools")

	h, _ := f.sessions.History(context.Background(), "u1")
	require.Len(t, h, 2)
	assert.Equal(t, "Son 4.", h[1].Content)
}

func TestStream_EndsWithoutDoneIsAnError(t *testing.T) {
	mock := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: llm.ScriptedResponses(&llm.CompletionResponse{}),
		StreamFunc:   llm.StreamOf(llm.StreamEvent{Type: llm.EventDelta, Content: "medio"}),
	}
	f := newFixture(t, mock, RunnerConfig{}, tools.BizumOptions{})

	events := collect(t, f.runner.ProcessMessageStream(context.Background(), Request{Message: "hola", UserID: "u1"}))
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, ErrStreamEnded.Error(), last.Error)
	assert.Equal(t, 1, terminalCount(events))

	h, _ := f.sessions.History(context.Background(), "u1")
	assert.Empty(t, h, "an unfinished reply is not persisted")
}

func TestStream_ProviderErrorEvent(t *testing.T) {
	mock := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: llm.ScriptedResponses(&llm.CompletionResponse{}),
		StreamFunc:   llm.StreamOf(llm.StreamEvent{Type: llm.EventError, Error: "boom"}),
	}
	f := newFixture(t, mock, RunnerConfig{}, tools.BizumOptions{})

	events := collect(t, f.runner.ProcessMessageStream(context.Background(), Request{Message: "hola", UserID: "u1"}))
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Error, "boom")
}

func TestStream_BizumConfirmation(t *testing.T) {
	mock := scripted(toolCallResponse(call("c1", "bizum", `{"action":"send","amount":25,"recipient":"612345678","concept":"Cena"}`)))
	f := newFixture(t, mock, RunnerConfig{}, tools.BizumOptions{})

	events := collect(t, f.runner.ProcessMessageStream(context.Background(), Request{Message: "Envía 25€", UserID: "u1"}))
	assert.Equal(t, []string{EventToolExecution, EventConfirmation, EventComplete}, eventTypes(events))

	conf := events[1]
	assert.NotEmpty(t, conf.ConfirmationID)
	assert.Equal(t, "+34612345678", conf.Recipient)
	assert.Equal(t, 25.0, conf.Amount)
	assert.Equal(t, "Cena", conf.Concept)

	last := events[2]
	assert.Contains(t, last.Response, "⏳ Bizum pendiente de confirmación")
	assert.Equal(t, []string{"bizum"}, last.ToolsUsed)

	pending := f.confirmations.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, conf.ConfirmationID, pending[0].ID)
}

func TestStream_EmptyMessage(t *testing.T) {
	f := newFixture(t, scripted(textResponse("ok")), RunnerConfig{}, tools.BizumOptions{})

	events := collect(t, f.runner.ProcessMessageStream(context.Background(), Request{Message: "", UserID: "u1"}))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, "message is required", events[0].Error)
	assert.True(t, events[0].IsComplete)
	assert.Empty(t, f.mock.Requests())
}

func TestStream_MaxIterations(t *testing.T) {
	mock := scripted(toolCallResponse(call("c", "calculator", `{"expression":"1"}`)))
	f := newFixture(t, mock, RunnerConfig{MaxIterations: 2}, tools.BizumOptions{})

	events := collect(t, f.runner.ProcessMessageStream(context.Background(), Request{Message: "loop", UserID: "u1"}))
	assert.Equal(t, []string{EventToolExecution, EventToolExecution, EventError}, eventTypes(events))
	assert.Equal(t, ErrMaxIterations.Error(), events[2].Error)
	assert.Equal(t, 2, events[2].Iterations)
	assert.Equal(t, []string{"calculator"}, events[2].ToolsUsed)

	res, err := f.runner.ProcessMessage(context.Background(), Request{Message: "loop", UserID: "u2"})
	require.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, res.Iterations, events[2].Iterations, "both modes report the same partial progress")
	assert.Equal(t, res.ToolsUsed, events[2].ToolsUsed)
}

func TestStream_CancelStopsProducer(t *testing.T) {
	f := newFixture(t, scripted(textResponse("una respuesta con bastantes palabras para cortar")),
		RunnerConfig{WordDelay: 20 * time.Millisecond}, tools.BizumOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	ch := f.runner.ProcessMessageStream(ctx, Request{Message: "hola", UserID: "u1"})

	first := <-ch
	assert.Equal(t, EventContent, first.Type)
	cancel()

	rest := collect(t, ch)
	assert.Zero(t, terminalCount(rest))

	h, _ := f.sessions.History(context.Background(), "u1")
	assert.Empty(t, h, "an abandoned stream is not persisted")
}

func TestStream_RecordsMetrics(t *testing.T) {
	f := newFixture(t, scripted(textResponse("ok")), RunnerConfig{}, tools.BizumOptions{})
	m := metrics.New()
	f.runner.WithMetrics(m)

	collect(t, f.runner.ProcessMessageStream(context.Background(), Request{Message: "hola", UserID: "u1"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("stream", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StreamsInFlight))
}
