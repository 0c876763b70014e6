package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/bizagent/internal/agent"
	"github.com/soyeahso/bizagent/internal/llm"
)

func (gw *agentGateway) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, gw.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestHTTPHealth(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())

	resp, err := http.Get(gw.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHTTPAPIHealthSkipsAuth(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())

	resp, err := http.Get(gw.ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 5, health.Tools)
	require.NotNil(t, health.Agent)
	assert.True(t, health.Agent.Initialized)
	assert.Equal(t, "Asistente", health.Agent.Name)
}

func TestHTTPNotFound(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())

	resp, body := gw.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Endpoint not found", body["error"])
	assert.Equal(t, "/nope", body["path"])
}

func TestHTTPChat(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())

	resp, body := gw.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "  hola  ", UserID: "u1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Has dicho: hola", body["response"])
	assert.Equal(t, "u1", body["userId"])

	resp, body = gw.do(t, http.MethodGet, "/api/history?userId=u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["history"], 2)
}

func TestHTTPChatValidation(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())

	resp, body := gw.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Message is required and must be a string", body["error"])

	resp, _ = gw.do(t, http.MethodPost, "/api/chat", "not an object")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPChatProviderFailureIsReported(t *testing.T) {
	mock := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, errors.New("upstream down")
		},
	}
	gw := newAgentGateway(t, mock)

	resp, body := gw.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "hola"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
}

func TestHTTPRequiresToken(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())

	resp, err := http.Post(gw.ts.URL+"/api/chat", "application/json", strings.NewReader(`{"message":"hola"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, gw.mock.Requests())
}

func TestHTTPNoRunner(t *testing.T) {
	srv, ts := testServer(t)
	gw := &agentGateway{srv: srv, ts: ts}

	resp, body := gw.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "hola"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "AI Agent is not initialized", body["error"])

	resp, _ = gw.do(t, http.MethodPost, "/api/bizum/confirm", confirmRequest{UserID: "u1", ConfirmationID: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func readSSE(t *testing.T, r io.Reader) []agent.Event {
	t.Helper()
	var events []agent.Event
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e agent.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		events = append(events, e)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestHTTPChatStream(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())

	req, err := http.NewRequest(http.MethodPost, gw.ts.URL+"/api/chat/stream", strings.NewReader(`{"message":"buenos días","userId":"u9"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp.Body)
	require.NotEmpty(t, events)

	var text string
	terminal := 0
	for _, e := range events {
		assert.Equal(t, "u9", e.UserID)
		if e.Type == agent.EventContent {
			text += e.Content
		}
		if e.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	assert.Equal(t, "Has dicho: buenos días", text)

	last := events[len(events)-1]
	assert.Equal(t, agent.EventComplete, last.Type)
	assert.Equal(t, "Has dicho: buenos días", last.Response)
}

func TestHTTPBizumConfirmFlow(t *testing.T) {
	mock := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: llm.ScriptedResponses(&llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "bizum", Arguments: `{"action":"send","amount":25,"recipient":"612345678","concept":"cena"}`}},
		}),
	}
	gw := newAgentGateway(t, mock)

	_, body := gw.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "Envía 25€ al 612345678", UserID: "u1"})
	require.Equal(t, true, body["requiresConfirmation"])
	confID, _ := body["confirmationId"].(string)
	require.NotEmpty(t, confID)
	assert.Len(t, gw.confirmations.Pending(), 1)

	resp, body := gw.do(t, http.MethodPost, "/api/bizum/confirm", confirmRequest{UserID: "u2", ConfirmationID: confID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"], "another user cannot confirm")

	resp, body = gw.do(t, http.MethodPost, "/api/bizum/confirm", confirmRequest{UserID: "u1", ConfirmationID: confID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Empty(t, gw.confirmations.Pending())
}

func TestBizumEventRelayedToOwnerConnections(t *testing.T) {
	mock := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: llm.ScriptedResponses(&llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "bizum", Arguments: `{"action":"send","amount":15,"recipient":"612345678"}`}},
		}),
	}
	gw := newAgentGateway(t, mock)
	owner, _ := dial(t, gw.ts, "u1")
	stranger, _ := dial(t, gw.ts, "u2")

	_, body := gw.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "Envía 15€ al 612345678", UserID: "u1"})
	confID, _ := body["confirmationId"].(string)
	require.NotEmpty(t, confID)

	_, body = gw.do(t, http.MethodPost, "/api/bizum/confirm", confirmRequest{UserID: "u1", ConfirmationID: confID})
	require.Equal(t, true, body["success"])

	require.NoError(t, owner.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, owner.ReadJSON(&frame))
	assert.Equal(t, FrameTypeEvent, frame.Type)
	assert.Equal(t, EventBizum, frame.Event)

	var payload BizumEventPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "transaction_completed", payload.Event)
	assert.Equal(t, confID, payload.ConfirmationID)
	require.NotNil(t, payload.Transaction)
	assert.Equal(t, 15.0, payload.Transaction.Amount)
	assert.Equal(t, "+34612345678", payload.Transaction.RecipientPhone)

	require.NoError(t, stranger.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	err := stranger.ReadJSON(&frame)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout(), "other users hear nothing")
}

func TestHTTPBizumCancel(t *testing.T) {
	mock := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: llm.ScriptedResponses(&llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "bizum", Arguments: `{"action":"send","amount":5,"recipient":"+34612345678"}`}},
		}),
	}
	gw := newAgentGateway(t, mock)

	_, body := gw.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "Envía 5€", UserID: "u1"})
	confID, _ := body["confirmationId"].(string)
	require.NotEmpty(t, confID)

	no := false
	_, body = gw.do(t, http.MethodPost, "/api/bizum/confirm", confirmRequest{UserID: "u1", ConfirmationID: confID, Confirmed: &no})
	assert.Equal(t, true, body["cancelled"])
	assert.Equal(t, "❌ Bizum cancelado", body["message"])
	assert.Empty(t, gw.confirmations.Pending())
}

func TestHTTPConfirmValidation(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())

	resp, body := gw.do(t, http.MethodPost, "/api/bizum/confirm", confirmRequest{UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "userId and confirmationId are required", body["error"])
}

func TestHTTPToolsAndSessions(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())

	resp, body := gw.do(t, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list, ok := body["tools"].([]any)
	require.True(t, ok)
	names := make([]string, 0, len(list))
	for _, item := range list {
		names = append(names, item.(map[string]any)["name"].(string))
	}
	assert.Equal(t, []string{"calculator", "weather", "search", "bizum", "contacts"}, names)

	gw.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "uno", UserID: "a"})
	gw.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "dos", UserID: "b"})

	_, body = gw.do(t, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, float64(2), body["count"])

	_, body = gw.do(t, http.MethodGet, "/api/sessions?active=true", nil)
	assert.Equal(t, float64(2), body["count"])

	resp, _ = gw.do(t, http.MethodDelete, "/api/sessions/a", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = gw.do(t, http.MethodDelete, "/api/sessions/a", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Session not found", body["error"])

	resp, body = gw.do(t, http.MethodPost, "/api/clear-history", userRequest{UserID: "b"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Conversation history cleared", body["message"])
	_, body = gw.do(t, http.MethodGet, "/api/history?userId=b", nil)
	assert.Empty(t, body["history"])

	resp, body = gw.do(t, http.MethodPost, "/api/sessions/prune", pruneRequest{OlderThanHours: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["pruned"])
}

func TestHTTPHistoryRequiresUser(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())

	resp, body := gw.do(t, http.MethodGet, "/api/history", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "userId is required", body["error"])
}

func TestHTTPMetricsEndpoint(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())
	gw.do(t, http.MethodPost, "/api/chat", chatRequest{Message: "hola", UserID: "u1"})

	resp, err := http.Get(gw.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "bizagent_messages_total")
	assert.Contains(t, string(raw), `route="POST /api/chat"`)
}
