package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/bizagent/internal/agent"
	"github.com/soyeahso/bizagent/internal/config"
	"github.com/soyeahso/bizagent/internal/hooks"
	"github.com/soyeahso/bizagent/internal/llm"
	"github.com/soyeahso/bizagent/internal/logging"
	"github.com/soyeahso/bizagent/internal/metrics"
	"github.com/soyeahso/bizagent/internal/tools"
)

const testToken = "test-token-123"

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Gateway.Auth.Mode = "token"
	cfg.Gateway.Auth.Token = testToken
	return cfg
}

func testRaw() map[string]any {
	return map[string]any{
		"gateway": map[string]any{"port": 18789, "bind": "loopback"},
	}
}

// testServer is a gateway with no provider behind it.
func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(testConfig(), logging.New(nil, "silent"), WithConfigRaw(testRaw()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

// agentGateway is a gateway backed by a scripted provider and in-memory stores.
type agentGateway struct {
	srv           *Server
	ts            *httptest.Server
	mock          *llm.MockClient
	confirmations *tools.MemoryConfirmationStore
	metrics       *metrics.Metrics
}

func echoProvider() *llm.MockClient {
	return &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{
				Content: "Has dicho: " + req.Messages[len(req.Messages)-1].Content,
				Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
			}, nil
		},
	}
}

func newAgentGateway(t *testing.T, mock *llm.MockClient) *agentGateway {
	t.Helper()
	log := logging.New(nil, "silent")
	confirmations := tools.NewMemoryConfirmationStore()
	hm := hooks.NewManager(log)
	reg, builtins := tools.NewDefaultRegistry(tools.Deps{Confirmations: confirmations, Hooks: hm, Log: log})
	m := metrics.New()

	runner := agent.NewRunner(
		agent.RunnerConfig{AgentName: "Asistente", Model: "mock"},
		mock,
		agent.NewMemorySessionStore(20),
		reg,
		log,
	).WithMetrics(m)

	cfg := testConfig()
	srv := New(cfg, log,
		WithConfigRaw(testRaw()),
		WithRunner(runner),
		WithBizum(builtins.Bizum),
		WithHooks(hm),
		WithMetrics(m),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &agentGateway{srv: srv, ts: ts, mock: mock, confirmations: confirmations, metrics: m}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func connectParams(token, userID string) ConnectParams {
	return ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test-client", Version: "1.0.0", Platform: "linux", Mode: "app"},
		Auth:        &ConnectAuth{Token: token},
		UserID:      userID,
	}
}

// dial completes the handshake and returns the connection with the hello payload.
func dial(t *testing.T, ts *httptest.Server, userID string) (*websocket.Conn, HelloOK) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, EventChallenge, challenge.Event)

	connectReq, _ := NewRequest("auth-req", "connect", connectParams(testToken, userID))
	require.NoError(t, conn.WriteJSON(connectReq))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	var hello HelloOK
	decodeOK(t, resp, &hello)
	return conn, hello
}

// authenticatedConn returns a WebSocket connection to a provider-less gateway.
func authenticatedConn(t *testing.T) *websocket.Conn {
	t.Helper()
	_, ts := testServer(t)
	conn, _ := dial(t, ts, "")
	return conn
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params any) Frame {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeResponse && f.ID == id {
			return f
		}
	}
}

// decodeOK requires a successful response and decodes its payload into out.
func decodeOK(t *testing.T, f Frame, out any) {
	t.Helper()
	require.NotNil(t, f.OK, "not a response frame")
	require.True(t, *f.OK, "rpc failed: %+v", f.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(f.Payload, out))
	}
}

func requireRPCError(t *testing.T, f Frame, code string) {
	t.Helper()
	require.NotNil(t, f.OK, "not a response frame")
	require.False(t, *f.OK)
	require.NotNil(t, f.Error)
	assert.Equal(t, code, f.Error.Code, f.Error.Message)
}

func TestWebSocketHandshakeSuccess(t *testing.T) {
	_, ts := testServer(t)

	conn, hello := dial(t, ts, "")
	defer conn.Close()

	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Regexp(t, `^user_\d{8}_[0-9a-f]{6}$`, hello.Server.UserID)
	assert.Contains(t, hello.Features.Methods, "chat.send")
	assert.Equal(t, []string{EventChallenge, EventChat, EventBizum}, hello.Features.Events)
	assert.Greater(t, hello.Policy.MaxPayload, 0)
}

func TestWebSocketHandshakeKeepsUserID(t *testing.T) {
	_, ts := testServer(t)
	_, hello := dial(t, ts, "user_12345678_abcdef")
	assert.Equal(t, "user_12345678_abcdef", hello.Server.UserID)
}

func TestWebSocketHandshakeRejected(t *testing.T) {
	future := connectParams(testToken, "")
	future.MinProtocol, future.MaxProtocol = ProtocolVersion+1, ProtocolVersion+2

	tests := []struct {
		name   string
		method string
		params any
		code   string
	}{
		{"wrong token", "connect", connectParams("wrong-token", ""), "unauthorized"},
		{"no connect first", "health", nil, "protocol_error"},
		{"unsupported protocol", "connect", future, "protocol_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := testServer(t)
			conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
			require.NoError(t, err)
			defer conn.Close()

			var challenge Frame
			require.NoError(t, conn.ReadJSON(&challenge))

			req, _ := NewRequest("req-1", tt.method, tt.params)
			require.NoError(t, conn.WriteJSON(req))

			var resp Frame
			require.NoError(t, conn.ReadJSON(&resp))
			requireRPCError(t, resp, tt.code)
			assert.Equal(t, "req-1", resp.ID)
		})
	}
}

func TestWebSocketRPCHealth(t *testing.T) {
	conn := authenticatedConn(t)

	var health HealthResponse
	decodeOK(t, call(t, conn, "req-2", "health", nil), &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Clients)
	require.NotNil(t, health.Agent)
	assert.False(t, health.Agent.Initialized)
}

func TestWebSocketRPCConfigGet(t *testing.T) {
	conn := authenticatedConn(t)

	resp := call(t, conn, "req-3", "config.get", configGetParams{Key: "gateway.port"})
	decodeOK(t, resp, nil)
	assert.JSONEq(t, `{"key":"gateway.port","value":18789}`, string(resp.Payload))
}

func TestWebSocketRPCConfigSet(t *testing.T) {
	conn := authenticatedConn(t)

	decodeOK(t, call(t, conn, "req-4", "config.set", configSetParams{Key: "gateway.bind", Value: "lan"}), nil)

	var got struct{ Value string }
	decodeOK(t, call(t, conn, "req-5", "config.get", configGetParams{Key: "gateway.bind"}), &got)
	assert.Equal(t, "lan", got.Value)
}

func TestWebSocketRPCUnknownMethod(t *testing.T) {
	conn := authenticatedConn(t)

	requireRPCError(t, call(t, conn, "req-6", "nonexistent.method", nil), "method_not_found")
}

func TestChatSendRPC(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())
	conn, hello := dial(t, gw.ts, "")

	var result agent.Result
	decodeOK(t, call(t, conn, "chat-1", "chat.send", chatSendParams{Message: "Hola bot"}), &result)
	assert.True(t, result.Success)
	assert.Equal(t, "Has dicho: Hola bot", result.Response)
	assert.Equal(t, hello.Server.UserID, result.UserID, "requests default to the connection's user")

	var h struct {
		History []map[string]any `json:"history"`
	}
	decodeOK(t, call(t, conn, "hist-1", "session.history", sessionParams{}), &h)
	assert.Len(t, h.History, 2)

	decodeOK(t, call(t, conn, "clear-1", "session.clear", sessionParams{}), nil)

	h.History = nil
	decodeOK(t, call(t, conn, "hist-2", "session.history", sessionParams{}), &h)
	assert.Empty(t, h.History)
}

func TestChatSendRPCStream(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())
	conn, _ := dial(t, gw.ts, "u1")

	req, _ := NewRequest("chat-s", "chat.send", chatSendParams{Message: "uno dos", Stream: true})
	require.NoError(t, conn.WriteJSON(req))

	var events []agent.Event
	var final Frame
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeEvent {
			require.Equal(t, EventChat, f.Event)
			var p ChatEventPayload
			require.NoError(t, json.Unmarshal(f.Payload, &p))
			assert.Equal(t, "chat-s", p.RequestID)
			events = append(events, p.Event)
			continue
		}
		final = f
		break
	}

	require.NotEmpty(t, events)
	assert.Equal(t, agent.EventComplete, events[len(events)-1].Type)
	var text string
	for _, e := range events {
		if e.Type == agent.EventContent {
			text += e.Content
		}
	}
	assert.Equal(t, "Has dicho: uno dos", text)

	var done agent.Event
	decodeOK(t, final, &done)
	assert.Equal(t, "Has dicho: uno dos", done.Response)
	assert.Equal(t, "u1", done.UserID)
}

func TestRPCRejectsOtherUsers(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())
	alice, _ := dial(t, gw.ts, "alice")
	bob, _ := dial(t, gw.ts, "bob")

	decodeOK(t, call(t, alice, "a-1", "chat.send", chatSendParams{Message: "secreto"}), nil)

	tests := []struct {
		method string
		params any
	}{
		{"chat.send", chatSendParams{Message: "hola", UserID: "alice"}},
		{"session.history", sessionParams{UserID: "alice"}},
		{"session.clear", sessionParams{UserID: "alice"}},
		{"bizum.confirm", confirmParams{UserID: "alice", ConfirmationID: "c-1"}},
	}
	for i, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			requireRPCError(t, call(t, bob, fmt.Sprintf("b-%d", i), tt.method, tt.params), "forbidden")
		})
	}

	var h struct {
		UserID  string           `json:"userId"`
		History []map[string]any `json:"history"`
	}
	decodeOK(t, call(t, alice, "a-2", "session.history", sessionParams{UserID: "alice"}), &h)
	assert.Equal(t, "alice", h.UserID)
	assert.Len(t, h.History, 2, "alice's session is untouched")
}

func TestChatSendNoRunner(t *testing.T) {
	conn := authenticatedConn(t)

	requireRPCError(t, call(t, conn, "chat-2", "chat.send", chatSendParams{Message: "Hola"}), "unavailable")
}

func TestChatSendEmptyMessage(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())
	conn, _ := dial(t, gw.ts, "")

	requireRPCError(t, call(t, conn, "chat-3", "chat.send", chatSendParams{Message: "  "}), "invalid_params")
}

func TestBizumConfirmRPC(t *testing.T) {
	mock := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: llm.ScriptedResponses(&llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "bizum", Arguments: `{"action":"send","amount":15,"recipient":"612345678"}`}},
		}),
	}
	gw := newAgentGateway(t, mock)
	conn, _ := dial(t, gw.ts, "u1")

	var result agent.Result
	decodeOK(t, call(t, conn, "chat-1", "chat.send", chatSendParams{Message: "Envía 15€ al 612345678"}), &result)
	require.True(t, result.RequiresConfirmation)

	var out struct{ Success bool }
	decodeOK(t, call(t, conn, "conf-1", "bizum.confirm", confirmParams{ConfirmationID: result.ConfirmationID}), &out)
	assert.True(t, out.Success)

	out.Success = true
	decodeOK(t, call(t, conn, "conf-2", "bizum.confirm", confirmParams{ConfirmationID: result.ConfirmationID}), &out)
	assert.False(t, out.Success, "a confirmation resolves once")
}

func TestToolsAndSessionsRPC(t *testing.T) {
	gw := newAgentGateway(t, echoProvider())
	conn, _ := dial(t, gw.ts, "u1")

	var toolsOut struct {
		Tools []tools.Schema `json:"tools"`
	}
	decodeOK(t, call(t, conn, "t-1", "tools.list", nil), &toolsOut)
	assert.Len(t, toolsOut.Tools, 5)

	call(t, conn, "chat-1", "chat.send", chatSendParams{Message: "hola"})

	var sessions struct {
		Sessions []map[string]any `json:"sessions"`
	}
	decodeOK(t, call(t, conn, "s-1", "session.list", sessionListParams{Active: true}), &sessions)
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, "u1", sessions.Sessions[0]["userId"])
}

func TestServerStart(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Port = 0 // let OS pick a port
	cfg.Gateway.Auth.Mode = "token"
	cfg.Gateway.Auth.Token = "test-token"

	hm := hooks.NewManager(logging.New(nil, "silent"))
	started := make(chan struct{}, 1)
	stopped := make(chan struct{}, 1)
	hm.On(hooks.EventGatewayStart, "test", func(context.Context, hooks.Payload) error {
		started <- struct{}{}
		return nil
	})
	hm.On(hooks.EventGatewayStop, "test", func(context.Context, hooks.Payload) error {
		stopped <- struct{}{}
		return nil
	})

	srv := New(cfg, logging.New(nil, "silent"), WithHooks(hm))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not start")
	}
	cancel()

	assert.NoError(t, <-errCh)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway_stop was not emitted")
	}
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.GatewayConfig
		want string
	}{
		{"loopback", config.GatewayConfig{Bind: "loopback", Port: 3000}, "127.0.0.1:3000"},
		{"lan", config.GatewayConfig{Bind: "lan", Port: 9999}, "0.0.0.0:9999"},
		{"auto", config.GatewayConfig{Bind: "auto", Port: 8080}, "0.0.0.0:8080"},
		{"custom without host", config.GatewayConfig{Bind: "custom", Port: 3000}, "0.0.0.0:3000"},
		{"custom host", config.GatewayConfig{Bind: "custom", Port: 3000, CustomBindHost: "10.0.0.1"}, "10.0.0.1:3000"},
		{"custom ipv6 host", config.GatewayConfig{Bind: "custom", Port: 3000, CustomBindHost: "::1"}, "[::1]:3000"},
		{"unknown falls back to loopback", config.GatewayConfig{Bind: "whatever", Port: 5000}, "127.0.0.1:5000"},
		{"empty falls back to loopback", config.GatewayConfig{Port: 5000}, "127.0.0.1:5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveBindAddr(tt.cfg))
		})
	}
}

func TestHandlerRejectsUnauthenticatedAPI(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/api/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
