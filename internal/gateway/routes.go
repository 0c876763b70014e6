package gateway

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/soyeahso/bizagent/internal/agent"
	"github.com/soyeahso/bizagent/internal/config"
)

// rpcConfigPrefixes are the config subtrees a client may read or edit over
// RPC. Credentials, TLS material and payment limits are not among them.
var rpcConfigPrefixes = []string{
	"agent.name",
	"agent.description",
	"agent.streamWordDelayMs",
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"gateway.allowedOrigins",
	"logging",
	"session",
	"metrics",
}

func isAllowedConfigPath(key string) bool {
	return slices.ContainsFunc(rpcConfigPrefixes, func(prefix string) bool {
		return key == prefix || strings.HasPrefix(key, prefix+".")
	})
}

// llmCallTimeout is the maximum duration for one RPC chat turn.
const llmCallTimeout = 5 * time.Minute

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/health", s.handleAPIHealth)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /api/bizum/confirm", s.handleConfirm)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/clear-history", s.handleClearHistory)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("POST /api/sessions/prune", s.handlePruneSessions)
	mux.HandleFunc("DELETE /api/sessions/{userId}", s.handleDeleteSession)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, s.metrics.Handler())
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("config.get", s.rpcConfigGet)
	s.Handle("config.set", s.rpcConfigSet)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("bizum.confirm", s.rpcBizumConfirm)
	s.Handle("tools.list", s.rpcToolsList)
	s.Handle("session.list", s.rpcSessionList)
	s.Handle("session.history", s.rpcSessionHistory)
	s.Handle("session.clear", s.rpcSessionClear)
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(s.health())
}

type configGetParams struct {
	Key string `json:"key"`
}

type configSetParams struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// configPath validates key against the allowlist and splits it. On failure
// the error is already sent and ok is false.
func configPath(rc *RequestContext, key string) (path []string, ok bool) {
	switch {
	case key == "":
		rc.RespondError("invalid_params", "key is required")
		return nil, false
	case !isAllowedConfigPath(key):
		rc.RespondError("forbidden", "config path not exposed: "+key)
		return nil, false
	}
	path, err := config.ParseConfigPath(key)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return nil, false
	}
	return path, true
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	var p configGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	path, ok := configPath(rc, p.Key)
	if !ok {
		return
	}

	s.mu.RLock()
	val, found := config.GetValueAtPath(s.configRaw, path)
	s.mu.RUnlock()
	if !found {
		rc.RespondError("not_found", "key not found: "+p.Key)
		return
	}
	rc.Respond(map[string]any{"key": p.Key, "value": val})
}

// rpcConfigSet edits the in-memory config view. Persisting is left to the
// `config set` command.
func (s *Server) rpcConfigSet(rc *RequestContext) {
	var p configSetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	path, ok := configPath(rc, p.Key)
	if !ok {
		return
	}

	s.mu.Lock()
	config.SetValueAtPath(s.configRaw, path, p.Value)
	s.mu.Unlock()
	rc.Respond(map[string]any{"key": p.Key, "value": p.Value})
}

type chatSendParams struct {
	Message      string `json:"message"`
	UserID       string `json:"userId,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Stream       bool   `json:"stream,omitempty"`
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	if s.runner == nil {
		rc.RespondError("unavailable", "no LLM provider configured")
		return
	}

	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if strings.TrimSpace(p.Message) == "" {
		rc.RespondError("invalid_params", "message is required")
		return
	}

	userID, ok := rc.UserID(p.UserID)
	if !ok {
		return
	}
	req := agent.Request{
		Message:      strings.TrimSpace(p.Message),
		UserID:       userID,
		SystemPrompt: p.SystemPrompt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), llmCallTimeout)
	defer cancel()

	if p.Stream {
		s.rpcChatStream(ctx, rc, req)
		return
	}

	res, _ := s.runner.ProcessMessage(ctx, req)
	rc.Respond(res)
}

// rpcChatStream relays every stream event as a chat.event frame and answers
// the request with the terminal event.
func (s *Server) rpcChatStream(ctx context.Context, rc *RequestContext, req agent.Request) {
	var final agent.Event
	for evt := range s.runner.ProcessMessageStream(ctx, req) {
		if evt.Terminal() {
			final = evt
		}
		err := rc.Client.SendEvent(EventChat, ChatEventPayload{RequestID: rc.Frame.ID, Event: evt}, s.eventSeq.Add(1))
		if err != nil {
			// the caller's deferred cancel stops the producer
			s.log.Debug().Err(err).Str("connId", rc.Client.ConnID).Msg("dropping chat stream")
			return
		}
	}
	if !final.Terminal() {
		rc.RespondError("agent_error", "stream ended without a result")
		return
	}
	rc.Respond(final)
}

type confirmParams struct {
	UserID         string `json:"userId,omitempty"`
	ConfirmationID string `json:"confirmationId"`
	Confirmed      *bool  `json:"confirmed,omitempty"`
	Signature      string `json:"signature,omitempty"`
}

func (s *Server) rpcBizumConfirm(rc *RequestContext) {
	if s.bizum == nil {
		rc.RespondError("unavailable", "bizum is not available")
		return
	}
	var p confirmParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.ConfirmationID == "" {
		rc.RespondError("invalid_params", "confirmationId is required")
		return
	}
	userID, ok := rc.UserID(p.UserID)
	if !ok {
		return
	}
	confirmed := p.Confirmed == nil || *p.Confirmed
	rc.Respond(s.bizum.Confirm(context.Background(), userID, p.ConfirmationID, confirmed, p.Signature))
}

func (s *Server) rpcToolsList(rc *RequestContext) {
	if s.runner == nil {
		rc.Respond(map[string]any{"tools": []any{}})
		return
	}
	rc.Respond(map[string]any{"tools": s.runner.Tools().Schemas()})
}

type sessionListParams struct {
	Active bool `json:"active,omitempty"`
}

func (s *Server) rpcSessionList(rc *RequestContext) {
	if s.runner == nil {
		rc.Respond(map[string]any{"sessions": []any{}})
		return
	}
	var p sessionListParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	list := s.runner.Sessions
	if p.Active {
		list = s.runner.ActiveSessions
	}
	sessions, err := list(context.Background())
	if err != nil {
		rc.RespondError("internal", err.Error())
		return
	}
	rc.Respond(map[string]any{"sessions": sessions})
}

type sessionParams struct {
	UserID string `json:"userId,omitempty"`
}

func (s *Server) rpcSessionHistory(rc *RequestContext) {
	if s.runner == nil {
		rc.RespondError("unavailable", "no LLM provider configured")
		return
	}
	var p sessionParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	userID, ok := rc.UserID(p.UserID)
	if !ok {
		return
	}
	history, err := s.runner.History(context.Background(), userID)
	if err != nil {
		rc.RespondError("internal", err.Error())
		return
	}
	rc.Respond(map[string]any{"userId": userID, "history": history})
}

func (s *Server) rpcSessionClear(rc *RequestContext) {
	if s.runner == nil {
		rc.RespondError("unavailable", "no LLM provider configured")
		return
	}
	var p sessionParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	userID, ok := rc.UserID(p.UserID)
	if !ok {
		return
	}
	if err := s.runner.ClearHistory(context.Background(), userID); err != nil {
		rc.RespondError("internal", err.Error())
		return
	}
	rc.Respond(map[string]any{"userId": userID, "cleared": true})
}
