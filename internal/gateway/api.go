package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/bizagent/internal/agent"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 10 << 20

// chatRequest is the body of POST /api/chat and /api/chat/stream.
type chatRequest struct {
	Message      string `json:"message"`
	UserID       string `json:"userId,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Stream       bool   `json:"stream,omitempty"`
}

// confirmRequest is the body of POST /api/bizum/confirm.
type confirmRequest struct {
	UserID         string `json:"userId"`
	ConfirmationID string `json:"confirmationId"`
	Confirmed      *bool  `json:"confirmed,omitempty"`
	Signature      string `json:"signature,omitempty"`
}

type userRequest struct {
	UserID string `json:"userId"`
}

type pruneRequest struct {
	OlderThanHours float64 `json:"olderThanHours,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// requireRunner answers 503 when no provider is configured.
func (s *Server) requireRunner(w http.ResponseWriter) bool {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "AI Agent is not initialized")
		return false
	}
	return true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.chat(w, r, req, req.Stream)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.chat(w, r, req, true)
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request, req chatRequest, stream bool) {
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required and must be a string")
		return
	}
	if !s.requireRunner(w) {
		return
	}

	in := agent.Request{
		Message:      strings.TrimSpace(req.Message),
		UserID:       req.UserID,
		SystemPrompt: req.SystemPrompt,
	}
	if stream {
		s.streamChat(w, r, in)
		return
	}

	res, err := s.runner.ProcessMessage(r.Context(), in)
	if err != nil && !errors.Is(err, agent.ErrMaxIterations) {
		s.log.Error().Err(err).Str("userId", res.UserID).Msg("chat request failed")
	}
	writeJSON(w, http.StatusOK, res)
}

// streamChat relays stream events as Server-Sent Events, one JSON object
// per data line. A disconnecting client cancels the request context, which
// stops the producer.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, in agent.Request) {
	rc := http.NewResponseController(w)
	// streams outlive the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for evt := range s.runner.ProcessMessageStream(r.Context(), in) {
		data, err := json.Marshal(evt)
		if err != nil {
			s.log.Warn().Err(err).Str("type", evt.Type).Msg("unserializable stream event")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			s.log.Debug().Err(err).Msg("sse client went away")
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" || req.ConfirmationID == "" {
		writeError(w, http.StatusBadRequest, "userId and confirmationId are required")
		return
	}
	if s.bizum == nil {
		writeError(w, http.StatusServiceUnavailable, "Bizum is not available")
		return
	}
	confirmed := req.Confirmed == nil || *req.Confirmed
	writeJSON(w, http.StatusOK, s.bizum.Confirm(r.Context(), req.UserID, req.ConfirmationID, confirmed, req.Signature))
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if !s.requireRunner(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tools":   s.runner.Tools().Schemas(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireRunner(w) {
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	history, err := s.runner.History(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Str("userId", userID).Msg("loading history failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "userId": userID, "history": history})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireRunner(w) {
		return
	}
	var req userRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err := s.runner.ClearHistory(r.Context(), req.UserID); err != nil {
		s.log.Error().Err(err).Str("userId", req.UserID).Msg("clearing history failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Conversation history cleared"})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireRunner(w) {
		return
	}
	list := s.runner.Sessions
	if r.URL.Query().Get("active") == "true" {
		list = s.runner.ActiveSessions
	}
	sessions, err := list(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("listing sessions failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(sessions), "sessions": sessions})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireRunner(w) {
		return
	}
	userID := r.PathValue("userId")
	ok, err := s.runner.DeleteSession(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Str("userId", userID).Msg("deleting session failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "userId": userID})
}

func (s *Server) handlePruneSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireRunner(w) {
		return
	}
	var req pruneRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	age := s.cfg.Session.PruneAfter()
	if req.OlderThanHours > 0 {
		age = time.Duration(req.OlderThanHours * float64(time.Hour))
	}
	n, err := s.runner.PruneSessions(r.Context(), time.Now().Add(-age))
	if err != nil {
		s.log.Error().Err(err).Msg("pruning sessions failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pruned": n})
}
