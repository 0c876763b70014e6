package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is returned by health endpoints. The bare /health probe
// only populates Status.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp,omitempty"`
	Version   string      `json:"version,omitempty"`
	Tools     int         `json:"tools,omitempty"`
	Clients   int         `json:"clients,omitempty"`
	Agent     *AgentState `json:"agent,omitempty"`
}

// AgentState reports whether the agent can serve chat requests.
type AgentState struct {
	Name        string `json:"name"`
	Initialized bool   `json:"initialized"`
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleAPIHealth reports readiness details.
func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health())
}

func (s *Server) health() HealthResponse {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.version,
		Clients:   s.clients.Count(),
		Agent:     &AgentState{Name: s.cfg.Agent.Name, Initialized: s.runner != nil},
	}
	if s.runner != nil {
		resp.Tools = s.runner.Tools().Len()
	}
	return resp
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"success": false,
		"error":   "Endpoint not found",
		"path":    r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

// UserID returns the user bound to the connection at handshake. Naming any
// other user answers forbidden and reports false.
func (rc *RequestContext) UserID(explicit string) (string, bool) {
	if explicit != "" && explicit != rc.Client.UserID {
		rc.RespondError("forbidden", "connection is bound to another user")
		return "", false
	}
	return rc.Client.UserID, true
}
