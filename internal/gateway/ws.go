package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/bizagent/internal/agent"
	"github.com/soyeahso/bizagent/internal/version"
)

const (
	wsMaxPayload       = 4 << 20
	wsMaxBuffered      = 16 << 20
	wsHandshakeTimeout = 10 * time.Second
	wsTickInterval     = 30 * time.Second
)

// handshakeError is sent back to the client before the socket is closed.
type handshakeError struct {
	reqID string
	shape ErrorShape
	err   error
}

func (e *handshakeError) Error() string { return e.err.Error() }
func (e *handshakeError) Unwrap() error { return e.err }

// checkWebSocketOrigin accepts non-browser clients (no Origin header) and
// browsers whose origin is allowlisted.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

// handleWebSocket upgrades the request and serves one RPC session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited: too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(wsMaxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		var herr *handshakeError
		if errors.As(err, &herr) {
			_ = conn.WriteJSON(NewErrorResponse(herr.reqID, herr.shape))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, herr.shape.Message))
		}
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()
	s.serveClient(client)
}

// handshake runs challenge, connect and hello-ok. The connection is bound
// to the user id the client asked for, or to a fresh one.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(wsHandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	challenge, err := NewEvent(EventChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	reqID, params, err := readConnect(conn)
	if err != nil {
		return nil, err
	}

	if !params.supports(ProtocolVersion) {
		return nil, &handshakeError{
			reqID: reqID,
			shape: ErrorShape{Code: "protocol_mismatch", Message: fmt.Sprintf("server speaks protocol %d", ProtocolVersion)},
			err:   fmt.Errorf("client protocol range %d-%d", params.MinProtocol, params.MaxProtocol),
		}
	}

	authResult := Authorize(s.auth, params.Auth)
	if !authResult.OK {
		return nil, &handshakeError{
			reqID: reqID,
			shape: ErrorShape{Code: "unauthorized", Message: authResult.Reason},
			err:   fmt.Errorf("auth failed: %s", authResult.Reason),
		}
	}

	userID := params.UserID
	if userID == "" {
		userID = agent.GenerateUserID()
	}
	client := NewClient(conn, params.Client, userID, authResult, s.log.Sub("ws"))

	hello, err := NewResponse(reqID, s.hello(client))
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("userId", client.UserID).
		Str("authMethod", authResult.Method).
		Msg("client authenticated")
	return client, nil
}

// readConnect reads the first client frame, which must be a connect request.
func readConnect(conn *websocket.Conn) (string, ConnectParams, error) {
	var params ConnectParams

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", params, fmt.Errorf("reading connect: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return "", params, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		return "", params, &handshakeError{
			reqID: frame.ID,
			shape: ErrorShape{Code: "protocol_error", Message: "expected connect request"},
			err:   fmt.Errorf("expected connect request, got type=%q method=%q", frame.Type, frame.Method),
		}
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return "", params, &handshakeError{
			reqID: frame.ID,
			shape: ErrorShape{Code: "invalid_params", Message: "invalid connect params"},
			err:   fmt.Errorf("parsing connect params: %w", err),
		}
	}
	return frame.ID, params, nil
}

func (s *Server) hello(client *Client) HelloOK {
	return HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
			UserID:  client.UserID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventChallenge, EventChat, EventBizum},
		},
		Policy: ServerPolicy{
			MaxPayload:       wsMaxPayload,
			MaxBufferedBytes: wsMaxBuffered,
			TickIntervalMs:   int(wsTickInterval / time.Millisecond),
		},
	}
}

// serveClient answers request frames until the client goes away.
func (s *Server) serveClient(client *Client) {
	log := s.log.With("connId", client.ConnID)
	for {
		frame, err := client.ReadFrame()
		switch {
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			log.Debug().Msg("client closed connection")
			return
		case err != nil:
			log.Warn().Err(err).Msg("read error")
			return
		case frame.Type != FrameTypeRequest:
			log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}

		handler, ok := s.handlers[frame.Method]
		if !ok {
			client.RespondError(frame.ID, ErrorShape{
				Code:    "method_not_found",
				Message: "unknown method: " + frame.Method,
			})
			continue
		}
		handler(&RequestContext{Client: client, Frame: frame, Server: s})
	}
}
