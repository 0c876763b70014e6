package gateway

import (
	"encoding/json"

	"github.com/soyeahso/bizagent/internal/agent"
	"github.com/soyeahso/bizagent/internal/domain"
)

// Frame types for the WebSocket protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Event names pushed to clients.
const (
	EventChallenge = "connect.challenge"
	EventChat      = "chat.event"
	EventBizum     = "bizum.event"
)

// ProtocolVersion is the only wire protocol revision the gateway speaks.
const ProtocolVersion = 1

// Frame is one WebSocket message. Type selects which of the other fields
// are meaningful: requests carry ID, Method and Params; responses carry ID,
// OK and either Payload or Error; events carry Event, Payload and Seq.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectParams open a session. UserID binds the connection to an existing
// conversation; a fresh user id is generated when it is empty.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
	UserID      string       `json:"userId,omitempty"`
}

// supports reports whether the client's protocol range includes ours. Zero
// bounds are open.
func (p ConnectParams) supports(version int) bool {
	if p.MinProtocol > 0 && version < p.MinProtocol {
		return false
	}
	return p.MaxProtocol == 0 || version <= p.MaxProtocol
}

type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"` // "app" | "cli"
}

type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
	UserID  string `json:"userId"`
}

type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// ServerPolicy tells the client the connection limits.
type ServerPolicy struct {
	MaxPayload       int `json:"maxPayload"`
	MaxBufferedBytes int `json:"maxBufferedBytes"`
	TickIntervalMs   int `json:"tickIntervalMs"`
}

// ChatEventPayload wraps one agent stream event relayed during chat.send.
type ChatEventPayload struct {
	RequestID string      `json:"requestId"`
	Event     agent.Event `json:"event"`
}

// BizumEventPayload tells a user's connections that one of their payments
// settled, whichever surface confirmed it.
type BizumEventPayload struct {
	Event          string              `json:"event"`
	ConfirmationID string              `json:"confirmationId"`
	Transaction    *domain.Transaction `json:"transaction,omitempty"`
}

// NewRequest builds a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a successful response to request id.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse builds a failed response to request id.
func NewErrorResponse(id string, shape ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &shape}
}

// NewEvent builds a server push.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Seq: seq, Payload: raw}, nil
}
