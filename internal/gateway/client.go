package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/bizagent/internal/logging"
)

const wsWriteTimeout = 10 * time.Second

// Client is an authenticated WebSocket connection bound to one user.
type Client struct {
	ConnID      string
	UserID      string
	Info        ClientInfo
	Socket      *websocket.Conn
	AuthResult  AuthResult
	ConnectedAt time.Time

	// mu serializes writes; gorilla allows one concurrent writer.
	mu     sync.Mutex
	closed bool
	log    *logging.Logger
}

// NewClient wraps an authenticated connection.
func NewClient(conn *websocket.Conn, info ClientInfo, userID string, authResult AuthResult, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		Info:        info,
		Socket:      conn,
		AuthResult:  authResult,
		ConnectedAt: time.Now(),
		log:         log,
	}
}

// Send writes one frame. Safe for concurrent use.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.Socket.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.Socket.WriteJSON(frame)
}

// SendEvent pushes a named event.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond answers request reqID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError answers request reqID with an error.
func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame blocks for the next frame. Only the session loop calls it.
func (c *Client) ReadFrame() (Frame, error) {
	var f Frame
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return f, err
	}
	err = json.Unmarshal(msg, &f)
	return f, err
}

// Close closes the socket once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry tracks live connections by connection id.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

// Add tracks c.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Str("userId", c.UserID).Msg("client connected")
}

// Remove forgets a connection.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	delete(r.clients, connID)
	r.mu.Unlock()
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Get returns a client by connection id.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of live connections.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ForUser returns the live connections bound to userID.
func (r *ClientRegistry) ForUser(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Client
	for _, c := range r.clients {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// SendToUser pushes an event to every connection of userID and returns how
// many received it.
func (r *ClientRegistry) SendToUser(userID, event string, payload any, seq int64) int {
	sent := 0
	for _, c := range r.ForUser(userID) {
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("event delivery failed")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes and forgets every connection.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
