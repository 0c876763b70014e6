package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/bizagent/internal/agent"
	"github.com/soyeahso/bizagent/internal/config"
	"github.com/soyeahso/bizagent/internal/domain"
	"github.com/soyeahso/bizagent/internal/hooks"
	"github.com/soyeahso/bizagent/internal/logging"
	"github.com/soyeahso/bizagent/internal/metrics"
	"github.com/soyeahso/bizagent/internal/tools"
	"github.com/soyeahso/bizagent/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

const shutdownTimeout = 10 * time.Second

// Server is the bizagent gateway: REST, Server-Sent Events and the
// WebSocket RPC protocol over one listener.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	mu        sync.RWMutex
	configRaw map[string]any

	// runner is nil when no provider is configured; chat routes then
	// answer "unavailable".
	runner  *agent.Runner
	bizum   *tools.Bizum
	hooks   *hooks.Manager
	metrics *metrics.Metrics

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithConfigRaw sets the raw config map served by config.get and config.set.
func WithConfigRaw(raw map[string]any) ServerOption {
	return func(s *Server) { s.configRaw = raw }
}

// WithRunner sets the agent runner behind chat, history and session routes.
func WithRunner(r *agent.Runner) ServerOption {
	return func(s *Server) { s.runner = r }
}

// WithBizum sets the payment tool that serves confirmations.
func WithBizum(b *tools.Bizum) ServerOption {
	return func(s *Server) { s.bizum = b }
}

// WithHooks emits gateway_start and gateway_stop on hm.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// WithMetrics records HTTP metrics and exposes them on the metrics path.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// New creates a gateway server. Nothing listens until Start.
func New(cfg config.Config, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.configRaw == nil {
		s.configRaw = make(map[string]any)
	}

	s.registerRPCHandlers()
	if s.hooks != nil {
		for _, event := range []string{hooks.EventTransactionDone, hooks.EventTransactionCanceled} {
			s.hooks.On(event, notifyHandlerName, s.notifySettled)
		}
	}
	return s
}

// notifyHandlerName identifies the gateway's hook subscription.
const notifyHandlerName = "gateway.notify"

// notifySettled relays a settled payment to the owner's open connections.
func (s *Server) notifySettled(_ context.Context, p hooks.Payload) error {
	userID, _ := p.Data["userId"].(string)
	if userID == "" {
		return nil
	}
	payload := BizumEventPayload{Event: p.Event}
	payload.ConfirmationID, _ = p.Data["confirmationId"].(string)
	if tx, ok := p.Data["transaction"].(domain.Transaction); ok {
		payload.Transaction = &tx
	}
	n := s.clients.SendToUser(userID, EventBizum, payload, s.eventSeq.Add(1))
	s.log.Debug().Str("userId", userID).Str("event", p.Event).Int("connections", n).Msg("payment event relayed")
	return nil
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Handler returns the routed HTTP handler with the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	h := apiAuthMiddleware(mux, s.auth, s.authLimiter, s.log)
	return withMiddleware(h, s.log, s.metrics, s.cfg.Gateway.AllowedOrigins)
}

// resolveBindAddr maps the bind mode to a listen address. Unknown modes
// fall back to loopback.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan", "auto":
		host = "0.0.0.0"
	case "custom":
		host = cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
	}
	return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
}

// listen opens the TCP listener, wrapped in TLS when configured.
func (s *Server) listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	tlsCfg := s.cfg.Gateway.TLS
	if !tlsCfg.Enabled {
		if s.cfg.Gateway.Bind != "loopback" {
			s.log.Warn().Msg("TLS is not enabled, credentials will be transmitted in cleartext")
		}
		return ln, nil
	}

	cert, err := tls.LoadX509KeyPair(tlsCfg.CertPath, tlsCfg.KeyPath)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}
	s.log.Info().Msg("TLS enabled")
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)
	ln, err := s.listen(addr)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// SSE handlers lift this per response
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")
	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": ln.Addr().String()})

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.WithoutCancel(ctx), hooks.EventGatewayStop, nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.clients.CloseAll()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("gateway shutdown")
		}
	}()

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return err
}

// Addr returns the configured listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}
