package gateway

import (
	"bufio"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/bizagent/internal/logging"
	"github.com/soyeahso/bizagent/internal/metrics"
)

// withMiddleware applies, outermost first, logging, CORS and request ids.
func withMiddleware(handler http.Handler, log *logging.Logger, m *metrics.Metrics, corsOrigins []string) http.Handler {
	return loggingMiddleware(corsMiddleware(requestIDMiddleware(handler), corsOrigins), log, m)
}

// loggingMiddleware logs each HTTP request and counts it by route pattern.
func loggingMiddleware(next http.Handler, log *logging.Logger, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		// the mux fills in Pattern on the request it routed
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(route, sw.status)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Str("requestId", w.Header().Get(requestIDHeader)).
			Msg("http request")
	})
}

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware echoes the caller's request id or assigns one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware reflects allowlisted origins and answers every preflight
// itself.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Add("Vary", "Origin")
		if origin := r.Header.Get("Origin"); origin != "" && isOriginAllowed(origin, allowedOrigins) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)
			h.Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed matches origin against the allowlist. An empty list
// denies every cross-origin caller.
func isOriginAllowed(origin string, allowed []string) bool {
	return slices.ContainsFunc(allowed, func(a string) bool { return a == "*" || a == origin })
}

// apiAuthMiddleware guards /api/* with the gateway credentials. Health
// probes stay public.
func apiAuthMiddleware(next http.Handler, auth ResolvedAuth, limiter *authRateLimiter, log *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api/health" || auth.Open() {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, "too many failed authentication attempts")
			return
		}
		if res := AuthorizeRequest(auth, r); !res.OK {
			limiter.recordFailure(r.RemoteAddr)
			log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("api request rejected")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets Server-Sent Events pass through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack hands the connection to the websocket upgrader, which asserts
// http.Hijacker directly.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
