package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/bizagent/internal/logging"
	"github.com/soyeahso/bizagent/internal/metrics"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
})

func serve(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLoggingMiddleware_CountsByRoutePattern(t *testing.T) {
	m := metrics.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mux.Handle("GET /api/tools", okHandler)
	handler := loggingMiddleware(mux, logging.New(nil, "silent"), m)

	serve(handler, "GET", "/api/history?userId=u1", nil)
	serve(handler, "GET", "/api/history?userId=u2", nil)
	rr := serve(handler, "GET", "/api/tools", nil)
	serve(handler, "GET", "/nowhere", nil)

	assert.Equal(t, "ok", rr.Body.String())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET /api/history", "418")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET /api/tools", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("unmatched", "404")))
}

func TestLoggingMiddleware_NilMetrics(t *testing.T) {
	rr := serve(loggingMiddleware(okHandler, logging.New(nil, "silent"), nil), "GET", "/x", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAPIAuthMiddleware(t *testing.T) {
	auth := ResolvedAuth{Mode: "token", Token: "secret"}
	handler := apiAuthMiddleware(okHandler, auth, newAuthRateLimiter(), logging.New(nil, "silent"))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is public", "/api/health", "", http.StatusOK},
		{"root health is public", "/health", "", http.StatusOK},
		{"websocket authenticates in band", "/ws", "", http.StatusOK},
		{"api without credentials", "/api/tools", "", http.StatusUnauthorized},
		{"api with wrong token", "/api/tools", "Bearer nope", http.StatusUnauthorized},
		{"api with token", "/api/tools", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var header map[string]string
			if tt.header != "" {
				header = map[string]string{"Authorization": tt.header}
			}
			assert.Equal(t, tt.want, serve(handler, "GET", tt.path, header).Code)
		})
	}
}

func TestAPIAuthMiddleware_NoCredentialConfigured(t *testing.T) {
	handler := apiAuthMiddleware(okHandler, ResolvedAuth{Mode: "token"}, newAuthRateLimiter(), logging.New(nil, "silent"))
	assert.Equal(t, http.StatusOK, serve(handler, "POST", "/api/chat", nil).Code)
}

func TestAPIAuthMiddleware_RateLimitsFailures(t *testing.T) {
	handler := apiAuthMiddleware(okHandler, ResolvedAuth{Mode: "token", Token: "secret"}, newAuthRateLimiter(), logging.New(nil, "silent"))

	for range authRateMaxFails {
		serve(handler, "GET", "/api/tools", nil)
	}

	// even the right token is refused until the window passes
	rr := serve(handler, "GET", "/api/tools", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := requestIDMiddleware(okHandler)

	assert.NotEmpty(t, serve(handler, "GET", "/", nil).Header().Get(requestIDHeader))

	rr := serve(handler, "GET", "/", map[string]string{requestIDHeader: "custom-id-123"})
	assert.Equal(t, "custom-id-123", rr.Header().Get(requestIDHeader))
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"deny when unconfigured", nil, "http://localhost:3000", ""},
		{"wildcard reflects origin", []string{"*"}, "http://localhost:3000", "http://localhost:3000"},
		{"listed origin", []string{"http://allowed.com"}, "http://allowed.com", "http://allowed.com"},
		{"unlisted origin", []string{"http://allowed.com"}, "http://evil.com", ""},
		{"same origin request", []string{"*"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := map[string]string{}
			if tt.origin != "" {
				header["Origin"] = tt.origin
			}
			rr := serve(corsMiddleware(okHandler, tt.allowed), "GET", "/api/tools", header)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.want, rr.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "Origin", rr.Header().Get("Vary"))
		})
	}
}

func TestCORSMiddleware_PreflightNeverReachesHandler(t *testing.T) {
	for _, allowed := range [][]string{nil, {"http://localhost:3000"}} {
		rr := serve(corsMiddleware(okHandler, allowed), "OPTIONS", "/api/chat", map[string]string{"Origin": "http://localhost:3000"})
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Empty(t, rr.Body.String())
	}
}

func TestWithMiddleware(t *testing.T) {
	handler := withMiddleware(okHandler, logging.New(nil, "silent"), nil, []string{"http://test.com"})

	rr := serve(handler, "GET", "/", map[string]string{"Origin": "http://test.com"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
	assert.Equal(t, "http://test.com", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = serve(handler, "GET", "/", map[string]string{"Origin": "http://other.com"})
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestWithMiddleware_ConnectionCanBeHijacked(t *testing.T) {
	raw := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "not a hijacker", http.StatusInternalServerError)
			return
		}
		conn, rw, err := hj.Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 8\r\nConnection: close\r\n\r\nhijacked")
		rw.Flush()
	})
	ts := httptest.NewServer(withMiddleware(raw, logging.New(nil, "silent"), metrics.New(), nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hijacked", string(body))
}
