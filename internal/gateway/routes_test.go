package gateway

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowedConfigPath(t *testing.T) {
	allowed := []string{
		"gateway.port", "gateway.bind", "gateway.customBindHost", "gateway.allowedOrigins",
		"logging", "logging.level", "session", "session.maxHistory",
		"agent.name", "agent.streamWordDelayMs", "metrics.enabled",
	}
	denied := []string{
		"", "agent", "agent.maxIterations", "agent.names",
		"gateway.auth", "gateway.auth.token", "gateway.auth.password",
		"gateway.tls.enabled", "gateway.tls.keyPath",
		"provider.apiKey", "bizum.signingSecret", "bizum.maxAmount",
		"redis.password", "events.amqp.url", "storage.path",
	}
	for _, key := range allowed {
		assert.True(t, isAllowedConfigPath(key), key)
	}
	for _, key := range denied {
		assert.False(t, isAllowedConfigPath(key), key)
	}
}

func TestServerMethods(t *testing.T) {
	srv, _ := testServer(t)
	assert.Equal(t, []string{
		"bizum.confirm", "chat.send", "config.get", "config.set", "health",
		"session.clear", "session.history", "session.list", "tools.list",
	}, srv.Methods())
}

func TestConfigRPCRejections(t *testing.T) {
	conn := authenticatedConn(t)

	tests := []struct {
		name   string
		method string
		params any
		code   string
	}{
		{"read token", "config.get", configGetParams{Key: "gateway.auth.token"}, "forbidden"},
		{"read tls key", "config.get", configGetParams{Key: "gateway.tls.keyPath"}, "forbidden"},
		{"write token", "config.set", configSetParams{Key: "gateway.auth.token", Value: "x"}, "forbidden"},
		{"write amount cap", "config.set", configSetParams{Key: "bizum.maxAmount", Value: 1e6}, "forbidden"},
		{"read empty key", "config.get", configGetParams{}, "invalid_params"},
		{"write empty key", "config.set", configSetParams{Value: "x"}, "invalid_params"},
		{"empty segment", "config.get", configGetParams{Key: "logging..level"}, "invalid_params"},
		{"blocked segment", "config.set", configSetParams{Key: "session.__proto__", Value: 1}, "invalid_params"},
		{"missing key", "config.get", configGetParams{Key: "logging.nonexistent"}, "not_found"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireRPCError(t, call(t, conn, fmt.Sprintf("cfg-%d", i), tt.method, tt.params), tt.code)
		})
	}
}

func TestConfigSetCreatesNestedKeys(t *testing.T) {
	conn := authenticatedConn(t)

	decodeOK(t, call(t, conn, "set", "config.set", configSetParams{Key: "session.limits.maxHistory", Value: 50}), nil)

	resp := call(t, conn, "get", "config.get", configGetParams{Key: "session"})
	decodeOK(t, resp, nil)
	assert.JSONEq(t, `{"key":"session","value":{"limits":{"maxHistory":50}}}`, string(resp.Payload))
}

func TestSessionListWithoutProvider(t *testing.T) {
	conn := authenticatedConn(t)

	resp := call(t, conn, "list", "session.list", nil)
	decodeOK(t, resp, nil)
	assert.JSONEq(t, `{"sessions":[]}`, string(resp.Payload))
}
