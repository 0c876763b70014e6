package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/bizagent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("secret", "Secret"))
	assert.False(t, safeEqual("short", "longer-string"))
	assert.False(t, safeEqual("secret", ""))
}

func TestResolveAuth(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.GatewayAuth
		envToken string
		envPass  string
		want     ResolvedAuth
	}{
		{"token from config", config.GatewayAuth{Mode: "token", Token: "cfg"}, "", "", ResolvedAuth{Mode: "token", Token: "cfg"}},
		{"password from config", config.GatewayAuth{Mode: "password", Password: "pw"}, "", "", ResolvedAuth{Mode: "password", Password: "pw"}},
		{"mode defaults to token", config.GatewayAuth{Token: "t"}, "", "", ResolvedAuth{Mode: "token", Token: "t"}},
		{"lone password picks password mode", config.GatewayAuth{Password: "pw"}, "", "", ResolvedAuth{Mode: "password", Password: "pw"}},
		{"env fills both", config.GatewayAuth{Mode: "token"}, "env-t", "env-p", ResolvedAuth{Mode: "token", Token: "env-t", Password: "env-p"}},
		{"config beats env", config.GatewayAuth{Mode: "token", Token: "cfg"}, "env-t", "", ResolvedAuth{Mode: "token", Token: "cfg"}},
		{"env password alone", config.GatewayAuth{}, "", "env-p", ResolvedAuth{Mode: "password", Password: "env-p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BIZAGENT_GATEWAY_TOKEN", tt.envToken)
			t.Setenv("BIZAGENT_GATEWAY_PASSWORD", tt.envPass)
			assert.Equal(t, tt.want, ResolveAuth(tt.cfg))
		})
	}
}

func TestAuthorize(t *testing.T) {
	tokenGW := ResolvedAuth{Mode: "token", Token: "secret"}
	passGW := ResolvedAuth{Mode: "password", Password: "pass123"}

	tests := []struct {
		name   string
		server ResolvedAuth
		client *ConnectAuth
		ok     bool
		method string
		reason string
	}{
		{"token ok", tokenGW, &ConnectAuth{Token: "secret"}, true, "token", ""},
		{"token wrong", tokenGW, &ConnectAuth{Token: "wrong"}, false, "", "token mismatch"},
		{"token missing", tokenGW, &ConnectAuth{Password: "secret"}, false, "", "token required"},
		{"password ok", passGW, &ConnectAuth{Password: "pass123"}, true, "password", ""},
		{"password wrong", passGW, &ConnectAuth{Password: "nope"}, false, "", "password mismatch"},
		{"password missing", passGW, &ConnectAuth{Token: "pass123"}, false, "", "password required"},
		{"nil credentials", tokenGW, nil, false, "", "no credentials provided"},
		{"open gateway", ResolvedAuth{Mode: "token"}, nil, true, "none", ""},
		{"unknown mode", ResolvedAuth{Mode: "oauth", Token: "x"}, &ConnectAuth{Token: "x"}, false, "", "unknown auth mode: oauth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Authorize(tt.server, tt.client)
			assert.Equal(t, AuthResult{OK: tt.ok, Method: tt.method, Reason: tt.reason}, res)
		})
	}
}

func TestAuthorize_BcryptPassword(t *testing.T) {
	hash, err := HashPassword("pass123")
	require.NoError(t, err)

	server := ResolvedAuth{Mode: "password", Password: hash}
	assert.True(t, Authorize(server, &ConnectAuth{Password: "pass123"}).OK)
	assert.False(t, Authorize(server, &ConnectAuth{Password: hash}).OK, "the hash itself is not a credential")
}

func TestAuthorizeRequest(t *testing.T) {
	tests := []struct {
		name   string
		server ResolvedAuth
		header string
		ok     bool
	}{
		{"bearer token", ResolvedAuth{Mode: "token", Token: "secret"}, "Bearer secret", true},
		{"lowercase scheme", ResolvedAuth{Mode: "token", Token: "secret"}, "bearer secret", true},
		{"wrong token", ResolvedAuth{Mode: "token", Token: "secret"}, "Bearer nope", false},
		{"missing header", ResolvedAuth{Mode: "token", Token: "secret"}, "", false},
		{"scheme only", ResolvedAuth{Mode: "token", Token: "secret"}, "Bearer", false},
		{"basic scheme rejected", ResolvedAuth{Mode: "token", Token: "secret"}, "Basic secret", false},
		{"password mode", ResolvedAuth{Mode: "password", Password: "pw"}, "Bearer pw", true},
		{"open gateway", ResolvedAuth{Mode: "token"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/tools", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.ok, AuthorizeRequest(tt.server, req).OK)
		})
	}
}
