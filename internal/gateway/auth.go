package gateway

import (
	"cmp"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/soyeahso/bizagent/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "token" | "password" | "none"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the resolved auth configuration for the gateway.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth fills credentials missing from cfg from BIZAGENT_GATEWAY_TOKEN
// and BIZAGENT_GATEWAY_PASSWORD. Without an explicit mode, a lone password
// selects password mode and everything else token mode.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{
		Mode:     cfg.Mode,
		Token:    cmp.Or(cfg.Token, os.Getenv("BIZAGENT_GATEWAY_TOKEN")),
		Password: cmp.Or(cfg.Password, os.Getenv("BIZAGENT_GATEWAY_PASSWORD")),
	}
	if auth.Mode == "" {
		auth.Mode = "token"
		if auth.Token == "" && auth.Password != "" {
			auth.Mode = "password"
		}
	}
	return auth
}

// secret returns the configured credential for the active mode.
func (a ResolvedAuth) secret() (string, bool) {
	switch a.Mode {
	case "token":
		return a.Token, true
	case "password":
		return a.Password, true
	}
	return "", false
}

// Open reports whether no credential is configured for the active mode.
// An open gateway accepts every client.
func (a ResolvedAuth) Open() bool {
	s, known := a.secret()
	return known && s == ""
}

// Authorize checks connect credentials against the gateway's.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	want, known := serverAuth.secret()
	switch {
	case !known:
		return AuthResult{Reason: "unknown auth mode: " + serverAuth.Mode}
	case want == "":
		return AuthResult{OK: true, Method: "none"}
	case clientAuth == nil:
		return AuthResult{Reason: "no credentials provided"}
	}

	mode := serverAuth.Mode
	got, ok := clientAuth.Token, safeEqual(clientAuth.Token, want)
	if mode == "password" {
		got, ok = clientAuth.Password, passwordMatches(want, clientAuth.Password)
	}
	switch {
	case got == "":
		return AuthResult{Reason: mode + " required"}
	case !ok:
		return AuthResult{Reason: mode + " mismatch"}
	}
	return AuthResult{OK: true, Method: mode}
}

// AuthorizeRequest authenticates an HTTP request. The credential travels as
// "Authorization: Bearer <secret>", where the secret is the token or the
// password depending on the mode.
func AuthorizeRequest(serverAuth ResolvedAuth, r *http.Request) AuthResult {
	secret := bearer(r.Header.Get("Authorization"))
	return Authorize(serverAuth, &ConnectAuth{Token: secret, Password: secret})
}

func bearer(header string) string {
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

// HashPassword returns a bcrypt hash suitable for gateway.auth.password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// passwordMatches accepts either a bcrypt hash or a plain configured password.
func passwordMatches(configured, given string) bool {
	if _, err := bcrypt.Cost([]byte(configured)); err == nil {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(given)) == nil
	}
	return safeEqual(given, configured)
}

// safeEqual compares fixed-size digests in constant time, so neither the
// content nor the length of the secret leaks through timing.
func safeEqual(a, b string) bool {
	da, db := sha256.Sum256([]byte(a)), sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}
