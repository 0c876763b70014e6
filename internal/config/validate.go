package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

type validator struct {
	issues []ValidationIssue
}

func (v *validator) check(ok bool, path, format string, args ...any) {
	if !ok {
		v.issues = append(v.issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
}

// oneOf accepts an empty value, which the defaults later fill in.
func (v *validator) oneOf(path, value string, allowed ...string) {
	v.check(value == "" || slices.Contains(allowed, value), path, "must be one of %v, got %q", allowed, value)
}

// Validate returns every issue in cfg, or nil. Missing API keys are not
// issues; the tool that needs one reports it when called.
func Validate(cfg *Config) []ValidationIssue {
	var v validator

	gw := cfg.Gateway
	v.check(gw.Port >= 0 && gw.Port <= 65535, "gateway.port", "port must be 0-65535, got %d", gw.Port)
	v.oneOf("gateway.bind", gw.Bind, "auto", "lan", "loopback", "custom")
	v.check(gw.Bind != "custom" || gw.CustomBindHost != "", "gateway.customBindHost", "required when bind is custom")
	v.oneOf("gateway.auth.mode", gw.Auth.Mode, "token", "password")
	v.check(!gw.TLS.Enabled || (gw.TLS.CertPath != "" && gw.TLS.KeyPath != ""),
		"gateway.tls", "certPath and keyPath are required when TLS is enabled")

	v.check(cfg.Provider.MaxTokens >= 0, "provider.maxTokens", "must be positive, got %d", cfg.Provider.MaxTokens)
	if t := cfg.Provider.Temperature; t != nil {
		v.check(*t >= 0 && *t <= 2, "provider.temperature", "must be 0-2, got %g", *t)
	}

	v.check(cfg.Agent.MaxIterations >= 1, "agent.maxIterations", "must be at least 1, got %d", cfg.Agent.MaxIterations)
	if d := cfg.Agent.StreamWordDelayMs; d != nil {
		v.check(*d >= 0, "agent.streamWordDelayMs", "must not be negative, got %d", *d)
	}

	v.oneOf("storage.driver", cfg.Storage.Driver, "sqlite", "memory")
	v.check(cfg.Session.MaxHistory >= 2, "session.maxHistory",
		"must hold at least one exchange (2), got %d", cfg.Session.MaxHistory)

	bz := cfg.Bizum
	v.check(bz.MinAmount > 0, "bizum.minAmount", "must be positive, got %g", bz.MinAmount)
	v.check(bz.MaxAmount >= bz.MinAmount, "bizum.maxAmount", "must be >= minAmount (%g), got %g", bz.MinAmount, bz.MaxAmount)
	v.check(bz.ConfirmationTTLSeconds >= 1, "bizum.confirmationTtlSeconds", "must be at least 1, got %d", bz.ConfirmationTTLSeconds)
	v.check(bz.MaxStored >= bz.HistoryLimit, "bizum.maxStored", "must be >= historyLimit (%d), got %d", bz.HistoryLimit, bz.MaxStored)
	v.oneOf("bizum.pendingStore", bz.PendingStore, "memory", "redis")
	v.check(bz.PendingStore != "redis" || cfg.Redis.Addr != "", "redis.addr", "required when bizum.pendingStore is redis")

	v.oneOf("logging.level", cfg.Logging.Level, "silent", "fatal", "error", "warn", "info", "debug", "trace")
	v.oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, "pretty", "compact", "json")

	return v.issues
}
