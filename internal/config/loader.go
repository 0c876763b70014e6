package config

import (
	"cmp"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and passwords can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Provider.APIKey = expandEnvVars(cfg.Provider.APIKey)
	cfg.Tools.Weather.APIKey = expandEnvVars(cfg.Tools.Weather.APIKey)
	cfg.Tools.Search.APIKey = expandEnvVars(cfg.Tools.Search.APIKey)
	cfg.Tools.Search.EngineID = expandEnvVars(cfg.Tools.Search.EngineID)
	cfg.Bizum.SigningSecret = expandEnvVars(cfg.Bizum.SigningSecret)
	cfg.Redis.Password = expandEnvVars(cfg.Redis.Password)
	cfg.Events.AMQP.URL = expandEnvVars(cfg.Events.AMQP.URL)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults. A YAML file
// that sets a section explicitly to empty values still ends up usable.
func applyDefaults(cfg *Config) {
	d := Defaults()

	p := &cfg.Provider
	p.Name = cmp.Or(p.Name, d.Provider.Name)
	p.BaseURL = cmp.Or(p.BaseURL, d.Provider.BaseURL)
	p.Model = cmp.Or(p.Model, d.Provider.Model)
	p.MaxTokens = cmp.Or(p.MaxTokens, d.Provider.MaxTokens)
	p.Temperature = cmp.Or(p.Temperature, d.Provider.Temperature)
	p.TimeoutSeconds = cmp.Or(p.TimeoutSeconds, d.Provider.TimeoutSeconds)

	a := &cfg.Agent
	a.Name = cmp.Or(a.Name, d.Agent.Name)
	a.Description = cmp.Or(a.Description, d.Agent.Description)
	a.MaxIterations = cmp.Or(a.MaxIterations, d.Agent.MaxIterations)
	a.StreamWordDelayMs = cmp.Or(a.StreamWordDelayMs, d.Agent.StreamWordDelayMs)

	g := &cfg.Gateway
	g.Port = cmp.Or(g.Port, d.Gateway.Port)
	g.Bind = cmp.Or(g.Bind, d.Gateway.Bind)
	g.Auth.Mode = cmp.Or(g.Auth.Mode, d.Gateway.Auth.Mode)

	cfg.Storage.Driver = cmp.Or(cfg.Storage.Driver, d.Storage.Driver)

	s := &cfg.Session
	s.MaxHistory = cmp.Or(s.MaxHistory, d.Session.MaxHistory)
	s.ActiveWindowMinutes = cmp.Or(s.ActiveWindowMinutes, d.Session.ActiveWindowMinutes)
	s.PruneAfterHours = cmp.Or(s.PruneAfterHours, d.Session.PruneAfterHours)

	w, q := &cfg.Tools.Weather, &cfg.Tools.Search
	w.BaseURL = cmp.Or(w.BaseURL, d.Tools.Weather.BaseURL)
	w.TimeoutSeconds = cmp.Or(w.TimeoutSeconds, d.Tools.Weather.TimeoutSeconds)
	q.BaseURL = cmp.Or(q.BaseURL, d.Tools.Search.BaseURL)
	q.TimeoutSeconds = cmp.Or(q.TimeoutSeconds, d.Tools.Search.TimeoutSeconds)

	b := &cfg.Bizum
	b.MinAmount = cmp.Or(b.MinAmount, d.Bizum.MinAmount)
	b.MaxAmount = cmp.Or(b.MaxAmount, d.Bizum.MaxAmount)
	b.ConfirmationTTLSeconds = cmp.Or(b.ConfirmationTTLSeconds, d.Bizum.ConfirmationTTLSeconds)
	b.HistoryLimit = cmp.Or(b.HistoryLimit, d.Bizum.HistoryLimit)
	b.MaxStored = cmp.Or(b.MaxStored, d.Bizum.MaxStored)
	b.PendingStore = cmp.Or(b.PendingStore, d.Bizum.PendingStore)

	cfg.Redis.KeyPrefix = cmp.Or(cfg.Redis.KeyPrefix, d.Redis.KeyPrefix)
	cfg.Events.AMQP.Queue = cmp.Or(cfg.Events.AMQP.Queue, d.Events.AMQP.Queue)
	cfg.Metrics.Path = cmp.Or(cfg.Metrics.Path, d.Metrics.Path)

	cfg.Logging.Level = cmp.Or(cfg.Logging.Level, d.Logging.Level)
	cfg.Logging.ConsoleStyle = cmp.Or(cfg.Logging.ConsoleStyle, d.Logging.ConsoleStyle)
}

// applyEnvOverrides reads environment variables and overrides config values.
// The unprefixed names match what a .env file for the chat service usually
// carries; BIZAGENT_* names cover everything else.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("OPENAI_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Provider.MaxTokens = n
		}
	}
	if v := os.Getenv("OPENAI_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Provider.Temperature = &f
		}
	}
	if v := os.Getenv("AGENT_NAME"); v != "" {
		cfg.Agent.Name = v
	}
	if v := os.Getenv("AGENT_DESCRIPTION"); v != "" {
		cfg.Agent.Description = v
	}
	if v := os.Getenv("AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("OPENWEATHER_API_KEY"); v != "" {
		cfg.Tools.Weather.APIKey = v
	}
	if v := os.Getenv("SEARCH_API_KEY"); v != "" {
		cfg.Tools.Search.APIKey = v
	}
	if v := os.Getenv("SEARCH_ENGINE_ID"); v != "" {
		cfg.Tools.Search.EngineID = v
	}

	if v := firstEnv("BIZAGENT_GATEWAY_PORT", "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("BIZAGENT_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("BIZAGENT_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("BIZAGENT_GATEWAY_PASSWORD"); v != "" {
		cfg.Gateway.Auth.Password = v
		if cfg.Gateway.Auth.Token == "" {
			cfg.Gateway.Auth.Mode = "password"
		}
	}
	if v := firstEnv("BIZAGENT_LOG_LEVEL", "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("BIZAGENT_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("BIZAGENT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Bizum.PendingStore = "redis"
	}
	if v := os.Getenv("BIZAGENT_AMQP_URL"); v != "" {
		cfg.Events.AMQP.URL = v
	}
	if v := os.Getenv("BIZAGENT_SIGNING_SECRET"); v != "" {
		cfg.Bizum.SigningSecret = v
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
