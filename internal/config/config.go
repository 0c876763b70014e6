package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultPort          = 3000
	DefaultModel         = "gpt-4o"
	DefaultBaseURL       = "https://api.openai.com/v1"
	DefaultMaxTokens     = 4000
	DefaultTemperature   = 0.7
	DefaultMaxIterations = 10
	DefaultWordDelayMs   = 50
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	temp := DefaultTemperature
	delay := DefaultWordDelayMs
	return Config{
		Provider: ProviderConfig{
			Name:           "openai",
			BaseURL:        DefaultBaseURL,
			Model:          DefaultModel,
			MaxTokens:      DefaultMaxTokens,
			Temperature:    &temp,
			TimeoutSeconds: 60,
		},
		Agent: AgentConfig{
			Name:              "Asistente",
			Description:       "un asistente de IA que ayuda con cálculos, clima, búsquedas, contactos y envíos Bizum",
			MaxIterations:     DefaultMaxIterations,
			StreamWordDelayMs: &delay,
		},
		Gateway: GatewayConfig{
			Port: DefaultPort,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Session: SessionConfig{
			MaxHistory:          20,
			ActiveWindowMinutes: 60,
			PruneAfterHours:     24,
		},
		Tools: ToolsConfig{
			Weather: WeatherConfig{
				BaseURL:        "https://api.openweathermap.org/data/2.5",
				TimeoutSeconds: 10,
			},
			Search: SearchConfig{
				BaseURL:        "https://www.googleapis.com/customsearch/v1",
				TimeoutSeconds: 15,
			},
		},
		Bizum: BizumConfig{
			MinAmount:              0.01,
			MaxAmount:              1000,
			ConfirmationTTLSeconds: 300,
			HistoryLimit:           10,
			MaxStored:              100,
			PendingStore:           "memory",
		},
		Redis: RedisConfig{
			KeyPrefix: "bizagent:pending:",
		},
		Events: EventsConfig{
			AMQP: AMQPConfig{Queue: "bizagent.transactions"},
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}

// ConfirmationTTL returns the pending confirmation window.
func (b BizumConfig) ConfirmationTTL() time.Duration {
	return time.Duration(b.ConfirmationTTLSeconds) * time.Second
}

// WordDelay returns the pause between simulated stream words.
func (a AgentConfig) WordDelay() time.Duration {
	if a.StreamWordDelayMs == nil {
		return DefaultWordDelayMs * time.Millisecond
	}
	return time.Duration(*a.StreamWordDelayMs) * time.Millisecond
}

// ActiveWindow returns how recent activity must be for a session to count as active.
func (s SessionConfig) ActiveWindow() time.Duration {
	return time.Duration(s.ActiveWindowMinutes) * time.Minute
}

// PruneAfter returns the inactivity age after which `sessions prune` removes a session.
func (s SessionConfig) PruneAfter() time.Duration {
	return time.Duration(s.PruneAfterHours) * time.Hour
}
