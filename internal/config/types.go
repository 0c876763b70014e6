package config

// Config is the root configuration for bizagent.
type Config struct {
	Provider ProviderConfig `yaml:"provider,omitempty"`
	Agent    AgentConfig    `yaml:"agent,omitempty"`
	Gateway  GatewayConfig  `yaml:"gateway,omitempty"`
	Storage  StorageConfig  `yaml:"storage,omitempty"`
	Session  SessionConfig  `yaml:"session,omitempty"`
	Tools    ToolsConfig    `yaml:"tools,omitempty"`
	Bizum    BizumConfig    `yaml:"bizum,omitempty"`
	Redis    RedisConfig    `yaml:"redis,omitempty"`
	Events   EventsConfig   `yaml:"events,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// ProviderConfig selects the chat-completions provider.
// Any OpenAI-compatible endpoint works (OpenAI, Azure proxies, Ollama /v1).
type ProviderConfig struct {
	Name           string   `yaml:"name,omitempty"`
	APIKey         string   `yaml:"apiKey,omitempty"`
	BaseURL        string   `yaml:"baseUrl,omitempty"`
	Model          string   `yaml:"model,omitempty"`
	Fallbacks      []string `yaml:"fallbacks,omitempty"`
	MaxTokens      int      `yaml:"maxTokens,omitempty"`
	Temperature    *float64 `yaml:"temperature,omitempty"`
	TimeoutSeconds int      `yaml:"timeoutSeconds,omitempty"`
}

// AgentConfig controls the orchestration loop.
type AgentConfig struct {
	Name              string `yaml:"name,omitempty"`
	Description       string `yaml:"description,omitempty"`
	MaxIterations     int    `yaml:"maxIterations,omitempty"`
	StreamWordDelayMs *int   `yaml:"streamWordDelayMs,omitempty"`
	ExtraPrompt       string `yaml:"extraPrompt,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"` // plain text or a bcrypt hash
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// StorageConfig selects the durable store for sessions, transactions and contacts.
type StorageConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`   // defaults to <data>/bizagent.db
}

// SessionConfig defines session behavior.
type SessionConfig struct {
	MaxHistory          int `yaml:"maxHistory,omitempty"`
	ActiveWindowMinutes int `yaml:"activeWindowMinutes,omitempty"`
	PruneAfterHours     int `yaml:"pruneAfterHours,omitempty"`
}

// ToolsConfig holds credentials and endpoints for tools that call external APIs.
type ToolsConfig struct {
	Weather WeatherConfig `yaml:"weather,omitempty"`
	Search  SearchConfig  `yaml:"search,omitempty"`
}

// WeatherConfig configures the OpenWeather-backed weather tool.
type WeatherConfig struct {
	APIKey         string `yaml:"apiKey,omitempty"`
	BaseURL        string `yaml:"baseUrl,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// SearchConfig configures the Google Custom Search-backed search tool.
type SearchConfig struct {
	APIKey         string `yaml:"apiKey,omitempty"`
	EngineID       string `yaml:"engineId,omitempty"`
	BaseURL        string `yaml:"baseUrl,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// BizumConfig controls the payment tool and its confirmation table.
type BizumConfig struct {
	MinAmount              float64 `yaml:"minAmount,omitempty"`
	MaxAmount              float64 `yaml:"maxAmount,omitempty"`
	ConfirmationTTLSeconds int     `yaml:"confirmationTtlSeconds,omitempty"`
	HistoryLimit           int     `yaml:"historyLimit,omitempty"`
	MaxStored              int     `yaml:"maxStored,omitempty"`
	ResolveContacts        bool    `yaml:"resolveContacts,omitempty"`
	SigningSecret          string  `yaml:"signingSecret,omitempty"`
	PendingStore           string  `yaml:"pendingStore,omitempty"` // "memory" | "redis"
}

// RedisConfig locates the Redis server used for pending confirmations.
type RedisConfig struct {
	Addr      string `yaml:"addr,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// EventsConfig configures outbound transaction events.
type EventsConfig struct {
	AMQP AMQPConfig `yaml:"amqp,omitempty"`
}

// AMQPConfig locates the RabbitMQ broker that receives transaction events.
type AMQPConfig struct {
	URL   string `yaml:"url,omitempty"`
	Queue string `yaml:"queue,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}
