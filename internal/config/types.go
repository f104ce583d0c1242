package config

// Config is the root configuration for CallPilot.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	LLM     LLMConfig     `yaml:"llm,omitempty"`
	Speech  SpeechConfig  `yaml:"speech,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Booking BookingConfig `yaml:"booking,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Hooks   HooksConfig   `yaml:"hooks,omitempty"`
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
	Mode     string `yaml:"mode,omitempty"` // "none" | "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// LLMConfig selects the extraction model provider and its fallbacks.
type LLMConfig struct {
	Provider       string                   `yaml:"provider,omitempty"` // "gemini" | "openai" | "ollama" | "mock"
	Fallbacks      []string                 `yaml:"fallbacks,omitempty"`
	TimeoutSeconds int                      `yaml:"timeoutSeconds,omitempty"`
	Temperature    *float64                 `yaml:"temperature,omitempty"`
	MaxTokens      int                      `yaml:"maxTokens,omitempty"`
	Providers      map[string]ProviderEntry `yaml:"providers,omitempty"`
}

// ProviderEntry holds per-provider connection settings.
type ProviderEntry struct {
	APIKey   string `yaml:"apiKey,omitempty"`
	Model    string `yaml:"model,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// SpeechConfig controls best-effort reply synthesis.
type SpeechConfig struct {
	Enabled        bool   `yaml:"enabled,omitempty"`
	Provider       string `yaml:"provider,omitempty"` // "elevenlabs"
	APIKey         string `yaml:"apiKey,omitempty"`
	VoiceID        string `yaml:"voiceId,omitempty"`
	Model          string `yaml:"model,omitempty"`
	OutputFormat   string `yaml:"outputFormat,omitempty"`
	Endpoint       string `yaml:"endpoint,omitempty"`
	MaxChars       int    `yaml:"maxChars,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver   string `yaml:"driver,omitempty"` // "sqlite" | "postgres" | "memory"
	Path     string `yaml:"path,omitempty"`   // sqlite file; defaults under the data dir
	DSN      string `yaml:"dsn,omitempty"`    // postgres connection string
	MaxConns int    `yaml:"maxConns,omitempty"`
}

// BookingConfig tunes the turn pipeline.
type BookingConfig struct {
	MaxInputChars int `yaml:"maxInputChars,omitempty"`
	HistoryTurns  int `yaml:"historyTurns,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// HooksConfig defines shell commands run on lifecycle events.
type HooksConfig struct {
	AppointmentBooked      []HookEntry `yaml:"appointmentBooked,omitempty"`
	AppointmentRescheduled []HookEntry `yaml:"appointmentRescheduled,omitempty"`
	AppointmentCancelled   []HookEntry `yaml:"appointmentCancelled,omitempty"`
	GatewayStart           []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop            []HookEntry `yaml:"gatewayStop,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}
