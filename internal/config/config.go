package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error. Startup treats it as fatal.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultGeminiModel is the model used when none is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	temp := 0.2
	return Config{
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		LLM: LLMConfig{
			Provider:       "gemini",
			TimeoutSeconds: 30,
			Temperature:    &temp,
			MaxTokens:      512,
			Providers: map[string]ProviderEntry{
				"gemini": {Model: DefaultGeminiModel},
			},
		},
		Speech: SpeechConfig{
			Provider:       "elevenlabs",
			Model:          "eleven_multilingual_v2",
			OutputFormat:   "mp3_44100_128",
			MaxChars:       600,
			TimeoutSeconds: 15,
		},
		Store: StoreConfig{
			Driver:   "sqlite",
			MaxConns: 5,
		},
		Booking: BookingConfig{
			MaxInputChars: 500,
			HistoryTurns:  12,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// LLMTimeout returns the extraction call timeout.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// SpeechTimeout returns the synthesis call timeout.
func (c Config) SpeechTimeout() time.Duration {
	return time.Duration(c.Speech.TimeoutSeconds) * time.Second
}
