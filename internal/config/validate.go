package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var (
	validBinds         = []string{"auto", "lan", "loopback", "custom"}
	validAuthModes     = []string{"none", "token", "password"}
	validProviders     = []string{"gemini", "openai", "ollama", "mock"}
	validStoreDrivers  = []string{"sqlite", "postgres", "memory"}
	validSpeech        = []string{"elevenlabs"}
	validLogLevels     = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	validConsoleStyles = []string{"pretty", "json"}
)

// Validate checks a Config for shape issues. Returns nil if valid.
// Missing credentials are reported by RequireServing instead.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, value string, allowed []string) {
		if value != "" && !slices.Contains(allowed, value) {
			add(path, "must be one of %v, got %q", allowed, value)
		}
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, validBinds)
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	oneOf("gateway.auth.mode", cfg.Gateway.Auth.Mode, validAuthModes)
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}

	oneOf("llm.provider", cfg.LLM.Provider, validProviders)
	for i, fb := range cfg.LLM.Fallbacks {
		oneOf(fmt.Sprintf("llm.fallbacks[%d]", i), fb, validProviders)
		if fb == cfg.LLM.Provider {
			add(fmt.Sprintf("llm.fallbacks[%d]", i), "duplicates the primary provider %q", fb)
		}
	}
	if cfg.LLM.Temperature != nil && (*cfg.LLM.Temperature < 0 || *cfg.LLM.Temperature > 2) {
		add("llm.temperature", "must be between 0 and 2, got %v", *cfg.LLM.Temperature)
	}
	if cfg.LLM.TimeoutSeconds < 0 {
		add("llm.timeoutSeconds", "must not be negative")
	}

	oneOf("speech.provider", cfg.Speech.Provider, validSpeech)
	if cfg.Speech.MaxChars < 0 {
		add("speech.maxChars", "must not be negative")
	}

	oneOf("store.driver", cfg.Store.Driver, validStoreDrivers)
	if cfg.Store.MaxConns < 0 {
		add("store.maxConns", "must not be negative")
	}

	if cfg.Booking.MaxInputChars < 0 {
		add("booking.maxInputChars", "must not be negative")
	}
	if cfg.Booking.HistoryTurns < 0 {
		add("booking.historyTurns", "must not be negative")
	}

	oneOf("logging.level", cfg.Logging.Level, validLogLevels)
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, validConsoleStyles)

	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /, got %q", cfg.Metrics.Path)
	}

	return issues
}

// RequireServing checks that every collaborator needed to serve turns is
// usable. It returns a *ConfigError listing each missing parameter.
func RequireServing(cfg *Config) error {
	var missing []string

	for _, name := range append([]string{cfg.LLM.Provider}, cfg.LLM.Fallbacks...) {
		if name == "mock" || name == "ollama" {
			continue
		}
		if cfg.LLM.Providers[name].APIKey == "" {
			missing = append(missing, fmt.Sprintf("llm.providers.%s.apiKey", name))
		}
	}

	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DSN == "" {
			missing = append(missing, "store.dsn")
		}
	}

	if cfg.Speech.Enabled {
		if cfg.Speech.APIKey == "" {
			missing = append(missing, "speech.apiKey")
		}
		if cfg.Speech.VoiceID == "" {
			missing = append(missing, "speech.voiceId")
		}
	}

	if cfg.Gateway.Auth.Mode == "token" && cfg.Gateway.Auth.Token == "" && cfg.Gateway.Bind != "loopback" {
		missing = append(missing, "gateway.auth.token")
	}

	if issues := Validate(cfg); len(issues) > 0 {
		for _, is := range issues {
			missing = append(missing, is.String())
		}
	}

	if len(missing) == 0 {
		return nil
	}
	return &ConfigError{Message: "cannot serve turns, missing or invalid: " + strings.Join(missing, ", ")}
}
