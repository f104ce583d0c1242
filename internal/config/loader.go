package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// defaultModels is the model used for a provider entry that names none.
var defaultModels = map[string]string{
	"gemini": DefaultGeminiModel,
	"openai": "gpt-4o-mini",
	"ollama": "llama3.1",
}

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
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Speech.APIKey = expandEnvVars(cfg.Speech.APIKey)
	cfg.Speech.VoiceID = expandEnvVars(cfg.Speech.VoiceID)
	cfg.Store.DSN = expandEnvVars(cfg.Store.DSN)
	for name, provider := range cfg.LLM.Providers {
		provider.APIKey = expandEnvVars(provider.APIKey)
		cfg.LLM.Providers[name] = provider
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			applyDefaults(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	expandSensitiveFields(&cfg)
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
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

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = def.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = def.Gateway.Auth.Mode
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = def.LLM.TimeoutSeconds
	}
	if cfg.LLM.Temperature == nil {
		cfg.LLM.Temperature = def.LLM.Temperature
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]ProviderEntry{}
	}
	for name, entry := range cfg.LLM.Providers {
		if entry.Model == "" {
			entry.Model = defaultModels[name]
			cfg.LLM.Providers[name] = entry
		}
	}

	if cfg.Speech.Provider == "" {
		cfg.Speech.Provider = def.Speech.Provider
	}
	if cfg.Speech.Model == "" {
		cfg.Speech.Model = def.Speech.Model
	}
	if cfg.Speech.OutputFormat == "" {
		cfg.Speech.OutputFormat = def.Speech.OutputFormat
	}
	if cfg.Speech.MaxChars <= 0 {
		cfg.Speech.MaxChars = def.Speech.MaxChars
	}
	if cfg.Speech.TimeoutSeconds <= 0 {
		cfg.Speech.TimeoutSeconds = def.Speech.TimeoutSeconds
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Store.MaxConns <= 0 {
		cfg.Store.MaxConns = def.Store.MaxConns
	}

	if cfg.Booking.MaxInputChars <= 0 {
		cfg.Booking.MaxInputChars = def.Booking.MaxInputChars
	}
	if cfg.Booking.HistoryTurns <= 0 {
		cfg.Booking.HistoryTurns = def.Booking.HistoryTurns
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = def.Logging.ConsoleStyle
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = def.Metrics.Path
	}
}

// applyEnvOverrides reads CALLPILOT_* and provider credential variables and
// overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CALLPILOT_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("CALLPILOT_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("CALLPILOT_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("CALLPILOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CALLPILOT_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("CALLPILOT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("CALLPILOT_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("CALLPILOT_SPEECH_ENABLED"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			cfg.Speech.Enabled = on
		}
	}

	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]ProviderEntry{}
	}
	fillProviderKey(cfg, "gemini", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	fillProviderKey(cfg, "openai", "OPENAI_API_KEY")

	if cfg.Speech.APIKey == "" {
		cfg.Speech.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	if cfg.Speech.VoiceID == "" {
		cfg.Speech.VoiceID = os.Getenv("ELEVENLABS_VOICE_ID")
	}
}

// fillProviderKey sets a provider's API key from the first non-empty
// environment variable, unless the config already carries one.
func fillProviderKey(cfg *Config, provider string, vars ...string) {
	entry := cfg.LLM.Providers[provider]
	if entry.APIKey != "" {
		return
	}
	for _, name := range vars {
		if v := os.Getenv(name); v != "" {
			entry.APIKey = v
			cfg.LLM.Providers[provider] = entry
			return
		}
	}
}
