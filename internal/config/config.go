// Package config loads, validates, and saves the overlay configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration for voicebridge.
type Config struct {
	General    GeneralConfig    `json:"general"`
	DirectLine DirectLineConfig `json:"directline"`
	Source     SourceConfig     `json:"source"`
	Widget     WidgetConfig     `json:"widget"`
	Speech     SpeechConfig     `json:"speech"`
	Wave       WaveConfig       `json:"wave"`
	Monitor    MonitorConfig    `json:"monitor"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`          // "debug" | "info" | "warn" | "error"
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// DirectLineConfig configures the REST polling source.
type DirectLineConfig struct {
	BaseURL        string   `json:"baseUrl,omitempty"`
	ConversationID string   `json:"conversationId"`
	Token          string   `json:"token"`
	PollIntervalMs int      `json:"pollIntervalMs"`
	BotIDs         []string `json:"botIds,omitempty"`
	BotNames       []string `json:"botNames,omitempty"`
}

// SourceConfig selects and tunes the message acquisition strategy.
type SourceConfig struct {
	Mode               string `json:"mode"` // "poll" | "widget"
	WindowMs           int    `json:"stabilizationWindowMs"`
	MinLength          int    `json:"minLength"`
	RedeliverAfterMs   int    `json:"redeliverAfterMs"`
	FallbackIntervalMs int    `json:"fallbackIntervalMs"`
}

// WidgetConfig configures the browser-observation source.
type WidgetConfig struct {
	URL            string `json:"url"`
	Profile        string `json:"profile,omitempty"`     // named selector profile
	ProfilesDir    string `json:"profilesDir,omitempty"` // selector profile YAML directory
	ProfileDir     string `json:"profileDir,omitempty"`  // Chrome user data directory
	Headless       bool   `json:"headless"`
	RetryInitialMs int    `json:"retryInitialMs"`
	RetryMaxMs     int    `json:"retryMaxMs"`
}

// SpeechConfig configures the voice capabilities.
type SpeechConfig struct {
	Enabled   bool      `json:"enabled"`
	SilenceMs int       `json:"silenceMs"` // transcript finalization quiet time
	STT       STTConfig `json:"stt"`
	TTS       TTSConfig `json:"tts"`
}

type STTConfig struct {
	APIBase  string `json:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

type TTSConfig struct {
	Provider string `json:"provider,omitempty"` // "openai" | "elevenlabs"
	APIBase  string `json:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model,omitempty"`
	Voice    string `json:"voice,omitempty"`
}

type WaveConfig struct {
	Enabled bool `json:"enabled"`
	Width   int  `json:"width"`
	Layers  int  `json:"layers"`
}

type MonitorConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"` // expose /metrics on the monitor server
}

// Duration helpers for the millisecond fields.
func (d DirectLineConfig) PollInterval() time.Duration { return ms(d.PollIntervalMs) }
func (s SourceConfig) Window() time.Duration           { return ms(s.WindowMs) }
func (s SourceConfig) RedeliverAfter() time.Duration   { return ms(s.RedeliverAfterMs) }
func (s SourceConfig) FallbackInterval() time.Duration { return ms(s.FallbackIntervalMs) }
func (w WidgetConfig) RetryInitial() time.Duration     { return ms(w.RetryInitialMs) }
func (w WidgetConfig) RetryMax() time.Duration         { return ms(w.RetryMaxMs) }
func (s SpeechConfig) Silence() time.Duration          { return ms(s.SilenceMs) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// DefaultConfigDir returns the default config directory (~/.voicebridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voicebridge"
	}
	return filepath.Join(home, ".voicebridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Widget.ProfileDir = ExpandPath(cfg.Widget.ProfileDir)
	cfg.Widget.ProfilesDir = ExpandPath(cfg.Widget.ProfilesDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Source.Mode {
	case "poll", "widget":
		// valid
	default:
		errs = append(errs, "source.mode must be one of: poll, widget")
	}
	if cfg.Source.WindowMs < 1 {
		errs = append(errs, "source.stabilizationWindowMs must be >= 1")
	}
	if cfg.Source.MinLength < 0 {
		errs = append(errs, "source.minLength must be >= 0")
	}
	if cfg.Source.RedeliverAfterMs < 0 {
		errs = append(errs, "source.redeliverAfterMs must be >= 0")
	}
	if cfg.Source.FallbackIntervalMs < 1 {
		errs = append(errs, "source.fallbackIntervalMs must be >= 1")
	}

	if cfg.DirectLine.PollIntervalMs < 1 {
		errs = append(errs, "directline.pollIntervalMs must be >= 1")
	}

	if cfg.Monitor.Port < 0 || cfg.Monitor.Port > 65535 {
		errs = append(errs, "monitor.port must be between 0 and 65535")
	}
	if cfg.Monitor.Path != "" && !strings.HasPrefix(cfg.Monitor.Path, "/") {
		errs = append(errs, "monitor.path must start with /")
	}

	switch cfg.Speech.TTS.Provider {
	case "", "openai", "elevenlabs":
		// valid
	default:
		errs = append(errs, "speech.tts.provider must be one of: openai, elevenlabs")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
