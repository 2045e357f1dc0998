package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/leofalp/mosaik/core/engine"
	"github.com/leofalp/mosaik/providers/ai"
	"github.com/leofalp/mosaik/providers/ai/anthropic"
	"github.com/leofalp/mosaik/providers/ai/ollama"
	"github.com/leofalp/mosaik/providers/observability/slogobs"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "mosaik.yaml"

// Config is the root of mosaik.yaml.
type Config struct {
	Engine    EngineConfig    `yaml:"engine" json:"engine"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Providers ProvidersConfig `yaml:"providers" json:"providers"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// EngineConfig bounds the scheduler.
type EngineConfig struct {
	MaxInFlight         int           `yaml:"max_in_flight" json:"max_in_flight"`
	EventBuffer         int           `yaml:"event_buffer" json:"event_buffer"`
	BackpressureTimeout time.Duration `yaml:"backpressure_timeout" json:"backpressure_timeout"`
}

// LogConfig selects the slogobs level and format. Empty values defer to
// MOSAIK_LOG_LEVEL and MOSAIK_LOG_FORMAT.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ProvidersConfig configures the built-in adapters.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic" json:"anthropic"`
	Ollama    OllamaConfig    `yaml:"ollama" json:"ollama"`
}

// AnthropicConfig configures the Anthropic adapter. Empty fields keep the
// adapter's environment defaults.
type AnthropicConfig struct {
	APIKey    string   `yaml:"api_key" json:"-"`
	BaseURL   string   `yaml:"base_url" json:"base_url"`
	Models    []string `yaml:"models" json:"models"`
	MaxTokens int      `yaml:"max_tokens" json:"max_tokens"`
	Disabled  bool     `yaml:"disabled" json:"disabled"`
}

// OllamaConfig configures the Ollama adapter.
type OllamaConfig struct {
	BaseURL  string `yaml:"base_url" json:"base_url"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// RedisConfig configures the event recorder. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	MaxLen   int64  `yaml:"max_len" json:"max_len"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxInFlight:         engine.DefaultMaxInFlight,
			EventBuffer:         engine.DefaultEventBuffer,
			BackpressureTimeout: engine.DefaultBackpressureTimeout,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8484"},
		Redis:  RedisConfig{Prefix: "mosaik", MaxLen: 10000},
	}
}

// Load reads the configuration at path over the defaults. A .env file in the
// same directory is loaded first without overriding variables that are
// already set.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults after expanding ${VAR} references.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if strings.TrimSpace(expanded) != "" {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (cfg *Config) Validate() error {
	if cfg.Engine.MaxInFlight < 1 {
		return fmt.Errorf("engine.max_in_flight must be at least 1, got %d", cfg.Engine.MaxInFlight)
	}
	if cfg.Engine.EventBuffer < 1 {
		return fmt.Errorf("engine.event_buffer must be at least 1, got %d", cfg.Engine.EventBuffer)
	}
	if cfg.Engine.BackpressureTimeout < 0 {
		return fmt.Errorf("engine.backpressure_timeout must not be negative")
	}
	if cfg.Providers.Anthropic.MaxTokens < 0 {
		return fmt.Errorf("providers.anthropic.max_tokens must not be negative")
	}
	if cfg.Log.Level != "" {
		if _, err := slogobs.ParseLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	if cfg.Redis.MaxLen < 0 {
		return fmt.Errorf("redis.max_len must not be negative")
	}
	return nil
}

// EngineOptions translates the engine section into engine options.
func (cfg *Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithMaxInFlight(cfg.Engine.MaxInFlight),
		engine.WithEventBuffer(cfg.Engine.EventBuffer),
		engine.WithBackpressureTimeout(cfg.Engine.BackpressureTimeout),
	}
}

// LogOptions translates the log section into slogobs options. Unset fields
// leave the environment defaults in place.
func (cfg *Config) LogOptions() []slogobs.Option {
	options := make([]slogobs.Option, 0, 2)
	if cfg.Log.Level != "" {
		if level, err := slogobs.ParseLevel(cfg.Log.Level); err == nil {
			options = append(options, slogobs.WithLevel(level))
		}
	}
	if cfg.Log.Format != "" {
		options = append(options, slogobs.WithFormat(slogobs.ParseFormat(cfg.Log.Format)))
	}
	return options
}

// Registry builds the provider registry described by cfg.
func Registry(cfg *Config) *ai.Registry {
	registry := ai.NewRegistry()

	if settings := cfg.Providers.Anthropic; !settings.Disabled {
		provider := anthropic.New().WithMaxTokens(settings.MaxTokens).WithModels(settings.Models...)
		if settings.APIKey != "" {
			provider = provider.WithAPIKey(settings.APIKey)
		}
		if settings.BaseURL != "" {
			provider = provider.WithBaseURL(settings.BaseURL)
		}
		registry.Register(provider)
	}

	if settings := cfg.Providers.Ollama; !settings.Disabled {
		provider := ollama.New()
		if settings.BaseURL != "" {
			provider = provider.WithBaseURL(settings.BaseURL)
		}
		registry.Register(provider)
	}

	return registry
}
