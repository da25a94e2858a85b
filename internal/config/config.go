// Package config loads rlmd configuration from the environment, with an
// optional YAML file for overrides. Environment variables win over file
// values; a .env file in the working directory is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the environment nor the config file set a value.
const (
	DefaultListenAddr    = ":8080"
	DefaultGlimpseTTLSec = 86400
	DefaultTraceDir      = "var/rlm_traces"
	DefaultVLLMTimeout   = 30.0
	DefaultVLLMRetries   = 2
	DefaultVLLMBackoff   = 1.0
)

// VLLMConfig holds the OpenAI-compatible decision backend settings.
type VLLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutS    float64 `yaml:"timeout_s"`
	MaxRetries  int     `yaml:"max_retries"`
	BackoffS    float64 `yaml:"backoff_s"`
}

// Valid reports whether the backend is configured well enough to construct.
// The decision backend needs at least a base URL and a model.
func (v VLLMConfig) Valid() bool {
	return v.BaseURL != "" && v.Model != ""
}

// Config is the full rlmd runtime configuration.
type Config struct {
	AppEnv     string `yaml:"app_env"`
	ListenAddr string `yaml:"listen_addr"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	RootLMBackend string     `yaml:"rootlm_backend"` // "mock" or "vllm"
	VLLM          VLLMConfig `yaml:"vllm"`

	GlimpseTTLSec int    `yaml:"glimpse_ttl_sec"`
	TraceDir      string `yaml:"trace_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	DebugOptionsEnabled bool   `yaml:"debug_options_enabled"`
	DebugToken          string `yaml:"debug_token"`
}

// Default returns the baseline configuration before any sources are applied.
func Default() *Config {
	return &Config{
		AppEnv:        "development",
		ListenAddr:    DefaultListenAddr,
		RootLMBackend: "mock",
		VLLM: VLLMConfig{
			TimeoutS:   DefaultVLLMTimeout,
			MaxRetries: DefaultVLLMRetries,
			BackoffS:   DefaultVLLMBackoff,
		},
		GlimpseTTLSec: DefaultGlimpseTTLSec,
		TraceDir:      DefaultTraceDir,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// Load builds the configuration from defaults, an optional YAML file, and the
// environment, in that order. path may be empty.
func Load(path string) (*Config, error) {
	// Absence of a .env file is not an error.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// FromEnv builds the configuration from defaults and the environment only.
func FromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	cfg.normalize()
	return cfg
}

func (c *Config) applyEnv() {
	setString(&c.AppEnv, "APP_ENV")
	setString(&c.ListenAddr, "RLM_LISTEN_ADDR")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.RootLMBackend, "RLM_ROOTLM_BACKEND")
	setString(&c.VLLM.BaseURL, "VLLM_BASE_URL")
	setString(&c.VLLM.APIKey, "VLLM_API_KEY")
	setString(&c.VLLM.Model, "VLLM_MODEL")
	setInt(&c.VLLM.MaxTokens, "VLLM_MAX_TOKENS")
	setFloat(&c.VLLM.Temperature, "VLLM_TEMPERATURE")
	setInt(&c.GlimpseTTLSec, "RLM_GLIMPSE_TTL_SEC")
	setString(&c.TraceDir, "RLM_TRACE_DIR")
	setString(&c.LogLevel, "RLM_LOG_LEVEL")
	setString(&c.LogFormat, "RLM_LOG_FORMAT")
	setBool(&c.DebugOptionsEnabled, "RLM_DEBUG_OPTIONS_ENABLED")
	setString(&c.DebugToken, "RLM_DEBUG_TOKEN")
}

func (c *Config) normalize() {
	c.RootLMBackend = strings.ToLower(strings.TrimSpace(c.RootLMBackend))
	if c.RootLMBackend == "" {
		c.RootLMBackend = "mock"
	}
	if c.GlimpseTTLSec < 0 {
		c.GlimpseTTLSec = 0
	}
	if c.TraceDir == "" {
		c.TraceDir = DefaultTraceDir
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.VLLM.TimeoutS <= 0 {
		c.VLLM.TimeoutS = DefaultVLLMTimeout
	}
	if c.VLLM.MaxRetries < 0 {
		c.VLLM.MaxRetries = 0
	}
	if c.VLLM.BackoffS < 0 {
		c.VLLM.BackoffS = 0
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}
