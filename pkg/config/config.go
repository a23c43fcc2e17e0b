// Package config loads the orchestrator configuration from a YAML
// file, with environment variables filling in secrets and anything
// the file leaves out.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voxloop-dev/voxloop/internal/dialog"
)

// Config represents the application configuration
type Config struct {
	// Server Configuration
	Server ServerConfig `yaml:"server"`

	// Provider Configuration
	Provider ProviderConfig `yaml:"provider"`

	// Session Configuration
	Session SessionConfig `yaml:"session"`

	// Dialog Configuration
	Dialog DialogConfig `yaml:"dialog"`

	// Plan overrides the built-in conversation plan.
	Plan *dialog.Plan `yaml:"plan"`
}

// ServerConfig holds the HTTP surface configuration
type ServerConfig struct {
	// Addr is the webhook listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// OpsPort serves /health and /metrics.
	OpsPort int `yaml:"ops_port"`

	// CallbackBaseURL is the public base the gateway reaches this
	// service at; the turn path is appended to it.
	CallbackBaseURL string `yaml:"callback_base_url"`

	// Voice and Language select the gateway's speech synthesis.
	Voice    string `yaml:"voice"`
	Language string `yaml:"language"`

	// Rate limiting (0 disables)
	GlobalRatePerSecond    float64 `yaml:"global_rate_per_second"`
	GlobalRateBurst        int     `yaml:"global_rate_burst"`
	PerCallerRatePerSecond float64 `yaml:"per_caller_rate_per_second"`
	PerCallerRateBurst     int     `yaml:"per_caller_rate_burst"`
}

// ProviderConfig holds the generation backend configuration
type ProviderConfig struct {
	// Name selects the provider; empty means fallback-only operation.
	Name string `yaml:"name"`

	OpenAIKey   string        `yaml:"openai_key"`
	Model       string        `yaml:"model"`
	Timeout     dialog.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
}

// SessionConfig holds the session store configuration
type SessionConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`

	// IdleTTL is how long an untouched session survives before the
	// reaper removes it.
	IdleTTL dialog.Duration `yaml:"idle_ttl"`

	// ReapSchedule is a cron expression for the reap pass.
	ReapSchedule string `yaml:"reap_schedule"`
}

// DialogConfig holds the turn controller configuration
type DialogConfig struct {
	SystemPrompt    string  `yaml:"system_prompt"`
	HistoryWindow   int     `yaml:"history_window"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.OpsPort == 0 {
		c.Server.OpsPort = 9090
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gpt-4o-mini"
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = dialog.Duration(4 * time.Second)
	}
	if c.Provider.MaxTokens == 0 {
		c.Provider.MaxTokens = 120
	}
	if c.Provider.Temperature == 0 {
		c.Provider.Temperature = 0.7
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Session.IdleTTL == 0 {
		c.Session.IdleTTL = dialog.Duration(30 * time.Minute)
	}
	if c.Session.ReapSchedule == "" {
		c.Session.ReapSchedule = "*/5 * * * *"
	}
	if c.Dialog.HistoryWindow == 0 {
		c.Dialog.HistoryWindow = dialog.DefaultHistoryWindow
	}
}

// applyEnv fills secrets and deploy-specific values from the
// environment when the file leaves them empty.
func (c *Config) applyEnv() {
	if c.Provider.OpenAIKey == "" {
		c.Provider.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Provider.Name == "" {
		c.Provider.Name = os.Getenv("VOXLOOP_PROVIDER")
	}
	if c.Server.CallbackBaseURL == "" {
		c.Server.CallbackBaseURL = os.Getenv("VOXLOOP_CALLBACK_BASE_URL")
	}
	if v := os.Getenv("VOXLOOP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("VOXLOOP_OPS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.OpsPort = port
		}
	}
	if c.Session.RedisAddr == "" {
		c.Session.RedisAddr = os.Getenv("VOXLOOP_REDIS_ADDR")
	}
	if c.Session.RedisPassword == "" {
		c.Session.RedisPassword = os.Getenv("VOXLOOP_REDIS_PASSWORD")
	}
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Server.CallbackBaseURL == "" {
		return fmt.Errorf("callback_base_url is required (set VOXLOOP_CALLBACK_BASE_URL)")
	}

	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("redis backend requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}

	switch c.Provider.Name {
	case "", "openai":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	if c.Provider.Name == "openai" && c.Provider.OpenAIKey == "" {
		return fmt.Errorf("openai provider requires an API key (set OPENAI_API_KEY)")
	}

	if c.Dialog.ConfidenceFloor < 0 || c.Dialog.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be between 0 and 1")
	}

	if c.Plan != nil {
		if err := c.Plan.Validate(); err != nil {
			return fmt.Errorf("invalid plan: %w", err)
		}
	}

	return nil
}

// StagePlan returns the configured plan, validated, or the built-in
// default.
func (c *Config) StagePlan() (*dialog.Plan, error) {
	plan := c.Plan
	if plan == nil {
		plan = dialog.DefaultPlan()
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
