package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ProviderConfig struct {
	Enabled           bool    `yaml:"enabled"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	BaseURL           string  `yaml:"base_url"`
	WSURL             string  `yaml:"ws_url"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	MaxRetries        int     `yaml:"max_retries"`
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds"`
}

type Config struct {
	Scan struct {
		Symbols     []string `yaml:"symbols"`
		Timeframe   string   `yaml:"timeframe"`
		PollSeconds int      `yaml:"poll_seconds"`
		Stream      bool     `yaml:"stream"`
	} `yaml:"scan"`

	Providers map[string]ProviderConfig `yaml:"providers"`

	Priority struct {
		Intraday     []string `yaml:"intraday"`
		Daily        []string `yaml:"daily"`
		Fundamentals []string `yaml:"fundamentals"`
	} `yaml:"priority"`

	RateLimit struct {
		MaxCalls      int `yaml:"max_calls"`
		PeriodSeconds int `yaml:"period_seconds"`
	} `yaml:"rate_limit"`

	Streaming struct {
		MessageTimeoutSeconds int `yaml:"message_timeout_seconds"`
		HealthCheckSeconds    int `yaml:"health_check_seconds"`
		BarBuffer             int `yaml:"bar_buffer"`
		Reconnect             struct {
			MaxAttempts      int     `yaml:"max_attempts"`
			BaseDelaySeconds float64 `yaml:"base_delay_seconds"`
			MaxDelaySeconds  float64 `yaml:"max_delay_seconds"`
		} `yaml:"reconnect"`
	} `yaml:"streaming"`

	DownAfterConsecutive int `yaml:"down_after_consecutive"`
}

func (c *Config) Validate() error {
	if len(c.Scan.Symbols) == 0 {
		return errors.New("scan.symbols cannot be empty")
	}
	switch c.Scan.Timeframe {
	case "1m", "5m", "15m", "1h", "1D":
	default:
		return fmt.Errorf("invalid scan.timeframe '%s': must be one of 1m, 5m, 15m, 1h, 1D", c.Scan.Timeframe)
	}
	if len(c.Priority.Intraday) == 0 && len(c.Priority.Daily) == 0 {
		return errors.New("at least one of priority.intraday or priority.daily must be set")
	}
	for name, pc := range c.Providers {
		if pc.Enabled && pc.BaseURL == "" && pc.WSURL == "" {
			return fmt.Errorf("provider '%s' is enabled but has neither base_url nor ws_url", name)
		}
	}
	if c.RateLimit.MaxCalls < 0 || c.RateLimit.PeriodSeconds < 0 {
		return errors.New("rate_limit values must be non-negative")
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Scan.Timeframe == "" {
		c.Scan.Timeframe = "15m"
	}
	if c.Scan.PollSeconds == 0 {
		c.Scan.PollSeconds = 30
	}
	if c.RateLimit.MaxCalls == 0 {
		c.RateLimit.MaxCalls = 60
	}
	if c.RateLimit.PeriodSeconds == 0 {
		c.RateLimit.PeriodSeconds = 60
	}
	if c.Streaming.MessageTimeoutSeconds == 0 {
		c.Streaming.MessageTimeoutSeconds = 30
	}
	if c.Streaming.HealthCheckSeconds == 0 {
		c.Streaming.HealthCheckSeconds = 15
	}
	if c.Streaming.BarBuffer == 0 {
		c.Streaming.BarBuffer = 100
	}
	if c.Streaming.Reconnect.MaxAttempts == 0 {
		c.Streaming.Reconnect.MaxAttempts = 5
	}
	if c.Streaming.Reconnect.BaseDelaySeconds == 0 {
		c.Streaming.Reconnect.BaseDelaySeconds = 1
	}
	if c.Streaming.Reconnect.MaxDelaySeconds == 0 {
		c.Streaming.Reconnect.MaxDelaySeconds = 60
	}
	if c.DownAfterConsecutive == 0 {
		c.DownAfterConsecutive = 5
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

// APIKey resolves the provider's API key from the configured env var.
func (pc ProviderConfig) APIKey() string {
	if pc.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(pc.APIKeyEnv)
}
