// Package config loads service settings from an optional config file and
// ANALYZER_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds every tunable of the service.
type Settings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	PromptsFile string `mapstructure:"prompts_file"`
	ReposFile   string `mapstructure:"repos_file"`

	OutputDir    string `mapstructure:"output_dir"`
	CacheDir     string `mapstructure:"cache_dir"`
	EventLogFile string `mapstructure:"event_log_file"`

	ClaudeBinary         string  `mapstructure:"claude_binary"`
	PollIntervalSeconds  int     `mapstructure:"poll_interval_seconds"`
	ClaudeTimeoutSeconds int     `mapstructure:"claude_timeout_seconds"`
	MaxBudgetUSD         float64 `mapstructure:"max_budget_usd"`

	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes"`
	TracingEnabled  bool   `mapstructure:"tracing_enabled"`
	LogLevel        string `mapstructure:"log_level"`
}

// Load reads settings with precedence: env vars over config file over
// defaults. configFile may be empty; env-only operation is the common case.
func Load(configFile string) (*Settings, error) {
	v := viper.New()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("prompts_file", "prompts.yaml")
	v.SetDefault("repos_file", "repos.yaml")
	v.SetDefault("output_dir", "output")
	v.SetDefault("cache_dir", "cache")
	v.SetDefault("event_log_file", "output/invocations.ndjson")
	v.SetDefault("claude_binary", "claude")
	v.SetDefault("poll_interval_seconds", 5)
	v.SetDefault("claude_timeout_seconds", 300)
	v.SetDefault("max_budget_usd", 5.00)
	v.SetDefault("cache_ttl_minutes", 30)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("ANALYZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the service cannot run with.
func (s *Settings) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	if s.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive")
	}
	if s.MaxBudgetUSD < 0 {
		return fmt.Errorf("max_budget_usd must not be negative")
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", s.LogLevel)
	}
	return nil
}

// Addr returns the host:port listen address.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PollInterval returns the liveness poll cadence as a duration.
func (s *Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// ClaudeTimeout returns the per-invocation timeout; zero disables it.
func (s *Settings) ClaudeTimeout() time.Duration {
	return time.Duration(s.ClaudeTimeoutSeconds) * time.Second
}

// CacheTTL returns the in-memory cache entry lifetime.
func (s *Settings) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLMinutes) * time.Minute
}
