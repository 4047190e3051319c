package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	Secrets   SecretsConfig   `yaml:"secrets" mapstructure:"secrets"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Resolve   ResolveConfig   `yaml:"resolve" mapstructure:"resolve"`
	Confirm   ConfirmConfig   `yaml:"confirm" mapstructure:"confirm"`
	Profile   ProfileConfig   `yaml:"profile" mapstructure:"profile"`
	Classify  ClassifyConfig  `yaml:"classify" mapstructure:"classify"`
}

// ServerConfig configures the local confirmation API.
type ServerConfig struct {
	Host        string   `yaml:"host" mapstructure:"host"`
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the audit and cache persistence backend.
// Driver is one of sqlite, postgres or memory.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProvidersConfig lists answer provider backends in fallback order.
type ProvidersConfig struct {
	Order     []string      `yaml:"order" mapstructure:"order"`
	Anthropic BackendConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    BackendConfig `yaml:"openai" mapstructure:"openai"`
	Gemini    BackendConfig `yaml:"gemini" mapstructure:"gemini"`
}

// Backend returns the settings for the named backend.
func (p ProvidersConfig) Backend(name string) (BackendConfig, bool) {
	switch name {
	case "anthropic":
		return p.Anthropic, true
	case "openai":
		return p.OpenAI, true
	case "gemini":
		return p.Gemini, true
	}
	return BackendConfig{}, false
}

// BackendConfig configures one answer provider backend. KeyName is the
// credential name looked up through the secrets provider.
type BackendConfig struct {
	Model       string  `yaml:"model" mapstructure:"model"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	KeyName     string  `yaml:"key_name" mapstructure:"key_name"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SecretsConfig configures where provider credentials are read from.
type SecretsConfig struct {
	Service    string `yaml:"service" mapstructure:"service"`
	UseKeyring bool   `yaml:"use_keyring" mapstructure:"use_keyring"`
}

// RetryConfig configures provider call retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-backend circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ResolveConfig configures the resolution pipeline.
type ResolveConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	MaxTokens      int `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ConfirmConfig configures the confirmation coordinator.
type ConfirmConfig struct {
	DecisionTimeoutSecs int `yaml:"decision_timeout_secs" mapstructure:"decision_timeout_secs"`
}

// ProfileConfig points at the applicant profile.
type ProfileConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ClassifyConfig points at optional extra classifier rules.
type ClassifyConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUTOFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.cors_origins", []string{"chrome-extension://*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "autofill.db")
	v.SetDefault("providers.order", []string{"anthropic", "openai", "gemini"})
	v.SetDefault("providers.anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("providers.anthropic.key_name", "anthropic_api_key")
	v.SetDefault("providers.anthropic.rps", 2.0)
	v.SetDefault("providers.anthropic.burst", 2)
	v.SetDefault("providers.anthropic.timeout_secs", 60)
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.base_url", "")
	v.SetDefault("providers.openai.key_name", "openai_api_key")
	v.SetDefault("providers.openai.rps", 2.0)
	v.SetDefault("providers.openai.burst", 2)
	v.SetDefault("providers.openai.timeout_secs", 60)
	v.SetDefault("providers.gemini.model", "gemini-2.5-flash")
	v.SetDefault("providers.gemini.key_name", "gemini_api_key")
	v.SetDefault("providers.gemini.rps", 2.0)
	v.SetDefault("providers.gemini.burst", 2)
	v.SetDefault("providers.gemini.timeout_secs", 60)
	v.SetDefault("secrets.service", "autofill")
	v.SetDefault("secrets.use_keyring", true)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.2)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("resolve.max_concurrency", 5)
	v.SetDefault("resolve.max_tokens", 500)
	v.SetDefault("confirm.decision_timeout_secs", 300)
	v.SetDefault("profile.path", "profile.yaml")
	v.SetDefault("classify.rules_path", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are serve,
// migrate, classify and profile.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
		if c.Resolve.MaxConcurrency < 1 || c.Resolve.MaxConcurrency > 50 {
			problems = append(problems, "resolve.max_concurrency must be between 1 and 50")
		}
		if c.Confirm.DecisionTimeoutSecs <= 0 {
			problems = append(problems, "confirm.decision_timeout_secs must be > 0")
		}
		if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
			problems = append(problems, "retry.jitter_fraction must be between 0 and 1")
		}
		if len(c.Providers.Order) == 0 {
			problems = append(problems, "providers.order must name at least one backend")
		}
		for _, name := range c.Providers.Order {
			if _, ok := c.Providers.Backend(name); !ok {
				problems = append(problems, fmt.Sprintf("providers.order: unknown backend %q", name))
			}
		}
		problems = append(problems, c.validateStore()...)
	case "migrate":
		problems = append(problems, c.validateStore()...)
	case "classify":
	case "profile":
		if c.Profile.Path == "" {
			problems = append(problems, "profile.path is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "memory":
		return nil
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("store.driver %q must be sqlite, postgres or memory", c.Store.Driver)}
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
