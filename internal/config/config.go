package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Credits   CreditsConfig   `yaml:"credits" mapstructure:"credits"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	HaikuModel     string  `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel    string  `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	OpusModel      string  `yaml:"opus_model" mapstructure:"opus_model"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// NotionConfig holds Notion API credentials and the deal-flow database ID.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	DealDB string `yaml:"deal_db" mapstructure:"deal_db"`
}

// CreditsConfig configures the per-org credit ledger.
type CreditsConfig struct {
	DefaultAllocation int64 `yaml:"default_allocation" mapstructure:"default_allocation"`
	RunCost           int64 `yaml:"run_cost" mapstructure:"run_cost"`
	AgentCost         int64 `yaml:"agent_cost" mapstructure:"agent_cost"`
}

// PipelineConfig configures analysis execution.
type PipelineConfig struct {
	ExtractionCacheTTLHours int `yaml:"extraction_cache_ttl_hours" mapstructure:"extraction_cache_ttl_hours"`
	SingleAgentTimeoutSecs  int `yaml:"single_agent_timeout_secs" mapstructure:"single_agent_timeout_secs"`
	MaxConcurrentRuns       int `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// PricingConfig holds per-model token pricing (USD per million tokens).
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing.
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DILIGENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "diligence.db")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.opus_model", "claude-opus-4-6")
	v.SetDefault("anthropic.rate_limit_rps", 2.0)
	v.SetDefault("anthropic.rate_limit_burst", 4)
	v.SetDefault("credits.default_allocation", 1000)
	v.SetDefault("credits.run_cost", 25)
	v.SetDefault("credits.agent_cost", 2)
	v.SetDefault("pipeline.extraction_cache_ttl_hours", 1)
	v.SetDefault("pipeline.single_agent_timeout_secs", 120)
	v.SetDefault("pipeline.max_concurrent_runs", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the configuration for the given mode. Modes correspond to
// command entry points: "analyze", "serve", "migrate".
func (c *Config) Validate(mode string) error {
	var problems []string

	requireDB := func() {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.SQLitePath == "" {
				problems = append(problems, "store.sqlite_path is required")
			}
		default:
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		}
	}

	switch mode {
	case "analyze":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		requireDB()
	case "serve":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		requireDB()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Pipeline.MaxConcurrentRuns < 1 || c.Pipeline.MaxConcurrentRuns > 32 {
			problems = append(problems, "pipeline.max_concurrent_runs must be between 1 and 32")
		}
		if c.Credits.RunCost <= 0 {
			problems = append(problems, "credits.run_cost must be > 0")
		}
	case "migrate":
		requireDB()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
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
