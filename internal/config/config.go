package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/taxa-enrich/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	WoRMS    SourceConfig   `yaml:"worms" mapstructure:"worms"`
	GBIF     SourceConfig   `yaml:"gbif" mapstructure:"gbif"`
	Enrich   EnrichConfig   `yaml:"enrich" mapstructure:"enrich"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourceConfig configures one naming source.
type SourceConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string        `yaml:"user_agent" mapstructure:"user_agent"`
	Rate        RateConfig    `yaml:"rate" mapstructure:"rate"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Breaker     BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// RateConfig is a sliding-window ceiling: MaxRequests per WindowSeconds.
type RateConfig struct {
	MaxRequests   int `yaml:"max_requests" mapstructure:"max_requests"`
	WindowSeconds int `yaml:"window_seconds" mapstructure:"window_seconds"`
}

// RetryConfig configures retries of transient failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// BreakerConfig configures the per-source circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// EnrichConfig configures enrichment runs.
type EnrichConfig struct {
	BatchSize                   int    `yaml:"batch_size" mapstructure:"batch_size"`
	DefaultSource               string `yaml:"default_source" mapstructure:"default_source"`
	MaxConsecutiveWriteFailures int    `yaml:"max_consecutive_write_failures" mapstructure:"max_consecutive_write_failures"`
}

// ClassifyConfig configures the marine classifier.
type ClassifyConfig struct {
	KeywordsFile string `yaml:"keywords_file" mapstructure:"keywords_file"`
}

// ServerConfig configures the QA API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validation modes.
const (
	ModeEnrich = "enrich"
	ModeServe  = "serve"
	ModeStore  = "store"
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TAXA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("enrich.batch_size", 40)
	v.SetDefault("enrich.default_source", string(model.PreferenceAuto))
	v.SetDefault("enrich.max_consecutive_write_failures", 10)

	v.SetDefault("worms.base_url", "https://www.marinespecies.org/rest")
	v.SetDefault("worms.timeout_secs", 30)
	v.SetDefault("worms.rate.max_requests", 50)
	v.SetDefault("worms.rate.window_seconds", 60)
	v.SetDefault("gbif.base_url", "https://api.gbif.org/v1")
	v.SetDefault("gbif.timeout_secs", 30)
	v.SetDefault("gbif.rate.max_requests", 100)
	v.SetDefault("gbif.rate.window_seconds", 60)
	for _, src := range []string{"worms", "gbif"} {
		v.SetDefault(src+".user_agent", "taxa-enrich/1.0")
		v.SetDefault(src+".retry.max_attempts", 3)
		v.SetDefault(src+".retry.initial_backoff_ms", 500)
		v.SetDefault(src+".retry.max_backoff_ms", 30000)
		v.SetDefault(src+".breaker.failure_threshold", 5)
		v.SetDefault(src+".breaker.reset_timeout_secs", 60)
	}

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

// Validate checks the values a command needs. mode selects the checks:
// ModeStore needs a usable store, ModeEnrich also needs both sources, and
// ModeServe needs a store and a port.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case ModeEnrich, ModeServe, ModeStore:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for driver "+c.Store.Driver)
		}
	case "memory":
	default:
		errs = append(errs, "store.driver must be postgres, sqlite or memory")
	}

	if mode == ModeEnrich {
		errs = append(errs, c.WoRMS.validate("worms")...)
		errs = append(errs, c.GBIF.validate("gbif")...)
		if c.Enrich.BatchSize <= 0 {
			errs = append(errs, "enrich.batch_size must be positive")
		}
		if _, err := model.ParsePreference(c.Enrich.DefaultSource); err != nil {
			errs = append(errs, "enrich.default_source: "+err.Error())
		}
	}

	if mode == ModeServe && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s SourceConfig) validate(name string) []string {
	var errs []string
	if s.BaseURL == "" {
		errs = append(errs, name+".base_url is required")
	}
	if s.Rate.MaxRequests <= 0 || s.Rate.WindowSeconds <= 0 {
		errs = append(errs, name+".rate.max_requests and window_seconds must be positive")
	}
	if s.Retry.MaxAttempts <= 0 {
		errs = append(errs, name+".retry.max_attempts must be positive")
	}
	return errs
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
