// Package config loads application configuration from file and environment
// and bootstraps the global logger.
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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Oracle   OracleConfig   `yaml:"oracle" mapstructure:"oracle"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Verify   VerifyConfig   `yaml:"verify" mapstructure:"verify"`
	Dataset  DatasetConfig  `yaml:"dataset" mapstructure:"dataset"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	Path        string `yaml:"path" mapstructure:"path"`     // sqlite file path
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// OracleConfig holds the language-model service settings.
type OracleConfig struct {
	Key         string        `yaml:"key" mapstructure:"key"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int           `yaml:"burst" mapstructure:"burst"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig bounds retries on transient oracle failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig controls the oracle circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// PipelineConfig configures the enrichment stages.
type PipelineConfig struct {
	Workers     int      `yaml:"workers" mapstructure:"workers"` // concurrent records in enrichment
	InferFields []string `yaml:"infer_fields" mapstructure:"infer_fields"`
	RulesPath   string   `yaml:"rules_path" mapstructure:"rules_path"`
	MaxRetries  int      `yaml:"max_retries" mapstructure:"max_retries"` // DLQ retry budget per record
}

// VerifyConfig configures the URL verification pool.
type VerifyConfig struct {
	Workers     int `yaml:"workers" mapstructure:"workers"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"` // per-task, ambiguous answers included
}

// DatasetConfig configures tabular input parsing.
type DatasetConfig struct {
	Encoding     string `yaml:"encoding" mapstructure:"encoding"` // "" = utf-8
	XLSXSheet    string `yaml:"xlsx_sheet" mapstructure:"xlsx_sheet"`
	XLSXSkipRows int    `yaml:"xlsx_skip_rows" mapstructure:"xlsx_skip_rows"`
}

// ReportConfig configures the analytical report queries.
type ReportConfig struct {
	Limit int `yaml:"limit" mapstructure:"limit"` // rows per grouped report
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key gets one, even when it is the zero value:
	// AutomaticEnv only surfaces env vars for keys viper already knows.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "enrich.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("oracle.key", "")
	v.SetDefault("oracle.model", "claude-haiku-4-5-20251001")
	v.SetDefault("oracle.max_tokens", 256)
	v.SetDefault("oracle.temperature", 0.0)
	v.SetDefault("oracle.timeout_secs", 30)
	v.SetDefault("oracle.rate_per_sec", 5)
	v.SetDefault("oracle.burst", 5)
	v.SetDefault("oracle.retry.max_attempts", 3)
	v.SetDefault("oracle.retry.initial_backoff_ms", 500)
	v.SetDefault("oracle.retry.max_backoff_ms", 30000)
	v.SetDefault("oracle.retry.multiplier", 2.0)
	v.SetDefault("oracle.retry.jitter_fraction", 0.25)
	v.SetDefault("oracle.circuit.failure_threshold", 5)
	v.SetDefault("oracle.circuit.reset_timeout_secs", 30)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.infer_fields", []string{"status", "homepage_url", "city"})
	v.SetDefault("pipeline.rules_path", "")
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("verify.workers", 5)
	v.SetDefault("verify.max_attempts", 3)
	v.SetDefault("dataset.encoding", "")
	v.SetDefault("dataset.xlsx_sheet", "")
	v.SetDefault("dataset.xlsx_skip_rows", 0)
	v.SetDefault("report.limit", 10)

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
