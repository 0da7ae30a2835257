package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "enrich.db", cfg.Store.Path)
	assert.Equal(t, 10, cfg.Store.MaxConns)

	assert.Equal(t, 256, cfg.Oracle.MaxTokens)
	assert.Equal(t, 30, cfg.Oracle.TimeoutSecs)
	assert.Equal(t, 3, cfg.Oracle.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Oracle.Circuit.FailureThreshold)

	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, []string{"status", "homepage_url", "city"}, cfg.Pipeline.InferFields)
	assert.Equal(t, 5, cfg.Verify.Workers)
	assert.Equal(t, 3, cfg.Verify.MaxAttempts)
	assert.Equal(t, 10, cfg.Report.Limit)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENRICH_STORE_DRIVER", "postgres")
	t.Setenv("ENRICH_STORE_DATABASE_URL", "postgres://localhost/enrich")
	t.Setenv("ENRICH_ORACLE_KEY", "sk-test")
	t.Setenv("ENRICH_PIPELINE_WORKERS", "9")
	t.Setenv("ENRICH_PIPELINE_RULES_PATH", "rules.yaml")
	t.Setenv("ENRICH_DATASET_ENCODING", "latin1")
	t.Setenv("ENRICH_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/enrich", cfg.Store.DatabaseURL)
	assert.Equal(t, "sk-test", cfg.Oracle.Key)
	assert.Equal(t, 9, cfg.Pipeline.Workers)
	assert.Equal(t, "rules.yaml", cfg.Pipeline.RulesPath)
	assert.Equal(t, "latin1", cfg.Dataset.Encoding)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouty", Format: "json"})
	require.Error(t, err)

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
