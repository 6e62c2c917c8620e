package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "http://localhost:9200", cfg.Backend.URL)
	assert.Equal(t, ".ds-traces-*,traces*,*traces*,otel-traces*", cfg.Backend.TracesIndex)
	assert.Equal(t, ".ds-logs-*,logs*,*logs*,otel-logs*", cfg.Backend.LogsIndex)
	assert.Equal(t, ".ds-metrics-*,metrics*,*metrics*,otel-metrics*", cfg.Backend.MetricsIndex)
	assert.Equal(t, 30*time.Second, cfg.Backend.GetTimeoutDuration())
	assert.Equal(t, time.Hour, cfg.Analysis.GetDefaultLookbackDuration())
	assert.Equal(t, 10000, cfg.Analysis.MaxSpans)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, "0.0.0.0:8080", cfg.App.Address())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  port: 9090
backend:
  url: https://search.internal:9200
  username: reader
  password_env: TEST_SEARCH_PASSWORD
  timeout: 5s
analysis:
  logs_limit: 50
  default_lookback: 15m
`), 0o600))

	t.Setenv("TEST_SEARCH_PASSWORD", "s3cret")
	t.Setenv("OTELMCP_ANALYSIS_MAX_SPANS", "250")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, "https://search.internal:9200", cfg.Backend.URL)
	assert.Equal(t, "reader", cfg.Backend.Username)
	assert.Equal(t, "s3cret", cfg.Backend.Password)
	assert.Equal(t, 5*time.Second, cfg.Backend.GetTimeoutDuration())
	assert.Equal(t, 50, cfg.Analysis.LogsLimit)
	assert.Equal(t, 250, cfg.Analysis.MaxSpans)
	assert.Equal(t, 15*time.Minute, cfg.Analysis.GetDefaultLookbackDuration())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Backend:  BackendConfig{URL: "http://localhost:9200"},
		Analysis: AnalysisConfig{MaxSpans: 1, MaxTraceSpans: 1},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Backend.URL = " "
	assert.Error(t, cfg.Validate())

	cfg.Backend.URL = "http://localhost:9200"
	cfg.Analysis.MaxSpans = 0
	assert.Error(t, cfg.Validate())
}

func TestDurationFallbacks(t *testing.T) {
	b := BackendConfig{Timeout: "garbage"}
	assert.Equal(t, 30*time.Second, b.GetTimeoutDuration())

	a := AnalysisConfig{DefaultLookback: "-5m"}
	assert.Equal(t, time.Hour, a.GetDefaultLookbackDuration())
}
