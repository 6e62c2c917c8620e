// Package config provides configuration structures and loading logic for otelmcp.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. OTELMCP_BACKEND_URL.
const EnvPrefix = "OTELMCP"

// Config represents the root configuration structure.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	History   HistoryConfig   `mapstructure:"history"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig defines application-level settings such as host and port.
type AppConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// BackendConfig defines the Elasticsearch/OpenSearch connection and index patterns.
type BackendConfig struct {
	URL          string `mapstructure:"url"`
	Username     string `mapstructure:"username"`
	PasswordEnv  string `mapstructure:"password_env"`
	APIKeyEnv    string `mapstructure:"api_key_env"`
	Timeout      string `mapstructure:"timeout"`
	MaxRetries   int    `mapstructure:"max_retries"`
	TracesIndex  string `mapstructure:"traces_index"`
	LogsIndex    string `mapstructure:"logs_index"`
	MetricsIndex string `mapstructure:"metrics_index"`
	Password     string `mapstructure:"-"`
	APIKey       string `mapstructure:"-"`
}

// AnalysisConfig bounds the size of backend queries.
type AnalysisConfig struct {
	MaxSpans         int    `mapstructure:"max_spans"`
	MaxTraceSpans    int    `mapstructure:"max_trace_spans"`
	LogsLimit        int    `mapstructure:"logs_limit"`
	MetricsLimit     int    `mapstructure:"metrics_limit"`
	ErrorGroupsLimit int    `mapstructure:"error_groups_limit"`
	DefaultLookback  string `mapstructure:"default_lookback"`
}

// HistoryConfig controls the SQLite invocation history.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Neo4jConfig defines the target of dependency graph exports.
type Neo4jConfig struct {
	URI         string `mapstructure:"uri"`
	Username    string `mapstructure:"username"`
	PasswordEnv string `mapstructure:"password_env"`
	Password    string `mapstructure:"-"`
}

// MCPConfig names the MCP server.
type MCPConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// TelemetryConfig selects where the adapter's own spans go.
type TelemetryConfig struct {
	Exporter string `mapstructure:"exporter"`
}

// GetTimeoutDuration returns the timeout as a time.Duration
func (c *BackendConfig) GetTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetDefaultLookbackDuration parses the lookback applied when a request has no time range.
func (c *AnalysisConfig) GetDefaultLookbackDuration() time.Duration {
	d, _ := time.ParseDuration(c.DefaultLookback)
	if d <= 0 {
		return time.Hour
	}
	return d
}

// Address returns the host:port the HTTP server listens on.
func (c *AppConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "text")
	v.SetDefault("backend.url", "http://localhost:9200")
	v.SetDefault("backend.username", "")
	v.SetDefault("backend.password_env", "OTELMCP_BACKEND_PASSWORD")
	v.SetDefault("backend.api_key_env", "OTELMCP_BACKEND_API_KEY")
	v.SetDefault("backend.timeout", "30s")
	v.SetDefault("backend.max_retries", 3)
	v.SetDefault("backend.traces_index", ".ds-traces-*,traces*,*traces*,otel-traces*")
	v.SetDefault("backend.logs_index", ".ds-logs-*,logs*,*logs*,otel-logs*")
	v.SetDefault("backend.metrics_index", ".ds-metrics-*,metrics*,*metrics*,otel-metrics*")
	v.SetDefault("analysis.max_spans", 10000)
	v.SetDefault("analysis.max_trace_spans", 5000)
	v.SetDefault("analysis.logs_limit", 500)
	v.SetDefault("analysis.metrics_limit", 1000)
	v.SetDefault("analysis.error_groups_limit", 10)
	v.SetDefault("analysis.default_lookback", "1h")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", "data/otelmcp.db")
	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password_env", "OTELMCP_NEO4J_PASSWORD")
	v.SetDefault("mcp.name", "otelmcp")
	v.SetDefault("mcp.version", "0.1.0")
	v.SetDefault("telemetry.exporter", "none")
}

// Load loads configuration from config.yaml or environment variables. An
// explicit file path takes precedence over the search paths.
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/otelmcp")
	}

	// Allow environment variables to override config
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets come from the environment variables named in the config.
	if cfg.Backend.PasswordEnv != "" {
		cfg.Backend.Password = os.Getenv(cfg.Backend.PasswordEnv)
	}
	if cfg.Backend.APIKeyEnv != "" {
		cfg.Backend.APIKey = os.Getenv(cfg.Backend.APIKeyEnv)
	}
	if cfg.Neo4j.PasswordEnv != "" {
		cfg.Neo4j.Password = os.Getenv(cfg.Neo4j.PasswordEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that would make every request fail.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return errors.New("backend.url is required")
	}
	if c.Analysis.MaxSpans <= 0 || c.Analysis.MaxTraceSpans <= 0 {
		return errors.New("analysis.max_spans and analysis.max_trace_spans must be positive")
	}
	if c.Backend.MaxRetries < 0 {
		return errors.New("backend.max_retries must not be negative")
	}
	return nil
}
