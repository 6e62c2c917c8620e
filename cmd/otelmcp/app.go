package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/clients/search"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/config"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/db"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/metrics"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/orchestrator"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/repository"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/telemetry"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	metrics      *metrics.Metrics
	client       *search.Client
	orchestrator *orchestrator.Orchestrator
	history      *db.DB
	shutdown     func(context.Context) error
}

// newApp wires the search client, repository and orchestrator from cfg.
// History is opened only when enabled; failing to open it is not fatal.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	shutdown, err := telemetry.Setup(cfg.Telemetry.Exporter, os.Stderr)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	opts := []search.Option{
		search.WithMaxRetries(cfg.Backend.MaxRetries),
		search.WithMetrics(m),
	}
	if cfg.Backend.APIKey != "" {
		opts = append(opts, search.WithAPIKey(cfg.Backend.APIKey))
	} else if cfg.Backend.Username != "" {
		opts = append(opts, search.WithBasicAuth(cfg.Backend.Username, cfg.Backend.Password))
	}
	client := search.NewClient(cfg.Backend.URL, cfg.Backend.GetTimeoutDuration(), logger, opts...)

	repo := repository.New(client,
		repository.Indices{
			Traces:  cfg.Backend.TracesIndex,
			Logs:    cfg.Backend.LogsIndex,
			Metrics: cfg.Backend.MetricsIndex,
		},
		repository.Limits{
			TraceSpans:  cfg.Analysis.MaxTraceSpans,
			Spans:       cfg.Analysis.MaxSpans,
			Logs:        cfg.Analysis.LogsLimit,
			Metrics:     cfg.Analysis.MetricsLimit,
			ErrorGroups: cfg.Analysis.ErrorGroupsLimit,
		},
		logger, m,
	)

	a := &app{
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		client:       client,
		orchestrator: orchestrator.New(repo, cfg.Analysis.GetDefaultLookbackDuration(), logger, m),
		shutdown:     shutdown,
	}

	if cfg.History.Enabled {
		history, err := openHistory(cfg.History.Path)
		if err != nil {
			logger.Warn("Invocation history disabled", "path", cfg.History.Path, "error", err)
		} else {
			a.history = history
		}
	}
	return a, nil
}

func openHistory(path string) (*db.DB, error) {
	history, err := db.New(path)
	if err != nil {
		return nil, err
	}
	if err := history.Migrate(); err != nil {
		history.Close()
		return nil, err
	}
	return history, nil
}

type historyTracker interface {
	Track(ctx context.Context, operation, subject string, started time.Time, err error)
}

// tracker returns the history store, or a nil interface when disabled.
func (a *app) tracker() historyTracker {
	if a.history == nil {
		return nil
	}
	return a.history
}

func (a *app) close() {
	if a.history != nil {
		a.history.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("Telemetry shutdown failed", "error", err)
	}
}
