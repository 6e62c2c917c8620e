package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/config"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/graphstore"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/logging"
	mcpsrv "github.com/shiftyp/otel-mcp-server-sub002/internal/mcp"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/orchestrator"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/output"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/server"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configFile string
	output     string
	start      string
	end        string

	cfg    *config.Config
	format output.Format
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "otelmcp",
		Short:         "Correlate OpenTelemetry traces, logs and metrics stored in Elasticsearch or OpenSearch",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(opts.output)
			if err != nil {
				return err
			}
			logging.Init(cfg.App.LogFormat, logging.ParseLevel(cfg.App.LogLevel))
			opts.cfg = cfg
			opts.format = format
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default: ./config.yaml, ./config/config.yaml, /etc/otelmcp/config.yaml)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "output format: json, yaml or text")
	root.PersistentFlags().StringVar(&opts.start, "start", "", "range start: RFC3339 or now-<duration>")
	root.PersistentFlags().StringVar(&opts.end, "end", "", "range end: RFC3339 or now")

	root.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newTraceCmd(opts),
		newLogsCmd(opts),
		newMetricsCmd(opts),
		newDepsCmd(opts),
		newCorrelateCmd(opts),
		newServicesCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// timeRange returns a zero range when neither bound is set so the default
// lookback applies.
func (o *rootOptions) timeRange() (models.TimeRange, error) {
	if o.start == "" && o.end == "" {
		return models.TimeRange{}, nil
	}
	return models.ParseTimeRange(o.start, o.end, o.cfg.Analysis.GetDefaultLookbackDuration(), time.Now().UTC())
}

func (o *rootOptions) write(w io.Writer, v any) error {
	return output.Write(w, o.format, v)
}

// withApp wires the application for one command and tears it down afterwards.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(o.cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				handler := server.NewHandler(a.orchestrator, a.client, a.tracker(), a.metrics,
					a.cfg.Analysis.GetDefaultLookbackDuration(), a.logger)
				return server.New(a.cfg.App.Address(), handler).Run(ctx)
			})
		},
	}
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				s := mcpserver.NewMCPServer(a.cfg.MCP.Name, a.cfg.MCP.Version, mcpserver.WithToolCapabilities(true))
				mcpsrv.New(a.orchestrator, a.tracker(), a.cfg.Analysis.GetDefaultLookbackDuration(), a.logger).RegisterTools(s)

				a.logger.Info("MCP server listening on stdio", "name", a.cfg.MCP.Name)
				return mcpserver.ServeStdio(s)
			})
		},
	}
}

func newTraceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <trace-id>",
		Short: "Reconstruct a trace: span tree, critical path and metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				started := time.Now()
				trace, err := a.orchestrator.AnalyzeTrace(ctx, args[0])
				a.history.Track(ctx, "analyze_trace", args[0], started, err)
				if err != nil {
					return err
				}
				return opts.write(cmd.OutOrStdout(), trace)
			})
		},
	}
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <trace-id>",
		Short: "List logs emitted under a trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := opts.timeRange()
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				started := time.Now()
				logs, err := a.orchestrator.CorrelateLogsWithTrace(ctx, args[0], tr)
				a.history.Track(ctx, "correlate_logs_with_trace", args[0], started, err)
				if err != nil {
					return err
				}
				return opts.write(cmd.OutOrStdout(), logs)
			})
		},
	}
}

func newMetricsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics <service>",
		Short: "List metric samples reported by a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := opts.timeRange()
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				started := time.Now()
				points, err := a.orchestrator.CorrelateMetricsWithService(ctx, args[0], tr)
				a.history.Track(ctx, "correlate_metrics_with_service", args[0], started, err)
				if err != nil {
					return err
				}
				return opts.write(cmd.OutOrStdout(), points)
			})
		},
	}
}

func newDepsCmd(opts *rootOptions) *cobra.Command {
	var (
		sampleRate  float64
		service     string
		exportNeo4j bool
	)
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Build the service dependency graph for a time range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := opts.timeRange()
			if err != nil {
				return err
			}
			graphOpts := orchestrator.GraphOptions{Service: service}
			if cmd.Flags().Changed("sample-rate") {
				graphOpts.SampleRate = &sampleRate
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				started := time.Now()
				graph, err := a.orchestrator.ServiceDependencyGraph(ctx, tr, graphOpts)
				a.history.Track(ctx, "service_dependency_graph", service, started, err)
				if err != nil {
					return err
				}
				if exportNeo4j {
					if err := exportGraph(ctx, a, graph.Relationships); err != nil {
						return err
					}
				}
				return opts.write(cmd.OutOrStdout(), graph)
			})
		},
	}
	cmd.Flags().Float64Var(&sampleRate, "sample-rate", 1, "fraction of spans to process (0..1)")
	cmd.Flags().StringVar(&service, "service", "", "only show relationships touching this service")
	cmd.Flags().BoolVar(&exportNeo4j, "export-neo4j", false, "also upsert the relationships into Neo4j")
	return cmd
}

func exportGraph(ctx context.Context, a *app, edges []models.ServiceEdge) error {
	if a.cfg.Neo4j.URI == "" {
		return models.ValidationErrorf("neo4j.uri is not configured")
	}
	store, err := graphstore.New(ctx, a.cfg.Neo4j.URI, a.cfg.Neo4j.Username, a.cfg.Neo4j.Password, a.logger)
	if err != nil {
		return models.BackendError(err, "neo4j export failed")
	}
	defer store.Close(context.WithoutCancel(ctx))

	if _, err := store.ExportEdges(ctx, edges); err != nil {
		return models.BackendError(err, "neo4j export failed")
	}
	return nil
}

func newCorrelateCmd(opts *rootOptions) *cobra.Command {
	var traceID, service string
	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Join traces, logs, metrics and relationships for a trace id and/or service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := opts.timeRange()
			if err != nil {
				return err
			}
			subject := traceID
			if subject == "" {
				subject = service
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				started := time.Now()
				result, err := a.orchestrator.CorrelateAcrossTelemetry(ctx, models.CorrelationContext{
					TraceID: traceID,
					Service: service,
					Range:   tr,
				})
				a.history.Track(ctx, "correlate_across_telemetry", subject, started, err)
				if err != nil {
					return err
				}
				for _, w := range result.Warnings {
					a.logger.Warn("Partial result", "source", w.Source, "message", w.Message)
				}
				return opts.write(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&traceID, "trace-id", "", "trace id to correlate")
	cmd.Flags().StringVar(&service, "service", "", "service name to correlate")
	return cmd
}

func newServicesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List services seen in span data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := opts.timeRange()
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				started := time.Now()
				services, err := a.orchestrator.ListServices(ctx, tr)
				a.history.Track(ctx, "list_services", "", started, err)
				if err != nil {
					return err
				}
				return opts.write(cmd.OutOrStdout(), services)
			})
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		operation string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent operations recorded in the invocation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := openHistory(opts.cfg.History.Path)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer history.Close()

			invs, err := history.Recent(cmd.Context(), operation, limit)
			if err != nil {
				return err
			}
			if invs == nil {
				invs = []models.Invocation{}
			}
			return opts.write(cmd.OutOrStdout(), invs)
		},
	}
	cmd.Flags().StringVar(&operation, "operation", "", "only show this operation")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to show")
	return cmd
}
