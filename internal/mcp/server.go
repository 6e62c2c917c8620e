// Package mcp binds the correlation operations to Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/orchestrator"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/output"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Correlator is the set of operations exposed as tools.
type Correlator interface {
	AnalyzeTrace(ctx context.Context, traceID string) (*models.Trace, error)
	ServiceDependencyGraph(ctx context.Context, tr models.TimeRange, opts orchestrator.GraphOptions) (*models.DependencyGraph, error)
	CorrelateLogsWithTrace(ctx context.Context, traceID string, tr models.TimeRange) ([]models.LogEntry, error)
	CorrelateMetricsWithService(ctx context.Context, service string, tr models.TimeRange) ([]models.MetricPoint, error)
	CorrelateAcrossTelemetry(ctx context.Context, cc models.CorrelationContext) (*models.CorrelationResult, error)
	ListServices(ctx context.Context, tr models.TimeRange) ([]models.ServiceSummary, error)
}

// History records completed tool calls.
type History interface {
	Track(ctx context.Context, operation, subject string, started time.Time, err error)
}

// Server exposes the correlation operations to connected agents.
type Server struct {
	correlator Correlator
	history    History
	lookback   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a new MCP server wrapper. history may be nil.
func New(c Correlator, history History, lookback time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if lookback <= 0 {
		lookback = time.Hour
	}
	return &Server{
		correlator: c,
		history:    history,
		lookback:   lookback,
		logger:     logger,
		now:        time.Now,
	}
}

func timeRangeOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("start", mcp.Description("Range start: RFC3339 or now-<duration> (e.g. now-1h). Defaults to the configured lookback before end.")),
		mcp.WithString("end", mcp.Description("Range end: RFC3339 or now. Defaults to now.")),
	}
}

func tool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)...)
}

// RegisterTools registers the correlation tools with the MCP server
func (s *Server) RegisterTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(tool("analyze_trace",
		"Reconstructs a distributed trace: root span, span tree, critical path and span/error metrics.",
		mcp.WithString("traceId", mcp.Required(), mcp.Description("Trace id to analyze")),
	), s.HandleAnalyzeTrace)

	mcpServer.AddTool(tool("service_dependency_graph",
		"Builds service-to-service call relationships with call and error counts from spans in a time range.",
		append(timeRangeOptions(),
			mcp.WithNumber("sampleRate", mcp.Description("Fraction of spans to process, between 0 and 1. Omit to process all spans.")),
			mcp.WithString("service", mcp.Description("Only return relationships touching this service")),
		)...,
	), s.HandleServiceDependencyGraph)

	mcpServer.AddTool(tool("correlate_logs_with_trace",
		"Returns logs emitted under a trace, matched by trace id or any of its span ids.",
		append(timeRangeOptions(),
			mcp.WithString("traceId", mcp.Required(), mcp.Description("Trace id to correlate")),
		)...,
	), s.HandleCorrelateLogsWithTrace)

	mcpServer.AddTool(tool("correlate_metrics_with_service",
		"Returns metric samples reported by a service in a time range.",
		append(timeRangeOptions(),
			mcp.WithString("service", mcp.Required(), mcp.Description("Service name")),
		)...,
	), s.HandleCorrelateMetricsWithService)

	mcpServer.AddTool(tool("correlate_across_telemetry",
		"Joins traces, logs, metrics and service relationships for a trace id and/or a service. Failed sub-queries are reported as warnings.",
		append(timeRangeOptions(),
			mcp.WithString("traceId", mcp.Description("Trace id to correlate")),
			mcp.WithString("service", mcp.Description("Service name to correlate")),
		)...,
	), s.HandleCorrelateAcrossTelemetry)

	mcpServer.AddTool(tool("list_services",
		"Lists services seen in span data with their span counts.",
		timeRangeOptions()...,
	), s.HandleListServices)
}

// HandleAnalyzeTrace reconstructs one trace.
func (s *Server) HandleAnalyzeTrace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	traceID := request.GetString("traceId", "")
	started := time.Now()
	trace, err := s.correlator.AnalyzeTrace(ctx, traceID)
	return s.result(ctx, "analyze_trace", traceID, started, trace, err)
}

// HandleServiceDependencyGraph builds the dependency graph.
func (s *Server) HandleServiceDependencyGraph(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr, err := s.timeRange(request)
	if err != nil {
		return toolError(err), nil
	}
	opts := orchestrator.GraphOptions{Service: request.GetString("service", "")}
	if _, ok := request.GetArguments()["sampleRate"]; ok {
		rate := request.GetFloat("sampleRate", 1)
		opts.SampleRate = &rate
	}

	started := time.Now()
	graph, err := s.correlator.ServiceDependencyGraph(ctx, tr, opts)
	return s.result(ctx, "service_dependency_graph", opts.Service, started, graph, err)
}

// HandleCorrelateLogsWithTrace returns the logs of one trace.
func (s *Server) HandleCorrelateLogsWithTrace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr, err := s.timeRange(request)
	if err != nil {
		return toolError(err), nil
	}
	traceID := request.GetString("traceId", "")
	started := time.Now()
	logs, err := s.correlator.CorrelateLogsWithTrace(ctx, traceID, tr)
	if logs == nil {
		logs = []models.LogEntry{}
	}
	return s.result(ctx, "correlate_logs_with_trace", traceID, started, logs, err)
}

// HandleCorrelateMetricsWithService returns metric samples of one service.
func (s *Server) HandleCorrelateMetricsWithService(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr, err := s.timeRange(request)
	if err != nil {
		return toolError(err), nil
	}
	service := request.GetString("service", "")
	started := time.Now()
	points, err := s.correlator.CorrelateMetricsWithService(ctx, service, tr)
	if points == nil {
		points = []models.MetricPoint{}
	}
	return s.result(ctx, "correlate_metrics_with_service", service, started, points, err)
}

// HandleCorrelateAcrossTelemetry joins every signal for a trace id and/or service.
func (s *Server) HandleCorrelateAcrossTelemetry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr, err := s.timeRange(request)
	if err != nil {
		return toolError(err), nil
	}
	cc := models.CorrelationContext{
		TraceID: request.GetString("traceId", ""),
		Service: request.GetString("service", ""),
		Range:   tr,
	}
	subject := cc.TraceID
	if subject == "" {
		subject = cc.Service
	}
	started := time.Now()
	result, err := s.correlator.CorrelateAcrossTelemetry(ctx, cc)
	return s.result(ctx, "correlate_across_telemetry", subject, started, result, err)
}

// HandleListServices lists services seen in span data.
func (s *Server) HandleListServices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tr, err := s.timeRange(request)
	if err != nil {
		return toolError(err), nil
	}
	started := time.Now()
	services, err := s.correlator.ListServices(ctx, tr)
	if services == nil {
		services = []models.ServiceSummary{}
	}
	return s.result(ctx, "list_services", "", started, services, err)
}

// timeRange returns a zero range when neither bound is given so the
// orchestrator applies its default lookback.
func (s *Server) timeRange(request mcp.CallToolRequest) (models.TimeRange, error) {
	start := request.GetString("start", "")
	end := request.GetString("end", "")
	if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
		return models.TimeRange{}, nil
	}
	return models.ParseTimeRange(start, end, s.lookback, s.now().UTC())
}

func (s *Server) result(ctx context.Context, operation, subject string, started time.Time, v any, err error) (*mcp.CallToolResult, error) {
	if s.history != nil {
		s.history.Track(ctx, operation, subject, started, err)
	}
	if err != nil {
		return toolError(err), nil
	}
	text, err := output.JSON(v)
	if err != nil {
		s.logger.Error("Failed to encode tool result", "operation", operation, "error", err)
		return toolError(err), nil
	}
	return mcp.NewToolResultText(text), nil
}

// toolError renders err as "<kind>: <message>".
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", models.KindOf(err), err))
}
