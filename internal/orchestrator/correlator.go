// Package orchestrator composes the trace, dependency, and repository layers
// into the operations exposed to MCP, HTTP, and CLI callers. Independent
// backend fetches run concurrently; a failed branch of a composite operation
// is reported as a warning instead of failing the whole result.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/dependency"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/metrics"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/telemetry"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Repository is the telemetry source the orchestrator reads from.
type Repository interface {
	TraceSpans(ctx context.Context, traceID string) ([]models.Span, error)
	SpansInRange(ctx context.Context, tr models.TimeRange) ([]models.Span, int64, error)
	Logs(ctx context.Context, f models.LogFilter) ([]models.LogEntry, error)
	Metrics(ctx context.Context, service string, tr models.TimeRange) ([]models.MetricPoint, error)
	ErrorGroups(ctx context.Context, tr models.TimeRange) ([]models.ErrorGroup, error)
	Services(ctx context.Context, tr models.TimeRange) (map[string]int64, error)
}

// Orchestrator coordinates data collection from the telemetry repository.
type Orchestrator struct {
	repo     Repository
	lookback time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a new orchestrator. lookback is the window used when a request
// carries no time range.
func New(repo Repository, lookback time.Duration, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if lookback <= 0 {
		lookback = time.Hour
	}
	return &Orchestrator{repo: repo, lookback: lookback, logger: logger, metrics: m, now: time.Now}
}

// resolveRange applies the default lookback to a zero range and validates the rest.
func (o *Orchestrator) resolveRange(tr models.TimeRange) (models.TimeRange, error) {
	if tr.IsZero() {
		return models.Lookback(o.now().UTC(), o.lookback), nil
	}
	if err := tr.Validate(); err != nil {
		return models.TimeRange{}, err
	}
	return tr, nil
}

// observe closes an operation: span status, metrics, and a log line.
func (o *Orchestrator) observe(operation string, started time.Time, err error, args ...any) {
	result := "ok"
	if err != nil {
		result = string(models.KindOf(err))
	}
	d := time.Since(started)
	o.metrics.ObserveOperation(operation, result, d)

	args = append(args, "operation", operation, "result", result, "duration", d)
	if err != nil {
		o.logger.Warn("Operation failed", append(args, "error", err)...)
		return
	}
	o.logger.Info("Operation completed", args...)
}

// AnalyzeTrace fetches and reconstructs one trace.
func (o *Orchestrator) AnalyzeTrace(ctx context.Context, traceID string) (trace *models.Trace, err error) {
	started := time.Now()
	ctx, span := telemetry.Start(ctx, "analyze_trace", attribute.String("trace.id", traceID))
	defer func() {
		telemetry.End(span, err)
		o.observe("analyze_trace", started, err, "traceID", traceID)
	}()

	return o.analyzeTrace(ctx, traceID)
}

func (o *Orchestrator) analyzeTrace(ctx context.Context, traceID string) (*models.Trace, error) {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return nil, models.ValidationErrorf("trace id is required")
	}
	spans, err := o.repo.TraceSpans(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, models.NotFoundErrorf("no spans found for trace %s", traceID)
	}
	return tracing.Analyze(spans)
}

// GraphOptions tunes ServiceDependencyGraph.
type GraphOptions struct {
	// SampleRate keeps each span with this probability; nil processes all spans.
	SampleRate *float64
	// Service restricts relationships to edges touching this service.
	Service string
}

// ServiceDependencyGraph aggregates service-to-service calls observed in the
// range. Error groups are fetched alongside the spans; if that fetch fails the
// graph is still returned with a warning.
func (o *Orchestrator) ServiceDependencyGraph(ctx context.Context, tr models.TimeRange, opts GraphOptions) (graph *models.DependencyGraph, err error) {
	started := time.Now()
	ctx, span := telemetry.Start(ctx, "service_dependency_graph", attribute.String("service", opts.Service))
	defer func() {
		telemetry.End(span, err)
		o.observe("service_dependency_graph", started, err, "range", tr.String())
	}()

	if opts.SampleRate != nil {
		r := *opts.SampleRate
		if math.IsNaN(r) || r < 0 || r > 1 {
			return nil, models.ValidationErrorf("sample rate must be between 0 and 1, got %v", r)
		}
	}
	tr, err = o.resolveRange(tr)
	if err != nil {
		return nil, err
	}

	var (
		spans    []models.Span
		total    int64
		groups   []models.ErrorGroup
		groupErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		spans, total, err = o.repo.SpansInRange(gctx, tr)
		return err
	})
	g.Go(func() error {
		groups, groupErr = o.repo.ErrorGroups(gctx, tr)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var edges []models.ServiceEdge
	processed := len(spans)
	if opts.SampleRate != nil {
		edges, processed = dependency.BuildSampledEdges(spans, *opts.SampleRate)
	} else {
		edges = dependency.BuildEdges(spans)
	}
	if opts.Service != "" {
		edges = dependency.FilterEdges(edges, opts.Service)
	}

	graph = &models.DependencyGraph{
		Range:         tr,
		Relationships: edges,
		Tree:          dependency.BuildTree(edges),
		SpanCounts:    dependency.SpanCounts(processed, total),
	}
	if groupErr != nil {
		graph.Warnings = append(graph.Warnings, warning("error_groups", groupErr))
	} else {
		graph.TopErrors = groups
	}
	span.SetAttributes(attribute.Int("graph.edges", len(edges)), attribute.Int("graph.spans", processed))
	return graph, nil
}

// CorrelateLogsWithTrace returns the log records that carry the trace id or
// the id of any span in the trace, within the range or the default lookback.
// Failure to reconstruct the trace is returned.
func (o *Orchestrator) CorrelateLogsWithTrace(ctx context.Context, traceID string, tr models.TimeRange) (logs []models.LogEntry, err error) {
	started := time.Now()
	ctx, span := telemetry.Start(ctx, "correlate_logs_with_trace", attribute.String("trace.id", traceID))
	defer func() {
		telemetry.End(span, err)
		o.observe("correlate_logs_with_trace", started, err, "traceID", traceID)
	}()

	tr, err = o.resolveRange(tr)
	if err != nil {
		return nil, err
	}
	trace, err := o.analyzeTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	return o.repo.Logs(ctx, logFilterFor(trace, tr))
}

func logFilterFor(trace *models.Trace, tr models.TimeRange) models.LogFilter {
	ids := make([]string, 0, trace.Metrics.TotalSpans)
	var walk func(nodes []*models.SpanNode)
	walk = func(nodes []*models.SpanNode) {
		for _, n := range nodes {
			ids = append(ids, n.Span.SpanID)
			walk(n.Children)
		}
	}
	walk(trace.SpanTree)
	return models.LogFilter{TraceID: trace.TraceID, SpanIDs: ids, Range: tr}
}

// CorrelateMetricsWithService returns metric points emitted by service in the range.
func (o *Orchestrator) CorrelateMetricsWithService(ctx context.Context, service string, tr models.TimeRange) (points []models.MetricPoint, err error) {
	started := time.Now()
	ctx, span := telemetry.Start(ctx, "correlate_metrics_with_service", attribute.String("service", service))
	defer func() {
		telemetry.End(span, err)
		o.observe("correlate_metrics_with_service", started, err, "service", service)
	}()

	service = strings.TrimSpace(service)
	if service == "" {
		return nil, models.ValidationErrorf("service is required")
	}
	tr, err = o.resolveRange(tr)
	if err != nil {
		return nil, err
	}
	return o.repo.Metrics(ctx, service, tr)
}

// CorrelateAcrossTelemetry gathers everything known about a trace and/or a
// service. The trace branch runs only with a trace id; the metrics and
// relationships branches only with a service. Branches run concurrently and
// fail independently.
func (o *Orchestrator) CorrelateAcrossTelemetry(ctx context.Context, cc models.CorrelationContext) (result *models.CorrelationResult, err error) {
	started := time.Now()
	ctx, span := telemetry.Start(ctx, "correlate_across_telemetry",
		attribute.String("trace.id", cc.TraceID),
		attribute.String("service", cc.Service),
	)
	defer func() {
		telemetry.End(span, err)
		o.observe("correlate_across_telemetry", started, err, "traceID", cc.TraceID, "service", cc.Service)
	}()

	cc.TraceID = strings.TrimSpace(cc.TraceID)
	cc.Service = strings.TrimSpace(cc.Service)
	if cc.TraceID == "" && cc.Service == "" {
		return nil, models.ValidationErrorf("a trace id or a service is required")
	}
	cc.Range, err = o.resolveRange(cc.Range)
	if err != nil {
		return nil, err
	}

	var (
		traces        []*models.Trace
		logs          []models.LogEntry
		points        []models.MetricPoint
		relationships []models.ServiceEdge
		traceWarns    []models.Warning
		metricsWarn   *models.Warning
		relWarn       *models.Warning
	)

	// Each goroutine writes only its own variables and never returns an error,
	// so one branch can't cancel another.
	var g errgroup.Group
	if cc.TraceID != "" {
		g.Go(func() error {
			// Logs are keyed by the reconstructed trace; without it the
			// logs field stays absent.
			trace, err := o.analyzeTrace(ctx, cc.TraceID)
			if err != nil {
				traceWarns = append(traceWarns, warning("traces", err))
				return nil
			}
			traces = []*models.Trace{trace}
			entries, err := o.repo.Logs(ctx, logFilterFor(trace, cc.Range))
			if err != nil {
				traceWarns = append(traceWarns, warning("logs", err))
				return nil
			}
			logs = entries
			return nil
		})
	}
	if cc.Service != "" {
		g.Go(func() error {
			p, err := o.repo.Metrics(ctx, cc.Service, cc.Range)
			if err != nil {
				w := warning("metrics", err)
				metricsWarn = &w
				return nil
			}
			points = p
			return nil
		})
		g.Go(func() error {
			spans, _, err := o.repo.SpansInRange(ctx, cc.Range)
			if err != nil {
				w := warning("relationships", err)
				relWarn = &w
				return nil
			}
			relationships = dependency.FilterEdges(dependency.BuildEdges(spans), cc.Service)
			return nil
		})
	}
	_ = g.Wait()

	result = &models.CorrelationResult{
		ID:            uuid.NewString(),
		Context:       cc,
		Logs:          logs,
		Traces:        traces,
		Metrics:       points,
		Relationships: relationships,
	}
	result.Warnings = append(result.Warnings, traceWarns...)
	if metricsWarn != nil {
		result.Warnings = append(result.Warnings, *metricsWarn)
	}
	if relWarn != nil {
		result.Warnings = append(result.Warnings, *relWarn)
	}
	span.SetAttributes(attribute.Int("correlation.warnings", len(result.Warnings)))
	return result, nil
}

// ListServices returns the services that emitted spans in the range, by name.
func (o *Orchestrator) ListServices(ctx context.Context, tr models.TimeRange) (services []models.ServiceSummary, err error) {
	started := time.Now()
	ctx, span := telemetry.Start(ctx, "list_services")
	defer func() {
		telemetry.End(span, err)
		o.observe("list_services", started, err)
	}()

	tr, err = o.resolveRange(tr)
	if err != nil {
		return nil, err
	}
	counts, err := o.repo.Services(ctx, tr)
	if err != nil {
		return nil, err
	}
	services = make([]models.ServiceSummary, 0, len(counts))
	for name, n := range counts {
		services = append(services, models.ServiceSummary{Name: name, SpanCount: n})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

func warning(source string, err error) models.Warning {
	return models.Warning{
		Kind:    models.KindPartialResult,
		Source:  source,
		Message: fmt.Sprintf("%s: %v", models.KindOf(err), err),
	}
}
