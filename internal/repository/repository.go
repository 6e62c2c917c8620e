// Package repository turns search hits into canonical spans, logs, and metric
// points. It owns the query shapes; the engines above it never see raw DSL.
package repository

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/clients/search"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/dependency"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/metrics"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/schema"
)

const (
	signalTraces  = "traces"
	signalLogs    = "logs"
	signalMetrics = "metrics"
)

// Searcher is the backend query surface the repository needs.
type Searcher interface {
	Search(ctx context.Context, signal, index string, req *search.Request) (*search.Response, error)
}

// Indices names the index patterns searched per signal.
type Indices struct {
	Traces  string
	Logs    string
	Metrics string
}

// Limits caps result sizes.
type Limits struct {
	TraceSpans  int
	Spans       int
	Logs        int
	Metrics     int
	ErrorGroups int
}

// Repository fetches and normalizes telemetry.
type Repository struct {
	searcher Searcher
	indices  Indices
	limits   Limits
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a repository.
func New(searcher Searcher, indices Indices, limits Limits, logger *slog.Logger, m *metrics.Metrics) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{searcher: searcher, indices: indices, limits: limits, logger: logger, metrics: m}
}

func (r *Repository) spans(ctx context.Context, req *search.Request) ([]models.Span, int64, error) {
	resp, err := r.searcher.Search(ctx, signalTraces, r.indices.Traces, req)
	if err != nil {
		return nil, 0, err
	}
	spans, skipped := schema.SpansFromDocuments(resp.Documents())
	if skipped > 0 {
		r.logger.Warn("Skipped malformed span documents", "count", skipped)
	}
	r.metrics.AddSkipped(signalTraces, skipped)
	r.metrics.AddSpans(len(spans))
	return spans, resp.Hits.Total.Value, nil
}

// TraceSpans returns every stored span of one trace, oldest first.
func (r *Repository) TraceSpans(ctx context.Context, traceID string) ([]models.Span, error) {
	spans, _, err := r.spans(ctx, &search.Request{
		Size:  r.limits.TraceSpans,
		Query: search.Bool(search.AnyFieldTerms(schema.Aliases(schema.FieldTraceID), []string{traceID})),
		Sort:  search.SortBy("asc"),
	})
	if err != nil {
		return nil, err
	}
	// Documents sharing an id alias with another trace are dropped here.
	out := spans[:0]
	for _, s := range spans {
		if s.TraceID == traceID {
			out = append(out, s)
		}
	}
	return out, nil
}

// SpansInRange returns up to the span limit of spans in the range, newest
// first, together with the total number of matching documents.
func (r *Repository) SpansInRange(ctx context.Context, tr models.TimeRange) ([]models.Span, int64, error) {
	return r.spans(ctx, &search.Request{
		Size:           r.limits.Spans,
		Query:          search.Bool(search.Range(tr)),
		Sort:           search.SortBy("desc"),
		TrackTotalHits: true,
	})
}

// Logs returns log records matching the filter, newest first. A trace id and
// span ids are OR-ed: a record matches if it carries the trace id or any of the
// span ids.
func (r *Repository) Logs(ctx context.Context, f models.LogFilter) ([]models.LogEntry, error) {
	var correlation search.Query
	switch {
	case f.TraceID != "" && len(f.SpanIDs) > 0:
		correlation = search.Should(
			search.AnyFieldTerms(schema.Aliases(schema.FieldTraceID), []string{f.TraceID}),
			search.AnyFieldTerms(schema.Aliases(schema.FieldSpanID), f.SpanIDs),
		)
	case f.TraceID != "":
		correlation = search.AnyFieldTerms(schema.Aliases(schema.FieldTraceID), []string{f.TraceID})
	case len(f.SpanIDs) > 0:
		correlation = search.AnyFieldTerms(schema.Aliases(schema.FieldSpanID), f.SpanIDs)
	}

	var service search.Query
	if f.Service != "" {
		service = search.AnyFieldTerms(schema.Aliases(schema.FieldServiceName), []string{f.Service})
	}

	limit := f.Limit
	if limit <= 0 {
		limit = r.limits.Logs
	}
	resp, err := r.searcher.Search(ctx, signalLogs, r.indices.Logs, &search.Request{
		Size:  limit,
		Query: search.Bool(correlation, service, search.Range(f.Range)),
		Sort:  search.SortBy("desc"),
	})
	if err != nil {
		return nil, err
	}
	return schema.LogsFromDocuments(resp.Documents()), nil
}

// Metrics returns metric points emitted by service in the range, newest first.
func (r *Repository) Metrics(ctx context.Context, service string, tr models.TimeRange) ([]models.MetricPoint, error) {
	resp, err := r.searcher.Search(ctx, signalMetrics, r.indices.Metrics, &search.Request{
		Size: r.limits.Metrics,
		Query: search.Bool(
			search.AnyFieldTerms(schema.Aliases(schema.FieldServiceName), []string{service}),
			search.Range(tr),
		),
		Sort: search.SortBy("desc"),
	})
	if err != nil {
		return nil, err
	}
	points, skipped := schema.MetricsFromDocuments(resp.Documents())
	r.metrics.AddSkipped(signalMetrics, skipped)
	return points, nil
}

// errorLogQuery matches log records with error severity.
func errorLogQuery() search.Query {
	return search.Should(
		search.AnyFieldTerms(schema.Aliases(schema.FieldSeverity), []string{
			"ERROR", "Error", "error", "FATAL", "Fatal", "fatal", "CRITICAL", "critical",
		}),
		search.MinValue(schema.Aliases(schema.FieldSeverityNumber), 17),
		search.AnyFieldExists(schema.Aliases(schema.FieldErrorDetail)),
	)
}

// ErrorGroups buckets error log messages in the range, most frequent first,
// each with the service that emitted it most often.
func (r *Repository) ErrorGroups(ctx context.Context, tr models.TimeRange) ([]models.ErrorGroup, error) {
	resp, err := r.searcher.Search(ctx, signalLogs, r.indices.Logs, &search.Request{
		Size:  r.limits.Logs,
		Query: search.Bool(errorLogQuery(), search.Range(tr)),
		Sort:  search.SortBy("desc"),
	})
	if err != nil {
		return nil, err
	}

	// Message fields are full-text in every common mapping, so grouping happens
	// here rather than in a terms aggregation.
	groups := make(map[string]*models.ErrorGroup)
	for _, entry := range schema.LogsFromDocuments(resp.Documents()) {
		g, ok := groups[entry.Message]
		if !ok {
			g = &models.ErrorGroup{Message: entry.Message, ServiceCounts: make(map[string]int)}
			groups[entry.Message] = g
		}
		g.Count++
		g.ServiceCounts[entry.Service]++
	}

	out := make([]models.ErrorGroup, 0, len(groups))
	for _, g := range groups {
		g.PrimaryService = dependency.PrimaryService(g.ServiceCounts)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})
	if n := r.limits.ErrorGroups; n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Services lists service names seen in spans within the range, with span
// counts. Each service alias field is aggregated separately; a service found
// under several aliases keeps its largest count.
func (r *Repository) Services(ctx context.Context, tr models.TimeRange) (map[string]int64, error) {
	fields := schema.Aliases(schema.FieldServiceName)
	aggs := make(map[string]any, len(fields))
	for i, f := range fields {
		aggs[serviceAggName(i)] = search.TermsAgg(f, 500)
	}

	resp, err := r.searcher.Search(ctx, signalTraces, r.indices.Traces, &search.Request{
		Size:  0,
		Query: search.Bool(search.Range(tr)),
		Aggs:  aggs,
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for i := range fields {
		buckets, err := resp.Terms(serviceAggName(i))
		if err != nil {
			return nil, err
		}
		for _, b := range buckets {
			if b.Key != "" && b.DocCount > counts[b.Key] {
				counts[b.Key] = b.DocCount
			}
		}
	}
	return counts, nil
}

func serviceAggName(i int) string {
	return "service_" + string(rune('a'+i))
}
