package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0        = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	testRange = models.TimeRange{Start: t0, End: t0.Add(time.Hour)}
)

type fakeRepo struct {
	mu sync.Mutex

	traceSpans []models.Span
	rangeSpans []models.Span
	total      int64
	logs       []models.LogEntry
	points     []models.MetricPoint
	groups     []models.ErrorGroup
	services   map[string]int64

	traceErr, rangeErr, logsErr, metricsErr, groupsErr error

	calls      []string
	logFilters []models.LogFilter
	ranges     []models.TimeRange
}

func (f *fakeRepo) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeRepo) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (f *fakeRepo) TraceSpans(_ context.Context, traceID string) ([]models.Span, error) {
	f.record("TraceSpans")
	return f.traceSpans, f.traceErr
}

func (f *fakeRepo) SpansInRange(_ context.Context, tr models.TimeRange) ([]models.Span, int64, error) {
	f.record("SpansInRange")
	f.mu.Lock()
	f.ranges = append(f.ranges, tr)
	f.mu.Unlock()
	return f.rangeSpans, f.total, f.rangeErr
}

func (f *fakeRepo) Logs(_ context.Context, filter models.LogFilter) ([]models.LogEntry, error) {
	f.record("Logs")
	f.mu.Lock()
	f.logFilters = append(f.logFilters, filter)
	f.mu.Unlock()
	return f.logs, f.logsErr
}

func (f *fakeRepo) Metrics(_ context.Context, service string, tr models.TimeRange) ([]models.MetricPoint, error) {
	f.record("Metrics")
	return f.points, f.metricsErr
}

func (f *fakeRepo) ErrorGroups(_ context.Context, tr models.TimeRange) ([]models.ErrorGroup, error) {
	f.record("ErrorGroups")
	return f.groups, f.groupsErr
}

func (f *fakeRepo) Services(_ context.Context, tr models.TimeRange) (map[string]int64, error) {
	f.record("Services")
	return f.services, nil
}

func span(trace, id, parent, service string, startMs, durMs int) models.Span {
	start := t0.Add(time.Duration(startMs) * time.Millisecond)
	d := time.Duration(durMs) * time.Millisecond
	return models.Span{
		TraceID: trace, SpanID: id, ParentSpanID: parent, Service: service,
		StartTime: start, EndTime: start.Add(d), DurationNanos: d.Nanoseconds(), Status: models.StatusOK,
	}
}

func simpleTrace() []models.Span {
	return []models.Span{
		span("T", "r", "", "A", 0, 100),
		span("T", "c1", "r", "B", 10, 80),
		span("T", "c2", "r", "C", 10, 30),
	}
}

func TestAnalyzeTrace(t *testing.T) {
	repo := &fakeRepo{traceSpans: simpleTrace()}
	o := New(repo, time.Hour, nil, nil)

	trace, err := o.AnalyzeTrace(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, "r", trace.RootSpan.SpanID)
	require.Len(t, trace.CriticalPath, 2)
	assert.Equal(t, "c1", trace.CriticalPath[1].SpanID)
}

func TestAnalyzeTraceErrors(t *testing.T) {
	repo := &fakeRepo{}
	o := New(repo, time.Hour, nil, nil)

	_, err := o.AnalyzeTrace(context.Background(), "  ")
	assert.True(t, models.IsKind(err, models.KindValidation))
	assert.False(t, repo.called("TraceSpans"), "validation happens before any backend call")

	_, err = o.AnalyzeTrace(context.Background(), "missing")
	assert.True(t, models.IsKind(err, models.KindNotFound))

	repo.traceErr = models.BackendError(errors.New("refused"), "traces query failed")
	_, err = o.AnalyzeTrace(context.Background(), "T")
	assert.True(t, models.IsKind(err, models.KindBackend))
}

func TestServiceDependencyGraph(t *testing.T) {
	repo := &fakeRepo{
		rangeSpans: simpleTrace(),
		total:      6,
		groups:     []models.ErrorGroup{{Message: "timeout", Count: 2, PrimaryService: "B"}},
	}
	o := New(repo, time.Hour, nil, nil)

	graph, err := o.ServiceDependencyGraph(context.Background(), testRange, GraphOptions{})
	require.NoError(t, err)
	assert.Equal(t, []models.ServiceEdge{
		{Parent: "A", Child: "B", Count: 1},
		{Parent: "A", Child: "C", Count: 1},
	}, graph.Relationships)
	assert.Equal(t, []string{"A"}, graph.Tree.RootServices)
	assert.Equal(t, models.SpanCounts{Processed: 3, Total: 6, Percentage: 50}, graph.SpanCounts)
	assert.Len(t, graph.TopErrors, 1)
	assert.Empty(t, graph.Warnings)
	assert.Equal(t, testRange, graph.Range)
}

func TestServiceDependencyGraphFiltersByService(t *testing.T) {
	repo := &fakeRepo{rangeSpans: simpleTrace()}
	o := New(repo, time.Hour, nil, nil)

	graph, err := o.ServiceDependencyGraph(context.Background(), testRange, GraphOptions{Service: "C"})
	require.NoError(t, err)
	assert.Equal(t, []models.ServiceEdge{{Parent: "A", Child: "C", Count: 1}}, graph.Relationships)
}

func TestServiceDependencyGraphSampling(t *testing.T) {
	repo := &fakeRepo{rangeSpans: simpleTrace()}
	o := New(repo, time.Hour, nil, nil)

	zero, one := 0.0, 1.0
	graph, err := o.ServiceDependencyGraph(context.Background(), testRange, GraphOptions{SampleRate: &zero})
	require.NoError(t, err)
	assert.Empty(t, graph.Relationships)

	graph, err = o.ServiceDependencyGraph(context.Background(), testRange, GraphOptions{SampleRate: &one})
	require.NoError(t, err)
	assert.Len(t, graph.Relationships, 2)
}

func TestServiceDependencyGraphCountsSampledSpans(t *testing.T) {
	repo := &fakeRepo{rangeSpans: simpleTrace(), total: 12}
	o := New(repo, time.Hour, nil, nil)

	zero, one := 0.0, 1.0
	graph, err := o.ServiceDependencyGraph(context.Background(), testRange, GraphOptions{SampleRate: &zero})
	require.NoError(t, err)
	assert.Equal(t, models.SpanCounts{Processed: 0, Total: 12, Percentage: 0}, graph.SpanCounts)

	graph, err = o.ServiceDependencyGraph(context.Background(), testRange, GraphOptions{SampleRate: &one})
	require.NoError(t, err)
	assert.Equal(t, models.SpanCounts{Processed: 3, Total: 12, Percentage: 25}, graph.SpanCounts)
}

func TestServiceDependencyGraphValidation(t *testing.T) {
	repo := &fakeRepo{}
	o := New(repo, time.Hour, nil, nil)

	bad := 1.5
	_, err := o.ServiceDependencyGraph(context.Background(), testRange, GraphOptions{SampleRate: &bad})
	assert.True(t, models.IsKind(err, models.KindValidation))

	inverted := models.TimeRange{Start: testRange.End, End: testRange.Start}
	_, err = o.ServiceDependencyGraph(context.Background(), inverted, GraphOptions{})
	assert.True(t, models.IsKind(err, models.KindValidation))

	assert.Empty(t, repo.calls)
}

func TestServiceDependencyGraphDefaultsRange(t *testing.T) {
	repo := &fakeRepo{}
	o := New(repo, 15*time.Minute, nil, nil)
	o.now = func() time.Time { return t0 }

	graph, err := o.ServiceDependencyGraph(context.Background(), models.TimeRange{}, GraphOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.TimeRange{Start: t0.Add(-15 * time.Minute), End: t0}, graph.Range)
	assert.Equal(t, graph.Range, repo.ranges[0])
}

func TestServiceDependencyGraphErrorGroupsFailure(t *testing.T) {
	repo := &fakeRepo{rangeSpans: simpleTrace(), groupsErr: errors.New("logs index closed")}
	o := New(repo, time.Hour, nil, nil)

	graph, err := o.ServiceDependencyGraph(context.Background(), testRange, GraphOptions{})
	require.NoError(t, err)
	assert.Len(t, graph.Relationships, 2)
	assert.Nil(t, graph.TopErrors)
	require.Len(t, graph.Warnings, 1)
	assert.Equal(t, models.KindPartialResult, graph.Warnings[0].Kind)
	assert.Equal(t, "error_groups", graph.Warnings[0].Source)
}

func TestServiceDependencyGraphSpanFailure(t *testing.T) {
	repo := &fakeRepo{rangeErr: models.BackendError(errors.New("timeout"), "traces query failed")}
	o := New(repo, time.Hour, nil, nil)

	_, err := o.ServiceDependencyGraph(context.Background(), testRange, GraphOptions{})
	assert.True(t, models.IsKind(err, models.KindBackend))
}

func TestCorrelateLogsWithTrace(t *testing.T) {
	repo := &fakeRepo{traceSpans: simpleTrace(), logs: []models.LogEntry{{Message: "hello"}}}
	o := New(repo, time.Hour, nil, nil)

	logs, err := o.CorrelateLogsWithTrace(context.Background(), "T", testRange)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	require.Len(t, repo.logFilters, 1)
	f := repo.logFilters[0]
	assert.Equal(t, "T", f.TraceID)
	assert.ElementsMatch(t, []string{"r", "c1", "c2"}, f.SpanIDs)
	assert.Equal(t, testRange, f.Range)
}

func TestCorrelateLogsWithTraceDefaultsRange(t *testing.T) {
	repo := &fakeRepo{traceSpans: simpleTrace()}
	o := New(repo, 15*time.Minute, nil, nil)
	o.now = func() time.Time { return t0 }

	_, err := o.CorrelateLogsWithTrace(context.Background(), "T", models.TimeRange{})
	require.NoError(t, err)
	require.Len(t, repo.logFilters, 1)
	assert.Equal(t, models.TimeRange{Start: t0.Add(-15 * time.Minute), End: t0}, repo.logFilters[0].Range)

	inverted := models.TimeRange{Start: testRange.End, End: testRange.Start}
	_, err = o.CorrelateLogsWithTrace(context.Background(), "T", inverted)
	assert.True(t, models.IsKind(err, models.KindValidation))
	assert.Len(t, repo.logFilters, 1)
}

func TestCorrelateLogsWithTracePropagatesTraceFailure(t *testing.T) {
	repo := &fakeRepo{}
	o := New(repo, time.Hour, nil, nil)

	_, err := o.CorrelateLogsWithTrace(context.Background(), "T", testRange)
	assert.True(t, models.IsKind(err, models.KindNotFound))
	assert.False(t, repo.called("Logs"))
}

func TestCorrelateMetricsWithService(t *testing.T) {
	repo := &fakeRepo{points: []models.MetricPoint{{Name: "cpu", Value: 0.5}}}
	o := New(repo, time.Hour, nil, nil)

	points, err := o.CorrelateMetricsWithService(context.Background(), "cart", testRange)
	require.NoError(t, err)
	assert.Len(t, points, 1)

	_, err = o.CorrelateMetricsWithService(context.Background(), "", testRange)
	assert.True(t, models.IsKind(err, models.KindValidation))
}

func TestCorrelateAcrossTelemetryTraceOnly(t *testing.T) {
	repo := &fakeRepo{
		traceSpans: simpleTrace(),
		logs:       []models.LogEntry{{Message: "charging card", TraceID: "T"}},
		points:     []models.MetricPoint{{Name: "cpu"}},
		rangeSpans: simpleTrace(),
	}
	o := New(repo, time.Hour, nil, nil)

	result, err := o.CorrelateAcrossTelemetry(context.Background(), models.CorrelationContext{TraceID: "T", Range: testRange})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)
	assert.Len(t, result.Logs, 1)
	assert.Len(t, result.Traces, 1)
	assert.Nil(t, result.Metrics)
	assert.Nil(t, result.Relationships)
	assert.Empty(t, result.Warnings)
	assert.False(t, repo.called("Metrics"))
	assert.False(t, repo.called("SpansInRange"))
}

func TestCorrelateAcrossTelemetryServiceOnly(t *testing.T) {
	repo := &fakeRepo{
		points:     []models.MetricPoint{{Name: "cpu"}},
		rangeSpans: simpleTrace(),
	}
	o := New(repo, time.Hour, nil, nil)

	result, err := o.CorrelateAcrossTelemetry(context.Background(), models.CorrelationContext{Service: "B", Range: testRange})
	require.NoError(t, err)
	assert.Nil(t, result.Logs)
	assert.Nil(t, result.Traces)
	assert.Len(t, result.Metrics, 1)
	assert.Equal(t, []models.ServiceEdge{{Parent: "A", Child: "B", Count: 1}}, result.Relationships)
	assert.False(t, repo.called("TraceSpans"))
	assert.False(t, repo.called("Logs"))
}

func TestCorrelateAcrossTelemetryIndependentFailures(t *testing.T) {
	repo := &fakeRepo{
		traceSpans: simpleTrace(),
		logs:       []models.LogEntry{{Message: "ok"}},
		metricsErr: models.BackendError(errors.New("503"), "metrics query failed"),
		rangeSpans: simpleTrace(),
	}
	o := New(repo, time.Hour, nil, nil)

	result, err := o.CorrelateAcrossTelemetry(context.Background(), models.CorrelationContext{TraceID: "T", Service: "C", Range: testRange})
	require.NoError(t, err)
	assert.Len(t, result.Traces, 1)
	assert.Len(t, result.Logs, 1)
	assert.Nil(t, result.Metrics)
	assert.Len(t, result.Relationships, 1)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "metrics", result.Warnings[0].Source)
	assert.Equal(t, models.KindPartialResult, result.Warnings[0].Kind)
	assert.Contains(t, result.Warnings[0].Message, "backend")
}

func TestCorrelateAcrossTelemetryTraceMissingOmitsLogs(t *testing.T) {
	repo := &fakeRepo{logs: []models.LogEntry{{Message: "orphan", TraceID: "T"}}}
	o := New(repo, time.Hour, nil, nil)

	result, err := o.CorrelateAcrossTelemetry(context.Background(), models.CorrelationContext{TraceID: "T", Range: testRange})
	require.NoError(t, err)
	assert.Nil(t, result.Traces)
	assert.Nil(t, result.Logs)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "traces", result.Warnings[0].Source)
	assert.Contains(t, result.Warnings[0].Message, "not_found")
	assert.False(t, repo.called("Logs"))
}

func TestCorrelateAcrossTelemetryLogsFailure(t *testing.T) {
	repo := &fakeRepo{traceSpans: simpleTrace(), logsErr: models.BackendError(errors.New("down"), "logs query failed")}
	o := New(repo, time.Hour, nil, nil)

	result, err := o.CorrelateAcrossTelemetry(context.Background(), models.CorrelationContext{TraceID: "T", Range: testRange})
	require.NoError(t, err)
	assert.Len(t, result.Traces, 1)
	assert.Nil(t, result.Logs)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "logs", result.Warnings[0].Source)
}

func TestCorrelateAcrossTelemetryAllBranchesFail(t *testing.T) {
	boom := models.BackendError(errors.New("down"), "backend unavailable")
	repo := &fakeRepo{traceErr: boom, logsErr: boom, metricsErr: boom, rangeErr: boom}
	o := New(repo, time.Hour, nil, nil)

	result, err := o.CorrelateAcrossTelemetry(context.Background(), models.CorrelationContext{TraceID: "T", Service: "A", Range: testRange})
	require.NoError(t, err)
	sources := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		sources = append(sources, w.Source)
	}
	assert.ElementsMatch(t, []string{"traces", "metrics", "relationships"}, sources)
	assert.Nil(t, result.Logs)
	assert.Nil(t, result.Traces)
	assert.Nil(t, result.Metrics)
	assert.Nil(t, result.Relationships)
	assert.False(t, repo.called("Logs"))
}

func TestCorrelateAcrossTelemetryRequiresKey(t *testing.T) {
	repo := &fakeRepo{}
	o := New(repo, time.Hour, nil, nil)

	_, err := o.CorrelateAcrossTelemetry(context.Background(), models.CorrelationContext{Range: testRange})
	assert.True(t, models.IsKind(err, models.KindValidation))
	assert.Empty(t, repo.calls)
}

func TestListServices(t *testing.T) {
	repo := &fakeRepo{services: map[string]int64{"cart": 3, "api": 9}}
	o := New(repo, time.Hour, nil, nil)

	services, err := o.ListServices(context.Background(), testRange)
	require.NoError(t, err)
	assert.Equal(t, []models.ServiceSummary{{Name: "api", SpanCount: 9}, {Name: "cart", SpanCount: 3}}, services)
}
