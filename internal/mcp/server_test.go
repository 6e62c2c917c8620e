package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/orchestrator"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCorrelator struct {
	trace    *models.Trace
	graph    *models.DependencyGraph
	logs     []models.LogEntry
	points   []models.MetricPoint
	result   *models.CorrelationResult
	services []models.ServiceSummary
	err      error

	lastTraceID string
	lastRange   models.TimeRange
	lastOpts    orchestrator.GraphOptions
	lastCC      models.CorrelationContext
}

func (f *fakeCorrelator) AnalyzeTrace(_ context.Context, traceID string) (*models.Trace, error) {
	f.lastTraceID = traceID
	if traceID == "" {
		return nil, models.ValidationErrorf("trace id is required")
	}
	return f.trace, f.err
}

func (f *fakeCorrelator) ServiceDependencyGraph(_ context.Context, tr models.TimeRange, opts orchestrator.GraphOptions) (*models.DependencyGraph, error) {
	f.lastRange, f.lastOpts = tr, opts
	return f.graph, f.err
}

func (f *fakeCorrelator) CorrelateLogsWithTrace(_ context.Context, traceID string, tr models.TimeRange) ([]models.LogEntry, error) {
	f.lastTraceID, f.lastRange = traceID, tr
	return f.logs, f.err
}

func (f *fakeCorrelator) CorrelateMetricsWithService(_ context.Context, _ string, tr models.TimeRange) ([]models.MetricPoint, error) {
	f.lastRange = tr
	return f.points, f.err
}

func (f *fakeCorrelator) CorrelateAcrossTelemetry(_ context.Context, cc models.CorrelationContext) (*models.CorrelationResult, error) {
	f.lastCC = cc
	return f.result, f.err
}

func (f *fakeCorrelator) ListServices(_ context.Context, tr models.TimeRange) ([]models.ServiceSummary, error) {
	f.lastRange = tr
	return f.services, f.err
}

type fakeHistory struct {
	operations []string
	kinds      []models.ErrorKind
}

func (f *fakeHistory) Track(_ context.Context, operation, _ string, _ time.Time, err error) {
	f.operations = append(f.operations, operation)
	f.kinds = append(f.kinds, models.KindOf(err))
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(c Correlator, h History) *Server {
	s := New(c, h, 30*time.Minute, nil)
	s.now = func() time.Time { return testNow }
	return s
}

func request(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content type %T", res.Content[0])
		return ""
	}
}

func TestRegisterTools(t *testing.T) {
	s := newTestServer(&fakeCorrelator{}, nil)
	mcpServer := server.NewMCPServer("otelmcp-test", "0.0.0")
	assert.NotPanics(t, func() { s.RegisterTools(mcpServer) })
}

func TestHandleAnalyzeTrace(t *testing.T) {
	history := &fakeHistory{}
	fake := &fakeCorrelator{trace: &models.Trace{TraceID: "abc", Metrics: models.TraceMetrics{TotalSpans: 2}}}
	s := newTestServer(fake, history)

	res, err := s.HandleAnalyzeTrace(context.Background(), request(map[string]any{"traceId": "abc"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var trace models.Trace
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &trace))
	assert.Equal(t, "abc", trace.TraceID)
	assert.Equal(t, []string{"analyze_trace"}, history.operations)
}

func TestHandleAnalyzeTraceValidation(t *testing.T) {
	s := newTestServer(&fakeCorrelator{}, nil)

	res, err := s.HandleAnalyzeTrace(context.Background(), request(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "validation: trace id is required", resultText(t, res))
}

func TestToolErrorsAreTagged(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		prefix string
	}{
		{"not found", models.NotFoundErrorf("no spans found for trace abc"), "not_found: "},
		{"backend", models.BackendError(errors.New("503"), "traces query failed"), "backend: traces query failed: 503"},
		{"internal", errors.New("boom"), "internal: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &fakeHistory{}
			s := newTestServer(&fakeCorrelator{err: tt.err}, history)

			res, err := s.HandleAnalyzeTrace(context.Background(), request(map[string]any{"traceId": "abc"}))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tt.prefix)
			assert.Equal(t, models.KindOf(tt.err), history.kinds[0])
		})
	}
}

func TestHandleServiceDependencyGraph(t *testing.T) {
	fake := &fakeCorrelator{graph: &models.DependencyGraph{
		Relationships: []models.ServiceEdge{{Parent: "A", Child: "B", Count: 3}},
	}}
	s := newTestServer(fake, nil)

	res, err := s.HandleServiceDependencyGraph(context.Background(), request(map[string]any{
		"start":      "now-2h",
		"sampleRate": 0.25,
		"service":    "A",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	require.NotNil(t, fake.lastOpts.SampleRate)
	assert.Equal(t, 0.25, *fake.lastOpts.SampleRate)
	assert.Equal(t, "A", fake.lastOpts.Service)
	assert.Equal(t, testNow.Add(-2*time.Hour), fake.lastRange.Start)
	assert.Equal(t, testNow, fake.lastRange.End)
	assert.Contains(t, resultText(t, res), `"parent": "A"`)
}

func TestHandleServiceDependencyGraphDefaults(t *testing.T) {
	fake := &fakeCorrelator{graph: &models.DependencyGraph{}}
	s := newTestServer(fake, nil)

	res, err := s.HandleServiceDependencyGraph(context.Background(), request(map[string]any{}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Nil(t, fake.lastOpts.SampleRate)
	assert.True(t, fake.lastRange.IsZero())
}

func TestInvalidTimeArgument(t *testing.T) {
	s := newTestServer(&fakeCorrelator{}, nil)

	res, err := s.HandleListServices(context.Background(), request(map[string]any{"start": "last tuesday"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "validation: ")
}

func TestHandleCorrelateLogsWithTraceEmpty(t *testing.T) {
	fake := &fakeCorrelator{}
	s := newTestServer(fake, nil)

	res, err := s.HandleCorrelateLogsWithTrace(context.Background(), request(map[string]any{"traceId": "abc"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `[]`, resultText(t, res))
	assert.Equal(t, "abc", fake.lastTraceID)
}

func TestHandleCorrelateMetricsWithService(t *testing.T) {
	fake := &fakeCorrelator{points: []models.MetricPoint{{Service: "cart", Name: "rpc.server.duration", Value: 12.5}}}
	s := newTestServer(fake, nil)

	res, err := s.HandleCorrelateMetricsWithService(context.Background(), request(map[string]any{
		"service": "cart",
		"start":   "2024-05-01T10:00:00Z",
		"end":     "2024-05-01T11:00:00Z",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var points []models.MetricPoint
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &points))
	require.Len(t, points, 1)
	assert.Equal(t, 12.5, points[0].Value)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), fake.lastRange.End)
}

func TestHandleCorrelateAcrossTelemetry(t *testing.T) {
	history := &fakeHistory{}
	fake := &fakeCorrelator{result: &models.CorrelationResult{
		ID:       "r1",
		Warnings: []models.Warning{{Kind: models.KindPartialResult, Source: "logs", Message: "backend: down"}},
	}}
	s := newTestServer(fake, history)

	res, err := s.HandleCorrelateAcrossTelemetry(context.Background(), request(map[string]any{"service": "cart"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var result models.CorrelationResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &result))
	assert.Equal(t, "r1", result.ID)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "logs", result.Warnings[0].Source)
	assert.Equal(t, "cart", fake.lastCC.Service)
	assert.Empty(t, fake.lastCC.TraceID)
	assert.Equal(t, []string{"correlate_across_telemetry"}, history.operations)
}

func TestHandleListServices(t *testing.T) {
	fake := &fakeCorrelator{services: []models.ServiceSummary{{Name: "cart", SpanCount: 9}}}
	s := newTestServer(fake, nil)

	res, err := s.HandleListServices(context.Background(), request(map[string]any{}))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"cart","spanCount":9}]`, resultText(t, res))
}
