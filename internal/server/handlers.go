package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/metrics"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/orchestrator"

	"github.com/go-chi/chi/v5"
)

// Correlator is the set of operations served over HTTP.
type Correlator interface {
	AnalyzeTrace(ctx context.Context, traceID string) (*models.Trace, error)
	ServiceDependencyGraph(ctx context.Context, tr models.TimeRange, opts orchestrator.GraphOptions) (*models.DependencyGraph, error)
	CorrelateLogsWithTrace(ctx context.Context, traceID string, tr models.TimeRange) ([]models.LogEntry, error)
	CorrelateMetricsWithService(ctx context.Context, service string, tr models.TimeRange) ([]models.MetricPoint, error)
	CorrelateAcrossTelemetry(ctx context.Context, cc models.CorrelationContext) (*models.CorrelationResult, error)
	ListServices(ctx context.Context, tr models.TimeRange) ([]models.ServiceSummary, error)
}

// Pinger checks backend reachability for /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// History records completed operations.
type History interface {
	Track(ctx context.Context, operation, subject string, started time.Time, err error)
}

// Handler holds the server dependencies
type Handler struct {
	correlator Correlator
	pinger     Pinger
	history    History
	metrics    *metrics.Metrics
	lookback   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a new handler. pinger, history and m may be nil.
func NewHandler(c Correlator, pinger Pinger, history History, m *metrics.Metrics, lookback time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if lookback <= 0 {
		lookback = time.Hour
	}
	return &Handler{
		correlator: c,
		pinger:     pinger,
		history:    history,
		metrics:    m,
		lookback:   lookback,
		logger:     logger,
		now:        time.Now,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/traces/{traceID}", h.HandleTrace)
		r.Get("/traces/{traceID}/logs", h.HandleTraceLogs)
		r.Get("/services", h.HandleServices)
		r.Get("/services/{service}/metrics", h.HandleServiceMetrics)
		r.Get("/dependencies", h.HandleDependencies)
		r.Post("/correlate", h.HandleCorrelate)
	})
}

// HandleHealth returns health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReady reports whether the search backend answers.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Warn("Readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleTrace reconstructs one trace.
func (h *Handler) HandleTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	started := time.Now()
	trace, err := h.correlator.AnalyzeTrace(r.Context(), traceID)
	h.track(r.Context(), "analyze_trace", traceID, started, err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

// HandleTraceLogs returns the logs emitted under one trace.
func (h *Handler) HandleTraceLogs(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	tr, err := h.timeRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	started := time.Now()
	logs, err := h.correlator.CorrelateLogsWithTrace(r.Context(), traceID, tr)
	h.track(r.Context(), "correlate_logs_with_trace", traceID, started, err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []models.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"traceId": traceID,
		"count":   len(logs),
		"logs":    logs,
	})
}

// HandleServices lists the services seen in span data.
func (h *Handler) HandleServices(w http.ResponseWriter, r *http.Request) {
	tr, err := h.timeRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	started := time.Now()
	services, err := h.correlator.ListServices(r.Context(), tr)
	h.track(r.Context(), "list_services", "", started, err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if services == nil {
		services = []models.ServiceSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

// HandleServiceMetrics returns metric samples for one service.
func (h *Handler) HandleServiceMetrics(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	tr, err := h.timeRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	started := time.Now()
	points, err := h.correlator.CorrelateMetricsWithService(r.Context(), service, tr)
	h.track(r.Context(), "correlate_metrics_with_service", service, started, err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if points == nil {
		points = []models.MetricPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": service,
		"count":   len(points),
		"metrics": points,
	})
}

// HandleDependencies builds the service dependency graph.
func (h *Handler) HandleDependencies(w http.ResponseWriter, r *http.Request) {
	tr, err := h.timeRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	opts := orchestrator.GraphOptions{Service: r.URL.Query().Get("service")}
	if raw := r.URL.Query().Get("sampleRate"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.writeError(w, models.ValidationErrorf("invalid sampleRate %q", raw))
			return
		}
		opts.SampleRate = &rate
	}

	started := time.Now()
	graph, err := h.correlator.ServiceDependencyGraph(r.Context(), tr, opts)
	h.track(r.Context(), "service_dependency_graph", opts.Service, started, err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

// CorrelateRequest is the body of POST /api/v1/correlate.
type CorrelateRequest struct {
	TraceID string `json:"traceId"`
	Service string `json:"service"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// HandleCorrelate joins traces, logs, metrics and relationships for a trace
// id and/or service.
func (h *Handler) HandleCorrelate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, models.ValidationErrorf("failed to read request body"))
		return
	}
	defer r.Body.Close()

	var req CorrelateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, models.ValidationErrorf("invalid request body: %v", err))
		return
	}
	tr, err := h.parseRange(req.Start, req.End)
	if err != nil {
		h.writeError(w, err)
		return
	}

	subject := req.TraceID
	if subject == "" {
		subject = req.Service
	}
	started := time.Now()
	result, err := h.correlator.CorrelateAcrossTelemetry(r.Context(), models.CorrelationContext{
		TraceID: req.TraceID,
		Service: req.Service,
		Range:   tr,
	})
	h.track(r.Context(), "correlate_across_telemetry", subject, started, err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) timeRange(r *http.Request) (models.TimeRange, error) {
	q := r.URL.Query()
	return h.parseRange(q.Get("start"), q.Get("end"))
}

// parseRange returns a zero range when neither bound is given so the
// orchestrator applies its default lookback.
func (h *Handler) parseRange(start, end string) (models.TimeRange, error) {
	if start == "" && end == "" {
		return models.TimeRange{}, nil
	}
	return models.ParseTimeRange(start, end, h.lookback, h.now().UTC())
}

func (h *Handler) track(ctx context.Context, operation, subject string, started time.Time, err error) {
	if h.history == nil {
		return
	}
	h.history.Track(ctx, operation, subject, started, err)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    models.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "kind", kind, "error", err)
	}

	msg := err.Error()
	var tagged *models.Error
	if errors.As(err, &tagged) && kind != models.KindBackend {
		msg = tagged.Message
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: msg}})
}

func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
