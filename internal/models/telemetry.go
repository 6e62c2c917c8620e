// Package models defines the shared data structures passed between the
// normalizer, the reconstruction engines, and the tool surfaces.
package models

import "time"

// RawDocument is a single _source document as returned by the search backend.
// Field names vary by mapping convention; read it through the schema package.
type RawDocument = map[string]any

// StatusCode is the normalized span status.
type StatusCode string

const (
	StatusUnset StatusCode = "UNSET"
	StatusOK    StatusCode = "OK"
	StatusError StatusCode = "ERROR"
)

// Span represents a single timed operation within a larger trace.
type Span struct {
	TraceID       string         `json:"traceId"`
	SpanID        string         `json:"spanId"`
	ParentSpanID  string         `json:"parentSpanId,omitempty"`
	Service       string         `json:"service"`
	OperationName string         `json:"operationName"`
	Kind          string         `json:"kind"`
	StartTime     time.Time      `json:"startTime"`
	EndTime       time.Time      `json:"endTime"`
	DurationNanos int64          `json:"durationNanos"`
	Status        StatusCode     `json:"statusCode"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// IsError reports whether the span carries an error status.
func (s Span) IsError() bool {
	return s.Status == StatusError
}

// Key returns the (traceId, spanId) uniqueness key.
func (s Span) Key() SpanKey {
	return SpanKey{TraceID: s.TraceID, SpanID: s.SpanID}
}

// ParentKey returns the key of the parent span within the same trace.
func (s Span) ParentKey() SpanKey {
	return SpanKey{TraceID: s.TraceID, SpanID: s.ParentSpanID}
}

// SpanKey identifies a span across traces.
type SpanKey struct {
	TraceID string
	SpanID  string
}

// LogEntry represents a normalized log record.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Service    string         `json:"service"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	TraceID    string         `json:"traceId,omitempty"`
	SpanID     string         `json:"spanId,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// MetricPoint represents one numeric sample read from a metrics document.
type MetricPoint struct {
	Timestamp  time.Time      `json:"timestamp"`
	Service    string         `json:"service"`
	Name       string         `json:"name"`
	Value      float64        `json:"value"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LogFilter selects log records for correlation.
type LogFilter struct {
	TraceID string
	SpanIDs []string
	Service string
	Range   TimeRange
	Limit   int
}
