package models

// CorrelationContext is the partial key used to join telemetry belonging to
// the same request or service.
type CorrelationContext struct {
	TraceID string    `json:"traceId,omitempty"`
	Service string    `json:"service,omitempty"`
	Range   TimeRange `json:"range"`
}

// Warning reports a sub-query that failed inside a composite operation.
type Warning struct {
	Kind    ErrorKind `json:"kind"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// CorrelationResult is a best-effort aggregate; absent fields were either not
// requested or their sub-query failed (see Warnings).
type CorrelationResult struct {
	ID            string             `json:"id"`
	Context       CorrelationContext `json:"context"`
	Logs          []LogEntry         `json:"logs,omitempty"`
	Traces        []*Trace           `json:"traces,omitempty"`
	Metrics       []MetricPoint      `json:"metrics,omitempty"`
	Relationships []ServiceEdge      `json:"relationships,omitempty"`
	Warnings      []Warning          `json:"warnings,omitempty"`
}
