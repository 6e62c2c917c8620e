package models

// SpanNode is a span together with its ordered children.
type SpanNode struct {
	Span     Span        `json:"span"`
	Children []*SpanNode `json:"children,omitempty"`
}

// TraceMetrics holds the aggregate figures derived from a reconstructed trace.
type TraceMetrics struct {
	TotalSpans         int            `json:"totalSpans"`
	TotalDurationNanos int64          `json:"totalDurationNanos"`
	ErrorCount         int            `json:"errorCount"`
	ErrorRate          float64        `json:"errorRate"`
	CountsByKind       map[string]int `json:"countsByKind"`
	CountsByService    map[string]int `json:"countsByService"`
}

// Trace is the full set of spans sharing one trace id, arranged as a tree.
// SpanTree holds the root span's node first, followed by any other root-level
// nodes produced by partial or malformed traces.
type Trace struct {
	TraceID                   string       `json:"traceId"`
	RootSpan                  Span         `json:"rootSpan"`
	SpanTree                  []*SpanNode  `json:"spanTree"`
	CriticalPath              []Span       `json:"criticalPath"`
	CriticalPathDurationNanos int64        `json:"criticalPathDurationNanos"`
	Metrics                   TraceMetrics `json:"metrics"`
}
