package models

// ServiceEdge is an aggregated parent-service to child-service call relationship.
type ServiceEdge struct {
	Parent     string  `json:"parent"`
	Child      string  `json:"child"`
	Count      int     `json:"count"`
	ErrorCount int     `json:"errorCount"`
	ErrorRate  float64 `json:"errorRate"`
}

// DependencyLink is one side of a ServiceEdge as seen from a node: the other
// service's name plus the edge metrics.
type DependencyLink struct {
	Service   string  `json:"service"`
	Calls     int     `json:"calls"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"errorRate"`
}

// NodeMetrics aggregates the calls flowing through one service.
type NodeMetrics struct {
	IncomingCalls int     `json:"incomingCalls"`
	OutgoingCalls int     `json:"outgoingCalls"`
	Errors        int     `json:"errors"`
	ErrorRate     float64 `json:"errorRate"`
}

// ServiceNode is a service in the dependency tree.
type ServiceNode struct {
	Name     string           `json:"name"`
	Children []DependencyLink `json:"children"`
	Parents  []DependencyLink `json:"parents"`
	Metrics  NodeMetrics      `json:"metrics"`
}

// DependencyTree is an adjacency-list view of the service graph keyed by
// service name.
type DependencyTree struct {
	Services     map[string]*ServiceNode `json:"services"`
	RootServices []string                `json:"rootServices"`
}

// SpanCounts reports how much of the matching span population was processed.
type SpanCounts struct {
	Processed  int     `json:"processed"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
}

// ErrorGroup is an error message bucket with the service that emitted it most.
type ErrorGroup struct {
	Message        string         `json:"message"`
	Count          int            `json:"count"`
	PrimaryService string         `json:"primaryService"`
	ServiceCounts  map[string]int `json:"serviceCounts,omitempty"`
}

// DependencyGraph is the result of a service dependency scan over a time range.
type DependencyGraph struct {
	Range         TimeRange       `json:"range"`
	Relationships []ServiceEdge   `json:"relationships"`
	Tree          *DependencyTree `json:"tree,omitempty"`
	SpanCounts    SpanCounts      `json:"spanCounts"`
	TopErrors     []ErrorGroup    `json:"topErrors,omitempty"`
	Warnings      []Warning       `json:"warnings,omitempty"`
}

// ServiceSummary is a service seen in span data with its span count.
type ServiceSummary struct {
	Name      string `json:"name"`
	SpanCount int64  `json:"spanCount"`
}
