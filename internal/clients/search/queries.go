package search

import (
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
)

// Query is a node of the query DSL.
type Query = map[string]any

// TimestampField is the date field every supported mapping shares.
const TimestampField = "@timestamp"

// Request is a _search request body.
type Request struct {
	Size           int
	Query          Query
	Sort           []Query
	Aggs           map[string]any
	TrackTotalHits bool
}

// Body renders the request as JSON-ready DSL.
func (r *Request) Body() map[string]any {
	body := map[string]any{"size": r.Size}
	if r.Query != nil {
		body["query"] = r.Query
	}
	if len(r.Sort) > 0 {
		body["sort"] = r.Sort
	}
	if len(r.Aggs) > 0 {
		body["aggs"] = r.Aggs
	}
	if r.TrackTotalHits {
		body["track_total_hits"] = true
	}
	return body
}

// Bool builds a bool query whose clauses all filter.
func Bool(filters ...Query) Query {
	clauses := make([]Query, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			clauses = append(clauses, f)
		}
	}
	return Query{"bool": Query{"filter": clauses}}
}

// Should builds a bool query matching at least one clause.
func Should(clauses ...Query) Query {
	return Query{"bool": Query{"should": clauses, "minimum_should_match": 1}}
}

// Terms matches documents whose field holds any of values.
func Terms(field string, values []string) Query {
	return Query{"terms": Query{field: values}}
}

// AnyFieldTerms matches documents where any of fields holds any of values. It is
// used to look up one logical field stored under several aliases.
func AnyFieldTerms(fields []string, values []string) Query {
	if len(values) == 0 {
		return nil
	}
	clauses := make([]Query, 0, len(fields))
	for _, f := range fields {
		clauses = append(clauses, Terms(f, values))
	}
	return Should(clauses...)
}

// AnyFieldExists matches documents that have at least one of fields.
func AnyFieldExists(fields []string) Query {
	clauses := make([]Query, 0, len(fields))
	for _, f := range fields {
		clauses = append(clauses, Query{"exists": Query{"field": f}})
	}
	return Should(clauses...)
}

// Range restricts the timestamp field to [start, end]. A zero range matches
// everything.
func Range(r models.TimeRange) Query {
	if r.IsZero() {
		return nil
	}
	bounds := Query{"format": "strict_date_optional_time"}
	if !r.Start.IsZero() {
		bounds["gte"] = r.Start.UTC().Format(time.RFC3339Nano)
	}
	if !r.End.IsZero() {
		bounds["lte"] = r.End.UTC().Format(time.RFC3339Nano)
	}
	return Query{"range": Query{TimestampField: bounds}}
}

// MinValue matches documents where any of fields is at least min.
func MinValue(fields []string, min int) Query {
	clauses := make([]Query, 0, len(fields))
	for _, f := range fields {
		clauses = append(clauses, Query{"range": Query{f: Query{"gte": min}}})
	}
	return Should(clauses...)
}

// SortBy orders results by the timestamp field. Documents without one sort last.
func SortBy(order string) []Query {
	return []Query{{TimestampField: Query{"order": order, "unmapped_type": "date"}}}
}

// TermsAgg builds a terms aggregation over field returning at most size buckets.
func TermsAgg(field string, size int) Query {
	return Query{"terms": Query{"field": field, "size": size}}
}
