package schema

import (
	"errors"
	"sort"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
)

// ErrMissingIdentifier is returned for span documents without a trace or span id.
var ErrMissingIdentifier = errors.New("document has no trace id or span id")

// ToSpan builds a canonical span from a raw span document.
func ToSpan(doc map[string]any) (models.Span, error) {
	traceID, spanID := TraceID(doc), SpanID(doc)
	if traceID == "" || spanID == "" {
		return models.Span{}, ErrMissingIdentifier
	}

	span := models.Span{
		TraceID:       traceID,
		SpanID:        spanID,
		ParentSpanID:  ParentSpanID(doc),
		Service:       ServiceName(doc),
		OperationName: OperationName(doc),
		Kind:          Kind(doc),
		Status:        Status(doc),
		Attributes:    Attributes(doc),
	}
	if span.ParentSpanID == span.SpanID {
		span.ParentSpanID = ""
	}

	start, hasStart := resolveTime(doc, FieldStartTime)
	end, hasEnd := resolveTime(doc, FieldEndTime)
	dur, hasDur := Duration(doc)

	switch {
	case hasStart && hasEnd:
	case hasStart && hasDur:
		end = start.Add(dur)
	case hasEnd && hasDur:
		start = end.Add(-dur)
	case hasStart:
		end = start
	case hasEnd:
		start = end
	}
	span.StartTime, span.EndTime = start, end
	if d := end.Sub(start); d > 0 {
		span.DurationNanos = d.Nanoseconds()
	}
	return span, nil
}

func resolveTime(doc map[string]any, f Field) (time.Time, bool) {
	for _, path := range aliases[f] {
		if v, ok := Lookup(doc, path); ok {
			if t, ok := toTime(v); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// SpansFromDocuments converts a batch of span documents. Malformed documents are
// skipped and counted; duplicates of an already seen (traceId, spanId) are dropped.
func SpansFromDocuments(docs []models.RawDocument) (spans []models.Span, skipped int) {
	seen := make(map[models.SpanKey]struct{}, len(docs))
	spans = make([]models.Span, 0, len(docs))
	for _, doc := range docs {
		span, err := ToSpan(doc)
		if err != nil {
			skipped++
			continue
		}
		if _, dup := seen[span.Key()]; dup {
			continue
		}
		seen[span.Key()] = struct{}{}
		spans = append(spans, span)
	}
	return spans, skipped
}

// ToLogEntry builds a normalized log record. It never fails.
func ToLogEntry(doc map[string]any) models.LogEntry {
	ts, _ := Timestamp(doc)
	return models.LogEntry{
		Timestamp:  ts,
		Service:    ServiceName(doc),
		Level:      Severity(doc),
		Message:    Message(doc),
		TraceID:    TraceID(doc),
		SpanID:     SpanID(doc),
		Attributes: Attributes(doc),
	}
}

// LogsFromDocuments converts a batch of log documents.
func LogsFromDocuments(docs []models.RawDocument) []models.LogEntry {
	logs := make([]models.LogEntry, 0, len(docs))
	for _, doc := range docs {
		logs = append(logs, ToLogEntry(doc))
	}
	return logs
}

// ToMetricPoints extracts numeric samples from a metrics document. OTel-mode
// documents keep samples under a "metrics" object, one point per leaf; ECS and
// flattened documents carry a single name/value pair.
func ToMetricPoints(doc map[string]any) []models.MetricPoint {
	ts, _ := Timestamp(doc)
	service := ServiceName(doc)
	attrs := Attributes(doc)

	if v, ok := Resolve(doc, FieldMetrics); ok {
		if m, ok := v.(map[string]any); ok {
			values := make(map[string]float64)
			flattenNumbers("", m, values)
			names := make([]string, 0, len(values))
			for name := range values {
				names = append(names, name)
			}
			sort.Strings(names)

			points := make([]models.MetricPoint, 0, len(names))
			for _, name := range names {
				points = append(points, models.MetricPoint{
					Timestamp:  ts,
					Service:    service,
					Name:       name,
					Value:      values[name],
					Attributes: attrs,
				})
			}
			return points
		}
	}

	name, hasName := ResolveString(doc, FieldMetricName)
	raw, hasValue := Resolve(doc, FieldMetricValue)
	if !hasName || !hasValue {
		return nil
	}
	value, ok := toFloat(raw)
	if !ok {
		return nil
	}
	return []models.MetricPoint{{
		Timestamp:  ts,
		Service:    service,
		Name:       name,
		Value:      value,
		Attributes: attrs,
	}}
}

// MetricsFromDocuments converts a batch of metric documents; documents without
// numeric samples are skipped and counted.
func MetricsFromDocuments(docs []models.RawDocument) (points []models.MetricPoint, skipped int) {
	for _, doc := range docs {
		p := ToMetricPoints(doc)
		if len(p) == 0 {
			skipped++
			continue
		}
		points = append(points, p...)
	}
	return points, skipped
}
