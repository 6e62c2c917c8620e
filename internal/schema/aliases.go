// Package schema resolves logical telemetry fields from raw search documents
// that may follow the OpenTelemetry mapping mode, the Elastic Common Schema, or
// one of several historical aliases.
//
// Every logical field has a fixed, ordered alias list. Lookups walk the list and
// return the first present value; nothing is inferred from value shape except the
// documented fallbacks (pod-name service derivation, epoch unit detection, and
// whole-document message serialization).
package schema

import "time"

// Field names a logical telemetry field.
type Field string

const (
	FieldTimestamp      Field = "timestamp"
	FieldStartTime      Field = "start_time"
	FieldEndTime        Field = "end_time"
	FieldServiceName    Field = "service_name"
	FieldPodName        Field = "pod_name"
	FieldTraceID        Field = "trace_id"
	FieldSpanID         Field = "span_id"
	FieldParentSpanID   Field = "parent_span_id"
	FieldSeverity       Field = "severity"
	FieldSeverityNumber Field = "severity_number"
	FieldMessage        Field = "message"
	FieldOperationName  Field = "operation_name"
	FieldKind           Field = "kind"
	FieldStatusCode     Field = "status_code"
	FieldErrorDetail    Field = "error_detail"
	FieldAttributes     Field = "attributes"
	FieldMetricName     Field = "metric_name"
	FieldMetricValue    Field = "metric_value"
	FieldMetrics        Field = "metrics"
)

// UnknownService is the final fallback for an unresolvable service name.
const UnknownService = "unknown"

// OTel-native names come first; ECS and legacy aliases follow.
var aliases = map[Field][]string{
	FieldTimestamp: {"@timestamp", "timestamp"},
	FieldStartTime: {"@timestamp", "timestamp", "StartTime", "start_time", "startTimeUnixNano"},
	FieldEndTime:   {"EndTimestamp", "end_time", "endTimeUnixNano"},
	FieldServiceName: {
		"resource.service.name",
		"service.name",
		"Resource.attributes.service.name",
		"resource.attributes.service.name",
		"Resource.service.name",
	},
	FieldPodName: {
		"resource.attributes.k8s.pod.name",
		"k8s.pod.name",
		"kubernetes.pod.name",
		"kubernetes.pod_name",
	},
	FieldTraceID:        {"TraceId", "trace_id", "trace.id", "attributes.trace_id"},
	FieldSpanID:         {"SpanId", "span_id", "span.id", "attributes.span_id"},
	FieldParentSpanID:   {"ParentSpanId", "parent_span_id", "parent.id", "attributes.parent_span_id"},
	FieldSeverity:       {"SeverityText", "severity_text", "log.level", "severity"},
	FieldSeverityNumber: {"SeverityNumber", "severity_number"},
	FieldMessage:        {"Body", "body", "message", "exception.message", "error.message"},
	FieldOperationName:  {"Name", "name", "span.name", "transaction.name"},
	FieldKind:           {"Kind", "kind", "span.kind"},
	FieldStatusCode:     {"Status.Code", "status.code", "TraceStatus", "otel.status_code", "event.outcome"},
	FieldErrorDetail: {
		"exception.type",
		"exception.message",
		"exception.stacktrace",
		"error.type",
		"error.message",
		"error.stack_trace",
		"attributes.exception.type",
		"attributes.exception.message",
	},
	FieldAttributes:  {"attributes", "Attributes", "labels"},
	FieldMetricName:  {"metric.name", "name", "metricset.name"},
	FieldMetricValue: {"value", "metric.value", "gauge.value", "sum.value"},
	FieldMetrics:     {"metrics"},
}

// durationAlias maps a duration field to the unit it is stored in.
type durationAlias struct {
	path string
	unit time.Duration
}

var durationAliases = []durationAlias{
	{path: "Duration", unit: time.Nanosecond},
	{path: "duration", unit: time.Nanosecond},
	{path: "event.duration", unit: time.Nanosecond},
	{path: "span.duration.us", unit: time.Microsecond},
	{path: "transaction.duration.us", unit: time.Microsecond},
}

// Aliases returns a copy of the ordered alias list for a field.
func Aliases(f Field) []string {
	return append([]string(nil), aliases[f]...)
}

// Fields returns every logical field with an alias list.
func Fields() []Field {
	return []Field{
		FieldTimestamp, FieldStartTime, FieldEndTime, FieldServiceName, FieldPodName,
		FieldTraceID, FieldSpanID, FieldParentSpanID, FieldSeverity, FieldSeverityNumber,
		FieldMessage, FieldOperationName, FieldKind, FieldStatusCode, FieldErrorDetail,
		FieldAttributes, FieldMetricName, FieldMetricValue, FieldMetrics,
	}
}
