package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
)

// KindUnspecified is reported for spans without a recognizable kind.
const KindUnspecified = "unspecified"

// errorSeverityNumber is the first OTel SeverityNumber in the ERROR range.
const errorSeverityNumber = 17

var podNamePattern = regexp.MustCompile(`^([a-z0-9-]+)-[a-z0-9]{9,10}-[a-z0-9]{5}$`)

// ServiceName resolves the emitting service. Documents without a service alias
// but with a Kubernetes pod name get a service derived from the pod name.
func ServiceName(doc map[string]any) string {
	if s, ok := ResolveString(doc, FieldServiceName); ok {
		return s
	}
	if pod, ok := ResolveString(doc, FieldPodName); ok {
		return ServiceFromPodName(pod)
	}
	return UnknownService
}

// ServiceFromPodName derives a workload name from a generated pod name, e.g.
// "checkout-7d9f8b6c5d-x2k4p" -> "checkout". Names that don't match the
// Deployment pattern are cut at the first "-".
func ServiceFromPodName(pod string) string {
	pod = strings.TrimSpace(pod)
	if m := podNamePattern.FindStringSubmatch(pod); m != nil {
		return m[1]
	}
	if i := strings.Index(pod, "-"); i > 0 {
		return pod[:i]
	}
	if pod == "" {
		return UnknownService
	}
	return pod
}

// TraceID returns the trace id or "".
func TraceID(doc map[string]any) string {
	s, _ := ResolveString(doc, FieldTraceID)
	return s
}

// SpanID returns the span id or "".
func SpanID(doc map[string]any) string {
	s, _ := ResolveString(doc, FieldSpanID)
	return s
}

// ParentSpanID returns the parent span id or "".
func ParentSpanID(doc map[string]any) string {
	s, _ := ResolveString(doc, FieldParentSpanID)
	return s
}

// Timestamp returns the document timestamp.
func Timestamp(doc map[string]any) (time.Time, bool) {
	for _, path := range aliases[FieldTimestamp] {
		if v, ok := Lookup(doc, path); ok {
			if t, ok := toTime(v); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// Severity returns the upper-cased level. Records without one are "ERROR" when an
// error condition is detected and "INFO" otherwise.
func Severity(doc map[string]any) string {
	if s, ok := ResolveString(doc, FieldSeverity); ok {
		return strings.ToUpper(s)
	}
	if HasErrorCondition(doc) {
		return "ERROR"
	}
	return "INFO"
}

// HasErrorCondition reports error evidence independent of the severity text:
// exception or error fields, an ERROR-range SeverityNumber, or an error status.
func HasErrorCondition(doc map[string]any) bool {
	if _, ok := Resolve(doc, FieldErrorDetail); ok {
		return true
	}
	if v, ok := Resolve(doc, FieldSeverityNumber); ok {
		if n, ok := toInt64(v); ok && n >= errorSeverityNumber {
			return true
		}
	}
	return Status(doc) == models.StatusError
}

// Message returns the log body. When no message alias is present the whole
// document is serialized so a message is never empty.
func Message(doc map[string]any) string {
	if s, ok := ResolveString(doc, FieldMessage); ok {
		return s
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Sprintf("%v", doc)
	}
	return string(b)
}

// OperationName returns the span name or "".
func OperationName(doc map[string]any) string {
	s, _ := ResolveString(doc, FieldOperationName)
	return s
}

// Kind returns the short lower-case span kind ("server", "client", ...).
func Kind(doc map[string]any) string {
	v, ok := Resolve(doc, FieldKind)
	if !ok {
		return KindUnspecified
	}
	if n, ok := toInt64(v); ok {
		if name, ok := tracepb.Span_SpanKind_name[int32(n)]; ok {
			return shortKind(name)
		}
		return KindUnspecified
	}
	raw := strings.TrimSpace(stringify(v))
	name := strings.ToUpper(raw)
	if !strings.HasPrefix(name, "SPAN_KIND_") {
		name = "SPAN_KIND_" + name
	}
	if _, ok := tracepb.Span_SpanKind_value[name]; ok {
		return shortKind(name)
	}
	return strings.ToLower(raw)
}

func shortKind(name string) string {
	return strings.ToLower(strings.TrimPrefix(name, "SPAN_KIND_"))
}

// Status normalizes OTLP numeric codes, OTLP enum names, and ECS strings.
func Status(doc map[string]any) models.StatusCode {
	v, ok := Resolve(doc, FieldStatusCode)
	if !ok {
		return models.StatusUnset
	}
	return statusFromValue(v)
}

func statusFromValue(v any) models.StatusCode {
	if n, ok := toInt64(v); ok {
		switch tracepb.Status_StatusCode(n) {
		case tracepb.Status_STATUS_CODE_ERROR:
			return models.StatusError
		case tracepb.Status_STATUS_CODE_OK:
			return models.StatusOK
		}
		return models.StatusUnset
	}
	switch strings.ToUpper(strings.TrimSpace(stringify(v))) {
	case "ERROR", tracepb.Status_STATUS_CODE_ERROR.String(), "FAILURE":
		return models.StatusError
	case "OK", tracepb.Status_STATUS_CODE_OK.String(), "SUCCESS":
		return models.StatusOK
	}
	return models.StatusUnset
}

// Attributes returns the first attribute map present, or nil.
func Attributes(doc map[string]any) map[string]any {
	for _, path := range aliases[FieldAttributes] {
		if v, ok := Lookup(doc, path); ok {
			if m, ok := v.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

// Duration returns the span duration, honoring the unit of each alias.
func Duration(doc map[string]any) (time.Duration, bool) {
	for _, a := range durationAliases {
		v, ok := Lookup(doc, a.path)
		if !ok {
			continue
		}
		if n, ok := toInt64(v); ok {
			return time.Duration(n) * a.unit, true
		}
	}
	return 0, false
}
