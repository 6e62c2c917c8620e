package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Lookup finds a dotted path in a document. The path may be stored as a flat
// dotted key ("service.name"), as nested objects, or a mixture of both. Nil
// values and empty strings count as absent.
func Lookup(doc map[string]any, path string) (any, bool) {
	if doc == nil || path == "" {
		return nil, false
	}
	return lookup(doc, strings.Split(path, "."))
}

func lookup(m map[string]any, parts []string) (any, bool) {
	// Longest key first so a flat "a.b.c" beats a nested {"a": {"b.c"}}.
	for i := len(parts); i >= 1; i-- {
		v, ok := m[strings.Join(parts[:i], ".")]
		if !ok {
			continue
		}
		if i == len(parts) {
			if !isEmpty(v) {
				return v, true
			}
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			if r, ok := lookup(sub, parts[i:]); ok {
				return r, true
			}
		}
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

// Resolve returns the value of the first alias of f present in doc.
func Resolve(doc map[string]any, f Field) (any, bool) {
	for _, path := range aliases[f] {
		if v, ok := Lookup(doc, path); ok {
			return v, true
		}
	}
	return nil, false
}

// ResolveString is Resolve with the value rendered as a string.
func ResolveString(doc map[string]any, f Field) (string, bool) {
	v, ok := Resolve(doc, f)
	if !ok {
		return "", false
	}
	s := stringify(v)
	if s == "" {
		return "", false
	}
	return s, true
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(x), true
	case float32:
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// toTime converts RFC3339 strings and epoch numbers to a time. The epoch unit
// is inferred from magnitude.
func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	n, ok := toInt64(v)
	if !ok {
		return time.Time{}, false
	}
	return epochToTime(n), true
}

func epochToTime(n int64) time.Time {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1e17:
		return time.Unix(0, n).UTC()
	case abs >= 1e14:
		return time.UnixMicro(n).UTC()
	case abs >= 1e11:
		return time.UnixMilli(n).UTC()
	default:
		return time.Unix(n, 0).UTC()
	}
}

// flattenNumbers collects numeric leaves of a nested map under dotted names.
func flattenNumbers(prefix string, m map[string]any, out map[string]float64) {
	for k, v := range m {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenNumbers(name, sub, out)
			continue
		}
		if _, isString := v.(string); isString {
			continue
		}
		if f, ok := toFloat(v); ok && !math.IsNaN(f) {
			out[name] = f
		}
	}
}
