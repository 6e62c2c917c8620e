// Package output renders operation results for the CLI and the MCP tools.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"
)

// Table cells are padded, never colored.
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// Format selects how a result is rendered.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// ParseFormat validates a user-supplied format name. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatYAML, FormatText:
		return f, nil
	default:
		return "", models.ValidationErrorf("unsupported output format %q (want json, yaml or text)", s)
	}
}

// Write renders v to w in the given format.
func Write(w io.Writer, f Format, v any) error {
	switch f {
	case FormatYAML:
		return writeYAML(w, v)
	case FormatText:
		if ok, err := writeText(w, v); ok {
			return err
		}
		return writeJSON(w, v)
	default:
		return writeJSON(w, v)
	}
}

// JSON renders v as indented JSON.
func JSON(v any) (string, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return nil
}

// writeYAML goes through JSON first so field names and omitempty rules match
// the JSON rendering.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to decode json: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

// writeText reports false when v has no text rendering.
func writeText(w io.Writer, v any) (bool, error) {
	switch r := v.(type) {
	case *models.Trace:
		return true, traceText(w, r)
	case *models.DependencyGraph:
		return true, graphText(w, r)
	case *models.CorrelationResult:
		return true, correlationText(w, r)
	case []models.LogEntry:
		return true, logsText(w, r)
	case []models.MetricPoint:
		return true, metricsText(w, r)
	case []models.ServiceSummary:
		return true, servicesText(w, r)
	case []models.Invocation:
		return true, historyText(w, r)
	default:
		return false, nil
	}
}

func millis(nanos int64) string {
	return fmt.Sprintf("%.3fms", float64(nanos)/float64(time.Millisecond))
}

func traceText(w io.Writer, t *models.Trace) error {
	fmt.Fprintf(w, "Trace %s\n", t.TraceID)
	fmt.Fprintf(w, "Root: %s %s (%s)\n", t.RootSpan.Service, t.RootSpan.OperationName, millis(t.RootSpan.DurationNanos))
	fmt.Fprintf(w, "Spans: %d  Errors: %d (%.1f%%)  Duration: %s\n",
		t.Metrics.TotalSpans, t.Metrics.ErrorCount, t.Metrics.ErrorRate*100, millis(t.Metrics.TotalDurationNanos))

	fmt.Fprintln(w, "\nSpan tree:")
	for _, n := range t.SpanTree {
		writeNode(w, n, 1)
	}

	fmt.Fprintf(w, "\nCritical path (%s):\n", millis(t.CriticalPathDurationNanos))
	for i, s := range t.CriticalPath {
		fmt.Fprintf(w, "  %d. %s %s (%s)\n", i+1, s.Service, s.OperationName, millis(s.DurationNanos))
	}
	return nil
}

func writeNode(w io.Writer, n *models.SpanNode, depth int) {
	marker := ""
	if n.Span.IsError() {
		marker = " [ERROR]"
	}
	fmt.Fprintf(w, "%s%s %s (%s)%s\n", strings.Repeat("  ", depth), n.Span.Service, n.Span.OperationName, millis(n.Span.DurationNanos), marker)
	for _, c := range n.Children {
		writeNode(w, c, depth+1)
	}
}

// writeTable renders rows under headers as a bordered table.
func writeTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style { return cellStyle })
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func edgesText(w io.Writer, edges []models.ServiceEdge) error {
	rows := make([][]string, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, []string{
			e.Parent, e.Child, strconv.Itoa(e.Count), strconv.Itoa(e.ErrorCount), fmt.Sprintf("%.1f%%", e.ErrorRate*100),
		})
	}
	return writeTable(w, []string{"PARENT", "CHILD", "CALLS", "ERRORS", "ERROR RATE"}, rows)
}

func warningsText(w io.Writer, warnings []models.Warning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(w, "\nWarnings:")
	for _, wn := range warnings {
		fmt.Fprintf(w, "  %s: %s\n", wn.Source, wn.Message)
	}
}

func graphText(w io.Writer, g *models.DependencyGraph) error {
	fmt.Fprintf(w, "Range: %s\n", g.Range)
	fmt.Fprintf(w, "Spans processed: %d of %d (%.1f%%)\n\n", g.SpanCounts.Processed, g.SpanCounts.Total, g.SpanCounts.Percentage)
	if err := edgesText(w, g.Relationships); err != nil {
		return err
	}
	if g.Tree != nil && len(g.Tree.RootServices) > 0 {
		fmt.Fprintf(w, "\nRoot services: %s\n", strings.Join(g.Tree.RootServices, ", "))
	}
	if len(g.TopErrors) > 0 {
		fmt.Fprintln(w, "\nTop errors:")
		for _, e := range g.TopErrors {
			fmt.Fprintf(w, "  %dx %s (%s)\n", e.Count, e.Message, e.PrimaryService)
		}
	}
	warningsText(w, g.Warnings)
	return nil
}

func correlationText(w io.Writer, r *models.CorrelationResult) error {
	fmt.Fprintf(w, "Correlation %s\n", r.ID)
	if r.Context.TraceID != "" {
		fmt.Fprintf(w, "Trace: %s\n", r.Context.TraceID)
	}
	if r.Context.Service != "" {
		fmt.Fprintf(w, "Service: %s\n", r.Context.Service)
	}
	fmt.Fprintf(w, "Range: %s\n", r.Context.Range)
	for _, t := range r.Traces {
		fmt.Fprintln(w)
		if err := traceText(w, t); err != nil {
			return err
		}
	}
	if len(r.Logs) > 0 {
		fmt.Fprintln(w)
		if err := logsText(w, r.Logs); err != nil {
			return err
		}
	}
	if len(r.Metrics) > 0 {
		fmt.Fprintln(w)
		if err := metricsText(w, r.Metrics); err != nil {
			return err
		}
	}
	if len(r.Relationships) > 0 {
		fmt.Fprintln(w)
		if err := edgesText(w, r.Relationships); err != nil {
			return err
		}
	}
	warningsText(w, r.Warnings)
	return nil
}

func logsText(w io.Writer, logs []models.LogEntry) error {
	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, []string{l.Timestamp.Format(time.RFC3339Nano), l.Service, l.Level, l.Message})
	}
	return writeTable(w, []string{"TIME", "SERVICE", "LEVEL", "MESSAGE"}, rows)
}

func metricsText(w io.Writer, points []models.MetricPoint) error {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{p.Timestamp.Format(time.RFC3339Nano), p.Service, p.Name, strconv.FormatFloat(p.Value, 'g', -1, 64)})
	}
	return writeTable(w, []string{"TIME", "SERVICE", "METRIC", "VALUE"}, rows)
}

func servicesText(w io.Writer, services []models.ServiceSummary) error {
	sorted := append([]models.ServiceSummary(nil), services...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	rows := make([][]string, 0, len(sorted))
	for _, s := range sorted {
		rows = append(rows, []string{s.Name, strconv.FormatInt(s.SpanCount, 10)})
	}
	return writeTable(w, []string{"SERVICE", "SPANS"}, rows)
}

func historyText(w io.Writer, invs []models.Invocation) error {
	rows := make([][]string, 0, len(invs))
	for _, inv := range invs {
		status := inv.Status
		if inv.ErrorKind != "" {
			status += " (" + string(inv.ErrorKind) + ")"
		}
		rows = append(rows, []string{
			inv.CreatedAt.Format(time.RFC3339), inv.Operation, inv.Subject, status, fmt.Sprintf("%dms", inv.DurationMs),
		})
	}
	return writeTable(w, []string{"TIME", "OPERATION", "SUBJECT", "STATUS", "DURATION"}, rows)
}
