// Package tracing rebuilds a single trace from its spans: root detection, the
// parent/child tree, the critical path, and aggregate metrics.
package tracing

import (
	"sort"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
)

// Analyze reconstructs a trace from spans that share one trace id. The input is
// not modified.
func Analyze(spans []models.Span) (*models.Trace, error) {
	if len(spans) == 0 {
		return nil, models.NotFoundErrorf("no spans found")
	}

	byID := make(map[string]int, len(spans))
	for i, s := range spans {
		if _, dup := byID[s.SpanID]; !dup {
			byID[s.SpanID] = i
		}
	}

	root := findRoot(spans, byID)
	tree := buildTree(spans, byID, root)
	path, total := criticalPath(tree[0], len(spans))

	return &models.Trace{
		TraceID:                   spans[root].TraceID,
		RootSpan:                  spans[root],
		SpanTree:                  tree,
		CriticalPath:              path,
		CriticalPathDurationNanos: total,
		Metrics:                   computeMetrics(spans, spans[root]),
	}, nil
}

func isRootCandidate(s models.Span, byID map[string]int) bool {
	if s.ParentSpanID == "" || s.ParentSpanID == s.SpanID {
		return true
	}
	_, ok := byID[s.ParentSpanID]
	return !ok
}

// findRoot returns the index of the earliest root candidate, or of the earliest
// span when every span has a present parent.
func findRoot(spans []models.Span, byID map[string]int) int {
	best := -1
	for i, s := range spans {
		if !isRootCandidate(s, byID) {
			continue
		}
		if best < 0 || s.StartTime.Before(spans[best].StartTime) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}
	best = 0
	for i, s := range spans {
		if s.StartTime.Before(spans[best].StartTime) {
			best = i
		}
	}
	return best
}

// buildTree attaches every span to its parent node. The root's node comes first;
// other root candidates and spans caught in parent cycles follow as extra
// root-level nodes, so each span appears exactly once.
func buildTree(spans []models.Span, byID map[string]int, root int) []*models.SpanNode {
	nodes := make([]*models.SpanNode, len(spans))
	for i, s := range spans {
		nodes[i] = &models.SpanNode{Span: s}
	}

	attached := make([]bool, len(spans))
	for i, s := range spans {
		if i == root || isRootCandidate(s, byID) {
			continue
		}
		p := byID[s.ParentSpanID]
		if p == i {
			continue
		}
		nodes[p].Children = append(nodes[p].Children, nodes[i])
		attached[i] = true
	}
	for _, n := range nodes {
		sortByStart(n.Children)
	}

	roots := []*models.SpanNode{nodes[root]}
	reached := make([]bool, len(spans))
	index := make(map[*models.SpanNode]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}
	var mark func(n *models.SpanNode)
	mark = func(n *models.SpanNode) {
		i := index[n]
		if reached[i] {
			return
		}
		reached[i] = true
		for _, c := range n.Children {
			mark(c)
		}
	}
	mark(nodes[root])

	for i := range spans {
		if i == root || attached[i] {
			continue
		}
		roots = append(roots, nodes[i])
		mark(nodes[i])
	}
	// Whatever is still unreached sits on a parent cycle; detach it so the
	// cycle can't hide it, in input order.
	for i := range spans {
		if reached[i] {
			continue
		}
		detach(nodes, nodes[i])
		roots = append(roots, nodes[i])
		mark(nodes[i])
	}

	if len(roots) > 1 {
		sortByStart(roots[1:])
	}
	return roots
}

func detach(nodes []*models.SpanNode, child *models.SpanNode) {
	for _, n := range nodes {
		for j, c := range n.Children {
			if c == child {
				n.Children = append(n.Children[:j:j], n.Children[j+1:]...)
				return
			}
		}
	}
}

func sortByStart(nodes []*models.SpanNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Span.StartTime.Before(nodes[j].Span.StartTime)
	})
}

// criticalPath returns the root-to-leaf path with the largest summed span
// duration below root, and that sum. The first child wins ties. The tree must
// be acyclic, which buildTree guarantees; size is a capacity hint.
func criticalPath(root *models.SpanNode, size int) ([]models.Span, int64) {
	next := make(map[*models.SpanNode]*models.SpanNode, size)

	var longest func(n *models.SpanNode) int64
	longest = func(n *models.SpanNode) int64 {
		var best *models.SpanNode
		var bestTotal int64
		for _, c := range n.Children {
			total := longest(c)
			if best == nil || total > bestTotal {
				best, bestTotal = c, total
			}
		}
		if best != nil {
			next[n] = best
		}
		return n.Span.DurationNanos + bestTotal
	}
	total := longest(root)

	path := make([]models.Span, 0, len(next)+1)
	for n := root; n != nil; n = next[n] {
		path = append(path, n.Span)
	}
	return path, total
}

func computeMetrics(spans []models.Span, root models.Span) models.TraceMetrics {
	m := models.TraceMetrics{
		TotalSpans:      len(spans),
		CountsByKind:    make(map[string]int),
		CountsByService: make(map[string]int),
	}
	if d := root.EndTime.Sub(root.StartTime); d > 0 {
		m.TotalDurationNanos = d.Nanoseconds()
	}
	for _, s := range spans {
		if s.IsError() {
			m.ErrorCount++
		}
		m.CountsByKind[s.Kind]++
		m.CountsByService[s.Service]++
	}
	if m.TotalSpans > 0 {
		m.ErrorRate = float64(m.ErrorCount) / float64(m.TotalSpans)
	}
	return m
}
