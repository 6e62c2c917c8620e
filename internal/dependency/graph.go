// Package dependency aggregates spans into service-to-service call edges and
// arranges those edges as a service tree.
package dependency

import (
	"math/rand/v2"
	"sort"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
)

type spanInfo struct {
	service  string
	hasError bool
}

type edgeKey struct {
	parent string
	child  string
}

// BuildEdges derives parent-service to child-service edges from every span in
// the batch. Output order is the order in which each edge was first seen, so
// repeated calls on the same input return identical results.
func BuildEdges(spans []models.Span) []models.ServiceEdge {
	edges, _ := buildEdges(spans, 1, nil)
	return edges
}

// BuildSampledEdges is BuildEdges with each span kept with probability rate.
// It also returns how many spans the sampler kept. Sampling is unseeded and
// therefore not reproducible; rate >= 1 keeps every span and rate <= 0 keeps
// none. Parents are resolved against the whole batch, so a dropped parent
// still names the caller of a kept child.
func BuildSampledEdges(spans []models.Span, rate float64) ([]models.ServiceEdge, int) {
	return buildEdges(spans, rate, rand.Float64)
}

func buildEdges(spans []models.Span, rate float64, rnd func() float64) ([]models.ServiceEdge, int) {
	if rate <= 0 {
		return []models.ServiceEdge{}, 0
	}

	lookup := make(map[models.SpanKey]spanInfo, len(spans))
	for _, s := range spans {
		lookup[s.Key()] = spanInfo{service: s.Service, hasError: s.IsError()}
	}

	index := make(map[edgeKey]int)
	edges := []models.ServiceEdge{}
	kept := 0
	for _, s := range spans {
		if rate < 1 && rnd != nil && rnd() >= rate {
			continue
		}
		kept++
		if s.ParentSpanID == "" {
			continue
		}
		parent, ok := lookup[s.ParentKey()]
		if !ok || parent.service == s.Service {
			continue
		}

		k := edgeKey{parent: parent.service, child: s.Service}
		i, ok := index[k]
		if !ok {
			i = len(edges)
			index[k] = i
			edges = append(edges, models.ServiceEdge{Parent: k.parent, Child: k.child})
		}
		edges[i].Count++
		if s.IsError() {
			edges[i].ErrorCount++
		}
	}

	for i := range edges {
		edges[i].ErrorRate = ratio(edges[i].ErrorCount, edges[i].Count)
	}
	return edges, kept
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// BuildTree arranges edges as an adjacency list keyed by service name. Children
// and parents are ordered by call count, descending; services without parents
// are reported as roots in name order.
func BuildTree(edges []models.ServiceEdge) *models.DependencyTree {
	tree := &models.DependencyTree{
		Services:     make(map[string]*models.ServiceNode),
		RootServices: []string{},
	}
	node := func(name string) *models.ServiceNode {
		n, ok := tree.Services[name]
		if !ok {
			n = &models.ServiceNode{Name: name, Children: []models.DependencyLink{}, Parents: []models.DependencyLink{}}
			tree.Services[name] = n
		}
		return n
	}

	outgoingErrors := make(map[string]int)
	for _, e := range edges {
		p, c := node(e.Parent), node(e.Child)
		p.Children = append(p.Children, models.DependencyLink{Service: e.Child, Calls: e.Count, Errors: e.ErrorCount, ErrorRate: e.ErrorRate})
		c.Parents = append(c.Parents, models.DependencyLink{Service: e.Parent, Calls: e.Count, Errors: e.ErrorCount, ErrorRate: e.ErrorRate})
		p.Metrics.OutgoingCalls += e.Count
		c.Metrics.IncomingCalls += e.Count
		c.Metrics.Errors += e.ErrorCount
		outgoingErrors[e.Parent] += e.ErrorCount
	}

	for name, n := range tree.Services {
		sortLinks(n.Children)
		sortLinks(n.Parents)
		n.Metrics.ErrorRate = ratio(outgoingErrors[name], n.Metrics.OutgoingCalls)
		if len(n.Parents) == 0 {
			tree.RootServices = append(tree.RootServices, name)
		}
	}
	sort.Strings(tree.RootServices)
	return tree
}

func sortLinks(links []models.DependencyLink) {
	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Calls > links[j].Calls
	})
}

// FilterEdges returns the edges where service is either the caller or the callee.
func FilterEdges(edges []models.ServiceEdge, service string) []models.ServiceEdge {
	out := []models.ServiceEdge{}
	for _, e := range edges {
		if e.Parent == service || e.Child == service {
			out = append(out, e)
		}
	}
	return out
}

// PrimaryService picks the service with the highest count; ties go to the
// lexicographically smallest name. It returns "" for an empty map.
func PrimaryService(counts map[string]int) string {
	best, bestCount := "", -1
	for name, c := range counts {
		if c > bestCount || (c == bestCount && name < best) {
			best, bestCount = name, c
		}
	}
	return best
}

// SpanCounts reports the share of the matching spans that were processed.
func SpanCounts(processed int, total int64) models.SpanCounts {
	counts := models.SpanCounts{Processed: processed, Total: total}
	if total < int64(processed) {
		counts.Total = int64(processed)
	}
	if counts.Total > 0 {
		counts.Percentage = float64(processed) / float64(counts.Total) * 100
	}
	return counts
}
