package graphstore

import (
	"testing"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeParams(t *testing.T) {
	edges := []models.ServiceEdge{
		{Parent: "frontend", Child: "cart", Count: 4, ErrorCount: 1, ErrorRate: 0.25},
		{Parent: "cart", Child: "cart", Count: 2},
		{Parent: " ", Child: "cart", Count: 1},
		{Parent: "frontend", Child: "10.0.0.7", Count: 9},
		{Parent: " checkout ", Child: "payments", Count: 3},
	}

	params := EdgeParams(edges)
	require.Len(t, params, 2)
	assert.Equal(t, map[string]any{
		"parent": "frontend", "child": "cart", "count": int64(4), "errors": int64(1), "error_rate": 0.25,
	}, params[0])
	assert.Equal(t, "checkout", params[1]["parent"])
}

func TestEdgeParamsEmpty(t *testing.T) {
	assert.Empty(t, EdgeParams(nil))
}
