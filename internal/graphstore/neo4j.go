// Package graphstore exports service dependency edges to Neo4j.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const upsertEdges = `
UNWIND $edges AS edge
MERGE (parent:Service {name: edge.parent})
MERGE (child:Service {name: edge.child})
MERGE (parent)-[r:CALLS]->(child)
SET r.count = edge.count,
    r.errors = edge.errors,
    r.error_rate = edge.error_rate,
    r.updated_at = $updatedAt`

// Store writes dependency graphs into Neo4j.
type Store struct {
	driver neo4j.DriverWithContext
	logger *slog.Logger
}

// New connects to Neo4j and verifies the connection.
func New(ctx context.Context, uri, username, password string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(verifyCtx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// ExportEdges upserts one Service node per endpoint and a CALLS relationship
// per edge. It returns the number of edges written.
func (s *Store) ExportEdges(ctx context.Context, edges []models.ServiceEdge) (int, error) {
	params := EdgeParams(edges)
	if len(params) == 0 {
		return 0, nil
	}

	rows := make([]any, len(params))
	for i, p := range params {
		rows[i] = p
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, upsertEdges, map[string]any{
			"edges":     rows,
			"updatedAt": time.Now().UTC().Format(time.RFC3339),
		})
		return nil, err
	})
	if err != nil {
		s.logger.Error("Failed to export dependency graph", "edges", len(params), "error", err)
		return 0, fmt.Errorf("failed to export edges to Neo4j: %w", err)
	}

	s.logger.Info("Exported dependency graph", "edges", len(params))
	return len(params), nil
}

// EdgeParams converts edges into Cypher parameters, dropping self-calls and
// edges whose endpoints are unnamed or bare IP addresses.
func EdgeParams(edges []models.ServiceEdge) []map[string]any {
	out := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		parent := normaliseServiceName(e.Parent)
		child := normaliseServiceName(e.Child)
		if parent == "" || child == "" || parent == child {
			continue
		}
		out = append(out, map[string]any{
			"parent":     parent,
			"child":      child,
			"count":      int64(e.Count),
			"errors":     int64(e.ErrorCount),
			"error_rate": e.ErrorRate,
		})
	}
	return out
}

func normaliseServiceName(raw string) string {
	svc := strings.TrimSpace(raw)
	if svc == "" || net.ParseIP(svc) != nil {
		return ""
	}
	return svc
}
