package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/config"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/db"
	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "mcp", "trace", "logs", "metrics", "deps", "correlate", "services", "history"} {
		assert.Contains(t, names, want)
	}

	deps, _, err := root.Find([]string{"deps"})
	require.NoError(t, err)
	assert.NotNil(t, deps.Flags().Lookup("sample-rate"))
	assert.NotNil(t, deps.Flags().Lookup("export-neo4j"))
}

func TestUnknownOutputFormatFailsBeforeWiring(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--output", "xml", "services"})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindValidation))
}

func TestTraceRequiresArgument(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"trace"})
	root.SetOut(&bytes.Buffer{})

	assert.Error(t, root.Execute())
}

func TestTimeRange(t *testing.T) {
	opts := &rootOptions{cfg: &config.Config{Analysis: config.AnalysisConfig{DefaultLookback: "30m"}}}

	tr, err := opts.timeRange()
	require.NoError(t, err)
	assert.True(t, tr.IsZero())

	opts.end = "2024-05-01T12:00:00Z"
	tr, err = opts.timeRange()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 30, 0, 0, time.UTC), tr.Start)

	opts.start = "not a time"
	_, err = opts.timeRange()
	assert.True(t, models.IsKind(err, models.KindValidation))
}

func TestHistoryCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := db.New(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	require.NoError(t, store.Migrate())
	_, err = store.Record(context.Background(), models.Invocation{Operation: "analyze_trace", Subject: "t1", Status: "ok"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	t.Setenv("OTELMCP_HISTORY_PATH", path)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"history", "--operation", "analyze_trace"})
	root.SetOut(&out)
	require.NoError(t, root.Execute())

	var invs []models.Invocation
	require.NoError(t, json.Unmarshal(out.Bytes(), &invs))
	require.Len(t, invs, 1)
	assert.Equal(t, "t1", invs[0].Subject)
}
