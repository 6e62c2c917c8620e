// Package main provides the otelmcp command line: the HTTP API, the MCP stdio
// server and one-shot queries against the telemetry backend.
package main

import (
	"fmt"
	"os"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", models.KindOf(err), err)
		os.Exit(1)
	}
}
