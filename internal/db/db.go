// Package db provides structured access and migrations for the SQLite
// invocation history.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shiftyp/otel-mcp-server-sub002/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
	path string
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:   db,
		path: dbPath,
	}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Migrate runs database migrations
func (db *DB) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			operation TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_created ON invocations(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_operation ON invocations(operation)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Record stores one invocation. Missing ids and timestamps are filled in.
func (db *DB) Record(ctx context.Context, inv models.Invocation) (models.Invocation, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO invocations (id, operation, subject, status, error_kind, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Operation, inv.Subject, inv.Status, string(inv.ErrorKind), inv.DurationMs, inv.CreatedAt,
	)
	if err != nil {
		return inv, fmt.Errorf("failed to record invocation: %w", err)
	}
	return inv, nil
}

// Track records the outcome of an operation that started at started. It is a
// no-op on a nil DB; storage failures are logged and dropped.
func (db *DB) Track(ctx context.Context, operation, subject string, started time.Time, err error) {
	if db == nil {
		return
	}
	inv := models.Invocation{
		Operation:  operation,
		Subject:    subject,
		Status:     "ok",
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		inv.Status = "error"
		inv.ErrorKind = models.KindOf(err)
	}
	if _, rerr := db.Record(context.WithoutCancel(ctx), inv); rerr != nil {
		slog.Warn("Failed to record invocation", "operation", operation, "error", rerr)
	}
}

// Recent returns the latest invocations, newest first. An empty operation
// matches all.
func (db *DB) Recent(ctx context.Context, operation string, limit int) ([]models.Invocation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, operation, subject, status, error_kind, duration_ms, created_at
		 FROM invocations
		 WHERE (? = '' OR operation = ?)
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		operation, operation, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	var out []models.Invocation
	for rows.Next() {
		var inv models.Invocation
		var kind string
		if err := rows.Scan(&inv.ID, &inv.Operation, &inv.Subject, &inv.Status, &kind, &inv.DurationMs, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		inv.ErrorKind = models.ErrorKind(kind)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
