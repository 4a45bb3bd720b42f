// ABOUTME: SQLite implementation of the interaction Recorder using modernc.org/sqlite
// ABOUTME: Provides interaction persistence with automatic schema creation

package contextstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Recorder and Browser using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "contextstore")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite interaction store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			method TEXT NOT NULL,
			success INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_interactions_created_at
			ON interactions(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists one interaction row.
func (s *SQLiteStore) Record(ctx context.Context, method string, success bool, latency time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (id, method, success, latency_ms, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), method, boolToInt(success), latency.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording interaction: %w", err)
	}
	return nil
}

// Recent returns the most recent interactions, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*Interaction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, method, success, latency_ms, created_at
		 FROM interactions ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying interactions: %w", err)
	}
	defer rows.Close()

	var result []*Interaction
	for rows.Next() {
		var in Interaction
		var success int
		if err := rows.Scan(&in.ID, &in.Method, &success, &in.LatencyMS, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning interaction: %w", err)
		}
		in.Success = success != 0
		result = append(result, &in)
	}
	return result, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
