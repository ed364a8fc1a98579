// ABOUTME: SQLite-backed Matrix sync-token store using modernc.org/sqlite
// ABOUTME: Persists filter ID and next-batch token so restarts resume syncing

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements mautrix.SyncStore on a SQLite database. Only
// protocol state is stored (filter ID and next-batch token per user),
// never conversation history.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a sync store at the given path. The schema is
// automatically created if it doesn't exist. Parent directories are
// created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
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

	logger.Info("sync store initialized", "path", path)
	return s, nil
}

// createSchema creates the sync_state table if it doesn't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sync_state (
			user_id    TEXT PRIMARY KEY,
			filter_id  TEXT NOT NULL DEFAULT '',
			next_batch TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveFilterID stores the sync filter ID for a user.
func (s *SQLiteStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	query := `
		INSERT INTO sync_state (user_id, filter_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			filter_id = excluded.filter_id,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, userID.String(), filterID, now())
	if err != nil {
		return fmt.Errorf("saving filter ID: %w", err)
	}
	return nil
}

// LoadFilterID returns the stored filter ID for a user, or "" if none is
// stored yet.
func (s *SQLiteStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	var filterID string
	err := s.db.QueryRowContext(ctx,
		`SELECT filter_id FROM sync_state WHERE user_id = ?`, userID.String(),
	).Scan(&filterID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading filter ID: %w", err)
	}
	return filterID, nil
}

// SaveNextBatch stores the next-batch sync token for a user.
func (s *SQLiteStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	query := `
		INSERT INTO sync_state (user_id, next_batch, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			next_batch = excluded.next_batch,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, userID.String(), nextBatchToken, now())
	if err != nil {
		return fmt.Errorf("saving next batch: %w", err)
	}
	return nil
}

// LoadNextBatch returns the stored next-batch token for a user, or "" if
// none is stored yet. An empty token makes the client start a fresh sync.
func (s *SQLiteStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	var nextBatch string
	err := s.db.QueryRowContext(ctx,
		`SELECT next_batch FROM sync_state WHERE user_id = ?`, userID.String(),
	).Scan(&nextBatch)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading next batch: %w", err)
	}
	return nextBatch, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing sync store")
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Ensure SQLiteStore implements the mautrix sync store interface
var _ mautrix.SyncStore = (*SQLiteStore)(nil)
