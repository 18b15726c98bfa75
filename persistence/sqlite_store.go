package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mukut03/agents/framework"
)

// SQLiteSnapshotStore persists snapshots in a single SQLite table.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore opens/creates the database at dbPath.
func NewSQLiteSnapshotStore(dbPath string) (*SQLiteSnapshotStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path required")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	store := &SQLiteSnapshotStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteSnapshotStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteSnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the snapshot.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, conversationID string, snap *framework.Snapshot) error {
	if err := checkID(conversationID); err != nil {
		return err
	}
	if snap == nil {
		return errors.New("snapshot required")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO snapshots (id, payload, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		payload=excluded.payload,
		updated_at=excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, conversationID, string(payload), time.Now().UTC())
	return err
}

// Load returns the stored snapshot, or nil when none exists.
func (s *SQLiteSnapshotStore) Load(ctx context.Context, conversationID string) (*framework.Snapshot, error) {
	if err := checkID(conversationID); err != nil {
		return nil, err
	}
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE id = ?`, conversationID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap framework.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, &framework.MemoryError{Message: "corrupt snapshot " + conversationID, Cause: err}
	}
	return &snap, nil
}

// Delete removes a snapshot. Deleting a missing conversation is not an error.
func (s *SQLiteSnapshotStore) Delete(ctx context.Context, conversationID string) error {
	if err := checkID(conversationID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, conversationID)
	return err
}

// List returns stored conversation ids in lexical order.
func (s *SQLiteSnapshotStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM snapshots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
