package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"nimbus/internal/domain"
)

// SQLiteStore is a durable domain.ThreadStore backed by SQLite. Each
// thread is one row; messages and the pending approval are stored as
// JSON columns. A Save is a single upsert statement, so a thread is
// always persisted whole or not at all.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs
// migrations, and returns a ready store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS threads (
			id         TEXT PRIMARY KEY,
			messages   TEXT NOT NULL,
			pending    TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements domain.ThreadStore.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*domain.Thread, error) {
	const query = `SELECT messages, pending, created_at, updated_at FROM threads WHERE id = ?`

	var messagesJSON string
	var pendingJSON sql.NullString
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(&messagesJSON, &pendingJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrThreadNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query thread %s: %w", id, err)
	}

	thread := &domain.Thread{ID: id}
	if err := json.Unmarshal([]byte(messagesJSON), &thread.Messages); err != nil {
		return nil, fmt.Errorf("decode messages for %s: %w", id, err)
	}
	if pendingJSON.Valid && pendingJSON.String != "" {
		var pending domain.PendingApproval
		if err := json.Unmarshal([]byte(pendingJSON.String), &pending); err != nil {
			return nil, fmt.Errorf("decode pending for %s: %w", id, err)
		}
		thread.Pending = &pending
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		thread.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		thread.UpdatedAt = t
	}

	return thread, nil
}

// Save implements domain.ThreadStore.
func (s *SQLiteStore) Save(ctx context.Context, thread *domain.Thread) error {
	messagesJSON, err := json.Marshal(thread.Messages)
	if err != nil {
		return fmt.Errorf("encode messages for %s: %w", thread.ID, err)
	}

	var pendingJSON sql.NullString
	if thread.Pending != nil {
		data, err := json.Marshal(thread.Pending)
		if err != nil {
			return fmt.Errorf("encode pending for %s: %w", thread.ID, err)
		}
		pendingJSON = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().UTC()
	createdAt := thread.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	thread.UpdatedAt = now

	const upsert = `
		INSERT INTO threads (id, messages, pending, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			messages   = excluded.messages,
			pending    = excluded.pending,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, upsert,
		thread.ID,
		string(messagesJSON),
		pendingJSON,
		createdAt.Format(time.RFC3339Nano),
		thread.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert thread %s: %w", thread.ID, err)
	}
	return nil
}

var _ domain.ThreadStore = (*SQLiteStore)(nil)
