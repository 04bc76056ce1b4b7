package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore is the durable tier. Every version is kept; Get and List
// read the newest one per conversation.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) a checkpoint database.
// The path should be a file path (e.g., "./wapiflow.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has a single writer; one connection also keeps ":memory:"
	// databases from fanning out into separate empty databases.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			conversation_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			step TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			digest TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (conversation_id, version)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put implements Store. The version check and insert share a transaction.
func (s *SQLiteStore) Put(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT MAX(version) FROM checkpoints WHERE conversation_id = ?
	`, rec.ConversationID).Scan(&latest); err != nil {
		return fmt.Errorf("read latest version: %w", err)
	}
	if latest.Valid && rec.Version <= latest.Int64 {
		return fmt.Errorf("%w: %s v%d <= v%d", ErrStaleVersion, rec.ConversationID, rec.Version, latest.Int64)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (conversation_id, version, node_id, step, timestamp, digest, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ConversationID, rec.Version, rec.NodeID, rec.Step,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Digest, data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, conversationID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM checkpoints
		WHERE conversation_id = ?
		ORDER BY version DESC
		LIMIT 1
	`, conversationID).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return decodeRow(data)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.data
		FROM checkpoints c
		JOIN (
			SELECT conversation_id, MAX(version) AS version
			FROM checkpoints
			GROUP BY conversation_id
		) latest
		ON c.conversation_id = latest.conversation_id AND c.version = latest.version
		ORDER BY c.conversation_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return filter.apply(recs), nil
}

// History returns every stored version of a conversation, oldest first.
func (s *SQLiteStore) History(ctx context.Context, conversationID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM checkpoints
		WHERE conversation_id = ?
		ORDER BY version
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE conversation_id = ?
	`, conversationID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var recs []*Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		rec, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return recs, nil
}

func decodeRow(data []byte) (*Record, error) {
	rec, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return rec, nil
}
