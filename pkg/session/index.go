package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Index is a sqlite summary of known sessions, refreshed after every turn.
// Transcript files stay the source of truth; the index only serves listings
// so callers do not have to scan every JSONL file on disk.
type Index struct {
	db *sql.DB
}

// IndexRecord is one row of the session index.
type IndexRecord struct {
	SessionKey     string    `json:"sessionKey"`
	TranscriptPath string    `json:"transcriptPath"`
	AgentID        string    `json:"agentId"`
	EntryCount     int       `json:"entryCount"`
	UserTurns      int       `json:"userTurns"`
	LastActivity   time.Time `json:"lastActivity"`
	CreatedAt      time.Time `json:"createdAt"`
}

// OpenIndex opens (or creates) the session index database at path.
func OpenIndex(path string) (*Index, error) {
	if path == "" {
		return nil, errors.New("index path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	ix := &Index{db: db}
	if err := ix.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return ix, nil
}

func (ix *Index) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_key     TEXT PRIMARY KEY,
			transcript_path TEXT NOT NULL,
			agent_id        TEXT NOT NULL DEFAULT '',
			entry_count     INTEGER NOT NULL DEFAULT 0,
			user_turns      INTEGER NOT NULL DEFAULT 0,
			last_activity   INTEGER NOT NULL,
			created_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);
		CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id);
	`

	_, err := ix.db.Exec(schema)
	return err
}

// Upsert inserts or refreshes the row for rec.SessionKey. created_at is
// preserved across updates.
func (ix *Index) Upsert(ctx context.Context, rec IndexRecord) error {
	if rec.SessionKey == "" {
		return errors.New("session key is required")
	}

	now := time.Now().UTC()
	if rec.LastActivity.IsZero() {
		rec.LastActivity = now
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO sessions (session_key, transcript_path, agent_id, entry_count, user_turns, last_activity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			transcript_path = excluded.transcript_path,
			agent_id        = excluded.agent_id,
			entry_count     = excluded.entry_count,
			user_turns      = excluded.user_turns,
			last_activity   = excluded.last_activity
	`, rec.SessionKey, rec.TranscriptPath, rec.AgentID, rec.EntryCount, rec.UserTurns,
		rec.LastActivity.Unix(), rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert session %q: %w", rec.SessionKey, err)
	}
	return nil
}

// UpsertFromStore refreshes the index row for a session from its open
// transcript store.
func (ix *Index) UpsertFromStore(ctx context.Context, sessionKey, agentID string, store *Store) error {
	if store == nil {
		return errors.New("store is required")
	}
	return ix.Upsert(ctx, IndexRecord{
		SessionKey:     sessionKey,
		TranscriptPath: store.Path(),
		AgentID:        agentID,
		EntryCount:     store.Len(),
		UserTurns:      store.CountUserMessages(),
		LastActivity:   time.Now().UTC(),
	})
}

// Get returns the index row for a session key, reporting whether it exists.
func (ix *Index) Get(ctx context.Context, sessionKey string) (IndexRecord, bool, error) {
	row := ix.db.QueryRowContext(ctx, `
		SELECT session_key, transcript_path, agent_id, entry_count, user_turns, last_activity, created_at
		FROM sessions WHERE session_key = ?
	`, sessionKey)

	rec, err := scanIndexRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return IndexRecord{}, false, nil
	}
	if err != nil {
		return IndexRecord{}, false, fmt.Errorf("failed to load session %q: %w", sessionKey, err)
	}
	return rec, true, nil
}

// List returns every indexed session ordered by most recent activity.
func (ix *Index) List(ctx context.Context) ([]IndexRecord, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT session_key, transcript_path, agent_id, entry_count, user_turns, last_activity, created_at
		FROM sessions ORDER BY last_activity DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var records []IndexRecord
	for rows.Next() {
		rec, err := scanIndexRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes a session from the index. Missing rows are not an error.
func (ix *Index) Delete(ctx context.Context, sessionKey string) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, sessionKey); err != nil {
		return fmt.Errorf("failed to delete session %q from index: %w", sessionKey, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIndexRecord(row rowScanner) (IndexRecord, error) {
	var rec IndexRecord
	var lastActivity, createdAt int64
	if err := row.Scan(
		&rec.SessionKey, &rec.TranscriptPath, &rec.AgentID,
		&rec.EntryCount, &rec.UserTurns, &lastActivity, &createdAt,
	); err != nil {
		return IndexRecord{}, err
	}
	rec.LastActivity = time.Unix(lastActivity, 0).UTC()
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return rec, nil
}
