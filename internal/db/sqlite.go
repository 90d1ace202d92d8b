package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RichardoC/newsdigest/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    assistant_id TEXT NOT NULL DEFAULT '',
    thread_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS digests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    topic TEXT NOT NULL,
    run_id TEXT NOT NULL,
    summary TEXT NOT NULL,
    steps TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS digests_session_idx ON digests(session_id, created_at);
CREATE INDEX IF NOT EXISTS sessions_updated_idx ON sessions(updated_at);`

// Database keeps per-session assistant/thread identities and the digests
// produced in each session. The default DSN is an in-memory database, so
// nothing outlives the process.
type Database struct {
	db  *sql.DB
	now func() time.Time
}

func New(dsn string) (*Database, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps a shared in-memory database alive and
	// serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// Load returns the stored state for sessionID, or a fresh state carrying
// only the id when the session is unknown.
func (db *Database) Load(ctx context.Context, sessionID string) (models.SessionState, error) {
	query := `
        SELECT id, assistant_id, thread_id, created_at, updated_at
        FROM sessions
        WHERE id = ?`

	var state models.SessionState
	err := db.db.QueryRowContext(ctx, query, sessionID).Scan(
		&state.SessionID, &state.AssistantID, &state.ThreadID, &state.CreatedAt, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionState{SessionID: sessionID}, nil
	}
	if err != nil {
		return models.SessionState{}, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return state, nil
}

// Save upserts the state and refreshes its timestamps.
func (db *Database) Save(ctx context.Context, state *models.SessionState) error {
	if state.SessionID == "" {
		return errors.New("session id is required")
	}
	query := `
        INSERT INTO sessions (id, assistant_id, thread_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            assistant_id = excluded.assistant_id,
            thread_id = excluded.thread_id,
            updated_at = excluded.updated_at`

	now := db.now()
	if _, err := db.db.ExecContext(ctx, query, state.SessionID, state.AssistantID, state.ThreadID, now, now); err != nil {
		return fmt.Errorf("failed to save session %s: %w", state.SessionID, err)
	}

	err := db.db.QueryRowContext(ctx, `SELECT created_at, updated_at FROM sessions WHERE id = ?`, state.SessionID).
		Scan(&state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to reload session %s: %w", state.SessionID, err)
	}
	return nil
}

func (db *Database) SaveDigest(ctx context.Context, d *models.Digest) error {
	steps, err := json.Marshal(d.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode run steps: %w", err)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := db.now()
	// Touch the session so an active one does not expire mid-conversation.
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, d.SessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to save digest: unknown session %s", d.SessionID)
	}

	err = tx.QueryRowContext(ctx, `
        INSERT INTO digests (session_id, topic, run_id, summary, steps, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        RETURNING id`,
		d.SessionID, d.Topic, d.RunID, d.Summary, string(steps), now).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to save digest: %w", err)
	}
	d.CreatedAt = now

	return tx.Commit()
}

// ListDigests returns the session's digests, newest first.
func (db *Database) ListDigests(ctx context.Context, sessionID string, limit int) ([]models.Digest, error) {
	query := `
        SELECT id, session_id, topic, run_id, summary, steps, created_at
        FROM digests
        WHERE session_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?`

	rows, err := db.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return []models.Digest{}, err
	}
	defer rows.Close()

	digests := make([]models.Digest, 0)
	for rows.Next() {
		var d models.Digest
		var steps string
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Topic, &d.RunID, &d.Summary, &steps, &d.CreatedAt); err != nil {
			return []models.Digest{}, err
		}
		if err := json.Unmarshal([]byte(steps), &d.Steps); err != nil {
			return []models.Digest{}, fmt.Errorf("failed to decode run steps of digest %d: %w", d.ID, err)
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

func (db *Database) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM digests WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// PurgeExpired drops sessions idle since before cutoff, with their digests.
func (db *Database) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cutoff = cutoff.UTC()
	if _, err := tx.ExecContext(ctx, `
        DELETE FROM digests
        WHERE session_id IN (SELECT id FROM sessions WHERE updated_at < ?)`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
