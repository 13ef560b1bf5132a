// Package msgstore keeps sent-message history in SQLite. SQLiteSink
// satisfies goSession.MessageSink.
package msgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

// ErrClosed is returned after Close.
var ErrClosed = errors.New("msgstore: closed")

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		message_id  TEXT NOT NULL,
		recipient   TEXT NOT NULL,
		kind        TEXT NOT NULL,
		body        TEXT NOT NULL DEFAULT '',
		mime_type   TEXT NOT NULL DEFAULT '',
		sent_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session_sent ON messages(session_id, sent_at)`,
}

// SQLiteSink stores MessageRecords in one SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. ":memory:" gives a private
// in-memory database.
func Open(ctx context.Context, path string) (*SQLiteSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("msgstore: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("msgstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout.Milliseconds())),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("msgstore: apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("msgstore: begin schema transaction: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("msgstore: apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("msgstore: commit schema transaction: %w", err)
	}
	return nil
}

// Save inserts rec.
func (s *SQLiteSink) Save(ctx context.Context, rec goSession.MessageRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, message_id, recipient, kind, body, mime_type, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.MessageID, rec.Recipient, rec.Kind, rec.Body, rec.MimeType,
		rec.SentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("msgstore: insert message: %w", err)
	}
	return nil
}

// List returns the newest limit messages of sessionID, oldest first. A
// non-positive limit returns all of them.
func (s *SQLiteSink) List(ctx context.Context, sessionID string, limit int) ([]goSession.MessageRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, message_id, recipient, kind, body, mime_type, sent_at
		 FROM (
		   SELECT * FROM messages WHERE session_id = ? ORDER BY sent_at DESC, rowid DESC LIMIT ?
		 ) ORDER BY sent_at ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgstore: query messages: %w", err)
	}
	defer rows.Close()

	var out []goSession.MessageRecord
	for rows.Next() {
		var (
			rec    goSession.MessageRecord
			sentAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.MessageID, &rec.Recipient,
			&rec.Kind, &rec.Body, &rec.MimeType, &sentAt); err != nil {
			return nil, fmt.Errorf("msgstore: scan message: %w", err)
		}
		rec.SentAt = time.Unix(0, sentAt).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgstore: iterate messages: %w", err)
	}
	return out, nil
}

// Purge deletes the history of sessionID and returns the number of rows
// removed.
func (s *SQLiteSink) Purge(ctx context.Context, sessionID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("msgstore: delete messages: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database.
func (s *SQLiteSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
