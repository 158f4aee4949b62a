package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the history database inside the data directory.
const FileName = "events.db"

// SQLite writes history events to a SQLite database. The controller and the
// watchdog run in different processes and share the file, so writes wait on
// the database lock instead of failing.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at dsn.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func OpenSQLite(dsn string) (*SQLite, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS session_events(
			timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			role TEXT,
			pid INTEGER,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS session_events_ts ON session_events(timestamp);`,
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Send(ctx context.Context, e Event) error {
	occur := e.OccurredAt
	if occur.IsZero() {
		occur = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events(timestamp, session_id, type, role, pid, detail)
		VALUES(?, ?, ?, ?, ?, ?);`,
		occur.UTC(), e.SessionID, string(e.Type), e.Role, e.PID, e.Detail)
	return err
}

// Recent returns up to limit events, newest first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, session_id, type, COALESCE(role, ''), COALESCE(pid, 0), COALESCE(detail, '')
		FROM session_events ORDER BY timestamp DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.OccurredAt, &e.SessionID, &typ, &e.Role, &e.PID, &e.Detail); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
