// Package sqlite implements store.Repository on SQLite, with optional FTS5
// note search.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/lumen/internal/store"
)

// Timestamps are stored as unix milliseconds so that due-date comparisons and
// ordering happen on integers.
const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS subjects (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL DEFAULT '',
	color               TEXT NOT NULL DEFAULT '',
	icon                TEXT NOT NULL DEFAULT '',
	mastery_percent     REAL NOT NULL DEFAULT 0,
	reviewed_note_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS notes (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT '',
	subject_id   TEXT NOT NULL DEFAULT '',
	week         INTEGER,
	read_minutes INTEGER NOT NULL DEFAULT 0,
	checksum     TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_subject ON notes(subject_id);

CREATE TABLE IF NOT EXISTS flash_cards (
	id              TEXT PRIMARY KEY,
	question        TEXT NOT NULL,
	answer          TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL,
	difficulty      INTEGER NOT NULL DEFAULT 0,
	subject_id      TEXT NOT NULL DEFAULT '',
	options         TEXT NOT NULL DEFAULT '[]',
	source_note_ids TEXT NOT NULL DEFAULT '[]',
	explanation     TEXT NOT NULL DEFAULT '',
	ease_factor     REAL NOT NULL DEFAULT 2.5 CHECK (ease_factor >= 1.3),
	interval_days   INTEGER NOT NULL DEFAULT 0 CHECK (interval_days >= 0),
	repetitions     INTEGER NOT NULL DEFAULT 0 CHECK (repetitions >= 0),
	next_review_at  INTEGER,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cards_subject_due ON flash_cards(subject_id, next_review_at);

CREATE TABLE IF NOT EXISTS card_sources (
	card_id TEXT NOT NULL REFERENCES flash_cards(id) ON DELETE CASCADE,
	note_id TEXT NOT NULL,
	PRIMARY KEY (card_id, note_id)
);

CREATE INDEX IF NOT EXISTS idx_card_sources_note ON card_sources(note_id);

CREATE TABLE IF NOT EXISTS semantic_links (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	similarity REAL NOT NULL DEFAULT 0,
	type       TEXT NOT NULL DEFAULT 'related',
	strength   REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE(source_id, target_id)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON semantic_links(source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON semantic_links(target_id);

CREATE TABLE IF NOT EXISTS study_sessions (
	id                 TEXT PRIMARY KEY,
	subject_id         TEXT,
	kind               TEXT NOT NULL,
	started_at         INTEGER NOT NULL,
	finished_at        INTEGER,
	question_count     INTEGER NOT NULL DEFAULT 0,
	time_limit_seconds INTEGER,
	status             TEXT NOT NULL DEFAULT 'in_progress' CHECK (status IN ('in_progress', 'completed')),
	card_ids           TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS quiz_answers (
	id                 TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL REFERENCES study_sessions(id),
	card_id            TEXT NOT NULL,
	answer             TEXT NOT NULL DEFAULT '',
	correct            INTEGER NOT NULL DEFAULT 0,
	confidence         TEXT NOT NULL DEFAULT '',
	time_spent_seconds INTEGER NOT NULL DEFAULT 0,
	answered_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_answers_session ON quiz_answers(session_id, answered_at);

CREATE TABLE IF NOT EXISTS user_progress (
	subject_id         TEXT PRIMARY KEY,
	mastery_percent    REAL NOT NULL DEFAULT 0,
	notes_reviewed     INTEGER NOT NULL DEFAULT 0,
	notes_total        INTEGER NOT NULL DEFAULT 0,
	average_score      REAL NOT NULL DEFAULT 0,
	sessions_completed INTEGER NOT NULL DEFAULT 0,
	current_streak     INTEGER NOT NULL DEFAULT 0,
	experience_points  INTEGER NOT NULL DEFAULT 0,
	last_studied_at    INTEGER
);
`

// DB wraps a sql.DB with repository operations.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Verify *DB satisfies store.Repository at compile time.
var _ store.Repository = (*DB)(nil)

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: apply fts schema: %w", err)
	}
	return &DB{conn: conn, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
