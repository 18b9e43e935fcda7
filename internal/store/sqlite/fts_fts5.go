//go:build sqlite_fts5

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/lumen/internal/store"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			note_id UNINDEXED,
			title,
			body,
			summary,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id, title, body, summary string) error {
	_, _ = tx.Exec(`DELETE FROM notes_fts WHERE note_id = ?`, id)
	_, err := tx.Exec(`INSERT INTO notes_fts (note_id, title, body, summary) VALUES (?, ?, ?, ?)`,
		id, title, body, summary)
	if err != nil {
		return fmt.Errorf("sqlite: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM notes_fts WHERE note_id = ?`, id)
}

// SearchNotes performs an FTS5 full-text search and returns matching notes with snippets.
func (db *DB) SearchNotes(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT note_id,
		       title,
		       snippet(notes_fts, 2, '<b>', '</b>', '...', 64)
		FROM notes_fts
		WHERE notes_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()

	var out []store.SearchResult
	for rows.Next() {
		var r store.SearchResult
		if err := rows.Scan(&r.NoteID, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
