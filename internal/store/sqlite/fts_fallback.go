//go:build !sqlite_fts5

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/lumen/internal/store"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE on the notes table.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _, _ string) error {
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// SearchNotes performs a LIKE-based search (fallback when FTS5 is not compiled in).
func (db *DB) SearchNotes(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, body
		FROM notes
		WHERE title LIKE ? OR body LIKE ? OR summary LIKE ?
		ORDER BY subject_id, week IS NULL, week, created_at, id
		LIMIT ?
	`, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()

	var out []store.SearchResult
	for rows.Next() {
		var r store.SearchResult
		var body string
		if err := rows.Scan(&r.NoteID, &r.Title, &body); err != nil {
			return nil, err
		}
		r.Snippet = store.Snippet(body)
		out = append(out, r)
	}
	return out, rows.Err()
}
