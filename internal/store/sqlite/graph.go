package sqlite

import (
	"context"
	"fmt"

	"github.com/starford/lumen/internal/models"
)

// GetRelatedNotes returns notes linked to noteID from either side of a link,
// most similar first, ties broken by link id.
func (db *DB) GetRelatedNotes(ctx context.Context, noteID string, limit int) ([]models.RelatedNote, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT n.id, n.title, COALESCE(s.name, ''), l.similarity, l.id, l.type
		FROM semantic_links l
		JOIN notes n ON n.id = CASE WHEN l.source_id = ?1 THEN l.target_id ELSE l.source_id END
		LEFT JOIN subjects s ON s.id = n.subject_id
		WHERE (l.source_id = ?1 OR l.target_id = ?1) AND n.id <> ?1
		ORDER BY l.similarity DESC, l.id ASC
		LIMIT ?2
	`, noteID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: related notes %s: %w", noteID, err)
	}
	defer rows.Close()

	var out []models.RelatedNote
	for rows.Next() {
		var r models.RelatedNote
		if err := rows.Scan(&r.NoteID, &r.Title, &r.SubjectName, &r.Similarity, &r.LinkID, &r.LinkType); err != nil {
			return nil, fmt.Errorf("sqlite: scan related note: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertSemanticLink stores l, replacing any link between the same two notes.
// The UNIQUE(source_id, target_id) constraint covers the stored direction;
// the reverse direction is removed in the same transaction.
func (db *DB) UpsertSemanticLink(ctx context.Context, l models.SemanticLink) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DELETE FROM semantic_links WHERE source_id = ? AND target_id = ?`,
		l.TargetID, l.SourceID); err != nil {
		return fmt.Errorf("sqlite: drop reverse link: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO semantic_links (id, source_id, target_id, similarity, type, strength, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id) DO UPDATE SET
			id         = excluded.id,
			similarity = excluded.similarity,
			type       = excluded.type,
			strength   = excluded.strength,
			created_at = excluded.created_at
	`, l.ID, l.SourceID, l.TargetID, l.Similarity, l.Type, l.Strength, toMillis(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: upsert link: %w", err)
	}
	return tx.Commit()
}

// ListLinks returns every stored link ordered by id.
func (db *DB) ListLinks(ctx context.Context) ([]models.SemanticLink, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source_id, target_id, similarity, type, strength, created_at
		FROM semantic_links
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list links: %w", err)
	}
	defer rows.Close()

	var out []models.SemanticLink
	for rows.Next() {
		var (
			l         models.SemanticLink
			createdAt int64
		)
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &l.Similarity, &l.Type, &l.Strength, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan link: %w", err)
		}
		l.CreatedAt = fromMillis(createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}
