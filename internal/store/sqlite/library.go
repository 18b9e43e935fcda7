package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/starford/lumen/internal/models"
)

const subjectSelect = `
	SELECT s.id, s.name, s.color, s.icon, s.mastery_percent, s.reviewed_note_count,
	       (SELECT count(*) FROM notes n WHERE n.subject_id = s.id)
	FROM subjects s`

// UpsertSubject inserts or replaces a subject's descriptive fields.
func (db *DB) UpsertSubject(ctx context.Context, s models.Subject) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO subjects (id, name, color, icon, mastery_percent, reviewed_note_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name  = excluded.name,
			color = excluded.color,
			icon  = excluded.icon
	`, s.ID, s.Name, s.Color, s.Icon, s.MasteryPercent, s.ReviewedNoteCount)
	if err != nil {
		return fmt.Errorf("sqlite: upsert subject %s: %w", s.ID, err)
	}
	return nil
}

// GetSubject returns the subject with id, or nil when it does not exist.
func (db *DB) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	var s models.Subject
	err := db.conn.QueryRowContext(ctx, subjectSelect+` WHERE s.id = ?`, id).
		Scan(&s.ID, &s.Name, &s.Color, &s.Icon, &s.MasteryPercent, &s.ReviewedNoteCount, &s.NoteCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get subject %s: %w", id, err)
	}
	return &s, nil
}

// ListSubjects returns all subjects ordered by name.
func (db *DB) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	rows, err := db.conn.QueryContext(ctx, subjectSelect+` ORDER BY s.name, s.id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list subjects: %w", err)
	}
	defer rows.Close()

	var out []models.Subject
	for rows.Next() {
		var s models.Subject
		if err := rows.Scan(&s.ID, &s.Name, &s.Color, &s.Icon, &s.MasteryPercent, &s.ReviewedNoteCount, &s.NoteCount); err != nil {
			return nil, fmt.Errorf("sqlite: scan subject: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertNote inserts or replaces a note and its FTS entry within a transaction.
// The original creation time of an existing note is kept.
func (db *DB) UpsertNote(ctx context.Context, n models.Note, checksum string) error {
	now := db.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (id, title, body, summary, subject_id, week, read_minutes, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title        = excluded.title,
			body         = excluded.body,
			summary      = excluded.summary,
			subject_id   = excluded.subject_id,
			week         = excluded.week,
			read_minutes = excluded.read_minutes,
			checksum     = excluded.checksum,
			updated_at   = excluded.updated_at
	`, n.ID, n.Title, n.Body, n.Summary, n.SubjectID, nullInt(n.Week), n.ReadMinutes, checksum,
		toMillis(n.CreatedAt), toMillis(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: upsert note %s: %w", n.ID, err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, n.ID, n.Title, n.Body, n.Summary); err != nil {
		return err
	}
	return tx.Commit()
}

const noteColumns = `id, title, body, summary, subject_id, week, read_minutes, created_at, updated_at`

// GetNote returns the note with id, or nil when it does not exist.
func (db *DB) GetNote(ctx context.Context, id string) (*models.Note, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get note %s: %w", id, err)
	}
	return n, nil
}

// ListNotes returns notes ordered by subject, week and creation time.
func (db *DB) ListNotes(ctx context.Context, subjectID *string) ([]models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes`
	var args []any
	if subjectID != nil {
		query += ` WHERE subject_id = ?`
		args = append(args, *subjectID)
	}
	rows, err := db.conn.QueryContext(ctx, query+` ORDER BY subject_id, week IS NULL, week, created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list notes: %w", err)
	}
	defer rows.Close()

	var out []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan note: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func scanNote(s scanner) (*models.Note, error) {
	var (
		n                    models.Note
		week                 sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := s.Scan(&n.ID, &n.Title, &n.Body, &n.Summary, &n.SubjectID, &week, &n.ReadMinutes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.Week = intPtr(week)
	n.CreatedAt = fromMillis(createdAt)
	n.UpdatedAt = fromMillis(updatedAt)
	return &n, nil
}

// DeleteNote removes a note, its FTS entry, every link touching it, and the
// cards whose only source it was. Cards with other sources keep them.
func (db *DB) DeleteNote(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	if _, err := tx.ExecContext(ctx, `DELETE FROM semantic_links WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
		return fmt.Errorf("sqlite: delete links: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT c.id, c.source_note_ids
		FROM flash_cards c
		JOIN card_sources cs ON cs.card_id = c.id
		WHERE cs.note_id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("sqlite: find sourced cards: %w", err)
	}
	type sourced struct {
		id      string
		sources []string
	}
	var cards []sourced
	for rows.Next() {
		var (
			c   sourced
			raw string
		)
		if err := rows.Scan(&c.id, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: scan sourced card: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &c.sources); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: decode sources: %w", err)
		}
		cards = append(cards, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range cards {
		remaining := slices.DeleteFunc(c.sources, func(s string) bool { return s == id })
		if len(remaining) == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM flash_cards WHERE id = ?`, c.id); err != nil {
				return fmt.Errorf("sqlite: delete card %s: %w", c.id, err)
			}
			continue
		}
		raw, _ := json.Marshal(remaining)
		if _, err := tx.ExecContext(ctx, `UPDATE flash_cards SET source_note_ids = ? WHERE id = ?`, string(raw), c.id); err != nil {
			return fmt.Errorf("sqlite: update card sources: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM card_sources WHERE card_id = ? AND note_id = ?`, c.id, id); err != nil {
			return fmt.Errorf("sqlite: delete card source: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete note: %w", err)
	}
	return tx.Commit()
}

// NoteChecksums returns the stored content checksum of every note.
func (db *DB) NoteChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: note checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}
