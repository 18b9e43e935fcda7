package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/lumen/internal/apperr"
	"github.com/starford/lumen/internal/models"
)

const cardColumns = `id, question, answer, kind, difficulty, subject_id, options, source_note_ids, explanation,
	ease_factor, interval_days, repetitions, next_review_at, created_at`

// GetDueCards returns cards that were never scheduled or whose review time has arrived.
func (db *DB) GetDueCards(ctx context.Context, subjectID *string, now time.Time) ([]models.FlashCard, error) {
	where := []string{"(next_review_at IS NULL OR next_review_at <= ?)"}
	args := []any{toMillis(now)}
	if subjectID != nil {
		where = append(where, "subject_id = ?")
		args = append(args, *subjectID)
	}
	return db.queryCards(ctx, `
		SELECT `+cardColumns+`
		FROM flash_cards
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY next_review_at IS NOT NULL, next_review_at, created_at, id
	`, args...)
}

// GetAllCards returns every card, optionally limited to one subject.
func (db *DB) GetAllCards(ctx context.Context, subjectID *string) ([]models.FlashCard, error) {
	query := `SELECT ` + cardColumns + ` FROM flash_cards`
	var args []any
	if subjectID != nil {
		query += ` WHERE subject_id = ?`
		args = append(args, *subjectID)
	}
	return db.queryCards(ctx, query+` ORDER BY created_at, id`, args...)
}

// GetCard returns the card with id, or nil when it does not exist.
func (db *DB) GetCard(ctx context.Context, id string) (*models.FlashCard, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM flash_cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get card %s: %w", id, err)
	}
	return c, nil
}

// UpdateCardSchedule overwrites the spaced-repetition state of a card.
func (db *DB) UpdateCardSchedule(ctx context.Context, cardID string, r models.Review) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE flash_cards
		SET ease_factor = ?, interval_days = ?, repetitions = ?, next_review_at = ?
		WHERE id = ?
	`, r.EaseFactor, r.IntervalDays, r.Repetitions, nullMillis(r.NextReviewAt), cardID)
	if err != nil {
		return fmt.Errorf("sqlite: update schedule %s: %w", cardID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: update schedule: card %s: %w", cardID, apperr.ErrNotFound)
	}
	return nil
}

// UpsertCard inserts a card or replaces its content. The review state of an
// existing card is kept.
func (db *DB) UpsertCard(ctx context.Context, c models.FlashCard) error {
	if c.Options == nil {
		c.Options = []models.Option{}
	}
	if c.SourceNoteIDs == nil {
		c.SourceNoteIDs = []string{}
	}
	options, err := json.Marshal(c.Options)
	if err != nil {
		return fmt.Errorf("sqlite: encode options: %w", err)
	}
	sources, err := json.Marshal(c.SourceNoteIDs)
	if err != nil {
		return fmt.Errorf("sqlite: encode sources: %w", err)
	}
	review := c.Review
	if review.EaseFactor == 0 {
		review = models.NewReview()
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = db.now()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flash_cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question        = excluded.question,
			answer          = excluded.answer,
			kind            = excluded.kind,
			difficulty      = excluded.difficulty,
			subject_id      = excluded.subject_id,
			options         = excluded.options,
			source_note_ids = excluded.source_note_ids,
			explanation     = excluded.explanation
	`, c.ID, c.Question, c.Answer, string(c.Kind), c.Difficulty, c.SubjectID, string(options), string(sources),
		c.Explanation, review.EaseFactor, review.IntervalDays, review.Repetitions, nullMillis(review.NextReviewAt),
		toMillis(createdAt))
	if err != nil {
		return fmt.Errorf("sqlite: upsert card %s: %w", c.ID, err)
	}

	// Replace source rows: delete old then insert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM card_sources WHERE card_id = ?`, c.ID); err != nil {
		return fmt.Errorf("sqlite: clear card sources: %w", err)
	}
	if len(c.SourceNoteIDs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO card_sources (card_id, note_id) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("sqlite: prepare source insert: %w", err)
		}
		defer stmt.Close()
		for _, noteID := range c.SourceNoteIDs {
			if _, err := stmt.ExecContext(ctx, c.ID, noteID); err != nil {
				return fmt.Errorf("sqlite: insert card source: %w", err)
			}
		}
	}
	return tx.Commit()
}

// DeleteCard removes a card; its source rows go with it.
func (db *DB) DeleteCard(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM flash_cards WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete card %s: %w", id, err)
	}
	return nil
}

func (db *DB) queryCards(ctx context.Context, query string, args ...any) ([]models.FlashCard, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query cards: %w", err)
	}
	defer rows.Close()

	var out []models.FlashCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan card: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCard(s scanner) (*models.FlashCard, error) {
	var (
		c                     models.FlashCard
		kind, options, source string
		nextReview            sql.NullInt64
		createdAt             int64
	)
	if err := s.Scan(&c.ID, &c.Question, &c.Answer, &kind, &c.Difficulty, &c.SubjectID, &options, &source,
		&c.Explanation, &c.Review.EaseFactor, &c.Review.IntervalDays, &c.Review.Repetitions, &nextReview,
		&createdAt); err != nil {
		return nil, err
	}
	c.Kind = models.CardKind(kind)
	c.Review.NextReviewAt = timePtr(nextReview)
	c.CreatedAt = fromMillis(createdAt)
	if err := json.Unmarshal([]byte(options), &c.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal([]byte(source), &c.SourceNoteIDs); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	return &c, nil
}
