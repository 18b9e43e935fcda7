package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/lumen/internal/models"
)

// GetProgress returns the progress row of a subject, or nil when none exists yet.
func (db *DB) GetProgress(ctx context.Context, subjectID string) (*models.UserProgress, error) {
	var (
		p         models.UserProgress
		lastStudy sql.NullInt64
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT subject_id, mastery_percent, notes_reviewed, notes_total, average_score,
		       sessions_completed, current_streak, experience_points, last_studied_at
		FROM user_progress WHERE subject_id = ?
	`, subjectID).Scan(&p.SubjectID, &p.MasteryPercent, &p.NotesReviewed, &p.NotesTotal, &p.AverageScore,
		&p.SessionsCompleted, &p.CurrentStreak, &p.ExperiencePoints, &lastStudy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get progress %s: %w", subjectID, err)
	}
	p.LastStudiedAt = timePtr(lastStudy)
	return &p, nil
}

// SaveProgress upserts a progress row and mirrors mastery onto the subject.
func (db *DB) SaveProgress(ctx context.Context, p models.UserProgress) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_progress (subject_id, mastery_percent, notes_reviewed, notes_total, average_score,
			sessions_completed, current_streak, experience_points, last_studied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			mastery_percent    = excluded.mastery_percent,
			notes_reviewed     = excluded.notes_reviewed,
			notes_total        = excluded.notes_total,
			average_score      = excluded.average_score,
			sessions_completed = excluded.sessions_completed,
			current_streak     = excluded.current_streak,
			experience_points  = excluded.experience_points,
			last_studied_at    = excluded.last_studied_at
	`, p.SubjectID, p.MasteryPercent, p.NotesReviewed, p.NotesTotal, p.AverageScore, p.SessionsCompleted,
		p.CurrentStreak, p.ExperiencePoints, nullMillis(p.LastStudiedAt))
	if err != nil {
		return fmt.Errorf("sqlite: save progress %s: %w", p.SubjectID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE subjects SET mastery_percent = ?, reviewed_note_count = ? WHERE id = ?
	`, p.MasteryPercent, p.NotesReviewed, p.SubjectID); err != nil {
		return fmt.Errorf("sqlite: update subject mastery: %w", err)
	}
	return tx.Commit()
}
