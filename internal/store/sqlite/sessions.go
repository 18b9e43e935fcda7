package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/lumen/internal/apperr"
	"github.com/starford/lumen/internal/models"
)

const sessionColumns = `id, subject_id, kind, started_at, finished_at, question_count, time_limit_seconds, status, card_ids`

// CreateSession inserts a new in-progress session.
func (db *DB) CreateSession(ctx context.Context, kind models.SessionKind, subjectID *string, questionCount int, timeLimitSeconds *int, cardIDs []string) (*models.StudySession, error) {
	if cardIDs == nil {
		cardIDs = []string{}
	}
	plan, err := json.Marshal(cardIDs)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode card plan: %w", err)
	}
	sess := &models.StudySession{
		ID:               uuid.NewString(),
		SubjectID:        subjectID,
		Kind:             kind,
		StartedAt:        fromMillis(toMillis(db.now())),
		QuestionCount:    questionCount,
		TimeLimitSeconds: timeLimitSeconds,
		Status:           models.StatusInProgress,
		CardIDs:          cardIDs,
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO study_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, NULL, ?, ?, ?, ?)
	`, sess.ID, nullString(subjectID), string(kind), toMillis(sess.StartedAt), questionCount,
		nullInt(timeLimitSeconds), string(sess.Status), string(plan))
	if err != nil {
		return nil, fmt.Errorf("sqlite: create session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session with id, or nil when it does not exist.
func (db *DB) GetSession(ctx context.Context, id string) (*models.StudySession, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM study_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get session %s: %w", id, err)
	}
	return sess, nil
}

// CompleteSession marks an in-progress session completed. Completed sessions
// are left untouched.
func (db *DB) CompleteSession(ctx context.Context, id string, finishedAt time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE study_sessions
		SET status = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, string(models.StatusCompleted), toMillis(finishedAt), id, string(models.StatusInProgress))
	if err != nil {
		return fmt.Errorf("sqlite: complete session %s: %w", id, err)
	}
	return nil
}

// ListOpenSessions returns in-progress sessions started before the given time, oldest first.
func (db *DB) ListOpenSessions(ctx context.Context, startedBefore time.Time) ([]models.StudySession, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM study_sessions
		WHERE status = ? AND started_at < ?
		ORDER BY started_at, id
	`, string(models.StatusInProgress), toMillis(startedBefore))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list open sessions: %w", err)
	}
	defer rows.Close()

	var out []models.StudySession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (*models.StudySession, error) {
	var (
		sess                      models.StudySession
		subjectID                 sql.NullString
		kind, status, plan        string
		startedAt                 int64
		finishedAt, timeLimitSecs sql.NullInt64
	)
	if err := s.Scan(&sess.ID, &subjectID, &kind, &startedAt, &finishedAt, &sess.QuestionCount,
		&timeLimitSecs, &status, &plan); err != nil {
		return nil, err
	}
	sess.SubjectID = stringPtr(subjectID)
	sess.Kind = models.SessionKind(kind)
	sess.StartedAt = fromMillis(startedAt)
	sess.FinishedAt = timePtr(finishedAt)
	sess.TimeLimitSeconds = intPtr(timeLimitSecs)
	sess.Status = models.SessionStatus(status)
	if err := json.Unmarshal([]byte(plan), &sess.CardIDs); err != nil {
		return nil, fmt.Errorf("decode card plan: %w", err)
	}
	return &sess, nil
}

// RecordAnswer inserts or replaces an answer. The referenced card must exist.
func (db *DB) RecordAnswer(ctx context.Context, a models.QuizAnswer) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM flash_cards WHERE id = ?`, a.CardID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: record answer: card %s: %w", a.CardID, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("sqlite: record answer: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO quiz_answers (id, session_id, card_id, answer, correct, confidence, time_spent_seconds, answered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id         = excluded.session_id,
			card_id            = excluded.card_id,
			answer             = excluded.answer,
			correct            = excluded.correct,
			confidence         = excluded.confidence,
			time_spent_seconds = excluded.time_spent_seconds,
			answered_at        = excluded.answered_at
	`, a.ID, a.SessionID, a.CardID, a.Answer, a.Correct, string(a.Confidence), a.TimeSpentSeconds, toMillis(a.AnsweredAt))
	if err != nil {
		return fmt.Errorf("sqlite: record answer: %w", err)
	}
	return tx.Commit()
}

// GetAnswers returns a session's answers in submission order.
func (db *DB) GetAnswers(ctx context.Context, sessionID string) ([]models.QuizAnswer, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, session_id, card_id, answer, correct, confidence, time_spent_seconds, answered_at
		FROM quiz_answers
		WHERE session_id = ?
		ORDER BY answered_at, rowid
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get answers: %w", err)
	}
	defer rows.Close()

	var out []models.QuizAnswer
	for rows.Next() {
		var (
			a          models.QuizAnswer
			confidence string
			answeredAt int64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.CardID, &a.Answer, &a.Correct, &confidence,
			&a.TimeSpentSeconds, &answeredAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan answer: %w", err)
		}
		a.Confidence = models.Confidence(confidence)
		a.AnsweredAt = fromMillis(answeredAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
