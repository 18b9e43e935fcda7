package models

import "time"

// SessionKind distinguishes untimed review from timed exams.
type SessionKind string

// Session kinds.
const (
	SessionQuickReview SessionKind = "quick_review"
	SessionTimedExam   SessionKind = "timed_exam"
)

// SessionStatus is the persisted lifecycle state of a session.
type SessionStatus string

// Session statuses. There is no abandoned status: a session that is left
// stays in progress and can be resumed.
const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// StudySession is one run through a set of cards.
type StudySession struct {
	ID               string        `json:"id"`
	SubjectID        *string       `json:"subject_id,omitempty"`
	Kind             SessionKind   `json:"kind"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	QuestionCount    int           `json:"question_count"`
	TimeLimitSeconds *int          `json:"time_limit_seconds,omitempty"`
	Status           SessionStatus `json:"status"`
	CardIDs          []string      `json:"card_ids"`
}

// Completed reports whether the session reached its terminal state.
func (s StudySession) Completed() bool {
	return s.Status == StatusCompleted
}

// QuizAnswer records one submitted answer. Answers are never updated.
type QuizAnswer struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	CardID           string     `json:"card_id"`
	Answer           string     `json:"answer"`
	Correct          bool       `json:"correct"`
	Confidence       Confidence `json:"confidence,omitempty"`
	TimeSpentSeconds int        `json:"time_spent_seconds"`
	AnsweredAt       time.Time  `json:"answered_at"`
}

// UserProgress aggregates a learner's history for one subject.
type UserProgress struct {
	SubjectID         string     `json:"subject_id"`
	MasteryPercent    float64    `json:"mastery_percent"`
	NotesReviewed     int        `json:"notes_reviewed"`
	NotesTotal        int        `json:"notes_total"`
	AverageScore      float64    `json:"average_score"`
	SessionsCompleted int        `json:"sessions_completed"`
	CurrentStreak     int        `json:"current_streak"`
	ExperiencePoints  int        `json:"experience_points"`
	LastStudiedAt     *time.Time `json:"last_studied_at,omitempty"`
}
