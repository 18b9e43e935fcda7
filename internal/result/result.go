// Package result summarises a study session once it is over.
package result

import (
	"fmt"

	"github.com/starford/lumen/internal/models"
)

// XPPerCorrect is the experience awarded for each correct answer.
const XPPerCorrect = 10

// CardLookup resolves card IDs for answer details.
type CardLookup interface {
	Card(id string) (models.FlashCard, bool)
}

// MapLookup is a CardLookup over a map keyed by card ID.
type MapLookup map[string]models.FlashCard

// Card implements CardLookup.
func (m MapLookup) Card(id string) (models.FlashCard, bool) {
	c, ok := m[id]
	return c, ok
}

// SliceLookup indexes cards by ID.
func SliceLookup(cards []models.FlashCard) MapLookup {
	m := make(MapLookup, len(cards))
	for _, c := range cards {
		m[c.ID] = c
	}
	return m
}

// AnswerDetail is an answer joined with the card it was given for.
type AnswerDetail struct {
	models.QuizAnswer
	Question      string `json:"question"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation,omitempty"`
}

// Summary is the outcome of a session.
type Summary struct {
	SessionID        string               `json:"session_id"`
	SubjectID        *string              `json:"subject_id,omitempty"`
	Kind             models.SessionKind   `json:"kind"`
	Status           models.SessionStatus `json:"status"`
	TotalQuestions   int                  `json:"total_questions"`
	TotalAnswered    int                  `json:"total_answered"`
	TotalCorrect     int                  `json:"total_correct"`
	ScorePercent     int                  `json:"score_percent"`
	XPEarned         int                  `json:"xp_earned"`
	TimeSpentSeconds int                  `json:"time_spent_seconds"`
	TimeSpent        string               `json:"time_spent"`
	CurrentStreak    int                  `json:"current_streak"`
	Details          []AnswerDetail       `json:"details"`
	Suggestions      []models.RelatedNote `json:"suggestions,omitempty"`
}

// Aggregate builds the summary of session from its answers. Answers for
// cards the lookup no longer knows get empty question and answer text.
// progress may be nil; it is only read for the subject's streak.
func Aggregate(session models.StudySession, answers []models.QuizAnswer, lookup CardLookup, progress *models.UserProgress) Summary {
	s := Summary{
		SessionID:      session.ID,
		SubjectID:      session.SubjectID,
		Kind:           session.Kind,
		Status:         session.Status,
		TotalQuestions: session.QuestionCount,
		TotalAnswered:  len(answers),
		Details:        make([]AnswerDetail, 0, len(answers)),
	}

	var summed int
	for _, a := range answers {
		if a.Correct {
			s.TotalCorrect++
		}
		summed += a.TimeSpentSeconds

		d := AnswerDetail{QuizAnswer: a}
		if lookup != nil {
			if c, ok := lookup.Card(a.CardID); ok {
				d.Question = c.Question
				d.CorrectAnswer = c.CorrectAnswer()
				d.Explanation = c.Explanation
			}
		}
		s.Details = append(s.Details, d)
	}

	s.ScorePercent = s.TotalCorrect * 100 / max(1, s.TotalAnswered)
	s.XPEarned = s.TotalCorrect * XPPerCorrect

	if session.FinishedAt != nil {
		s.TimeSpentSeconds = max(0, int(session.FinishedAt.Sub(session.StartedAt).Milliseconds()/1000))
	} else {
		s.TimeSpentSeconds = summed
	}
	s.TimeSpent = FormatDuration(s.TimeSpentSeconds)

	if session.SubjectID != nil && progress != nil && progress.SubjectID == *session.SubjectID {
		s.CurrentStreak = progress.CurrentStreak
	}
	return s
}

// FormatDuration renders seconds as "4m 5s", or "5s" under a minute.
func FormatDuration(seconds int) string {
	m, s := seconds/60, seconds%60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
