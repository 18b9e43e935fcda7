// Package progress folds completed sessions into per-subject progress.
package progress

import (
	"time"

	"github.com/starford/lumen/internal/models"
)

// MasteredRepetitions is the number of consecutive correct reviews after
// which a card counts as mastered.
const MasteredRepetitions = 2

// Outcome is what one finished session contributes to a subject.
type Outcome struct {
	ScorePercent int
	XPEarned     int
	At           time.Time
}

// Apply returns prev updated with o. The streak counts consecutive calendar
// days, in o.At's location, on which at least one session was completed.
func Apply(prev models.UserProgress, o Outcome) models.UserProgress {
	next := prev
	n := float64(prev.SessionsCompleted)
	next.AverageScore = (prev.AverageScore*n + float64(o.ScorePercent)) / (n + 1)
	next.SessionsCompleted++
	next.ExperiencePoints += o.XPEarned
	next.CurrentStreak = streak(prev, o.At)
	at := o.At
	next.LastStudiedAt = &at
	return next
}

func streak(prev models.UserProgress, at time.Time) int {
	if prev.LastStudiedAt == nil {
		return 1
	}
	switch daysBetween(*prev.LastStudiedAt, at) {
	case 0:
		return max(1, prev.CurrentStreak)
	case 1:
		return prev.CurrentStreak + 1
	default:
		return 1
	}
}

// daysBetween counts calendar-day boundaries from a to b in b's location.
func daysBetween(a, b time.Time) int {
	loc := b.Location()
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da) / (24 * time.Hour))
}

// Mastery measures a subject's cards: the share mastered, as a percent, and
// the number of distinct notes behind cards that were reviewed at least once.
func Mastery(cards []models.FlashCard) (percent float64, reviewedNotes int) {
	if len(cards) == 0 {
		return 0, 0
	}
	var mastered int
	notes := make(map[string]struct{})
	for _, c := range cards {
		if c.Review.Repetitions >= MasteredRepetitions {
			mastered++
		}
		if c.Review.Repetitions > 0 || c.Review.NextReviewAt != nil {
			for _, id := range c.SourceNoteIDs {
				notes[id] = struct{}{}
			}
		}
	}
	return float64(mastered) * 100 / float64(len(cards)), len(notes)
}
