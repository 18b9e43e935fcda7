// Package srs implements the SM-2 variant used to space card reviews.
//
// Everything here is a pure function of its arguments, so the same answer can
// be re-applied after a crash without double counting repetitions.
package srs

import (
	"math"
	"time"

	"github.com/starford/lumen/internal/models"
)

// Day is the length of one scheduling interval unit.
const Day = 24 * time.Hour

// Quality is the 0..5 grade SM-2 works with.
type Quality int

// Grades produced by QualityOf.
const (
	QualityIncorrect Quality = 1
	QualityHard      Quality = 3
	QualityGood      Quality = 4
	QualityEasy      Quality = 5
)

// passing is the lowest grade that counts as recalled.
const passing Quality = 3

// QualityOf maps an answer outcome to an SM-2 grade.
func QualityOf(correct bool, conf models.Confidence) Quality {
	switch {
	case !correct:
		return QualityIncorrect
	case conf == models.ConfidenceHard:
		return QualityHard
	case conf == models.ConfidenceEasy:
		return QualityEasy
	default:
		return QualityGood
	}
}

// Outcome is the new scheduling state computed from one answer.
type Outcome struct {
	EaseFactor   float64
	IntervalDays int
	Repetitions  int
}

// Schedule computes the next ease, interval and repetition count for a card.
func Schedule(r models.Review, correct bool, conf models.Confidence) Outcome {
	return ScheduleQuality(r, QualityOf(correct, conf))
}

// ScheduleQuality is Schedule for an explicit grade. Grades outside 0..5 are clamped.
func ScheduleQuality(r models.Review, q Quality) Outcome {
	q = min(max(q, 0), 5)

	ease := r.EaseFactor
	if ease < models.MinEaseFactor {
		ease = models.MinEaseFactor
	}
	d := float64(5 - q)
	ease = math.Max(models.MinEaseFactor, ease+(0.1-d*(0.08+d*0.02)))

	if q < passing {
		return Outcome{EaseFactor: ease, IntervalDays: 1, Repetitions: 0}
	}

	reps := r.Repetitions + 1
	var interval int
	switch reps {
	case 1:
		interval = 1
	case 2:
		interval = 6
	default:
		interval = int(math.Round(float64(r.IntervalDays) * ease))
	}
	return Outcome{EaseFactor: ease, IntervalDays: interval, Repetitions: reps}
}

// NextReviewAt returns the moment a card scheduled intervalDays from now becomes due.
func NextReviewAt(now time.Time, intervalDays int) time.Time {
	return now.Add(time.Duration(intervalDays) * Day)
}

// Apply returns the review state to persist for this outcome.
func (o Outcome) Apply(now time.Time) models.Review {
	next := NextReviewAt(now, o.IntervalDays)
	return models.Review{
		EaseFactor:   o.EaseFactor,
		IntervalDays: o.IntervalDays,
		Repetitions:  o.Repetitions,
		NextReviewAt: &next,
	}
}
