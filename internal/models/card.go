package models

import "time"

// CardKind distinguishes how a card is presented and graded.
type CardKind string

// Card kinds.
const (
	KindMultipleChoice CardKind = "multiple_choice"
	KindTrueFalse      CardKind = "true_false"
	KindFactCheck      CardKind = "fact_check"
	KindSynthesis      CardKind = "synthesis"
	KindReveal         CardKind = "flashcard"
)

// IsReveal reports whether the learner grades the card by self-assessment
// instead of picking an option.
func (k CardKind) IsReveal() bool {
	return k == KindReveal || k == KindSynthesis
}

// Confidence is the learner's optional rating of an answer.
type Confidence string

// Confidence ratings. ConfidenceNone means no rating was given.
const (
	ConfidenceNone Confidence = ""
	ConfidenceEasy Confidence = "easy"
	ConfidenceHard Confidence = "hard"
)

// DefaultEaseFactor is the ease assigned to cards that were never reviewed.
const DefaultEaseFactor = 2.5

// MinEaseFactor is the lowest ease the scheduler will ever produce.
const MinEaseFactor = 1.3

// Review is the spaced-repetition state of a card.
type Review struct {
	EaseFactor   float64    `json:"ease_factor"`
	IntervalDays int        `json:"interval_days"`
	Repetitions  int        `json:"repetitions"`
	NextReviewAt *time.Time `json:"next_review_at,omitempty"`
}

// NewReview returns the state of a card that has never been studied.
func NewReview() Review {
	return Review{EaseFactor: DefaultEaseFactor}
}

// IsDue reports whether the card should be shown at now.
func (r Review) IsDue(now time.Time) bool {
	return r.NextReviewAt == nil || !r.NextReviewAt.After(now)
}

// Option is one answer choice of a card.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// FlashCard is a question derived from one or more notes.
type FlashCard struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	Kind          CardKind  `json:"kind"`
	Difficulty    int       `json:"difficulty"`
	SubjectID     string    `json:"subject_id"`
	Options       []Option  `json:"options"`
	SourceNoteIDs []string  `json:"source_note_ids"`
	Explanation   string    `json:"explanation,omitempty"`
	Review        Review    `json:"review"`
	CreatedAt     time.Time `json:"created_at"`
}

// Option returns the option with the given id.
func (c FlashCard) Option(id string) (Option, bool) {
	for _, o := range c.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// CorrectAnswer returns the text of the correct option, falling back to Answer.
func (c FlashCard) CorrectAnswer() string {
	for _, o := range c.Options {
		if o.Correct {
			return o.Text
		}
	}
	return c.Answer
}
