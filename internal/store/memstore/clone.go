package memstore

import (
	"slices"
	"time"

	"github.com/starford/lumen/internal/models"
)

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneReview(r models.Review) models.Review {
	r.NextReviewAt = cloneTime(r.NextReviewAt)
	return r
}

func cloneCard(c models.FlashCard) models.FlashCard {
	c.Options = slices.Clone(c.Options)
	c.SourceNoteIDs = slices.Clone(c.SourceNoteIDs)
	c.Review = cloneReview(c.Review)
	return c
}

func cloneSession(s models.StudySession) models.StudySession {
	s.SubjectID = cloneString(s.SubjectID)
	s.FinishedAt = cloneTime(s.FinishedAt)
	s.TimeLimitSeconds = cloneInt(s.TimeLimitSeconds)
	s.CardIDs = slices.Clone(s.CardIDs)
	return s
}
