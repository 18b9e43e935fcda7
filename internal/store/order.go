package store

import (
	"cmp"
	"slices"

	"github.com/starford/lumen/internal/models"
)

// SortDue orders cards the way GetDueCards must return them.
func SortDue(cards []models.FlashCard) {
	slices.SortStableFunc(cards, func(a, b models.FlashCard) int {
		an, bn := a.Review.NextReviewAt, b.Review.NextReviewAt
		switch {
		case an == nil && bn != nil:
			return -1
		case an != nil && bn == nil:
			return 1
		case an != nil && bn != nil:
			if c := an.Compare(*bn); c != 0 {
				return c
			}
		}
		return byCreation(a, b)
	})
}

// SortCreated orders cards the way GetAllCards must return them.
func SortCreated(cards []models.FlashCard) {
	slices.SortStableFunc(cards, byCreation)
}

func byCreation(a, b models.FlashCard) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortNotes orders notes the way ListNotes must return them: by subject,
// week (notes without a week last), creation time and id.
func SortNotes(notes []models.Note) {
	slices.SortStableFunc(notes, func(a, b models.Note) int {
		if c := cmp.Compare(a.SubjectID, b.SubjectID); c != 0 {
			return c
		}
		switch {
		case a.Week != nil && b.Week == nil:
			return -1
		case a.Week == nil && b.Week != nil:
			return 1
		case a.Week != nil && b.Week != nil:
			if c := cmp.Compare(*a.Week, *b.Week); c != 0 {
				return c
			}
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// snippetLen bounds the body excerpt returned by searches without FTS.
const snippetLen = 200

// Snippet returns the leading part of body used as a search excerpt.
func Snippet(body string) string {
	r := []rune(body)
	if len(r) <= snippetLen {
		return body
	}
	return string(r[:snippetLen])
}
