// Package graph serves the semantic relationships between notes.
package graph

import (
	"cmp"
	"slices"

	"github.com/starford/lumen/internal/models"
)

// Rank returns the notes linked to noteID, most similar first. Links are
// undirected: noteID may be either endpoint. Ties are broken by link id.
// Links pointing at unknown notes are skipped. limit <= 0 means no limit.
func Rank(noteID string, links []models.SemanticLink, notes map[string]models.Note, subjects map[string]models.Subject, limit int) []models.RelatedNote {
	var out []models.RelatedNote
	for _, l := range links {
		if !l.Touches(noteID) {
			continue
		}
		other := l.Other(noteID)
		if other == noteID {
			continue
		}
		n, ok := notes[other]
		if !ok {
			continue
		}
		out = append(out, models.RelatedNote{
			NoteID:      n.ID,
			Title:       n.Title,
			SubjectName: subjects[n.SubjectID].Name,
			Similarity:  l.Similarity,
			LinkID:      l.ID,
			LinkType:    l.Type,
		})
	}
	slices.SortFunc(out, func(a, b models.RelatedNote) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.LinkID, b.LinkID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
