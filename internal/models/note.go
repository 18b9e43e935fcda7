// Package models defines the domain types for Lumen.
package models

import "time"

// Subject groups notes and cards under one field of study.
type Subject struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Color             string  `json:"color"`
	Icon              string  `json:"icon"`
	MasteryPercent    float64 `json:"mastery_percent"`
	NoteCount         int     `json:"note_count"`
	ReviewedNoteCount int     `json:"reviewed_note_count"`
}

// Note is a piece of study material owned by a subject.
type Note struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Summary     string    `json:"summary"`
	SubjectID   string    `json:"subject_id"`
	Week        *int      `json:"week,omitempty"`
	ReadMinutes int       `json:"read_minutes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Link types.
const (
	LinkPrerequisite = "prerequisite"
	LinkRelated      = "related"
	LinkAnalogy      = "analogy"
)

// SemanticLink is a weighted, typed edge between two notes. It is stored
// directionally but means the same thing from either side.
type SemanticLink struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	TargetID   string    `json:"target_id"`
	Similarity float64   `json:"similarity"`
	Type       string    `json:"type"`
	Strength   float64   `json:"strength"`
	CreatedAt  time.Time `json:"created_at"`
}

// Other returns the endpoint of l that is not noteID.
func (l SemanticLink) Other(noteID string) string {
	if l.SourceID == noteID {
		return l.TargetID
	}
	return l.SourceID
}

// Touches reports whether noteID is either endpoint of l.
func (l SemanticLink) Touches(noteID string) bool {
	return l.SourceID == noteID || l.TargetID == noteID
}

// SamePair reports whether l and o connect the same two notes, in either direction.
func (l SemanticLink) SamePair(o SemanticLink) bool {
	return (l.SourceID == o.SourceID && l.TargetID == o.TargetID) ||
		(l.SourceID == o.TargetID && l.TargetID == o.SourceID)
}

// RelatedNote is one row of a related-notes query.
type RelatedNote struct {
	NoteID      string  `json:"note_id"`
	Title       string  `json:"title"`
	SubjectName string  `json:"subject_name"`
	Similarity  float64 `json:"similarity"`
	LinkID      string  `json:"link_id"`
	LinkType    string  `json:"link_type"`
}

// LibraryFile is a lightweight representation returned by library listings.
type LibraryFile struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
