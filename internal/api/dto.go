package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/lumen/internal/ingest"
	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/store"
	"github.com/starford/lumen/internal/studyservice"
)

// StartSessionRequest is the request body for starting a session.
type StartSessionRequest = studyservice.StartRequest

// SelectOptionRequest is the request body for selecting an answer.
type SelectOptionRequest struct {
	OptionID string `json:"option_id" example:"b" validate:"required"`
}

// Validate checks the request.
func (r SelectOptionRequest) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.OptionID, validation.Required))
}

// ConfidenceRequest is the request body for rating the current answer.
type ConfidenceRequest struct {
	Confidence models.Confidence `json:"confidence" example:"easy"`
}

// Validate checks the request. An empty confidence clears the rating.
func (r ConfidenceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Confidence, validation.In(models.ConfidenceEasy, models.ConfidenceHard)),
	)
}

// LinkRequest is the request body for creating or replacing a semantic link.
type LinkRequest struct {
	SourceID   string   `json:"source_id" example:"bio/cells" validate:"required"`
	TargetID   string   `json:"target_id" example:"bio/dna" validate:"required"`
	Similarity *float64 `json:"similarity" example:"0.8" validate:"required"`
	Type       string   `json:"type,omitempty" example:"prerequisite"`
	Strength   *float64 `json:"strength,omitempty" example:"0.6"`
}

// Validate checks presence; ranges are checked by the graph service.
func (r LinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SourceID, validation.Required),
		validation.Field(&r.TargetID, validation.Required),
		validation.Field(&r.Similarity, validation.NotNil),
	)
}

func (r LinkRequest) link() models.SemanticLink {
	l := models.SemanticLink{SourceID: r.SourceID, TargetID: r.TargetID, Similarity: *r.Similarity, Type: r.Type}
	l.Strength = l.Similarity
	if r.Strength != nil {
		l.Strength = *r.Strength
	}
	return l
}

// WriteSourceRequest is the request body for replacing a note's Markdown.
type WriteSourceRequest struct {
	Content string `json:"content" example:"# Cells\nThe unit of life." validate:"required"`
}

// Validate checks the request.
func (r WriteSourceRequest) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.Content, validation.Required))
}

// NoteDetail is a note with its nearest neighbours in the graph.
type NoteDetail struct {
	models.Note
	Related []models.RelatedNote `json:"related" validate:"required"`
}

// NoteSource is the raw Markdown of a note (aliased from the ingest layer).
type NoteSource = ingest.Source

// SyncResponse reports a library sync (aliased from the ingest layer).
type SyncResponse = ingest.Stats

// SubjectsResponse wraps the subject listing.
type SubjectsResponse struct {
	Subjects []models.Subject `json:"subjects" validate:"required"`
}

// NotesResponse wraps note listings.
type NotesResponse struct {
	Notes []models.Note `json:"notes" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// RelatedResponse wraps related notes.
type RelatedResponse struct {
	Related []models.RelatedNote `json:"related" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []store.SearchResult `json:"results" validate:"required"`
}

// DueCardsResponse wraps the cards due now.
type DueCardsResponse struct {
	Cards []models.FlashCard `json:"cards" validate:"required"`
	Total int                `json:"total" example:"12" validate:"required"`
}

// SessionsResponse wraps session listings.
type SessionsResponse struct {
	Sessions []models.StudySession `json:"sessions" validate:"required"`
}
