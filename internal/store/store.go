// Package store defines the persistence contract the study engine depends on.
//
// Reads of a single entity return (nil, nil) when the entity does not exist:
// "nothing to show" is a normal state, not an error.
package store

import (
	"context"
	"time"

	"github.com/starford/lumen/internal/models"
)

// Sessions is the session and answer part of the contract.
type Sessions interface {
	// CreateSession inserts a new in-progress session with the given card plan.
	CreateSession(ctx context.Context, kind models.SessionKind, subjectID *string, questionCount int, timeLimitSeconds *int, cardIDs []string) (*models.StudySession, error)
	GetSession(ctx context.Context, id string) (*models.StudySession, error)
	// CompleteSession marks the session completed. It is a no-op when the
	// session is already completed.
	CompleteSession(ctx context.Context, id string, finishedAt time.Time) error
	// ListOpenSessions returns in-progress sessions started before the given time.
	ListOpenSessions(ctx context.Context, startedBefore time.Time) ([]models.StudySession, error)
	// RecordAnswer inserts or replaces an answer by its ID. The card must exist.
	RecordAnswer(ctx context.Context, a models.QuizAnswer) error
	GetAnswers(ctx context.Context, sessionID string) ([]models.QuizAnswer, error)
}

// Cards is the flash card part of the contract.
type Cards interface {
	// GetDueCards returns cards never scheduled or due at now, nil schedules
	// first, then by next review, creation time and id.
	GetDueCards(ctx context.Context, subjectID *string, now time.Time) ([]models.FlashCard, error)
	// GetAllCards returns every card ordered by creation time and id.
	GetAllCards(ctx context.Context, subjectID *string) ([]models.FlashCard, error)
	GetCard(ctx context.Context, id string) (*models.FlashCard, error)
	UpdateCardSchedule(ctx context.Context, cardID string, r models.Review) error
	// UpsertCard inserts a card or replaces its content, keeping its review state.
	UpsertCard(ctx context.Context, c models.FlashCard) error
	// DeleteCard removes a card. Deleting an unknown card is not an error.
	// Recorded answers keep their card id.
	DeleteCard(ctx context.Context, id string) error
}

// Graph is the note and semantic link part of the contract.
type Graph interface {
	// GetRelatedNotes treats links as undirected and orders by similarity
	// descending, then link id.
	GetRelatedNotes(ctx context.Context, noteID string, limit int) ([]models.RelatedNote, error)
	// UpsertSemanticLink replaces any link between the same two notes, in
	// either direction.
	UpsertSemanticLink(ctx context.Context, l models.SemanticLink) error
	ListLinks(ctx context.Context) ([]models.SemanticLink, error)
}

// Library is the subject and note part of the contract.
type Library interface {
	UpsertSubject(ctx context.Context, s models.Subject) error
	GetSubject(ctx context.Context, id string) (*models.Subject, error)
	ListSubjects(ctx context.Context) ([]models.Subject, error)
	// UpsertNote inserts or replaces a note. checksum identifies the library
	// file content it came from and may be empty.
	UpsertNote(ctx context.Context, n models.Note, checksum string) error
	GetNote(ctx context.Context, id string) (*models.Note, error)
	// ListNotes returns notes ordered by subject, week and creation time.
	ListNotes(ctx context.Context, subjectID *string) ([]models.Note, error)
	// DeleteNote removes a note, its links and the cards generated from it.
	DeleteNote(ctx context.Context, id string) error
	// NoteChecksums maps note id to the checksum stored with it.
	NoteChecksums(ctx context.Context) (map[string]string, error)
	SearchNotes(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// Progress is the per-subject learner progress part of the contract.
type Progress interface {
	GetProgress(ctx context.Context, subjectID string) (*models.UserProgress, error)
	SaveProgress(ctx context.Context, p models.UserProgress) error
}

// Repository is everything the engine needs from persistence.
type Repository interface {
	Sessions
	Cards
	Graph
	Library
	Progress
	Close() error
}

// SearchResult is one note search hit.
type SearchResult struct {
	NoteID  string `json:"note_id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}
