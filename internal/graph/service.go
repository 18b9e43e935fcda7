package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/lumen/internal/apperr"
	"github.com/starford/lumen/internal/layout"
	"github.com/starford/lumen/internal/models"
)

// Store is the persistence the graph service needs.
type Store interface {
	GetRelatedNotes(ctx context.Context, noteID string, limit int) ([]models.RelatedNote, error)
	UpsertSemanticLink(ctx context.Context, l models.SemanticLink) error
	ListLinks(ctx context.Context) ([]models.SemanticLink, error)
	ListNotes(ctx context.Context, subjectID *string) ([]models.Note, error)
	GetNote(ctx context.Context, id string) (*models.Note, error)
}

// Service exposes related-note queries, link writes and the graph layout.
type Service struct {
	repo     Store
	now      func() time.Time
	onChange func()
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time assigned to new links.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithOnChange registers fn to run after every successful link write.
func WithOnChange(fn func()) Option {
	return func(s *Service) { s.onChange = fn }
}

// NewService returns a Service over repo.
func NewService(repo Store, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now, onChange: func() {}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RelatedNotes returns up to limit notes linked to noteID, most similar
// first. An unknown note has no related notes.
func (s *Service) RelatedNotes(ctx context.Context, noteID string, limit int) ([]models.RelatedNote, error) {
	related, err := s.repo.GetRelatedNotes(ctx, noteID, limit)
	if err != nil {
		return nil, fmt.Errorf("graph: related notes of %s: %w", noteID, err)
	}
	if related == nil {
		related = []models.RelatedNote{}
	}
	return related, nil
}

// UpsertLink stores l, replacing any link between the same two notes in
// either direction. A missing ID or CreatedAt is filled in. Both notes must
// exist.
func (s *Service) UpsertLink(ctx context.Context, l models.SemanticLink) (models.SemanticLink, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	if l.Type == "" {
		l.Type = models.LinkRelated
	}
	if err := l.Validate(); err != nil {
		return models.SemanticLink{}, fmt.Errorf("graph: %w: %v", apperr.ErrInvalidArgument, err)
	}
	for _, id := range []string{l.SourceID, l.TargetID} {
		n, err := s.repo.GetNote(ctx, id)
		if err != nil {
			return models.SemanticLink{}, fmt.Errorf("graph: get note %s: %w", id, err)
		}
		if n == nil {
			return models.SemanticLink{}, fmt.Errorf("graph: note %s: %w", id, apperr.ErrNotFound)
		}
	}
	if err := s.repo.UpsertSemanticLink(ctx, l); err != nil {
		return models.SemanticLink{}, fmt.Errorf("graph: upsert link: %w", err)
	}
	s.onChange()
	return l, nil
}

// Layout computes the graph view of one subject, or of the whole library
// when subjectID is nil.
func (s *Service) Layout(ctx context.Context, subjectID *string, cfg layout.Config) (layout.Graph, error) {
	if err := cfg.Validate(); err != nil {
		return layout.Graph{}, fmt.Errorf("graph: layout config: %w: %v", apperr.ErrInvalidArgument, err)
	}
	notes, err := s.repo.ListNotes(ctx, subjectID)
	if err != nil {
		return layout.Graph{}, fmt.Errorf("graph: list notes: %w", err)
	}
	links, err := s.repo.ListLinks(ctx)
	if err != nil {
		return layout.Graph{}, fmt.Errorf("graph: list links: %w", err)
	}
	return layout.Compute(notes, links, cfg), nil
}
