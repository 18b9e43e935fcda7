// Package memstore is an in-memory implementation of store.Repository.
//
// It backs the "memory" storage driver and the package tests of every
// component that depends on the repository.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/starford/lumen/internal/apperr"
	"github.com/starford/lumen/internal/graph"
	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/store"
)

// Store keeps every entity in maps guarded by a single lock.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	subjects  map[string]models.Subject
	notes     map[string]models.Note
	checksums map[string]string
	cards     map[string]models.FlashCard
	links     []models.SemanticLink
	sessions  map[string]models.StudySession
	answers   map[string][]models.QuizAnswer
	progress  map[string]models.UserProgress
}

// Verify *Store satisfies store.Repository at compile time.
var _ store.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created/started timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:       time.Now,
		subjects:  make(map[string]models.Subject),
		notes:     make(map[string]models.Note),
		checksums: make(map[string]string),
		cards:     make(map[string]models.FlashCard),
		sessions:  make(map[string]models.StudySession),
		answers:   make(map[string][]models.QuizAnswer),
		progress:  make(map[string]models.UserProgress),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// --- sessions ---

func (s *Store) CreateSession(ctx context.Context, kind models.SessionKind, subjectID *string, questionCount int, timeLimitSeconds *int, cardIDs []string) (*models.StudySession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := models.StudySession{
		ID:               uuid.NewString(),
		SubjectID:        cloneString(subjectID),
		Kind:             kind,
		StartedAt:        s.now(),
		QuestionCount:    questionCount,
		TimeLimitSeconds: cloneInt(timeLimitSeconds),
		Status:           models.StatusInProgress,
		CardIDs:          slices.Clone(cardIDs),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	out := cloneSession(sess)
	return &out, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.StudySession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	out := cloneSession(sess)
	return &out, nil
}

func (s *Store) CompleteSession(ctx context.Context, id string, finishedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Completed() {
		return nil
	}
	sess.Status = models.StatusCompleted
	sess.FinishedAt = &finishedAt
	s.sessions[id] = sess
	return nil
}

func (s *Store) ListOpenSessions(ctx context.Context, startedBefore time.Time) ([]models.StudySession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.StudySession
	for _, sess := range s.sessions {
		if !sess.Completed() && sess.StartedAt.Before(startedBefore) {
			out = append(out, cloneSession(sess))
		}
	}
	slices.SortFunc(out, func(a, b models.StudySession) int { return a.StartedAt.Compare(b.StartedAt) })
	return out, nil
}

func (s *Store) RecordAnswer(ctx context.Context, a models.QuizAnswer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[a.CardID]; !ok {
		return fmt.Errorf("memstore: record answer: card %s: %w", a.CardID, apperr.ErrNotFound)
	}
	list := s.answers[a.SessionID]
	for i := range list {
		if list[i].ID == a.ID {
			list[i] = a
			return nil
		}
	}
	s.answers[a.SessionID] = append(list, a)
	return nil
}

func (s *Store) GetAnswers(ctx context.Context, sessionID string) ([]models.QuizAnswer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.answers[sessionID]), nil
}

// --- cards ---

func (s *Store) GetDueCards(ctx context.Context, subjectID *string, now time.Time) ([]models.FlashCard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := s.cardsLocked(subjectID, func(c models.FlashCard) bool { return c.Review.IsDue(now) })
	s.mu.RUnlock()
	store.SortDue(out)
	return out, nil
}

func (s *Store) GetAllCards(ctx context.Context, subjectID *string) ([]models.FlashCard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := s.cardsLocked(subjectID, func(models.FlashCard) bool { return true })
	s.mu.RUnlock()
	store.SortCreated(out)
	return out, nil
}

func (s *Store) cardsLocked(subjectID *string, keep func(models.FlashCard) bool) []models.FlashCard {
	var out []models.FlashCard
	for _, c := range s.cards {
		if subjectID != nil && c.SubjectID != *subjectID {
			continue
		}
		if keep(c) {
			out = append(out, cloneCard(c))
		}
	}
	return out
}

func (s *Store) GetCard(ctx context.Context, id string) (*models.FlashCard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, nil
	}
	out := cloneCard(c)
	return &out, nil
}

func (s *Store) UpdateCardSchedule(ctx context.Context, cardID string, r models.Review) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return fmt.Errorf("memstore: update schedule: card %s: %w", cardID, apperr.ErrNotFound)
	}
	c.Review = cloneReview(r)
	s.cards[cardID] = c
	return nil
}

func (s *Store) UpsertCard(ctx context.Context, c models.FlashCard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c = cloneCard(c)
	if prev, ok := s.cards[c.ID]; ok {
		c.Review = prev.Review
		c.CreatedAt = prev.CreatedAt
	} else {
		if c.Review.EaseFactor == 0 {
			c.Review = models.NewReview()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = s.now()
		}
	}
	s.cards[c.ID] = c
	return nil
}

func (s *Store) DeleteCard(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cards, id)
	s.mu.Unlock()
	return nil
}

// --- graph ---

func (s *Store) GetRelatedNotes(ctx context.Context, noteID string, limit int) ([]models.RelatedNote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return graph.Rank(noteID, s.links, s.notes, s.subjects, limit), nil
}

func (s *Store) UpsertSemanticLink(ctx context.Context, l models.SemanticLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = lo.Reject(s.links, func(old models.SemanticLink, _ int) bool { return old.SamePair(l) })
	s.links = append(s.links, l)
	return nil
}

func (s *Store) ListLinks(ctx context.Context) ([]models.SemanticLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := slices.Clone(s.links)
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b models.SemanticLink) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// --- library ---

func (s *Store) UpsertSubject(ctx context.Context, sub models.Subject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.subjects[sub.ID]; ok {
		sub.MasteryPercent = prev.MasteryPercent
		sub.ReviewedNoteCount = prev.ReviewedNoteCount
	}
	s.subjects[sub.ID] = sub
	return nil
}

func (s *Store) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subjects[id]
	if !ok {
		return nil, nil
	}
	sub.NoteCount = s.noteCountLocked(id)
	return &sub, nil
}

func (s *Store) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Subject, 0, len(s.subjects))
	for _, sub := range s.subjects {
		sub.NoteCount = s.noteCountLocked(sub.ID)
		out = append(out, sub)
	}
	slices.SortFunc(out, func(a, b models.Subject) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) noteCountLocked(subjectID string) int {
	return lo.CountBy(lo.Values(s.notes), func(n models.Note) bool { return n.SubjectID == subjectID })
}

func (s *Store) UpsertNote(ctx context.Context, n models.Note, checksum string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.notes[n.ID]; ok && !prev.CreatedAt.IsZero() {
		n.CreatedAt = prev.CreatedAt
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	n.Week = cloneInt(n.Week)
	s.notes[n.ID] = n
	s.checksums[n.ID] = checksum
	return nil
}

func (s *Store) GetNote(ctx context.Context, id string) (*models.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, nil
	}
	n.Week = cloneInt(n.Week)
	return &n, nil
}

func (s *Store) ListNotes(ctx context.Context, subjectID *string) ([]models.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []models.Note
	for _, n := range s.notes {
		if subjectID == nil || n.SubjectID == *subjectID {
			n.Week = cloneInt(n.Week)
			out = append(out, n)
		}
	}
	s.mu.RUnlock()
	store.SortNotes(out)
	return out, nil
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, id)
	delete(s.checksums, id)
	s.links = lo.Reject(s.links, func(l models.SemanticLink, _ int) bool { return l.Touches(id) })
	for cid, c := range s.cards {
		if !slices.Contains(c.SourceNoteIDs, id) {
			continue
		}
		c.SourceNoteIDs = lo.Without(c.SourceNoteIDs, id)
		if len(c.SourceNoteIDs) == 0 {
			delete(s.cards, cid)
			continue
		}
		s.cards[cid] = c
	}
	return nil
}

func (s *Store) NoteChecksums(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.checksums))
	for k, v := range s.checksums {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SearchNotes(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	q := strings.ToLower(query)
	notes, _ := s.ListNotes(ctx, nil)
	var out []store.SearchResult
	for _, n := range notes {
		if !strings.Contains(strings.ToLower(n.Title), q) && !strings.Contains(strings.ToLower(n.Body), q) {
			continue
		}
		out = append(out, store.SearchResult{NoteID: n.ID, Title: n.Title, Snippet: store.Snippet(n.Body)})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- progress ---

func (s *Store) GetProgress(ctx context.Context, subjectID string) (*models.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[subjectID]
	if !ok {
		return nil, nil
	}
	p.LastStudiedAt = cloneTime(p.LastStudiedAt)
	return &p, nil
}

func (s *Store) SaveProgress(ctx context.Context, p models.UserProgress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.LastStudiedAt = cloneTime(p.LastStudiedAt)
	s.progress[p.SubjectID] = p
	if sub, ok := s.subjects[p.SubjectID]; ok {
		sub.MasteryPercent = p.MasteryPercent
		sub.ReviewedNoteCount = p.NotesReviewed
		s.subjects[p.SubjectID] = sub
	}
	return nil
}
