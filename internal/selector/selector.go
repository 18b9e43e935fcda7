// Package selector picks the cards for a study session: overdue cards
// first, backfilled with a shuffled sample of cards that are not yet due.
package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/store"
)

// Selector chooses the card plan of a session.
type Selector struct {
	cards   store.Cards
	now     func() time.Time
	shuffle func([]models.FlashCard) []models.FlashCard
}

// Option configures a Selector.
type Option func(*Selector)

// WithClock overrides the time used to decide which cards are due.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

// WithShuffle overrides how the backfill pool is shuffled.
func WithShuffle(fn func([]models.FlashCard) []models.FlashCard) Option {
	return func(s *Selector) { s.shuffle = fn }
}

// New returns a Selector reading cards from repo.
func New(repo store.Cards, opts ...Option) *Selector {
	s := &Selector{
		cards:   repo,
		now:     time.Now,
		shuffle: lo.Shuffle[models.FlashCard],
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns at most count cards for the subject (nil = all subjects).
// Due cards come first in their stored order; when there are not enough of
// them the rest is a shuffled sample of the remaining cards.
func (s *Selector) Select(ctx context.Context, subjectID *string, count int) ([]models.FlashCard, error) {
	if count <= 0 {
		return []models.FlashCard{}, nil
	}

	due, err := s.cards.GetDueCards(ctx, subjectID, s.now())
	if err != nil {
		return nil, fmt.Errorf("selector: due cards: %w", err)
	}
	due = lo.UniqBy(due, func(c models.FlashCard) string { return c.ID })
	if len(due) >= count {
		return due[:count], nil
	}

	all, err := s.cards.GetAllCards(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("selector: all cards: %w", err)
	}
	picked := lo.SliceToMap(due, func(c models.FlashCard) (string, struct{}) { return c.ID, struct{}{} })
	pool := lo.Filter(all, func(c models.FlashCard, _ int) bool {
		_, ok := picked[c.ID]
		return !ok
	})
	pool = lo.UniqBy(pool, func(c models.FlashCard) string { return c.ID })
	pool = s.shuffle(pool)

	out := due
	for _, c := range pool {
		if len(out) == count {
			break
		}
		out = append(out, c)
	}
	return out, nil
}
