// Package quiz drives one study session question by question.
//
// A Machine is created per session. Commands (SelectOption, SetConfidence,
// SubmitAndAdvance, Exit) mutate it under a lock; every transition and timer
// tick is reported to observers as a State value.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/lumen/internal/apperr"
	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/srs"
)

// Phase is the lifecycle stage of a Machine.
type Phase string

const (
	PhaseLoading    Phase = "loading"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
	// PhaseExited is local to the machine: the stored session stays in progress.
	PhaseExited Phase = "exited"
)

// Self-assessment selections for reveal-style cards.
const (
	RevealKnown  = "known"
	RevealMissed = "missed"
)

// Store is the persistence the machine writes through.
type Store interface {
	RecordAnswer(ctx context.Context, a models.QuizAnswer) error
	UpdateCardSchedule(ctx context.Context, cardID string, r models.Review) error
	CompleteSession(ctx context.Context, id string, finishedAt time.Time) error
}

// TickerFunc returns a tick channel and a function that stops it.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Machine is the state machine of one session. It is safe for concurrent use.
type Machine struct {
	repo      Store
	now       func() time.Time
	newTicker TickerFunc
	observers []func(State)
	logger    *slog.Logger

	mu         sync.Mutex
	phase      Phase
	session    models.StudySession
	cards      []models.FlashCard
	offset     int
	index      int
	selection  string
	confidence models.Confidence
	remaining  *int
	shownAt    time.Time
	answerID   string
	answers    []models.QuizAnswer
	correct    int

	stopTimer func()
	stopOnce  sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithTicker overrides the one-second tick source of timed sessions.
func WithTicker(fn TickerFunc) Option {
	return func(m *Machine) { m.newTicker = fn }
}

// WithObserver registers fn to receive a State after every transition and tick.
// Observers run outside the machine lock and may call Snapshot.
func WithObserver(fn func(State)) Option {
	return func(m *Machine) { m.observers = append(m.observers, fn) }
}

// WithLogger sets the logger used for timer events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// New returns a machine in the Loading phase.
func New(repo Store, opts ...Option) *Machine {
	m := &Machine{
		repo:      repo,
		now:       time.Now,
		newTicker: realTicker,
		logger:    slog.Default(),
		phase:     PhaseLoading,
		stopTimer: func() {},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartOption adjusts how a session is entered.
type StartOption func(*startConfig)

type startConfig struct {
	prior     []models.QuizAnswer
	remaining *int
}

// WithPriorAnswers resumes a session that already has answers. The cards
// passed to Start are then the ones still unanswered.
func WithPriorAnswers(answers []models.QuizAnswer) StartOption {
	return func(c *startConfig) { c.prior = answers }
}

// WithRemaining overrides the countdown of a timed session, in seconds.
func WithRemaining(seconds int) StartOption {
	return func(c *startConfig) { c.remaining = &seconds }
}

// Start enters InProgress at the first card. Timed sessions start their
// countdown. A session with no cards, or with no time left, completes at once.
//
// The timer outlives ctx; only ctx's values are kept for the writes the timer
// makes.
func (m *Machine) Start(ctx context.Context, session models.StudySession, cards []models.FlashCard, opts ...StartOption) error {
	var cfg startConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	m.mu.Lock()
	if m.phase != PhaseLoading {
		m.mu.Unlock()
		return fmt.Errorf("quiz: start in phase %s: %w", m.phase, apperr.ErrInvalidState)
	}
	if session.Completed() {
		m.mu.Unlock()
		return fmt.Errorf("quiz: start completed session %s: %w", session.ID, apperr.ErrInvalidState)
	}

	m.session = session
	m.cards = append([]models.FlashCard(nil), cards...)
	m.answers = append([]models.QuizAnswer(nil), cfg.prior...)
	m.offset = len(cfg.prior)
	for _, a := range cfg.prior {
		if a.Correct {
			m.correct++
		}
	}
	m.phase = PhaseInProgress
	m.showLocked()

	if session.TimeLimitSeconds != nil {
		left := *session.TimeLimitSeconds
		if cfg.remaining != nil {
			left = *cfg.remaining
		}
		m.remaining = &left
	}

	var err error
	switch {
	case len(m.cards) == 0:
		err = m.finishLocked(ctx)
	case m.remaining != nil && *m.remaining <= 0:
		err = m.finishLocked(ctx)
	case m.remaining != nil:
		m.startTimerLocked(context.WithoutCancel(ctx))
	}
	st := m.stateLocked()
	m.mu.Unlock()

	m.emit(st)
	return err
}

// SelectOption stores a tentative selection for the current card. For
// reveal-style cards optionID is RevealKnown or RevealMissed.
func (m *Machine) SelectOption(optionID string) error {
	m.mu.Lock()
	if m.phase != PhaseInProgress {
		m.mu.Unlock()
		return fmt.Errorf("quiz: select in phase %s: %w", m.phase, apperr.ErrInvalidState)
	}
	card := m.cards[m.index]
	if card.Kind.IsReveal() {
		if optionID != RevealKnown && optionID != RevealMissed {
			m.mu.Unlock()
			return fmt.Errorf("quiz: select %q on reveal card: %w", optionID, apperr.ErrInvalidArgument)
		}
	} else if _, ok := card.Option(optionID); !ok {
		m.mu.Unlock()
		return fmt.Errorf("quiz: select unknown option %q: %w", optionID, apperr.ErrInvalidArgument)
	}
	m.selection = optionID
	st := m.stateLocked()
	m.mu.Unlock()

	m.emit(st)
	return nil
}

// SetConfidence stores the learner's rating of the current answer.
func (m *Machine) SetConfidence(c models.Confidence) error {
	switch c {
	case models.ConfidenceNone, models.ConfidenceEasy, models.ConfidenceHard:
	default:
		return fmt.Errorf("quiz: confidence %q: %w", c, apperr.ErrInvalidArgument)
	}

	m.mu.Lock()
	if m.phase != PhaseInProgress {
		m.mu.Unlock()
		return fmt.Errorf("quiz: confidence in phase %s: %w", m.phase, apperr.ErrInvalidState)
	}
	m.confidence = c
	st := m.stateLocked()
	m.mu.Unlock()

	m.emit(st)
	return nil
}

// SubmitAndAdvance grades the current selection, records the answer,
// reschedules the card and moves to the next card or completes the session.
//
// A failed write leaves the machine on the same card; retrying reuses the
// same answer ID and the same schedule, so repeated writes are harmless.
func (m *Machine) SubmitAndAdvance(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseInProgress {
		m.mu.Unlock()
		return fmt.Errorf("quiz: submit in phase %s: %w", m.phase, apperr.ErrInvalidState)
	}
	if m.selection == "" {
		m.mu.Unlock()
		return fmt.Errorf("quiz: submit: %w", apperr.ErrNoSelection)
	}

	card := m.cards[m.index]
	correct, text := m.gradeLocked(card)
	now := m.now()
	answer := models.QuizAnswer{
		ID:               m.answerID,
		SessionID:        m.session.ID,
		CardID:           card.ID,
		Answer:           text,
		Correct:          correct,
		Confidence:       m.confidence,
		TimeSpentSeconds: max(0, int(now.Sub(m.shownAt)/time.Second)),
		AnsweredAt:       now,
	}
	if err := m.repo.RecordAnswer(ctx, answer); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			m.mu.Unlock()
			return fmt.Errorf("quiz: record answer: %w", err)
		}
		m.logger.Warn("quiz: card removed during session, skipping",
			slog.String("session_id", m.session.ID), slog.String("card_id", card.ID))
		err = m.dropCurrentLocked(ctx)
		st := m.stateLocked()
		m.mu.Unlock()
		m.emit(st)
		return err
	}
	review := srs.Schedule(card.Review, correct, m.confidence).Apply(now)
	// A card deleted after its answer was stored has no schedule left to keep.
	if err := m.repo.UpdateCardSchedule(ctx, card.ID, review); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		m.mu.Unlock()
		return fmt.Errorf("quiz: update schedule: %w", err)
	}

	m.cards[m.index].Review = review
	m.answers = append(m.answers, answer)
	if correct {
		m.correct++
	}

	var err error
	if m.index == len(m.cards)-1 {
		err = m.finishLocked(ctx)
	} else {
		m.index++
		m.showLocked()
	}
	st := m.stateLocked()
	m.mu.Unlock()

	m.emit(st)
	return err
}

// Exit leaves the session without completing it and stops the timer.
func (m *Machine) Exit() error {
	m.mu.Lock()
	switch m.phase {
	case PhaseExited:
		m.mu.Unlock()
		return nil
	case PhaseCompleted:
		m.mu.Unlock()
		return fmt.Errorf("quiz: exit completed session: %w", apperr.ErrInvalidState)
	}
	m.cancelTimer()
	m.phase = PhaseExited
	m.closeDone()
	st := m.stateLocked()
	m.mu.Unlock()

	m.emit(st)
	return nil
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Session returns the session as the machine last saw it.
func (m *Machine) Session() models.StudySession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Answers returns the answers of the session, including prior ones.
func (m *Machine) Answers() []models.QuizAnswer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.QuizAnswer(nil), m.answers...)
}

// Done is closed once the machine leaves InProgress, by completion or exit.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

func (m *Machine) gradeLocked(card models.FlashCard) (bool, string) {
	if card.Kind.IsReveal() {
		return m.selection == RevealKnown, m.selection
	}
	opt, _ := card.Option(m.selection)
	return opt.Correct, opt.Text
}

// showLocked resets the per-question state for the card at m.index.
func (m *Machine) showLocked() {
	m.selection = ""
	m.confidence = models.ConfidenceNone
	m.shownAt = m.now()
	m.answerID = uuid.NewString()
}

// dropCurrentLocked removes the card at m.index from the plan and shows the
// next one, completing the session when none is left.
func (m *Machine) dropCurrentLocked(ctx context.Context) error {
	m.cards = slices.Delete(m.cards, m.index, m.index+1)
	if m.index >= len(m.cards) {
		return m.finishLocked(ctx)
	}
	m.showLocked()
	return nil
}

// finishLocked completes the session. The in-memory transition happens even
// when the write fails; the error is returned for the caller to retry.
func (m *Machine) finishLocked(ctx context.Context) error {
	m.cancelTimer()
	now := m.now()
	m.phase = PhaseCompleted
	m.session.Status = models.StatusCompleted
	m.session.FinishedAt = &now
	m.closeDone()
	if err := m.repo.CompleteSession(ctx, m.session.ID, now); err != nil {
		return fmt.Errorf("quiz: complete session: %w", err)
	}
	return nil
}

func (m *Machine) closeDone() {
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *Machine) emit(st State) {
	for _, fn := range m.observers {
		fn(st)
	}
}
