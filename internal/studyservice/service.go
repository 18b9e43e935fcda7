// Package studyservice runs study sessions end to end: it picks the cards,
// keeps one quiz.Machine per active session, folds finished sessions into
// progress and builds results with suggestions from the note graph.
package studyservice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/lumen/internal/apperr"
	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/quiz"
	"github.com/starford/lumen/internal/selector"
	"github.com/starford/lumen/internal/store"
)

// Event names passed to an EventFunc.
const (
	EventTick      = "session.tick"
	EventAdvanced  = "session.advanced"
	EventUpdated   = "session.updated"
	EventCompleted = "session.completed"
	EventExited    = "session.exited"
)

// EventFunc receives every state change of an active session.
type EventFunc func(event string, st quiz.State)

// Related finds notes connected to a note.
type Related interface {
	RelatedNotes(ctx context.Context, noteID string, limit int) ([]models.RelatedNote, error)
}

// Defaults fill in what a start request leaves out.
type Defaults struct {
	QuestionCount    int
	TimeLimitSeconds int
	SuggestionLimit  int
}

// StartRequest describes a new session.
type StartRequest struct {
	Kind             models.SessionKind `json:"kind"`
	SubjectID        *string            `json:"subject_id,omitempty"`
	QuestionCount    int                `json:"question_count"`
	TimeLimitSeconds *int               `json:"time_limit_seconds,omitempty"`
}

// Validate checks the request shape; zero counts fall back to defaults.
func (r StartRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Kind, validation.Required, validation.In(models.SessionQuickReview, models.SessionTimedExam)),
		validation.Field(&r.QuestionCount, validation.Min(0), validation.Max(200)),
		validation.Field(&r.TimeLimitSeconds, validation.NilOrNotEmpty, validation.Min(1)),
	)
}

// Service owns the active sessions. It is safe for concurrent use.
type Service struct {
	repo     store.Repository
	related  Related
	selector *selector.Selector
	logger   *slog.Logger
	now      func() time.Time
	ticker   quiz.TickerFunc
	events   EventFunc
	defaults Defaults
	shuffle  func([]models.FlashCard) []models.FlashCard

	// resumeMu makes the active check, the plan load and the machine start
	// of ResumeSession one step.
	resumeMu sync.Mutex

	mu     sync.Mutex
	active map[string]*quiz.Machine
	last   map[string]quiz.State
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source of sessions, schedules and progress.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTicker overrides the countdown tick source of timed sessions.
func WithTicker(fn quiz.TickerFunc) Option {
	return func(s *Service) { s.ticker = fn }
}

// WithEvents registers fn to receive session events.
func WithEvents(fn EventFunc) Option {
	return func(s *Service) { s.events = fn }
}

// WithDefaults sets the values used when a request omits them.
func WithDefaults(d Defaults) Option {
	return func(s *Service) { s.defaults = d }
}

// WithShuffle replaces the shuffle used to fill sessions with non-due cards.
func WithShuffle(fn func([]models.FlashCard) []models.FlashCard) Option {
	return func(s *Service) { s.shuffle = fn }
}

// New returns a Service over repo. related supplies result suggestions.
func New(repo store.Repository, related Related, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		related:  related,
		logger:   slog.Default(),
		now:      time.Now,
		events:   func(string, quiz.State) {},
		defaults: Defaults{QuestionCount: 10, TimeLimitSeconds: 600, SuggestionLimit: 5},
		active:   make(map[string]*quiz.Machine),
		last:     make(map[string]quiz.State),
	}
	for _, opt := range opts {
		opt(s)
	}
	selOpts := []selector.Option{selector.WithClock(s.now)}
	if s.shuffle != nil {
		selOpts = append(selOpts, selector.WithShuffle(s.shuffle))
	}
	s.selector = selector.New(repo, selOpts...)
	return s
}

// StartSession selects cards, stores the session with its card plan and
// starts a machine on it. A session without cards completes at once.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (quiz.State, error) {
	if err := req.Validate(); err != nil {
		return quiz.State{}, fmt.Errorf("studyservice: %w: %v", apperr.ErrInvalidArgument, err)
	}
	count := req.QuestionCount
	if count == 0 {
		count = s.defaults.QuestionCount
	}
	limit := req.TimeLimitSeconds
	if req.Kind == models.SessionTimedExam && limit == nil {
		d := s.defaults.TimeLimitSeconds
		limit = &d
	}
	if req.Kind == models.SessionQuickReview {
		limit = nil
	}

	cards, err := s.selector.Select(ctx, req.SubjectID, count)
	if err != nil {
		return quiz.State{}, fmt.Errorf("studyservice: select cards: %w", err)
	}
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	session, err := s.repo.CreateSession(ctx, req.Kind, req.SubjectID, len(cards), limit, ids)
	if err != nil {
		return quiz.State{}, fmt.Errorf("studyservice: create session: %w", err)
	}

	s.logger.Info("studyservice: session started",
		slog.String("session", session.ID), slog.String("kind", string(session.Kind)), slog.Int("cards", len(cards)))
	return s.run(ctx, *session, cards)
}

// ResumeSession loads an in-progress session that has no active machine and
// continues it with the cards it has not answered yet. A timed session gets
// what is left of its limit since it started; with nothing left it completes.
// Resuming an active session returns its current state.
func (s *Service) ResumeSession(ctx context.Context, id string) (quiz.State, error) {
	s.resumeMu.Lock()
	defer s.resumeMu.Unlock()

	if m := s.machine(id); m != nil {
		return m.Snapshot(), nil
	}
	session, err := s.session(ctx, id)
	if err != nil {
		return quiz.State{}, err
	}
	if session.Completed() {
		return quiz.State{}, fmt.Errorf("studyservice: resume session %s: %w", id, apperr.ErrInvalidState)
	}

	answers, err := s.repo.GetAnswers(ctx, id)
	if err != nil {
		return quiz.State{}, fmt.Errorf("studyservice: answers: %w", err)
	}
	answered := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		answered[a.CardID] = struct{}{}
	}
	var cards []models.FlashCard
	for _, cid := range session.CardIDs {
		if _, ok := answered[cid]; ok {
			continue
		}
		c, err := s.repo.GetCard(ctx, cid)
		if err != nil {
			return quiz.State{}, fmt.Errorf("studyservice: card %s: %w", cid, err)
		}
		if c == nil {
			s.logger.Warn("studyservice: planned card gone", slog.String("session", id), slog.String("card", cid))
			continue
		}
		cards = append(cards, *c)
	}

	opts := []quiz.StartOption{quiz.WithPriorAnswers(answers)}
	if session.TimeLimitSeconds != nil {
		elapsed := int(s.now().Sub(session.StartedAt) / time.Second)
		opts = append(opts, quiz.WithRemaining(*session.TimeLimitSeconds-elapsed))
	}
	s.logger.Info("studyservice: session resumed", slog.String("session", id), slog.Int("remaining_cards", len(cards)))
	return s.run(ctx, *session, cards, opts...)
}

func (s *Service) run(ctx context.Context, session models.StudySession, cards []models.FlashCard, opts ...quiz.StartOption) (quiz.State, error) {
	var m *quiz.Machine
	m = quiz.New(s.repo,
		quiz.WithClock(s.now),
		quiz.WithLogger(s.logger),
		quiz.WithObserver(func(st quiz.State) { s.observe(m, st) }),
		s.tickerOption(),
	)

	// One machine per session: a second machine would run a second timer.
	s.mu.Lock()
	if existing := s.active[session.ID]; existing != nil {
		s.mu.Unlock()
		return existing.Snapshot(), nil
	}
	s.active[session.ID] = m
	s.mu.Unlock()

	if err := m.Start(ctx, session, cards, opts...); err != nil {
		s.forget(session.ID)
		return quiz.State{}, fmt.Errorf("studyservice: start session %s: %w", session.ID, err)
	}
	return m.Snapshot(), nil
}

func (s *Service) tickerOption() quiz.Option {
	if s.ticker == nil {
		return func(*quiz.Machine) {}
	}
	return quiz.WithTicker(s.ticker)
}

// observe classifies a state change, forwards it and finishes completed sessions.
func (s *Service) observe(m *quiz.Machine, st quiz.State) {
	s.mu.Lock()
	prev, seen := s.last[st.SessionID]
	if st.Phase == quiz.PhaseInProgress {
		s.last[st.SessionID] = st
	} else {
		delete(s.last, st.SessionID)
	}
	s.mu.Unlock()

	event := EventUpdated
	switch {
	case st.Phase == quiz.PhaseCompleted:
		event = EventCompleted
	case st.Phase == quiz.PhaseExited:
		event = EventExited
	case !seen || prev.AnsweredCount != st.AnsweredCount:
		event = EventAdvanced
	case remaining(prev) != remaining(st):
		event = EventTick
	}
	s.events(event, st)

	if st.Phase == quiz.PhaseCompleted {
		s.forget(st.SessionID)
		if err := s.recordProgress(context.Background(), m.Session(), m.Answers()); err != nil {
			s.logger.Error("studyservice: progress update failed", slog.String("session", st.SessionID), slog.String("error", err.Error()))
		}
	}
}

func remaining(st quiz.State) int {
	if st.RemainingSeconds == nil {
		return -1
	}
	return *st.RemainingSeconds
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.active, id)
	delete(s.last, id)
	s.mu.Unlock()
}

func (s *Service) machine(id string) *quiz.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[id]
}

// activeMachine returns the machine of id, or explains why there is none.
func (s *Service) activeMachine(ctx context.Context, id string) (*quiz.Machine, error) {
	if m := s.machine(id); m != nil {
		return m, nil
	}
	session, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Completed() {
		return nil, fmt.Errorf("studyservice: session %s completed: %w", id, apperr.ErrInvalidState)
	}
	return nil, fmt.Errorf("studyservice: session %s is not active, resume it first: %w", id, apperr.ErrInvalidState)
}

func (s *Service) session(ctx context.Context, id string) (*models.StudySession, error) {
	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("studyservice: get session %s: %w", id, err)
	}
	if session == nil {
		return nil, fmt.Errorf("studyservice: session %s: %w", id, apperr.ErrNotFound)
	}
	return session, nil
}

// SelectOption sets the tentative answer of the current card.
func (s *Service) SelectOption(ctx context.Context, id, optionID string) (quiz.State, error) {
	m, err := s.activeMachine(ctx, id)
	if err != nil {
		return quiz.State{}, err
	}
	if err := m.SelectOption(optionID); err != nil {
		return quiz.State{}, err
	}
	return m.Snapshot(), nil
}

// SetConfidence sets the self-rated confidence of the current card.
func (s *Service) SetConfidence(ctx context.Context, id string, c models.Confidence) (quiz.State, error) {
	m, err := s.activeMachine(ctx, id)
	if err != nil {
		return quiz.State{}, err
	}
	if err := m.SetConfidence(c); err != nil {
		return quiz.State{}, err
	}
	return m.Snapshot(), nil
}

// Submit grades the current card and moves on. Submitting the last card
// completes the session.
func (s *Service) Submit(ctx context.Context, id string) (quiz.State, error) {
	m, err := s.activeMachine(ctx, id)
	if err != nil {
		return quiz.State{}, err
	}
	if err := m.SubmitAndAdvance(ctx); err != nil {
		return quiz.State{}, err
	}
	return m.Snapshot(), nil
}

// Exit stops the session's timer and drops its machine. The stored session
// stays in progress and can be resumed.
func (s *Service) Exit(ctx context.Context, id string) (quiz.State, error) {
	m, err := s.activeMachine(ctx, id)
	if err != nil {
		return quiz.State{}, err
	}
	if err := m.Exit(); err != nil {
		return quiz.State{}, err
	}
	s.forget(id)
	s.logger.Info("studyservice: session exited", slog.String("session", id))
	return m.Snapshot(), nil
}

// View is a stored session together with its live state when active.
type View struct {
	Session models.StudySession `json:"session"`
	State   *quiz.State         `json:"state,omitempty"`
}

// Session returns a session and, when it has an active machine, its state.
func (s *Service) Session(ctx context.Context, id string) (View, error) {
	session, err := s.session(ctx, id)
	if err != nil {
		return View{}, err
	}
	v := View{Session: *session}
	if m := s.machine(id); m != nil {
		st := m.Snapshot()
		v.State = &st
	}
	return v, nil
}

// OpenSessions lists in-progress sessions started more than olderThan ago
// that have no active machine.
func (s *Service) OpenSessions(ctx context.Context, olderThan time.Duration) ([]models.StudySession, error) {
	sessions, err := s.repo.ListOpenSessions(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("studyservice: open sessions: %w", err)
	}
	out := make([]models.StudySession, 0, len(sessions))
	for _, session := range sessions {
		if s.machine(session.ID) == nil {
			out = append(out, session)
		}
	}
	return out, nil
}

// Close exits every active session. Their timers stop; they stay resumable.
func (s *Service) Close() {
	s.mu.Lock()
	machines := make([]*quiz.Machine, 0, len(s.active))
	for _, m := range s.active {
		machines = append(machines, m)
	}
	s.active = make(map[string]*quiz.Machine)
	s.last = make(map[string]quiz.State)
	s.mu.Unlock()

	for _, m := range machines {
		_ = m.Exit()
	}
}
