package quiz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/lumen/internal/apperr"
	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/result"
	"github.com/starford/lumen/internal/store/memstore"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Int32
}

func newFakeTicker() *fakeTicker { return &fakeTicker{ch: make(chan time.Time)} }

func (f *fakeTicker) fn(time.Duration) (<-chan time.Time, func()) {
	return f.ch, func() { f.stopped.Add(1) }
}

// countingStore counts completions and can fail answer writes on demand.
type countingStore struct {
	*memstore.Store
	completions atomic.Int32
	failAnswer  atomic.Bool
	answerIDs   []string
	mu          sync.Mutex
}

func (s *countingStore) CompleteSession(ctx context.Context, id string, at time.Time) error {
	s.completions.Add(1)
	return s.Store.CompleteSession(ctx, id, at)
}

func (s *countingStore) RecordAnswer(ctx context.Context, a models.QuizAnswer) error {
	s.mu.Lock()
	s.answerIDs = append(s.answerIDs, a.ID)
	s.mu.Unlock()
	if s.failAnswer.Load() {
		return errors.New("disk full")
	}
	return s.Store.RecordAnswer(ctx, a)
}

func mcCard(id string) models.FlashCard {
	return models.FlashCard{
		ID:       id,
		Question: "Question " + id,
		Kind:     models.KindMultipleChoice,
		Options: []models.Option{
			{ID: "right", Text: "Right", Correct: true},
			{ID: "wrong", Text: "Wrong"},
		},
		Review: models.NewReview(),
	}
}

func setup(t *testing.T, timeLimit *int, cards ...models.FlashCard) (*countingStore, models.StudySession) {
	t.Helper()
	ctx := context.Background()
	repo := &countingStore{Store: memstore.New(memstore.WithClock(func() time.Time { return t0 }))}
	ids := make([]string, len(cards))
	for i, c := range cards {
		require.NoError(t, repo.UpsertCard(ctx, c))
		ids[i] = c.ID
	}
	kind := models.SessionQuickReview
	if timeLimit != nil {
		kind = models.SessionTimedExam
	}
	sess, err := repo.CreateSession(ctx, kind, nil, len(cards), timeLimit, ids)
	require.NoError(t, err)
	return repo, *sess
}

func waitDone(t *testing.T, m *Machine) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("machine did not leave in_progress")
	}
}

func TestEndToEndCorrectIncorrectCorrect(t *testing.T) {
	ctx := context.Background()
	cards := []models.FlashCard{mcCard("c1"), mcCard("c2"), mcCard("c3")}
	repo, sess := setup(t, nil, cards...)

	clock := t0
	m := New(repo, WithClock(func() time.Time { return clock }))
	require.NoError(t, m.Start(ctx, sess, cards))

	for i, pick := range []string{"right", "wrong", "right"} {
		st := m.Snapshot()
		require.Equal(t, PhaseInProgress, st.Phase)
		assert.Equal(t, i, st.Index)
		assert.Equal(t, i == 2, st.IsLast)
		require.NoError(t, m.SelectOption(pick))
		clock = clock.Add(5 * time.Second)
		require.NoError(t, m.SubmitAndAdvance(ctx))
	}

	st := m.Snapshot()
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, 2, st.CorrectCount)
	assert.Equal(t, 3, st.AnsweredCount)
	assert.InDelta(t, 100.0, st.ProgressPercent, 0.001)
	waitDone(t, m)

	stored, err := repo.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	require.NotNil(t, stored.FinishedAt)
	assert.Equal(t, int32(1), repo.completions.Load())

	answers, err := repo.GetAnswers(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, answers, 3)
	assert.Equal(t, 5, answers[0].TimeSpentSeconds)

	summary := result.Aggregate(*stored, answers, result.SliceLookup(cards), nil)
	assert.Equal(t, 66, summary.ScorePercent)
	assert.Equal(t, 2, summary.TotalCorrect)

	c2, _ := repo.GetCard(ctx, "c2")
	assert.Equal(t, 0, c2.Review.Repetitions)
	assert.Equal(t, 1, c2.Review.IntervalDays)
	c1, _ := repo.GetCard(ctx, "c1")
	assert.Equal(t, 1, c1.Review.Repetitions)
	require.NotNil(t, c1.Review.NextReviewAt)
	assert.Equal(t, t0.Add(5*time.Second).Add(24*time.Hour), *c1.Review.NextReviewAt)
}

func TestTimerRunsOutWithoutAnswers(t *testing.T) {
	ctx := context.Background()
	limit := 3
	cards := []models.FlashCard{mcCard("c1"), mcCard("c2")}
	repo, sess := setup(t, &limit, cards...)

	ticker := newFakeTicker()
	var ticks []int
	var mu sync.Mutex
	m := New(repo, WithTicker(ticker.fn), WithObserver(func(st State) {
		if st.RemainingSeconds != nil {
			mu.Lock()
			ticks = append(ticks, *st.RemainingSeconds)
			mu.Unlock()
		}
	}))
	require.NoError(t, m.Start(ctx, sess, cards))

	for range 3 {
		ticker.ch <- time.Now()
	}
	waitDone(t, m)

	assert.Equal(t, PhaseCompleted, m.Snapshot().Phase)
	assert.Equal(t, int32(1), repo.completions.Load())

	select {
	case ticker.ch <- time.Now():
		t.Fatal("timer still consuming ticks after completion")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Eventually(t, func() bool { return ticker.stopped.Load() == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{3, 2, 1, 0}, ticks)
	mu.Unlock()

	stored, _ := repo.GetSession(ctx, sess.ID)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	answers, _ := repo.GetAnswers(ctx, sess.ID)
	assert.Empty(t, answers)
}

func TestSubmitWithoutSelection(t *testing.T) {
	ctx := context.Background()
	cards := []models.FlashCard{mcCard("c1")}
	repo, sess := setup(t, nil, cards...)
	m := New(repo)
	require.NoError(t, m.Start(ctx, sess, cards))

	before := m.Snapshot()
	err := m.SubmitAndAdvance(ctx)
	assert.ErrorIs(t, err, apperr.ErrNoSelection)
	assert.Equal(t, before, m.Snapshot())
}

func TestCommandsBeforeStart(t *testing.T) {
	m := New(memstore.New())
	assert.ErrorIs(t, m.SelectOption("right"), apperr.ErrInvalidState)
	assert.ErrorIs(t, m.SetConfidence(models.ConfidenceEasy), apperr.ErrInvalidState)
	assert.ErrorIs(t, m.SubmitAndAdvance(context.Background()), apperr.ErrInvalidState)
	assert.Equal(t, PhaseLoading, m.Snapshot().Phase)
}

func TestSelectUnknownOption(t *testing.T) {
	ctx := context.Background()
	cards := []models.FlashCard{mcCard("c1")}
	repo, sess := setup(t, nil, cards...)
	m := New(repo)
	require.NoError(t, m.Start(ctx, sess, cards))

	assert.ErrorIs(t, m.SelectOption("maybe"), apperr.ErrInvalidArgument)
	assert.Empty(t, m.Snapshot().Selection)
	assert.ErrorIs(t, m.SetConfidence("certain"), apperr.ErrInvalidArgument)
}

func TestRevealCardSelfAssessment(t *testing.T) {
	ctx := context.Background()
	card := models.FlashCard{ID: "r1", Question: "Define osmosis", Answer: "Diffusion of water", Kind: models.KindReveal, Review: models.NewReview()}
	repo, sess := setup(t, nil, card)
	m := New(repo)
	require.NoError(t, m.Start(ctx, sess, []models.FlashCard{card}))

	assert.ErrorIs(t, m.SelectOption("right"), apperr.ErrInvalidArgument)
	require.NoError(t, m.SelectOption(RevealKnown))
	require.NoError(t, m.SetConfidence(models.ConfidenceEasy))
	require.NoError(t, m.SubmitAndAdvance(ctx))

	answers := m.Answers()
	require.Len(t, answers, 1)
	assert.True(t, answers[0].Correct)
	assert.Equal(t, models.ConfidenceEasy, answers[0].Confidence)

	stored, _ := repo.GetCard(ctx, "r1")
	assert.InDelta(t, 2.6, stored.Review.EaseFactor, 1e-9)
}

func TestAdvanceClearsSelection(t *testing.T) {
	ctx := context.Background()
	cards := []models.FlashCard{mcCard("c1"), mcCard("c2"), mcCard("c3"), mcCard("c4")}
	repo, sess := setup(t, nil, cards...)
	m := New(repo)
	require.NoError(t, m.Start(ctx, sess, cards))

	require.NoError(t, m.SelectOption("right"))
	require.NoError(t, m.SetConfidence(models.ConfidenceHard))
	require.NoError(t, m.SubmitAndAdvance(ctx))

	st := m.Snapshot()
	assert.Equal(t, 1, st.Index)
	assert.Empty(t, st.Selection)
	assert.Equal(t, models.ConfidenceNone, st.Confidence)
	assert.InDelta(t, 25.0, st.ProgressPercent, 0.001)
	require.NotNil(t, st.Card)
	assert.Equal(t, "c2", st.Card.ID)
}

func TestExitStopsTimerAndLeavesSessionOpen(t *testing.T) {
	ctx := context.Background()
	limit := 60
	cards := []models.FlashCard{mcCard("c1")}
	repo, sess := setup(t, &limit, cards...)
	ticker := newFakeTicker()
	m := New(repo, WithTicker(ticker.fn))
	require.NoError(t, m.Start(ctx, sess, cards))

	ticker.ch <- time.Now()
	require.NoError(t, m.Exit())
	require.NoError(t, m.Exit())
	waitDone(t, m)

	assert.Eventually(t, func() bool { return ticker.stopped.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, PhaseExited, m.Snapshot().Phase)
	assert.Equal(t, int32(0), repo.completions.Load())

	stored, _ := repo.GetSession(ctx, sess.ID)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.ErrorIs(t, m.SelectOption("right"), apperr.ErrInvalidState)
}

func TestFailedWriteKeepsQuestionAndAnswerID(t *testing.T) {
	ctx := context.Background()
	cards := []models.FlashCard{mcCard("c1"), mcCard("c2")}
	repo, sess := setup(t, nil, cards...)
	m := New(repo)
	require.NoError(t, m.Start(ctx, sess, cards))
	require.NoError(t, m.SelectOption("right"))

	repo.failAnswer.Store(true)
	require.Error(t, m.SubmitAndAdvance(ctx))
	assert.Equal(t, 0, m.Snapshot().Index)
	assert.Equal(t, "right", m.Snapshot().Selection)

	repo.failAnswer.Store(false)
	require.NoError(t, m.SubmitAndAdvance(ctx))
	assert.Equal(t, 1, m.Snapshot().Index)

	require.Len(t, repo.answerIDs, 2)
	assert.Equal(t, repo.answerIDs[0], repo.answerIDs[1])
}

func TestDeletedCardIsSkipped(t *testing.T) {
	ctx := context.Background()
	cards := []models.FlashCard{mcCard("c1"), mcCard("c2"), mcCard("c3")}
	repo, sess := setup(t, nil, cards...)
	m := New(repo)
	require.NoError(t, m.Start(ctx, sess, cards))

	require.NoError(t, m.SelectOption("right"))
	require.NoError(t, repo.DeleteCard(ctx, "c1"))
	require.NoError(t, m.SubmitAndAdvance(ctx))

	st := m.Snapshot()
	assert.Equal(t, PhaseInProgress, st.Phase)
	assert.Equal(t, "c2", st.Card.ID)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 0, st.AnsweredCount)
	assert.Empty(t, st.Selection)

	require.NoError(t, m.SelectOption("right"))
	require.NoError(t, m.SubmitAndAdvance(ctx))
	require.NoError(t, m.SelectOption("wrong"))
	require.NoError(t, m.SubmitAndAdvance(ctx))
	waitDone(t, m)

	answers, err := repo.GetAnswers(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, answers, 2)
	assert.Equal(t, int32(1), repo.completions.Load())
}

func TestDeletedLastCardCompletes(t *testing.T) {
	ctx := context.Background()
	cards := []models.FlashCard{mcCard("c1")}
	repo, sess := setup(t, nil, cards...)
	m := New(repo)
	require.NoError(t, m.Start(ctx, sess, cards))

	require.NoError(t, m.SelectOption("right"))
	require.NoError(t, repo.DeleteCard(ctx, "c1"))
	require.NoError(t, m.SubmitAndAdvance(ctx))
	waitDone(t, m)

	st := m.Snapshot()
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, 0, st.Total)
	assert.Nil(t, st.Card)
	assert.Equal(t, int32(1), repo.completions.Load())
}

func TestStartEmptyCompletesImmediately(t *testing.T) {
	repo, sess := setup(t, nil)
	m := New(repo)
	require.NoError(t, m.Start(context.Background(), sess, nil))
	waitDone(t, m)
	assert.Equal(t, PhaseCompleted, m.Snapshot().Phase)
	assert.ErrorIs(t, m.Exit(), apperr.ErrInvalidState)
}

func TestResumeWithPriorAnswers(t *testing.T) {
	ctx := context.Background()
	limit := 30
	cards := []models.FlashCard{mcCard("c1"), mcCard("c2"), mcCard("c3")}
	repo, sess := setup(t, &limit, cards...)
	prior := []models.QuizAnswer{{ID: "a1", SessionID: sess.ID, CardID: "c1", Correct: true}}

	ticker := newFakeTicker()
	m := New(repo, WithTicker(ticker.fn))
	require.NoError(t, m.Start(ctx, sess, cards[1:], WithPriorAnswers(prior), WithRemaining(10)))

	st := m.Snapshot()
	assert.Equal(t, 1, st.Index)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.CorrectCount)
	require.NotNil(t, st.RemainingSeconds)
	assert.Equal(t, 10, *st.RemainingSeconds)
	require.NoError(t, m.Exit())
}

func TestResumeWithNoTimeLeft(t *testing.T) {
	limit := 30
	cards := []models.FlashCard{mcCard("c1")}
	repo, sess := setup(t, &limit, cards...)
	m := New(repo, WithTicker(newFakeTicker().fn))
	require.NoError(t, m.Start(context.Background(), sess, cards, WithRemaining(-4)))
	waitDone(t, m)
	assert.Equal(t, PhaseCompleted, m.Snapshot().Phase)
	assert.Equal(t, int32(1), repo.completions.Load())
}
