// Package storetest holds the behavioural tests every store.Repository
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/lumen/internal/apperr"
	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/store"
)

// Factory returns a fresh, empty repository for one test.
type Factory func(t *testing.T) store.Repository

// Run executes the whole contract suite against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, repo store.Repository)
	}{
		{"GetSessionNotFound", testGetSessionNotFound},
		{"CompleteSessionIdempotent", testCompleteSessionIdempotent},
		{"ListOpenSessions", testListOpenSessions},
		{"RecordAnswerRequiresCard", testRecordAnswerRequiresCard},
		{"RecordAnswerReplacesByID", testRecordAnswerReplacesByID},
		{"DueCardsOrderAndFilter", testDueCards},
		{"UpsertCardKeepsReview", testUpsertCardKeepsReview},
		{"UpdateCardScheduleUnknownCard", testUpdateScheduleUnknown},
		{"DeleteCardKeepsAnswers", testDeleteCardKeepsAnswers},
		{"UpsertLinkReplacesPair", testUpsertLinkReplacesPair},
		{"RelatedNotesBothDirections", testRelatedNotes},
		{"DeleteNoteCascades", testDeleteNoteCascades},
		{"NoteChecksums", testNoteChecksums},
		{"SearchNotes", testSearchNotes},
		{"ProgressRoundTrip", testProgressRoundTrip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newRepo(t))
		})
	}
}

func ptr[T any](v T) *T { return &v }

func seedCard(t *testing.T, repo store.Repository, id, subject string, created time.Time, sources ...string) models.FlashCard {
	t.Helper()
	c := models.FlashCard{
		ID:            id,
		Question:      "Question " + id,
		Answer:        "Answer " + id,
		Kind:          models.KindMultipleChoice,
		SubjectID:     subject,
		Options:       []models.Option{{ID: "a", Text: "right", Correct: true}, {ID: "b", Text: "wrong"}},
		SourceNoteIDs: sources,
		CreatedAt:     created,
	}
	if err := repo.UpsertCard(context.Background(), c); err != nil {
		t.Fatalf("UpsertCard(%s): %v", id, err)
	}
	return c
}

func seedNote(t *testing.T, repo store.Repository, id, title, subject string) {
	t.Helper()
	n := models.Note{ID: id, Title: title, Body: "Body of " + title, SubjectID: subject}
	if err := repo.UpsertNote(context.Background(), n, "sum-"+id); err != nil {
		t.Fatalf("UpsertNote(%s): %v", id, err)
	}
}

func testGetSessionNotFound(t *testing.T, repo store.Repository) {
	sess, err := repo.GetSession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil session, got %+v", sess)
	}
}

func testCompleteSessionIdempotent(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	sess, err := repo.CreateSession(ctx, models.SessionQuickReview, ptr("bio"), 3, nil, []string{"c1", "c2", "c3"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Status != models.StatusInProgress {
		t.Fatalf("status = %s", sess.Status)
	}

	first := time.Now().UTC().Truncate(time.Millisecond)
	if err := repo.CompleteSession(ctx, sess.ID, first); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if err := repo.CompleteSession(ctx, sess.ID, first.Add(time.Hour)); err != nil {
		t.Fatalf("second CompleteSession: %v", err)
	}

	got, err := repo.GetSession(ctx, sess.ID)
	if err != nil || got == nil {
		t.Fatalf("GetSession: %v %v", got, err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(first) {
		t.Errorf("finished_at = %v, want %v", got.FinishedAt, first)
	}
	if got.SubjectID == nil || *got.SubjectID != "bio" {
		t.Errorf("subject = %v", got.SubjectID)
	}
	if len(got.CardIDs) != 3 || got.CardIDs[2] != "c3" {
		t.Errorf("card plan = %v", got.CardIDs)
	}
}

func testListOpenSessions(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	open, _ := repo.CreateSession(ctx, models.SessionTimedExam, nil, 1, ptr(60), nil)
	done, _ := repo.CreateSession(ctx, models.SessionQuickReview, nil, 1, nil, nil)
	_ = repo.CompleteSession(ctx, done.ID, time.Now())

	list, err := repo.ListOpenSessions(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListOpenSessions: %v", err)
	}
	if len(list) != 1 || list[0].ID != open.ID {
		t.Fatalf("open sessions = %+v", list)
	}
	if list[0].TimeLimitSeconds == nil || *list[0].TimeLimitSeconds != 60 {
		t.Errorf("time limit = %v", list[0].TimeLimitSeconds)
	}

	list, _ = repo.ListOpenSessions(ctx, time.Now().Add(-time.Hour))
	if len(list) != 0 {
		t.Errorf("expected no sessions started an hour ago, got %d", len(list))
	}
}

func testRecordAnswerRequiresCard(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	sess, _ := repo.CreateSession(ctx, models.SessionQuickReview, nil, 1, nil, nil)
	err := repo.RecordAnswer(ctx, models.QuizAnswer{ID: "a1", SessionID: sess.ID, CardID: "ghost", AnsweredAt: time.Now()})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	answers, _ := repo.GetAnswers(ctx, sess.ID)
	if len(answers) != 0 {
		t.Errorf("answers = %d, want 0", len(answers))
	}
}

func testRecordAnswerReplacesByID(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedCard(t, repo, "c1", "bio", time.Now())
	sess, _ := repo.CreateSession(ctx, models.SessionQuickReview, nil, 1, nil, []string{"c1"})

	at := time.Now().UTC().Truncate(time.Millisecond)
	a := models.QuizAnswer{ID: "a1", SessionID: sess.ID, CardID: "c1", Answer: "right", Correct: true,
		Confidence: models.ConfidenceEasy, TimeSpentSeconds: 4, AnsweredAt: at}
	if err := repo.RecordAnswer(ctx, a); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if err := repo.RecordAnswer(ctx, a); err != nil {
		t.Fatalf("retried RecordAnswer: %v", err)
	}

	answers, err := repo.GetAnswers(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetAnswers: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(answers))
	}
	got := answers[0]
	if !got.Correct || got.Confidence != models.ConfidenceEasy || got.TimeSpentSeconds != 4 || !got.AnsweredAt.Equal(at) {
		t.Errorf("answer = %+v", got)
	}
}

func testDueCards(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base.Add(10 * 24 * time.Hour)
	seedCard(t, repo, "new", "bio", base)
	seedCard(t, repo, "overdue", "bio", base)
	seedCard(t, repo, "future", "bio", base)
	seedCard(t, repo, "chem", "chem", base)

	past := now.Add(-time.Hour)
	later := now.Add(time.Hour)
	_ = repo.UpdateCardSchedule(ctx, "overdue", models.Review{EaseFactor: 2.5, IntervalDays: 1, Repetitions: 1, NextReviewAt: &past})
	_ = repo.UpdateCardSchedule(ctx, "future", models.Review{EaseFactor: 2.5, IntervalDays: 6, Repetitions: 2, NextReviewAt: &later})

	due, err := repo.GetDueCards(ctx, ptr("bio"), now)
	if err != nil {
		t.Fatalf("GetDueCards: %v", err)
	}
	if len(due) != 2 || due[0].ID != "new" || due[1].ID != "overdue" {
		t.Fatalf("due = %v", cardIDs(due))
	}

	all, err := repo.GetAllCards(ctx, nil)
	if err != nil {
		t.Fatalf("GetAllCards: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("all cards = %d, want 4", len(all))
	}
	due, _ = repo.GetDueCards(ctx, nil, now)
	if len(due) != 3 {
		t.Errorf("due across subjects = %v", cardIDs(due))
	}
}

func cardIDs(cards []models.FlashCard) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.ID
	}
	return out
}

func testUpsertCardKeepsReview(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	c := seedCard(t, repo, "c1", "bio", time.Now())
	next := time.Now().UTC().Truncate(time.Millisecond).Add(6 * 24 * time.Hour)
	if err := repo.UpdateCardSchedule(ctx, "c1", models.Review{EaseFactor: 2.36, IntervalDays: 6, Repetitions: 2, NextReviewAt: &next}); err != nil {
		t.Fatalf("UpdateCardSchedule: %v", err)
	}

	c.Question = "Reworded"
	c.Review = models.Review{}
	if err := repo.UpsertCard(ctx, c); err != nil {
		t.Fatalf("UpsertCard: %v", err)
	}
	got, err := repo.GetCard(ctx, "c1")
	if err != nil || got == nil {
		t.Fatalf("GetCard: %v %v", got, err)
	}
	if got.Question != "Reworded" {
		t.Errorf("question = %q", got.Question)
	}
	if got.Review.Repetitions != 2 || got.Review.IntervalDays != 6 || got.Review.NextReviewAt == nil || !got.Review.NextReviewAt.Equal(next) {
		t.Errorf("review state lost: %+v", got.Review)
	}
	if len(got.Options) != 2 || !got.Options[0].Correct {
		t.Errorf("options = %+v", got.Options)
	}

	missing, err := repo.GetCard(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetCard(missing) = %v, %v", missing, err)
	}
}

func testUpdateScheduleUnknown(t *testing.T, repo store.Repository) {
	err := repo.UpdateCardSchedule(context.Background(), "ghost", models.NewReview())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func testDeleteCardKeepsAnswers(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedCard(t, repo, "c1", "bio", time.Now(), "n1")
	sess, _ := repo.CreateSession(ctx, models.SessionQuickReview, nil, 1, nil, []string{"c1"})
	if err := repo.RecordAnswer(ctx, models.QuizAnswer{ID: "a1", SessionID: sess.ID, CardID: "c1", AnsweredAt: time.Now()}); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	if err := repo.DeleteCard(ctx, "c1"); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}
	if err := repo.DeleteCard(ctx, "c1"); err != nil {
		t.Fatalf("second DeleteCard: %v", err)
	}
	if c, _ := repo.GetCard(ctx, "c1"); c != nil {
		t.Error("card still present")
	}
	answers, _ := repo.GetAnswers(ctx, sess.ID)
	if len(answers) != 1 || answers[0].CardID != "c1" {
		t.Errorf("answers = %+v", answers)
	}
}

func testUpsertLinkReplacesPair(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedNote(t, repo, "a", "A", "bio")
	seedNote(t, repo, "b", "B", "bio")

	first := models.SemanticLink{ID: "l1", SourceID: "a", TargetID: "b", Similarity: 0.3, Type: models.LinkRelated, Strength: 0.2, CreatedAt: time.Now()}
	second := models.SemanticLink{ID: "l2", SourceID: "b", TargetID: "a", Similarity: 0.9, Type: models.LinkAnalogy, Strength: 0.8, CreatedAt: time.Now()}
	third := models.SemanticLink{ID: "l3", SourceID: "b", TargetID: "a", Similarity: 0.7, Type: models.LinkPrerequisite, Strength: 0.5, CreatedAt: time.Now()}

	for _, l := range []models.SemanticLink{first, second, third} {
		if err := repo.UpsertSemanticLink(ctx, l); err != nil {
			t.Fatalf("UpsertSemanticLink(%s): %v", l.ID, err)
		}
	}

	links, err := repo.ListLinks(ctx)
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("links = %d, want 1", len(links))
	}
	got := links[0]
	if got.ID != "l3" || got.Similarity != 0.7 || got.Type != models.LinkPrerequisite {
		t.Errorf("last write should win, got %+v", got)
	}
}

func testRelatedNotes(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	_ = repo.UpsertSubject(ctx, models.Subject{ID: "bio", Name: "Biology"})
	seedNote(t, repo, "note-1", "Cells", "bio")
	seedNote(t, repo, "note-2", "Mitochondria", "bio")
	seedNote(t, repo, "note-3", "Osmosis", "bio")
	seedNote(t, repo, "note-4", "Unrelated", "bio")

	_ = repo.UpsertSemanticLink(ctx, models.SemanticLink{ID: "l-b", SourceID: "note-1", TargetID: "note-3", Similarity: 0.45, Type: models.LinkRelated, CreatedAt: time.Now()})
	_ = repo.UpsertSemanticLink(ctx, models.SemanticLink{ID: "l-a", SourceID: "note-2", TargetID: "note-1", Similarity: 0.88, Type: models.LinkRelated, CreatedAt: time.Now()})

	related, err := repo.GetRelatedNotes(ctx, "note-1", 10)
	if err != nil {
		t.Fatalf("GetRelatedNotes: %v", err)
	}
	if len(related) != 2 {
		t.Fatalf("related = %+v", related)
	}
	if related[0].NoteID != "note-2" || related[1].NoteID != "note-3" {
		t.Errorf("order = %s, %s", related[0].NoteID, related[1].NoteID)
	}
	if related[0].SubjectName != "Biology" || related[0].Title != "Mitochondria" || related[0].Similarity != 0.88 {
		t.Errorf("first = %+v", related[0])
	}

	back, _ := repo.GetRelatedNotes(ctx, "note-2", 10)
	if len(back) != 1 || back[0].NoteID != "note-1" {
		t.Errorf("note-2 related = %+v", back)
	}

	limited, _ := repo.GetRelatedNotes(ctx, "note-1", 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}
}

func testDeleteNoteCascades(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedNote(t, repo, "n1", "One", "bio")
	seedNote(t, repo, "n2", "Two", "bio")
	seedCard(t, repo, "only-n1", "bio", time.Now(), "n1")
	seedCard(t, repo, "both", "bio", time.Now(), "n1", "n2")
	_ = repo.UpsertSemanticLink(ctx, models.SemanticLink{ID: "l", SourceID: "n1", TargetID: "n2", Similarity: 0.5, Type: models.LinkRelated, CreatedAt: time.Now()})

	if err := repo.DeleteNote(ctx, "n1"); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if n, _ := repo.GetNote(ctx, "n1"); n != nil {
		t.Error("note still present")
	}
	if c, _ := repo.GetCard(ctx, "only-n1"); c != nil {
		t.Error("card sourced only from deleted note should be gone")
	}
	c, _ := repo.GetCard(ctx, "both")
	if c == nil || len(c.SourceNoteIDs) != 1 || c.SourceNoteIDs[0] != "n2" {
		t.Errorf("shared card = %+v", c)
	}
	links, _ := repo.ListLinks(ctx)
	if len(links) != 0 {
		t.Errorf("links = %d, want 0", len(links))
	}
}

func testNoteChecksums(t *testing.T, repo store.Repository) {
	seedNote(t, repo, "n1", "One", "bio")
	sums, err := repo.NoteChecksums(context.Background())
	if err != nil {
		t.Fatalf("NoteChecksums: %v", err)
	}
	if sums["n1"] != "sum-n1" {
		t.Errorf("checksum = %q", sums["n1"])
	}
}

func testSearchNotes(t *testing.T, repo store.Repository) {
	seedNote(t, repo, "n1", "Photosynthesis", "bio")
	seedNote(t, repo, "n2", "Respiration", "bio")
	results, err := repo.SearchNotes(context.Background(), "Photosynthesis", 10)
	if err != nil {
		t.Fatalf("SearchNotes: %v", err)
	}
	if len(results) != 1 || results[0].NoteID != "n1" {
		t.Errorf("results = %+v", results)
	}
}

func testProgressRoundTrip(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	_ = repo.UpsertSubject(ctx, models.Subject{ID: "bio", Name: "Biology"})
	if p, err := repo.GetProgress(ctx, "bio"); err != nil || p != nil {
		t.Fatalf("GetProgress before save = %v, %v", p, err)
	}
	at := time.Now().UTC().Truncate(time.Millisecond)
	want := models.UserProgress{SubjectID: "bio", MasteryPercent: 40, NotesReviewed: 2, NotesTotal: 5,
		AverageScore: 66, SessionsCompleted: 1, CurrentStreak: 3, ExperiencePoints: 20, LastStudiedAt: &at}
	if err := repo.SaveProgress(ctx, want); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	got, err := repo.GetProgress(ctx, "bio")
	if err != nil || got == nil {
		t.Fatalf("GetProgress: %v %v", got, err)
	}
	if got.CurrentStreak != 3 || got.ExperiencePoints != 20 || got.LastStudiedAt == nil || !got.LastStudiedAt.Equal(at) {
		t.Errorf("progress = %+v", got)
	}
	sub, _ := repo.GetSubject(ctx, "bio")
	if sub == nil || sub.MasteryPercent != 40 {
		t.Errorf("subject mastery not mirrored: %+v", sub)
	}
}
