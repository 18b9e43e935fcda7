package store

import (
	"strings"
	"testing"
	"time"

	"github.com/starford/lumen/internal/models"
)

func TestSortDue(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	early, late := base.Add(-48*time.Hour), base.Add(-time.Hour)
	cards := []models.FlashCard{
		{ID: "late", Review: models.Review{NextReviewAt: &late}, CreatedAt: base},
		{ID: "new-b", CreatedAt: base},
		{ID: "early", Review: models.Review{NextReviewAt: &early}, CreatedAt: base},
		{ID: "new-a", CreatedAt: base},
	}
	SortDue(cards)
	want := []string{"new-a", "new-b", "early", "late"}
	for i, id := range want {
		if cards[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, cards[i].ID, id)
		}
	}
}

func TestSortNotes(t *testing.T) {
	w1, w2 := 1, 2
	notes := []models.Note{
		{ID: "c", SubjectID: "bio"},
		{ID: "b", SubjectID: "bio", Week: &w2},
		{ID: "a", SubjectID: "bio", Week: &w1},
		{ID: "z", SubjectID: "art"},
	}
	SortNotes(notes)
	got := []string{notes[0].ID, notes[1].ID, notes[2].ID, notes[3].ID}
	if strings.Join(got, ",") != "z,a,b,c" {
		t.Errorf("order = %v", got)
	}
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("é", 300)
	if got := []rune(Snippet(long)); len(got) != 200 {
		t.Errorf("snippet runes = %d", len(got))
	}
	if Snippet("short") != "short" {
		t.Error("short body should be returned as is")
	}
}
