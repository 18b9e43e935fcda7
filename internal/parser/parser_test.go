package parser

import (
	"errors"
	"strings"
	"testing"
)

const sample = `---
title: Cell respiration
subject:
  id: bio
  name: Biology
  color: "#3fa34d"
week: 3
summary: How cells turn glucose into ATP.
cards:
  - id: resp-1
    question: Where does the Krebs cycle happen?
    kind: multiple_choice
    options:
      - {id: a, text: Cytoplasm}
      - {id: b, text: Mitochondrial matrix, correct: true}
  - question: Glycolysis needs oxygen.
    kind: true_false
    options:
      - {id: "true", text: "True"}
      - {id: "false", text: "False", correct: true}
links:
  - target: bio/photosynthesis
    similarity: 0.8
    type: analogy
---
# Cell respiration

Respiration mirrors [[bio/photosynthesis|photosynthesis]] and feeds [[ATP]].
`

func TestParse_LibraryNote(t *testing.T) {
	r, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fm := r.Frontmatter
	if fm == nil {
		t.Fatal("expected frontmatter")
	}
	if r.Title != "Cell respiration" {
		t.Errorf("title = %q", r.Title)
	}
	if fm.Subject.ID != "bio" || fm.Subject.Name != "Biology" || fm.Subject.Color != "#3fa34d" {
		t.Errorf("subject = %+v", fm.Subject)
	}
	if fm.Week == nil || *fm.Week != 3 {
		t.Errorf("week = %v", fm.Week)
	}
	if len(fm.Cards) != 2 {
		t.Fatalf("cards = %d, want 2", len(fm.Cards))
	}
	if !fm.Cards[0].Options[1].Correct || fm.Cards[0].Options[0].Correct {
		t.Errorf("options = %+v", fm.Cards[0].Options)
	}
	if fm.Cards[1].ID != "" {
		t.Errorf("second card id = %q, want empty", fm.Cards[1].ID)
	}
	if len(fm.Links) != 1 || fm.Links[0].Similarity == nil || *fm.Links[0].Similarity != 0.8 || fm.Links[0].Strength != nil {
		t.Errorf("links = %+v", fm.Links)
	}
	if len(r.Wikilinks) != 2 || r.Wikilinks[0] != "bio/photosynthesis" || r.Wikilinks[1] != "ATP" {
		t.Errorf("wikilinks = %v", r.Wikilinks)
	}
	if !strings.HasPrefix(r.Body, "# Cell respiration") {
		t.Errorf("body = %q", r.Body)
	}
	if r.ReadMinutes != 1 {
		t.Errorf("read minutes = %d, want 1", r.ReadMinutes)
	}
}

func TestParse_ScalarSubject(t *testing.T) {
	r, err := Parse([]byte("---\nsubject: chem\nread_minutes: 12\n---\nBody\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter.Subject.ID != "chem" || r.Frontmatter.Subject.Name != "" {
		t.Errorf("subject = %+v", r.Frontmatter.Subject)
	}
	if r.ReadMinutes != 12 {
		t.Errorf("read minutes = %d", r.ReadMinutes)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	_, err := Parse(input)
	if !errors.Is(err, ErrFrontmatter) {
		t.Fatalf("err = %v, want ErrFrontmatter", err)
	}
}

func TestParse_UnclosedFrontmatterIsBody(t *testing.T) {
	input := []byte("---\nnot closed\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil || r.Body != string(input) {
		t.Errorf("result = %+v", r)
	}
}

func TestExtractLinks_Basic(t *testing.T) {
	body := "See [[Note A]] and [[Note B|alias]].\nAlso [[Note A]] again."
	links := extractLinks(body)
	if len(links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(links))
	}
	if links[0] != "Note A" || links[1] != "Note B" {
		t.Errorf("links = %v", links)
	}
}

func TestExtractLinks_EmptyTargetSkipped(t *testing.T) {
	if links := extractLinks("[[ ]] and [[|alias]]"); len(links) != 0 {
		t.Errorf("links = %v, want none", links)
	}
}

func TestEstimateMinutes(t *testing.T) {
	if got := estimateMinutes(""); got != 0 {
		t.Errorf("empty = %d", got)
	}
	if got := estimateMinutes(strings.Repeat("word ", 201)); got != 2 {
		t.Errorf("201 words = %d, want 2", got)
	}
}
