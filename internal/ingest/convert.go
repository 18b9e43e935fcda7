package ingest

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/parser"
)

// DefaultSubject owns notes at the library root that do not name a subject.
const DefaultSubject = "general"

// wikilinkSimilarity is the weight of a link that only comes from a [[wikilink]].
const wikilinkSimilarity = 0.5

// linkNamespace seeds the deterministic ids of library links.
var linkNamespace = uuid.MustParse("5b0c4a52-4f0e-4a4b-9f1e-3c2d9b7f6a10")

// NoteID derives a note id from its library path: "bio/cells.md" → "bio/cells".
func NoteID(p string) string {
	return strings.TrimSuffix(path.Clean(strings.ReplaceAll(p, "\\", "/")), ".md")
}

// NotePath is the inverse of NoteID.
func NotePath(id string) string {
	return id + ".md"
}

// parsed is one library file turned into domain values.
type parsed struct {
	note    models.Note
	subject models.Subject
	cards   []models.FlashCard
	links   []parser.Link
	wiki    []string
}

func convert(id string, res *parser.Result, now time.Time) parsed {
	fm := res.Frontmatter
	if fm == nil {
		fm = &parser.Frontmatter{}
	}

	subject := models.Subject{ID: fm.Subject.ID, Name: fm.Subject.Name, Color: fm.Subject.Color, Icon: fm.Subject.Icon}
	if subject.ID == "" {
		subject.ID = DefaultSubject
		if dir, _, ok := strings.Cut(id, "/"); ok {
			subject.ID = dir
		}
	}

	title := res.Title
	if title == "" {
		title = path.Base(id)
	}

	p := parsed{
		note: models.Note{
			ID:          id,
			Title:       title,
			Body:        res.Body,
			Summary:     fm.Summary,
			SubjectID:   subject.ID,
			Week:        fm.Week,
			ReadMinutes: res.ReadMinutes,
			UpdatedAt:   now,
		},
		subject: subject,
		links:   fm.Links,
		wiki:    res.Wikilinks,
	}

	for i, c := range fm.Cards {
		p.cards = append(p.cards, convertCard(id, subject.ID, i, c, now))
	}
	return p
}

func convertCard(noteID, subjectID string, i int, c parser.Card, now time.Time) models.FlashCard {
	card := models.FlashCard{
		ID:            c.ID,
		Question:      c.Question,
		Answer:        c.Answer,
		Kind:          models.CardKind(c.Kind),
		Difficulty:    c.Difficulty,
		SubjectID:     subjectID,
		SourceNoteIDs: []string{noteID},
		Explanation:   c.Explanation,
		CreatedAt:     now,
	}
	if card.ID == "" {
		card.ID = fmt.Sprintf("%s#%d", noteID, i+1)
	}
	if card.Kind == "" {
		card.Kind = models.KindReveal
		if len(c.Options) > 0 {
			card.Kind = models.KindMultipleChoice
		}
	}
	for j, o := range c.Options {
		opt := models.Option{ID: o.ID, Text: o.Text, Correct: o.Correct}
		if opt.ID == "" {
			opt.ID = string(rune('a' + j))
		}
		card.Options = append(card.Options, opt)
	}
	return card
}

// resolver finds the note a link target refers to: an exact id, the last
// path segment of an id, or a title, compared case-insensitively.
type resolver struct {
	byID    map[string]string
	byBase  map[string]string
	byTitle map[string]string
}

func newResolver(notes []models.Note) resolver {
	r := resolver{byID: map[string]string{}, byBase: map[string]string{}, byTitle: map[string]string{}}
	for _, n := range notes {
		r.byID[strings.ToLower(n.ID)] = n.ID
		base := strings.ToLower(path.Base(n.ID))
		if _, taken := r.byBase[base]; !taken {
			r.byBase[base] = n.ID
		}
		title := strings.ToLower(n.Title)
		if _, taken := r.byTitle[title]; !taken && title != "" {
			r.byTitle[title] = n.ID
		}
	}
	return r
}

func (r resolver) resolve(target string) (string, bool) {
	key := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(target), ".md"))
	for _, m := range []map[string]string{r.byID, r.byBase, r.byTitle} {
		if id, ok := m[key]; ok {
			return id, true
		}
	}
	return "", false
}

// linkID is stable for an unordered pair of notes.
func linkID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return uuid.NewSHA1(linkNamespace, []byte(a+"\x00"+b)).String()
}
