package studyservice

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/progress"
	"github.com/starford/lumen/internal/result"
)

// Result summarises a session. Cards answered wrong point at the notes they
// came from; notes related to those, and not themselves sources, become
// suggestions.
func (s *Service) Result(ctx context.Context, id string) (result.Summary, error) {
	session, err := s.session(ctx, id)
	if err != nil {
		return result.Summary{}, err
	}
	answers, err := s.repo.GetAnswers(ctx, id)
	if err != nil {
		return result.Summary{}, fmt.Errorf("studyservice: answers: %w", err)
	}

	var cards []models.FlashCard
	for _, cid := range lo.Uniq(lo.Map(answers, func(a models.QuizAnswer, _ int) string { return a.CardID })) {
		c, err := s.repo.GetCard(ctx, cid)
		if err != nil {
			return result.Summary{}, fmt.Errorf("studyservice: card %s: %w", cid, err)
		}
		if c != nil {
			cards = append(cards, *c)
		}
	}
	lookup := result.SliceLookup(cards)

	var prog *models.UserProgress
	if session.SubjectID != nil {
		if prog, err = s.repo.GetProgress(ctx, *session.SubjectID); err != nil {
			return result.Summary{}, fmt.Errorf("studyservice: progress: %w", err)
		}
	}

	summary := result.Aggregate(*session, answers, lookup, prog)
	summary.Suggestions, err = s.suggestions(ctx, answers, lookup)
	if err != nil {
		return result.Summary{}, err
	}
	return summary, nil
}

func (s *Service) suggestions(ctx context.Context, answers []models.QuizAnswer, lookup result.MapLookup) ([]models.RelatedNote, error) {
	if s.related == nil || s.defaults.SuggestionLimit <= 0 {
		return nil, nil
	}
	var sources []string
	for _, a := range answers {
		if a.Correct {
			continue
		}
		if c, ok := lookup.Card(a.CardID); ok {
			sources = append(sources, c.SourceNoteIDs...)
		}
	}
	sources = lo.Uniq(sources)
	exclude := lo.SliceToMap(sources, func(id string) (string, struct{}) { return id, struct{}{} })

	best := map[string]models.RelatedNote{}
	for _, src := range sources {
		related, err := s.related.RelatedNotes(ctx, src, s.defaults.SuggestionLimit)
		if err != nil {
			return nil, fmt.Errorf("studyservice: related notes of %s: %w", src, err)
		}
		for _, r := range related {
			if _, ok := exclude[r.NoteID]; ok {
				continue
			}
			if cur, ok := best[r.NoteID]; !ok || r.Similarity > cur.Similarity {
				best[r.NoteID] = r
			}
		}
	}

	out := lo.Values(best)
	slices.SortFunc(out, func(a, b models.RelatedNote) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.NoteID, b.NoteID)
	})
	if len(out) > s.defaults.SuggestionLimit {
		out = out[:s.defaults.SuggestionLimit]
	}
	return out, nil
}

// recordProgress folds a finished session into the progress of every
// subject it touched. Each subject is scored on its own answers.
func (s *Service) recordProgress(ctx context.Context, session models.StudySession, answers []models.QuizAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	at := s.now()
	if session.FinishedAt != nil {
		at = *session.FinishedAt
	}

	bySubject := map[string][]models.QuizAnswer{}
	var order []string
	for _, a := range answers {
		c, err := s.repo.GetCard(ctx, a.CardID)
		if err != nil {
			return fmt.Errorf("studyservice: card %s: %w", a.CardID, err)
		}
		if c == nil {
			continue
		}
		if _, ok := bySubject[c.SubjectID]; !ok {
			order = append(order, c.SubjectID)
		}
		bySubject[c.SubjectID] = append(bySubject[c.SubjectID], a)
	}

	for _, subjectID := range order {
		sub := bySubject[subjectID]
		correct := lo.CountBy(sub, func(a models.QuizAnswer) bool { return a.Correct })

		prev, err := s.repo.GetProgress(ctx, subjectID)
		if err != nil {
			return fmt.Errorf("studyservice: progress %s: %w", subjectID, err)
		}
		if prev == nil {
			prev = &models.UserProgress{SubjectID: subjectID}
		}
		next := progress.Apply(*prev, progress.Outcome{
			ScorePercent: correct * 100 / len(sub),
			XPEarned:     correct * result.XPPerCorrect,
			At:           at,
		})

		cards, err := s.repo.GetAllCards(ctx, &subjectID)
		if err != nil {
			return fmt.Errorf("studyservice: cards %s: %w", subjectID, err)
		}
		next.MasteryPercent, next.NotesReviewed = progress.Mastery(cards)
		notes, err := s.repo.ListNotes(ctx, &subjectID)
		if err != nil {
			return fmt.Errorf("studyservice: notes %s: %w", subjectID, err)
		}
		next.NotesTotal = len(notes)

		if err := s.repo.SaveProgress(ctx, next); err != nil {
			return fmt.Errorf("studyservice: save progress %s: %w", subjectID, err)
		}
		s.logger.Debug("studyservice: progress updated",
			slog.String("subject", subjectID), slog.Int("xp", next.ExperiencePoints), slog.Int("streak", next.CurrentStreak))
	}
	return nil
}
