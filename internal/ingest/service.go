// Package ingest keeps the repository in step with the Markdown library:
// subjects, notes, cards and links are read from note files, on startup and
// whenever a file changes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/starford/lumen/internal/apperr"
	"github.com/starford/lumen/internal/checksum"
	"github.com/starford/lumen/internal/models"
	"github.com/starford/lumen/internal/parser"
	"github.com/starford/lumen/internal/storage"
	"github.com/starford/lumen/internal/store"
)

// Event kinds passed to an EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// EventCallback is called after a note was ingested or removed.
type EventCallback func(kind, noteID string)

// Store is the part of the repository the library writes to.
type Store interface {
	store.Library
	store.Cards
	UpsertSemanticLink(ctx context.Context, l models.SemanticLink) error
	ListLinks(ctx context.Context) ([]models.SemanticLink, error)
}

// Stats summarises one Sync.
type Stats struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// Source is the raw content of a library note.
type Source struct {
	NoteID   string `json:"note_id"`
	Path     string `json:"path"`
	Content  string `json:"content"`
	Checksum string `json:"checksum"`
}

// Service ingests library files into the repository. Writes are serialised so
// the watcher, the startup sync and API edits never interleave.
type Service struct {
	files  storage.Provider
	repo   Store
	logger *slog.Logger
	notify EventCallback
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithEventCallback registers cb to run after every note change.
func WithEventCallback(cb EventCallback) Option {
	return func(s *Service) { s.notify = cb }
}

// WithClock overrides the time stamped on ingested notes and cards.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service reading files and writing repo.
func NewService(files storage.Provider, repo Store, opts ...Option) *Service {
	s := &Service{
		files:  files,
		repo:   repo,
		logger: slog.Default(),
		notify: func(string, string) {},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync walks the library and brings the repository up to date:
//   - new and changed files are parsed and upserted
//   - notes whose file disappeared are deleted
//
// Notes stored without a checksum did not come from the library and are left alone.
func (s *Service) Sync(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	files, err := s.files.List("")
	if err != nil {
		return st, fmt.Errorf("ingest: list library: %w", err)
	}
	sums, err := s.repo.NoteChecksums(ctx)
	if err != nil {
		return st, fmt.Errorf("ingest: checksums: %w", err)
	}

	disk := make(map[string]struct{}, len(files))
	var changed []parsed
	events := map[string]string{}
	for _, f := range files {
		id := NoteID(f.Path)
		disk[id] = struct{}{}
		if sums[id] == f.Checksum {
			st.Skipped++
			continue
		}
		data, err := s.files.Read(f.Path)
		if err != nil {
			st.Failed++
			s.logger.Warn("ingest: read failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		p, err := s.ingestLocked(ctx, id, data)
		if err != nil {
			st.Failed++
			s.logger.Warn("ingest: index failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		st.Indexed++
		changed = append(changed, p)
		events[id] = EventCreated
		if _, known := sums[id]; known {
			events[id] = EventUpdated
		}
		s.logger.Debug("ingest: indexed", slog.String("note", id))
	}

	for id, sum := range sums {
		if _, ok := disk[id]; ok || sum == "" {
			continue
		}
		if err := s.repo.DeleteNote(ctx, id); err != nil {
			s.logger.Warn("ingest: delete failed", slog.String("note", id), slog.String("error", err.Error()))
			continue
		}
		st.Removed++
		events[id] = EventDeleted
		s.logger.Debug("ingest: removed stale", slog.String("note", id))
	}

	if err := s.linkLocked(ctx, changed); err != nil {
		return st, err
	}
	for _, id := range slicesSortedKeys(events) {
		s.notify(events[id], id)
	}
	s.logger.Info("ingest: sync finished",
		slog.Int("indexed", st.Indexed), slog.Int("skipped", st.Skipped),
		slog.Int("removed", st.Removed), slog.Int("failed", st.Failed))
	return st, nil
}

// IngestFile parses data as the library file at path and stores it.
func (s *Service) IngestFile(ctx context.Context, path string, data []byte) (*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingestFileLocked(ctx, path, data)
}

func (s *Service) ingestFileLocked(ctx context.Context, path string, data []byte) (*models.Note, error) {
	id := NoteID(path)
	prev, err := s.repo.GetNote(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ingest: get note %s: %w", id, err)
	}
	p, err := s.ingestLocked(ctx, id, data)
	if err != nil {
		return nil, err
	}
	if err := s.linkLocked(ctx, []parsed{p}); err != nil {
		return nil, err
	}
	kind := EventCreated
	if prev != nil {
		kind = EventUpdated
	}
	s.notify(kind, id)
	return &p.note, nil
}

// RemoveFile deletes the note stored for the library file at path.
func (s *Service) RemoveFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := NoteID(path)
	if err := s.repo.DeleteNote(ctx, id); err != nil {
		return fmt.Errorf("ingest: delete note %s: %w", id, err)
	}
	s.notify(EventDeleted, id)
	return nil
}

// Source returns the library file of a note.
func (s *Service) Source(_ context.Context, noteID string) (*Source, error) {
	p := NotePath(noteID)
	data, err := s.files.Read(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ingest: note %s: %w", noteID, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &Source{NoteID: noteID, Path: p, Content: string(data), Checksum: checksum.Sum(data)}, nil
}

// WriteNote creates or replaces the library file of noteID and ingests it.
// A non-empty ifMatch must equal the checksum of the current file. Content
// with broken frontmatter is rejected before anything is written.
func (s *Service) WriteNote(ctx context.Context, noteID string, content []byte, ifMatch string) (*models.Note, error) {
	if noteID == "" || strings.HasPrefix(noteID, ".") || strings.Contains(noteID, "..") {
		return nil, fmt.Errorf("ingest: note id %q: %w", noteID, apperr.ErrInvalidArgument)
	}
	if _, err := parser.Parse(content); err != nil {
		return nil, fmt.Errorf("ingest: %w: %v", apperr.ErrInvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := NotePath(noteID)
	existing, err := s.files.Read(p)
	switch {
	case err == nil:
		if ifMatch != "" && ifMatch != checksum.Sum(existing) {
			return nil, fmt.Errorf("ingest: note %s changed: %w", noteID, apperr.ErrConflict)
		}
	case errors.Is(err, fs.ErrNotExist):
		if ifMatch != "" {
			return nil, fmt.Errorf("ingest: note %s: %w", noteID, apperr.ErrNotFound)
		}
	default:
		return nil, err
	}

	if err := s.files.Write(p, content); err != nil {
		return nil, fmt.Errorf("ingest: write %s: %w", p, err)
	}
	return s.ingestFileLocked(ctx, p, content)
}

// DeleteNote removes the library file of noteID and the stored note.
func (s *Service) DeleteNote(ctx context.Context, noteID string) error {
	p := NotePath(noteID)
	if err := s.files.Delete(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ingest: note %s: %w", noteID, apperr.ErrNotFound)
		}
		return err
	}
	return s.RemoveFile(ctx, p)
}

// ingestLocked stores the note, subject and cards of one file. Links are
// written separately, once every changed note is known.
func (s *Service) ingestLocked(ctx context.Context, id string, data []byte) (parsed, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return parsed{}, err
	}
	p := convert(id, res, s.now())

	if err := s.upsertSubject(ctx, p.subject); err != nil {
		return parsed{}, err
	}
	if err := s.repo.UpsertNote(ctx, p.note, checksum.Sum(data)); err != nil {
		return parsed{}, fmt.Errorf("ingest: upsert note %s: %w", id, err)
	}

	keep := make(map[string]struct{}, len(p.cards))
	for _, c := range p.cards {
		if err := c.Validate(); err != nil {
			s.logger.Warn("ingest: invalid card skipped", slog.String("note", id), slog.String("card", c.ID), slog.String("error", err.Error()))
			continue
		}
		if err := s.repo.UpsertCard(ctx, c); err != nil {
			return parsed{}, fmt.Errorf("ingest: upsert card %s: %w", c.ID, err)
		}
		keep[c.ID] = struct{}{}
	}
	return p, s.dropRemovedCards(ctx, id, keep)
}

// upsertSubject merges the fields a note declares into the stored subject,
// so a note naming only the subject id does not blank its name.
func (s *Service) upsertSubject(ctx context.Context, sub models.Subject) error {
	cur, err := s.repo.GetSubject(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("ingest: get subject %s: %w", sub.ID, err)
	}
	if cur != nil {
		if sub.Name == "" {
			sub.Name = cur.Name
		}
		if sub.Color == "" {
			sub.Color = cur.Color
		}
		if sub.Icon == "" {
			sub.Icon = cur.Icon
		}
		if sub.Name == cur.Name && sub.Color == cur.Color && sub.Icon == cur.Icon {
			return nil
		}
	}
	if sub.Name == "" {
		sub.Name = sub.ID
	}
	if err := s.repo.UpsertSubject(ctx, sub); err != nil {
		return fmt.Errorf("ingest: upsert subject %s: %w", sub.ID, err)
	}
	return nil
}

// dropRemovedCards deletes cards that only came from noteID and are no longer declared.
func (s *Service) dropRemovedCards(ctx context.Context, noteID string, keep map[string]struct{}) error {
	cards, err := s.repo.GetAllCards(ctx, nil)
	if err != nil {
		return fmt.Errorf("ingest: list cards: %w", err)
	}
	for _, c := range cards {
		if _, ok := keep[c.ID]; ok {
			continue
		}
		if len(c.SourceNoteIDs) != 1 || c.SourceNoteIDs[0] != noteID {
			continue
		}
		if err := s.repo.DeleteCard(ctx, c.ID); err != nil {
			return fmt.Errorf("ingest: delete card %s: %w", c.ID, err)
		}
	}
	return nil
}

// linkLocked writes the links of the given notes. Declared links always
// replace the stored link of their pair; a wikilink only adds a link when the
// pair has none yet.
func (s *Service) linkLocked(ctx context.Context, notes []parsed) error {
	if len(notes) == 0 {
		return nil
	}
	all, err := s.repo.ListNotes(ctx, nil)
	if err != nil {
		return fmt.Errorf("ingest: list notes: %w", err)
	}
	existing, err := s.repo.ListLinks(ctx)
	if err != nil {
		return fmt.Errorf("ingest: list links: %w", err)
	}
	linked := make(map[string]struct{}, len(existing))
	for _, l := range existing {
		linked[linkID(l.SourceID, l.TargetID)] = struct{}{}
	}

	r := newResolver(all)
	now := s.now()
	for _, p := range notes {
		declared := map[string]struct{}{}
		for _, dl := range p.links {
			target, ok := r.resolve(dl.Target)
			if !ok || target == p.note.ID {
				s.logger.Debug("ingest: unresolved link", slog.String("note", p.note.ID), slog.String("target", dl.Target))
				continue
			}
			l := models.SemanticLink{
				ID:         linkID(p.note.ID, target),
				SourceID:   p.note.ID,
				TargetID:   target,
				Similarity: wikilinkSimilarity,
				Type:       dl.Type,
				CreatedAt:  now,
			}
			if dl.Similarity != nil {
				l.Similarity = *dl.Similarity
			}
			l.Strength = l.Similarity
			if dl.Strength != nil {
				l.Strength = *dl.Strength
			}
			if l.Type == "" {
				l.Type = models.LinkRelated
			}
			if err := l.Validate(); err != nil {
				s.logger.Warn("ingest: invalid link skipped", slog.String("note", p.note.ID), slog.String("target", target), slog.String("error", err.Error()))
				continue
			}
			if err := s.repo.UpsertSemanticLink(ctx, l); err != nil {
				return fmt.Errorf("ingest: upsert link: %w", err)
			}
			declared[target] = struct{}{}
			linked[l.ID] = struct{}{}
		}

		for _, w := range p.wiki {
			target, ok := r.resolve(w)
			if !ok || target == p.note.ID {
				continue
			}
			if _, ok := declared[target]; ok {
				continue
			}
			id := linkID(p.note.ID, target)
			if _, ok := linked[id]; ok {
				continue
			}
			l := models.SemanticLink{ID: id, SourceID: p.note.ID, TargetID: target, Similarity: wikilinkSimilarity,
				Type: models.LinkRelated, Strength: wikilinkSimilarity, CreatedAt: now}
			if err := s.repo.UpsertSemanticLink(ctx, l); err != nil {
				return fmt.Errorf("ingest: upsert link: %w", err)
			}
			linked[id] = struct{}{}
		}
	}
	return nil
}

func slicesSortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
