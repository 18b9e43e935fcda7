package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/lumen/internal/checksum"
)

// reconcileDelay debounces the full sync that follows renames and new directories.
const reconcileDelay = 200 * time.Millisecond

// Watch follows the library with fsnotify until ctx is cancelled. Created and
// written notes are ingested, removed ones deleted. Renames and new
// directories schedule a debounced Sync, which also catches events the
// platform coalesced or dropped.
func (s *Service) Watch(ctx context.Context) error {
	root := s.files.Root()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	s.logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time
	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
			return
		}
		reconcileTimer.Reset(reconcileDelay)
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			s.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			s.handle(ctx, w, root, ev, scheduleReconcile)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (s *Service) handle(ctx context.Context, w *fsnotify.Watcher, root string, ev fsnotify.Event, reconcile func()) {
	if hidden(root, ev.Name) {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addDirsRecursive(w, ev.Name); err != nil {
				s.logger.Warn("watcher: add new dir failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
			reconcile()
			return
		}
	}

	if !strings.HasSuffix(ev.Name, ".md") {
		return
	}
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		data, err := s.files.Read(rel)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
			}
			return
		}
		if s.unchanged(ctx, rel, data) {
			return
		}
		if _, err := s.IngestFile(ctx, rel, data); err != nil {
			s.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		s.logger.Debug("watcher: indexed", slog.String("path", rel))

	case ev.Op&fsnotify.Remove != 0:
		if err := s.RemoveFile(ctx, rel); err != nil {
			s.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		s.logger.Debug("watcher: deleted", slog.String("path", rel))

	case ev.Op&fsnotify.Rename != 0:
		// Rename fires on the old path; the new one arrives as Create.
		if err := s.RemoveFile(ctx, rel); err != nil {
			s.logger.Warn("watcher: rename delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		reconcile()
	}
}

// unchanged reports whether the stored checksum of rel already matches data.
// Editors often emit several writes per save.
func (s *Service) unchanged(ctx context.Context, rel string, data []byte) bool {
	sums, err := s.repo.NoteChecksums(ctx)
	if err != nil {
		return false
	}
	sum, ok := sums[NoteID(rel)]
	return ok && sum == checksum.Sum(data)
}

// hidden reports whether any path element below root starts with a dot.
func hidden(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
