package internal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestRunSyncMemoryDriver(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "bio"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bio", "cells.md"), []byte("# Cells\n\nUnits of life.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.md"), []byte("---\ntitle: [\n---\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	cfg.Storage.Driver = DriverMemory
	cfg.Library.Path = dir

	stats, err := RunSync(context.Background(), WithConfig(cfg), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 indexed, 1 failed", stats)
	}
}

func TestRunSyncCreatesLibraryAndDatabase(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Library.Path = filepath.Join(dir, "library")
	cfg.Storage.SQLite.Path = filepath.Join(dir, "lumen.db")

	if _, err := RunSync(context.Background(), WithConfig(cfg), WithLogOutput(io.Discard)); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{cfg.Library.Path, cfg.Storage.SQLite.Path} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s not created: %v", p, err)
		}
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}
