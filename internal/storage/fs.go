package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/starford/lumen/internal/checksum"
	"github.com/starford/lumen/internal/models"
)

const (
	noteExt    = ".md"
	tempPrefix = ".lumen-tmp-"
)

// FS implements Provider on the local file system.
type FS struct {
	root string
}

var _ Provider = (*FS)(nil)

// NewFS returns a provider rooted at an existing directory.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root implements Provider.
func (f *FS) Root() string { return f.root }

// resolve maps a library path to an absolute one inside the root.
func (f *FS) resolve(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	local := filepath.FromSlash(rel)
	if filepath.IsAbs(local) || !filepath.IsLocal(local) {
		return "", fmt.Errorf("storage: path outside library: %s", rel)
	}
	return filepath.Join(f.root, local), nil
}

func isHidden(name string) bool { return strings.HasPrefix(name, ".") }

// List implements Provider.
func (f *FS) List(dir string) ([]models.LibraryFile, error) {
	base, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []models.LibraryFile
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		switch {
		case d.IsDir() && p != base && isHidden(d.Name()):
			return filepath.SkipDir
		case d.IsDir(), isHidden(d.Name()), filepath.Ext(p) != noteExt:
			return nil
		}
		file, err := f.describe(p, d)
		if err != nil {
			return err
		}
		out = append(out, file)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %q: %w", dir, err)
	}
	slices.SortFunc(out, func(a, b models.LibraryFile) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

func (f *FS) describe(p string, d fs.DirEntry) (models.LibraryFile, error) {
	info, err := d.Info()
	if err != nil {
		return models.LibraryFile{}, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return models.LibraryFile{}, err
	}
	rel, err := filepath.Rel(f.root, p)
	if err != nil {
		return models.LibraryFile{}, err
	}
	return models.LibraryFile{
		Path:      filepath.ToSlash(rel),
		Checksum:  checksum.Sum(data),
		UpdatedAt: info.ModTime(),
	}, nil
}

// Read implements Provider. A missing file yields an error wrapping fs.ErrNotExist.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write implements Provider. Readers and the watcher never see a partial note.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if abs == f.root {
		return fmt.Errorf("storage: write needs a file path")
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	if err := replaceFile(abs, content); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	return nil
}

// replaceFile writes content next to target and renames it into place.
func replaceFile(target string, content []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), tempPrefix+"*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// Delete implements Provider. Folders left empty by the delete are removed
// too, up to the library root.
func (f *FS) Delete(path string) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if abs == f.root {
		return fmt.Errorf("storage: delete needs a file path")
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	f.pruneEmpty(filepath.Dir(abs))
	return nil
}

func (f *FS) pruneEmpty(dir string) {
	for dir != f.root && strings.HasPrefix(dir, f.root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
