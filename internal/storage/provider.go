// Package storage gives access to the Markdown study library on disk.
package storage

import "github.com/starford/lumen/internal/models"

// Provider reads and writes library files. Paths are relative to the library
// root and use forward slashes.
type Provider interface {
	// List returns every .md file under dir, sorted by path. Hidden
	// directories are skipped.
	List(dir string) ([]models.LibraryFile, error)
	Read(path string) ([]byte, error)
	// Write atomically replaces the content of path, creating parent directories.
	Write(path string, content []byte) error
	Delete(path string) error
	// Root is the absolute library directory.
	Root() string
}
