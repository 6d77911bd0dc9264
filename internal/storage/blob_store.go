package storage

import (
	"os"
	"time"
)

// BlobStore manages the files of one folder tree on the medium.
type BlobStore interface {
	// Root returns the absolute base directory.
	Root() string

	// Write saves data to a relative path atomically.
	Write(path string, data []byte, mode os.FileMode) error

	// Read retrieves file contents.
	Read(path string) ([]byte, error)

	// EnsureDir creates a directory if it doesn't exist.
	EnsureDir(path string) error

	// Walk visits every entry below the root in lexical order.
	Walk(fn func(FileInfo) error) error
}

// FileInfo contains file metadata.
type FileInfo struct {
	Path      string // relative to the store root, slash separated
	Size      int64
	Mode      os.FileMode
	ModTime   time.Time
	IsDir     bool
	IsSymlink bool
}

// ConflictStrategy defines how to handle file conflicts.
type ConflictStrategy int

const (
	// ConflictOverwrite replaces existing files.
	ConflictOverwrite ConflictStrategy = iota

	// ConflictError returns an error on conflict.
	ConflictError
)
