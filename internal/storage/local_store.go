package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheMichaelB/chaosvault/internal/events"
)

// ErrFileExists is returned by Write under ConflictError.
var ErrFileExists = errors.New("file already exists")

// LocalStore implements file system operations below one base directory.
type LocalStore struct {
	baseDir          string
	conflictStrategy ConflictStrategy
	logger           *events.Logger

	// Security settings
	allowSymlinks bool
	maxPathLength int
	maxFileSize   int64
}

// NewLocalStore creates a local file store, creating baseDir if needed.
func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return newLocalStore(absPath, logger), nil
}

// OpenLocalStore opens an existing directory without creating it.
func OpenLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("open base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absPath)
	}

	return newLocalStore(absPath, logger), nil
}

func newLocalStore(absPath string, logger *events.Logger) *LocalStore {
	return &LocalStore{
		baseDir:          absPath,
		conflictStrategy: ConflictOverwrite,
		logger:           logger.WithField("component", "local_store"),
		allowSymlinks:    false,
		maxPathLength:    4096,
		maxFileSize:      4 * 1024 * 1024 * 1024, // 4GB default
	}
}

// Root returns the absolute base directory.
func (s *LocalStore) Root() string {
	return s.baseDir
}

// SetConflictStrategy sets the conflict resolution strategy.
func (s *LocalStore) SetConflictStrategy(strategy ConflictStrategy) {
	s.conflictStrategy = strategy
}

// SetMaxFileSize sets the maximum file size limit.
func (s *LocalStore) SetMaxFileSize(size int64) {
	s.maxFileSize = size
}

// MaxFileSize returns the file size limit.
func (s *LocalStore) MaxFileSize() int64 {
	return s.maxFileSize
}

// Write saves data to a file atomically.
func (s *LocalStore) Write(path string, data []byte, mode os.FileMode) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"path": path,
		"size": len(data),
	}).Debug("Writing file")

	if int64(len(data)) > s.maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max: %d)", len(data), s.maxFileSize)
	}

	if err := os.MkdirAll(filepath.Dir(safePath), 0700); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	if s.conflictStrategy == ConflictError {
		if _, err := os.Lstat(safePath); err == nil {
			return fmt.Errorf("%w: %s", ErrFileExists, path)
		}
	}

	// Write atomically using temp file
	tempPath := fmt.Sprintf("%s.tmp.%d", safePath, time.Now().UnixNano())

	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, safePath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}

// Read retrieves file contents.
func (s *LocalStore) Read(path string) ([]byte, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return nil, fmt.Errorf("sanitize path: %w", err)
	}

	stat, err := os.Lstat(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s: %w", path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("stat file: %w", err)
	}

	if !s.allowSymlinks && stat.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlinks not allowed: %s", path)
	}

	if stat.Size() > s.maxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max: %d)", stat.Size(), s.maxFileSize)
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// EnsureDir creates a directory if it doesn't exist.
func (s *LocalStore) EnsureDir(path string) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	return os.MkdirAll(safePath, 0700)
}

// Walk visits every file and directory below the root, root excluded.
func (s *LocalStore) Walk(fn func(FileInfo) error) error {
	return filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == s.baseDir {
			return nil
		}

		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}

		return fn(toFileInfo(filepath.ToSlash(rel), info))
	})
}

// RemoveAll deletes the whole tree including the root.
func (s *LocalStore) RemoveAll() error {
	s.logger.WithField("root", s.baseDir).Debug("Removing tree")

	if err := os.RemoveAll(s.baseDir); err != nil {
		return fmt.Errorf("remove tree: %w", err)
	}
	return nil
}

func toFileInfo(path string, stat os.FileInfo) FileInfo {
	return FileInfo{
		Path:      path,
		Size:      stat.Size(),
		Mode:      stat.Mode(),
		ModTime:   stat.ModTime(),
		IsDir:     stat.IsDir(),
		IsSymlink: stat.Mode()&os.ModeSymlink != 0,
	}
}

// sanitizePath validates and normalizes a file path.
func (s *LocalStore) sanitizePath(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null bytes")
	}

	// Normalize path separators
	normalized := filepath.FromSlash(path)

	// Clean path (remove .., ., etc)
	cleaned := filepath.Clean(normalized)

	// Check for directory traversal
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("invalid path: contains '..'")
		}
	}

	// Remove leading separators
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))

	fullPath := filepath.Join(s.baseDir, cleaned)

	// Verify it's under base directory
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) && fullPath != s.baseDir {
		return "", fmt.Errorf("path escapes base directory")
	}

	if len(fullPath) > s.maxPathLength {
		return "", fmt.Errorf("path too long: %d characters (max: %d)", len(fullPath), s.maxPathLength)
	}

	return fullPath, nil
}
