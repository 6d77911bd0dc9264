package models

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ManifestFormatVersion is written to every new locked-folder manifest.
const ManifestFormatVersion = 1

// LockedFile is the encrypted form of one source file.
type LockedFile struct {
	Path          string // original relative path, slash separated
	ContentLength int64  // plaintext length, part of the file key context
	IV            []byte // 16 bytes
	Ciphertext    []byte
	Tag           []byte // 32 bytes
}

// FileItem represents a file found while scanning a folder.
type FileItem struct {
	Path         string    `json:"path"` // relative, slash separated
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modified_time"`
	Mode         uint32    `json:"mode"`
}

// ManifestEntry records one transformed file.
type ManifestEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"sha256"` // hex of the plaintext
	Mode uint32 `json:"mode,omitempty"`
}

// Manifest describes the content of a locked folder.
type Manifest struct {
	FormatVersion      int             `json:"format_version"`
	FileCount          int             `json:"file_count"`
	OriginalFolderName string          `json:"original_folder_name"`
	VaultID            string          `json:"vault_id"`
	CreatedAt          time.Time       `json:"created_at"`
	Files              []ManifestEntry `json:"files"`
	Dirs               []string        `json:"dirs,omitempty"`
}

// Validate checks the manifest before it is trusted for an unlock.
func (m *Manifest) Validate() error {
	if m.FormatVersion <= 0 || m.FormatVersion > ManifestFormatVersion {
		return fmt.Errorf("unsupported manifest version: %d", m.FormatVersion)
	}

	if m.FileCount != len(m.Files) {
		return fmt.Errorf("manifest lists %d files but declares %d", len(m.Files), m.FileCount)
	}

	name := m.OriginalFolderName
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid original folder name: %q", name)
	}

	seen := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		if err := ValidateRelativePath(f.Path); err != nil {
			return err
		}
		if seen[f.Path] {
			return fmt.Errorf("duplicate manifest entry: %s", f.Path)
		}
		seen[f.Path] = true
	}

	for _, d := range m.Dirs {
		if err := ValidateRelativePath(d); err != nil {
			return err
		}
	}

	return nil
}

// ValidateRelativePath rejects paths that would escape the folder root.
func ValidateRelativePath(p string) error {
	if p == "" || strings.ContainsRune(p, 0) {
		return fmt.Errorf("invalid relative path: %q", p)
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) {
		return fmt.Errorf("absolute path not allowed: %s", p)
	}
	if path.Clean(p) != p {
		return fmt.Errorf("path is not clean: %s", p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return fmt.Errorf("path escapes folder: %s", p)
		}
	}
	return nil
}
