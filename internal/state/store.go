// Package state persists the locked-folder registry.
package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

// Store manages locked-folder registry persistence.
type Store interface {
	// Put inserts or replaces an entry by ID.
	Put(entry *models.LockedFolderEntry) error

	// Get retrieves an entry by ID.
	Get(id string) (*models.LockedFolderEntry, error)

	// FindByLockedPath returns the newest entry for a locked folder path.
	FindByLockedPath(lockedPath string) (*models.LockedFolderEntry, error)

	// List returns entries for a vault, or all entries when vaultID is empty.
	List(vaultID string) ([]*models.LockedFolderEntry, error)

	// Delete removes an entry.
	Delete(id string) error

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrEntryNotFound = errors.New("registry entry not found")
	ErrStateCorrupt  = errors.New("registry file is corrupt")
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendJSON   = "json"
	BackendNone   = "none"
)

// DefaultFileName returns the registry file name used inside a vault directory.
func DefaultFileName(backend string) string {
	switch backend {
	case BackendBolt:
		return "registry.bolt"
	case BackendJSON:
		return "registry.json"
	default:
		return "registry.db"
	}
}

// Open opens the registry backend. An empty path places the registry file in dir.
func Open(backend, path, dir string, logger *events.Logger) (Store, error) {
	if path == "" && backend != BackendNone {
		path = filepath.Join(dir, DefaultFileName(backend))
	}

	switch backend {
	case BackendSQLite, "":
		return NewSQLiteStore(path, logger)
	case BackendBolt:
		return NewBoltStore(path, logger)
	case BackendJSON:
		return NewJSONStore(path, logger)
	case BackendNone:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown registry backend: %s", backend)
	}
}

func sortEntries(entries []*models.LockedFolderEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LockedAt.Equal(entries[j].LockedAt) {
			return entries[i].LockedAt.Before(entries[j].LockedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

func newest(entries []*models.LockedFolderEntry) *models.LockedFolderEntry {
	if len(entries) == 0 {
		return nil
	}
	sortEntries(entries)
	return entries[len(entries)-1]
}

// Migrate copies every entry from src into dst.
func Migrate(src, dst Store, logger *events.Logger) (int, error) {
	entries, err := src.List("")
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}

	logger.WithField("count", len(entries)).Info("Migrating registry")

	for i, e := range entries {
		if err := dst.Put(e); err != nil {
			return i, fmt.Errorf("copy entry %s: %w", e.ID, err)
		}
	}
	return len(entries), nil
}
