package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

// registryFile is the on-disk JSON document.
type registryFile struct {
	Entries       map[string]*models.LockedFolderEntry `json:"entries"`
	SchemaVersion int                                  `json:"schema_version"`
	UpdatedAt     time.Time                            `json:"updated_at"`
	Checksum      string                               `json:"checksum,omitempty"`
}

// JSONStore implements file-based registry storage. The whole registry is
// one document rewritten atomically on every change.
type JSONStore struct {
	path   string
	logger *events.Logger

	mu      sync.RWMutex
	entries map[string]*models.LockedFolderEntry
}

// NewJSONStore opens or creates a JSON registry file.
func NewJSONStore(path string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	s := &JSONStore{
		path:    path,
		logger:  logger.WithField("component", "json_registry"),
		entries: make(map[string]*models.LockedFolderEntry),
	}

	entries, err := s.load()
	switch {
	case err == nil:
		s.entries = entries
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	return s, nil
}

// load reads the registry, falling back to the backup on corruption.
func (s *JSONStore) load() (map[string]*models.LockedFolderEntry, error) {
	entries, err := readRegistry(s.path)
	if err == nil || os.IsNotExist(err) {
		return entries, err
	}

	s.logger.WithError(err).Warn("Registry unreadable, trying backup")
	if backup, berr := readRegistry(s.backupPath()); berr == nil {
		s.logger.Warn("Loaded registry from backup due to corruption")
		return backup, nil
	}
	return nil, ErrStateCorrupt
}

func readRegistry(path string) (map[string]*models.LockedFolderEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc registryFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	if doc.Checksum != "" {
		want := doc.Checksum
		sum, err := checksum(doc)
		if err != nil {
			return nil, err
		}
		if sum != want {
			return nil, fmt.Errorf("%w: checksum mismatch", ErrStateCorrupt)
		}
	}

	if doc.Entries == nil {
		doc.Entries = make(map[string]*models.LockedFolderEntry)
	}
	return doc.Entries, nil
}

// checksum hashes the document with its checksum field cleared.
func checksum(doc registryFile) (string, error) {
	doc.Checksum = ""
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal registry for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// persist writes the registry atomically, keeping the previous file as backup.
func (s *JSONStore) persist() error {
	doc := registryFile{
		Entries:       s.entries,
		SchemaVersion: CurrentSchemaVersion,
		UpdatedAt:     time.Now().UTC(),
	}

	sum, err := checksum(doc)
	if err != nil {
		return err
	}
	doc.Checksum = sum

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.backupPath()); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename registry file: %w", err)
	}

	return nil
}

// Put upserts an entry.
func (s *JSONStore) Put(entry *models.LockedFolderEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"id":     entry.ID,
		"status": entry.Status,
	}).Debug("Saving registry entry")

	prev, existed := s.entries[entry.ID]
	cp := *entry
	s.entries[entry.ID] = &cp

	if err := s.persist(); err != nil {
		if existed {
			s.entries[entry.ID] = prev
		} else {
			delete(s.entries, entry.ID)
		}
		return err
	}
	return nil
}

// Get retrieves an entry by ID.
func (s *JSONStore) Get(id string) (*models.LockedFolderEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// FindByLockedPath returns the newest entry for a locked path.
func (s *JSONStore) FindByLockedPath(lockedPath string) (*models.LockedFolderEntry, error) {
	matches := s.collect(func(e *models.LockedFolderEntry) bool {
		return e.LockedPath == lockedPath
	})
	if e := newest(matches); e != nil {
		return e, nil
	}
	return nil, ErrEntryNotFound
}

// List returns entries ordered by lock time.
func (s *JSONStore) List(vaultID string) ([]*models.LockedFolderEntry, error) {
	entries := s.collect(func(e *models.LockedFolderEntry) bool {
		return vaultID == "" || e.VaultID == vaultID
	})
	sortEntries(entries)
	return entries, nil
}

func (s *JSONStore) collect(match func(*models.LockedFolderEntry) bool) []*models.LockedFolderEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.LockedFolderEntry
	for _, e := range s.entries {
		if match(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// Delete removes an entry.
func (s *JSONStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.entries[id]
	if !ok {
		return nil
	}

	s.logger.WithField("id", id).Debug("Deleting registry entry")

	delete(s.entries, id)
	if err := s.persist(); err != nil {
		s.entries[id] = prev
		return err
	}
	return nil
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) backupPath() string {
	return s.path + ".backup"
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
