package state

import (
	"sync"

	"github.com/TheMichaelB/chaosvault/internal/models"
)

// MemoryStore keeps the registry in memory. It backs the "none" backend and
// lets tests inject failures.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.LockedFolderEntry

	// PutErr, when set, is returned by every Put.
	PutErr error
	// DeleteErr, when set, is returned by every Delete.
	DeleteErr error

	puts int
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*models.LockedFolderEntry)}
}

// Put upserts an entry.
func (m *MemoryStore) Put(entry *models.LockedFolderEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	if m.PutErr != nil {
		return m.PutErr
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	cp := *entry
	m.entries[entry.ID] = &cp
	return nil
}

// Get retrieves an entry by ID.
func (m *MemoryStore) Get(id string) (*models.LockedFolderEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// FindByLockedPath returns the newest entry for a locked path.
func (m *MemoryStore) FindByLockedPath(lockedPath string) (*models.LockedFolderEntry, error) {
	m.mu.RLock()
	var matches []*models.LockedFolderEntry
	for _, e := range m.entries {
		if e.LockedPath == lockedPath {
			cp := *e
			matches = append(matches, &cp)
		}
	}
	m.mu.RUnlock()

	if e := newest(matches); e != nil {
		return e, nil
	}
	return nil, ErrEntryNotFound
}

// List returns entries ordered by lock time.
func (m *MemoryStore) List(vaultID string) ([]*models.LockedFolderEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.LockedFolderEntry
	for _, e := range m.entries {
		if vaultID == "" || e.VaultID == vaultID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sortEntries(out)
	return out, nil
}

// Delete removes an entry.
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.entries, id)
	return nil
}

// Close releases resources.
func (m *MemoryStore) Close() error {
	return nil
}

// PutCalls returns how many times Put was called.
func (m *MemoryStore) PutCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
