package state

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

// Bucket names
var (
	foldersBucket = []byte("folders") // entry ID -> JSON entry
	metaBucket    = []byte("meta")
)

var metaSchemaVersion = []byte("schema_version")

// BoltStore implements bbolt-based registry storage.
type BoltStore struct {
	db     *bolt.DB
	logger *events.Logger
}

// NewBoltStore opens or creates a bbolt registry.
func NewBoltStore(path string, logger *events.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &BoltStore{
		db:     db,
		logger: logger.WithField("component", "bolt_registry"),
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{foldersBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return tx.Bucket(metaBucket).Put(metaSchemaVersion, []byte(fmt.Sprint(CurrentSchemaVersion)))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// Put upserts an entry.
func (s *BoltStore) Put(entry *models.LockedFolderEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"id":     entry.ID,
		"status": entry.Status,
	}).Debug("Saving registry entry")

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(foldersBucket).Put([]byte(entry.ID), data)
	})
}

// Get retrieves an entry by ID.
func (s *BoltStore) Get(id string) (*models.LockedFolderEntry, error) {
	var entry *models.LockedFolderEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(foldersBucket).Get([]byte(id))
		if data == nil {
			return ErrEntryNotFound
		}
		var e models.LockedFolderEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("%w: %v", ErrStateCorrupt, err)
		}
		entry = &e
		return nil
	})
	return entry, err
}

// FindByLockedPath returns the newest entry for a locked path.
func (s *BoltStore) FindByLockedPath(lockedPath string) (*models.LockedFolderEntry, error) {
	all, err := s.scan(func(e *models.LockedFolderEntry) bool {
		return e.LockedPath == lockedPath
	})
	if err != nil {
		return nil, err
	}
	if e := newest(all); e != nil {
		return e, nil
	}
	return nil, ErrEntryNotFound
}

// List returns entries ordered by lock time.
func (s *BoltStore) List(vaultID string) ([]*models.LockedFolderEntry, error) {
	entries, err := s.scan(func(e *models.LockedFolderEntry) bool {
		return vaultID == "" || e.VaultID == vaultID
	})
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	return entries, nil
}

func (s *BoltStore) scan(match func(*models.LockedFolderEntry) bool) ([]*models.LockedFolderEntry, error) {
	var entries []*models.LockedFolderEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(foldersBucket).ForEach(func(k, v []byte) error {
			var e models.LockedFolderEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("%w: entry %s: %v", ErrStateCorrupt, k, err)
			}
			if match(&e) {
				entries = append(entries, &e)
			}
			return nil
		})
	})
	return entries, err
}

// Delete removes an entry.
func (s *BoltStore) Delete(id string) error {
	s.logger.WithField("id", id).Debug("Deleting registry entry")

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(foldersBucket).Delete([]byte(id))
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
