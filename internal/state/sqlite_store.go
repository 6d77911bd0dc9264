package state

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

// SQLiteStore implements SQLite-based registry storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite registry store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_registry"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS locked_folders (
        id TEXT PRIMARY KEY,
        vault_id TEXT NOT NULL,
        original_path TEXT NOT NULL,
        original_name TEXT NOT NULL,
        locked_path TEXT NOT NULL,
        locked_at TIMESTAMP NOT NULL,
        unlocked_at TIMESTAMP,
        status TEXT NOT NULL,
        file_count INTEGER NOT NULL DEFAULT 0,
        total_size INTEGER NOT NULL DEFAULT 0,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_locked_folders_vault ON locked_folders(vault_id);
    CREATE INDEX IF NOT EXISTS idx_locked_folders_path ON locked_folders(locked_path);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

const selectColumns = `
    SELECT id, vault_id, original_path, original_name, locked_path,
           locked_at, unlocked_at, status, file_count, total_size
    FROM locked_folders`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.LockedFolderEntry, error) {
	var e models.LockedFolderEntry
	var unlockedAt sql.NullTime
	var status string

	err := row.Scan(&e.ID, &e.VaultID, &e.OriginalPath, &e.OriginalName, &e.LockedPath,
		&e.LockedAt, &unlockedAt, &status, &e.FileCount, &e.TotalSize)
	if err != nil {
		return nil, err
	}

	e.Status = models.FolderStatus(status)
	if unlockedAt.Valid {
		e.UnlockedAt = unlockedAt.Time
	}
	return &e, nil
}

// Put upserts an entry.
func (s *SQLiteStore) Put(entry *models.LockedFolderEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"id":     entry.ID,
		"status": entry.Status,
	}).Debug("Saving registry entry")

	var unlockedAt sql.NullTime
	if !entry.UnlockedAt.IsZero() {
		unlockedAt = sql.NullTime{Time: entry.UnlockedAt, Valid: true}
	}

	_, err := s.db.Exec(`
        INSERT INTO locked_folders (id, vault_id, original_path, original_name, locked_path,
                                    locked_at, unlocked_at, status, file_count, total_size, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(id) DO UPDATE SET
            vault_id = excluded.vault_id,
            original_path = excluded.original_path,
            original_name = excluded.original_name,
            locked_path = excluded.locked_path,
            locked_at = excluded.locked_at,
            unlocked_at = excluded.unlocked_at,
            status = excluded.status,
            file_count = excluded.file_count,
            total_size = excluded.total_size,
            updated_at = CURRENT_TIMESTAMP
    `, entry.ID, entry.VaultID, entry.OriginalPath, entry.OriginalName, entry.LockedPath,
		entry.LockedAt, unlockedAt, string(entry.Status), entry.FileCount, entry.TotalSize)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}

	return nil
}

// Get retrieves an entry by ID.
func (s *SQLiteStore) Get(id string) (*models.LockedFolderEntry, error) {
	e, err := scanEntry(s.db.QueryRow(selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return e, nil
}

// FindByLockedPath returns the newest entry for a locked path.
func (s *SQLiteStore) FindByLockedPath(lockedPath string) (*models.LockedFolderEntry, error) {
	e, err := scanEntry(s.db.QueryRow(
		selectColumns+` WHERE locked_path = ? ORDER BY locked_at DESC, id DESC LIMIT 1`, lockedPath))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return e, nil
}

// List returns entries ordered by lock time.
func (s *SQLiteStore) List(vaultID string) ([]*models.LockedFolderEntry, error) {
	query := selectColumns + ` ORDER BY locked_at, id`
	args := []interface{}{}
	if vaultID != "" {
		query = selectColumns + ` WHERE vault_id = ? ORDER BY locked_at, id`
		args = append(args, vaultID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LockedFolderEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Delete removes an entry.
func (s *SQLiteStore) Delete(id string) error {
	s.logger.WithField("id", id).Debug("Deleting registry entry")

	if _, err := s.db.Exec("DELETE FROM locked_folders WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
