package models

import (
	"fmt"
	"strings"
	"time"
)

// FolderStatus is the lifecycle state of a registry entry.
type FolderStatus string

const (
	StatusLocked   FolderStatus = "locked"
	StatusUnlocked FolderStatus = "unlocked"
)

// LockedFolderEntry is one row of the locked-folder registry.
type LockedFolderEntry struct {
	ID           string       `json:"id"`
	VaultID      string       `json:"vault_id"`
	OriginalPath string       `json:"original_path"`
	OriginalName string       `json:"original_name"`
	LockedPath   string       `json:"locked_path"`
	LockedAt     time.Time    `json:"locked_at"`
	UnlockedAt   time.Time    `json:"unlocked_at,omitempty"`
	Status       FolderStatus `json:"status"`
	FileCount    int          `json:"file_count"`
	TotalSize    int64        `json:"total_size"`
}

// Validate checks required fields before the entry is stored.
func (e *LockedFolderEntry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("entry ID is required")
	}
	if strings.TrimSpace(e.LockedPath) == "" {
		return fmt.Errorf("locked path is required")
	}
	switch e.Status {
	case StatusLocked, StatusUnlocked:
	default:
		return fmt.Errorf("invalid status: %q", e.Status)
	}
	if e.FileCount < 0 || e.TotalSize < 0 {
		return fmt.Errorf("counts must not be negative")
	}
	return nil
}

// IsLocked reports whether the folder is still in its locked form.
func (e *LockedFolderEntry) IsLocked() bool {
	return e.Status == StatusLocked
}
