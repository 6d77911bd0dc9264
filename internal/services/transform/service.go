package transform

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/state"
	"github.com/TheMichaelB/chaosvault/internal/vault"
)

// Service wraps the engine for callers: it records every committed transform
// in the locked-folder registry and hides which unlock check failed.
type Service struct {
	engine   *Engine
	registry state.Store
	logger   *events.Logger
}

// NewService creates a transform service. registry may be nil.
func NewService(engine *Engine, registry state.Store, logger *events.Logger) *Service {
	return &Service{
		engine:   engine,
		registry: registry,
		logger:   logger.WithField("component", "transform_service"),
	}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Lock locks source with v.
func (s *Service) Lock(ctx context.Context, v *vault.Vault, source string, sink ProgressSink) (*Result, error) {
	res, err := s.engine.Lock(ctx, v, source, sink)
	if err != nil {
		return nil, models.Conceal(err)
	}

	s.recordLocked(v.ID, res.Source, res.Destination, res.FileCount, res.TotalSize)
	return res, nil
}

// Unlock unlocks lockedPath with v.
func (s *Service) Unlock(ctx context.Context, v *vault.Vault, lockedPath string, sink ProgressSink) (*Result, error) {
	res, err := s.engine.Unlock(ctx, v, lockedPath, sink)
	if err != nil {
		return nil, models.Conceal(err)
	}

	s.recordUnlocked(res.Source)
	return res, nil
}

// Recover repairs interrupted transforms in dir and brings the registry up
// to date for those it finished.
func (s *Service) Recover(ctx context.Context, dir string) ([]Recovery, error) {
	recovered, err := s.engine.Recover(ctx, dir)

	for _, rec := range recovered {
		if rec.Action != RecoveryCompleted {
			continue
		}
		switch rec.Op {
		case "lock":
			s.recordLocked(rec.VaultID, rec.Source, rec.Destination, rec.FileCount, 0)
		case "unlock":
			s.recordUnlocked(rec.Source)
		}
	}

	return recovered, err
}

// recordLocked adds a registry entry. Registry failures never fail the
// transform that already committed.
func (s *Service) recordLocked(vaultID, source, dest string, files int, size int64) {
	if s.registry == nil {
		return
	}

	entry := &models.LockedFolderEntry{
		ID:           uuid.NewString(),
		VaultID:      vaultID,
		OriginalPath: source,
		OriginalName: filepath.Base(source),
		LockedPath:   dest,
		LockedAt:     time.Now().UTC(),
		Status:       models.StatusLocked,
		FileCount:    files,
		TotalSize:    size,
	}

	if err := s.registry.Put(entry); err != nil {
		s.logger.WithError(err).WithField("locked_path", dest).Warn("Failed to record locked folder")
	}
}

func (s *Service) recordUnlocked(lockedPath string) {
	if s.registry == nil {
		return
	}

	entry, err := s.registry.FindByLockedPath(lockedPath)
	if errors.Is(err, state.ErrEntryNotFound) {
		s.logger.WithField("locked_path", lockedPath).Debug("Unlocked folder was not in registry")
		return
	}
	if err != nil {
		s.logger.WithError(err).Warn("Failed to look up locked folder")
		return
	}

	entry.Status = models.StatusUnlocked
	entry.UnlockedAt = time.Now().UTC()
	if err := s.registry.Put(entry); err != nil {
		s.logger.WithError(err).WithField("locked_path", lockedPath).Warn("Failed to record unlocked folder")
	}
}
