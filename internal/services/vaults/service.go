// Package vaults creates, verifies and opens vaults on removable media.
package vaults

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/entropy"
	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/storage"
	"github.com/TheMichaelB/chaosvault/internal/vault"
)

// Service manages vault operations.
type Service struct {
	store      *vault.Store
	collector  *entropy.Collector
	iterations int
	retries    int
	retryDelay time.Duration
	logger     *events.Logger
}

// Config for the vault service.
type Config struct {
	Iterations       int
	MediumRetries    int
	MediumRetryDelay time.Duration
}

// CreateResult describes a newly created vault.
type CreateResult struct {
	Record       *models.VaultRecord
	Path         string
	EntropyBytes int
	Degraded     bool
	Skipped      []string
	Duration     time.Duration
}

// Report is the outcome of a vault verification.
type Report struct {
	VaultID       string            `json:"vault_id,omitempty"`
	Path          string            `json:"path"`
	CreatedAt     time.Time         `json:"created_at"`
	FactorKind    models.FactorKind `json:"factor_kind,omitempty"`
	Iterations    int               `json:"iterations,omitempty"`
	FormatVersion int               `json:"format_version,omitempty"`
	Valid         bool              `json:"valid"`
	Problem       string            `json:"problem,omitempty"`
}

// NewService creates a vault service.
func NewService(store *vault.Store, collector *entropy.Collector, cfg Config, logger *events.Logger) *Service {
	return &Service{
		store:      store,
		collector:  collector,
		iterations: cfg.Iterations,
		retries:    cfg.MediumRetries,
		retryDelay: cfg.MediumRetryDelay,
		logger:     logger.WithField("service", "vaults"),
	}
}

// Create collects entropy, derives a fresh alphabet and writes a new vault
// under root. Nothing is written unless every step succeeds.
func (s *Service) Create(ctx context.Context, root string, factor models.SecondaryFactor) (*CreateResult, error) {
	start := time.Now()

	if dir, err := vault.Locate(root, s.store.DirName()); err == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrVaultExists, dir)
	} else if !errors.Is(err, models.ErrVaultNotFound) {
		return nil, err
	}

	medium := storage.NewMedium(root, s.retries, s.retryDelay, s.logger)
	if err := medium.CheckWritable(ctx); err != nil {
		return nil, err
	}

	s.logger.WithField("root", root).Info("Collecting entropy for new vault")

	sample, err := s.collector.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect entropy: %w", err)
	}
	defer sample.Wipe()

	if sample.Degraded {
		s.logger.WithField("skipped", sample.Skipped).Warn("Entropy collected with degraded quality")
	}

	a, err := alphabet.Derive(sample.Data)
	if err != nil {
		return nil, fmt.Errorf("derive alphabet: %w", err)
	}

	rec, err := s.store.Create(ctx, root, a, factor, s.iterations)
	if err != nil {
		return nil, err
	}

	dir, err := vault.Locate(root, s.store.DirName())
	if err != nil {
		return nil, err
	}

	return &CreateResult{
		Record:       rec,
		Path:         dir,
		EntropyBytes: len(sample.Data),
		Degraded:     sample.Degraded,
		Skipped:      sample.Skipped,
		Duration:     time.Since(start),
	}, nil
}

// Verify checks the vault record at path. A record that fails its
// integrity check yields an invalid report rather than an error.
func (s *Service) Verify(ctx context.Context, path string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := vault.Locate(path, s.store.DirName())
	if err != nil {
		return nil, err
	}

	report := &Report{Path: dir}

	rec, err := s.store.Open(dir)
	if errors.Is(err, models.ErrVaultCorrupted) {
		s.logger.WithError(err).Warn("Vault failed verification")
		report.Problem = err.Error()
		return report, nil
	}
	if err != nil {
		return nil, err
	}

	report.VaultID = rec.Metadata.VaultID
	report.CreatedAt = rec.Metadata.CreatedAt
	report.FactorKind = rec.Config.FactorKind
	report.Iterations = rec.Config.Iterations
	report.FormatVersion = rec.Config.FormatVersion
	report.Valid = s.store.Verify(rec)
	if !report.Valid {
		report.Problem = "integrity tag mismatch"
	}

	return report, nil
}

// Unlock opens the vault at path with factor. Factor mismatches surface as
// models.ErrCannotUnlock.
func (s *Service) Unlock(ctx context.Context, path string, factor models.SecondaryFactor) (*vault.Vault, error) {
	v, err := s.store.Unlock(ctx, path, factor)
	if err != nil {
		return nil, models.Conceal(err)
	}
	return v, nil
}

// RequiredFactor reports which factor kind the vault at path expects.
func (s *Service) RequiredFactor(path string) (models.FactorKind, string, error) {
	rec, err := s.store.Open(path)
	if err != nil {
		return models.FactorNone, "", err
	}
	return rec.Config.FactorKind, rec.Metadata.VaultID, nil
}
