package models

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Error codes for structured error handling.
const (
	ErrCodeEntropy        = "ENTROPY_ERROR"
	ErrCodeAlphabet       = "ALPHABET_ERROR"
	ErrCodeVaultNotFound  = "VAULT_NOT_FOUND"
	ErrCodeVaultCorrupted = "VAULT_CORRUPTED"
	ErrCodeVaultExists    = "VAULT_EXISTS"
	ErrCodeUnavailable    = "VAULT_UNAVAILABLE"
	ErrCodeCannotUnlock   = "CANNOT_UNLOCK"
	ErrCodeFactorTimeout  = "FACTOR_TIMEOUT"
	ErrCodeDecryption     = "DECRYPTION_ERROR"
	ErrCodeEmptySource    = "EMPTY_SOURCE"
	ErrCodeTargetExists   = "TARGET_EXISTS"
	ErrCodeNotLocked      = "NOT_LOCKED_FOLDER"
	ErrCodeStorage        = "STORAGE_ERROR"
	ErrCodeCancelled      = "CANCELLED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// Sentinel errors
var (
	ErrInsufficientEntropy      = errors.New("insufficient entropy")
	ErrEntropyAborted           = errors.New("entropy collection aborted")
	ErrAlphabetDerivationFailed = errors.New("alphabet derivation failed")
	ErrVaultNotFound            = errors.New("vault not found")
	ErrVaultCorrupted           = errors.New("vault corrupted")
	ErrVaultExists              = errors.New("vault already exists")
	ErrVaultUnavailable         = errors.New("vault unavailable")
	ErrSecondaryFactorMismatch  = errors.New("secondary factor mismatch")
	ErrSecondaryFactorTimeout   = errors.New("secondary factor timeout")
	ErrIntegrityCheckFailed     = errors.New("integrity check failed")
	ErrDecryptionFailed         = errors.New("decryption failed")
	ErrEmptySource              = errors.New("source folder is empty")
	ErrTargetExists             = errors.New("target already exists")
	ErrPartialFailureRolledBack = errors.New("partial failure rolled back")
	ErrNotLockedFolder          = errors.New("not a locked folder")
	ErrOperationInProgress      = errors.New("operation already in progress")

	// ErrCannotUnlock is what callers see for both a wrong secondary
	// factor and a failed integrity check.
	ErrCannotUnlock = errors.New("cannot unlock")
)

// OperationError describes a failed folder or vault operation.
type OperationError struct {
	Code       string
	Op         string
	Phase      string
	Path       string
	Processed  int
	Total      int
	RolledBack bool
	Err        error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s %s [%s]", e.Op, e.Phase, e.Code)
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Total > 0 {
		msg += fmt.Sprintf(" (%d/%d files processed)", e.Processed, e.Total)
	}
	if e.RolledBack {
		msg += ", rolled back"
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Is reports ErrPartialFailureRolledBack for operations that were rolled back.
func (e *OperationError) Is(target error) bool {
	return target == ErrPartialFailureRolledBack && e.RolledBack
}

// FileError wraps a per-file failure with its relative path.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// IntegrityError represents a manifest hash mismatch after unlock.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s",
		e.Path, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityCheckFailed
}

// IsCannotUnlock reports whether err is one of the failures that must be
// surfaced as ErrCannotUnlock.
func IsCannotUnlock(err error) bool {
	return errors.Is(err, ErrSecondaryFactorMismatch) ||
		errors.Is(err, ErrIntegrityCheckFailed) ||
		errors.Is(err, ErrCannotUnlock)
}

// Conceal replaces factor and integrity failures with ErrCannotUnlock so
// callers cannot tell which check rejected them. Operation metadata survives.
func Conceal(err error) error {
	if err == nil || !IsCannotUnlock(err) {
		return err
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return &OperationError{
			Code:       ErrCodeCannotUnlock,
			Op:         opErr.Op,
			Phase:      opErr.Phase,
			Processed:  opErr.Processed,
			Total:      opErr.Total,
			RolledBack: opErr.RolledBack,
			Err:        ErrCannotUnlock,
		}
	}
	return ErrCannotUnlock
}

// CodeOf maps an error onto its ErrCode.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientEntropy), errors.Is(err, ErrEntropyAborted):
		return ErrCodeEntropy
	case errors.Is(err, ErrAlphabetDerivationFailed):
		return ErrCodeAlphabet
	case errors.Is(err, ErrVaultNotFound):
		return ErrCodeVaultNotFound
	case errors.Is(err, ErrVaultCorrupted):
		return ErrCodeVaultCorrupted
	case errors.Is(err, ErrVaultExists):
		return ErrCodeVaultExists
	case errors.Is(err, ErrVaultUnavailable):
		return ErrCodeUnavailable
	case IsCannotUnlock(err):
		return ErrCodeCannotUnlock
	case errors.Is(err, ErrSecondaryFactorTimeout):
		return ErrCodeFactorTimeout
	case errors.Is(err, ErrDecryptionFailed):
		return ErrCodeDecryption
	case errors.Is(err, ErrEmptySource):
		return ErrCodeEmptySource
	case errors.Is(err, ErrTargetExists):
		return ErrCodeTargetExists
	case errors.Is(err, ErrNotLockedFolder):
		return ErrCodeNotLocked
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeCancelled
	case isStorageError(err):
		return ErrCodeStorage
	default:
		return ErrCodeInternal
	}
}

// isStorageError reports file system failures on the medium or the folder.
func isStorageError(err error) bool {
	var pathErr *fs.PathError
	var linkErr *os.LinkError
	return errors.As(err, &pathErr) || errors.As(err, &linkErr)
}
