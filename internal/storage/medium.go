package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

const writeCheckName = ".chaosvault-writecheck"

// Medium watches the removable medium that holds a vault.
type Medium struct {
	path       string
	maxRetries int
	retryDelay time.Duration
	logger     *events.Logger
}

// NewMedium creates a medium checker for the directory at path.
func NewMedium(path string, maxRetries int, retryDelay time.Duration, logger *events.Logger) *Medium {
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	return &Medium{
		path:       path,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithField("component", "medium"),
	}
}

// Path returns the watched directory.
func (m *Medium) Path() string {
	return m.path
}

// Check confirms the directory is still present. Transient failures are
// retried with exponential backoff before ErrVaultUnavailable is returned.
func (m *Medium) Check(ctx context.Context) error {
	return m.retry(ctx, func() error {
		info, err := os.Stat(m.path)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("not a directory: %s", m.path)
		}
		return nil
	})
}

// CheckWritable creates, syncs and removes a scratch file.
func (m *Medium) CheckWritable(ctx context.Context) error {
	return m.retry(ctx, func() error {
		scratch := filepath.Join(m.path, writeCheckName)
		f, err := os.OpenFile(scratch, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		_, werr := f.Write([]byte{0})
		serr := f.Sync()
		cerr := f.Close()
		rerr := os.Remove(scratch)

		for _, err := range []error{werr, serr, cerr, rerr} {
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// retry executes a function with exponential backoff.
func (m *Medium) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := m.retryDelay

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			m.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying medium check")

			select {
			case <-time.After(delay):
				delay *= 2 // Exponential backoff
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
	}

	m.logger.WithError(lastErr).Warn("Medium unavailable")
	return fmt.Errorf("%w: %v", models.ErrVaultUnavailable, lastErr)
}
