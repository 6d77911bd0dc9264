package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/storage"
)

var errIncomplete = errors.New("destination incomplete")

// ErrSourceChanged is returned when a source no longer matches what was
// transformed. Both copies are kept.
var ErrSourceChanged = errors.New("source changed during transform")

// journal is written next to a transform before its staging tree is renamed
// into place, and removed once the source is gone.
type journal struct {
	Op          string    `json:"op"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	FileCount   int       `json:"file_count"`
	VaultID     string    `json:"vault_id"`
	StartedAt   time.Time `json:"started_at"`
}

func journalName(destination string) string {
	return "." + destination + journalSuffix
}

func writeJournal(path string, j *journal) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit journal: %w", err)
	}
	return nil
}

func readJournal(path string) (*journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var j journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse journal %s: %w", filepath.Base(path), err)
	}

	for _, name := range []string{j.Source, j.Destination} {
		if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
			return nil, fmt.Errorf("journal %s names an invalid folder: %q", filepath.Base(path), name)
		}
	}
	return &j, nil
}

// newStaging creates a hidden staging tree next to dest.
func newStaging(dest string, logger *events.Logger) (*storage.LocalStore, error) {
	name := fmt.Sprintf(".%s%s%s", filepath.Base(dest), stagingInfix, uuid.NewString()[:8])

	store, err := storage.NewLocalStore(filepath.Join(filepath.Dir(dest), name), logger)
	if err != nil {
		return nil, fmt.Errorf("create staging tree: %w", err)
	}
	store.SetConflictStrategy(storage.ConflictError)
	return store, nil
}

func isStagingName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, stagingInfix)
}

// abort removes the staging tree and reports the failure as rolled back.
func (r *run) abort(phase Phase, staging *storage.LocalStore, path string, cause error) error {
	r.setPhase(PhaseAborting)
	r.logger.WithError(cause).WithField("failed_phase", phase).Warn("Transform failed, rolling back")

	if staging != nil {
		if err := staging.RemoveAll(); err != nil {
			r.logger.WithError(err).Error("Failed to remove staging tree")
		}
	}

	r.setPhase(PhaseRolledBack)
	return r.fail(phase, path, true, cause)
}

// commit renames the staging tree to dest, confirms it is complete and only
// then deletes the source.
func (e *Engine) commit(ctx context.Context, r *run, staging *storage.LocalStore, source, dest string, j *journal) error {
	r.setPhase(PhaseCommitting)

	if err := ctx.Err(); err != nil {
		return r.abort(PhaseCommitting, staging, "", err)
	}

	if err := verifyComplete(staging, j); err != nil {
		return r.abort(PhaseCommitting, staging, "", err)
	}

	parent := filepath.Dir(dest)
	jpath := filepath.Join(parent, journalName(j.Destination))
	if err := writeJournal(jpath, j); err != nil {
		return r.abort(PhaseCommitting, staging, "", err)
	}

	if e.crashed("before-rename") {
		return errSimulatedCrash
	}

	if err := os.Rename(staging.Root(), dest); err != nil {
		_ = os.Remove(jpath)
		if _, statErr := os.Lstat(dest); statErr == nil {
			err = fmt.Errorf("%w: %s", models.ErrTargetExists, dest)
		}
		return r.abort(PhaseCommitting, staging, dest, err)
	}

	if e.crashed("after-rename") {
		return errSimulatedCrash
	}

	if err := e.finishCommit(parent, j); err != nil {
		r.logger.WithError(err).Error("Commit left both copies in place")
		return r.fail(PhaseCommitting, source, false, err)
	}

	return nil
}

// verifyComplete checks that store holds every file the journal expects.
func verifyComplete(store storage.BlobStore, j *journal) error {
	suffix := ""
	if j.Op == "lock" {
		m, err := readManifest(store)
		if err != nil {
			return err
		}
		if m.FileCount != j.FileCount {
			return fmt.Errorf("%w: manifest lists %d files, expected %d", errIncomplete, m.FileCount, j.FileCount)
		}
		suffix = crypto.EnvelopeSuffix
	}

	n, err := countFiles(store, suffix)
	if err != nil {
		return fmt.Errorf("count files: %w", err)
	}
	if n != j.FileCount {
		return fmt.Errorf("%w: %d of %d files present", errIncomplete, n, j.FileCount)
	}
	return nil
}

// finishCommit deletes the source of a renamed transform once the
// destination is confirmed complete and the source still matches it. It is
// safe to repeat.
func (e *Engine) finishCommit(parent string, j *journal) error {
	dest, err := storage.OpenLocalStore(filepath.Join(parent, j.Destination), e.logger)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}

	if err := verifyComplete(dest, j); err != nil {
		return err
	}

	jpath := filepath.Join(parent, journalName(j.Destination))
	sourcePath := filepath.Join(parent, j.Source)

	if err := e.checkSource(sourcePath, j, dest); err != nil {
		// Without the journal the two copies are independent folders and
		// Recover leaves them alone.
		if rmErr := os.Remove(jpath); rmErr != nil && !os.IsNotExist(rmErr) {
			e.logger.WithError(rmErr).Warn("Failed to remove commit journal")
		}
		return fmt.Errorf("%w: %s: %v", ErrSourceChanged, j.Source, err)
	}

	if err := os.RemoveAll(sourcePath); err != nil {
		return fmt.Errorf("remove source: %w", err)
	}

	if err := os.Remove(jpath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove journal: %w", err)
	}

	return nil
}

// checkSource compares the source about to be deleted with the manifest.
// A source that is already gone passes.
func (e *Engine) checkSource(sourcePath string, j *journal, dest storage.BlobStore) error {
	src, err := storage.OpenLocalStore(sourcePath, e.logger)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	if j.Op == "lock" {
		m, err := readManifest(dest)
		if err != nil {
			return err
		}
		return checkLockSource(src, m, e.opts.VerifyHashes)
	}

	src.SetMaxFileSize(e.opts.MaxFileSize + envelopeSlack)
	m, err := readManifest(src)
	if err != nil {
		return err
	}
	return checkEnvelopes(src, m)
}

// RecoveryAction describes what Recover did for one interrupted operation.
type RecoveryAction string

const (
	RecoveryCompleted    RecoveryAction = "completed"
	RecoveryRolledBack   RecoveryAction = "rolled_back"
	RecoveryStaleStaging RecoveryAction = "removed_staging"
)

// Recovery is one repaired leftover.
type Recovery struct {
	Op          string         `json:"op,omitempty"`
	Source      string         `json:"source,omitempty"`
	Destination string         `json:"destination"`
	VaultID     string         `json:"vault_id,omitempty"`
	FileCount   int            `json:"file_count,omitempty"`
	Action      RecoveryAction `json:"action"`
}

// Recover repairs transforms interrupted inside dir. A transform whose
// destination was committed is finished by deleting its source; one that
// never got that far is rolled back. Stale staging trees are removed.
// Running it again finds nothing to do.
func (e *Engine) Recover(ctx context.Context, dir string) ([]Recovery, error) {
	ctx, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	dir, err = resolveFolder(dir)
	if err != nil {
		return nil, err
	}

	logger := e.logger.WithField("dir", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var (
		recovered []Recovery
		errs      []error
	)

	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, journalSuffix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return recovered, err
		}

		jpath := filepath.Join(dir, name)
		j, err := readJournal(jpath)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		rec := Recovery{
			Op:          j.Op,
			Source:      filepath.Join(dir, j.Source),
			Destination: filepath.Join(dir, j.Destination),
			VaultID:     j.VaultID,
			FileCount:   j.FileCount,
		}

		if _, err := os.Lstat(rec.Destination); err == nil {
			if err := e.finishCommit(dir, j); err != nil {
				errs = append(errs, fmt.Errorf("finish %s of %s: %w", j.Op, j.Source, err))
				continue
			}
			rec.Action = RecoveryCompleted
		} else {
			if err := os.Remove(jpath); err != nil && !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("remove journal: %w", err))
				continue
			}
			rec.Action = RecoveryRolledBack
		}

		logger.WithFields(map[string]interface{}{
			"op":     rec.Op,
			"source": j.Source,
			"action": rec.Action,
		}).Info("Recovered interrupted transform")
		recovered = append(recovered, rec)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !isStagingName(entry.Name()) {
			continue
		}

		p := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, fmt.Errorf("remove staging tree: %w", err))
			continue
		}

		logger.WithField("staging", entry.Name()).Info("Removed stale staging tree")
		recovered = append(recovered, Recovery{Destination: p, Action: RecoveryStaleStaging})
	}

	return recovered, errors.Join(errs...)
}
