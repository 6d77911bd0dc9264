package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/storage"
	"github.com/TheMichaelB/chaosvault/internal/vault"
)

// envelopeSlack covers the envelope header, padding and tag on top of the
// largest plaintext.
const envelopeSlack = 1 << 20

// Unlock decrypts a locked folder back to its original name next to it and
// removes the locked folder once the plaintext copy is committed.
func (e *Engine) Unlock(ctx context.Context, v *vault.Vault, lockedPath string, sink ProgressSink) (*Result, error) {
	ctx, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	r := e.newRun(ctx, "unlock", v, sink)

	// Scanning
	lockedPath, err = resolveFolder(lockedPath)
	if err != nil {
		return nil, r.fail(PhaseScanning, lockedPath, false, err)
	}

	locked, err := storage.OpenLocalStore(lockedPath, e.logger)
	if err != nil {
		return nil, r.fail(PhaseScanning, lockedPath, false, err)
	}
	locked.SetMaxFileSize(e.opts.MaxFileSize + envelopeSlack)

	manifest, raw, err := loadManifest(locked)
	if err != nil {
		return nil, r.fail(PhaseScanning, lockedPath, false, err)
	}

	if manifest.VaultID != v.ID {
		r.logger.Warn("Locked folder belongs to another vault")
		return nil, r.fail(PhaseScanning, lockedPath, false,
			fmt.Errorf("%w: folder was locked by another vault", models.ErrIntegrityCheckFailed))
	}

	if err := verifyManifest(locked, raw, v.MasterKey()); err != nil {
		r.logger.Warn("Manifest failed authentication")
		return nil, r.fail(PhaseScanning, lockedPath, false, err)
	}

	dest := filepath.Join(filepath.Dir(lockedPath), manifest.OriginalFolderName)
	r.logger = r.logger.WithField("source", filepath.Base(lockedPath))

	if err := checkAbsent(dest); err != nil {
		return nil, r.fail(PhaseScanning, dest, false, err)
	}

	if err := r.medium.CheckWritable(ctx); err != nil {
		return nil, r.fail(PhaseScanning, "", false, err)
	}

	r.setPhase(PhaseScanning)
	r.setTotal(manifest.FileCount)

	if err := checkEnvelopes(locked, manifest); err != nil {
		return nil, r.fail(PhaseScanning, "", false, err)
	}

	r.logger.WithField("files", manifest.FileCount).Info("Unlocking folder")

	// Transforming
	staging, err := newStaging(dest, e.logger)
	if err != nil {
		return nil, r.fail(PhaseTransforming, "", false, err)
	}
	staging.SetMaxFileSize(e.opts.MaxFileSize)

	var totalSize int64
	r.setPhase(PhaseTransforming)
	err = e.forEachFile(ctx, len(manifest.Files), func(ctx context.Context, i int) error {
		entry := manifest.Files[i]
		size, err := e.unlockOne(ctx, r, locked, staging, i, entry)
		if err != nil {
			return err
		}
		r.fileDone(entry.Path, func() {
			totalSize += size
		})
		return nil
	})
	if err == nil {
		for _, d := range manifest.Dirs {
			if err = staging.EnsureDir(d); err != nil {
				break
			}
		}
	}
	if err != nil {
		return nil, r.abort(PhaseTransforming, staging, "", err)
	}

	// Committing
	j := &journal{
		Op:          r.op,
		Source:      filepath.Base(lockedPath),
		Destination: manifest.OriginalFolderName,
		FileCount:   manifest.FileCount,
		VaultID:     v.ID,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.commit(ctx, r, staging, lockedPath, dest, j); err != nil {
		return nil, err
	}

	r.setPhase(PhaseDone)
	res := &Result{
		Source:      lockedPath,
		Destination: dest,
		FileCount:   manifest.FileCount,
		TotalSize:   totalSize,
		Manifest:    manifest,
		Duration:    time.Since(r.progress.StartTime),
	}

	r.logger.WithFields(map[string]interface{}{
		"files":    res.FileCount,
		"duration": res.Duration,
	}).Info("Folder unlocked")

	return res, nil
}

// unlockOne decrypts a single file into the staging tree and returns its size.
func (e *Engine) unlockOne(ctx context.Context, r *run, locked, staging *storage.LocalStore, index int, entry models.ManifestEntry) (int64, error) {
	fail := func(err error) (int64, error) {
		return 0, &models.FileError{Path: entry.Path, Op: "unlock", Err: err}
	}

	if e.fileHook != nil {
		if err := e.fileHook(index, entry.Path); err != nil {
			return fail(err)
		}
	}

	data, err := locked.Read(lockedName(entry.Path))
	if err != nil {
		return fail(err)
	}

	lf, err := crypto.UnmarshalLockedFile(data)
	if err != nil {
		return fail(err)
	}
	if lf.Path != entry.Path {
		return fail(fmt.Errorf("%w: envelope belongs to %q", models.ErrIntegrityCheckFailed, lf.Path))
	}

	fileKey, err := e.crypto.DeriveFileKey(r.vault.MasterKey(), crypto.FileContext{
		Path:          lf.Path,
		ContentLength: lf.ContentLength,
	})
	if err != nil {
		return fail(err)
	}
	defer crypto.ClearBytes(fileKey)

	payload, err := e.crypto.UnlockFile(lf, fileKey, r.vault.Alphabet)
	if err != nil {
		return fail(err)
	}
	defer crypto.ClearBytes(payload)

	content, err := decodePayload(payload, e.opts.MaxFileSize)
	if err != nil {
		return fail(err)
	}
	defer crypto.ClearBytes(content)

	if e.opts.VerifyHashes {
		if actual := hashContent(content); actual != entry.Hash || int64(len(content)) != entry.Size {
			return fail(&models.IntegrityError{Path: entry.Path, Expected: entry.Hash, Actual: actual})
		}
	}

	if err := r.medium.Check(ctx); err != nil {
		return fail(err)
	}

	mode := os.FileMode(entry.Mode).Perm()
	if mode == 0 {
		mode = defaultFileMode
	}

	if err := staging.Write(entry.Path, content, mode); err != nil {
		return fail(err)
	}

	return int64(len(content)), nil
}
