package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/storage"
	"github.com/TheMichaelB/chaosvault/internal/vault"
)

// Lock encrypts the folder at source into a sibling "<name>.locked" folder
// and removes the source once the locked copy is committed.
func (e *Engine) Lock(ctx context.Context, v *vault.Vault, source string, sink ProgressSink) (*Result, error) {
	ctx, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	r := e.newRun(ctx, "lock", v, sink)

	source, err = resolveFolder(source)
	if err != nil {
		return nil, r.fail(PhaseScanning, source, false, err)
	}
	if within(source, v.Dir) || within(v.Dir, source) {
		return nil, r.fail(PhaseScanning, source, false, fmt.Errorf("source overlaps the vault directory"))
	}

	name := filepath.Base(source)
	dest := filepath.Join(filepath.Dir(source), name+LockedSuffix)
	r.logger = r.logger.WithField("source", name)

	if err := checkAbsent(dest); err != nil {
		return nil, r.fail(PhaseScanning, dest, false, err)
	}

	if err := r.medium.CheckWritable(ctx); err != nil {
		return nil, r.fail(PhaseScanning, "", false, err)
	}

	// Scanning
	r.setPhase(PhaseScanning)

	src, err := storage.OpenLocalStore(source, e.logger)
	if err != nil {
		return nil, r.fail(PhaseScanning, source, false, err)
	}
	src.SetMaxFileSize(e.opts.MaxFileSize)

	scan, err := scanSource(src, e.opts.MaxFileSize)
	if err != nil {
		return nil, r.fail(PhaseScanning, "", false, err)
	}
	r.setTotal(len(scan.Files))

	r.logger.WithFields(map[string]interface{}{
		"files":      len(scan.Files),
		"empty_dirs": len(scan.EmptyDirs),
		"size":       scan.TotalSize,
	}).Info("Locking folder")

	// Transforming
	staging, err := newStaging(dest, e.logger)
	if err != nil {
		return nil, r.fail(PhaseTransforming, "", false, err)
	}

	manifest := &models.Manifest{
		FormatVersion:      models.ManifestFormatVersion,
		FileCount:          len(scan.Files),
		OriginalFolderName: name,
		VaultID:            v.ID,
		CreatedAt:          time.Now().UTC(),
		Files:              make([]models.ManifestEntry, 0, len(scan.Files)),
		Dirs:               scan.EmptyDirs,
	}

	r.setPhase(PhaseTransforming)
	err = e.forEachFile(ctx, len(scan.Files), func(ctx context.Context, i int) error {
		item := scan.Files[i]
		entry, err := e.lockOne(ctx, r, src, staging, i, item)
		if err != nil {
			return err
		}
		r.fileDone(item.Path, func() {
			manifest.Files = append(manifest.Files, *entry)
		})
		return nil
	})
	if err == nil {
		manifest, err = writeManifest(staging, manifest, v.MasterKey())
	}
	if err == nil && e.opts.HideFromIndex {
		err = staging.Write(NeverIndexName, nil, defaultFileMode)
	}
	if err != nil {
		return nil, r.abort(PhaseTransforming, staging, "", err)
	}

	// Committing
	j := &journal{
		Op:          r.op,
		Source:      name,
		Destination: filepath.Base(dest),
		FileCount:   manifest.FileCount,
		VaultID:     v.ID,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.commit(ctx, r, staging, source, dest, j); err != nil {
		return nil, err
	}

	r.setPhase(PhaseDone)
	res := &Result{
		Source:      source,
		Destination: dest,
		FileCount:   manifest.FileCount,
		TotalSize:   scan.TotalSize,
		Manifest:    manifest,
		Duration:    time.Since(r.progress.StartTime),
	}

	r.logger.WithFields(map[string]interface{}{
		"files":    res.FileCount,
		"duration": res.Duration,
	}).Info("Folder locked")

	return res, nil
}

// lockOne encrypts a single file into the staging tree.
func (e *Engine) lockOne(ctx context.Context, r *run, src, staging *storage.LocalStore, index int, item models.FileItem) (*models.ManifestEntry, error) {
	fail := func(err error) (*models.ManifestEntry, error) {
		return nil, &models.FileError{Path: item.Path, Op: "lock", Err: err}
	}

	if e.fileHook != nil {
		if err := e.fileHook(index, item.Path); err != nil {
			return fail(err)
		}
	}

	content, err := src.Read(item.Path)
	if err != nil {
		return fail(err)
	}
	defer crypto.ClearBytes(content)

	payload, err := encodePayload(item.Path, content, e.opts.Compress)
	if err != nil {
		return fail(err)
	}
	defer crypto.ClearBytes(payload)

	fc := crypto.FileContext{Path: item.Path, ContentLength: int64(len(payload))}
	fileKey, err := e.crypto.DeriveFileKey(r.vault.MasterKey(), fc)
	if err != nil {
		return fail(err)
	}
	defer crypto.ClearBytes(fileKey)

	locked, err := e.crypto.LockFile(payload, fileKey, r.vault.Alphabet, fc)
	if err != nil {
		return fail(err)
	}

	envelope, err := crypto.MarshalLockedFile(locked)
	if err != nil {
		return fail(err)
	}

	if err := r.medium.Check(ctx); err != nil {
		return fail(err)
	}

	if err := staging.Write(lockedName(item.Path), envelope, defaultFileMode); err != nil {
		return fail(err)
	}

	return &models.ManifestEntry{
		Path: item.Path,
		Size: int64(len(content)),
		Hash: hashContent(content),
		Mode: item.Mode,
	}, nil
}

// forEachFile runs fn for every index on the worker pool. The first failure
// cancels work that has not started; files already in flight finish.
func (e *Engine) forEachFile(ctx context.Context, n int, fn func(context.Context, int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// resolveFolder returns the absolute path of an existing, non-symlink directory.
func resolveFolder(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p, fmt.Errorf("resolve path: %w", err)
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return abs, fmt.Errorf("stat folder: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return abs, fmt.Errorf("%w: %s is a symlink", ErrUnsupportedFile, abs)
	}
	if !info.IsDir() {
		return abs, fmt.Errorf("not a directory: %s", abs)
	}

	return abs, nil
}

// checkAbsent fails with ErrTargetExists when something already occupies p.
func checkAbsent(p string) error {
	if _, err := os.Lstat(p); err == nil {
		return fmt.Errorf("%w: %s", models.ErrTargetExists, p)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat target: %w", err)
	}
	return nil
}

// within reports whether child is parent or lies below it.
func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
