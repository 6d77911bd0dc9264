package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"strings"

	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/storage"
)

// readManifest loads and validates the manifest of a locked folder without
// authenticating it. Recovery uses it where no master key is available.
func readManifest(store storage.BlobStore) (*models.Manifest, error) {
	m, _, err := loadManifest(store)
	return m, err
}

func loadManifest(store storage.BlobStore) (*models.Manifest, []byte, error) {
	data, err := store.Read(ManifestName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: no manifest in %s", models.ErrNotLockedFolder, store.Root())
		}
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}

	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("%w: parse manifest: %v", models.ErrNotLockedFolder, err)
	}

	if err := m.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrNotLockedFolder, err)
	}

	return &m, data, nil
}

// verifyManifest checks the stored tag over the exact manifest bytes.
func verifyManifest(store storage.BlobStore, data, masterKey []byte) error {
	encoded, err := store.Read(ManifestTagName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: manifest tag missing", models.ErrIntegrityCheckFailed)
		}
		return fmt.Errorf("read manifest tag: %w", err)
	}

	tag, err := hex.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return fmt.Errorf("%w: malformed manifest tag", models.ErrIntegrityCheckFailed)
	}

	if err := crypto.VerifyManifestTag(masterKey, data, tag); err != nil {
		return fmt.Errorf("%w: manifest does not match its tag", err)
	}
	return nil
}

// writeManifest stores a sorted copy of m and its tag, and returns the copy.
func writeManifest(store storage.BlobStore, m *models.Manifest, masterKey []byte) (*models.Manifest, error) {
	out := *m
	out.Files = append([]models.ManifestEntry(nil), m.Files...)
	out.Dirs = append([]string(nil), m.Dirs...)
	sort.Slice(out.Files, func(i, j int) bool { return out.Files[i].Path < out.Files[j].Path })
	sort.Strings(out.Dirs)

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	tag, err := crypto.ManifestTag(masterKey, data)
	if err != nil {
		return nil, fmt.Errorf("tag manifest: %w", err)
	}

	if err := store.Write(ManifestName, data, defaultFileMode); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := store.Write(ManifestTagName, []byte(hex.EncodeToString(tag)), defaultFileMode); err != nil {
		return nil, fmt.Errorf("write manifest tag: %w", err)
	}
	return &out, nil
}

// checkEnvelopes confirms the envelopes in a locked folder are exactly the
// files the manifest lists.
func checkEnvelopes(store storage.BlobStore, m *models.Manifest) error {
	listed := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		listed[f.Path] = true
	}

	err := store.Walk(func(fi storage.FileInfo) error {
		if fi.IsDir || !strings.HasSuffix(fi.Path, crypto.EnvelopeSuffix) {
			return nil
		}
		rel := strings.TrimSuffix(fi.Path, crypto.EnvelopeSuffix)
		if !listed[rel] || fi.IsSymlink {
			return &models.FileError{
				Path: rel,
				Op:   "scan",
				Err:  fmt.Errorf("%w: locked file not in manifest", models.ErrIntegrityCheckFailed),
			}
		}
		delete(listed, rel)
		return nil
	})
	if err != nil {
		return err
	}

	if len(listed) > 0 {
		missing := make([]string, 0, len(listed))
		for rel := range listed {
			missing = append(missing, rel)
		}
		sort.Strings(missing)
		return &models.FileError{
			Path: missing[0],
			Op:   "scan",
			Err:  fmt.Errorf("%w: %d locked file(s) missing", models.ErrIntegrityCheckFailed, len(missing)),
		}
	}
	return nil
}

// checkLockSource confirms a lock source still holds exactly the files and
// empty directories the manifest recorded. With rehash set every file is
// read again and compared with its manifest hash.
func checkLockSource(store storage.BlobStore, m *models.Manifest, rehash bool) error {
	scan, err := scanSource(store, math.MaxInt64)
	if err != nil {
		return err
	}

	want := make(map[string]models.ManifestEntry, len(m.Files))
	for _, f := range m.Files {
		want[f.Path] = f
	}
	if len(scan.Files) != len(want) {
		return fmt.Errorf("source holds %d files, %d were locked", len(scan.Files), len(want))
	}

	for _, f := range scan.Files {
		entry, ok := want[f.Path]
		switch {
		case !ok:
			return fmt.Errorf("%s was added", f.Path)
		case entry.Size != f.Size:
			return fmt.Errorf("%s changed size", f.Path)
		}
		if !rehash {
			continue
		}
		content, err := store.Read(f.Path)
		if err != nil {
			return fmt.Errorf("reread %s: %w", f.Path, err)
		}
		actual := hashContent(content)
		crypto.ClearBytes(content)
		if actual != entry.Hash {
			return fmt.Errorf("%s changed content", f.Path)
		}
	}

	dirs := make(map[string]bool, len(m.Dirs))
	for _, d := range m.Dirs {
		dirs[d] = true
	}
	if len(scan.EmptyDirs) != len(dirs) {
		return fmt.Errorf("source holds %d empty directories, %d were locked", len(scan.EmptyDirs), len(dirs))
	}
	for _, d := range scan.EmptyDirs {
		if !dirs[d] {
			return fmt.Errorf("%s was added", d)
		}
	}
	return nil
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func lockedName(rel string) string {
	return rel + crypto.EnvelopeSuffix
}

// countFiles counts regular files below store's root. With suffix set only
// names ending in it are counted.
func countFiles(store storage.BlobStore, suffix string) (int, error) {
	n := 0
	err := store.Walk(func(fi storage.FileInfo) error {
		if fi.IsDir || fi.IsSymlink {
			return nil
		}
		if suffix == "" || strings.HasSuffix(fi.Path, suffix) {
			n++
		}
		return nil
	})
	return n, err
}
