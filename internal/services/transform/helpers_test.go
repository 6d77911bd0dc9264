package transform_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/services/transform"
	"github.com/TheMichaelB/chaosvault/internal/vault"
)

const testIterations = 1000

// newVault creates and unlocks a vault on its own medium directory.
func newVault(t *testing.T, seed string, factor models.SecondaryFactor) *vault.Vault {
	t.Helper()

	a, err := alphabet.Derive([]byte(seed))
	require.NoError(t, err)

	root := t.TempDir()
	store := vault.NewStore(vault.DefaultDirName, crypto.NewProvider(), events.Nop())

	_, err = store.Create(context.Background(), root, a, factor, testIterations)
	require.NoError(t, err)

	v, err := store.Unlock(context.Background(), root, factor)
	require.NoError(t, err)
	t.Cleanup(v.Close)

	return v
}

func testOptions() transform.Options {
	return transform.Options{
		Workers:          4,
		Compress:         true,
		HideFromIndex:    true,
		MaxFileSize:      1 << 20,
		MediumRetries:    1,
		MediumRetryDelay: time.Millisecond,
	}
}

func newEngine(opts transform.Options) *transform.Engine {
	return transform.NewEngine(crypto.NewProvider(), opts, events.Nop())
}

// writeTree creates files below root. Keys ending in "/" are empty directories.
func writeTree(t *testing.T, root string, files map[string][]byte) {
	t.Helper()

	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			require.NoError(t, os.MkdirAll(p, 0700))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0700))
		require.NoError(t, os.WriteFile(p, content, 0600))
	}
}

// readTree returns every file below root keyed by slash path. Empty
// directories appear with a trailing "/".
func readTree(t *testing.T, root string) map[string][]byte {
	t.Helper()

	out := make(map[string][]byte)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				out[rel+"/"] = nil
			}
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[rel] = data
		return nil
	})
	require.NoError(t, err)
	return out
}

// sampleTree is three files of 0, 1 and 4096 bytes plus an empty directory.
func sampleTree() map[string][]byte {
	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte(i * 7)
	}
	return map[string][]byte{
		"empty.txt":       {},
		"one.bin":         {0x42},
		"nested/four.dat": big,
		"hollow/inner/":   nil,
	}
}

// siblings lists the names in dir.
func siblings(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

type recordingSink struct {
	reports []transform.Progress
}

func (s *recordingSink) Report(p transform.Progress) {
	s.reports = append(s.reports, p)
}

func (s *recordingSink) phases() []transform.Phase {
	var out []transform.Phase
	for _, p := range s.reports {
		if len(out) == 0 || out[len(out)-1] != p.Phase {
			out = append(out, p.Phase)
		}
	}
	return out
}

// editManifest rewrites the manifest of a locked folder. With retag set the
// tag is recomputed under v's master key, as a holder of the vault could.
func editManifest(t *testing.T, v *vault.Vault, lockedDir string, retag bool, edit func(*models.Manifest)) {
	t.Helper()

	manifestPath := filepath.Join(lockedDir, transform.ManifestName)
	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)

	var m models.Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	edit(&m)

	data, err = json.Marshal(&m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifestPath, data, 0600))

	if retag {
		tag, err := crypto.ManifestTag(v.MasterKey(), data)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(lockedDir, transform.ManifestTagName), []byte(hex.EncodeToString(tag)), 0600))
	}
}
