package transform_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/services/transform"
	"github.com/TheMichaelB/chaosvault/internal/vault"
)

func dropEntry(path string) func(*models.Manifest) {
	return func(m *models.Manifest) {
		kept := m.Files[:0]
		for _, f := range m.Files {
			if f.Path != path {
				kept = append(kept, f)
			}
		}
		m.Files = kept
		m.FileCount = len(kept)
	}
}

func TestUnlockRejectsTamperedLockedFolder(t *testing.T) {
	tests := []struct {
		name    string
		tamper  func(t *testing.T, v *vault.Vault, locked string)
		wantErr error
	}{
		{
			name: "entry dropped from manifest",
			tamper: func(t *testing.T, v *vault.Vault, locked string) {
				editManifest(t, v, locked, false, dropEntry("nested/four.dat"))
			},
			wantErr: models.ErrIntegrityCheckFailed,
		},
		{
			name: "entry dropped and tag recomputed",
			tamper: func(t *testing.T, v *vault.Vault, locked string) {
				editManifest(t, v, locked, true, dropEntry("nested/four.dat"))
			},
			wantErr: models.ErrIntegrityCheckFailed,
		},
		{
			name: "tag removed",
			tamper: func(t *testing.T, v *vault.Vault, locked string) {
				require.NoError(t, os.Remove(filepath.Join(locked, transform.ManifestTagName)))
			},
			wantErr: models.ErrIntegrityCheckFailed,
		},
		{
			name: "tag garbled",
			tamper: func(t *testing.T, v *vault.Vault, locked string) {
				require.NoError(t, os.WriteFile(filepath.Join(locked, transform.ManifestTagName), []byte("zz"), 0600))
			},
			wantErr: models.ErrIntegrityCheckFailed,
		},
		{
			name: "unlisted envelope added",
			tamper: func(t *testing.T, v *vault.Vault, locked string) {
				data, err := os.ReadFile(filepath.Join(locked, "one.bin.cvlk"))
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(filepath.Join(locked, "stray.bin.cvlk"), data, 0600))
			},
			wantErr: models.ErrIntegrityCheckFailed,
		},
		{
			name: "envelope renamed with manifest to match",
			tamper: func(t *testing.T, v *vault.Vault, locked string) {
				require.NoError(t, os.Rename(filepath.Join(locked, "one.bin.cvlk"), filepath.Join(locked, "two.bin.cvlk")))
				editManifest(t, v, locked, true, func(m *models.Manifest) {
					for i := range m.Files {
						if m.Files[i].Path == "one.bin" {
							m.Files[i].Path = "two.bin"
						}
					}
				})
			},
			wantErr: models.ErrIntegrityCheckFailed,
		},
		{
			name: "file path escapes the folder",
			tamper: func(t *testing.T, v *vault.Vault, locked string) {
				editManifest(t, v, locked, true, func(m *models.Manifest) { m.Files[0].Path = "../escape.txt" })
			},
			wantErr: models.ErrNotLockedFolder,
		},
		{
			name: "empty directory escapes the folder",
			tamper: func(t *testing.T, v *vault.Vault, locked string) {
				editManifest(t, v, locked, true, func(m *models.Manifest) { m.Dirs = append(m.Dirs, "../../outside") })
			},
			wantErr: models.ErrNotLockedFolder,
		},
		{
			name: "absolute file path",
			tamper: func(t *testing.T, v *vault.Vault, locked string) {
				editManifest(t, v, locked, true, func(m *models.Manifest) { m.Files[0].Path = "/tmp/escape.txt" })
			},
			wantErr: models.ErrNotLockedFolder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVault(t, "tampered", models.NoFactor())
			engine := newEngine(testOptions())

			parent := t.TempDir()
			work := filepath.Join(parent, "work")
			source := filepath.Join(work, "docs")
			writeTree(t, source, sampleTree())

			res, err := engine.Lock(context.Background(), v, source, nil)
			require.NoError(t, err)

			tt.tamper(t, v, res.Destination)
			before := readTree(t, res.Destination)

			_, err = engine.Unlock(context.Background(), v, res.Destination, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, before, readTree(t, res.Destination), "locked folder untouched")
			assert.Equal(t, []string{"docs.locked"}, siblings(t, work))
			assert.Equal(t, []string{"work"}, siblings(t, parent))
		})
	}
}

func TestLockKeepsSourceChangedDuringTransform(t *testing.T) {
	v := newVault(t, "late-writes", models.NoFactor())

	tests := []struct {
		name   string
		verify bool
		change func(t *testing.T, source string)
	}{
		{
			name: "file added",
			change: func(t *testing.T, source string) {
				require.NoError(t, os.WriteFile(filepath.Join(source, "late-save.txt"), []byte("late"), 0600))
			},
		},
		{
			name: "file grew",
			change: func(t *testing.T, source string) {
				require.NoError(t, os.WriteFile(filepath.Join(source, "empty.txt"), []byte("now with text"), 0600))
			},
		},
		{
			name: "file removed",
			change: func(t *testing.T, source string) {
				require.NoError(t, os.Remove(filepath.Join(source, "empty.txt")))
			},
		},
		{
			name: "empty directory added",
			change: func(t *testing.T, source string) {
				require.NoError(t, os.Mkdir(filepath.Join(source, "new-dir"), 0700))
			},
		},
		{
			name:   "same size edit with hash verification",
			verify: true,
			change: func(t *testing.T, source string) {
				p := filepath.Join(source, "nested", "four.dat")
				data, err := os.ReadFile(p)
				require.NoError(t, err)
				data[0] ^= 0xff
				require.NoError(t, os.WriteFile(p, data, 0600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.Workers = 1
			opts.VerifyHashes = tt.verify
			engine := newEngine(opts)

			work := t.TempDir()
			source := filepath.Join(work, "docs")
			original := sampleTree()
			writeTree(t, source, original)

			// Files are processed in order on one worker; by the last one
			// every earlier file has been read.
			engine.SetFileHook(func(index int, path string) error {
				if index == 2 {
					tt.change(t, source)
				}
				return nil
			})

			_, err := engine.Lock(context.Background(), v, source, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, transform.ErrSourceChanged)

			var opErr *models.OperationError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, string(transform.PhaseCommitting), opErr.Phase)

			edited := readTree(t, source)
			assert.NotEqual(t, original, edited)
			assert.ElementsMatch(t, []string{"docs", "docs.locked"}, siblings(t, work), "both copies kept, no journal")

			recovered, err := engine.Recover(context.Background(), work)
			require.NoError(t, err)
			assert.Empty(t, recovered)

			// The locked copy is a complete lock of the tree as it was read.
			engine.SetFileHook(nil)
			require.NoError(t, os.Rename(source, filepath.Join(work, "docs-edited")))
			_, err = engine.Unlock(context.Background(), v, source+transform.LockedSuffix, nil)
			require.NoError(t, err)
			assert.Equal(t, original, readTree(t, source))
			assert.Equal(t, edited, readTree(t, filepath.Join(work, "docs-edited")))
		})
	}
}

func TestUnlockKeepsLockedFolderChangedDuringTransform(t *testing.T) {
	v := newVault(t, "late-envelope", models.NoFactor())
	opts := testOptions()
	opts.Workers = 1
	engine := newEngine(opts)

	work := t.TempDir()
	source := filepath.Join(work, "docs")
	original := sampleTree()
	writeTree(t, source, original)

	res, err := engine.Lock(context.Background(), v, source, nil)
	require.NoError(t, err)

	engine.SetFileHook(func(index int, path string) error {
		if index == 2 {
			data, err := os.ReadFile(filepath.Join(res.Destination, "one.bin.cvlk"))
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(res.Destination, "synced.bin.cvlk"), data, 0600))
		}
		return nil
	})

	_, err = engine.Unlock(context.Background(), v, res.Destination, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, transform.ErrSourceChanged)

	assert.ElementsMatch(t, []string{"docs", "docs.locked"}, siblings(t, work))
	assert.Equal(t, original, readTree(t, source))
	assert.FileExists(t, filepath.Join(res.Destination, "synced.bin.cvlk"))
}
