package vault_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/vault"
)

const testIterations = 1000

func newStore() *vault.Store {
	return vault.NewStore(vault.DefaultDirName, crypto.NewProvider(), events.Nop())
}

func testAlphabet(t *testing.T, seed string) alphabet.Alphabet {
	t.Helper()
	a, err := alphabet.Derive([]byte(seed))
	require.NoError(t, err)
	return a
}

func TestCreateAndOpen(t *testing.T) {
	root := t.TempDir()
	store := newStore()
	a := testAlphabet(t, "create")

	rec, err := store.Create(context.Background(), root, a, models.NewPassphrase("pw"), testIterations)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Metadata.VaultID)
	assert.Equal(t, models.FactorPassphrase, rec.Config.FactorKind)
	assert.True(t, store.Verify(rec))

	dir := filepath.Join(root, vault.DefaultDirName)
	for _, name := range vault.RequiredFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), name)
	}

	alphabetFile, err := os.ReadFile(filepath.Join(dir, vault.AlphabetFile))
	require.NoError(t, err)
	assert.Equal(t, a.String()+"\n", string(alphabetFile))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no staging leftovers")

	for _, path := range []string{root, dir} {
		opened, err := store.Open(path)
		require.NoError(t, err)
		assert.Equal(t, rec.Metadata.VaultID, opened.Metadata.VaultID)
		assert.Equal(t, rec.Salt, opened.Salt)
		assert.Equal(t, rec.Alphabet, opened.Alphabet)
		assert.Equal(t, testIterations, opened.Config.Iterations)
	}
}

func TestCreateExisting(t *testing.T) {
	root := t.TempDir()
	store := newStore()
	a := testAlphabet(t, "exists")

	first, err := store.Create(context.Background(), root, a, models.NoFactor(), testIterations)
	require.NoError(t, err)

	_, err = store.Create(context.Background(), root, testAlphabet(t, "other"), models.NoFactor(), testIterations)
	assert.ErrorIs(t, err, models.ErrVaultExists)

	// The original vault is untouched.
	opened, err := store.Open(root)
	require.NoError(t, err)
	assert.Equal(t, first.Metadata.VaultID, opened.Metadata.VaultID)
}

func TestCreateCancelledLeavesNothing(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newStore().Create(ctx, root, testAlphabet(t, "cancel"), models.NoFactor(), testIterations)
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateUnwritableLeavesNothing(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	root := t.TempDir()
	require.NoError(t, os.Chmod(root, 0500))
	t.Cleanup(func() { _ = os.Chmod(root, 0700) })

	_, err := newStore().Create(context.Background(), root, testAlphabet(t, "ro"), models.NoFactor(), testIterations)
	assert.Error(t, err)

	_, err = os.Stat(filepath.Join(root, vault.DefaultDirName))
	assert.True(t, os.IsNotExist(err))
}

func TestCreateRejectsInvalidAlphabet(t *testing.T) {
	var bad alphabet.Alphabet // all zero bytes
	_, err := newStore().Create(context.Background(), t.TempDir(), bad, models.NoFactor(), testIterations)
	assert.ErrorIs(t, err, models.ErrAlphabetDerivationFailed)
}

func TestOpenFailures(t *testing.T) {
	tests := []struct {
		name    string
		damage  func(t *testing.T, dir string)
		wantErr error
	}{
		{
			name:    "missing alphabet",
			damage:  func(t *testing.T, dir string) { removeFile(t, dir, vault.AlphabetFile) },
			wantErr: models.ErrVaultNotFound,
		},
		{
			name:    "missing master key",
			damage:  func(t *testing.T, dir string) { removeFile(t, dir, vault.MasterKeyFile) },
			wantErr: models.ErrVaultNotFound,
		},
		{
			name:    "garbage config",
			damage:  func(t *testing.T, dir string) { writeFile(t, dir, vault.ConfigFile, "{not json") },
			wantErr: models.ErrVaultCorrupted,
		},
		{
			name: "duplicate alphabet symbol",
			damage: func(t *testing.T, dir string) {
				data := readFile(t, dir, vault.AlphabetFile)
				data[1] = data[0]
				writeFile(t, dir, vault.AlphabetFile, string(data))
			},
			wantErr: models.ErrVaultCorrupted,
		},
		{
			name: "swapped alphabet symbols",
			damage: func(t *testing.T, dir string) {
				data := readFile(t, dir, vault.AlphabetFile)
				data[0], data[1] = data[1], data[0]
				writeFile(t, dir, vault.AlphabetFile, string(data))
			},
			wantErr: models.ErrVaultCorrupted,
		},
		{
			name: "flipped master key byte",
			damage: func(t *testing.T, dir string) {
				data := readFile(t, dir, vault.MasterKeyFile)
				data[len(data)-1] ^= 0xff
				writeFile(t, dir, vault.MasterKeyFile, string(data))
			},
			wantErr: models.ErrVaultCorrupted,
		},
		{
			name: "truncated master key",
			damage: func(t *testing.T, dir string) {
				writeFile(t, dir, vault.MasterKeyFile, "CVMK\x01")
			},
			wantErr: models.ErrVaultCorrupted,
		},
		{
			name: "edited iteration count",
			damage: func(t *testing.T, dir string) {
				writeFile(t, dir, vault.ConfigFile,
					`{"format_version":1,"pbkdf2_iterations":1,"created_at":"2024-01-01T00:00:00Z","factor_kind":"none"}`)
			},
			wantErr: models.ErrVaultCorrupted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			store := newStore()
			_, err := store.Create(context.Background(), root, testAlphabet(t, tt.name), models.NoFactor(), testIterations)
			require.NoError(t, err)

			tt.damage(t, filepath.Join(root, vault.DefaultDirName))

			_, err = store.Open(root)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("no vault directory", func(t *testing.T) {
		_, err := newStore().Open(t.TempDir())
		assert.ErrorIs(t, err, models.ErrVaultNotFound)
	})
}

func TestUnlock(t *testing.T) {
	root := t.TempDir()
	store := newStore()
	rec, err := store.Create(context.Background(), root, testAlphabet(t, "unlock"), models.NewPassphrase("right"), testIterations)
	require.NoError(t, err)

	t.Run("correct factor", func(t *testing.T) {
		v, err := store.Unlock(context.Background(), root, models.NewPassphrase("right"))
		require.NoError(t, err)
		defer v.Close()

		assert.Equal(t, rec.Metadata.VaultID, v.ID)
		assert.Len(t, v.MasterKey(), crypto.KeySize)
		assert.Equal(t, filepath.Join(root, vault.DefaultDirName), v.Dir)
		assert.Equal(t, testIterations, v.Iterations())
	})

	t.Run("close wipes key", func(t *testing.T) {
		v, err := store.Unlock(context.Background(), root, models.NewPassphrase("right"))
		require.NoError(t, err)
		key := v.MasterKey()
		v.Close()

		assert.Nil(t, v.MasterKey())
		assert.Equal(t, make([]byte, crypto.KeySize), key)
	})

	tests := []struct {
		name   string
		factor models.SecondaryFactor
	}{
		{"wrong passphrase", models.NewPassphrase("wrong")},
		{"missing factor", models.NoFactor()},
		{"token instead of passphrase", models.NewTokenID([]byte("right"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Unlock(context.Background(), root, tt.factor)
			assert.ErrorIs(t, err, models.ErrSecondaryFactorMismatch)
			assert.True(t, models.IsCannotUnlock(err))
		})
	}
}

func TestVaultsAreNotKeyCompatible(t *testing.T) {
	store := newStore()
	a := testAlphabet(t, "same alphabet")

	rootA, rootB := t.TempDir(), t.TempDir()
	_, err := store.Create(context.Background(), rootA, a, models.NoFactor(), testIterations)
	require.NoError(t, err)
	_, err = store.Create(context.Background(), rootB, a, models.NoFactor(), testIterations)
	require.NoError(t, err)

	va, err := store.Unlock(context.Background(), rootA, models.NoFactor())
	require.NoError(t, err)
	defer va.Close()
	vb, err := store.Unlock(context.Background(), rootB, models.NoFactor())
	require.NoError(t, err)
	defer vb.Close()

	assert.NotEqual(t, va.ID, vb.ID)
	assert.NotEqual(t, va.MasterKey(), vb.MasterKey(), "distinct salts give distinct keys")
}

func TestLocate(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, vault.DefaultDirName)

	_, err := vault.Locate(root, vault.DefaultDirName)
	assert.ErrorIs(t, err, models.ErrVaultNotFound)

	require.NoError(t, os.Mkdir(dir, 0700))

	got, err := vault.Locate(root, vault.DefaultDirName)
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	got, err = vault.Locate(dir, vault.DefaultDirName)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func removeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(dir, name)))
}

func readFile(t *testing.T, dir, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return data
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
}
