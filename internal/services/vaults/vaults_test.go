package vaults_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/entropy"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/services/vaults"
	"github.com/TheMichaelB/chaosvault/internal/vault"
	"github.com/TheMichaelB/chaosvault/test/testutil"
)

func newService(sources ...entropy.Source) *vaults.Service {
	logger := testutil.NewTestLogger()
	store := vault.NewStore(vault.DefaultDirName, crypto.NewProvider(), logger)
	return vaults.NewService(store, testutil.NewTestCollector(sources...), vaults.Config{
		Iterations:    testutil.Iterations,
		MediumRetries: 1,
	}, logger)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	service := newService()

	result, err := service.Create(ctx, root, models.NewPassphrase("pw"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, vault.DefaultDirName), result.Path)
	assert.NotEmpty(t, result.Record.Metadata.VaultID)
	assert.GreaterOrEqual(t, result.EntropyBytes, 64)
	assert.False(t, result.Degraded)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, testutil.Iterations, result.Record.Config.Iterations)

	v, err := service.Unlock(ctx, root, models.NewPassphrase("pw"))
	require.NoError(t, err)
	defer v.Close()
	assert.Equal(t, result.Record.Metadata.VaultID, v.ID)
}

func TestCreateTwiceFails(t *testing.T) {
	root := t.TempDir()
	service := newService()

	_, err := service.Create(context.Background(), root, models.NoFactor())
	require.NoError(t, err)

	_, err = service.Create(context.Background(), root, models.NoFactor())
	assert.ErrorIs(t, err, models.ErrVaultExists)
}

func TestCreateEntropyOutcomes(t *testing.T) {
	tests := []struct {
		name         string
		sources      []entropy.Source
		wantErr      error
		wantDegraded bool
	}{
		{
			name: "all sources healthy",
			sources: []entropy.Source{
				testutil.NewSeededSource("a", "one", 32),
				testutil.NewSeededSource("b", "two", 32),
			},
		},
		{
			name: "one source missing",
			sources: []entropy.Source{
				testutil.NewSeededSource("a", "one", 32),
				testutil.UnavailableSource{SourceName: "sensor"},
			},
			wantDegraded: true,
		},
		{
			name:    "no usable source",
			sources: []entropy.Source{testutil.UnavailableSource{SourceName: "sensor"}},
			wantErr: models.ErrInsufficientEntropy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			result, err := newService(tt.sources...).Create(context.Background(), root, models.NoFactor())

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				testutil.AssertNoEntry(t, filepath.Join(root, vault.DefaultDirName+"*"))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantDegraded, result.Degraded)
			if tt.wantDegraded {
				assert.Equal(t, []string{"sensor"}, result.Skipped)
			}
		})
	}
}

func TestCreateCancelled(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newService().Create(ctx, root, models.NoFactor())
	assert.ErrorIs(t, err, models.ErrEntropyAborted)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSameEntropyDifferentVaults(t *testing.T) {
	rootA, rootB := t.TempDir(), t.TempDir()

	a, err := newService(testutil.NewSeededSource("s", "fixed", 32)).Create(context.Background(), rootA, models.NoFactor())
	require.NoError(t, err)
	b, err := newService(testutil.NewSeededSource("s", "fixed", 32)).Create(context.Background(), rootB, models.NoFactor())
	require.NoError(t, err)

	assert.NotEqual(t, a.Record.Metadata.VaultID, b.Record.Metadata.VaultID)
	assert.NotEqual(t, a.Record.Salt, b.Record.Salt)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	service := newService()

	t.Run("valid vault", func(t *testing.T) {
		root := t.TempDir()
		created, err := service.Create(ctx, root, models.NewTokenID([]byte("tap")))
		require.NoError(t, err)

		report, err := service.Verify(ctx, root)
		require.NoError(t, err)
		assert.True(t, report.Valid)
		assert.Empty(t, report.Problem)
		assert.Equal(t, created.Record.Metadata.VaultID, report.VaultID)
		assert.Equal(t, models.FactorToken, report.FactorKind)
		assert.Equal(t, models.VaultFormatVersion, report.FormatVersion)
	})

	t.Run("tampered vault", func(t *testing.T) {
		root := t.TempDir()
		_, err := service.Create(ctx, root, models.NoFactor())
		require.NoError(t, err)

		keyPath := filepath.Join(root, vault.DefaultDirName, vault.MasterKeyFile)
		data, err := os.ReadFile(keyPath)
		require.NoError(t, err)
		data[len(data)-1] ^= 0x01
		require.NoError(t, os.WriteFile(keyPath, data, 0600))

		report, err := service.Verify(ctx, root)
		require.NoError(t, err)
		assert.False(t, report.Valid)
		assert.NotEmpty(t, report.Problem)
	})

	t.Run("no vault", func(t *testing.T) {
		_, err := service.Verify(ctx, t.TempDir())
		assert.ErrorIs(t, err, models.ErrVaultNotFound)
	})
}

func TestUnlockConcealsFactorErrors(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	service := newService()

	_, err := service.Create(ctx, root, models.NewPassphrase("right"))
	require.NoError(t, err)

	for _, f := range []models.SecondaryFactor{
		models.NewPassphrase("wrong"),
		models.NoFactor(),
		models.NewTokenID([]byte("right")),
	} {
		_, err := service.Unlock(ctx, root, f)
		assert.ErrorIs(t, err, models.ErrCannotUnlock)
		assert.NotErrorIs(t, err, models.ErrSecondaryFactorMismatch)
	}

	kind, id, err := service.RequiredFactor(root)
	require.NoError(t, err)
	assert.Equal(t, models.FactorPassphrase, kind)
	assert.NotEmpty(t, id)
}
