package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/chaosvault/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, ".chaos_vault", cfg.Vault.DirName)
	assert.Equal(t, 100000, cfg.Vault.Iterations)
	assert.Equal(t, 30*time.Second, cfg.Entropy.Window)
	assert.Equal(t, 256, cfg.Entropy.MinBytes)
	assert.Equal(t, 10*time.Second, cfg.Entropy.MaxExtension)
	assert.Positive(t, cfg.Transform.Workers)
	assert.Equal(t, "sqlite", cfg.Registry.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *config.Config) {},
			wantErr: "",
		},
		{
			name:    "nested vault dir name",
			modify:  func(c *config.Config) { c.Vault.DirName = "a/b" },
			wantErr: "vault.dir_name",
		},
		{
			name:    "too few iterations",
			modify:  func(c *config.Config) { c.Vault.Iterations = 10 },
			wantErr: "vault.iterations",
		},
		{
			name:    "interval not sub-second",
			modify:  func(c *config.Config) { c.Entropy.Interval = 2 * time.Second },
			wantErr: "sub-second",
		},
		{
			name:    "extension beyond ten seconds",
			modify:  func(c *config.Config) { c.Entropy.MaxExtension = time.Minute },
			wantErr: "entropy.max_extension",
		},
		{
			name:    "zero workers",
			modify:  func(c *config.Config) { c.Transform.Workers = 0 },
			wantErr: "transform.workers",
		},
		{
			name:    "unknown registry backend",
			modify:  func(c *config.Config) { c.Registry.Backend = "redis" },
			wantErr: "invalid registry backend",
		},
		{
			name:    "invalid log level",
			modify:  func(c *config.Config) { c.Log.Level = "invalid" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoaderEnv(t *testing.T) {
	t.Setenv("CHAOSVAULT_LOG_LEVEL", "debug")
	t.Setenv("CHAOSVAULT_TRANSFORM_WORKERS", "8")
	t.Setenv("CHAOSVAULT_FACTOR_TIMEOUT", "45s")
	t.Setenv("CHAOSVAULT_TRANSFORM_VERIFY_HASHES", "true")

	cfg, err := config.NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.Error(t, err, "an explicit missing file is an error")
	assert.Nil(t, cfg)

	t.Chdir(t.TempDir())
	loader := config.NewLoader("")
	cfg, err = loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Transform.Workers)
	assert.Equal(t, 45*time.Second, cfg.Factor.Timeout)
	assert.True(t, cfg.Transform.VerifyHashes)
}

func TestLoaderFile(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("json", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "test.json")
		configJSON := `{
			"vault": {"path": "/media/usb", "iterations": 200000},
			"entropy": {"window": "5s"},
			"log": {"level": "warn", "format": "json"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(configJSON), 0644))

		loader := config.NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, configPath, loader.ConfigFileUsed())
		assert.Equal(t, "/media/usb", cfg.Vault.Path)
		assert.Equal(t, 200000, cfg.Vault.Iterations)
		assert.Equal(t, 5*time.Second, cfg.Entropy.Window)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		// Untouched keys keep their defaults.
		assert.Equal(t, ".chaos_vault", cfg.Vault.DirName)
	})

	t.Run("yaml", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "test.yaml")
		configYAML := "transform:\n  workers: 2\n  compress: false\nregistry:\n  backend: bolt\n"
		require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0644))

		cfg, err := config.NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Transform.Workers)
		assert.False(t, cfg.Transform.Compress)
		assert.Equal(t, "bolt", cfg.Registry.Backend)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "bad.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"transform": {"workers": 0}}`), 0644))

		_, err := config.NewLoader(configPath).Load()
		assert.ErrorContains(t, err, "transform.workers")
	})
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chaosvault.yaml")

	require.NoError(t, config.SaveExample(path))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	// Refuses to overwrite.
	assert.Error(t, config.SaveExample(path))
}

func TestConfigEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Log.File = filepath.Join(tmpDir, "logs", "app.log")
	cfg.Registry.Path = filepath.Join(tmpDir, "registry", "folders.db")

	require.NoError(t, cfg.EnsureDirectories())

	assert.DirExists(t, filepath.Dir(cfg.Log.File))
	assert.DirExists(t, filepath.Dir(cfg.Registry.Path))
}
