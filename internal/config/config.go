package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Vault layout and key derivation
	Vault VaultConfig `json:"vault" mapstructure:"vault"`

	// Entropy collection for new vaults
	Entropy EntropyConfig `json:"entropy" mapstructure:"entropy"`

	// Folder lock/unlock behavior
	Transform TransformConfig `json:"transform" mapstructure:"transform"`

	// Secondary factor resolution
	Factor FactorConfig `json:"factor" mapstructure:"factor"`

	// Locked-folder registry
	Registry RegistryConfig `json:"registry" mapstructure:"registry"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// VaultConfig for the on-media vault.
type VaultConfig struct {
	Path       string `json:"path" mapstructure:"path"`             // Medium root holding the vault
	DirName    string `json:"dir_name" mapstructure:"dir_name"`     // Reserved vault directory name
	Iterations int    `json:"iterations" mapstructure:"iterations"` // PBKDF2 rounds for new vaults
}

// EntropyConfig for the entropy collector.
type EntropyConfig struct {
	Window        time.Duration `json:"window" mapstructure:"window"`
	Interval      time.Duration `json:"interval" mapstructure:"interval"`
	MinBytes      int           `json:"min_bytes" mapstructure:"min_bytes"`
	MaxExtension  time.Duration `json:"max_extension" mapstructure:"max_extension"`
	ExtensionStep time.Duration `json:"extension_step" mapstructure:"extension_step"`
}

// TransformConfig for folder transforms.
type TransformConfig struct {
	Workers          int           `json:"workers" mapstructure:"workers"`
	Compress         bool          `json:"compress" mapstructure:"compress"`
	VerifyHashes     bool          `json:"verify_hashes" mapstructure:"verify_hashes"`
	HideFromIndex    bool          `json:"hide_from_index" mapstructure:"hide_from_index"`
	MediumRetries    int           `json:"medium_retries" mapstructure:"medium_retries"`
	MediumRetryDelay time.Duration `json:"medium_retry_delay" mapstructure:"medium_retry_delay"`
	MaxFileSize      int64         `json:"max_file_size" mapstructure:"max_file_size"`
}

// FactorConfig for secondary factor providers.
type FactorConfig struct {
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
	KeyringService string        `json:"keyring_service" mapstructure:"keyring_service"`
}

// RegistryConfig for the locked-folder registry.
type RegistryConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // sqlite, bolt, json, none
	Path    string `json:"path" mapstructure:"path"`       // empty = inside the vault directory
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stderr)
	Color  bool   `json:"color" mapstructure:"color"`   // Enable colored level tags
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Vault: VaultConfig{
			Path:       "",
			DirName:    ".chaos_vault",
			Iterations: 100000,
		},
		Entropy: EntropyConfig{
			Window:        30 * time.Second,
			Interval:      250 * time.Millisecond,
			MinBytes:      256,
			MaxExtension:  10 * time.Second,
			ExtensionStep: time.Second,
		},
		Transform: TransformConfig{
			Workers:          4,
			Compress:         true,
			VerifyHashes:     false,
			HideFromIndex:    true,
			MediumRetries:    3,
			MediumRetryDelay: 100 * time.Millisecond,
			MaxFileSize:      4 * 1024 * 1024 * 1024, // 4GB
		},
		Factor: FactorConfig{
			Timeout:        60 * time.Second,
			KeyringService: "chaosvault",
		},
		Registry: RegistryConfig{
			Backend: "sqlite",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Vault.DirName == "" || filepath.Base(c.Vault.DirName) != c.Vault.DirName {
		return errors.New("vault.dir_name must be a plain directory name")
	}

	if c.Vault.Iterations < 10000 {
		return errors.New("vault.iterations must be at least 10000")
	}

	if c.Entropy.Window <= 0 || c.Entropy.Interval <= 0 {
		return errors.New("entropy.window and entropy.interval must be positive")
	}

	if c.Entropy.Interval >= time.Second {
		return errors.New("entropy.interval must be sub-second")
	}

	if c.Entropy.MinBytes < 256 {
		return errors.New("entropy.min_bytes must be at least 256")
	}

	if c.Entropy.MaxExtension < 0 || c.Entropy.MaxExtension > 10*time.Second {
		return errors.New("entropy.max_extension must be between 0 and 10s")
	}

	if c.Transform.Workers <= 0 || c.Transform.Workers > 256 {
		return errors.New("transform.workers must be between 1 and 256")
	}

	if c.Transform.MediumRetries < 0 {
		return errors.New("transform.medium_retries must not be negative")
	}

	if c.Transform.MaxFileSize <= 0 {
		return errors.New("transform.max_file_size must be positive")
	}

	if c.Factor.Timeout <= 0 {
		return errors.New("factor.timeout must be positive")
	}

	validBackends := map[string]bool{"sqlite": true, "bolt": true, "json": true, "none": true}
	if !validBackends[c.Registry.Backend] {
		return fmt.Errorf("invalid registry backend: %s", c.Registry.Backend)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	var dirs []string

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	if c.Registry.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Registry.Path))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
