package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. CHAOSVAULT_LOG_LEVEL.
const EnvPrefix = "CHAOSVAULT"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	used       string
}

// NewLoader creates a config loader. An empty path searches the default locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  EnvPrefix,
	}
}

// Load reads configuration from defaults, file and environment, in that order.
func (l *Loader) Load() (*Config, error) {
	v := newViper(l.envPrefix)

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		v.SetConfigName("chaosvault")
		for _, dir := range l.defaultPaths() {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		}
	}
	l.used = v.ConfigFileUsed()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFileUsed returns the file the last Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.used
}

// defaultPaths returns directories searched for chaosvault.{json,yaml,toml}.
func (l *Loader) defaultPaths() []string {
	paths := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "chaosvault"),
			homeDir,
		)
	}

	return paths
}

func newViper(envPrefix string) *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("vault.path", d.Vault.Path)
	v.SetDefault("vault.dir_name", d.Vault.DirName)
	v.SetDefault("vault.iterations", d.Vault.Iterations)

	v.SetDefault("entropy.window", d.Entropy.Window.String())
	v.SetDefault("entropy.interval", d.Entropy.Interval.String())
	v.SetDefault("entropy.min_bytes", d.Entropy.MinBytes)
	v.SetDefault("entropy.max_extension", d.Entropy.MaxExtension.String())
	v.SetDefault("entropy.extension_step", d.Entropy.ExtensionStep.String())

	v.SetDefault("transform.workers", d.Transform.Workers)
	v.SetDefault("transform.compress", d.Transform.Compress)
	v.SetDefault("transform.verify_hashes", d.Transform.VerifyHashes)
	v.SetDefault("transform.hide_from_index", d.Transform.HideFromIndex)
	v.SetDefault("transform.medium_retries", d.Transform.MediumRetries)
	v.SetDefault("transform.medium_retry_delay", d.Transform.MediumRetryDelay.String())
	v.SetDefault("transform.max_file_size", d.Transform.MaxFileSize)

	v.SetDefault("factor.timeout", d.Factor.Timeout.String())
	v.SetDefault("factor.keyring_service", d.Factor.KeyringService)

	v.SetDefault("registry.backend", d.Registry.Backend)
	v.SetDefault("registry.path", d.Registry.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.color", d.Log.Color)
}

// SaveExample writes an example config file. The extension picks the format.
func SaveExample(path string) error {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("chmod config: %w", err)
	}

	return nil
}
