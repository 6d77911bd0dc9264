package client

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/TheMichaelB/chaosvault/internal/config"
	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/entropy"
	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/factor"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/services/transform"
	"github.com/TheMichaelB/chaosvault/internal/services/vaults"
	"github.com/TheMichaelB/chaosvault/internal/state"
	"github.com/TheMichaelB/chaosvault/internal/vault"
)

// ErrNoMedium is returned when no vault medium path is configured.
var ErrNoMedium = errors.New("no vault medium configured")

// Client provides the high-level API for chaosvault operations.
type Client struct {
	Vaults *vaults.Service

	config  *config.Config
	logger  *events.Logger
	store   *vault.Store
	engine  *transform.Engine
	factors factor.Provider
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	sources []entropy.Source
	factors factor.Provider
}

// WithEntropySources replaces the built-in entropy sources.
func WithEntropySources(sources ...entropy.Source) Option {
	return func(o *clientOptions) { o.sources = sources }
}

// WithFactorProvider sets the secondary factor provider. Without one every
// operation uses the None factor.
func WithFactorProvider(p factor.Provider) Option {
	return func(o *clientOptions) { o.factors = p }
}

// New creates a new chaosvault client. cfg is used as given; the loader
// is responsible for validation.
func New(cfg *config.Config, logger *events.Logger, opts ...Option) (*Client, error) {
	o := clientOptions{sources: entropy.DefaultSources()}
	for _, opt := range opts {
		opt(&o)
	}

	provider := crypto.NewProvider()
	store := vault.NewStore(cfg.Vault.DirName, provider, logger)

	collector := entropy.NewCollector(entropy.Options{
		Window:        cfg.Entropy.Window,
		Interval:      cfg.Entropy.Interval,
		MinBytes:      cfg.Entropy.MinBytes,
		MaxExtension:  cfg.Entropy.MaxExtension,
		ExtensionStep: cfg.Entropy.ExtensionStep,
	}, logger, o.sources...)

	vaultsService := vaults.NewService(store, collector, vaults.Config{
		Iterations:       cfg.Vault.Iterations,
		MediumRetries:    cfg.Transform.MediumRetries,
		MediumRetryDelay: cfg.Transform.MediumRetryDelay,
	}, logger)

	return &Client{
		Vaults:  vaultsService,
		config:  cfg,
		logger:  logger,
		store:   store,
		engine:  transform.NewEngine(provider, transform.OptionsFromConfig(cfg.Transform), logger),
		factors: o.factors,
	}, nil
}

// Config returns the active configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// Engine exposes the transform engine for progress polling and cancellation.
func (c *Client) Engine() *transform.Engine {
	return c.engine
}

// SetFactorProvider replaces the secondary factor provider.
func (c *Client) SetFactorProvider(p factor.Provider) {
	c.factors = p
}

func (c *Client) medium() (string, error) {
	if c.config.Vault.Path == "" {
		return "", ErrNoMedium
	}
	return c.config.Vault.Path, nil
}

// resolveFactor queries the provider exactly once for this operation.
func (c *Client) resolveFactor(ctx context.Context) (models.SecondaryFactor, error) {
	return factor.Resolve(ctx, c.factors, c.config.Factor.Timeout)
}

// CreateVault creates a new vault on the configured medium.
func (c *Client) CreateVault(ctx context.Context) (*vaults.CreateResult, error) {
	root, err := c.medium()
	if err != nil {
		return nil, err
	}

	f, err := c.resolveFactor(ctx)
	if err != nil {
		return nil, err
	}
	defer f.Wipe()

	return c.Vaults.Create(ctx, root, f)
}

// VerifyVault checks the vault on the configured medium.
func (c *Client) VerifyVault(ctx context.Context) (*vaults.Report, error) {
	root, err := c.medium()
	if err != nil {
		return nil, err
	}
	return c.Vaults.Verify(ctx, root)
}

// LockFolder locks source with the configured vault.
func (c *Client) LockFolder(ctx context.Context, source string, sink transform.ProgressSink) (*transform.Result, error) {
	var res *transform.Result
	err := c.withVault(ctx, func(v *vault.Vault, svc *transform.Service) error {
		var err error
		res, err = svc.Lock(ctx, v, source, sink)
		return err
	})
	return res, err
}

// UnlockFolder restores a locked folder with the configured vault.
func (c *Client) UnlockFolder(ctx context.Context, lockedPath string, sink transform.ProgressSink) (*transform.Result, error) {
	var res *transform.Result
	err := c.withVault(ctx, func(v *vault.Vault, svc *transform.Service) error {
		var err error
		res, err = svc.Unlock(ctx, v, lockedPath, sink)
		return err
	})
	return res, err
}

// withVault unlocks the vault, opens its registry and runs fn. The master
// key is wiped when fn returns.
func (c *Client) withVault(ctx context.Context, fn func(*vault.Vault, *transform.Service) error) error {
	root, err := c.medium()
	if err != nil {
		return err
	}

	f, err := c.resolveFactor(ctx)
	if err != nil {
		return err
	}
	defer f.Wipe()

	v, err := c.Vaults.Unlock(ctx, root, f)
	if err != nil {
		return err
	}
	defer v.Close()

	registry := c.openRegistry(v.Dir)
	if registry != nil {
		defer registry.Close()
	}

	return fn(v, transform.NewService(c.engine, registry, c.logger))
}

// Recover repairs interrupted transforms below dir. The vault does not need
// to be unlocked; the registry is updated when the medium is present.
func (c *Client) Recover(ctx context.Context, dir string) ([]transform.Recovery, error) {
	var registry state.Store
	if root, err := c.medium(); err == nil {
		if vaultDir, err := vault.Locate(root, c.store.DirName()); err == nil {
			registry = c.openRegistry(vaultDir)
		}
	}
	if registry != nil {
		defer registry.Close()
	}

	return transform.NewService(c.engine, registry, c.logger).Recover(ctx, dir)
}

// ListLocked returns registry entries for the configured vault.
func (c *Client) ListLocked(ctx context.Context) ([]*models.LockedFolderEntry, error) {
	var entries []*models.LockedFolderEntry
	err := c.withRegistry(ctx, func(vaultID string, registry state.Store) error {
		var err error
		entries, err = registry.List(vaultID)
		return err
	})
	return entries, err
}

// PruneRegistry drops locked entries whose locked folder no longer exists.
// With dryRun set the stale entries are only reported.
func (c *Client) PruneRegistry(ctx context.Context, dryRun bool) ([]*models.LockedFolderEntry, error) {
	var stale []*models.LockedFolderEntry
	err := c.withRegistry(ctx, func(vaultID string, registry state.Store) error {
		entries, err := registry.List(vaultID)
		if err != nil {
			return err
		}

		for _, e := range entries {
			if !e.IsLocked() {
				continue
			}
			if _, err := os.Lstat(e.LockedPath); !errors.Is(err, os.ErrNotExist) {
				continue
			}
			stale = append(stale, e)
		}

		if dryRun {
			return nil
		}

		for _, e := range stale {
			if err := registry.Delete(e.ID); err != nil {
				return fmt.Errorf("delete registry entry %s: %w", e.ID, err)
			}
		}

		if len(stale) > 0 {
			c.logger.WithField("removed", len(stale)).Info("Pruned registry")
		}
		return nil
	})
	return stale, err
}

func (c *Client) withRegistry(ctx context.Context, fn func(string, state.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	root, err := c.medium()
	if err != nil {
		return err
	}

	rec, err := c.store.Open(root)
	if err != nil {
		return err
	}

	dir, err := vault.Locate(root, c.store.DirName())
	if err != nil {
		return err
	}

	registry, err := state.Open(c.config.Registry.Backend, c.config.Registry.Path, dir, c.logger)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer registry.Close()

	return fn(rec.Metadata.VaultID, registry)
}

// openRegistry opens the configured registry. Failures are logged and
// yield nil so transforms proceed without a registry.
func (c *Client) openRegistry(vaultDir string) state.Store {
	registry, err := state.Open(c.config.Registry.Backend, c.config.Registry.Path, vaultDir, c.logger)
	if err != nil {
		c.logger.WithError(err).Warn("Registry unavailable, continuing without it")
		return nil
	}
	return registry
}
