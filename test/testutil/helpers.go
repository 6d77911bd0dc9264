package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/config"
	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/vault"
)

// Iterations keeps key derivation fast in tests.
const Iterations = 1000

// TestTimeout provides timeout context for tests.
func TestTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

// TestContext creates a test context with reasonable timeout.
func TestContext() (context.Context, context.CancelFunc) {
	return TestTimeout(30 * time.Second)
}

// TestConfigWithDir creates a test configuration rooted at mediumRoot.
func TestConfigWithDir(mediumRoot string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Vault.Path = mediumRoot
	cfg.Vault.Iterations = Iterations
	cfg.Entropy = config.EntropyConfig{
		Window:        40 * time.Millisecond,
		Interval:      5 * time.Millisecond,
		MinBytes:      64,
		MaxExtension:  100 * time.Millisecond,
		ExtensionStep: 20 * time.Millisecond,
	}
	cfg.Transform.Workers = 2
	cfg.Transform.MediumRetryDelay = time.Millisecond
	cfg.Factor.Timeout = 5 * time.Second
	cfg.Log = config.LogConfig{Level: "debug", Format: "json"}
	return cfg
}

// NewVault creates a vault under a fresh temp medium and unlocks it. The
// alphabet is derived from seed so runs are reproducible.
func NewVault(t testing.TB, seed string, factor models.SecondaryFactor) *vault.Vault {
	t.Helper()

	a, err := alphabet.Derive([]byte(seed))
	require.NoError(t, err)

	root := t.TempDir()
	store := vault.NewStore(vault.DefaultDirName, crypto.NewProvider(), NewTestLogger())

	_, err = store.Create(context.Background(), root, a, factor, Iterations)
	require.NoError(t, err)

	v, err := store.Unlock(context.Background(), root, factor)
	require.NoError(t, err)
	t.Cleanup(v.Close)

	return v
}

// AssertNoEntry checks that path does not exist.
func AssertNoEntry(t testing.TB, path string) {
	t.Helper()
	matches, err := filepath.Glob(path)
	require.NoError(t, err)
	assert.Empty(t, matches, "expected no entry at %s", path)
}

// WaitForCondition waits for a condition to be true with timeout.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// SkipIfShort skips test if testing.Short() is true.
func SkipIfShort(t *testing.T, reason string) {
	if testing.Short() {
		t.Skipf("Skipping test in short mode: %s", reason)
	}
}
