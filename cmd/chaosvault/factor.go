package main

import (
	"fmt"

	"github.com/TheMichaelB/chaosvault/internal/factor"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

// providerFor picks the factor source for an existing vault. A passphrase
// comes from CHAOSVAULT_PASSPHRASE when set and from the terminal otherwise.
// A token id comes from the OS keyring.
func providerFor(kind models.FactorKind, vaultID string) factor.Provider {
	switch kind {
	case models.FactorPassphrase:
		if env := factor.NewEnvProvider(); env.Available() {
			return env
		}
		return factor.NewPromptProvider(false)
	case models.FactorToken:
		return factor.NewKeyringProvider(cfg.Factor.KeyringService, vaultID)
	default:
		return factor.None{}
	}
}

// useVaultFactor configures the client with the provider the vault on the
// configured medium expects.
func useVaultFactor() error {
	if cfg.Vault.Path == "" {
		return nil
	}
	kind, vaultID, err := apiClient.Vaults.RequiredFactor(cfg.Vault.Path)
	if err != nil {
		return err
	}
	if kind == models.FactorToken && !factor.HasToken(cfg.Factor.KeyringService, vaultID) {
		return fmt.Errorf("no token id stored for vault %s; run 'chaosvault token set <token-id>'", vaultID)
	}
	apiClient.SetFactorProvider(providerFor(kind, vaultID))
	return nil
}
