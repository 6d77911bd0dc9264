package factor

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/TheMichaelB/chaosvault/internal/models"
)

// DefaultKeyringService is the OS keyring service name.
const DefaultKeyringService = "chaosvault"

// KeyringProvider returns a token id stored in the OS keyring for one vault.
// It stands in for a physical token reader on hosts without one.
type KeyringProvider struct {
	Service string
	VaultID string
}

// NewKeyringProvider creates a provider for the given vault.
func NewKeyringProvider(service, vaultID string) *KeyringProvider {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringProvider{Service: service, VaultID: vaultID}
}

func (p *KeyringProvider) Kind() models.FactorKind { return models.FactorToken }

func (p *KeyringProvider) Factor(ctx context.Context) (models.SecondaryFactor, error) {
	id, err := keyring.Get(p.Service, p.VaultID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return models.SecondaryFactor{}, fmt.Errorf("%w: no token stored for vault %s", ErrFactorUnavailable, p.VaultID)
		}
		return models.SecondaryFactor{}, fmt.Errorf("read keyring: %w", err)
	}
	return models.NewTokenID([]byte(id)), nil
}

// SaveToken stores a token id for a vault.
func SaveToken(service, vaultID, tokenID string) error {
	if tokenID == "" {
		return fmt.Errorf("token id must not be empty")
	}
	if err := keyring.Set(service, vaultID, tokenID); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

// DeleteToken removes the stored token id for a vault.
func DeleteToken(service, vaultID string) error {
	if err := keyring.Delete(service, vaultID); err != nil {
		return fmt.Errorf("delete keyring entry: %w", err)
	}
	return nil
}

// HasToken reports whether a token id is stored for a vault.
func HasToken(service, vaultID string) bool {
	_, err := keyring.Get(service, vaultID)
	return err == nil
}
