package factor

import (
	"context"
	"fmt"
	"os"

	"github.com/TheMichaelB/chaosvault/internal/models"
)

// PassphraseEnv is read by EnvProvider.
const PassphraseEnv = "CHAOSVAULT_PASSPHRASE"

// EnvProvider reads a passphrase from the environment.
type EnvProvider struct {
	Var string
}

// NewEnvProvider reads CHAOSVAULT_PASSPHRASE.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{Var: PassphraseEnv}
}

// Available reports whether the variable is set and non-empty.
func (p *EnvProvider) Available() bool {
	return os.Getenv(p.Var) != ""
}

func (p *EnvProvider) Kind() models.FactorKind { return models.FactorPassphrase }

func (p *EnvProvider) Factor(ctx context.Context) (models.SecondaryFactor, error) {
	value := os.Getenv(p.Var)
	if value == "" {
		return models.SecondaryFactor{}, fmt.Errorf("%w: %s is not set", ErrFactorUnavailable, p.Var)
	}
	return models.NewPassphrase(value), nil
}
