package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

// Vault is an opened and unlocked vault. It is passed explicitly into every
// folder operation and must be closed to wipe the master key.
type Vault struct {
	ID       string
	Root     string // medium root
	Dir      string // reserved vault directory
	Alphabet alphabet.Alphabet
	Record   *models.VaultRecord

	masterKey []byte
}

// MasterKey returns the derived master key. It is nil after Close.
func (v *Vault) MasterKey() []byte {
	return v.masterKey
}

// Iterations returns the PBKDF2 round count recorded for the vault.
func (v *Vault) Iterations() int {
	return v.Record.Config.Iterations
}

// Close wipes the master key.
func (v *Vault) Close() {
	crypto.ClearBytes(v.masterKey)
	v.masterKey = nil
}

// Locate resolves the vault directory on a medium. path may be the medium
// root or the vault directory itself.
func Locate(path, dirName string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve medium path: %w", err)
	}

	candidates := []string{filepath.Join(abs, dirName)}
	if filepath.Base(abs) == dirName {
		candidates = append([]string{abs}, candidates...)
	}

	for _, dir := range candidates {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			return dir, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %v", models.ErrVaultUnavailable, err)
		}
	}

	return "", fmt.Errorf("%w: no %s under %s", models.ErrVaultNotFound, dirName, abs)
}
