package crypto

import (
	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

// Provider defines the interface for cryptographic operations.
type Provider interface {
	// DeriveMasterKey stretches the alphabet and secondary factor into a vault master key.
	DeriveMasterKey(a alphabet.Alphabet, factor models.SecondaryFactor, salt []byte, iterations int) ([]byte, error)

	// DeriveFileKey derives the independent key for one file.
	DeriveFileKey(masterKey []byte, fc FileContext) ([]byte, error)

	// LockFile substitutes then encrypts one file payload.
	LockFile(plaintext, fileKey []byte, a alphabet.Alphabet, fc FileContext) (*models.LockedFile, error)

	// UnlockFile verifies, decrypts and inverts the substitution.
	UnlockFile(lf *models.LockedFile, fileKey []byte, a alphabet.Alphabet) ([]byte, error)
}
