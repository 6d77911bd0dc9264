package crypto

import (
	"errors"
	"sync"

	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

const (
	// Key sizes
	KeySize  = 32 // AES-256, HMAC-SHA256 and BLAKE2b-256
	SaltSize = 32
	IVSize   = 16
	TagSize  = 32

	// DefaultIterations is the PBKDF2 round count for new vaults.
	DefaultIterations = 100000
)

// Errors
var (
	ErrInvalidKey = errors.New("invalid key size")
)

// CryptoProvider handles all cryptographic operations. It caches one
// substitution table per alphabet.
type CryptoProvider struct {
	mu    sync.Mutex
	cache map[alphabet.Alphabet]*alphabet.Substitution
}

// NewProvider creates a crypto provider.
func NewProvider() Provider {
	return &CryptoProvider{
		cache: make(map[alphabet.Alphabet]*alphabet.Substitution),
	}
}

// DeriveMasterKey implements Provider.
func (p *CryptoProvider) DeriveMasterKey(a alphabet.Alphabet, factor models.SecondaryFactor, salt []byte, iterations int) ([]byte, error) {
	return DeriveMasterKey(a, factor, salt, iterations)
}

// DeriveFileKey implements Provider.
func (p *CryptoProvider) DeriveFileKey(masterKey []byte, fc FileContext) ([]byte, error) {
	return DeriveFileKey(masterKey, fc)
}

// LockFile implements Provider.
func (p *CryptoProvider) LockFile(plaintext, fileKey []byte, a alphabet.Alphabet, fc FileContext) (*models.LockedFile, error) {
	return LockFile(plaintext, fileKey, p.substitution(a), fc)
}

// UnlockFile implements Provider.
func (p *CryptoProvider) UnlockFile(lf *models.LockedFile, fileKey []byte, a alphabet.Alphabet) ([]byte, error) {
	return UnlockFile(lf, fileKey, p.substitution(a))
}

func (p *CryptoProvider) substitution(a alphabet.Alphabet) *alphabet.Substitution {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, ok := p.cache[a]; ok {
		return sub
	}
	sub := alphabet.NewSubstitution(a)
	p.cache[a] = sub
	return sub
}
