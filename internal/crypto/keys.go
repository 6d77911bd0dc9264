package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

const (
	fileKeyDomain   = "chaosvault-file-key-v1\x00"
	tagKeyInfo      = "chaosvault-tag-v1"
	manifestKeyInfo = "chaosvault-manifest-v1"
)

// FileContext binds a file key to where the file lives and how long it is.
type FileContext struct {
	Path          string // relative, slash separated
	ContentLength int64
}

func (fc FileContext) bytes() []byte {
	out := make([]byte, 0, len(fileKeyDomain)+len(fc.Path)+1+8)
	out = append(out, fileKeyDomain...)
	out = append(out, fc.Path...)
	out = append(out, 0)
	return binary.BigEndian.AppendUint64(out, uint64(fc.ContentLength))
}

// DeriveMasterKey computes PBKDF2-HMAC-SHA256(alphabet || factor, salt).
func DeriveMasterKey(a alphabet.Alphabet, factor models.SecondaryFactor, salt []byte, iterations int) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	if iterations <= 0 {
		return nil, fmt.Errorf("iterations must be positive")
	}

	factorBytes := factor.Bytes()
	secret := make([]byte, 0, alphabet.Size+len(factorBytes))
	secret = append(secret, a.Bytes()...)
	secret = append(secret, factorBytes...)
	defer ClearBytes(secret)

	return pbkdf2.Key(secret, salt, iterations, KeySize, sha256.New), nil
}

// DeriveFileKey computes keyed BLAKE2b-256 over the file context.
func DeriveFileKey(masterKey []byte, fc FileContext) ([]byte, error) {
	if err := ValidateKeySize(masterKey); err != nil {
		return nil, err
	}
	if fc.ContentLength < 0 {
		return nil, fmt.Errorf("negative content length")
	}

	h, err := blake2b.New256(masterKey)
	if err != nil {
		return nil, fmt.Errorf("create keyed hash: %w", err)
	}
	h.Write(fc.bytes())
	return h.Sum(nil), nil
}

// deriveTagKey expands a separate HMAC key from an encryption key.
func deriveTagKey(key []byte) ([]byte, error) {
	return deriveSubKey(key, tagKeyInfo)
}

func deriveSubKey(key []byte, info string) ([]byte, error) {
	sub := make([]byte, KeySize)
	r := hkdf.New(sha256.New, key, nil, []byte(info))
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return sub, nil
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}

// ValidateKeySize checks for a 256-bit key.
func ValidateKeySize(key []byte) error {
	if len(key) != KeySize {
		return ErrInvalidKey
	}
	return nil
}

// ClearBytes zeroes key material.
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
