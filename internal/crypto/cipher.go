package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

// Seal encrypts plaintext with AES-256-CBC under key and a fresh IV, then
// tags IV || ciphertext with HMAC-SHA256 under a key expanded from key.
func Seal(plaintext, key []byte) (iv, ciphertext, tag []byte, err error) {
	if err := ValidateKeySize(key); err != nil {
		return nil, nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create cipher: %w", err)
	}

	iv, err = RandomBytes(IVSize)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generate iv: %w", err)
	}

	ciphertext = pkcs7Pad(plaintext, aes.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, ciphertext)

	tag, err = computeTag(key, iv, ciphertext)
	if err != nil {
		return nil, nil, nil, err
	}

	return iv, ciphertext, tag, nil
}

// Open verifies the tag and only then decrypts. A tag mismatch is
// ErrIntegrityCheckFailed; bad padding behind a valid tag is ErrDecryptionFailed.
func Open(iv, ciphertext, tag, key []byte) ([]byte, error) {
	if err := ValidateKeySize(key); err != nil {
		return nil, err
	}
	if len(iv) != IVSize || len(tag) != TagSize {
		return nil, fmt.Errorf("%w: malformed envelope", models.ErrIntegrityCheckFailed)
	}

	expected, err := computeTag(key, iv, ciphertext)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(expected, tag) {
		return nil, models.ErrIntegrityCheckFailed
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not block aligned", models.ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		ClearBytes(plaintext)
		return nil, err
	}
	return unpadded, nil
}

// LockFile applies the substitution layer, then the authenticated layer.
func LockFile(plaintext, fileKey []byte, sub *alphabet.Substitution, fc FileContext) (*models.LockedFile, error) {
	substituted := make([]byte, len(plaintext))
	sub.Apply(substituted, plaintext)
	defer ClearBytes(substituted)

	iv, ct, tag, err := Seal(substituted, fileKey)
	if err != nil {
		return nil, err
	}

	return &models.LockedFile{
		Path:          fc.Path,
		ContentLength: fc.ContentLength,
		IV:            iv,
		Ciphertext:    ct,
		Tag:           tag,
	}, nil
}

// UnlockFile is the exact inverse of LockFile.
func UnlockFile(lf *models.LockedFile, fileKey []byte, sub *alphabet.Substitution) ([]byte, error) {
	substituted, err := Open(lf.IV, lf.Ciphertext, lf.Tag, fileKey)
	if err != nil {
		return nil, err
	}

	sub.Invert(substituted, substituted)
	return substituted, nil
}

func computeTag(key, iv, ciphertext []byte) ([]byte, error) {
	tagKey, err := deriveTagKey(key)
	if err != nil {
		return nil, err
	}
	defer ClearBytes(tagKey)

	mac := hmac.New(sha256.New, tagKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	return mac.Sum(nil), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+padLen)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length", models.ErrDecryptionFailed)
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, fmt.Errorf("%w: invalid padding", models.ErrDecryptionFailed)
	}

	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("%w: invalid padding", models.ErrDecryptionFailed)
		}
	}

	return data[:len(data)-padLen], nil
}
