package crypto

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/TheMichaelB/chaosvault/internal/models"
)

// ManifestTag authenticates a serialized folder manifest with HMAC-SHA256
// under a sub-key of the vault master key.
func ManifestTag(masterKey, manifest []byte) ([]byte, error) {
	if err := ValidateKeySize(masterKey); err != nil {
		return nil, err
	}

	key, err := deriveSubKey(masterKey, manifestKeyInfo)
	if err != nil {
		return nil, err
	}
	defer ClearBytes(key)

	mac := hmac.New(sha256.New, key)
	mac.Write(manifest)
	return mac.Sum(nil), nil
}

// VerifyManifestTag fails with ErrIntegrityCheckFailed unless tag was made
// by ManifestTag for the same key and bytes.
func VerifyManifestTag(masterKey, manifest, tag []byte) error {
	expected, err := ManifestTag(masterKey, manifest)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, tag) {
		return models.ErrIntegrityCheckFailed
	}
	return nil
}
