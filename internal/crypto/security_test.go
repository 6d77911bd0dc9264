package crypto_test

import (
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

func TestSecurityRequirements(t *testing.T) {
	t.Run("key derivation uses sufficient iterations", func(t *testing.T) {
		assert.GreaterOrEqual(t, crypto.DefaultIterations, 100000)
	})

	t.Run("key size is 256 bits", func(t *testing.T) {
		assert.Equal(t, 32, crypto.KeySize)
	})

	t.Run("iv is random for each encryption", func(t *testing.T) {
		key := make([]byte, crypto.KeySize)
		_, err := rand.Read(key)
		require.NoError(t, err)

		plaintext := []byte("test message")

		iv1, ct1, _, err := crypto.Seal(plaintext, key)
		require.NoError(t, err)
		iv2, ct2, _, err := crypto.Seal(plaintext, key)
		require.NoError(t, err)

		assert.NotEqual(t, iv1, iv2)
		assert.NotEqual(t, ct1, ct2)
	})

	t.Run("ciphertext is block aligned", func(t *testing.T) {
		key := make([]byte, crypto.KeySize)
		for _, n := range []int{0, 1, 15, 16, 17} {
			_, ct, _, err := crypto.Seal(make([]byte, n), key)
			require.NoError(t, err)
			assert.Zero(t, len(ct)%16)
			assert.Greater(t, len(ct), n)
		}
	})
}

func TestTamperDetection(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	plaintext := []byte("sensitive data that spans blocks")
	iv, ct, tag, err := crypto.Seal(plaintext, key)
	require.NoError(t, err)

	flip := func(b []byte, bit int) []byte {
		out := append([]byte(nil), b...)
		out[bit/8] ^= 1 << (bit % 8)
		return out
	}

	t.Run("every ciphertext bit", func(t *testing.T) {
		for bit := 0; bit < len(ct)*8; bit++ {
			out, err := crypto.Open(iv, flip(ct, bit), tag, key)
			require.ErrorIs(t, err, models.ErrIntegrityCheckFailed, "bit %d", bit)
			require.Nil(t, out)
		}
	})

	t.Run("every tag bit", func(t *testing.T) {
		for bit := 0; bit < len(tag)*8; bit++ {
			_, err := crypto.Open(iv, ct, flip(tag, bit), key)
			require.ErrorIs(t, err, models.ErrIntegrityCheckFailed, "bit %d", bit)
		}
	})

	t.Run("every iv bit", func(t *testing.T) {
		for bit := 0; bit < len(iv)*8; bit++ {
			_, err := crypto.Open(flip(iv, bit), ct, tag, key)
			require.ErrorIs(t, err, models.ErrIntegrityCheckFailed, "bit %d", bit)
		}
	})

	t.Run("truncated ciphertext", func(t *testing.T) {
		_, err := crypto.Open(iv, ct[:len(ct)-16], tag, key)
		assert.ErrorIs(t, err, models.ErrIntegrityCheckFailed)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := make([]byte, crypto.KeySize)
		_, err := crypto.Open(iv, ct, tag, other)
		assert.ErrorIs(t, err, models.ErrIntegrityCheckFailed)
	})

	t.Run("untouched envelope opens", func(t *testing.T) {
		out, err := crypto.Open(iv, ct, tag, key)
		require.NoError(t, err)
		assert.Equal(t, plaintext, out)
	})
}

func TestEnvelopeTamper(t *testing.T) {
	master := make([]byte, crypto.KeySize)
	_, err := rand.Read(master)
	require.NoError(t, err)

	a := mustAlphabet(t, "envelope")
	provider := crypto.NewProvider()
	content := []byte("envelope content")
	fc := crypto.FileContext{Path: "docs/letter.txt", ContentLength: int64(len(content))}

	fileKey, err := provider.DeriveFileKey(master, fc)
	require.NoError(t, err)
	locked, err := provider.LockFile(content, fileKey, a, fc)
	require.NoError(t, err)
	encoded, err := crypto.MarshalLockedFile(locked)
	require.NoError(t, err)

	// unlock re-derives the key from the envelope's own context fields
	unlock := func(data []byte) error {
		lf, err := crypto.UnmarshalLockedFile(data)
		if err != nil {
			return err
		}
		key, err := provider.DeriveFileKey(master, crypto.FileContext{Path: lf.Path, ContentLength: lf.ContentLength})
		if err != nil {
			return err
		}
		_, err = provider.UnlockFile(lf, key, a)
		return err
	}

	require.NoError(t, unlock(encoded))

	pathStart := 4 + 1 + 2
	lengthStart := pathStart + len(fc.Path)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"renamed path", func(b []byte) []byte { b[pathStart] ^= 0x01; return b }},
		{"changed content length", func(b []byte) []byte {
			n := binary.BigEndian.Uint64(b[lengthStart:])
			binary.BigEndian.PutUint64(b[lengthStart:], n+1)
			return b
		}},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"future version", func(b []byte) []byte { b[4] = 9; return b }},
		{"truncated", func(b []byte) []byte { return b[:20] }},
		{"path length overflow", func(b []byte) []byte {
			binary.BigEndian.PutUint16(b[5:], 0xffff)
			return b
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), encoded...))
			assert.ErrorIs(t, unlock(data), models.ErrIntegrityCheckFailed)
		})
	}
}

func TestKeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		keySize int
		wantErr bool
	}{
		{"correct size", crypto.KeySize, false},
		{"too short", crypto.KeySize - 1, true},
		{"too long", crypto.KeySize + 1, true},
		{"zero size", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := make([]byte, tt.keySize)
			err := crypto.ValidateKeySize(key)
			if tt.wantErr {
				assert.ErrorIs(t, err, crypto.ErrInvalidKey)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClearBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	crypto.ClearBytes(b)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)
}
