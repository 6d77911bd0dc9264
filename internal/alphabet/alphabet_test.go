package alphabet_test

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

func TestDeriveUniqueness(t *testing.T) {
	// Synthetic samples: random, tiny, low-entropy and highly repetitive.
	samples := make([][]byte, 0, 1100)
	for i := 0; i < 1000; i++ {
		s := make([]byte, 256)
		_, err := rand.Read(s)
		require.NoError(t, err)
		samples = append(samples, s)
	}
	for i := 0; i < 100; i++ {
		s := make([]byte, 8)
		binary.BigEndian.PutUint64(s, uint64(i))
		samples = append(samples, s)
	}
	samples = append(samples, []byte{0}, make([]byte, 4096), []byte(strings.Repeat("a", 300)))

	for i, sample := range samples {
		a, err := alphabet.Derive(sample)
		require.NoError(t, err, "sample %d", i)
		require.NoError(t, a.Validate(), "sample %d", i)

		seen := make(map[byte]bool, alphabet.Size)
		for _, sym := range a {
			assert.False(t, seen[sym], "duplicate symbol %q in sample %d", sym, i)
			seen[sym] = true
		}
		assert.Len(t, seen, alphabet.Size)
	}
}

func TestDeriveDeterministic(t *testing.T) {
	sample := []byte(strings.Repeat("jitter", 64))

	a1, err := alphabet.Derive(sample)
	require.NoError(t, err)
	a2, err := alphabet.Derive(sample)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	other := append([]byte(nil), sample...)
	other[0] ^= 0x01
	a3, err := alphabet.Derive(other)
	require.NoError(t, err)
	assert.NotEqual(t, a1, a3)
}

func TestDeriveFailures(t *testing.T) {
	t.Run("empty sample", func(t *testing.T) {
		_, err := alphabet.Derive(nil)
		assert.ErrorIs(t, err, models.ErrAlphabetDerivationFailed)
	})

	t.Run("stream bound too small", func(t *testing.T) {
		_, err := alphabet.DeriveWithLimit([]byte("sample"), 32)
		assert.ErrorIs(t, err, models.ErrAlphabetDerivationFailed)
	})
}

func TestParse(t *testing.T) {
	a, err := alphabet.Derive([]byte("parse round trip"))
	require.NoError(t, err)

	parsed, err := alphabet.Parse(string(a.FileContent()))
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
	assert.True(t, strings.HasSuffix(string(a.FileContent()), "\n"))

	tests := []struct {
		name string
		text string
	}{
		{"too short", "abc\n"},
		{"duplicate symbol", strings.Repeat("A", 64)},
		{"non printable", " " + a.String()[1:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := alphabet.Parse(tt.text)
			assert.ErrorIs(t, err, alphabet.ErrInvalidAlphabet)
		})
	}
}

func TestFromBytes(t *testing.T) {
	a, err := alphabet.Derive([]byte("from bytes"))
	require.NoError(t, err)

	b, err := alphabet.FromBytes(a.Bytes())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = alphabet.FromBytes(a.Bytes()[:10])
	assert.ErrorIs(t, err, alphabet.ErrInvalidAlphabet)
}

func TestSubstitution(t *testing.T) {
	a1, err := alphabet.Derive([]byte("vault one"))
	require.NoError(t, err)
	a2, err := alphabet.Derive([]byte("vault two"))
	require.NoError(t, err)

	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}

	s1 := alphabet.NewSubstitution(a1)
	s2 := alphabet.NewSubstitution(a2)

	t.Run("bijection", func(t *testing.T) {
		out := make([]byte, 256)
		s1.Apply(out, all)

		seen := make(map[byte]bool)
		for _, b := range out {
			seen[b] = true
		}
		assert.Len(t, seen, 256)

		back := make([]byte, 256)
		s1.Invert(back, out)
		assert.Equal(t, all, back)
	})

	t.Run("in place", func(t *testing.T) {
		buf := []byte("in place substitution")
		orig := append([]byte(nil), buf...)
		s1.Apply(buf, buf)
		assert.NotEqual(t, orig, buf)
		s1.Invert(buf, buf)
		assert.Equal(t, orig, buf)
	})

	t.Run("alphabet bound", func(t *testing.T) {
		out1 := make([]byte, 256)
		out2 := make([]byte, 256)
		s1.Apply(out1, all)
		s2.Apply(out2, all)
		assert.NotEqual(t, out1, out2)

		again := make([]byte, 256)
		alphabet.NewSubstitution(a1).Apply(again, all)
		assert.Equal(t, out1, again)
	})
}
