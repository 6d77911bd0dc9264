package alphabet

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/sha3"
)

const substitutionDomain = "chaosvault-substitution-v1"

// Substitution is a byte-level permutation seeded by an alphabet.
// Every vault alphabet yields a different table.
type Substitution struct {
	forward [256]byte
	inverse [256]byte
}

// NewSubstitution builds the permutation with a Fisher-Yates shuffle driven
// by a SHAKE-256 stream over the alphabet.
func NewSubstitution(a Alphabet) *Substitution {
	xof := sha3.NewShake256()
	_, _ = xof.Write([]byte(substitutionDomain))
	_, _ = xof.Write(a[:])

	s := &Substitution{}
	for i := range s.forward {
		s.forward[i] = byte(i)
	}

	for i := len(s.forward) - 1; i > 0; i-- {
		j := uniformIndex(xof, i+1)
		s.forward[i], s.forward[j] = s.forward[j], s.forward[i]
	}

	for i, v := range s.forward {
		s.inverse[v] = byte(i)
	}

	return s
}

// uniformIndex returns a value in [0, n) without modulo bias.
func uniformIndex(r io.Reader, n int) int {
	limit := 65536 - 65536%n
	var b [2]byte
	for {
		_, _ = io.ReadFull(r, b[:])
		v := int(binary.BigEndian.Uint16(b[:]))
		if v < limit {
			return v % n
		}
	}
}

// Apply substitutes src into dst. dst and src may be the same slice.
func (s *Substitution) Apply(dst, src []byte) {
	for i, b := range src {
		dst[i] = s.forward[b]
	}
}

// Invert reverses Apply. dst and src may be the same slice.
func (s *Substitution) Invert(dst, src []byte) {
	for i, b := range src {
		dst[i] = s.inverse[b]
	}
}
