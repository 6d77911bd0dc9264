// Package alphabet derives and persists the per-vault chaos alphabet.
//
// A chaos alphabet is 64 distinct printable ASCII symbols chosen from a
// hash-stretched entropy sample. The symbol order is the selection order,
// so the same sample always yields the same alphabet.
package alphabet

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/TheMichaelB/chaosvault/internal/models"
)

const (
	// Size is the number of symbols in an alphabet.
	Size = 64

	// DefaultMaxStream bounds the pseudorandom stream consumed by Derive.
	DefaultMaxStream = 4096

	symbolBase  = 0x21 // '!'
	symbolRange = 94   // '!' through '~'

	deriveDomain = "chaosvault-alphabet-v1"
)

// ErrInvalidAlphabet is returned by Parse for malformed alphabet text.
var ErrInvalidAlphabet = errors.New("invalid alphabet")

// Alphabet is an ordered set of 64 distinct printable symbols.
type Alphabet [Size]byte

// Derive expands an entropy sample into an alphabet.
func Derive(sample []byte) (Alphabet, error) {
	return DeriveWithLimit(sample, DefaultMaxStream)
}

// DeriveWithLimit is Derive with an explicit stream bound in bytes.
func DeriveWithLimit(sample []byte, maxStream int) (Alphabet, error) {
	var a Alphabet
	if len(sample) == 0 {
		return a, fmt.Errorf("%w: empty sample", models.ErrAlphabetDerivationFailed)
	}

	xof := sha3.NewShake256()
	_, _ = xof.Write([]byte(deriveDomain))
	_, _ = xof.Write(sample)

	var seen [256]bool
	found := 0
	buf := make([]byte, 64)

	for consumed := 0; consumed < maxStream && found < Size; {
		chunk := buf
		if remaining := maxStream - consumed; remaining < len(chunk) {
			chunk = chunk[:remaining]
		}
		_, _ = xof.Read(chunk)
		consumed += len(chunk)

		for _, b := range chunk {
			// Reject the tail of the byte range so every symbol is equally likely.
			if int(b) >= 2*symbolRange {
				continue
			}
			sym := byte(symbolBase + int(b)%symbolRange)
			if seen[sym] {
				continue
			}
			seen[sym] = true
			a[found] = sym
			found++
			if found == Size {
				break
			}
		}
	}

	if found < Size {
		return Alphabet{}, fmt.Errorf("%w: %d unique symbols within %d stream bytes",
			models.ErrAlphabetDerivationFailed, found, maxStream)
	}

	return a, nil
}

// Parse reads the alphabet file format: 64 symbols and an optional trailing newline.
func Parse(text string) (Alphabet, error) {
	var a Alphabet

	text = strings.TrimSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\r")
	if len(text) != Size {
		return a, fmt.Errorf("%w: %d symbols", ErrInvalidAlphabet, len(text))
	}

	copy(a[:], text)
	if err := a.Validate(); err != nil {
		return Alphabet{}, err
	}
	return a, nil
}

// FromBytes copies a 64-byte slice into an Alphabet and validates it.
func FromBytes(b []byte) (Alphabet, error) {
	var a Alphabet
	if len(b) != Size {
		return a, fmt.Errorf("%w: %d symbols", ErrInvalidAlphabet, len(b))
	}
	copy(a[:], b)
	if err := a.Validate(); err != nil {
		return Alphabet{}, err
	}
	return a, nil
}

// Validate checks that every symbol is printable and unique.
func (a Alphabet) Validate() error {
	var seen [256]bool
	for i, sym := range a {
		if sym < symbolBase || int(sym) >= symbolBase+symbolRange {
			return fmt.Errorf("%w: symbol %d is not printable", ErrInvalidAlphabet, i)
		}
		if seen[sym] {
			return fmt.Errorf("%w: duplicate symbol %q", ErrInvalidAlphabet, sym)
		}
		seen[sym] = true
	}
	return nil
}

// Bytes returns a copy of the symbols.
func (a Alphabet) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, a[:])
	return b
}

// String returns the symbols as text.
func (a Alphabet) String() string {
	return string(a[:])
}

// FileContent returns the alphabet file body, newline-terminated.
func (a Alphabet) FileContent() []byte {
	return append(a.Bytes(), '\n')
}
