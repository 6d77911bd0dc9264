package models

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FactorKind tags the secondary factor variant.
type FactorKind string

const (
	FactorNone       FactorKind = "none"
	FactorPassphrase FactorKind = "passphrase"
	FactorToken      FactorKind = "token"
)

// ParseFactorKind accepts the names used in config files and CLI flags.
func ParseFactorKind(s string) (FactorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FactorNone, nil
	case "passphrase", "passkey":
		return FactorPassphrase, nil
	case "token", "token_id", "tokenid":
		return FactorToken, nil
	default:
		return "", fmt.Errorf("unknown secondary factor kind: %q", s)
	}
}

// SecondaryFactor is the optional second input to master key derivation.
// The zero value is the None variant.
type SecondaryFactor struct {
	Kind  FactorKind
	value []byte
}

// NoFactor returns the None variant.
func NoFactor() SecondaryFactor {
	return SecondaryFactor{Kind: FactorNone}
}

// NewPassphrase builds a passphrase factor. The text is NFKC-normalized so
// that visually identical input typed on different keyboards derives the same key.
func NewPassphrase(passphrase string) SecondaryFactor {
	return SecondaryFactor{
		Kind:  FactorPassphrase,
		value: []byte(norm.NFKC.String(passphrase)),
	}
}

// NewTokenID builds a physical-token factor from the identifier a reader returned.
func NewTokenID(id []byte) SecondaryFactor {
	return SecondaryFactor{
		Kind:  FactorToken,
		value: append([]byte(nil), id...),
	}
}

// Bytes returns the material mixed into master key derivation.
func (f SecondaryFactor) Bytes() []byte {
	if f.Kind == FactorNone || f.Kind == "" {
		return nil
	}
	return f.value
}

// EffectiveKind normalizes the zero value to FactorNone.
func (f SecondaryFactor) EffectiveKind() FactorKind {
	if f.Kind == "" {
		return FactorNone
	}
	return f.Kind
}

// Wipe zeroes the factor material.
func (f *SecondaryFactor) Wipe() {
	for i := range f.value {
		f.value[i] = 0
	}
	f.value = nil
}

// String never prints the factor material.
func (f SecondaryFactor) String() string {
	return fmt.Sprintf("SecondaryFactor(%s)", f.EffectiveKind())
}
