package models

import (
	"fmt"
	"strings"
	"time"
)

// VaultFormatVersion is written to every new vault config record.
const VaultFormatVersion = 1

// VaultConfig is the non-secret configuration record of a vault.
type VaultConfig struct {
	FormatVersion int        `json:"format_version"`
	Iterations    int        `json:"pbkdf2_iterations"`
	CreatedAt     time.Time  `json:"created_at"`
	FactorKind    FactorKind `json:"factor_kind"`
}

// VaultMetadata identifies a vault and carries the record integrity tag.
type VaultMetadata struct {
	VaultID      string    `json:"vault_id"`
	CreatedAt    time.Time `json:"created_at"`
	IntegrityTag string    `json:"integrity_tag,omitempty"` // hex
}

// VaultRecord is the full on-media record of one vault.
type VaultRecord struct {
	Alphabet []byte // 64 distinct printable symbols
	Config   VaultConfig
	Metadata VaultMetadata

	// Master secret envelope.
	Salt       []byte
	IV         []byte
	Ciphertext []byte
	Tag        []byte
}

// Validate checks structural invariants. It does not check the integrity tag.
func (r *VaultRecord) Validate() error {
	if len(r.Alphabet) != 64 {
		return fmt.Errorf("alphabet has %d symbols, want 64", len(r.Alphabet))
	}

	if strings.TrimSpace(r.Metadata.VaultID) == "" {
		return fmt.Errorf("vault ID is required")
	}

	if r.Config.FormatVersion <= 0 || r.Config.FormatVersion > VaultFormatVersion {
		return fmt.Errorf("unsupported vault format version: %d", r.Config.FormatVersion)
	}

	if r.Config.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive")
	}

	if _, err := ParseFactorKind(string(r.Config.FactorKind)); err != nil {
		return err
	}

	if len(r.Salt) != 32 {
		return fmt.Errorf("salt must be 32 bytes, got %d", len(r.Salt))
	}

	if len(r.IV) != 16 || len(r.Tag) != 32 || len(r.Ciphertext) == 0 {
		return fmt.Errorf("master secret envelope is malformed")
	}

	return nil
}
