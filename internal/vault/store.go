// Package vault manages the on-media vault record: the chaos alphabet, the
// wrapped master secret, and the non-secret configuration and metadata.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/chaosvault/internal/alphabet"
	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/events"
	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/storage"
)

// Vault directory artifacts.
const (
	DefaultDirName = ".chaos_vault"
	AlphabetFile   = "alphabet.txt"
	ConfigFile     = "config.json"
	MasterKeyFile  = "master.key"
	MetadataFile   = "metadata.json"

	masterSecretSize = 32
)

// RequiredFiles lists every artifact Open needs.
var RequiredFiles = []string{AlphabetFile, ConfigFile, MasterKeyFile, MetadataFile}

// Store creates and opens vaults.
type Store struct {
	dirName string
	crypto  crypto.Provider
	logger  *events.Logger
}

// NewStore creates a vault store using dirName as the reserved directory.
func NewStore(dirName string, provider crypto.Provider, logger *events.Logger) *Store {
	if dirName == "" {
		dirName = DefaultDirName
	}
	return &Store{
		dirName: dirName,
		crypto:  provider,
		logger:  logger.WithField("component", "vault_store"),
	}
}

// DirName returns the reserved vault directory name.
func (s *Store) DirName() string {
	return s.dirName
}

// Create writes a new vault under root. Either the complete record exists
// afterwards or nothing does.
func (s *Store) Create(ctx context.Context, root string, a alphabet.Alphabet, factor models.SecondaryFactor, iterations int) (*models.VaultRecord, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAlphabetDerivationFailed, err)
	}
	if iterations <= 0 {
		iterations = crypto.DefaultIterations
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve medium root: %w", err)
	}

	finalDir := filepath.Join(root, s.dirName)
	if _, err := os.Lstat(finalDir); err == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrVaultExists, finalDir)
	}

	rec, err := s.newRecord(a, factor, iterations)
	if err != nil {
		return nil, err
	}

	logger := s.logger.WithField("vault_id", rec.Metadata.VaultID)
	logger.Info("Creating vault")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stagingDir := fmt.Sprintf("%s.staging-%s", finalDir, uuid.NewString()[:8])
	if err := s.writeRecord(stagingDir, rec); err != nil {
		_ = os.RemoveAll(stagingDir)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		_ = os.RemoveAll(stagingDir)
		return nil, err
	}

	if err := os.Rename(stagingDir, finalDir); err != nil {
		_ = os.RemoveAll(stagingDir)
		if _, statErr := os.Lstat(finalDir); statErr == nil {
			return nil, fmt.Errorf("%w: %s", models.ErrVaultExists, finalDir)
		}
		return nil, fmt.Errorf("commit vault directory: %w", err)
	}

	logger.WithField("path", finalDir).Info("Vault created")
	return rec, nil
}

func (s *Store) newRecord(a alphabet.Alphabet, factor models.SecondaryFactor, iterations int) (*models.VaultRecord, error) {
	salt, err := crypto.RandomBytes(crypto.SaltSize)
	if err != nil {
		return nil, err
	}

	masterKey, err := s.crypto.DeriveMasterKey(a, factor, salt, iterations)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	defer crypto.ClearBytes(masterKey)

	secret, err := crypto.RandomBytes(masterSecretSize)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(secret)

	iv, ct, tag, err := crypto.Seal(secret, masterKey)
	if err != nil {
		return nil, fmt.Errorf("wrap master secret: %w", err)
	}

	now := time.Now().UTC()
	rec := &models.VaultRecord{
		Alphabet: a.Bytes(),
		Config: models.VaultConfig{
			FormatVersion: models.VaultFormatVersion,
			Iterations:    iterations,
			CreatedAt:     now,
			FactorKind:    factor.EffectiveKind(),
		},
		Metadata: models.VaultMetadata{
			VaultID:   uuid.NewString(),
			CreatedAt: now,
		},
		Salt:       salt,
		IV:         iv,
		Ciphertext: ct,
		Tag:        tag,
	}
	rec.Metadata.IntegrityTag = computeIntegrityTag(rec)

	return rec, nil
}

func (s *Store) writeRecord(dir string, rec *models.VaultRecord) error {
	store, err := storage.NewLocalStore(dir, s.logger)
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	store.SetConflictStrategy(storage.ConflictError)

	a, err := alphabet.FromBytes(rec.Alphabet)
	if err != nil {
		return err
	}

	configJSON, err := json.MarshalIndent(rec.Config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	metadataJSON, err := json.MarshalIndent(rec.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{AlphabetFile, a.FileContent()},
		{ConfigFile, configJSON},
		{MasterKeyFile, marshalMasterKey(rec)},
		{MetadataFile, metadataJSON},
	}

	for _, f := range files {
		if err := store.Write(f.name, f.data, 0600); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}

	return nil
}

// Open reads the vault record at path, which may be the medium root or the
// vault directory.
func (s *Store) Open(path string) (*models.VaultRecord, error) {
	dir, err := Locate(path, s.dirName)
	if err != nil {
		return nil, err
	}
	return s.read(dir)
}

func (s *Store) read(dir string) (*models.VaultRecord, error) {
	store, err := storage.OpenLocalStore(dir, s.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrVaultNotFound, err)
	}

	raw := make(map[string][]byte, len(RequiredFiles))
	for _, name := range RequiredFiles {
		data, err := store.Read(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: missing %s", models.ErrVaultNotFound, name)
			}
			return nil, fmt.Errorf("%w: read %s: %v", models.ErrVaultUnavailable, name, err)
		}
		raw[name] = data
	}

	corrupted := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", models.ErrVaultCorrupted, fmt.Sprintf(format, args...))
	}

	a, err := alphabet.Parse(string(raw[AlphabetFile]))
	if err != nil {
		return nil, corrupted("alphabet: %v", err)
	}

	rec := &models.VaultRecord{Alphabet: a.Bytes()}

	if err := json.Unmarshal(raw[ConfigFile], &rec.Config); err != nil {
		return nil, corrupted("config: %v", err)
	}
	if err := json.Unmarshal(raw[MetadataFile], &rec.Metadata); err != nil {
		return nil, corrupted("metadata: %v", err)
	}
	if err := unmarshalMasterKey(raw[MasterKeyFile], rec); err != nil {
		return nil, corrupted("master key: %v", err)
	}

	if err := rec.Validate(); err != nil {
		return nil, corrupted("%v", err)
	}
	if !Verify(rec) {
		return nil, corrupted("integrity tag mismatch")
	}

	return rec, nil
}

// Verify reports whether rec passes its integrity check.
func (s *Store) Verify(rec *models.VaultRecord) bool {
	return Verify(rec)
}

// Unlock opens the vault at path and derives its master key from the
// alphabet and factor. A wrong or missing factor is ErrSecondaryFactorMismatch.
func (s *Store) Unlock(ctx context.Context, path string, factor models.SecondaryFactor) (*Vault, error) {
	dir, err := Locate(path, s.dirName)
	if err != nil {
		return nil, err
	}

	rec, err := s.read(dir)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := s.logger.WithField("vault_id", rec.Metadata.VaultID)

	if factor.EffectiveKind() != rec.Config.FactorKind {
		logger.Warn("Secondary factor kind does not match vault")
		return nil, models.ErrSecondaryFactorMismatch
	}

	a, err := alphabet.FromBytes(rec.Alphabet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrVaultCorrupted, err)
	}

	masterKey, err := s.crypto.DeriveMasterKey(a, factor, rec.Salt, rec.Config.Iterations)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	secret, err := crypto.Open(rec.IV, rec.Ciphertext, rec.Tag, masterKey)
	if err != nil {
		crypto.ClearBytes(masterKey)
		if errors.Is(err, models.ErrIntegrityCheckFailed) {
			logger.Warn("Master secret rejected derived key")
			return nil, models.ErrSecondaryFactorMismatch
		}
		return nil, fmt.Errorf("%w: master secret: %v", models.ErrVaultCorrupted, err)
	}
	crypto.ClearBytes(secret)

	logger.Debug("Vault unlocked")

	return &Vault{
		ID:        rec.Metadata.VaultID,
		Root:      filepath.Dir(dir),
		Dir:       dir,
		Alphabet:  a,
		Record:    rec,
		masterKey: masterKey,
	}, nil
}
