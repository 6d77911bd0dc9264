package vault

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/TheMichaelB/chaosvault/internal/crypto"
	"github.com/TheMichaelB/chaosvault/internal/models"
)

// master.key layout: "CVMK" | version(1) | salt(32) | iv(16) | ciphertext | tag(32)
const masterKeyVersion = 1

var masterKeyMagic = []byte("CVMK")

const recordTagDomain = "chaosvault-record-v1"

func marshalMasterKey(rec *models.VaultRecord) []byte {
	out := make([]byte, 0, len(masterKeyMagic)+1+len(rec.Salt)+len(rec.IV)+len(rec.Ciphertext)+len(rec.Tag))
	out = append(out, masterKeyMagic...)
	out = append(out, masterKeyVersion)
	out = append(out, rec.Salt...)
	out = append(out, rec.IV...)
	out = append(out, rec.Ciphertext...)
	return append(out, rec.Tag...)
}

func unmarshalMasterKey(data []byte, rec *models.VaultRecord) error {
	fixed := len(masterKeyMagic) + 1 + crypto.SaltSize + crypto.IVSize + crypto.TagSize
	if len(data) <= fixed {
		return fmt.Errorf("master key file truncated")
	}
	if !bytes.Equal(data[:len(masterKeyMagic)], masterKeyMagic) {
		return fmt.Errorf("bad master key magic")
	}
	pos := len(masterKeyMagic)
	if data[pos] != masterKeyVersion {
		return fmt.Errorf("unsupported master key version %d", data[pos])
	}
	pos++

	rec.Salt = append([]byte(nil), data[pos:pos+crypto.SaltSize]...)
	pos += crypto.SaltSize
	rec.IV = append([]byte(nil), data[pos:pos+crypto.IVSize]...)
	pos += crypto.IVSize

	tagStart := len(data) - crypto.TagSize
	rec.Ciphertext = append([]byte(nil), data[pos:tagStart]...)
	rec.Tag = append([]byte(nil), data[tagStart:]...)
	return nil
}

// serializeRecord is the canonical byte form the integrity tag covers.
func serializeRecord(rec *models.VaultRecord) []byte {
	var buf bytes.Buffer
	field := func(b []byte) {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(b)))
		buf.Write(b)
	}
	num := func(v int64) {
		_ = binary.Write(&buf, binary.BigEndian, v)
	}

	buf.WriteString(recordTagDomain)
	field(rec.Alphabet)
	num(int64(rec.Config.FormatVersion))
	num(int64(rec.Config.Iterations))
	num(rec.Config.CreatedAt.UnixNano())
	field([]byte(rec.Config.FactorKind))
	field([]byte(rec.Metadata.VaultID))
	num(rec.Metadata.CreatedAt.UnixNano())
	field(rec.Salt)
	field(rec.IV)
	field(rec.Ciphertext)
	field(rec.Tag)

	return buf.Bytes()
}

// computeIntegrityTag keys an HMAC with the alphabet. Anyone holding the
// medium can recompute it; it detects corruption, not forgery.
func computeIntegrityTag(rec *models.VaultRecord) string {
	mac := hmac.New(sha256.New, rec.Alphabet)
	mac.Write(serializeRecord(rec))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether rec is structurally valid and its integrity tag
// matches the serialized record.
func Verify(rec *models.VaultRecord) bool {
	if rec == nil || rec.Validate() != nil {
		return false
	}

	got, err := hex.DecodeString(rec.Metadata.IntegrityTag)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(computeIntegrityTag(rec))
	return hmac.Equal(got, want)
}
