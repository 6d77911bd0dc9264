package crypto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/TheMichaelB/chaosvault/internal/models"
)

// Locked file envelope:
//
//	"CVLF" | version(1) | pathLen(2) | path | contentLength(8) | iv(16) | ciphertext | tag(32)
const (
	EnvelopeVersion = 1
	EnvelopeSuffix  = ".cvlk"
)

var envelopeMagic = []byte("CVLF")

// MarshalLockedFile encodes lf in the .cvlk envelope format.
func MarshalLockedFile(lf *models.LockedFile) ([]byte, error) {
	if len(lf.Path) > math.MaxUint16 {
		return nil, fmt.Errorf("path too long: %d bytes", len(lf.Path))
	}
	if len(lf.IV) != IVSize || len(lf.Tag) != TagSize {
		return nil, fmt.Errorf("malformed locked file for %s", lf.Path)
	}

	size := len(envelopeMagic) + 1 + 2 + len(lf.Path) + 8 + IVSize + len(lf.Ciphertext) + TagSize
	out := make([]byte, 0, size)
	out = append(out, envelopeMagic...)
	out = append(out, EnvelopeVersion)
	out = binary.BigEndian.AppendUint16(out, uint16(len(lf.Path)))
	out = append(out, lf.Path...)
	out = binary.BigEndian.AppendUint64(out, uint64(lf.ContentLength))
	out = append(out, lf.IV...)
	out = append(out, lf.Ciphertext...)
	out = append(out, lf.Tag...)

	return out, nil
}

// UnmarshalLockedFile decodes a .cvlk envelope. A damaged envelope is
// reported as an integrity failure.
func UnmarshalLockedFile(data []byte) (*models.LockedFile, error) {
	fail := func(reason string) error {
		return fmt.Errorf("%w: %s", models.ErrIntegrityCheckFailed, reason)
	}

	minSize := len(envelopeMagic) + 1 + 2 + 8 + IVSize + TagSize
	if len(data) < minSize {
		return nil, fail("envelope truncated")
	}
	if !bytes.Equal(data[:len(envelopeMagic)], envelopeMagic) {
		return nil, fail("bad envelope magic")
	}
	pos := len(envelopeMagic)

	if data[pos] != EnvelopeVersion {
		return nil, fail(fmt.Sprintf("unsupported envelope version %d", data[pos]))
	}
	pos++

	pathLen := int(binary.BigEndian.Uint16(data[pos:]))
	pos += 2
	if len(data) < minSize+pathLen {
		return nil, fail("envelope truncated")
	}
	path := string(data[pos : pos+pathLen])
	pos += pathLen

	contentLength := binary.BigEndian.Uint64(data[pos:])
	pos += 8
	if contentLength > math.MaxInt64 {
		return nil, fail("content length out of range")
	}

	iv := append([]byte(nil), data[pos:pos+IVSize]...)
	pos += IVSize

	tagStart := len(data) - TagSize
	ciphertext := append([]byte(nil), data[pos:tagStart]...)
	tag := append([]byte(nil), data[tagStart:]...)

	return &models.LockedFile{
		Path:          path,
		ContentLength: int64(contentLength),
		IV:            iv,
		Ciphertext:    ciphertext,
		Tag:           tag,
	}, nil
}
