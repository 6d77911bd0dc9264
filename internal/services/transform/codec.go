package transform

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/TheMichaelB/chaosvault/internal/models"
)

// Payload flag byte, prepended before the substitution layer.
const (
	payloadRaw  byte = 0
	payloadZlib byte = 1
)

// encodePayload frames content for encryption, compressing it when that is
// enabled, worthwhile for the file type, and actually smaller.
func encodePayload(path string, content []byte, compress bool) ([]byte, error) {
	if compress && models.IsCompressible(path, content) {
		var buf bytes.Buffer
		buf.WriteByte(payloadZlib)

		zw, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
		if err != nil {
			return nil, fmt.Errorf("create compressor: %w", err)
		}
		if _, err := zw.Write(content); err != nil {
			return nil, fmt.Errorf("compress %s: %w", path, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress %s: %w", path, err)
		}

		if buf.Len() < len(content)+1 {
			return buf.Bytes(), nil
		}
	}

	out := make([]byte, 0, len(content)+1)
	out = append(out, payloadRaw)
	return append(out, content...), nil
}

// decodePayload reverses encodePayload. Output larger than maxSize is refused.
func decodePayload(payload []byte, maxSize int64) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", models.ErrDecryptionFailed)
	}

	switch payload[0] {
	case payloadRaw:
		return payload[1:], nil

	case payloadZlib:
		zr, err := zlib.NewReader(bytes.NewReader(payload[1:]))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrDecryptionFailed, err)
		}
		defer zr.Close()

		data, err := io.ReadAll(io.LimitReader(zr, maxSize+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrDecryptionFailed, err)
		}
		if int64(len(data)) > maxSize {
			return nil, fmt.Errorf("decompressed file exceeds %d bytes", maxSize)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("%w: unknown payload flag %d", models.ErrDecryptionFailed, payload[0])
	}
}
