package models

import (
	"path/filepath"
	"strings"
)

// Extensions whose content is already compressed.
var compressedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".heic": true,
	".pdf": true, ".docx": true, ".xlsx": true, ".pptx": true, ".odt": true, ".ods": true,
	".zip": true, ".rar": true, ".7z": true, ".gz": true, ".tgz": true, ".bz2": true,
	".xz": true, ".zst": true, ".lz4": true, ".jar": true, ".apk": true, ".dmg": true,
	".mp3": true, ".mp4": true, ".m4a": true, ".mkv": true, ".mov": true, ".avi": true,
	".webm": true, ".flac": true, ".aac": true, ".ogg": true, ".woff": true, ".woff2": true,
}

// IsCompressible decides whether compressing a file is worth trying, based on
// extension first and then on a sniff of the leading bytes.
func IsCompressible(path string, content []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if compressedExtensions[ext] {
		return false
	}

	// Tiny payloads only grow.
	if len(content) < 64 {
		return false
	}

	return !hasCompressedMagic(content)
}

// hasCompressedMagic detects common archive and media signatures.
func hasCompressedMagic(content []byte) bool {
	magics := [][]byte{
		{0x1F, 0x8B},             // gzip
		{0x50, 0x4B, 0x03, 0x04}, // zip
		{0x28, 0xB5, 0x2F, 0xFD}, // zstd
		{0xFD, 0x37, 0x7A, 0x58}, // xz
		{0x89, 0x50, 0x4E, 0x47}, // png
		{0xFF, 0xD8, 0xFF},       // jpeg
		{0x25, 0x50, 0x44, 0x46}, // pdf
	}
	for _, m := range magics {
		if len(content) >= len(m) && string(content[:len(m)]) == string(m) {
			return true
		}
	}
	return false
}
