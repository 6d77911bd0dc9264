package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/chaosvault/internal/events"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// Tree maps slash-separated relative paths to file contents. A key ending
// in "/" denotes an empty directory.
type Tree map[string]string

// SampleTree is a small folder covering empty, tiny, nested and empty-dir
// cases.
func SampleTree() Tree {
	return Tree{
		"readme.txt":          "hello vault",
		"empty.txt":           "",
		"docs/notes.md":       strings.Repeat("compressible text ", 200),
		"docs/deep/data.bin":  string(Pattern(4096)),
		"media/unicode-ü.txt": "ünïcödé",
		"scratch/":            "",
	}
}

// Pattern returns n deterministic, poorly compressible bytes.
func Pattern(n int) []byte {
	out := make([]byte, 0, n+sha256.Size)
	block := sha256.Sum256([]byte("pattern"))
	for len(out) < n {
		out = append(out, block[:]...)
		block = sha256.Sum256(block[:])
	}
	return out[:n]
}

// WriteTree materializes tree under dir.
func WriteTree(t testing.TB, dir string, tree Tree) {
	t.Helper()
	for rel, content := range tree {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			require.NoError(t, os.MkdirAll(path, 0755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

// ReadTree reads dir back into a Tree. Only leaf directories are reported
// as empty-dir entries.
func ReadTree(t testing.TB, dir string) Tree {
	t.Helper()
	tree := Tree{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				tree[rel+"/"] = ""
			}
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return tree
}

// HashTree returns a digest per file for compact comparisons.
func HashTree(tree Tree) map[string]string {
	out := make(map[string]string, len(tree))
	for rel, content := range tree {
		sum := sha256.Sum256([]byte(content))
		out[rel] = hex.EncodeToString(sum[:])
	}
	return out
}
