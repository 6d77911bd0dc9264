package transform

import (
	"errors"
	"fmt"
	"path"

	"github.com/TheMichaelB/chaosvault/internal/models"
	"github.com/TheMichaelB/chaosvault/internal/storage"
)

// ErrUnsupportedFile is returned for entries that are neither regular files
// nor directories, such as symlinks and devices.
var ErrUnsupportedFile = errors.New("unsupported file type")

// scanResult is the enumerated content of a source folder.
type scanResult struct {
	Files     []models.FileItem
	EmptyDirs []string
	TotalSize int64
}

// scanSource enumerates every regular file below the store root. Directories
// without any entries are reported so they can be recreated.
func scanSource(store storage.BlobStore, maxFileSize int64) (*scanResult, error) {
	res := &scanResult{}
	var dirs []string
	hasChild := make(map[string]bool)

	err := store.Walk(func(fi storage.FileInfo) error {
		if parent := path.Dir(fi.Path); parent != "." {
			hasChild[parent] = true
		}

		switch {
		case fi.IsSymlink:
			return &models.FileError{Path: fi.Path, Op: "scan", Err: fmt.Errorf("%w: symlink", ErrUnsupportedFile)}
		case fi.IsDir:
			dirs = append(dirs, fi.Path)
			return nil
		case !fi.Mode.IsRegular():
			return &models.FileError{Path: fi.Path, Op: "scan", Err: ErrUnsupportedFile}
		}

		if fi.Size > maxFileSize {
			return &models.FileError{
				Path: fi.Path,
				Op:   "scan",
				Err:  fmt.Errorf("file too large: %d bytes (max: %d)", fi.Size, maxFileSize),
			}
		}

		res.Files = append(res.Files, models.FileItem{
			Path:         fi.Path,
			Size:         fi.Size,
			ModifiedTime: fi.ModTime,
			Mode:         uint32(fi.Mode.Perm()),
		})
		res.TotalSize += fi.Size
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, d := range dirs {
		if !hasChild[d] {
			res.EmptyDirs = append(res.EmptyDirs, d)
		}
	}

	if len(res.Files) == 0 {
		return nil, models.ErrEmptySource
	}

	return res, nil
}
