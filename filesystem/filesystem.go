package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrFileNotFound = fmt.Errorf("filesystem: file not found")
	ErrInvalidPath  = fmt.Errorf("filesystem: invalid path")
	ErrOutsideRoot  = fmt.Errorf("filesystem: path escapes mount root")
	ErrNotDirectory = fmt.Errorf("filesystem: mount root is not a directory")
)

// Mount is a read-only view of one directory tree. Every path it hands out
// has been canonicalised, symlinks included, and lies inside the root.
type Mount struct {
	root string
}

func NewMount(root string) (*Mount, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("filesystem: mount %s: %w", root, err)
	}

	info, err := os.Stat(real)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	return &Mount{root: real}, nil
}

func (m *Mount) Root() string {
	return m.root
}

// Resolve maps a slash separated path relative to the root onto the
// filesystem. Paths that leave the root, before or after following
// symlinks, fail with ErrOutsideRoot.
func (m *Mount) Resolve(rel string) (string, fs.FileInfo, error) {
	if strings.IndexByte(rel, 0) >= 0 {
		return "", nil, ErrInvalidPath
	}

	joined := filepath.Join(m.root, filepath.FromSlash(rel))
	if !m.contains(joined) {
		return "", nil, ErrOutsideRoot
	}

	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, ErrFileNotFound
		}
		return "", nil, err
	}
	if !m.contains(real) {
		return "", nil, ErrOutsideRoot
	}

	info, err := os.Stat(real)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, ErrFileNotFound
		}
		return "", nil, err
	}
	return real, info, nil
}

// Open resolves rel and opens it for reading. Directories are refused.
func (m *Mount) Open(rel string) (*os.File, fs.FileInfo, error) {
	path, info, err := m.Resolve(rel)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, ErrFileNotFound
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return file, info, nil
}

func (m *Mount) contains(path string) bool {
	if path == m.root {
		return true
	}
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// EnsureDirectory creates a directory and all parent directories if they don't exist
func EnsureDirectory(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("filesystem: %s exists and is not a directory", path)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.MkdirAll(path, 0770)
}
