// Package storage provides the byte-level persistence backend used for the
// master dataset, extracted-fact blobs, and the watermark. Backends are
// keyed by logical path so the dataset layer stays agnostic of where bytes
// actually live (local disk today, object storage later).
package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dorametrics/internal/logging"
)

// Backend is the storage contract consumed by the dataset layer
type Backend interface {
	// Read returns the full content of the blob at path
	Read(path string) ([]byte, error)
	// Write replaces the blob at path atomically
	Write(path string, data []byte) error
	// Exists reports whether a blob exists at path
	Exists(path string) bool
	// List returns all blob paths under prefix, sorted
	List(prefix string) ([]string, error)
	// Delete removes the blob at path; deleting a missing blob is not an error
	Delete(path string) error
}

// LocalBackend stores blobs as files under a base directory
type LocalBackend struct {
	basePath string
	logger   *logging.Logger
}

// NewLocalBackend creates the base directory if needed and returns a backend
func NewLocalBackend(basePath string, logger *logging.Logger) (*LocalBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", basePath, err)
	}
	return &LocalBackend{basePath: basePath, logger: logger}, nil
}

func (b *LocalBackend) fullPath(path string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(path))
}

// Read returns the full content of the blob at path
func (b *LocalBackend) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(b.fullPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Write replaces the blob at path atomically: the content goes to a temp
// file in the same directory first, then a rename swaps it in. A failed run
// can never leave a half-written blob behind.
func (b *LocalBackend) Write(path string, data []byte) error {
	full := b.fullPath(path)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()          //nolint:errcheck // already failing
		os.Remove(tmpName)   //nolint:errcheck // best effort cleanup
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	b.logger.Debug("Wrote blob", map[string]interface{}{
		"path":  path,
		"bytes": len(data),
	})
	return nil
}

// Exists reports whether a blob exists at path
func (b *LocalBackend) Exists(path string) bool {
	info, err := os.Stat(b.fullPath(path))
	return err == nil && !info.IsDir()
}

// List returns all blob paths under prefix, sorted
func (b *LocalBackend) List(prefix string) ([]string, error) {
	root := b.fullPath(prefix)

	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(b.basePath, p)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		// Prefix may name a file, or nothing at all
		if b.Exists(prefix) {
			return []string{prefix}, nil
		}
		return b.listByNamePrefix(prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// listByNamePrefix lists siblings whose base name starts with the prefix's
// final path element, matching the original tool's prefix semantics.
func (b *LocalBackend) listByNamePrefix(prefix string) ([]string, error) {
	dir := filepath.Dir(b.fullPath(prefix))
	name := filepath.Base(prefix)

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), name) {
			continue
		}
		rel, relErr := filepath.Rel(b.basePath, filepath.Join(dir, e.Name()))
		if relErr != nil {
			return nil, relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
	}

	sort.Strings(paths)
	return paths, nil
}

// Delete removes the blob at path
func (b *LocalBackend) Delete(path string) error {
	err := os.Remove(b.fullPath(path))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}
