package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/helixcare/secrets-core/interfaces"
)

// FileBackend implements a physical backend on the local file system.
// Each leaf key is one file; the directory structure mirrors the key's
// path segments.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file-backed physical backend rooted at baseDir,
// creating the directory if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Get retrieves an entry from the file system.
// Returns interfaces.ErrNotFound if the file doesn't exist.
func (b *FileBackend) Get(ctx context.Context, key string) (*interfaces.PhysicalEntry, error) {
	if err := interfaces.ValidatePhysicalKey(key); err != nil {
		return nil, err
	}

	filePath := filepath.Join(b.baseDir, filepath.FromSlash(key))
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", interfaces.ErrStorage, key, err)
	}

	b.log.Debug("Fetched entry from file",
		slog.String("key", key),
		slog.Int("size", len(data)))

	return &interfaces.PhysicalEntry{Key: key, Value: data}, nil
}

// Put creates or overwrites the file for the entry's key.
func (b *FileBackend) Put(ctx context.Context, entry *interfaces.PhysicalEntry) error {
	if err := interfaces.ValidatePhysicalKey(entry.Key); err != nil {
		return err
	}

	filePath := filepath.Join(b.baseDir, filepath.FromSlash(entry.Key))
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return fmt.Errorf("%w: failed to create directory for %s: %v", interfaces.ErrStorage, entry.Key, err)
	}

	if err := os.WriteFile(filePath, entry.Value, 0o600); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", interfaces.ErrStorage, entry.Key, err)
	}

	b.log.Debug("Stored entry in file",
		slog.String("key", entry.Key),
		slog.Int("size", len(entry.Value)))

	return nil
}

// Delete removes the file for the key. Deleting an absent key is a no-op.
func (b *FileBackend) Delete(ctx context.Context, key string) error {
	if err := interfaces.ValidatePhysicalKey(key); err != nil {
		return err
	}

	filePath := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to delete %s: %v", interfaces.ErrStorage, key, err)
	}
	return nil
}

// List enumerates the entries directly under the prefix. Files appear by
// name; subdirectories appear as "name/".
func (b *FileBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if prefix != "" {
		if err := interfaces.ValidatePhysicalKey(strings.TrimSuffix(prefix, "/")); err != nil {
			return nil, err
		}
	}

	dirPath := filepath.Join(b.baseDir, filepath.FromSlash(prefix))
	dirents, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to list %s: %v", interfaces.ErrStorage, prefix, err)
	}

	keys := make([]string, 0, len(dirents))
	for _, dirent := range dirents {
		name := dirent.Name()
		if dirent.IsDir() {
			name += "/"
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}

// Name returns a unique identifier for this backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
