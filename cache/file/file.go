package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ch "github.com/tranz-r/quote-engine/cache/cache"
)

// fileBackend stores each key as one JSON file under a directory, so local
// state survives process restarts. Writes go to a temp file first and are
// renamed into place; a crash mid-write leaves the previous value intact.
type fileBackend struct {
	dir string

	mu sync.Mutex
}

// NewFileBackend creates the directory if needed and returns a file-backed
// cache backend rooted there.
func NewFileBackend(dir string) (ch.Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return &fileBackend{dir: dir}, nil
}

func (b *fileBackend) path(key string) string {
	// Keys are our own constants, but keep path traversal out anyway.
	safe := strings.ReplaceAll(key, string(os.PathSeparator), "_")
	return filepath.Join(b.dir, safe+".json")
}

func (b *fileBackend) Get(key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := os.ReadFile(b.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	return raw, true, nil
}

func (b *fileBackend) Set(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := b.path(key)
	tmp, err := os.CreateTemp(b.dir, "."+key+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache entry %s: %w", key, err)
	}
	return nil
}

func (b *fileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}
