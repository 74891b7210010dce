package mem

import (
	"sync"

	ch "github.com/tranz-r/quote-engine/cache/cache"
)

// inMemoryBackend is an in-memory implementation of cache.Backend. It keeps
// copies of stored values so callers cannot alias the internal buffers.
type inMemoryBackend struct {
	entries map[string][]byte

	mu sync.RWMutex
}

// NewInMemoryBackend creates and returns a new in-memory cache backend.
func NewInMemoryBackend() ch.Backend {
	return &inMemoryBackend{
		entries: make(map[string][]byte),
	}
}

func (b *inMemoryBackend) Get(key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	raw, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, true, nil
}

func (b *inMemoryBackend) Set(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	b.entries[key] = stored
	return nil
}

func (b *inMemoryBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, key)
	return nil
}
