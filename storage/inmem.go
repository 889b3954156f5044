package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/helixcare/secrets-core/interfaces"
)

// InmemBackend is a map-backed physical backend for tests and single-node
// dev mode. Values are copied on the way in and out so callers cannot
// mutate stored state.
type InmemBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewInmemBackend creates an empty in-memory physical backend.
func NewInmemBackend() *InmemBackend {
	return &InmemBackend{entries: make(map[string][]byte)}
}

func (b *InmemBackend) Get(ctx context.Context, key string) (*interfaces.PhysicalEntry, error) {
	if err := interfaces.ValidatePhysicalKey(key); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.entries[key]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return &interfaces.PhysicalEntry{Key: key, Value: out}, nil
}

func (b *InmemBackend) Put(ctx context.Context, entry *interfaces.PhysicalEntry) error {
	if err := interfaces.ValidatePhysicalKey(entry.Key); err != nil {
		return err
	}

	value := make([]byte, len(entry.Value))
	copy(value, entry.Value)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry.Key] = value
	return nil
}

func (b *InmemBackend) Delete(ctx context.Context, key string) error {
	if err := interfaces.ValidatePhysicalKey(key); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *InmemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range b.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			seen[rest[:idx+1]] = struct{}{}
		} else {
			seen[rest] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Name returns a unique identifier for this backend.
func (b *InmemBackend) Name() string { return "inmem" }

// LocationURI returns the URI that identifies this backend.
func (b *InmemBackend) LocationURI() string { return "inmem://" }
