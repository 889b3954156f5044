package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helixcare/secrets-core/interfaces"
)

// InmemMetadataStore is a map-backed metadata store for tests and
// single-node dev mode.
type InmemMetadataStore struct {
	mu      sync.RWMutex
	entries map[string]*interfaces.MetadataEntry
}

// NewInmemMetadataStore creates an empty in-memory metadata store.
func NewInmemMetadataStore() *InmemMetadataStore {
	return &InmemMetadataStore{entries: make(map[string]*interfaces.MetadataEntry)}
}

func (s *InmemMetadataStore) Get(ctx context.Context, key string) (*interfaces.MetadataEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	value := make([]byte, len(entry.Value))
	copy(value, entry.Value)
	return &interfaces.MetadataEntry{Key: key, Value: value, UpdatedAt: entry.UpdatedAt}, nil
}

func (s *InmemMetadataStore) Upsert(ctx context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &interfaces.MetadataEntry{Key: key, Value: stored, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *InmemMetadataStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *InmemMetadataStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
