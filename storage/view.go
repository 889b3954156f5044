package storage

import (
	"context"
	"strings"

	"github.com/helixcare/secrets-core/interfaces"
)

// PrefixView exposes a sub-tree of a physical backend under a fixed key
// prefix. Mounted secret engines receive a view scoped to their own
// keyspace so no backend can reach another's entries.
type PrefixView struct {
	backend interfaces.PhysicalBackend
	prefix  string
}

// NewPrefixView creates a view rooted at prefix, which must end in "/".
func NewPrefixView(backend interfaces.PhysicalBackend, prefix string) *PrefixView {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &PrefixView{backend: backend, prefix: prefix}
}

func (v *PrefixView) Get(ctx context.Context, key string) (*interfaces.PhysicalEntry, error) {
	entry, err := v.backend.Get(ctx, v.prefix+key)
	if err != nil {
		return nil, err
	}
	return &interfaces.PhysicalEntry{Key: key, Value: entry.Value}, nil
}

func (v *PrefixView) Put(ctx context.Context, entry *interfaces.PhysicalEntry) error {
	return v.backend.Put(ctx, &interfaces.PhysicalEntry{
		Key:   v.prefix + entry.Key,
		Value: entry.Value,
	})
}

func (v *PrefixView) Delete(ctx context.Context, key string) error {
	return v.backend.Delete(ctx, v.prefix+key)
}

func (v *PrefixView) List(ctx context.Context, prefix string) ([]string, error) {
	return v.backend.List(ctx, v.prefix+prefix)
}
