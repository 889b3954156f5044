package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/helixcare/secrets-core/interfaces"
)

// StoreKind selects which of the adapter's two stores owns a key space.
type StoreKind int

const (
	// KindSecret routes through the encrypted barrier view.
	KindSecret StoreKind = iota
	// KindMetadata routes to the plaintext, queryable metadata store.
	KindMetadata
)

// String returns the kind name.
func (k StoreKind) String() string {
	switch k {
	case KindSecret:
		return "secret"
	case KindMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// Adapter composes the encrypted barrier view (secret material) and the
// plaintext metadata store (structured operational data) behind one
// surface. Key spaces are registered to exactly one store; the surfaces
// returned by Secrets and Metadata reject keys owned by the other side,
// so the two can never mix for a single logical key.
type Adapter struct {
	secrets interfaces.PhysicalBackend
	meta    interfaces.MetadataStore

	mu        sync.RWMutex
	keyspaces map[string]StoreKind
	ordered   []string
}

// NewAdapter creates an adapter over a barrier-backed secret view and a
// metadata store.
func NewAdapter(secrets interfaces.PhysicalBackend, meta interfaces.MetadataStore) *Adapter {
	return &Adapter{
		secrets:   secrets,
		meta:      meta,
		keyspaces: make(map[string]StoreKind),
	}
}

// RegisterKeyspace binds a key-path prefix to one store kind. Rebinding a
// prefix to a different kind is rejected: a key space switching stores
// would strand data on the wrong side of the encryption boundary.
func (a *Adapter) RegisterKeyspace(prefix string, kind StoreKind) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.keyspaces[prefix]; ok {
		if existing != kind {
			return fmt.Errorf("%w: keyspace %q already bound to %s store", interfaces.ErrValidation, prefix, existing)
		}
		return nil
	}
	a.keyspaces[prefix] = kind
	a.ordered = append(a.ordered, prefix)
	sort.Slice(a.ordered, func(i, j int) bool { return len(a.ordered[i]) > len(a.ordered[j]) })
	return nil
}

// KindFor resolves the store kind owning a key by longest-prefix match.
// Unregistered keys default to the secret store: failing safe means
// encrypting data that did not need it, never the reverse.
func (a *Adapter) KindFor(key string) StoreKind {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, prefix := range a.ordered {
		if strings.HasPrefix(key, prefix) {
			return a.keyspaces[prefix]
		}
	}
	return KindSecret
}

// Secrets returns the secret-store surface. Keys registered to the
// metadata store are rejected on every call.
func (a *Adapter) Secrets() interfaces.PhysicalBackend {
	return &secretView{adapter: a}
}

// Metadata returns the metadata-store surface. Keys registered to the
// secret store are rejected on every call, so secret material cannot be
// written past the encryption boundary.
func (a *Adapter) Metadata() interfaces.MetadataStore {
	return &metadataView{adapter: a}
}

type secretView struct {
	adapter *Adapter
}

func (v *secretView) check(key string) error {
	if v.adapter.KindFor(key) != KindSecret {
		return fmt.Errorf("%w: key %q belongs to the metadata store", interfaces.ErrValidation, key)
	}
	return nil
}

func (v *secretView) Get(ctx context.Context, key string) (*interfaces.PhysicalEntry, error) {
	if err := v.check(key); err != nil {
		return nil, err
	}
	return v.adapter.secrets.Get(ctx, key)
}

func (v *secretView) Put(ctx context.Context, entry *interfaces.PhysicalEntry) error {
	if err := v.check(entry.Key); err != nil {
		return err
	}
	return v.adapter.secrets.Put(ctx, entry)
}

func (v *secretView) Delete(ctx context.Context, key string) error {
	if err := v.check(key); err != nil {
		return err
	}
	return v.adapter.secrets.Delete(ctx, key)
}

func (v *secretView) List(ctx context.Context, prefix string) ([]string, error) {
	if err := v.check(prefix); err != nil {
		return nil, err
	}
	return v.adapter.secrets.List(ctx, prefix)
}

type metadataView struct {
	adapter *Adapter
}

func (v *metadataView) check(key string) error {
	if v.adapter.KindFor(key) != KindMetadata {
		return fmt.Errorf("%w: key %q belongs to the secret store", interfaces.ErrValidation, key)
	}
	return nil
}

func (v *metadataView) Get(ctx context.Context, key string) (*interfaces.MetadataEntry, error) {
	if err := v.check(key); err != nil {
		return nil, err
	}
	return v.adapter.meta.Get(ctx, key)
}

func (v *metadataView) Upsert(ctx context.Context, key string, value []byte) error {
	if err := v.check(key); err != nil {
		return err
	}
	return v.adapter.meta.Upsert(ctx, key, value)
}

func (v *metadataView) Delete(ctx context.Context, key string) error {
	if err := v.check(key); err != nil {
		return err
	}
	return v.adapter.meta.Delete(ctx, key)
}

func (v *metadataView) List(ctx context.Context, prefix string) ([]string, error) {
	if err := v.check(prefix); err != nil {
		return nil, err
	}
	return v.adapter.meta.List(ctx, prefix)
}
