package interfaces

import (
	"context"
	"strings"
	"time"
)

// PhysicalEntry is an opaque key/value pair held by a physical backend.
// The backend attaches no semantics to the value beyond existence and
// ordering for prefix listing.
type PhysicalEntry struct {
	Key   string
	Value []byte
}

// ValidatePhysicalKey rejects keys that cannot be stored: empty keys,
// keys starting with "/", and keys containing empty path segments.
func ValidatePhysicalKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "//") {
		return ErrValidation
	}
	return nil
}

// PhysicalBackend is raw key/value byte storage. Implementations have no
// knowledge of encryption or secrets; for barrier-owned key spaces every
// stored value is ciphertext.
type PhysicalBackend interface {
	// Get retrieves an entry. Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) (*PhysicalEntry, error)

	// Put creates or overwrites an entry.
	Put(ctx context.Context, entry *PhysicalEntry) error

	// Delete removes an entry. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys directly under the prefix, with nested
	// sub-paths collapsed to "dir/" style entries, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// MetadataEntry is one row of the plaintext metadata store.
type MetadataEntry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// MetadataStore is plaintext, queryable storage for operational data such
// as policies, realms, and mount configuration. It must never hold secret
// material; that belongs behind the barrier.
type MetadataStore interface {
	// Get retrieves a row. Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) (*MetadataEntry, error)

	// Upsert creates or replaces a row, refreshing its updated_at stamp.
	Upsert(ctx context.Context, key string, value []byte) error

	// Delete removes a row. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys under the prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
