// Package realm manages tenancy realms. A realm scopes policies, tokens,
// and mount visibility to one organization; the root realm (empty ID)
// spans all of them. Realm records are operational metadata, not secrets,
// so they live in the plaintext metadata store.
package realm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixcare/secrets-core/interfaces"
)

const (
	realmPrefix = "sys/realms/"
	orgPrefix   = "sys/realm-orgs/"
)

// RootRealmID is the ID of the implicit root realm.
const RootRealmID = ""

// Realm is one tenancy scope.
type Realm struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OrgID     string    `json:"org_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager persists realms and enforces cross-realm boundaries.
type Manager struct {
	meta interfaces.MetadataStore
	log  *slog.Logger

	// mu serializes get-or-create so two concurrent callers for the same
	// organization cannot both mint a realm.
	mu sync.Mutex
}

// NewManager creates a realm manager over the metadata store.
func NewManager(meta interfaces.MetadataStore, log *slog.Logger) *Manager {
	return &Manager{meta: meta, log: log}
}

// GetOrCreateForOrganization returns the realm bound to an organization,
// creating it on first use. The call is idempotent per organization.
func (m *Manager) GetOrCreateForOrganization(ctx context.Context, orgID, name string) (*Realm, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization ID is required", interfaces.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	index, err := m.meta.Get(ctx, orgPrefix+orgID)
	if err == nil {
		return m.Get(ctx, string(index.Value))
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	realm := &Realm{
		ID:        "realm-" + uuid.NewString(),
		Name:      name,
		OrgID:     orgID,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.put(ctx, realm); err != nil {
		return nil, err
	}
	if err := m.meta.Upsert(ctx, orgPrefix+orgID, []byte(realm.ID)); err != nil {
		return nil, err
	}

	m.log.Info("Realm created",
		slog.String("realm", realm.ID),
		slog.String("org", orgID))

	return realm, nil
}

// Get resolves a realm by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Realm, error) {
	if id == RootRealmID {
		return nil, fmt.Errorf("%w: the root realm has no record", interfaces.ErrValidation)
	}

	entry, err := m.meta.Get(ctx, realmPrefix+id)
	if err != nil {
		return nil, err
	}
	var realm Realm
	if err := json.Unmarshal(entry.Value, &realm); err != nil {
		return nil, fmt.Errorf("failed to decode realm record: %w", err)
	}
	return &realm, nil
}

// List returns every realm ID.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	keys, err := m.meta.List(ctx, realmPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, realmPrefix))
	}
	return ids, nil
}

// Authorize enforces the cross-realm boundary: a caller may act in its
// own realm, and a root-realm caller may act anywhere.
func (m *Manager) Authorize(callerRealm, targetRealm string) error {
	if callerRealm == RootRealmID || callerRealm == targetRealm {
		return nil
	}
	return fmt.Errorf("%w: realm boundary", interfaces.ErrForbidden)
}

func (m *Manager) put(ctx context.Context, realm *Realm) error {
	raw, err := json.Marshal(realm)
	if err != nil {
		return fmt.Errorf("failed to encode realm record: %w", err)
	}
	return m.meta.Upsert(ctx, realmPrefix+realm.ID, raw)
}
