// Package token implements the token store: creation, renewal, and
// revocation of the credentials every logical request carries.
//
// Tokens live behind the barrier, keyed by the SHA-256 of their ID so
// physical paths never contain usable credentials. Parent links are
// indexed so revoking a token cascades to every descendant. TTL expiry is
// enforced lazily on lookup; dynamic lease renewal beyond TTL bookkeeping
// is out of scope.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/helixcare/secrets-core/interfaces"
)

const (
	tokenPrefix  = "sys/tokens/"
	parentPrefix = "sys/token-parents/"
)

// Entry is one stored token.
type Entry struct {
	ID        string        `json:"id"`
	Policies  []string      `json:"policies"`
	RealmID   string        `json:"realm_id,omitempty"`
	Parent    string        `json:"parent,omitempty"`
	Root      bool          `json:"root"`
	Renewable bool          `json:"renewable"`
	TTL       time.Duration `json:"ttl"`
	CreatedAt time.Time     `json:"created_at"`

	// ExpiresAt is zero for tokens that never expire (root tokens).
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the token's TTL has elapsed.
func (e *Entry) Expired() bool {
	return !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)
}

// CreateOptions configures Create.
type CreateOptions struct {
	Policies  []string
	RealmID   string
	Parent    string
	TTL       time.Duration
	Renewable bool
}

// Store persists tokens behind the barrier view.
type Store struct {
	view interfaces.PhysicalBackend
	log  *slog.Logger
}

// NewStore creates a token store over the barrier view.
func NewStore(view interfaces.PhysicalBackend, log *slog.Logger) *Store {
	return &Store{view: view, log: log}
}

// saltID hashes a token ID into its storage key component.
func saltID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

// Create mints a new token. A parent, when given, must exist, be live,
// and belong to the same realm (or to the root realm).
func (s *Store) Create(ctx context.Context, opts CreateOptions) (*Entry, error) {
	if opts.Parent != "" {
		parent, err := s.Lookup(ctx, opts.Parent)
		if err != nil {
			return nil, fmt.Errorf("%w: parent token", interfaces.ErrValidation)
		}
		if parent.RealmID != opts.RealmID && parent.RealmID != "" {
			return nil, fmt.Errorf("%w: parent token belongs to another realm", interfaces.ErrValidation)
		}
	}

	entry := &Entry{
		ID:        "st." + uuid.NewString(),
		Policies:  opts.Policies,
		RealmID:   opts.RealmID,
		Parent:    opts.Parent,
		Renewable: opts.Renewable,
		TTL:       opts.TTL,
		CreatedAt: time.Now().UTC(),
	}
	if opts.TTL > 0 {
		entry.ExpiresAt = entry.CreatedAt.Add(opts.TTL)
	}

	if err := s.persist(ctx, entry); err != nil {
		return nil, err
	}

	if entry.Parent != "" {
		index := &interfaces.PhysicalEntry{
			Key:   parentPrefix + saltID(entry.Parent) + "/" + saltID(entry.ID),
			Value: []byte(entry.ID),
		}
		if err := s.view.Put(ctx, index); err != nil {
			return nil, err
		}
	}

	s.log.Info("Token created",
		slog.String("realm", entry.RealmID),
		slog.Int("policies", len(entry.Policies)),
		slog.Bool("renewable", entry.Renewable))

	return entry, nil
}

// CreateRoot mints the root-flagged token returned exactly once at
// initialization. It carries the root policy and never expires.
func (s *Store) CreateRoot(ctx context.Context) (*Entry, error) {
	entry := &Entry{
		ID:        "st." + uuid.NewString(),
		Policies:  []string{"root"},
		Root:      true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.persist(ctx, entry); err != nil {
		return nil, err
	}

	s.log.Info("Root token created")
	return entry, nil
}

// Lookup resolves a token ID. Unknown and expired tokens both return
// interfaces.ErrUnauthorized; an expired token is revoked on the spot.
func (s *Store) Lookup(ctx context.Context, id string) (*Entry, error) {
	if id == "" {
		return nil, interfaces.ErrUnauthorized
	}

	raw, err := s.view.Get(ctx, tokenPrefix+saltID(id))
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, interfaces.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(raw.Value, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode token entry: %w", err)
	}

	if entry.Expired() {
		if err := s.Revoke(ctx, entry.ID); err != nil {
			return nil, err
		}
		return nil, interfaces.ErrUnauthorized
	}
	return &entry, nil
}

// Renew extends a token's expiry by its original TTL. Non-renewable
// tokens fail; tokens without a TTL succeed unchanged.
func (s *Store) Renew(ctx context.Context, id string) (*Entry, error) {
	entry, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if entry.TTL == 0 {
		return entry, nil
	}
	if !entry.Renewable {
		return nil, fmt.Errorf("%w: token is not renewable", interfaces.ErrValidation)
	}
	if entry.Parent != "" {
		// A renewed child must still hang off a live parent chain.
		if _, err := s.Lookup(ctx, entry.Parent); err != nil {
			return nil, fmt.Errorf("%w: parent token revoked", interfaces.ErrValidation)
		}
	}

	entry.ExpiresAt = time.Now().UTC().Add(entry.TTL)
	if err := s.persist(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Revoke destroys a token and cascades to every descendant that shares
// its parent chain.
func (s *Store) Revoke(ctx context.Context, id string) error {
	salted := saltID(id)

	// Revoke children first so a crash mid-cascade cannot orphan a live
	// child under a revoked parent.
	childKeys, err := s.view.List(ctx, parentPrefix+salted+"/")
	if err != nil {
		return err
	}
	for _, childKey := range childKeys {
		index, err := s.view.Get(ctx, parentPrefix+salted+"/"+childKey)
		if errors.Is(err, interfaces.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := s.Revoke(ctx, string(index.Value)); err != nil {
			return err
		}
		if err := s.view.Delete(ctx, parentPrefix+salted+"/"+childKey); err != nil {
			return err
		}
	}

	if err := s.view.Delete(ctx, tokenPrefix+salted); err != nil {
		return err
	}

	s.log.Info("Token revoked")
	return nil
}

func (s *Store) persist(ctx context.Context, entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode token entry: %w", err)
	}
	return s.view.Put(ctx, &interfaces.PhysicalEntry{
		Key:   tokenPrefix + saltID(entry.ID),
		Value: raw,
	})
}
