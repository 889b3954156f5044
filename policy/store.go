package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/helixcare/secrets-core/interfaces"
)

// storePrefix roots policy rows in the metadata store. Policies are
// operational data that administrators list and filter, so they live in
// the plaintext metadata store, not behind the barrier.
const storePrefix = "sys/policies/"

// Store persists policies per realm and serves the snapshots the router
// evaluates.
type Store struct {
	meta interfaces.MetadataStore
	log  *slog.Logger
}

// NewStore creates a policy store over the metadata store.
func NewStore(meta interfaces.MetadataStore, log *slog.Logger) *Store {
	return &Store{meta: meta, log: log}
}

func storeKey(realmID, name string) string {
	if realmID == "" {
		realmID = "root"
	}
	return storePrefix + realmID + "/" + name
}

// Set validates and persists a policy.
func (s *Store) Set(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	raw, err := p.Marshal()
	if err != nil {
		return err
	}
	if err := s.meta.Upsert(ctx, storeKey(p.RealmID, p.Name), raw); err != nil {
		return err
	}

	s.log.Info("Policy written",
		slog.String("policy", p.Name),
		slog.String("realm", p.RealmID),
		slog.Int("rules", len(p.Rules)))
	return nil
}

// Get loads one policy. Returns interfaces.ErrNotFound if it doesn't
// exist.
func (s *Store) Get(ctx context.Context, realmID, name string) (*Policy, error) {
	entry, err := s.meta.Get(ctx, storeKey(realmID, name))
	if err != nil {
		return nil, err
	}
	return Parse(entry.Value)
}

// Delete removes a policy. Tokens referencing it lose its grants on their
// next evaluation; dangling references never grant.
func (s *Store) Delete(ctx context.Context, realmID, name string) error {
	if name == RootPolicyName {
		return fmt.Errorf("%w: policy %q cannot be deleted", interfaces.ErrValidation, RootPolicyName)
	}
	if err := s.meta.Delete(ctx, storeKey(realmID, name)); err != nil {
		return err
	}

	s.log.Info("Policy deleted", slog.String("policy", name), slog.String("realm", realmID))
	return nil
}

// List returns the policy names in a realm, sorted.
func (s *Store) List(ctx context.Context, realmID string) ([]string, error) {
	prefix := storeKey(realmID, "")
	keys, err := s.meta.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimPrefix(key, prefix))
	}
	return names, nil
}

// Resolve loads the named policies for ACL construction. Missing policies
// resolve to nil entries, which grant nothing.
func (s *Store) Resolve(ctx context.Context, realmID string, names []string) ([]*Policy, error) {
	policies := make([]*Policy, 0, len(names))
	for _, name := range names {
		if name == RootPolicyName {
			continue
		}
		p, err := s.Get(ctx, realmID, name)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				policies = append(policies, nil)
				continue
			}
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}
