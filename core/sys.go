package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helixcare/secrets-core/interfaces"
	"github.com/helixcare/secrets-core/policy"
	"github.com/helixcare/secrets-core/realm"
	"github.com/helixcare/secrets-core/token"
)

// System operations: mount management, policies, tokens and realms.
// These never route through mounted backends; the core serves them
// directly, with the same token and policy checks as logical requests.

// MountBackend registers a new mount and persists the mount table.
func (c *Core) MountBackend(ctx context.Context, tokenID string, entry *MountEntry) error {
	if !c.ready() {
		return interfaces.ErrSealed
	}
	caller, err := c.requireSudo(ctx, tokenID, "sys/mounts/"+entry.Path)
	if err != nil {
		return err
	}

	// Tenant callers may only mount inside their own realm.
	if caller.RealmID != realm.RootRealmID {
		entry.RealmID = caller.RealmID
	}

	backend, err := c.buildBackend(entry)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.router.Mount(entry, backend); err != nil {
		return err
	}
	if err := c.persistMountTable(ctx, c.router.Mounts()); err != nil {
		c.router.Unmount(entry.Path) //nolint:errcheck
		return err
	}

	c.log.Info("Backend mounted",
		slog.String("path", entry.Path),
		slog.String("type", entry.Type))
	return nil
}

// UnmountBackend removes a mount. Data under the mount's keyspace stays
// in storage and becomes reachable again if the path is remounted.
func (c *Core) UnmountBackend(ctx context.Context, tokenID, path string) error {
	if !c.ready() {
		return interfaces.ErrSealed
	}
	caller, err := c.requireSudo(ctx, tokenID, "sys/mounts/"+path)
	if err != nil {
		return err
	}

	mount, _, err := c.router.Resolve(path)
	if err != nil {
		return err
	}
	if err := c.realms.Authorize(caller.RealmID, mount.RealmID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.router.Unmount(path); err != nil {
		return err
	}
	if err := c.persistMountTable(ctx, c.router.Mounts()); err != nil {
		return err
	}

	c.log.Info("Backend unmounted", slog.String("path", path))
	return nil
}

// ListMounts returns the mounts visible to the caller's realm.
func (c *Core) ListMounts(ctx context.Context, tokenID string) ([]*MountEntry, error) {
	if !c.ready() {
		return nil, interfaces.ErrSealed
	}
	caller, err := c.authorizeSys(ctx, tokenID, "sys/mounts", interfaces.ListOperation)
	if err != nil {
		return nil, err
	}

	var visible []*MountEntry
	for _, mount := range c.router.Mounts() {
		if c.realms.Authorize(caller.RealmID, mount.RealmID) == nil {
			visible = append(visible, mount)
		}
	}
	return visible, nil
}

// SetPolicy stores a policy in the caller's realm. Tenant callers cannot
// plant policies into other realms.
func (c *Core) SetPolicy(ctx context.Context, tokenID string, p *policy.Policy) error {
	if !c.ready() {
		return interfaces.ErrSealed
	}
	caller, err := c.authorizeSys(ctx, tokenID, "sys/policies/"+p.Name, interfaces.WriteOperation)
	if err != nil {
		return err
	}
	if caller.RealmID != realm.RootRealmID {
		p.RealmID = caller.RealmID
	}
	return c.policies.Set(ctx, p)
}

// GetPolicy fetches a policy from the caller's realm.
func (c *Core) GetPolicy(ctx context.Context, tokenID, name string) (*policy.Policy, error) {
	if !c.ready() {
		return nil, interfaces.ErrSealed
	}
	caller, err := c.authorizeSys(ctx, tokenID, "sys/policies/"+name, interfaces.ReadOperation)
	if err != nil {
		return nil, err
	}
	return c.policies.Get(ctx, caller.RealmID, name)
}

// DeletePolicy removes a policy from the caller's realm. Tokens already
// referencing it simply lose the grants it carried.
func (c *Core) DeletePolicy(ctx context.Context, tokenID, name string) error {
	if !c.ready() {
		return interfaces.ErrSealed
	}
	caller, err := c.authorizeSys(ctx, tokenID, "sys/policies/"+name, interfaces.DeleteOperation)
	if err != nil {
		return err
	}
	return c.policies.Delete(ctx, caller.RealmID, name)
}

// ListPolicies names the policies in the caller's realm.
func (c *Core) ListPolicies(ctx context.Context, tokenID string) ([]string, error) {
	if !c.ready() {
		return nil, interfaces.ErrSealed
	}
	caller, err := c.authorizeSys(ctx, tokenID, "sys/policies", interfaces.ListOperation)
	if err != nil {
		return nil, err
	}
	return c.policies.List(ctx, caller.RealmID)
}

// CreateToken mints a child of the calling token. Non-root callers may
// only grant policies they themselves hold.
func (c *Core) CreateToken(ctx context.Context, tokenID string, opts token.CreateOptions) (*token.Entry, error) {
	if !c.ready() {
		return nil, interfaces.ErrSealed
	}
	caller, err := c.authorizeSys(ctx, tokenID, "sys/tokens/create", interfaces.WriteOperation)
	if err != nil {
		return nil, err
	}

	if !caller.Root {
		held := map[string]bool{}
		for _, name := range caller.Policies {
			held[name] = true
		}
		for _, name := range opts.Policies {
			if !held[name] {
				return nil, fmt.Errorf("%w: cannot grant policy %q the caller does not hold",
					interfaces.ErrForbidden, name)
			}
		}
	}

	opts.Parent = caller.ID
	opts.RealmID = caller.RealmID
	return c.tokens.Create(ctx, opts)
}

// RenewToken renews the calling token.
func (c *Core) RenewToken(ctx context.Context, tokenID string) (*token.Entry, error) {
	if !c.ready() {
		return nil, interfaces.ErrSealed
	}
	return c.tokens.Renew(ctx, tokenID)
}

// LookupSelf returns the calling token's own entry.
func (c *Core) LookupSelf(ctx context.Context, tokenID string) (*token.Entry, error) {
	if !c.ready() {
		return nil, interfaces.ErrSealed
	}
	return c.tokens.Lookup(ctx, tokenID)
}

// RevokeToken revokes a token and its descendants. Self-revocation is
// always allowed; revoking another token takes sudo on sys/tokens.
func (c *Core) RevokeToken(ctx context.Context, tokenID, targetID string) error {
	if !c.ready() {
		return interfaces.ErrSealed
	}

	caller, err := c.tokens.Lookup(ctx, tokenID)
	if err != nil {
		return err
	}
	if targetID == "" || targetID == caller.ID {
		return c.tokens.Revoke(ctx, caller.ID)
	}

	if _, err := c.requireSudo(ctx, tokenID, "sys/tokens"); err != nil {
		return err
	}

	target, err := c.tokens.Lookup(ctx, targetID)
	if err != nil {
		return err
	}
	if err := c.realms.Authorize(caller.RealmID, target.RealmID); err != nil {
		return err
	}
	return c.tokens.Revoke(ctx, target.ID)
}

// GetOrCreateRealm binds an organization to its realm, creating it on
// first use. Only root-realm callers manage realms.
func (c *Core) GetOrCreateRealm(ctx context.Context, tokenID, orgID, name string) (*realm.Realm, error) {
	if !c.ready() {
		return nil, interfaces.ErrSealed
	}
	caller, err := c.requireSudo(ctx, tokenID, "sys/realms")
	if err != nil {
		return nil, err
	}
	if caller.RealmID != realm.RootRealmID {
		return nil, fmt.Errorf("%w: realm management is root-realm only", interfaces.ErrForbidden)
	}
	return c.realms.GetOrCreateForOrganization(ctx, orgID, name)
}

// ListRealms names every realm.
func (c *Core) ListRealms(ctx context.Context, tokenID string) ([]string, error) {
	if !c.ready() {
		return nil, interfaces.ErrSealed
	}
	caller, err := c.authorizeSys(ctx, tokenID, "sys/realms", interfaces.ListOperation)
	if err != nil {
		return nil, err
	}
	if caller.RealmID != realm.RootRealmID {
		return nil, fmt.Errorf("%w: realm management is root-realm only", interfaces.ErrForbidden)
	}
	return c.realms.List(ctx)
}
