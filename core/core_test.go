package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcare/secrets-core/common"
	"github.com/helixcare/secrets-core/interfaces"
	"github.com/helixcare/secrets-core/policy"
	"github.com/helixcare/secrets-core/seal"
	"github.com/helixcare/secrets-core/storage"
	"github.com/helixcare/secrets-core/token"
)

func newTestCore(t *testing.T) (*Core, string, [][]byte) {
	t.Helper()
	ctx := context.Background()

	c, err := New(Config{
		Physical: storage.NewInmemBackend(),
		Metadata: storage.NewInmemMetadataStore(),
		Log:      common.TestLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	result, err := c.Initialize(ctx, seal.Config{SecretShares: 5, SecretThreshold: 3})
	require.NoError(t, err, "Initialize should succeed")
	require.Len(t, result.Shares, 5)
	require.NotEmpty(t, result.RootToken)

	return c, result.RootToken, result.Shares
}

func unsealTestCore(t *testing.T, c *Core, shares [][]byte) {
	t.Helper()
	ctx := context.Background()

	for i, share := range shares[:3] {
		status, err := c.Unseal(ctx, share)
		require.NoError(t, err, "Share %d should be accepted", i)
		if i < 2 {
			require.True(t, status.Sealed)
		} else {
			require.False(t, status.Sealed, "Quorum should unseal")
		}
	}
}

func TestCore_InitializeLeavesBarrierSealed(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)

	assert.True(t, c.Sealed(), "Initialization must not leave the barrier open")

	_, err := c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "secret/app",
		ClientToken: rootToken,
	})
	assert.ErrorIs(t, err, interfaces.ErrSealed, "Sealed core fails fast")

	_, err = c.Initialize(ctx, seal.Config{SecretShares: 1, SecretThreshold: 1})
	assert.ErrorIs(t, err, interfaces.ErrAlreadyInitialized)

	unsealTestCore(t, c, shares)
	assert.False(t, c.Sealed())
}

func TestCore_InitRootTokenSingleUse(t *testing.T) {
	c, rootToken, _ := newTestCore(t)

	stashed, ok := c.InitRootToken()
	require.True(t, ok, "Stash window is open right after init")
	assert.Equal(t, rootToken, stashed)

	_, ok = c.InitRootToken()
	assert.False(t, ok, "The stashed root token is single use")
}

func TestCore_SecretRoundTripWithRootToken(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)
	unsealTestCore(t, c, shares)

	_, err := c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.WriteOperation,
		Path:        "secret/app/config",
		ClientToken: rootToken,
		Data:        map[string]interface{}{"db_password": "hunter2"},
	})
	require.NoError(t, err, "Root token writes anywhere")

	resp, err := c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "secret/app/config",
		ClientToken: rootToken,
	})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", resp.Data["db_password"])

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.DeleteOperation,
		Path:        "secret/app/config",
		ClientToken: rootToken,
	})
	require.NoError(t, err)

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "secret/app/config",
		ClientToken: rootToken,
	})
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "Deleted entries read back as not found")

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "nomount/key",
		ClientToken: rootToken,
	})
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "Unrouted paths are not found")
}

func TestCore_PolicyEnforcement(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)
	unsealTestCore(t, c, shares)

	require.NoError(t, c.SetPolicy(ctx, rootToken, &policy.Policy{
		Name: "app-read",
		Rules: []policy.PathRule{
			{Pattern: "secret/app/*", Capabilities: []policy.Capability{policy.ReadCapability}},
		},
	}))

	scoped, err := c.CreateToken(ctx, rootToken, token.CreateOptions{
		Policies: []string{"app-read"},
		TTL:      time.Hour,
	})
	require.NoError(t, err)

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.WriteOperation,
		Path:        "secret/app/config",
		ClientToken: rootToken,
		Data:        map[string]interface{}{"k": "v"},
	})
	require.NoError(t, err)

	resp, err := c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "secret/app/config",
		ClientToken: scoped.ID,
	})
	require.NoError(t, err, "Granted read should pass")
	assert.Equal(t, "v", resp.Data["k"])

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.WriteOperation,
		Path:        "secret/app/config",
		ClientToken: scoped.ID,
		Data:        map[string]interface{}{"k": "x"},
	})
	assert.ErrorIs(t, err, interfaces.ErrForbidden, "Write was never granted")

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "secret/other/thing",
		ClientToken: scoped.ID,
	})
	assert.ErrorIs(t, err, interfaces.ErrForbidden, "Paths outside the grant are forbidden")

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "secret/app/config",
		ClientToken: "st.bogus",
	})
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized, "Unknown tokens are rejected before ACL checks")
}

func TestCore_DenyOverridesAcrossPolicies(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)
	unsealTestCore(t, c, shares)

	require.NoError(t, c.SetPolicy(ctx, rootToken, &policy.Policy{
		Name: "app-read",
		Rules: []policy.PathRule{
			{Pattern: "secret/app/*", Capabilities: []policy.Capability{policy.ReadCapability}},
		},
	}))
	require.NoError(t, c.SetPolicy(ctx, rootToken, &policy.Policy{
		Name: "block-config",
		Rules: []policy.PathRule{
			{Pattern: "secret/app/config", Capabilities: []policy.Capability{policy.DenyCapability}},
		},
	}))

	scoped, err := c.CreateToken(ctx, rootToken, token.CreateOptions{
		Policies: []string{"app-read", "block-config"},
		TTL:      time.Hour,
	})
	require.NoError(t, err)

	caps, err := c.Capabilities(ctx, scoped.ID, "secret/app/config")
	require.NoError(t, err)
	assert.Equal(t, []policy.Capability{policy.DenyCapability}, caps)

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "secret/app/config",
		ClientToken: scoped.ID,
	})
	assert.ErrorIs(t, err, interfaces.ErrForbidden, "Deny wins over the sibling grant")

	caps, err = c.Capabilities(ctx, scoped.ID, "secret/app/other")
	require.NoError(t, err)
	assert.Equal(t, []policy.Capability{policy.ReadCapability}, caps, "Deny stays scoped to its path")
}

func TestCore_TokenCreationSubsetRule(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)
	unsealTestCore(t, c, shares)

	require.NoError(t, c.SetPolicy(ctx, rootToken, &policy.Policy{
		Name: "ops",
		Rules: []policy.PathRule{
			{Pattern: "sys/tokens/*", Capabilities: []policy.Capability{policy.WriteCapability}},
			{Pattern: "secret/*", Capabilities: []policy.Capability{policy.ReadCapability}},
		},
	}))

	parent, err := c.CreateToken(ctx, rootToken, token.CreateOptions{
		Policies: []string{"ops"},
		TTL:      time.Hour,
	})
	require.NoError(t, err)

	child, err := c.CreateToken(ctx, parent.ID, token.CreateOptions{
		Policies: []string{"ops"},
		TTL:      time.Minute,
	})
	require.NoError(t, err, "A caller may grant policies it holds")
	assert.Equal(t, parent.ID, child.Parent)

	_, err = c.CreateToken(ctx, parent.ID, token.CreateOptions{
		Policies: []string{"root-adjacent"},
		TTL:      time.Minute,
	})
	assert.ErrorIs(t, err, interfaces.ErrForbidden, "Escalating beyond held policies must fail")
}

func TestCore_RevocationCascadesThroughCore(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)
	unsealTestCore(t, c, shares)

	require.NoError(t, c.SetPolicy(ctx, rootToken, &policy.Policy{
		Name: "ops",
		Rules: []policy.PathRule{
			{Pattern: "sys/tokens/*", Capabilities: []policy.Capability{policy.WriteCapability}},
		},
	}))

	parent, err := c.CreateToken(ctx, rootToken, token.CreateOptions{Policies: []string{"ops"}, TTL: time.Hour})
	require.NoError(t, err)
	child, err := c.CreateToken(ctx, parent.ID, token.CreateOptions{Policies: []string{"ops"}, TTL: time.Hour})
	require.NoError(t, err)

	require.NoError(t, c.RevokeToken(ctx, rootToken, parent.ID), "Root may revoke other tokens")

	_, err = c.LookupSelf(ctx, child.ID)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized, "Revocation cascades to descendants")
}

func TestCore_LoginThroughCore(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)
	unsealTestCore(t, c, shares)

	_, err := c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.WriteOperation,
		Path:        "auth/userpass/users/alice",
		ClientToken: rootToken,
		Data:        map[string]interface{}{"password": "hunter2", "policies": []interface{}{"app-read"}},
	})
	require.NoError(t, err, "Root configures the user")

	resp, err := c.HandleRequest(ctx, &interfaces.Request{
		Operation: interfaces.WriteOperation,
		Path:      "auth/userpass/login",
		Data:      map[string]interface{}{"username": "alice", "password": "hunter2"},
	})
	require.NoError(t, err, "Login needs no client token")

	minted, _ := resp.Data["token"].(string)
	require.NotEmpty(t, minted)
	require.NotNil(t, resp.Lease)
	assert.True(t, resp.Lease.Renewable)

	entry, err := c.LookupSelf(ctx, minted)
	require.NoError(t, err)
	assert.Equal(t, []string{"app-read"}, entry.Policies)

	// The minted token holds a dangling policy, so it can do nothing.
	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "secret/app/config",
		ClientToken: minted,
	})
	assert.ErrorIs(t, err, interfaces.ErrForbidden)

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation: interfaces.WriteOperation,
		Path:      "auth/userpass/login",
		Data:      map[string]interface{}{"username": "alice", "password": "wrong"},
	})
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestCore_SealRequiresSudoAndBlocksRequests(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)
	unsealTestCore(t, c, shares)

	scoped, err := c.CreateToken(ctx, rootToken, token.CreateOptions{TTL: time.Hour})
	require.NoError(t, err)

	err = c.Seal(ctx, scoped.ID)
	assert.ErrorIs(t, err, interfaces.ErrForbidden, "Sealing takes sudo")
	assert.False(t, c.Sealed())

	require.NoError(t, c.Seal(ctx, rootToken), "Root may seal")
	assert.True(t, c.Sealed())

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "secret/app",
		ClientToken: rootToken,
	})
	assert.ErrorIs(t, err, interfaces.ErrSealed)

	// The same shares reassemble the root key again.
	unsealTestCore(t, c, shares)
	assert.False(t, c.Sealed())
}

func TestCore_RequestsFailClosedUntilRoutingReady(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)

	// Feed the quorum straight to the seal manager: the barrier key is
	// installed but the mount table has not been loaded yet.
	for i, share := range shares[:3] {
		_, err := c.sealer.Unseal(ctx, share)
		require.NoError(t, err, "Share %d should be accepted", i)
	}
	require.False(t, c.barrier.Sealed())

	_, err := c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "secret/app",
		ClientToken: rootToken,
	})
	assert.ErrorIs(t, err, interfaces.ErrSealed,
		"Requests fail closed, not NotFound, before routing is online")

	err = c.MountBackend(ctx, rootToken, &MountEntry{Path: "extra/", Type: "kv"})
	assert.ErrorIs(t, err, interfaces.ErrSealed,
		"Mount-table edits wait for routing too")

	// Completing the unseal through the core loads the mounts and opens
	// the gate.
	status, err := c.Unseal(ctx, shares[3])
	require.NoError(t, err)
	require.False(t, status.Sealed)

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.WriteOperation,
		Path:        "secret/app",
		Data:        map[string]interface{}{"k": "v"},
		ClientToken: rootToken,
	})
	assert.NoError(t, err)
}

func TestCore_MountManagement(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)
	unsealTestCore(t, c, shares)

	mounts, err := c.ListMounts(ctx, rootToken)
	require.NoError(t, err)
	require.Len(t, mounts, 3, "Default mounts: secret/, auth/userpass/, auth/approle/")

	require.NoError(t, c.MountBackend(ctx, rootToken, &MountEntry{Path: "team-a/", Type: "kv"}))

	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.WriteOperation,
		Path:        "team-a/deploy-key",
		ClientToken: rootToken,
		Data:        map[string]interface{}{"key": "value"},
	})
	require.NoError(t, err, "The new mount routes")

	err = c.MountBackend(ctx, rootToken, &MountEntry{Path: "team-a/nested/", Type: "kv"})
	assert.ErrorIs(t, err, interfaces.ErrValidation, "Nested mounts are rejected")

	err = c.MountBackend(ctx, rootToken, &MountEntry{Path: "sys/evil/", Type: "kv"})
	assert.ErrorIs(t, err, interfaces.ErrValidation, "The sys/ prefix is reserved")

	require.NoError(t, c.UnmountBackend(ctx, rootToken, "team-a/"))
	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "team-a/deploy-key",
		ClientToken: rootToken,
	})
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "Unmounted paths stop routing")
}

func TestCore_MountTableSurvivesSealCycle(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)
	unsealTestCore(t, c, shares)

	require.NoError(t, c.MountBackend(ctx, rootToken, &MountEntry{Path: "team-a/", Type: "kv"}))
	_, err := c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.WriteOperation,
		Path:        "team-a/secret",
		ClientToken: rootToken,
		Data:        map[string]interface{}{"k": "v"},
	})
	require.NoError(t, err)

	require.NoError(t, c.Seal(ctx, rootToken))
	unsealTestCore(t, c, shares)

	resp, err := c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "team-a/secret",
		ClientToken: rootToken,
	})
	require.NoError(t, err, "Custom mounts reload from the persisted table")
	assert.Equal(t, "v", resp.Data["k"])
}

func TestCore_RealmIsolation(t *testing.T) {
	ctx := context.Background()
	c, rootToken, shares := newTestCore(t)
	unsealTestCore(t, c, shares)

	tenant, err := c.GetOrCreateRealm(ctx, rootToken, "org-acme", "Acme")
	require.NoError(t, err)

	require.NoError(t, c.SetPolicy(ctx, rootToken, &policy.Policy{
		Name:    "tenant-read",
		RealmID: tenant.ID,
		Rules: []policy.PathRule{
			{Pattern: "secret/*", Capabilities: []policy.Capability{policy.ReadCapability}},
		},
	}))

	// Mint a tenant-realm token directly through the token store.
	tenantToken, err := c.tokens.Create(ctx, token.CreateOptions{
		Policies: []string{"tenant-read"},
		RealmID:  tenant.ID,
		TTL:      time.Hour,
	})
	require.NoError(t, err)

	// The default secret/ mount lives in the root realm, which tenant
	// tokens cannot cross into.
	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.ReadOperation,
		Path:        "secret/app",
		ClientToken: tenantToken.ID,
	})
	assert.ErrorIs(t, err, interfaces.ErrForbidden, "Tenant tokens must not cross the realm boundary")

	// A mount in the tenant realm is reachable for the tenant token and
	// for root-realm callers.
	require.NoError(t, c.MountBackend(ctx, rootToken, &MountEntry{
		Path: "acme/", Type: "kv", RealmID: tenant.ID,
	}))
	_, err = c.HandleRequest(ctx, &interfaces.Request{
		Operation:   interfaces.WriteOperation,
		Path:        "acme/creds",
		ClientToken: rootToken,
		Data:        map[string]interface{}{"k": "v"},
	})
	require.NoError(t, err, "Root-realm callers may act in any realm")

	_, err = c.GetOrCreateRealm(ctx, tenantToken.ID, "org-other", "Other")
	assert.ErrorIs(t, err, interfaces.ErrForbidden, "Realm management is root-realm only")
}
