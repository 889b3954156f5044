package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcare/secrets-core/common"
	"github.com/helixcare/secrets-core/interfaces"
	"github.com/helixcare/secrets-core/storage"
)

func TestACL_DenyByDefault(t *testing.T) {
	acl := NewACL(nil, false)

	assert.False(t, acl.Allows(interfaces.ReadOperation, "secret/app/config"),
		"No policies means no access")
	assert.Empty(t, acl.Capabilities("secret/app/config"))
}

func TestACL_GlobGrant(t *testing.T) {
	appRead := &Policy{
		Name: "app-read",
		Rules: []PathRule{
			{Pattern: "secret/app/*", Capabilities: []Capability{ReadCapability, ListCapability}},
		},
	}
	acl := NewACL([]*Policy{appRead}, false)

	assert.True(t, acl.Allows(interfaces.ReadOperation, "secret/app/config"),
		"Glob grant should cover secret/app/config")
	assert.True(t, acl.Allows(interfaces.ListOperation, "secret/app/db"),
		"List capability is granted")
	assert.False(t, acl.Allows(interfaces.WriteOperation, "secret/app/config"),
		"Write was not granted")
	assert.False(t, acl.Allows(interfaces.ReadOperation, "secret/other/config"),
		"Paths outside the glob are forbidden")
}

func TestACL_DenyOverridesGrant(t *testing.T) {
	appRead := &Policy{
		Name: "app-read",
		Rules: []PathRule{
			{Pattern: "secret/app/*", Capabilities: []Capability{ReadCapability}},
		},
	}
	blockConfig := &Policy{
		Name: "block-config",
		Rules: []PathRule{
			{Pattern: "secret/app/config", Capabilities: []Capability{DenyCapability}},
		},
	}

	acl := NewACL([]*Policy{appRead, blockConfig}, false)

	assert.False(t, acl.Allows(interfaces.ReadOperation, "secret/app/config"),
		"Explicit deny must override the other policy's grant")
	assert.Equal(t, []Capability{DenyCapability}, acl.Capabilities("secret/app/config"))

	assert.True(t, acl.Allows(interfaces.ReadOperation, "secret/app/other"),
		"Deny is scoped to its matching path")
}

func TestACL_SpecificityWithinPolicy(t *testing.T) {
	p := &Policy{
		Name: "tiered",
		Rules: []PathRule{
			{Pattern: "*", Capabilities: []Capability{ListCapability}},
			{Pattern: "secret/*", Capabilities: []Capability{ReadCapability}},
			{Pattern: "secret/app/config", Capabilities: []Capability{WriteCapability}},
		},
	}
	acl := NewACL([]*Policy{p}, false)

	// Exact rule wins over both globs.
	assert.Equal(t, []Capability{WriteCapability}, acl.Capabilities("secret/app/config"),
		"Exact path rule is the most specific")

	// Longest literal prefix wins among globs.
	assert.Equal(t, []Capability{ReadCapability}, acl.Capabilities("secret/db/creds"),
		"secret/* is more specific than *")

	// Bare wildcard only applies elsewhere.
	assert.Equal(t, []Capability{ListCapability}, acl.Capabilities("sys/mounts"),
		"Bare wildcard is the fallback")
}

func TestACL_UnionAcrossPolicies(t *testing.T) {
	reader := &Policy{
		Name:  "reader",
		Rules: []PathRule{{Pattern: "secret/*", Capabilities: []Capability{ReadCapability}}},
	}
	writer := &Policy{
		Name:  "writer",
		Rules: []PathRule{{Pattern: "secret/*", Capabilities: []Capability{WriteCapability}}},
	}
	acl := NewACL([]*Policy{reader, writer}, false)

	caps := acl.Capabilities("secret/app")
	assert.ElementsMatch(t, []Capability{ReadCapability, WriteCapability}, caps,
		"Capabilities union across attached policies")
}

func TestACL_DanglingPolicyGrantsNothing(t *testing.T) {
	acl := NewACL([]*Policy{nil}, false)
	assert.False(t, acl.Allows(interfaces.ReadOperation, "secret/app"),
		"A deleted policy reference must not grant")
}

func TestACL_Root(t *testing.T) {
	acl := NewACL(nil, true)
	assert.True(t, acl.Allows(interfaces.DeleteOperation, "sys/policies/anything"),
		"Root bypasses rule evaluation")
	assert.Contains(t, acl.Capabilities("secret/x"), SudoCapability)
}

func TestParse_Validation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"name": `},
		{"missing name", `{"rules":[{"path":"a","capabilities":["read"]}]}`},
		{"reserved name", `{"name":"root","rules":[{"path":"a","capabilities":["read"]}]}`},
		{"no rules", `{"name":"p"}`},
		{"leading slash", `{"name":"p","rules":[{"path":"/a","capabilities":["read"]}]}`},
		{"empty capabilities", `{"name":"p","rules":[{"path":"a","capabilities":[]}]}`},
		{"unknown capability", `{"name":"p","rules":[{"path":"a","capabilities":["fly"]}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			assert.ErrorIs(t, err, interfaces.ErrValidation)
		})
	}

	p, err := Parse([]byte(`{"name":"ok","rules":[{"path":"secret/*","capabilities":["read","deny"]}]}`))
	require.NoError(t, err, "Valid policy should parse")
	assert.Equal(t, "ok", p.Name)
}

func TestStore_CRUDAndResolve(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewInmemMetadataStore(), common.TestLogger())

	p := &Policy{
		Name:  "app-read",
		Rules: []PathRule{{Pattern: "secret/app/*", Capabilities: []Capability{ReadCapability}}},
	}
	require.NoError(t, store.Set(ctx, p), "Set should succeed")

	got, err := store.Get(ctx, "", "app-read")
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.Rules, got.Rules)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"app-read"}, names)

	resolved, err := store.Resolve(ctx, "", []string{"app-read", "missing"})
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.NotNil(t, resolved[0])
	assert.Nil(t, resolved[1], "Missing policy resolves to nil")

	require.NoError(t, store.Delete(ctx, "", "app-read"))
	_, err = store.Get(ctx, "", "app-read")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	err = store.Delete(ctx, "", RootPolicyName)
	assert.ErrorIs(t, err, interfaces.ErrValidation, "Root policy cannot be deleted")
}

func TestStore_RealmScoping(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewInmemMetadataStore(), common.TestLogger())

	require.NoError(t, store.Set(ctx, &Policy{
		Name:    "scoped",
		RealmID: "realm-a",
		Rules:   []PathRule{{Pattern: "secret/*", Capabilities: []Capability{ReadCapability}}},
	}))

	_, err := store.Get(ctx, "realm-b", "scoped")
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "Policies are invisible across realms")

	got, err := store.Get(ctx, "realm-a", "scoped")
	require.NoError(t, err)
	assert.Equal(t, "realm-a", got.RealmID)
}
