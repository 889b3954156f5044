package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcare/secrets-core/common"
	"github.com/helixcare/secrets-core/interfaces"
)

func TestAdapter_KeyspaceRouting(t *testing.T) {
	a := NewAdapter(NewInmemBackend(), NewInmemMetadataStore())

	require.NoError(t, a.RegisterKeyspace("core/", KindSecret))
	require.NoError(t, a.RegisterKeyspace("sys/policies", KindMetadata))
	require.NoError(t, a.RegisterKeyspace("sys/", KindSecret))

	assert.Equal(t, KindSecret, a.KindFor("core/barrier-key"))
	assert.Equal(t, KindMetadata, a.KindFor("sys/policies/root/app-read"),
		"Longest prefix wins over sys/")
	assert.Equal(t, KindSecret, a.KindFor("sys/tokens/abc"))
	assert.Equal(t, KindSecret, a.KindFor("unregistered/key"),
		"Unregistered keys fail safe into the secret store")
}

func TestAdapter_EnforcesKeyspaceOwnership(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(NewInmemBackend(), NewInmemMetadataStore())

	require.NoError(t, a.RegisterKeyspace("sys/tokens/", KindSecret))
	require.NoError(t, a.RegisterKeyspace("sys/policies", KindMetadata))

	err := a.Metadata().Upsert(ctx, "sys/tokens/abc", []byte("token"))
	assert.ErrorIs(t, err, interfaces.ErrValidation,
		"Secret-store keys must not be writable in plaintext")
	_, err = a.Metadata().Get(ctx, "sys/tokens/abc")
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	err = a.Secrets().Put(ctx, &interfaces.PhysicalEntry{Key: "sys/policies/root/app", Value: []byte("rules")})
	assert.ErrorIs(t, err, interfaces.ErrValidation,
		"Metadata keys must not land behind the barrier")
	_, err = a.Secrets().List(ctx, "sys/policies/root/")
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	// Keys on their registered side pass through.
	require.NoError(t, a.Secrets().Put(ctx, &interfaces.PhysicalEntry{Key: "sys/tokens/abc", Value: []byte("ct")}))
	entry, err := a.Secrets().Get(ctx, "sys/tokens/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("ct"), entry.Value)

	require.NoError(t, a.Metadata().Upsert(ctx, "sys/policies/root/app", []byte("rules")))
	row, err := a.Metadata().Get(ctx, "sys/policies/root/app")
	require.NoError(t, err)
	assert.Equal(t, []byte("rules"), row.Value)
}

func TestAdapter_RebindRejected(t *testing.T) {
	a := NewAdapter(NewInmemBackend(), NewInmemMetadataStore())

	require.NoError(t, a.RegisterKeyspace("sys/realms/", KindMetadata))
	assert.NoError(t, a.RegisterKeyspace("sys/realms/", KindMetadata),
		"Re-registering the same binding is idempotent")
	assert.ErrorIs(t, a.RegisterKeyspace("sys/realms/", KindSecret), interfaces.ErrValidation,
		"Switching a keyspace between stores is rejected")
}

func TestFactory_BackendFor(t *testing.T) {
	f := NewFactory(common.TestLogger())

	backend, err := f.BackendFor("inmem://")
	require.NoError(t, err)
	assert.IsType(t, &InmemBackend{}, backend)

	described, ok := backend.(describedBackend)
	require.True(t, ok, "Every constructed backend can describe itself")
	assert.Equal(t, "inmem", described.Name())
	assert.Equal(t, "inmem://", described.LocationURI())

	backend, err = f.BackendFor("file://" + t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	_, err = f.BackendFor("gopher://nope")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)

	_, err = f.BackendFor("://broken")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)
}
