package barrier

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixcare/secrets-core/common"
	"github.com/helixcare/secrets-core/interfaces"
	"github.com/helixcare/secrets-core/storage"
)

func newTestBarrier(t *testing.T) (*Barrier, *storage.InmemBackend, []byte) {
	t.Helper()

	physical := storage.NewInmemBackend()
	b := NewBarrier(physical, common.TestLogger())

	rootKey, err := GenerateKey()
	require.NoError(t, err, "Failed to generate root key")
	require.NoError(t, b.Initialize(context.Background(), rootKey), "Initialize should succeed")

	return b, physical, rootKey
}

func TestBarrier_StartsSealed(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBarrier(t)

	assert.True(t, b.Sealed(), "Barrier should start sealed")

	_, err := b.Get(ctx, "secret/app")
	assert.ErrorIs(t, err, interfaces.ErrSealed, "Get should fail while sealed")

	err = b.Put(ctx, &interfaces.PhysicalEntry{Key: "secret/app", Value: []byte("v")})
	assert.ErrorIs(t, err, interfaces.ErrSealed, "Put should fail while sealed")

	err = b.Delete(ctx, "secret/app")
	assert.ErrorIs(t, err, interfaces.ErrSealed, "Delete should fail while sealed")

	_, err = b.List(ctx, "secret/")
	assert.ErrorIs(t, err, interfaces.ErrSealed, "List should fail while sealed")
}

func TestBarrier_InitializeOnce(t *testing.T) {
	ctx := context.Background()
	b, _, rootKey := newTestBarrier(t)

	err := b.Initialize(ctx, rootKey)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyInitialized, "Second initialize should fail")

	initialized, err := b.Initialized(ctx)
	require.NoError(t, err)
	assert.True(t, initialized, "Barrier should report initialized")
}

func TestBarrier_UnsealRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, _, rootKey := newTestBarrier(t)

	require.NoError(t, b.Unseal(ctx, rootKey), "Unseal should succeed with the right root key")
	assert.False(t, b.Sealed(), "Barrier should be unsealed")

	value := []byte("super-secret-value")
	require.NoError(t, b.Put(ctx, &interfaces.PhysicalEntry{Key: "secret/app/config", Value: value}))

	entry, err := b.Get(ctx, "secret/app/config")
	require.NoError(t, err, "Get should succeed while unsealed")
	assert.Equal(t, value, entry.Value, "Decrypted value should round-trip")

	keys, err := b.List(ctx, "secret/app/")
	require.NoError(t, err)
	assert.Equal(t, []string{"config"}, keys, "List should enumerate the entry")

	require.NoError(t, b.Delete(ctx, "secret/app/config"))
	_, err = b.Get(ctx, "secret/app/config")
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "Deleted entry should read back as not found")
}

func TestBarrier_Opacity(t *testing.T) {
	ctx := context.Background()
	b, physical, rootKey := newTestBarrier(t)
	require.NoError(t, b.Unseal(ctx, rootKey))

	value := []byte("patient-record-encryption-key")
	require.NoError(t, b.Put(ctx, &interfaces.PhysicalEntry{Key: "secret/ehr/dek", Value: value}))

	raw, err := physical.Get(ctx, "secret/ehr/dek")
	require.NoError(t, err, "Ciphertext should exist in physical storage")
	assert.False(t, bytes.Contains(raw.Value, value),
		"Physical storage must never contain the plaintext")
	assert.Greater(t, len(raw.Value), len(value), "Ciphertext carries term, nonce and tag")
}

func TestBarrier_FreshNoncePerWrite(t *testing.T) {
	ctx := context.Background()
	b, physical, rootKey := newTestBarrier(t)
	require.NoError(t, b.Unseal(ctx, rootKey))

	value := []byte("same-value")
	require.NoError(t, b.Put(ctx, &interfaces.PhysicalEntry{Key: "secret/a", Value: value}))
	first, err := physical.Get(ctx, "secret/a")
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, &interfaces.PhysicalEntry{Key: "secret/a", Value: value}))
	second, err := physical.Get(ctx, "secret/a")
	require.NoError(t, err)

	assert.NotEqual(t, first.Value, second.Value,
		"Re-encrypting the same value must produce different ciphertext")
}

func TestBarrier_WrongRootKeyRejected(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBarrier(t)

	wrongKey, err := GenerateKey()
	require.NoError(t, err)

	err = b.Unseal(ctx, wrongKey)
	assert.ErrorIs(t, err, interfaces.ErrInvalidShare, "Wrong root key must fail the integrity check")
	assert.True(t, b.Sealed(), "Barrier must stay sealed after a failed unseal")
}

func TestBarrier_TamperDetection(t *testing.T) {
	ctx := context.Background()
	b, physical, rootKey := newTestBarrier(t)
	require.NoError(t, b.Unseal(ctx, rootKey))

	require.NoError(t, b.Put(ctx, &interfaces.PhysicalEntry{Key: "secret/x", Value: []byte("v")}))

	raw, err := physical.Get(ctx, "secret/x")
	require.NoError(t, err)
	raw.Value[len(raw.Value)-1] ^= 0xff
	require.NoError(t, physical.Put(ctx, raw))

	_, err = b.Get(ctx, "secret/x")
	assert.ErrorIs(t, err, interfaces.ErrIntegrity, "Tampered ciphertext must fail authentication")
}

func TestBarrier_EntryBoundToPath(t *testing.T) {
	ctx := context.Background()
	b, physical, rootKey := newTestBarrier(t)
	require.NoError(t, b.Unseal(ctx, rootKey))

	require.NoError(t, b.Put(ctx, &interfaces.PhysicalEntry{Key: "secret/src", Value: []byte("v")}))

	raw, err := physical.Get(ctx, "secret/src")
	require.NoError(t, err)
	require.NoError(t, physical.Put(ctx, &interfaces.PhysicalEntry{Key: "secret/dst", Value: raw.Value}))

	_, err = b.Get(ctx, "secret/dst")
	assert.ErrorIs(t, err, interfaces.ErrIntegrity, "Ciphertext copied to another path must not decrypt")
}

func TestBarrier_SealDropsAccess(t *testing.T) {
	ctx := context.Background()
	b, _, rootKey := newTestBarrier(t)
	require.NoError(t, b.Unseal(ctx, rootKey))

	require.NoError(t, b.Put(ctx, &interfaces.PhysicalEntry{Key: "secret/y", Value: []byte("v")}))

	b.Seal()
	assert.True(t, b.Sealed(), "Barrier should be sealed")

	_, err := b.Get(ctx, "secret/y")
	assert.ErrorIs(t, err, interfaces.ErrSealed, "Get should fail after seal")

	// Unseal again; previously written data must still decrypt.
	require.NoError(t, b.Unseal(ctx, rootKey))
	entry, err := b.Get(ctx, "secret/y")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), entry.Value, "Data written before seal should survive")
}
