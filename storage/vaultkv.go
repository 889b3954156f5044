package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/helixcare/secrets-core/interfaces"
)

// VaultKVBackend implements a physical backend on an external HashiCorp
// Vault KV v2 mount. It exists for hosting the ciphertext tree in a managed
// KV, typically while migrating off a legacy deployment; the external Vault
// only ever sees barrier ciphertext.
type VaultKVBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultKVBackend creates a Vault-KV-hosted physical backend.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "kv")
//   - dataPath: path within the mount under which entries live
//   - token: Vault token used for all operations
func NewVaultKVBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultKVBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultKVBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Get retrieves an entry from the KV v2 mount.
// Returns interfaces.ErrNotFound if the path holds no secret.
func (b *VaultKVBackend) Get(ctx context.Context, key string) (*interfaces.PhysicalEntry, error) {
	if err := interfaces.ValidatePhysicalKey(key); err != nil {
		return nil, err
	}

	secret, err := b.client.Logical().ReadWithContext(ctx, b.vaultPath("data", key))
	if err != nil {
		return nil, fmt.Errorf("%w: vault read %s: %v", interfaces.ErrStorage, key, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrNotFound
	}

	// KV v2 nests the payload under "data".
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: unexpected KV response shape for %s", interfaces.ErrStorage, key)
	}
	encoded, ok := data["value"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing value for %s", interfaces.ErrStorage, key)
	}

	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt value encoding for %s: %v", interfaces.ErrStorage, key, err)
	}

	b.log.Debug("Fetched entry from Vault KV",
		slog.String("key", key),
		slog.Int("size", len(value)))

	return &interfaces.PhysicalEntry{Key: key, Value: value}, nil
}

// Put creates or overwrites the entry at the key's KV path.
func (b *VaultKVBackend) Put(ctx context.Context, entry *interfaces.PhysicalEntry) error {
	if err := interfaces.ValidatePhysicalKey(entry.Key); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"value": base64.StdEncoding.EncodeToString(entry.Value),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, b.vaultPath("data", entry.Key), payload); err != nil {
		return fmt.Errorf("%w: vault write %s: %v", interfaces.ErrStorage, entry.Key, err)
	}

	b.log.Debug("Stored entry in Vault KV",
		slog.String("key", entry.Key),
		slog.Int("size", len(entry.Value)))

	return nil
}

// Delete removes the entry and all its KV v2 version metadata, so a
// subsequent Get observes absence rather than a soft-deleted version.
func (b *VaultKVBackend) Delete(ctx context.Context, key string) error {
	if err := interfaces.ValidatePhysicalKey(key); err != nil {
		return err
	}

	if _, err := b.client.Logical().DeleteWithContext(ctx, b.vaultPath("metadata", key)); err != nil {
		return fmt.Errorf("%w: vault delete %s: %v", interfaces.ErrStorage, key, err)
	}
	return nil
}

// List enumerates the keys directly under the prefix via the KV v2
// metadata listing, which already collapses sub-paths to "dir/" entries.
func (b *VaultKVBackend) List(ctx context.Context, prefix string) ([]string, error) {
	secret, err := b.client.Logical().ListWithContext(ctx, b.vaultPath("metadata", prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: vault list %s: %v", interfaces.ErrStorage, prefix, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	rawKeys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	keys := make([]string, 0, len(rawKeys))
	for _, raw := range rawKeys {
		if key, ok := raw.(string); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Name returns a unique identifier for this backend.
func (b *VaultKVBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this backend.
func (b *VaultKVBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultKVBackend) vaultPath(kind, key string) string {
	return path.Join(b.mountPath, kind, b.dataPath, key)
}
