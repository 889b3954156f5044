package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/helixcare/secrets-core/auth"
	"github.com/helixcare/secrets-core/barrier"
	"github.com/helixcare/secrets-core/interfaces"
	"github.com/helixcare/secrets-core/kv"
	"github.com/helixcare/secrets-core/policy"
	"github.com/helixcare/secrets-core/realm"
	"github.com/helixcare/secrets-core/seal"
	"github.com/helixcare/secrets-core/storage"
	"github.com/helixcare/secrets-core/token"
)

const (
	mountTableKey = "sys/mount-table"

	// The root token minted at initialization stays retrievable through
	// the keystash for a short window, and only once.
	initTokenStashID  = "init-root-token"
	initTokenStashTTL = 10 * time.Minute

	keystashSweepInterval = time.Minute
)

// Config carries the stores the core runs on.
type Config struct {
	// Physical holds barrier-encrypted entries.
	Physical interfaces.PhysicalBackend

	// Metadata holds plaintext operational records: policies, realms and
	// the mount table.
	Metadata interfaces.MetadataStore

	Log *slog.Logger
}

// Core is the heart of the secrets service.
type Core struct {
	adapter  *storage.Adapter
	barrier  *barrier.Barrier
	sealer   *seal.Manager
	router   *Router
	policies *policy.Store
	tokens   *token.Store
	realms   *realm.Manager
	stash    *seal.Keystash
	log      *slog.Logger

	// active flips to true only after post-unseal setup has rebuilt the
	// router, so no request can observe the window between the barrier
	// key landing and the mount table loading.
	active atomic.Bool

	// mu serializes mount-table mutations and post-unseal setup.
	mu sync.Mutex
}

// New assembles a core over the given stores. The barrier starts sealed.
func New(cfg Config) (*Core, error) {
	if cfg.Physical == nil || cfg.Metadata == nil {
		return nil, fmt.Errorf("%w: physical and metadata stores are required", interfaces.ErrValidation)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	adapter := storage.NewAdapter(cfg.Physical, cfg.Metadata)
	for prefix, kind := range map[string]storage.StoreKind{
		"core/":              storage.KindSecret,
		"logical/":           storage.KindSecret,
		"sys/tokens/":        storage.KindSecret,
		"sys/token-parents/": storage.KindSecret,
		"sys/policies":       storage.KindMetadata,
		"sys/realms":         storage.KindMetadata,
		"sys/realm-orgs/":    storage.KindMetadata,
		mountTableKey:        storage.KindMetadata,
	} {
		if err := adapter.RegisterKeyspace(prefix, kind); err != nil {
			return nil, err
		}
	}

	b := barrier.NewBarrier(adapter.Secrets(), log)
	c := &Core{
		adapter:  adapter,
		barrier:  b,
		sealer:   seal.NewManager(b, adapter.Secrets(), log),
		router:   NewRouter(),
		policies: policy.NewStore(adapter.Metadata(), log),
		tokens:   token.NewStore(b, log),
		realms:   realm.NewManager(adapter.Metadata(), log),
		stash:    seal.NewKeystash(keystashSweepInterval, log),
		log:      log,
	}
	return c, nil
}

// InitResult is returned exactly once, from Initialize.
type InitResult struct {
	Shares    [][]byte
	RootToken string
}

// Initialize generates the root key, splits it into shares, seeds the
// default mount table, and mints the root token. The root key is wiped
// before returning and the barrier is left sealed: operators must
// reassemble a share quorum to bring the service online.
func (c *Core) Initialize(ctx context.Context, sealCfg seal.Config) (*InitResult, error) {
	shares, rootKey, err := c.sealer.Initialize(ctx, sealCfg)
	if err != nil {
		return nil, err
	}
	defer wipe(rootKey)

	if err := c.barrier.Unseal(ctx, rootKey); err != nil {
		return nil, err
	}

	result, err := c.finishInitialize(ctx)

	// Regardless of outcome the barrier must not stay open on the root
	// key used during setup.
	c.barrier.Seal()
	c.router.Reset()

	if err != nil {
		return nil, err
	}

	c.log.Info("Core initialized",
		slog.Int("shares", sealCfg.SecretShares),
		slog.Int("threshold", sealCfg.SecretThreshold))

	result.Shares = shares
	return result, nil
}

func (c *Core) finishInitialize(ctx context.Context) (*InitResult, error) {
	if err := c.ensureMountTable(ctx); err != nil {
		return nil, err
	}

	root, err := c.tokens.CreateRoot(ctx)
	if err != nil {
		return nil, err
	}
	c.stash.Put(initTokenStashID, []byte(root.ID), initTokenStashTTL, true)

	return &InitResult{RootToken: root.ID}, nil
}

// InitRootToken returns the root token minted at initialization, at most
// once and only within the stash window.
func (c *Core) InitRootToken() (string, bool) {
	value, ok := c.stash.Get(initTokenStashID)
	if !ok {
		return "", false
	}
	return string(value), true
}

// Unseal feeds one share to the seal manager. When the quorum completes,
// the mount table is loaded and the router rebuilt.
func (c *Core) Unseal(ctx context.Context, share []byte) (*seal.Status, error) {
	status, err := c.sealer.Unseal(ctx, share)
	if err != nil {
		return nil, err
	}

	if !status.Sealed {
		if err := c.postUnseal(ctx); err != nil {
			c.sealer.Seal()
			c.router.Reset()
			return nil, fmt.Errorf("post-unseal setup failed: %w", err)
		}
		c.active.Store(true)
		c.log.Info("Core unsealed")
	}
	return status, nil
}

// Seal re-seals the barrier. The caller needs the sudo capability on
// sys/seal, which the root token always has.
func (c *Core) Seal(ctx context.Context, tokenID string) error {
	if _, err := c.requireSudo(ctx, tokenID, "sys/seal"); err != nil {
		return err
	}

	c.active.Store(false)
	c.sealer.Seal()
	c.router.Reset()
	c.log.Info("Core sealed by operator")
	return nil
}

// SealStatus reports initialization and unseal progress.
func (c *Core) SealStatus(ctx context.Context) (*seal.Status, error) {
	return c.sealer.Status(ctx)
}

// Sealed reports whether the barrier is sealed.
func (c *Core) Sealed() bool {
	return c.barrier.Sealed()
}

// ready reports whether requests can be served: the barrier is unsealed
// and post-unseal setup has finished. Until both hold, callers see
// ErrSealed rather than spurious NotFound from an empty router.
func (c *Core) ready() bool {
	return !c.barrier.Sealed() && c.active.Load()
}

// Shutdown seals the barrier and releases background resources.
func (c *Core) Shutdown() {
	c.active.Store(false)
	c.sealer.Seal()
	c.router.Reset()
	c.stash.Stop()
	c.log.Info("Core shut down")
}

// HandleRequest runs one logical request through the full pipeline.
func (c *Core) HandleRequest(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	if req == nil || !req.Operation.Valid() {
		return nil, fmt.Errorf("%w: invalid operation", interfaces.ErrValidation)
	}
	if err := interfaces.ValidatePhysicalKey(req.Path); err != nil {
		return nil, err
	}
	if !c.ready() {
		return nil, interfaces.ErrSealed
	}

	mount, subpath, err := c.router.Resolve(req.Path)
	if err != nil {
		return nil, err
	}

	// Login is the only unauthenticated operation.
	if mount.AuthMount() && auth.IsLoginPath(subpath) {
		sub := *req
		sub.Path = subpath
		sub.RealmID = mount.RealmID
		return mount.backend.HandleRequest(ctx, &sub)
	}

	entry, acl, err := c.aclForToken(ctx, req.ClientToken)
	if err != nil {
		return nil, err
	}
	if err := c.realms.Authorize(entry.RealmID, mount.RealmID); err != nil {
		return nil, err
	}
	if !acl.Allows(req.Operation, req.Path) {
		return nil, fmt.Errorf("%w: %s on %s", interfaces.ErrForbidden, req.Operation, req.Path)
	}

	sub := *req
	sub.Path = subpath
	sub.RealmID = entry.RealmID
	return mount.backend.HandleRequest(ctx, &sub)
}

// Capabilities reports what a token may do on a path. Any live token may
// query its own capabilities.
func (c *Core) Capabilities(ctx context.Context, tokenID, path string) ([]policy.Capability, error) {
	if err := interfaces.ValidatePhysicalKey(path); err != nil {
		return nil, err
	}
	_, acl, err := c.aclForToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return acl.Capabilities(path), nil
}

// aclForToken resolves a token and compiles the ACL from its attached
// policies. Dangling policy references grant nothing.
func (c *Core) aclForToken(ctx context.Context, tokenID string) (*token.Entry, *policy.ACL, error) {
	entry, err := c.tokens.Lookup(ctx, tokenID)
	if err != nil {
		return nil, nil, err
	}
	resolved, err := c.policies.Resolve(ctx, entry.RealmID, entry.Policies)
	if err != nil {
		return nil, nil, err
	}
	return entry, policy.NewACL(resolved, entry.Root), nil
}

// requireSudo admits root tokens and tokens holding sudo on the path.
func (c *Core) requireSudo(ctx context.Context, tokenID, path string) (*token.Entry, error) {
	entry, acl, err := c.aclForToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if entry.Root {
		return entry, nil
	}
	for _, cap := range acl.Capabilities(path) {
		if cap == policy.SudoCapability {
			return entry, nil
		}
	}
	return nil, fmt.Errorf("%w: sudo required on %s", interfaces.ErrForbidden, path)
}

// authorizeSys admits root tokens and tokens whose ACL grants the
// operation on the given sys path.
func (c *Core) authorizeSys(ctx context.Context, tokenID, path string, op interfaces.Operation) (*token.Entry, error) {
	entry, acl, err := c.aclForToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if entry.Root {
		return entry, nil
	}
	if !acl.Allows(op, path) {
		return nil, fmt.Errorf("%w: %s on %s", interfaces.ErrForbidden, op, path)
	}
	return entry, nil
}

// postUnseal loads the mount table and rebuilds the router.
func (c *Core) postUnseal(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.loadMountTable(ctx)
	if err != nil {
		return err
	}

	c.router.Reset()
	for _, record := range records {
		backend, err := c.buildBackend(record)
		if err != nil {
			return err
		}
		if err := c.router.Mount(record, backend); err != nil {
			return err
		}
	}
	return nil
}

// defaultMounts is the table seeded at initialization.
func defaultMounts() []*MountEntry {
	return []*MountEntry{
		{Path: "secret/", Type: "kv", Description: "default key/value store"},
		{Path: "auth/userpass/", Type: "userpass", Description: "username and password login"},
		{Path: "auth/approle/", Type: "approle", Description: "machine role login"},
	}
}

func (c *Core) ensureMountTable(ctx context.Context) error {
	_, err := c.adapter.Metadata().Get(ctx, mountTableKey)
	if err == nil {
		return nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return err
	}
	return c.persistMountTable(ctx, defaultMounts())
}

func (c *Core) loadMountTable(ctx context.Context) ([]*MountEntry, error) {
	entry, err := c.adapter.Metadata().Get(ctx, mountTableKey)
	if err != nil {
		return nil, err
	}
	var records []*MountEntry
	if err := json.Unmarshal(entry.Value, &records); err != nil {
		return nil, fmt.Errorf("failed to decode mount table: %w", err)
	}
	return records, nil
}

func (c *Core) persistMountTable(ctx context.Context, records []*MountEntry) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode mount table: %w", err)
	}
	return c.adapter.Metadata().Upsert(ctx, mountTableKey, raw)
}

// buildBackend instantiates the backend for a mount record. Each mount
// gets a barrier view under logical/<mount-path> so engines cannot read
// each other's keyspace.
func (c *Core) buildBackend(record *MountEntry) (interfaces.Backend, error) {
	view := storage.NewPrefixView(c.barrier, "logical/"+record.Path)
	switch record.Type {
	case "kv":
		return kv.NewBackend(view, c.log), nil
	case "userpass":
		return auth.NewBackend(auth.NewUserpass(view, c.log), c.tokens, c.log), nil
	case "approle":
		return auth.NewBackend(auth.NewApprole(view, c.log), c.tokens, c.log), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend type %q", interfaces.ErrValidation, record.Type)
	}
}

func wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
