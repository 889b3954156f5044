package seal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/vault/shamir"

	"github.com/helixcare/secrets-core/barrier"
	"github.com/helixcare/secrets-core/interfaces"
)

// sealConfigPath holds the seal configuration as plaintext JSON. It must
// be readable while sealed and contains no secret.
const sealConfigPath = "core/seal-config"

// Config is the (N, K) seal configuration, immutable after initialization.
type Config struct {
	// SecretShares is the total number of shares to generate (N).
	SecretShares int `json:"secret_shares"`

	// SecretThreshold is the number of shares required to reconstruct the
	// root key (K).
	SecretThreshold int `json:"secret_threshold"`
}

// Validate checks the share parameters. Shamir's scheme operates over
// GF(2^8), so at most 255 shares exist.
func (c Config) Validate() error {
	if c.SecretShares < 1 || c.SecretShares > 255 {
		return fmt.Errorf("%w: secret shares must be between 1 and 255", interfaces.ErrValidation)
	}
	if c.SecretThreshold < 1 || c.SecretThreshold > c.SecretShares {
		return fmt.Errorf("%w: secret threshold must be between 1 and the share count", interfaces.ErrValidation)
	}
	return nil
}

// Status describes the seal state for operators. It is safe to expose
// while sealed.
type Status struct {
	Initialized bool `json:"initialized"`
	Sealed      bool `json:"sealed"`
	Threshold   int  `json:"threshold"`
	Shares      int  `json:"shares"`

	// Progress is the number of distinct shares accumulated in the current
	// unseal attempt.
	Progress int `json:"progress"`
}

// Manager drives initialization, unseal share accumulation, and reseal.
type Manager struct {
	barrier  *barrier.Barrier
	physical interfaces.PhysicalBackend
	log      *slog.Logger

	// mu guards the pending share pool only; it is not held across
	// barrier or physical backend calls.
	mu      sync.Mutex
	pending [][]byte
}

// NewManager creates a seal manager for the barrier. The physical backend
// holds the plaintext seal configuration.
func NewManager(b *barrier.Barrier, physical interfaces.PhysicalBackend, log *slog.Logger) *Manager {
	return &Manager{
		barrier:  b,
		physical: physical,
		log:      log,
	}
}

// Initialize generates a fresh root key, splits it into cfg.SecretShares
// shares, initializes the barrier, and persists the seal configuration.
// The shares and the transient root key are returned to the caller; this
// is the only time they exist outside the caller's hands, and the caller
// must wipe the root key once done with it. The barrier remains sealed.
func (m *Manager) Initialize(ctx context.Context, cfg Config) (shares [][]byte, rootKey []byte, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	initialized, err := m.barrier.Initialized(ctx)
	if err != nil {
		return nil, nil, err
	}
	if initialized {
		return nil, nil, interfaces.ErrAlreadyInitialized
	}

	rootKey, err = barrier.GenerateKey()
	if err != nil {
		return nil, nil, err
	}

	shares, err = splitRootKey(rootKey, cfg)
	if err != nil {
		return nil, nil, err
	}

	if err := m.barrier.Initialize(ctx, rootKey); err != nil {
		return nil, nil, err
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal seal config: %w", err)
	}
	if err := m.physical.Put(ctx, &interfaces.PhysicalEntry{Key: sealConfigPath, Value: configJSON}); err != nil {
		return nil, nil, fmt.Errorf("failed to persist seal config: %w", err)
	}

	m.log.Info("Seal initialized",
		slog.Int("shares", cfg.SecretShares),
		slog.Int("threshold", cfg.SecretThreshold))

	return shares, rootKey, nil
}

// splitRootKey produces the key shares. The threshold-1 case is
// degenerate: every share is the full root key, and a presented share
// still has to pass the barrier's integrity check.
func splitRootKey(rootKey []byte, cfg Config) ([][]byte, error) {
	if cfg.SecretThreshold == 1 {
		shares := make([][]byte, cfg.SecretShares)
		for i := range shares {
			share := make([]byte, len(rootKey))
			copy(share, rootKey)
			shares[i] = share
		}
		return shares, nil
	}

	shares, err := shamir.Split(rootKey, cfg.SecretShares, cfg.SecretThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split root key: %w", err)
	}
	return shares, nil
}

// Config loads the persisted seal configuration. Returns
// interfaces.ErrNotFound before initialization.
func (m *Manager) Config(ctx context.Context) (*Config, error) {
	entry, err := m.physical.Get(ctx, sealConfigPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(entry.Value, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse seal config: %w", err)
	}
	return &cfg, nil
}

// Unseal accepts one share. Below threshold it records the share and
// reports progress. At threshold it reconstructs the root key, verifies
// its integrity check, and unlocks the barrier; a failed check wipes the
// accumulated pool and returns interfaces.ErrInvalidShare.
func (m *Manager) Unseal(ctx context.Context, share []byte) (*Status, error) {
	cfg, err := m.Config(ctx)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: not initialized", interfaces.ErrValidation)
	}
	if err != nil {
		return nil, err
	}

	if !m.barrier.Sealed() {
		return m.Status(ctx)
	}
	if len(share) == 0 {
		return nil, fmt.Errorf("%w: empty share", interfaces.ErrInvalidShare)
	}

	candidate, err := m.accumulate(share, cfg)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return m.Status(ctx)
	}

	if err := m.barrier.Unseal(ctx, candidate); err != nil {
		wipe(candidate)
		// A failed reconstruction or integrity check resets progress so a
		// single bad share cannot leave the pool permanently stuck.
		m.resetProgress()
		if errors.Is(err, interfaces.ErrInvalidShare) {
			return nil, err
		}
		return nil, fmt.Errorf("unseal failed: %w", err)
	}

	wipe(candidate)
	m.resetProgress()

	m.log.Info("Barrier unsealed via share quorum", slog.Int("threshold", cfg.SecretThreshold))
	return m.Status(ctx)
}

// accumulate records a share under the lock. It returns the reconstructed
// root key once the threshold is met, nil below threshold.
func (m *Manager) accumulate(share []byte, cfg *Config) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.pending {
		if bytes.Equal(existing, share) || (cfg.SecretThreshold > 1 && shareIndex(existing) == shareIndex(share)) {
			// Duplicate shares are rejected without consuming a slot.
			return nil, fmt.Errorf("%w: share already provided", interfaces.ErrInvalidShare)
		}
	}

	stored := make([]byte, len(share))
	copy(stored, share)
	m.pending = append(m.pending, stored)

	if len(m.pending) < cfg.SecretThreshold {
		return nil, nil
	}

	if cfg.SecretThreshold == 1 {
		candidate := make([]byte, len(stored))
		copy(candidate, stored)
		return candidate, nil
	}

	candidate, err := shamir.Combine(m.pending)
	if err != nil {
		m.wipePendingLocked()
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidShare, err)
	}
	return candidate, nil
}

// shareIndex is the share's x-coordinate; Shamir shares carry it as the
// trailing byte.
func shareIndex(share []byte) byte {
	return share[len(share)-1]
}

// Seal drops the in-memory key immediately and clears any accumulated
// unseal progress. Always allowed, independent of client state.
func (m *Manager) Seal() {
	m.barrier.Seal()
	m.resetProgress()
}

// Status reports the current seal state, including unseal progress.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	initialized, err := m.barrier.Initialized(ctx)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Initialized: initialized,
		Sealed:      m.barrier.Sealed(),
	}

	if initialized {
		cfg, err := m.Config(ctx)
		if err != nil {
			return nil, err
		}
		status.Threshold = cfg.SecretThreshold
		status.Shares = cfg.SecretShares
	}

	m.mu.Lock()
	status.Progress = len(m.pending)
	m.mu.Unlock()

	return status, nil
}

func (m *Manager) resetProgress() {
	m.mu.Lock()
	m.wipePendingLocked()
	m.mu.Unlock()
}

func (m *Manager) wipePendingLocked() {
	for _, share := range m.pending {
		wipe(share)
	}
	m.pending = nil
}

// wipe zeroes sensitive material in place.
func wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
