package barrier

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/helixcare/secrets-core/interfaces"
)

const (
	// barrierKeyPath holds the barrier key, encrypted under the root key.
	barrierKeyPath = "core/barrier-key"

	// rootCheckPath holds the keyed-BLAKE3 check value for the root key.
	rootCheckPath = "core/root-key-check"

	// rootCheckContext is the fixed message hashed under the root key to
	// produce the check value.
	rootCheckContext = "secrets-core/root-key-check/v1"

	// KeyLength is the byte length of both the root and barrier keys.
	KeyLength = 32

	termSize  = 4
	nonceSize = 12

	initialTerm uint32 = 1
)

// Barrier encrypts and decrypts every value crossing into the physical
// backend. It starts sealed on every process start; Unseal installs the
// barrier key after verifying the root key's integrity check.
type Barrier struct {
	physical interfaces.PhysicalBackend
	log      *slog.Logger

	// mu guards the in-memory key state only. It is never held across a
	// physical backend call.
	mu     sync.RWMutex
	aead   cipher.AEAD
	key    []byte
	term   uint32
	sealed bool
}

// NewBarrier creates a sealed barrier over the physical backend.
func NewBarrier(physical interfaces.PhysicalBackend, log *slog.Logger) *Barrier {
	return &Barrier{
		physical: physical,
		log:      log,
		sealed:   true,
	}
}

// Initialized reports whether the barrier has been initialized, i.e. a
// root-key check value exists in physical storage.
func (b *Barrier) Initialized(ctx context.Context) (bool, error) {
	_, err := b.physical.Get(ctx, rootCheckPath)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GenerateKey produces a fresh random key of the barrier's key length.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Initialize generates the barrier key, persists it wrapped under the root
// key, and persists the root-key check value. The barrier stays sealed;
// callers unseal with the root key afterwards. Returns
// interfaces.ErrAlreadyInitialized if initialization already happened.
func (b *Barrier) Initialize(ctx context.Context, rootKey []byte) error {
	if len(rootKey) != KeyLength {
		return fmt.Errorf("%w: root key must be %d bytes", interfaces.ErrValidation, KeyLength)
	}

	initialized, err := b.Initialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return interfaces.ErrAlreadyInitialized
	}

	barrierKey, err := GenerateKey()
	if err != nil {
		return err
	}

	check, err := rootKeyCheck(rootKey)
	if err != nil {
		return err
	}
	if err := b.physical.Put(ctx, &interfaces.PhysicalEntry{Key: rootCheckPath, Value: check}); err != nil {
		return fmt.Errorf("failed to persist root key check: %w", err)
	}

	rootAEAD, err := newAEAD(rootKey)
	if err != nil {
		return err
	}
	wrapped, err := encryptTracked(rootAEAD, initialTerm, barrierKeyPath, barrierKey)
	if err != nil {
		return err
	}
	if err := b.physical.Put(ctx, &interfaces.PhysicalEntry{Key: barrierKeyPath, Value: wrapped}); err != nil {
		return fmt.Errorf("failed to persist wrapped barrier key: %w", err)
	}

	wipe(barrierKey)
	b.log.Info("Barrier initialized")
	return nil
}

// VerifyRoot checks a candidate root key against the stored integrity
// check value. Returns interfaces.ErrInvalidShare on mismatch so a wrong
// reconstruction never unlocks the barrier.
func (b *Barrier) VerifyRoot(ctx context.Context, rootKey []byte) error {
	entry, err := b.physical.Get(ctx, rootCheckPath)
	if errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("%w: barrier is not initialized", interfaces.ErrValidation)
	}
	if err != nil {
		return err
	}

	check, err := rootKeyCheck(rootKey)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(check, entry.Value) != 1 {
		return fmt.Errorf("%w: root key integrity check failed", interfaces.ErrInvalidShare)
	}
	return nil
}

// Unseal verifies the root key, decrypts the wrapped barrier key, and
// installs it. Unsealing an already-unsealed barrier is a no-op.
func (b *Barrier) Unseal(ctx context.Context, rootKey []byte) error {
	if !b.Sealed() {
		return nil
	}

	if err := b.VerifyRoot(ctx, rootKey); err != nil {
		return err
	}

	entry, err := b.physical.Get(ctx, barrierKeyPath)
	if err != nil {
		return fmt.Errorf("failed to read wrapped barrier key: %w", err)
	}

	rootAEAD, err := newAEAD(rootKey)
	if err != nil {
		return err
	}
	term, barrierKey, err := decryptTracked(rootAEAD, barrierKeyPath, entry.Value)
	if err != nil {
		return fmt.Errorf("failed to unwrap barrier key: %w", err)
	}

	aead, err := newAEAD(barrierKey)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.aead = aead
	b.key = barrierKey
	b.term = term
	b.sealed = false
	b.mu.Unlock()

	b.log.Info("Barrier unsealed", slog.Int("term", int(term)))
	return nil
}

// Seal immediately drops the in-memory key and returns the barrier to the
// sealed state. Sealing is always allowed and independent of client state.
func (b *Barrier) Seal() {
	b.mu.Lock()
	if b.key != nil {
		wipe(b.key)
	}
	b.aead = nil
	b.key = nil
	b.sealed = true
	b.mu.Unlock()

	b.log.Info("Barrier sealed")
}

// Sealed reports whether the barrier is sealed.
func (b *Barrier) Sealed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sealed
}

// activeAEAD snapshots the installed cipher without holding the lock
// across the caller's I/O.
func (b *Barrier) activeAEAD() (cipher.AEAD, uint32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sealed {
		return nil, 0, interfaces.ErrSealed
	}
	return b.aead, b.term, nil
}

// Get fetches ciphertext from the physical backend and decrypts it.
// Returns interfaces.ErrIntegrity if authentication fails.
func (b *Barrier) Get(ctx context.Context, key string) (*interfaces.PhysicalEntry, error) {
	aead, _, err := b.activeAEAD()
	if err != nil {
		return nil, err
	}

	entry, err := b.physical.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	_, plaintext, err := decryptTracked(aead, key, entry.Value)
	if err != nil {
		return nil, err
	}
	return &interfaces.PhysicalEntry{Key: key, Value: plaintext}, nil
}

// Put encrypts the value under the barrier key with a fresh nonce and
// forwards ciphertext to the physical backend.
func (b *Barrier) Put(ctx context.Context, entry *interfaces.PhysicalEntry) error {
	aead, term, err := b.activeAEAD()
	if err != nil {
		return err
	}

	ciphertext, err := encryptTracked(aead, term, entry.Key, entry.Value)
	if err != nil {
		return err
	}
	return b.physical.Put(ctx, &interfaces.PhysicalEntry{Key: entry.Key, Value: ciphertext})
}

// Delete removes the entry from the physical backend.
func (b *Barrier) Delete(ctx context.Context, key string) error {
	if _, _, err := b.activeAEAD(); err != nil {
		return err
	}
	return b.physical.Delete(ctx, key)
}

// List passes prefix enumeration through unchanged; paths are not secret.
func (b *Barrier) List(ctx context.Context, prefix string) ([]string, error) {
	if _, _, err := b.activeAEAD(); err != nil {
		return nil, err
	}
	return b.physical.List(ctx, prefix)
}

// encryptTracked produces term || nonce || ciphertext with the logical key
// path as associated data.
func encryptTracked(aead cipher.AEAD, term uint32, path string, plaintext []byte) ([]byte, error) {
	out := make([]byte, termSize+nonceSize, termSize+nonceSize+len(plaintext)+aead.Overhead())
	binary.BigEndian.PutUint32(out[:termSize], term)

	nonce := out[termSize : termSize+nonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(out, nonce, plaintext, []byte(path)), nil
}

// decryptTracked parses term || nonce || ciphertext and authenticates with
// the logical key path as associated data.
func decryptTracked(aead cipher.AEAD, path string, value []byte) (uint32, []byte, error) {
	if len(value) < termSize+nonceSize {
		return 0, nil, fmt.Errorf("%w: entry too short", interfaces.ErrIntegrity)
	}

	term := binary.BigEndian.Uint32(value[:termSize])
	nonce := value[termSize : termSize+nonceSize]
	ciphertext := value[termSize+nonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(path))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s", interfaces.ErrIntegrity, path)
	}
	return term, plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to construct cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to construct AEAD: %w", err)
	}
	return aead, nil
}

// rootKeyCheck computes the keyed-BLAKE3 check value for a root key.
func rootKeyCheck(rootKey []byte) ([]byte, error) {
	hasher, err := blake3.NewKeyed(rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to construct keyed hasher: %w", err)
	}
	hasher.Write([]byte(rootCheckContext))
	return hasher.Sum(nil), nil
}

// wipe zeroes sensitive material in place.
func wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
