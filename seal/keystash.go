package seal

import (
	"log/slog"
	"sync"
	"time"
)

// Keystash is temporary in-memory storage for sensitive material that must
// be handed out shortly after it was produced - unseal shares and root
// credentials right after initialization. Entries expire after a TTL, and
// single-use entries are returned exactly once.
//
// Expiry is enforced twice: lazily on every access, and by a background
// sweeper on a fixed interval, so a caller never observes a
// logically-expired entry even between sweeps.
type Keystash struct {
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*stashEntry

	sweepInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	done          chan struct{}
}

type stashEntry struct {
	value     []byte
	expiresAt time.Time
	singleUse bool
}

// NewKeystash creates a keystash and starts its background sweeper. The
// caller owns the handle and must call Stop at shutdown.
func NewKeystash(sweepInterval time.Duration, log *slog.Logger) *Keystash {
	k := &Keystash{
		log:           log,
		entries:       make(map[string]*stashEntry),
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	go k.sweepLoop()
	return k
}

// Put stores a value under id. A zero ttl means the entry never expires
// on its own (it can still be single-use). Storing over an existing id
// replaces it.
func (k *Keystash) Put(id string, value []byte, ttl time.Duration, singleUse bool) {
	stored := make([]byte, len(value))
	copy(stored, value)

	entry := &stashEntry{value: stored, singleUse: singleUse}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	k.mu.Lock()
	if old, ok := k.entries[id]; ok {
		wipe(old.value)
	}
	k.entries[id] = entry
	k.mu.Unlock()
}

// Get retrieves a value. The expiry check and the single-use
// check-and-mark happen atomically inside one critical section, so two
// concurrent retrievals of a single-use entry can never both succeed.
func (k *Keystash) Get(id string) ([]byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.entries[id]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		wipe(entry.value)
		delete(k.entries, id)
		return nil, false
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)

	if entry.singleUse {
		wipe(entry.value)
		delete(k.entries, id)
	}
	return out, true
}

// Delete removes an entry, wiping its value.
func (k *Keystash) Delete(id string) {
	k.mu.Lock()
	if entry, ok := k.entries[id]; ok {
		wipe(entry.value)
		delete(k.entries, id)
	}
	k.mu.Unlock()
}

// Stop tears down the background sweeper and wipes all remaining entries.
// Idempotent; blocks until the sweeper has exited.
func (k *Keystash) Stop() {
	k.stopOnce.Do(func() {
		close(k.stopCh)
	})
	<-k.done

	k.mu.Lock()
	for id, entry := range k.entries {
		wipe(entry.value)
		delete(k.entries, id)
	}
	k.mu.Unlock()
}

func (k *Keystash) sweepLoop() {
	defer close(k.done)

	ticker := time.NewTicker(k.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.sweep()
		case <-k.stopCh:
			return
		}
	}
}

// sweep evicts expired entries.
func (k *Keystash) sweep() {
	now := time.Now()

	k.mu.Lock()
	evicted := 0
	for id, entry := range k.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			wipe(entry.value)
			delete(k.entries, id)
			evicted++
		}
	}
	k.mu.Unlock()

	if evicted > 0 {
		k.log.Debug("Keystash sweep evicted expired entries", slog.Int("count", evicted))
	}
}
