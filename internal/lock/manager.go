package lock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the shared key-value store backing the locks. Implementations
// must expire entries on their own once the TTL passes.
type Store interface {
	// SetIfAbsent writes key=owner with the given expiry iff key is not set.
	SetIfAbsent(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key iff its current value equals owner.
	CompareAndDelete(ctx context.Context, key, owner string) (bool, error)
	// Get returns the current owner of key, or "" when key is not set.
	Get(ctx context.Context, key string) (string, error)
	// List returns every live entry whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Held, error)
}

// Handle identifies one successful acquisition. Only the holder of the
// matching owner token can release through it.
type Handle struct {
	Key        string
	OwnerToken string
	AcquiredAt time.Time
	TTL        time.Duration
}

// Held describes a currently held lock as seen by a store scan.
type Held struct {
	Key        string
	OwnerToken string
}

// Manager provides distributed mutual exclusion over a Store. Keys are
// namespaced with a fixed prefix so independent managers can share one store.
type Manager struct {
	store  Store
	prefix string
	logger *zap.Logger
}

// NewManager creates a lock manager for the given key prefix.
func NewManager(store Store, prefix string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, prefix: prefix, logger: logger}
}

// Acquire tries to take the lock once. It returns (nil, nil) when another
// holder has it; a non-nil error means the store itself failed and the
// caller cannot know who holds the lock.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	owner := uuid.NewString()
	ok, err := m.store.SetIfAbsent(ctx, m.prefix+key, owner, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Handle{Key: key, OwnerToken: owner, AcquiredAt: time.Now(), TTL: ttl}, nil
}

// AcquireWithRetry retries Acquire up to attempts times, sleeping an
// exponentially growing, jittered delay between tries. Like Acquire it
// returns (nil, nil) when the lock stays contended through every attempt.
func (m *Manager) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, attempts int, baseDelay time.Duration) (*Handle, error) {
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 50 * time.Millisecond
	}
	for i := 0; i < attempts; i++ {
		h, err := m.Acquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if h != nil {
			return h, nil
		}
		if i == attempts-1 {
			break
		}
		delay := baseDelay << uint(i)
		delay += time.Duration(rand.Int63n(int64(delay/2) + 1))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, nil
}

// Release removes the lock iff it is still owned by the handle's token.
// A lock that already expired or was re-acquired by someone else is left
// alone; that outcome is not an error.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	ok, err := m.store.CompareAndDelete(ctx, m.prefix+h.Key, h.OwnerToken)
	if err != nil {
		return fmt.Errorf("release lock %q: %w", h.Key, err)
	}
	if !ok {
		m.logger.Debug("lock already expired or re-acquired", zap.String("key", h.Key))
	}
	return nil
}

// ReleaseKey releases whatever owner currently holds the key. Any process
// may call it, not just the acquirer; the read-then-compare keeps a lock
// acquired between the two steps from being deleted by mistake.
func (m *Manager) ReleaseKey(ctx context.Context, key string) error {
	owner, err := m.store.Get(ctx, m.prefix+key)
	if err != nil {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	if owner == "" {
		return nil
	}
	return m.Release(ctx, &Handle{Key: key, OwnerToken: owner})
}

// IsHeld reports whether any owner currently holds the key.
func (m *Manager) IsHeld(ctx context.Context, key string) (bool, error) {
	owner, err := m.store.Get(ctx, m.prefix+key)
	if err != nil {
		return false, fmt.Errorf("check lock %q: %w", key, err)
	}
	return owner != "", nil
}

// HeldLocks lists every lock currently held under this manager's prefix,
// with keys stripped back to their unprefixed form.
func (m *Manager) HeldLocks(ctx context.Context) ([]Held, error) {
	held, err := m.store.List(ctx, m.prefix)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	for i := range held {
		held[i].Key = held[i].Key[len(m.prefix):]
	}
	return held, nil
}
