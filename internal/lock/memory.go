package lock

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore implements Store in process memory. It backs single-node
// deployments and the test suites of everything built on the Manager.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]memoryEntry

	// Now is the clock used for expiry checks. Tests move it forward to
	// exercise TTL behavior without sleeping.
	Now func() time.Time
}

// NewMemoryStore creates an empty in-memory lock store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]memoryEntry), Now: time.Now}
}

func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.After(s.Now()) {
		delete(s.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.data[key] = memoryEntry{owner: owner, expiresAt: s.Now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || e.owner != owner {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return "", nil
	}
	return e.owner, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]Held, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var held []Held
	for key := range s.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if e, ok := s.live(key); ok {
			held = append(held, Held{Key: key, OwnerToken: e.owner})
		}
	}
	return held, nil
}
