package idempotency

import (
	"context"
	"sync"
	"time"
)

type memItem struct {
	v       []byte
	expires time.Time
}

// sweepEvery is the number of inserts between full scans for expired items.
const sweepEvery = 256

// MemoryStore is a process-local Store. Expired items are dropped on access and
// by a periodic sweep on insert, so keys that are never read again do not pile up.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]memItem
	now     func() time.Time
	inserts int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]memItem{}, now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return clone(it.v), true, nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}

	it := memItem{v: clone(value)}
	if ttl > 0 {
		it.expires = s.now().Add(ttl)
	}
	s.items[key] = it

	s.inserts++
	if s.inserts >= sweepEvery {
		s.inserts = 0
		s.sweep()
	}
	return true, nil
}

// sweep must be called with mu held.
func (s *MemoryStore) sweep() {
	now := s.now()
	for key, it := range s.items {
		if !it.expires.IsZero() && now.After(it.expires) {
			delete(s.items, key)
		}
	}
}

// lookup must be called with mu held.
func (s *MemoryStore) lookup(key string) (memItem, bool) {
	it, ok := s.items[key]
	if !ok {
		return memItem{}, false
	}
	if !it.expires.IsZero() && s.now().After(it.expires) {
		delete(s.items, key)
		return memItem{}, false
	}
	return it, true
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ Store = (*MemoryStore)(nil)
