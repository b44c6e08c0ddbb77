package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry     *Entry // nil while reserved
	expiresAt time.Time
}

// MemoryStore is a process-local Store with TTL expiry and periodic cleanup.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]*memoryItem
	nowFunc func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryStore returns a MemoryStore that evicts expired keys every
// cleanupEvery. A non-positive interval disables the background loop.
func NewMemoryStore(cleanupEvery time.Duration) *MemoryStore {
	s := &MemoryStore{
		items:   make(map[string]*memoryItem),
		nowFunc: time.Now,
		stop:    make(chan struct{}),
	}
	if cleanupEvery > 0 {
		go s.cleanupLoop(cleanupEvery)
	}
	return s
}

func (s *MemoryStore) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stop:
			return
		}
	}
}

// Stop terminates the cleanup goroutine.
func (s *MemoryStore) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	for k, it := range s.items {
		if !now.Before(it.expiresAt) {
			delete(s.items, k)
		}
	}
}

// live returns the unexpired item for key. Callers hold s.mu.
func (s *MemoryStore) live(key string) *memoryItem {
	it, ok := s.items[key]
	if !ok {
		return nil
	}
	if !s.nowFunc().Before(it.expiresAt) {
		delete(s.items, key)
		return nil
	}
	return it
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.live(key)
	if it == nil {
		return nil, false, nil
	}
	if it.entry == nil {
		return nil, true, nil
	}
	return cloneEntry(it.entry), true, nil
}

func (s *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live(key) != nil {
		return false, nil
	}
	s.items[key] = &memoryItem{expiresAt: s.nowFunc().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneEntry(entry)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.nowFunc()
	}
	s.items[key] = &memoryItem{entry: cp, expiresAt: cp.CreatedAt.Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}
