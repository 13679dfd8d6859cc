package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

type counter struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps counters and blocks in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	blocks   map[string]models.BlockedAddress
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*counter),
		blocks:   make(map[string]models.BlockedAddress),
	}
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count, c.resetAt, nil
}

func (s *MemoryStore) Count(_ context.Context, key string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !now.Before(c.resetAt) {
		return 0, nil
	}
	return c.count, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.counters, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Block(_ context.Context, block models.BlockedAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// an existing longer block wins
	if existing, ok := s.blocks[block.Address]; ok && existing.Until.After(block.Until) {
		return nil
	}
	s.blocks[block.Address] = block
	return nil
}

func (s *MemoryStore) Unblock(_ context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.blocks[address]
	delete(s.blocks, address)
	return ok, nil
}

func (s *MemoryStore) Blocked(_ context.Context, address string, now time.Time) (*models.BlockedAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// expired entries stay until Sweep evicts them
	b, ok := s.blocks[address]
	if !ok || !now.Before(b.Until) {
		return nil, nil
	}
	return &b, nil
}

func (s *MemoryStore) ListBlocked(_ context.Context, now time.Time) ([]models.BlockedAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := make([]models.BlockedAddress, 0, len(s.blocks))
	for _, b := range s.blocks {
		if now.Before(b.Until) {
			blocks = append(blocks, b)
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Until.After(blocks[j].Until) })
	return blocks, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.counters {
		if !now.Before(c.resetAt) {
			delete(s.counters, key)
			removed++
		}
	}
	for addr, b := range s.blocks {
		if !now.Before(b.Until) {
			delete(s.blocks, addr)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
