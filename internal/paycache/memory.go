package paycache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the fallback for deployments without Redis. It lives in
// a single process: two API instances each see their own map, so it is
// unsuitable for horizontally scaled deployments. Entries carry their
// write time and are dropped by the hourly Sweep rather than a real TTL.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Record)}
}

func (s *MemoryStore) Put(ctx context.Context, paymentID string, rec Record) error {
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.entries[paymentID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, paymentID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entries[paymentID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Delete(ctx context.Context, paymentID string) error {
	s.mu.Lock()
	delete(s.entries, paymentID)
	s.mu.Unlock()
	return nil
}

// Sweep drops entries older than TTL and returns how many were removed.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, rec := range s.entries {
		if now.Sub(rec.ObservedAt) > TTL {
			delete(s.entries, k)
			n++
		}
	}
	return n
}
