// Package store persists per-credential balances. It is the offline cache
// and fallback ledger; every write mirrors a remote write that may have failed.
package store

import (
	"context"
	"sync"
)

// BalanceStore maps a credential to a balance in paise. Unknown credentials
// read as zero.
type BalanceStore interface {
	Get(ctx context.Context, credential string) (int64, error)
	Put(ctx context.Context, credential string, paise int64) error
}

// MemoryStore keeps balances in process memory. Used in tests and when no
// redis address is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]int64)}
}

// Get returns the stored balance, zero for unknown credentials.
func (s *MemoryStore) Get(_ context.Context, credential string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[credential], nil
}

// Put stores the balance.
func (s *MemoryStore) Put(_ context.Context, credential string, paise int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[credential] = paise
	return nil
}
