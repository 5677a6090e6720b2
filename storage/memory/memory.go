// Package memory provides an in-memory implementation of the
// creditledger.Store interface. This implementation is primarily intended
// for testing and development.
package memory

import (
	"context"
	"sync"

	"github.com/grantware/creditledger/pkg/creditledger"
)

// Store implements creditledger.Store using an in-memory map guarded by
// a mutex. Versions start at 1 on creation and increase by one per write.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*entry
}

type entry struct {
	account *creditledger.Account
	version int64
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*entry),
	}
}

// Read implements creditledger.Store.
func (s *Store) Read(_ context.Context, accountID string) (*creditledger.Account, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.accounts[accountID]
	if !ok {
		return nil, 0, creditledger.ErrAccountNotFound
	}

	// Return a copy to prevent external mutations
	return e.account.Clone(), e.version, nil
}

// ConditionalWrite implements creditledger.Store.
func (s *Store) ConditionalWrite(_ context.Context, account *creditledger.Account, expectedVersion int64) error {
	if account == nil || account.AccountID == "" {
		return creditledger.ErrInvalidGrant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.accounts[account.AccountID]
	switch {
	case !ok && expectedVersion != 0:
		return creditledger.ErrVersionConflict
	case ok && e.version != expectedVersion:
		return creditledger.ErrVersionConflict
	}

	s.accounts[account.AccountID] = &entry{
		account: account.Clone(),
		version: expectedVersion + 1,
	}
	return nil
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]*entry)
}
