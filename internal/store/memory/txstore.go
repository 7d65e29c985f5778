// Package memory provides in-process implementations of the domain store
// interfaces. They back single-node deployments and tests; the rediskv
// package provides the distributed equivalents.
package memory

import (
	"context"
	"sync"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// TxStore keeps submitted-transaction records in a map keyed by idempotency
// key, with a secondary index by order ID.
type TxStore struct {
	mu      sync.RWMutex
	byKey   map[string]domain.PendingTransaction
	byOrder map[string]string // order ID -> idempotency key
}

// NewTxStore creates an empty TxStore.
func NewTxStore() *TxStore {
	return &TxStore{
		byKey:   make(map[string]domain.PendingTransaction),
		byOrder: make(map[string]string),
	}
}

// Put stores a new record, failing if the idempotency key is already taken.
func (s *TxStore) Put(ctx context.Context, tx domain.PendingTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[tx.Key]; ok {
		return domain.Invalid("transaction record for key %s already exists", tx.Key)
	}
	s.byKey[tx.Key] = tx
	s.byOrder[tx.OrderID] = tx.Key
	return nil
}

// Get returns the record for an idempotency key.
func (s *TxStore) Get(ctx context.Context, key string) (domain.PendingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.byKey[key]
	if !ok {
		return domain.PendingTransaction{}, domain.ErrNotFound
	}
	return tx, nil
}

// GetByOrderID returns the record for a gateway order ID.
func (s *TxStore) GetByOrderID(ctx context.Context, orderID string) (domain.PendingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byOrder[orderID]
	if !ok {
		return domain.PendingTransaction{}, domain.ErrNotFound
	}
	return s.byKey[key], nil
}

// Update replaces the record for tx.Key. Terminal records are immutable.
func (s *TxStore) Update(ctx context.Context, tx domain.PendingTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.byKey[tx.Key]
	if !ok {
		return domain.ErrNotFound
	}
	if prev.Status.Terminal() {
		return domain.Invalid("transaction %s is already %s", tx.Key, prev.Status)
	}
	s.byKey[tx.Key] = tx
	return nil
}

// ListOutstanding returns every record whose status is not terminal.
func (s *TxStore) ListOutstanding(ctx context.Context) ([]domain.PendingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PendingTransaction
	for _, tx := range s.byKey {
		if !tx.Status.Terminal() {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.TxStore = (*TxStore)(nil)
