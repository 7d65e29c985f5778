package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ambjn/ostium-whop/internal/domain"
)

const historyCap = 500

// PositionStore keeps position snapshots and per-trader history in memory.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[domain.PositionKey]domain.Position
	history   map[common.Address][]domain.TradeRecord
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions: make(map[domain.PositionKey]domain.Position),
		history:   make(map[common.Address][]domain.TradeRecord),
	}
}

// Upsert stores or replaces a position snapshot.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.Key] = pos
	return nil
}

// Get returns one position by key.
func (s *PositionStore) Get(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[key]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// Delete removes a position. Deleting a missing key is not an error.
func (s *PositionStore) Delete(ctx context.Context, key domain.PositionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, key)
	return nil
}

// ListByTrader returns a trader's positions ordered by pair then slot.
func (s *PositionStore) ListByTrader(ctx context.Context, trader common.Address) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for key, pos := range s.positions {
		if key.Trader == trader {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Pair != out[j].Key.Pair {
			return out[i].Key.Pair < out[j].Key.Pair
		}
		return out[i].Key.Index < out[j].Key.Index
	})
	return out, nil
}

// ReplaceTrader atomically swaps all of a trader's positions for the given
// set. Reconciliation uses it so chain state wins wholesale.
func (s *PositionStore) ReplaceTrader(ctx context.Context, trader common.Address, positions []domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.positions {
		if key.Trader == trader {
			delete(s.positions, key)
		}
	}
	for _, pos := range positions {
		s.positions[pos.Key] = pos
	}
	return nil
}

// AppendHistory records a settled trade, newest first, capped per trader.
func (s *PositionStore) AppendHistory(ctx context.Context, trader common.Address, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := append([]domain.TradeRecord{rec}, s.history[trader]...)
	if len(recs) > historyCap {
		recs = recs[:historyCap]
	}
	s.history[trader] = recs
	return nil
}

// History returns up to limit settled trades for a trader, newest first.
// limit <= 0 means all.
func (s *PositionStore) History(ctx context.Context, trader common.Address, limit int) ([]domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.history[trader]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	out := make([]domain.TradeRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
