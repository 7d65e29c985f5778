package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxStore persists submitted transactions keyed by idempotency key. The
// submitter consults it before every submission: a key that already maps to
// a record is replayed, never resubmitted.
type TxStore interface {
	// Put stores a new record. It fails with ErrInvalidRequest if the key
	// already exists.
	Put(ctx context.Context, tx PendingTransaction) error
	Get(ctx context.Context, key string) (PendingTransaction, error)
	GetByOrderID(ctx context.Context, orderID string) (PendingTransaction, error)
	// Update replaces the record for tx.Key. Terminal records are immutable:
	// updating one fails with ErrInvalidRequest.
	Update(ctx context.Context, tx PendingTransaction) error
	// ListOutstanding returns records whose status is not yet terminal.
	ListOutstanding(ctx context.Context) ([]PendingTransaction, error)
}

// PositionStore holds the ledger's position snapshots and trade history.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Get(ctx context.Context, key PositionKey) (Position, error)
	Delete(ctx context.Context, key PositionKey) error
	ListByTrader(ctx context.Context, trader common.Address) ([]Position, error)
	// ReplaceTrader atomically replaces all of a trader's active positions
	// with the given set. Reconciliation uses it to make chain state win.
	ReplaceTrader(ctx context.Context, trader common.Address, positions []Position) error

	AppendHistory(ctx context.Context, trader common.Address, rec TradeRecord) error
	History(ctx context.Context, trader common.Address, limit int) ([]TradeRecord, error)
}

// LockManager serializes mutating operations on a shared resource. Acquire
// fails fast with ErrLockHeld; callers retry with backoff.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter bounds request rates per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
