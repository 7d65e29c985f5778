package rediskv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ambjn/ostium-whop/internal/domain"
)

const (
	txKeyPrefix    = "tx:key:"
	txOrderPrefix  = "tx:order:"
	txOutstandingK = "tx:outstanding"

	// txTTL bounds how long settled records linger for idempotent replay.
	txTTL = 24 * time.Hour
)

// TxStore persists submitted-transaction records as JSON values keyed by
// idempotency key, with an order-ID index and an outstanding set for the
// confirmation tracker's resume scan.
type TxStore struct {
	rdb *redis.Client
}

// NewTxStore creates a TxStore backed by the given Client.
func NewTxStore(c *Client) *TxStore {
	return &TxStore{rdb: c.Underlying()}
}

// Put stores a new record, failing if the idempotency key is already taken.
func (s *TxStore) Put(ctx context.Context, tx domain.PendingTransaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("rediskv: marshal tx %s: %w", tx.Key, err)
	}

	ok, err := s.rdb.SetNX(ctx, txKeyPrefix+tx.Key, data, txTTL).Result()
	if err != nil {
		return fmt.Errorf("rediskv: put tx %s: %w", tx.Key, err)
	}
	if !ok {
		return domain.Invalid("transaction record for key %s already exists", tx.Key)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, txOrderPrefix+tx.OrderID, tx.Key, txTTL)
	pipe.SAdd(ctx, txOutstandingK, tx.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rediskv: index tx %s: %w", tx.Key, err)
	}
	return nil
}

// Get returns the record for an idempotency key.
func (s *TxStore) Get(ctx context.Context, key string) (domain.PendingTransaction, error) {
	data, err := s.rdb.Get(ctx, txKeyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.PendingTransaction{}, domain.ErrNotFound
		}
		return domain.PendingTransaction{}, fmt.Errorf("rediskv: get tx %s: %w", key, err)
	}

	var tx domain.PendingTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return domain.PendingTransaction{}, fmt.Errorf("rediskv: unmarshal tx %s: %w", key, err)
	}
	return tx, nil
}

// GetByOrderID returns the record for a gateway order ID.
func (s *TxStore) GetByOrderID(ctx context.Context, orderID string) (domain.PendingTransaction, error) {
	key, err := s.rdb.Get(ctx, txOrderPrefix+orderID).Result()
	if err != nil {
		if err == redis.Nil {
			return domain.PendingTransaction{}, domain.ErrNotFound
		}
		return domain.PendingTransaction{}, fmt.Errorf("rediskv: get order index %s: %w", orderID, err)
	}
	return s.Get(ctx, key)
}

// Update replaces the record for tx.Key. Terminal records are immutable.
func (s *TxStore) Update(ctx context.Context, tx domain.PendingTransaction) error {
	prev, err := s.Get(ctx, tx.Key)
	if err != nil {
		return err
	}
	if prev.Status.Terminal() {
		return domain.Invalid("transaction %s is already %s", tx.Key, prev.Status)
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("rediskv: marshal tx %s: %w", tx.Key, err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, txKeyPrefix+tx.Key, data, txTTL)
	if tx.Status.Terminal() {
		pipe.SRem(ctx, txOutstandingK, tx.Key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rediskv: update tx %s: %w", tx.Key, err)
	}
	return nil
}

// ListOutstanding returns every record whose status is not terminal.
func (s *TxStore) ListOutstanding(ctx context.Context) ([]domain.PendingTransaction, error) {
	keys, err := s.rdb.SMembers(ctx, txOutstandingK).Result()
	if err != nil {
		return nil, fmt.Errorf("rediskv: list outstanding: %w", err)
	}

	var out []domain.PendingTransaction
	for _, key := range keys {
		tx, err := s.Get(ctx, key)
		if err != nil {
			if err == domain.ErrNotFound {
				// Record expired out from under the set; drop the member.
				_ = s.rdb.SRem(ctx, txOutstandingK, key).Err()
				continue
			}
			return nil, err
		}
		if !tx.Status.Terminal() {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.TxStore = (*TxStore)(nil)
