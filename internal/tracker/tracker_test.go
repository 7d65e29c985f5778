package tracker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambjn/ostium-whop/internal/domain"
	"github.com/ambjn/ostium-whop/internal/store/memory"
)

// receiptChain serves scripted receipts per transaction hash.
type receiptChain struct {
	mu       sync.Mutex
	receipts map[common.Hash]*domain.Receipt
	polls    map[common.Hash]int
}

func newReceiptChain() *receiptChain {
	return &receiptChain{
		receipts: make(map[common.Hash]*domain.Receipt),
		polls:    make(map[common.Hash]int),
	}
}

func (c *receiptChain) setReceipt(hash common.Hash, rcpt *domain.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[hash] = rcpt
}

func (c *receiptChain) Receipt(ctx context.Context, hash common.Hash) (*domain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls[hash]++
	if rcpt, ok := c.receipts[hash]; ok {
		return rcpt, nil
	}
	return nil, domain.ErrReceiptPending
}

func (c *receiptChain) SubmitTrade(ctx context.Context, cred domain.Credential, call domain.TradeCall) (common.Hash, error) {
	return common.Hash{}, nil
}

func (c *receiptChain) OpenTrades(ctx context.Context, trader common.Address) ([]domain.ChainTrade, error) {
	return nil, nil
}

func (c *receiptChain) RecentOrders(ctx context.Context, trader common.Address, limit int) ([]domain.ChainOrder, error) {
	return nil, nil
}

func (c *receiptChain) Balances(ctx context.Context, addr common.Address) (domain.Balances, error) {
	return domain.Balances{}, nil
}

func (c *receiptChain) Price(ctx context.Context, from, to string) (domain.PairPrice, error) {
	return domain.PairPrice{}, nil
}

func (c *receiptChain) Pairs(ctx context.Context) ([]domain.PairInfo, error) { return nil, nil }

func (c *receiptChain) BlockNumber(ctx context.Context) (uint64, error) { return 1, nil }

var _ domain.ChainClient = (*receiptChain)(nil)

func newTestTracker(chain domain.ChainClient, txs domain.TxStore, timeout time.Duration) *Tracker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(chain, txs, Config{PollInterval: time.Millisecond, Timeout: timeout}, logger)
}

func pendingTx(key string, hash common.Hash) domain.PendingTransaction {
	return domain.PendingTransaction{
		Key:         key,
		OrderID:     "ord-" + key,
		Hash:        hash,
		Status:      domain.TxSubmitted,
		SubmittedAt: time.Now().UTC(),
	}
}

func runTracker(t *testing.T, tr *Tracker) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	return cancel, done
}

func waitOutcome(t *testing.T, tr *Tracker) domain.Outcome {
	t.Helper()
	select {
	case out := <-tr.Outcomes():
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome delivered")
		return domain.Outcome{}
	}
}

func TestTrackerConfirms(t *testing.T) {
	chain := newReceiptChain()
	txs := memory.NewTxStore()
	tr := newTestTracker(chain, txs, time.Minute)
	cancel, done := runTracker(t, tr)
	defer func() { cancel(); <-done }()

	ctx := context.Background()
	hash := common.HexToHash("0x1")
	tx := pendingTx("k1", hash)
	require.NoError(t, txs.Put(ctx, tx))
	chain.setReceipt(hash, &domain.Receipt{TxHash: hash, BlockNumber: 42, Succeeded: true})
	tr.Track(tx)

	out := waitOutcome(t, tr)
	assert.Equal(t, domain.TxConfirmed, out.Status)
	require.NotNil(t, out.Receipt)
	assert.Equal(t, uint64(42), out.Receipt.BlockNumber)

	stored, err := txs.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, domain.TxConfirmed, stored.Status)
	assert.Equal(t, uint64(42), stored.BlockNumber)
	assert.False(t, stored.ResolvedAt.IsZero())
}

func TestTrackerReverts(t *testing.T) {
	chain := newReceiptChain()
	txs := memory.NewTxStore()
	tr := newTestTracker(chain, txs, time.Minute)
	cancel, done := runTracker(t, tr)
	defer func() { cancel(); <-done }()

	ctx := context.Background()
	hash := common.HexToHash("0x2")
	tx := pendingTx("k1", hash)
	require.NoError(t, txs.Put(ctx, tx))
	chain.setReceipt(hash, &domain.Receipt{TxHash: hash, BlockNumber: 7, Succeeded: false, RevertReason: "SL_TOO_BIG"})
	tr.Track(tx)

	out := waitOutcome(t, tr)
	assert.Equal(t, domain.TxReverted, out.Status)

	stored, err := txs.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, domain.TxReverted, stored.Status)
	assert.Equal(t, "SL_TOO_BIG", stored.RevertReason)
}

func TestTrackerTimesOut(t *testing.T) {
	chain := newReceiptChain()
	txs := memory.NewTxStore()
	tr := newTestTracker(chain, txs, 20*time.Millisecond)
	cancel, done := runTracker(t, tr)
	defer func() { cancel(); <-done }()

	ctx := context.Background()
	tx := pendingTx("k1", common.HexToHash("0x3"))
	require.NoError(t, txs.Put(ctx, tx))
	// No receipt ever arrives.
	tr.Track(tx)

	out := waitOutcome(t, tr)
	assert.Equal(t, domain.TxTimedOut, out.Status)
	assert.Nil(t, out.Receipt, "timed-out proves nothing about execution")

	stored, err := txs.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, domain.TxTimedOut, stored.Status)

	// Absorbing state: a late receipt must not move the record.
	stored.Status = domain.TxConfirmed
	assert.ErrorIs(t, txs.Update(ctx, stored), domain.ErrInvalidRequest)
}

func TestTrackerResumesOutstanding(t *testing.T) {
	chain := newReceiptChain()
	txs := memory.NewTxStore()

	ctx := context.Background()
	hash := common.HexToHash("0x4")
	tx := pendingTx("k1", hash)
	require.NoError(t, txs.Put(ctx, tx))
	chain.setReceipt(hash, &domain.Receipt{TxHash: hash, BlockNumber: 5, Succeeded: true})

	// The record predates Run; a restart must pick it up without Track.
	tr := newTestTracker(chain, txs, time.Minute)
	cancel, done := runTracker(t, tr)
	defer func() { cancel(); <-done }()

	out := waitOutcome(t, tr)
	assert.Equal(t, "k1", out.Key)
	assert.Equal(t, domain.TxConfirmed, out.Status)
}

func TestTrackerTrackBeforeRun(t *testing.T) {
	chain := newReceiptChain()
	txs := memory.NewTxStore()
	tr := newTestTracker(chain, txs, time.Minute)

	ctx := context.Background()
	hash := common.HexToHash("0x5")
	tx := pendingTx("k1", hash)
	require.NoError(t, txs.Put(ctx, tx))
	chain.setReceipt(hash, &domain.Receipt{TxHash: hash, BlockNumber: 9, Succeeded: true})

	// Track lands in the backlog until Run starts.
	tr.Track(tx)

	cancel, done := runTracker(t, tr)
	defer func() { cancel(); <-done }()

	out := waitOutcome(t, tr)
	assert.Equal(t, domain.TxConfirmed, out.Status)
}
