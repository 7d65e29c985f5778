package submit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambjn/ostium-whop/internal/domain"
	"github.com/ambjn/ostium-whop/internal/store/memory"
)

// fakeChain scripts SubmitTrade results per attempt and records every call.
type fakeChain struct {
	mu        sync.Mutex
	submits   int
	responses []error // consumed per submit; nil means success
	price     domain.PairPrice
	priceErr  error
}

func (f *fakeChain) SubmitTrade(ctx context.Context, cred domain.Credential, call domain.TradeCall) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if len(f.responses) > 0 {
		err := f.responses[0]
		f.responses = f.responses[1:]
		if err != nil {
			return common.Hash{}, err
		}
	}
	return common.HexToHash("0xabc"), nil
}

func (f *fakeChain) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeChain) Receipt(ctx context.Context, hash common.Hash) (*domain.Receipt, error) {
	return nil, domain.ErrReceiptPending
}

func (f *fakeChain) OpenTrades(ctx context.Context, trader common.Address) ([]domain.ChainTrade, error) {
	return nil, nil
}

func (f *fakeChain) RecentOrders(ctx context.Context, trader common.Address, limit int) ([]domain.ChainOrder, error) {
	return nil, nil
}

func (f *fakeChain) Balances(ctx context.Context, addr common.Address) (domain.Balances, error) {
	return domain.Balances{}, nil
}

func (f *fakeChain) Price(ctx context.Context, from, to string) (domain.PairPrice, error) {
	if f.priceErr != nil {
		return domain.PairPrice{}, f.priceErr
	}
	return f.price, nil
}

func (f *fakeChain) Pairs(ctx context.Context) ([]domain.PairInfo, error) { return nil, nil }

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return 1, nil }

var _ domain.ChainClient = (*fakeChain)(nil)

// fakeTracker counts Track calls.
type fakeTracker struct{ tracked atomic.Int64 }

func (f *fakeTracker) Track(tx domain.PendingTransaction) { f.tracked.Add(1) }

func newTestSubmitter(chain *fakeChain) (*Submitter, *memory.TxStore, *fakeTracker) {
	txs := memory.NewTxStore()
	tr := &fakeTracker{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		DefaultSlippage: 1.0,
	}
	return New(chain, txs, tr, cfg, logger), txs, tr
}

func testCred(t *testing.T) domain.Credential {
	t.Helper()
	cred, err := domain.GenerateCredential()
	require.NoError(t, err)
	return cred
}

func marketOpenIntent(key string) domain.OrderIntent {
	return domain.OrderIntent{
		ID:              "ord-" + key,
		Kind:            domain.IntentOpen,
		PairFrom:        "BTC",
		PairTo:          "USD",
		PairIndex:       0,
		CollateralUnits: 100_000_000,
		Leverage:        1000,
		Long:            true,
		Order:           domain.MarketOrder{},
		IdempotencyKey:  key,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestSubmitRecordsAndTracks(t *testing.T) {
	chain := &fakeChain{price: domain.PairPrice{PriceTicks: 50_000_000_000, MarketOpen: true}}
	s, txs, tr := newTestSubmitter(chain)

	tx, err := s.Submit(context.Background(), testCred(t), marketOpenIntent("k1"))
	require.NoError(t, err)

	assert.Equal(t, domain.TxSubmitted, tx.Status)
	assert.Equal(t, int64(50_000_000_000), tx.PriceTicks)
	assert.Equal(t, common.HexToHash("0xabc"), tx.Hash)
	assert.Equal(t, int64(1), tr.tracked.Load())

	stored, err := txs.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, tx.Hash, stored.Hash)
}

func TestSubmitIdempotentReplay(t *testing.T) {
	chain := &fakeChain{price: domain.PairPrice{PriceTicks: 1_000_000, MarketOpen: true}}
	s, _, tr := newTestSubmitter(chain)
	cred := testCred(t)

	first, err := s.Submit(context.Background(), cred, marketOpenIntent("k1"))
	require.NoError(t, err)

	// Same key again: the recorded transaction comes back, the chain is not
	// touched, and the tracker is not re-fed.
	second, err := s.Submit(context.Background(), cred, marketOpenIntent("k1"))
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, 1, chain.submitCount())
	assert.Equal(t, int64(1), tr.tracked.Load())
}

func TestSubmitReplaysTerminalRecords(t *testing.T) {
	chain := &fakeChain{price: domain.PairPrice{PriceTicks: 1_000_000, MarketOpen: true}}
	s, txs, _ := newTestSubmitter(chain)
	cred := testCred(t)

	first, err := s.Submit(context.Background(), cred, marketOpenIntent("k1"))
	require.NoError(t, err)

	// Drive the record to timed_out; a replay must surface the record, never
	// a fresh broadcast.
	first.Status = domain.TxTimedOut
	require.NoError(t, txs.Update(context.Background(), first))

	replay, err := s.Submit(context.Background(), cred, marketOpenIntent("k1"))
	require.NoError(t, err)
	assert.Equal(t, domain.TxTimedOut, replay.Status)
	assert.Equal(t, 1, chain.submitCount())
}

func TestSubmitRetriesTransient(t *testing.T) {
	chain := &fakeChain{
		price: domain.PairPrice{PriceTicks: 1_000_000, MarketOpen: true},
		responses: []error{
			domain.Transient(errors.New("connection refused")),
			domain.Transient(errors.New("too many requests")),
			nil,
		},
	}
	s, _, _ := newTestSubmitter(chain)

	tx, err := s.Submit(context.Background(), testCred(t), marketOpenIntent("k1"))
	require.NoError(t, err)
	assert.Equal(t, 2, tx.Retries)
	assert.Equal(t, 3, chain.submitCount())
}

func TestSubmitExhaustsRetryBudget(t *testing.T) {
	transient := domain.Transient(errors.New("node down"))
	chain := &fakeChain{
		price:     domain.PairPrice{PriceTicks: 1_000_000, MarketOpen: true},
		responses: []error{transient, transient, transient, transient},
	}
	s, txs, tr := newTestSubmitter(chain)

	_, err := s.Submit(context.Background(), testCred(t), marketOpenIntent("k1"))
	require.Error(t, err)
	assert.Equal(t, domain.KindChainTransient, domain.Kind(err))
	// MaxRetries 2 means 3 attempts total.
	assert.Equal(t, 3, chain.submitCount())

	// Nothing recorded: the caller may retry the same request.
	_, err = txs.Get(context.Background(), "k1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int64(0), tr.tracked.Load())
}

func TestSubmitRejectionIsFinal(t *testing.T) {
	chain := &fakeChain{
		price:     domain.PairPrice{PriceTicks: 1_000_000, MarketOpen: true},
		responses: []error{domain.Rejected("insufficient funds")},
	}
	s, txs, _ := newTestSubmitter(chain)

	_, err := s.Submit(context.Background(), testCred(t), marketOpenIntent("k1"))
	require.Error(t, err)
	assert.Equal(t, domain.KindChainRejected, domain.Kind(err))
	assert.Equal(t, 1, chain.submitCount(), "rejections are never retried")

	_, err = txs.Get(context.Background(), "k1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmitMarketClosed(t *testing.T) {
	chain := &fakeChain{price: domain.PairPrice{PriceTicks: 1_000_000, MarketOpen: false}}
	s, _, _ := newTestSubmitter(chain)

	_, err := s.Submit(context.Background(), testCred(t), marketOpenIntent("k1"))
	require.Error(t, err)
	assert.Equal(t, domain.KindChainRejected, domain.Kind(err))
	assert.Equal(t, 0, chain.submitCount())
}

func TestSubmitLimitOrderSkipsPriceFetch(t *testing.T) {
	chain := &fakeChain{priceErr: errors.New("oracle should not be called")}
	s, _, _ := newTestSubmitter(chain)

	intent := marketOpenIntent("k1")
	intent.Order = domain.LimitOrder{PriceTicks: 48_000_000_000}

	tx, err := s.Submit(context.Background(), testCred(t), intent)
	require.NoError(t, err)
	assert.Equal(t, int64(48_000_000_000), tx.PriceTicks)
}

func TestSubmitValidation(t *testing.T) {
	chain := &fakeChain{}
	s, _, _ := newTestSubmitter(chain)
	cred := testCred(t)

	cases := []struct {
		name   string
		mutate func(*domain.OrderIntent)
	}{
		{"zero collateral", func(i *domain.OrderIntent) { i.CollateralUnits = 0 }},
		{"leverage too high", func(i *domain.OrderIntent) { i.Leverage = 100_000 }},
		{"missing order variant", func(i *domain.OrderIntent) { i.Order = nil }},
		{"unknown pair", func(i *domain.OrderIntent) { i.PairIndex = 200 }},
		{"non-positive limit price", func(i *domain.OrderIntent) { i.Order = domain.LimitOrder{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := marketOpenIntent("k-" + tc.name)
			tc.mutate(&intent)
			_, err := s.Submit(context.Background(), cred, intent)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, chain.submitCount())

	t.Run("close percentage bounds", func(t *testing.T) {
		intent := domain.OrderIntent{Kind: domain.IntentClose, PairFrom: "BTC", PairTo: "USD", ClosePercent: 0, IdempotencyKey: "kc"}
		_, err := s.Submit(context.Background(), cred, intent)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)

		intent.ClosePercent = 101
		_, err = s.Submit(context.Background(), cred, intent)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})
}

func TestSubmitRejectsMisplacedRiskLevels(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.OrderIntent)
	}{
		{"long stop loss above entry", func(i *domain.OrderIntent) {
			i.StopLossTicks = 60_000_000_000
		}},
		{"long take profit below entry", func(i *domain.OrderIntent) {
			i.TakeProfitTicks = 40_000_000_000
		}},
		{"long with both inverted", func(i *domain.OrderIntent) {
			i.StopLossTicks = 60_000_000_000
			i.TakeProfitTicks = 40_000_000_000
		}},
		{"short stop loss below entry", func(i *domain.OrderIntent) {
			i.Long = false
			i.StopLossTicks = 40_000_000_000
		}},
		{"short take profit above entry", func(i *domain.OrderIntent) {
			i.Long = false
			i.TakeProfitTicks = 60_000_000_000
		}},
		{"limit order checks the limit price", func(i *domain.OrderIntent) {
			i.Order = domain.LimitOrder{PriceTicks: 48_000_000_000}
			i.StopLossTicks = 49_000_000_000
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chain := &fakeChain{price: domain.PairPrice{PriceTicks: 50_000_000_000, MarketOpen: true}}
			s, txs, _ := newTestSubmitter(chain)

			intent := marketOpenIntent("k-risk")
			tc.mutate(&intent)
			_, err := s.Submit(context.Background(), testCred(t), intent)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
			assert.Equal(t, 0, chain.submitCount(), "nothing may reach the chain")

			_, err = txs.Get(context.Background(), "k-risk")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestSubmitAcceptsWellPlacedRiskLevels(t *testing.T) {
	chain := &fakeChain{price: domain.PairPrice{PriceTicks: 50_000_000_000, MarketOpen: true}}
	s, _, _ := newTestSubmitter(chain)

	intent := marketOpenIntent("k-ok")
	intent.StopLossTicks = 45_000_000_000
	intent.TakeProfitTicks = 60_000_000_000
	_, err := s.Submit(context.Background(), testCred(t), intent)
	require.NoError(t, err)
	assert.Equal(t, 1, chain.submitCount())
}

func TestSubmitRiskUpdateCheckedAgainstIndexPrice(t *testing.T) {
	chain := &fakeChain{price: domain.PairPrice{PriceTicks: 50_000_000_000, MarketOpen: true}}
	s, _, _ := newTestSubmitter(chain)
	cred := testCred(t)

	update := domain.OrderIntent{
		ID:             "ord-sl",
		Kind:           domain.IntentUpdateStopLoss,
		PairFrom:       "BTC",
		PairTo:         "USD",
		Long:           true,
		StopLossTicks:  55_000_000_000,
		IdempotencyKey: "k-sl",
	}
	_, err := s.Submit(context.Background(), cred, update)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, 0, chain.submitCount())

	update.StopLossTicks = 45_000_000_000
	_, err = s.Submit(context.Background(), cred, update)
	require.NoError(t, err)
	assert.Equal(t, 1, chain.submitCount())

	// Zero clears the level regardless of direction.
	unset := update
	unset.StopLossTicks = 0
	unset.IdempotencyKey = "k-sl-clear"
	_, err = s.Submit(context.Background(), cred, unset)
	require.NoError(t, err)
}

func TestSubmitConcurrentSameKey(t *testing.T) {
	chain := &fakeChain{price: domain.PairPrice{PriceTicks: 1_000_000, MarketOpen: true}}
	s, _, tr := newTestSubmitter(chain)
	cred := testCred(t)

	const goroutines = 16
	var wg sync.WaitGroup
	hashes := make([]common.Hash, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tx, err := s.Submit(context.Background(), cred, marketOpenIntent("shared"))
			require.NoError(t, err)
			hashes[n] = tx.Hash
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, chain.submitCount(), "one broadcast for all callers")
	assert.Equal(t, int64(1), tr.tracked.Load())
	for _, h := range hashes {
		assert.Equal(t, hashes[0], h)
	}
}

func TestSlippageSetting(t *testing.T) {
	s, _, _ := newTestSubmitter(&fakeChain{})

	assert.Equal(t, 1.0, s.Slippage())
	require.NoError(t, s.SetSlippage(2.5))
	assert.Equal(t, 2.5, s.Slippage())

	err := s.SetSlippage(150)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, 2.5, s.Slippage())
}
