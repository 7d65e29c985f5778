package gateway

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambjn/ostium-whop/internal/domain"
	"github.com/ambjn/ostium-whop/internal/ledger"
	"github.com/ambjn/ostium-whop/internal/store/memory"
	"github.com/ambjn/ostium-whop/internal/submit"
	"github.com/ambjn/ostium-whop/internal/wallet"
)

// stubChain provides canned reads and accepts every submission. Collateral
// withdrawals are mirrored into the reported trades so reconciliation sees
// the chain move.
type stubChain struct {
	mu      sync.Mutex
	trades  []domain.ChainTrade
	price   domain.PairPrice
	calls   []domain.TradeCall
	nextSeq byte
}

func (c *stubChain) SubmitTrade(_ context.Context, _ domain.Credential, call domain.TradeCall) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	if call.Kind == domain.IntentRemoveCollateral {
		for i := range c.trades {
			if c.trades[i].PairIndex == call.PairIndex && c.trades[i].TradeIndex == call.TradeIndex {
				c.trades[i].CollateralUnits -= call.AmountUnits
			}
		}
	}
	c.nextSeq++
	return common.Hash{c.nextSeq}, nil
}

func (c *stubChain) Receipt(context.Context, common.Hash) (*domain.Receipt, error) {
	return nil, domain.ErrReceiptPending
}

func (c *stubChain) OpenTrades(context.Context, common.Address) ([]domain.ChainTrade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChainTrade(nil), c.trades...), nil
}

func (c *stubChain) RecentOrders(context.Context, common.Address, int) ([]domain.ChainOrder, error) {
	return nil, nil
}

func (c *stubChain) Balances(context.Context, common.Address) (domain.Balances, error) {
	return domain.Balances{ETHWei: big.NewInt(0), USDCUnits: 500_000_000, ReadAt: time.Now()}, nil
}

func (c *stubChain) Price(context.Context, string, string) (domain.PairPrice, error) {
	return c.price, nil
}

func (c *stubChain) Pairs(context.Context) ([]domain.PairInfo, error) {
	return []domain.PairInfo{{Index: 0, From: "BTC", To: "USD"}}, nil
}

func (c *stubChain) BlockNumber(context.Context) (uint64, error) { return 100, nil }

var _ domain.ChainClient = (*stubChain)(nil)

type noopTracker struct{}

func (noopTracker) Track(domain.PendingTransaction) {}

func newTestFacade(t *testing.T, chain *stubChain, cfg Config) *Facade {
	t.Helper()
	return newStalenessFacade(t, chain, cfg, time.Hour)
}

// newStalenessFacade builds a facade whose ledger refreshes after the given
// interval. Zero forces a chain read on every mutating call.
func newStalenessFacade(t *testing.T, chain *stubChain, cfg Config, staleAfter time.Duration) *Facade {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	txs := memory.NewTxStore()
	sub := submit.New(chain, txs, noopTracker{}, submit.Config{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		DefaultSlippage: 1.0,
	}, logger)
	led := ledger.New(chain, memory.NewPositionStore(), memory.NewSignalBus(), ledger.Config{
		StaleAfter: staleAfter,
		BalanceTTL: time.Hour,
	}, logger)
	return New(wallet.NewSession(logger), sub, led, txs, chain, memory.NewLockManager(), cfg, logger)
}

func initWallet(t *testing.T, g *Facade) common.Address {
	t.Helper()
	created, err := g.CreateWallet()
	require.NoError(t, err)
	return created.Address
}

func marketIntent() domain.OrderIntent {
	return domain.OrderIntent{
		PairFrom:        "BTC",
		PairTo:          "USD",
		CollateralUnits: 100_000_000,
		Leverage:        1000,
		Long:            true,
		Order:           domain.MarketOrder{},
	}
}

func TestFacadeGatesOnWallet(t *testing.T) {
	g := newTestFacade(t, &stubChain{}, Config{})
	ctx := context.Background()

	_, err := g.PlaceOrder(ctx, marketIntent())
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	_, err = g.Positions(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	_, err = g.Balances(ctx, false)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestFacadePlaceOrder(t *testing.T) {
	chain := &stubChain{price: domain.PairPrice{PriceTicks: 50_000_000_000, MarketOpen: true}}
	g := newTestFacade(t, chain, Config{})
	addr := initWallet(t, g)

	ack, err := g.PlaceOrder(context.Background(), marketIntent())
	require.NoError(t, err)

	assert.NotEmpty(t, ack.OrderID)
	assert.Equal(t, domain.TxSubmitted, ack.Status)
	assert.Equal(t, int64(50_000_000_000), ack.PriceTicks)
	assert.InDelta(t, 50_000.0, ack.Entry, 0.001)
	assert.InDelta(t, 1000.0, ack.Size, 0.001)
	assert.InDelta(t, 45_500.0, ack.Liquidation, 0.001)

	require.Len(t, chain.calls, 1)
	assert.Equal(t, addr, chain.calls[0].Trader)
	assert.Equal(t, uint16(0), chain.calls[0].PairIndex)
}

func TestFacadeUnknownPair(t *testing.T) {
	g := newTestFacade(t, &stubChain{}, Config{})
	initWallet(t, g)

	intent := marketIntent()
	intent.PairFrom = "DOGE"
	_, err := g.PlaceOrder(context.Background(), intent)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestFacadeDelegatedTrader(t *testing.T) {
	delegated := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	chain := &stubChain{price: domain.PairPrice{PriceTicks: 50_000_000_000, MarketOpen: true}}
	g := newTestFacade(t, chain, Config{DelegatedTrader: delegated})
	initWallet(t, g)

	_, err := g.PlaceOrder(context.Background(), marketIntent())
	require.NoError(t, err)

	require.Len(t, chain.calls, 1)
	assert.Equal(t, delegated, chain.calls[0].Trader)
}

func TestFacadeCloseRequiresExistingPosition(t *testing.T) {
	chain := &stubChain{}
	g := newTestFacade(t, chain, Config{})
	initWallet(t, g)

	intent := marketIntent()
	intent.Order = nil
	intent.ClosePercent = 100
	_, err := g.CloseTrade(context.Background(), intent)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, chain.calls)
}

func TestFacadeCloseExistingPosition(t *testing.T) {
	chain := &stubChain{}
	g := newTestFacade(t, chain, Config{})
	addr := initWallet(t, g)

	chain.trades = []domain.ChainTrade{{
		Trader:          addr,
		PairIndex:       0,
		TradeIndex:      0,
		PairFrom:        "BTC",
		PairTo:          "USD",
		CollateralUnits: 100_000_000,
		Leverage:        1000,
		Long:            true,
		OpenPriceTicks:  50_000_000_000,
	}}

	intent := marketIntent()
	intent.Order = nil
	intent.ClosePercent = 100
	ack, err := g.CloseTrade(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, domain.TxSubmitted, ack.Status)
	require.Len(t, chain.calls, 1)
	assert.Equal(t, uint16(100), chain.calls[0].ClosePercent)
}

func TestFacadeTrackOrder(t *testing.T) {
	chain := &stubChain{price: domain.PairPrice{PriceTicks: 50_000_000_000, MarketOpen: true}}
	g := newTestFacade(t, chain, Config{})
	initWallet(t, g)
	ctx := context.Background()

	ack, err := g.PlaceOrder(ctx, marketIntent())
	require.NoError(t, err)

	tx, err := g.TrackOrder(ctx, ack.OrderID)
	require.NoError(t, err)
	assert.Equal(t, ack.TxHash, tx.Hash)

	_, err = g.TrackOrder(ctx, "no-such-order")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFacadeImportWallet(t *testing.T) {
	g := newTestFacade(t, &stubChain{}, Config{})

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyHex := common.Bytes2Hex(crypto.FromECDSA(key))

	addr, err := g.ImportWallet(keyHex)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)

	status := g.WalletStatus()
	assert.True(t, status.Initialized)
	assert.Equal(t, addr, status.Address)

	g.ClearWallet()
	assert.False(t, g.WalletStatus().Initialized)
}

func TestFacadeSlippage(t *testing.T) {
	g := newTestFacade(t, &stubChain{}, Config{})

	assert.InDelta(t, 1.0, g.Slippage(), 0.0001)
	require.NoError(t, g.SetSlippage(2.5))
	assert.InDelta(t, 2.5, g.Slippage(), 0.0001)
	assert.ErrorIs(t, g.SetSlippage(150), domain.ErrInvalidRequest)
}

func TestFacadeHealth(t *testing.T) {
	g := newTestFacade(t, &stubChain{}, Config{Network: "arbitrum-sepolia", RPCURL: "http://localhost:8545"})

	h := g.HealthCheck(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, uint64(100), h.BlockNumber)
	assert.False(t, h.Wallet)

	initWallet(t, g)
	h = g.HealthCheck(context.Background())
	assert.True(t, h.Wallet)
}

func TestFacadeClientKeyReplays(t *testing.T) {
	chain := &stubChain{price: domain.PairPrice{PriceTicks: 50_000_000_000, MarketOpen: true}}
	g := newTestFacade(t, chain, Config{})
	initWallet(t, g)
	ctx := context.Background()

	intent := marketIntent()
	intent.ClientKey = "retry-7f3a"
	first, err := g.PlaceOrder(ctx, intent)
	require.NoError(t, err)

	second, err := g.PlaceOrder(ctx, intent)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.TxHash, second.TxHash)
	assert.Len(t, chain.calls, 1)
}

func TestFacadeNoClientKeyMeansFreshSubmission(t *testing.T) {
	chain := &stubChain{price: domain.PairPrice{PriceTicks: 50_000_000_000, MarketOpen: true}}
	g := newTestFacade(t, chain, Config{})
	initWallet(t, g)
	ctx := context.Background()

	first, err := g.PlaceOrder(ctx, marketIntent())
	require.NoError(t, err)
	second, err := g.PlaceOrder(ctx, marketIntent())
	require.NoError(t, err)

	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.NotEqual(t, first.TxHash, second.TxHash)
	assert.Len(t, chain.calls, 2)
}

func btcTrade(trader common.Address, collateralUnits int64) domain.ChainTrade {
	return domain.ChainTrade{
		Trader:          trader,
		PairIndex:       0,
		TradeIndex:      0,
		PairFrom:        "BTC",
		PairTo:          "USD",
		CollateralUnits: collateralUnits,
		Leverage:        1000,
		Long:            true,
		OpenPriceTicks:  50_000_000_000,
	}
}

func TestFacadeRemoveCollateralOverdraw(t *testing.T) {
	chain := &stubChain{}
	g := newTestFacade(t, chain, Config{})
	addr := initWallet(t, g)
	chain.trades = []domain.ChainTrade{btcTrade(addr, 100_000_000)}

	intent := marketIntent()
	intent.Order = nil
	intent.AmountUnits = 100_000_000
	_, err := g.RemoveCollateral(context.Background(), intent)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, chain.calls)

	intent.AmountUnits = 40_000_000
	ack, err := g.RemoveCollateral(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, domain.TxSubmitted, ack.Status)
	assert.Len(t, chain.calls, 1)
}

func TestFacadeConcurrentRemoveCollateral(t *testing.T) {
	chain := &stubChain{}
	g := newStalenessFacade(t, chain, Config{}, 0)
	addr := initWallet(t, g)
	chain.trades = []domain.ChainTrade{btcTrade(addr, 100_000_000)}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			intent := marketIntent()
			intent.Order = nil
			intent.AmountUnits = 60_000_000
			_, err := g.RemoveCollateral(context.Background(), intent)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Len(t, chain.calls, 1)
}

func TestFacadeCloseMarksPositionClosing(t *testing.T) {
	chain := &stubChain{}
	g := newTestFacade(t, chain, Config{})
	addr := initWallet(t, g)
	chain.trades = []domain.ChainTrade{btcTrade(addr, 100_000_000)}

	intent := marketIntent()
	intent.Order = nil
	intent.ClosePercent = 100
	_, err := g.CloseTrade(context.Background(), intent)
	require.NoError(t, err)

	positions, err := g.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.PositionClosing, positions[0].Status)
}
