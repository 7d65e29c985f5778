// Package gateway composes the wallet session, submitter, tracker and
// ledger into the inbound operation surface the transport layer exposes.
// Every trading operation is gated on an initialized credential and
// serialized per position slot.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ambjn/ostium-whop/internal/chain/evm"
	"github.com/ambjn/ostium-whop/internal/domain"
	"github.com/ambjn/ostium-whop/internal/ledger"
	"github.com/ambjn/ostium-whop/internal/submit"
	"github.com/ambjn/ostium-whop/internal/wallet"
)

const (
	positionLockTTL  = 30 * time.Second
	lockRetryDelay   = 50 * time.Millisecond
	lockAcquireLimit = 10 * time.Second
)

// Config carries facade-level settings.
type Config struct {
	// DelegatedTrader, when set, is the default on-chain trader targeted by
	// mutating operations. Per-request trader addresses override it.
	DelegatedTrader common.Address
	// Network is reported by Health.
	Network string
	// RPCURL is reported by Health.
	RPCURL string
}

// Facade is the gateway's operation surface.
type Facade struct {
	session   *wallet.Session
	submitter *submit.Submitter
	ledger    *ledger.Ledger
	txs       domain.TxStore
	chain     domain.ChainClient
	locks     domain.LockManager
	cfg       Config
	logger    *slog.Logger

	// counter allocates key-derivation slots for requests that carry no
	// client idempotency key, keeping deliberate repeats distinct.
	counter atomic.Uint64
}

// New creates a Facade.
func New(session *wallet.Session, submitter *submit.Submitter, led *ledger.Ledger, txs domain.TxStore, chain domain.ChainClient, locks domain.LockManager, cfg Config, logger *slog.Logger) *Facade {
	return &Facade{
		session:   session,
		submitter: submitter,
		ledger:    led,
		txs:       txs,
		chain:     chain,
		locks:     locks,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "gateway")),
	}
}

// WalletCreation is the one-time response for a freshly generated wallet.
// The private key appears here and nowhere else.
type WalletCreation struct {
	Address    common.Address
	PrivateKey string
}

// CreateWallet generates and installs a fresh credential.
func (g *Facade) CreateWallet() (WalletCreation, error) {
	cred, err := g.session.Generate()
	if err != nil {
		return WalletCreation{}, err
	}
	return WalletCreation{Address: cred.Address, PrivateKey: cred.PrivateKeyHex()}, nil
}

// ImportWallet installs a credential from a raw private key.
func (g *Facade) ImportWallet(privateKeyHex string) (common.Address, error) {
	cred, err := g.session.Import(privateKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	return cred.Address, nil
}

// WalletStatus reports the session state without exposing key material.
func (g *Facade) WalletStatus() wallet.Status {
	return g.session.Status()
}

// ClearWallet removes the active credential.
func (g *Facade) ClearWallet() {
	g.session.Clear()
}

// OrderAck is the response for a submitted chain operation.
type OrderAck struct {
	OrderID    string
	TxHash     common.Hash
	Status     domain.TxStatus
	PriceTicks int64

	// Open-order datapoints; zero for other kinds.
	Entry       float64
	Size        float64
	Liquidation float64
}

func ackFrom(tx domain.PendingTransaction) OrderAck {
	ack := OrderAck{
		OrderID:    tx.OrderID,
		TxHash:     tx.Hash,
		Status:     tx.Status,
		PriceTicks: tx.PriceTicks,
	}
	if tx.Intent.Kind == domain.IntentOpen && tx.PriceTicks > 0 {
		ack.Entry = float64(tx.PriceTicks) / 1e6
		ack.Size = float64(ledger.PositionSizeUnits(tx.Intent.CollateralUnits, tx.Intent.Leverage)) / 1e6
		ack.Liquidation = float64(ledger.LiquidationTicks(tx.PriceTicks, tx.Intent.Leverage, tx.Intent.Long)) / 1e6
	}
	return ack
}

// PlaceOrder opens a new position (market or limit per the intent variant).
func (g *Facade) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (OrderAck, error) {
	intent.Kind = domain.IntentOpen
	return g.submitIntent(ctx, intent, false)
}

// CloseTrade closes all or part of an existing position.
func (g *Facade) CloseTrade(ctx context.Context, intent domain.OrderIntent) (OrderAck, error) {
	intent.Kind = domain.IntentClose
	return g.submitIntent(ctx, intent, true)
}

// AddCollateral tops up an existing position's collateral.
func (g *Facade) AddCollateral(ctx context.Context, intent domain.OrderIntent) (OrderAck, error) {
	intent.Kind = domain.IntentAddCollateral
	return g.submitIntent(ctx, intent, true)
}

// RemoveCollateral withdraws collateral from an existing position.
func (g *Facade) RemoveCollateral(ctx context.Context, intent domain.OrderIntent) (OrderAck, error) {
	intent.Kind = domain.IntentRemoveCollateral
	return g.submitIntent(ctx, intent, true)
}

// UpdateStopLoss sets or clears a position's stop loss.
func (g *Facade) UpdateStopLoss(ctx context.Context, intent domain.OrderIntent) (OrderAck, error) {
	intent.Kind = domain.IntentUpdateStopLoss
	return g.submitIntent(ctx, intent, true)
}

// UpdateTakeProfit sets or clears a position's take profit.
func (g *Facade) UpdateTakeProfit(ctx context.Context, intent domain.OrderIntent) (OrderAck, error) {
	intent.Kind = domain.IntentUpdateTakeProfit
	return g.submitIntent(ctx, intent, true)
}

// Faucet requests testnet collateral through the regular submission path so
// the transaction gets the same retry and tracking treatment as trades.
func (g *Facade) Faucet(ctx context.Context) (OrderAck, error) {
	return g.submitIntent(ctx, domain.OrderIntent{Kind: domain.IntentFaucet}, false)
}

// submitIntent runs the shared mutating-operation pipeline: credential gate,
// trader resolution, per-position serialization, staleness-forced reconcile
// for operations on existing positions, then submission.
func (g *Facade) submitIntent(ctx context.Context, intent domain.OrderIntent, existing bool) (OrderAck, error) {
	cred, err := g.session.Active()
	if err != nil {
		return OrderAck{}, err
	}

	if intent.Kind != domain.IntentFaucet {
		pair, ok := evm.PairBySymbols(intent.PairFrom, intent.PairTo)
		if !ok {
			return OrderAck{}, domain.Invalid("unknown pair %s", intent.Pair())
		}
		intent.PairIndex = pair.Index
	}

	intent.Trader = g.effectiveTrader(intent.Trader, cred.Address)
	intent.ID = uuid.New().String()
	intent.CreatedAt = time.Now().UTC()

	key := domain.PositionKey{Trader: intent.Trader, Pair: intent.PairIndex, Index: intent.TradeIndex}
	if intent.Kind != domain.IntentFaucet {
		unlock, err := g.acquirePositionLock(ctx, key)
		if err != nil {
			return OrderAck{}, err
		}
		defer unlock()

		if existing {
			if err := g.ledger.EnsureFresh(ctx, intent.Trader); err != nil {
				return OrderAck{}, err
			}
			pos, err := g.positionByKey(ctx, key)
			if err != nil {
				return OrderAck{}, err
			}
			// The position's direction anchors stop-loss and take-profit
			// placement checks downstream.
			intent.Long = pos.Long
			if intent.Kind == domain.IntentRemoveCollateral && intent.AmountUnits >= pos.CollateralUnits {
				return OrderAck{}, domain.Invalid("cannot remove %.2f USDC from %.2f USDC of collateral",
					float64(intent.AmountUnits)/1e6, pos.Collateral())
			}
		}
	}

	// The key is derived after enrichment so that an identical retried
	// request against the same position resolves to the same slot.
	scope := intent.ClientKey
	if scope == "" {
		scope = strconv.FormatUint(g.counter.Add(1), 10)
	}
	intent.IdempotencyKey = domain.DeriveIdempotencyKey(intent, scope)

	tx, err := g.submitter.Submit(ctx, cred, intent)
	if err != nil {
		return OrderAck{}, err
	}

	if intent.Kind == domain.IntentClose && !tx.Status.Terminal() {
		if err := g.ledger.MarkClosing(ctx, key); err != nil && !errors.Is(err, domain.ErrNotFound) {
			g.logger.WarnContext(ctx, "marking position closing failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
		}
	}

	// A replayed timed-out key proves nothing about chain state; force a
	// reconcile before reporting the recorded result.
	if tx.Status == domain.TxTimedOut {
		if _, err := g.ledger.Reconcile(ctx, intent.Trader); err != nil {
			g.logger.WarnContext(ctx, "reconcile after timed-out replay failed",
				slog.String("error", err.Error()))
		}
	}

	return ackFrom(tx), nil
}

func (g *Facade) effectiveTrader(requested, credAddr common.Address) common.Address {
	if requested != (common.Address{}) {
		return requested
	}
	if g.cfg.DelegatedTrader != (common.Address{}) {
		return g.cfg.DelegatedTrader
	}
	return credAddr
}

// acquirePositionLock serializes mutations on one position slot, retrying a
// held lock until the acquire window closes.
func (g *Facade) acquirePositionLock(ctx context.Context, key domain.PositionKey) (func(), error) {
	deadline := time.Now().Add(lockAcquireLimit)
	for {
		unlock, err := g.locks.Acquire(ctx, "position:"+key.String(), positionLockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, domain.Transient(domain.ErrLockHeld)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func (g *Facade) positionByKey(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	positions, err := g.ledger.Positions(ctx, key.Trader)
	if err != nil {
		return domain.Position{}, err
	}
	for _, pos := range positions {
		if pos.Key == key {
			return pos, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

// Positions lists the active trader's open positions.
func (g *Facade) Positions(ctx context.Context) ([]domain.Position, error) {
	trader, err := g.traderForReads()
	if err != nil {
		return nil, err
	}
	return g.ledger.Positions(ctx, trader)
}

// History lists the active trader's settled trades, newest first.
func (g *Facade) History(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	trader, err := g.traderForReads()
	if err != nil {
		return nil, err
	}
	return g.ledger.History(ctx, trader, limit)
}

// TrackOrder returns the recorded state of a previously submitted order.
func (g *Facade) TrackOrder(ctx context.Context, orderID string) (domain.PendingTransaction, error) {
	return g.txs.GetByOrderID(ctx, orderID)
}

// Balances returns the active trader's balances, cached unless refresh.
func (g *Facade) Balances(ctx context.Context, refresh bool) (domain.Balances, error) {
	trader, err := g.traderForReads()
	if err != nil {
		return domain.Balances{}, err
	}
	return g.ledger.Balances(ctx, trader, refresh)
}

func (g *Facade) traderForReads() (common.Address, error) {
	addr, err := g.session.Address()
	if err != nil {
		return common.Address{}, err
	}
	return g.effectiveTrader(common.Address{}, addr), nil
}

// SetSlippage updates the session slippage percentage.
func (g *Facade) SetSlippage(pct float64) error {
	return g.submitter.SetSlippage(pct)
}

// Slippage returns the session slippage percentage.
func (g *Facade) Slippage() float64 {
	return g.submitter.Slippage()
}

// Price returns the index price for one pair.
func (g *Facade) Price(ctx context.Context, from, to string) (domain.PairPrice, error) {
	return g.chain.Price(ctx, from, to)
}

// Pairs returns the tradable pairs.
func (g *Facade) Pairs(ctx context.Context) ([]domain.PairInfo, error) {
	return g.chain.Pairs(ctx)
}

// Health describes gateway and node state.
type Health struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Network     string         `json:"network"`
	RPCURL      string         `json:"rpc_url"`
	BlockNumber uint64         `json:"block_number,omitempty"`
	Wallet      bool           `json:"wallet_initialized"`
	Address     common.Address `json:"address,omitempty"`
	Delegated   bool           `json:"delegated"`
	Error       string         `json:"error,omitempty"`
}

// HealthCheck probes node connectivity and reports gateway state.
func (g *Facade) HealthCheck(ctx context.Context) Health {
	h := Health{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Network:   g.cfg.Network,
		RPCURL:    g.cfg.RPCURL,
		Delegated: g.cfg.DelegatedTrader != (common.Address{}),
	}
	if status := g.session.Status(); status.Initialized {
		h.Wallet = true
		h.Address = status.Address
	}
	block, err := g.chain.BlockNumber(ctx)
	if err != nil {
		h.Status = "degraded"
		h.Error = err.Error()
		return h
	}
	h.BlockNumber = block
	return h
}
