// Package submit turns validated order intents into signed, broadcast
// transactions. It owns the idempotency bookkeeping: one idempotency key
// maps to at most one broadcast, and replays of a known key return the
// recorded state instead of touching the chain again.
package submit

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// Tracker receives every successfully broadcast transaction for
// asynchronous confirmation polling.
type Tracker interface {
	Track(tx domain.PendingTransaction)
}

// Config controls the transient-retry policy.
type Config struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	DefaultSlippage float64 // percent
}

// Defaults returns the submission policy used when config is silent.
func Defaults() Config {
	return Config{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		DefaultSlippage: 1.0,
	}
}

// Submitter validates intents, signs and broadcasts them through the chain
// client, and records the result keyed by idempotency key.
type Submitter struct {
	chain   domain.ChainClient
	txs     domain.TxStore
	tracker Tracker
	cfg     Config
	logger  *slog.Logger

	// flight collapses concurrent submissions of the same idempotency key
	// into one chain interaction; latecomers share the first result.
	flight singleflight.Group

	// slippageBits holds the session slippage percentage as float64 bits.
	slippageBits atomic.Uint64
}

// New creates a Submitter.
func New(chain domain.ChainClient, txs domain.TxStore, tracker Tracker, cfg Config, logger *slog.Logger) *Submitter {
	s := &Submitter{
		chain:   chain,
		txs:     txs,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "submitter")),
	}
	s.slippageBits.Store(math.Float64bits(cfg.DefaultSlippage))
	return s
}

// Slippage returns the session slippage percentage.
func (s *Submitter) Slippage() float64 {
	return math.Float64frombits(s.slippageBits.Load())
}

// SetSlippage updates the session slippage percentage.
func (s *Submitter) SetSlippage(pct float64) error {
	if err := validateSlippage(pct); err != nil {
		return err
	}
	s.slippageBits.Store(math.Float64bits(pct))
	return nil
}

// Submit validates the intent and ensures exactly one broadcast per
// idempotency key. It returns as soon as the transaction is accepted into
// the mempool; confirmation is the tracker's business. A replayed key
// returns the recorded transaction without touching the chain.
func (s *Submitter) Submit(ctx context.Context, cred domain.Credential, intent domain.OrderIntent) (domain.PendingTransaction, error) {
	if err := validateIntent(intent); err != nil {
		return domain.PendingTransaction{}, err
	}

	v, err, _ := s.flight.Do(intent.IdempotencyKey, func() (interface{}, error) {
		return s.submitOnce(ctx, cred, intent)
	})
	if err != nil {
		return domain.PendingTransaction{}, err
	}
	return v.(domain.PendingTransaction), nil
}

func (s *Submitter) submitOnce(ctx context.Context, cred domain.Credential, intent domain.OrderIntent) (domain.PendingTransaction, error) {
	// Replay path: the key has already produced a broadcast.
	if prev, err := s.txs.Get(ctx, intent.IdempotencyKey); err == nil {
		s.logger.InfoContext(ctx, "idempotent replay",
			slog.String("key", intent.IdempotencyKey),
			slog.String("status", string(prev.Status)))
		return prev, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.PendingTransaction{}, err
	}

	call, priceTicks, err := s.buildCall(ctx, cred, intent)
	if err != nil {
		return domain.PendingTransaction{}, err
	}

	hash, retries, err := s.broadcast(ctx, cred, call)
	if err != nil {
		// Nothing was recorded: the caller may retry the same request and
		// it will derive a fresh attempt under the same key.
		return domain.PendingTransaction{}, err
	}

	tx := domain.PendingTransaction{
		Key:         intent.IdempotencyKey,
		OrderID:     intent.ID,
		Intent:      intent,
		Hash:        hash,
		Status:      domain.TxSubmitted,
		Retries:     retries,
		SubmittedAt: time.Now().UTC(),
		PriceTicks:  priceTicks,
	}
	if err := s.txs.Put(ctx, tx); err != nil {
		return domain.PendingTransaction{}, err
	}

	s.tracker.Track(tx)
	return tx, nil
}

// buildCall resolves the intent into a concrete chain call, fetching the
// reference price for market opens.
func (s *Submitter) buildCall(ctx context.Context, cred domain.Credential, intent domain.OrderIntent) (domain.TradeCall, int64, error) {
	trader := intent.Trader
	if trader == (common.Address{}) {
		trader = cred.Address
	}

	call := domain.TradeCall{
		Kind:            intent.Kind,
		Trader:          trader,
		PairIndex:       intent.PairIndex,
		TradeIndex:      intent.TradeIndex,
		CollateralUnits: intent.CollateralUnits,
		Leverage:        intent.Leverage,
		Long:            intent.Long,
		StopLossTicks:   intent.StopLossTicks,
		TakeProfitTicks: intent.TakeProfitTicks,
		ClosePercent:    clampClosePercent(intent.ClosePercent),
		AmountUnits:     intent.AmountUnits,
		SlippagePct:     s.Slippage(),
	}

	var priceTicks int64
	switch intent.Kind {
	case domain.IntentOpen:
		call.OrderType = intent.Order.Label()
		switch o := intent.Order.(type) {
		case domain.LimitOrder:
			priceTicks = o.PriceTicks
		case domain.MarketOrder:
			price, err := s.chain.Price(ctx, intent.PairFrom, intent.PairTo)
			if err != nil {
				return domain.TradeCall{}, 0, err
			}
			if !price.MarketOpen {
				return domain.TradeCall{}, 0, domain.Rejected("market %s is closed", intent.Pair())
			}
			priceTicks = price.PriceTicks
		}
		if err := validateRiskLevels(intent.Long, priceTicks, intent.StopLossTicks, intent.TakeProfitTicks); err != nil {
			return domain.TradeCall{}, 0, err
		}
		call.PriceTicks = priceTicks

	case domain.IntentUpdateStopLoss, domain.IntentUpdateTakeProfit:
		// Risk levels are checked against the current index price; the
		// position's direction rides in on the intent.
		price, err := s.chain.Price(ctx, intent.PairFrom, intent.PairTo)
		if err != nil {
			return domain.TradeCall{}, 0, err
		}
		if err := validateRiskLevels(intent.Long, price.PriceTicks, intent.StopLossTicks, intent.TakeProfitTicks); err != nil {
			return domain.TradeCall{}, 0, err
		}
	}

	return call, priceTicks, nil
}

// broadcast pushes the signed call at the chain, retrying transient node
// failures with exponential backoff. Rejections are final on first sight.
func (s *Submitter) broadcast(ctx context.Context, cred domain.Credential, call domain.TradeCall) (common.Hash, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialInterval
	bo.MaxInterval = s.cfg.MaxInterval

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		h, err := s.chain.SubmitTrade(ctx, cred, call)
		if err == nil {
			return h, attempt, nil
		}
		if domain.Kind(err) != domain.KindChainTransient {
			return common.Hash{}, attempt, err
		}
		lastErr = err

		s.logger.WarnContext(ctx, "transient submission failure",
			slog.String("kind", string(call.Kind)),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		if attempt == s.cfg.MaxRetries {
			break
		}
		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return common.Hash{}, attempt, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return common.Hash{}, s.cfg.MaxRetries, lastErr
}

func clampClosePercent(pct int) uint16 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return uint16(pct)
}
