// Package ledger maintains the gateway's local view of open positions and
// settled trade history. The view is a cache: the chain is authoritative,
// and reconciliation replaces local state with whatever the chain reports.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ambjn/ostium-whop/internal/domain"
	"github.com/ambjn/ostium-whop/internal/notify"
)

// Config controls cache staleness policy.
type Config struct {
	// StaleAfter bounds how old a trader's last reconcile may be before a
	// mutating operation forces a fresh one.
	StaleAfter time.Duration
	// BalanceTTL is how long a cached balance read serves refresh=false.
	BalanceTTL time.Duration
}

// Defaults returns the cache policy used when config is silent.
func Defaults() Config {
	return Config{
		StaleAfter: 30 * time.Second,
		BalanceTTL: 15 * time.Second,
	}
}

// Ledger applies terminal transaction outcomes to position state and serves
// position, history and balance reads.
type Ledger struct {
	chain     domain.ChainClient
	positions domain.PositionStore
	bus       domain.SignalBus
	cfg       Config
	logger    *slog.Logger

	mu            sync.Mutex
	notifier      *notify.Notifier
	balances      map[common.Address]domain.Balances
	reconciledAt  map[common.Address]time.Time
	historySeeded map[common.Address]bool
}

// SetNotifier attaches an optional notifier; settled orders produce alerts
// through it. Call before Run.
func (l *Ledger) SetNotifier(n *notify.Notifier) {
	l.notifier = n
}

// New creates a Ledger.
func New(chain domain.ChainClient, positions domain.PositionStore, bus domain.SignalBus, cfg Config, logger *slog.Logger) *Ledger {
	return &Ledger{
		chain:         chain,
		positions:     positions,
		bus:           bus,
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "ledger")),
		balances:      make(map[common.Address]domain.Balances),
		reconciledAt:  make(map[common.Address]time.Time),
		historySeeded: make(map[common.Address]bool),
	}
}

// Run consumes terminal outcomes from the tracker until the channel closes
// or ctx is cancelled.
func (l *Ledger) Run(ctx context.Context, outcomes <-chan domain.Outcome) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-outcomes:
			if !ok {
				return nil
			}
			if err := l.Apply(ctx, out); err != nil {
				l.logger.WarnContext(ctx, "outcome apply failed",
					slog.String("key", out.Key),
					slog.String("error", err.Error()))
			}
		}
	}
}

// Apply folds one terminal outcome into the local position view. Reverted
// and timed-out outcomes never mutate positions; a reverted open is recorded
// in history as cancelled.
func (l *Ledger) Apply(ctx context.Context, out domain.Outcome) error {
	trader := out.Intent.Trader

	defer l.publishOrderEvent(ctx, out)

	switch out.Status {
	case domain.TxConfirmed:
		if err := l.applyConfirmed(ctx, out, trader); err != nil {
			return err
		}
		// The chain executed something; let its view of the slot win.
		if _, err := l.Reconcile(ctx, trader); err != nil {
			l.logger.WarnContext(ctx, "post-apply reconcile failed",
				slog.String("trader", trader.Hex()),
				slog.String("error", err.Error()))
		}
		return nil

	case domain.TxReverted:
		if out.Intent.Kind == domain.IntentOpen {
			return l.positions.AppendHistory(ctx, trader, domain.TradeRecord{
				OrderID:         out.OrderID,
				PairFrom:        out.Intent.PairFrom,
				PairTo:          out.Intent.PairTo,
				Long:            out.Intent.Long,
				CollateralUnits: out.Intent.CollateralUnits,
				Leverage:        out.Intent.Leverage,
				Cancelled:       true,
				CancelReason:    revertReason(out),
				ExecutedAt:      time.Now().UTC(),
			})
		}
		if out.Intent.Kind == domain.IntentClose {
			return l.settleClosing(ctx, out.Intent)
		}
		return nil

	case domain.TxTimedOut:
		// Tracking gave up; the chain may still execute. Position data stays
		// untouched until a reconcile observes the truth, but with no close
		// transaction pending the slot is no longer closing.
		if out.Intent.Kind == domain.IntentClose {
			return l.settleClosing(ctx, out.Intent)
		}
		return nil
	}
	return nil
}

// settleClosing returns a slot to open after its close transaction stopped
// being pending without executing.
func (l *Ledger) settleClosing(ctx context.Context, intent domain.OrderIntent) error {
	key := domain.PositionKey{Trader: intent.Trader, Pair: intent.PairIndex, Index: intent.TradeIndex}
	pos, err := l.positions.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if pos.Status != domain.PositionClosing {
		return nil
	}
	pos.Status = domain.PositionOpen
	pos.UpdatedAt = time.Now().UTC()
	return l.positions.Upsert(ctx, pos)
}

func (l *Ledger) applyConfirmed(ctx context.Context, out domain.Outcome, trader common.Address) error {
	intent := out.Intent
	key := domain.PositionKey{Trader: trader, Pair: intent.PairIndex, Index: intent.TradeIndex}
	now := time.Now().UTC()

	switch intent.Kind {
	case domain.IntentOpen:
		// Provisional snapshot from the intent, still opening until a
		// reconcile observes the slot and fills in the chain's entry price.
		return l.positions.Upsert(ctx, domain.Position{
			Key:             key,
			PairFrom:        intent.PairFrom,
			PairTo:          intent.PairTo,
			Status:          domain.PositionOpening,
			Long:            intent.Long,
			CollateralUnits: intent.CollateralUnits,
			Leverage:        intent.Leverage,
			StopLossTicks:   intent.StopLossTicks,
			TakeProfitTicks: intent.TakeProfitTicks,
			OpenedAt:        now,
			UpdatedAt:       now,
		})

	case domain.IntentClose:
		pos, err := l.positions.Get(ctx, key)
		if err != nil {
			return err
		}
		// The history record is cut from the pre-close collateral.
		if err := l.appendCloseRecord(ctx, trader, pos, out, intent.ClosePercent); err != nil {
			return err
		}
		if intent.ClosePercent >= 100 {
			pos.Status = domain.PositionClosed
			pos.UpdatedAt = now
			// The closed slot stays visible until reconciliation purges it;
			// the chain no longer reports it.
			return l.positions.Upsert(ctx, pos)
		}
		// Partial close mutates the slot in place: same identity, reduced
		// collateral.
		closed := pos.CollateralUnits * int64(intent.ClosePercent) / 100
		pos.CollateralUnits -= closed
		pos.Status = domain.PositionOpen
		pos.UpdatedAt = now
		return l.positions.Upsert(ctx, pos)

	case domain.IntentAddCollateral:
		pos, err := l.positions.Get(ctx, key)
		if err != nil {
			return err
		}
		pos.CollateralUnits += intent.AmountUnits
		pos.UpdatedAt = now
		return l.positions.Upsert(ctx, pos)

	case domain.IntentRemoveCollateral:
		pos, err := l.positions.Get(ctx, key)
		if err != nil {
			return err
		}
		pos.CollateralUnits -= intent.AmountUnits
		pos.UpdatedAt = now
		return l.positions.Upsert(ctx, pos)

	case domain.IntentUpdateStopLoss:
		pos, err := l.positions.Get(ctx, key)
		if err != nil {
			return err
		}
		pos.StopLossTicks = intent.StopLossTicks
		pos.UpdatedAt = now
		return l.positions.Upsert(ctx, pos)

	case domain.IntentUpdateTakeProfit:
		pos, err := l.positions.Get(ctx, key)
		if err != nil {
			return err
		}
		pos.TakeProfitTicks = intent.TakeProfitTicks
		pos.UpdatedAt = now
		return l.positions.Upsert(ctx, pos)
	}
	return nil
}

// appendCloseRecord estimates realized pnl from the current index price and
// records the close in history.
func (l *Ledger) appendCloseRecord(ctx context.Context, trader common.Address, pos domain.Position, out domain.Outcome, pct int) error {
	closeTicks := pos.OpenPriceTicks
	if price, err := l.chain.Price(ctx, pos.PairFrom, pos.PairTo); err == nil {
		closeTicks = price.PriceTicks
	}
	closedUnits := pos.CollateralUnits * int64(pct) / 100

	return l.positions.AppendHistory(ctx, trader, domain.TradeRecord{
		OrderID:         out.OrderID,
		TradeID:         pos.TradeID,
		PairFrom:        pos.PairFrom,
		PairTo:          pos.PairTo,
		Long:            pos.Long,
		CollateralUnits: closedUnits,
		Leverage:        pos.Leverage,
		OpenPriceTicks:  pos.OpenPriceTicks,
		ClosePriceTicks: closeTicks,
		ProfitPercent:   PnLPercent(pos.OpenPriceTicks, closeTicks, pos.Leverage, pos.Long),
		AmountSentUnits: closedUnits + PnLUnits(pos.OpenPriceTicks, closeTicks, closedUnits, pos.Leverage, pos.Long),
		ExecutedAt:      time.Now().UTC(),
	})
}

// MarkClosing flags a slot as having a pending close transaction. The flag
// survives reconciliation while the slot remains on chain and clears when
// the close settles.
func (l *Ledger) MarkClosing(ctx context.Context, key domain.PositionKey) error {
	pos, err := l.positions.Get(ctx, key)
	if err != nil {
		return err
	}
	pos.Status = domain.PositionClosing
	pos.UpdatedAt = time.Now().UTC()
	return l.positions.Upsert(ctx, pos)
}

// Reconcile replaces the trader's local positions with the chain's view.
// Every reported field wins, including fields the gateway never set. The
// one local fact the chain cannot know, a pending close on a surviving
// slot, is carried over.
func (l *Ledger) Reconcile(ctx context.Context, trader common.Address) ([]domain.Position, error) {
	trades, err := l.chain.OpenTrades(ctx, trader)
	if err != nil {
		return nil, err
	}

	closing := make(map[domain.PositionKey]bool)
	if prior, err := l.positions.ListByTrader(ctx, trader); err == nil {
		for _, p := range prior {
			if p.Status == domain.PositionClosing {
				closing[p.Key] = true
			}
		}
	}

	now := time.Now().UTC()
	positions := make([]domain.Position, 0, len(trades))
	for _, t := range trades {
		key := domain.PositionKey{Trader: trader, Pair: t.PairIndex, Index: t.TradeIndex}
		status := domain.PositionOpen
		if closing[key] {
			status = domain.PositionClosing
		}
		positions = append(positions, domain.Position{
			Key:             key,
			PairFrom:        t.PairFrom,
			PairTo:          t.PairTo,
			TradeID:         t.TradeID,
			Status:          status,
			Long:            t.Long,
			CollateralUnits: t.CollateralUnits,
			Leverage:        t.Leverage,
			OpenPriceTicks:  t.OpenPriceTicks,
			StopLossTicks:   t.StopLossTicks,
			TakeProfitTicks: t.TakeProfitTicks,
			UpdatedAt:       now,
			ReconciledAt:    now,
		})
	}

	if err := l.positions.ReplaceTrader(ctx, trader, positions); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.reconciledAt[trader] = now
	l.mu.Unlock()

	l.publishPositionsEvent(ctx, trader, positions)
	return positions, nil
}

// EnsureFresh reconciles the trader when the local view is older than the
// staleness bound. Mutating position operations call this first so they
// never act on a view the chain has moved past.
func (l *Ledger) EnsureFresh(ctx context.Context, trader common.Address) error {
	l.mu.Lock()
	last := l.reconciledAt[trader]
	l.mu.Unlock()

	if time.Since(last) < l.cfg.StaleAfter {
		return nil
	}
	_, err := l.Reconcile(ctx, trader)
	return err
}

// Positions returns the trader's positions from the local view, reconciling
// first on a cold start. Settled slots awaiting purge are excluded.
func (l *Ledger) Positions(ctx context.Context, trader common.Address) ([]domain.Position, error) {
	l.mu.Lock()
	_, seen := l.reconciledAt[trader]
	l.mu.Unlock()

	if !seen {
		return l.Reconcile(ctx, trader)
	}
	positions, err := l.positions.ListByTrader(ctx, trader)
	if err != nil {
		return nil, err
	}
	active := positions[:0]
	for _, pos := range positions {
		if pos.Active() {
			active = append(active, pos)
		}
	}
	return active, nil
}

// historySeedLimit bounds how much protocol history a cold start pulls.
const historySeedLimit = 50

// History returns the trader's settled trades, newest first. A trader with
// no local records is seeded once from the protocol's own order log, so
// trades executed before this gateway started still appear.
func (l *Ledger) History(ctx context.Context, trader common.Address, limit int) ([]domain.TradeRecord, error) {
	l.mu.Lock()
	seeded := l.historySeeded[trader]
	l.mu.Unlock()

	if !seeded {
		if err := l.seedHistory(ctx, trader); err != nil {
			l.logger.WarnContext(ctx, "history seed failed",
				slog.String("trader", trader.Hex()),
				slog.String("error", err.Error()))
		}
	}
	return l.positions.History(ctx, trader, limit)
}

func (l *Ledger) seedHistory(ctx context.Context, trader common.Address) error {
	local, err := l.positions.History(ctx, trader, 1)
	if err != nil {
		return err
	}
	if len(local) > 0 {
		// Locally recorded trades exist; seeding would duplicate them.
		l.mu.Lock()
		l.historySeeded[trader] = true
		l.mu.Unlock()
		return nil
	}

	orders, err := l.chain.RecentOrders(ctx, trader, historySeedLimit)
	if err != nil {
		return err
	}
	// The chain reports newest first; append oldest first so the store's
	// newest-first ordering comes out right.
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		if o.Pending {
			continue
		}
		rec := domain.TradeRecord{
			OrderID:         o.OrderID,
			TradeID:         o.TradeID,
			PairFrom:        o.PairFrom,
			PairTo:          o.PairTo,
			Long:            o.Long,
			CollateralUnits: o.CollateralUnits,
			Leverage:        o.Leverage,
			OpenPriceTicks:  o.OpenPriceTicks,
			ClosePriceTicks: o.ClosePriceTicks,
			ProfitPercent:   o.ProfitPercent,
			AmountSentUnits: o.AmountSentUnits,
			Cancelled:       o.Cancelled,
			CancelReason:    o.CancelReason,
			ExecutedAt:      o.ExecutedAt,
		}
		if err := l.positions.AppendHistory(ctx, trader, rec); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.historySeeded[trader] = true
	l.mu.Unlock()
	return nil
}

// Balances returns the trader's balances. With refresh false a recent
// cached read is served; refresh true always hits the chain.
func (l *Ledger) Balances(ctx context.Context, addr common.Address, refresh bool) (domain.Balances, error) {
	if !refresh {
		l.mu.Lock()
		cached, ok := l.balances[addr]
		l.mu.Unlock()
		if ok && time.Since(cached.ReadAt) < l.cfg.BalanceTTL {
			return cached, nil
		}
	}

	fresh, err := l.chain.Balances(ctx, addr)
	if err != nil {
		return domain.Balances{}, err
	}

	l.mu.Lock()
	l.balances[addr] = fresh
	l.mu.Unlock()
	return fresh, nil
}

// orderEvent is the bus payload for a settled order.
type orderEvent struct {
	Type         string `json:"type"`
	OrderID      string `json:"order_id"`
	Kind         string `json:"kind"`
	Pair         string `json:"pair"`
	Status       string `json:"status"`
	TxHash       string `json:"tx_hash"`
	RevertReason string `json:"revert_reason,omitempty"`
}

func (l *Ledger) publishOrderEvent(ctx context.Context, out domain.Outcome) {
	ev := orderEvent{
		Type:         "order_settled",
		OrderID:      out.OrderID,
		Kind:         string(out.Intent.Kind),
		Pair:         out.Intent.Pair(),
		Status:       string(out.Status),
		TxHash:       out.Hash.Hex(),
		RevertReason: revertReason(out),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := l.bus.Publish(ctx, domain.ChannelOrders, payload); err != nil {
		l.logger.WarnContext(ctx, "order event publish failed", slog.String("error", err.Error()))
	}

	if l.notifier != nil {
		if alert := notify.OrderEvent(out); alert.Event != "" {
			if err := l.notifier.Notify(ctx, alert); err != nil {
				l.logger.WarnContext(ctx, "order notification failed", slog.String("error", err.Error()))
			}
		}
	}
}

// positionsEvent is the bus payload after a reconcile.
type positionsEvent struct {
	Type      string            `json:"type"`
	Trader    string            `json:"trader"`
	Positions []domain.Position `json:"positions"`
}

func (l *Ledger) publishPositionsEvent(ctx context.Context, trader common.Address, positions []domain.Position) {
	payload, err := json.Marshal(positionsEvent{
		Type:      "positions_reconciled",
		Trader:    trader.Hex(),
		Positions: positions,
	})
	if err != nil {
		return
	}
	if err := l.bus.Publish(ctx, domain.ChannelPositions, payload); err != nil {
		l.logger.WarnContext(ctx, "positions event publish failed", slog.String("error", err.Error()))
	}
}

func revertReason(out domain.Outcome) string {
	if out.Receipt == nil {
		return ""
	}
	return out.Receipt.RevertReason
}
