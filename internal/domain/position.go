package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionStatus tracks a position through its lifecycle. Opening and
// closing are transitional states driven by pending transactions; chain
// reconciliation settles them to open or closed.
type PositionStatus string

const (
	PositionOpening PositionStatus = "opening"
	PositionOpen    PositionStatus = "open"
	PositionClosing PositionStatus = "closing"
	PositionClosed  PositionStatus = "closed"
)

// PositionKey uniquely identifies a position slot on chain.
type PositionKey struct {
	Trader common.Address
	Pair   uint16
	Index  uint8
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Trader.Hex(), k.Pair, k.Index)
}

// Position is the ledger's view of one leveraged position. All monetary
// fields are fixed-point: collateral in USDC units (1e6), prices in ticks
// (1e6), leverage * 100.
type Position struct {
	Key      PositionKey
	PairFrom string
	PairTo   string
	TradeID  string

	Status          PositionStatus
	Long            bool
	CollateralUnits int64
	Leverage        int64
	OpenPriceTicks  int64
	StopLossTicks   int64
	TakeProfitTicks int64

	OpenedAt     time.Time
	UpdatedAt    time.Time
	ReconciledAt time.Time
}

// Collateral returns the display collateral in USDC.
func (p Position) Collateral() float64 { return float64(p.CollateralUnits) / 1e6 }

// LeverageX returns the display leverage multiplier.
func (p Position) LeverageX() float64 { return float64(p.Leverage) / 100 }

// OpenPrice returns the display entry price.
func (p Position) OpenPrice() float64 { return float64(p.OpenPriceTicks) / 1e6 }

// Pair returns the market symbol, e.g. "BTC/USD".
func (p Position) Pair() string { return p.PairFrom + "/" + p.PairTo }

// Active reports whether the position still occupies its chain slot.
func (p Position) Active() bool {
	return p.Status == PositionOpening || p.Status == PositionOpen || p.Status == PositionClosing
}

// TradeRecord is one settled entry in a trader's history.
type TradeRecord struct {
	OrderID         string
	TradeID         string
	PairFrom        string
	PairTo          string
	Long            bool
	CollateralUnits int64
	Leverage        int64
	OpenPriceTicks  int64
	ClosePriceTicks int64
	ProfitPercent   float64
	AmountSentUnits int64
	Cancelled       bool
	CancelReason    string
	ExecutedAt      time.Time
}
