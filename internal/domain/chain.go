package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt is the chain-provided record of a transaction's inclusion and
// execution outcome. Succeeded reflects the execution result: a transaction
// can be included in a block yet logically rejected by the protocol.
type Receipt struct {
	TxHash       common.Hash
	BlockNumber  uint64
	Succeeded    bool
	RevertReason string
}

// TradeCall is the fully-resolved chain call built by the submitter from a
// validated intent. Field widths match the protocol contract
// (pair uint16, trade slot uint8, close percentage uint16).
type TradeCall struct {
	Kind       IntentKind
	Trader     common.Address
	PairIndex  uint16
	TradeIndex uint8

	CollateralUnits int64
	Leverage        int64 // * 100
	Long            bool
	OrderType       string // "MARKET" or "LIMIT"
	PriceTicks      int64  // execution or limit price
	StopLossTicks   int64
	TakeProfitTicks int64

	ClosePercent uint16
	AmountUnits  int64

	SlippagePct float64
}

// ChainTrade is an authoritative on-chain open-position record as read back
// during reconciliation.
type ChainTrade struct {
	Trader          common.Address
	PairIndex       uint16
	TradeIndex      uint8
	PairFrom        string
	PairTo          string
	TradeID         string
	CollateralUnits int64
	Leverage        int64 // * 100
	Long            bool
	OpenPriceTicks  int64
	StopLossTicks   int64
	TakeProfitTicks int64
}

// ChainOrder is a protocol order record used for history and order tracking.
type ChainOrder struct {
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
	Pending         bool
	Cancelled       bool
	CancelReason    string
	ExecutedAt      time.Time
}

// Balances is a wallet's native and collateral-token balance snapshot.
type Balances struct {
	ETHWei    *big.Int
	USDCUnits int64
	ReadAt    time.Time
}

// ETH returns the display ETH balance.
func (b Balances) ETH() float64 {
	if b.ETHWei == nil {
		return 0
	}
	wei := new(big.Float).SetInt(b.ETHWei)
	eth, _ := new(big.Float).Quo(wei, big.NewFloat(1e18)).Float64()
	return eth
}

// USDC returns the display USDC balance.
func (b Balances) USDC() float64 { return float64(b.USDCUnits) / 1e6 }

// PairPrice is a spot price read for one trading pair.
type PairPrice struct {
	PriceTicks int64 // price * 1e6
	MarketOpen bool
	At         time.Time
}

// Price returns the display price.
func (p PairPrice) Price() float64 { return float64(p.PriceTicks) / 1e6 }

// PairInfo describes one tradable pair and its protocol bounds.
type PairInfo struct {
	Index       uint16
	From        string
	To          string
	MinLeverage int64 // * 100
	MaxLeverage int64 // * 100
}

// ChainClient is the gateway's only dependency on the blockchain: it submits
// signed trade calls and reads authoritative state. Implementations classify
// failures as rejected (RejectedError, terminal) or transient
// (TransientError, retryable); Receipt returns ErrReceiptPending until the
// transaction is included.
type ChainClient interface {
	SubmitTrade(ctx context.Context, cred Credential, call TradeCall) (common.Hash, error)
	Receipt(ctx context.Context, hash common.Hash) (*Receipt, error)

	OpenTrades(ctx context.Context, trader common.Address) ([]ChainTrade, error)
	RecentOrders(ctx context.Context, trader common.Address, limit int) ([]ChainOrder, error)

	Balances(ctx context.Context, addr common.Address) (Balances, error)
	Price(ctx context.Context, from, to string) (PairPrice, error)
	Pairs(ctx context.Context) ([]PairInfo, error)
	BlockNumber(ctx context.Context) (uint64, error)
}
