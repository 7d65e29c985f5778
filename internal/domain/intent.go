package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// IntentKind identifies the logical trading action an OrderIntent requests.
type IntentKind string

const (
	IntentOpen             IntentKind = "open"
	IntentClose            IntentKind = "close"
	IntentAddCollateral    IntentKind = "add_collateral"
	IntentRemoveCollateral IntentKind = "remove_collateral"
	IntentUpdateStopLoss   IntentKind = "update_stop_loss"
	IntentUpdateTakeProfit IntentKind = "update_take_profit"
	IntentFaucet           IntentKind = "faucet"
)

// OrderVariant distinguishes market from limit open orders at the type level,
// so a limit order without a price is unrepresentable.
type OrderVariant interface {
	orderVariant()
	// Label returns the protocol order-type label.
	Label() string
}

// MarketOrder executes at the current index price (minus slippage bounds).
type MarketOrder struct{}

func (MarketOrder) orderVariant() {}

// Label implements OrderVariant.
func (MarketOrder) Label() string { return "MARKET" }

// LimitOrder rests until the index reaches PriceTicks.
type LimitOrder struct {
	PriceTicks int64 // fixed-point: price * 1e6
}

func (LimitOrder) orderVariant() {}

// Label implements OrderVariant.
func (LimitOrder) Label() string { return "LIMIT" }

// OrderIntent is a caller's requested action, immutable once submitted.
// Monetary fields use fixed-point integers: *Units are USDC * 1e6, *Ticks are
// price * 1e6, and Leverage is stored * 100 as the protocol encodes it.
type OrderIntent struct {
	ID   string
	Kind IntentKind

	PairFrom  string // e.g. "BTC"
	PairTo    string // e.g. "USD"
	PairIndex uint16

	// TradeIndex is the protocol position slot; meaningful for every kind
	// except open and faucet.
	TradeIndex uint8

	CollateralUnits int64
	Leverage        int64 // * 100
	Long            bool
	Order           OrderVariant // open only

	StopLossTicks   int64 // 0 = unset
	TakeProfitTicks int64 // 0 = unset

	ClosePercent int   // close only, [1,100]
	AmountUnits  int64 // add/remove collateral only

	// Trader overrides whose on-chain position is targeted (delegated
	// trading). Zero address means the credential's own address.
	Trader common.Address

	// ClientKey is the caller-supplied idempotency token. Retrying a request
	// with the same ClientKey and content replays the recorded result
	// instead of producing a second broadcast. Empty means the caller did
	// not opt in; each such request gets its own session slot.
	ClientKey string

	IdempotencyKey string
	CreatedAt      time.Time
}

// Pair returns the display pair, e.g. "BTC/USD".
func (i OrderIntent) Pair() string { return i.PairFrom + "/" + i.PairTo }

// Collateral returns the float64 display collateral from fixed-point units.
func (i OrderIntent) Collateral() float64 { return float64(i.CollateralUnits) / 1e6 }

// LeverageX returns the display leverage, e.g. 10.0 for "10x".
func (i OrderIntent) LeverageX() float64 { return float64(i.Leverage) / 100 }

// intentJSON is the wire form of OrderIntent. The order variant flattens to
// a type label plus an optional limit price so the record round-trips
// through Redis.
type intentJSON struct {
	ID              string     `json:"id"`
	Kind            IntentKind `json:"kind"`
	PairFrom        string     `json:"pair_from"`
	PairTo          string     `json:"pair_to"`
	PairIndex       uint16     `json:"pair_index"`
	TradeIndex      uint8      `json:"trade_index"`
	CollateralUnits int64      `json:"collateral_units"`
	Leverage        int64      `json:"leverage"`
	Long            bool       `json:"long"`
	OrderType       string     `json:"order_type,omitempty"`
	LimitPriceTicks int64      `json:"limit_price_ticks,omitempty"`
	StopLossTicks   int64      `json:"stop_loss_ticks,omitempty"`
	TakeProfitTicks int64      `json:"take_profit_ticks,omitempty"`
	ClosePercent    int        `json:"close_percent,omitempty"`
	AmountUnits     int64      `json:"amount_units,omitempty"`
	Trader          string     `json:"trader,omitempty"`
	ClientKey       string     `json:"client_key,omitempty"`
	IdempotencyKey  string     `json:"idempotency_key"`
	CreatedAt       time.Time  `json:"created_at"`
}

// MarshalJSON implements json.Marshaler.
func (i OrderIntent) MarshalJSON() ([]byte, error) {
	out := intentJSON{
		ID:              i.ID,
		Kind:            i.Kind,
		PairFrom:        i.PairFrom,
		PairTo:          i.PairTo,
		PairIndex:       i.PairIndex,
		TradeIndex:      i.TradeIndex,
		CollateralUnits: i.CollateralUnits,
		Leverage:        i.Leverage,
		Long:            i.Long,
		StopLossTicks:   i.StopLossTicks,
		TakeProfitTicks: i.TakeProfitTicks,
		ClosePercent:    i.ClosePercent,
		AmountUnits:     i.AmountUnits,
		ClientKey:       i.ClientKey,
		IdempotencyKey:  i.IdempotencyKey,
		CreatedAt:       i.CreatedAt,
	}
	if i.Order != nil {
		out.OrderType = i.Order.Label()
		if lo, ok := i.Order.(LimitOrder); ok {
			out.LimitPriceTicks = lo.PriceTicks
		}
	}
	if i.Trader != (common.Address{}) {
		out.Trader = i.Trader.Hex()
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *OrderIntent) UnmarshalJSON(data []byte) error {
	var in intentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*i = OrderIntent{
		ID:              in.ID,
		Kind:            in.Kind,
		PairFrom:        in.PairFrom,
		PairTo:          in.PairTo,
		PairIndex:       in.PairIndex,
		TradeIndex:      in.TradeIndex,
		CollateralUnits: in.CollateralUnits,
		Leverage:        in.Leverage,
		Long:            in.Long,
		StopLossTicks:   in.StopLossTicks,
		TakeProfitTicks: in.TakeProfitTicks,
		ClosePercent:    in.ClosePercent,
		AmountUnits:     in.AmountUnits,
		ClientKey:       in.ClientKey,
		IdempotencyKey:  in.IdempotencyKey,
		CreatedAt:       in.CreatedAt,
	}
	switch in.OrderType {
	case "MARKET":
		i.Order = MarketOrder{}
	case "LIMIT":
		i.Order = LimitOrder{PriceTicks: in.LimitPriceTicks}
	}
	if in.Trader != "" {
		i.Trader = common.HexToAddress(in.Trader)
	}
	return nil
}

// DeriveIdempotencyKey computes the idempotency key for an intent from its
// request content plus a scope string. The scope is either the caller's
// ClientKey, so byte-identical retries of the same request derive the same
// key, or a fresh session slot when the caller supplied none.
func DeriveIdempotencyKey(i OrderIntent, scope string) string {
	var orderLabel string
	var limitTicks int64
	if i.Order != nil {
		orderLabel = i.Order.Label()
		if lo, ok := i.Order.(LimitOrder); ok {
			limitTicks = lo.PriceTicks
		}
	}
	payload := fmt.Sprintf("%s|%s|%s/%s|%d|%d|%d|%d|%t|%s|%d|%d|%d|%d|%d|%s",
		scope, i.Kind, i.PairFrom, i.PairTo, i.PairIndex, i.TradeIndex,
		i.CollateralUnits, i.Leverage, i.Long, orderLabel, limitTicks,
		i.StopLossTicks, i.TakeProfitTicks, i.ClosePercent, i.AmountUnits,
		i.Trader.Hex(),
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:16])
}
