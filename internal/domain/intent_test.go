package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIdempotencyKey(t *testing.T) {
	intent := OrderIntent{
		Kind:            IntentOpen,
		PairFrom:        "BTC",
		PairTo:          "USD",
		PairIndex:       0,
		CollateralUnits: 100_000_000,
		Leverage:        1000,
		Long:            true,
		Order:           MarketOrder{},
	}

	k1 := DeriveIdempotencyKey(intent, "retry-token")
	k2 := DeriveIdempotencyKey(intent, "retry-token")
	assert.Equal(t, k1, k2, "same content and scope must derive the same key")
	assert.Len(t, k1, 32)

	// A different scope keeps deliberate repeats distinct.
	assert.NotEqual(t, k1, DeriveIdempotencyKey(intent, "slot-2"))

	// Any content change derives a different key.
	changed := intent
	changed.CollateralUnits++
	assert.NotEqual(t, k1, DeriveIdempotencyKey(changed, "retry-token"))

	limit := intent
	limit.Order = LimitOrder{PriceTicks: 50_000_000_000}
	assert.NotEqual(t, k1, DeriveIdempotencyKey(limit, "retry-token"))
}

func TestOrderIntentJSONRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		intent OrderIntent
	}{
		{
			name: "market open",
			intent: OrderIntent{
				ID:              "ord-1",
				Kind:            IntentOpen,
				PairFrom:        "ETH",
				PairTo:          "USD",
				PairIndex:       1,
				CollateralUnits: 250_000_000,
				Leverage:        500,
				Long:            true,
				Order:           MarketOrder{},
				TakeProfitTicks: 4_000_000_000,
				IdempotencyKey:  "abc123",
				CreatedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "limit open with delegated trader",
			intent: OrderIntent{
				ID:              "ord-2",
				Kind:            IntentOpen,
				PairFrom:        "BTC",
				PairTo:          "USD",
				CollateralUnits: 100_000_000,
				Leverage:        2000,
				Order:           LimitOrder{PriceTicks: 48_000_000_000},
				Trader:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
				IdempotencyKey:  "def456",
				CreatedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "partial close",
			intent: OrderIntent{
				ID:             "ord-3",
				Kind:           IntentClose,
				PairFrom:       "BTC",
				PairTo:         "USD",
				TradeIndex:     2,
				ClosePercent:   50,
				ClientKey:      "client-7",
				IdempotencyKey: "ghi789",
				CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.intent)
			require.NoError(t, err)

			var got OrderIntent
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tc.intent, got)
		})
	}
}

func TestOrderIntentJSONOrderType(t *testing.T) {
	data, err := json.Marshal(OrderIntent{
		Kind:  IntentOpen,
		Order: LimitOrder{PriceTicks: 123},
	})
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "LIMIT", wire["order_type"])
	assert.Equal(t, float64(123), wire["limit_price_ticks"])
}

func TestTxStatusTerminal(t *testing.T) {
	assert.False(t, TxSubmitted.Terminal())
	assert.True(t, TxConfirmed.Terminal())
	assert.True(t, TxReverted.Terminal())
	assert.True(t, TxTimedOut.Terminal())
}
