package evm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairByIndex(t *testing.T) {
	p, ok := PairByIndex(0)
	require.True(t, ok)
	assert.Equal(t, "BTC", p.From)
	assert.Equal(t, "USD", p.To)
	assert.Equal(t, int64(200), p.MinLeverage)
	assert.Equal(t, int64(20000), p.MaxLeverage)

	_, ok = PairByIndex(200)
	assert.False(t, ok)
}

func TestPairBySymbols(t *testing.T) {
	p, ok := PairBySymbols("ETH", "USD")
	require.True(t, ok)
	assert.Equal(t, uint16(1), p.Index)

	// Symbols are case sensitive, matching the registry exactly.
	_, ok = PairBySymbols("eth", "usd")
	assert.False(t, ok)

	_, ok = PairBySymbols("DOGE", "USD")
	assert.False(t, ok)
}

func TestCancelReason(t *testing.T) {
	assert.Equal(t, "", cancelReason(0))
	assert.Equal(t, "market_closed", cancelReason(1))
	assert.Equal(t, "slippage_exceeded", cancelReason(2))
	assert.Equal(t, "not_hit", cancelReason(9))
	assert.Equal(t, "code_42", cancelReason(42))
}
