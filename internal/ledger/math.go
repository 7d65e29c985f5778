package ledger

// Fixed-point position arithmetic. Prices are ticks (1e6), collateral is
// USDC units (1e6), leverage is scaled by 100.

// liqThreshold is the fraction of collateral loss at which the protocol
// liquidates a position.
const liqThreshold = 0.9

// PositionSizeUnits returns the notional size in USDC units.
func PositionSizeUnits(collateralUnits, leverage int64) int64 {
	return collateralUnits * leverage / 100
}

// LiquidationTicks estimates the liquidation price for a position. A long
// is liquidated when price falls by liqThreshold/leverage of entry; a short
// when it rises by the same fraction.
func LiquidationTicks(openTicks, leverage int64, long bool) int64 {
	if leverage <= 0 {
		return 0
	}
	lev := float64(leverage) / 100
	move := float64(openTicks) * liqThreshold / lev
	if long {
		return int64(float64(openTicks) - move)
	}
	return int64(float64(openTicks) + move)
}

// PnLUnits computes realized profit in USDC units for a close at closeTicks.
// Shorts profit when price falls.
func PnLUnits(openTicks, closeTicks, collateralUnits, leverage int64, long bool) int64 {
	if openTicks == 0 {
		return 0
	}
	priceMove := float64(closeTicks-openTicks) / float64(openTicks)
	if !long {
		priceMove = -priceMove
	}
	size := float64(PositionSizeUnits(collateralUnits, leverage))
	return int64(size * priceMove)
}

// PnLPercent computes profit as a percentage of collateral.
func PnLPercent(openTicks, closeTicks, leverage int64, long bool) float64 {
	if openTicks == 0 {
		return 0
	}
	priceMove := float64(closeTicks-openTicks) / float64(openTicks)
	if !long {
		priceMove = -priceMove
	}
	return priceMove * float64(leverage) / 100 * 100
}
