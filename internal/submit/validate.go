package submit

import (
	"github.com/ambjn/ostium-whop/internal/chain/evm"
	"github.com/ambjn/ostium-whop/internal/domain"
)

const (
	// maxCollateralUnits caps a single order at 1M USDC.
	maxCollateralUnits = 1_000_000 * 1e6
	// maxSlippagePct bounds the session slippage setting.
	maxSlippagePct = 100.0
)

// validateIntent checks a fully-populated intent before any chain activity.
// Validation failures are InvalidRequest: the submitter never burns a retry
// budget, or an idempotency record, on a request that can never be valid.
func validateIntent(i domain.OrderIntent) error {
	switch i.Kind {
	case domain.IntentOpen:
		return validateOpen(i)
	case domain.IntentClose:
		return validateClose(i)
	case domain.IntentAddCollateral, domain.IntentRemoveCollateral:
		return validateCollateralAdjust(i)
	case domain.IntentUpdateStopLoss, domain.IntentUpdateTakeProfit:
		return validateRiskUpdate(i)
	case domain.IntentFaucet:
		return nil
	default:
		return domain.Invalid("unknown intent kind %q", i.Kind)
	}
}

func validateOpen(i domain.OrderIntent) error {
	pair, ok := evm.PairByIndex(i.PairIndex)
	if !ok {
		return domain.Invalid("unknown pair %s", i.Pair())
	}
	if i.CollateralUnits <= 0 {
		return domain.Invalid("collateral must be positive")
	}
	if i.CollateralUnits > maxCollateralUnits {
		return domain.Invalid("collateral %.2f exceeds maximum", i.Collateral())
	}
	if i.Leverage < pair.MinLeverage || i.Leverage > pair.MaxLeverage {
		return domain.Invalid("leverage %.2fx outside [%.2fx, %.2fx] for %s",
			i.LeverageX(), float64(pair.MinLeverage)/100, float64(pair.MaxLeverage)/100, i.Pair())
	}
	if i.Order == nil {
		return domain.Invalid("order type is required")
	}
	if lo, ok := i.Order.(domain.LimitOrder); ok && lo.PriceTicks <= 0 {
		return domain.Invalid("limit price must be positive")
	}
	if i.StopLossTicks < 0 || i.TakeProfitTicks < 0 {
		return domain.Invalid("stop loss and take profit must not be negative")
	}
	return nil
}

func validateClose(i domain.OrderIntent) error {
	if _, ok := evm.PairByIndex(i.PairIndex); !ok {
		return domain.Invalid("unknown pair %s", i.Pair())
	}
	if i.ClosePercent < 1 || i.ClosePercent > 100 {
		return domain.Invalid("close percentage %d outside [1, 100]", i.ClosePercent)
	}
	return nil
}

func validateCollateralAdjust(i domain.OrderIntent) error {
	if _, ok := evm.PairByIndex(i.PairIndex); !ok {
		return domain.Invalid("unknown pair %s", i.Pair())
	}
	if i.AmountUnits <= 0 {
		return domain.Invalid("amount must be positive")
	}
	return nil
}

func validateRiskUpdate(i domain.OrderIntent) error {
	if _, ok := evm.PairByIndex(i.PairIndex); !ok {
		return domain.Invalid("unknown pair %s", i.Pair())
	}
	// Zero clears the level; anything else must be a real price.
	switch i.Kind {
	case domain.IntentUpdateStopLoss:
		if i.StopLossTicks < 0 {
			return domain.Invalid("stop loss must not be negative")
		}
	case domain.IntentUpdateTakeProfit:
		if i.TakeProfitTicks < 0 {
			return domain.Invalid("take profit must not be negative")
		}
	}
	return nil
}

// validateRiskLevels checks stop-loss and take-profit placement against the
// reference price for the position's direction. A long is stopped out below
// its entry and takes profit above it; a short is the mirror image. Zero
// means the level is unset.
func validateRiskLevels(long bool, refTicks, slTicks, tpTicks int64) error {
	if refTicks <= 0 {
		return nil
	}
	if long {
		if slTicks > 0 && slTicks >= refTicks {
			return domain.Invalid("stop loss %.2f must be below the reference price %.2f for a long",
				float64(slTicks)/1e6, float64(refTicks)/1e6)
		}
		if tpTicks > 0 && tpTicks <= refTicks {
			return domain.Invalid("take profit %.2f must be above the reference price %.2f for a long",
				float64(tpTicks)/1e6, float64(refTicks)/1e6)
		}
		return nil
	}
	if slTicks > 0 && slTicks <= refTicks {
		return domain.Invalid("stop loss %.2f must be above the reference price %.2f for a short",
			float64(slTicks)/1e6, float64(refTicks)/1e6)
	}
	if tpTicks > 0 && tpTicks >= refTicks {
		return domain.Invalid("take profit %.2f must be below the reference price %.2f for a short",
			float64(tpTicks)/1e6, float64(refTicks)/1e6)
	}
	return nil
}

// validateSlippage bounds the session slippage percentage.
func validateSlippage(pct float64) error {
	if pct < 0 || pct > maxSlippagePct {
		return domain.Invalid("slippage %.2f%% outside [0, 100]", pct)
	}
	return nil
}
