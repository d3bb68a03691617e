package risk

import (
	"github.com/shopspring/decimal"
)

// ----- daily loss limit -----

// DailyLossConfig caps total realized loss at a percentage of the base order
// size. The cap is intentionally scaled from the base order, not account
// equity or a rolling 24h window; see the engine tests for the documented
// behavior.
type DailyLossConfig struct {
	BaseOrderUSDT decimal.Decimal
	LimitPct      decimal.Decimal
}

// DailyLossExceeded reports whether realized PnL breaches the configured cap.
// Only losses count; a zero or missing limit disables the check.
func DailyLossExceeded(realizedPnl decimal.Decimal, cfg DailyLossConfig) bool {
	if cfg.LimitPct.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if realizedPnl.GreaterThanOrEqual(decimal.Zero) {
		return false
	}
	cap := cfg.BaseOrderUSDT.Mul(cfg.LimitPct).Div(decimal.NewFromInt(100))
	return realizedPnl.Neg().GreaterThanOrEqual(cap)
}

// ----- max drawdown stop -----

// DrawdownPct returns (avgEntry - price) / avgEntry * 100, or zero when there
// is no meaningful entry price.
func DrawdownPct(avgEntry, price decimal.Decimal) decimal.Decimal {
	if avgEntry.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return avgEntry.Sub(price).Div(avgEntry).Mul(decimal.NewFromInt(100))
}

// DrawdownStopTriggered reports whether the open position has drawn down at
// least stopPct percent from the average entry. A zero or missing stop
// disables the check; so does an empty position.
func DrawdownStopTriggered(avgEntry, price, positionSize, stopPct decimal.Decimal) bool {
	if stopPct.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if positionSize.LessThanOrEqual(decimal.Zero) || avgEntry.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return DrawdownPct(avgEntry, price).GreaterThanOrEqual(stopPct)
}

// ----- realized PnL accounting -----

// SellPnl returns (sellPrice - avgEntry) * qty, the realized PnL booked when
// a take-profit sell fills.
func SellPnl(avgEntry, sellPrice, qty decimal.Decimal) decimal.Decimal {
	if qty.LessThanOrEqual(decimal.Zero) || avgEntry.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return sellPrice.Sub(avgEntry).Mul(qty)
}
