package symbols

import (
	"math"
	"strconv"
	"strings"
)

// knownQuotes are checked in order when splitting a symbol into base/quote.
var knownQuotes = []string{"USDT", "BUSD", "USDC", "USD", "BTC", "ETH"}

// ToExchangeSymbol normalizes a pair like "BTC/USDT" or "btcusdt" to the
// exchange wire format "BTCUSDT".
func ToExchangeSymbol(pair string) string {
	return strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(pair, "/", "")))
}

// ToDisplaySymbol renders "BTCUSDT" as "BTC/USDT" when the quote is USDT.
func ToDisplaySymbol(symbol string) string {
	s := ToExchangeSymbol(symbol)
	if strings.HasSuffix(s, "USDT") {
		return s[:len(s)-4] + "/USDT"
	}
	return s
}

// SplitBaseQuote splits an exchange symbol into base and quote assets.
// Unknown quotes fall back to a 4-char USDT-style suffix.
func SplitBaseQuote(symbol string) (base, quote string) {
	s := ToExchangeSymbol(symbol)
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q
		}
	}
	if len(s) > 4 {
		return s[:len(s)-4], "USDT"
	}
	return s, "USDT"
}

// StepPrecision derives the number of decimals implied by a step size,
// e.g. 0.001 -> 3.
func StepPrecision(stepSize float64) int {
	if stepSize <= 0 {
		return 8
	}
	if stepSize >= 1 {
		return 0
	}
	p := int(math.Ceil(-math.Log10(stepSize) - 1e-9))
	if p < 0 {
		return 0
	}
	return p
}

// RoundToStep rounds a quantity down to the exchange step size.
func RoundToStep(qty, stepSize float64) float64 {
	if stepSize <= 0 {
		return qty
	}
	steps := math.Floor(qty/stepSize + 1e-9)
	p := StepPrecision(stepSize)
	rounded := steps * stepSize
	// re-quantize to the step precision to undo float drift
	v, err := strconv.ParseFloat(strconv.FormatFloat(rounded, 'f', p, 64), 64)
	if err != nil {
		return rounded
	}
	return v
}
