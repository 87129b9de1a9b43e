// Package risk enforces optional notional exposure limits on signal
// execution. A trader running ten strategies against the same handful of
// symbols accumulates correlated exposure; the limiter caps both the notional
// in any single symbol and the aggregate across the book.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/trademaster/signal-engine/internal/model"
)

var (
	// ErrSymbolLimitExceeded is returned when an execution would push a
	// single symbol's notional beyond the per-symbol maximum.
	ErrSymbolLimitExceeded = errors.New("risk: per-symbol exposure limit exceeded")

	// ErrTotalLimitExceeded is returned when an execution would push the
	// aggregate notional across all open positions beyond the book maximum.
	ErrTotalLimitExceeded = errors.New("risk: total exposure limit exceeded")
)

// ExposureLimiter caps open notional at entry prices. Long and short both
// consume limit: a short is exposure, not a hedge, in this book model.
// A zero (or negative) limit disables that check.
type ExposureLimiter struct {
	MaxPerSymbol decimal.Decimal
	MaxTotal     decimal.Decimal
}

// NewExposureLimiter creates a limiter with the given per-symbol and total
// notional caps.
func NewExposureLimiter(maxPerSymbol, maxTotal decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{MaxPerSymbol: maxPerSymbol, MaxTotal: maxTotal}
}

// Check validates whether opening a position of the given size respects the
// limits, against the current open positions. Returns nil when within limits.
func (l *ExposureLimiter) Check(symbol string, price decimal.Decimal, quantity int64, open []model.TradingPosition) error {
	if l == nil {
		return nil
	}

	added := price.Mul(decimal.NewFromInt(quantity)).Abs()

	symbolNotional := added
	totalNotional := added
	for _, p := range open {
		notional := p.EntryPrice.Mul(decimal.NewFromInt(p.Quantity)).Abs()
		totalNotional = totalNotional.Add(notional)
		if p.Symbol == symbol {
			symbolNotional = symbolNotional.Add(notional)
		}
	}

	if l.MaxPerSymbol.IsPositive() && symbolNotional.GreaterThan(l.MaxPerSymbol) {
		return ErrSymbolLimitExceeded
	}
	if l.MaxTotal.IsPositive() && totalNotional.GreaterThan(l.MaxTotal) {
		return ErrTotalLimitExceeded
	}
	return nil
}
