// Package engine implements the strategy execution engine: it owns the
// configured strategies, produces trading signals from market snapshots by
// dispatching per-kind evaluators, and tracks the positions opened from
// executed signals.
//
// Randomness is an injected dependency so evaluator output is reproducible
// under test. All monetary values use shopspring/decimal.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trademaster/signal-engine/internal/metrics"
	"github.com/trademaster/signal-engine/internal/model"
	"github.com/trademaster/signal-engine/internal/risk"
	"github.com/trademaster/signal-engine/internal/store"
)

// ErrInvalidAction is returned by ExecuteSignal for any action other than
// BUY or SELL. A HOLD reaching execution is a caller contract violation.
var ErrInvalidAction = errors.New("engine: signal action cannot open a position")

// Rand is the random source behind every synthetic confidence, momentum,
// volatility, and RSI draw. *math/rand/v2.Rand satisfies it; tests substitute
// a scripted sequence.
type Rand interface {
	Float64() float64
}

// Engine generates signals and manages positions. A mutex serializes
// generation and execution: the random source and the history cap give no
// ordering guarantee to concurrent callers otherwise.
type Engine struct {
	store   store.Store
	rng     Rand
	limiter *risk.ExposureLimiter // nil disables exposure checks
	mu      sync.Mutex
}

// New creates an engine on the given store and random source, seeding the
// three built-in strategies. A seed that is already present (for example in
// a persistent store) is left as configured.
func New(st store.Store, rng Rand) *Engine {
	e := &Engine{store: st, rng: rng}

	ctx := context.Background()
	for _, cfg := range model.DefaultStrategies() {
		err := st.AddStrategy(ctx, cfg)
		if err != nil && !errors.Is(err, store.ErrStrategyExists) {
			slog.Error("failed to seed strategy", "strategy", cfg.ID, "err", err)
		}
	}
	return e
}

// SetExposureLimiter installs notional exposure limits on execution.
// Call before serving traffic; a nil limiter leaves execution unrestricted.
func (e *Engine) SetExposureLimiter(l *risk.ExposureLimiter) {
	e.limiter = l
}

// GenerateSignals evaluates every active strategy against the snapshot batch,
// appends the emitted signals to the history, and returns them. A fault in
// one strategy is isolated: it is recovered, logged, and contributes nothing.
func (e *Engine) GenerateSignals(ctx context.Context, snapshots []model.MarketSnapshot) ([]model.TradingSignal, error) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	strategies, err := e.store.ListActiveStrategies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active strategies: %w", err)
	}

	var signals []model.TradingSignal
	for _, cfg := range strategies {
		signals = append(signals, e.evaluate(cfg, snapshots)...)
	}

	if err := e.store.AppendSignals(ctx, signals); err != nil {
		return nil, fmt.Errorf("append signals: %w", err)
	}

	for _, sig := range signals {
		metrics.SignalsGenerated.WithLabelValues(sig.Strategy, string(sig.Action)).Inc()
	}
	metrics.GenerationLatency.Observe(time.Since(start).Seconds())

	slog.Info("signals generated",
		"strategies", len(strategies),
		"signals", len(signals),
		"snapshots", len(snapshots),
	)
	return signals, nil
}

// ExecuteSignal opens a position from a BUY or SELL signal. The position's
// entry price and side are fixed here for its lifetime.
func (e *Engine) ExecuteSignal(ctx context.Context, sig model.TradingSignal) (*model.TradingPosition, error) {
	var side model.Side
	switch sig.Action {
	case model.ActionBuy:
		side = model.SideLong
	case model.ActionSell:
		side = model.SideShort
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, sig.Action)
	}

	openTime := sig.Timestamp
	if openTime.IsZero() {
		openTime = time.Now().UTC()
	}

	pos := &model.TradingPosition{
		ID:           newPositionID(),
		Symbol:       sig.Symbol,
		Side:         side,
		Quantity:     sig.Quantity,
		EntryPrice:   sig.Price,
		CurrentPrice: sig.Price,
		PnL:          decimal.Zero,
		PnLPercent:   decimal.Zero,
		OpenTime:     openTime,
		Strategy:     sig.Strategy,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.limiter != nil {
		open, err := e.store.ListPositions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list positions: %w", err)
		}
		if err := e.limiter.Check(sig.Symbol, sig.Price, sig.Quantity, open); err != nil {
			return nil, err
		}
	}

	if err := e.store.InsertPosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("insert position: %w", err)
	}

	metrics.PositionsOpened.WithLabelValues(string(side)).Inc()
	metrics.OpenPositions.Inc()

	slog.Info("signal executed",
		"position_id", pos.ID,
		"symbol", pos.Symbol,
		"side", side,
		"qty", pos.Quantity,
		"entry_price", pos.EntryPrice.String(),
		"strategy", pos.Strategy,
	)
	return pos, nil
}

// UpdatePositions recomputes the mark of every open position from the first
// snapshot matching its symbol. Positions without a matching snapshot keep
// their stale price; that is not an error. Returns the refreshed ledger.
func (e *Engine) UpdatePositions(ctx context.Context, snapshots []model.MarketSnapshot) ([]model.TradingPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	for i := range positions {
		p := &positions[i]
		snap, ok := firstSnapshot(snapshots, p.Symbol)
		if !ok {
			continue
		}

		qty := decimal.NewFromInt(p.Quantity)
		var pnl decimal.Decimal
		if p.Side == model.SideLong {
			pnl = snap.Price.Sub(p.EntryPrice).Mul(qty)
		} else {
			pnl = p.EntryPrice.Sub(snap.Price).Mul(qty)
		}

		pct := decimal.Zero
		if notional := p.EntryPrice.Mul(qty); !notional.IsZero() {
			pct = pnl.Div(notional).Mul(decimal.NewFromInt(100))
		}

		if err := e.store.UpdatePositionPrice(ctx, p.ID, snap.Price, pnl, pct); err != nil {
			return nil, fmt.Errorf("update position %s: %w", p.ID, err)
		}
		p.CurrentPrice = snap.Price
		p.PnL = pnl
		p.PnLPercent = pct
	}
	return positions, nil
}

// ActivePositions returns the current position ledger.
func (e *Engine) ActivePositions(ctx context.Context) ([]model.TradingPosition, error) {
	return e.store.ListPositions(ctx)
}

// RecentSignals returns the last n signals from the history. n <= 0 means
// the default of 10.
func (e *Engine) RecentSignals(ctx context.Context, n int) ([]model.TradingSignal, error) {
	return e.store.RecentSignals(ctx, n)
}

func firstSnapshot(snapshots []model.MarketSnapshot, symbol string) (model.MarketSnapshot, bool) {
	for _, s := range snapshots {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return model.MarketSnapshot{}, false
}

func newPositionID() string {
	return fmt.Sprintf("pos_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
