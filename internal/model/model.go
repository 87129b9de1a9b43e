// Package model defines the core domain types shared across the signal engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Confidence, momentum, and RSI are synthetic scores, not money, and stay float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the side of a proposed trade.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	// ActionHold is an internal evaluator outcome. It never appears in a
	// generated signal sequence and never opens a position.
	ActionHold Action = "HOLD"
)

// Side is the direction of an open position, derived from the signal action.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// StrategyKind selects which evaluator a strategy is dispatched to.
type StrategyKind string

const (
	KindAI          StrategyKind = "ai"
	KindTechnical   StrategyKind = "technical"
	KindFundamental StrategyKind = "fundamental"
)

// RiskLevel is a display classification, not enforced by the engine.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// MarketSnapshot is a point-in-time observation of one symbol. Snapshots are
// supplied by the caller per invocation and never stored by the engine.
type MarketSnapshot struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// TradingSignal is a proposed trade with confidence and rationale.
// Immutable once created; the history keeps its own copy.
type TradingSignal struct {
	Symbol     string          `json:"symbol"`
	Action     Action          `json:"action"`
	Confidence float64         `json:"confidence"` // 0-100
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
	Timestamp  time.Time       `json:"timestamp"`
	Strategy   string          `json:"strategy"` // display name, not id
	Reasons    []string        `json:"reasons"`
}

// StrategyConfig is one configured strategy in the registry.
type StrategyConfig struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Kind       StrategyKind `json:"kind"`
	Parameters Params       `json:"parameters"`
	RiskLevel  RiskLevel    `json:"riskLevel"`
	Active     bool         `json:"active"`
}

// StrategyPatch is a partial update: only non-nil fields are applied.
// Parameters, when set, replace the previous parameter set wholesale.
type StrategyPatch struct {
	Name       *string
	Kind       *StrategyKind
	Parameters Params
	RiskLevel  *RiskLevel
	Active     *bool
}

// TradingPosition is the record of an executed signal, marked to the latest
// snapshot. EntryPrice and Side are fixed at creation; CurrentPrice, PnL and
// PnLPercent are recomputed on refresh, never set directly.
type TradingPosition struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Quantity     int64           `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLPercent   decimal.Decimal `json:"pnlPercent"`
	OpenTime     time.Time       `json:"openTime"`
	Strategy     string          `json:"strategy"`
}

// DefaultStrategies returns the three built-in strategies seeded at engine
// initialization, in seed order.
func DefaultStrategies() []StrategyConfig {
	return []StrategyConfig{
		{
			ID:   "ai-momentum",
			Name: "AI Momentum Scalper",
			Kind: KindAI,
			Parameters: &AIMomentumParams{
				Timeframe:           "5m",
				ConfidenceThreshold: 0.8,
				MaxPositions:        3,
				StopLoss:            0.02,
				TakeProfit:          0.04,
			},
			RiskLevel: RiskMedium,
			Active:    true,
		},
		{
			ID:   "ml-trend",
			Name: "ML Trend Following",
			Kind: KindAI,
			Parameters: &MLTrendParams{
				Timeframe:     "15m",
				TrendStrength: 0.7,
				MaxDrawdown:   0.1,
				PositionSize:  0.1,
			},
			RiskLevel: RiskLow,
			Active:    true,
		},
		{
			ID:   "rsi-reversion",
			Name: "RSI Mean Reversion",
			Kind: KindTechnical,
			Parameters: &RSIReversionParams{
				RSIPeriod:       14,
				OversoldLevel:   30,
				OverboughtLevel: 70,
				Timeframe:       "1h",
			},
			RiskLevel: RiskHigh,
			Active:    false,
		},
	}
}
