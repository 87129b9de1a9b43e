package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trademaster/signal-engine/internal/metrics"
	"github.com/trademaster/signal-engine/internal/model"
)

// baseCapital is the notional account size behind position sizing.
const baseCapital = 10000

// defaultPositionFraction applies when a strategy does not configure one.
const defaultPositionFraction = 0.1

// Snapshot windows per evaluator kind.
const (
	aiWindow        = 5
	technicalWindow = 3
)

// evaluate dispatches one strategy to its kind-specific evaluator. A panic
// inside an evaluator is recovered here so one faulty strategy cannot abort
// the evaluation of the others.
func (e *Engine) evaluate(cfg model.StrategyConfig, snapshots []model.MarketSnapshot) (signals []model.TradingSignal) {
	defer func() {
		if r := recover(); r != nil {
			metrics.EvaluatorFaults.WithLabelValues(cfg.ID).Inc()
			slog.Error("strategy evaluation fault",
				"strategy", cfg.ID,
				"kind", cfg.Kind,
				"err", r,
			)
			signals = nil
		}
	}()

	switch cfg.Kind {
	case model.KindAI:
		return e.evaluateAI(cfg, snapshots)
	case model.KindTechnical:
		return e.evaluateTechnical(cfg, snapshots)
	case model.KindFundamental:
		// Reserved extension point: fundamental analysis is not implemented
		// and deliberately yields nothing rather than being an unknown kind.
		return nil
	default:
		return nil
	}
}

// evaluateAI emulates a model prediction over the most recent snapshots.
// Draw order per snapshot: confidence, momentum, volatility, then the
// optional rationale draw once a signal is emitted.
func (e *Engine) evaluateAI(cfg model.StrategyConfig, snapshots []model.MarketSnapshot) []model.TradingSignal {
	var out []model.TradingSignal

	for _, snap := range lastN(snapshots, aiWindow) {
		confidence := 0.6 + e.rng.Float64()*0.4
		if confidence < confidenceGate(cfg.Parameters) {
			continue
		}

		momentum := e.rng.Float64() - 0.5
		volatility := e.rng.Float64() * 0.3

		action := model.ActionHold
		if cfg.ID == "ai-momentum" {
			switch {
			case momentum > 0.2:
				action = model.ActionBuy
			case momentum < -0.2:
				action = model.ActionSell
			}
		} else {
			switch {
			case momentum > 0.1 && volatility < 0.2:
				action = model.ActionBuy
			case momentum < -0.1 && volatility < 0.2:
				action = model.ActionSell
			}
		}
		if action == model.ActionHold {
			continue
		}

		out = append(out, model.TradingSignal{
			Symbol:     snap.Symbol,
			Action:     action,
			Confidence: confidence * 100,
			Price:      snap.Price,
			Quantity:   positionSize(snap.Price, cfg.Parameters),
			Timestamp:  time.Now().UTC(),
			Strategy:   cfg.Name,
			Reasons:    e.aiReasons(action, confidence),
		})
	}
	return out
}

func (e *Engine) aiReasons(action model.Action, confidence float64) []string {
	var reasons []string
	if action == model.ActionBuy {
		reasons = append(reasons, "Bullish momentum detected")
		if confidence > 0.85 {
			reasons = append(reasons, "Strong AI confidence signal")
		}
		reasons = append(reasons, "Technical indicators align")
		if e.rng.Float64() > 0.5 {
			reasons = append(reasons, "Volume surge detected")
		}
	} else {
		reasons = append(reasons, "Bearish momentum detected")
		if confidence > 0.85 {
			reasons = append(reasons, "High probability reversal")
		}
		reasons = append(reasons, "Risk-off sentiment")
		if e.rng.Float64() > 0.5 {
			reasons = append(reasons, "Overbought conditions")
		}
	}
	return reasons
}

// evaluateTechnical implements mean reversion on a synthetic RSI. Only the
// rsi-reversion strategy is wired; other technical strategies yield nothing.
// The RSI is a uniform draw in [30, 70), not a real computation against price
// history.
func (e *Engine) evaluateTechnical(cfg model.StrategyConfig, snapshots []model.MarketSnapshot) []model.TradingSignal {
	if cfg.ID != "rsi-reversion" {
		return nil
	}
	oversold, overbought := rsiLevels(cfg.Parameters)

	var out []model.TradingSignal
	for _, snap := range lastN(snapshots, technicalWindow) {
		rsi := 30 + e.rng.Float64()*40

		var action model.Action
		var reason string
		switch {
		case oversold > 0 && rsi < oversold:
			action = model.ActionBuy
			reason = fmt.Sprintf("RSI oversold at %.1f", rsi)
		case overbought > 0 && rsi > overbought:
			action = model.ActionSell
			reason = fmt.Sprintf("RSI overbought at %.1f", rsi)
		default:
			continue
		}

		out = append(out, model.TradingSignal{
			Symbol:     snap.Symbol,
			Action:     action,
			Confidence: 75 + e.rng.Float64()*15,
			Price:      snap.Price,
			Quantity:   positionSize(snap.Price, cfg.Parameters),
			Timestamp:  time.Now().UTC(),
			Strategy:   cfg.Name,
			Reasons:    []string{reason, "Mean reversion expected"},
		})
	}
	return out
}

// positionSize converts the strategy's capital fraction into a share count:
// floor(baseCapital * fraction / price).
func positionSize(price decimal.Decimal, params model.Params) int64 {
	fraction := defaultPositionFraction
	if params != nil {
		if f := params.PositionFraction(); f > 0 {
			fraction = f
		}
	}
	return decimal.NewFromFloat(baseCapital * fraction).Div(price).IntPart()
}

func confidenceGate(params model.Params) float64 {
	if params == nil {
		return 0
	}
	return params.ConfidenceGate()
}

// rsiLevels reads the reversion bands. A zero level disables its side of the
// band rather than comparing against zero.
func rsiLevels(params model.Params) (oversold, overbought float64) {
	switch p := params.(type) {
	case *model.RSIReversionParams:
		return p.OversoldLevel, p.OverboughtLevel
	case model.GenericParams:
		return p.Float("oversoldLevel"), p.Float("overboughtLevel")
	default:
		return 0, 0
	}
}

func lastN(snapshots []model.MarketSnapshot, n int) []model.MarketSnapshot {
	if len(snapshots) <= n {
		return snapshots
	}
	return snapshots[len(snapshots)-n:]
}
