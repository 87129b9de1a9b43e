package model

import (
	"encoding/json"
	"fmt"
)

// Params is the per-strategy parameter set. Built-in strategies carry a typed
// record; strategies of unknown shape fall back to GenericParams, an open map
// kept for forward compatibility.
type Params interface {
	// PositionFraction is the fraction of base capital committed per trade.
	// Zero means unset; the sizing function substitutes its default.
	PositionFraction() float64

	// ConfidenceGate is the minimum model confidence required to act.
	// Zero means no gate.
	ConfidenceGate() float64

	// Clone returns an independent copy safe to hand across an ownership
	// boundary.
	Clone() Params
}

// AIMomentumParams configures the ai-momentum strategy.
type AIMomentumParams struct {
	Timeframe           string  `json:"timeframe"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	MaxPositions        int     `json:"maxPositions"`
	StopLoss            float64 `json:"stopLoss"`
	TakeProfit          float64 `json:"takeProfit"`
}

func (p *AIMomentumParams) PositionFraction() float64 { return 0 }
func (p *AIMomentumParams) ConfidenceGate() float64   { return p.ConfidenceThreshold }
func (p *AIMomentumParams) Clone() Params             { c := *p; return &c }

// MLTrendParams configures the ml-trend strategy.
type MLTrendParams struct {
	Timeframe     string  `json:"timeframe"`
	TrendStrength float64 `json:"trendStrength"`
	MaxDrawdown   float64 `json:"maxDrawdown"`
	PositionSize  float64 `json:"positionSize"`
}

func (p *MLTrendParams) PositionFraction() float64 { return p.PositionSize }
func (p *MLTrendParams) ConfidenceGate() float64   { return 0 }
func (p *MLTrendParams) Clone() Params             { c := *p; return &c }

// RSIReversionParams configures the rsi-reversion strategy.
type RSIReversionParams struct {
	RSIPeriod       int     `json:"rsiPeriod"`
	OversoldLevel   float64 `json:"oversoldLevel"`
	OverboughtLevel float64 `json:"overboughtLevel"`
	Timeframe       string  `json:"timeframe"`
}

func (p *RSIReversionParams) PositionFraction() float64 { return 0 }
func (p *RSIReversionParams) ConfidenceGate() float64   { return 0 }
func (p *RSIReversionParams) Clone() Params             { c := *p; return &c }

// GenericParams is the open parameter map used for strategies without a
// dedicated record. Well-known keys are read through the accessors.
type GenericParams map[string]any

func (p GenericParams) PositionFraction() float64 { return p.Float("positionSize") }
func (p GenericParams) ConfidenceGate() float64   { return p.Float("confidenceThreshold") }

func (p GenericParams) Clone() Params {
	c := make(GenericParams, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Float reads a numeric parameter, returning 0 when absent or non-numeric.
func (p GenericParams) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// ParseParams decodes a raw parameter object into the typed record for the
// given strategy id, falling back to GenericParams for ids without one.
func ParseParams(id string, raw []byte) (Params, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var p Params
	switch id {
	case "ai-momentum":
		p = &AIMomentumParams{}
	case "ml-trend":
		p = &MLTrendParams{}
	case "rsi-reversion":
		p = &RSIReversionParams{}
	default:
		g := GenericParams{}
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("parse parameters for %s: %w", id, err)
		}
		return g, nil
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("parse parameters for %s: %w", id, err)
	}
	return p, nil
}

// UnmarshalJSON decodes a strategy config, dispatching the parameter object
// to the record matching the strategy id.
func (c *StrategyConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Kind       StrategyKind    `json:"kind"`
		Parameters json.RawMessage `json:"parameters"`
		RiskLevel  RiskLevel       `json:"riskLevel"`
		Active     bool            `json:"active"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	params, err := ParseParams(raw.ID, raw.Parameters)
	if err != nil {
		return err
	}

	c.ID = raw.ID
	c.Name = raw.Name
	c.Kind = raw.Kind
	c.Parameters = params
	c.RiskLevel = raw.RiskLevel
	c.Active = raw.Active
	return nil
}
