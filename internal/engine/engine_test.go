package engine_test

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trademaster/signal-engine/internal/engine"
	"github.com/trademaster/signal-engine/internal/model"
	"github.com/trademaster/signal-engine/internal/risk"
	"github.com/trademaster/signal-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// scriptRand replays a fixed sequence of draws so evaluator output is exact.
type scriptRand struct {
	t    *testing.T
	vals []float64
	i    int
}

func (r *scriptRand) Float64() float64 {
	if r.i >= len(r.vals) {
		r.t.Fatalf("random sequence exhausted after %d draws", r.i)
	}
	v := r.vals[r.i]
	r.i++
	return v
}

func newTestEngine(t *testing.T, rng engine.Rand) (*engine.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return engine.New(ms, rng), ms
}

func setActive(t *testing.T, ms *store.MemoryStore, id string, active bool) {
	t.Helper()
	if err := ms.UpdateStrategy(context.Background(), id, model.StrategyPatch{Active: &active}); err != nil {
		t.Fatalf("failed to toggle %s: %v", id, err)
	}
}

func snap(symbol string, price float64) model.MarketSnapshot {
	return model.MarketSnapshot{
		Symbol:    symbol,
		Price:     d(price),
		Volume:    1000000,
		Timestamp: time.Now().UTC(),
	}
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// --- Seeding ---

func TestNew_SeedsDefaultStrategies(t *testing.T) {
	_, ms := newTestEngine(t, &scriptRand{t: t})

	all, _ := ms.ListStrategies(context.Background())
	if len(all) != 3 {
		t.Fatalf("expected 3 seeded strategies, got %d", len(all))
	}
	want := []string{"ai-momentum", "ml-trend", "rsi-reversion"}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("seed order [%d] = %s, want %s", i, all[i].ID, id)
		}
	}

	active, _ := ms.ListActiveStrategies(context.Background())
	if len(active) != 2 {
		t.Errorf("expected 2 active seeds, got %d", len(active))
	}
	if all[2].Active {
		t.Error("rsi-reversion should seed inactive")
	}
}

// --- AI evaluator ---

func TestGenerateSignals_AIMomentumDeterministicBuy(t *testing.T) {
	// Draws: confidence u=0.75 → 0.9 (above threshold 0.8),
	// momentum u=0.8 → +0.3 (> 0.2 → BUY), volatility u=0.5,
	// rationale u=0.9 → volume surge reason appended.
	rng := &scriptRand{t: t, vals: []float64{0.75, 0.8, 0.5, 0.9}}
	eng, ms := newTestEngine(t, rng)
	setActive(t, ms, "ml-trend", false)

	signals, err := eng.GenerateSignals(context.Background(), []model.MarketSnapshot{snap("AAPL", 100)})
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected exactly 1 signal, got %d", len(signals))
	}

	sig := signals[0]
	if sig.Action != model.ActionBuy {
		t.Errorf("expected BUY, got %s", sig.Action)
	}
	if !almost(sig.Confidence, 90) {
		t.Errorf("expected confidence 90, got %v", sig.Confidence)
	}
	if sig.Quantity != 10 {
		// floor(10000 * 0.1 / 100) with the default position fraction.
		t.Errorf("expected quantity 10, got %d", sig.Quantity)
	}
	if !sig.Price.Equal(d(100)) {
		t.Errorf("expected price 100, got %s", sig.Price)
	}
	if sig.Strategy != "AI Momentum Scalper" {
		t.Errorf("expected display name, got %s", sig.Strategy)
	}

	wantReasons := []string{
		"Bullish momentum detected",
		"Strong AI confidence signal",
		"Technical indicators align",
		"Volume surge detected",
	}
	if len(sig.Reasons) != len(wantReasons) {
		t.Fatalf("expected %d reasons, got %v", len(wantReasons), sig.Reasons)
	}
	for i, r := range wantReasons {
		if sig.Reasons[i] != r {
			t.Errorf("reason[%d] = %q, want %q", i, sig.Reasons[i], r)
		}
	}
}

func TestGenerateSignals_HoldNeverEmitted(t *testing.T) {
	// Confidence passes the gate but momentum lands in the HOLD band.
	rng := &scriptRand{t: t, vals: []float64{0.75, 0.55, 0.5}}
	eng, ms := newTestEngine(t, rng)
	setActive(t, ms, "ml-trend", false)

	signals, err := eng.GenerateSignals(context.Background(), []model.MarketSnapshot{snap("AAPL", 100)})
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 0 {
		t.Fatalf("HOLD must not materialize, got %v", signals)
	}

	recent, _ := eng.RecentSignals(context.Background(), 10)
	if len(recent) != 0 {
		t.Error("HOLD leaked into the history")
	}
}

func TestGenerateSignals_ConfidenceGateSkipsSnapshot(t *testing.T) {
	// u=0.1 → confidence 0.64, below ai-momentum's 0.8 threshold: the
	// snapshot is skipped before any momentum draw.
	rng := &scriptRand{t: t, vals: []float64{0.1}}
	eng, ms := newTestEngine(t, rng)
	setActive(t, ms, "ml-trend", false)

	signals, err := eng.GenerateSignals(context.Background(), []model.MarketSnapshot{snap("AAPL", 100)})
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 0 {
		t.Fatalf("expected no signals below gate, got %d", len(signals))
	}
	if rng.i != 1 {
		t.Errorf("expected exactly 1 draw, got %d", rng.i)
	}
}

func TestGenerateSignals_MLTrendVolatilityGate(t *testing.T) {
	ctx := context.Background()

	// High volatility blocks the trade even with positive momentum.
	rng := &scriptRand{t: t, vals: []float64{0.5, 0.7, 0.9}}
	eng, ms := newTestEngine(t, rng)
	setActive(t, ms, "ai-momentum", false)

	signals, err := eng.GenerateSignals(ctx, []model.MarketSnapshot{snap("TSLA", 100)})
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 0 {
		t.Fatalf("expected volatility gate to hold, got %d signals", len(signals))
	}

	// Same momentum with low volatility buys.
	rng = &scriptRand{t: t, vals: []float64{0.5, 0.7, 0.1, 0.4}}
	eng, ms = newTestEngine(t, rng)
	setActive(t, ms, "ai-momentum", false)

	signals, err = eng.GenerateSignals(ctx, []model.MarketSnapshot{snap("TSLA", 100)})
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 1 || signals[0].Action != model.ActionBuy {
		t.Fatalf("expected 1 BUY, got %v", signals)
	}
	// Confidence 0.8 is not above 0.85 and the rationale draw is below 0.5.
	wantReasons := []string{"Bullish momentum detected", "Technical indicators align"}
	if len(signals[0].Reasons) != 2 || signals[0].Reasons[0] != wantReasons[0] || signals[0].Reasons[1] != wantReasons[1] {
		t.Errorf("unexpected reasons: %v", signals[0].Reasons)
	}
	// ml-trend configures positionSize 0.1 explicitly.
	if signals[0].Quantity != 10 {
		t.Errorf("expected quantity 10, got %d", signals[0].Quantity)
	}
}

func TestGenerateSignals_AIWindowIsLastFive(t *testing.T) {
	// Seven snapshots: only the last five get a confidence draw. All draws
	// fail the gate, so exactly 5 draws are consumed.
	rng := &scriptRand{t: t, vals: []float64{0.1, 0.1, 0.1, 0.1, 0.1}}
	eng, ms := newTestEngine(t, rng)
	setActive(t, ms, "ml-trend", false)

	var snaps []model.MarketSnapshot
	for _, sym := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		snaps = append(snaps, snap(sym, 50))
	}

	if _, err := eng.GenerateSignals(context.Background(), snaps); err != nil {
		t.Fatal(err)
	}
	if rng.i != 5 {
		t.Errorf("expected 5 draws for a 7-snapshot batch, got %d", rng.i)
	}
}

// --- Technical evaluator ---

func TestGenerateSignals_RSIReversion(t *testing.T) {
	ctx := context.Background()

	setupRSI := func(t *testing.T, rng engine.Rand) (*engine.Engine, *store.MemoryStore) {
		eng, ms := newTestEngine(t, rng)
		setActive(t, ms, "ai-momentum", false)
		setActive(t, ms, "ml-trend", false)
		setActive(t, ms, "rsi-reversion", true)
		// Default bands [30, 70] can never trigger against a synthetic RSI
		// drawn in [30, 70); tighten them so both sides are reachable.
		if err := ms.UpdateStrategy(ctx, "rsi-reversion", model.StrategyPatch{
			Parameters: &model.RSIReversionParams{
				RSIPeriod:       14,
				OversoldLevel:   40,
				OverboughtLevel: 60,
				Timeframe:       "1h",
			},
		}); err != nil {
			t.Fatal(err)
		}
		return eng, ms
	}

	t.Run("oversold buys", func(t *testing.T) {
		// rsi u=0.1 → 34.0 (< 40), confidence u=0.5 → 82.5.
		eng, _ := setupRSI(t, &scriptRand{t: t, vals: []float64{0.1, 0.5}})

		signals, err := eng.GenerateSignals(ctx, []model.MarketSnapshot{snap("NVDA", 50)})
		if err != nil {
			t.Fatal(err)
		}
		if len(signals) != 1 {
			t.Fatalf("expected 1 signal, got %d", len(signals))
		}
		sig := signals[0]
		if sig.Action != model.ActionBuy {
			t.Errorf("expected BUY, got %s", sig.Action)
		}
		if !almost(sig.Confidence, 82.5) {
			t.Errorf("expected confidence 82.5, got %v", sig.Confidence)
		}
		if sig.Quantity != 20 {
			t.Errorf("expected quantity 20, got %d", sig.Quantity)
		}
		if sig.Reasons[0] != "RSI oversold at 34.0" || sig.Reasons[1] != "Mean reversion expected" {
			t.Errorf("unexpected reasons: %v", sig.Reasons)
		}
	})

	t.Run("overbought sells", func(t *testing.T) {
		// rsi u=0.9 → 66.0 (> 60).
		eng, _ := setupRSI(t, &scriptRand{t: t, vals: []float64{0.9, 0.5}})

		signals, err := eng.GenerateSignals(ctx, []model.MarketSnapshot{snap("NVDA", 50)})
		if err != nil {
			t.Fatal(err)
		}
		if len(signals) != 1 || signals[0].Action != model.ActionSell {
			t.Fatalf("expected 1 SELL, got %v", signals)
		}
		if signals[0].Reasons[0] != "RSI overbought at 66.0" {
			t.Errorf("unexpected reason: %q", signals[0].Reasons[0])
		}
	})

	t.Run("neutral band yields nothing", func(t *testing.T) {
		// rsi u=0.5 → 50, inside [40, 60].
		eng, _ := setupRSI(t, &scriptRand{t: t, vals: []float64{0.5}})

		signals, err := eng.GenerateSignals(ctx, []model.MarketSnapshot{snap("NVDA", 50)})
		if err != nil {
			t.Fatal(err)
		}
		if len(signals) != 0 {
			t.Fatalf("expected no signals, got %d", len(signals))
		}
	})
}

func TestGenerateSignals_UnknownTechnicalYieldsNothing(t *testing.T) {
	rng := &scriptRand{t: t}
	eng, ms := newTestEngine(t, rng)
	setActive(t, ms, "ai-momentum", false)
	setActive(t, ms, "ml-trend", false)

	err := ms.AddStrategy(context.Background(), model.StrategyConfig{
		ID:         "bollinger",
		Name:       "Bollinger Bands",
		Kind:       model.KindTechnical,
		Parameters: model.GenericParams{},
		RiskLevel:  model.RiskMedium,
		Active:     true,
	})
	if err != nil {
		t.Fatal(err)
	}

	signals, err := eng.GenerateSignals(context.Background(), []model.MarketSnapshot{snap("AAPL", 100)})
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 0 {
		t.Fatalf("unimplemented technical strategy emitted %d signals", len(signals))
	}
}

func TestGenerateSignals_FundamentalYieldsNothing(t *testing.T) {
	rng := &scriptRand{t: t}
	eng, ms := newTestEngine(t, rng)
	setActive(t, ms, "ai-momentum", false)
	setActive(t, ms, "ml-trend", false)

	err := ms.AddStrategy(context.Background(), model.StrategyConfig{
		ID:         "value-screen",
		Name:       "Value Screen",
		Kind:       model.KindFundamental,
		Parameters: model.GenericParams{},
		RiskLevel:  model.RiskLow,
		Active:     true,
	})
	if err != nil {
		t.Fatal(err)
	}

	signals, err := eng.GenerateSignals(context.Background(), []model.MarketSnapshot{snap("AAPL", 100)})
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 0 {
		t.Fatalf("fundamental placeholder emitted %d signals", len(signals))
	}
}

// --- Fault isolation ---

// panicParams blows up when the evaluator reads the confidence gate.
type panicParams struct{}

func (panicParams) PositionFraction() float64 { return 0 }
func (panicParams) ConfidenceGate() float64   { panic("corrupt parameters") }
func (panicParams) Clone() model.Params       { return panicParams{} }

func TestGenerateSignals_FaultIsolation(t *testing.T) {
	ctx := context.Background()

	// boom faults during its single confidence draw; good still evaluates.
	rng := &scriptRand{t: t, vals: []float64{
		0.5,                // boom: confidence draw, then panic at the gate
		0.5, 0.7, 0.1, 0.4, // good: confidence, momentum, volatility, rationale
	}}
	eng, ms := newTestEngine(t, rng)
	setActive(t, ms, "ai-momentum", false)
	setActive(t, ms, "ml-trend", false)

	if err := ms.AddStrategy(ctx, model.StrategyConfig{
		ID: "boom", Name: "Boom", Kind: model.KindAI,
		Parameters: panicParams{}, RiskLevel: model.RiskHigh, Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := ms.AddStrategy(ctx, model.StrategyConfig{
		ID: "good", Name: "Good Strategy", Kind: model.KindAI,
		Parameters: model.GenericParams{}, RiskLevel: model.RiskLow, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	signals, err := eng.GenerateSignals(ctx, []model.MarketSnapshot{snap("AAPL", 100)})
	if err != nil {
		t.Fatalf("a strategy fault must not fail the batch: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal from the healthy strategy, got %d", len(signals))
	}
	if signals[0].Strategy != "Good Strategy" {
		t.Errorf("signal attributed to %s", signals[0].Strategy)
	}
}

// --- Execution and position refresh ---

func TestExecuteSignal_LongAndRefresh(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, &scriptRand{t: t})

	pos, err := eng.ExecuteSignal(ctx, model.TradingSignal{
		Symbol:    "AAPL",
		Action:    model.ActionBuy,
		Price:     d(100),
		Quantity:  10,
		Timestamp: time.Now().UTC(),
		Strategy:  "AI Momentum Scalper",
	})
	if err != nil {
		t.Fatal(err)
	}
	if pos.ID == "" {
		t.Error("expected non-empty position id")
	}
	if pos.Side != model.SideLong {
		t.Errorf("BUY must open long, got %s", pos.Side)
	}
	if !pos.EntryPrice.Equal(d(100)) || !pos.CurrentPrice.Equal(d(100)) {
		t.Errorf("entry/current price mismatch: %+v", pos)
	}
	if !pos.PnL.IsZero() || !pos.PnLPercent.IsZero() {
		t.Errorf("fresh position must have zero pnl: %+v", pos)
	}

	updated, err := eng.UpdatePositions(ctx, []model.MarketSnapshot{snap("AAPL", 110)})
	if err != nil {
		t.Fatal(err)
	}
	if len(updated) != 1 {
		t.Fatalf("expected 1 position, got %d", len(updated))
	}
	p := updated[0]
	if !p.CurrentPrice.Equal(d(110)) {
		t.Errorf("expected current price 110, got %s", p.CurrentPrice)
	}
	if !p.PnL.Equal(d(100)) {
		t.Errorf("expected pnl 100, got %s", p.PnL)
	}
	if !p.PnLPercent.Equal(d(10)) {
		t.Errorf("expected pnlPercent 10, got %s", p.PnLPercent)
	}
	if !p.EntryPrice.Equal(d(100)) {
		t.Errorf("entry price must never change, got %s", p.EntryPrice)
	}
}

func TestExecuteSignal_ShortProfitsOnDrop(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, &scriptRand{t: t})

	pos, err := eng.ExecuteSignal(ctx, model.TradingSignal{
		Symbol: "TSLA", Action: model.ActionSell, Price: d(100), Quantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if pos.Side != model.SideShort {
		t.Errorf("SELL must open short, got %s", pos.Side)
	}

	updated, err := eng.UpdatePositions(ctx, []model.MarketSnapshot{snap("TSLA", 90)})
	if err != nil {
		t.Fatal(err)
	}
	if !updated[0].PnL.Equal(d(100)) || !updated[0].PnLPercent.Equal(d(10)) {
		t.Errorf("short pnl wrong: pnl=%s pct=%s", updated[0].PnL, updated[0].PnLPercent)
	}
}

func TestExecuteSignal_HoldRejected(t *testing.T) {
	eng, ms := newTestEngine(t, &scriptRand{t: t})

	_, err := eng.ExecuteSignal(context.Background(), model.TradingSignal{
		Symbol: "AAPL", Action: model.ActionHold, Price: d(100), Quantity: 10,
	})
	if !errors.Is(err, engine.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}

	positions, _ := ms.ListPositions(context.Background())
	if len(positions) != 0 {
		t.Error("rejected execution opened a position")
	}
}

func TestUpdatePositions_NoSnapshotKeepsStalePrice(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, &scriptRand{t: t})

	if _, err := eng.ExecuteSignal(ctx, model.TradingSignal{
		Symbol: "AAPL", Action: model.ActionBuy, Price: d(100), Quantity: 10,
	}); err != nil {
		t.Fatal(err)
	}

	updated, err := eng.UpdatePositions(ctx, []model.MarketSnapshot{snap("MSFT", 400)})
	if err != nil {
		t.Fatal(err)
	}
	p := updated[0]
	if !p.CurrentPrice.Equal(d(100)) || !p.PnL.IsZero() {
		t.Errorf("position without snapshot must stay unchanged: %+v", p)
	}
}

func TestExecuteSignal_ExposureLimit(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, &scriptRand{t: t})
	eng.SetExposureLimiter(risk.NewExposureLimiter(d(1500), decimal.Zero))

	if _, err := eng.ExecuteSignal(ctx, model.TradingSignal{
		Symbol: "AAPL", Action: model.ActionBuy, Price: d(100), Quantity: 10,
	}); err != nil {
		t.Fatalf("1000 notional under a 1500 cap must pass: %v", err)
	}

	_, err := eng.ExecuteSignal(ctx, model.TradingSignal{
		Symbol: "AAPL", Action: model.ActionBuy, Price: d(100), Quantity: 10,
	})
	if !errors.Is(err, risk.ErrSymbolLimitExceeded) {
		t.Fatalf("expected ErrSymbolLimitExceeded, got %v", err)
	}

	positions, _ := eng.ActivePositions(ctx)
	if len(positions) != 1 {
		t.Errorf("rejected execution must not open a position, ledger has %d", len(positions))
	}
}

// --- Concurrency ---

func TestGenerateSignals_ConcurrentCapHolds(t *testing.T) {
	eng, _ := newTestEngine(t, rand.New(rand.NewPCG(1, 2)))

	snaps := []model.MarketSnapshot{
		snap("AAPL", 175.32), snap("TSLA", 248.67), snap("NVDA", 421.88),
		snap("MSFT", 378.45), snap("GOOGL", 142.56),
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := eng.GenerateSignals(context.Background(), snaps); err != nil {
					t.Errorf("generation failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	recent, err := eng.RecentSignals(context.Background(), 5000)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) > store.MaxSignalHistory {
		t.Fatalf("history cap violated under concurrency: %d", len(recent))
	}
	for _, sig := range recent {
		if sig.Action == model.ActionHold {
			t.Fatal("HOLD signal found in history")
		}
	}
}
