// Package trading provides the HTTP handlers for signal generation, manual
// signal execution, strategy management, and position queries.
package trading

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/trademaster/signal-engine/internal/engine"
	"github.com/trademaster/signal-engine/internal/model"
	"github.com/trademaster/signal-engine/internal/risk"
	"github.com/trademaster/signal-engine/internal/store"
)

// Service handles the engine's HTTP surface. The engine instance is injected
// at startup; there is no package-level shared state.
type Service struct {
	engine *engine.Engine
	store  store.Store
	hub    *WSHub // optional, nil disables broadcasts
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(eng *engine.Engine, st store.Store, hub *WSHub) *Service {
	return &Service{engine: eng, store: st, hub: hub}
}

// envelope is the JSON response wrapper shared by every endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Meta    *meta  `json:"meta,omitempty"`
}

type meta struct {
	Total     int   `json:"total"`
	Generated int   `json:"generated"`
	Timestamp int64 `json:"timestamp"`
}

// demoSnapshots is the static quote batch used in place of a live market
// feed. Snapshots are ephemeral: the engine never stores them.
func demoSnapshots() []model.MarketSnapshot {
	now := time.Now().UTC()
	return []model.MarketSnapshot{
		{Symbol: "AAPL", Price: decimal.NewFromFloat(175.32), Volume: 45230000, Timestamp: now},
		{Symbol: "TSLA", Price: decimal.NewFromFloat(248.67), Volume: 23450000, Timestamp: now},
		{Symbol: "NVDA", Price: decimal.NewFromFloat(421.88), Volume: 34560000, Timestamp: now},
		{Symbol: "MSFT", Price: decimal.NewFromFloat(378.45), Volume: 28740000, Timestamp: now},
		{Symbol: "GOOGL", Price: decimal.NewFromFloat(142.56), Volume: 19870000, Timestamp: now},
	}
}

// --- Signals ---

// GetSignals handles GET /api/v1/signals?limit=N&strategy=S
// Generates fresh signals from the current snapshot batch, then returns the
// recent history. The strategy filter is a case-insensitive substring match
// on the strategy display name.
func (s *Service) GetSignals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	generated, err := s.engine.GenerateSignals(ctx, demoSnapshots())
	if err != nil {
		slog.Error("signal generation failed", "err", err)
		writeError(w, "Failed to generate signals", http.StatusInternalServerError)
		return
	}
	s.broadcastSignals(generated)

	recent, err := s.engine.RecentSignals(ctx, limit)
	if err != nil {
		slog.Error("signal history query failed", "err", err)
		writeError(w, "Failed to generate signals", http.StatusInternalServerError)
		return
	}

	if q := strings.ToLower(r.URL.Query().Get("strategy")); q != "" {
		match := func(sig model.TradingSignal, _ int) bool {
			return strings.Contains(strings.ToLower(sig.Strategy), q)
		}
		generated = lo.Filter(generated, match)
		recent = lo.Filter(recent, match)
	}
	if recent == nil {
		recent = []model.TradingSignal{}
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    recent,
		Meta: &meta{
			Total:     len(recent),
			Generated: len(generated),
			Timestamp: time.Now().UnixMilli(),
		},
	})
}

// executeSignalRequest is the JSON body for POST /api/v1/signals.
// Pointer fields distinguish "absent" from zero so defaults apply cleanly.
type executeSignalRequest struct {
	Symbol     string          `json:"symbol"`
	Action     model.Action    `json:"action"`
	Confidence *float64        `json:"confidence"`
	Price      decimal.Decimal `json:"price"`
	Quantity   *int64          `json:"quantity"`
	Strategy   string          `json:"strategy"`
	Reasons    []string        `json:"reasons"`
}

// executionRecord is returned from a successful manual execution.
type executionRecord struct {
	SignalID   string                 `json:"signalId"`
	ExecutedAt int64                  `json:"executedAt"`
	Status     string                 `json:"status"`
	Signal     model.TradingSignal    `json:"signal"`
	Position   *model.TradingPosition `json:"position"`
}

// ExecuteSignal handles POST /api/v1/signals — manual signal execution.
func (s *Service) ExecuteSignal(w http.ResponseWriter, r *http.Request) {
	var req executeSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Symbol == "" || req.Action == "" || !req.Price.IsPositive() {
		writeError(w, "Missing required signal parameters", http.StatusBadRequest)
		return
	}
	if req.Action != model.ActionBuy && req.Action != model.ActionSell {
		writeError(w, "Invalid action. Must be BUY or SELL", http.StatusBadRequest)
		return
	}

	sig := model.TradingSignal{
		Symbol:     req.Symbol,
		Action:     req.Action,
		Confidence: 80,
		Price:      req.Price,
		Quantity:   100,
		Timestamp:  time.Now().UTC(),
		Strategy:   "Manual",
		Reasons:    []string{"Manual execution"},
	}
	if req.Confidence != nil {
		sig.Confidence = *req.Confidence
	}
	if req.Quantity != nil {
		sig.Quantity = *req.Quantity
	}
	if req.Strategy != "" {
		sig.Strategy = req.Strategy
	}
	if len(req.Reasons) > 0 {
		sig.Reasons = req.Reasons
	}

	pos, err := s.engine.ExecuteSignal(r.Context(), sig)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidAction) {
			writeError(w, "Invalid action. Must be BUY or SELL", http.StatusBadRequest)
			return
		}
		if errors.Is(err, risk.ErrSymbolLimitExceeded) || errors.Is(err, risk.ErrTotalLimitExceeded) {
			writeError(w, "Exposure limit exceeded", http.StatusUnprocessableEntity)
			return
		}
		slog.Error("signal execution failed", "symbol", sig.Symbol, "err", err)
		writeError(w, "Failed to execute signal", http.StatusInternalServerError)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:       "signal_executed",
			Symbol:     pos.Symbol,
			Side:       string(pos.Side),
			Strategy:   pos.Strategy,
			Price:      pos.EntryPrice.String(),
			Quantity:   pos.Quantity,
			PositionID: pos.ID,
		})
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: executionRecord{
			SignalID:   fmt.Sprintf("signal_%d", time.Now().UnixMilli()),
			ExecutedAt: time.Now().UnixMilli(),
			Status:     "executed",
			Signal:     sig,
			Position:   pos,
		},
		Message: "Signal executed successfully",
	})
}

// UpdateSignal handles PUT /api/v1/signals. This is an acknowledged stub:
// the status update is echoed back and not applied to engine state.
func (s *Service) UpdateSignal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          any     `json:"id"`
		Status      string  `json:"status"`
		Performance float64 `json:"performance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		req.Status = "updated"
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: map[string]any{
			"id":          req.ID,
			"status":      req.Status,
			"performance": req.Performance,
			"updatedAt":   time.Now().UnixMilli(),
		},
		Message: "Signal updated successfully",
	})
}

// --- Strategies ---

// ListStrategies handles GET /api/v1/strategies
func (s *Service) ListStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.store.ListStrategies(r.Context())
	if err != nil {
		slog.Error("strategy list failed", "err", err)
		writeError(w, "Failed to fetch strategies", http.StatusInternalServerError)
		return
	}
	if strategies == nil {
		strategies = []model.StrategyConfig{}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: strategies})
}

// createStrategyRequest is the JSON body for POST /api/v1/strategies.
type createStrategyRequest struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Kind       model.StrategyKind `json:"kind"`
	Parameters json.RawMessage    `json:"parameters"`
	RiskLevel  model.RiskLevel    `json:"riskLevel"`
}

// CreateStrategy handles POST /api/v1/strategies. New strategies start
// inactive regardless of the payload; activation is a separate update.
func (s *Service) CreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req createStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg := model.StrategyConfig{
		ID:        req.ID,
		Name:      req.Name,
		Kind:      req.Kind,
		RiskLevel: req.RiskLevel,
		Active:    false,
	}
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("custom_%d", time.Now().UnixMilli())
	}
	if cfg.Name == "" {
		cfg.Name = "Custom Strategy"
	}
	if cfg.Kind == "" {
		cfg.Kind = model.KindTechnical
	}
	if cfg.RiskLevel == "" {
		cfg.RiskLevel = model.RiskMedium
	}

	params, err := model.ParseParams(cfg.ID, req.Parameters)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if params == nil {
		params = model.GenericParams{}
	}
	cfg.Parameters = params

	if err := s.store.AddStrategy(r.Context(), cfg); err != nil {
		if errors.Is(err, store.ErrStrategyExists) {
			writeError(w, "Strategy already exists", http.StatusBadRequest)
			return
		}
		slog.Error("strategy create failed", "strategy", cfg.ID, "err", err)
		writeError(w, "Failed to create strategy", http.StatusInternalServerError)
		return
	}

	slog.Info("strategy created", "strategy", cfg.ID, "kind", cfg.Kind)
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    cfg,
		Message: "Strategy created successfully",
	})
}

// updateStrategyRequest is the JSON body for PUT /api/v1/strategies.
type updateStrategyRequest struct {
	ID         string              `json:"id"`
	Name       *string             `json:"name"`
	Kind       *model.StrategyKind `json:"kind"`
	Parameters json.RawMessage     `json:"parameters"`
	RiskLevel  *model.RiskLevel    `json:"riskLevel"`
	Active     *bool               `json:"active"`
}

// UpdateStrategy handles PUT /api/v1/strategies — partial merge by id.
func (s *Service) UpdateStrategy(w http.ResponseWriter, r *http.Request) {
	var req updateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		writeError(w, "Strategy ID is required", http.StatusBadRequest)
		return
	}

	patch := model.StrategyPatch{
		Name:      req.Name,
		Kind:      req.Kind,
		RiskLevel: req.RiskLevel,
		Active:    req.Active,
	}
	if len(req.Parameters) > 0 {
		params, err := model.ParseParams(req.ID, req.Parameters)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		patch.Parameters = params
	}

	if err := s.store.UpdateStrategy(r.Context(), req.ID, patch); err != nil {
		if errors.Is(err, store.ErrStrategyNotFound) {
			writeError(w, "Strategy not found", http.StatusNotFound)
			return
		}
		slog.Error("strategy update failed", "strategy", req.ID, "err", err)
		writeError(w, "Failed to update strategy", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Strategy updated successfully",
	})
}

// DeleteStrategy handles DELETE /api/v1/strategies?id=
func (s *Service) DeleteStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, "Strategy ID is required", http.StatusBadRequest)
		return
	}

	if err := s.store.RemoveStrategy(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrStrategyNotFound) {
			writeError(w, "Strategy not found", http.StatusNotFound)
			return
		}
		slog.Error("strategy delete failed", "strategy", id, "err", err)
		writeError(w, "Failed to delete strategy", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Strategy deleted successfully",
	})
}

// --- Positions ---

// GetPositions handles GET /api/v1/positions
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.ActivePositions(r.Context())
	if err != nil {
		slog.Error("position list failed", "err", err)
		writeError(w, "Failed to fetch positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.TradingPosition{}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: positions})
}

// RefreshPositions handles POST /api/v1/positions/refresh. The body is a
// snapshot batch; every open position matching a snapshot symbol gets its
// mark recomputed.
func (s *Service) RefreshPositions(w http.ResponseWriter, r *http.Request) {
	var snapshots []model.MarketSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshots); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	positions, err := s.engine.UpdatePositions(r.Context(), snapshots)
	if err != nil {
		slog.Error("position refresh failed", "err", err)
		writeError(w, "Failed to refresh positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.TradingPosition{}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: positions})
}

func (s *Service) broadcastSignals(signals []model.TradingSignal) {
	if s.hub == nil {
		return
	}
	for _, sig := range signals {
		s.hub.Broadcast(WSMessage{
			Type:       "signal_generated",
			Symbol:     sig.Symbol,
			Action:     string(sig.Action),
			Strategy:   sig.Strategy,
			Confidence: sig.Confidence,
			Price:      sig.Price.String(),
			Quantity:   sig.Quantity,
		})
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error envelope.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}
