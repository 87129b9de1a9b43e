package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/trademaster/signal-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps guarded by a RWMutex.
// This is the default backing store; registry and ledger iteration order is
// insertion order, kept explicitly since Go maps do not preserve it.
type MemoryStore struct {
	mu sync.RWMutex

	strategies    map[string]*model.StrategyConfig
	strategyOrder []string

	signals []model.TradingSignal

	positions     map[string]*model.TradingPosition
	positionOrder []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strategies: make(map[string]*model.StrategyConfig),
		positions:  make(map[string]*model.TradingPosition),
	}
}

// --- Strategy registry ---

func (s *MemoryStore) AddStrategy(_ context.Context, cfg model.StrategyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.strategies[cfg.ID]; ok {
		return ErrStrategyExists
	}

	c := copyStrategy(cfg)
	s.strategies[cfg.ID] = &c
	s.strategyOrder = append(s.strategyOrder, cfg.ID)
	return nil
}

func (s *MemoryStore) GetStrategy(_ context.Context, id string) (*model.StrategyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.strategies[id]
	if !ok {
		return nil, ErrStrategyNotFound
	}
	c := copyStrategy(*cfg)
	return &c, nil
}

func (s *MemoryStore) UpdateStrategy(_ context.Context, id string, patch model.StrategyPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.strategies[id]
	if !ok {
		return ErrStrategyNotFound
	}

	if patch.Name != nil {
		cfg.Name = *patch.Name
	}
	if patch.Kind != nil {
		cfg.Kind = *patch.Kind
	}
	if patch.Parameters != nil {
		cfg.Parameters = patch.Parameters.Clone()
	}
	if patch.RiskLevel != nil {
		cfg.RiskLevel = *patch.RiskLevel
	}
	if patch.Active != nil {
		cfg.Active = *patch.Active
	}
	return nil
}

func (s *MemoryStore) RemoveStrategy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.strategies[id]; !ok {
		return ErrStrategyNotFound
	}
	delete(s.strategies, id)
	for i, sid := range s.strategyOrder {
		if sid == id {
			s.strategyOrder = append(s.strategyOrder[:i], s.strategyOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListStrategies(_ context.Context) ([]model.StrategyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.StrategyConfig, 0, len(s.strategyOrder))
	for _, id := range s.strategyOrder {
		out = append(out, copyStrategy(*s.strategies[id]))
	}
	return out, nil
}

func (s *MemoryStore) ListActiveStrategies(_ context.Context) ([]model.StrategyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.StrategyConfig
	for _, id := range s.strategyOrder {
		if cfg := s.strategies[id]; cfg.Active {
			out = append(out, copyStrategy(*cfg))
		}
	}
	return out, nil
}

// --- Signal history ---

func (s *MemoryStore) AppendSignals(_ context.Context, signals []model.TradingSignal) error {
	if len(signals) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.signals = append(s.signals, signals...)
	if excess := len(s.signals) - MaxSignalHistory; excess > 0 {
		s.signals = append(s.signals[:0:0], s.signals[excess:]...)
	}
	return nil
}

func (s *MemoryStore) RecentSignals(_ context.Context, n int) ([]model.TradingSignal, error) {
	if n <= 0 {
		n = DefaultRecentSignals
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.signals) - n
	if start < 0 {
		start = 0
	}
	out := make([]model.TradingSignal, len(s.signals)-start)
	copy(out, s.signals[start:])
	return out, nil
}

// --- Position ledger ---

func (s *MemoryStore) InsertPosition(_ context.Context, pos *model.TradingPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *pos
	s.positions[p.ID] = &p
	s.positionOrder = append(s.positionOrder, p.ID)
	return nil
}

func (s *MemoryStore) UpdatePositionPrice(_ context.Context, id string, current, pnl, pnlPercent decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	p.CurrentPrice = current
	p.PnL = pnl
	p.PnLPercent = pnlPercent
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]model.TradingPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TradingPosition, 0, len(s.positionOrder))
	for _, id := range s.positionOrder {
		out = append(out, *s.positions[id])
	}
	return out, nil
}

// copyStrategy returns a config whose parameters do not alias the stored ones.
func copyStrategy(cfg model.StrategyConfig) model.StrategyConfig {
	if cfg.Parameters != nil {
		cfg.Parameters = cfg.Parameters.Clone()
	}
	return cfg
}
