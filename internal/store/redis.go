package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/trademaster/signal-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// strategy registry. Writes go to the primary store and invalidate the cache;
// reads check Redis first then fall back to the primary. Signal history and
// the position ledger are mutation-heavy and pass straight through.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func strategyKey(id string) string { return "strategy:" + id }

const (
	strategiesAllKey    = "strategies:all"
	strategiesActiveKey = "strategies:active"
)

// --- Strategy registry (read-through) ---

func (s *CachedStore) AddStrategy(ctx context.Context, cfg model.StrategyConfig) error {
	if err := s.primary.AddStrategy(ctx, cfg); err != nil {
		return err
	}
	s.invalidate(ctx, cfg.ID)
	return nil
}

func (s *CachedStore) GetStrategy(ctx context.Context, id string) (*model.StrategyConfig, error) {
	if data, err := s.rdb.Get(ctx, strategyKey(id)).Bytes(); err == nil {
		var cfg model.StrategyConfig
		if json.Unmarshal(data, &cfg) == nil {
			return &cfg, nil
		}
	}

	cfg, err := s.primary.GetStrategy(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(cfg); err == nil {
		s.rdb.Set(ctx, strategyKey(id), data, s.ttl)
	}
	return cfg, nil
}

func (s *CachedStore) UpdateStrategy(ctx context.Context, id string, patch model.StrategyPatch) error {
	if err := s.primary.UpdateStrategy(ctx, id, patch); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CachedStore) RemoveStrategy(ctx context.Context, id string) error {
	if err := s.primary.RemoveStrategy(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CachedStore) ListStrategies(ctx context.Context) ([]model.StrategyConfig, error) {
	return s.cachedList(ctx, strategiesAllKey, s.primary.ListStrategies)
}

func (s *CachedStore) ListActiveStrategies(ctx context.Context) ([]model.StrategyConfig, error) {
	return s.cachedList(ctx, strategiesActiveKey, s.primary.ListActiveStrategies)
}

func (s *CachedStore) cachedList(ctx context.Context, key string,
	load func(context.Context) ([]model.StrategyConfig, error)) ([]model.StrategyConfig, error) {

	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var cfgs []model.StrategyConfig
		if json.Unmarshal(data, &cfgs) == nil {
			return cfgs, nil
		}
	}

	cfgs, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(cfgs); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return cfgs, nil
}

func (s *CachedStore) invalidate(ctx context.Context, id string) {
	s.rdb.Del(ctx, strategyKey(id), strategiesAllKey, strategiesActiveKey)
}

// --- Signal history (pass-through) ---

func (s *CachedStore) AppendSignals(ctx context.Context, signals []model.TradingSignal) error {
	return s.primary.AppendSignals(ctx, signals)
}

func (s *CachedStore) RecentSignals(ctx context.Context, n int) ([]model.TradingSignal, error) {
	return s.primary.RecentSignals(ctx, n)
}

// --- Position ledger (pass-through) ---

func (s *CachedStore) InsertPosition(ctx context.Context, pos *model.TradingPosition) error {
	return s.primary.InsertPosition(ctx, pos)
}

func (s *CachedStore) UpdatePositionPrice(ctx context.Context, id string, current, pnl, pnlPercent decimal.Decimal) error {
	return s.primary.UpdatePositionPrice(ctx, id, current, pnl, pnlPercent)
}

func (s *CachedStore) ListPositions(ctx context.Context) ([]model.TradingPosition, error) {
	return s.primary.ListPositions(ctx)
}
