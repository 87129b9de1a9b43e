// Package store holds the strategy registry, signal history, and position
// ledger behind one interface. The in-memory implementation is the default;
// PostgreSQL and a Redis read-through cache are available for deployments
// that want state to survive restarts.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/trademaster/signal-engine/internal/model"
)

// MaxSignalHistory caps the signal history. Oldest entries are evicted first.
const MaxSignalHistory = 1000

// DefaultRecentSignals is the limit applied when RecentSignals is called
// with n <= 0.
const DefaultRecentSignals = 10

var (
	// ErrStrategyExists is returned by AddStrategy on a duplicate id.
	// The registry is left unchanged.
	ErrStrategyExists = errors.New("store: strategy already exists")

	// ErrStrategyNotFound is returned when a strategy id is not registered.
	ErrStrategyNotFound = errors.New("store: strategy not found")

	// ErrPositionNotFound is returned when a position id is not in the ledger.
	ErrPositionNotFound = errors.New("store: position not found")
)

// Store is the persistence interface for the engine's three state holders.
type Store interface {
	// --- Strategy registry ---

	// AddStrategy inserts a strategy unchanged. Fails with ErrStrategyExists
	// on a duplicate id without mutating state.
	AddStrategy(ctx context.Context, cfg model.StrategyConfig) error

	// GetStrategy retrieves a strategy by id.
	GetStrategy(ctx context.Context, id string) (*model.StrategyConfig, error)

	// UpdateStrategy merges only the patch's supplied fields into an existing
	// strategy. Field values are not validated here.
	UpdateStrategy(ctx context.Context, id string, patch model.StrategyPatch) error

	// RemoveStrategy deletes a strategy by id.
	RemoveStrategy(ctx context.Context, id string) error

	// ListStrategies returns every strategy in insertion order.
	ListStrategies(ctx context.Context) ([]model.StrategyConfig, error)

	// ListActiveStrategies returns strategies with Active == true, in
	// insertion order. This is the generator's iteration set.
	ListActiveStrategies(ctx context.Context) ([]model.StrategyConfig, error)

	// --- Signal history ---

	// AppendSignals appends generated signals in order, enforcing
	// MaxSignalHistory with FIFO eviction.
	AppendSignals(ctx context.Context, signals []model.TradingSignal) error

	// RecentSignals returns the last n signals in insertion order.
	// n <= 0 means DefaultRecentSignals; fewer than n returns all.
	RecentSignals(ctx context.Context, n int) ([]model.TradingSignal, error)

	// --- Position ledger ---

	// InsertPosition records a freshly opened position.
	InsertPosition(ctx context.Context, pos *model.TradingPosition) error

	// UpdatePositionPrice stores the recomputed mark for one position.
	UpdatePositionPrice(ctx context.Context, id string, current, pnl, pnlPercent decimal.Decimal) error

	// ListPositions returns every open position in insertion order.
	ListPositions(ctx context.Context) ([]model.TradingPosition, error)
}
