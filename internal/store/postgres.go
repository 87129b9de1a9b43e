package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/trademaster/signal-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC for exact decimal precision; strategy
// parameters are stored as JSONB and decoded back through model.ParseParams.
//
// Expected schema:
//
//	CREATE TABLE strategies (
//	    seq        BIGSERIAL,
//	    id         TEXT PRIMARY KEY,
//	    name       TEXT NOT NULL,
//	    kind       TEXT NOT NULL,
//	    parameters JSONB,
//	    risk_level TEXT NOT NULL,
//	    active     BOOLEAN NOT NULL
//	);
//	CREATE TABLE signals (
//	    seq        BIGSERIAL PRIMARY KEY,
//	    symbol     TEXT NOT NULL,
//	    action     TEXT NOT NULL,
//	    confidence DOUBLE PRECISION NOT NULL,
//	    price      NUMERIC NOT NULL,
//	    quantity   BIGINT NOT NULL,
//	    ts         TIMESTAMPTZ NOT NULL,
//	    strategy   TEXT NOT NULL,
//	    reasons    JSONB NOT NULL
//	);
//	CREATE TABLE positions (
//	    seq           BIGSERIAL,
//	    id            TEXT PRIMARY KEY,
//	    symbol        TEXT NOT NULL,
//	    side          TEXT NOT NULL,
//	    quantity      BIGINT NOT NULL,
//	    entry_price   NUMERIC NOT NULL,
//	    current_price NUMERIC NOT NULL,
//	    pnl           NUMERIC NOT NULL,
//	    pnl_percent   NUMERIC NOT NULL,
//	    open_time     TIMESTAMPTZ NOT NULL,
//	    strategy      TEXT NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Strategy registry ---

func (s *PostgresStore) AddStrategy(ctx context.Context, cfg model.StrategyConfig) error {
	params, err := json.Marshal(cfg.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters for %s: %w", cfg.ID, err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO strategies (id, name, kind, parameters, risk_level, active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		cfg.ID, cfg.Name, string(cfg.Kind), params, string(cfg.RiskLevel), cfg.Active,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStrategyExists
	}
	return nil
}

func (s *PostgresStore) GetStrategy(ctx context.Context, id string) (*model.StrategyConfig, error) {
	return scanStrategy(s.pool.QueryRow(ctx,
		`SELECT id, name, kind, parameters, risk_level, active
		 FROM strategies WHERE id = $1`, id))
}

func (s *PostgresStore) UpdateStrategy(ctx context.Context, id string, patch model.StrategyPatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cfg, err := scanStrategy(tx.QueryRow(ctx,
		`SELECT id, name, kind, parameters, risk_level, active
		 FROM strategies WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}

	if patch.Name != nil {
		cfg.Name = *patch.Name
	}
	if patch.Kind != nil {
		cfg.Kind = *patch.Kind
	}
	if patch.Parameters != nil {
		cfg.Parameters = patch.Parameters
	}
	if patch.RiskLevel != nil {
		cfg.RiskLevel = *patch.RiskLevel
	}
	if patch.Active != nil {
		cfg.Active = *patch.Active
	}

	params, err := json.Marshal(cfg.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters for %s: %w", id, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE strategies SET name = $2, kind = $3, parameters = $4, risk_level = $5, active = $6
		 WHERE id = $1`,
		id, cfg.Name, string(cfg.Kind), params, string(cfg.RiskLevel), cfg.Active,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) RemoveStrategy(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM strategies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStrategyNotFound
	}
	return nil
}

func (s *PostgresStore) ListStrategies(ctx context.Context) ([]model.StrategyConfig, error) {
	return s.listStrategies(ctx,
		`SELECT id, name, kind, parameters, risk_level, active
		 FROM strategies ORDER BY seq`)
}

func (s *PostgresStore) ListActiveStrategies(ctx context.Context) ([]model.StrategyConfig, error) {
	return s.listStrategies(ctx,
		`SELECT id, name, kind, parameters, risk_level, active
		 FROM strategies WHERE active ORDER BY seq`)
}

func (s *PostgresStore) listStrategies(ctx context.Context, query string) ([]model.StrategyConfig, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StrategyConfig
	for rows.Next() {
		cfg, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func scanStrategy(row pgx.Row) (*model.StrategyConfig, error) {
	var (
		cfg             model.StrategyConfig
		kind, riskLevel string
		params          []byte
	)
	err := row.Scan(&cfg.ID, &cfg.Name, &kind, &params, &riskLevel, &cfg.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStrategyNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg.Kind = model.StrategyKind(kind)
	cfg.RiskLevel = model.RiskLevel(riskLevel)
	cfg.Parameters, err = model.ParseParams(cfg.ID, params)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// --- Signal history ---

func (s *PostgresStore) AppendSignals(ctx context.Context, signals []model.TradingSignal) error {
	if len(signals) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sig := range signals {
		reasons, err := json.Marshal(sig.Reasons)
		if err != nil {
			return fmt.Errorf("marshal reasons: %w", err)
		}
		batch.Queue(
			`INSERT INTO signals (symbol, action, confidence, price, quantity, ts, strategy, reasons)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
			sig.Symbol, string(sig.Action), sig.Confidence, sig.Price.String(),
			sig.Quantity, sig.Timestamp, sig.Strategy, reasons,
		)
	}
	// Evict oldest entries beyond the history cap.
	batch.Queue(
		`DELETE FROM signals WHERE seq <= (
		     SELECT seq FROM signals ORDER BY seq DESC OFFSET $1 LIMIT 1
		 )`, MaxSignalHistory)

	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) RecentSignals(ctx context.Context, n int) ([]model.TradingSignal, error) {
	if n <= 0 {
		n = DefaultRecentSignals
	}

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, action, confidence, price::TEXT, quantity, ts, strategy, reasons
		 FROM signals ORDER BY seq DESC LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradingSignal
	for rows.Next() {
		var (
			sig           model.TradingSignal
			action, price string
			reasons       []byte
		)
		if err := rows.Scan(&sig.Symbol, &action, &sig.Confidence, &price,
			&sig.Quantity, &sig.Timestamp, &sig.Strategy, &reasons); err != nil {
			return nil, err
		}
		sig.Action = model.Action(action)
		if sig.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(reasons, &sig.Reasons); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; callers expect insertion order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// --- Position ledger ---

func (s *PostgresStore) InsertPosition(ctx context.Context, pos *model.TradingPosition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, symbol, side, quantity, entry_price, current_price, pnl, pnl_percent, open_time, strategy)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		pos.ID, pos.Symbol, string(pos.Side), pos.Quantity,
		pos.EntryPrice.String(), pos.CurrentPrice.String(),
		pos.PnL.String(), pos.PnLPercent.String(),
		pos.OpenTime, pos.Strategy,
	)
	return err
}

func (s *PostgresStore) UpdatePositionPrice(ctx context.Context, id string, current, pnl, pnlPercent decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET current_price = $2::NUMERIC, pnl = $3::NUMERIC, pnl_percent = $4::NUMERIC
		 WHERE id = $1`,
		id, current.String(), pnl.String(), pnlPercent.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPositionNotFound
	}
	return nil
}

func (s *PostgresStore) ListPositions(ctx context.Context) ([]model.TradingPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, side, quantity,
		        entry_price::TEXT, current_price::TEXT, pnl::TEXT, pnl_percent::TEXT,
		        open_time, strategy
		 FROM positions ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradingPosition
	for rows.Next() {
		var (
			pos                            model.TradingPosition
			side, entry, current, pnl, pct string
		)
		if err := rows.Scan(&pos.ID, &pos.Symbol, &side, &pos.Quantity,
			&entry, &current, &pnl, &pct, &pos.OpenTime, &pos.Strategy); err != nil {
			return nil, err
		}
		pos.Side = model.Side(side)
		if pos.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, err
		}
		if pos.CurrentPrice, err = decimal.NewFromString(current); err != nil {
			return nil, err
		}
		if pos.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, err
		}
		if pos.PnLPercent, err = decimal.NewFromString(pct); err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}
