package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/costbasis"
	"github.com/atmx/pnl-engine/internal/model"
)

// Schema creates the portfolio and trade tables. seq keeps ingestion order
// for trades sharing a timestamp.
const Schema = `
CREATE TABLE IF NOT EXISTS portfolios (
	id            TEXT PRIMARY KEY,
	base_currency TEXT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	seq             BIGSERIAL PRIMARY KEY,
	portfolio_id    TEXT NOT NULL REFERENCES portfolios (id),
	client_trade_id TEXT NOT NULL,
	ts              TIMESTAMPTZ NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	qty             NUMERIC NOT NULL,
	price           NUMERIC NOT NULL,
	fee             NUMERIC NOT NULL DEFAULT 0,
	fee_currency    TEXT NOT NULL DEFAULT '',
	UNIQUE (portfolio_id, client_trade_id)
);

CREATE INDEX IF NOT EXISTS trades_portfolio_ts ON trades (portfolio_id, ts, seq);
`

// PostgresStore implements Store using PostgreSQL as the source of truth
// for the trade ledger. Open lots are never stored; they are rebuilt from
// the trades on every load. Monetary values are NUMERIC.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertPortfolio(ctx context.Context, id, baseCurrency string) (*model.Portfolio, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolios (id, base_currency, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE
		 SET base_currency = EXCLUDED.base_currency, updated_at = EXCLUDED.updated_at`,
		id, baseCurrency, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert portfolio %s: %w", id, err)
	}
	return s.GetPortfolio(ctx, id)
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	return loadPortfolio(ctx, tx, id, false)
}

func (s *PostgresStore) MutatePortfolio(ctx context.Context, id string, fn MutateFunc) (*model.Portfolio, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	return mutateTx(ctx, tx, id, fn)
}

// mutateTx locks the portfolio row, applies fn to a copy of the ledger and
// commits. Nothing is written when fn fails.
func mutateTx(ctx context.Context, tx pgx.Tx, id string, fn MutateFunc) (*model.Portfolio, error) {
	current, err := loadPortfolio(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()

	for _, t := range addedTrades(current.Trades, next.Trades) {
		if err := insertTrade(ctx, tx, id, t); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE portfolios SET base_currency = $2, updated_at = $3 WHERE id = $1`,
		id, next.BaseCurrency, next.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update portfolio %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit portfolio %s: %w", id, err)
	}
	return next, nil
}

// addedTrades returns the trades of next whose ids are not in prev, in
// ledger order. The ledger is append-only, so these are the only rows to
// insert; inserting in ledger order lets seq keep ties in ingestion order.
func addedTrades(prev, next []model.Trade) []model.Trade {
	known := make(map[string]bool, len(prev))
	for _, t := range prev {
		known[t.ClientTradeID] = true
	}
	var added []model.Trade
	for _, t := range next {
		if !known[t.ClientTradeID] {
			added = append(added, t)
		}
	}
	return added
}

func (s *PostgresStore) ListPortfolios(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM portfolios ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// loadPortfolio reads a portfolio and its ledger inside tx and rebuilds the
// open lots. forUpdate locks the portfolio row until tx ends.
func loadPortfolio(ctx context.Context, tx pgx.Tx, id string, forUpdate bool) (*model.Portfolio, error) {
	query := `SELECT id, base_currency, updated_at FROM portfolios WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var p model.Portfolio
	err := tx.QueryRow(ctx, query, id).Scan(&p.ID, &p.BaseCurrency, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s: %w", id, err)
	}

	rows, err := tx.Query(ctx,
		`SELECT client_trade_id, ts, symbol, side,
		        qty::TEXT, price::TEXT, fee::TEXT, fee_currency
		 FROM trades WHERE portfolio_id = $1 ORDER BY ts, seq`, id)
	if err != nil {
		return nil, fmt.Errorf("get trades %s: %w", id, err)
	}
	defer rows.Close()

	p.Trades, err = scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("scan trades %s: %w", id, err)
	}
	p.Lots = costbasis.BuildLots(p.Trades)
	return &p, nil
}

func insertTrade(ctx context.Context, tx pgx.Tx, portfolioID string, t model.Trade) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO trades (portfolio_id, client_trade_id, ts, symbol, side, qty, price, fee, fee_currency)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		portfolioID, t.ClientTradeID, t.Timestamp, t.Symbol, string(t.Side),
		t.Qty.String(), t.Price.String(), t.Fee.String(), t.FeeCurrency,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ClientTradeID, err)
	}
	return nil
}

// pgxRows is the subset of pgx.Rows scanTrades needs.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	trades := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var side, qtyS, priceS, feeS string

		if err := rows.Scan(&t.ClientTradeID, &t.Timestamp, &t.Symbol, &side,
			&qtyS, &priceS, &feeS, &t.FeeCurrency); err != nil {
			return nil, err
		}

		t.Side = model.Side(side)
		t.Timestamp = t.Timestamp.UTC()
		var err error
		if t.Qty, err = decimal.NewFromString(qtyS); err != nil {
			return nil, fmt.Errorf("trade %s qty: %w", t.ClientTradeID, err)
		}
		if t.Price, err = decimal.NewFromString(priceS); err != nil {
			return nil, fmt.Errorf("trade %s price: %w", t.ClientTradeID, err)
		}
		if t.Fee, err = decimal.NewFromString(feeS); err != nil {
			return nil, fmt.Errorf("trade %s fee: %w", t.ClientTradeID, err)
		}

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
