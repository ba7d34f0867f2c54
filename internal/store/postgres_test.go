package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/pnl-engine/internal/model"
)

// fakeRows feeds scanTrades without a database. The embedded pgx.Rows is nil
// and only satisfies the interface.
type fakeRows struct {
	pgx.Rows
	rows [][]interface{}
	i    int
	err  error
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	row := r.rows[r.i-1]
	for i, v := range row {
		switch p := dest[i].(type) {
		case *string:
			*p = v.(string)
		case *time.Time:
			*p = v.(time.Time)
		default:
			return errors.New("unexpected scan target")
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return r.err }

func (r *fakeRows) Close() {}

func TestScanTrades(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	rows := &fakeRows{rows: [][]interface{}{
		{"b1", ts, "BTC-USD", "BUY", "10", "100.5", "0.25", "USD"},
		{"s1", ts.Add(time.Hour), "BTC-USD", "SELL", "4", "150", "0", ""},
	}}

	trades, err := scanTrades(rows)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	b := trades[0]
	assert.Equal(t, "b1", b.ClientTradeID)
	assert.Equal(t, model.SideBuy, b.Side)
	assert.Equal(t, "100.5", b.Price.String())
	assert.Equal(t, "0.25", b.Fee.String())
	assert.Equal(t, time.UTC, b.Timestamp.Location())
	assert.True(t, b.Timestamp.Equal(ts))

	assert.Equal(t, model.SideSell, trades[1].Side)
	assert.Equal(t, "4", trades[1].Qty.String())
}

func TestScanTrades_PropagatesRowsError(t *testing.T) {
	boom := errors.New("conn reset")
	_, err := scanTrades(&fakeRows{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestScanTrades_BadNumeric(t *testing.T) {
	rows := &fakeRows{rows: [][]interface{}{
		{"b1", time.Now(), "BTC-USD", "BUY", "NaN", "1", "0", ""},
	}}
	_, err := scanTrades(rows)
	assert.ErrorContains(t, err, "b1 qty")
}

// fakeTx serves one portfolio row and its trades, and records writes.
type fakeTx struct {
	pgx.Tx
	portfolio *model.Portfolio // nil means no row
	trades    [][]interface{}

	queries   []string
	inserted  []string
	updates   int
	committed bool
}

type fakeRow struct {
	p *model.Portfolio
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.p == nil {
		return pgx.ErrNoRows
	}
	*dest[0].(*string) = r.p.ID
	*dest[1].(*string) = r.p.BaseCurrency
	*dest[2].(*time.Time) = r.p.UpdatedAt
	return nil
}

func (tx *fakeTx) QueryRow(_ context.Context, sql string, _ ...interface{}) pgx.Row {
	tx.queries = append(tx.queries, sql)
	return fakeRow{p: tx.portfolio}
}

func (tx *fakeTx) Query(_ context.Context, sql string, _ ...interface{}) (pgx.Rows, error) {
	tx.queries = append(tx.queries, sql)
	return &fakeRows{rows: tx.trades}, nil
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "INSERT INTO trades"):
		tx.inserted = append(tx.inserted, args[1].(string))
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "UPDATE portfolios"):
		tx.updates++
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected statement")
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.committed = true
	return nil
}

func storedPortfolio() *fakeTx {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeTx{
		portfolio: &model.Portfolio{ID: "p1", BaseCurrency: "USD", UpdatedAt: t0},
		trades: [][]interface{}{
			{"b1", t0, "BTC-USD", "BUY", "1", "100", "0", ""},
		},
	}
}

func TestMutateTx_InsertsOnlyNewTradesInLedgerOrder(t *testing.T) {
	tx := storedPortfolio()
	tie := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	p, err := mutateTx(context.Background(), tx, "p1",
		ingest(buyTrade("b1", tie), buyTrade("x2", tie), buyTrade("x1", tie)))
	require.NoError(t, err)

	assert.Equal(t, []string{"x2", "x1"}, tx.inserted)
	assert.Equal(t, 1, tx.updates)
	assert.True(t, tx.committed)
	assert.Len(t, p.Trades, 3)
	assert.Len(t, p.Lots, 3)

	require.Len(t, tx.queries, 2)
	assert.Contains(t, tx.queries[0], "FOR UPDATE")
	assert.Contains(t, tx.queries[1], "ORDER BY ts, seq")
}

func TestMutateTx_FuncErrorWritesNothing(t *testing.T) {
	tx := storedPortfolio()
	boom := errors.New("rejected")

	_, err := mutateTx(context.Background(), tx, "p1", func(p *model.Portfolio) error {
		p.Trades = append(p.Trades, buyTrade("x1", time.Now()))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, tx.inserted)
	assert.Zero(t, tx.updates)
	assert.False(t, tx.committed)
}

func TestMutateTx_NotFound(t *testing.T) {
	tx := &fakeTx{}

	_, err := mutateTx(context.Background(), tx, "ghost", ingest(buyTrade("b1", time.Now())))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, tx.committed)
}

func TestAddedTrades(t *testing.T) {
	now := time.Now()
	prev := []model.Trade{buyTrade("a", now)}
	next := []model.Trade{buyTrade("a", now), buyTrade("c", now), buyTrade("b", now)}

	added := addedTrades(prev, next)
	require.Len(t, added, 2)
	assert.Equal(t, "c", added[0].ClientTradeID)
	assert.Equal(t, "b", added[1].ClientTradeID)
	assert.Empty(t, addedTrades(next, next))
}
