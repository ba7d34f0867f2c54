// Package store defines the portfolio repository for the PnL engine.
// Implementations include PostgreSQL (durable ledger), Redis (read-through
// cache), and in-memory (default, and for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/pnl-engine/internal/model"
)

// ErrNotFound is returned for operations on an unregistered portfolio.
var ErrNotFound = errors.New("store: portfolio not found")

// MutateFunc edits a private copy of a portfolio. Returning an error
// discards every change it made.
type MutateFunc func(p *model.Portfolio) error

// Store is the repository interface, keyed by portfolio id.
//
// Reads return a snapshot taken either before or after any concurrent
// mutation, never one in between. Mutations of the same portfolio are
// serialized; different portfolios do not block each other.
type Store interface {
	// UpsertPortfolio registers a portfolio or updates its base currency.
	UpsertPortfolio(ctx context.Context, id, baseCurrency string) (*model.Portfolio, error)

	// GetPortfolio returns a snapshot of the portfolio.
	GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error)

	// MutatePortfolio applies fn atomically and returns the new snapshot.
	MutatePortfolio(ctx context.Context, id string, fn MutateFunc) (*model.Portfolio, error)

	// ListPortfolios returns the registered portfolio ids, sorted.
	ListPortfolios(ctx context.Context) ([]string, error)
}
