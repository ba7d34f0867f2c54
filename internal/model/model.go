// Package model defines the core domain types shared across the PnL engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is an immutable, externally supplied execution record.
// ClientTradeID is the identity; ingestion is idempotent on it.
type Trade struct {
	ClientTradeID string          `json:"client_trade_id" db:"client_trade_id"`
	Timestamp     time.Time       `json:"timestamp" db:"ts"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Side          Side            `json:"side" db:"side"`
	Qty           decimal.Decimal `json:"qty" db:"qty"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Fee           decimal.Decimal `json:"fee" db:"fee"`
	FeeCurrency   string          `json:"fee_currency,omitempty" db:"fee_currency"`
}

// Lot is the open remainder of a BUY trade.
type Lot struct {
	LotID      string          `json:"lot_id"` // originating trade id
	Symbol     string          `json:"symbol"`
	QtyOpen    decimal.Decimal `json:"qty_open"`
	UnitCost   decimal.Decimal `json:"unit_cost"` // price + fee/qty
	AcquiredAt time.Time       `json:"acquired_at"`
}

// Portfolio is a trade ledger plus the open lots derived from it.
// Trades are kept sorted by timestamp, ties in ingestion order.
type Portfolio struct {
	ID           string    `json:"portfolio_id" db:"id"`
	BaseCurrency string    `json:"base_currency" db:"base_currency"`
	Trades       []Trade   `json:"trades"`
	Lots         []Lot     `json:"lots"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy that shares no slices with p.
func (p *Portfolio) Clone() *Portfolio {
	c := *p
	c.Trades = append([]Trade(nil), p.Trades...)
	c.Lots = append([]Lot(nil), p.Lots...)
	return &c
}

// LotClosure records the part of one lot consumed by one sell.
type LotClosure struct {
	LotID       string          `json:"lot_id"`
	Qty         decimal.Decimal `json:"qty"`
	AcquiredAt  time.Time       `json:"acquired_at"`
	SoldAt      time.Time       `json:"sold_at"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	SellPrice   decimal.Decimal `json:"sell_price"`
	Proceeds    decimal.Decimal `json:"proceeds"`
	Cost        decimal.Decimal `json:"cost"`
	PnL         decimal.Decimal `json:"pnl"`
	HoldingDays int64           `json:"holding_days"`
	LongTerm    bool            `json:"long_term"`
}

// RealizedTradeResult aggregates the closures produced by one SELL trade.
type RealizedTradeResult struct {
	TradeID   string          `json:"trade_id"`
	Symbol    string          `json:"symbol"`
	SoldAt    time.Time       `json:"sold_at"`
	Proceeds  decimal.Decimal `json:"proceeds"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	Fees      decimal.Decimal `json:"fees"` // the sell's own fee, not folded into cost
	PnL       decimal.Decimal `json:"pnl"`
	Closures  []LotClosure    `json:"closures"`
}

// RealizedTotals sums a set of realized results.
type RealizedTotals struct {
	Proceeds     decimal.Decimal `json:"proceeds"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	Fees         decimal.Decimal `json:"fees"`
	PnL          decimal.Decimal `json:"pnl"`
	ShortTermPnL decimal.Decimal `json:"short_term_pnl"`
	LongTermPnL  decimal.Decimal `json:"long_term_pnl"`
}

// PositionResult is the mark-to-market view of one symbol's open lots.
// Mark, Value and Unrealized are nil when no mark was supplied.
type PositionResult struct {
	Symbol     string           `json:"symbol"`
	Qty        decimal.Decimal  `json:"qty"`
	AvgCost    decimal.Decimal  `json:"avg_cost"`
	CostBasis  decimal.Decimal  `json:"cost_basis"`
	Mark       *decimal.Decimal `json:"mark"`
	Value      *decimal.Decimal `json:"value"`
	Unrealized *decimal.Decimal `json:"unrealized"`
	Lots       []Lot            `json:"lots"`
}
