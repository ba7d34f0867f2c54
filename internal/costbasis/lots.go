// Package costbasis matches sell trades against buy lots and computes
// realized and unrealized PnL under FIFO, LIFO and HIFO.
//
// Every function here is a pure function of the trades or lots it is given.
// Callers own locking and persistence.
package costbasis

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

// ErrValidation is returned when a request carries missing or malformed fields.
var ErrValidation = errors.New("costbasis: validation failed")

// zeroTolerance is the quantity at or below which a lot counts as closed.
var zeroTolerance = decimal.New(1, -12)

// isOpen reports whether qty is above the zero tolerance.
func isOpen(qty decimal.Decimal) bool {
	return qty.GreaterThan(zeroTolerance)
}

// sortedTrades returns a copy of trades in timestamp order, ties in input order.
func sortedTrades(trades []model.Trade) []model.Trade {
	out := make([]model.Trade, len(trades))
	copy(out, trades)
	sortTrades(out)
	return out
}

func sortTrades(trades []model.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
}

// newLot opens a lot from a BUY trade, spreading its fee over each unit.
func newLot(t model.Trade) *model.Lot {
	unitCost := t.Price
	if !t.Fee.IsZero() && !t.Qty.IsZero() {
		unitCost = unitCost.Add(t.Fee.Div(t.Qty))
	}
	return &model.Lot{
		LotID:      t.ClientTradeID,
		Symbol:     t.Symbol,
		QtyOpen:    t.Qty,
		UnitCost:   unitCost,
		AcquiredAt: t.Timestamp,
	}
}

// openLots returns the lots of symbol that still hold quantity, in queue order.
func openLots(queue []*model.Lot, symbol string) []*model.Lot {
	var out []*model.Lot
	for _, l := range queue {
		if l.Symbol == symbol && l.QtyOpen.IsPositive() {
			out = append(out, l)
		}
	}
	return out
}

// fill is one lot's share of a sale.
type fill struct {
	lot  *model.Lot
	take decimal.Decimal
}

// consume takes qty from lots in the given order. Quantity that finds no
// lot is dropped; over-selling is not an error.
func consume(lots []*model.Lot, qty decimal.Decimal) []fill {
	var fills []fill
	remaining := qty
	for _, l := range lots {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(l.QtyOpen, remaining)
		if !take.IsPositive() {
			continue
		}
		l.QtyOpen = l.QtyOpen.Sub(take)
		remaining = remaining.Sub(take)
		fills = append(fills, fill{lot: l, take: take})
	}
	return fills
}

// BuildLots replays the full trade history and returns the lots still open.
// Sales always consume FIFO here whatever method a query asks for; this is
// the inventory baseline for open-lot listings and unrealized PnL.
func BuildLots(trades []model.Trade) []model.Lot {
	var queue []*model.Lot
	for _, t := range sortedTrades(trades) {
		switch t.Side {
		case model.SideBuy:
			queue = append(queue, newLot(t))
		case model.SideSell:
			consume(Order(FIFO, openLots(queue, t.Symbol)), t.Qty)
		}
	}

	lots := make([]model.Lot, 0, len(queue))
	for _, l := range queue {
		if isOpen(l.QtyOpen) {
			lots = append(lots, *l)
		}
	}
	return lots
}

// holdingDays rounds the held duration to whole days.
func holdingDays(acquired, sold time.Time) int64 {
	ms := sold.Sub(acquired).Milliseconds()
	return decimal.NewFromInt(ms).Div(decimal.NewFromInt(86_400_000)).Round(0).IntPart()
}

// longTermHolding is the fixed 365-day threshold, not calendar aware.
const longTermHolding = 365 * 24 * time.Hour

func isLongTerm(acquired, sold time.Time) bool {
	return sold.Sub(acquired) >= longTermHolding
}
