package costbasis

import (
	"time"

	"github.com/atmx/pnl-engine/internal/model"
)

// Realized replays every trade up to and including to, matching each sale
// against its own buy-lot queue in the order m selects, and returns the
// per-sale results that fall in [from, to].
//
// Buys before from still feed the queue so early cost basis is visible.
// A result is kept whole when any of its closures was sold inside the window.
func Realized(trades []model.Trade, from, to time.Time, m Method) []model.RealizedTradeResult {
	var history []model.Trade
	for _, t := range trades {
		if !t.Timestamp.After(to) {
			history = append(history, t)
		}
	}
	sortTrades(history)

	var queue []*model.Lot
	var results []model.RealizedTradeResult

	for _, t := range history {
		switch t.Side {
		case model.SideBuy:
			queue = append(queue, newLot(t))

		case model.SideSell:
			res := model.RealizedTradeResult{
				TradeID: t.ClientTradeID,
				Symbol:  t.Symbol,
				SoldAt:  t.Timestamp,
				Fees:    t.Fee,
			}
			for _, f := range consume(Order(m, openLots(queue, t.Symbol)), t.Qty) {
				c := closeLot(f, t)
				res.Proceeds = res.Proceeds.Add(c.Proceeds)
				res.CostBasis = res.CostBasis.Add(c.Cost)
				res.PnL = res.PnL.Add(c.PnL)
				res.Closures = append(res.Closures, c)
			}
			if res.Proceeds.IsZero() && res.CostBasis.IsZero() && res.PnL.IsZero() {
				continue
			}
			results = append(results, res)
		}
	}

	windowed := make([]model.RealizedTradeResult, 0, len(results))
	for _, r := range results {
		if soldWithin(r.Closures, from, to) {
			windowed = append(windowed, r)
		}
	}
	return windowed
}

func closeLot(f fill, sell model.Trade) model.LotClosure {
	return model.LotClosure{
		LotID:       f.lot.LotID,
		Qty:         f.take,
		AcquiredAt:  f.lot.AcquiredAt,
		SoldAt:      sell.Timestamp,
		UnitCost:    f.lot.UnitCost,
		SellPrice:   sell.Price,
		Proceeds:    f.take.Mul(sell.Price),
		Cost:        f.take.Mul(f.lot.UnitCost),
		PnL:         f.take.Mul(sell.Price.Sub(f.lot.UnitCost)),
		HoldingDays: holdingDays(f.lot.AcquiredAt, sell.Timestamp),
		LongTerm:    isLongTerm(f.lot.AcquiredAt, sell.Timestamp),
	}
}

func soldWithin(closures []model.LotClosure, from, to time.Time) bool {
	for _, c := range closures {
		if !c.SoldAt.Before(from) && !c.SoldAt.After(to) {
			return true
		}
	}
	return false
}

// Totals sums realized results, splitting PnL by the long-term flag of
// each closure.
func Totals(results []model.RealizedTradeResult) model.RealizedTotals {
	var tot model.RealizedTotals
	for _, r := range results {
		tot.Proceeds = tot.Proceeds.Add(r.Proceeds)
		tot.CostBasis = tot.CostBasis.Add(r.CostBasis)
		tot.Fees = tot.Fees.Add(r.Fees)
		tot.PnL = tot.PnL.Add(r.PnL)
		for _, c := range r.Closures {
			if c.LongTerm {
				tot.LongTermPnL = tot.LongTermPnL.Add(c.PnL)
			} else {
				tot.ShortTermPnL = tot.ShortTermPnL.Add(c.PnL)
			}
		}
	}
	return tot
}
