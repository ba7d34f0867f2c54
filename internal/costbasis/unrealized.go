package costbasis

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

// Unrealized values open lots against marks, one result per symbol.
//
// Lots are first put in m's consumption order; symbols appear in the order
// their first lot does. A symbol without a mark keeps qty and cost basis but
// has nil mark, value and unrealized PnL.
func Unrealized(lots []model.Lot, m Method, marks map[string]decimal.Decimal) []model.PositionResult {
	ptrs := make([]*model.Lot, len(lots))
	for i := range lots {
		l := lots[i]
		ptrs[i] = &l
	}

	var symbols []string
	bySymbol := make(map[string]*model.PositionResult)
	for _, l := range Order(m, ptrs) {
		pos, ok := bySymbol[l.Symbol]
		if !ok {
			pos = &model.PositionResult{Symbol: l.Symbol}
			bySymbol[l.Symbol] = pos
			symbols = append(symbols, l.Symbol)
		}
		pos.Qty = pos.Qty.Add(l.QtyOpen)
		pos.CostBasis = pos.CostBasis.Add(l.QtyOpen.Mul(l.UnitCost))
		pos.Lots = append(pos.Lots, *l)
	}

	positions := make([]model.PositionResult, 0, len(symbols))
	for _, sym := range symbols {
		pos := bySymbol[sym]
		if !pos.Qty.IsZero() {
			pos.AvgCost = pos.CostBasis.Div(pos.Qty)
		}
		if mark, ok := marks[sym]; ok {
			value := pos.Qty.Mul(mark)
			pnl := value.Sub(pos.CostBasis)
			pos.Mark = &mark
			pos.Value = &value
			pos.Unrealized = &pnl
		}
		positions = append(positions, *pos)
	}
	return positions
}
