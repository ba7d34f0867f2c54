package costbasis

import (
	"fmt"
	"strings"
	"time"

	"github.com/atmx/pnl-engine/internal/model"
)

// IngestResult reports which trade ids an ingest accepted and which it
// skipped as already present.
type IngestResult struct {
	Accepted   []string `json:"accepted"`
	Duplicates []string `json:"duplicates"`
}

// Normalize canonicalizes a trade before validation: trimmed id and symbol,
// upper-case side, UTC timestamp at millisecond resolution.
func Normalize(t model.Trade) model.Trade {
	t.ClientTradeID = strings.TrimSpace(t.ClientTradeID)
	t.Symbol = strings.TrimSpace(t.Symbol)
	t.Side = model.Side(strings.ToUpper(strings.TrimSpace(string(t.Side))))
	t.Timestamp = t.Timestamp.UTC().Truncate(time.Millisecond)
	return t
}

// ValidateTrade checks the required fields of a normalized trade.
func ValidateTrade(t model.Trade) error {
	switch {
	case t.ClientTradeID == "":
		return fmt.Errorf("%w: client_trade_id is required", ErrValidation)
	case t.Timestamp.IsZero():
		return fmt.Errorf("%w: trade %s: timestamp is required", ErrValidation, t.ClientTradeID)
	case t.Symbol == "":
		return fmt.Errorf("%w: trade %s: symbol is required", ErrValidation, t.ClientTradeID)
	case t.Side != model.SideBuy && t.Side != model.SideSell:
		return fmt.Errorf("%w: trade %s: side must be BUY or SELL", ErrValidation, t.ClientTradeID)
	case !t.Qty.IsPositive():
		return fmt.Errorf("%w: trade %s: qty must be positive", ErrValidation, t.ClientTradeID)
	case !t.Price.IsPositive():
		return fmt.Errorf("%w: trade %s: price must be positive", ErrValidation, t.ClientTradeID)
	}
	return nil
}

// Ingest appends trades to the portfolio ledger.
//
// The batch is validated as a whole before anything changes: one malformed
// trade rejects all of them. Ids already in the ledger, or seen earlier in
// the batch, are reported as duplicates and never overwrite the original.
// On success the ledger is re-sorted and the open lots rebuilt from scratch.
func Ingest(p *model.Portfolio, trades []model.Trade) (IngestResult, error) {
	batch := make([]model.Trade, len(trades))
	for i, t := range trades {
		batch[i] = Normalize(t)
		if err := ValidateTrade(batch[i]); err != nil {
			return IngestResult{}, fmt.Errorf("trades[%d]: %w", i, err)
		}
	}

	seen := make(map[string]bool, len(p.Trades)+len(batch))
	for _, t := range p.Trades {
		seen[t.ClientTradeID] = true
	}

	res := IngestResult{Accepted: []string{}, Duplicates: []string{}}
	for _, t := range batch {
		if seen[t.ClientTradeID] {
			res.Duplicates = append(res.Duplicates, t.ClientTradeID)
			continue
		}
		seen[t.ClientTradeID] = true
		p.Trades = append(p.Trades, t)
		res.Accepted = append(res.Accepted, t.ClientTradeID)
	}

	sortTrades(p.Trades)
	p.Lots = BuildLots(p.Trades)
	return res, nil
}
