// Package portfolio provides the HTTP handlers for registering portfolios,
// ingesting trades, and querying open lots and realized/unrealized PnL.
//
// All monetary values use shopspring/decimal, never float64.
package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/costbasis"
	"github.com/atmx/pnl-engine/internal/metrics"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/store"
)

// Service handles portfolio operations. Serialization of concurrent
// ingests for one portfolio is the store's job (MutatePortfolio).
type Service struct {
	store           store.Store
	defaultCurrency string
	wsHub           *WSHub // optional WebSocket hub for ledger updates
}

// NewService creates a new portfolio service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, defaultCurrency string, hub *WSHub) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Service{
		store:           st,
		defaultCurrency: defaultCurrency,
		wsHub:           hub,
	}
}

// Routes registers the portfolio endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/portfolios", s.ListPortfolios)
	r.Route("/portfolios/{portfolioID}", func(r chi.Router) {
		r.Put("/", s.RegisterPortfolio)
		r.Post("/trades", s.IngestTrades)
		r.Get("/lots", s.ListOpenLots)
		r.Get("/pnl/realized", s.RealizedPnL)
		r.Post("/pnl/unrealized", s.UnrealizedPnL)
	})
}

// --- Request/Response types ---

// RegisterPortfolioRequest is the JSON body for portfolio registration.
type RegisterPortfolioRequest struct {
	BaseCurrency string `json:"base_currency"` // empty → service default
}

// PortfolioResponse acknowledges a registration.
type PortfolioResponse struct {
	PortfolioID  string `json:"portfolio_id"`
	BaseCurrency string `json:"base_currency"`
}

// IngestRequest is the JSON body for POST .../trades.
type IngestRequest struct {
	Trades []model.Trade `json:"trades"`
}

// IngestResponse is returned from POST .../trades.
type IngestResponse struct {
	Accepted    []string `json:"accepted"`
	Duplicates  []string `json:"duplicates"`
	TotalTrades int      `json:"total_trades"`
	OpenLots    int      `json:"open_lots"`
}

// RealizedResponse is returned from GET .../pnl/realized.
type RealizedResponse struct {
	Method   costbasis.Method            `json:"method"`
	Currency string                      `json:"currency"`
	Realized []model.RealizedTradeResult `json:"realized"`
	Totals   model.RealizedTotals        `json:"totals"`
}

// Mark is an external price quote for one symbol.
type Mark struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// UnrealizedRequest is the JSON body for POST .../pnl/unrealized.
type UnrealizedRequest struct {
	Method string `json:"method"` // empty → FIFO
	Marks  []Mark `json:"marks"`
}

// UnrealizedResponse is returned from POST .../pnl/unrealized.
type UnrealizedResponse struct {
	Method    costbasis.Method       `json:"method"`
	Currency  string                 `json:"currency"`
	Positions []model.PositionResult `json:"positions"`
}

// OpenLotsResponse is returned from GET .../lots.
type OpenLotsResponse struct {
	OpenLots []model.Lot `json:"open_lots"`
}

// --- HTTP Handlers ---

// ListPortfolios handles GET /api/v1/portfolios
func (s *Service) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListPortfolios(r.Context())
	if err != nil {
		writeError(w, "failed to list portfolios", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"portfolios": ids})
}

// RegisterPortfolio handles PUT /api/v1/portfolios/{portfolioID}
// Creates the portfolio or updates its base currency.
func (s *Service) RegisterPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolioID := strings.TrimSpace(chi.URLParam(r, "portfolioID"))
	if portfolioID == "" {
		writeError(w, "portfolio_id is required", http.StatusBadRequest)
		return
	}

	// An empty body registers with the default currency.
	var req RegisterPortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.BaseCurrency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	p, err := s.store.UpsertPortfolio(r.Context(), portfolioID, currency)
	if err != nil {
		s.writeStoreError(w, "register", err)
		return
	}

	slog.Info("portfolio registered", "portfolio", p.ID, "currency", p.BaseCurrency)

	writeJSON(w, http.StatusOK, PortfolioResponse{
		PortfolioID:  p.ID,
		BaseCurrency: p.BaseCurrency,
	})
}

// IngestTrades handles POST /api/v1/portfolios/{portfolioID}/trades
// Appends new trades, skips known ids, and rebuilds the open lots.
func (s *Service) IngestTrades(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "portfolioID")

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ValidationRejections.WithLabelValues("ingest").Inc()
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Trades) == 0 {
		metrics.ValidationRejections.WithLabelValues("ingest").Inc()
		writeError(w, "trades is required", http.StatusBadRequest)
		return
	}

	var result costbasis.IngestResult
	p, err := s.store.MutatePortfolio(r.Context(), portfolioID, func(p *model.Portfolio) error {
		start := time.Now()
		res, err := costbasis.Ingest(p, req.Trades)
		if err != nil {
			return err
		}
		metrics.LotRebuildDuration.Observe(time.Since(start).Seconds())
		result = res
		return nil
	})
	if err != nil {
		s.writeStoreError(w, "ingest", err)
		return
	}

	recordIngest(req.Trades, result)
	metrics.OpenLotsAfterIngest.Observe(float64(len(p.Lots)))

	resp := IngestResponse{
		Accepted:    result.Accepted,
		Duplicates:  result.Duplicates,
		TotalTrades: len(p.Trades),
		OpenLots:    len(p.Lots),
	}

	slog.Info("trades ingested",
		"portfolio", p.ID,
		"accepted", len(resp.Accepted),
		"duplicates", len(resp.Duplicates),
		"total_trades", resp.TotalTrades,
		"open_lots", resp.OpenLots,
	)

	// Broadcast ledger update via WebSocket.
	if s.wsHub != nil && len(resp.Accepted) > 0 {
		s.wsHub.Broadcast(WSMessage{
			Type:        "ledger_updated",
			EventID:     uuid.New().String(),
			PortfolioID: p.ID,
			Accepted:    len(resp.Accepted),
			TotalTrades: resp.TotalTrades,
			OpenLots:    resp.OpenLots,
			At:          p.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListOpenLots handles GET /api/v1/portfolios/{portfolioID}/lots
// Returns the FIFO-baseline open lots.
func (s *Service) ListOpenLots(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPortfolio(r.Context(), chi.URLParam(r, "portfolioID"))
	if err != nil {
		s.writeStoreError(w, "lots", err)
		return
	}
	metrics.PnLQueries.WithLabelValues("lots", costbasis.FIFO.String()).Inc()

	lots := p.Lots
	if lots == nil {
		lots = []model.Lot{}
	}
	writeJSON(w, http.StatusOK, OpenLotsResponse{OpenLots: lots})
}

// RealizedPnL handles GET /api/v1/portfolios/{portfolioID}/pnl/realized
// Query: from, to (RFC 3339 or epoch milliseconds), method (default FIFO).
func (s *Service) RealizedPnL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	method, err := costbasis.ParseMethod(q.Get("method"))
	if err != nil {
		s.writeStoreError(w, "realized", err)
		return
	}
	from, err := parseInstant("from", q.Get("from"))
	if err != nil {
		s.writeStoreError(w, "realized", err)
		return
	}
	to, err := parseInstant("to", q.Get("to"))
	if err != nil {
		s.writeStoreError(w, "realized", err)
		return
	}
	if to.Before(from) {
		s.writeStoreError(w, "realized", fmt.Errorf("%w: from must not be after to", costbasis.ErrValidation))
		return
	}

	p, err := s.store.GetPortfolio(r.Context(), chi.URLParam(r, "portfolioID"))
	if err != nil {
		s.writeStoreError(w, "realized", err)
		return
	}
	metrics.PnLQueries.WithLabelValues("realized", method.String()).Inc()

	realized := costbasis.Realized(p.Trades, from, to, method)
	writeJSON(w, http.StatusOK, RealizedResponse{
		Method:   method,
		Currency: p.BaseCurrency,
		Realized: realized,
		Totals:   costbasis.Totals(realized),
	})
}

// UnrealizedPnL handles POST /api/v1/portfolios/{portfolioID}/pnl/unrealized
// Values the open lots against the supplied marks.
func (s *Service) UnrealizedPnL(w http.ResponseWriter, r *http.Request) {
	var req UnrealizedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ValidationRejections.WithLabelValues("unrealized").Inc()
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	method, err := costbasis.ParseMethod(req.Method)
	if err != nil {
		s.writeStoreError(w, "unrealized", err)
		return
	}

	marks := make(map[string]decimal.Decimal, len(req.Marks))
	for i, m := range req.Marks {
		sym := strings.TrimSpace(m.Symbol)
		if sym == "" {
			s.writeStoreError(w, "unrealized", fmt.Errorf("%w: marks[%d]: symbol is required", costbasis.ErrValidation, i))
			return
		}
		if m.Price.IsNegative() {
			s.writeStoreError(w, "unrealized", fmt.Errorf("%w: marks[%d]: price must not be negative", costbasis.ErrValidation, i))
			return
		}
		marks[sym] = m.Price
	}

	p, err := s.store.GetPortfolio(r.Context(), chi.URLParam(r, "portfolioID"))
	if err != nil {
		s.writeStoreError(w, "unrealized", err)
		return
	}
	metrics.PnLQueries.WithLabelValues("unrealized", method.String()).Inc()

	writeJSON(w, http.StatusOK, UnrealizedResponse{
		Method:    method,
		Currency:  p.BaseCurrency,
		Positions: costbasis.Unrealized(p.Lots, method, marks),
	})
}

// --- helpers ---

// parseInstant accepts RFC 3339 or integer epoch milliseconds.
func parseInstant(name, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", costbasis.ErrValidation, name)
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339 or epoch milliseconds", costbasis.ErrValidation, name)
	}
	return t.UTC(), nil
}

// recordIngest counts accepted trades by side and skipped duplicates.
func recordIngest(trades []model.Trade, res costbasis.IngestResult) {
	accepted := make(map[string]bool, len(res.Accepted))
	for _, id := range res.Accepted {
		accepted[id] = true
	}
	for _, t := range trades {
		t = costbasis.Normalize(t)
		if accepted[t.ClientTradeID] {
			metrics.TradesIngested.WithLabelValues(string(t.Side)).Inc()
			delete(accepted, t.ClientTradeID)
		}
	}
	metrics.DuplicateTrades.Add(float64(len(res.Duplicates)))
}

// writeStoreError maps engine and store errors to HTTP statuses.
func (s *Service) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, costbasis.ErrValidation):
		metrics.ValidationRejections.WithLabelValues(op).Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		slog.Error("request failed", "op", op, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
