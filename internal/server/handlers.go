package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
	"github.com/Rajchodisetti/stock-alerts/internal/sentiment"
	"github.com/Rajchodisetti/stock-alerts/internal/watchlist"
)

const (
	defaultEarningsDays = 90
	maxBatchSymbols     = 50
	defaultAlertsLimit  = 50
)

// symbolParam normalizes the {symbol} path parameter and writes a 400 when invalid
func (s *Server) symbolParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol := adapters.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if err := adapters.ValidateSymbol(symbol); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return symbol, true
}

type quoteResponse struct {
	*adapters.Quote
	CompanyName string `json:"company_name"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbolParam(w, r)
	if !ok {
		return
	}
	q, err := s.market.GetQuote(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, quoteResponse{Quote: q, CompanyName: s.market.CompanyName(symbol)})
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	for _, raw := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		sym := adapters.NormalizeSymbol(raw)
		if sym == "" {
			continue
		}
		if err := adapters.ValidateSymbol(sym); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		s.writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}
	if len(symbols) > maxBatchSymbols {
		s.writeError(w, http.StatusBadRequest, "too many symbols")
		return
	}

	quotes, err := s.market.GetQuotesBatch(r.Context(), symbols)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"quotes": quotes, "count": len(quotes)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbolParam(w, r)
	if !ok {
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1y"
	}
	series, err := s.market.GetHistory(r.Context(), symbol, adapters.LookbackForPeriod(period))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"period": period,
		"series": series,
	})
}

func (s *Server) handleFundamentals(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbolParam(w, r)
	if !ok {
		return
	}
	f, err := s.market.GetFundamentals(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbolParam(w, r)
	if !ok {
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1y"
	}
	series, err := s.market.GetHistory(r.Context(), symbol, adapters.LookbackForPeriod(period))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := ComputeStats(series)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	stats.Period = period
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbolParam(w, r)
	if !ok {
		return
	}
	days := defaultEarningsDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 366 {
			s.writeError(w, http.StatusBadRequest, "days must be between 1 and 366")
			return
		}
		days = n
	}
	events, err := s.market.GetEarnings(r.Context(), symbol, days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "days": days, "events": events})
}

type watchlistEntry struct {
	Symbol      string `json:"symbol"`
	CompanyName string `json:"company_name"`
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	list, err := s.watchlist.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries := make([]watchlistEntry, 0, len(list))
	for _, sym := range list {
		entries = append(entries, watchlistEntry{Symbol: sym, CompanyName: s.market.CompanyName(sym)})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": entries, "count": len(entries)})
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	symbol := adapters.NormalizeSymbol(body.Symbol)
	if err := adapters.ValidateSymbol(symbol); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q, err := s.watchlist.Add(r.Context(), symbol)
	switch {
	case errors.Is(err, watchlist.ErrExists):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, watchlist.ErrNoMarketData):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info().Str("symbol", symbol).Msg("symbol added via dashboard")
	s.writeJSON(w, http.StatusCreated, quoteResponse{Quote: q, CompanyName: s.market.CompanyName(symbol)})
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbolParam(w, r)
	if !ok {
		return
	}
	purged, err := s.watchlist.Remove(symbol)
	switch {
	case errors.Is(err, watchlist.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info().Str("symbol", symbol).Int("purged_keys", purged).Msg("symbol removed via dashboard")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "purged_keys": purged})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"order":     s.market.Providers(),
		"providers": s.market.ProviderStatus(),
	}
	if s.budget != nil {
		resp["budgets"] = s.budget()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": []interface{}{}, "count": 0})
		return
	}
	recent := s.history.Recent(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": recent, "count": len(recent)})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	list, _ := s.watchlist.List()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"system":    s.system(),
		"health":    observ.Health(),
		"watchlist": len(list),
	})
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	idx, err := sentiment.Compute(r.Context(), s.market, time.Now())
	switch {
	case errors.Is(err, sentiment.ErrNoData):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, idx)
}
