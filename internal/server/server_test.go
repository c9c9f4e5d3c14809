package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
	"github.com/Rajchodisetti/stock-alerts/internal/alerts"
	"github.com/Rajchodisetti/stock-alerts/internal/dedup"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
	"github.com/Rajchodisetti/stock-alerts/internal/watchlist"
)

type fakeMarket struct {
	quotes       map[string]*adapters.Quote
	history      *adapters.HistoricalSeries
	lastLookback int
	lastWindow   int
	forgotten    []string
}

func (f *fakeMarket) GetQuote(_ context.Context, symbol string) (*adapters.Quote, error) {
	if q, ok := f.quotes[symbol]; ok {
		return q, nil
	}
	return &adapters.Quote{Symbol: symbol, Price: 100, Source: adapters.SourceSynthetic, Provider: "synthetic"}, nil
}

func (f *fakeMarket) GetQuotesBatch(ctx context.Context, symbols []string) (map[string]*adapters.Quote, error) {
	out := make(map[string]*adapters.Quote, len(symbols))
	for _, s := range symbols {
		out[s], _ = f.GetQuote(ctx, s)
	}
	return out, nil
}

func (f *fakeMarket) GetHistory(_ context.Context, symbol string, lookbackDays int) (*adapters.HistoricalSeries, error) {
	f.lastLookback = lookbackDays
	h := *f.history
	h.Symbol = symbol
	return &h, nil
}

func (f *fakeMarket) GetFundamentals(_ context.Context, symbol string) (*adapters.Fundamentals, error) {
	pe := 31.5
	return &adapters.Fundamentals{Symbol: symbol, Name: "Apple Inc.", Ratios: map[string]*float64{"pe_ratio": &pe}, Source: adapters.SourcePrimary}, nil
}

func (f *fakeMarket) GetEarnings(_ context.Context, symbol string, windowDays int) ([]adapters.EarningsEvent, error) {
	f.lastWindow = windowDays
	return []adapters.EarningsEvent{{Symbol: symbol, Date: time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), Source: adapters.SourcePrimary}}, nil
}

func (f *fakeMarket) CompanyName(symbol string) string {
	if symbol == "AAPL" {
		return "Apple Inc."
	}
	return symbol
}

func (f *fakeMarket) ForgetSymbol(symbol string) { f.forgotten = append(f.forgotten, symbol) }

func (f *fakeMarket) ProviderStatus() []adapters.ProviderSnapshot {
	return []adapters.ProviderSnapshot{{Name: "fmp", Status: adapters.ProviderStatusHealthy, Enabled: true}}
}

func (f *fakeMarket) Providers() []string { return []string{"fmp", "synthetic"} }

type testEnv struct {
	market  *fakeMarket
	store   *watchlist.FileStore
	dedup   *dedup.FileLog
	history *alerts.History
	handler http.Handler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	log, err := dedup.NewFileLog(filepath.Join(dir, "dedup"))
	require.NoError(t, err)

	bars := make([]adapters.Bar, 0, 5)
	start := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	for i, c := range []float64{100, 110, 99, 105, 120} {
		bars = append(bars, adapters.Bar{Date: start.AddDate(0, 0, i), Close: c})
	}

	env := &testEnv{
		market: &fakeMarket{
			quotes: map[string]*adapters.Quote{
				"AAPL": {Symbol: "AAPL", Price: 227.5, Source: adapters.SourcePrimary, Provider: "fmp"},
				"NVDA": {Symbol: "NVDA", Price: 131, Source: adapters.SourcePrimary, Provider: "fmp"},
			},
			history: &adapters.HistoricalSeries{Bars: bars, Source: adapters.SourcePrimary, Provider: "fmp"},
		},
		store:   watchlist.NewFileStore(filepath.Join(dir, "watchlist.txt"), []string{"AAPL"}),
		dedup:   log,
		history: alerts.NewHistory(10),
	}
	srv := New(Config{
		Port:      0,
		Market:    env.market,
		Watchlist: env.store,
		Dedup:     env.dedup,
		History:   env.history,
		Budget: func() []adapters.ProviderBudget {
			return []adapters.ProviderBudget{{Provider: "fmp", RequestsToday: 12, DailyCap: 250}}
		},
		System: func() observ.SystemStatus { return observ.SystemStatus{CPUPercent: 5, Version: "test"} },
	})
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t)
	rec, body := env.do(t, http.MethodGet, "/health", "")
	assert.Contains(t, []int{http.StatusOK, http.StatusPartialContent, http.StatusServiceUnavailable}, rec.Code)
	assert.Contains(t, body, "status")

	rec, _ = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuoteEndpoints(t *testing.T) {
	env := newEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/quote/aapl", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAPL", body["symbol"])
	assert.Equal(t, 227.5, body["price"])
	assert.Equal(t, "Apple Inc.", body["company_name"])

	rec, _ = env.do(t, http.MethodGet, "/api/quote/bad!sym", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.do(t, http.MethodGet, "/api/quotes?symbols=aapl,%20nvda,", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])
	quotes := body["quotes"].(map[string]interface{})
	assert.Contains(t, quotes, "AAPL")
	assert.Contains(t, quotes, "NVDA")

	rec, _ = env.do(t, http.MethodGet, "/api/quotes", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryUsesPeriodLookback(t *testing.T) {
	env := newEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/history/AAPL?period=6mo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 180, env.market.lastLookback)
	assert.Equal(t, "6mo", body["period"])

	env.do(t, http.MethodGet, "/api/history/AAPL?period=bogus", "")
	assert.Equal(t, 365, env.market.lastLookback)
}

func TestStatsEndpoint(t *testing.T) {
	env := newEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/stats/AAPL?period=5d", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5), body["bars"])
	assert.InDelta(t, 20.0, body["return_pct"], 1e-9)
	assert.InDelta(t, -10.0, body["max_drawdown_pct"], 1e-9)
	assert.Equal(t, 120.0, body["high"])
	assert.Equal(t, 99.0, body["low"])

	env.market.history = &adapters.HistoricalSeries{Bars: []adapters.Bar{{Close: 1}}}
	rec, _ = env.do(t, http.MethodGet, "/api/stats/AAPL", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestComputeStats(t *testing.T) {
	series := &adapters.HistoricalSeries{Symbol: "X", Bars: []adapters.Bar{{Close: 100}, {Close: 110}, {Close: 99}}}
	s, err := ComputeStats(series)
	require.NoError(t, err)
	// returns: +10%, -10%
	assert.InDelta(t, 0.0, s.MeanDailyReturnPct, 1e-9)
	assert.InDelta(t, 14.142135623730951, s.DailyVolatilityPct, 1e-9)
	assert.InDelta(t, s.DailyVolatilityPct*15.874507866387544, s.AnnualVolatilityPct, 1e-9)
	assert.InDelta(t, -10.0, s.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 0.5, s.PositiveDaysFraction, 1e-9)

	_, err = ComputeStats(&adapters.HistoricalSeries{})
	assert.ErrorIs(t, err, ErrNotEnoughBars)
}

func TestFundamentalsAndEarnings(t *testing.T) {
	env := newEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/fundamentals/AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 31.5, body["ratios"].(map[string]interface{})["pe_ratio"])

	rec, body = env.do(t, http.MethodGet, "/api/earnings/AAPL?days=30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, env.market.lastWindow)
	assert.Len(t, body["events"], 1)

	rec, _ = env.do(t, http.MethodGet, "/api/earnings/AAPL?days=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchlistLifecycle(t *testing.T) {
	env := newEnv(t)
	require.NoError(t, env.dedup.Add(dedup.BuyDip, "AAPL_dip_270.00_300.00"))

	rec, body := env.do(t, http.MethodGet, "/api/watchlist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = env.do(t, http.MethodPost, "/api/watchlist", `{"symbol":"nvda"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "NVDA", body["symbol"])
	assert.True(t, env.store.Contains("NVDA"))

	rec, _ = env.do(t, http.MethodPost, "/api/watchlist", `{"symbol":"NVDA"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/watchlist", `{"symbol":"ZZZZ"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/watchlist", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.do(t, http.MethodDelete, "/api/watchlist/AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["purged_keys"])
	assert.Equal(t, []string{"AAPL"}, env.market.forgotten)

	rec, _ = env.do(t, http.MethodDelete, "/api/watchlist/AAPL", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProvidersAlertsAndSystem(t *testing.T) {
	env := newEnv(t)
	sent := env.history.Record(dedup.Earnings, "AAPL", "AAPL_2025-03-15_expected", "earnings soon", time.Now())

	rec, body := env.do(t, http.MethodGet, "/api/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"fmp", "synthetic"}, body["order"])
	budgets := body["budgets"].([]interface{})
	require.Len(t, budgets, 1)
	assert.Equal(t, float64(12), budgets[0].(map[string]interface{})["requests_today"])

	rec, body = env.do(t, http.MethodGet, "/api/alerts?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["alerts"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, sent.ID, list[0].(map[string]interface{})["id"])

	rec, body = env.do(t, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", body["system"].(map[string]interface{})["version"])
	assert.Equal(t, float64(1), body["watchlist"])
}

func TestMarketSentiment(t *testing.T) {
	env := newEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/market/sentiment", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.market.quotes["^VIX"] = &adapters.Quote{Symbol: "^VIX", Price: 11, Source: adapters.SourceSecondary}
	rec, body := env.do(t, http.MethodGet, "/api/market/sentiment", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(100), body["score"])
	assert.Equal(t, "Extreme Greed", body["interpretation"])
	assert.Len(t, body["components"], 1)
}
