package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type yahooRoute struct {
	status int
	body   string
}

func newTestYahoo(t *testing.T, routes map[string]yahooRoute) *YahooAdapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if route.status != 0 {
			w.WriteHeader(route.status)
		}
		_, _ = w.Write([]byte(route.body))
	}))
	t.Cleanup(srv.Close)

	clock := newFakeClock()
	tr := newTestTransport(clock, ProviderLimits{
		Name:     YahooProviderName,
		Decorate: YahooHeaders(),
		Retry:    RetryPolicy{MaxAttempts: 1, Retryable: YahooRetryable},
	})
	y := NewYahooAdapter(YahooConfig{BaseURL: srv.URL, MaxBatchSize: 10}, tr, NewNameCache())
	y.now = clock.Now
	return y
}

const yahooChartAAPL = `{"chart":{"result":[{"meta":{"symbol":"AAPL","longName":"Apple Inc.",
	"regularMarketPrice":270.0,"previousClose":264.0,"regularMarketVolume":1000,
	"regularMarketDayHigh":271.0,"regularMarketDayLow":263.5,"fiftyTwoWeekHigh":300.0,"fiftyTwoWeekLow":160.0},
	"timestamp":[1741267800,1741354200,1741613400],
	"indicators":{"quote":[{"open":[1,null,3],"high":[1,2,3],"low":[1,2,3],"close":[10.5,null,11.25],"volume":[100,200,null]}]}}],
	"error":null}}`

func TestYahooAdapter_Quote(t *testing.T) {
	y := newTestYahoo(t, map[string]yahooRoute{"/v8/finance/chart/AAPL": {body: yahooChartAAPL}})

	q, err := y.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 270.0, q.Price)
	assert.Equal(t, 6.0, q.Change)
	assert.InDelta(t, 2.2727, q.ChangePercent, 0.001)
	assert.Equal(t, "Apple Inc.", q.Name)
	assert.Equal(t, 300.0, q.YearHigh)
	assert.Equal(t, YahooProviderName, q.Provider)
}

func TestYahooAdapter_QuoteChartError(t *testing.T) {
	y := newTestYahoo(t, map[string]yahooRoute{
		"/v8/finance/chart/ZZZZ": {status: 404, body: `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`},
		"/v8/finance/chart/ODD":  {body: `{"chart":{"result":null,"error":{"code":"Bad","description":"bad request"}}}`},
	})
	_, err := y.Quote(context.Background(), "ZZZZ")
	assert.True(t, IsErrorType(err, ErrTypeNotFound))

	_, err = y.Quote(context.Background(), "ODD")
	assert.True(t, IsErrorType(err, ErrTypeProvider))
}

func TestYahooAdapter_QuotesBatch(t *testing.T) {
	y := newTestYahoo(t, map[string]yahooRoute{
		"/v7/finance/quote": {body: `{"quoteResponse":{"result":[
			{"symbol":"AAPL","longName":"Apple Inc.","regularMarketPrice":270,"regularMarketChange":2,"regularMarketChangePercent":0.75},
			{"symbol":"BRK-B","shortName":"Berkshire","regularMarketPrice":480}],"error":null}}`},
	})

	quotes, err := y.Quotes(context.Background(), []string{"AAPL", "BRK.B"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, 0.75, quotes["AAPL"].ChangePercent)
	assert.Equal(t, "Berkshire", quotes["BRK.B"].Name)
}

func TestYahooAdapter_QuotesFallsBackToChart(t *testing.T) {
	y := newTestYahoo(t, map[string]yahooRoute{
		"/v7/finance/quote":      {status: 401, body: `{"finance":{"error":{"code":"Unauthorized"}}}`},
		"/v8/finance/chart/AAPL": {body: yahooChartAAPL},
	})

	quotes, err := y.Quotes(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, 270.0, quotes["AAPL"].Price)
}

func TestYahooAdapter_HistorySkipsNulls(t *testing.T) {
	y := newTestYahoo(t, map[string]yahooRoute{"/v8/finance/chart/AAPL": {body: yahooChartAAPL}})
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	h, err := y.History(context.Background(), "AAPL", from, from.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.Len(t, h.Bars, 2)
	assert.Equal(t, 10.5, h.Bars[0].Close)
	assert.Equal(t, 11.25, h.Bars[1].Close)
	assert.Equal(t, int64(0), h.Bars[1].Volume)
	assert.Equal(t, 0, h.Bars[0].Date.Hour())
}

func TestYahooAdapter_Fundamentals(t *testing.T) {
	y := newTestYahoo(t, map[string]yahooRoute{
		"/v10/finance/quoteSummary/AAPL": {body: `{"quoteSummary":{"result":[{
			"assetProfile":{"sector":"Technology","industry":"Consumer Electronics","longBusinessSummary":"Apple designs phones."},
			"financialData":{"profitMargins":{"raw":0.24,"fmt":"24%"},"currentRatio":{"raw":0.87},"recommendationKey":"buy","debtToEquity":{}},
			"defaultKeyStatistics":{"forwardPE":{"raw":31.2},"pegRatio":{"raw":2.1}},
			"summaryDetail":{"trailingPE":{"raw":35.5},"dividendYield":{"raw":0.004}},
			"price":{"longName":"Apple Inc.","marketCap":{"raw":4.1e12}}}],"error":null}}`},
	})

	f, err := y.Fundamentals(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", f.Name)
	assert.Equal(t, "Technology", f.Sector)
	require.NotNil(t, f.MarketCap)
	assert.Equal(t, 4.1e12, *f.MarketCap)
	assert.Equal(t, 35.5, *f.Ratios["pe_ratio"])
	assert.Equal(t, 31.2, *f.Ratios["forward_pe"])
	assert.Equal(t, 0.24, *f.Ratios["profit_margins"])
	assert.Nil(t, f.Ratios["debt_to_equity"])
	assert.Nil(t, f.Ratios["return_on_equity"])
	assert.Len(t, f.Ratios, len(RatioNames))
}

func TestYahooAdapter_EarningsWindow(t *testing.T) {
	inWindow := time.Date(2025, 3, 20, 20, 0, 0, 0, time.UTC).Unix()
	y := newTestYahoo(t, map[string]yahooRoute{
		"/v10/finance/quoteSummary/AAPL": {body: `{"quoteSummary":{"result":[{"calendarEvents":{"earnings":{
			"earningsDate":[{"raw":` + strconv.FormatInt(inWindow, 10) + `}],"earningsAverage":{"raw":1.6}}}}],"error":null}}`},
	})
	from := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	events, err := y.Earnings(context.Background(), "AAPL", from, from.AddDate(0, 0, 14))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), events[0].Date)

	events, err = y.Earnings(context.Background(), "AAPL", from, from.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = y.EarningsCalendar(context.Background(), from, from)
	assert.True(t, IsErrorType(err, ErrTypeUnsupported))
	_, err = y.DividendCalendar(context.Background(), from, from)
	assert.True(t, IsErrorType(err, ErrTypeUnsupported))
}
