package adapters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider serves canned data and counts calls per method
type stubProvider struct {
	name      string
	quotes    map[string]*Quote
	quoteErr  error
	history   *HistoricalSeries
	fund      *Fundamentals
	earnings  []EarningsEvent
	calendar  []EarningsEvent
	calErr    error
	dividends []DividendEvent
	divErr    error

	mu    sync.Mutex
	calls map[string]int
}

func newStub(name string) *stubProvider {
	return &stubProvider{name: name, quotes: map[string]*Quote{}, calls: map[string]int{}}
}

func (s *stubProvider) hit(method string) {
	s.mu.Lock()
	s.calls[method]++
	s.mu.Unlock()
}

func (s *stubProvider) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Quote(ctx context.Context, symbol string) (*Quote, error) {
	s.hit("Quote")
	if s.quoteErr != nil {
		return nil, s.quoteErr
	}
	q, ok := s.quotes[symbol]
	if !ok {
		return nil, NewNotFoundError(s.name, symbol)
	}
	c := *q
	return &c, nil
}

func (s *stubProvider) Quotes(ctx context.Context, symbols []string) (map[string]*Quote, error) {
	s.hit("Quotes")
	if s.quoteErr != nil {
		return nil, s.quoteErr
	}
	out := map[string]*Quote{}
	for _, sym := range symbols {
		if q, ok := s.quotes[sym]; ok {
			c := *q
			out[sym] = &c
		}
	}
	return out, nil
}

func (s *stubProvider) History(ctx context.Context, symbol string, from, to time.Time) (*HistoricalSeries, error) {
	s.hit("History")
	if s.history == nil {
		return nil, NewNotFoundError(s.name, symbol)
	}
	return copySeries(s.history), nil
}

func (s *stubProvider) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	s.hit("Fundamentals")
	if s.fund == nil {
		return nil, NewNotFoundError(s.name, symbol)
	}
	return copyFundamentals(s.fund), nil
}

func (s *stubProvider) Earnings(ctx context.Context, symbol string, from, to time.Time) ([]EarningsEvent, error) {
	s.hit("Earnings")
	return append([]EarningsEvent(nil), s.earnings...), nil
}

func (s *stubProvider) EarningsCalendar(ctx context.Context, from, to time.Time) ([]EarningsEvent, error) {
	s.hit("EarningsCalendar")
	if s.calErr != nil {
		return nil, s.calErr
	}
	return append([]EarningsEvent(nil), s.calendar...), nil
}

func (s *stubProvider) DividendCalendar(ctx context.Context, from, to time.Time) ([]DividendEvent, error) {
	s.hit("DividendCalendar")
	if s.divErr != nil {
		return nil, s.divErr
	}
	return append([]DividendEvent(nil), s.dividends...), nil
}

func newTestResolver(clock *fakeClock, primary, secondary Provider) *Resolver {
	cache := NewProviderCache(nil)
	cache.SetClock(clock.Now)
	synth := NewSyntheticProvider()
	synth.SetClock(clock.Now)
	opts := ResolverOptions{Cache: cache, Synthetic: synth, Now: clock.Now}
	if primary != nil {
		opts.Primary = primary
	}
	if secondary != nil {
		opts.Secondary = secondary
	}
	return NewResolver(opts)
}

func TestResolver_QuoteCachedWithinTTL(t *testing.T) {
	clock := newFakeClock()
	primary := newStub("fmp")
	primary.quotes["AAPL"] = &Quote{Symbol: "AAPL", Name: "Apple Inc.", Price: 270}
	r := newTestResolver(clock, primary, nil)
	ctx := context.Background()

	q1, err := r.GetQuote(ctx, "aapl")
	require.NoError(t, err)
	q2, err := r.GetQuote(ctx, "AAPL")
	require.NoError(t, err)

	assert.Equal(t, 1, primary.Calls("Quote"))
	assert.Equal(t, q1, q2)
	assert.Equal(t, SourcePrimary, q1.Source)
	assert.Equal(t, "Apple Inc.", r.CompanyName("AAPL"))

	q2.Price = 1
	q3, _ := r.GetQuote(ctx, "AAPL")
	assert.Equal(t, 270.0, q3.Price, "callers cannot mutate the cache")

	clock.Advance(61 * time.Second)
	_, _ = r.GetQuote(ctx, "AAPL")
	assert.Equal(t, 2, primary.Calls("Quote"))
}

func TestResolver_QuoteFallsBackToSecondaryThenSynthetic(t *testing.T) {
	clock := newFakeClock()
	primary := newStub("fmp")
	primary.quoteErr = NewRateLimitError("fmp", "HTTP 429")
	secondary := newStub("yahoo")
	secondary.quotes["MSFT"] = &Quote{Symbol: "MSFT", Price: 510}
	r := newTestResolver(clock, primary, secondary)
	ctx := context.Background()

	q, err := r.GetQuote(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, SourceSecondary, q.Source)
	assert.Equal(t, "yahoo", q.Provider)

	q, err = r.GetQuote(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.True(t, q.Synthetic())
	assert.Equal(t, "ZZZZ Corporation", q.Name)

	_, err = r.GetQuote(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.Equal(t, 3, secondary.Calls("Quote"), "synthetic quotes are not cached")
}

func TestResolver_InvalidQuoteTreatedAsAbsent(t *testing.T) {
	clock := newFakeClock()
	primary := newStub("fmp")
	primary.quotes["AAPL"] = &Quote{Symbol: "AAPL", Price: 0}
	secondary := newStub("yahoo")
	secondary.quotes["AAPL"] = &Quote{Symbol: "AAPL", Price: 268}
	r := newTestResolver(clock, primary, secondary)

	q, err := r.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 268.0, q.Price)
	assert.Equal(t, SourceSecondary, q.Source)
}

func TestResolver_DisabledPrimaryIsSkipped(t *testing.T) {
	clock := newFakeClock()
	primary := newStub("fmp")
	primary.quotes["AAPL"] = &Quote{Symbol: "AAPL", Price: 270}
	secondary := newStub("yahoo")
	secondary.quotes["AAPL"] = &Quote{Symbol: "AAPL", Price: 268}
	r := newTestResolver(clock, primary, secondary)
	r.Health().Register("fmp", 1)
	r.Health().RecordForbidden("fmp", clock.Now())

	q, err := r.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0, primary.Calls("Quote"))
	assert.Equal(t, SourceSecondary, q.Source)
}

func TestResolver_BreakerEndToEnd(t *testing.T) {
	clock := newFakeClock()
	srv := newScriptedServer(t, clock, ``, 403)
	tr := newTestTransport(clock, ProviderLimits{Name: FMPProviderName, ForbiddenThreshold: 2, Retry: RetryPolicy{MaxAttempts: 1}})
	fmp, err := NewFMPAdapter(FMPConfig{APIKey: "k", BaseURL: srv.URL}, tr, nil)
	require.NoError(t, err)

	secondary := newStub("yahoo")
	for _, s := range []string{"A", "B", "C", "D"} {
		secondary.quotes[s] = &Quote{Symbol: s, Price: 10}
	}
	cache := NewProviderCache(nil)
	cache.SetClock(clock.Now)
	r := NewResolver(ResolverOptions{Primary: fmp, Secondary: secondary, Cache: cache, Health: tr.Health(), Now: clock.Now})

	for _, s := range []string{"A", "B", "C", "D"} {
		q, err := r.GetQuote(context.Background(), s)
		require.NoError(t, err)
		assert.Equal(t, SourceSecondary, q.Source)
	}
	assert.Equal(t, 2, srv.Hits(), "primary is not called once the breaker trips")
	assert.False(t, r.Health().Enabled(FMPProviderName))
}

func TestResolver_BatchPartitionsAcrossTiers(t *testing.T) {
	clock := newFakeClock()
	primary := newStub("fmp")
	primary.quotes["AAPL"] = &Quote{Symbol: "AAPL", Price: 270}
	secondary := newStub("yahoo")
	secondary.quotes["MSFT"] = &Quote{Symbol: "MSFT", Price: 510}
	r := newTestResolver(clock, primary, secondary)
	ctx := context.Background()

	_, err := r.GetQuotesBatch(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptySymbols)
	_, err = r.GetQuotesBatch(ctx, []string{" ", ""})
	assert.ErrorIs(t, err, ErrEmptySymbols)

	out, err := r.GetQuotesBatch(ctx, []string{"AAPL", "msft", "ZZZZ", "AAPL"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, SourcePrimary, out["AAPL"].Source)
	assert.Equal(t, SourceSecondary, out["MSFT"].Source)
	assert.Equal(t, SourceSynthetic, out["ZZZZ"].Source)

	out, err = r.GetQuotesBatch(ctx, []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, 1, primary.Calls("Quotes"), "second batch is served from cache")
	assert.Equal(t, 1, secondary.Calls("Quotes"))
}

func TestResolver_HistoryNormalized(t *testing.T) {
	clock := newFakeClock()
	day := func(d int) time.Time { return time.Date(2025, 3, d, 16, 0, 0, 0, time.UTC) }
	primary := newStub("fmp")
	primary.history = &HistoricalSeries{Bars: []Bar{
		{Date: day(7), Close: 12},
		{Date: day(5), Close: 10},
		{Date: day(6), Close: 0},
		{Date: day(7), Close: 13},
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Close: 5},
	}}
	r := newTestResolver(clock, primary, nil)

	h, err := r.GetHistory(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, h.Bars, 2)
	assert.Equal(t, 10.0, h.Bars[0].Close)
	assert.Equal(t, 13.0, h.Bars[1].Close, "last bar for a date wins")
	assert.True(t, h.Bars[0].Date.Before(h.Bars[1].Date))
	assert.Equal(t, SourcePrimary, h.Source)

	_, _ = r.GetHistory(context.Background(), "AAPL", 30)
	assert.Equal(t, 1, primary.Calls("History"))
	_, _ = r.GetHistory(context.Background(), "AAPL", 365)
	assert.Equal(t, 2, primary.Calls("History"), "lookback is part of the cache key")
}

func TestResolver_HistorySyntheticFallback(t *testing.T) {
	clock := newFakeClock()
	r := newTestResolver(clock, newStub("fmp"), newStub("yahoo"))

	h, err := r.GetHistory(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	assert.Equal(t, SourceSynthetic, h.Source)
	require.NotEmpty(t, h.Bars)
	for i := 1; i < len(h.Bars); i++ {
		assert.True(t, h.Bars[i-1].Date.Before(h.Bars[i].Date))
	}
}

func TestResolver_ShortHistoryOverWeekend(t *testing.T) {
	clock := newFakeClock()
	clock.Advance(-30 * time.Hour) // Sunday 2025-03-09
	friday := time.Date(2025, 3, 7, 21, 0, 0, 0, time.UTC)
	primary := newStub("fmp")
	primary.history = &HistoricalSeries{Bars: []Bar{
		{Date: friday.AddDate(0, 0, -1), Close: 99},
		{Date: friday, Close: 101},
	}}
	r := newTestResolver(clock, primary, nil)

	h, err := r.GetHistory(context.Background(), "AAPL", 1)
	require.NoError(t, err)
	assert.Equal(t, SourcePrimary, h.Source)
	require.Len(t, h.Bars, 1)
	assert.Equal(t, 101.0, h.Bars[0].Close)
	assert.Equal(t, time.Friday, h.Bars[0].Date.Weekday())
}

func TestResolver_StaleBarsAreNotFound(t *testing.T) {
	clock := newFakeClock()
	primary := newStub("fmp")
	primary.history = &HistoricalSeries{Bars: []Bar{
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 5},
	}}
	r := newTestResolver(clock, primary, nil)

	h, err := r.GetHistory(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	assert.Equal(t, SourceSynthetic, h.Source)
}

func TestResolver_SyntheticHistoryOverWeekendHasABar(t *testing.T) {
	clock := newFakeClock()
	clock.Advance(-30 * time.Hour)
	r := newTestResolver(clock, newStub("fmp"), newStub("yahoo"))

	h, err := r.GetHistory(context.Background(), "AAPL", 1)
	require.NoError(t, err)
	assert.Equal(t, SourceSynthetic, h.Source)
	require.NotEmpty(t, h.Bars)
	assert.Equal(t, time.Friday, h.Bars[len(h.Bars)-1].Date.Weekday())
}

func TestResolver_FundamentalsAlwaysHaveAllRatios(t *testing.T) {
	clock := newFakeClock()
	pe := 30.0
	primary := newStub("fmp")
	primary.fund = &Fundamentals{Name: "Apple Inc.", Ratios: map[string]*float64{"pe_ratio": &pe}}
	r := newTestResolver(clock, primary, nil)

	f, err := r.GetFundamentals(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Len(t, f.Ratios, len(RatioNames))
	assert.Equal(t, 30.0, *f.Ratios["pe_ratio"])

	r = newTestResolver(clock, newStub("fmp"), nil)
	f, err = r.GetFundamentals(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Equal(t, SourceSynthetic, f.Source)
	assert.Len(t, f.Ratios, len(RatioNames))
}

func TestResolver_EarningsSyntheticUsesShortTTL(t *testing.T) {
	clock := newFakeClock()
	primary := newStub("fmp")
	r := newTestResolver(clock, primary, nil)
	ctx := context.Background()

	events, err := r.GetEarnings(ctx, "AAPL", 14)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Estimated)
	assert.Equal(t, SourceSynthetic, events[0].Source)
	assert.Equal(t, time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), events[0].Date)

	_, _ = r.GetEarnings(ctx, "AAPL", 14)
	assert.Equal(t, 1, primary.Calls("Earnings"))

	clock.Advance(31 * time.Minute)
	_, _ = r.GetEarnings(ctx, "AAPL", 14)
	assert.Equal(t, 2, primary.Calls("Earnings"))
}

func TestResolver_EarningsCalendar(t *testing.T) {
	clock := newFakeClock()
	today := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	primary := newStub("fmp")
	primary.calendar = []EarningsEvent{
		{Symbol: "MSFT", Date: today.AddDate(0, 0, 3)},
		{Symbol: "AAPL", Date: today.AddDate(0, 0, 2)},
		{Symbol: "TSLA", Date: today.AddDate(0, 0, 1)},
		{Symbol: "AAPL", Date: today.AddDate(0, 0, 40)},
	}
	r := newTestResolver(clock, primary, nil)

	events, err := r.GetEarningsCalendar(context.Background(), []string{"AAPL", "MSFT"}, 14)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "AAPL", events[0].Symbol)
	assert.Equal(t, "MSFT", events[1].Symbol)

	_, _ = r.GetEarningsCalendar(context.Background(), []string{"TSLA"}, 14)
	assert.Equal(t, 1, primary.Calls("EarningsCalendar"))
}

func TestResolver_EarningsCalendarPerSymbolFallback(t *testing.T) {
	clock := newFakeClock()
	today := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	secondary := newStub("yahoo")
	secondary.calErr = NewUnsupportedError("yahoo", "earnings calendar")
	secondary.earnings = []EarningsEvent{{Symbol: "AAPL", Date: today.AddDate(0, 0, 5)}}
	r := newTestResolver(clock, nil, secondary)

	events, err := r.GetEarningsCalendar(context.Background(), []string{"AAPL"}, 14)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, SourceSecondary, events[0].Source)
}

func TestResolver_DividendsNoSyntheticFallback(t *testing.T) {
	clock := newFakeClock()
	today := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	amount := 0.25
	primary := newStub("fmp")
	primary.dividends = []DividendEvent{
		{Symbol: "AAPL", ExDate: today.AddDate(0, 0, 4), Amount: &amount},
		{Symbol: "KO", ExDate: today.AddDate(0, 0, 1)},
	}
	r := newTestResolver(clock, primary, nil)

	divs, err := r.GetDividends(context.Background(), []string{"AAPL"}, 30)
	require.NoError(t, err)
	require.Len(t, divs, 1)
	assert.Equal(t, SourcePrimary, divs[0].Source)

	failing := newStub("fmp")
	failing.divErr = NewNetworkError("fmp", "down", nil)
	r = newTestResolver(clock, failing, nil)
	divs, err = r.GetDividends(context.Background(), []string{"AAPL"}, 30)
	require.NoError(t, err)
	assert.Empty(t, divs)
}

func TestResolver_ContractErrors(t *testing.T) {
	r := newTestResolver(newFakeClock(), nil, nil)
	ctx := context.Background()

	_, err := r.GetQuote(ctx, "")
	assert.ErrorIs(t, err, ErrEmptySymbols)
	_, err = r.GetHistory(ctx, " ", 30)
	assert.ErrorIs(t, err, ErrEmptySymbols)
	_, err = r.GetDividends(ctx, nil, 30)
	assert.ErrorIs(t, err, ErrEmptySymbols)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.GetQuote(cancelled, "AAPL")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolver_SyntheticOnlyMode(t *testing.T) {
	r := newTestResolver(newFakeClock(), nil, nil)
	assert.Equal(t, []string{"synthetic"}, r.Providers())

	q, err := r.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, q.Synthetic())
	assert.Equal(t, "Apple Inc.", q.Name)
}
