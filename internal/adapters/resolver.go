package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// PeriodDays maps chart period names to lookback days
var PeriodDays = map[string]int{
	"1d":  1,
	"5d":  5,
	"1mo": 30,
	"3mo": 90,
	"6mo": 180,
	"1y":  365,
	"2y":  730,
	"5y":  1825,
}

// LookbackForPeriod returns the lookback for a period name, defaulting to one year
func LookbackForPeriod(period string) int {
	if d, ok := PeriodDays[period]; ok {
		return d
	}
	return PeriodDays["1y"]
}

// ResolverOptions wires a Resolver. Primary and Secondary may be nil.
type ResolverOptions struct {
	Primary              Provider
	Secondary            Provider
	Cache                *ProviderCache
	Health               *ProviderHealthState
	Names                *NameCache
	Synthetic            *SyntheticProvider
	SyntheticEarningsTTL time.Duration
	Now                  func() time.Time
	Logger               *zerolog.Logger
}

type tier struct {
	provider Provider
	source   Source
}

// Resolver answers every data request from cache, then the primary provider, then
// the secondary, then synthetic data. Callers always get a record; the only errors
// are empty input and context cancellation.
type Resolver struct {
	tiers                []tier
	cache                *ProviderCache
	health               *ProviderHealthState
	names                *NameCache
	synthetic            *SyntheticProvider
	syntheticEarningsTTL time.Duration
	now                  func() time.Time
	log                  zerolog.Logger
}

// NewResolver creates a resolver, filling nil dependencies with fresh defaults
func NewResolver(opts ResolverOptions) *Resolver {
	r := &Resolver{
		cache:                opts.Cache,
		health:               opts.Health,
		names:                opts.Names,
		synthetic:            opts.Synthetic,
		syntheticEarningsTTL: opts.SyntheticEarningsTTL,
		now:                  opts.Now,
		log:                  observ.Component("resolver"),
	}
	if opts.Logger != nil {
		r.log = *opts.Logger
	}
	if r.cache == nil {
		r.cache = NewProviderCache(nil)
	}
	if r.health == nil {
		r.health = NewProviderHealthState()
	}
	if r.names == nil {
		r.names = NewNameCache()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.synthetic == nil {
		r.synthetic = NewSyntheticProvider()
		r.synthetic.SetClock(r.now)
	}
	if r.syntheticEarningsTTL <= 0 {
		r.syntheticEarningsTTL = 1800 * time.Second
	}
	if opts.Primary != nil {
		r.tiers = append(r.tiers, tier{opts.Primary, SourcePrimary})
	}
	if opts.Secondary != nil {
		r.tiers = append(r.tiers, tier{opts.Secondary, SourceSecondary})
	}
	return r
}

// Health returns the circuit-breaker state consulted before each provider call
func (r *Resolver) Health() *ProviderHealthState { return r.health }

// Names returns the company name cache
func (r *Resolver) Names() *NameCache { return r.names }

// ProviderStatus reports per-provider health for status surfaces
func (r *Resolver) ProviderStatus() []ProviderSnapshot {
	return r.health.Snapshot()
}

// Providers lists the configured tiers in resolution order
func (r *Resolver) Providers() []string {
	out := make([]string, 0, len(r.tiers)+1)
	for _, t := range r.tiers {
		out = append(out, t.provider.Name())
	}
	return append(out, string(SourceSynthetic))
}

// CompanyName returns the cached display name for symbol, or the symbol itself
func (r *Resolver) CompanyName(symbol string) string {
	symbol = NormalizeSymbol(symbol)
	if name, ok := r.names.Get(symbol); ok {
		return name
	}
	return symbol
}

// ForgetSymbol drops the cached company name for a removed symbol
func (r *Resolver) ForgetSymbol(symbol string) {
	r.names.Remove(symbol)
}

// eachTier calls fn for every enabled tier in order until it returns true
func (r *Resolver) eachTier(kind Kind, symbol string, fn func(t tier) (bool, error)) bool {
	for _, t := range r.tiers {
		name := t.provider.Name()
		if !r.health.Enabled(name) {
			r.log.Debug().Str("provider", name).Str("kind", string(kind)).Msg("skipping disabled provider")
			continue
		}
		ok, err := fn(t)
		if ok {
			return true
		}
		r.providerFailed(name, kind, symbol, err)
	}
	return false
}

func (r *Resolver) providerFailed(provider string, kind Kind, symbol string, err error) {
	errType := "empty"
	var qe *QuoteError
	if errors.As(err, &qe) {
		errType = qe.Type
	} else if err != nil {
		errType = "unknown"
	}
	observ.IncCounter("resolver_provider_failures_total", map[string]string{
		"provider": provider,
		"kind":     string(kind),
		"type":     errType,
	})
	ev := r.log.Debug()
	if errType != ErrTypeNotFound && errType != ErrTypeUnsupported && errType != "empty" {
		ev = r.log.Warn()
	}
	ev.Str("provider", provider).Str("kind", string(kind)).Str("symbol", symbol).Err(err).Msg("provider returned no usable data")
}

func (r *Resolver) served(kind Kind, source Source) {
	observ.IncCounter("resolver_source_total", map[string]string{"kind": string(kind), "source": string(source)})
}

func (r *Resolver) servedSynthetic(kind Kind, symbol string) {
	r.served(kind, SourceSynthetic)
	r.log.Warn().Str("kind", string(kind)).Str("symbol", symbol).Msg("all providers failed, serving synthetic data")
}

// GetQuote resolves one quote
func (r *Resolver) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrEmptySymbols
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v, ok := r.cache.Get(symbol, KindQuote); ok {
		return copyQuote(v.(*Quote)), nil
	}

	var result *Quote
	r.eachTier(KindQuote, symbol, func(t tier) (bool, error) {
		q, err := t.provider.Quote(ctx, symbol)
		if err != nil {
			return false, err
		}
		if verr := ValidateQuote(q); verr != nil {
			return false, NewMalformedError(t.provider.Name(), symbol, verr)
		}
		result = r.acceptQuote(q, t)
		return true, nil
	})
	if result != nil {
		return copyQuote(result), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.servedSynthetic(KindQuote, symbol)
	return r.synthetic.Quote(symbol), nil
}

func (r *Resolver) acceptQuote(q *Quote, t tier) *Quote {
	q.Source = t.source
	if q.Provider == "" {
		q.Provider = t.provider.Name()
	}
	if q.Name == "" {
		q.Name, _ = r.names.Get(q.Symbol)
	}
	r.names.Set(q.Symbol, q.Name)
	r.cache.Put(q.Symbol, KindQuote, q)
	r.served(KindQuote, t.source)
	return q
}

// GetQuotesBatch resolves many quotes. Cached symbols are served first; the rest go
// to the primary in one batch, its misses to the secondary, and what remains is
// synthesized. Every requested symbol appears in the result.
func (r *Resolver) GetQuotesBatch(ctx context.Context, symbols []string) (map[string]*Quote, error) {
	seen := make(map[string]bool, len(symbols))
	var wanted []string
	for _, s := range symbols {
		s = NormalizeSymbol(s)
		if s != "" && !seen[s] {
			seen[s] = true
			wanted = append(wanted, s)
		}
	}
	if len(wanted) == 0 {
		return nil, ErrEmptySymbols
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]*Quote, len(wanted))
	var pending []string
	for _, s := range wanted {
		if v, ok := r.cache.Get(s, KindQuote); ok {
			out[s] = copyQuote(v.(*Quote))
		} else {
			pending = append(pending, s)
		}
	}

	for _, t := range r.tiers {
		if len(pending) == 0 {
			break
		}
		name := t.provider.Name()
		if !r.health.Enabled(name) {
			continue
		}
		got, err := t.provider.Quotes(ctx, pending)
		if err != nil {
			r.providerFailed(name, KindQuote, fmt.Sprintf("%d symbols", len(pending)), err)
		}
		var remaining []string
		for _, s := range pending {
			q := got[s]
			if q == nil || ValidateQuote(q) != nil {
				remaining = append(remaining, s)
				continue
			}
			out[s] = copyQuote(r.acceptQuote(q, t))
		}
		pending = remaining
	}

	if len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, s := range pending {
			r.servedSynthetic(KindQuote, s)
			out[s] = r.synthetic.Quote(s)
		}
	}
	return out, nil
}

// GetHistory resolves daily bars covering the last lookbackDays, ascending by date
func (r *Resolver) GetHistory(ctx context.Context, symbol string, lookbackDays int) (*HistoricalSeries, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrEmptySymbols
	}
	if lookbackDays <= 0 {
		lookbackDays = PeriodDays["1y"]
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s@%d", symbol, lookbackDays)
	if v, ok := r.cache.Get(key, KindHistory); ok {
		return copySeries(v.(*HistoricalSeries)), nil
	}

	to := r.now()
	from := lastWeekday(to.AddDate(0, 0, -lookbackDays))
	var result *HistoricalSeries
	r.eachTier(KindHistory, symbol, func(t tier) (bool, error) {
		h, err := t.provider.History(ctx, symbol, from, to)
		if err != nil {
			return false, err
		}
		if h == nil {
			return false, nil
		}
		h.Bars = normalizeBars(h.Bars, truncateDay(from))
		if len(h.Bars) == 0 {
			return false, NewNotFoundError(t.provider.Name(), symbol)
		}
		h.Symbol = symbol
		h.Source = t.source
		if h.Provider == "" {
			h.Provider = t.provider.Name()
		}
		result = h
		return true, nil
	})
	if result != nil {
		r.cache.Put(key, KindHistory, result)
		r.served(KindHistory, result.Source)
		return copySeries(result), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.servedSynthetic(KindHistory, symbol)
	return r.synthetic.History(symbol, from, to), nil
}

// normalizeBars sorts ascending, keeps the last bar seen per date, drops non-positive
// closes and anything before the window start. When no bar falls inside the window
// the most recent bar is kept if it is at most a week old, so a short lookback over a
// weekend or holiday still reports the last trading day.
func normalizeBars(bars []Bar, windowStart time.Time) []Bar {
	byDay := make(map[time.Time]Bar, len(bars))
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		day := truncateDay(b.Date)
		b.Date = day
		byDay[day] = b
	}
	all := make([]Bar, 0, len(byDay))
	for _, b := range byDay {
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Date.Before(all[j].Date) })

	first := sort.Search(len(all), func(i int) bool { return !all[i].Date.Before(windowStart) })
	if first == len(all) && len(all) > 0 && windowStart.Sub(all[len(all)-1].Date) <= staleBarTolerance {
		first = len(all) - 1
	}
	return all[first:]
}

const staleBarTolerance = 7 * 24 * time.Hour

// lastWeekday returns the day of t, moved back to Friday when it falls on a weekend
func lastWeekday(t time.Time) time.Time {
	d := truncateDay(t)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// GetFundamentals resolves the company profile and ratios
func (r *Resolver) GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrEmptySymbols
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v, ok := r.cache.Get(symbol, KindFundamentals); ok {
		return copyFundamentals(v.(*Fundamentals)), nil
	}

	var result *Fundamentals
	r.eachTier(KindFundamentals, symbol, func(t tier) (bool, error) {
		f, err := t.provider.Fundamentals(ctx, symbol)
		if err != nil {
			return false, err
		}
		if f == nil || (f.Name == "" && f.Sector == "" && f.MarketCap == nil) {
			return false, nil
		}
		ratios := emptyRatios()
		for k, v := range f.Ratios {
			ratios[k] = v
		}
		f.Ratios = ratios
		f.Symbol = symbol
		f.Source = t.source
		if f.Provider == "" {
			f.Provider = t.provider.Name()
		}
		if f.Name == "" {
			f.Name, _ = r.names.Get(symbol)
		}
		r.names.Set(symbol, f.Name)
		result = f
		return true, nil
	})
	if result != nil {
		r.cache.Put(symbol, KindFundamentals, result)
		r.served(KindFundamentals, result.Source)
		return copyFundamentals(result), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.servedSynthetic(KindFundamentals, symbol)
	f := r.synthetic.Fundamentals(symbol)
	if name, ok := r.names.Get(symbol); ok {
		f.Name = name
	}
	return f, nil
}

// GetEarnings resolves upcoming releases for symbol within windowDays. When no
// provider knows of one, a single estimated synthetic date is returned even if it
// falls outside the window; it is cached for the shorter synthetic TTL.
func (r *Resolver) GetEarnings(ctx context.Context, symbol string, windowDays int) ([]EarningsEvent, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrEmptySymbols
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s@%d", symbol, windowDays)
	if v, ok := r.cache.Get(key, KindEarnings); ok {
		return append([]EarningsEvent(nil), v.([]EarningsEvent)...), nil
	}

	from := truncateDay(r.now())
	to := from.AddDate(0, 0, windowDays)
	var result []EarningsEvent
	var source Source
	r.eachTier(KindEarnings, symbol, func(t tier) (bool, error) {
		events, err := t.provider.Earnings(ctx, symbol, from, to)
		if err != nil {
			return false, err
		}
		events = filterEarnings(events, from, to)
		if len(events) == 0 {
			return false, nil
		}
		for i := range events {
			events[i].Source = t.source
		}
		result, source = events, t.source
		return true, nil
	})
	if result != nil {
		r.cache.Put(key, KindEarnings, result)
		r.served(KindEarnings, source)
		return append([]EarningsEvent(nil), result...), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.servedSynthetic(KindEarnings, symbol)
	synthetic := []EarningsEvent{r.synthetic.NextEarnings(symbol)}
	r.cache.PutWithTTL(key, KindEarnings, synthetic, r.syntheticEarningsTTL)
	return append([]EarningsEvent(nil), synthetic...), nil
}

// GetEarningsCalendar returns releases within windowDays for the given symbols.
// A provider-wide calendar is used when one is available; otherwise each symbol is
// resolved individually. Synthetic estimates are excluded here.
func (r *Resolver) GetEarningsCalendar(ctx context.Context, symbols []string, windowDays int) ([]EarningsEvent, error) {
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s = NormalizeSymbol(s); s != "" {
			wanted[s] = true
		}
	}
	if len(wanted) == 0 {
		return nil, ErrEmptySymbols
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from := truncateDay(r.now())
	to := from.AddDate(0, 0, windowDays)
	key := fmt.Sprintf("*@%d", windowDays)

	var calendar []EarningsEvent
	if v, ok := r.cache.Get(key, KindEarnings); ok {
		calendar = v.([]EarningsEvent)
	} else {
		r.eachTier(KindEarnings, "*", func(t tier) (bool, error) {
			events, err := t.provider.EarningsCalendar(ctx, from, to)
			if err != nil {
				return false, err
			}
			for i := range events {
				events[i].Source = t.source
			}
			calendar = filterEarnings(events, from, to)
			r.cache.Put(key, KindEarnings, calendar)
			r.served(KindEarnings, t.source)
			return true, nil
		})
	}

	var out []EarningsEvent
	if calendar != nil {
		for _, e := range calendar {
			if wanted[e.Symbol] {
				out = append(out, e)
			}
		}
	} else {
		for s := range wanted {
			events, err := r.GetEarnings(ctx, s, windowDays)
			if err != nil {
				return nil, err
			}
			for _, e := range events {
				if !e.Estimated && e.Source != SourceSynthetic {
					out = append(out, e)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func filterEarnings(events []EarningsEvent, from, to time.Time) []EarningsEvent {
	out := make([]EarningsEvent, 0, len(events))
	for _, e := range events {
		d := truncateDay(e.Date)
		if d.Before(from) || d.After(to) {
			continue
		}
		e.Date = d
		out = append(out, e)
	}
	return out
}

// GetDividends returns dividends with ex-dates within windowDays for the given
// symbols. There is no synthetic fallback; an empty result means nothing is known.
func (r *Resolver) GetDividends(ctx context.Context, symbols []string, windowDays int) ([]DividendEvent, error) {
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s = NormalizeSymbol(s); s != "" {
			wanted[s] = true
		}
	}
	if len(wanted) == 0 {
		return nil, ErrEmptySymbols
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from := truncateDay(r.now())
	to := from.AddDate(0, 0, windowDays)
	key := fmt.Sprintf("*@%d", windowDays)

	var calendar []DividendEvent
	if v, ok := r.cache.Get(key, KindDividends); ok {
		calendar = v.([]DividendEvent)
	} else {
		found := r.eachTier(KindDividends, "*", func(t tier) (bool, error) {
			events, err := t.provider.DividendCalendar(ctx, from, to)
			if err != nil {
				return false, err
			}
			calendar = make([]DividendEvent, 0, len(events))
			for _, e := range events {
				ex := truncateDay(e.ExDate)
				if ex.Before(from) || ex.After(to) {
					continue
				}
				e.ExDate = ex
				e.Source = t.source
				calendar = append(calendar, e)
			}
			r.cache.Put(key, KindDividends, calendar)
			r.served(KindDividends, t.source)
			return true, nil
		})
		if !found {
			r.log.Info().Msg("no provider could supply a dividend calendar")
		}
	}

	var out []DividendEvent
	for _, e := range calendar {
		if wanted[e.Symbol] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExDate.Equal(out[j].ExDate) {
			return out[i].ExDate.Before(out[j].ExDate)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func copyQuote(q *Quote) *Quote {
	c := *q
	return &c
}

func copySeries(h *HistoricalSeries) *HistoricalSeries {
	c := *h
	c.Bars = append([]Bar(nil), h.Bars...)
	return &c
}

func copyFundamentals(f *Fundamentals) *Fundamentals {
	c := *f
	c.Ratios = make(map[string]*float64, len(f.Ratios))
	for k, v := range f.Ratios {
		c.Ratios[k] = v
	}
	return &c
}
