// Package alerts evaluates the watchlist against market data and sends each
// distinguishable event to the notifier at most once.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
	"github.com/Rajchodisetti/stock-alerts/internal/config"
	"github.com/Rajchodisetti/stock-alerts/internal/dedup"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
	"github.com/Rajchodisetti/stock-alerts/internal/watchlist"
)

const (
	shortMAPeriod  = 50
	longMAPeriod   = 200
	crossoverYears = 1825
	watchZoneNear  = -5.0
	watchZoneFar   = -15.0
)

// Result summarizes one evaluator run
type Result struct {
	Kind    dedup.Kind `json:"kind"`
	Checked int        `json:"checked"`
	Sent    int        `json:"sent"`
	Skipped int        `json:"skipped"`
	Failed  int        `json:"failed"`
}

// Check is one named evaluator
type Check struct {
	Kind     dedup.Kind
	Schedule config.Schedule
	Run      func(ctx context.Context) (Result, error)
}

// Options wires an Engine. Charts and History are optional.
type Options struct {
	Data      MarketData
	Watchlist watchlist.Store
	Dedup     dedup.Log
	Notifier  Notifier
	Charts    ChartRenderer
	History   *History
	Config    config.Alerts
	Now       func() time.Time
}

// Engine runs the alert evaluators. Each evaluator is sequential: fetch, dedup
// check, notify, then record the key. A failed send leaves the key unrecorded so the
// event is retried on the next run.
type Engine struct {
	data      MarketData
	watchlist watchlist.Store
	dedup     dedup.Log
	notifier  Notifier
	charts    ChartRenderer
	history   *History
	cfg       config.Alerts
	now       func() time.Time
	log       zerolog.Logger
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		data:      opts.Data,
		watchlist: opts.Watchlist,
		dedup:     opts.Dedup,
		notifier:  opts.Notifier,
		charts:    opts.Charts,
		history:   opts.History,
		cfg:       opts.Config,
		now:       opts.Now,
		log:       observ.Component("alerts"),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.history == nil {
		e.history = NewHistory(100)
	}
	return e
}

// History returns the recent-alert ring
func (e *Engine) History() *History { return e.history }

// Checks lists every evaluator with its schedule
func (e *Engine) Checks() []Check {
	return []Check{
		{dedup.StockInterval, e.cfg.Stock, e.CheckStockInterval},
		{dedup.Earnings, e.cfg.Earnings, e.CheckEarnings},
		{dedup.Dividends, e.cfg.Dividend, e.CheckDividends},
		{dedup.MACrossover, e.cfg.MACrossover, e.CheckMACrossovers},
		{dedup.High52Week, e.cfg.High52, e.CheckHigh52Week},
		{dedup.BuyDip, e.cfg.BuyDip, e.CheckBuyDip},
	}
}

// RunAll runs every evaluator once in order. An evaluator error is logged and the
// next evaluator still runs; the first error is returned.
func (e *Engine) RunAll(ctx context.Context) ([]Result, error) {
	var results []Result
	var firstErr error
	for _, c := range e.Checks() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := c.Run(ctx)
		results = append(results, res)
		if err != nil {
			e.log.Error().Err(err).Str("kind", string(c.Kind)).Msg("alert check failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return results, firstErr
}

func (e *Engine) symbols() ([]string, error) {
	list, err := e.watchlist.List()
	if err != nil {
		return nil, fmt.Errorf("failed to read watchlist: %w", err)
	}
	return list, nil
}

// emit sends text (and an optional photo) for key unless the key is already logged.
// It reports whether a notification went out.
func (e *Engine) emit(ctx context.Context, kind dedup.Kind, symbol, key, text, photo, caption string) (bool, error) {
	seen, err := e.dedup.Has(kind, key)
	if err != nil {
		return false, fmt.Errorf("dedup lookup failed: %w", err)
	}
	if seen {
		observ.IncCounter("alerts_deduplicated_total", map[string]string{"kind": string(kind)})
		return false, nil
	}

	if err := e.notifier.SendMessage(ctx, text); err != nil {
		observ.IncCounter("alerts_failed_total", map[string]string{"kind": string(kind)})
		return false, fmt.Errorf("failed to send %s alert for %s: %w", kind, symbol, err)
	}
	if photo != "" {
		if err := e.notifier.SendPhoto(ctx, photo, caption); err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("chart upload failed")
		}
	}

	// the key is recorded only after delivery; a crash in between resends once
	if err := e.dedup.Add(kind, key); err != nil {
		e.log.Error().Err(err).Str("kind", string(kind)).Str("key", key).Msg("failed to record alert key")
	}
	e.history.Record(kind, symbol, key, text, e.now())
	observ.IncCounter("alerts_sent_total", map[string]string{"kind": string(kind)})
	observ.Log("alert_sent", map[string]any{"kind": string(kind), "symbol": symbol, "key": key})
	return true, nil
}

// tally folds one emit outcome into res
func (e *Engine) tally(res *Result, symbol string, sent bool, err error) {
	switch {
	case err != nil:
		res.Failed++
		e.log.Error().Err(err).Str("kind", string(res.Kind)).Str("symbol", symbol).Msg("alert failed")
	case sent:
		res.Sent++
	default:
		res.Skipped++
	}
}

func (e *Engine) quotes(ctx context.Context, kind dedup.Kind) ([]string, map[string]*adapters.Quote, error) {
	symbols, err := e.symbols()
	if err != nil || len(symbols) == 0 {
		return symbols, nil, err
	}
	quotes, err := e.data.GetQuotesBatch(ctx, symbols)
	if err != nil {
		return nil, nil, err
	}
	e.log.Debug().Str("kind", string(kind)).Int("symbols", len(symbols)).Int("quotes", len(quotes)).Msg("quotes resolved")
	return symbols, quotes, nil
}

// usable reports whether q may drive a price alert. Synthetic quotes never do.
func (e *Engine) usable(kind dedup.Kind, symbol string, q *adapters.Quote) bool {
	if q == nil {
		e.log.Warn().Str("kind", string(kind)).Str("symbol", symbol).Msg("no quote")
		return false
	}
	if q.Synthetic() {
		observ.IncCounter("alerts_synthetic_skipped_total", map[string]string{"kind": string(kind)})
		e.log.Info().Str("kind", string(kind)).Str("symbol", symbol).Msg("skipping synthetic quote")
		return false
	}
	return true
}

func (e *Engine) companyName(symbol string, q *adapters.Quote) string {
	if q != nil && q.Name != "" {
		return q.Name
	}
	return e.data.CompanyName(symbol)
}

// CheckBuyDip alerts when a price has fallen BuyDipThresholdPct or more below its
// 52-week high
func (e *Engine) CheckBuyDip(ctx context.Context) (Result, error) {
	res := Result{Kind: dedup.BuyDip}
	symbols, quotes, err := e.quotes(ctx, res.Kind)
	if err != nil {
		return res, err
	}
	for _, sym := range symbols {
		q := quotes[sym]
		res.Checked++
		if !e.usable(res.Kind, sym, q) || q.YearHigh <= 0 {
			res.Skipped++
			continue
		}
		drop := (q.YearHigh - q.Price) / q.YearHigh * 100
		if drop < e.cfg.BuyDipThresholdPct {
			res.Skipped++
			continue
		}
		key := fmt.Sprintf("%s_dip_%s_%s", sym, Fixed2(q.Price), Fixed2(q.YearHigh))
		sent, err := e.emit(ctx, res.Kind, sym, key, buyDipMessage(q, e.companyName(sym, q), drop), "", "")
		e.tally(&res, sym, sent, err)
	}
	return res, ctx.Err()
}

// CheckHigh52Week alerts on new highs, prices within HighThresholdPct of the high,
// and prices in the 5-15% watch zone below it
func (e *Engine) CheckHigh52Week(ctx context.Context) (Result, error) {
	res := Result{Kind: dedup.High52Week}
	symbols, quotes, err := e.quotes(ctx, res.Kind)
	if err != nil {
		return res, err
	}
	for _, sym := range symbols {
		q := quotes[sym]
		res.Checked++
		if !e.usable(res.Kind, sym, q) || q.YearHigh <= 0 {
			res.Skipped++
			continue
		}
		name := e.companyName(sym, q)
		pct := (q.Price - q.YearHigh) / q.YearHigh * 100

		var key, text string
		switch {
		case pct >= -e.cfg.HighThresholdPct:
			key = fmt.Sprintf("%s_%s_%s", sym, Fixed2(q.YearHigh), Fixed2(q.Price))
			text = newHighMessage(q, name, pct)
		case pct >= watchZoneFar && pct <= watchZoneNear:
			key = fmt.Sprintf("%s_near_high_%d", sym, int(math.Abs(pct)))
			text = watchZoneMessage(q, name, pct)
		default:
			res.Skipped++
			continue
		}
		sent, err := e.emit(ctx, res.Kind, sym, key, text, "", "")
		e.tally(&res, sym, sent, err)
	}
	return res, ctx.Err()
}

// CheckStockInterval alerts when the session change exceeds StockThresholdPct. The
// key carries the hour so the same move is reported at most once per hour and price.
func (e *Engine) CheckStockInterval(ctx context.Context) (Result, error) {
	res := Result{Kind: dedup.StockInterval}
	symbols, quotes, err := e.quotes(ctx, res.Kind)
	if err != nil {
		return res, err
	}
	now := e.now()
	for _, sym := range symbols {
		q := quotes[sym]
		res.Checked++
		if !e.usable(res.Kind, sym, q) || math.Abs(q.ChangePercent) <= e.cfg.StockThresholdPct {
			res.Skipped++
			continue
		}
		key := fmt.Sprintf("%s_%s_%s", sym, now.Format("2006-01-02 15"), Fixed2(q.Price))
		text := intervalMessage(DisplayName(sym, e.companyName(sym, q)), q, now)
		sent, err := e.emit(ctx, res.Kind, sym, key, text, "", "")
		e.tally(&res, sym, sent, err)
	}
	return res, ctx.Err()
}

// CheckMACrossovers alerts on the most recent 50/200-day SMA cross within
// MACrossoverLookbackDays. A chart is attached when a renderer is configured.
func (e *Engine) CheckMACrossovers(ctx context.Context) (Result, error) {
	res := Result{Kind: dedup.MACrossover}
	symbols, err := e.symbols()
	if err != nil {
		return res, err
	}
	since := truncateDay(e.now()).AddDate(0, 0, -e.cfg.MACrossoverLookbackDays)

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		series, err := e.data.GetHistory(ctx, sym, crossoverYears)
		if err != nil {
			return res, err
		}
		if series.Source == adapters.SourceSynthetic {
			observ.IncCounter("alerts_synthetic_skipped_total", map[string]string{"kind": string(res.Kind)})
			res.Skipped++
			continue
		}
		cross, err := DetectCrossover(series, shortMAPeriod, longMAPeriod, since)
		if errors.Is(err, ErrInsufficientHistory) {
			e.log.Info().Str("symbol", sym).Int("bars", len(series.Bars)).Msg("not enough history for crossover check")
			res.Skipped++
			continue
		}
		if cross == nil {
			res.Skipped++
			continue
		}

		key := fmt.Sprintf("%s_%s_%s", sym, cross.Type, cross.Date.Format("2006-01-02"))
		seen, err := e.dedup.Has(res.Kind, key)
		if err != nil {
			e.tally(&res, sym, false, fmt.Errorf("dedup lookup failed: %w", err))
			continue
		}
		if seen {
			observ.IncCounter("alerts_deduplicated_total", map[string]string{"kind": string(res.Kind)})
			res.Skipped++
			continue
		}
		photo := e.renderChart(sym, series)
		text := crossoverMessage(DisplayName(sym, e.data.CompanyName(sym)), *cross)
		sent, err := e.emit(ctx, res.Kind, sym, key, text, photo, crossoverCaption(sym, cross.Type))
		if photo != "" {
			_ = os.Remove(photo)
		}
		e.tally(&res, sym, sent, err)
	}
	return res, nil
}

func (e *Engine) renderChart(symbol string, series *adapters.HistoricalSeries) string {
	if e.charts == nil {
		return ""
	}
	short, long := MovingAverages(series.Closes(), shortMAPeriod, longMAPeriod)
	path, err := e.charts.RenderCrossover(symbol, series, short, long)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("chart rendering failed")
		return ""
	}
	return path
}

// CheckEarnings alerts on releases between today and EarningsDaysAhead. The calendar
// is fetched once for twice the window.
func (e *Engine) CheckEarnings(ctx context.Context) (Result, error) {
	res := Result{Kind: dedup.Earnings}
	symbols, err := e.symbols()
	if err != nil || len(symbols) == 0 {
		return res, err
	}
	events, err := e.data.GetEarningsCalendar(ctx, symbols, e.cfg.EarningsDaysAhead*2)
	if err != nil {
		return res, err
	}
	today := truncateDay(e.now())
	for _, ev := range events {
		res.Checked++
		if ev.Source == adapters.SourceSynthetic || ev.Estimated {
			res.Skipped++
			continue
		}
		days := daysBetween(today, ev.Date)
		if days < 0 || days > e.cfg.EarningsDaysAhead {
			res.Skipped++
			continue
		}
		key := fmt.Sprintf("%s_%s_expected", ev.Symbol, ev.Date.Format("2006-01-02"))
		text := earningsMessage(DisplayName(ev.Symbol, e.data.CompanyName(ev.Symbol)), ev, days)
		sent, err := e.emit(ctx, res.Kind, ev.Symbol, key, text, "", "")
		e.tally(&res, ev.Symbol, sent, err)
	}
	return res, ctx.Err()
}

// CheckDividends alerts on ex-dividend dates between today and DividendDaysAhead
func (e *Engine) CheckDividends(ctx context.Context) (Result, error) {
	res := Result{Kind: dedup.Dividends}
	symbols, err := e.symbols()
	if err != nil || len(symbols) == 0 {
		return res, err
	}
	events, err := e.data.GetDividends(ctx, symbols, e.cfg.DividendDaysAhead)
	if err != nil {
		return res, err
	}
	today := truncateDay(e.now())
	for _, ev := range events {
		res.Checked++
		days := daysBetween(today, ev.ExDate)
		if days < 0 || days > e.cfg.DividendDaysAhead {
			res.Skipped++
			continue
		}
		amount := "TBD"
		if ev.Amount != nil {
			amount = Fixed2(*ev.Amount)
		}
		key := fmt.Sprintf("%s_%s_%s", ev.Symbol, ev.ExDate.Format("2006-01-02"), amount)
		text := dividendMessage(DisplayName(ev.Symbol, e.data.CompanyName(ev.Symbol)), ev, days)
		sent, err := e.emit(ctx, res.Kind, ev.Symbol, key, text, "", "")
		e.tally(&res, ev.Symbol, sent, err)
	}
	return res, ctx.Err()
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(truncateDay(to).Sub(truncateDay(from)).Hours() / 24)
}
