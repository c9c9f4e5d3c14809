package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	FMPProviderName   = "fmp"
	fmpDefaultBaseURL = "https://financialmodelingprep.com/api/v3"
	fmpDateLayout     = "2006-01-02"
)

// FMPConfig holds settings for the Financial Modeling Prep adapter
type FMPConfig struct {
	APIKey       string
	BaseURL      string
	MaxBatchSize int
}

// FMPAdapter implements Provider for Financial Modeling Prep (paid, keyed)
type FMPAdapter struct {
	config    FMPConfig
	transport *Transport
	names     *NameCache
	now       func() time.Time
}

// NewFMPAdapter creates the adapter. The transport must have FMPProviderName registered.
func NewFMPAdapter(config FMPConfig, transport *Transport, names *NameCache) (*FMPAdapter, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("FMP API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = fmpDefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 5
	}
	if names == nil {
		names = NewNameCache()
	}
	return &FMPAdapter{config: config, transport: transport, names: names, now: time.Now}, nil
}

func (f *FMPAdapter) Name() string { return FMPProviderName }

func (f *FMPAdapter) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", f.config.APIKey)
	return f.transport.Get(ctx, FMPProviderName, f.config.BaseURL+path, params)
}

type fmpQuote struct {
	Symbol            string   `json:"symbol"`
	Name              string   `json:"name"`
	Price             float64  `json:"price"`
	ChangesPercentage float64  `json:"changesPercentage"`
	Change            float64  `json:"change"`
	DayLow            float64  `json:"dayLow"`
	DayHigh           float64  `json:"dayHigh"`
	YearHigh          float64  `json:"yearHigh"`
	YearLow           float64  `json:"yearLow"`
	MarketCap         *float64 `json:"marketCap"`
	Volume            float64  `json:"volume"`
}

func (q fmpQuote) toQuote(now time.Time) *Quote {
	return &Quote{
		Symbol:        NormalizeSymbol(q.Symbol),
		Name:          q.Name,
		Price:         q.Price,
		Change:        q.Change,
		ChangePercent: q.ChangesPercentage,
		Volume:        int64(q.Volume),
		DayHigh:       q.DayHigh,
		DayLow:        q.DayLow,
		YearHigh:      q.YearHigh,
		YearLow:       q.YearLow,
		MarketCap:     q.MarketCap,
		Provider:      FMPProviderName,
		FetchedAt:     now,
	}
}

func (f *FMPAdapter) fetchQuotes(ctx context.Context, symbols []string) (map[string]*Quote, error) {
	body, err := f.get(ctx, "/quote/"+strings.Join(providerSymbols(FMPProviderName, symbols), ","), nil)
	if err != nil {
		return nil, err
	}
	var raw []fmpQuote
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, NewMalformedError(FMPProviderName, strings.Join(symbols, ","), err)
	}
	now := f.now()
	out := make(map[string]*Quote, len(raw))
	for _, r := range raw {
		q := r.toQuote(now)
		if ValidateQuote(q) != nil {
			continue
		}
		if q.Name == "" {
			q.Name, _ = f.names.Get(q.Symbol)
		}
		out[q.Symbol] = q
	}
	return out, nil
}

// Quote fetches a single symbol
func (f *FMPAdapter) Quote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = NormalizeSymbol(symbol)
	quotes, err := f.fetchQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	q, ok := quotes[symbol]
	if !ok {
		return nil, NewNotFoundError(FMPProviderName, symbol)
	}
	f.names.Set(symbol, q.Name)
	return q, nil
}

// Quotes fetches symbols in comma-joined chunks of MaxBatchSize. Failed chunks are
// skipped; an error is returned only when no chunk succeeded.
func (f *FMPAdapter) Quotes(ctx context.Context, symbols []string) (map[string]*Quote, error) {
	out := make(map[string]*Quote, len(symbols))
	var lastErr error
	succeeded := 0
	for start := 0; start < len(symbols); start += f.config.MaxBatchSize {
		end := start + f.config.MaxBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk, err := f.fetchQuotes(ctx, symbols[start:end])
		if err != nil {
			lastErr = err
			if IsErrorType(err, ErrTypeDisabled) || ctx.Err() != nil {
				break
			}
			continue
		}
		succeeded++
		for sym, q := range chunk {
			out[sym] = q
		}
	}
	f.names.MergeQuotes(out)
	if succeeded == 0 && lastErr != nil {
		return out, lastErr
	}
	return out, nil
}

type fmpBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// History returns daily bars in the provider's native (newest-first) order
func (f *FMPAdapter) History(ctx context.Context, symbol string, from, to time.Time) (*HistoricalSeries, error) {
	symbol = NormalizeSymbol(symbol)
	params := url.Values{
		"from": {from.Format(fmpDateLayout)},
		"to":   {to.Format(fmpDateLayout)},
	}
	body, err := f.get(ctx, "/historical-price-full/"+ProviderSymbol(FMPProviderName, symbol), params)
	if err != nil {
		return nil, err
	}

	var rows []fmpBar
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		err = json.Unmarshal(trimmed, &rows)
	default:
		var wrapped struct {
			Historical []fmpBar `json:"historical"`
		}
		err = json.Unmarshal(trimmed, &wrapped)
		rows = wrapped.Historical
	}
	if err != nil {
		return nil, NewMalformedError(FMPProviderName, symbol, err)
	}

	bars := make([]Bar, 0, len(rows))
	for _, r := range rows {
		d, err := time.Parse(fmpDateLayout, r.Date)
		if err != nil || r.Close <= 0 {
			continue
		}
		bars = append(bars, Bar{Date: d, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: int64(r.Volume)})
	}
	if len(bars) == 0 {
		return nil, NewNotFoundError(FMPProviderName, symbol)
	}
	return &HistoricalSeries{Symbol: symbol, Bars: bars, Provider: FMPProviderName, FetchedAt: f.now()}, nil
}

type fmpProfile struct {
	Symbol      string   `json:"symbol"`
	CompanyName string   `json:"companyName"`
	Sector      string   `json:"sector"`
	Industry    string   `json:"industry"`
	Description string   `json:"description"`
	MktCap      *float64 `json:"mktCap"`
}

// fmpKeyMetricFields and fmpRatioFields map FMP response fields to canonical ratio names
var fmpKeyMetricFields = map[string]string{
	"peRatio":           "pe_ratio",
	"pbRatio":           "price_to_book",
	"priceToSalesRatio": "price_to_sales",
	"roe":               "return_on_equity",
	"debtToEquity":      "debt_to_equity",
	"currentRatio":      "current_ratio",
	"dividendYield":     "dividend_yield",
}

var fmpRatioFields = map[string]string{
	"priceEarningsToGrowthRatio": "peg_ratio",
	"returnOnAssets":             "return_on_assets",
	"grossProfitMargin":          "gross_margins",
	"operatingProfitMargin":      "operating_margins",
	"netProfitMargin":            "profit_margins",
	"quickRatio":                 "quick_ratio",
	"priceEarningsRatio":         "pe_ratio",
	"priceToBookRatio":           "price_to_book",
	"returnOnEquity":             "return_on_equity",
	"debtEquityRatio":            "debt_to_equity",
	"currentRatio":               "current_ratio",
	"dividendYield":              "dividend_yield",
}

// Fundamentals combines profile, latest annual key metrics and ratios. Metric and ratio
// failures leave the affected ratios nil.
func (f *FMPAdapter) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	symbol = NormalizeSymbol(symbol)
	body, err := f.get(ctx, "/profile/"+ProviderSymbol(FMPProviderName, symbol), nil)
	if err != nil {
		return nil, err
	}
	var profiles []fmpProfile
	if err := json.Unmarshal(body, &profiles); err != nil {
		return nil, NewMalformedError(FMPProviderName, symbol, err)
	}
	if len(profiles) == 0 {
		return nil, NewNotFoundError(FMPProviderName, symbol)
	}
	p := profiles[0]

	desc := clipDescription(p.Description)
	fund := &Fundamentals{
		Symbol:      symbol,
		Name:        p.CompanyName,
		Sector:      p.Sector,
		Industry:    p.Industry,
		Description: desc,
		MarketCap:   p.MktCap,
		Ratios:      emptyRatios(),
		Provider:    FMPProviderName,
		FetchedAt:   f.now(),
	}
	f.names.Set(symbol, p.CompanyName)

	params := url.Values{"period": {"annual"}, "limit": {"1"}}
	sources := []struct {
		path   string
		fields map[string]string
	}{
		{"/key-metrics/", fmpKeyMetricFields},
		{"/ratios/", fmpRatioFields},
	}
	for _, src := range sources {
		body, err := f.get(ctx, src.path+ProviderSymbol(FMPProviderName, symbol), params)
		if err != nil {
			continue
		}
		var rows []map[string]any
		if json.Unmarshal(body, &rows) != nil || len(rows) == 0 {
			continue
		}
		for field, name := range src.fields {
			if fund.Ratios[name] != nil {
				continue
			}
			if v, ok := rows[0][field].(float64); ok {
				val := v
				fund.Ratios[name] = &val
			}
		}
	}
	return fund, nil
}

type fmpEarning struct {
	Date         string   `json:"date"`
	Symbol       string   `json:"symbol"`
	EPSEstimated *float64 `json:"epsEstimated"`
	Time         string   `json:"time"`
}

// EarningsCalendar returns every scheduled release between from and to
func (f *FMPAdapter) EarningsCalendar(ctx context.Context, from, to time.Time) ([]EarningsEvent, error) {
	params := url.Values{
		"from": {from.Format(fmpDateLayout)},
		"to":   {to.Format(fmpDateLayout)},
	}
	body, err := f.get(ctx, "/earning_calendar", params)
	if err != nil {
		return nil, err
	}
	var rows []fmpEarning
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, NewMalformedError(FMPProviderName, "", err)
	}
	out := make([]EarningsEvent, 0, len(rows))
	for _, r := range rows {
		d, err := time.Parse(fmpDateLayout, r.Date)
		if err != nil || r.Symbol == "" {
			continue
		}
		out = append(out, EarningsEvent{
			Symbol:      NormalizeSymbol(r.Symbol),
			Date:        d,
			EPSEstimate: r.EPSEstimated,
			Time:        r.Time,
		})
	}
	return out, nil
}

// Earnings filters the calendar to one symbol
func (f *FMPAdapter) Earnings(ctx context.Context, symbol string, from, to time.Time) ([]EarningsEvent, error) {
	all, err := f.EarningsCalendar(ctx, from, to)
	if err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)
	var out []EarningsEvent
	for _, e := range all {
		if e.Symbol == symbol {
			out = append(out, e)
		}
	}
	return out, nil
}

type fmpDividend struct {
	Date            string   `json:"date"`
	Symbol          string   `json:"symbol"`
	Dividend        *float64 `json:"dividend"`
	AdjDividend     *float64 `json:"adjDividend"`
	RecordDate      string   `json:"recordDate"`
	PaymentDate     string   `json:"paymentDate"`
	DeclarationDate string   `json:"declarationDate"`
}

// DividendCalendar returns every dividend with an ex-date between from and to
func (f *FMPAdapter) DividendCalendar(ctx context.Context, from, to time.Time) ([]DividendEvent, error) {
	params := url.Values{
		"from": {from.Format(fmpDateLayout)},
		"to":   {to.Format(fmpDateLayout)},
	}
	body, err := f.get(ctx, "/stock_dividend_calendar", params)
	if err != nil {
		return nil, err
	}
	var rows []fmpDividend
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, NewMalformedError(FMPProviderName, "", err)
	}
	out := make([]DividendEvent, 0, len(rows))
	for _, r := range rows {
		ex, err := time.Parse(fmpDateLayout, r.Date)
		if err != nil || r.Symbol == "" {
			continue
		}
		amount := r.Dividend
		if amount == nil {
			amount = r.AdjDividend
		}
		out = append(out, DividendEvent{
			Symbol:          NormalizeSymbol(r.Symbol),
			ExDate:          ex,
			PaymentDate:     parseOptionalDate(r.PaymentDate),
			RecordDate:      parseOptionalDate(r.RecordDate),
			DeclarationDate: parseOptionalDate(r.DeclarationDate),
			Amount:          amount,
		})
	}
	return out, nil
}

func parseOptionalDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	d, err := time.Parse(fmpDateLayout, s)
	if err != nil {
		return nil
	}
	return &d
}
