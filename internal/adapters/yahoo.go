package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	YahooProviderName   = "yahoo"
	yahooDefaultBaseURL = "https://query1.finance.yahoo.com"
	yahooReferer        = "https://finance.yahoo.com/"
)

var yahooUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// YahooHeaders returns a Decorate hook that rotates browser user agents and sets the
// referer Yahoo expects from its own pages.
func YahooHeaders() func(req *http.Request) {
	var n uint64
	return func(req *http.Request) {
		i := atomic.AddUint64(&n, 1) - 1
		req.Header.Set("User-Agent", yahooUserAgents[i%uint64(len(yahooUserAgents))])
		req.Header.Set("Referer", yahooReferer)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
}

// YahooRetryable skips retries on client errors other than 429, which the
// transport handles separately.
func YahooRetryable(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout
}

// YahooConfig holds settings for the Yahoo Finance adapter
type YahooConfig struct {
	BaseURL      string
	MaxBatchSize int
}

// YahooAdapter implements Provider against Yahoo Finance's unauthenticated JSON endpoints
type YahooAdapter struct {
	config    YahooConfig
	transport *Transport
	names     *NameCache
	now       func() time.Time
}

// NewYahooAdapter creates the adapter. The transport must have YahooProviderName registered.
func NewYahooAdapter(config YahooConfig, transport *Transport, names *NameCache) *YahooAdapter {
	if config.BaseURL == "" {
		config.BaseURL = yahooDefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 20
	}
	if names == nil {
		names = NewNameCache()
	}
	return &YahooAdapter{config: config, transport: transport, names: names, now: time.Now}
}

func (y *YahooAdapter) Name() string { return YahooProviderName }

func (y *YahooAdapter) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return y.transport.Get(ctx, YahooProviderName, y.config.BaseURL+path, params)
}

type yahooChartMeta struct {
	Symbol               string  `json:"symbol"`
	LongName             string  `json:"longName"`
	ShortName            string  `json:"shortName"`
	RegularMarketPrice   float64 `json:"regularMarketPrice"`
	PreviousClose        float64 `json:"previousClose"`
	ChartPreviousClose   float64 `json:"chartPreviousClose"`
	RegularMarketVolume  float64 `json:"regularMarketVolume"`
	RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
	FiftyTwoWeekHigh     float64 `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow      float64 `json:"fiftyTwoWeekLow"`
}

type yahooChartResult struct {
	Meta       yahooChartMeta `json:"meta"`
	Timestamp  []int64        `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type yahooChartResponse struct {
	Chart struct {
		Result []yahooChartResult `json:"result"`
		Error  *yahooError        `json:"error"`
	} `json:"chart"`
}

func (y *YahooAdapter) chart(ctx context.Context, symbol string, params url.Values) (*yahooChartResult, error) {
	body, err := y.get(ctx, "/v8/finance/chart/"+ProviderSymbol(YahooProviderName, symbol), params)
	if err != nil {
		return nil, err
	}
	var resp yahooChartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewMalformedError(YahooProviderName, symbol, err)
	}
	if resp.Chart.Error != nil {
		return nil, &QuoteError{Type: ErrTypeProvider, Provider: YahooProviderName, Symbol: symbol, Message: resp.Chart.Error.Description}
	}
	if len(resp.Chart.Result) == 0 {
		return nil, NewNotFoundError(YahooProviderName, symbol)
	}
	return &resp.Chart.Result[0], nil
}

// Quote reads the chart endpoint's meta block
func (y *YahooAdapter) Quote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = NormalizeSymbol(symbol)
	res, err := y.chart(ctx, symbol, url.Values{"range": {"1d"}, "interval": {"1d"}})
	if err != nil {
		return nil, err
	}
	m := res.Meta
	prev := m.PreviousClose
	if prev == 0 {
		prev = m.ChartPreviousClose
	}
	q := &Quote{
		Symbol:    symbol,
		Name:      firstNonEmpty(m.LongName, m.ShortName),
		Price:     m.RegularMarketPrice,
		Volume:    int64(m.RegularMarketVolume),
		DayHigh:   m.RegularMarketDayHigh,
		DayLow:    m.RegularMarketDayLow,
		YearHigh:  m.FiftyTwoWeekHigh,
		YearLow:   m.FiftyTwoWeekLow,
		Provider:  YahooProviderName,
		FetchedAt: y.now(),
	}
	if prev > 0 {
		q.Change = m.RegularMarketPrice - prev
		q.ChangePercent = q.Change / prev * 100
	}
	if err := ValidateQuote(q); err != nil {
		return nil, NewMalformedError(YahooProviderName, symbol, err)
	}
	if q.Name == "" {
		q.Name, _ = y.names.Get(symbol)
	}
	y.names.Set(symbol, q.Name)
	return q, nil
}

type yahooQuoteRow struct {
	Symbol                     string   `json:"symbol"`
	LongName                   string   `json:"longName"`
	ShortName                  string   `json:"shortName"`
	RegularMarketPrice         float64  `json:"regularMarketPrice"`
	RegularMarketChange        float64  `json:"regularMarketChange"`
	RegularMarketChangePercent float64  `json:"regularMarketChangePercent"`
	RegularMarketVolume        float64  `json:"regularMarketVolume"`
	RegularMarketDayHigh       float64  `json:"regularMarketDayHigh"`
	RegularMarketDayLow        float64  `json:"regularMarketDayLow"`
	FiftyTwoWeekHigh           float64  `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow            float64  `json:"fiftyTwoWeekLow"`
	MarketCap                  *float64 `json:"marketCap"`
}

// Quotes uses the multi-symbol quote endpoint, falling back to one chart call per
// symbol when that endpoint refuses the request.
func (y *YahooAdapter) Quotes(ctx context.Context, symbols []string) (map[string]*Quote, error) {
	out := make(map[string]*Quote, len(symbols))
	for start := 0; start < len(symbols); start += y.config.MaxBatchSize {
		end := start + y.config.MaxBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk := symbols[start:end]
		got, err := y.batch(ctx, chunk)
		if err != nil {
			if IsErrorType(err, ErrTypeDisabled) || ctx.Err() != nil {
				return out, err
			}
			got = make(map[string]*Quote, len(chunk))
			for _, sym := range chunk {
				if q, qerr := y.Quote(ctx, sym); qerr == nil {
					got[q.Symbol] = q
				} else if IsErrorType(qerr, ErrTypeDisabled) {
					break
				}
			}
		}
		for sym, q := range got {
			out[sym] = q
		}
	}
	y.names.MergeQuotes(out)
	return out, nil
}

func (y *YahooAdapter) batch(ctx context.Context, symbols []string) (map[string]*Quote, error) {
	body, err := y.get(ctx, "/v7/finance/quote", url.Values{"symbols": {strings.Join(providerSymbols(YahooProviderName, symbols), ",")}})
	if err != nil {
		return nil, err
	}
	var resp struct {
		QuoteResponse struct {
			Result []yahooQuoteRow `json:"result"`
			Error  *yahooError     `json:"error"`
		} `json:"quoteResponse"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewMalformedError(YahooProviderName, strings.Join(symbols, ","), err)
	}
	if resp.QuoteResponse.Error != nil {
		return nil, NewProviderError(YahooProviderName, resp.QuoteResponse.Error.Description, nil)
	}
	now := y.now()
	out := make(map[string]*Quote, len(resp.QuoteResponse.Result))
	for _, r := range resp.QuoteResponse.Result {
		q := &Quote{
			Symbol:        NormalizeSymbol(r.Symbol),
			Name:          firstNonEmpty(r.LongName, r.ShortName),
			Price:         r.RegularMarketPrice,
			Change:        r.RegularMarketChange,
			ChangePercent: r.RegularMarketChangePercent,
			Volume:        int64(r.RegularMarketVolume),
			DayHigh:       r.RegularMarketDayHigh,
			DayLow:        r.RegularMarketDayLow,
			YearHigh:      r.FiftyTwoWeekHigh,
			YearLow:       r.FiftyTwoWeekLow,
			MarketCap:     r.MarketCap,
			Provider:      YahooProviderName,
			FetchedAt:     now,
		}
		if ValidateQuote(q) == nil {
			out[q.Symbol] = q
		}
	}
	return out, nil
}

// History returns daily bars from the chart endpoint, skipping null candles
func (y *YahooAdapter) History(ctx context.Context, symbol string, from, to time.Time) (*HistoricalSeries, error) {
	symbol = NormalizeSymbol(symbol)
	params := url.Values{
		"period1":  {strconv.FormatInt(from.Unix(), 10)},
		"period2":  {strconv.FormatInt(to.Unix(), 10)},
		"interval": {"1d"},
	}
	res, err := y.chart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	if len(res.Indicators.Quote) == 0 {
		return nil, NewNotFoundError(YahooProviderName, symbol)
	}
	ind := res.Indicators.Quote[0]
	at := func(vals []*float64, i int) float64 {
		if i < len(vals) && vals[i] != nil {
			return *vals[i]
		}
		return 0
	}

	bars := make([]Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(ind.Close) || ind.Close[i] == nil || *ind.Close[i] <= 0 {
			continue
		}
		d := time.Unix(ts, 0).UTC()
		bars = append(bars, Bar{
			Date:   time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
			Open:   at(ind.Open, i),
			High:   at(ind.High, i),
			Low:    at(ind.Low, i),
			Close:  *ind.Close[i],
			Volume: int64(at(ind.Volume, i)),
		})
	}
	if len(bars) == 0 {
		return nil, NewNotFoundError(YahooProviderName, symbol)
	}
	y.names.Set(symbol, firstNonEmpty(res.Meta.LongName, res.Meta.ShortName))
	return &HistoricalSeries{Symbol: symbol, Bars: bars, Provider: YahooProviderName, FetchedAt: y.now()}, nil
}

type yahooSummaryResponse struct {
	QuoteSummary struct {
		Result []map[string]map[string]json.RawMessage `json:"result"`
		Error  *yahooError                             `json:"error"`
	} `json:"quoteSummary"`
}

func (y *YahooAdapter) summary(ctx context.Context, symbol, modules string) (map[string]map[string]json.RawMessage, error) {
	body, err := y.get(ctx, "/v10/finance/quoteSummary/"+ProviderSymbol(YahooProviderName, symbol), url.Values{"modules": {modules}})
	if err != nil {
		return nil, err
	}
	var resp yahooSummaryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewMalformedError(YahooProviderName, symbol, err)
	}
	if resp.QuoteSummary.Error != nil {
		return nil, &QuoteError{Type: ErrTypeProvider, Provider: YahooProviderName, Symbol: symbol, Message: resp.QuoteSummary.Error.Description}
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, NewNotFoundError(YahooProviderName, symbol)
	}
	return resp.QuoteSummary.Result[0], nil
}

// rawValue extracts {"raw": n} from a quoteSummary field
func rawValue(module map[string]json.RawMessage, field string) *float64 {
	data, ok := module[field]
	if !ok {
		return nil
	}
	var v struct {
		Raw *float64 `json:"raw"`
	}
	if json.Unmarshal(data, &v) != nil {
		return nil
	}
	return v.Raw
}

func stringValue(module map[string]json.RawMessage, field string) string {
	var s string
	if data, ok := module[field]; ok && json.Unmarshal(data, &s) == nil {
		return s
	}
	return ""
}

// yahooRatioFields maps canonical ratio names to (module, field) pairs in lookup order
var yahooRatioFields = map[string][][2]string{
	"pe_ratio":          {{"summaryDetail", "trailingPE"}, {"defaultKeyStatistics", "trailingPE"}},
	"forward_pe":        {{"defaultKeyStatistics", "forwardPE"}, {"summaryDetail", "forwardPE"}},
	"peg_ratio":         {{"defaultKeyStatistics", "pegRatio"}},
	"price_to_book":     {{"defaultKeyStatistics", "priceToBook"}},
	"price_to_sales":    {{"summaryDetail", "priceToSalesTrailing12Months"}},
	"profit_margins":    {{"financialData", "profitMargins"}, {"defaultKeyStatistics", "profitMargins"}},
	"gross_margins":     {{"financialData", "grossMargins"}},
	"operating_margins": {{"financialData", "operatingMargins"}},
	"return_on_equity":  {{"financialData", "returnOnEquity"}},
	"return_on_assets":  {{"financialData", "returnOnAssets"}},
	"debt_to_equity":    {{"financialData", "debtToEquity"}},
	"current_ratio":     {{"financialData", "currentRatio"}},
	"quick_ratio":       {{"financialData", "quickRatio"}},
	"dividend_yield":    {{"summaryDetail", "dividendYield"}},
}

// Fundamentals reads profile and ratio modules from quoteSummary
func (y *YahooAdapter) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	symbol = NormalizeSymbol(symbol)
	res, err := y.summary(ctx, symbol, "assetProfile,financialData,defaultKeyStatistics,summaryDetail,price")
	if err != nil {
		return nil, err
	}

	profile := res["assetProfile"]
	if profile == nil {
		profile = res["summaryProfile"]
	}
	price := res["price"]
	desc := clipDescription(stringValue(profile, "longBusinessSummary"))
	name := firstNonEmpty(stringValue(price, "longName"), stringValue(price, "shortName"))
	if name == "" {
		name, _ = y.names.Get(symbol)
	}
	marketCap := rawValue(price, "marketCap")
	if marketCap == nil {
		marketCap = rawValue(res["summaryDetail"], "marketCap")
	}

	fund := &Fundamentals{
		Symbol:      symbol,
		Name:        name,
		Sector:      stringValue(profile, "sector"),
		Industry:    stringValue(profile, "industry"),
		Description: desc,
		MarketCap:   marketCap,
		Ratios:      emptyRatios(),
		Provider:    YahooProviderName,
		FetchedAt:   y.now(),
	}
	for ratio, lookups := range yahooRatioFields {
		for _, l := range lookups {
			if v := rawValue(res[l[0]], l[1]); v != nil {
				fund.Ratios[ratio] = v
				break
			}
		}
	}
	y.names.Set(symbol, name)
	return fund, nil
}

// Earnings reads the next scheduled release dates from calendarEvents
func (y *YahooAdapter) Earnings(ctx context.Context, symbol string, from, to time.Time) ([]EarningsEvent, error) {
	symbol = NormalizeSymbol(symbol)
	res, err := y.summary(ctx, symbol, "calendarEvents")
	if err != nil {
		return nil, err
	}
	var earnings struct {
		EarningsDate []struct {
			Raw int64 `json:"raw"`
		} `json:"earningsDate"`
		EarningsAverage struct {
			Raw *float64 `json:"raw"`
		} `json:"earningsAverage"`
	}
	data, ok := res["calendarEvents"]["earnings"]
	if !ok {
		return nil, NewNotFoundError(YahooProviderName, symbol)
	}
	if err := json.Unmarshal(data, &earnings); err != nil {
		return nil, NewMalformedError(YahooProviderName, symbol, err)
	}

	fromDay := truncateDay(from)
	toDay := truncateDay(to)
	var out []EarningsEvent
	for _, d := range earnings.EarningsDate {
		day := truncateDay(time.Unix(d.Raw, 0))
		if day.Before(fromDay) || day.After(toDay) {
			continue
		}
		out = append(out, EarningsEvent{
			Symbol:      symbol,
			Date:        day,
			EPSEstimate: earnings.EarningsAverage.Raw,
		})
		break
	}
	return out, nil
}

func (y *YahooAdapter) EarningsCalendar(ctx context.Context, from, to time.Time) ([]EarningsEvent, error) {
	return nil, NewUnsupportedError(YahooProviderName, "earnings calendar")
}

func (y *YahooAdapter) DividendCalendar(ctx context.Context, from, to time.Time) ([]DividendEvent, error) {
	return nil, NewUnsupportedError(YahooProviderName, "dividend calendar")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
