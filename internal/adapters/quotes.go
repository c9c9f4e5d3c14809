package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Source tags which tier of the resolver produced a record
type Source string

const (
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
	SourceSynthetic Source = "synthetic"
)

// Kind is the request kind half of a cache key
type Kind string

const (
	KindQuote        Kind = "quote"
	KindHistory      Kind = "history"
	KindFundamentals Kind = "fundamentals"
	KindEarnings     Kind = "earnings"
	KindDividends    Kind = "dividends"
)

// Provider is one upstream market-data source. Implementations only normalize
// responses; caching, retries and fallback live in the Transport and Resolver.
type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (*Quote, error)
	Quotes(ctx context.Context, symbols []string) (map[string]*Quote, error)
	History(ctx context.Context, symbol string, from, to time.Time) (*HistoricalSeries, error)
	Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error)
	Earnings(ctx context.Context, symbol string, from, to time.Time) ([]EarningsEvent, error)
	EarningsCalendar(ctx context.Context, from, to time.Time) ([]EarningsEvent, error)
	DividendCalendar(ctx context.Context, from, to time.Time) ([]DividendEvent, error)
}

// Quote represents normalized market data from any provider
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name,omitempty"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	DayHigh       float64   `json:"day_high"`
	DayLow        float64   `json:"day_low"`
	YearHigh      float64   `json:"year_high"`
	YearLow       float64   `json:"year_low"`
	MarketCap     *float64  `json:"market_cap,omitempty"`
	Source        Source    `json:"source"`
	Provider      string    `json:"provider"` // "fmp"|"yahoo"|"synthetic"
	FetchedAt     time.Time `json:"fetched_at"`
}

// Synthetic reports whether the quote is placeholder data
func (q *Quote) Synthetic() bool {
	return q != nil && q.Source == SourceSynthetic
}

// ValidateQuote rejects quotes that must be treated as absent data
func ValidateQuote(quote *Quote) error {
	if quote == nil {
		return fmt.Errorf("quote is nil")
	}
	quote.Symbol = NormalizeSymbol(quote.Symbol)
	if quote.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if quote.Price <= 0 {
		return fmt.Errorf("invalid price %.4f for %s", quote.Price, quote.Symbol)
	}
	if quote.Volume < 0 {
		return fmt.Errorf("negative volume: %d", quote.Volume)
	}
	return nil
}

// Bar is one daily OHLCV candle
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// HistoricalSeries holds daily bars in ascending date order
type HistoricalSeries struct {
	Symbol    string    `json:"symbol"`
	Bars      []Bar     `json:"bars"`
	Source    Source    `json:"source"`
	Provider  string    `json:"provider"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Closes returns the close prices in bar order
func (h *HistoricalSeries) Closes() []float64 {
	out := make([]float64, len(h.Bars))
	for i, b := range h.Bars {
		out[i] = b.Close
	}
	return out
}

// Fundamentals is a company profile plus valuation/profitability ratios.
// A ratio the provider did not report is nil.
type Fundamentals struct {
	Symbol      string              `json:"symbol"`
	Name        string              `json:"name,omitempty"`
	Sector      string              `json:"sector,omitempty"`
	Industry    string              `json:"industry,omitempty"`
	Description string              `json:"description,omitempty"`
	MarketCap   *float64            `json:"market_cap,omitempty"`
	Ratios      map[string]*float64 `json:"ratios"`
	Source      Source              `json:"source"`
	Provider    string              `json:"provider"`
	FetchedAt   time.Time           `json:"fetched_at"`
}

// RatioNames are the canonical ratio keys every Fundamentals record carries
var RatioNames = []string{
	"pe_ratio", "forward_pe", "peg_ratio", "price_to_book", "price_to_sales",
	"profit_margins", "gross_margins", "operating_margins",
	"return_on_equity", "return_on_assets",
	"debt_to_equity", "current_ratio", "quick_ratio", "dividend_yield",
}

// maxDescriptionBytes caps Fundamentals.Description
const maxDescriptionBytes = 500

// clipDescription shortens a company description to maxDescriptionBytes, backing
// off to a rune boundary so the result stays valid UTF-8.
func clipDescription(s string) string {
	if len(s) <= maxDescriptionBytes {
		return s
	}
	cut := maxDescriptionBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func emptyRatios() map[string]*float64 {
	m := make(map[string]*float64, len(RatioNames))
	for _, name := range RatioNames {
		m[name] = nil
	}
	return m
}

// EarningsEvent is a scheduled earnings release
type EarningsEvent struct {
	Symbol      string    `json:"symbol"`
	Date        time.Time `json:"date"`
	EPSEstimate *float64  `json:"eps_estimate,omitempty"`
	Time        string    `json:"time,omitempty"` // "bmo"|"amc"
	Estimated   bool      `json:"estimated"`
	Source      Source    `json:"source"`
}

// DividendEvent is a declared or scheduled dividend
type DividendEvent struct {
	Symbol          string     `json:"symbol"`
	ExDate          time.Time  `json:"ex_date"`
	PaymentDate     *time.Time `json:"payment_date,omitempty"`
	RecordDate      *time.Time `json:"record_date,omitempty"`
	DeclarationDate *time.Time `json:"declaration_date,omitempty"`
	Amount          *float64   `json:"amount,omitempty"`
	Source          Source     `json:"source"`
}

// ErrEmptySymbols is returned when a batch call is given no symbols
var ErrEmptySymbols = errors.New("empty symbol list")

// Error types carried by QuoteError
const (
	ErrTypeNetwork     = "network"
	ErrTypeRateLimit   = "rate_limit"
	ErrTypeForbidden   = "forbidden"
	ErrTypeNotFound    = "not_found"
	ErrTypeProvider    = "provider_error"
	ErrTypeMalformed   = "malformed"
	ErrTypeDisabled    = "disabled"
	ErrTypeUnsupported = "unsupported"
)

// QuoteError represents the failure classes of upstream calls
type QuoteError struct {
	Type     string
	Provider string
	Symbol   string
	Message  string
	Cause    error
}

func (e *QuoteError) Error() string {
	where := e.Provider
	if e.Symbol != "" {
		where += " " + e.Symbol
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Type, where, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, where, e.Message)
}

func (e *QuoteError) Unwrap() error {
	return e.Cause
}

// IsErrorType reports whether err is a QuoteError of the given type
func IsErrorType(err error, errType string) bool {
	var qe *QuoteError
	return errors.As(err, &qe) && qe.Type == errType
}

// Common error constructors
func NewNetworkError(provider, message string, cause error) *QuoteError {
	return &QuoteError{Type: ErrTypeNetwork, Provider: provider, Message: message, Cause: cause}
}

func NewRateLimitError(provider, message string) *QuoteError {
	return &QuoteError{Type: ErrTypeRateLimit, Provider: provider, Message: message}
}

func NewForbiddenError(provider, message string) *QuoteError {
	return &QuoteError{Type: ErrTypeForbidden, Provider: provider, Message: message}
}

func NewNotFoundError(provider, symbol string) *QuoteError {
	return &QuoteError{Type: ErrTypeNotFound, Provider: provider, Symbol: symbol, Message: "no data"}
}

func NewProviderError(provider, message string, cause error) *QuoteError {
	return &QuoteError{Type: ErrTypeProvider, Provider: provider, Message: message, Cause: cause}
}

func NewMalformedError(provider, symbol string, cause error) *QuoteError {
	return &QuoteError{Type: ErrTypeMalformed, Provider: provider, Symbol: symbol, Message: "unparseable response", Cause: cause}
}

func NewDisabledError(provider string) *QuoteError {
	return &QuoteError{Type: ErrTypeDisabled, Provider: provider, Message: "provider disabled"}
}

func NewUnsupportedError(provider, what string) *QuoteError {
	return &QuoteError{Type: ErrTypeUnsupported, Provider: provider, Message: what + " not supported"}
}
