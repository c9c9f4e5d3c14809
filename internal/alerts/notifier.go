package alerts

import (
	"context"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
)

// Notifier delivers alert text and images to the user. Callers split text longer
// than MaxMessageLength before calling.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, path, caption string) error
}

// ChartRenderer draws a crossover chart and returns the image path. The caller
// removes the file after sending it.
type ChartRenderer interface {
	RenderCrossover(symbol string, series *adapters.HistoricalSeries, short, long []float64) (string, error)
}

// Researcher produces a free-text company summary, usually from an LLM
type Researcher interface {
	Research(ctx context.Context, symbol string) (string, error)
}

// MarketData is the slice of the resolver the evaluators depend on
type MarketData interface {
	GetQuotesBatch(ctx context.Context, symbols []string) (map[string]*adapters.Quote, error)
	GetHistory(ctx context.Context, symbol string, lookbackDays int) (*adapters.HistoricalSeries, error)
	GetEarningsCalendar(ctx context.Context, symbols []string, windowDays int) ([]adapters.EarningsEvent, error)
	GetDividends(ctx context.Context, symbols []string, windowDays int) ([]adapters.DividendEvent, error)
	CompanyName(symbol string) string
}

var (
	_ Notifier   = (*TelegramClient)(nil)
	_ MarketData = (*adapters.Resolver)(nil)
)
