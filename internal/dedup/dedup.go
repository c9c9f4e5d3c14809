// Package dedup records which alerts have already been sent. Each alert kind owns an
// append-only ordered set of string keys that survives restarts.
package dedup

import (
	"fmt"
	"strings"

	"github.com/Rajchodisetti/stock-alerts/internal/config"
)

// Kind names one alert log
type Kind string

const (
	BuyDip        Kind = "buy_dip_log"
	High52Week    Kind = "52_week_high_log"
	MACrossover   Kind = "ma_crossover_log"
	StockInterval Kind = "stock_interval_log"
	Earnings      Kind = "earnings_calendar_log"
	Dividends     Kind = "dividend_calendar_log"
)

// Kinds lists every alert log in a stable order
var Kinds = []Kind{BuyDip, High52Week, MACrossover, StockInterval, Earnings, Dividends}

func (k Kind) valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Log is the dedup store consulted by the alert evaluators. Keys are never removed
// except through PurgeSymbol.
type Log interface {
	Has(kind Kind, key string) (bool, error)
	// Add appends key and persists the log before returning. Adding a key that is
	// already present is a no-op.
	Add(kind Kind, key string) error
	Keys(kind Kind) ([]string, error)
	// PurgeSymbol drops every key of every kind that belongs to symbol and returns
	// how many were removed.
	PurgeSymbol(symbol string) (int, error)
	Close() error
}

// KeyBelongsTo reports whether an alert key was built for symbol. Keys always start
// with the symbol followed by an underscore.
func KeyBelongsTo(key, symbol string) bool {
	prefix := symbolPrefix(symbol)
	return prefix != "" && strings.HasPrefix(key, prefix)
}

func symbolPrefix(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return ""
	}
	return symbol + "_"
}

// Open creates the store selected by cfg.Backend
func Open(cfg config.Dedup) (Log, error) {
	switch cfg.Backend {
	case "", "json":
		return NewFileLog(cfg.Dir)
	case "sqlite":
		return NewSQLiteLog(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.Backend)
	}
}
