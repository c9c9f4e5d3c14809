package adapters

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	validSymbol    = regexp.MustCompile(`^[A-Z][A-Z0-9]*(\.[A-Z])?$`)
	classShareDash = regexp.MustCompile(`^([A-Z][A-Z0-9]*)-([A-Z])$`)
)

// exchangePrefixes are stripped from user input such as "NASDAQ:AAPL"
var exchangePrefixes = []string{"NYSE:", "NASDAQ:", "NMS:", "AMEX:"}

// NormalizeSymbol upper-cases and trims a ticker, drops exchange prefixes and writes
// class shares with a dot (BRK-B becomes BRK.B).
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, prefix := range exchangePrefixes {
		if strings.HasPrefix(symbol, prefix) {
			symbol = strings.TrimPrefix(symbol, prefix)
			break
		}
	}
	if m := classShareDash.FindStringSubmatch(symbol); m != nil {
		symbol = m[1] + "." + m[2]
	}
	return symbol
}

// ValidateSymbol rejects input that cannot be a US equity ticker
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if len(symbol) > 12 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	if !validSymbol.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format: %s", symbol)
	}
	return nil
}

// ProviderSymbol converts a normalized symbol to the form used in provider URLs.
// Both FMP and Yahoo write class shares with a dash.
func ProviderSymbol(provider, symbol string) string {
	switch provider {
	case FMPProviderName, YahooProviderName:
		return strings.ReplaceAll(symbol, ".", "-")
	default:
		return symbol
	}
}

func providerSymbols(provider string, symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = ProviderSymbol(provider, NormalizeSymbol(s))
	}
	return out
}
