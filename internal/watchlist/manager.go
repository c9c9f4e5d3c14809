package watchlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// ErrNoMarketData means no real provider returned a quote for the symbol
var ErrNoMarketData = errors.New("no market data for symbol")

// Quoter validates symbols and owns the company name cache
type Quoter interface {
	GetQuote(ctx context.Context, symbol string) (*adapters.Quote, error)
	ForgetSymbol(symbol string)
}

// Purger drops recorded alert keys for a symbol
type Purger interface {
	PurgeSymbol(symbol string) (int, error)
}

// Manager applies user edits to the watchlist with their side effects: a symbol
// is added only when a real quote exists, and removing one forgets its alert keys
// and cached name.
type Manager struct {
	store  Store
	quoter Quoter
	purger Purger
	log    zerolog.Logger
}

func NewManager(store Store, quoter Quoter, purger Purger) *Manager {
	return &Manager{store: store, quoter: quoter, purger: purger, log: observ.Component("watchlist")}
}

func (m *Manager) List() ([]string, error) { return m.store.List() }

// Add validates symbol, confirms it has market data and appends it. The quote used
// for validation is returned.
func (m *Manager) Add(ctx context.Context, symbol string) (*adapters.Quote, error) {
	symbol = adapters.NormalizeSymbol(symbol)
	if err := adapters.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	q, err := m.quoter.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if q.Synthetic() {
		return q, fmt.Errorf("%s: %w", symbol, ErrNoMarketData)
	}
	if err := m.store.Add(symbol); err != nil {
		return q, err
	}
	return q, nil
}

// Remove drops symbol and returns how many alert keys were purged. A purge failure
// is logged; the symbol stays removed.
func (m *Manager) Remove(symbol string) (int, error) {
	symbol = adapters.NormalizeSymbol(symbol)
	if err := m.store.Remove(symbol); err != nil {
		return 0, err
	}
	m.quoter.ForgetSymbol(symbol)
	if m.purger == nil {
		return 0, nil
	}
	purged, err := m.purger.PurgeSymbol(symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to purge alert history")
		return 0, nil
	}
	return purged, nil
}
