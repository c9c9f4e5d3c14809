package watchlist

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
)

type stubQuoter struct {
	real      map[string]float64
	forgotten []string
}

func (s *stubQuoter) GetQuote(_ context.Context, symbol string) (*adapters.Quote, error) {
	if p, ok := s.real[symbol]; ok {
		return &adapters.Quote{Symbol: symbol, Price: p, Source: adapters.SourcePrimary}, nil
	}
	return &adapters.Quote{Symbol: symbol, Price: 100, Source: adapters.SourceSynthetic}, nil
}

func (s *stubQuoter) ForgetSymbol(symbol string) { s.forgotten = append(s.forgotten, symbol) }

type stubPurger struct {
	purged []string
	err    error
}

func (s *stubPurger) PurgeSymbol(symbol string) (int, error) {
	s.purged = append(s.purged, symbol)
	return 2, s.err
}

func TestManager_AddRequiresRealQuote(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "watchlist.txt"), nil)
	m := NewManager(store, &stubQuoter{real: map[string]float64{"BRK.B": 450}}, &stubPurger{})
	ctx := context.Background()

	q, err := m.Add(ctx, "brk-b")
	require.NoError(t, err)
	assert.Equal(t, 450.0, q.Price)

	_, err = m.Add(ctx, "BRK.B")
	assert.ErrorIs(t, err, ErrExists)

	_, err = m.Add(ctx, "QQQQ")
	assert.ErrorIs(t, err, ErrNoMarketData)

	_, err = m.Add(ctx, "not a symbol")
	assert.Error(t, err)

	list, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"BRK.B"}, list)
}

func TestManager_RemoveForgetsAndPurges(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "watchlist.txt"), []string{"AAPL", "MSFT"})
	quoter := &stubQuoter{}
	purger := &stubPurger{}
	m := NewManager(store, quoter, purger)

	n, err := m.Remove("aapl")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"AAPL"}, quoter.forgotten)
	assert.Equal(t, []string{"AAPL"}, purger.purged)

	_, err = m.Remove("AAPL")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, purger.purged, 1)

	purger.err = errors.New("locked")
	n, err = m.Remove("MSFT")
	require.NoError(t, err, "purge failure does not undo the removal")
	assert.Zero(t, n)
	assert.False(t, store.Contains("MSFT"))
}
