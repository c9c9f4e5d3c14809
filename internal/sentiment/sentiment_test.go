package sentiment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
)

type stubQuoter struct {
	quotes map[string]*adapters.Quote
	err    error
	asked  []string
}

func (s *stubQuoter) GetQuotesBatch(_ context.Context, symbols []string) (map[string]*adapters.Quote, error) {
	s.asked = symbols
	return s.quotes, s.err
}

func quote(sym string, price, changePct float64) *adapters.Quote {
	return &adapters.Quote{Symbol: sym, Price: price, ChangePercent: changePct, Source: adapters.SourceSecondary, Provider: "yahoo"}
}

var at = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func TestCompute_AllComponents(t *testing.T) {
	spx := quote(SP500, 5500, 1)
	spx.YearLow, spx.YearHigh = 4500, 6000
	q := &stubQuoter{quotes: map[string]*adapters.Quote{
		VIX:         quote(VIX, 15, -3.1),
		SP500:       spx,
		Treasury10Y: quote(Treasury10Y, 4.25, 1),
		Dow:         quote(Dow, 42000, 0.5),
		Nasdaq:      quote(Nasdaq, 18000, 1.5),
	}}

	idx, err := Compute(context.Background(), q, at)
	require.NoError(t, err)
	assert.ElementsMatch(t, Symbols, q.asked)
	require.Len(t, idx.Components, 4)

	byKey := map[string]Component{}
	for _, c := range idx.Components {
		byKey[c.Key] = c
	}
	assert.InDelta(t, 85, byKey["vix"].Score, 1e-9)
	assert.Equal(t, "Greed", byKey["vix"].Interpretation)
	assert.InDelta(t, 66.67, byKey["sp500_momentum"].Position, 0.01)
	assert.InDelta(t, 71.67, byKey["sp500_momentum"].Score, 0.01)
	assert.InDelta(t, 65, byKey["treasury_yields"].Score, 1e-9)
	assert.InDelta(t, 65, byKey["market_breadth"].Score, 1e-9)
	assert.Equal(t, 3, byKey["market_breadth"].Positive)

	assert.Equal(t, 71.7, idx.Score)
	assert.Equal(t, "Greed", idx.Interpretation)
	assert.Equal(t, "📈", idx.Emoji)

	msg := Format(idx)
	assert.Contains(t, msg, "📈 *Market Sentiment Index: 71.7/100*")
	assert.Contains(t, msg, "*Status: Greed*")
	assert.Contains(t, msg, "🔥 *VIX (Volatility):* 15.00 (-3.10%)")
	assert.Contains(t, msg, "66.7% from 52W low to high")
	assert.Contains(t, msg, "3/3 indices positive")
	assert.Contains(t, msg, "Updated: 2025-03-10 14:30:00 UTC")
	assert.NotContains(t, msg, "of 4 components")
}

func TestCompute_SkipsSyntheticAndMissing(t *testing.T) {
	synthetic := quote(VIX, 100, 0)
	synthetic.Source = adapters.SourceSynthetic
	q := &stubQuoter{quotes: map[string]*adapters.Quote{
		VIX:         synthetic,
		Treasury10Y: quote(Treasury10Y, 4.1, -3),
		Dow:         quote(Dow, 42000, 0.5),
	}}

	idx, err := Compute(context.Background(), q, at)
	require.NoError(t, err)
	require.Len(t, idx.Components, 1, "breadth needs all three indices")
	assert.Equal(t, "treasury_yields", idx.Components[0].Key)
	assert.Equal(t, 20.0, idx.Score)
	assert.Equal(t, "Extreme Fear", idx.Interpretation)
	assert.Contains(t, Format(idx), "Based on 1 of 4 components")
}

func TestCompute_NoRealData(t *testing.T) {
	synthetic := quote(VIX, 100, 0)
	synthetic.Source = adapters.SourceSynthetic
	_, err := Compute(context.Background(), &stubQuoter{quotes: map[string]*adapters.Quote{VIX: synthetic}}, at)
	assert.ErrorIs(t, err, ErrNoData)

	_, err = Compute(context.Background(), &stubQuoter{err: errors.New("boom")}, at)
	assert.ErrorContains(t, err, "boom")
}

func TestMomentum_FlatRangeIsNeutral(t *testing.T) {
	c, ok := momentumComponent(quote(SP500, 5000, 3))
	require.True(t, ok)
	assert.Equal(t, 50.0, c.Score)
	assert.Equal(t, "Neutral", c.Interpretation)
}

func TestVIXBands(t *testing.T) {
	for _, tc := range []struct {
		vix   float64
		score float64
		label string
	}{
		{10, 100, "Extreme Greed"},
		{17, 75, "Neutral"},
		{24, 50, "Fear"},
		{35, 25, "Extreme Fear"},
		{60, 0, "Extreme Fear"},
	} {
		c, _ := vixComponent(quote(VIX, tc.vix, 0))
		assert.InDelta(t, tc.score, c.Score, 1e-9, "vix %.0f", tc.vix)
		assert.Equal(t, tc.label, c.Interpretation, "vix %.0f", tc.vix)
	}
}

func TestInterpret(t *testing.T) {
	label, emoji := Interpret(80)
	assert.Equal(t, "Extreme Greed", label)
	assert.Equal(t, "🚀", emoji)
	label, _ = Interpret(40)
	assert.Equal(t, "Neutral", label)
	label, emoji = Interpret(10)
	assert.Equal(t, "Extreme Fear", label)
	assert.Equal(t, "😱", emoji)
}
