// Package sentiment scores overall market mood from index quotes. The index runs
// from 0 (extreme fear) to 100 (extreme greed) and averages up to four components:
// VIX level, S&P 500 momentum, 10 year treasury yield direction and breadth across
// the Dow, S&P 500 and Nasdaq.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
)

const (
	VIX         = "^VIX"
	SP500       = "^GSPC"
	Treasury10Y = "^TNX"
	Dow         = "^DJI"
	Nasdaq      = "^IXIC"
)

// Symbols are the index quotes one computation needs
var Symbols = []string{VIX, SP500, Treasury10Y, Dow, Nasdaq}

// ErrNoData is returned when no component had a real quote
var ErrNoData = errors.New("unable to calculate sentiment: no market data available")

// Quoter is the resolver surface used for index quotes
type Quoter interface {
	GetQuotesBatch(ctx context.Context, symbols []string) (map[string]*adapters.Quote, error)
}

// Component is one scored input of the index
type Component struct {
	Key            string  `json:"key"`
	Name           string  `json:"name"`
	Score          float64 `json:"score"`
	Value          float64 `json:"value"`
	ChangePct      float64 `json:"change_pct"`
	Interpretation string  `json:"interpretation"`
	// Position is where the S&P 500 sits in its 52 week range, in percent
	Position float64 `json:"position_pct,omitempty"`
	// Positive counts the breadth indices that are up on the day
	Positive int `json:"positive_count,omitempty"`
}

// Index is the combined score
type Index struct {
	Score          float64     `json:"score"`
	Interpretation string      `json:"interpretation"`
	Emoji          string      `json:"emoji"`
	Components     []Component `json:"components"`
	At             time.Time   `json:"at"`
}

// Compute fetches the index quotes and scores them. Components whose quotes are
// missing or synthetic are left out and the rest are weighted equally.
func Compute(ctx context.Context, q Quoter, now time.Time) (*Index, error) {
	quotes, err := q.GetQuotesBatch(ctx, Symbols)
	if err != nil {
		return nil, fmt.Errorf("fetch index quotes: %w", err)
	}
	live := func(sym string) *adapters.Quote {
		qt := quotes[sym]
		if qt == nil || qt.Source == adapters.SourceSynthetic {
			return nil
		}
		return qt
	}

	var comps []Component
	if c, ok := vixComponent(live(VIX)); ok {
		comps = append(comps, c)
	}
	if c, ok := momentumComponent(live(SP500)); ok {
		comps = append(comps, c)
	}
	if c, ok := treasuryComponent(live(Treasury10Y)); ok {
		comps = append(comps, c)
	}
	if c, ok := breadthComponent(live(Dow), live(SP500), live(Nasdaq)); ok {
		comps = append(comps, c)
	}
	if len(comps) == 0 {
		return nil, ErrNoData
	}

	scores := make([]float64, len(comps))
	for i, c := range comps {
		scores[i] = c.Score
	}
	score := math.Round(stat.Mean(scores, nil)*10) / 10
	label, emoji := Interpret(score)
	return &Index{Score: score, Interpretation: label, Emoji: emoji, Components: comps, At: now}, nil
}

// Interpret maps an overall score to its label and emoji
func Interpret(score float64) (string, string) {
	switch {
	case score >= 75:
		return "Extreme Greed", "🚀"
	case score >= 60:
		return "Greed", "📈"
	case score >= 40:
		return "Neutral", "😐"
	case score >= 25:
		return "Fear", "📉"
	default:
		return "Extreme Fear", "😱"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// vixComponent interpolates linearly between the 12/17/24/35 volatility bands
func vixComponent(q *adapters.Quote) (Component, bool) {
	if q == nil {
		return Component{}, false
	}
	v := q.Price
	c := Component{Key: "vix", Name: "VIX (Volatility)", Value: v, ChangePct: q.ChangePercent}
	switch {
	case v < 12:
		c.Score, c.Interpretation = 100, "Extreme Greed"
	case v < 17:
		c.Score, c.Interpretation = 75+(17-v)/5*25, "Greed"
	case v < 24:
		c.Score, c.Interpretation = 50+(24-v)/7*25, "Neutral"
	case v < 35:
		c.Score, c.Interpretation = 25+(35-v)/11*25, "Fear"
	default:
		c.Score, c.Interpretation = math.Max(0, 25-(v-35)/15*25), "Extreme Fear"
	}
	return c, true
}

// momentumComponent weighs the day's move (60%) against the 52 week range position (40%)
func momentumComponent(q *adapters.Quote) (Component, bool) {
	if q == nil {
		return Component{}, false
	}
	c := Component{Key: "sp500_momentum", Name: "S&P 500 Position", Value: q.Price, ChangePct: q.ChangePercent}
	if q.YearHigh <= q.YearLow {
		c.Score, c.Interpretation = 50, "Neutral"
		return c, true
	}
	c.Position = clamp((q.Price-q.YearLow)/(q.YearHigh-q.YearLow)*100, 0, 100)
	changeScore := clamp(50+q.ChangePercent/2*50, 0, 100)
	c.Score = changeScore*0.6 + c.Position*0.4
	switch {
	case c.Score >= 75:
		c.Interpretation = "Strong Momentum (Greed)"
	case c.Score >= 60:
		c.Interpretation = "Positive Momentum"
	case c.Score >= 40:
		c.Interpretation = "Neutral"
	case c.Score >= 25:
		c.Interpretation = "Negative Momentum"
	default:
		c.Interpretation = "Weak Momentum (Fear)"
	}
	return c, true
}

// treasuryComponent reads rising yields as appetite for risk and falling yields as a
// flight to safety
func treasuryComponent(q *adapters.Quote) (Component, bool) {
	if q == nil {
		return Component{}, false
	}
	ch := q.ChangePercent
	c := Component{Key: "treasury_yields", Name: "10Y Treasury", Value: q.Price, ChangePct: ch}
	switch {
	case ch > 2:
		c.Score, c.Interpretation = 80, "Greed (Yields Rising)"
	case ch > 0:
		c.Score, c.Interpretation = 50+ch/2*30, "Slight Greed"
	case ch > -2:
		c.Score, c.Interpretation = 50+ch/2*30, "Slight Fear"
	default:
		c.Score, c.Interpretation = 20, "Fear (Yields Falling)"
	}
	return c, true
}

// breadthComponent needs all three broad indices
func breadthComponent(indices ...*adapters.Quote) (Component, bool) {
	changes := make([]float64, 0, len(indices))
	positive := 0
	for _, q := range indices {
		if q == nil {
			return Component{}, false
		}
		changes = append(changes, q.ChangePercent)
		if q.ChangePercent > 0 {
			positive++
		}
	}
	avg := stat.Mean(changes, nil)
	c := Component{Key: "market_breadth", Name: "Market Breadth", ChangePct: math.Round(avg*100) / 100, Positive: positive}
	switch {
	case avg > 1 && positive >= 2:
		c.Score, c.Interpretation = 80, "Strong Breadth (Greed)"
	case avg > 0:
		c.Score, c.Interpretation = 50+avg*15, "Positive Breadth"
	case avg > -1:
		c.Score, c.Interpretation = 50+avg*15, "Negative Breadth"
	default:
		c.Score, c.Interpretation = 20, "Weak Breadth (Fear)"
	}
	c.Score = clamp(c.Score, 0, 100)
	return c, true
}

// Format renders the index as a Telegram Markdown message
func Format(idx *Index) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *Market Sentiment Index: %.1f/100*\n", idx.Emoji, idx.Score)
	fmt.Fprintf(&b, "*Status: %s*\n\n", idx.Interpretation)
	b.WriteString("📊 *Component Breakdown:*\n")
	for _, c := range idx.Components {
		switch c.Key {
		case "vix":
			fmt.Fprintf(&b, "\n🔥 *%s:* %.2f (%+.2f%%)\n", c.Name, c.Value, c.ChangePct)
		case "sp500_momentum":
			fmt.Fprintf(&b, "\n📈 *%s:* $%.2f (%+.2f%%)\n", c.Name, c.Value, c.ChangePct)
			fmt.Fprintf(&b, "   └ %.1f%% from 52W low to high\n", c.Position)
		case "treasury_yields":
			fmt.Fprintf(&b, "\n💰 *%s:* %.3f%% (%+.2f%%)\n", c.Name, c.Value, c.ChangePct)
		case "market_breadth":
			fmt.Fprintf(&b, "\n🌐 *%s:* %d/3 indices positive\n", c.Name, c.Positive)
			fmt.Fprintf(&b, "   └ Avg change: %+.2f%%\n", c.ChangePct)
		}
		fmt.Fprintf(&b, "   └ %s\n", c.Interpretation)
	}
	if n := len(idx.Components); n < 4 {
		fmt.Fprintf(&b, "\n⚠️ Based on %d of 4 components\n", n)
	}
	fmt.Fprintf(&b, "\n⏰ Updated: %s", idx.At.UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}
