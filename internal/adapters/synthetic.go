package adapters

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"
)

type baseQuote struct {
	Name      string
	BasePrice float64
}

var syntheticBases = map[string]baseQuote{
	"AAPL":  {Name: "Apple Inc.", BasePrice: 270},
	"MSFT":  {Name: "Microsoft Corporation", BasePrice: 510},
	"GOOGL": {Name: "Alphabet Inc.", BasePrice: 275},
	"TSLA":  {Name: "Tesla, Inc.", BasePrice: 350},
	"AMZN":  {Name: "Amazon.com, Inc.", BasePrice: 180},
	"NVDA":  {Name: "NVIDIA Corporation", BasePrice: 480},
	"META":  {Name: "Meta Platforms, Inc.", BasePrice: 300},
}

const (
	syntheticDefaultPrice = 100.0
	syntheticDailyVol     = 0.02
)

// SyntheticProvider fabricates plausible placeholder data when every real provider
// failed. Output is seeded from the symbol so repeated calls agree with each other.
type SyntheticProvider struct {
	now func() time.Time
}

// NewSyntheticProvider creates a provider using the wall clock
func NewSyntheticProvider() *SyntheticProvider {
	return &SyntheticProvider{now: time.Now}
}

// SetClock overrides the time source
func (s *SyntheticProvider) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SyntheticProvider) random(symbol, salt string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte{0})
	h.Write([]byte(salt))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func syntheticBase(symbol string) baseQuote {
	if b, ok := syntheticBases[symbol]; ok {
		return b
	}
	return baseQuote{Name: symbol + " Corporation", BasePrice: syntheticDefaultPrice}
}

// Quote returns a quote within 5% of the symbol's base price
func (s *SyntheticProvider) Quote(symbol string) *Quote {
	symbol = NormalizeSymbol(symbol)
	base := syntheticBase(symbol)
	r := s.random(symbol, "quote")

	price := roundToTick(base.BasePrice * (0.95 + r.Float64()*0.10))
	changePct := r.Float64()*4 - 2
	prev := price / (1 + changePct/100)

	return &Quote{
		Symbol:        symbol,
		Name:          base.Name,
		Price:         price,
		Change:        roundToTick(price - prev),
		ChangePercent: math.Round(changePct*100) / 100,
		Volume:        1_000_000 + r.Int63n(50_000_000),
		DayHigh:       roundToTick(price * (1 + r.Float64()*0.02)),
		DayLow:        roundToTick(price * (1 - r.Float64()*0.02)),
		YearHigh:      roundToTick(price * (1.1 + r.Float64()*0.3)),
		YearLow:       roundToTick(price * (0.6 + r.Float64()*0.3)),
		Source:        SourceSynthetic,
		Provider:      string(SourceSynthetic),
		FetchedAt:     s.now(),
	}
}

// History returns business-day bars from from to to whose last close equals the
// synthetic quote price, walking backwards with 2% daily volatility. A window with
// no business day yields the single most recent one.
func (s *SyntheticProvider) History(symbol string, from, to time.Time) *HistoricalSeries {
	symbol = NormalizeSymbol(symbol)
	last := s.Quote(symbol).Price
	r := s.random(symbol, "history")

	var days []time.Time
	for d := truncateDay(to); !d.Before(truncateDay(from)); d = d.AddDate(0, 0, -1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		days = append(days, lastWeekday(to))
	}

	bars := make([]Bar, len(days))
	closePx := last
	for i, d := range days {
		move := r.NormFloat64() * syntheticDailyVol
		open := closePx / (1 + move)
		high := math.Max(open, closePx) * (1 + r.Float64()*0.01)
		low := math.Min(open, closePx) * (1 - r.Float64()*0.01)
		bars[len(days)-1-i] = Bar{
			Date:   d,
			Open:   roundToTick(open),
			High:   roundToTick(high),
			Low:    roundToTick(low),
			Close:  roundToTick(closePx),
			Volume: 1_000_000 + r.Int63n(50_000_000),
		}
		closePx = math.Max(open, 0.01)
	}

	return &HistoricalSeries{
		Symbol:    symbol,
		Bars:      bars,
		Source:    SourceSynthetic,
		Provider:  string(SourceSynthetic),
		FetchedAt: s.now(),
	}
}

// Fundamentals returns the placeholder name with every ratio absent
func (s *SyntheticProvider) Fundamentals(symbol string) *Fundamentals {
	symbol = NormalizeSymbol(symbol)
	return &Fundamentals{
		Symbol:    symbol,
		Name:      syntheticBase(symbol).Name,
		Ratios:    emptyRatios(),
		Source:    SourceSynthetic,
		Provider:  string(SourceSynthetic),
		FetchedAt: s.now(),
	}
}

// NextEarnings estimates the next release as the 15th of the next reporting month
// (Jan, Apr, Jul, Oct) on or after today.
func (s *SyntheticProvider) NextEarnings(symbol string) EarningsEvent {
	today := truncateDay(s.now())
	date := time.Time{}
	for _, year := range []int{today.Year(), today.Year() + 1} {
		for _, month := range []time.Month{time.January, time.April, time.July, time.October} {
			d := time.Date(year, month, 15, 0, 0, 0, 0, time.UTC)
			if !d.Before(today) {
				date = d
				break
			}
		}
		if !date.IsZero() {
			break
		}
	}
	return EarningsEvent{
		Symbol:    NormalizeSymbol(symbol),
		Date:      date,
		Estimated: true,
		Source:    SourceSynthetic,
	}
}

// roundToTick rounds to whole cents
func roundToTick(price float64) float64 {
	return math.Round(price*100) / 100
}
