package alerts

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
)

type CrossoverType string

const (
	GoldenCross CrossoverType = "golden_cross"
	DeathCross  CrossoverType = "death_cross"
)

// Crossover is the most recent moving-average cross in a series
type Crossover struct {
	Type        CrossoverType
	Date        time.Time
	DaysAgo     int
	Price       float64
	ShortMA     float64
	LongMA      float64
	ShortPeriod int
	LongPeriod  int
}

// ErrInsufficientHistory is returned when a series cannot cover the long window
var ErrInsufficientHistory = errors.New("insufficient history for moving averages")

// MovingAverages returns the short and long SMA over closes. Entries before each
// window fills are NaN.
func MovingAverages(closes []float64, short, long int) ([]float64, []float64) {
	return sma(closes, short), sma(closes, long)
}

func sma(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if period <= 0 || len(closes) < period {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	values := talib.Sma(closes, period)
	for i := range out {
		if i < period-1 || i >= len(values) {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i]
	}
	return out
}

// DetectCrossover finds the latest bar where "short SMA above long SMA" flipped and
// reports it when that bar is on or after since. A nil result means no cross in range.
func DetectCrossover(series *adapters.HistoricalSeries, short, long int, since time.Time) (*Crossover, error) {
	bars := series.Bars
	if len(bars) < long+1 {
		return nil, fmt.Errorf("%w: %d bars, need %d", ErrInsufficientHistory, len(bars), long+1)
	}
	shortMA, longMA := MovingAverages(series.Closes(), short, long)

	last := len(bars) - 1
	for i := last; i >= long; i-- {
		if math.IsNaN(shortMA[i-1]) || math.IsNaN(longMA[i-1]) {
			break
		}
		if bars[i].Date.Before(since) {
			break
		}
		prev := shortMA[i-1] > longMA[i-1]
		cur := shortMA[i] > longMA[i]
		if prev == cur {
			continue
		}
		c := &Crossover{
			Type:        DeathCross,
			Date:        bars[i].Date,
			DaysAgo:     int(bars[last].Date.Sub(bars[i].Date).Hours() / 24),
			Price:       bars[last].Close,
			ShortMA:     shortMA[last],
			LongMA:      longMA[last],
			ShortPeriod: short,
			LongPeriod:  long,
		}
		if cur {
			c.Type = GoldenCross
		}
		return c, nil
	}
	return nil, nil
}
