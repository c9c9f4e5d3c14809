package server

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
)

const tradingDaysPerYear = 252

// ErrNotEnoughBars is returned when a series has fewer than two closes
var ErrNotEnoughBars = errors.New("at least two bars are required")

// Stats summarizes the daily returns of a price series. Percent fields are in
// percent, not fractions.
type Stats struct {
	Symbol               string          `json:"symbol"`
	Period               string          `json:"period,omitempty"`
	Bars                 int             `json:"bars"`
	Source               adapters.Source `json:"source"`
	FirstClose           float64         `json:"first_close"`
	LastClose            float64         `json:"last_close"`
	High                 float64         `json:"high"`
	Low                  float64         `json:"low"`
	ReturnPct            float64         `json:"return_pct"`
	MeanDailyReturnPct   float64         `json:"mean_daily_return_pct"`
	DailyVolatilityPct   float64         `json:"daily_volatility_pct"`
	AnnualVolatilityPct  float64         `json:"annual_volatility_pct"`
	MaxDrawdownPct       float64         `json:"max_drawdown_pct"`
	PositiveDaysFraction float64         `json:"positive_days_fraction"`
}

// DailyReturns converts closes into simple returns; a zero close yields a zero return
func DailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			out[i-1] = (closes[i] - closes[i-1]) / closes[i-1]
		}
	}
	return out
}

// MaxDrawdown is the largest peak-to-trough decline as a negative fraction
func MaxDrawdown(closes []float64) float64 {
	var peak, worst float64
	for _, c := range closes {
		if c > peak {
			peak = c
		}
		if peak > 0 {
			if dd := (c - peak) / peak; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// ComputeStats builds return and volatility statistics for series
func ComputeStats(series *adapters.HistoricalSeries) (*Stats, error) {
	if series == nil {
		return nil, ErrNotEnoughBars
	}
	closes := series.Closes()
	if len(closes) < 2 {
		return nil, ErrNotEnoughBars
	}
	returns := DailyReturns(closes)

	positive := 0
	for _, r := range returns {
		if r > 0 {
			positive++
		}
	}

	dailyVol := stat.StdDev(returns, nil)
	if math.IsNaN(dailyVol) {
		dailyVol = 0
	}

	s := &Stats{
		Symbol:               series.Symbol,
		Bars:                 len(closes),
		Source:               series.Source,
		FirstClose:           closes[0],
		LastClose:            closes[len(closes)-1],
		High:                 floats.Max(closes),
		Low:                  floats.Min(closes),
		MeanDailyReturnPct:   stat.Mean(returns, nil) * 100,
		DailyVolatilityPct:   dailyVol * 100,
		AnnualVolatilityPct:  dailyVol * math.Sqrt(tradingDaysPerYear) * 100,
		MaxDrawdownPct:       MaxDrawdown(closes) * 100,
		PositiveDaysFraction: float64(positive) / float64(len(returns)),
	}
	if closes[0] != 0 {
		s.ReturnPct = (s.LastClose - closes[0]) / closes[0] * 100
	}
	return s, nil
}
