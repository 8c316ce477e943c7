// Package indicator provides the indicator math used by every strategy check:
// SMA, Wilder RSI, percent change and ratio.
//
// The streaming types (SMA, RSI) accept one value per Update. The Compute
// helpers run a whole series through them, so price series and the ALT/BTC
// ratio series share a single implementation.
package indicator

import (
	"github.com/samber/lo"
	"github.com/samber/mo"
)

// Indicator is the interface for streaming indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "RSI").
	Name() string

	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// ComputeSMA returns the average of the last period values, absent when fewer
// than period values exist.
func ComputeSMA(values []float64, period int) mo.Option[float64] {
	if period <= 0 || len(values) < period {
		return mo.None[float64]()
	}
	return run(NewSMA(period), values[len(values)-period:])
}

// ComputeRSI returns Wilder's RSI over closes, absent when fewer than
// period+1 closes are supplied.
func ComputeRSI(closes []float64, period int) mo.Option[float64] {
	if period <= 0 || len(closes) < period+1 {
		return mo.None[float64]()
	}
	return run(NewRSI(period), closes)
}

func run(ind Indicator, values []float64) mo.Option[float64] {
	for _, v := range values {
		ind.Update(v)
	}
	if !ind.Ready() {
		return mo.None[float64]()
	}
	return mo.Some(ind.Value())
}

// PercentChange returns (new-old)/old*100. An old value of exactly 0 yields 0.
func PercentChange(old, new float64) float64 {
	if old == 0 {
		return 0
	}
	return (new - old) / old * 100
}

// Ratio returns numerator/denominator, absent when the denominator is 0.
func Ratio(numerator, denominator float64) mo.Option[float64] {
	if denominator == 0 {
		return mo.None[float64]()
	}
	return mo.Some(numerator / denominator)
}

// Low returns the minimum of the last n values (all values if fewer exist),
// absent for an empty slice.
func Low(values []float64, n int) mo.Option[float64] {
	if len(values) == 0 {
		return mo.None[float64]()
	}
	if n > 0 && len(values) > n {
		values = values[len(values)-n:]
	}
	return mo.Some(lo.Min(values))
}
