package signal

// Thresholds are the strategy parameters. Percent values are percentages
// (-0.5 means -0.5%).
type Thresholds struct {
	BTCMinDrop1h              float64 // base 1h change must be <= this
	UnderperformanceThreshold float64 // spread must be <= this
	UnderperformanceStrong    float64 // spread <= this is strength-eligible
	RatioRSIOversold          float64 // ratio RSI below this is oversold
	FundingRateMin            float64 // funding must be > this
	FundingSqueezeLow         float64 // squeeze band lower bound (inclusive)
	FundingSqueezeHigh        float64 // squeeze band upper bound (inclusive)
	FundingCrowded            float64 // funding above this warns of crowded longs

	RSIPeriod int
	SMAPeriod int

	NearLowPct     float64 // ratio within this % above its low counts as near-low
	RatioLowWindow int     // 15m bars in the trailing low window (96 = 24h)
	LiqBelowPct    float64 // long-cluster search band below price
	LiqAbovePct    float64 // short-cluster search band above price
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BTCMinDrop1h:              -0.5,
		UnderperformanceThreshold: -1.0,
		UnderperformanceStrong:    -2.0,
		RatioRSIOversold:          35,
		FundingRateMin:            -0.08,
		FundingSqueezeLow:         -0.08,
		FundingSqueezeHigh:        -0.03,
		FundingCrowded:            0.05,
		RSIPeriod:                 14,
		SMAPeriod:                 20,
		NearLowPct:                1.0,
		RatioLowWindow:            96,
		LiqBelowPct:               1.5,
		LiqAbovePct:               2.0,
	}
}

func (t *Thresholds) defaults() {
	d := DefaultThresholds()
	if t.RSIPeriod <= 0 {
		t.RSIPeriod = d.RSIPeriod
	}
	if t.SMAPeriod <= 0 {
		t.SMAPeriod = d.SMAPeriod
	}
	if t.NearLowPct == 0 {
		t.NearLowPct = d.NearLowPct
	}
	if t.RatioLowWindow <= 0 {
		t.RatioLowWindow = d.RatioLowWindow
	}
	if t.LiqBelowPct == 0 {
		t.LiqBelowPct = d.LiqBelowPct
	}
	if t.LiqAbovePct == 0 {
		t.LiqAbovePct = d.LiqAbovePct
	}
}
