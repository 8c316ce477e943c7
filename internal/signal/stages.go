package signal

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/willkaufman/scalp-trader-sui/internal/indicator"
	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// ChangeWindow is the number of 1m closes the 5m/15m/1h changes are read from.
const ChangeWindow = 60

// PriceChanges returns the 5m, 15m and 1h percent changes of the last close
// against the closes 5, 15 and 60 positions from the end. With fewer than
// ChangeWindow closes every change is 0.
func PriceChanges(closes []float64) (c5, c15, c1h float64) {
	n := len(closes)
	if n < ChangeWindow {
		return 0, 0, 0
	}
	last := closes[n-1]
	return indicator.PercentChange(closes[n-5], last),
		indicator.PercentChange(closes[n-15], last),
		indicator.PercentChange(closes[n-60], last)
}

// IsStabilizing reports whether the last bar's low is above the lowest low of
// the four bars before it. Fewer than five bars is not stabilizing.
func IsStabilizing(bars []model.Bar) bool {
	if len(bars) < 5 {
		return false
	}
	recent := bars[len(bars)-5:]
	prior := lo.MinBy(recent[:4], func(a, b model.Bar) bool { return a.Low < b.Low })
	return recent[4].Low > prior.Low
}

// BTCStatusFrom builds the base-asset status from up to 60 recent 1m bars.
func BTCStatusFrom(bars []model.Bar, th Thresholds) model.BTCStatus {
	if len(bars) < 5 {
		return model.BTCStatus{Message: "Insufficient BTC data"}
	}

	closes := lo.Map(bars, func(b model.Bar, _ int) float64 { return b.Close })
	price := closes[len(closes)-1]
	c5, c15, c1h := PriceChanges(closes)

	st := model.BTCStatus{
		Price:         price,
		Change5m:      c5,
		Change15m:     c15,
		Change1h:      c1h,
		Stabilizing:   IsStabilizing(bars),
		SufficientDip: c1h <= th.BTCMinDrop1h,
	}
	switch {
	case !st.SufficientDip:
		st.Message = fmt.Sprintf("BTC hasn't dipped enough (1h: %+.2f%%, need: %.2f%%)", c1h, th.BTCMinDrop1h)
	case !st.Stabilizing:
		st.Message = fmt.Sprintf("BTC still making new lows at $%s", groupThousands(price))
	default:
		st.Message = fmt.Sprintf("BTC stabilizing at $%s after %+.2f%% dip", groupThousands(price), c1h)
	}
	return st
}

// Underperformance compares an asset's 1h change against the base's.
func Underperformance(asset string, baseChange1h, assetChange1h float64, th Thresholds) model.UnderperformanceResult {
	spread := assetChange1h - baseChange1h
	r := model.UnderperformanceResult{
		Asset:           asset,
		BaseChange1h:    baseChange1h,
		AssetChange1h:   assetChange1h,
		Spread:          spread,
		Underperforming: spread <= th.UnderperformanceThreshold,
		Strong:          spread <= th.UnderperformanceStrong,
	}
	switch {
	case r.Strong:
		r.Message = fmt.Sprintf("STRONG: %s underperformed BTC by %.2f%%", asset, math.Abs(spread))
	case r.Underperforming:
		r.Message = fmt.Sprintf("%s underperformed BTC by %.2f%%", asset, math.Abs(spread))
	default:
		r.Message = fmt.Sprintf("%s spread (%+.2f%%) not significant enough", asset, spread)
	}
	return r
}

// RatioSeries divides paired closes after truncating both series to the
// shorter length from the end. Pairs are matched by position; pairs with a
// zero denominator are skipped.
func RatioSeries(alt, base []float64) []float64 {
	n := min(len(alt), len(base))
	if n == 0 {
		return nil
	}
	alt, base = alt[len(alt)-n:], base[len(base)-n:]

	out := make([]float64, 0, n)
	for i := range alt {
		if r, ok := indicator.Ratio(alt[i], base[i]).Get(); ok {
			out = append(out, r)
		}
	}
	return out
}

// AnalyzeRatio checks the ratio series: RSI below the oversold level, or the
// current ratio within NearLowPct above the trailing low. Either suffices.
func AnalyzeRatio(asset string, current mo.Option[float64], series []float64, th Thresholds) model.RatioAnalysis {
	cur, ok := current.Get()
	if !ok {
		return model.RatioAnalysis{Asset: asset, Message: "Insufficient data for ratio analysis"}
	}

	r := model.RatioAnalysis{
		Asset:        asset,
		CurrentRatio: cur,
		RSI:          indicator.ComputeRSI(series, th.RSIPeriod),
		SMA:          indicator.ComputeSMA(series, th.SMAPeriod),
		Low24h:       indicator.Low(series, th.RatioLowWindow),
	}
	if rsi, ok := r.RSI.Get(); ok {
		r.Oversold = rsi < th.RatioRSIOversold
	}
	if low, ok := r.Low24h.Get(); ok {
		r.NearLow = nearLow(cur, low, th.NearLowPct)
	}

	var parts []string
	if rsi, ok := r.RSI.Get(); ok {
		if r.Oversold {
			parts = append(parts, fmt.Sprintf("RSI(%d)=%.1f (oversold)", th.RSIPeriod, rsi))
		} else {
			parts = append(parts, fmt.Sprintf("RSI(%d)=%.1f", th.RSIPeriod, rsi))
		}
	}
	if r.NearLow {
		parts = append(parts, "Near 24h low")
	}
	if r.Passed() {
		r.Message = fmt.Sprintf("%s/BTC: %s", asset, strings.Join(parts, ", "))
	} else {
		r.Message = fmt.Sprintf("%s/BTC ratio not oversold", asset)
	}
	return r
}

func nearLow(current, low, withinPct float64) bool {
	if low == 0 {
		return false
	}
	return (current-low)/low*100 <= withinPct
}

// CheckFunding applies the funding filter. A missing rate passes; otherwise
// the rate must exceed FundingRateMin. Squeeze and crowded flags never block.
func CheckFunding(rate mo.Option[float64], th Thresholds) model.FundingCheck {
	v, ok := rate.Get()
	if !ok {
		return model.FundingCheck{Rate: rate, Valid: true, Message: "Funding rate data unavailable"}
	}

	fc := model.FundingCheck{
		Rate:    rate,
		Valid:   v > th.FundingRateMin,
		Squeeze: v >= th.FundingSqueezeLow && v <= th.FundingSqueezeHigh,
		Crowded: v > th.FundingCrowded,
	}
	switch {
	case !fc.Valid:
		fc.Message = fmt.Sprintf("Funding too negative: %.4f%%", v)
	case fc.Squeeze:
		fc.Message = fmt.Sprintf("Squeeze potential: %.4f%%", v)
	case fc.Crowded:
		fc.Message = fmt.Sprintf("Crowded longs: %.4f%%", v)
	default:
		fc.Message = fmt.Sprintf("Funding: %.4f%%", v)
	}
	return fc
}

// CheckLiquidations annotates nearby clusters: the largest long cluster within
// LiqBelowPct below price and the largest short cluster within LiqAbovePct above.
func CheckLiquidations(data model.LiquidationData, th Thresholds) model.LiquidationCheck {
	var lc model.LiquidationCheck
	if c, ok := data.NearestBelow(th.LiqBelowPct).Get(); ok {
		lc.ClusterBelow = true
		lc.BelowWarning = fmt.Sprintf("$%.1fM liq cluster %.1f%% below - may hunt before bouncing", c.ValueUSD/1e6, c.DistancePct)
	}
	if c, ok := data.NearestAbove(th.LiqAbovePct).Get(); ok {
		lc.ClusterAbove = true
		lc.AboveNote = fmt.Sprintf("$%.1fM short liq %.1f%% above - squeeze target", c.ValueUSD/1e6, c.DistancePct)
	}
	return lc
}

// ComputeLevels derives the entry band, stop and targets from price.
func ComputeLevels(price float64) model.Levels {
	entryLow := price * 0.997
	return model.Levels{
		EntryLow:  entryLow,
		EntryHigh: price,
		StopLoss:  entryLow * 0.995,
		Target1:   price * 1.01,
		Target2:   price * 1.015,
	}
}

// groupThousands renders a price rounded to whole units with comma grouping.
func groupThousands(v float64) string {
	s := fmt.Sprintf("%.0f", math.Abs(v))
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if v < 0 {
		s = "-" + s
	}
	return s
}
