package signal

import (
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

func lows(values ...float64) []model.Bar {
	bars := make([]model.Bar, len(values))
	for i, v := range values {
		bars[i] = model.Bar{Timestamp: int64(i), Low: v, Close: v, Closed: true}
	}
	return bars
}

func TestIsStabilizing(t *testing.T) {
	assert.True(t, IsStabilizing(lows(10, 9, 11, 8, 8.5)), "8.5 above lowest prior low 8")
	assert.False(t, IsStabilizing(lows(10, 9, 11, 8, 7)), "new low")
	assert.False(t, IsStabilizing(lows(10, 9, 11, 8, 8)), "equal low is not higher")
	assert.False(t, IsStabilizing(lows(10, 9, 11, 8)), "needs five bars")
	assert.True(t, IsStabilizing(lows(1, 1, 1, 10, 9, 11, 8, 8.5)), "only the last five count")
}

func TestPriceChanges(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}
	closes[55] = 200 // fifth from last
	closes[45] = 50  // fifteenth from last
	closes[59] = 110

	c5, c15, c1h := PriceChanges(closes)
	assert.InDelta(t, -45.0, c5, 1e-9)
	assert.InDelta(t, 120.0, c15, 1e-9)
	assert.InDelta(t, 10.0, c1h, 1e-9)

	c5, c15, c1h = PriceChanges(closes[1:])
	assert.Zero(t, c5+c15+c1h, "fewer than 60 closes means no change")
}

func TestUnderperformance(t *testing.T) {
	th := DefaultThresholds()
	r := Underperformance("SUI", -1.5, -3.8, th)
	assert.InDelta(t, -2.3, r.Spread, 0.01)
	assert.True(t, r.Underperforming)
	assert.True(t, r.Strong)
	assert.Contains(t, r.Message, "STRONG")

	r = Underperformance("SUI", -1.5, -2.8, th)
	assert.True(t, r.Underperforming)
	assert.False(t, r.Strong)

	r = Underperformance("SUI", -1.5, -2.0, th)
	assert.False(t, r.Underperforming)
	assert.Contains(t, r.Message, "not significant")
}

func TestBTCStatusFrom(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, "Insufficient BTC data", BTCStatusFrom(lows(1, 2, 3), th).Message)

	st := BTCStatusFrom(lows(10, 9, 11, 8, 8.5), th)
	assert.True(t, st.Stabilizing)
	assert.False(t, st.SufficientDip, "fewer than 60 bars reads as a flat hour")
	assert.Equal(t, 8.5, st.Price)
}

func TestRatioSeries_TruncatesFromEnd(t *testing.T) {
	alt := []float64{1, 2, 3, 4, 5}
	base := []float64{10, 0, 20}
	assert.Equal(t, []float64{3.0 / 10, 5.0 / 20}, RatioSeries(alt, base), "zero denominator skipped")
	assert.Nil(t, RatioSeries(nil, base))
}

func TestAnalyzeRatio(t *testing.T) {
	th := DefaultThresholds()

	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = 0.02 - float64(i)*0.0005
	}
	r := AnalyzeRatio("SUI", mo.Some(falling[19]), falling, th)
	assert.True(t, r.Oversold)
	assert.True(t, r.NearLow)
	assert.True(t, r.SMA.IsPresent())
	assert.Contains(t, r.Message, "oversold")

	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = 0.01 + float64(i)*0.0005
	}
	r = AnalyzeRatio("SUI", mo.Some(rising[19]), rising, th)
	assert.False(t, r.Passed())
	assert.Equal(t, 100.0, r.RSI.MustGet())

	// near low alone passes even without enough data for RSI
	short := []float64{0.0100, 0.0102, 0.0101}
	r = AnalyzeRatio("SUI", mo.Some(0.01005), short, th)
	assert.True(t, r.RSI.IsAbsent())
	assert.True(t, r.NearLow)
	assert.True(t, r.Passed())

	r = AnalyzeRatio("SUI", mo.Some(0.5), []float64{0, 0, 0}, th)
	assert.False(t, r.NearLow, "zero low is never near")

	r = AnalyzeRatio("SUI", mo.None[float64](), falling, th)
	assert.False(t, r.Passed())
	assert.Equal(t, "Insufficient data for ratio analysis", r.Message)
}

func TestCheckFunding(t *testing.T) {
	th := DefaultThresholds()

	fc := CheckFunding(mo.None[float64](), th)
	assert.True(t, fc.Valid, "absence passes")
	assert.False(t, fc.Squeeze)

	cases := []struct {
		rate                    float64
		valid, squeeze, crowded bool
	}{
		{-0.10, false, false, false},
		{-0.08, false, true, false}, // floor is exclusive, band inclusive
		{-0.05, true, true, false},
		{-0.03, true, true, false},
		{0.01, true, false, false},
		{0.05, true, false, false},
		{0.06, true, false, true},
	}
	for _, c := range cases {
		fc := CheckFunding(mo.Some(c.rate), th)
		assert.Equal(t, c.valid, fc.Valid, "valid %v", c.rate)
		assert.Equal(t, c.squeeze, fc.Squeeze, "squeeze %v", c.rate)
		assert.Equal(t, c.crowded, fc.Crowded, "crowded %v", c.rate)
	}
}

func TestCheckLiquidations(t *testing.T) {
	th := DefaultThresholds()
	data := model.LiquidationData{
		Price: 100,
		Below: []model.LiquidationCluster{
			{Price: 99, ValueUSD: 2e6, Long: true, DistancePct: 1},
			{Price: 98.7, ValueUSD: 5e6, Long: true, DistancePct: 1.3},
			{Price: 97, ValueUSD: 9e6, Long: true, DistancePct: 3},
		},
		Above: []model.LiquidationCluster{{Price: 103, ValueUSD: 8e6, DistancePct: 3}},
	}
	lc := CheckLiquidations(data, th)
	assert.True(t, lc.ClusterBelow)
	assert.Equal(t, "$5.0M liq cluster 1.3% below - may hunt before bouncing", lc.BelowWarning)
	assert.False(t, lc.ClusterAbove)
	assert.Empty(t, lc.AboveNote)
}

func TestComputeLevels(t *testing.T) {
	l := ComputeLevels(2.0)
	require.InDelta(t, 1.994, l.EntryLow, 1e-12)
	assert.Equal(t, 2.0, l.EntryHigh)
	assert.InDelta(t, 1.994*0.995, l.StopLoss, 1e-12)
	assert.InDelta(t, 2.02, l.Target1, 1e-12)
	assert.InDelta(t, 2.03, l.Target2, 1e-12)
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "98,500", groupThousands(98500.4))
	assert.Equal(t, "1,234,568", groupThousands(1234567.8))
	assert.Equal(t, "999", groupThousands(999))
	assert.Equal(t, "-1,000", groupThousands(-1000))
}
