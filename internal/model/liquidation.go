package model

import (
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
)

// LiquidationCluster is a price level with resting liquidation notional.
// Long clusters sit below the current price, short clusters above it.
type LiquidationCluster struct {
	Price       float64 `json:"price"`
	ValueUSD    float64 `json:"value_usd"`
	Long        bool    `json:"long"`
	DistancePct float64 `json:"distance_pct"` // absolute distance from current price, percent
}

// LiquidationData is a heatmap snapshot for one asset.
type LiquidationData struct {
	Asset     string               `json:"asset"`
	Timestamp time.Time            `json:"timestamp"`
	Price     float64              `json:"price"`
	Above     []LiquidationCluster `json:"above"`
	Below     []LiquidationCluster `json:"below"`
}

// NearestBelow returns the highest-notional long cluster within withinPct below price.
func (d LiquidationData) NearestBelow(withinPct float64) mo.Option[LiquidationCluster] {
	return largestWithin(d.Below, withinPct)
}

// NearestAbove returns the highest-notional short cluster within withinPct above price.
func (d LiquidationData) NearestAbove(withinPct float64) mo.Option[LiquidationCluster] {
	return largestWithin(d.Above, withinPct)
}

func largestWithin(clusters []LiquidationCluster, withinPct float64) mo.Option[LiquidationCluster] {
	eligible := lo.Filter(clusters, func(c LiquidationCluster, _ int) bool {
		return c.DistancePct <= withinPct
	})
	if len(eligible) == 0 {
		return mo.None[LiquidationCluster]()
	}
	// first maximum wins, and clusters are sorted nearest-first
	return mo.Some(lo.MaxBy(eligible, func(a, b LiquidationCluster) bool {
		return a.ValueUSD > b.ValueUSD
	}))
}
