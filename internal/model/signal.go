package model

import (
	"time"

	"github.com/samber/mo"
)

// BTCStatus is the base-asset dip and stabilization snapshot.
type BTCStatus struct {
	Price         float64 `json:"price"`
	Change5m      float64 `json:"change_5m"`
	Change15m     float64 `json:"change_15m"`
	Change1h      float64 `json:"change_1h"`
	Stabilizing   bool    `json:"stabilizing"`
	SufficientDip bool    `json:"sufficient_dip"`
	Message       string  `json:"message"`
}

// UnderperformanceResult compares the tracked asset's 1h return against the base.
// Spread is AssetChange1h - BaseChange1h; negative means the asset lagged.
type UnderperformanceResult struct {
	Asset           string  `json:"asset"`
	BaseChange1h    float64 `json:"base_change_1h"`
	AssetChange1h   float64 `json:"asset_change_1h"`
	Spread          float64 `json:"spread"`
	Underperforming bool    `json:"underperforming"`
	Strong          bool    `json:"strong"`
	Message         string  `json:"message"`
}

// RatioAnalysis describes the ALT/BASE ratio series.
type RatioAnalysis struct {
	Asset        string             `json:"asset"`
	CurrentRatio float64            `json:"current_ratio"`
	RSI          mo.Option[float64] `json:"rsi"`
	SMA          mo.Option[float64] `json:"sma"`
	Low24h       mo.Option[float64] `json:"low_24h"`
	Oversold     bool               `json:"oversold"`
	NearLow      bool               `json:"near_low"`
	Message      string             `json:"message"`
}

// Passed reports whether either ratio sub-condition holds.
func (r RatioAnalysis) Passed() bool { return r.Oversold || r.NearLow }

// FundingCheck is the funding-rate filter result. Rate is a percentage.
type FundingCheck struct {
	Rate    mo.Option[float64] `json:"rate"`
	Valid   bool               `json:"valid"`
	Squeeze bool               `json:"squeeze"`
	Crowded bool               `json:"crowded"`
	Message string             `json:"message"`
}

// LiquidationCheck annotates a signal with nearby liquidation clusters.
type LiquidationCheck struct {
	ClusterBelow bool   `json:"cluster_below"`
	ClusterAbove bool   `json:"cluster_above"`
	BelowWarning string `json:"below_warning,omitempty"`
	AboveNote    string `json:"above_note,omitempty"`
}

// Levels are the suggested entry band, stop and targets.
type Levels struct {
	EntryLow  float64 `json:"entry_low"`
	EntryHigh float64 `json:"entry_high"`
	StopLoss  float64 `json:"stop_loss"`
	Target1   float64 `json:"target_1"`
	Target2   float64 `json:"target_2"`
}

// Signal is an emitted alert. It is built once and not mutated afterwards.
type Signal struct {
	ID               string                      `json:"id"`
	Asset            string                      `json:"asset"`
	Timestamp        time.Time                   `json:"timestamp"`
	Price            float64                     `json:"price"`
	Strong           bool                        `json:"strong"`
	Levels           Levels                      `json:"levels"`
	BTC              BTCStatus                   `json:"btc"`
	Underperformance UnderperformanceResult      `json:"underperformance"`
	Ratio            RatioAnalysis               `json:"ratio"`
	Funding          FundingCheck                `json:"funding"`
	Liquidation      mo.Option[LiquidationCheck] `json:"liquidation"`
	Warnings         []string                    `json:"warnings"`
}

// StrengthLabel returns "STRONG" or "MODERATE".
func (s Signal) StrengthLabel() string {
	if s.Strong {
		return "STRONG"
	}
	return "MODERATE"
}
