// Package signal evaluates the lag-scalp heuristic for one tracked asset at a
// time. Evaluations are ordered and short-circuit on the first failing stage:
// cooldown, base dip, base stabilization, underperformance, ratio, funding.
// Liquidation proximity only annotates. A rejected evaluation is an Outcome
// with a reason, never an error.
package signal

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/willkaufman/scalp-trader-sui/internal/indicator"
	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// Stage names the step an evaluation stopped at.
type Stage string

const (
	StageCooldown         Stage = "cooldown"
	StageBTCDip           Stage = "btc_dip"
	StageStabilization    Stage = "btc_stabilization"
	StageUnderperformance Stage = "underperformance"
	StageRatio            Stage = "ratio"
	StageFunding          Stage = "funding"
	StagePrice            Stage = "price"
	StageEmitted          Stage = "emitted"
)

// Outcome records where and why an evaluation ended.
type Outcome struct {
	Asset  string `json:"asset"`
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// Emitted reports whether the evaluation produced a signal.
func (o Outcome) Emitted() bool { return o.Stage == StageEmitted }

// Gate is the cooldown check consulted before any other stage.
type Gate interface {
	CanFire(asset string) bool
}

// LiquidationLookup exposes cached heatmap snapshots.
type LiquidationLookup interface {
	Enabled() bool
	Cached(asset string) mo.Option[model.LiquidationData]
}

// Config configures a Generator.
type Config struct {
	BaseAsset  string // "BTC"
	Quote      string // "USDT"
	Thresholds Thresholds
}

// Generator evaluates tracked assets against the candle store.
type Generator struct {
	cfg    Config
	prices model.PriceReader
	gate   Gate
	liq    LiquidationLookup

	now func() time.Time
}

// NewGenerator creates a generator. liq may be nil.
func NewGenerator(cfg Config, prices model.PriceReader, gate Gate, liq LiquidationLookup) *Generator {
	if cfg.BaseAsset == "" {
		cfg.BaseAsset = "BTC"
	}
	if cfg.Quote == "" {
		cfg.Quote = "USDT"
	}
	cfg.BaseAsset = model.NormalizeSymbol(cfg.BaseAsset)
	cfg.Quote = model.NormalizeSymbol(cfg.Quote)
	cfg.Thresholds.defaults()
	return &Generator{cfg: cfg, prices: prices, gate: gate, liq: liq, now: time.Now}
}

// Thresholds returns the generator's parameters.
func (g *Generator) Thresholds() Thresholds { return g.cfg.Thresholds }

// BTCStatus computes the base-asset status from the store.
func (g *Generator) BTCStatus() model.BTCStatus {
	bars := g.prices.Candles(model.Pair(g.cfg.BaseAsset, g.cfg.Quote), model.TF1m, ChangeWindow)
	return BTCStatusFrom(bars, g.cfg.Thresholds)
}

// Evaluate runs every stage for asset and returns a signal only when all
// blocking stages pass.
func (g *Generator) Evaluate(asset string) (*model.Signal, Outcome) {
	asset = model.NormalizeSymbol(asset)
	th := g.cfg.Thresholds
	basePair := model.Pair(g.cfg.BaseAsset, g.cfg.Quote)
	pair := model.Pair(asset, g.cfg.Quote)

	stop := func(stage Stage, reason string) (*model.Signal, Outcome) {
		slog.Debug("no signal", "asset", asset, "stage", string(stage), "reason", reason)
		return nil, Outcome{Asset: asset, Stage: stage, Reason: reason}
	}

	// 1. cooldown
	if g.gate != nil && !g.gate.CanFire(asset) {
		return stop(StageCooldown, "in cooldown")
	}

	// 2. base dip + stabilization
	btc := g.BTCStatus()
	if !btc.SufficientDip {
		return stop(StageBTCDip, btc.Message)
	}
	if !btc.Stabilizing {
		return stop(StageStabilization, btc.Message)
	}

	// 3. underperformance
	_, _, alt1h := PriceChanges(g.prices.Closes(pair, model.TF1m, ChangeWindow))
	under := Underperformance(asset, btc.Change1h, alt1h, th)
	if !under.Underperforming {
		return stop(StageUnderperformance, under.Message)
	}

	// 4. ratio
	current := mo.None[float64]()
	altPrice, altOK := g.prices.LatestPrice(pair).Get()
	basePrice, baseOK := g.prices.LatestPrice(basePair).Get()
	if altOK && baseOK {
		current = indicator.Ratio(altPrice, basePrice)
	}
	series := RatioSeries(g.prices.Closes(pair, model.TF15m, model.AllBars), g.prices.Closes(basePair, model.TF15m, model.AllBars))
	ratio := AnalyzeRatio(asset, current, series, th)
	if !ratio.Passed() {
		return stop(StageRatio, ratio.Message)
	}

	// 5. funding
	funding := CheckFunding(g.prices.FundingRate(pair), th)
	if !funding.Valid {
		return stop(StageFunding, funding.Message)
	}

	// 6. liquidation proximity, annotations only
	liq := mo.None[model.LiquidationCheck]()
	if g.liq != nil && g.liq.Enabled() {
		if data, ok := g.liq.Cached(asset).Get(); ok {
			liq = mo.Some(CheckLiquidations(data, th))
		}
	}

	if !altOK {
		return stop(StagePrice, "cannot get current price")
	}

	var warnings []string
	if funding.Crowded {
		warnings = append(warnings, "Crowded longs - be cautious")
	}
	if lc, ok := liq.Get(); ok {
		if lc.BelowWarning != "" {
			warnings = append(warnings, lc.BelowWarning)
		}
		if lc.AboveNote != "" {
			warnings = append(warnings, lc.AboveNote)
		}
	}

	sig := &model.Signal{
		ID:               uuid.NewString(),
		Asset:            asset,
		Timestamp:        g.now().UTC(),
		Price:            altPrice,
		Strong:           under.Strong && ratio.Oversold && funding.Squeeze,
		Levels:           ComputeLevels(altPrice),
		BTC:              btc,
		Underperformance: under,
		Ratio:            ratio,
		Funding:          funding,
		Liquidation:      liq,
		Warnings:         warnings,
	}
	slog.Info("signal generated", "asset", asset, "price", altPrice, "strength", sig.StrengthLabel(), "id", sig.ID)
	return sig, Outcome{Asset: asset, Stage: StageEmitted, Reason: sig.StrengthLabel()}
}
