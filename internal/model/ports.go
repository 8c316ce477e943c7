package model

import (
	"context"

	"github.com/samber/mo"
)

// ── Port Interfaces ──
// These decouple the signal pipeline and pollers from the concrete stores.

// AllBars asks Candles and Closes for the whole rolling series. A count of
// zero returns nothing.
const AllBars = -1

// PriceReader is the read side of the candle store used by the signal pipeline.
type PriceReader interface {
	// Candles returns up to n most recent closed bars, oldest first.
	// Pass AllBars for the whole series.
	Candles(symbol string, tf Timeframe, n int) []Bar

	// Closes returns up to n most recent closes, oldest first. Never pads.
	Closes(symbol string, tf Timeframe, n int) []float64

	// LatestPrice returns the forming bar's close, else the last closed close.
	LatestPrice(symbol string) mo.Option[float64]

	// FundingRate returns the cached funding rate (percent) for a symbol.
	FundingRate(symbol string) mo.Option[float64]
}

// BarWriter accepts bar updates from the stream and the backfill loader.
type BarWriter interface {
	Write(symbol string, tf Timeframe, bar Bar)
}

// FundingWriter caches funding rates produced by the funding poller.
type FundingWriter interface {
	SetFundingRate(symbol string, rate float64)
}

// SignalSink receives dispatched signals for audit or fan-out (journal, Redis).
type SignalSink interface {
	// Record stores one dispatched signal.
	Record(ctx context.Context, sig Signal) error

	// Close releases underlying resources.
	Close() error
}
