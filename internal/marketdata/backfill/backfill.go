// Package backfill seeds the candle store with recent history at startup so
// the signal pipeline can evaluate before live bars accumulate.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// KlineFetcher returns the most recent closed bars for a symbol, oldest first.
type KlineFetcher interface {
	Klines(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Bar, error)
}

// BinanceFetcher reads spot klines over REST.
type BinanceFetcher struct {
	cli *binance.Client
	now func() time.Time
}

// NewBinanceFetcher wraps a go-binance client. Public market data needs no key.
func NewBinanceFetcher(cli *binance.Client) *BinanceFetcher {
	return &BinanceFetcher{cli: cli, now: time.Now}
}

// Klines fetches up to limit bars. The exchange includes the interval still
// in progress as the last row; it is dropped so the live close of that
// interval is the only copy stored. Every returned bar is marked closed.
func (f *BinanceFetcher) Klines(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Bar, error) {
	res, err := f.cli.NewKlinesService().
		Symbol(model.NormalizeSymbol(symbol)).
		Interval(string(tf)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("backfill: klines %s %s: %w", symbol, tf, err)
	}

	nowMs := f.now().UnixMilli()
	bars := make([]model.Bar, 0, len(res))
	for _, k := range res {
		if k.CloseTime >= nowMs {
			continue
		}
		bar, err := convertKline(k)
		if err != nil {
			return nil, fmt.Errorf("backfill: klines %s %s: %w", symbol, tf, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func convertKline(k *binance.Kline) (model.Bar, error) {
	var fields [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Bar{}, fmt.Errorf("parse %q: %w", s, err)
		}
		fields[i] = d.InexactFloat64()
	}
	return model.Bar{
		Timestamp: k.OpenTime,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		Closed:    true,
	}, nil
}

// Limits is the number of bars fetched per timeframe.
type Limits map[model.Timeframe]int

// DefaultLimits match the store's rolling capacities.
var DefaultLimits = Limits{model.TF1m: 100, model.TF15m: 50}

// Loader backfills symbols one request at a time.
type Loader struct {
	fetcher KlineFetcher
	store   model.BarWriter
	limits  Limits

	// Spacing is the pause between requests (rate-limit courtesy).
	Spacing time.Duration
}

// NewLoader creates a loader. nil limits uses DefaultLimits.
func NewLoader(fetcher KlineFetcher, store model.BarWriter, limits Limits) *Loader {
	if limits == nil {
		limits = DefaultLimits
	}
	return &Loader{fetcher: fetcher, store: store, limits: limits, Spacing: 200 * time.Millisecond}
}

// Result summarises a backfill run.
type Result struct {
	Loaded map[string]int // "SYMBOL_tf" -> bars written
	Failed []string       // "SYMBOL_tf" keys whose fetch failed
}

// Load fetches 1m then 15m history for every symbol. A failed fetch is logged
// and skipped; only ctx cancellation aborts the run.
func (l *Loader) Load(ctx context.Context, symbols []string) (Result, error) {
	res := Result{Loaded: make(map[string]int)}
	first := true

	for _, sym := range symbols {
		sym = model.NormalizeSymbol(sym)
		for _, tf := range model.Timeframes {
			limit, ok := l.limits[tf]
			if !ok || limit <= 0 {
				continue
			}
			if !first {
				if err := sleep(ctx, l.Spacing); err != nil {
					return res, err
				}
			}
			first = false

			key := model.SeriesKey(sym, tf)
			bars, err := l.fetcher.Klines(ctx, sym, tf, limit)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				slog.Error("backfill fetch failed", "key", key, "error", err)
				res.Failed = append(res.Failed, key)
				continue
			}
			for _, b := range bars {
				b.Closed = true
				l.store.Write(sym, tf, b)
			}
			res.Loaded[key] = len(bars)
			slog.Info("backfill loaded", "key", key, "bars", len(bars))
		}
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
