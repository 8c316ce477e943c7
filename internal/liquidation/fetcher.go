package liquidation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// Source fetches a heatmap snapshot for one asset.
type Source interface {
	Fetch(ctx context.Context, asset string) (mo.Option[model.LiquidationData], error)
}

// Config configures the fetcher.
type Config struct {
	Assets       []string      // base asset first, then tracked assets
	Interval     time.Duration // defaults to 300s
	Spacing      time.Duration // pause between assets, defaults to 500ms
	ErrorBackoff time.Duration // pause after a panicked cycle, defaults to 60s
}

func (c *Config) defaults() {
	if c.Interval == 0 {
		c.Interval = 300 * time.Second
	}
	if c.Spacing == 0 {
		c.Spacing = 500 * time.Millisecond
	}
	if c.ErrorBackoff == 0 {
		c.ErrorBackoff = 60 * time.Second
	}
}

// Fetcher polls a Source and keeps the last good snapshot per asset.
type Fetcher struct {
	cfg     Config
	src     Source
	enabled atomic.Bool

	mu    sync.RWMutex
	cache map[string]model.LiquidationData

	// OnFetch is called after every fetch attempt (optional).
	OnFetch func(asset string, err error)
}

// NewFetcher creates a fetcher. A nil source or enabled=false produces a
// permanently disabled fetcher.
func NewFetcher(cfg Config, src Source, enabled bool) *Fetcher {
	cfg.defaults()
	cfg.Assets = lo.Compact(lo.Uniq(lo.Map(cfg.Assets, func(a string, _ int) string {
		return model.NormalizeSymbol(a)
	})))
	f := &Fetcher{cfg: cfg, src: src, cache: make(map[string]model.LiquidationData)}
	f.enabled.Store(enabled && src != nil)
	return f
}

// Enabled reports whether lookups may return data.
func (f *Fetcher) Enabled() bool { return f.enabled.Load() }

// Cached returns the last good snapshot for asset.
func (f *Fetcher) Cached(asset string) mo.Option[model.LiquidationData] {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if d, ok := f.cache[model.NormalizeSymbol(asset)]; ok {
		return mo.Some(d)
	}
	return mo.None[model.LiquidationData]()
}

// FetchAll refreshes every asset once. A failed or empty fetch keeps the
// previous snapshot. A permission-denied response disables the fetcher.
func (f *Fetcher) FetchAll(ctx context.Context) {
	for i, asset := range f.cfg.Assets {
		if !f.Enabled() {
			return
		}
		if i > 0 && !sleep(ctx, f.cfg.Spacing) {
			return
		}

		data, err := f.src.Fetch(ctx, asset)
		if f.OnFetch != nil {
			f.OnFetch(asset, err)
		}
		switch {
		case errors.Is(err, ErrPermissionDenied):
			slog.Warn("liquidation heatmap requires a paid plan, disabling")
			f.enabled.Store(false)
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			slog.Warn("liquidation fetch failed", "asset", asset, "error", err)
			continue
		}

		if d, ok := data.Get(); ok {
			f.mu.Lock()
			f.cache[asset] = d
			f.mu.Unlock()
			slog.Debug("liquidation updated", "asset", asset, "below", len(d.Below), "above", len(d.Above))
		}
	}
}

// Run polls until ctx is cancelled or the fetcher becomes disabled.
func (f *Fetcher) Run(ctx context.Context) {
	if !f.Enabled() {
		slog.Info("liquidation fetcher disabled")
		return
	}
	slog.Info("liquidation fetcher started", "interval", f.cfg.Interval.String(), "assets", f.cfg.Assets)
	defer slog.Info("liquidation fetcher stopped")

	for f.Enabled() {
		wait := f.cfg.Interval
		if !f.cycle(ctx) {
			wait = f.cfg.ErrorBackoff
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (f *Fetcher) cycle(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("liquidation poll panicked", "panic", r)
			ok = false
		}
	}()
	f.FetchAll(ctx)
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
