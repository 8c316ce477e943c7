package funding

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// PollerConfig configures the funding poller.
type PollerConfig struct {
	BaseAsset string   // e.g. "BTC"
	Assets    []string // tracked assets, e.g. ["SUI"]
	Quote     string   // e.g. "USDT"

	Interval     time.Duration // defaults to 60s
	Spacing      time.Duration // pause between assets, defaults to 100ms
	ErrorBackoff time.Duration // pause after a panicked cycle, defaults to 30s
}

func (c *PollerConfig) defaults() {
	if c.Quote == "" {
		c.Quote = "USDT"
	}
	if c.Interval == 0 {
		c.Interval = 60 * time.Second
	}
	if c.Spacing == 0 {
		c.Spacing = 100 * time.Millisecond
	}
	if c.ErrorBackoff == 0 {
		c.ErrorBackoff = 30 * time.Second
	}
}

// Poller refreshes funding rates for the base asset and every tracked asset.
type Poller struct {
	cfg   PollerConfig
	src   Source
	store model.FundingWriter

	mu        sync.RWMutex
	lastFetch time.Time

	// Optional hooks.
	OnUpdate func(symbol string, rate float64)
	OnError  func(asset string, err error)
}

// NewPoller creates a poller writing into store.
func NewPoller(cfg PollerConfig, src Source, store model.FundingWriter) *Poller {
	cfg.defaults()
	return &Poller{cfg: cfg, src: src, store: store}
}

// Assets returns the polled assets, base first, de-duplicated.
func (p *Poller) Assets() []string {
	all := append([]string{p.cfg.BaseAsset}, p.cfg.Assets...)
	return lo.Compact(lo.Uniq(lo.Map(all, func(a string, _ int) string {
		return model.NormalizeSymbol(a)
	})))
}

// LastFetch returns when the last full cycle finished.
func (p *Poller) LastFetch() mo.Option[time.Time] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastFetch.IsZero() {
		return mo.None[time.Time]()
	}
	return mo.Some(p.lastFetch)
}

// FetchAll polls every asset once. Assets whose fetch fails or returns
// nothing keep their previously cached rate.
func (p *Poller) FetchAll(ctx context.Context) map[string]mo.Option[float64] {
	out := make(map[string]mo.Option[float64])
	for i, asset := range p.Assets() {
		if i > 0 && !sleep(ctx, p.cfg.Spacing) {
			return out
		}

		rate, err := p.src.FundingRate(ctx, asset)
		if err != nil {
			if ctx.Err() != nil {
				return out
			}
			slog.Warn("funding fetch failed", "asset", asset, "source", p.src.Name(), "error", err)
			if p.OnError != nil {
				p.OnError(asset, err)
			}
		}
		out[asset] = rate

		if v, ok := rate.Get(); ok {
			pair := model.Pair(asset, p.cfg.Quote)
			p.store.SetFundingRate(pair, v)
			slog.Debug("funding updated", "symbol", pair, "rate", v)
			if p.OnUpdate != nil {
				p.OnUpdate(pair, v)
			}
		}
	}

	p.mu.Lock()
	p.lastFetch = time.Now()
	p.mu.Unlock()
	return out
}

// Run polls until ctx is cancelled. A panicking cycle is logged and retried
// after ErrorBackoff.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("funding poller started", "source", p.src.Name(), "interval", p.cfg.Interval.String(), "assets", p.Assets())
	defer slog.Info("funding poller stopped")

	for {
		wait := p.cfg.Interval
		if !p.cycle(ctx) {
			wait = p.cfg.ErrorBackoff
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (p *Poller) cycle(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("funding poll panicked", "panic", r)
			ok = false
		}
	}()
	p.FetchAll(ctx)
	return true
}

// sleep waits d or until ctx is done; it reports false on cancellation.
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
