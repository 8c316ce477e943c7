// Package cooldown rate-limits alerts per tracked asset.
package cooldown

import (
	"sync"
	"time"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// Gate records the last alert time per asset. An asset with no entry has never
// alerted and may fire. Assets are independent of each other.
type Gate struct {
	mu     sync.RWMutex
	window time.Duration
	last   map[string]time.Time

	now func() time.Time
}

// New creates a gate with the given cooldown window.
func New(window time.Duration) *Gate {
	return &Gate{
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// CanFire reports whether asset has never alerted or its window has elapsed.
func (g *Gate) CanFire(asset string) bool {
	return g.Remaining(asset) == 0
}

// Record stamps the current time as asset's last alert.
func (g *Gate) Record(asset string) {
	asset = model.NormalizeSymbol(asset)
	t := g.now()

	g.mu.Lock()
	g.last[asset] = t
	g.mu.Unlock()
}

// Remaining returns max(0, window - elapsed since the last alert).
func (g *Gate) Remaining(asset string) time.Duration {
	asset = model.NormalizeSymbol(asset)

	g.mu.RLock()
	last, ok := g.last[asset]
	g.mu.RUnlock()
	if !ok {
		return 0
	}

	left := g.window - g.now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

// Clear forgets asset's last alert.
func (g *Gate) Clear(asset string) {
	asset = model.NormalizeSymbol(asset)

	g.mu.Lock()
	delete(g.last, asset)
	g.mu.Unlock()
}

// ClearAll forgets every asset.
func (g *Gate) ClearAll() {
	g.mu.Lock()
	g.last = make(map[string]time.Time)
	g.mu.Unlock()
}

// Status returns the remaining cooldown of every asset still cooling down.
func (g *Gate) Status() map[string]time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.now()
	out := make(map[string]time.Duration)
	for asset, last := range g.last {
		if left := g.window - now.Sub(last); left > 0 {
			out[asset] = left
		}
	}
	return out
}
