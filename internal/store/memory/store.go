// Package memory implements the in-process candle store: one rolling series of
// closed bars per (symbol, timeframe), an optional forming bar per key, cached
// funding rates, and last-update timestamps.
//
// All state sits behind one RWMutex. No method calls into another guarded
// component while holding it.
package memory

import (
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
	"github.com/willkaufman/scalp-trader-sui/internal/ringbuf"
)

// Capacities configures the rolling series length per timeframe.
type Capacities map[model.Timeframe]int

// DefaultCapacities are 100 one-minute bars and 50 fifteen-minute bars.
var DefaultCapacities = Capacities{
	model.TF1m:  100,
	model.TF15m: 50,
}

type seriesKey struct {
	symbol string
	tf     model.Timeframe
}

// Store is a thread-safe rolling candle store.
type Store struct {
	mu         sync.RWMutex
	caps       Capacities
	series     map[seriesKey]*ringbuf.Ring
	forming    map[seriesKey]model.Bar
	funding    map[string]float64
	lastUpdate map[string]time.Time
	evicted    uint64 // evictions from series dropped by Clear

	now func() time.Time // injectable for tests
}

// New creates an empty store. Timeframes missing from caps use DefaultCapacities.
func New(caps Capacities) *Store {
	merged := make(Capacities, len(DefaultCapacities))
	for tf, c := range DefaultCapacities {
		merged[tf] = c
	}
	for tf, c := range caps {
		if c > 0 {
			merged[tf] = c
		}
	}
	return &Store{
		caps:       merged,
		series:     make(map[seriesKey]*ringbuf.Ring),
		forming:    make(map[seriesKey]model.Bar),
		funding:    make(map[string]float64),
		lastUpdate: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Write stores one bar update. A closed bar is appended to the rolling series
// (evicting the oldest when full) and clears the forming slot; an open bar
// replaces the forming slot. Unknown timeframes are ignored.
func (s *Store) Write(symbol string, tf model.Timeframe, bar model.Bar) {
	if !tf.Valid() {
		return
	}
	k := seriesKey{symbol: model.NormalizeSymbol(symbol), tf: tf}

	s.mu.Lock()
	defer s.mu.Unlock()

	if bar.Closed {
		r, ok := s.series[k]
		if !ok {
			r = ringbuf.New(s.caps[tf])
			s.series[k] = r
		}
		r.Push(bar)
		delete(s.forming, k)
	} else {
		s.forming[k] = bar
	}
	s.lastUpdate[model.SeriesKey(k.symbol, tf)] = s.now()
}

// Candles returns up to n most recent closed bars, oldest first.
// model.AllBars returns the whole series and 0 returns none.
func (s *Store) Candles(symbol string, tf model.Timeframe, n int) []model.Bar {
	k := seriesKey{symbol: model.NormalizeSymbol(symbol), tf: tf}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[k]
	if !ok {
		return []model.Bar{}
	}
	return r.Tail(n)
}

// Closes returns up to n most recent close prices, oldest first. It returns
// fewer than n when the series is short and never pads.
func (s *Store) Closes(symbol string, tf model.Timeframe, n int) []float64 {
	return lo.Map(s.Candles(symbol, tf, n), func(b model.Bar, _ int) float64 {
		return b.Close
	})
}

// LatestPrice returns the forming 1m bar's close if present, else the last
// closed 1m close, falling back to the 15m series.
func (s *Store) LatestPrice(symbol string) mo.Option[float64] {
	symbol = model.NormalizeSymbol(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tf := range model.Timeframes {
		k := seriesKey{symbol: symbol, tf: tf}
		if b, ok := s.forming[k]; ok {
			return mo.Some(b.Close)
		}
		if r, ok := s.series[k]; ok {
			if b, ok := r.Last(); ok {
				return mo.Some(b.Close)
			}
		}
	}
	return mo.None[float64]()
}

// SetFundingRate caches a symbol's funding rate (percent).
func (s *Store) SetFundingRate(symbol string, rate float64) {
	symbol = model.NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.funding[symbol] = rate
	s.lastUpdate[model.FundingKey(symbol)] = s.now()
}

// FundingRate returns the cached funding rate for a symbol.
func (s *Store) FundingRate(symbol string) mo.Option[float64] {
	symbol = model.NormalizeSymbol(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if rate, ok := s.funding[symbol]; ok {
		return mo.Some(rate)
	}
	return mo.None[float64]()
}

// LastUpdate returns when a key ("BTCUSDT_1m", "BTCUSDT_funding") last changed.
func (s *Store) LastUpdate(key string) mo.Option[time.Time] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.lastUpdate[key]; ok {
		return mo.Some(t)
	}
	return mo.None[time.Time]()
}

// Clear drops every series, forming bar, funding rate and timestamp.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.series {
		s.evicted += r.Evicted()
	}
	s.series = make(map[seriesKey]*ringbuf.Ring)
	s.forming = make(map[seriesKey]model.Bar)
	s.funding = make(map[string]float64)
	s.lastUpdate = make(map[string]time.Time)
}

// Evicted returns how many closed bars have rolled out of any series since
// the store was created. It never decreases, Clear included.
func (s *Store) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.evicted
	for _, r := range s.series {
		total += r.Evicted()
	}
	return total
}

// Snapshot is a point-in-time view of store occupancy.
type Snapshot struct {
	Counts       map[string]int       `json:"counts"`        // "SYMBOL_tf" -> closed bars held
	FundingRates map[string]float64   `json:"funding_rates"` // symbol -> percent
	LastUpdates  map[string]time.Time `json:"last_updates"`
}

// Status copies counts, funding rates and last-update times under the read lock.
func (s *Store) Status() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Counts:       make(map[string]int, len(s.series)),
		FundingRates: make(map[string]float64, len(s.funding)),
		LastUpdates:  make(map[string]time.Time, len(s.lastUpdate)),
	}
	for k, r := range s.series {
		snap.Counts[model.SeriesKey(k.symbol, k.tf)] = r.Len()
	}
	for sym, rate := range s.funding {
		snap.FundingRates[sym] = rate
	}
	for key, t := range s.lastUpdate {
		snap.LastUpdates[key] = t
	}
	return snap
}

var (
	_ model.PriceReader   = (*Store)(nil)
	_ model.BarWriter     = (*Store)(nil)
	_ model.FundingWriter = (*Store)(nil)
)
