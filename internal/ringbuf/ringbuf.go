// Package ringbuf provides a fixed-capacity FIFO of closed bars that evicts the
// oldest entry on overflow. It backs every rolling (symbol, timeframe) series
// in the candle store.
//
// A Ring is not safe for concurrent use; the owning store serialises access.
package ringbuf

import "github.com/willkaufman/scalp-trader-sui/internal/model"

// Ring is an evicting ring buffer for Bar values.
// Unlike a lock-free queue it never rejects a push: when full, the oldest bar
// is overwritten.
type Ring struct {
	buf  []model.Bar
	head int // index of the oldest element
	size int

	// evicted counts bars overwritten on overflow (for metrics)
	evicted uint64
}

// New creates a ring holding exactly capacity bars. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.Bar, capacity)}
}

// Push appends a bar, evicting the oldest when full.
// Returns true if a bar was evicted.
func (r *Ring) Push(b model.Bar) bool {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = b
		r.size++
		return false
	}
	r.buf[r.head] = b
	r.head = (r.head + 1) % len(r.buf)
	r.evicted++
	return true
}

// Len returns the number of bars held.
func (r *Ring) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Evicted returns the total number of bars dropped on overflow.
func (r *Ring) Evicted() uint64 { return r.evicted }

// Last returns the most recent bar.
func (r *Ring) Last() (model.Bar, bool) {
	if r.size == 0 {
		return model.Bar{}, false
	}
	return r.at(r.size - 1), true
}

// Tail copies the last n bars, oldest first. n > Len or model.AllBars returns
// every bar; n == 0 returns none.
func (r *Ring) Tail(n int) []model.Bar {
	if n < 0 || n > r.size {
		n = r.size
	}
	out := make([]model.Bar, n)
	start := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.at(start + i)
	}
	return out
}

func (r *Ring) at(i int) model.Bar {
	return r.buf[(r.head+i)%len(r.buf)]
}
