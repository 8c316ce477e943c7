// Package bus carries closed-bar events from the stream client to its
// consumers. The publisher holds no reference to consumer logic: consumers
// subscribe to a channel and the publisher never blocks on them.
package bus

import (
	"log/slog"
	"sync"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// Publisher is the write side used by the stream client.
type Publisher interface {
	Publish(ev model.BarEvent)
}

// FanOut broadcasts bar events to N subscriber channels.
// If a subscriber channel is full, the event is dropped for that consumer to
// prevent a slow consumer from blocking ingestion.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.BarEvent
	bufSize int
	closed  bool

	// OnDrop is called when an event is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int, ev model.BarEvent)
}

// New creates a FanOut with the given buffer size for subscriber channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new subscriber channel. Subscribing after
// Close returns an already-closed channel.
func (f *FanOut) Subscribe() <-chan model.BarEvent {
	ch := make(chan model.BarEvent, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.outputs = append(f.outputs, ch)
	return ch
}

// Publish delivers ev to every subscriber without blocking. Subscribers see
// events in publish order.
func (f *FanOut) Publish(ev model.BarEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for i, ch := range f.outputs {
		select {
		case ch <- ev:
		default:
			if f.OnDrop != nil {
				f.OnDrop(i, ev)
			} else {
				slog.Warn("bus subscriber full, dropping event", "subscriber", i, "key", ev.Key())
			}
		}
	}
}

// Close closes every subscriber channel. Idempotent.
func (f *FanOut) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.outputs {
		close(ch)
	}
}

// ChannelStat is a subscriber's (length, capacity), used for saturation reporting.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns the saturation of each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
