package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/willkaufman/scalp-trader-sui/internal/marketdata/bus"
)

// Probe copies one polled value into the collectors.
type Probe func(m *Metrics)

// Sample runs every probe once, then again each interval until ctx is done.
func (m *Metrics) Sample(ctx context.Context, interval time.Duration, probes ...Probe) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, p := range probes {
			p(m)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// QueueDepth reports each bus subscriber's buffered events.
func QueueDepth(stats func() []bus.ChannelStat) Probe {
	return func(m *Metrics) {
		for i, st := range stats() {
			m.FanoutDepth.WithLabelValues(fmt.Sprint(i)).Set(float64(st.Len))
		}
	}
}

// Evictions turns a running eviction total into counter increments.
func Evictions(total func() uint64) Probe {
	var last uint64
	return func(m *Metrics) {
		n := total()
		if n > last {
			m.EvictedBars.Add(float64(n - last))
		}
		last = n
	}
}

// PendingSignals reports the Redis publisher's buffer length.
func PendingSignals(pending func() int) Probe {
	return func(m *Metrics) { m.RedisPending.Set(float64(pending())) }
}
