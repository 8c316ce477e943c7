package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/mo"

	"github.com/willkaufman/scalp-trader-sui/internal/store/memory"
)

// Sources are the read-only views the status document is assembled from.
// Any of them may be nil.
type Sources struct {
	Cache          func() memory.Snapshot
	Cooldowns      func() map[string]time.Duration
	Stream         func() string
	FundingFetched func() mo.Option[time.Time]
	Journaled      func(ctx context.Context) (int, error)
}

// Health tracks process counters and serves the status document.
type Health struct {
	startedAt time.Time
	altcoins  []string
	src       Sources

	signalsSent atomic.Int64
	errors      atomic.Int64
	running     atomic.Bool

	now func() time.Time
}

// NewHealth returns a Health that reports the given tracked assets.
func NewHealth(altcoins []string, src Sources) *Health {
	h := &Health{
		startedAt: time.Now(),
		altcoins:  altcoins,
		src:       src,
		now:       time.Now,
	}
	h.running.Store(true)
	return h
}

func (h *Health) IncSignals()           { h.signalsSent.Add(1) }
func (h *Health) IncErrors()            { h.errors.Add(1) }
func (h *Health) SignalsSent() int64    { return h.signalsSent.Load() }
func (h *Health) Errors() int64         { return h.errors.Load() }
func (h *Health) SetRunning(v bool)     { h.running.Store(v) }
func (h *Health) Uptime() time.Duration { return h.now().Sub(h.startedAt) }

type cooldownView struct {
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// StatusDoc is the JSON body served on / and /health.
type StatusDoc struct {
	Status        string                  `json:"status"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	SignalsSent   int64                   `json:"signals_sent"`
	Errors        int64                   `json:"errors"`
	Altcoins      []string                `json:"altcoins"`
	Stream        string                  `json:"stream,omitempty"`
	Cache         *memory.Snapshot        `json:"cache,omitempty"`
	Cooldowns     map[string]cooldownView `json:"cooldowns"`

	FundingUpdatedAt *time.Time `json:"funding_updated_at,omitempty"`
	JournaledSignals *int       `json:"journaled_signals,omitempty"`
}

// Status assembles the current status document.
func (h *Health) Status(ctx context.Context) StatusDoc {
	doc := StatusDoc{
		Status:        "healthy",
		UptimeSeconds: h.Uptime().Round(time.Second).Seconds(),
		SignalsSent:   h.SignalsSent(),
		Errors:        h.Errors(),
		Altcoins:      h.altcoins,
		Cooldowns:     map[string]cooldownView{},
	}
	if !h.running.Load() {
		doc.Status = "stopping"
	}
	if h.src.Stream != nil {
		doc.Stream = h.src.Stream()
	}
	if h.src.Cache != nil {
		snap := h.src.Cache()
		doc.Cache = &snap
	}
	if h.src.Cooldowns != nil {
		for asset, rem := range h.src.Cooldowns() {
			doc.Cooldowns[asset] = cooldownView{RemainingSeconds: rem.Round(time.Second).Seconds()}
		}
	}
	if h.src.FundingFetched != nil {
		if at, ok := h.src.FundingFetched().Get(); ok {
			doc.FundingUpdatedAt = &at
		}
	}
	if h.src.Journaled != nil {
		n, err := h.src.Journaled(ctx)
		if err != nil {
			slog.Warn("status: journal count failed", "error", err)
		} else {
			doc.JournaledSignals = &n
		}
	}
	return doc
}

// ServeHTTP writes the status document.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	doc := h.Status(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if doc.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(doc)
}
