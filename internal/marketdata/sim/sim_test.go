package sim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willkaufman/scalp-trader-sui/internal/marketdata/stream"
	"github.com/willkaufman/scalp-trader-sui/internal/model"
	"github.com/willkaufman/scalp-trader-sui/internal/store/memory"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func decodeAll(t *testing.T, msgs []message) []model.BarEvent {
	t.Helper()
	out := make([]model.BarEvent, 0, len(msgs))
	for _, m := range msgs {
		ev, ok, err := stream.Decode(m.payload)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, strings.ToLower(ev.Symbol)+"@kline_"+string(ev.Timeframe), m.stream)
		out = append(out, ev)
	}
	return out
}

func TestStep_ClosesBars(t *testing.T) {
	s := New(Config{Prices: map[string]float64{"SUIUSDT": 1.2}, TicksPerBar: 3, Seed: 7, Start: start})

	var last []model.BarEvent
	for i := 0; i < 3; i++ {
		last = decodeAll(t, s.Step())
		require.Len(t, last, 2)
		if i < 2 {
			assert.False(t, last[0].Bar.Closed, "tick %d", i)
		}
	}
	oneMin := last[0]
	assert.Equal(t, model.TF1m, oneMin.Timeframe)
	assert.True(t, oneMin.Bar.Closed)
	assert.Equal(t, start.UnixMilli(), oneMin.Bar.Timestamp)
	assert.GreaterOrEqual(t, oneMin.Bar.High, oneMin.Bar.Low)
	assert.False(t, last[1].Bar.Closed, "15m still forming")

	next := decodeAll(t, s.Step())
	assert.Equal(t, start.Add(time.Minute).UnixMilli(), next[0].Bar.Timestamp, "new bar after close")
}

func TestStep_FifteenMinuteClose(t *testing.T) {
	s := New(Config{Prices: map[string]float64{"BTCUSDT": 98500}, TicksPerBar: 2, Seed: 1, Start: start})

	var closed15 []model.BarEvent
	for i := 0; i < 2*15; i++ {
		for _, ev := range decodeAll(t, s.Step()) {
			if ev.Timeframe == model.TF15m && ev.Bar.Closed {
				closed15 = append(closed15, ev)
			}
		}
	}
	require.Len(t, closed15, 1)
	assert.Equal(t, start.UnixMilli(), closed15[0].Bar.Timestamp)
}

func TestServer_FeedsStreamClient(t *testing.T) {
	s := New(Config{
		Prices:       map[string]float64{"BTCUSDT": 98500, "SUIUSDT": 1.2, "ETHUSDT": 3500},
		TickInterval: 2 * time.Millisecond,
		TicksPerBar:  2,
		Start:        start,
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	store := memory.New(nil)
	cli, err := stream.New(stream.Config{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream",
		BaseSymbol: "BTCUSDT",
		Symbols:    []string{"SUIUSDT"},
	}, store, nil)
	require.NoError(t, err)
	go cli.Run(ctx)
	defer cli.Stop()

	require.Eventually(t, func() bool {
		return len(store.Candles("SUIUSDT", model.TF1m, model.AllBars)) >= 3 && len(store.Candles("BTCUSDT", model.TF1m, model.AllBars)) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	assert.Empty(t, store.Candles("ETHUSDT", model.TF1m, model.AllBars), "unsubscribed streams are filtered")
	assert.True(t, store.LatestPrice("SUIUSDT").IsPresent())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)
}
