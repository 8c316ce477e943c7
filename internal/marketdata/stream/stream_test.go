package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willkaufman/scalp-trader-sui/internal/marketdata/bus"
	"github.com/willkaufman/scalp-trader-sui/internal/model"
	"github.com/willkaufman/scalp-trader-sui/internal/store/memory"
)

func klineMsg(symbol, interval string, start int64, close string, final bool) string {
	return fmt.Sprintf(`{"stream":"%s@kline_%s","data":{"e":"kline","E":%d,"s":"%s","k":{"t":%d,"T":%d,"s":"%s","i":"%s","o":"1.0","c":"%s","h":"2.0","l":"0.5","v":"10","x":%t}}}`,
		strings.ToLower(symbol), interval, start+1, symbol, start, start+59999, symbol, interval, close, final)
}

// wsServer upgrades every request and hands the connection to handler.
func wsServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

func fastConfig(u string) Config {
	return Config{
		URL:                   u,
		BaseSymbol:            "BTCUSDT",
		Symbols:               []string{"SUIUSDT"},
		InitialReconnectDelay: time.Millisecond,
		MaxReconnectDelay:     5 * time.Millisecond,
		MaxReconnectAttempts:  3,
	}
}

func TestBackoff(t *testing.T) {
	initial, max := time.Second, 60*time.Second
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for i, w := range want {
		assert.Equal(t, w*time.Second, Backoff(i+1, initial, max), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, Backoff(0, initial, max))
	assert.Equal(t, max, Backoff(1000, initial, max), "no overflow on large attempts")
}

func TestClient_StreamURL(t *testing.T) {
	c, err := New(Config{URL: "wss://example/stream", BaseSymbol: "btcusdt", Symbols: []string{"SUIUSDT", "BTCUSDT"}}, memory.New(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"btcusdt@kline_1m", "btcusdt@kline_15m", "suiusdt@kline_1m", "suiusdt@kline_15m"}, c.Streams())
	assert.Equal(t, "wss://example/stream?streams=btcusdt@kline_1m/btcusdt@kline_15m/suiusdt@kline_1m/suiusdt@kline_15m", c.StreamURL())
}

func TestNew_RequiresSymbols(t *testing.T) {
	_, err := New(Config{URL: "wss://example/stream"}, memory.New(nil), nil)
	assert.Error(t, err)
}

func TestClient_WritesBarsAndPublishesCloses(t *testing.T) {
	var gotQuery atomic.Value
	srv := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotQuery.Store(r.URL.Query().Get("streams"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(klineMsg("BTCUSDT", "1m", 60000, "100.5", false)))
		conn.WriteMessage(websocket.TextMessage, []byte(klineMsg("BTCUSDT", "1m", 60000, "101.5", true)))
		conn.WriteMessage(websocket.TextMessage, []byte(klineMsg("SUIUSDT", "15m", 0, "1.25", true)))
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	store := memory.New(nil)
	fo := bus.New(8)
	events := fo.Subscribe()

	c, err := New(fastConfig(wsURL(srv)), store, fo)
	require.NoError(t, err)
	var parseErrors atomic.Int32
	c.OnParseError = func(error) { parseErrors.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	var got []model.BarEvent
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for closed bars")
		}
	}

	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, model.TF1m, got[0].Timeframe)
	assert.Equal(t, 101.5, got[0].Bar.Close)
	assert.True(t, got[0].Bar.Closed)
	assert.Equal(t, "SUIUSDT", got[1].Symbol)
	assert.Equal(t, model.TF15m, got[1].Timeframe)

	assert.Equal(t, []float64{101.5}, store.Closes("BTCUSDT", model.TF1m, 10), "open bar never appended")
	assert.Equal(t, int32(1), parseErrors.Load(), "malformed message logged, connection kept")
	assert.Equal(t, StateConnected, c.State())
	assert.Contains(t, gotQuery.Load(), "suiusdt@kline_15m")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClient_ReconnectExhausted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u := wsURL(srv)
	srv.Close()

	c, err := New(fastConfig(u), memory.New(nil), nil)
	require.NoError(t, err)

	var attempts []int
	c.OnReconnect = func(attempt int, _ time.Duration) { attempts = append(attempts, attempt) }

	err = c.Run(context.Background())
	require.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClient_SuccessfulConnectResetsAttempts(t *testing.T) {
	var connections atomic.Int32
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		connections.Add(1)
		// drop immediately
	})

	c, err := New(fastConfig(wsURL(srv)), memory.New(nil), nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var maxAttempt int
	ctx, cancel := context.WithCancel(context.Background())
	c.OnReconnect = func(attempt int, _ time.Duration) {
		mu.Lock()
		if attempt > maxAttempt {
			maxAttempt = attempt
		}
		mu.Unlock()
		if connections.Load() >= 8 {
			cancel()
		}
	}

	err = c.Run(ctx)
	assert.NoError(t, err, "drops after a successful connect never exhaust the cap")
	assert.GreaterOrEqual(t, connections.Load(), int32(8))
	assert.Equal(t, 1, maxAttempt)
}

func TestClient_StopAbortsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u := wsURL(srv)
	srv.Close()

	cfg := fastConfig(u)
	cfg.InitialReconnectDelay = time.Hour
	cfg.MaxReconnectDelay = time.Hour
	c, err := New(cfg, memory.New(nil), nil)
	require.NoError(t, err)

	waiting := make(chan struct{})
	c.OnReconnect = func(int, time.Duration) { close(waiting) }

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	<-waiting
	c.Stop()
	c.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not abort the backoff")
	}
	assert.Equal(t, StateDisconnected, c.State())
	assert.NoError(t, c.Run(context.Background()), "Run after Stop returns immediately")
}

func TestClient_StateTransitions(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u := wsURL(srv)
	srv.Close()

	cfg := fastConfig(u)
	cfg.MaxReconnectAttempts = 1
	c, err := New(cfg, memory.New(nil), nil)
	require.NoError(t, err)

	var states []State
	c.OnStateChange = func(_, to State) { states = append(states, to) }
	require.ErrorIs(t, c.Run(context.Background()), ErrReconnectExhausted)

	assert.Equal(t, []State{StateConnecting, StateReconnecting, StateConnecting, StateDisconnected}, states)
}

// panickingPublisher blows up on every closed bar it is handed.
type panickingPublisher struct {
	calls atomic.Int32
}

func (p *panickingPublisher) Publish(model.BarEvent) {
	p.calls.Add(1)
	panic("boom")
}

func TestClient_PublisherPanicDoesNotStopListening(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(klineMsg("BTCUSDT", "1m", 60000, "100", true)))
		conn.WriteMessage(websocket.TextMessage, []byte(klineMsg("BTCUSDT", "1m", 120000, "101", true)))
		conn.WriteMessage(websocket.TextMessage, []byte(klineMsg("BTCUSDT", "1m", 180000, "102", false)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	store := memory.New(nil)
	pub := &panickingPublisher{}
	c, err := New(fastConfig(wsURL(srv)), store, pub)
	require.NoError(t, err)
	var reconnects atomic.Int32
	c.OnReconnect = func(int, time.Duration) { reconnects.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.LatestPrice("BTCUSDT").OrEmpty() == 102
	}, 2*time.Second, 5*time.Millisecond, "messages after the panics are still processed")

	assert.Equal(t, int32(2), pub.calls.Load(), "every closed bar reached the publisher")
	assert.Equal(t, []float64{100, 101}, store.Closes("BTCUSDT", model.TF1m, model.AllBars))
	assert.Equal(t, StateConnected, c.State())
	assert.Zero(t, reconnects.Load(), "connection kept")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
