// Package stream maintains the combined Binance kline websocket for the base
// symbol and every tracked symbol at 1m and 15m.
//
// Every decoded bar is written to the candle store; closed bars are then
// published on the bus. Reconnection is a bounded loop with exponential
// backoff. Exhausting the attempt cap ends Run with ErrReconnectExhausted,
// which is fatal for the feed.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/willkaufman/scalp-trader-sui/internal/marketdata/bus"
	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// ErrReconnectExhausted is returned by Run once MaxReconnectAttempts
// consecutive reconnects have failed.
var ErrReconnectExhausted = errors.New("stream: reconnect attempts exhausted")

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Config holds configuration for the stream client.
type Config struct {
	// URL of the combined-stream endpoint, e.g. "wss://stream.binance.com:9443/stream".
	URL string

	// BaseSymbol and Symbols are exchange pairs ("BTCUSDT", "SUIUSDT").
	BaseSymbol string
	Symbols    []string

	// Timeframes to subscribe. Defaults to 1m and 15m.
	Timeframes []model.Timeframe

	// InitialReconnectDelay defaults to 1s, MaxReconnectDelay to 60s.
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration

	// MaxReconnectAttempts defaults to 10.
	MaxReconnectAttempts int

	// PingInterval defaults to 20s; PongTimeout to 10s.
	PingInterval time.Duration
	PongTimeout  time.Duration
}

func (c *Config) defaults() {
	if len(c.Timeframes) == 0 {
		c.Timeframes = model.Timeframes
	}
	if c.InitialReconnectDelay == 0 {
		c.InitialReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 60 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 10 * time.Second
	}
}

// Client is a reconnecting kline stream client.
type Client struct {
	cfg   Config
	store model.BarWriter
	pub   bus.Publisher

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	cancel  context.CancelFunc
	stopped bool

	// Optional hooks.
	OnStateChange func(from, to State)
	OnReconnect   func(attempt int, delay time.Duration)
	OnParseError  func(err error)
	OnBar         func(ev model.BarEvent)
}

// New creates a client. Returns an error if the URL is unparseable or no
// symbols are configured.
func New(cfg Config, store model.BarWriter, pub bus.Publisher) (*Client, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("stream: parse url: %w", err)
	}
	if cfg.BaseSymbol == "" && len(cfg.Symbols) == 0 {
		return nil, errors.New("stream: no symbols configured")
	}
	return &Client{cfg: cfg, store: store, pub: pub}, nil
}

// Streams returns the subscription set: the base symbol and every tracked
// symbol at each timeframe, e.g. "btcusdt@kline_1m".
func (c *Client) Streams() []string {
	symbols := lo.Uniq(lo.Map(append([]string{c.cfg.BaseSymbol}, c.cfg.Symbols...), func(s string, _ int) string {
		return strings.ToLower(model.NormalizeSymbol(s))
	}))
	symbols = lo.Compact(symbols)

	out := make([]string, 0, len(symbols)*len(c.cfg.Timeframes))
	for _, sym := range symbols {
		for _, tf := range c.cfg.Timeframes {
			out = append(out, sym+"@kline_"+string(tf))
		}
	}
	return out
}

// StreamURL returns the combined-stream URL for the subscription set.
func (c *Client) StreamURL() string {
	sep := "?"
	if strings.Contains(c.cfg.URL, "?") {
		sep = "&"
	}
	return c.cfg.URL + sep + "streams=" + strings.Join(c.Streams(), "/")
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Backoff returns min(initial * 2^(attempt-1), max) for attempt >= 1.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Run connects and streams until ctx is cancelled or Stop is called (both
// return nil), or until reconnects are exhausted (ErrReconnectExhausted).
// A connection that was established and later dropped resets the attempt
// counter; a failed dial counts as an attempt.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return nil
		}

		c.setState(StateConnecting)
		connected, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return nil
		}
		if connected {
			attempt = 0
		}

		if attempt >= c.cfg.MaxReconnectAttempts {
			c.setState(StateDisconnected)
			slog.Error("websocket giving up", "event", "STOPPED", "attempts", attempt, "error", err)
			return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, attempt, err)
		}

		attempt++
		delay := Backoff(attempt, c.cfg.InitialReconnectDelay, c.cfg.MaxReconnectDelay)
		c.setState(StateReconnecting)
		slog.Warn("websocket disconnected",
			"event", "RECONNECTING", "error", err, "attempt", attempt,
			"max_attempts", c.cfg.MaxReconnectAttempts, "delay", delay.String())
		if c.OnReconnect != nil {
			c.OnReconnect(attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateDisconnected)
			return nil
		case <-timer.C:
		}
	}
}

// Stop closes any open connection, aborts an in-flight backoff and moves to
// Disconnected. Idempotent; safe to call before Run.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel, conn := c.cancel, c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	c.setState(StateDisconnected)
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. It reports whether the connection was established.
func (c *Client) runOnce(ctx context.Context) (bool, error) {
	target := c.StreamURL()
	slog.Info("websocket connecting", "event", "CONNECTING", "streams", len(c.Streams()))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return false, fmt.Errorf("stream: dial: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.setState(StateConnected)
	slog.Info("websocket connected", "event", "CONNECTED", "url", c.cfg.URL)

	readWindow := c.cfg.PingInterval + c.cfg.PongTimeout
	conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	// Async watcher: closes the connection when ctx is cancelled, pings otherwise.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
					time.Now().Add(time.Second))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.PongTimeout)); err != nil {
					slog.Debug("websocket ping failed", "error", err)
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			slog.Info("websocket closed", "event", "DISCONNECTED", "error", err)
			return true, fmt.Errorf("stream: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readWindow))
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	ev, ok, err := Decode(raw)
	if err != nil {
		slog.Warn("websocket message parse error", "error", err, "raw", truncate(raw, 200))
		if c.OnParseError != nil {
			c.OnParseError(err)
		}
		return
	}
	if !ok {
		return
	}

	c.store.Write(ev.Symbol, ev.Timeframe, ev.Bar)
	if c.OnBar != nil {
		c.OnBar(ev)
	}
	if ev.Bar.Closed && c.pub != nil {
		c.publish(ev)
	}
}

// publish isolates the listening loop from subscriber-side panics.
func (c *Client) publish(ev model.BarEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bar-close publish panicked", "key", ev.Key(), "panic", r)
		}
	}()
	c.pub.Publish(ev)
}

func (c *Client) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from != to && c.OnStateChange != nil {
		c.OnStateChange(from, to)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
