// Package sim serves simulated klines in the exchange's combined-stream
// format so the scalper can run against a local feed:
//
//	{"stream":"suiusdt@kline_1m","data":{"e":"kline","s":"SUIUSDT","k":{...}}}
//
// Time is compressed: a 1m bar closes after TicksPerBar updates and a 15m bar
// after fifteen 1m closes.
package sim

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// Config configures the simulator.
type Config struct {
	// Prices maps exchange pairs to starting prices, e.g. {"BTCUSDT": 98500}.
	Prices map[string]float64

	TickInterval time.Duration // defaults to 100ms
	TicksPerBar  int           // updates per 1m bar, defaults to 10
	Volatility   float64       // max per-tick move in percent, defaults to 0.1
	Seed         int64         // 0 uses the clock
	Start        time.Time     // first bar open time, defaults to now truncated to the quarter hour
}

func (c *Config) defaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.TicksPerBar <= 0 {
		c.TicksPerBar = 10
	}
	if c.Volatility <= 0 {
		c.Volatility = 0.1
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if c.Start.IsZero() {
		c.Start = time.Now().UTC().Truncate(15 * time.Minute)
	}
}

type series struct {
	symbol string
	price  float64
	bars   map[model.Timeframe]model.Bar
}

// Server generates klines and broadcasts them to websocket clients.
type Server struct {
	cfg Config
	rng *rand.Rand

	series []*series
	tick   int
	closes int // 1m closes so far

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	upgrader websocket.Upgrader
}

type client struct {
	streams map[string]bool // empty means everything
	out     chan []byte
}

// New creates a simulator.
func New(cfg Config) *Server {
	cfg.defaults()
	s := &Server{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		clients: make(map[*websocket.Conn]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	syms := lo.Keys(cfg.Prices)
	sort.Strings(syms)
	for _, sym := range syms {
		s.series = append(s.series, &series{
			symbol: model.NormalizeSymbol(sym),
			price:  cfg.Prices[sym],
			bars:   make(map[model.Timeframe]model.Bar),
		})
	}
	return s
}

// Handler serves /stream (websocket) and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.serveWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"service": "klinesim",
			"clients": s.Clients(),
		})
	})
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("klinesim upgrade failed", "error", err)
		return
	}
	c := &client{streams: parseStreams(r.URL.Query().Get("streams")), out: make(chan []byte, 256)}

	s.mu.Lock()
	s.clients[conn] = c
	s.mu.Unlock()
	slog.Info("klinesim client connected", "remote", r.RemoteAddr, "streams", len(c.streams))

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
		slog.Info("klinesim client disconnected", "remote", r.RemoteAddr)
	}()

	// drain reads so control frames (ping/close) are handled
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for msg := range c.out {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func parseStreams(q string) map[string]bool {
	set := make(map[string]bool)
	for _, s := range strings.Split(q, "/") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			set[s] = true
		}
	}
	return set
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Run generates updates every TickInterval until ctx is cancelled, then
// closes every client.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	defer s.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, msg := range s.Step() {
				s.broadcast(msg.stream, msg.payload)
			}
		}
	}
}

type message struct {
	stream  string
	payload []byte
}

// Step advances the simulation by one tick and returns the encoded updates.
func (s *Server) Step() []message {
	s.tick++
	closing1m := s.tick%s.cfg.TicksPerBar == 0
	closing15m := false
	if closing1m {
		s.closes++
		closing15m = s.closes%15 == 0
	}
	barIdx := int64((s.tick - 1) / s.cfg.TicksPerBar)
	now := s.cfg.Start.Add(time.Duration(barIdx) * time.Minute)

	var out []message
	for _, ser := range s.series {
		ser.price = s.walk(ser.price)
		for _, tf := range model.Timeframes {
			final := closing1m
			if tf == model.TF15m {
				final = closing15m
			}
			bar := ser.update(tf, now, s.rng.Float64()*10)
			bar.Closed = final
			out = append(out, s.encode(ser.symbol, tf, bar))
			if final {
				delete(ser.bars, tf)
			}
		}
	}
	return out
}

func (s *Server) walk(price float64) float64 {
	pct := (s.rng.Float64()*2 - 1) * s.cfg.Volatility / 100
	next := price * (1 + pct)
	if next <= 0 {
		return price
	}
	return next
}

func (ser *series) update(tf model.Timeframe, now time.Time, vol float64) model.Bar {
	bar, ok := ser.bars[tf]
	if !ok {
		start := now.Truncate(time.Minute)
		if tf == model.TF15m {
			start = now.Truncate(15 * time.Minute)
		}
		bar = model.Bar{Timestamp: start.UnixMilli(), Open: ser.price, High: ser.price, Low: ser.price}
	}
	bar.Close = ser.price
	bar.High = max(bar.High, ser.price)
	bar.Low = min(bar.Low, ser.price)
	bar.Volume += vol
	ser.bars[tf] = bar
	return bar
}

func tfDuration(tf model.Timeframe) time.Duration {
	if tf == model.TF15m {
		return 15 * time.Minute
	}
	return time.Minute
}

func num(v float64) string { return decimal.NewFromFloat(v).Round(8).String() }

func (s *Server) encode(symbol string, tf model.Timeframe, bar model.Bar) message {
	stream := strings.ToLower(symbol) + "@kline_" + string(tf)
	ev := binance.WsKlineEvent{
		Event:  "kline",
		Time:   time.Now().UnixMilli(),
		Symbol: symbol,
		Kline: binance.WsKline{
			StartTime: bar.Timestamp,
			EndTime:   bar.Timestamp + tfDuration(tf).Milliseconds() - 1,
			Symbol:    symbol,
			Interval:  string(tf),
			Open:      num(bar.Open),
			Close:     num(bar.Close),
			High:      num(bar.High),
			Low:       num(bar.Low),
			Volume:    num(bar.Volume),
			IsFinal:   bar.Closed,
		},
	}
	payload, _ := json.Marshal(struct {
		Stream string               `json:"stream"`
		Data   binance.WsKlineEvent `json:"data"`
	}{stream, ev})
	return message{stream: stream, payload: payload}
}

func (s *Server) broadcast(stream string, msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if len(c.streams) > 0 && !c.streams[stream] {
			continue
		}
		select {
		case c.out <- msg:
		default: // slow client, drop
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, c := range s.clients {
		close(c.out)
		delete(s.clients, conn)
	}
}
