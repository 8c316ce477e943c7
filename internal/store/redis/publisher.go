// Package redis fans dispatched signals out to Redis: a PUBLISH on
// signals:<ASSET> and a latest-value key per asset. Calls run through a
// circuit breaker; while it is open, signals are buffered locally and
// replayed once Redis answers again.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/willkaufman/scalp-trader-sui/internal/breaker"
	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

const (
	defaultLatestTTL = 24 * time.Hour
	defaultMaxBuffer = 256
)

// Config configures the publisher.
type Config struct {
	Addr      string // "localhost:6379"
	Password  string
	DB        int
	LatestTTL time.Duration // default 24h
	MaxBuffer int           // signals held while the breaker is open, default 256
}

// ChannelKey is the pub/sub channel for an asset's signals.
func ChannelKey(asset string) string { return "signals:" + model.NormalizeSymbol(asset) }

// LatestKey holds the most recent signal JSON for an asset.
func LatestKey(asset string) string { return "signal:latest:" + model.NormalizeSymbol(asset) }

// Publisher writes signals to Redis.
type Publisher struct {
	client *goredis.Client
	cb     *breaker.Breaker
	ttl    time.Duration

	mu      sync.Mutex
	pending []model.Signal
	maxBuf  int

	// OnBuffer is called when a signal is held back because the breaker is open.
	OnBuffer func(sig model.Signal)
}

// New connects to Redis, verifies it with a PING, and returns a Publisher.
func New(cfg Config, cb *breaker.Breaker) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	slog.Info("redis publisher connected", "addr", cfg.Addr)
	return newPublisher(client, cb, cfg), nil
}

func newPublisher(client *goredis.Client, cb *breaker.Breaker, cfg Config) *Publisher {
	if cb == nil {
		cb = breaker.New("redis", 3, 30*time.Second)
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = defaultMaxBuffer
	}
	return &Publisher{
		client: client,
		cb:     cb,
		ttl:    cfg.LatestTTL,
		maxBuf: cfg.MaxBuffer,
	}
}

// Record publishes sig. While the breaker is open the signal is buffered and
// nil is returned; buffered signals go out ahead of the next successful write.
func (p *Publisher) Record(ctx context.Context, sig model.Signal) error {
	err := p.cb.Execute(func() error {
		if err := p.flush(ctx); err != nil {
			return err
		}
		return p.write(ctx, sig)
	})
	if errors.Is(err, breaker.ErrCircuitOpen) {
		p.buffer(sig)
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", sig.Asset, err)
	}
	return nil
}

func (p *Publisher) write(ctx context.Context, sig model.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = p.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Publish(ctx, ChannelKey(sig.Asset), data)
		pipe.Set(ctx, LatestKey(sig.Asset), data, p.ttl)
		return nil
	})
	return err
}

func (p *Publisher) buffer(sig model.Signal) {
	p.mu.Lock()
	if len(p.pending) >= p.maxBuf {
		// drop oldest
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, sig)
	p.mu.Unlock()

	if p.OnBuffer != nil {
		p.OnBuffer(sig)
	}
}

// flush replays buffered signals in order. Unsent signals stay buffered.
func (p *Publisher) flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.pending) > 0 {
		if err := p.write(ctx, p.pending[0]); err != nil {
			return err
		}
		p.pending = p.pending[1:]
	}
	return nil
}

// Pending returns the number of buffered signals, exported as a gauge.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close closes the Redis client. Buffered signals are discarded.
func (p *Publisher) Close() error {
	if n := p.Pending(); n > 0 {
		slog.Warn("redis publisher closing with buffered signals", "count", n)
	}
	return p.client.Close()
}

var _ model.SignalSink = (*Publisher)(nil)
