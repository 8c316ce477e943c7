package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/willkaufman/scalp-trader-sui/config"
	"github.com/willkaufman/scalp-trader-sui/internal/app"
	"github.com/willkaufman/scalp-trader-sui/internal/breaker"
	"github.com/willkaufman/scalp-trader-sui/internal/cooldown"
	"github.com/willkaufman/scalp-trader-sui/internal/funding"
	"github.com/willkaufman/scalp-trader-sui/internal/liquidation"
	"github.com/willkaufman/scalp-trader-sui/internal/logger"
	"github.com/willkaufman/scalp-trader-sui/internal/marketdata/backfill"
	"github.com/willkaufman/scalp-trader-sui/internal/marketdata/bus"
	"github.com/willkaufman/scalp-trader-sui/internal/marketdata/stream"
	"github.com/willkaufman/scalp-trader-sui/internal/metrics"
	"github.com/willkaufman/scalp-trader-sui/internal/model"
	"github.com/willkaufman/scalp-trader-sui/internal/notification"
	pipeline "github.com/willkaufman/scalp-trader-sui/internal/signal"
	"github.com/willkaufman/scalp-trader-sui/internal/store/memory"
	redisstore "github.com/willkaufman/scalp-trader-sui/internal/store/redis"
	sqlitestore "github.com/willkaufman/scalp-trader-sui/internal/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("scalper exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	logger.Init("scalper", logger.ParseLevel(cfg.LogLevel))
	slog.Info("starting BTC lag scalper", "config", cfg.Redacted())

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Core state ----
	store := memory.New(memory.Capacities{
		model.TF1m:  cfg.Candles1mBuffer,
		model.TF15m: cfg.Candles15mBuffer,
	})
	gate := cooldown.New(cfg.AlertCooldown)
	prom := metrics.New(nil)

	basePair := model.Pair(cfg.BaseAsset, cfg.QuoteAsset)
	altPairs := make([]string, 0, len(cfg.Altcoins))
	for _, a := range cfg.Altcoins {
		altPairs = append(altPairs, model.Pair(a, cfg.QuoteAsset))
	}

	// ---- Alert channels ----
	senders := []notification.Sender{
		notification.NewTelegramSender(cfg.TelegramBotToken, cfg.TelegramChatID, ""),
		notification.NewDiscordSender(cfg.DiscordWebhookURL),
	}
	for _, s := range senders {
		if !s.Enabled() {
			slog.Info("alert channel disabled", "channel", s.Name())
			continue
		}
		tctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if !s.TestConnection(tctx) {
			slog.Warn("alert channel connection test failed", "channel", s.Name())
		}
		cancel()
	}

	// ---- Backfill ----
	spot := binance.NewClient(cfg.BinanceAPIKey, cfg.BinanceAPISecret)
	loader := backfill.NewLoader(backfill.NewBinanceFetcher(spot), store, backfill.Limits{
		model.TF1m:  cfg.Candles1mBuffer,
		model.TF15m: cfg.Candles15mBuffer,
	})
	res, err := loader.Load(ctx, append([]string{basePair}, altPairs...))
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	for key, n := range res.Loaded {
		prom.BackfillBars.WithLabelValues(key[strings.LastIndex(key, "_")+1:]).Add(float64(n))
	}
	slog.Info("backfill complete", "series", len(res.Loaded), "failed", res.Failed)

	// ---- Live stream ----
	fan := bus.New(256)
	fan.OnDrop = func(idx int, ev model.BarEvent) {
		prom.FanoutDrops.WithLabelValues(fmt.Sprint(idx)).Inc()
	}
	events := fan.Subscribe()
	defer fan.Close()

	feed, err := stream.New(stream.Config{
		URL:        cfg.BinanceWSURL,
		BaseSymbol: basePair,
		Symbols:    altPairs,
	}, store, fan)
	if err != nil {
		return err
	}
	feed.OnStateChange = func(_, to stream.State) { prom.StreamState.Set(float64(to)) }
	feed.OnReconnect = func(int, time.Duration) { prom.WSReconnects.Inc() }
	feed.OnParseError = func(error) { prom.ParseErrors.Inc() }
	feed.OnBar = func(ev model.BarEvent) {
		prom.BarsTotal.WithLabelValues(string(ev.Timeframe), fmt.Sprint(ev.Bar.Closed)).Inc()
	}

	// ---- Funding ----
	trackBreaker := func(b *breaker.Breaker) *breaker.Breaker {
		b.OnStateChange = func(name string, _, to breaker.State) {
			prom.BreakerState.WithLabelValues(name).Set(float64(to))
			slog.Warn("circuit breaker state change", "name", name, "state", to.String())
		}
		return b
	}
	var primary funding.Source
	if cfg.CoinglassAPIKey != "" {
		primary = funding.NewCoinglassSource(cfg.CoinglassAPIKey, "")
	}
	fundingSrc := funding.NewFallbackSource(primary,
		funding.NewBinanceSource(futures.NewClient(cfg.BinanceAPIKey, cfg.BinanceAPISecret), cfg.QuoteAsset),
		trackBreaker(breaker.New("coinglass_funding", 3, 5*time.Minute)))
	poller := funding.NewPoller(funding.PollerConfig{
		BaseAsset: cfg.BaseAsset,
		Assets:    cfg.Altcoins,
		Quote:     cfg.QuoteAsset,
		Interval:  cfg.FundingPollInterval,
	}, fundingSrc, store)
	poller.OnError = func(asset string, err error) {
		prom.FundingErrors.WithLabelValues(asset).Inc()
	}
	poller.OnUpdate = func(symbol string, rate float64) {
		prom.FundingRate.WithLabelValues(symbol).Set(rate)
	}

	// ---- Liquidations ----
	liq := liquidation.NewFetcher(liquidation.Config{
		Assets:   append([]string{cfg.BaseAsset}, cfg.Altcoins...),
		Interval: cfg.LiquidationPollInterval,
	}, liquidation.NewCoinglassSource(cfg.CoinglassAPIKey, ""), cfg.CoinglassAPIKey != "")
	liq.OnFetch = func(_ string, err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		prom.LiqFetches.WithLabelValues(result).Inc()
	}

	// ---- Signal sinks ----
	probes := []metrics.Probe{
		metrics.QueueDepth(fan.ChannelStats),
		metrics.Evictions(store.Evicted),
	}
	var (
		sinks     []model.SignalSink
		journaled func(context.Context) (int, error)
	)
	if cfg.SQLitePath != "" {
		j, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		sinks = append(sinks, j)
		journaled = j.Count
	}
	if cfg.RedisAddr != "" {
		p, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword},
			trackBreaker(breaker.New("redis", 3, 30*time.Second)))
		if err != nil {
			slog.Warn("redis publisher unavailable, continuing without it", "error", err)
		} else {
			sinks = append(sinks, p)
			probes = append(probes, metrics.PendingSignals(p.Pending))
		}
	}

	// ---- Status ----
	health := metrics.NewHealth(cfg.Altcoins, metrics.Sources{
		Cache:          store.Status,
		Cooldowns:      gate.Status,
		Stream:         func() string { return feed.State().String() },
		FundingFetched: poller.LastFetch,
		Journaled:      journaled,
	})
	if cfg.EnableHealthCheck {
		srv := metrics.NewServer(cfg.HealthAddr(), health, nil)
		srv.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(sctx)
		}()
	}

	// ---- Orchestrator ----
	gen := pipeline.NewGenerator(pipeline.Config{
		BaseAsset:  cfg.BaseAsset,
		Quote:      cfg.QuoteAsset,
		Thresholds: cfg.Thresholds(),
	}, store, gate, liq)

	tasks := []app.Task{
		poller.Run,
		liq.Run,
		func(ctx context.Context) { prom.Sample(ctx, 5*time.Second, probes...) },
	}
	scalper := app.New(app.Config{
		BaseAsset:   cfg.BaseAsset,
		Quote:       cfg.QuoteAsset,
		Altcoins:    cfg.Altcoins,
		SummaryCron: cfg.DailySummaryCron,
	}, app.Deps{
		Events:    events,
		Feed:      feed,
		Evaluator: gen,
		Cooldown:  gate,
		Senders:   senders,
		Sinks:     sinks,
		Health:    health,
		Metrics:   prom,
		Tasks:     tasks,
	})

	slog.Info("scalper running", "base", basePair, "tracked", altPairs)
	return scalper.Run(ctx)
}
