// Command klinesim serves simulated klines on ws://<addr>/stream for running
// the scalper without exchange access (set BINANCE_WS_URL to it).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/willkaufman/scalp-trader-sui/internal/logger"
	"github.com/willkaufman/scalp-trader-sui/internal/marketdata/sim"
	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

func main() {
	addr := pflag.String("addr", ":9001", "listen address")
	prices := pflag.String("prices", "BTCUSDT:98500,SUIUSDT:1.2", "comma-separated SYMBOL:START_PRICE pairs")
	tick := pflag.Duration("tick", 100*time.Millisecond, "update interval")
	ticksPerBar := pflag.Int("ticks-per-bar", 10, "updates per simulated 1m bar")
	volatility := pflag.Float64("volatility", 0.1, "max per-tick move in percent")
	pflag.Parse()

	logger.Init("klinesim", slog.LevelInfo)

	start, err := parsePrices(*prices)
	if err != nil || len(start) == 0 {
		slog.Error("invalid --prices", "value", *prices, "error", err)
		os.Exit(2)
	}

	s := sim.New(sim.Config{
		Prices:       start,
		TickInterval: *tick,
		TicksPerBar:  *ticksPerBar,
		Volatility:   *volatility,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go s.Run(ctx)

	srv := &http.Server{Addr: *addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	slog.Info("klinesim listening", "addr", *addr, "symbols", len(start), "tick", tick.String())
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("klinesim server error", "error", err)
		os.Exit(1)
	}
}

func parsePrices(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		sym, px, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(px), 64)
		if err != nil {
			return nil, err
		}
		if v > 0 {
			out[model.NormalizeSymbol(sym)] = v
		}
	}
	return out, nil
}
