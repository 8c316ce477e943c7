// Package app wires closed-bar events to the signal pipeline and dispatches
// the resulting alerts.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/willkaufman/scalp-trader-sui/internal/logger"
	"github.com/willkaufman/scalp-trader-sui/internal/marketdata/stream"
	"github.com/willkaufman/scalp-trader-sui/internal/metrics"
	"github.com/willkaufman/scalp-trader-sui/internal/model"
	"github.com/willkaufman/scalp-trader-sui/internal/notification"
	"github.com/willkaufman/scalp-trader-sui/internal/signal"
)

// Feed is the live market-data connection.
type Feed interface {
	Run(ctx context.Context) error
	Stop()
}

// Evaluator runs the signal pipeline for one asset.
type Evaluator interface {
	Evaluate(asset string) (*model.Signal, signal.Outcome)
}

// Recorder stamps an asset's cooldown after a delivered alert.
type Recorder interface {
	Record(asset string)
}

// Task is a background loop that runs until ctx is cancelled.
type Task func(ctx context.Context)

// Config configures a Scalper.
type Config struct {
	BaseAsset string
	Quote     string
	Altcoins  []string

	DeliveryTimeout time.Duration // per sender, defaults to 10s
	ShutdownTimeout time.Duration // for shutdown notices, defaults to 10s
	SummaryCron     string        // six-field cron spec, empty disables
}

// Deps are the Scalper's collaborators. Metrics and Sinks may be empty.
type Deps struct {
	Events    <-chan model.BarEvent
	Feed      Feed
	Evaluator Evaluator
	Cooldown  Recorder
	Senders   []notification.Sender
	Sinks     []model.SignalSink
	Health    *metrics.Health
	Metrics   *metrics.Metrics
	Tasks     []Task
}

// Scalper is the orchestrator.
type Scalper struct {
	cfg   Config
	deps  Deps
	pairs map[string]string // "SUIUSDT" -> "SUI"

	mu       sync.Mutex
	inflight map[string]bool
	evals    sync.WaitGroup

	cron *cron.Cron
}

// New creates a Scalper.
func New(cfg Config, deps Deps) *Scalper {
	if cfg.Quote == "" {
		cfg.Quote = "USDT"
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	cfg.Altcoins = lo.Uniq(lo.Map(cfg.Altcoins, func(a string, _ int) string { return model.NormalizeSymbol(a) }))
	if deps.Health == nil {
		deps.Health = metrics.NewHealth(cfg.Altcoins, metrics.Sources{})
	}

	pairs := make(map[string]string, len(cfg.Altcoins))
	for _, a := range cfg.Altcoins {
		pairs[model.Pair(a, cfg.Quote)] = a
	}
	return &Scalper{
		cfg:      cfg,
		deps:     deps,
		pairs:    pairs,
		inflight: make(map[string]bool),
	}
}

// Run schedules the summary, announces startup, starts the background tasks
// and the feed, then consumes closed-bar events until ctx is cancelled or the
// feed fails. A feed failure is reported to every sender and returned.
func (s *Scalper) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.startSummary(runCtx); err != nil {
		return err
	}

	s.broadcast(runCtx, "startup", func(c context.Context, snd notification.Sender) bool {
		return snd.SendStartup(c, s.cfg.Altcoins)
	})

	var tasks sync.WaitGroup
	for _, task := range s.deps.Tasks {
		tasks.Add(1)
		go func(t Task) {
			defer tasks.Done()
			t(runCtx)
		}(task)
	}

	feedErr := make(chan error, 1)
	if s.deps.Feed != nil {
		go func() { feedErr <- s.deps.Feed.Run(runCtx) }()
	}

	reason, err := s.loop(runCtx, feedErr)

	cancel()
	if s.deps.Feed != nil {
		s.deps.Feed.Stop()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.evals.Wait()
	tasks.Wait()

	s.shutdown(reason)
	return err
}

func (s *Scalper) loop(ctx context.Context, feedErr <-chan error) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "shutdown requested", nil

		case err := <-feedErr:
			if err == nil || errors.Is(err, context.Canceled) {
				return "feed stopped", nil
			}
			s.countError()
			slog.Error("market data feed failed", "error", err)
			detail := "stream"
			if errors.Is(err, stream.ErrReconnectExhausted) {
				detail = "reconnect attempts exhausted"
			}
			s.broadcast(context.Background(), "error", func(c context.Context, snd notification.Sender) bool {
				return snd.SendError(c, err.Error(), detail)
			})
			return "feed failure: " + err.Error(), fmt.Errorf("app: feed: %w", err)

		case ev, ok := <-s.deps.Events:
			if !ok {
				return "event bus closed", nil
			}
			s.HandleBar(ctx, ev)
		}
	}
}

// HandleBar starts an evaluation for a closed 1m bar of a tracked asset. It
// never blocks; an evaluation already running for the asset absorbs the bar.
func (s *Scalper) HandleBar(ctx context.Context, ev model.BarEvent) {
	if ev.Timeframe != model.TF1m || !ev.Bar.Closed {
		return
	}
	asset, ok := s.pairs[model.NormalizeSymbol(ev.Symbol)]
	if !ok {
		return
	}

	s.mu.Lock()
	if s.inflight[asset] {
		s.mu.Unlock()
		slog.Debug("evaluation already running", "asset", asset)
		return
	}
	s.inflight[asset] = true
	s.mu.Unlock()

	s.evals.Add(1)
	go func() {
		defer s.evals.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, asset)
			s.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.countError()
				slog.Error("evaluation panicked", "asset", asset, "panic", r)
			}
		}()
		s.evaluate(ctx, asset)
	}()
}

func (s *Scalper) evaluate(ctx context.Context, asset string) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(asset, time.Now()))
	start := time.Now()
	sig, out := s.deps.Evaluator.Evaluate(asset)
	if m := s.deps.Metrics; m != nil {
		m.EvaluationDur.Observe(time.Since(start).Seconds())
		m.Evaluations.WithLabelValues(string(out.Stage)).Inc()
	}
	if sig == nil || !out.Emitted() {
		slog.Debug("evaluation rejected", append(logger.LogWithTrace(ctx), "asset", asset, "stage", string(out.Stage), "reason", out.Reason)...)
		return
	}
	s.Dispatch(ctx, *sig)
}

// Dispatch sends sig to every sender. When at least one delivers, the
// cooldown is recorded and the signal goes to the sinks; otherwise the
// signal is dropped and counted as an error.
func (s *Scalper) Dispatch(ctx context.Context, sig model.Signal) bool {
	delivered := s.broadcast(ctx, "signal", func(c context.Context, snd notification.Sender) bool {
		return snd.SendSignal(c, sig)
	})
	attrs := append(logger.LogWithTrace(ctx), "asset", sig.Asset, "id", sig.ID)

	if len(delivered) == 0 {
		s.countError()
		slog.Error("signal not delivered on any channel", attrs...)
		return false
	}

	if s.deps.Cooldown != nil {
		s.deps.Cooldown.Record(sig.Asset)
	}
	s.deps.Health.IncSignals()
	if m := s.deps.Metrics; m != nil {
		m.SignalsTotal.WithLabelValues(sig.Asset, sig.StrengthLabel()).Inc()
	}
	slog.Info("alert sent", append(attrs, "strength", sig.StrengthLabel(), "price", sig.Price, "channels", strings.Join(delivered, ","))...)

	for _, sink := range s.deps.Sinks {
		if err := sink.Record(ctx, sig); err != nil {
			slog.Warn("signal sink failed", append(attrs, "error", err)...)
		}
	}
	return true
}

// SendSummary broadcasts the activity report.
func (s *Scalper) SendSummary(ctx context.Context) {
	h := s.deps.Health
	sum := notification.Summary{
		AlertsSent: int(h.SignalsSent()),
		Uptime:     h.Uptime(),
		Errors:     int(h.Errors()),
	}
	s.broadcast(ctx, "summary", func(c context.Context, snd notification.Sender) bool {
		return snd.SendSummary(c, sum)
	})
}

func (s *Scalper) startSummary(ctx context.Context) error {
	if s.cfg.SummaryCron == "" {
		return nil
	}
	s.cron = cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc(s.cfg.SummaryCron, func() { s.SendSummary(ctx) }); err != nil {
		s.cron = nil
		return fmt.Errorf("app: register summary %q: %w", s.cfg.SummaryCron, err)
	}
	s.cron.Start()
	slog.Info("daily summary scheduled", "cron", s.cfg.SummaryCron)
	return nil
}

func (s *Scalper) shutdown(reason string) {
	s.deps.Health.SetRunning(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.broadcast(ctx, "shutdown", func(c context.Context, snd notification.Sender) bool {
		return snd.SendShutdown(c, reason)
	})

	for _, sink := range s.deps.Sinks {
		if err := sink.Close(); err != nil {
			slog.Warn("closing signal sink", "error", err)
		}
	}

	h := s.deps.Health
	slog.Info("scalper stopped",
		"reason", reason,
		"signals_sent", h.SignalsSent(),
		"errors", h.Errors(),
		"uptime", h.Uptime().Round(time.Second).String(),
	)
}

// broadcast delivers through every enabled sender and counts per-sender
// failures.
func (s *Scalper) broadcast(ctx context.Context, kind string, send func(context.Context, notification.Sender) bool) []string {
	ok := notification.Broadcast(ctx, s.deps.Senders, s.cfg.DeliveryTimeout, send)
	if m := s.deps.Metrics; m != nil {
		for _, snd := range s.deps.Senders {
			if snd != nil && snd.Enabled() && !lo.Contains(ok, snd.Name()) {
				m.DeliveryFailures.WithLabelValues(snd.Name()).Inc()
			}
		}
	}
	slog.Debug("broadcast done", "kind", kind, "delivered", ok)
	return ok
}

func (s *Scalper) countError() {
	s.deps.Health.IncErrors()
	if m := s.deps.Metrics; m != nil {
		m.ErrorsTotal.Inc()
	}
}
