package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willkaufman/scalp-trader-sui/internal/cooldown"
	"github.com/willkaufman/scalp-trader-sui/internal/marketdata/stream"
	"github.com/willkaufman/scalp-trader-sui/internal/metrics"
	"github.com/willkaufman/scalp-trader-sui/internal/model"
	"github.com/willkaufman/scalp-trader-sui/internal/notification"
	"github.com/willkaufman/scalp-trader-sui/internal/signal"
)

type fakeSender struct {
	name string
	ok   bool

	mu        sync.Mutex
	signals   []model.Signal
	errs      []string
	startups  int
	shutdowns []string
	summaries []notification.Summary
}

func (f *fakeSender) Name() string  { return f.name }
func (f *fakeSender) Enabled() bool { return true }
func (f *fakeSender) SendSignal(_ context.Context, sig model.Signal) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return f.ok
}
func (f *fakeSender) SendError(_ context.Context, msg, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, msg)
	return f.ok
}
func (f *fakeSender) SendStartup(context.Context, []string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startups++
	return f.ok
}
func (f *fakeSender) SendShutdown(_ context.Context, reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns = append(f.shutdowns, reason)
	return f.ok
}
func (f *fakeSender) SendSummary(_ context.Context, s notification.Summary) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return f.ok
}
func (f *fakeSender) TestConnection(context.Context) bool { return f.ok }

func (f *fakeSender) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

// gatedEvaluator emits a signal whenever the cooldown gate allows it.
type gatedEvaluator struct {
	gate *cooldown.Gate

	mu    sync.Mutex
	calls []string
}

func (e *gatedEvaluator) Evaluate(asset string) (*model.Signal, signal.Outcome) {
	e.mu.Lock()
	e.calls = append(e.calls, asset)
	n := len(e.calls)
	e.mu.Unlock()

	if !e.gate.CanFire(asset) {
		return nil, signal.Outcome{Asset: asset, Stage: signal.StageCooldown, Reason: "in cooldown"}
	}
	sig := &model.Signal{ID: fmt.Sprintf("sig-%d", n), Asset: asset, Price: 1.2, Timestamp: time.Now().UTC()}
	return sig, signal.Outcome{Asset: asset, Stage: signal.StageEmitted}
}

func (e *gatedEvaluator) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type fakeSink struct {
	mu     sync.Mutex
	ids    []string
	closed bool
	err    error
}

func (s *fakeSink) Record(_ context.Context, sig model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, sig.ID)
	return s.err
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeFeed struct {
	err     error
	fail    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newFakeFeed(err error) *fakeFeed {
	return &fakeFeed{err: err, fail: make(chan struct{}), stopped: make(chan struct{})}
}

func (f *fakeFeed) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-f.fail:
		return f.err
	}
}

func (f *fakeFeed) Stop() { f.once.Do(func() { close(f.stopped) }) }

func closedBar(symbol string, tf model.Timeframe) model.BarEvent {
	return model.BarEvent{Symbol: symbol, Timeframe: tf, Bar: model.Bar{Timestamp: 1, Close: 1, Closed: true}}
}

type harness struct {
	scalper *Scalper
	eval    *gatedEvaluator
	gate    *cooldown.Gate
	sinks   []*fakeSink
	health  *metrics.Health
}

func newHarness(t *testing.T, deps Deps, senders ...notification.Sender) *harness {
	t.Helper()
	gate := cooldown.New(30 * time.Minute)
	eval := &gatedEvaluator{gate: gate}
	sink := &fakeSink{}
	health := metrics.NewHealth([]string{"SUI"}, metrics.Sources{})
	prom := metrics.New(prometheus.NewRegistry())

	deps.Evaluator = eval
	deps.Cooldown = gate
	deps.Senders = senders
	deps.Sinks = []model.SignalSink{sink}
	deps.Health = health
	deps.Metrics = prom

	s := New(Config{BaseAsset: "BTC", Quote: "USDT", Altcoins: []string{"sui"}, DeliveryTimeout: time.Second}, deps)
	return &harness{scalper: s, eval: eval, gate: gate, sinks: []*fakeSink{sink}, health: health}
}

func (h *harness) idle() bool {
	h.scalper.mu.Lock()
	defer h.scalper.mu.Unlock()
	return len(h.scalper.inflight) == 0
}

func TestHandleBar_Filters(t *testing.T) {
	h := newHarness(t, Deps{}, &fakeSender{name: "tg", ok: true})
	ctx := context.Background()

	open := closedBar("SUIUSDT", model.TF1m)
	open.Bar.Closed = false

	h.scalper.HandleBar(ctx, closedBar("SUIUSDT", model.TF15m))
	h.scalper.HandleBar(ctx, open)
	h.scalper.HandleBar(ctx, closedBar("BTCUSDT", model.TF1m))
	h.scalper.HandleBar(ctx, closedBar("ETHUSDT", model.TF1m))
	h.scalper.evals.Wait()
	assert.Equal(t, 0, h.eval.callCount())

	h.scalper.HandleBar(ctx, closedBar("suiusdt", model.TF1m))
	h.scalper.evals.Wait()
	assert.Equal(t, 1, h.eval.callCount())
}

func TestDispatch_DeliveredRecordsCooldownAndSinks(t *testing.T) {
	tg := &fakeSender{name: "telegram", ok: true}
	dc := &fakeSender{name: "discord", ok: false}
	h := newHarness(t, Deps{}, tg, dc)

	sig := model.Signal{ID: "x", Asset: "SUI"}
	require.True(t, h.scalper.Dispatch(context.Background(), sig))

	assert.False(t, h.gate.CanFire("SUI"))
	assert.EqualValues(t, 1, h.health.SignalsSent())
	assert.EqualValues(t, 0, h.health.Errors())
	assert.Equal(t, []string{"x"}, h.sinks[0].ids)
	assert.Len(t, dc.signals, 1, "failing sender still attempted")
}

func TestDispatch_AllChannelsFailed(t *testing.T) {
	h := newHarness(t, Deps{}, &fakeSender{name: "telegram"}, &fakeSender{name: "discord"})

	assert.False(t, h.scalper.Dispatch(context.Background(), model.Signal{ID: "x", Asset: "SUI"}))
	assert.True(t, h.gate.CanFire("SUI"), "no cooldown without delivery")
	assert.EqualValues(t, 0, h.health.SignalsSent())
	assert.EqualValues(t, 1, h.health.Errors())
	assert.Empty(t, h.sinks[0].ids)
}

func TestDispatch_SinkErrorDoesNotFail(t *testing.T) {
	h := newHarness(t, Deps{}, &fakeSender{name: "telegram", ok: true})
	h.sinks[0].err = errors.New("disk full")

	assert.True(t, h.scalper.Dispatch(context.Background(), model.Signal{ID: "x", Asset: "SUI"}))
	assert.EqualValues(t, 1, h.health.SignalsSent())
}

func TestRun_BarsToSignalsWithCooldown(t *testing.T) {
	events := make(chan model.BarEvent, 4)
	feed := newFakeFeed(nil)
	tg := &fakeSender{name: "telegram", ok: true}
	h := newHarness(t, Deps{Events: events, Feed: feed}, tg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.scalper.Run(ctx) }()

	events <- closedBar("SUIUSDT", model.TF1m)
	require.Eventually(t, func() bool { return tg.signalCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !h.gate.CanFire("SUI") && h.idle() }, 2*time.Second, 10*time.Millisecond)

	// second close inside the cooldown window: evaluated, not emitted
	events <- closedBar("SUIUSDT", model.TF1m)
	require.Eventually(t, func() bool { return h.eval.callCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, 1, tg.signalCount())
	assert.Equal(t, 1, tg.startups)
	assert.Equal(t, []string{"shutdown requested"}, tg.shutdowns)
	assert.True(t, h.sinks[0].closed)
	assert.Equal(t, "stopping", h.health.Status(context.Background()).Status)
	<-feed.stopped
}

func TestRun_FeedExhaustionIsReportedAndFatal(t *testing.T) {
	feed := newFakeFeed(fmt.Errorf("%w after 10 attempts", stream.ErrReconnectExhausted))
	tg := &fakeSender{name: "telegram", ok: true}
	h := newHarness(t, Deps{Feed: feed}, tg)

	done := make(chan error, 1)
	go func() { done <- h.scalper.Run(context.Background()) }()
	close(feed.fail)

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after feed failure")
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, stream.ErrReconnectExhausted)
	require.Len(t, tg.errs, 1)
	assert.Contains(t, tg.errs[0], "reconnect attempts exhausted")
	require.Len(t, tg.shutdowns, 1)
	assert.Contains(t, tg.shutdowns[0], "feed failure")
	assert.EqualValues(t, 1, h.health.Errors())
}

func TestRun_TasksStopWithContext(t *testing.T) {
	var ran, exited sync.WaitGroup
	ran.Add(1)
	exited.Add(1)
	task := func(ctx context.Context) {
		ran.Done()
		<-ctx.Done()
		exited.Done()
	}
	h := newHarness(t, Deps{Tasks: []Task{task}}, &fakeSender{name: "telegram", ok: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.scalper.Run(ctx) }()

	ran.Wait()
	cancel()
	require.NoError(t, <-done)
	exited.Wait()
}

func TestRun_InvalidSummaryCron(t *testing.T) {
	s := New(Config{Altcoins: []string{"SUI"}, SummaryCron: "not a cron"}, Deps{})
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register summary")
}

func TestSendSummary(t *testing.T) {
	tg := &fakeSender{name: "telegram", ok: true}
	h := newHarness(t, Deps{}, tg)
	h.health.IncSignals()
	h.health.IncSignals()
	h.health.IncErrors()

	h.scalper.SendSummary(context.Background())
	require.Len(t, tg.summaries, 1)
	assert.Equal(t, 2, tg.summaries[0].AlertsSent)
	assert.Equal(t, 1, tg.summaries[0].Errors)
}
