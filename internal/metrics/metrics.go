package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the scalper.
type Metrics struct {
	BarsTotal     *prometheus.CounterVec // labels: tf, closed
	ParseErrors   prometheus.Counter
	WSReconnects  prometheus.Counter
	StreamState   prometheus.Gauge // stream.State ordinal
	FanoutDrops   *prometheus.CounterVec
	FanoutDepth   *prometheus.GaugeVec   // labels: subscriber
	BackfillBars  *prometheus.CounterVec // labels: tf
	EvictedBars   prometheus.Counter
	FundingRate   *prometheus.GaugeVec   // labels: symbol
	FundingErrors *prometheus.CounterVec // labels: asset
	LiqFetches    *prometheus.CounterVec // labels: result
	RedisPending  prometheus.Gauge

	Evaluations      *prometheus.CounterVec // labels: stage
	EvaluationDur    prometheus.Histogram
	SignalsTotal     *prometheus.CounterVec // labels: asset, strength
	DeliveryFailures *prometheus.CounterVec // labels: sender
	ErrorsTotal      prometheus.Counter

	BreakerState *prometheus.GaugeVec // labels: name; 0=closed, 1=open, 2=half-open
}

// New creates all collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_bars_total",
			Help: "Kline updates received from the stream",
		}, []string{"tf", "closed"}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_stream_parse_errors_total",
			Help: "Stream messages that failed to decode",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_ws_reconnects_total",
			Help: "WebSocket reconnection attempts",
		}),
		StreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_stream_state",
			Help: "Stream state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		}),
		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_fanout_drops_total",
			Help: "Closed-bar events dropped per subscriber",
		}, []string{"subscriber"}),
		FanoutDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scalper_fanout_queue_depth",
			Help: "Closed-bar events waiting in each subscriber channel",
		}, []string{"subscriber"}),
		BackfillBars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_backfill_bars_total",
			Help: "Bars loaded by the startup history fetch",
		}, []string{"tf"}),
		EvictedBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_store_evicted_bars_total",
			Help: "Closed bars rolled out of the candle store",
		}),
		FundingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scalper_funding_rate_percent",
			Help: "Last polled funding rate",
		}, []string{"symbol"}),
		FundingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_funding_errors_total",
			Help: "Funding-rate fetch failures",
		}, []string{"asset"}),
		LiqFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_liquidation_fetches_total",
			Help: "Liquidation heatmap fetch cycles by result",
		}, []string{"result"}),
		RedisPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_redis_pending_signals",
			Help: "Signals buffered while the Redis breaker is open",
		}),

		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_evaluations_total",
			Help: "Pipeline evaluations by terminal stage",
		}, []string{"stage"}),
		EvaluationDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalper_evaluation_duration_seconds",
			Help:    "Pipeline evaluation latency",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_signals_total",
			Help: "Signals delivered to at least one channel",
		}, []string{"asset", "strength"}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_delivery_failures_total",
			Help: "Failed alert deliveries per sender",
		}, []string{"sender"}),
		ErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_errors_total",
			Help: "Operational errors counted in the daily summary",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scalper_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.ParseErrors,
		m.WSReconnects,
		m.StreamState,
		m.FanoutDrops,
		m.FanoutDepth,
		m.BackfillBars,
		m.EvictedBars,
		m.FundingRate,
		m.FundingErrors,
		m.LiqFetches,
		m.RedisPending,
		m.Evaluations,
		m.EvaluationDur,
		m.SignalsTotal,
		m.DeliveryFailures,
		m.ErrorsTotal,
		m.BreakerState,
	)

	return m
}
