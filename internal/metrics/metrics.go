// Package metrics exposes the Prometheus counters and gauges SPEC_FULL.md's
// ambient-stack section adds on top of spec.md: fills/sec, rejected-order
// reasons, liquidation/ADL counts, insurance-fund balance, mark price,
// risk-loop tick latency, and per-client broadcast queue depth.
//
// Grounded on chidi150c-coinbase's metrics.go: package-level CounterVec/
// GaugeVec collectors registered in init() and exported via a small set of
// named Inc/Set/Observe helpers, rather than threading a *prometheus.Registry
// through every constructor.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_fills_total",
			Help: "Fills processed by the matching core, by market.",
		},
		[]string{"market"},
	)

	OrdersRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_rejected_total",
			Help: "Order submissions rejected, by spec.md §7 error category.",
		},
		[]string{"category"},
	)

	LiquidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_liquidations_total",
			Help: "Pairs closed via liquidation, by market.",
		},
		[]string{"market"},
	)

	ADLEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_adl_events_total",
			Help: "Pairs force-closed via auto-deleveraging, by market.",
		},
		[]string{"market"},
	)

	InsuranceFundBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_insurance_fund_balance",
			Help: "Current insurance-fund balance, by market (collateral units).",
		},
		[]string{"market"},
	)

	MarkPriceGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_mark_price",
			Help: "Last computed mark price, by market (ticks).",
		},
		[]string{"market"},
	)

	RiskTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_risk_tick_duration_seconds",
			Help:    "Wall-clock duration of one risk.Computer.Tick pass, by market.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		},
		[]string{"market"},
	)

	BroadcastQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_broadcast_queue_depth",
			Help: "Buffered messages waiting in a client's send queue.",
		},
		[]string{"client"},
	)
)

func init() {
	prometheus.MustRegister(
		FillsTotal,
		OrdersRejectedTotal,
		LiquidationsTotal,
		ADLEventsTotal,
		InsuranceFundBalance,
		MarkPriceGauge,
		RiskTickDuration,
		BroadcastQueueDepth,
	)
}

// IncFills records n fills processed for market.
func IncFills(market string, n int) {
	if n <= 0 {
		return
	}
	FillsTotal.WithLabelValues(market).Add(float64(n))
}

// IncOrderRejected records one order rejected under the given §7 category
// (e.g. "AuthErr", "InputErr").
func IncOrderRejected(category string) {
	OrdersRejectedTotal.WithLabelValues(category).Inc()
}

// IncLiquidation records one pair liquidated in market.
func IncLiquidation(market string) { LiquidationsTotal.WithLabelValues(market).Inc() }

// IncADLEvent records one pair force-closed via ADL in market.
func IncADLEvent(market string) { ADLEventsTotal.WithLabelValues(market).Inc() }

// SetInsuranceFund reports market's current insurance-fund balance.
func SetInsuranceFund(market string, balance float64) {
	InsuranceFundBalance.WithLabelValues(market).Set(balance)
}

// SetMarkPrice reports market's last computed mark price.
func SetMarkPrice(market string, mark float64) {
	MarkPriceGauge.WithLabelValues(market).Set(mark)
}

// ObserveRiskTick records how long one risk tick took for market.
func ObserveRiskTick(market string, seconds float64) {
	RiskTickDuration.WithLabelValues(market).Observe(seconds)
}

// SetQueueDepth reports how many messages are buffered for clientID.
func SetQueueDepth(clientID string, depth int) {
	BroadcastQueueDepth.WithLabelValues(clientID).Set(float64(depth))
}
