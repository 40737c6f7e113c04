package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Collector holds the engine's Prometheus instruments (spec §5's telemetry
// thread). Grounded on internal/metrics/websocket_metrics.go's convention of
// a struct of pre-registered counters/gauges constructed against one
// *prometheus.Registry.
type Collector struct {
	OrdersSubmitted   prometheus.Counter
	OrdersFilled      prometheus.Counter
	OrdersRejected    prometheus.Counter
	OrdersCancelled   prometheus.Counter
	RiskViolations    *prometheus.CounterVec
	BreakerTrips      prometheus.Counter
	BookDepth         *prometheus.GaugeVec
	NetPosition       *prometheus.GaugeVec
	DecisionLatencyNs prometheus.Histogram
}

// NewCollector registers and returns a Collector bound to registry.
func NewCollector(registry *prometheus.Registry) *Collector {
	c := &Collector{
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treasurymm_orders_submitted_total",
			Help: "Total orders submitted to a venue.",
		}),
		OrdersFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treasurymm_orders_filled_total",
			Help: "Total orders fully filled.",
		}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treasurymm_orders_rejected_total",
			Help: "Total orders rejected by a venue or the risk gate.",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treasurymm_orders_cancelled_total",
			Help: "Total orders cancelled.",
		}),
		RiskViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treasurymm_risk_violations_total",
			Help: "Risk gate violations by check name.",
		}, []string{"check"}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treasurymm_circuit_breaker_trips_total",
			Help: "Total circuit breaker trips.",
		}),
		BookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "treasurymm_book_depth",
			Help: "Resting order count per instrument and side.",
		}, []string{"instrument", "side"}),
		NetPosition: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "treasurymm_net_position",
			Help: "Net position per instrument across all strategies.",
		}, []string{"instrument"}),
		DecisionLatencyNs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "treasurymm_decision_latency_ns",
			Help:    "Strategy decision latency in nanoseconds.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 16),
		}),
	}

	registry.MustRegister(
		c.OrdersSubmitted, c.OrdersFilled, c.OrdersRejected, c.OrdersCancelled,
		c.RiskViolations, c.BreakerTrips, c.BookDepth, c.NetPosition, c.DecisionLatencyNs,
	)
	return c
}
