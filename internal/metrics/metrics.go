package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker states, bounded label values
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// Order lifecycle metrics
var (
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptobroker_orders_submitted_total",
		Help: "Orders accepted by the exchange",
	}, []string{"symbol", "side"})

	OrdersRejectedLocally = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptobroker_orders_rejected_locally_total",
		Help: "Order intents declined by pre-flight validation",
	}, []string{"rule"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptobroker_order_transitions_total",
		Help: "Order state transitions by target status",
	}, []string{"status"})

	FillsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptobroker_fills_merged_total",
		Help: "Distinct fills applied to tracked orders",
	}, []string{"symbol"})

	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptobroker_open_orders",
		Help: "Orders currently tracked as open",
	})

	OrderParamsEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptobroker_order_params_enabled",
		Help: "Whether custom order parameters are still sent (1) or were disabled (0)",
	})

	PendingNotifications = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptobroker_pending_notifications",
		Help: "Notifications waiting to be consumed by the strategy",
	})

	SyncTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cryptobroker_sync_tick_duration_ms",
		Help:    "Duration of one reconciliation tick in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	SyncTickFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptobroker_sync_tick_order_failures_total",
		Help: "Per-order poll failures during reconciliation ticks",
	})
)

// Ledger metrics
var (
	Cash = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptobroker_cash",
		Help: "Cached free cash in the account currency",
	})

	PortfolioValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptobroker_portfolio_value",
		Help: "Cached total portfolio value in the account currency",
	})

	PositionSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cryptobroker_position_size",
		Help: "Signed position size by symbol",
	}, []string{"symbol"})
)

// Exchange metrics
var (
	ExchangeAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cryptobroker_exchange_api_latency_ms",
		Help:    "Exchange API latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"exchange", "endpoint"})

	ExchangeAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptobroker_exchange_api_errors_total",
		Help: "Total exchange API errors",
	}, []string{"exchange", "error_type"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cryptobroker_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"exchange"})

	MarketCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptobroker_market_cache_lookups_total",
		Help: "Market metadata cache lookups by result",
	}, []string{"result"})
)

// RecordExchangeAPICall records an exchange API call. errorType is empty on
// success and otherwise one of the bounded gateway error categories.
func RecordExchangeAPICall(exchange, endpoint string, durationMs float64, errorType string) {
	ExchangeAPILatency.WithLabelValues(exchange, endpoint).Observe(durationMs)
	if errorType != "" {
		ExchangeAPIErrors.WithLabelValues(exchange, errorType).Inc()
	}
}

// SetCircuitBreakerState records a breaker state change
func SetCircuitBreakerState(exchange, state string) {
	var v float64
	switch state {
	case BreakerOpen:
		v = 1
	case BreakerHalfOpen:
		v = 2
	}
	CircuitBreakerState.WithLabelValues(exchange).Set(v)
}

// RecordSubmitted records an order accepted by the exchange
func RecordSubmitted(symbol, side string) {
	OrdersSubmitted.WithLabelValues(symbol, side).Inc()
}

// RecordLocalRejection records an intent declined before reaching the exchange
func RecordLocalRejection(rule string) {
	OrdersRejectedLocally.WithLabelValues(rule).Inc()
}

// RecordTransition records an order reaching a new status
func RecordTransition(status string) {
	OrderTransitions.WithLabelValues(status).Inc()
}

// RecordFill records a newly merged fill
func RecordFill(symbol string) {
	FillsMerged.WithLabelValues(symbol).Inc()
}

// UpdateBalance updates the cached cash/value gauges
func UpdateBalance(cash, value float64) {
	Cash.Set(cash)
	PortfolioValue.Set(value)
}

// UpdatePosition updates the position gauge for a symbol
func UpdatePosition(symbol string, size float64) {
	PositionSize.WithLabelValues(symbol).Set(size)
}

// SetOrderParamsEnabled records the custom order parameter capability
func SetOrderParamsEnabled(enabled bool) {
	v := 0.0
	if enabled {
		v = 1.0
	}
	OrderParamsEnabled.Set(v)
}
