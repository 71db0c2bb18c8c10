package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/cryptobroker/internal/metrics"
)

// Gateway operation names, used for error wrapping, metrics and alerts
const (
	OpLoadMarkets      = "load_markets"
	OpCreateOrder      = "create_order"
	OpFetchOrder       = "fetch_order"
	OpCancelOrder      = "cancel_order"
	OpFetchOpenOrders  = "fetch_open_orders"
	OpGetBalance       = "get_balance"
	OpGetWalletBalance = "get_wallet_balance"
	OpPrivateEndpoint  = "private_endpoint"
	OpFetchPositions   = "fetch_positions"
)

// Default breaker thresholds for exchange traffic
const (
	DefaultMinRequests     = 5
	DefaultFailureRatio    = 0.6
	DefaultOpenTimeout     = 30 * time.Second
	DefaultHalfOpenMaxReqs = 3
	DefaultCountInterval   = 10 * time.Second
)

// BreakerSettings configures the circuit breaker guarding a gateway
type BreakerSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// DefaultBreakerSettings returns the default exchange breaker settings
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:     DefaultMinRequests,
		FailureRatio:    DefaultFailureRatio,
		OpenTimeout:     DefaultOpenTimeout,
		HalfOpenMaxReqs: DefaultHalfOpenMaxReqs,
		CountInterval:   DefaultCountInterval,
	}
}

// Resilient decorates a Gateway with bounded retries, a circuit breaker,
// latency/error metrics and alerting. Only rate-limit and network failures
// count against the breaker; exchange rejections are business outcomes.
type Resilient struct {
	next     Gateway
	breaker  *gobreaker.CircuitBreaker
	retry    RetryConfig
	alerts   *AlertManager
	exchange string
	logger   zerolog.Logger
}

// NewResilient wraps next. Zero-valued breaker fields fall back to defaults.
func NewResilient(next Gateway, retry RetryConfig, settings BreakerSettings) *Resilient {
	defaults := DefaultBreakerSettings()
	if settings.MinRequests == 0 {
		settings.MinRequests = defaults.MinRequests
	}
	if settings.FailureRatio <= 0 {
		settings.FailureRatio = defaults.FailureRatio
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaults.OpenTimeout
	}
	if settings.HalfOpenMaxReqs == 0 {
		settings.HalfOpenMaxReqs = defaults.HalfOpenMaxReqs
	}
	if settings.CountInterval <= 0 {
		settings.CountInterval = defaults.CountInterval
	}

	name := exchangeName(next)
	r := &Resilient{
		next:     next,
		retry:    retry,
		alerts:   NewAlertManager(),
		exchange: name,
		logger:   log.With().Str("component", "gateway").Str("exchange", name).Logger(),
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.HalfOpenMaxReqs,
		Interval:    settings.CountInterval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= settings.MinRequests && failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Exchange circuit breaker state changed")
			metrics.SetCircuitBreakerState(name, breakerState(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
	})
	metrics.SetCircuitBreakerState(name, metrics.BreakerClosed)

	return r
}

func breakerState(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return metrics.BreakerOpen
	case gobreaker.StateHalfOpen:
		return metrics.BreakerHalfOpen
	default:
		return metrics.BreakerClosed
	}
}

// ExchangeName reports the wrapped gateway's exchange name
func (r *Resilient) ExchangeName() string {
	return r.exchange
}

// MarketType reports the wrapped gateway's market type
func (r *Resilient) MarketType() MarketType {
	return r.next.MarketType()
}

// BreakerState returns the current circuit breaker state
func (r *Resilient) BreakerState() gobreaker.State {
	return r.breaker.State()
}

// call runs fn with the default policy: rate-limit and network failures are
// retried.
func (r *Resilient) call(ctx context.Context, op string, fields map[string]interface{}, fn func() error) error {
	return r.guarded(ctx, op, IsTransient, fields, fn)
}

// guarded runs fn through run, then records latency and error metrics and
// raises an alert when the final outcome is a failure.
func (r *Resilient) guarded(ctx context.Context, op string, retryable func(error) bool, fields map[string]interface{}, fn func() error) error {
	start := time.Now()
	err := r.run(ctx, op, retryable, fn)

	metrics.RecordExchangeAPICall(r.exchange, op, float64(time.Since(start).Milliseconds()), Category(err))
	if err != nil {
		r.alerts.SendAlert(ctx, alertFor(op, err, fields))
	}
	return err
}

// run executes fn through the breaker, retrying failures accepted by
// retryable until the retry budget is spent or ctx is done.
func (r *Resilient) run(ctx context.Context, op string, retryable func(error) bool, fn func() error) error {
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return Wrap(op, err)
		}

		err := r.execute(op, fn)
		if err == nil {
			if n > 0 {
				r.logger.Info().Str("operation", op).Int("attempts", n+1).Msg("Exchange call recovered")
			}
			return nil
		}
		if !retryable(err) {
			return err
		}
		if n >= r.retry.MaxRetries {
			return fmt.Errorf("%s gave up after %d attempts: %w", op, n+1, err)
		}

		delay := r.retry.Delay(n)
		r.logger.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", n+1).
			Int("max_attempts", r.retry.MaxRetries+1).
			Dur("backoff", delay).
			Msg("Exchange call failed, backing off")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Wrap(op, ctx.Err())
		case <-timer.C:
		}
	}
}

// execute runs one attempt through the breaker. A rejected attempt while the
// breaker is open surfaces as a network failure.
func (r *Resilient) execute(op string, fn func() error) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Op: op, Kind: ErrNetwork, Err: err}
	}
	return Wrap(op, err)
}

// LoadMarkets implements Gateway
func (r *Resilient) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	var markets map[string]Market
	err := r.call(ctx, OpLoadMarkets, nil, func() error {
		var err error
		markets, err = r.next.LoadMarkets(ctx)
		return err
	})
	return markets, err
}

// CreateOrder implements Gateway. Placement is retried only on rate-limit
// responses, which guarantee the request was refused; a network failure may
// mean the order reached the exchange.
func (r *Resilient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResponse, error) {
	var resp *OrderResponse
	fields := map[string]interface{}{"symbol": req.Symbol, "side": string(req.Side), "amount": req.Amount}
	err := r.guarded(ctx, OpCreateOrder, isRateLimited, fields, func() error {
		var err error
		resp, err = r.next.CreateOrder(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// FetchOrder implements Gateway
func (r *Resilient) FetchOrder(ctx context.Context, id, symbol string) (*OrderResponse, error) {
	var resp *OrderResponse
	err := r.call(ctx, OpFetchOrder, map[string]interface{}{"order_id": id, "symbol": symbol}, func() error {
		var err error
		resp, err = r.next.FetchOrder(ctx, id, symbol)
		return err
	})
	return resp, err
}

// CancelOrder implements Gateway
func (r *Resilient) CancelOrder(ctx context.Context, id, symbol string) (*OrderResponse, error) {
	var resp *OrderResponse
	err := r.call(ctx, OpCancelOrder, map[string]interface{}{"order_id": id, "symbol": symbol}, func() error {
		var err error
		resp, err = r.next.CancelOrder(ctx, id, symbol)
		return err
	})
	return resp, err
}

// FetchOpenOrders implements Gateway
func (r *Resilient) FetchOpenOrders(ctx context.Context, symbol string) ([]*OrderResponse, error) {
	var resp []*OrderResponse
	err := r.call(ctx, OpFetchOpenOrders, map[string]interface{}{"symbol": symbol}, func() error {
		var err error
		resp, err = r.next.FetchOpenOrders(ctx, symbol)
		return err
	})
	return resp, err
}

// GetBalance implements Gateway
func (r *Resilient) GetBalance(ctx context.Context) (Balance, error) {
	var bal Balance
	err := r.call(ctx, OpGetBalance, nil, func() error {
		var err error
		bal, err = r.next.GetBalance(ctx)
		return err
	})
	return bal, err
}

// GetWalletBalance implements Gateway
func (r *Resilient) GetWalletBalance(ctx context.Context, currency string) (WalletBalance, error) {
	var bal WalletBalance
	err := r.call(ctx, OpGetWalletBalance, map[string]interface{}{"currency": currency}, func() error {
		var err error
		bal, err = r.next.GetWalletBalance(ctx, currency)
		return err
	})
	return bal, err
}

// FetchPositions implements Gateway
func (r *Resilient) FetchPositions(ctx context.Context) ([]ExchangePosition, error) {
	var positions []ExchangePosition
	err := r.call(ctx, OpFetchPositions, nil, func() error {
		var err error
		positions, err = r.next.FetchPositions(ctx)
		return err
	})
	return positions, err
}

// AmountToPrecision implements Gateway; local, not guarded
func (r *Resilient) AmountToPrecision(symbol string, amount float64) (float64, error) {
	return r.next.AmountToPrecision(symbol, amount)
}

// PriceToPrecision implements Gateway; local, not guarded
func (r *Resilient) PriceToPrecision(symbol string, price float64) (float64, error) {
	return r.next.PriceToPrecision(symbol, price)
}

// PrivateEndpoint implements Gateway
func (r *Resilient) PrivateEndpoint(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	var resp map[string]interface{}
	err := r.call(ctx, OpPrivateEndpoint, map[string]interface{}{"method": method}, func() error {
		var err error
		resp, err = r.next.PrivateEndpoint(ctx, method, params)
		return err
	})
	return resp, err
}
