// Package broker reconciles locally tracked orders, positions and cash with
// an exchange that is only reachable through polling.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/cryptobroker/internal/gateway"
	"github.com/ajitpratap0/cryptobroker/internal/ledger"
	"github.com/ajitpratap0/cryptobroker/internal/metrics"
	"github.com/ajitpratap0/cryptobroker/internal/notify"
	"github.com/ajitpratap0/cryptobroker/internal/validator"
)

// remainders below this are treated as fully filled
const fillEpsilon = 1e-12

// Intent is an order request from the strategy layer
type Intent struct {
	Instrument string
	Side       gateway.Side
	Kind       Kind     // defaults to market
	Amount     float64  // magnitude; direction comes from Side
	Price      *float64 // required unless Kind is market
	LastClose  float64  // reference price for cost checks on market orders
	Params     map[string]interface{}
}

// EventSink receives a copy of every notification, e.g. a NATS publisher
type EventSink interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

type paramsState int

const (
	paramsUnprobed paramsState = iota
	paramsSupported
	paramsDisabled
)

// Option configures a Tracker
type Option func(*Tracker)

// WithLedger uses an existing ledger instead of a fresh one
func WithLedger(l *ledger.Ledger) Option {
	return func(t *Tracker) { t.ledger = l }
}

// WithEventSink forwards notifications to sink
func WithEventSink(sink EventSink) Option {
	return func(t *Tracker) { t.sink = sink }
}

// WithLogger replaces the default component logger
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// Tracker submits orders, polls them to a terminal state and keeps the
// ledger in step. All order and ledger mutations happen under mu; gateway
// calls are made without holding it.
type Tracker struct {
	gw            gateway.Gateway
	cfg           Config
	validator     *validator.Validator
	ledger        *ledger.Ledger
	notifications *notify.Queue[*Order]
	sink          EventSink
	logger        zerolog.Logger

	mu     sync.Mutex
	open   []*Order
	index  map[string]*Order
	params paramsState

	startingCash  float64
	startingValue float64
}

// New builds a tracker over gw. It loads market metadata once and takes the
// starting balance snapshot.
func New(ctx context.Context, gw gateway.Gateway, cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Mapping.Validate(); err != nil {
		return nil, fmt.Errorf("invalid status mapping: %w", err)
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = 1
	}

	t := &Tracker{
		gw:            gw,
		cfg:           cfg,
		notifications: notify.NewQueue[*Order](),
		logger:        log.With().Str("component", "broker").Logger(),
		index:         make(map[string]*Order),
		params:        paramsDisabled,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.ledger == nil {
		t.ledger = ledger.New()
	}
	if cfg.UseOrderParams {
		t.params = paramsUnprobed
	}
	metrics.SetOrderParamsEnabled(t.params != paramsDisabled)
	metrics.OpenOrders.Set(0)

	markets, err := gw.LoadMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load markets: %w", err)
	}
	t.validator = validator.New(markets)

	bal, err := t.ledger.Refresh(ctx, gw)
	if err != nil {
		return nil, err
	}
	t.startingCash, t.startingValue = bal.Cash, bal.Value

	t.logger.Info().
		Int("markets", len(markets)).
		Float64("cash", bal.Cash).
		Float64("value", bal.Value).
		Str("market_type", string(gw.MarketType())).
		Bool("order_params", cfg.UseOrderParams).
		Msg("Broker initialized")

	return t, nil
}

// Submit validates and places an order. It returns a nil order and nil error
// when validation declines the intent or when the exchange refuses custom
// order parameters on the first attempt and the capability is switched off.
// Any other gateway failure is returned. The returned order is a snapshot;
// later progress arrives through PollNotification and OpenOrders.
func (t *Tracker) Submit(ctx context.Context, intent Intent) (*Order, error) {
	if intent.Kind == "" {
		intent.Kind = KindMarket
	}
	if intent.Side != gateway.SideBuy && intent.Side != gateway.SideSell {
		return nil, fmt.Errorf("invalid order side %q", intent.Side)
	}
	orderType, err := t.cfg.orderType(intent.Kind)
	if err != nil {
		return nil, err
	}

	checked, err := t.validator.Validate(validator.Request{
		Symbol:        intent.Instrument,
		Amount:        intent.Amount,
		Price:         intent.Price,
		PriceRequired: intent.Kind.NeedsPrice(),
		LastClose:     intent.LastClose,
		Cash:          t.ledger.Cash(),
		Value:         t.ledger.Value(),
	})
	if err != nil {
		var rejection *validator.RejectionError
		if errors.As(err, &rejection) {
			metrics.RecordLocalRejection(string(rejection.Rule))
			t.logger.Warn().
				Str("symbol", intent.Instrument).
				Str("side", string(intent.Side)).
				Float64("amount", intent.Amount).
				Str("rule", string(rejection.Rule)).
				Str("reason", rejection.Reason).
				Msg("Order not sent")
			return nil, nil
		}
		return nil, err
	}

	req := gateway.CreateOrderRequest{
		Symbol: intent.Instrument,
		Type:   orderType,
		Side:   intent.Side,
		Amount: checked.Amount,
		Price:  checked.Price,
	}

	t.mu.Lock()
	state := t.params
	t.mu.Unlock()

	if state != paramsDisabled {
		req.Params = make(map[string]interface{}, len(intent.Params)+1)
		for k, v := range intent.Params {
			req.Params[k] = v
		}
		if _, ok := req.Params["clientOrderId"]; !ok {
			req.Params["clientOrderId"] = uuid.New().String()
		}
	}

	resp, err := t.gw.CreateOrder(ctx, req)
	if err != nil {
		if state == paramsUnprobed && errors.Is(err, gateway.ErrUnsupportedParameters) {
			t.disableOrderParams(err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to submit %s %s order for %s: %w", intent.Side, orderType, intent.Instrument, err)
	}
	if state == paramsUnprobed {
		t.mu.Lock()
		if t.params == paramsUnprobed {
			t.params = paramsSupported
		}
		t.mu.Unlock()
	}

	t.logger.Debug().Interface("response", resp).Msg("Create order response")
	metrics.RecordSubmitted(intent.Instrument, string(intent.Side))

	order := newOrder(resp, intent, checked.Amount, checked.Price)

	t.mu.Lock()
	closed := t.processSubmission(ctx, order, resp)
	snapshot := order.Clone()
	t.mu.Unlock()

	if closed {
		if _, _, err := t.RefreshBalance(ctx); err != nil {
			t.logger.Warn().Err(err).Str("order_id", order.ID).Msg("Balance refresh after fill failed")
		}
	}
	return snapshot, nil
}

// disableOrderParams switches custom order parameters off for the rest of the run
func (t *Tracker) disableOrderParams(cause error) {
	t.mu.Lock()
	t.params = paramsDisabled
	t.mu.Unlock()

	metrics.SetOrderParamsEnabled(false)
	t.logger.Warn().Err(cause).Msg("Exchange refused custom order parameters, disabling them")
}

// processSubmission handles the immediate create response. A response that
// is already terminal never enters the open set. Reports whether the order
// closed.
func (t *Tracker) processSubmission(ctx context.Context, o *Order, resp *gateway.OrderResponse) bool {
	t.mergeTrades(o, resp)

	switch {
	case t.cfg.Mapping.Closed.Matches(resp):
		t.close(ctx, o, resp)
		return true
	case t.cfg.Mapping.Cancelled.Matches(resp):
		t.finish(ctx, o, StatusCancelled)
	case t.cfg.Mapping.Rejected.Matches(resp):
		t.finish(ctx, o, StatusRejected)
	default:
		t.open = append(t.open, o)
		t.index[o.ID] = o
		metrics.OpenOrders.Set(float64(len(t.open)))
		t.logger.Info().
			Str("order_id", o.ID).
			Str("symbol", o.Instrument).
			Str("side", string(o.Side)).
			Str("kind", string(o.Kind)).
			Float64("amount", o.RequestedAmount).
			Str("status", string(o.Status)).
			Msg("Order submitted")
		t.notify(ctx, o)
	}
	return false
}

// mergeTrades applies every trade in resp not already seen on o
func (t *Tracker) mergeTrades(o *Order, resp *gateway.OrderResponse) {
	for _, trade := range resp.Trades {
		added, err := o.execute(Fill{ID: trade.ID, Timestamp: trade.Datetime, Amount: trade.Amount, Price: trade.Price})
		if err != nil {
			t.logger.Warn().Err(err).Str("order_id", o.ID).Msg("Ignoring fill for terminal order")
			return
		}
		if added {
			metrics.RecordFill(o.Instrument)
		}
	}
}

// close settles an order the exchange reports as closed: any unreported
// remainder becomes one synthetic fill, the position absorbs the filled
// amount and the order is finished.
func (t *Tracker) close(ctx context.Context, o *Order, resp *gateway.OrderResponse) {
	if resp.Trades == nil || t.gw.MarketType() == gateway.MarketFuture {
		if remaining := o.Remaining(); remaining > fillEpsilon {
			price := resp.Price
			if price == 0 {
				price = resp.Average
			}
			if price == 0 && o.RequestedPrice != nil {
				price = *o.RequestedPrice
			}
			at := resp.Datetime
			if at.IsZero() {
				at = time.Now()
			}
			if added, _ := o.execute(Fill{ID: o.ID + ":settle", Timestamp: at, Amount: remaining, Price: price}); added {
				metrics.RecordFill(o.Instrument)
			}
		}
	}

	if o.FilledAmount > 0 {
		pos := t.ledger.Apply(o.Instrument, o.SignedFilled(), o.AvgFillPrice)
		t.logger.Info().
			Str("symbol", o.Instrument).
			Float64("size", pos.Size).
			Float64("avg_price", pos.AvgPrice).
			Msg("Position updated")
	}
	t.finish(ctx, o, StatusClosed)
}

// finish moves o to a terminal status, drops it from the open set and
// notifies once
func (t *Tracker) finish(ctx context.Context, o *Order, status Status) {
	if err := o.transition(status); err != nil {
		t.logger.Error().Err(err).Str("order_id", o.ID).Msg("Rejected order transition")
		return
	}
	t.remove(o.ID)
	metrics.RecordTransition(string(status))

	t.logger.Info().
		Str("order_id", o.ID).
		Str("symbol", o.Instrument).
		Str("side", string(o.Side)).
		Float64("filled", o.FilledAmount).
		Float64("avg_price", o.AvgFillPrice).
		Str("status", string(status)).
		Msg("Order finished")
	t.notify(ctx, o)
}

func (t *Tracker) remove(id string) {
	if _, ok := t.index[id]; !ok {
		return
	}
	delete(t.index, id)
	for i, o := range t.open {
		if o.ID == id {
			t.open = append(t.open[:i], t.open[i+1:]...)
			break
		}
	}
	metrics.OpenOrders.Set(float64(len(t.open)))
}

// notify queues a snapshot of o and forwards it to the event sink
func (t *Tracker) notify(ctx context.Context, o *Order) {
	snapshot := o.Clone()
	t.notifications.Publish(snapshot)
	metrics.PendingNotifications.Set(float64(t.notifications.Len()))

	if t.sink == nil {
		return
	}
	if err := t.sink.Publish(ctx, notify.Subject(o.Instrument, string(o.Status)), snapshot); err != nil {
		t.logger.Warn().Err(err).Str("order_id", o.ID).Msg("Failed to forward notification")
	}
}

type pollResult struct {
	resp *gateway.OrderResponse
	err  error
}

// SyncTick polls every open order once and applies new fills and terminal
// transitions. Fetches run concurrently; results are applied one at a time
// in open-set order. A failed fetch leaves that order untouched and is
// reported in the joined error after the other orders have been processed.
func (t *Tracker) SyncTick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.SyncTickDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	t.mu.Lock()
	orders := append([]*Order(nil), t.open...)
	t.mu.Unlock()

	results := make([]pollResult, len(orders))
	var g errgroup.Group
	g.SetLimit(t.cfg.PollConcurrency)
	for i, o := range orders {
		g.Go(func() error {
			resp, err := t.gw.FetchOrder(ctx, o.ID, o.Instrument)
			results[i] = pollResult{resp: resp, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	closed := false

	t.mu.Lock()
	for i, o := range orders {
		res := results[i]
		if res.err != nil {
			metrics.SyncTickFailures.Inc()
			t.logger.Warn().Err(res.err).Str("order_id", o.ID).Str("symbol", o.Instrument).Msg("Failed to fetch order")
			errs = append(errs, fmt.Errorf("failed to fetch order %s: %w", o.ID, res.err))
			continue
		}
		if _, tracked := t.index[o.ID]; !tracked {
			// finished by a concurrent Cancel
			continue
		}
		if t.apply(ctx, o, res.resp) {
			closed = true
		}
	}
	t.mu.Unlock()

	if closed {
		if _, _, err := t.RefreshBalance(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// apply merges one polled response into o. Reports whether o closed.
func (t *Tracker) apply(ctx context.Context, o *Order, resp *gateway.OrderResponse) bool {
	t.logger.Debug().Interface("response", resp).Str("order_id", o.ID).Msg("Fetched order")
	t.mergeTrades(o, resp)

	switch {
	case t.cfg.Mapping.Closed.Matches(resp):
		t.close(ctx, o, resp)
		return true
	case t.cfg.Mapping.Cancelled.Matches(resp):
		t.finish(ctx, o, StatusCancelled)
	case t.cfg.Mapping.Rejected.Matches(resp):
		t.finish(ctx, o, StatusRejected)
	}
	return false
}

// Cancel cancels the tracked order with o's ID on the exchange. An order the
// exchange already reports closed is returned unchanged without a cancel
// request. If the cancel response does not show the order cancelled it stays
// open and is picked up again on the next tick. The returned order is a
// snapshot.
func (t *Tracker) Cancel(ctx context.Context, o *Order) (*Order, error) {
	t.mu.Lock()
	live, ok := t.index[o.ID]
	var id, instrument string
	if ok {
		id, instrument = live.ID, live.Instrument
	}
	t.mu.Unlock()

	if !ok {
		if o.Status.Terminal() {
			return o, nil
		}
		return o, fmt.Errorf("cancel order %s: %w", o.ID, ErrNotTracked)
	}

	resp, err := t.gw.FetchOrder(ctx, id, instrument)
	if err != nil {
		return t.snapshot(live), fmt.Errorf("failed to fetch order %s before cancel: %w", id, err)
	}
	if t.cfg.Mapping.Closed.Matches(resp) {
		t.logger.Info().Str("order_id", id).Msg("Order already closed, not cancelling")
		return t.snapshot(live), nil
	}

	resp, err = t.gw.CancelOrder(ctx, id, instrument)
	if err != nil {
		return t.snapshot(live), fmt.Errorf("failed to cancel order %s: %w", id, err)
	}
	t.logger.Debug().Interface("response", resp).Str("order_id", id).Msg("Cancel order response")

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, tracked := t.index[id]; !tracked {
		return live.Clone(), nil
	}
	if t.cfg.Mapping.Cancelled.Matches(resp) {
		t.finish(ctx, live, StatusCancelled)
	} else {
		t.logger.Info().
			Str("order_id", id).
			Str("expected", t.cfg.Mapping.Cancelled.String()).
			Msg("Cancel not confirmed yet, order stays open")
	}
	return live.Clone(), nil
}

func (t *Tracker) snapshot(o *Order) *Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	return o.Clone()
}

// PollNotification returns the next notification without waiting
func (t *Tracker) PollNotification() (*Order, bool) {
	o, ok := t.notifications.Poll()
	metrics.PendingNotifications.Set(float64(t.notifications.Len()))
	return o, ok
}

// GetCash returns the cached free cash
func (t *Tracker) GetCash() float64 {
	return t.ledger.Cash()
}

// GetValue returns the cached portfolio value
func (t *Tracker) GetValue() float64 {
	return t.ledger.Value()
}

// ValueOf values the positions of the given instruments at the marks.
// Unlike GetValue it is computed, not cached.
func (t *Tracker) ValueOf(marks []ledger.Mark) float64 {
	return t.ledger.ValueOf(marks)
}

// GetPosition returns a copy of the instrument's position
func (t *Tracker) GetPosition(instrument string) ledger.Position {
	return t.ledger.Position(instrument)
}

// PositionRef returns the live position for the instrument
func (t *Tracker) PositionRef(instrument string) *ledger.Position {
	return t.ledger.PositionRef(instrument)
}

// RefreshBalance queries the exchange and updates the cached snapshot
func (t *Tracker) RefreshBalance(ctx context.Context) (cash, value float64, err error) {
	bal, err := t.ledger.Refresh(ctx, t.gw)
	if err != nil {
		return 0, 0, err
	}
	return bal.Cash, bal.Value, nil
}

// SyncExchangePositions overwrites local positions with what the exchange
// reports. With no instruments every reported position is taken; otherwise
// only the listed instruments are synced and those the exchange does not
// report are set flat.
func (t *Tracker) SyncExchangePositions(ctx context.Context, instruments []string) error {
	reported, err := t.gw.FetchPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch exchange positions: %w", err)
	}

	bySymbol := make(map[string]gateway.ExchangePosition, len(reported))
	for _, p := range reported {
		bySymbol[p.Symbol] = p
	}
	if len(instruments) == 0 {
		for _, p := range reported {
			instruments = append(instruments, p.Symbol)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, instrument := range instruments {
		p := bySymbol[instrument]
		pos := t.ledger.Set(instrument, p.Size, p.Price)
		t.logger.Info().
			Str("symbol", instrument).
			Float64("size", pos.Size).
			Float64("avg_price", pos.AvgPrice).
			Msg("Position synced from exchange")
	}
	return nil
}

// WalletBalance returns free and total holdings of one currency
func (t *Tracker) WalletBalance(ctx context.Context, currency string) (free, total float64, err error) {
	bal, err := t.gw.GetWalletBalance(ctx, currency)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get %s wallet balance: %w", currency, err)
	}
	return bal.Free, bal.Total, nil
}

// StartingCash returns the cash observed at construction
func (t *Tracker) StartingCash() float64 {
	return t.startingCash
}

// StartingValue returns the portfolio value observed at construction
func (t *Tracker) StartingValue() float64 {
	return t.startingValue
}

// OpenOrders returns snapshots of the locally open orders in submission order
func (t *Tracker) OpenOrders() []*Order {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Order, len(t.open))
	for i, o := range t.open {
		out[i] = o.Clone()
	}
	return out
}

// RemoteOpenOrders lists the orders the exchange reports open
func (t *Tracker) RemoteOpenOrders(ctx context.Context, symbol string) ([]*gateway.OrderResponse, error) {
	orders, err := t.gw.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open orders: %w", err)
	}
	return orders, nil
}

// PrivateEndpoint calls an exchange-specific endpoint, e.g.
// ("Get", "/account", nil, "") resolves to method "private_get_account"
func (t *Tracker) PrivateEndpoint(ctx context.Context, verb, endpoint string, params map[string]interface{}, prefix string) (map[string]interface{}, error) {
	method := gateway.PrivateMethodName(verb, endpoint, prefix)
	resp, err := t.gw.PrivateEndpoint(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("private endpoint %s: %w", method, err)
	}
	return resp, nil
}

// OrderParamsEnabled reports whether custom order parameters are still sent
func (t *Tracker) OrderParamsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params != paramsDisabled
}

// Market returns the metadata loaded for symbol at startup
func (t *Tracker) Market(symbol string) (gateway.Market, bool) {
	return t.validator.Market(symbol)
}
