package gateway

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FeeConfig holds paper trading fees and the market simulation parameters
type FeeConfig struct {
	Maker        float64 `mapstructure:"maker"`
	Taker        float64 `mapstructure:"taker"`
	BaseSlippage float64 `mapstructure:"base_slippage"`
	MarketImpact float64 `mapstructure:"market_impact"`
	MaxSlippage  float64 `mapstructure:"max_slippage"`
}

// DefaultFeeConfig returns Binance-like fees
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		Maker:        0.001,  // 0.1%
		Taker:        0.001,  // 0.1%
		BaseSlippage: 0.0005, // 0.05%
		MarketImpact: 0.0001, // 0.01%
		MaxSlippage:  0.003,  // 0.3%
	}
}

// holdings smaller than this are treated as flat
const dustAmount = 1e-12

// PaperConfig configures a PaperGateway
type PaperConfig struct {
	Currency   string
	Cash       float64
	MarketType MarketType
	Fees       FeeConfig
	Markets    map[string]Market
	Prices     map[string]float64
}

// PaperGateway simulates an exchange in memory. Market orders fill
// immediately with slippage; limit and stop orders rest until SetMarketPrice
// crosses them. Futures gateways do not report per-order trades.
type PaperGateway struct {
	mu sync.RWMutex

	currency   string
	marketType MarketType
	fees       FeeConfig

	markets  map[string]Market
	prices   map[string]float64
	orders   map[string]*paperOrder
	sequence []string
	assets   map[string]*asset
	entries  map[string]float64 // average entry price per base asset

	logger zerolog.Logger
}

type paperOrder struct {
	resp     OrderResponse
	reserved float64 // funds locked while resting, in the locked asset
}

type asset struct {
	free   float64
	locked float64
}

// NewPaperGateway creates a paper gateway funded with cfg.Cash in cfg.Currency
func NewPaperGateway(cfg PaperConfig) *PaperGateway {
	if cfg.Currency == "" {
		cfg.Currency = "USDT"
	}
	if cfg.MarketType == "" {
		cfg.MarketType = MarketSpot
	}

	p := &PaperGateway{
		currency:   cfg.Currency,
		marketType: cfg.MarketType,
		fees:       cfg.Fees,
		markets:    make(map[string]Market, len(cfg.Markets)),
		prices:     make(map[string]float64, len(cfg.Prices)),
		orders:     make(map[string]*paperOrder),
		assets:     map[string]*asset{cfg.Currency: {free: cfg.Cash}},
		entries:    make(map[string]float64),
		logger:     log.With().Str("component", "paper_gateway").Logger(),
	}
	for symbol, m := range cfg.Markets {
		p.markets[symbol] = m
	}
	for symbol, price := range cfg.Prices {
		p.prices[symbol] = price
	}

	p.logger.Info().
		Float64("cash", cfg.Cash).
		Str("currency", cfg.Currency).
		Str("market_type", string(cfg.MarketType)).
		Float64("maker_fee", cfg.Fees.Maker).
		Float64("taker_fee", cfg.Fees.Taker).
		Float64("base_slippage", cfg.Fees.BaseSlippage).
		Msg("Paper gateway initialized")

	return p
}

// PaperMarket builds market metadata for a "BASE/QUOTE" symbol with the given
// step sizes and no exchange limits
func PaperMarket(symbol string, amountStep, priceStep float64) Market {
	base, quote, _ := strings.Cut(symbol, "/")
	return Market{
		Symbol:    symbol,
		Base:      base,
		Quote:     quote,
		Precision: Precision{Amount: amountStep, Price: priceStep},
	}
}

// ExchangeName implements Name
func (p *PaperGateway) ExchangeName() string {
	return "paper"
}

// MarketType implements Gateway
func (p *PaperGateway) MarketType() MarketType {
	return p.marketType
}

// LoadMarkets implements Gateway
func (p *PaperGateway) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Market, len(p.markets))
	for symbol, m := range p.markets {
		out[symbol] = m
	}
	return out, nil
}

func (p *PaperGateway) market(op, symbol string) (Market, error) {
	m, ok := p.markets[symbol]
	if !ok {
		return Market{}, &Error{Op: op, Kind: ErrUnknownMarket, Err: fmt.Errorf("symbol %s", symbol)}
	}
	return m, nil
}

// AmountToPrecision implements Gateway
func (p *PaperGateway) AmountToPrecision(symbol string, amount float64) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m, err := p.market(OpCreateOrder, symbol)
	if err != nil {
		return 0, err
	}
	return m.AmountToPrecision(amount), nil
}

// PriceToPrecision implements Gateway
func (p *PaperGateway) PriceToPrecision(symbol string, price float64) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m, err := p.market(OpCreateOrder, symbol)
	if err != nil {
		return 0, err
	}
	return m.PriceToPrecision(price), nil
}

// SetMarketPrice sets the current price for a symbol and fills any resting
// orders the new price crosses
func (p *PaperGateway) SetMarketPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[symbol] = price

	for _, id := range p.sequence {
		o := p.orders[id]
		if o.resp.Symbol != symbol || o.resp.Status != StatusOpen {
			continue
		}
		if crossed(o.resp, price) {
			p.fillResting(o, price)
		}
	}
}

// crossed reports whether a resting order triggers at price. Limit orders
// trigger when the price moves through the limit in the trader's favour;
// stop orders when it moves against.
func crossed(o OrderResponse, price float64) bool {
	isStop := strings.HasPrefix(o.Type, "stop")
	switch {
	case o.Side == SideBuy && !isStop:
		return price <= o.Price
	case o.Side == SideSell && !isStop:
		return price >= o.Price
	case o.Side == SideBuy:
		return price >= o.Price
	default:
		return price <= o.Price
	}
}

// CreateOrder implements Gateway
func (p *PaperGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := p.market(OpCreateOrder, req.Symbol)
	if err != nil {
		return nil, err
	}
	clientID, err := paperParams(req.Params)
	if err != nil {
		return nil, err
	}
	if err := p.validateOrder(req); err != nil {
		p.logger.Warn().
			Err(err).
			Str("symbol", req.Symbol).
			Str("side", string(req.Side)).
			Msg("Order validation failed")
		return nil, &Error{Op: OpCreateOrder, Kind: ErrRejected, Err: err}
	}

	now := time.Now()
	o := &paperOrder{resp: OrderResponse{
		ID:       uuid.New().String(),
		ClientID: clientID,
		Symbol:   req.Symbol,
		Type:     req.Type,
		Side:     req.Side,
		Amount:   req.Amount,
		Datetime: now,
		Status:   StatusOpen,
		Trades:   []Trade{},
	}}
	if req.Price != nil {
		o.resp.Price = *req.Price
	}

	if req.Type == "market" {
		mid, ok := p.prices[req.Symbol]
		if !ok {
			return nil, &Error{Op: OpCreateOrder, Kind: ErrRejected, Err: fmt.Errorf("no market price for %s", req.Symbol)}
		}
		fillPrice := p.slippedPrice(req.Side, req.Amount, mid)
		if err := p.checkFunds(m, req.Side, req.Amount, fillPrice*(1+p.fees.Taker)); err != nil {
			return nil, &Error{Op: OpCreateOrder, Kind: ErrRejected, Err: err}
		}
		p.store(o)
		p.fillMarket(m, o, fillPrice, now)
	} else {
		if err := p.reserve(m, o); err != nil {
			return nil, &Error{Op: OpCreateOrder, Kind: ErrRejected, Err: err}
		}
		p.store(o)
	}

	p.logger.Info().
		Str("order_id", o.resp.ID).
		Str("symbol", o.resp.Symbol).
		Str("side", string(o.resp.Side)).
		Str("type", o.resp.Type).
		Float64("amount", o.resp.Amount).
		Str("status", o.resp.Status).
		Msg("Order placed")

	return p.snapshot(o), nil
}

func (p *PaperGateway) store(o *paperOrder) {
	p.orders[o.resp.ID] = o
	p.sequence = append(p.sequence, o.resp.ID)
}

// paperParams accepts only a client order id
func paperParams(params map[string]interface{}) (string, error) {
	var clientID string
	for key, value := range params {
		switch key {
		case "clientOrderId", "newClientOrderId":
			clientID = fmt.Sprint(value)
		default:
			return "", &Error{Op: OpCreateOrder, Kind: ErrUnsupportedParameters, Err: fmt.Errorf("parameter %q", key)}
		}
	}
	return clientID, nil
}

// validateOrder validates order parameters
func (p *PaperGateway) validateOrder(req CreateOrderRequest) error {
	if req.Side != SideBuy && req.Side != SideSell {
		return fmt.Errorf("invalid order side: %s", req.Side)
	}
	switch req.Type {
	case "market":
	case "limit", "stop", "stop limit":
		if req.Price == nil || *req.Price <= 0 {
			return fmt.Errorf("%s orders must have a positive price", req.Type)
		}
	default:
		return fmt.Errorf("invalid order type: %s", req.Type)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

func (p *PaperGateway) wallet(currency string) *asset {
	a, ok := p.assets[currency]
	if !ok {
		a = &asset{}
		p.assets[currency] = a
	}
	return a
}

// checkFunds verifies free balance covers an order at unitCost per unit.
// Futures accounts may sell without holding the base asset.
func (p *PaperGateway) checkFunds(m Market, side Side, amount, unitCost float64) error {
	if side == SideBuy {
		need := amount * unitCost
		if free := p.wallet(m.Quote).free; need > free {
			return fmt.Errorf("insufficient %s balance: need %.8f, free %.8f", m.Quote, need, free)
		}
		return nil
	}
	if p.marketType == MarketFuture {
		return nil
	}
	if free := p.wallet(m.Base).free; amount > free {
		return fmt.Errorf("insufficient %s balance: need %.8f, free %.8f", m.Base, amount, free)
	}
	return nil
}

// reserve locks the funds a resting order will consume
func (p *PaperGateway) reserve(m Market, o *paperOrder) error {
	unit := o.resp.Price * (1 + p.fees.Maker)
	if err := p.checkFunds(m, o.resp.Side, o.resp.Amount, unit); err != nil {
		return err
	}
	if o.resp.Side == SideBuy {
		o.reserved = o.resp.Amount * unit
		a := p.wallet(m.Quote)
		a.free -= o.reserved
		a.locked += o.reserved
		return nil
	}
	if p.marketType == MarketFuture {
		return nil
	}
	o.reserved = o.resp.Amount
	a := p.wallet(m.Base)
	a.free -= o.reserved
	a.locked += o.reserved
	return nil
}

func (p *PaperGateway) release(m Market, o *paperOrder) {
	if o.reserved == 0 {
		return
	}
	a := p.wallet(m.Base)
	if o.resp.Side == SideBuy {
		a = p.wallet(m.Quote)
	}
	a.locked -= o.reserved
	a.free += o.reserved
	o.reserved = 0
}

// slippedPrice applies size-dependent slippage to the mid price
func (p *PaperGateway) slippedPrice(side Side, amount, mid float64) float64 {
	slippage := p.calculateSlippage(amount, mid)
	if side == SideBuy {
		// Buying means paying the ask price (higher than mid)
		return mid * (1 + slippage)
	}
	return mid * (1 - slippage)
}

// calculateSlippage calculates realistic slippage based on order size
func (p *PaperGateway) calculateSlippage(amount, price float64) float64 {
	// Normalize to millions of quote currency
	normalizedSize := amount * price / 1000000.0
	totalSlippage := p.fees.BaseSlippage + p.fees.MarketImpact*normalizedSize
	if p.fees.MaxSlippage > 0 && totalSlippage > p.fees.MaxSlippage {
		totalSlippage = p.fees.MaxSlippage
	}
	return totalSlippage
}

// fillMarket executes a market order, possibly in several partial fills
func (p *PaperGateway) fillMarket(m Market, o *paperOrder, basePrice float64, at time.Time) {
	trades := simulatePartialFills(o.resp.Side, o.resp.Amount, basePrice, at)
	for _, t := range trades {
		p.settle(m, o.resp.Side, t.Amount, t.Price, p.fees.Taker)
	}
	p.complete(o, trades)

	p.logger.Info().
		Str("order_id", o.resp.ID).
		Float64("amount", o.resp.Amount).
		Float64("avg_price", o.resp.Average).
		Int("num_fills", len(trades)).
		Msg("Order filled")
}

// fillResting executes a crossed limit or stop order in one fill
func (p *PaperGateway) fillResting(o *paperOrder, marketPrice float64) {
	m := p.markets[o.resp.Symbol]
	p.release(m, o)

	price := o.resp.Price
	fee := p.fees.Maker
	if o.resp.Type == "stop" {
		price, fee = marketPrice, p.fees.Taker
	}
	trade := Trade{ID: uuid.New().String(), Datetime: time.Now(), Amount: o.resp.Amount, Price: price}
	p.settle(m, o.resp.Side, trade.Amount, trade.Price, fee)
	p.complete(o, []Trade{trade})

	p.logger.Info().
		Str("order_id", o.resp.ID).
		Float64("amount", o.resp.Amount).
		Float64("price", price).
		Msg("Resting order filled")
}

// settle moves balances for one execution, fees charged in the quote
// currency, and blends the execution into the base asset's entry price
func (p *PaperGateway) settle(m Market, side Side, amount, price, fee float64) {
	notional := amount * price
	quote, base := p.wallet(m.Quote), p.wallet(m.Base)
	held := base.free + base.locked

	delta := amount
	if side == SideBuy {
		quote.free -= notional * (1 + fee)
		base.free += amount
	} else {
		delta = -amount
		quote.free += notional * (1 - fee)
		base.free -= amount
	}

	if entry := blendEntry(p.entries[m.Base], held, delta, price); entry != 0 {
		p.entries[m.Base] = entry
	} else {
		delete(p.entries, m.Base)
	}
}

// blendEntry returns the entry price after adding delta at price to a
// holding of held; zero when the holding goes flat
func blendEntry(entry, held, delta, price float64) float64 {
	next := held + delta
	switch {
	case math.Abs(next) < dustAmount:
		return 0
	case math.Abs(held) < dustAmount, (held > 0) != (next > 0):
		return price
	case (held > 0) == (delta > 0):
		return (entry*held + price*delta) / next
	}
	return entry
}

func (p *PaperGateway) complete(o *paperOrder, trades []Trade) {
	var totalValue, totalQty float64
	for _, t := range trades {
		totalValue += t.Price * t.Amount
		totalQty += t.Amount
	}
	o.resp.Trades = append(o.resp.Trades, trades...)
	o.resp.Filled = totalQty
	if totalQty > 0 {
		o.resp.Average = totalValue / totalQty
	}
	o.resp.Status = StatusClosed
}

// simulatePartialFills splits orders of at least one unit into up to five
// fills with slight price variation
func simulatePartialFills(side Side, amount, basePrice float64, start time.Time) []Trade {
	if amount < 1.0 {
		return []Trade{{ID: uuid.New().String(), Datetime: start, Amount: amount, Price: basePrice}}
	}

	var trades []Trade
	remaining := amount
	fillTime := start
	const maxFills = 5

	for i := 0; remaining > 0 && i < maxFills; i++ {
		qty := remaining
		if i < maxFills-1 {
			portion := 0.2 + (0.2 * float64(i) / float64(maxFills))
			qty = remaining * portion
			if qty < 0.01 {
				qty = remaining
			}
		}

		variation := 0.0001 * float64(i)
		price := basePrice * (1 + variation)
		if side == SideSell {
			price = basePrice * (1 - variation)
		}

		trades = append(trades, Trade{ID: uuid.New().String(), Datetime: fillTime, Amount: qty, Price: price})
		remaining -= qty
		fillTime = fillTime.Add(time.Microsecond * time.Duration(100+(i+1)*50))
	}
	return trades
}

// snapshot returns a copy of the order as the exchange would report it
func (p *PaperGateway) snapshot(o *paperOrder) *OrderResponse {
	resp := o.resp
	if p.marketType == MarketFuture {
		resp.Trades = nil
	} else {
		resp.Trades = append([]Trade{}, o.resp.Trades...)
	}
	resp.Info = map[string]interface{}{"status": resp.Status, "orderId": resp.ID}
	return &resp
}

// FetchOrder implements Gateway
func (p *PaperGateway) FetchOrder(ctx context.Context, id, symbol string) (*OrderResponse, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	o, ok := p.orders[id]
	if !ok || o.resp.Symbol != symbol {
		return nil, &Error{Op: OpFetchOrder, Kind: ErrOrderNotFound, Err: fmt.Errorf("order %s", id)}
	}
	return p.snapshot(o), nil
}

// CancelOrder implements Gateway
func (p *PaperGateway) CancelOrder(ctx context.Context, id, symbol string) (*OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[id]
	if !ok || o.resp.Symbol != symbol {
		return nil, &Error{Op: OpCancelOrder, Kind: ErrOrderNotFound, Err: fmt.Errorf("order %s", id)}
	}
	if o.resp.Status != StatusOpen {
		return nil, &Error{Op: OpCancelOrder, Kind: ErrRejected, Err: fmt.Errorf("cannot cancel order in status: %s", o.resp.Status)}
	}

	p.release(p.markets[symbol], o)
	o.resp.Status = StatusCanceled

	p.logger.Info().Str("order_id", id).Msg("Order cancelled")
	return p.snapshot(o), nil
}

// FetchOpenOrders implements Gateway
func (p *PaperGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]*OrderResponse, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*OrderResponse
	for _, id := range p.sequence {
		o := p.orders[id]
		if o.resp.Status != StatusOpen || (symbol != "" && o.resp.Symbol != symbol) {
			continue
		}
		out = append(out, p.snapshot(o))
	}
	return out, nil
}

// GetBalance implements Gateway. Value marks every non-cash asset at the
// current price of its market quoted in the account currency.
func (p *PaperGateway) GetBalance(ctx context.Context) (Balance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cash := p.wallet(p.currency)
	value := cash.free + cash.locked
	for _, m := range p.markets {
		if m.Quote != p.currency {
			continue
		}
		a, ok := p.assets[m.Base]
		if !ok {
			continue
		}
		value += (a.free + a.locked) * p.prices[m.Symbol]
	}
	return Balance{Cash: cash.free, Value: value}, nil
}

// FetchPositions implements Gateway. Every base asset held against a market
// quoted in the account currency is one position at its average entry price;
// futures accounts may report negative (short) sizes.
func (p *PaperGateway) FetchPositions(ctx context.Context) ([]ExchangePosition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []ExchangePosition
	for _, m := range p.markets {
		if m.Quote != p.currency {
			continue
		}
		a, ok := p.assets[m.Base]
		if !ok || math.Abs(a.free+a.locked) < dustAmount {
			continue
		}
		price, ok := p.entries[m.Base]
		if !ok {
			price = p.prices[m.Symbol]
		}
		out = append(out, ExchangePosition{Symbol: m.Symbol, Size: a.free + a.locked, Price: price})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetWalletBalance implements Gateway
func (p *PaperGateway) GetWalletBalance(ctx context.Context, currency string) (WalletBalance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	a, ok := p.assets[currency]
	if !ok {
		return WalletBalance{}, nil
	}
	return WalletBalance{Free: a.free, Total: a.free + a.locked}, nil
}

// PrivateEndpoint implements Gateway; only the account listing is simulated
func (p *PaperGateway) PrivateEndpoint(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	verb, path, ok := ParsePrivateMethod(method)
	if !ok || verb != "GET" || path != "/account" {
		return nil, &Error{Op: OpPrivateEndpoint, Kind: ErrUnsupportedParameters, Err: fmt.Errorf("method %q", method)}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.assets))
	for name := range p.assets {
		names = append(names, name)
	}
	sort.Strings(names)

	balances := make([]interface{}, 0, len(names))
	for _, name := range names {
		a := p.assets[name]
		balances = append(balances, map[string]interface{}{"asset": name, "free": a.free, "locked": a.locked})
	}
	return map[string]interface{}{"balances": balances}, nil
}
