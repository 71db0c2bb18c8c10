package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// BinanceGateway implements Gateway for Binance spot trading
type BinanceGateway struct {
	client   *binance.Client
	limiter  *rate.Limiter
	currency string
	testnet  bool
	log      zerolog.Logger

	mu      sync.RWMutex
	markets map[string]Market
}

// BinanceConfig contains configuration for the Binance gateway
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
	Currency  string        // Quote currency used for cash, e.g. "USDT"
	RateLimit time.Duration // Minimum spacing between requests; zero disables throttling
}

// NewBinanceGateway creates a new Binance gateway
func NewBinanceGateway(config BinanceConfig) (*BinanceGateway, error) {
	if config.Currency == "" {
		return nil, fmt.Errorf("binance gateway requires a cash currency")
	}

	client := binance.NewClient(config.APIKey, config.SecretKey)

	if config.Testnet {
		binance.UseTestnet = true
		log.Info().Msg("Binance gateway initialized (TESTNET mode)")
	} else {
		log.Warn().Msg("Binance gateway initialized (LIVE TRADING mode)")
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Every(config.RateLimit), 1)
	}

	return &BinanceGateway{
		client:   client,
		limiter:  limiter,
		currency: strings.ToUpper(config.Currency),
		testnet:  config.Testnet,
		log:      log.With().Str("component", "binance_gateway").Logger(),
		markets:  make(map[string]Market),
	}, nil
}

// ExchangeName reports the exchange name for metrics
func (b *BinanceGateway) ExchangeName() string {
	if b.testnet {
		return "binance_testnet"
	}
	return "binance"
}

// MarketType reports the instrument class of this gateway
func (b *BinanceGateway) MarketType() MarketType {
	return MarketSpot
}

func (b *BinanceGateway) wait(ctx context.Context, op string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return Wrap(op, err)
	}
	return nil
}

// LoadMarkets fetches exchange info and converts symbol filters into limits
func (b *BinanceGateway) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	if err := b.wait(ctx, OpLoadMarkets); err != nil {
		return nil, err
	}

	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, Wrap(OpLoadMarkets, err)
	}

	markets := make(map[string]Market, len(info.Symbols))
	for _, s := range info.Symbols {
		markets[s.Symbol] = marketFromFilters(s.Symbol, s.BaseAsset, s.QuoteAsset, s.Filters)
	}

	b.mu.Lock()
	b.markets = markets
	b.mu.Unlock()

	b.log.Info().Int("markets", len(markets)).Msg("Loaded Binance markets")

	return markets, nil
}

// marketFromFilters converts Binance symbol filters into unified limits.
// Binance reports "0" for an unbounded side.
func marketFromFilters(symbol, base, quote string, filters []map[string]interface{}) Market {
	m := Market{Symbol: symbol, Base: base, Quote: quote}
	for _, f := range filters {
		switch f["filterType"] {
		case "LOT_SIZE":
			m.Limits.Amount = Bounds{Min: parseBound(f["minQty"]), Max: parseBound(f["maxQty"])}
			m.Precision.Amount = parseFilterFloat(f["stepSize"])
		case "PRICE_FILTER":
			m.Limits.Price = Bounds{Min: parseBound(f["minPrice"]), Max: parseBound(f["maxPrice"])}
			m.Precision.Price = parseFilterFloat(f["tickSize"])
		case "MIN_NOTIONAL":
			m.Limits.Cost.Min = parseBound(f["minNotional"])
		case "NOTIONAL":
			m.Limits.Cost = Bounds{Min: parseBound(f["minNotional"]), Max: parseBound(f["maxNotional"])}
		}
	}
	return m
}

func parseFilterFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	}
	return 0
}

func parseBound(v interface{}) *float64 {
	f := parseFilterFloat(v)
	if f == 0 {
		return nil
	}
	return &f
}

func (b *BinanceGateway) market(symbol string) (Market, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.markets[symbol]
	if !ok {
		return Market{}, &Error{Op: "precision", Kind: ErrUnknownMarket, Err: fmt.Errorf("symbol %s", symbol)}
	}
	return m, nil
}

// AmountToPrecision truncates an amount to the symbol's LOT_SIZE step
func (b *BinanceGateway) AmountToPrecision(symbol string, amount float64) (float64, error) {
	m, err := b.market(symbol)
	if err != nil {
		return 0, err
	}
	return m.AmountToPrecision(amount), nil
}

// PriceToPrecision truncates a price to the symbol's tick size
func (b *BinanceGateway) PriceToPrecision(symbol string, price float64) (float64, error) {
	m, err := b.market(symbol)
	if err != nil {
		return 0, err
	}
	return m.PriceToPrecision(price), nil
}

// CreateOrder places a new order on Binance
func (b *BinanceGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResponse, error) {
	orderType, err := toBinanceOrderType(req.Type)
	if err != nil {
		return nil, &Error{Op: OpCreateOrder, Kind: ErrRejected, Err: err}
	}

	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(toBinanceSide(req.Side)).
		Type(orderType).
		Quantity(formatFloat(req.Amount)).
		NewOrderRespType(binance.NewOrderRespTypeFULL)

	switch orderType {
	case binance.OrderTypeLimit, binance.OrderTypeStopLossLimit, binance.OrderTypeTakeProfitLimit:
		if req.Price == nil {
			return nil, &Error{Op: OpCreateOrder, Kind: ErrRejected, Err: fmt.Errorf("%s order requires a price", req.Type)}
		}
		svc = svc.TimeInForce(binance.TimeInForceTypeGTC).Price(formatFloat(*req.Price))
	}
	switch orderType {
	case binance.OrderTypeStopLoss, binance.OrderTypeStopLossLimit, binance.OrderTypeTakeProfit, binance.OrderTypeTakeProfitLimit:
		if req.Price == nil {
			return nil, &Error{Op: OpCreateOrder, Kind: ErrRejected, Err: fmt.Errorf("%s order requires a stop price", req.Type)}
		}
		svc = svc.StopPrice(formatFloat(*req.Price))
	}

	for key, value := range req.Params {
		s := fmt.Sprint(value)
		switch key {
		case "clientOrderId", "newClientOrderId":
			svc = svc.NewClientOrderID(s)
		case "timeInForce":
			svc = svc.TimeInForce(binance.TimeInForceType(strings.ToUpper(s)))
		default:
			return nil, &Error{Op: OpCreateOrder, Kind: ErrUnsupportedParameters, Err: fmt.Errorf("parameter %q", key)}
		}
	}

	if err := b.wait(ctx, OpCreateOrder); err != nil {
		return nil, err
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, Wrap(OpCreateOrder, err)
	}

	out := &OrderResponse{
		ID:       strconv.FormatInt(resp.OrderID, 10),
		ClientID: resp.ClientOrderID,
		Symbol:   resp.Symbol,
		Type:     strings.ToLower(string(resp.Type)),
		Side:     fromBinanceSide(resp.Side),
		Amount:   parseFilterFloat(resp.OrigQuantity),
		Price:    parseFilterFloat(resp.Price),
		Filled:   parseFilterFloat(resp.ExecutedQuantity),
		Datetime: time.UnixMilli(resp.TransactTime),
		Status:   unifiedStatus(string(resp.Status)),
		Trades:   []Trade{},
		Info: map[string]interface{}{
			"orderId":       resp.OrderID,
			"clientOrderId": resp.ClientOrderID,
			"status":        string(resp.Status),
			"type":          string(resp.Type),
		},
	}
	out.Average = averagePrice(resp.ExecutedQuantity, resp.CummulativeQuoteQuantity)

	// Trade ids are only available from the trade list; fetch them so fills
	// seen here and in later polls share the same identity.
	if out.Filled > 0 {
		trades, err := b.orderTrades(ctx, resp.Symbol, resp.OrderID)
		if err != nil {
			b.log.Warn().Err(err).Str("order_id", out.ID).Msg("Failed to fetch trades for new order")
			out.Trades = nil
		} else {
			out.Trades = trades
		}
	}

	b.log.Info().
		Str("order_id", out.ID).
		Str("symbol", out.Symbol).
		Str("side", string(out.Side)).
		Str("status", out.Status).
		Msg("Order placed on Binance")

	return out, nil
}

// FetchOrder queries Binance for the latest order state and its trades
func (b *BinanceGateway) FetchOrder(ctx context.Context, id, symbol string) (*OrderResponse, error) {
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, &Error{Op: OpFetchOrder, Kind: ErrOrderNotFound, Err: fmt.Errorf("invalid order ID format: %w", err)}
	}

	if err := b.wait(ctx, OpFetchOrder); err != nil {
		return nil, err
	}
	order, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, Wrap(OpFetchOrder, err)
	}

	out := fromBinanceOrder(order)
	if out.Filled > 0 {
		trades, err := b.orderTrades(ctx, symbol, orderID)
		if err != nil {
			return nil, err
		}
		out.Trades = trades
	}
	return out, nil
}

func (b *BinanceGateway) orderTrades(ctx context.Context, symbol string, orderID int64) ([]Trade, error) {
	if err := b.wait(ctx, OpFetchOrder); err != nil {
		return nil, err
	}
	list, err := b.client.NewListTradesService().
		Symbol(symbol).
		OrderId(orderID).
		Do(ctx)
	if err != nil {
		return nil, Wrap(OpFetchOrder, err)
	}

	trades := make([]Trade, 0, len(list))
	for _, t := range list {
		trades = append(trades, Trade{
			ID:       strconv.FormatInt(t.ID, 10),
			Datetime: time.UnixMilli(t.Time),
			Amount:   parseFilterFloat(t.Quantity),
			Price:    parseFilterFloat(t.Price),
		})
	}
	return trades, nil
}

// CancelOrder cancels an open order on Binance
func (b *BinanceGateway) CancelOrder(ctx context.Context, id, symbol string) (*OrderResponse, error) {
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, &Error{Op: OpCancelOrder, Kind: ErrOrderNotFound, Err: fmt.Errorf("invalid order ID format: %w", err)}
	}

	if err := b.wait(ctx, OpCancelOrder); err != nil {
		return nil, err
	}
	resp, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, Wrap(OpCancelOrder, err)
	}

	b.log.Info().Str("order_id", id).Str("status", string(resp.Status)).Msg("Order cancelled on Binance")

	return &OrderResponse{
		ID:       strconv.FormatInt(resp.OrderID, 10),
		ClientID: resp.ClientOrderID,
		Symbol:   resp.Symbol,
		Type:     strings.ToLower(string(resp.Type)),
		Side:     fromBinanceSide(resp.Side),
		Amount:   parseFilterFloat(resp.OrigQuantity),
		Price:    parseFilterFloat(resp.Price),
		Average:  averagePrice(resp.ExecutedQuantity, resp.CummulativeQuoteQuantity),
		Filled:   parseFilterFloat(resp.ExecutedQuantity),
		Datetime: time.UnixMilli(resp.TransactTime),
		Status:   unifiedStatus(string(resp.Status)),
		Info: map[string]interface{}{
			"orderId": resp.OrderID,
			"status":  string(resp.Status),
		},
	}, nil
}

// FetchOpenOrders lists open orders, optionally for a single symbol
func (b *BinanceGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]*OrderResponse, error) {
	if err := b.wait(ctx, OpFetchOpenOrders); err != nil {
		return nil, err
	}
	svc := b.client.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, Wrap(OpFetchOpenOrders, err)
	}

	out := make([]*OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, fromBinanceOrder(o))
	}
	return out, nil
}

// accountSnapshot fetches account balances and the latest ticker prices
func (b *BinanceGateway) accountSnapshot(ctx context.Context, op string) (*binance.Account, map[string]float64, error) {
	if err := b.wait(ctx, op); err != nil {
		return nil, nil, err
	}
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, nil, Wrap(op, err)
	}

	if err := b.wait(ctx, op); err != nil {
		return nil, nil, err
	}
	prices, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, nil, Wrap(op, err)
	}
	priceBySymbol := make(map[string]float64, len(prices))
	for _, p := range prices {
		priceBySymbol[p.Symbol] = parseFilterFloat(p.Price)
	}
	return account, priceBySymbol, nil
}

// GetBalance returns free cash in the quote currency and the account value
// marked at current ticker prices
func (b *BinanceGateway) GetBalance(ctx context.Context) (Balance, error) {
	account, priceBySymbol, err := b.accountSnapshot(ctx, OpGetBalance)
	if err != nil {
		return Balance{}, err
	}

	var balance Balance
	for _, bal := range account.Balances {
		free := parseFilterFloat(bal.Free)
		total := free + parseFilterFloat(bal.Locked)
		if total == 0 {
			continue
		}
		if bal.Asset == b.currency {
			balance.Cash = free
			balance.Value += total
			continue
		}
		if px, ok := priceBySymbol[bal.Asset+b.currency]; ok {
			balance.Value += total * px
		}
	}
	return balance, nil
}

// FetchPositions reports every non-cash asset that trades against the cash
// currency as a spot position. Spot accounts keep no entry price, so the
// position is marked at the current ticker price.
func (b *BinanceGateway) FetchPositions(ctx context.Context) ([]ExchangePosition, error) {
	account, priceBySymbol, err := b.accountSnapshot(ctx, OpFetchPositions)
	if err != nil {
		return nil, err
	}
	return spotPositions(account.Balances, b.currency, priceBySymbol), nil
}

func spotPositions(balances []binance.Balance, currency string, priceBySymbol map[string]float64) []ExchangePosition {
	var out []ExchangePosition
	for _, bal := range balances {
		if bal.Asset == currency {
			continue
		}
		total := parseFilterFloat(bal.Free) + parseFilterFloat(bal.Locked)
		if total == 0 {
			continue
		}
		symbol := bal.Asset + currency
		px, ok := priceBySymbol[symbol]
		if !ok {
			continue
		}
		out = append(out, ExchangePosition{Symbol: symbol, Size: total, Price: px})
	}
	return out
}

// GetWalletBalance returns free/total of one currency. An asset never funded
// reports zero.
func (b *BinanceGateway) GetWalletBalance(ctx context.Context, currency string) (WalletBalance, error) {
	if err := b.wait(ctx, OpGetWalletBalance); err != nil {
		return WalletBalance{}, err
	}
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return WalletBalance{}, Wrap(OpGetWalletBalance, err)
	}
	for _, bal := range account.Balances {
		if strings.EqualFold(bal.Asset, currency) {
			free := parseFilterFloat(bal.Free)
			return WalletBalance{Free: free, Total: free + parseFilterFloat(bal.Locked)}, nil
		}
	}
	return WalletBalance{}, nil
}

// PrivateEndpoint serves the subset of signed endpoints reachable through the
// Binance client: account, openOrders and myTrades.
func (b *BinanceGateway) PrivateEndpoint(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	verb, path, ok := ParsePrivateMethod(method)
	if !ok {
		return nil, &Error{Op: OpPrivateEndpoint, Kind: ErrUnsupportedParameters, Err: fmt.Errorf("method %q", method)}
	}
	if err := b.wait(ctx, OpPrivateEndpoint); err != nil {
		return nil, err
	}

	symbol, _ := params["symbol"].(string)

	var result interface{}
	var err error
	switch verb + " " + strings.TrimPrefix(path, "/api/v3") {
	case "GET /account":
		result, err = b.client.NewGetAccountService().Do(ctx)
	case "GET /openorders":
		svc := b.client.NewListOpenOrdersService()
		if symbol != "" {
			svc = svc.Symbol(symbol)
		}
		result, err = svc.Do(ctx)
	case "GET /mytrades":
		if symbol == "" {
			return nil, &Error{Op: OpPrivateEndpoint, Kind: ErrUnsupportedParameters, Err: fmt.Errorf("mytrades requires symbol")}
		}
		result, err = b.client.NewListTradesService().Symbol(symbol).Do(ctx)
	default:
		return nil, &Error{Op: OpPrivateEndpoint, Kind: ErrUnsupportedParameters, Err: fmt.Errorf("endpoint %s %s", verb, path)}
	}
	if err != nil {
		return nil, Wrap(OpPrivateEndpoint, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s result: %w", method, err)
	}
	out := map[string]interface{}{}
	if raw[0] == '[' {
		var items []interface{}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode %s result: %w", method, err)
		}
		out["result"] = items
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return out, nil
}

// Helper methods

func fromBinanceOrder(o *binance.Order) *OrderResponse {
	return &OrderResponse{
		ID:       strconv.FormatInt(o.OrderID, 10),
		ClientID: o.ClientOrderID,
		Symbol:   o.Symbol,
		Type:     strings.ToLower(string(o.Type)),
		Side:     fromBinanceSide(o.Side),
		Amount:   parseFilterFloat(o.OrigQuantity),
		Price:    parseFilterFloat(o.Price),
		Average:  averagePrice(o.ExecutedQuantity, o.CummulativeQuoteQuantity),
		Filled:   parseFilterFloat(o.ExecutedQuantity),
		Datetime: time.UnixMilli(o.Time),
		Status:   unifiedStatus(string(o.Status)),
		Trades:   []Trade{},
		Info: map[string]interface{}{
			"orderId":       o.OrderID,
			"clientOrderId": o.ClientOrderID,
			"status":        string(o.Status),
			"type":          string(o.Type),
			"updateTime":    o.UpdateTime,
		},
	}
}

// unifiedStatus maps Binance order statuses onto the unified vocabulary
func unifiedStatus(status string) string {
	switch status {
	case "NEW", "PARTIALLY_FILLED":
		return StatusOpen
	case "FILLED":
		return StatusClosed
	case "CANCELED", "PENDING_CANCEL", "EXPIRED", "EXPIRED_IN_MATCH":
		// expiry (IOC/FOK remainder, self-trade prevention) ends the order like a cancel
		return StatusCanceled
	case "REJECTED":
		return StatusRejected
	default:
		return strings.ToLower(status)
	}
}

func toBinanceOrderType(orderType string) (binance.OrderType, error) {
	switch strings.ToLower(strings.NewReplacer("-", " ", "_", " ").Replace(orderType)) {
	case "", "market":
		return binance.OrderTypeMarket, nil
	case "limit":
		return binance.OrderTypeLimit, nil
	case "limit maker":
		return binance.OrderTypeLimitMaker, nil
	case "stop", "stop loss":
		return binance.OrderTypeStopLoss, nil
	case "stop limit", "stop loss limit":
		return binance.OrderTypeStopLossLimit, nil
	case "take profit":
		return binance.OrderTypeTakeProfit, nil
	case "take profit limit":
		return binance.OrderTypeTakeProfitLimit, nil
	}
	return "", fmt.Errorf("unsupported order type: %s", orderType)
}

func toBinanceSide(side Side) binance.SideType {
	if side == SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func fromBinanceSide(side binance.SideType) Side {
	if side == binance.SideTypeSell {
		return SideSell
	}
	return SideBuy
}

func averagePrice(executedQty, quoteQty string) float64 {
	executed := parseFilterFloat(executedQty)
	if executed <= 0 {
		return 0
	}
	return parseFilterFloat(quoteQty) / executed
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
