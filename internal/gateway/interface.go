package gateway

import (
	"context"
)

// Gateway defines the unified exchange API consumed by the broker.
// BinanceGateway (live trading) and PaperGateway (simulated) implement this
// interface; Resilient and CachedMarkets decorate it.
type Gateway interface {
	// LoadMarkets returns limits and precision for every tradable instrument
	LoadMarkets(ctx context.Context) (map[string]Market, error)

	// CreateOrder places a new order
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResponse, error)

	// FetchOrder retrieves the current remote state of an order
	FetchOrder(ctx context.Context, id, symbol string) (*OrderResponse, error)

	// CancelOrder cancels an existing order
	CancelOrder(ctx context.Context, id, symbol string) (*OrderResponse, error)

	// FetchOpenOrders lists open orders, optionally restricted to one symbol
	FetchOpenOrders(ctx context.Context, symbol string) ([]*OrderResponse, error)

	// GetBalance returns the account cash and total portfolio value
	GetBalance(ctx context.Context) (Balance, error)

	// GetWalletBalance returns free/total for a single currency
	GetWalletBalance(ctx context.Context, currency string) (WalletBalance, error)

	// FetchPositions lists the non-flat holdings the exchange reports
	FetchPositions(ctx context.Context) ([]ExchangePosition, error)

	// AmountToPrecision normalizes an amount to the exchange step size
	AmountToPrecision(symbol string, amount float64) (float64, error)

	// PriceToPrecision normalizes a price to the exchange tick size
	PriceToPrecision(symbol string, price float64) (float64, error)

	// PrivateEndpoint calls an exchange-specific endpoint outside the unified API
	PrivateEndpoint(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error)

	// MarketType reports the instrument class traded through this gateway
	MarketType() MarketType
}

// Name is implemented by gateways that report an exchange name for metrics
type Name interface {
	ExchangeName() string
}

func exchangeName(g Gateway) string {
	if n, ok := g.(Name); ok {
		return n.ExchangeName()
	}
	return "unknown"
}
