// Package gatewaytest provides a scriptable Gateway for tests.
package gatewaytest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ajitpratap0/cryptobroker/internal/gateway"
)

// MockGateway is a testify mock implementing gateway.Gateway.
// AmountToPrecision and PriceToPrecision use the markets set via Markets
// instead of expectations, since the broker calls them on every submission.
type MockGateway struct {
	mock.Mock

	Markets map[string]gateway.Market
	Type    gateway.MarketType
}

var _ gateway.Gateway = (*MockGateway)(nil)

// New returns a spot MockGateway with the given markets
func New(markets ...gateway.Market) *MockGateway {
	m := &MockGateway{Markets: make(map[string]gateway.Market), Type: gateway.MarketSpot}
	for _, market := range markets {
		m.Markets[market.Symbol] = market
	}
	return m
}

// ExchangeName implements gateway.Name
func (m *MockGateway) ExchangeName() string {
	return "mock"
}

// MarketType implements gateway.Gateway
func (m *MockGateway) MarketType() gateway.MarketType {
	return m.Type
}

// LoadMarkets returns Markets unless an expectation is registered
func (m *MockGateway) LoadMarkets(ctx context.Context) (map[string]gateway.Market, error) {
	if !m.expects("LoadMarkets") {
		return m.Markets, nil
	}
	args := m.Called(ctx)
	markets, _ := args.Get(0).(map[string]gateway.Market)
	return markets, args.Error(1)
}

// CreateOrder implements gateway.Gateway
func (m *MockGateway) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.OrderResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*gateway.OrderResponse)
	return resp, args.Error(1)
}

// FetchOrder implements gateway.Gateway
func (m *MockGateway) FetchOrder(ctx context.Context, id, symbol string) (*gateway.OrderResponse, error) {
	args := m.Called(ctx, id, symbol)
	resp, _ := args.Get(0).(*gateway.OrderResponse)
	return resp, args.Error(1)
}

// CancelOrder implements gateway.Gateway
func (m *MockGateway) CancelOrder(ctx context.Context, id, symbol string) (*gateway.OrderResponse, error) {
	args := m.Called(ctx, id, symbol)
	resp, _ := args.Get(0).(*gateway.OrderResponse)
	return resp, args.Error(1)
}

// FetchOpenOrders implements gateway.Gateway
func (m *MockGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]*gateway.OrderResponse, error) {
	args := m.Called(ctx, symbol)
	resp, _ := args.Get(0).([]*gateway.OrderResponse)
	return resp, args.Error(1)
}

// GetBalance implements gateway.Gateway
func (m *MockGateway) GetBalance(ctx context.Context) (gateway.Balance, error) {
	args := m.Called(ctx)
	bal, _ := args.Get(0).(gateway.Balance)
	return bal, args.Error(1)
}

// GetWalletBalance implements gateway.Gateway
func (m *MockGateway) GetWalletBalance(ctx context.Context, currency string) (gateway.WalletBalance, error) {
	args := m.Called(ctx, currency)
	bal, _ := args.Get(0).(gateway.WalletBalance)
	return bal, args.Error(1)
}

// FetchPositions implements gateway.Gateway
func (m *MockGateway) FetchPositions(ctx context.Context) ([]gateway.ExchangePosition, error) {
	args := m.Called(ctx)
	positions, _ := args.Get(0).([]gateway.ExchangePosition)
	return positions, args.Error(1)
}

// AmountToPrecision implements gateway.Gateway
func (m *MockGateway) AmountToPrecision(symbol string, amount float64) (float64, error) {
	market, ok := m.Markets[symbol]
	if !ok {
		return 0, gateway.ErrUnknownMarket
	}
	return market.AmountToPrecision(amount), nil
}

// PriceToPrecision implements gateway.Gateway
func (m *MockGateway) PriceToPrecision(symbol string, price float64) (float64, error) {
	market, ok := m.Markets[symbol]
	if !ok {
		return 0, gateway.ErrUnknownMarket
	}
	return market.PriceToPrecision(price), nil
}

// PrivateEndpoint implements gateway.Gateway
func (m *MockGateway) PrivateEndpoint(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	args := m.Called(ctx, method, params)
	resp, _ := args.Get(0).(map[string]interface{})
	return resp, args.Error(1)
}

func (m *MockGateway) expects(method string) bool {
	for _, call := range m.ExpectedCalls {
		if call.Method == method {
			return true
		}
	}
	return false
}
