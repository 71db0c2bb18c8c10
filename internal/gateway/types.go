package gateway

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents buy or sell
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// MarketType is the instrument class traded through a gateway
type MarketType string

const (
	MarketSpot   MarketType = "spot"
	MarketFuture MarketType = "future"
)

// Unified order status vocabulary reported by the adapters in this package.
// Exchanges with a different vocabulary are handled through the broker's
// configurable status indicators.
const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusCanceled = "canceled"
	StatusRejected = "rejected"
)

// Bounds is an optional min/max pair; a nil side is unbounded
type Bounds struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Limits holds the exchange-mandated bounds of a market
type Limits struct {
	Amount Bounds `json:"amount"`
	Price  Bounds `json:"price"`
	Cost   Bounds `json:"cost"`
}

// Precision holds step sizes for amount and price. Zero means no rounding.
type Precision struct {
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
}

// Market is the read-only metadata of one instrument
type Market struct {
	Symbol    string    `json:"symbol"`
	Base      string    `json:"base"`
	Quote     string    `json:"quote"`
	Limits    Limits    `json:"limits"`
	Precision Precision `json:"precision"`
}

// AmountToPrecision truncates an amount toward zero onto the market's step
func (m Market) AmountToPrecision(amount float64) float64 {
	return truncateToStep(amount, m.Precision.Amount)
}

// PriceToPrecision truncates a price toward zero onto the market's tick
func (m Market) PriceToPrecision(price float64) float64 {
	return truncateToStep(price, m.Precision.Price)
}

func truncateToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	out, _ := v.Div(s).Truncate(0).Mul(s).Float64()
	return out
}

// Trade is one execution reported inside an order response
type Trade struct {
	ID       string    `json:"id"`
	Datetime time.Time `json:"datetime"`
	Amount   float64   `json:"amount"`
	Price    float64   `json:"price"`
}

// OrderResponse is the unified order representation returned by every gateway call.
// Trades is nil when the exchange did not report a fill list at all.
type OrderResponse struct {
	ID       string                 `json:"id"`
	ClientID string                 `json:"client_order_id,omitempty"`
	Symbol   string                 `json:"symbol"`
	Type     string                 `json:"type"`
	Side     Side                   `json:"side"`
	Amount   float64                `json:"amount"`
	Price    float64                `json:"price"`
	Average  float64                `json:"average,omitempty"`
	Filled   float64                `json:"filled"`
	Datetime time.Time              `json:"datetime"`
	Status   string                 `json:"status"`
	Trades   []Trade                `json:"trades"`
	Info     map[string]interface{} `json:"info,omitempty"`
}

// Field returns a response field by name as a string. Unified fields are
// resolved first, then the raw exchange payload in Info.
func (r *OrderResponse) Field(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	switch key {
	case "id":
		return r.ID, true
	case "status":
		return r.Status, true
	case "side":
		return string(r.Side), true
	case "type":
		return r.Type, true
	case "symbol":
		return r.Symbol, true
	}
	v, ok := r.Info[key]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// Balance is the account-level snapshot used for cash/value bookkeeping
type Balance struct {
	Cash  float64 `json:"cash"`
	Value float64 `json:"value"`
}

// ExchangePosition is a holding as the exchange reports it. Price is the
// entry price when the exchange tracks one, otherwise the current mark.
type ExchangePosition struct {
	Symbol string  `json:"symbol"`
	Size   float64 `json:"size"`
	Price  float64 `json:"price"`
}

// WalletBalance is the free/total amount held in one currency
type WalletBalance struct {
	Free  float64 `json:"free"`
	Total float64 `json:"total"`
}

// CreateOrderRequest represents a request to place an order
type CreateOrderRequest struct {
	Symbol string                 `json:"symbol"`
	Type   string                 `json:"type"`
	Side   Side                   `json:"side"`
	Amount float64                `json:"amount"`
	Price  *float64               `json:"price,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}
