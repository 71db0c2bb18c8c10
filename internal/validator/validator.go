// Package validator performs pre-flight checks on order intents against
// exchange limits and locally cached funds. It never calls the exchange.
package validator

import (
	"errors"
	"fmt"
	"math"

	"github.com/ajitpratap0/cryptobroker/internal/gateway"
)

// ErrRejected matches every RejectionError via errors.Is
var ErrRejected = errors.New("order rejected by validation")

// Rule identifies the check that rejected an order
type Rule string

const (
	RuleUnknownMarket Rule = "unknown_market"
	RuleZeroAmount    Rule = "zero_amount"
	RuleZeroPrice     Rule = "zero_price"
	RuleMissingPrice  Rule = "missing_price"
	RuleAmountMin     Rule = "amount_min"
	RuleAmountMax     Rule = "amount_max"
	RulePriceMin      Rule = "price_min"
	RulePriceMax      Rule = "price_max"
	RuleNoReference   Rule = "no_reference_price"
	RuleCostMin       Rule = "cost_min"
	RuleCostMax       Rule = "cost_max"
	RuleValue         Rule = "portfolio_value"
	RuleCash          Rule = "available_cash"
)

// RejectionError describes which bound an order violated
type RejectionError struct {
	Rule   Rule
	Symbol string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Symbol, e.Reason, e.Rule)
}

// Is reports whether target is ErrRejected
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

func reject(rule Rule, symbol, format string, args ...interface{}) (Result, error) {
	return Result{}, &RejectionError{Rule: rule, Symbol: symbol, Reason: fmt.Sprintf(format, args...)}
}

// Request is an order intent plus the funds it is checked against
type Request struct {
	Symbol        string
	Amount        float64
	Price         *float64 // nil for market orders
	PriceRequired bool
	LastClose     float64 // reference price for orders without a price
	Cash          float64
	Value         float64
}

// Result carries the normalized order values
type Result struct {
	Amount float64
	Price  *float64
	Cost   float64
}

// Validator checks orders against a fixed market table
type Validator struct {
	markets map[string]gateway.Market
}

// New creates a validator over the markets loaded at startup
func New(markets map[string]gateway.Market) *Validator {
	return &Validator{markets: markets}
}

// Market returns the metadata for symbol
func (v *Validator) Market(symbol string) (gateway.Market, bool) {
	m, ok := v.markets[symbol]
	return m, ok
}

// Validate normalizes amount and price to the market precision and applies
// the limit, cost and funds checks in order, stopping at the first failure.
// A cost equal to the available cash or portfolio value is rejected.
func (v *Validator) Validate(req Request) (Result, error) {
	m, ok := v.markets[req.Symbol]
	if !ok {
		return reject(RuleUnknownMarket, req.Symbol, "no market metadata")
	}

	amount := m.AmountToPrecision(math.Abs(req.Amount))
	var price *float64
	if req.Price != nil {
		p := m.PriceToPrecision(*req.Price)
		price = &p
	}

	if amount == 0 {
		return reject(RuleZeroAmount, req.Symbol, "amount %v is zero at precision %v", req.Amount, m.Precision.Amount)
	}
	if price != nil && *price == 0 {
		return reject(RuleZeroPrice, req.Symbol, "price %v is zero at precision %v", *req.Price, m.Precision.Price)
	}
	if price == nil && req.PriceRequired {
		return reject(RuleMissingPrice, req.Symbol, "order type requires a price")
	}

	limits := m.Limits
	if limits.Amount.Min != nil && amount < *limits.Amount.Min {
		return reject(RuleAmountMin, req.Symbol, "amount %v below minimum %v", amount, *limits.Amount.Min)
	}
	if limits.Amount.Max != nil && amount > *limits.Amount.Max {
		return reject(RuleAmountMax, req.Symbol, "amount %v above maximum %v", amount, *limits.Amount.Max)
	}

	if price != nil {
		if limits.Price.Min != nil && *price < *limits.Price.Min {
			return reject(RulePriceMin, req.Symbol, "price %v below minimum %v", *price, *limits.Price.Min)
		}
		if limits.Price.Max != nil && *price > *limits.Price.Max {
			return reject(RulePriceMax, req.Symbol, "price %v above maximum %v", *price, *limits.Price.Max)
		}
	}

	reference := req.LastClose
	if price != nil {
		reference = *price
	}
	if reference <= 0 {
		return reject(RuleNoReference, req.Symbol, "no price or last close to compute cost")
	}
	cost := amount * reference

	if limits.Cost.Min != nil && cost < *limits.Cost.Min {
		return reject(RuleCostMin, req.Symbol, "cost %v below minimum %v", cost, *limits.Cost.Min)
	}
	if limits.Cost.Max != nil && cost > *limits.Cost.Max {
		return reject(RuleCostMax, req.Symbol, "cost %v above maximum %v", cost, *limits.Cost.Max)
	}

	if cost >= req.Value {
		return reject(RuleValue, req.Symbol, "cost %v not below portfolio value %v", cost, req.Value)
	}
	if cost >= req.Cash {
		return reject(RuleCash, req.Symbol, "cost %v not below available cash %v", cost, req.Cash)
	}

	return Result{Amount: amount, Price: price, Cost: cost}, nil
}
