package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cryptobroker/internal/gateway"
)

func ptr(v float64) *float64 { return &v }

func testMarkets() map[string]gateway.Market {
	return map[string]gateway.Market{
		"BTC/USDT": {
			Symbol: "BTC/USDT",
			Base:   "BTC",
			Quote:  "USDT",
			Limits: gateway.Limits{
				Amount: gateway.Bounds{Min: ptr(0.001), Max: ptr(100)},
				Price:  gateway.Bounds{Min: ptr(0.01), Max: ptr(1000000)},
				Cost:   gateway.Bounds{Min: ptr(10)},
			},
			Precision: gateway.Precision{Amount: 0.001, Price: 0.001},
		},
		"ETH/USDT": {
			Symbol:    "ETH/USDT",
			Base:      "ETH",
			Quote:     "USDT",
			Precision: gateway.Precision{Amount: 0.01, Price: 0.01},
		},
	}
}

func TestValidate(t *testing.T) {
	v := New(testMarkets())

	tests := []struct {
		name     string
		req      Request
		wantRule Rule
	}{
		{
			name:     "unknown market",
			req:      Request{Symbol: "DOGE/USDT", Amount: 1, Price: ptr(1), Cash: 1000, Value: 1000},
			wantRule: RuleUnknownMarket,
		},
		{
			name:     "zero amount",
			req:      Request{Symbol: "BTC/USDT", Amount: 0, Price: ptr(100), Cash: 1000, Value: 1000},
			wantRule: RuleZeroAmount,
		},
		{
			name:     "amount truncated to zero",
			req:      Request{Symbol: "BTC/USDT", Amount: 0.0009, Price: ptr(100), Cash: 1000, Value: 1000},
			wantRule: RuleZeroAmount,
		},
		{
			name:     "zero price",
			req:      Request{Symbol: "BTC/USDT", Amount: 1, Price: ptr(0), Cash: 1000, Value: 1000},
			wantRule: RuleZeroPrice,
		},
		{
			name:     "limit order without price",
			req:      Request{Symbol: "BTC/USDT", Amount: 1, PriceRequired: true, LastClose: 100, Cash: 1000, Value: 1000},
			wantRule: RuleMissingPrice,
		},
		{
			name:     "amount above maximum",
			req:      Request{Symbol: "BTC/USDT", Amount: 101, Price: ptr(1), Cash: 1000, Value: 1000},
			wantRule: RuleAmountMax,
		},
		{
			name:     "amount below minimum after rounding",
			req:      Request{Symbol: "ETH/USDT", Amount: 0.009, Price: ptr(100), Cash: 1000, Value: 1000},
			wantRule: RuleZeroAmount,
		},
		{
			name:     "price below minimum",
			req:      Request{Symbol: "BTC/USDT", Amount: 1, Price: ptr(0.001), Cash: 1000, Value: 1000},
			wantRule: RulePriceMin,
		},
		{
			name:     "market order without reference price",
			req:      Request{Symbol: "BTC/USDT", Amount: 1, Cash: 1000, Value: 1000},
			wantRule: RuleNoReference,
		},
		{
			name:     "cost below minimum",
			req:      Request{Symbol: "BTC/USDT", Amount: 0.001, Price: ptr(100), Cash: 1000, Value: 1000},
			wantRule: RuleCostMin,
		},
		{
			name:     "cost equal to portfolio value",
			req:      Request{Symbol: "BTC/USDT", Amount: 1, Price: ptr(500), Cash: 1000, Value: 500},
			wantRule: RuleValue,
		},
		{
			name:     "cost equal to cash",
			req:      Request{Symbol: "BTC/USDT", Amount: 1, Price: ptr(100), Cash: 100, Value: 1000},
			wantRule: RuleCash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRejected))

			var rejection *RejectionError
			require.True(t, errors.As(err, &rejection))
			assert.Equal(t, tt.wantRule, rejection.Rule)
			assert.Equal(t, tt.req.Symbol, rejection.Symbol)
			assert.NotEmpty(t, rejection.Reason)
		})
	}
}

func TestValidateCashBoundary(t *testing.T) {
	v := New(testMarkets())

	_, err := v.Validate(Request{Symbol: "BTC/USDT", Amount: 1, Price: ptr(100), Cash: 100, Value: 1000})
	require.Error(t, err)

	res, err := v.Validate(Request{Symbol: "BTC/USDT", Amount: 1, Price: ptr(99.999), Cash: 100, Value: 1000})
	require.NoError(t, err)
	assert.InDelta(t, 99.999, res.Cost, 1e-9)
}

func TestValidateNormalizes(t *testing.T) {
	v := New(testMarkets())

	res, err := v.Validate(Request{Symbol: "BTC/USDT", Amount: 0.123456, Price: ptr(100.12345), Cash: 1000, Value: 1000})
	require.NoError(t, err)
	assert.InDelta(t, 0.123, res.Amount, 1e-12)
	require.NotNil(t, res.Price)
	assert.InDelta(t, 100.123, *res.Price, 1e-9)
}

func TestValidateMarketOrderUsesLastClose(t *testing.T) {
	v := New(testMarkets())

	res, err := v.Validate(Request{Symbol: "ETH/USDT", Amount: 2, LastClose: 40, Cash: 1000, Value: 1000})
	require.NoError(t, err)
	assert.Nil(t, res.Price)
	assert.InDelta(t, 80, res.Cost, 1e-9)
}

func TestValidateNegativeAmountUsesMagnitude(t *testing.T) {
	v := New(testMarkets())

	res, err := v.Validate(Request{Symbol: "ETH/USDT", Amount: -2, Price: ptr(10), Cash: 1000, Value: 1000})
	require.NoError(t, err)
	assert.InDelta(t, 2, res.Amount, 1e-12)
}
