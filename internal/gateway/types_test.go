package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarketPrecision(t *testing.T) {
	m := Market{Symbol: "BTC/USDT", Precision: Precision{Amount: 0.00001, Price: 0.01}}

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"amount truncates", m.AmountToPrecision(0.123456789), 0.12345},
		{"amount never rounds up", m.AmountToPrecision(0.999999), 0.99999},
		{"amount on step", m.AmountToPrecision(1.5), 1.5},
		{"price truncates", m.PriceToPrecision(50123.456), 50123.45},
		{"price below tick", m.PriceToPrecision(0.009), 0},
		{"no step keeps value", Market{}.AmountToPrecision(1.23456789), 1.23456789},
		{"whole steps", Market{Precision: Precision{Amount: 5}}.AmountToPrecision(12), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestOrderResponseField(t *testing.T) {
	resp := &OrderResponse{
		ID:     "42",
		Status: StatusOpen,
		Side:   SideSell,
		Type:   "limit",
		Symbol: "ETH/USDT",
		Info:   map[string]interface{}{"status": "NEW", "isWorking": true, "nil": nil},
	}

	v, ok := resp.Field("status")
	assert.True(t, ok)
	assert.Equal(t, StatusOpen, v, "unified fields win over the raw payload")

	v, ok = resp.Field("side")
	assert.True(t, ok)
	assert.Equal(t, "sell", v)

	v, ok = resp.Field("isWorking")
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	_, ok = resp.Field("nil")
	assert.False(t, ok)
	_, ok = resp.Field("absent")
	assert.False(t, ok)

	var nilResp *OrderResponse
	_, ok = nilResp.Field("status")
	assert.False(t, ok)
}
