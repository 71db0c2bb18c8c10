package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaper(marketType MarketType) *PaperGateway {
	return NewPaperGateway(PaperConfig{
		Currency:   "USDT",
		Cash:       1000,
		MarketType: marketType,
		Markets:    map[string]Market{"BTC/USDT": PaperMarket("BTC/USDT", 0.0001, 0.01)},
		Prices:     map[string]float64{"BTC/USDT": 100},
	})
}

func ptr(v float64) *float64 {
	return &v
}

func TestPaperMarketOrderFillsImmediately(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(MarketSpot)

	resp, err := p.CreateOrder(ctx, CreateOrderRequest{Symbol: "BTC/USDT", Type: "market", Side: SideBuy, Amount: 0.5})
	require.NoError(t, err)

	assert.Equal(t, StatusClosed, resp.Status)
	assert.Equal(t, 0.5, resp.Filled)
	assert.Equal(t, 100.0, resp.Average)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, "closed", resp.Info["status"])

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 950.0, bal.Cash, 1e-9)
	assert.InDelta(t, 1000.0, bal.Value, 1e-9)

	btc, err := p.GetWalletBalance(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, WalletBalance{Free: 0.5, Total: 0.5}, btc)
}

func TestPaperMarketOrderPartialFills(t *testing.T) {
	p := newTestPaper(MarketSpot)

	resp, err := p.CreateOrder(context.Background(), CreateOrderRequest{Symbol: "BTC/USDT", Type: "market", Side: SideBuy, Amount: 2})
	require.NoError(t, err)

	assert.Len(t, resp.Trades, 5)
	var total float64
	for i, tr := range resp.Trades {
		total += tr.Amount
		assert.GreaterOrEqual(t, tr.Price, 100.0, "fill %d", i)
		assert.NotEmpty(t, tr.ID)
	}
	assert.InDelta(t, 2.0, total, 1e-9)
	assert.InDelta(t, 2.0, resp.Filled, 1e-9)
	assert.Greater(t, resp.Average, 100.0)
}

func TestPaperSlippage(t *testing.T) {
	p := NewPaperGateway(PaperConfig{
		Cash:    1000,
		Fees:    DefaultFeeConfig(),
		Markets: map[string]Market{"BTC/USDT": PaperMarket("BTC/USDT", 0, 0)},
		Prices:  map[string]float64{"BTC/USDT": 100},
	})

	resp, err := p.CreateOrder(context.Background(), CreateOrderRequest{Symbol: "BTC/USDT", Type: "market", Side: SideBuy, Amount: 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 100*(1+0.0005+0.0001*0.00001), resp.Average, 1e-9)

	bal, err := p.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1000-0.1*resp.Average*1.001, bal.Cash, 1e-9)
}

func TestPaperLimitOrderRestsUntilCrossed(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(MarketSpot)

	resp, err := p.CreateOrder(ctx, CreateOrderRequest{Symbol: "BTC/USDT", Type: "limit", Side: SideBuy, Amount: 1, Price: ptr(90)})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, resp.Status)
	assert.NotNil(t, resp.Trades)
	assert.Empty(t, resp.Trades)

	usdt, err := p.GetWalletBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.Equal(t, WalletBalance{Free: 910, Total: 1000}, usdt)

	open, err := p.FetchOpenOrders(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, resp.ID, open[0].ID)

	p.SetMarketPrice("BTC/USDT", 95)
	fetched, err := p.FetchOrder(ctx, resp.ID, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, fetched.Status)

	p.SetMarketPrice("BTC/USDT", 89)
	fetched, err = p.FetchOrder(ctx, resp.ID, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, fetched.Status)
	assert.Equal(t, 1.0, fetched.Filled)
	assert.Equal(t, 90.0, fetched.Average)
	require.Len(t, fetched.Trades, 1)
	assert.Equal(t, 90.0, fetched.Trades[0].Price)

	usdt, err = p.GetWalletBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.Equal(t, WalletBalance{Free: 910, Total: 910}, usdt)

	open, err = p.FetchOpenOrders(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPaperStopOrderTriggersAgainstTrader(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(MarketSpot)

	resp, err := p.CreateOrder(ctx, CreateOrderRequest{Symbol: "BTC/USDT", Type: "stop", Side: SideBuy, Amount: 1, Price: ptr(110)})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, resp.Status)

	p.SetMarketPrice("BTC/USDT", 105)
	fetched, err := p.FetchOrder(ctx, resp.ID, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, fetched.Status)

	p.SetMarketPrice("BTC/USDT", 111)
	fetched, err = p.FetchOrder(ctx, resp.ID, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, fetched.Status)
	assert.Equal(t, 111.0, fetched.Average, "stop orders fill at the market price")

	bal, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 889.0, bal.Cash, 1e-9)
}

func TestPaperCancelReleasesFunds(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(MarketSpot)

	resp, err := p.CreateOrder(ctx, CreateOrderRequest{Symbol: "BTC/USDT", Type: "limit", Side: SideBuy, Amount: 2, Price: ptr(50)})
	require.NoError(t, err)

	_, err = p.CancelOrder(ctx, resp.ID, "ETH/USDT")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	cancelled, err := p.CancelOrder(ctx, resp.ID, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, cancelled.Status)
	assert.Equal(t, "canceled", cancelled.Info["status"])

	usdt, err := p.GetWalletBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.Equal(t, WalletBalance{Free: 1000, Total: 1000}, usdt)

	_, err = p.CancelOrder(ctx, resp.ID, "BTC/USDT")
	assert.ErrorIs(t, err, ErrRejected)

	_, err = p.FetchOrder(ctx, "missing", "BTC/USDT")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPaperFuturesOmitTrades(t *testing.T) {
	p := newTestPaper(MarketFuture)
	assert.Equal(t, MarketFuture, p.MarketType())

	resp, err := p.CreateOrder(context.Background(), CreateOrderRequest{Symbol: "BTC/USDT", Type: "market", Side: SideSell, Amount: 0.5})
	require.NoError(t, err, "futures may open a short without holding the base asset")

	assert.Equal(t, StatusClosed, resp.Status)
	assert.Equal(t, 0.5, resp.Filled)
	assert.Nil(t, resp.Trades)
}

func TestPaperCreateOrderErrors(t *testing.T) {
	tests := []struct {
		name string
		req  CreateOrderRequest
		want error
	}{
		{
			name: "unknown market",
			req:  CreateOrderRequest{Symbol: "DOGE/USDT", Type: "market", Side: SideBuy, Amount: 1},
			want: ErrUnknownMarket,
		},
		{
			name: "unsupported parameter",
			req:  CreateOrderRequest{Symbol: "BTC/USDT", Type: "market", Side: SideBuy, Amount: 0.1, Params: map[string]interface{}{"reduceOnly": true}},
			want: ErrUnsupportedParameters,
		},
		{
			name: "unknown order type",
			req:  CreateOrderRequest{Symbol: "BTC/USDT", Type: "iceberg", Side: SideBuy, Amount: 0.1},
			want: ErrRejected,
		},
		{
			name: "limit without price",
			req:  CreateOrderRequest{Symbol: "BTC/USDT", Type: "limit", Side: SideBuy, Amount: 0.1},
			want: ErrRejected,
		},
		{
			name: "insufficient cash",
			req:  CreateOrderRequest{Symbol: "BTC/USDT", Type: "market", Side: SideBuy, Amount: 11},
			want: ErrRejected,
		},
		{
			name: "spot sell without holdings",
			req:  CreateOrderRequest{Symbol: "BTC/USDT", Type: "limit", Side: SideSell, Amount: 1, Price: ptr(120)},
			want: ErrRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPaper(MarketSpot)
			_, err := p.CreateOrder(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestPaperClientOrderID(t *testing.T) {
	p := newTestPaper(MarketSpot)

	resp, err := p.CreateOrder(context.Background(), CreateOrderRequest{
		Symbol: "BTC/USDT", Type: "market", Side: SideBuy, Amount: 0.1,
		Params: map[string]interface{}{"clientOrderId": "abc-123"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resp.ClientID)
}

func TestPaperPrecision(t *testing.T) {
	p := newTestPaper(MarketSpot)

	amount, err := p.AmountToPrecision("BTC/USDT", 0.123456)
	require.NoError(t, err)
	assert.Equal(t, 0.1234, amount)

	price, err := p.PriceToPrecision("BTC/USDT", 100.129)
	require.NoError(t, err)
	assert.Equal(t, 100.12, price)

	_, err = p.AmountToPrecision("DOGE/USDT", 1)
	assert.ErrorIs(t, err, ErrUnknownMarket)
}

func TestPaperPrivateEndpoint(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(MarketSpot)

	_, err := p.CreateOrder(ctx, CreateOrderRequest{Symbol: "BTC/USDT", Type: "market", Side: SideBuy, Amount: 0.5})
	require.NoError(t, err)

	resp, err := p.PrivateEndpoint(ctx, PrivateMethodName("Get", "/account", ""), nil)
	require.NoError(t, err)

	balances, ok := resp["balances"].([]interface{})
	require.True(t, ok)
	require.Len(t, balances, 2)
	assert.Equal(t, "BTC", balances[0].(map[string]interface{})["asset"])
	assert.Equal(t, "USDT", balances[1].(map[string]interface{})["asset"])

	_, err = p.PrivateEndpoint(ctx, PrivateMethodName("Post", "/order", ""), nil)
	assert.ErrorIs(t, err, ErrUnsupportedParameters)

	unknown, err := p.GetWalletBalance(ctx, "DOGE")
	require.NoError(t, err)
	assert.Zero(t, unknown)
}

func TestPaperFetchPositions(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(MarketSpot)

	positions, err := p.FetchPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions, "cash alone is not a position")

	_, err = p.CreateOrder(ctx, CreateOrderRequest{Symbol: "BTC/USDT", Type: "market", Side: SideBuy, Amount: 0.5})
	require.NoError(t, err)
	_, err = p.CreateOrder(ctx, CreateOrderRequest{Symbol: "BTC/USDT", Type: "limit", Side: SideBuy, Amount: 1, Price: ptr(90)})
	require.NoError(t, err)
	p.SetMarketPrice("BTC/USDT", 89)

	positions, err = p.FetchPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC/USDT", positions[0].Symbol)
	assert.InDelta(t, 1.5, positions[0].Size, 1e-9)
	assert.InDelta(t, (0.5*100+1*90)/1.5, positions[0].Price, 1e-9)

	_, err = p.CreateOrder(ctx, CreateOrderRequest{Symbol: "BTC/USDT", Type: "market", Side: SideSell, Amount: 0.5})
	require.NoError(t, err)
	positions, err = p.FetchPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 1.0, positions[0].Size, 1e-9)
	assert.InDelta(t, (0.5*100+1*90)/1.5, positions[0].Price, 1e-9, "reducing keeps the entry price")

	for i := 0; i < 2; i++ {
		_, err = p.CreateOrder(ctx, CreateOrderRequest{Symbol: "BTC/USDT", Type: "market", Side: SideSell, Amount: 0.5})
		require.NoError(t, err)
	}
	positions, err = p.FetchPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPaperFetchPositionsFuturesShort(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(MarketFuture)

	_, err := p.CreateOrder(ctx, CreateOrderRequest{Symbol: "BTC/USDT", Type: "market", Side: SideSell, Amount: 0.5})
	require.NoError(t, err)

	positions, err := p.FetchPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ExchangePosition{{Symbol: "BTC/USDT", Size: -0.5, Price: 100}}, positions)
}

func TestBlendEntry(t *testing.T) {
	tests := []struct {
		name                      string
		entry, held, delta, price float64
		want                      float64
	}{
		{"open", 0, 0, 1, 100, 100},
		{"add", 100, 1, 1, 130, 115},
		{"reduce", 100, 2, -1, 130, 100},
		{"close", 100, 1, -1, 130, 0},
		{"flip", 100, 1, -2, 130, 130},
		{"add short", 100, -1, -1, 80, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, blendEntry(tt.entry, tt.held, tt.delta, tt.price), 1e-9)
		})
	}
}
