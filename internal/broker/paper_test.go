package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cryptobroker/internal/gateway"
)

func newPaperStack(marketType gateway.MarketType) (*gateway.PaperGateway, gateway.Gateway) {
	paper := gateway.NewPaperGateway(gateway.PaperConfig{
		Currency:   "USDT",
		Cash:       1000,
		MarketType: marketType,
		Markets:    map[string]gateway.Market{symbol: gateway.PaperMarket(symbol, 0.0001, 0.01)},
		Prices:     map[string]float64{symbol: 100},
	})
	return paper, gateway.NewResilient(paper, gateway.RetryConfig{MaxRetries: 1}, gateway.BreakerSettings{})
}

func TestPaperLifecycle(t *testing.T) {
	ctx := context.Background()
	paper, gw := newPaperStack(gateway.MarketSpot)
	tr := newTestTracker(t, gw, nil)

	assert.Equal(t, 1000.0, tr.StartingCash())

	// resting limit buy
	o, err := tr.Submit(ctx, limitBuy(2, 90))
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, StatusSubmitted, o.Status)
	assert.True(t, tr.OrderParamsEnabled())
	require.Len(t, tr.OpenOrders(), 1)

	remote, err := tr.RemoteOpenOrders(ctx, symbol)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.NotEmpty(t, remote[0].ClientID, "client order id is sent while params are supported")

	require.NoError(t, tr.SyncTick(ctx))
	notes := drain(tr)
	require.Len(t, notes, 1)
	assert.Equal(t, StatusSubmitted, notes[0].Status)

	// price crosses the limit
	paper.SetMarketPrice(symbol, 89)
	require.NoError(t, tr.SyncTick(ctx))

	assert.Equal(t, StatusSubmitted, o.Status, "the submitted order is a snapshot")
	assert.Empty(t, tr.OpenOrders())
	assert.Equal(t, 2.0, tr.GetPosition(symbol).Size)
	assert.Equal(t, 90.0, tr.GetPosition(symbol).AvgPrice)
	assert.InDelta(t, 820.0, tr.GetCash(), 1e-9)
	assert.InDelta(t, 998.0, tr.GetValue(), 1e-9)

	notes = drain(tr)
	require.Len(t, notes, 1)
	assert.Equal(t, o.ID, notes[0].ID)
	assert.Equal(t, StatusClosed, notes[0].Status)
	assert.Equal(t, 2.0, notes[0].FilledAmount)
	assert.Equal(t, 90.0, notes[0].AvgFillPrice)

	// market sell closes immediately and reduces the position
	sell, err := tr.Submit(ctx, Intent{Instrument: symbol, Side: gateway.SideSell, Amount: 0.5, LastClose: 89})
	require.NoError(t, err)
	require.NotNil(t, sell)
	assert.Equal(t, StatusClosed, sell.Status)
	assert.Equal(t, 89.0, sell.AvgFillPrice)
	assert.Equal(t, 1.5, tr.GetPosition(symbol).Size)
	assert.Equal(t, 90.0, tr.GetPosition(symbol).AvgPrice)
	assert.InDelta(t, 864.5, tr.GetCash(), 1e-9)

	// cancel releases the reservation
	rest, err := tr.Submit(ctx, limitBuy(1, 80))
	require.NoError(t, err)
	require.NotNil(t, rest)
	assert.InDelta(t, 864.5, tr.GetCash(), 1e-9, "cash is refreshed only after fills")

	cancelled, err := tr.Cancel(ctx, rest)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Empty(t, tr.OpenOrders())

	usdt, _, err := tr.WalletBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.InDelta(t, 864.5, usdt, 1e-9)

	statuses := []Status{}
	for _, n := range drain(tr) {
		statuses = append(statuses, n.Status)
	}
	assert.Equal(t, []Status{StatusClosed, StatusSubmitted, StatusCancelled}, statuses)
}

func TestPaperFuturesSettlement(t *testing.T) {
	ctx := context.Background()
	_, gw := newPaperStack(gateway.MarketFuture)
	tr := newTestTracker(t, gw, nil)

	o, err := tr.Submit(ctx, Intent{Instrument: symbol, Side: gateway.SideBuy, Amount: 0.5, LastClose: 100})
	require.NoError(t, err)
	require.NotNil(t, o)

	assert.Equal(t, StatusClosed, o.Status)
	require.Len(t, o.Fills, 1)
	assert.Equal(t, o.ID+":settle", o.Fills[0].ID)
	assert.Equal(t, 0.5, o.Fills[0].Amount)
	assert.Equal(t, 100.0, o.Fills[0].Price)
	assert.Equal(t, 0.5, tr.GetPosition(symbol).Size)
}

func TestPaperOrderParamsDowngrade(t *testing.T) {
	ctx := context.Background()
	_, gw := newPaperStack(gateway.MarketSpot)
	tr := newTestTracker(t, gw, nil)

	intent := limitBuy(1, 90)
	intent.Params = map[string]interface{}{"reduceOnly": true}

	o, err := tr.Submit(ctx, intent)
	require.NoError(t, err)
	assert.Nil(t, o, "the probing submission is dropped")
	assert.False(t, tr.OrderParamsEnabled())
	assert.Empty(t, drain(tr))

	o, err = tr.Submit(ctx, intent)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, StatusSubmitted, o.Status)

	remote, err := tr.RemoteOpenOrders(ctx, symbol)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Empty(t, remote[0].ClientID, "params are no longer sent")
}

func TestPaperPrivateEndpoint(t *testing.T) {
	_, gw := newPaperStack(gateway.MarketSpot)
	tr := newTestTracker(t, gw, nil)

	resp, err := tr.PrivateEndpoint(context.Background(), "Get", "/account", nil, "")
	require.NoError(t, err)
	assert.Contains(t, resp, "balances")
}

func TestPaperSyncExchangePositions(t *testing.T) {
	ctx := context.Background()
	paper, gw := newPaperStack(gateway.MarketSpot)
	tr := newTestTracker(t, gw, nil)

	// a fill the tracker never saw, e.g. from before a restart
	_, err := paper.CreateOrder(ctx, gateway.CreateOrderRequest{Symbol: symbol, Type: "market", Side: gateway.SideBuy, Amount: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.0, tr.GetPosition(symbol).Size)

	require.NoError(t, tr.SyncExchangePositions(ctx, []string{symbol}))
	pos := tr.GetPosition(symbol)
	assert.Equal(t, 0.5, pos.Size)
	assert.Equal(t, 100.0, pos.AvgPrice)

	// tracked fills build on the synced position
	_, err = tr.Submit(ctx, Intent{Instrument: symbol, Side: gateway.SideBuy, Amount: 0.5, LastClose: 100})
	require.NoError(t, err)
	assert.Equal(t, 1.0, tr.GetPosition(symbol).Size)
}
