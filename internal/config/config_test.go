package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cryptobroker/internal/broker"
	"github.com/ajitpratap0/cryptobroker/internal/gateway"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test-broker\n"))
	require.NoError(t, err)

	assert.Equal(t, "test-broker", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "json", cfg.App.LogFormat)

	assert.Equal(t, "paper", cfg.Exchange.Name)
	assert.Equal(t, "spot", cfg.Exchange.MarketType)
	assert.Equal(t, "USDT", cfg.Exchange.Currency)
	assert.Equal(t, 100*time.Millisecond, cfg.Exchange.RateLimit())
	assert.Equal(t, gateway.DefaultFeeConfig(), cfg.Exchange.Fees)

	assert.Equal(t, 5*time.Second, cfg.Broker.SyncInterval)
	assert.Equal(t, 4, cfg.Broker.PollConcurrency)
	assert.True(t, cfg.Broker.UseOrderParams)
	assert.False(t, cfg.Broker.SyncPositions)
	assert.Equal(t, broker.Indicator{Field: "status", Value: "closed"}, cfg.Broker.ClosedOrder)
	assert.Equal(t, broker.Indicator{Field: "status", Value: "canceled"}, cfg.Broker.CanceledOrder)

	assert.Equal(t, gateway.DefaultRetryConfig(), cfg.Retry.Gateway())
	assert.Equal(t, gateway.DefaultBreakerSettings(), cfg.CircuitBreaker.Gateway())

	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, gateway.DefaultMarketCacheTTL, cfg.Redis.MarketTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.GetRedisAddr())
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "broker.orders.", cfg.NATS.SubjectPrefix)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
  log_format: console
exchange:
  name: paper
  market_type: future
  paper_cash: 2500
  paper_markets:
    - symbol: BTC/USDT
      amount_step: 0.001
      price_step: 0.1
      price: 50000
broker:
  sync_interval: 2s
  poll_concurrency: 8
  use_order_params: false
  order_types:
    stop_limit: STOP_LOSS_LIMIT
  closed_order:
    key: state
    value: FILLED
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Broker.SyncInterval)
	assert.Equal(t, broker.Indicator{Field: "state", Value: "FILLED"}, cfg.Broker.ClosedOrder)

	paper := cfg.Exchange.PaperConfig()
	assert.Equal(t, gateway.MarketFuture, paper.MarketType)
	assert.Equal(t, 2500.0, paper.Cash)
	require.Contains(t, paper.Markets, "BTC/USDT", "symbols keep their case")
	assert.Equal(t, 0.001, paper.Markets["BTC/USDT"].Precision.Amount)
	assert.Equal(t, "BTC", paper.Markets["BTC/USDT"].Base)
	assert.Equal(t, 50000.0, paper.Prices["BTC/USDT"])

	tracker, err := cfg.Broker.TrackerConfig()
	require.NoError(t, err)
	assert.False(t, tracker.UseOrderParams)
	assert.Equal(t, 8, tracker.PollConcurrency)
	assert.Equal(t, "STOP_LOSS_LIMIT", tracker.OrderTypes[broker.KindStopLimit])
	assert.Equal(t, "limit", tracker.OrderTypes[broker.KindLimit])
	assert.Equal(t, "FILLED", tracker.Mapping.Closed.Value)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CRYPTOBROKER_EXCHANGE_CURRENCY", "USDC")
	t.Setenv("CRYPTOBROKER_BROKER_POLL_CONCURRENCY", "2")

	cfg, err := Load(writeConfig(t, "app:\n  name: env\n"))
	require.NoError(t, err)

	assert.Equal(t, "USDC", cfg.Exchange.Currency)
	assert.Equal(t, 2, cfg.Broker.PollConcurrency)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "exchange:\n  name: kraken\n"))
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "exchange.name", verrs[0].Field)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBinanceConfig(t *testing.T) {
	ex := ExchangeConfig{APIKey: "k", SecretKey: "s", Testnet: true, Currency: "USDT", RateLimitMS: 50}
	assert.Equal(t, gateway.BinanceConfig{
		APIKey:    "k",
		SecretKey: "s",
		Testnet:   true,
		Currency:  "USDT",
		RateLimit: 50 * time.Millisecond,
	}, ex.BinanceConfig())
}
