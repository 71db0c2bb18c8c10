package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/cryptobroker/internal/broker"
	"github.com/ajitpratap0/cryptobroker/internal/gateway"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Exchange       ExchangeConfig       `mapstructure:"exchange"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Retry          RetryConfig          `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Redis          RedisConfig          `mapstructure:"redis"`
	NATS           NATSConfig           `mapstructure:"nats"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // json or console
}

// ExchangeConfig selects and configures the exchange gateway
type ExchangeConfig struct {
	Name         string              `mapstructure:"name"` // "paper" or "binance"
	APIKey       string              `mapstructure:"api_key"`
	SecretKey    string              `mapstructure:"secret_key"`
	Testnet      bool                `mapstructure:"testnet"`
	MarketType   string              `mapstructure:"market_type"` // "spot" or "future"
	Currency     string              `mapstructure:"currency"`
	RateLimitMS  int                 `mapstructure:"rate_limit_ms"`
	PaperCash    float64             `mapstructure:"paper_cash"`
	PaperMarkets []PaperMarketConfig `mapstructure:"paper_markets"`
	Fees         gateway.FeeConfig   `mapstructure:"fees"`
}

// PaperMarketConfig describes one simulated market. Markets are a list
// because viper lower-cases map keys and symbols are case sensitive.
type PaperMarketConfig struct {
	Symbol     string  `mapstructure:"symbol"`
	AmountStep float64 `mapstructure:"amount_step"`
	PriceStep  float64 `mapstructure:"price_step"`
	Price      float64 `mapstructure:"price"`
}

// BrokerConfig contains order tracker settings
type BrokerConfig struct {
	Symbols         []string          `mapstructure:"symbols"`
	SyncInterval    time.Duration     `mapstructure:"sync_interval"`
	PollConcurrency int               `mapstructure:"poll_concurrency"`
	UseOrderParams  bool              `mapstructure:"use_order_params"`
	SyncPositions   bool              `mapstructure:"sync_positions"`
	MappingFile     string            `mapstructure:"mapping_file"`
	ClosedOrder     broker.Indicator  `mapstructure:"closed_order"`
	CanceledOrder   broker.Indicator  `mapstructure:"canceled_order"`
	RejectedOrder   broker.Indicator  `mapstructure:"rejected_order"`
	OrderTypes      map[string]string `mapstructure:"order_types"`
}

// RetryConfig contains gateway retry settings
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
}

// CircuitBreakerConfig contains gateway circuit breaker settings
type CircuitBreakerConfig struct {
	MinRequests     uint32        `mapstructure:"min_requests"`
	FailureRatio    float64       `mapstructure:"failure_ratio"`
	OpenTimeout     time.Duration `mapstructure:"open_timeout"`
	HalfOpenMaxReqs uint32        `mapstructure:"half_open_max_requests"`
	CountInterval   time.Duration `mapstructure:"count_interval"`
}

// RedisConfig contains the optional market metadata cache settings
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	MarketTTL time.Duration `mapstructure:"market_ttl"`
}

// NATSConfig contains the optional notification fan-out settings
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides, e.g. CRYPTOBROKER_EXCHANGE_API_KEY
	v.SetEnvPrefix("CRYPTOBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "cryptobroker")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Exchange defaults
	v.SetDefault("exchange.name", "paper")
	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.market_type", string(gateway.MarketSpot))
	v.SetDefault("exchange.currency", "USDT")
	v.SetDefault("exchange.rate_limit_ms", 100)
	v.SetDefault("exchange.paper_cash", 10000.0)

	// Paper fee defaults (Binance-like structure)
	fees := gateway.DefaultFeeConfig()
	v.SetDefault("exchange.fees.maker", fees.Maker)
	v.SetDefault("exchange.fees.taker", fees.Taker)
	v.SetDefault("exchange.fees.base_slippage", fees.BaseSlippage)
	v.SetDefault("exchange.fees.market_impact", fees.MarketImpact)
	v.SetDefault("exchange.fees.max_slippage", fees.MaxSlippage)

	// Broker defaults
	mapping := broker.DefaultStatusMapping()
	v.SetDefault("broker.symbols", []string{"BTC/USDT"})
	v.SetDefault("broker.sync_interval", "5s")
	v.SetDefault("broker.poll_concurrency", 4)
	v.SetDefault("broker.use_order_params", true)
	v.SetDefault("broker.sync_positions", false)
	v.SetDefault("broker.closed_order.key", mapping.Closed.Field)
	v.SetDefault("broker.closed_order.value", mapping.Closed.Value)
	v.SetDefault("broker.canceled_order.key", mapping.Cancelled.Field)
	v.SetDefault("broker.canceled_order.value", mapping.Cancelled.Value)
	v.SetDefault("broker.rejected_order.key", mapping.Rejected.Field)
	v.SetDefault("broker.rejected_order.value", mapping.Rejected.Value)

	// Retry defaults
	retry := gateway.DefaultRetryConfig()
	v.SetDefault("retry.max_retries", retry.MaxRetries)
	v.SetDefault("retry.initial_backoff", retry.InitialBackoff)
	v.SetDefault("retry.max_backoff", retry.MaxBackoff)
	v.SetDefault("retry.backoff_factor", retry.BackoffFactor)

	// Circuit breaker defaults
	v.SetDefault("circuit_breaker.min_requests", gateway.DefaultMinRequests)
	v.SetDefault("circuit_breaker.failure_ratio", gateway.DefaultFailureRatio)
	v.SetDefault("circuit_breaker.open_timeout", gateway.DefaultOpenTimeout)
	v.SetDefault("circuit_breaker.half_open_max_requests", gateway.DefaultHalfOpenMaxReqs)
	v.SetDefault("circuit_breaker.count_interval", gateway.DefaultCountInterval)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.market_ttl", gateway.DefaultMarketCacheTTL)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "broker.orders.")

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RateLimit returns the minimum spacing between exchange requests
func (c *ExchangeConfig) RateLimit() time.Duration {
	return time.Duration(c.RateLimitMS) * time.Millisecond
}

// Gateway converts the retry section into gateway retry settings
func (c RetryConfig) Gateway() gateway.RetryConfig {
	return gateway.RetryConfig{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		BackoffFactor:  c.BackoffFactor,
	}
}

// Gateway converts the circuit breaker section into gateway breaker settings
func (c CircuitBreakerConfig) Gateway() gateway.BreakerSettings {
	return gateway.BreakerSettings{
		MinRequests:     c.MinRequests,
		FailureRatio:    c.FailureRatio,
		OpenTimeout:     c.OpenTimeout,
		HalfOpenMaxReqs: c.HalfOpenMaxReqs,
		CountInterval:   c.CountInterval,
	}
}

// PaperConfig builds the simulated exchange configuration
func (c *ExchangeConfig) PaperConfig() gateway.PaperConfig {
	cfg := gateway.PaperConfig{
		Currency:   c.Currency,
		Cash:       c.PaperCash,
		MarketType: gateway.MarketType(c.MarketType),
		Fees:       c.Fees,
		Markets:    make(map[string]gateway.Market, len(c.PaperMarkets)),
		Prices:     make(map[string]float64, len(c.PaperMarkets)),
	}
	for _, m := range c.PaperMarkets {
		cfg.Markets[m.Symbol] = gateway.PaperMarket(m.Symbol, m.AmountStep, m.PriceStep)
		if m.Price > 0 {
			cfg.Prices[m.Symbol] = m.Price
		}
	}
	return cfg
}

// BinanceConfig builds the live exchange configuration
func (c *ExchangeConfig) BinanceConfig() gateway.BinanceConfig {
	return gateway.BinanceConfig{
		APIKey:    c.APIKey,
		SecretKey: c.SecretKey,
		Testnet:   c.Testnet,
		Currency:  c.Currency,
		RateLimit: c.RateLimit(),
	}
}
