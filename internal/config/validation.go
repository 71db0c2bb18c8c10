package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/cryptobroker/internal/broker"
	"github.com/ajitpratap0/cryptobroker/internal/gateway"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateExchange()...)
	errors = append(errors, c.validateBroker()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateCircuitBreaker()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateMonitoring()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	validEnvs := []string{"development", "staging", "production"}
	if !slices.Contains(validEnvs, c.App.Environment) {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
		})
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.App.LogLevel)); err != nil || c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: fmt.Sprintf("Invalid log level '%s' (debug, info, warn, error)", c.App.LogLevel),
		})
	}

	if c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errors = append(errors, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("Invalid log format '%s'. Must be json or console", c.App.LogFormat),
		})
	}

	return errors
}

func (c *Config) validateExchange() ValidationErrors {
	var errors ValidationErrors
	ex := c.Exchange

	switch ex.Name {
	case "paper":
		if ex.PaperCash <= 0 {
			errors = append(errors, ValidationError{
				Field:   "exchange.paper_cash",
				Message: "Paper cash must be positive",
			})
		}
		for i, m := range ex.PaperMarkets {
			if !strings.Contains(m.Symbol, "/") {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("exchange.paper_markets[%d].symbol", i),
					Message: fmt.Sprintf("Symbol '%s' must be BASE/QUOTE", m.Symbol),
				})
			}
			if m.AmountStep < 0 || m.PriceStep < 0 || m.Price < 0 {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("exchange.paper_markets[%d]", i),
					Message: "Steps and price must be non-negative",
				})
			}
		}
	case "binance":
		if ex.MarketType == string(gateway.MarketFuture) {
			errors = append(errors, ValidationError{
				Field:   "exchange.market_type",
				Message: "Binance gateway supports spot markets only",
			})
		}
		if !ex.Testnet && (ex.APIKey == "" || ex.SecretKey == "") {
			errors = append(errors, ValidationError{
				Field:   "exchange.api_key",
				Message: "API key and secret key are required for live trading",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "exchange.name",
			Message: fmt.Sprintf("Unknown exchange '%s'. Must be paper or binance", ex.Name),
		})
	}

	if ex.MarketType != string(gateway.MarketSpot) && ex.MarketType != string(gateway.MarketFuture) {
		errors = append(errors, ValidationError{
			Field:   "exchange.market_type",
			Message: fmt.Sprintf("Invalid market type '%s'. Must be spot or future", ex.MarketType),
		})
	}

	if ex.Currency == "" {
		errors = append(errors, ValidationError{
			Field:   "exchange.currency",
			Message: "Cash currency is required",
		})
	}

	if ex.RateLimitMS < 0 {
		errors = append(errors, ValidationError{
			Field:   "exchange.rate_limit_ms",
			Message: "Rate limit must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateBroker() ValidationErrors {
	var errors ValidationErrors

	if c.Broker.SyncInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "broker.sync_interval",
			Message: "Sync interval must be positive",
		})
	}

	if c.Broker.PollConcurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "broker.poll_concurrency",
			Message: "Poll concurrency must be at least 1",
		})
	}

	mapping := broker.StatusMapping{
		Closed:    c.Broker.ClosedOrder,
		Cancelled: c.Broker.CanceledOrder,
		Rejected:  c.Broker.RejectedOrder,
	}
	if err := mapping.Validate(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "broker.closed_order",
			Message: err.Error(),
		})
	}

	defaults := broker.DefaultOrderTypes()
	for kind := range c.Broker.OrderTypes {
		if _, ok := defaults[broker.Kind(kind)]; !ok {
			errors = append(errors, ValidationError{
				Field:   "broker.order_types." + kind,
				Message: "Unknown order kind (market, limit, stop, stop_limit)",
			})
		}
	}

	return errors
}

func (c *Config) validateRetry() ValidationErrors {
	var errors ValidationErrors

	if c.Retry.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_retries",
			Message: "Max retries must be non-negative",
		})
	}

	if c.Retry.BackoffFactor < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.backoff_factor",
			Message: "Backoff factor must be at least 1",
		})
	}

	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errors = append(errors, ValidationError{
			Field:   "retry.max_backoff",
			Message: "Max backoff must not be below the initial backoff",
		})
	}

	return errors
}

func (c *Config) validateCircuitBreaker() ValidationErrors {
	var errors ValidationErrors

	if c.CircuitBreaker.FailureRatio <= 0 || c.CircuitBreaker.FailureRatio > 1 {
		errors = append(errors, ValidationError{
			Field:   "circuit_breaker.failure_ratio",
			Message: fmt.Sprintf("Failure ratio %.2f must be in (0, 1]", c.CircuitBreaker.FailureRatio),
		})
	}

	if c.CircuitBreaker.OpenTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "circuit_breaker.open_timeout",
			Message: "Open timeout must be positive",
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if !c.Redis.Enabled {
		return errors
	}

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		})
	}

	if !validPort(c.Redis.Port) {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if !c.NATS.Enabled {
		return errors
	}

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required",
		})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with 'nats://'",
		})
	}

	return errors
}

func (c *Config) validateMonitoring() ValidationErrors {
	var errors ValidationErrors

	if c.Monitoring.EnableMetrics && !validPort(c.Monitoring.PrometheusPort) {
		errors = append(errors, ValidationError{
			Field:   "monitoring.prometheus_port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Monitoring.PrometheusPort),
		})
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	if c.App.Environment != "production" {
		return errors
	}

	errors = append(errors, ValidateProductionSecrets(c)...)

	if c.Exchange.Name == "binance" && c.Exchange.Testnet {
		errors = append(errors, ValidationError{
			Field:   "exchange.testnet",
			Message: "Testnet mode must be disabled in production",
		})
	}

	return errors
}
