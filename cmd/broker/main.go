package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/cryptobroker/internal/broker"
	"github.com/ajitpratap0/cryptobroker/internal/config"
	"github.com/ajitpratap0/cryptobroker/internal/gateway"
	"github.com/ajitpratap0/cryptobroker/internal/metrics"
	"github.com/ajitpratap0/cryptobroker/internal/notify"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	verifyKeys := flag.Bool("verify-keys", false, "Validate exchange and Redis secrets for production, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	if *verifyKeys {
		if errs := config.ValidateProductionSecrets(cfg); len(errs) > 0 {
			log.Error().Err(errs).Msg("Secret verification failed")
			os.Exit(1)
		}
		log.Info().Msg("Secrets verified")
		return
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Broker exited with error")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", config.Version).
		Str("environment", cfg.App.Environment).
		Str("exchange", cfg.Exchange.Name).
		Str("market_type", cfg.Exchange.MarketType).
		Msg("Starting cryptobroker")

	gw, cleanup, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var opts []broker.Option
	if cfg.NATS.Enabled {
		publisher, err := notify.NewNATSPublisher(notify.NATSConfig{
			URL:    cfg.NATS.URL,
			Prefix: cfg.NATS.SubjectPrefix,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close NATS publisher")
			}
		}()
		opts = append(opts, broker.WithEventSink(publisher))
	}

	trackerCfg, err := cfg.Broker.TrackerConfig()
	if err != nil {
		return err
	}

	tracker, err := broker.New(ctx, gw, trackerCfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to start tracker: %w", err)
	}

	log.Info().
		Float64("starting_cash", tracker.StartingCash()).
		Float64("starting_value", tracker.StartingValue()).
		Bool("order_params", tracker.OrderParamsEnabled()).
		Msg("Tracker ready")

	if cfg.Broker.SyncPositions {
		if err := tracker.SyncExchangePositions(ctx, cfg.Broker.Symbols); err != nil {
			return err
		}
	}
	reportRemoteOrders(ctx, tracker, cfg.Broker.Symbols)

	if cfg.Monitoring.EnableMetrics {
		server := metrics.NewServer(cfg.Monitoring.PrometheusPort, breakerHealth(gw), log.Logger)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	return reconcile(ctx, tracker, cfg.Broker.SyncInterval)
}

// buildGateway assembles exchange -> market cache -> retry/breaker
func buildGateway(cfg *config.Config) (*gateway.Resilient, func(), error) {
	var base gateway.Gateway
	switch cfg.Exchange.Name {
	case "paper":
		base = gateway.NewPaperGateway(cfg.Exchange.PaperConfig())
	case "binance":
		bgw, err := gateway.NewBinanceGateway(cfg.Exchange.BinanceConfig())
		if err != nil {
			return nil, nil, err
		}
		base = bgw
	default:
		return nil, nil, fmt.Errorf("unsupported exchange %q", cfg.Exchange.Name)
	}

	cleanup := func() {}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanup = func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close Redis client")
			}
		}
		base = gateway.NewCachedMarkets(base, client, cfg.Redis.MarketTTL)
	}

	return gateway.NewResilient(base, cfg.Retry.Gateway(), cfg.CircuitBreaker.Gateway()), cleanup, nil
}

func breakerHealth(gw *gateway.Resilient) metrics.HealthFunc {
	return func(context.Context) error {
		if gw.BreakerState() == gobreaker.StateOpen {
			return errors.New("exchange circuit breaker open")
		}
		return nil
	}
}

// reportRemoteOrders logs orders left open on the exchange by an earlier run.
// They are not adopted by the tracker.
func reportRemoteOrders(ctx context.Context, tracker *broker.Tracker, symbols []string) {
	for _, symbol := range symbols {
		orders, err := tracker.RemoteOpenOrders(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to list remote open orders")
			continue
		}
		for _, o := range orders {
			log.Warn().
				Str("order_id", o.ID).
				Str("symbol", o.Symbol).
				Str("side", string(o.Side)).
				Float64("amount", o.Amount).
				Msg("Untracked open order on exchange")
		}
	}
}

func reconcile(ctx context.Context, tracker *broker.Tracker, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Int("open_orders", len(tracker.OpenOrders())).Msg("Shutting down broker")
			return nil
		case <-ticker.C:
			if err := tracker.SyncTick(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Sync tick completed with errors")
			}
			drainNotifications(tracker)
		}
	}
}

func drainNotifications(tracker *broker.Tracker) {
	for {
		o, ok := tracker.PollNotification()
		if !ok {
			return
		}
		log.Info().
			Str("order_id", o.ID).
			Str("symbol", o.Instrument).
			Str("status", string(o.Status)).
			Float64("filled", o.FilledAmount).
			Float64("avg_price", o.AvgFillPrice).
			Msg("Order notification")
	}
}
