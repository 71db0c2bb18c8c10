package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig configures the NATS publisher
type NATSConfig struct {
	URL    string
	Prefix string // Subject prefix (default: "broker.orders.")
}

// DefaultNATSConfig returns default configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:    nats.DefaultURL,
		Prefix: "broker.orders.",
	}
}

// NATSPublisher fans order notifications out over NATS as JSON
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(config NATSConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(
		config.URL,
		nats.Name("cryptobroker"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if config.Prefix == "" {
		config.Prefix = DefaultNATSConfig().Prefix
	}

	log.Info().
		Str("nats_url", config.URL).
		Str("prefix", config.Prefix).
		Msg("NATS notification publisher initialized")

	return &NATSPublisher{nc: nc, prefix: config.Prefix}, nil
}

// Subject joins tokens into a NATS subject, replacing characters NATS
// treats as separators or wildcards
func Subject(tokens ...string) string {
	clean := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "/", "-")
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = clean.Replace(t)
	}
	return strings.Join(out, ".")
}

// Publish marshals payload as JSON and publishes it on prefix+subject
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !p.nc.IsConnected() {
		return fmt.Errorf("nats publisher not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := p.nc.Publish(p.prefix+subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Flush waits until published messages reach the server
func (p *NATSPublisher) Flush(ctx context.Context) error {
	return p.nc.FlushWithContext(ctx)
}

// Close drains and closes the connection
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}
