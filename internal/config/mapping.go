package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/cryptobroker/internal/broker"
)

// BrokerMapping is the per-exchange mapping file: order type names and the
// response indicators that mark terminal orders.
//
//	order_types:
//	  stop_limit: STOP_LOSS_LIMIT
//	mappings:
//	  closed_order: {key: status, value: FILLED}
//	  canceled_order: {key: status, value: CANCELED}
type BrokerMapping struct {
	OrderTypes map[broker.Kind]string `yaml:"order_types"`
	Mappings   broker.StatusMapping   `yaml:"mappings"`
}

// LoadBrokerMapping decodes a mapping file. Sections and indicators missing
// from the file keep their defaults.
func LoadBrokerMapping(r io.Reader) (*BrokerMapping, error) {
	m := &BrokerMapping{
		OrderTypes: broker.DefaultOrderTypes(),
		Mappings:   broker.DefaultStatusMapping(),
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode broker mapping: %w", err)
	}

	defaults := broker.DefaultOrderTypes()
	for kind, name := range m.OrderTypes {
		if _, ok := defaults[kind]; !ok {
			return nil, fmt.Errorf("unknown order kind %q in broker mapping", kind)
		}
		if name == "" {
			return nil, fmt.Errorf("empty order type for kind %q in broker mapping", kind)
		}
	}
	if err := m.Mappings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid broker mapping: %w", err)
	}
	return m, nil
}

// LoadBrokerMappingFile opens and decodes a mapping file
func LoadBrokerMappingFile(path string) (*BrokerMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open broker mapping: %w", err)
	}
	defer f.Close()

	return LoadBrokerMapping(f)
}

// TrackerConfig builds the order tracker configuration. A mapping file, when
// set, takes precedence over the inline indicators and order types.
func (c *BrokerConfig) TrackerConfig() (broker.Config, error) {
	cfg := broker.DefaultConfig()
	cfg.UseOrderParams = c.UseOrderParams
	cfg.PollConcurrency = c.PollConcurrency
	cfg.Mapping = broker.StatusMapping{
		Closed:    c.ClosedOrder,
		Cancelled: c.CanceledOrder,
		Rejected:  c.RejectedOrder,
	}
	for kind, name := range c.OrderTypes {
		cfg.OrderTypes[broker.Kind(kind)] = name
	}

	if c.MappingFile != "" {
		m, err := LoadBrokerMappingFile(c.MappingFile)
		if err != nil {
			return broker.Config{}, err
		}
		cfg.Mapping = m.Mappings
		cfg.OrderTypes = m.OrderTypes
	}

	if err := cfg.Mapping.Validate(); err != nil {
		return broker.Config{}, fmt.Errorf("invalid status mapping: %w", err)
	}
	return cfg, nil
}
