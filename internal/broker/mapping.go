package broker

import (
	"errors"
	"fmt"

	"github.com/ajitpratap0/cryptobroker/internal/gateway"
)

// Indicator matches an order response field against an expected value.
// Exchanges differ in both the field name and the status vocabulary.
type Indicator struct {
	Field string `yaml:"key" mapstructure:"key"`
	Value string `yaml:"value" mapstructure:"value"`
}

// Matches reports whether resp carries Field == Value. A disabled
// (empty) indicator never matches.
func (i Indicator) Matches(resp *gateway.OrderResponse) bool {
	if i.Field == "" {
		return false
	}
	v, ok := resp.Field(i.Field)
	return ok && v == i.Value
}

func (i Indicator) String() string {
	return fmt.Sprintf("%s=%q", i.Field, i.Value)
}

// StatusMapping holds the indicators that detect terminal orders
type StatusMapping struct {
	Closed    Indicator `yaml:"closed_order"`
	Cancelled Indicator `yaml:"canceled_order"`
	Rejected  Indicator `yaml:"rejected_order"`
}

// DefaultStatusMapping matches the unified status vocabulary
func DefaultStatusMapping() StatusMapping {
	return StatusMapping{
		Closed:    Indicator{Field: "status", Value: gateway.StatusClosed},
		Cancelled: Indicator{Field: "status", Value: gateway.StatusCanceled},
		Rejected:  Indicator{Field: "status", Value: gateway.StatusRejected},
	}
}

// Validate checks that the closed and cancelled indicators are set and
// distinguishable. The rejected indicator may be empty to disable it.
func (m StatusMapping) Validate() error {
	var errs []error
	if m.Closed.Field == "" || m.Closed.Value == "" {
		errs = append(errs, errors.New("closed indicator requires key and value"))
	}
	if m.Cancelled.Field == "" || m.Cancelled.Value == "" {
		errs = append(errs, errors.New("cancelled indicator requires key and value"))
	}
	if m.Rejected.Field != "" && m.Rejected.Value == "" {
		errs = append(errs, errors.New("rejected indicator requires a value when a key is set"))
	}
	if m.Closed == m.Cancelled {
		errs = append(errs, fmt.Errorf("closed and cancelled indicators are identical (%s)", m.Closed))
	}
	if m.Rejected.Field != "" && (m.Rejected == m.Closed || m.Rejected == m.Cancelled) {
		errs = append(errs, fmt.Errorf("rejected indicator %s duplicates another indicator", m.Rejected))
	}
	return errors.Join(errs...)
}

// DefaultOrderTypes maps kinds to the unified exchange order types
func DefaultOrderTypes() map[Kind]string {
	return map[Kind]string{
		KindMarket:    "market",
		KindLimit:     "limit",
		KindStop:      "stop",
		KindStopLimit: "stop limit",
	}
}

// Config configures a Tracker
type Config struct {
	Mapping StatusMapping
	// OrderTypes overrides the exchange order type per kind; missing kinds
	// use DefaultOrderTypes
	OrderTypes map[Kind]string
	// UseOrderParams sends custom order parameters until the exchange
	// refuses them once
	UseOrderParams bool
	// PollConcurrency bounds concurrent order fetches per tick
	PollConcurrency int
}

// DefaultConfig returns the default tracker configuration
func DefaultConfig() Config {
	return Config{
		Mapping:         DefaultStatusMapping(),
		OrderTypes:      DefaultOrderTypes(),
		UseOrderParams:  true,
		PollConcurrency: 4,
	}
}

func (c Config) orderType(kind Kind) (string, error) {
	if t, ok := c.OrderTypes[kind]; ok && t != "" {
		return t, nil
	}
	if t, ok := DefaultOrderTypes()[kind]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown order kind %q", kind)
}
