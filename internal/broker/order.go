package broker

import (
	"errors"
	"fmt"
	"time"

	"github.com/ajitpratap0/cryptobroker/internal/gateway"
)

var (
	// ErrTerminal is returned when mutating an order that is closed, cancelled or rejected
	ErrTerminal = errors.New("order is in a terminal state")
	// ErrInvalidTransition is returned for a status change that moves backwards
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrNotTracked is returned when cancelling an order the tracker does not hold
	ErrNotTracked = errors.New("order is not tracked")
)

// Kind is the execution type of an order intent
type Kind string

const (
	KindMarket    Kind = "market"
	KindLimit     Kind = "limit"
	KindStop      Kind = "stop"
	KindStopLimit Kind = "stop_limit"
)

// NeedsPrice reports whether the kind must carry a price
func (k Kind) NeedsPrice() bool {
	return k != KindMarket
}

// Status is the local lifecycle state of an order
type Status string

const (
	StatusSubmitted       Status = "submitted"
	StatusPartiallyFilled Status = "partially_filled"
	StatusClosed          Status = "closed"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
)

// Terminal reports whether no further transition is allowed
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled || s == StatusRejected
}

func (s Status) rank() int {
	switch s {
	case StatusSubmitted:
		return 0
	case StatusPartiallyFilled:
		return 1
	default:
		return 2
	}
}

// Fill is one execution of an order
type Fill struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
}

// Order is an exchange order tracked locally. Fills are deduplicated by id
// and FilledAmount always equals their sum.
type Order struct {
	ID              string       `json:"id"`
	ClientID        string       `json:"client_order_id,omitempty"`
	Instrument      string       `json:"instrument"`
	Side            gateway.Side `json:"side"`
	Kind            Kind         `json:"kind"`
	RequestedAmount float64      `json:"requested_amount"`
	RequestedPrice  *float64     `json:"requested_price,omitempty"`
	Status          Status       `json:"status"`
	Fills           []Fill       `json:"fills"`
	FilledAmount    float64      `json:"filled_amount"`
	AvgFillPrice    float64      `json:"avg_fill_price"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`

	fillIDs map[string]struct{}
}

func newOrder(resp *gateway.OrderResponse, intent Intent, amount float64, price *float64) *Order {
	created := resp.Datetime
	if created.IsZero() {
		created = time.Now()
	}
	return &Order{
		ID:              resp.ID,
		ClientID:        resp.ClientID,
		Instrument:      intent.Instrument,
		Side:            intent.Side,
		Kind:            intent.Kind,
		RequestedAmount: amount,
		RequestedPrice:  price,
		Status:          StatusSubmitted,
		CreatedAt:       created,
		UpdatedAt:       created,
		fillIDs:         make(map[string]struct{}),
	}
}

// execute merges a fill. It returns false when the fill id was already seen.
func (o *Order) execute(f Fill) (bool, error) {
	if o.Status.Terminal() {
		return false, fmt.Errorf("order %s: %w", o.ID, ErrTerminal)
	}
	if _, seen := o.fillIDs[f.ID]; seen {
		return false, nil
	}
	if o.fillIDs == nil {
		o.fillIDs = make(map[string]struct{})
	}
	o.fillIDs[f.ID] = struct{}{}

	notional := o.AvgFillPrice*o.FilledAmount + f.Price*f.Amount
	o.Fills = append(o.Fills, f)
	o.FilledAmount += f.Amount
	if o.FilledAmount != 0 {
		o.AvgFillPrice = notional / o.FilledAmount
	}
	o.UpdatedAt = time.Now()

	if o.Status == StatusSubmitted {
		o.Status = StatusPartiallyFilled
	}
	return true, nil
}

// transition moves the order to a new status. Terminal states are final and
// a partially filled order cannot return to submitted.
func (o *Order) transition(to Status) error {
	if o.Status.Terminal() {
		return fmt.Errorf("order %s %s -> %s: %w", o.ID, o.Status, to, ErrTerminal)
	}
	if to.rank() < o.Status.rank() {
		return fmt.Errorf("order %s %s -> %s: %w", o.ID, o.Status, to, ErrInvalidTransition)
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

// SignedFilled returns the filled amount, negative for sells
func (o *Order) SignedFilled() float64 {
	if o.Side == gateway.SideSell {
		return -o.FilledAmount
	}
	return o.FilledAmount
}

// Remaining returns the requested amount not yet filled
func (o *Order) Remaining() float64 {
	return o.RequestedAmount - o.FilledAmount
}

// Clone returns a deep copy
func (o *Order) Clone() *Order {
	c := *o
	c.Fills = append([]Fill(nil), o.Fills...)
	if o.RequestedPrice != nil {
		p := *o.RequestedPrice
		c.RequestedPrice = &p
	}
	c.fillIDs = make(map[string]struct{}, len(o.fillIDs))
	for id := range o.fillIDs {
		c.fillIDs[id] = struct{}{}
	}
	return &c
}
