// Package ledger holds per-instrument positions and the cached account
// cash/value snapshot.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ajitpratap0/cryptobroker/internal/gateway"
	"github.com/ajitpratap0/cryptobroker/internal/metrics"
)

// sizes below this are flat
const sizeEpsilon = 1e-12

// Position is a signed holding with its weighted average entry price
type Position struct {
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avg_price"`
}

// Update applies a signed execution. Adding in the same direction blends the
// average price, reducing keeps it, flipping restarts it at price and going
// flat resets it to zero.
func (p *Position) Update(size, price float64) {
	oldSize := p.Size
	newSize := oldSize + size

	switch {
	case math.Abs(newSize) < sizeEpsilon:
		newSize = 0
		p.AvgPrice = 0
	case oldSize == 0:
		p.AvgPrice = price
	case (oldSize > 0) == (size > 0):
		p.AvgPrice = (p.AvgPrice*oldSize + price*size) / newSize
	case (oldSize > 0) != (newSize > 0):
		p.AvgPrice = price
	}
	p.Size = newSize
}

// CommInfo values a position. Margin-based instruments (futures) are valued
// at margin per contract, the rest at price times multiplier.
type CommInfo struct {
	Multiplier float64
	Margin     float64
}

// ValueAt returns the value of size units at price
func (c CommInfo) ValueAt(size, price float64) float64 {
	if c.Margin > 0 {
		return math.Abs(size) * c.Margin
	}
	mult := c.Multiplier
	if mult == 0 {
		mult = 1
	}
	return size * price * mult
}

// Mark is the valuation input for one instrument
type Mark struct {
	Instrument string
	Price      float64
	CommInfo   CommInfo
}

// BalanceSource supplies the account snapshot
type BalanceSource interface {
	GetBalance(ctx context.Context) (gateway.Balance, error)
}

// Ledger owns positions and the cash/value snapshot. Positions change only
// through Apply or Set; the snapshot only through Refresh or SetBalance.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*Position
	cash      float64
	value     float64
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{positions: make(map[string]*Position)}
}

// Refresh queries the account balance and replaces the cached snapshot
func (l *Ledger) Refresh(ctx context.Context, src BalanceSource) (gateway.Balance, error) {
	bal, err := src.GetBalance(ctx)
	if err != nil {
		return gateway.Balance{}, fmt.Errorf("failed to refresh balance: %w", err)
	}
	l.SetBalance(bal.Cash, bal.Value)
	return bal, nil
}

// SetBalance replaces the cached snapshot
func (l *Ledger) SetBalance(cash, value float64) {
	l.mu.Lock()
	l.cash, l.value = cash, value
	l.mu.Unlock()

	metrics.UpdateBalance(cash, value)
}

// Cash returns the cached free cash
func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// Value returns the cached portfolio value
func (l *Ledger) Value() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value
}

// Position returns a copy of the instrument's position, flat if never traded
func (l *Ledger) Position(instrument string) Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if p, ok := l.positions[instrument]; ok {
		return *p
	}
	return Position{}
}

// PositionRef returns the live position, creating a flat one if needed.
// Callers must not mutate it concurrently with Apply.
func (l *Ledger) PositionRef(instrument string) *Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ref(instrument)
}

func (l *Ledger) ref(instrument string) *Position {
	p, ok := l.positions[instrument]
	if !ok {
		p = &Position{}
		l.positions[instrument] = p
	}
	return p
}

// Apply merges a signed execution into the instrument's position and
// returns the result
func (l *Ledger) Apply(instrument string, size, price float64) Position {
	l.mu.Lock()
	p := l.ref(instrument)
	p.Update(size, price)
	out := *p
	l.mu.Unlock()

	metrics.UpdatePosition(instrument, out.Size)
	return out
}

// Set overwrites the instrument's position with an externally reported
// holding. A flat size clears the average price.
func (l *Ledger) Set(instrument string, size, price float64) Position {
	l.mu.Lock()
	p := l.ref(instrument)
	if math.Abs(size) < sizeEpsilon {
		size, price = 0, 0
	}
	p.Size, p.AvgPrice = size, price
	out := *p
	l.mu.Unlock()

	metrics.UpdatePosition(instrument, out.Size)
	return out
}

// ValueOf sums the value of the given instruments' positions at the marks.
// It does not touch the cached portfolio value.
func (l *Ledger) ValueOf(marks []Mark) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total float64
	for _, m := range marks {
		p, ok := l.positions[m.Instrument]
		if !ok {
			continue
		}
		total += m.CommInfo.ValueAt(p.Size, m.Price)
	}
	return total
}

// Positions returns a copy of every non-flat position
func (l *Ledger) Positions() map[string]Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Position, len(l.positions))
	for instrument, p := range l.positions {
		if p.Size != 0 {
			out[instrument] = *p
		}
	}
	return out
}
