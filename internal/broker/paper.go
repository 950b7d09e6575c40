package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Paper is an in-process broker for simulation. Market orders fill
// immediately at the order's limit price (or the last marked price);
// stop, limit and stop-limit orders rest until MarkPrice observes a
// trigger.
type Paper struct {
	mu        sync.Mutex
	connected bool
	balance   float64
	orders    map[string]*Order
	positions map[string]*Position
	marks     map[string]float64
	groups    map[string][]string // OCO group id -> member order ids
	log       zerolog.Logger
}

// NewPaper creates a paper broker with the given starting balance.
func NewPaper(balance float64, log zerolog.Logger) *Paper {
	return &Paper{
		balance:   balance,
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
		marks:     make(map[string]float64),
		groups:    make(map[string][]string),
		log:       log.With().Str("component", "paper_broker").Logger(),
	}
}

// Connect marks the session open.
func (p *Paper) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	p.log.Info().Msg("Paper broker connected")
	return nil
}

// Disconnect marks the session closed. Resting orders survive.
func (p *Paper) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// GetBalance returns the simulated cash balance.
func (p *Paper) GetBalance(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// GetPositions returns the simulated holdings.
func (p *Paper) GetPositions(context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// PlaceOrder accepts one order. Market orders fill synchronously;
// everything else rests.
func (p *Paper) PlaceOrder(_ context.Context, o *Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return fmt.Errorf("paper broker not connected")
	}
	if o.Quantity <= 0 {
		o.Status = StatusRejected
		return fmt.Errorf("invalid quantity %d", o.Quantity)
	}

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = time.Now()
	o.Status = StatusOpen
	p.orders[o.ID] = o

	if o.Type == TypeMarket {
		price := o.LimitPrice
		if price == 0 {
			price = p.marks[o.Symbol]
		}
		if price == 0 {
			o.Status = StatusRejected
			return fmt.Errorf("no price available for market order on %s", o.Symbol)
		}
		p.fillLocked(o, price)
	}

	p.log.Debug().
		Str("id", o.ID).
		Str("symbol", o.Symbol).
		Str("type", string(o.Type)).
		Str("side", string(o.Side)).
		Int("quantity", o.Quantity).
		Str("status", string(o.Status)).
		Msg("Order placed")

	return nil
}

// PlaceOCOOrder places the stop and targets as one group: the stop
// filling cancels the targets; all target quantity filling cancels the
// stop. A TP1 fill does not cancel TP2.
func (p *Paper) PlaceOCOOrder(ctx context.Context, stop *Order, targets []*Order) error {
	group := uuid.NewString()
	stop.ParentOrderID = group

	if err := p.PlaceOrder(ctx, stop); err != nil {
		return fmt.Errorf("failed to place stop leg: %w", err)
	}
	members := []string{stop.ID}

	for _, t := range targets {
		t.ParentOrderID = group
		if err := p.PlaceOrder(ctx, t); err != nil {
			return fmt.Errorf("failed to place target leg: %w", err)
		}
		members = append(members, t.ID)
	}

	p.mu.Lock()
	p.groups[group] = members
	p.mu.Unlock()
	return nil
}

// CancelOrder cancels a resting order.
func (p *Paper) CancelOrder(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[id]
	if !ok {
		return fmt.Errorf("unknown order %s", id)
	}
	if o.Status != StatusOpen && o.Status != StatusPending {
		return fmt.Errorf("order %s is %s, cannot cancel", id, o.Status)
	}
	o.Status = StatusCancelled
	return nil
}

// GetOrderStatus reports the current status of an order.
func (p *Paper) GetOrderStatus(_ context.Context, id string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[id]
	if !ok {
		return "", fmt.Errorf("unknown order %s", id)
	}
	return o.Status, nil
}

// Order returns a copy of an order for inspection.
func (p *Paper) Order(id string) (Order, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// MarkPrice records a new observed price for a symbol and sweeps the
// resting orders for triggers.
func (p *Paper) MarkPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.marks[symbol] = price
	for _, o := range p.orders {
		if o.Symbol != symbol || o.Status != StatusOpen {
			continue
		}
		if fillPrice, ok := triggered(o, price); ok {
			p.fillLocked(o, fillPrice)
		}
	}
}

// triggered reports whether a resting order fires at the observed price
// and at what price it fills.
func triggered(o *Order, price float64) (float64, bool) {
	switch o.Type {
	case TypeLimit:
		if o.Side == SideBuy && price <= o.LimitPrice {
			return o.LimitPrice, true
		}
		if o.Side == SideSell && price >= o.LimitPrice {
			return o.LimitPrice, true
		}
	case TypeStop:
		if o.Side == SideBuy && price >= o.StopPrice {
			return price, true
		}
		if o.Side == SideSell && price <= o.StopPrice {
			return price, true
		}
	case TypeStopLimit:
		if o.Side == SideBuy && price >= o.StopPrice {
			return o.LimitPrice, true
		}
		if o.Side == SideSell && price <= o.StopPrice {
			return o.LimitPrice, true
		}
	}
	return 0, false
}

// fillLocked realizes a full fill, updates holdings and balance, and
// resolves any OCO siblings. Callers hold p.mu.
func (p *Paper) fillLocked(o *Order, price float64) {
	o.Status = StatusFilled
	o.FilledQty = o.Quantity
	o.AvgFillPrice = price

	pos, ok := p.positions[o.Symbol]
	if !ok {
		pos = &Position{Symbol: o.Symbol}
		p.positions[o.Symbol] = pos
	}

	qty := o.Quantity
	if o.Side == SideSell {
		qty = -qty
	}

	if pos.Quantity == 0 || (pos.Quantity > 0) == (qty > 0) {
		// Same direction: average in
		total := float64(pos.Quantity)*pos.AvgPrice + float64(qty)*price
		pos.Quantity += qty
		if pos.Quantity != 0 {
			pos.AvgPrice = total / float64(pos.Quantity)
		}
	} else {
		pos.Quantity += qty
	}
	if pos.Quantity == 0 {
		delete(p.positions, o.Symbol)
	}

	p.balance -= float64(qty) * price

	p.log.Info().
		Str("id", o.ID).
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Int("quantity", o.Quantity).
		Float64("price", price).
		Msg("Order filled")

	p.resolveGroupLocked(o)
}

// resolveGroupLocked enforces OCO semantics after a fill. Callers hold
// p.mu.
func (p *Paper) resolveGroupLocked(filled *Order) {
	if filled.ParentOrderID == "" {
		return
	}
	members, ok := p.groups[filled.ParentOrderID]
	if !ok {
		return
	}

	stopLeg := filled.Type == TypeStop || filled.Type == TypeStopLimit

	if stopLeg {
		// Stop fired: cancel every other member
		for _, id := range members {
			if o := p.orders[id]; o != nil && o.ID != filled.ID && o.Status == StatusOpen {
				o.Status = StatusCancelled
			}
		}
		delete(p.groups, filled.ParentOrderID)
		return
	}

	// Target fill: cancel the stop only once every target is filled
	for _, id := range members {
		o := p.orders[id]
		if o == nil || o.Type == TypeStop || o.Type == TypeStopLimit {
			continue
		}
		if o.Status == StatusOpen {
			return // targets remain
		}
	}
	for _, id := range members {
		if o := p.orders[id]; o != nil && (o.Type == TypeStop || o.Type == TypeStopLimit) && o.Status == StatusOpen {
			o.Status = StatusCancelled
		}
	}
	delete(p.groups, filled.ParentOrderID)
}
