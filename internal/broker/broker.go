// Package broker defines the order-routing abstraction and the paper
// broker used for simulation.
package broker

import (
	"context"
	"time"
)

// Side is the order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects the execution style.
type OrderType string

const (
	TypeMarket    OrderType = "MARKET"
	TypeLimit     OrderType = "LIMIT"
	TypeStop      OrderType = "STOP"
	TypeStopLimit OrderType = "STOP_LIMIT"
	TypeOCO       OrderType = "OCO"
)

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// Order is one routed instruction.
type Order struct {
	ID            string      `json:"id"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Quantity      int         `json:"quantity"`
	LimitPrice    float64     `json:"limit_price,omitempty"`
	StopPrice     float64     `json:"stop_price,omitempty"`
	Status        OrderStatus `json:"status"`
	FilledQty     int         `json:"filled_qty"`
	AvgFillPrice  float64     `json:"avg_fill_price"`
	ParentOrderID string      `json:"parent_order_id,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Position is a broker-side holding.
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity int     `json:"quantity"` // negative for short
	AvgPrice float64 `json:"avg_price"`
}

// Broker is the order-routing interface phase 4 and the guardian talk to.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	GetBalance(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, o *Order) error
	CancelOrder(ctx context.Context, id string) error
	GetOrderStatus(ctx context.Context, id string) (OrderStatus, error)
}

// OCOBroker is the optional one-cancels-other extension: the stop and
// the take-profit orders form a group where a stop fill cancels the
// targets and full target realization cancels the stop.
type OCOBroker interface {
	PlaceOCOOrder(ctx context.Context, stop *Order, targets []*Order) error
}
