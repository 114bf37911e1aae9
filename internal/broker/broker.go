// Package broker defines the order-execution interface used to take a
// backtested parameter set live, plus a paper implementation.
package broker

import (
	"context"
	"time"

	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderRequest describes an order to be placed.
type OrderRequest struct {
	Symbol   string          `json:"symbol"`
	Side     types.OrderSide `json:"side"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Mode     types.TradeMode `json:"mode"`
}

// Order is a placed order as tracked by a broker.
type Order struct {
	ID        string          `json:"id"`
	Request   OrderRequest    `json:"request"`
	Status    OrderStatus     `json:"status"`
	FillPrice decimal.Decimal `json:"fillPrice"`
	PlacedAt  time.Time       `json:"placedAt"`
}

// Position is a net holding in one symbol. Negative quantity is short.
type Position struct {
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
}

// Broker abstracts order execution and position queries.
type Broker interface {
	// Name returns the broker identifier (e.g. "paper").
	Name() string

	// SubmitOrder places an order and returns it with broker-assigned state.
	SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// Positions returns all current net positions.
	Positions(ctx context.Context) ([]Position, error)
}
