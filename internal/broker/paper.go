package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time interface check.
var _ Broker = (*Paper)(nil)

// Paper is an in-memory broker that fills every order immediately at the
// requested price. It exists to dry-run planned rebalance entries without
// touching a real brokerage.
type Paper struct {
	mu        sync.Mutex
	logger    *zap.Logger
	orders    map[string]*Order
	positions map[string]*Position
}

// NewPaper creates an empty paper broker.
func NewPaper(logger *zap.Logger) *Paper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paper{
		logger:    logger,
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
	}
}

func (p *Paper) Name() string { return "paper" }

// SubmitOrder fills the order at its requested price and nets it into the
// position book.
func (p *Paper) SubmitOrder(_ context.Context, req OrderRequest) (*Order, error) {
	if req.Quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1, got %d", req.Quantity)
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("price must be positive, got %s", req.Price)
	}

	order := &Order{
		ID:        uuid.New().String(),
		Request:   req,
		Status:    OrderStatusFilled,
		FillPrice: req.Price,
		PlacedAt:  time.Now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[order.ID] = order
	p.applyFill(req)

	p.logger.Debug("paper fill",
		zap.String("order_id", order.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Int64("quantity", req.Quantity),
		zap.String("price", req.Price.String()),
	)
	return order, nil
}

func (p *Paper) applyFill(req OrderRequest) {
	signed := req.Quantity
	if req.Side == types.OrderSideSell {
		signed = -signed
	}

	pos, ok := p.positions[req.Symbol]
	if !ok {
		p.positions[req.Symbol] = &Position{
			Symbol:   req.Symbol,
			Quantity: signed,
			AvgPrice: req.Price,
		}
		return
	}

	// Same-direction fills move the average price; opposing fills reduce
	// the position at the existing average.
	if (pos.Quantity >= 0) == (signed >= 0) {
		oldQty := decimal.NewFromInt(pos.Quantity)
		newQty := decimal.NewFromInt(signed)
		total := oldQty.Add(newQty)
		if !total.IsZero() {
			pos.AvgPrice = pos.AvgPrice.Mul(oldQty).Add(req.Price.Mul(newQty)).Div(total)
		}
	}
	pos.Quantity += signed
	if pos.Quantity == 0 {
		delete(p.positions, req.Symbol)
	}
}

// CancelOrder marks an order cancelled. Paper fills are immediate, so this
// only ever applies to unknown or already-filled orders.
func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	if order.Status == OrderStatusFilled {
		return fmt.Errorf("order %s already filled", orderID)
	}
	order.Status = OrderStatusCancelled
	return nil
}

// Positions returns a snapshot of all net positions.
func (p *Paper) Positions(_ context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}
