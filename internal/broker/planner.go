package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/quantdesk/rebalance-backend/internal/marketdata"
	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Planner turns a rebalance event plus a chosen parameter set into concrete
// entry orders: buys for additions, sells for removals, sized off the latest
// available close.
type Planner struct {
	logger   *zap.Logger
	provider marketdata.Provider
	capital  decimal.Decimal
}

// NewPlanner creates a planner sizing positions against capital.
func NewPlanner(logger *zap.Logger, provider marketdata.Provider, capital decimal.Decimal) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{logger: logger, provider: provider, capital: capital}
}

// PlanEntry builds the entry order list for one event. Symbols whose latest
// price is unavailable, or whose sized quantity rounds below one share, are
// skipped with a log line rather than failing the plan.
func (p *Planner) PlanEntry(ctx context.Context, event types.RebalanceEvent, params types.StrategyParameters, asOf time.Time) ([]OrderRequest, error) {
	if event.EstimatedFlow.LessThan(params.MinFlowThreshold) {
		return nil, nil
	}

	var orders []OrderRequest
	plan := func(symbol string, side types.OrderSide) error {
		price, err := p.latestClose(ctx, symbol, asOf)
		if err != nil {
			return err
		}
		if price.IsZero() {
			p.logger.Warn("no price for planned entry", zap.String("symbol", symbol))
			return nil
		}

		quantity := p.capital.Mul(params.PositionSizeFraction).Div(price).IntPart()
		if quantity < 1 {
			p.logger.Warn("planned position below one share",
				zap.String("symbol", symbol),
				zap.String("price", price.String()),
			)
			return nil
		}

		orders = append(orders, OrderRequest{
			Symbol:   symbol,
			Side:     side,
			Quantity: quantity,
			Price:    price,
			Mode:     params.TradeMode,
		})
		return nil
	}

	for _, symbol := range event.AddedSymbols {
		if err := plan(symbol, types.OrderSideBuy); err != nil {
			return nil, fmt.Errorf("plan %s: %w", symbol, err)
		}
	}
	for _, symbol := range event.RemovedSymbols {
		if err := plan(symbol, types.OrderSideSell); err != nil {
			return nil, fmt.Errorf("plan %s: %w", symbol, err)
		}
	}
	return orders, nil
}

// latestClose returns the most recent close at or before asOf, or zero when
// no data exists.
func (p *Planner) latestClose(ctx context.Context, symbol string, asOf time.Time) (decimal.Decimal, error) {
	bars, err := p.provider.Fetch(ctx, symbol, asOf.AddDate(0, 0, -30), asOf)
	if err != nil {
		return decimal.Zero, err
	}
	bars = marketdata.Clean(p.logger, symbol, bars)
	if len(bars) == 0 {
		return decimal.Zero, nil
	}
	return bars[len(bars)-1].Close, nil
}
