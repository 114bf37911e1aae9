// Package backtester evaluates a front-running strategy against historical
// index rebalance events, net of exchange transaction charges.
package backtester

import (
	"context"
	"fmt"
	"time"

	"github.com/quantdesk/rebalance-backend/internal/fees"
	"github.com/quantdesk/rebalance-backend/internal/marketdata"
	"github.com/quantdesk/rebalance-backend/internal/observability"
	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// fetchPadDays widens the price window on both sides of the event so that
// entry and exit offsets near the edges still land on a trading day.
const fetchPadDays = 15

// shortBorrowDailyRate is the approximate daily cost of carrying a short
// position through the stock lending mechanism.
var shortBorrowDailyRate = decimal.NewFromFloat(0.0005)

// EventBacktester simulates both legs of a single rebalance event: long the
// additions, short the removals.
type EventBacktester struct {
	logger         *zap.Logger
	provider       marketdata.Provider
	initialCapital decimal.Decimal
	metrics        *observability.Metrics
}

// NewEventBacktester creates an event backtester. Position sizing is always
// a fraction of initialCapital, not of running equity.
func NewEventBacktester(logger *zap.Logger, provider marketdata.Provider, initialCapital decimal.Decimal) *EventBacktester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBacktester{
		logger:         logger,
		provider:       provider,
		initialCapital: initialCapital,
	}
}

// SetMetrics attaches simulation counters. A nil receiver argument leaves
// instrumentation off.
func (b *EventBacktester) SetMetrics(m *observability.Metrics) {
	b.metrics = m
}

// Run simulates one rebalance event under the given parameters. Events below
// the flow threshold and symbols without price data produce no trades; both
// are normal outcomes, not errors.
func (b *EventBacktester) Run(ctx context.Context, event types.RebalanceEvent, params types.StrategyParameters) (types.EventResult, error) {
	var result types.EventResult

	if event.EstimatedFlow.LessThan(params.MinFlowThreshold) {
		return result, nil
	}
	if b.metrics != nil {
		b.metrics.EventsSimulated.Inc()
	}

	entryDate := event.AnnouncementDate.AddDate(0, 0, params.EntryOffsetDays)
	exitDate := event.EffectiveDate.AddDate(0, 0, params.ExitOffsetDays)
	windowStart := event.AnnouncementDate.AddDate(0, 0, -fetchPadDays)
	windowEnd := event.EffectiveDate.AddDate(0, 0, fetchPadDays)

	for _, symbol := range event.AddedSymbols {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		trade, err := b.tradeLeg(ctx, symbol, types.DirectionLong, params, entryDate, exitDate, windowStart, windowEnd)
		if err != nil {
			return result, fmt.Errorf("long leg %s: %w", symbol, err)
		}
		if trade != nil {
			result.Add(*trade)
		}
	}

	for _, symbol := range event.RemovedSymbols {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		trade, err := b.tradeLeg(ctx, symbol, types.DirectionShort, params, entryDate, exitDate, windowStart, windowEnd)
		if err != nil {
			return result, fmt.Errorf("short leg %s: %w", symbol, err)
		}
		if trade != nil {
			result.Add(*trade)
		}
	}

	if b.metrics != nil {
		b.metrics.TradesSimulated.Add(float64(len(result.Trades)))
	}
	return result, nil
}

// tradeLeg simulates one symbol of the event. A nil trade with nil error
// means the leg was skipped (no data, no bar at entry, or sub-share sizing).
func (b *EventBacktester) tradeLeg(
	ctx context.Context,
	symbol string,
	direction types.Direction,
	params types.StrategyParameters,
	entryDate, exitDate, windowStart, windowEnd time.Time,
) (*types.TradeResult, error) {
	bars, err := b.provider.Fetch(ctx, symbol, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	bars = marketdata.Clean(b.logger, symbol, bars)
	if len(bars) == 0 {
		return nil, nil
	}

	entryIdx := firstBarAt(bars, entryDate)
	if entryIdx < 0 {
		return nil, nil
	}
	entryPrice := bars[entryIdx].Close

	exitPrice := bars[len(bars)-1].Close
	if exitIdx := firstBarAt(bars, exitDate); exitIdx >= 0 {
		exitPrice = bars[exitIdx].Close
	}

	exitPrice = b.applyExitOverrides(bars, direction, params, entryPrice, exitPrice, entryDate, exitDate)

	positionValue := b.initialCapital.Mul(params.PositionSizeFraction)
	quantity := positionValue.Div(entryPrice).IntPart()
	if quantity < 1 {
		return nil, nil
	}
	qty := decimal.NewFromInt(quantity)

	var gross decimal.Decimal
	if direction == types.DirectionLong {
		gross = exitPrice.Sub(entryPrice).Mul(qty)
	} else {
		gross = entryPrice.Sub(exitPrice).Mul(qty)
	}

	cost := fees.RoundTrip(entryPrice, exitPrice, quantity, direction, params.TradeMode)
	if direction == types.DirectionShort {
		daysHeld := int64(exitDate.Sub(entryDate).Hours() / 24)
		if daysHeld > 0 {
			borrow := entryPrice.Mul(qty).Mul(shortBorrowDailyRate).Mul(decimal.NewFromInt(daysHeld))
			cost = cost.Add(borrow)
		}
	}

	return &types.TradeResult{
		Symbol:     symbol,
		Direction:  direction,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		Quantity:   quantity,
		GrossPnL:   gross,
		Fees:       cost,
		NetPnL:     gross.Sub(cost),
	}, nil
}

// applyExitOverrides replaces the scheduled exit price when the holding-period
// range crosses the take-profit or stop-loss level. The stop-loss is applied
// last so that when both levels are touched the conservative exit wins.
func (b *EventBacktester) applyExitOverrides(
	bars []types.PriceBar,
	direction types.Direction,
	params types.StrategyParameters,
	entryPrice, exitPrice decimal.Decimal,
	entryDate, exitDate time.Time,
) decimal.Decimal {
	maxHigh, minLow, ok := holdingRange(bars, entryDate, exitDate)
	if !ok {
		return exitPrice
	}

	one := decimal.NewFromInt(1)
	if direction == types.DirectionLong {
		if params.TakeProfitFraction.IsPositive() {
			target := entryPrice.Mul(one.Add(params.TakeProfitFraction))
			if maxHigh.GreaterThanOrEqual(target) {
				exitPrice = target
			}
		}
		if params.StopLossFraction.IsPositive() {
			stop := entryPrice.Mul(one.Sub(params.StopLossFraction))
			if minLow.LessThanOrEqual(stop) {
				exitPrice = stop
			}
		}
		return exitPrice
	}

	if params.TakeProfitFraction.IsPositive() {
		target := entryPrice.Mul(one.Sub(params.TakeProfitFraction))
		if minLow.LessThanOrEqual(target) {
			exitPrice = target
		}
	}
	if params.StopLossFraction.IsPositive() {
		stop := entryPrice.Mul(one.Add(params.StopLossFraction))
		if maxHigh.GreaterThanOrEqual(stop) {
			exitPrice = stop
		}
	}
	return exitPrice
}

// firstBarAt returns the index of the first bar on or after date, or -1.
// Bars are expected to be sorted ascending.
func firstBarAt(bars []types.PriceBar, date time.Time) int {
	for i, bar := range bars {
		if !bar.Date.Before(date) {
			return i
		}
	}
	return -1
}

// holdingRange returns the highest high and lowest low over bars within
// [entryDate, exitDate]. ok is false when no bar falls inside the window.
func holdingRange(bars []types.PriceBar, entryDate, exitDate time.Time) (maxHigh, minLow decimal.Decimal, ok bool) {
	for _, bar := range bars {
		if bar.Date.Before(entryDate) || bar.Date.After(exitDate) {
			continue
		}
		if !ok {
			maxHigh, minLow, ok = bar.High, bar.Low, true
			continue
		}
		if bar.High.GreaterThan(maxHigh) {
			maxHigh = bar.High
		}
		if bar.Low.LessThan(minLow) {
			minLow = bar.Low
		}
	}
	return maxHigh, minLow, ok
}
