package backtester

import (
	"context"

	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PortfolioAccumulator folds per-event results into a full-period run: an
// equity curve sampled once per catalog event plus derived metrics.
type PortfolioAccumulator struct {
	logger         *zap.Logger
	initialCapital decimal.Decimal
	riskFreeRate   float64
}

// NewPortfolioAccumulator creates an accumulator. riskFreeRate is annual,
// e.g. 0.065 for the Indian 91-day T-bill regime.
func NewPortfolioAccumulator(logger *zap.Logger, initialCapital decimal.Decimal, riskFreeRate float64) *PortfolioAccumulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortfolioAccumulator{
		logger:         logger,
		initialCapital: initialCapital,
		riskFreeRate:   riskFreeRate,
	}
}

// Accumulate runs every event through bt in catalog order and folds the
// results into one RunResult. The equity curve has len(events)+1 points;
// point 0 is the initial capital.
func (a *PortfolioAccumulator) Accumulate(
	ctx context.Context,
	bt *EventBacktester,
	events []types.RebalanceEvent,
	params types.StrategyParameters,
) (types.RunResult, error) {
	capital := a.initialCapital
	curve := make([]types.EquityPoint, 0, len(events)+1)
	curve = append(curve, types.EquityPoint{EventIndex: 0, Capital: capital})

	var totalTrades, totalWins int
	for i, event := range events {
		if err := ctx.Err(); err != nil {
			return types.RunResult{}, err
		}
		result, err := bt.Run(ctx, event, params)
		if err != nil {
			return types.RunResult{}, err
		}
		capital = capital.Add(result.NetPnL)
		curve = append(curve, types.EquityPoint{EventIndex: i + 1, Capital: capital})
		totalTrades += len(result.Trades)
		totalWins += result.Wins
	}

	years := catalogYears(events)
	metrics := a.computeMetrics(curve, years, totalTrades, totalWins)

	return types.RunResult{
		Parameters:   params,
		FinalCapital: capital,
		Metrics:      metrics,
		EquityCurve:  curve,
	}, nil
}

// computeMetrics derives the percent-scaled performance figures from the
// equity curve. Ratio metrics are computed in float64; the curve itself
// stays exact.
func (a *PortfolioAccumulator) computeMetrics(curve []types.EquityPoint, years float64, totalTrades, totalWins int) types.RunMetrics {
	initial, _ := a.initialCapital.Float64()
	final, _ := curve[len(curve)-1].Capital.Float64()

	totalReturn := 0.0
	if initial != 0 {
		totalReturn = (final - initial) / initial
	}

	equity := make([]float64, len(curve))
	for i, p := range curve {
		equity[i], _ = p.Capital.Float64()
	}

	metrics := types.RunMetrics{
		TotalReturn:      totalReturn * 100,
		AnnualizedReturn: annualizedReturn(totalReturn, years) * 100,
		SharpeRatio:      sharpeRatio(equity, a.riskFreeRate),
		MaxDrawdown:      maxDrawdown(equity) * 100,
		TotalTrades:      totalTrades,
	}
	if totalTrades > 0 {
		metrics.WinRate = float64(totalWins) / float64(totalTrades) * 100
	}
	if years > 0 {
		metrics.TradesPerYear = float64(totalTrades) / years
	}
	return metrics
}

// catalogYears measures the span from the earliest announcement to the
// latest effective date, in calendar years.
func catalogYears(events []types.RebalanceEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	minAnn := events[0].AnnouncementDate
	maxEff := events[0].EffectiveDate
	for _, e := range events[1:] {
		if e.AnnouncementDate.Before(minAnn) {
			minAnn = e.AnnouncementDate
		}
		if e.EffectiveDate.After(maxEff) {
			maxEff = e.EffectiveDate
		}
	}
	return maxEff.Sub(minAnn).Hours() / 24 / daysPerYear
}
