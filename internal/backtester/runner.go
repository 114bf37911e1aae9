package backtester

import (
	"context"

	"github.com/quantdesk/rebalance-backend/pkg/types"
)

// Runner binds an event backtester, an accumulator and a fixed event list
// into a single-call evaluation, the shape the search engine consumes.
type Runner struct {
	bt     *EventBacktester
	acc    *PortfolioAccumulator
	events []types.RebalanceEvent
}

// NewRunner creates a runner over the given catalog events.
func NewRunner(bt *EventBacktester, acc *PortfolioAccumulator, events []types.RebalanceEvent) *Runner {
	return &Runner{bt: bt, acc: acc, events: events}
}

// Evaluate runs the full event list under one parameter tuple.
func (r *Runner) Evaluate(ctx context.Context, params types.StrategyParameters) (types.RunResult, error) {
	return r.acc.Accumulate(ctx, r.bt, r.events, params)
}
