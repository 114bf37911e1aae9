package reporting

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// RenderTopTable prints the best topN results as a console table.
func RenderTopTable(w io.Writer, results []types.OptimizationResult, topN int) {
	if topN <= 0 || topN > len(results) {
		topN = len(results)
	}

	table := tablewriter.NewWriter(w)
	table.Header("#", "Entry", "Exit", "Size%", "SL%", "TP%", "Flow", "Mode", "Ann.Ret%", "Sharpe", "MaxDD%", "Win%", "Trades")

	hundred := decimal.NewFromInt(100)
	for i, r := range results[:topN] {
		table.Append(
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%d", r.Parameters.EntryOffsetDays),
			fmt.Sprintf("%d", r.Parameters.ExitOffsetDays),
			r.Parameters.PositionSizeFraction.Mul(hundred).String(),
			r.Parameters.StopLossFraction.Mul(hundred).String(),
			r.Parameters.TakeProfitFraction.Mul(hundred).String(),
			r.Parameters.MinFlowThreshold.String(),
			string(r.Parameters.TradeMode),
			fmt.Sprintf("%.2f", r.Metrics.AnnualizedReturn),
			fmt.Sprintf("%.2f", r.Metrics.SharpeRatio),
			fmt.Sprintf("%.2f", r.Metrics.MaxDrawdown),
			fmt.Sprintf("%.2f", r.Metrics.WinRate),
			fmt.Sprintf("%d", r.Metrics.TotalTrades),
		)
	}

	table.Render()
}
