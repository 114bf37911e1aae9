package reporting

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// RenderTextReport writes a plain-text performance summary: the best
// parameter set in full, then aggregate statistics over every evaluated
// sample.
func RenderTextReport(w io.Writer, results []types.OptimizationResult, evaluated int, duration time.Duration) error {
	var sb strings.Builder
	line := strings.Repeat("=", 70)

	sb.WriteString(line + "\n")
	sb.WriteString("INDEX REBALANCE FRONT-RUNNING - PARAMETER SEARCH REPORT\n")
	sb.WriteString(line + "\n\n")
	sb.WriteString(fmt.Sprintf("Samples evaluated: %d\n", evaluated))
	sb.WriteString(fmt.Sprintf("Search duration:   %s\n\n", duration.Round(time.Second)))

	if len(results) == 0 {
		sb.WriteString("No successful evaluations.\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}

	best := results[0]
	hundred := decimal.NewFromInt(100)
	sb.WriteString("BEST PARAMETERS\n")
	sb.WriteString(fmt.Sprintf("  Entry: %d days post-announcement\n", best.Parameters.EntryOffsetDays))
	sb.WriteString(fmt.Sprintf("  Exit: %d days post-effective\n", best.Parameters.ExitOffsetDays))
	sb.WriteString(fmt.Sprintf("  Position Size: %s%% of capital per stock\n", best.Parameters.PositionSizeFraction.Mul(hundred)))
	sb.WriteString(fmt.Sprintf("  Stop Loss: %s%%\n", best.Parameters.StopLossFraction.Mul(hundred)))
	sb.WriteString(fmt.Sprintf("  Take Profit: %s%%\n", best.Parameters.TakeProfitFraction.Mul(hundred)))
	sb.WriteString(fmt.Sprintf("  Flow Filter: %s crores\n", best.Parameters.MinFlowThreshold))
	sb.WriteString(fmt.Sprintf("  Trade Mode: %s\n\n", best.Parameters.TradeMode))

	sb.WriteString("BEST PERFORMANCE\n")
	sb.WriteString(fmt.Sprintf("  Total Return: %.2f%%\n", best.Metrics.TotalReturn))
	sb.WriteString(fmt.Sprintf("  Annualized Return: %.2f%%\n", best.Metrics.AnnualizedReturn))
	sb.WriteString(fmt.Sprintf("  Sharpe Ratio: %.2f\n", best.Metrics.SharpeRatio))
	sb.WriteString(fmt.Sprintf("  Max Drawdown: %.2f%%\n", best.Metrics.MaxDrawdown))
	sb.WriteString(fmt.Sprintf("  Win Rate: %.2f%%\n", best.Metrics.WinRate))
	sb.WriteString(fmt.Sprintf("  Total Trades: %d\n", best.Metrics.TotalTrades))
	sb.WriteString(fmt.Sprintf("  Trades/Year: %.1f\n\n", best.Metrics.TradesPerYear))

	annualized := make([]float64, 0, len(results))
	for _, r := range results {
		if !math.IsNaN(r.Metrics.AnnualizedReturn) {
			annualized = append(annualized, r.Metrics.AnnualizedReturn)
		}
	}
	mean, median, stddev := summarize(annualized)

	sb.WriteString("SAMPLE DISTRIBUTION (annualized return, %)\n")
	sb.WriteString(fmt.Sprintf("  Mean:   %.2f\n", mean))
	sb.WriteString(fmt.Sprintf("  Median: %.2f\n", median))
	sb.WriteString(fmt.Sprintf("  StdDev: %.2f\n", stddev))
	sb.WriteString(line + "\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func summarize(values []float64) (mean, median, stddev float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}

	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		median = sorted[mid]
	}

	if len(values) > 1 {
		variance := 0.0
		for _, v := range values {
			d := v - mean
			variance += d * d
		}
		stddev = math.Sqrt(variance / float64(len(values)-1))
	}
	return mean, median, stddev
}
