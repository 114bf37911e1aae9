package backtester

import "math"

const (
	daysPerYear    = 365.25
	tradingDays    = 252
	sqrtScaleLimit = 1e-12
)

// annualizedReturn converts a total return over the given span into a
// compound annual rate. A non-positive span yields 0.
func annualizedReturn(totalReturn, years float64) float64 {
	if years <= 0 {
		return 0
	}
	return math.Pow(1+totalReturn, 1/years) - 1
}

// sharpeRatio computes the annualized Sharpe ratio of the per-event returns
// implied by the equity curve, against a daily slice of the annual risk-free
// rate. Fewer than two returns, or a degenerate spread, yield 0.
func sharpeRatio(equity []float64, riskFreeRate float64) float64 {
	if len(equity) < 3 {
		return 0
	}

	dailyRF := riskFreeRate / tradingDays
	excess := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			return 0
		}
		r := (equity[i] - equity[i-1]) / equity[i-1]
		excess = append(excess, r-dailyRF)
	}

	mean := 0.0
	for _, r := range excess {
		mean += r
	}
	mean /= float64(len(excess))

	variance := 0.0
	for _, r := range excess {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(excess) - 1) // sample variance

	std := math.Sqrt(variance)
	if std < sqrtScaleLimit {
		return 0
	}
	return mean / std * math.Sqrt(tradingDays)
}

// maxDrawdown returns the deepest peak-to-trough decline of the curve as a
// non-positive fraction of the running peak.
func maxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	worst := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (v - peak) / peak
			if dd < worst {
				worst = dd
			}
		}
	}
	return worst
}
