package marketdata

import (
	"sort"

	"github.com/quantdesk/rebalance-backend/pkg/types"
	"go.uber.org/zap"
)

// Clean sorts bars by date and drops any that violate the OHLC ordering
// invariant or carry non-positive prices. Bad bars are logged and skipped
// rather than failing the series; a thinner series is preferable to an
// aborted run.
func Clean(logger *zap.Logger, symbol string, bars []types.PriceBar) []types.PriceBar {
	sorted := make([]types.PriceBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	cleaned := sorted[:0]
	dropped := 0
	for _, bar := range sorted {
		if !bar.Valid() || !bar.Low.IsPositive() {
			dropped++
			continue
		}
		cleaned = append(cleaned, bar)
	}

	if dropped > 0 && logger != nil {
		logger.Warn("dropped invalid bars",
			zap.String("symbol", symbol),
			zap.Int("dropped", dropped),
			zap.Int("kept", len(cleaned)),
		)
	}

	return cleaned
}
