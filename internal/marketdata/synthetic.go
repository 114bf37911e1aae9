package marketdata

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// Synthetic generates seeded random-walk daily bars. It stands in for real
// market data when none is on disk and is an explicit, documented
// approximation: the walk is deterministic per (seed, symbol), daily moves
// are bounded at +/-2%, and weekends are skipped. It lives on the provider
// side of the boundary; the backtest core never knows bars were simulated.
type Synthetic struct {
	seed      int64
	basePrice float64
}

// NewSynthetic creates a generator. All symbols start their walk near
// basePrice, perturbed per symbol; seed fixes the whole series.
func NewSynthetic(seed int64, basePrice float64) *Synthetic {
	if basePrice <= 0 {
		basePrice = 1000
	}
	return &Synthetic{seed: seed, basePrice: basePrice}
}

// Fetch generates the bar series for [start, end]. The same arguments
// always yield the same bars.
func (g *Synthetic) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]types.PriceBar, error) {
	if end.Before(start) {
		return nil, nil
	}

	rng := rand.New(rand.NewSource(g.seed ^ symbolSeed(symbol)))
	price := g.basePrice * (0.5 + rng.Float64())

	// Walk from a fixed epoch so that overlapping windows for the same
	// symbol agree on prices.
	epoch := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	if start.Before(epoch) {
		epoch = start
	}

	var bars []types.PriceBar
	for day := epoch; !day.After(end); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		open := price
		price *= 1 + (rng.Float64()-0.5)*0.04 // +/-2% daily move
		close := price

		high := maxFloat(open, close) * (1 + rng.Float64()*0.01)
		low := minFloat(open, close) * (1 - rng.Float64()*0.01)

		if day.Before(start) {
			continue
		}

		bars = append(bars, types.PriceBar{
			Date:  day,
			Open:  decimal.NewFromFloat(open).Round(2),
			High:  decimal.NewFromFloat(high).Round(2),
			Low:   decimal.NewFromFloat(low).Round(2),
			Close: decimal.NewFromFloat(close).Round(2),
		})
	}

	return bars, nil
}

func symbolSeed(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64())
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
