// Package optimization provides random-sampled parameter search over the
// rebalance strategy space.
package optimization

import (
	"math/rand"

	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// Space is the discrete parameter grid the search samples from. Axes are
// fixed at construction; sampling picks one value per axis uniformly.
type Space struct {
	EntryOffsets  []int
	ExitOffsets   []int
	PositionSizes []decimal.Decimal
	StopLosses    []decimal.Decimal
	TakeProfits   []decimal.Decimal
	FlowFilters   []decimal.Decimal
	TradeModes    []types.TradeMode
}

// DefaultSpace returns the production grid: entry/exit offsets 0-10 days,
// position size 0.5-5% in half-percent steps, stop loss 0-10% in half-percent
// steps, take profit 0-15% in whole percents, flow filter 100-1000 crores,
// both brokerage modes. 8,131,200 combinations in total.
func DefaultSpace() *Space {
	s := &Space{
		EntryOffsets: intRange(0, 10),
		ExitOffsets:  intRange(0, 10),
		TradeModes:   []types.TradeMode{types.TradeModeDelivery, types.TradeModeIntraday},
	}

	half := decimal.NewFromFloat(0.005)
	for i := 1; i <= 10; i++ {
		s.PositionSizes = append(s.PositionSizes, half.Mul(decimal.NewFromInt(int64(i))))
	}
	for i := 0; i <= 20; i++ {
		s.StopLosses = append(s.StopLosses, half.Mul(decimal.NewFromInt(int64(i))))
	}
	for i := 0; i <= 15; i++ {
		s.TakeProfits = append(s.TakeProfits, decimal.New(int64(i), -2))
	}
	for i := 1; i <= 10; i++ {
		s.FlowFilters = append(s.FlowFilters, decimal.NewFromInt(int64(i*100)))
	}
	return s
}

// Size returns the number of distinct parameter combinations.
func (s *Space) Size() int64 {
	return int64(len(s.EntryOffsets)) *
		int64(len(s.ExitOffsets)) *
		int64(len(s.PositionSizes)) *
		int64(len(s.StopLosses)) *
		int64(len(s.TakeProfits)) *
		int64(len(s.FlowFilters)) *
		int64(len(s.TradeModes))
}

// Sample draws one uniformly random point from the grid. The caller owns the
// rng; a seeded source makes the whole draw sequence reproducible.
func (s *Space) Sample(rng *rand.Rand) types.StrategyParameters {
	return types.StrategyParameters{
		EntryOffsetDays:      s.EntryOffsets[rng.Intn(len(s.EntryOffsets))],
		ExitOffsetDays:       s.ExitOffsets[rng.Intn(len(s.ExitOffsets))],
		PositionSizeFraction: s.PositionSizes[rng.Intn(len(s.PositionSizes))],
		StopLossFraction:     s.StopLosses[rng.Intn(len(s.StopLosses))],
		TakeProfitFraction:   s.TakeProfits[rng.Intn(len(s.TakeProfits))],
		MinFlowThreshold:     s.FlowFilters[rng.Intn(len(s.FlowFilters))],
		TradeMode:            s.TradeModes[rng.Intn(len(s.TradeModes))],
	}
}

func intRange(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}
