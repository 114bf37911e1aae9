// Package types provides shared type definitions for the rebalance backend.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeMode selects the brokerage product a leg is executed under. Delivery
// (CNC) positions settle with full shares and can be held across days;
// intraday (MIS) positions must be squared off within the session. The two
// modes carry different fee schedules.
type TradeMode string

const (
	TradeModeDelivery TradeMode = "CNC"
	TradeModeIntraday TradeMode = "MIS"
)

// Direction represents the side of a simulated position
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// OrderSide represents buy or sell on an order request
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PriceBar represents a single daily OHLC bar.
// Invariant: Low <= Open, Close <= High.
type PriceBar struct {
	Date  time.Time       `json:"date"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// Valid reports whether the bar satisfies the OHLC ordering invariant.
func (b PriceBar) Valid() bool {
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
		return false
	}
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return false
	}
	return true
}

// RebalanceEvent is one scheduled index-composition change. Constructed once
// from the catalog and never mutated afterwards.
type RebalanceEvent struct {
	AnnouncementDate time.Time       `json:"announcementDate"`
	EffectiveDate    time.Time       `json:"effectiveDate"`
	AddedSymbols     []string        `json:"addedSymbols"`
	RemovedSymbols   []string        `json:"removedSymbols"`
	EstimatedFlow    decimal.Decimal `json:"estimatedFlow"` // crores per stock
}

// StrategyParameters is an immutable value object describing one point in
// the search space. A fresh value is passed into every evaluation; nothing
// shares mutable parameter state across concurrent runs.
type StrategyParameters struct {
	EntryOffsetDays      int             `json:"entryOffsetDays"` // days after announcement
	ExitOffsetDays       int             `json:"exitOffsetDays"`  // days after effective date
	PositionSizeFraction decimal.Decimal `json:"positionSizeFraction"`
	StopLossFraction     decimal.Decimal `json:"stopLossFraction"`   // 0 disables
	TakeProfitFraction   decimal.Decimal `json:"takeProfitFraction"` // 0 disables
	MinFlowThreshold     decimal.Decimal `json:"minFlowThreshold"`
	TradeMode            TradeMode       `json:"tradeMode"`
}

// Key returns a canonical string identity for the parameter tuple, used for
// optional deduplication during sampling.
func (p StrategyParameters) Key() string {
	return fmt.Sprintf("%d|%d|%s|%s|%s|%s|%s",
		p.EntryOffsetDays,
		p.ExitOffsetDays,
		p.PositionSizeFraction.String(),
		p.StopLossFraction.String(),
		p.TakeProfitFraction.String(),
		p.MinFlowThreshold.String(),
		p.TradeMode,
	)
}

// TradeResult is one simulated round-trip leg, derived and never mutated.
type TradeResult struct {
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	Quantity   int64           `json:"quantity"`
	GrossPnL   decimal.Decimal `json:"grossPnl"`
	Fees       decimal.Decimal `json:"fees"` // both legs plus borrowing cost for shorts
	NetPnL     decimal.Decimal `json:"netPnl"`
}

// EventResult aggregates the trades of one event under one parameter set.
// A filtered or fully data-starved event yields a zero-trade result.
type EventResult struct {
	NetPnL decimal.Decimal `json:"netPnl"`
	Trades []TradeResult   `json:"trades"`
	Wins   int             `json:"wins"`
}

// Add folds one completed trade into the event totals.
func (r *EventResult) Add(trade TradeResult) {
	r.NetPnL = r.NetPnL.Add(trade.NetPnL)
	r.Trades = append(r.Trades, trade)
	if trade.NetPnL.IsPositive() {
		r.Wins++
	}
}

// EquityPoint is one point on the per-event equity curve. EventIndex 0 holds
// the initial capital; index i (1-based) holds capital after event i.
type EquityPoint struct {
	EventIndex int             `json:"eventIndex"`
	Capital    decimal.Decimal `json:"capital"`
}

// RunMetrics are the derived performance figures of a full-period run.
// Return, drawdown and win-rate fields are percent-scaled.
type RunMetrics struct {
	TotalReturn      float64 `json:"totalReturn"`
	AnnualizedReturn float64 `json:"annualizedReturn"`
	SharpeRatio      float64 `json:"sharpeRatio"`
	MaxDrawdown      float64 `json:"maxDrawdown"`
	WinRate          float64 `json:"winRate"`
	TotalTrades      int     `json:"totalTrades"`
	TradesPerYear    float64 `json:"tradesPerYear"`
}

// RunResult is the outcome of folding every catalog event under one
// parameter set.
type RunResult struct {
	Parameters   StrategyParameters `json:"parameters"`
	FinalCapital decimal.Decimal    `json:"finalCapital"`
	Metrics      RunMetrics         `json:"metrics"`
	EquityCurve  []EquityPoint      `json:"equityCurve"`
}

/// OptimizationResult is one row of the ranked search output: the parameter
// tuple plus its derived metrics. Immutable once produced.
type OptimizationResult struct {
	Parameters StrategyParameters `json:"parameters"`
	Metrics    RunMetrics         `json:"metrics"`
}

// SampleFailure classifies why a single search sample was dropped.
type SampleFailure string

const (
	// FailureComputation marks an unexpected arithmetic or domain error
	// (including a recovered panic) inside one evaluation.
	FailureComputation SampleFailure = "computation"
	// FailureCancelled marks a sample abandoned because the search context
	// was cancelled before the sample ran.
	FailureCancelled SampleFailure = "cancelled"
)
