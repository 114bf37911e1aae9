// Package reporting renders search results as CSV files, console tables and
// plain-text summaries.
package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
)

var resultsHeader = []string{
	"entry_offset_days",
	"exit_offset_days",
	"position_size_fraction",
	"stop_loss_fraction",
	"take_profit_fraction",
	"min_flow_threshold_cr",
	"trade_mode",
	"total_return_pct",
	"annualized_return_pct",
	"sharpe_ratio",
	"max_drawdown_pct",
	"win_rate_pct",
	"total_trades",
	"trades_per_year",
}

// WriteResultsCSV writes ranked results to w, best row first.
func WriteResultsCSV(w io.Writer, results []types.OptimizationResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resultsHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range results {
		row := []string{
			strconv.Itoa(r.Parameters.EntryOffsetDays),
			strconv.Itoa(r.Parameters.ExitOffsetDays),
			r.Parameters.PositionSizeFraction.String(),
			r.Parameters.StopLossFraction.String(),
			r.Parameters.TakeProfitFraction.String(),
			r.Parameters.MinFlowThreshold.String(),
			string(r.Parameters.TradeMode),
			formatFloat(r.Metrics.TotalReturn),
			formatFloat(r.Metrics.AnnualizedReturn),
			formatFloat(r.Metrics.SharpeRatio),
			formatFloat(r.Metrics.MaxDrawdown),
			formatFloat(r.Metrics.WinRate),
			strconv.Itoa(r.Metrics.TotalTrades),
			formatFloat(r.Metrics.TradesPerYear),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// SaveResultsCSV writes ranked results to a file at path.
func SaveResultsCSV(path string, results []types.OptimizationResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	defer f.Close()

	if err := WriteResultsCSV(f, results); err != nil {
		return err
	}
	return f.Close()
}

// ReadResultsCSV parses a file previously produced by WriteResultsCSV.
func ReadResultsCSV(r io.Reader) ([]types.OptimizationResult, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty results file")
	}
	if len(records[0]) != len(resultsHeader) {
		return nil, fmt.Errorf("unexpected column count %d", len(records[0]))
	}

	results := make([]types.OptimizationResult, 0, len(records)-1)
	for i, rec := range records[1:] {
		result, err := parseResultRow(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func parseResultRow(rec []string) (types.OptimizationResult, error) {
	var out types.OptimizationResult
	var err error

	if out.Parameters.EntryOffsetDays, err = strconv.Atoi(rec[0]); err != nil {
		return out, fmt.Errorf("entry offset: %w", err)
	}
	if out.Parameters.ExitOffsetDays, err = strconv.Atoi(rec[1]); err != nil {
		return out, fmt.Errorf("exit offset: %w", err)
	}
	if out.Parameters.PositionSizeFraction, err = decimal.NewFromString(rec[2]); err != nil {
		return out, fmt.Errorf("position size: %w", err)
	}
	if out.Parameters.StopLossFraction, err = decimal.NewFromString(rec[3]); err != nil {
		return out, fmt.Errorf("stop loss: %w", err)
	}
	if out.Parameters.TakeProfitFraction, err = decimal.NewFromString(rec[4]); err != nil {
		return out, fmt.Errorf("take profit: %w", err)
	}
	if out.Parameters.MinFlowThreshold, err = decimal.NewFromString(rec[5]); err != nil {
		return out, fmt.Errorf("flow threshold: %w", err)
	}
	out.Parameters.TradeMode = types.TradeMode(rec[6])

	if out.Metrics.TotalReturn, err = strconv.ParseFloat(rec[7], 64); err != nil {
		return out, fmt.Errorf("total return: %w", err)
	}
	if out.Metrics.AnnualizedReturn, err = strconv.ParseFloat(rec[8], 64); err != nil {
		return out, fmt.Errorf("annualized return: %w", err)
	}
	if out.Metrics.SharpeRatio, err = strconv.ParseFloat(rec[9], 64); err != nil {
		return out, fmt.Errorf("sharpe: %w", err)
	}
	if out.Metrics.MaxDrawdown, err = strconv.ParseFloat(rec[10], 64); err != nil {
		return out, fmt.Errorf("drawdown: %w", err)
	}
	if out.Metrics.WinRate, err = strconv.ParseFloat(rec[11], 64); err != nil {
		return out, fmt.Errorf("win rate: %w", err)
	}
	if out.Metrics.TotalTrades, err = strconv.Atoi(rec[12]); err != nil {
		return out, fmt.Errorf("total trades: %w", err)
	}
	if out.Metrics.TradesPerYear, err = strconv.ParseFloat(rec[13], 64); err != nil {
		return out, fmt.Errorf("trades per year: %w", err)
	}
	return out, nil
}

// WriteEquityCurveCSV writes the per-event equity curve of one run.
func WriteEquityCurveCSV(w io.Writer, curve []types.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"event_index", "capital"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range curve {
		if err := cw.Write([]string{strconv.Itoa(p.EventIndex), p.Capital.String()}); err != nil {
			return fmt.Errorf("write point: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveEquityCurveCSV writes one run's equity curve to a file at path.
func SaveEquityCurveCSV(path string, curve []types.EquityPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create equity curve file: %w", err)
	}
	defer f.Close()

	if err := WriteEquityCurveCSV(f, curve); err != nil {
		return err
	}
	return f.Close()
}

// formatFloat renders a float with enough precision to round-trip exactly.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
