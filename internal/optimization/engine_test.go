package optimization

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quantdesk/rebalance-backend/internal/observability"
	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// scoreEvaluator derives a deterministic metric from the parameter tuple so
// ranking can be asserted without running real backtests.
type scoreEvaluator struct {
	calls atomic.Int64
	fail  func(params types.StrategyParameters) error
}

func (s *scoreEvaluator) Evaluate(_ context.Context, params types.StrategyParameters) (types.RunResult, error) {
	s.calls.Add(1)
	if s.fail != nil {
		if err := s.fail(params); err != nil {
			return types.RunResult{}, err
		}
	}
	return types.RunResult{
		Parameters: params,
		Metrics: types.RunMetrics{
			AnnualizedReturn: float64(params.EntryOffsetDays*10 + params.ExitOffsetDays),
		},
	}, nil
}

func searchConfig(n int) types.SearchConfig {
	return types.SearchConfig{
		SampleSize: n,
		Workers:    4,
		Seed:       42,
	}
}

func TestRunRanksByAnnualizedReturnDescending(t *testing.T) {
	engine := NewSearchEngine(zap.NewNop(), DefaultSpace(), &scoreEvaluator{})

	report, err := engine.Run(context.Background(), searchConfig(200))
	if err != nil {
		t.Fatal(err)
	}
	if report.Evaluated != 200 {
		t.Fatalf("evaluated %d, want 200", report.Evaluated)
	}
	for i := 1; i < len(report.Results); i++ {
		if report.Results[i].Metrics.AnnualizedReturn > report.Results[i-1].Metrics.AnnualizedReturn {
			t.Fatalf("results not descending at %d", i)
		}
	}
	if best, ok := report.Best(); !ok || best.Metrics.AnnualizedReturn != report.Results[0].Metrics.AnnualizedReturn {
		t.Error("Best must return the top-ranked result")
	}
}

func TestRunIsSeedDeterministic(t *testing.T) {
	runOnce := func() []string {
		engine := NewSearchEngine(zap.NewNop(), DefaultSpace(), &scoreEvaluator{})
		report, err := engine.Run(context.Background(), searchConfig(100))
		if err != nil {
			t.Fatal(err)
		}
		keys := make([]string, len(report.Results))
		for i, r := range report.Results {
			keys[i] = r.Parameters.Key()
		}
		return keys
	}

	first := runOnce()
	second := runOnce()
	if len(first) != len(second) {
		t.Fatalf("result counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("ranked order diverged at %d despite identical seed", i)
		}
	}
}

func TestRunCountsFailedSamples(t *testing.T) {
	eval := &scoreEvaluator{
		fail: func(params types.StrategyParameters) error {
			if params.TradeMode == types.TradeModeIntraday {
				return errors.New("synthetic failure")
			}
			return nil
		},
	}
	engine := NewSearchEngine(zap.NewNop(), DefaultSpace(), eval)

	report, err := engine.Run(context.Background(), searchConfig(200))
	if err != nil {
		t.Fatal(err)
	}
	dropped := report.Dropped[types.FailureComputation]
	if dropped == 0 {
		t.Fatal("expected some dropped samples")
	}
	if report.Evaluated+dropped != 200 {
		t.Errorf("evaluated %d + dropped %d != 200", report.Evaluated, dropped)
	}
}

func TestRunSurvivesEvaluatorPanic(t *testing.T) {
	eval := &scoreEvaluator{
		fail: func(params types.StrategyParameters) error {
			if params.TradeMode == types.TradeModeIntraday {
				panic("bad arithmetic")
			}
			return nil
		},
	}
	engine := NewSearchEngine(zap.NewNop(), DefaultSpace(), eval)

	report, err := engine.Run(context.Background(), searchConfig(100))
	if err != nil {
		t.Fatal(err)
	}
	if report.Dropped[types.FailureComputation] == 0 {
		t.Error("panicking samples must be counted as dropped")
	}
	if report.Evaluated == 0 {
		t.Error("non-panicking samples must still be evaluated")
	}
}

func TestRunDeduplicatesDraws(t *testing.T) {
	// A two-point space: dedup must yield exactly the two distinct tuples.
	tiny := &Space{
		EntryOffsets:  []int{1},
		ExitOffsets:   []int{2},
		PositionSizes: []decimal.Decimal{decimal.NewFromFloat(0.01)},
		StopLosses:    []decimal.Decimal{decimal.Zero},
		TakeProfits:   []decimal.Decimal{decimal.Zero},
		FlowFilters:   []decimal.Decimal{decimal.NewFromInt(100)},
		TradeModes:    []types.TradeMode{types.TradeModeDelivery, types.TradeModeIntraday},
	}
	engine := NewSearchEngine(zap.NewNop(), tiny, &scoreEvaluator{})

	cfg := searchConfig(2)
	cfg.Deduplicate = true
	report, err := engine.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if report.Evaluated != 2 {
		t.Fatalf("evaluated %d, want 2", report.Evaluated)
	}
	if report.Results[0].Parameters.Key() == report.Results[1].Parameters.Key() {
		t.Error("deduplicated run returned duplicate tuples")
	}
}

func TestRunProgressCallback(t *testing.T) {
	engine := NewSearchEngine(zap.NewNop(), DefaultSpace(), &scoreEvaluator{})

	var last atomic.Int64
	engine.OnProgress(func(completed, total int) {
		if total != 50 {
			t.Errorf("total = %d, want 50", total)
		}
		last.Store(int64(completed))
	})

	if _, err := engine.Run(context.Background(), searchConfig(50)); err != nil {
		t.Fatal(err)
	}
	if last.Load() != 50 {
		t.Errorf("final progress = %d, want 50", last.Load())
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	engine := NewSearchEngine(zap.NewNop(), DefaultSpace(), &scoreEvaluator{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := engine.Run(ctx, searchConfig(10))
	if err == nil {
		t.Fatal("expected context error")
	}
	if report.Dropped[types.FailureCancelled] != 10 {
		t.Errorf("cancelled count = %d, want 10", report.Dropped[types.FailureCancelled])
	}
}

func TestRunRejectsBadSampleSize(t *testing.T) {
	engine := NewSearchEngine(zap.NewNop(), DefaultSpace(), &scoreEvaluator{})
	if _, err := engine.Run(context.Background(), searchConfig(0)); err == nil {
		t.Fatal("expected error for zero sample size")
	}
}

func TestRunObservesEvaluationLatency(t *testing.T) {
	registry := prometheus.NewRegistry()
	engine := NewSearchEngine(zap.NewNop(), DefaultSpace(), &scoreEvaluator{})
	engine.SetMetrics(observability.NewMetrics("", registry))

	report, err := engine.Run(context.Background(), searchConfig(25))
	if err != nil {
		t.Fatal(err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != "rebalance_backend_backtest_evaluation_duration_seconds" {
			continue
		}
		if got := f.GetMetric()[0].GetHistogram().GetSampleCount(); got != uint64(report.Evaluated) {
			t.Errorf("latency observations = %d, want %d", got, report.Evaluated)
		}
		return
	}
	t.Fatal("evaluation duration histogram not registered")
}
