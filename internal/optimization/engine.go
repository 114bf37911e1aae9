package optimization

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/quantdesk/rebalance-backend/internal/observability"
	"github.com/quantdesk/rebalance-backend/internal/workers"
	"github.com/quantdesk/rebalance-backend/pkg/types"
	"go.uber.org/zap"
)

// Evaluator runs one full-period backtest for a parameter tuple.
type Evaluator interface {
	Evaluate(ctx context.Context, params types.StrategyParameters) (types.RunResult, error)
}

// ProgressFunc receives completion counts while a search runs.
type ProgressFunc func(completed, total int)

// Report is the outcome of one search: every successful evaluation ranked by
// annualized return, plus an accounting of dropped samples.
type Report struct {
	Results   []types.OptimizationResult  `json:"results"`
	Evaluated int                         `json:"evaluated"`
	Dropped   map[types.SampleFailure]int `json:"dropped"`
	SpaceSize int64                       `json:"spaceSize"`
	Duration  time.Duration               `json:"duration"`
}

// Best returns the top-ranked result, or false on an empty report.
func (r *Report) Best() (types.OptimizationResult, bool) {
	if len(r.Results) == 0 {
		return types.OptimizationResult{}, false
	}
	return r.Results[0], true
}

// SearchEngine samples the parameter space and evaluates each draw in
// parallel on a worker pool.
type SearchEngine struct {
	logger     *zap.Logger
	space      *Space
	evaluator  Evaluator
	onProgress ProgressFunc
	metrics    *observability.Metrics
}

// NewSearchEngine creates a search engine over the given space.
func NewSearchEngine(logger *zap.Logger, space *Space, evaluator Evaluator) *SearchEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if space == nil {
		space = DefaultSpace()
	}
	return &SearchEngine{
		logger:    logger,
		space:     space,
		evaluator: evaluator,
	}
}

// OnProgress registers a progress callback. Must be set before Run.
func (e *SearchEngine) OnProgress(fn ProgressFunc) {
	e.onProgress = fn
}

// SetMetrics attaches per-sample latency instrumentation. Must be set before
// Run; nil leaves instrumentation off.
func (e *SearchEngine) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// sampleOutcome carries either a finished evaluation or a typed drop reason
// back from a worker.
type sampleOutcome struct {
	result  types.OptimizationResult
	failure types.SampleFailure
	dropped bool
}

// Run draws cfg.SampleSize parameter tuples with a generator seeded from
// cfg.Seed and evaluates them concurrently. Identical seeds over the same
// space produce the identical draw sequence. Failed samples are dropped and
// counted, never silently ignored; cancellation stops scheduling and counts
// the remainder as cancelled.
func (e *SearchEngine) Run(ctx context.Context, cfg types.SearchConfig) (*Report, error) {
	if e.evaluator == nil {
		return nil, fmt.Errorf("search engine has no evaluator")
	}
	if cfg.SampleSize <= 0 {
		return nil, fmt.Errorf("sample size must be positive, got %d", cfg.SampleSize)
	}

	start := time.Now()
	samples := e.drawSamples(cfg)

	e.logger.Info("starting parameter search",
		zap.Int("samples", len(samples)),
		zap.Int64("space_size", e.space.Size()),
		zap.Int("workers", cfg.Workers),
		zap.Int64("seed", cfg.Seed),
		zap.Bool("deduplicate", cfg.Deduplicate),
	)

	pool := workers.NewPool(e.logger, &workers.PoolConfig{
		Name:            "search",
		NumWorkers:      cfg.Workers,
		QueueSize:       len(samples),
		ShutdownTimeout: 30 * time.Second,
	})
	pool.Start()
	defer pool.Stop()

	outcomes := make(chan sampleOutcome, len(samples))
	scheduled := 0
	for _, params := range samples {
		if ctx.Err() != nil {
			break
		}
		params := params
		err := pool.SubmitFunc(ctx, func() error {
			outcomes <- e.evaluateSample(ctx, params)
			return nil
		})
		if err != nil {
			break
		}
		scheduled++
	}

	report := &Report{
		Dropped:   make(map[types.SampleFailure]int),
		SpaceSize: e.space.Size(),
	}
	report.Dropped[types.FailureCancelled] += len(samples) - scheduled

	for i := 0; i < scheduled; i++ {
		outcome := <-outcomes
		if outcome.dropped {
			report.Dropped[outcome.failure]++
		} else {
			report.Results = append(report.Results, outcome.result)
			report.Evaluated++
		}
		if e.onProgress != nil {
			e.onProgress(i+1, len(samples))
		}
	}

	rankResults(report.Results)
	report.Duration = time.Since(start)

	e.logger.Info("parameter search finished",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("dropped_computation", report.Dropped[types.FailureComputation]),
		zap.Int("dropped_cancelled", report.Dropped[types.FailureCancelled]),
		zap.Duration("duration", report.Duration),
	)

	if ctx.Err() != nil && report.Evaluated == 0 {
		return report, ctx.Err()
	}
	return report, nil
}

// evaluateSample runs one evaluation, converting errors and panics into a
// typed drop so a bad sample never takes the whole search down.
func (e *SearchEngine) evaluateSample(ctx context.Context, params types.StrategyParameters) (outcome sampleOutcome) {
	started := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.EvaluationDuration.Observe(time.Since(started).Seconds())
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation panicked",
				zap.Any("panic", r),
				zap.String("params", params.Key()),
			)
			outcome = sampleOutcome{dropped: true, failure: types.FailureComputation}
		}
	}()

	run, err := e.evaluator.Evaluate(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return sampleOutcome{dropped: true, failure: types.FailureCancelled}
		}
		e.logger.Warn("evaluation failed",
			zap.Error(err),
			zap.String("params", params.Key()),
		)
		return sampleOutcome{dropped: true, failure: types.FailureComputation}
	}

	return sampleOutcome{result: types.OptimizationResult{
		Parameters: run.Parameters,
		Metrics:    run.Metrics,
	}}
}

// drawSamples draws the sample list up front on a single seeded generator so
// the sequence is independent of worker scheduling. With deduplication on,
// repeated draws are discarded; the attempt budget bounds the loop when the
// sample size approaches the space size.
func (e *SearchEngine) drawSamples(cfg types.SearchConfig) []types.StrategyParameters {
	rng := rand.New(rand.NewSource(cfg.Seed))
	samples := make([]types.StrategyParameters, 0, cfg.SampleSize)

	if !cfg.Deduplicate {
		for i := 0; i < cfg.SampleSize; i++ {
			samples = append(samples, e.space.Sample(rng))
		}
		return samples
	}

	seen := make(map[string]struct{}, cfg.SampleSize)
	attempts := 0
	budget := cfg.SampleSize * 20
	for len(samples) < cfg.SampleSize && attempts < budget {
		attempts++
		params := e.space.Sample(rng)
		key := params.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		samples = append(samples, params)
	}
	if len(samples) < cfg.SampleSize {
		e.logger.Warn("deduplicated draw exhausted attempt budget",
			zap.Int("drawn", len(samples)),
			zap.Int("requested", cfg.SampleSize),
		)
	}
	return samples
}

// rankResults sorts by annualized return, best first. NaN metrics sink to
// the bottom so a numerically broken run can never rank above a real one.
func rankResults(results []types.OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Metrics.AnnualizedReturn, results[j].Metrics.AnnualizedReturn
		if math.IsNaN(a) {
			return false
		}
		if math.IsNaN(b) {
			return true
		}
		return a > b
	})
}
