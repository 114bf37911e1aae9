// Package main provides the command-line parameter optimizer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/quantdesk/rebalance-backend/internal/backtester"
	"github.com/quantdesk/rebalance-backend/internal/catalog"
	"github.com/quantdesk/rebalance-backend/internal/config"
	"github.com/quantdesk/rebalance-backend/internal/marketdata"
	"github.com/quantdesk/rebalance-backend/internal/optimization"
	"github.com/quantdesk/rebalance-backend/internal/reporting"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	samples := flag.Int("samples", 0, "Sample size (overrides config)")
	seed := flag.Int64("seed", 0, "Random seed (0 uses current time)")
	workers := flag.Int("workers", 0, "Worker count (0 uses NumCPU)")
	outCSV := flag.String("out", "", "Write full ranked results to this CSV file")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *samples > 0 {
		cfg.Search.SampleSize = *samples
	}
	if *seed != 0 {
		cfg.Search.Seed = *seed
	}
	if *workers > 0 {
		cfg.Search.Workers = *workers
	}
	if cfg.Search.Seed == 0 {
		cfg.Search.Seed = time.Now().UnixNano()
	}
	if cfg.Search.Workers == 0 {
		cfg.Search.Workers = runtime.NumCPU()
	}

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	store, err := marketdata.NewStore(logger, cfg.Data.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}
	var provider marketdata.Provider = store
	if cfg.Data.Synthetic {
		provider = marketdata.NewSynthetic(1, 1000)
		fmt.Println("WARNING: synthetic price provider enabled; results are not market data")
	}

	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		logger.Fatal("Failed to load event catalog", zap.Error(err))
	}
	start, end := cat.Span()
	fmt.Printf("Loaded %d rebalance events (%s - %s)\n",
		cat.Len(), start.Format("2006-01-02"), end.Format("2006-01-02"))

	initial := decimal.NewFromFloat(cfg.Backtest.InitialCapital)
	bt := backtester.NewEventBacktester(logger, provider, initial)
	acc := backtester.NewPortfolioAccumulator(logger, initial, cfg.Backtest.RiskFreeRate)
	runner := backtester.NewRunner(bt, acc, cat.Events())

	space := optimization.DefaultSpace()
	engine := optimization.NewSearchEngine(logger, space, runner)
	engine.OnProgress(func(completed, total int) {
		if completed%500 == 0 || completed == total {
			fmt.Printf("\r  %d / %d backtests", completed, total)
			if completed == total {
				fmt.Println()
			}
		}
	})

	fmt.Printf("Sampling %d of %d parameter combinations (seed %d, %d workers)\n",
		cfg.Search.SampleSize, space.Size(), cfg.Search.Seed, cfg.Search.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted; finishing in-flight backtests")
		cancel()
	}()

	report, err := engine.Run(ctx, cfg.Search)
	if err != nil {
		logger.Fatal("Search failed", zap.Error(err))
	}

	fmt.Println()
	if err := reporting.RenderTextReport(os.Stdout, report.Results, report.Evaluated, report.Duration); err != nil {
		logger.Fatal("Report render failed", zap.Error(err))
	}

	fmt.Printf("\nTOP %d PARAMETER SETS\n", cfg.Search.TopN)
	reporting.RenderTopTable(os.Stdout, report.Results, cfg.Search.TopN)

	if *outCSV != "" {
		if err := reporting.SaveResultsCSV(*outCSV, report.Results); err != nil {
			logger.Fatal("CSV write failed", zap.Error(err))
		}
		fmt.Printf("\nFull results written to %s\n", *outCSV)

		if best, found := report.Best(); found {
			// Re-run the winner on a fresh context so an interrupted
			// search still yields its curve.
			run, err := runner.Evaluate(context.Background(), best.Parameters)
			if err != nil {
				logger.Error("Best-run re-evaluation failed", zap.Error(err))
			} else {
				curvePath := equityCurvePath(*outCSV)
				if err := reporting.SaveEquityCurveCSV(curvePath, run.EquityCurve); err != nil {
					logger.Fatal("Equity curve write failed", zap.Error(err))
				}
				fmt.Printf("Best-run equity curve written to %s\n", curvePath)
			}
		}
	}
}

// equityCurvePath derives the equity-curve file name from the results path:
// results.csv becomes results_equity.csv.
func equityCurvePath(resultsPath string) string {
	return strings.TrimSuffix(resultsPath, ".csv") + "_equity.csv"
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.WarnLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
