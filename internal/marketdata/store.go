package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantdesk/rebalance-backend/internal/observability"
	"github.com/quantdesk/rebalance-backend/pkg/types"
	"go.uber.org/zap"
)

// Store provides access to historical bars kept as one JSON file per
// symbol under a data directory. Loaded series are cached in memory; a
// metadata index tracks the available range per symbol.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.PriceBar
	metadata map[string]*SymbolMetadata
	metrics  *observability.Metrics
}

// SymbolMetadata describes the data available for one symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// NewStore creates a store rooted at dataDir, creating the directory if
// needed and loading the metadata index when present.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string][]types.PriceBar),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("failed to load metadata index", zap.Error(err))
	}

	return store, nil
}

// SetMetrics attaches data-layer instrumentation. Nil leaves it off.
func (s *Store) SetMetrics(m *observability.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Fetch returns the bars for symbol within [start, end]. A missing data
// file yields an empty result, not an error.
func (s *Store) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]types.PriceBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[symbol]; ok {
		return s.served(filterByDateRange(cached, start, end)), nil
	}

	data, err := os.ReadFile(s.symbolPath(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		if s.metrics != nil {
			s.metrics.DataFetchErrors.WithLabelValues(symbol).Inc()
		}
		return nil, fmt.Errorf("read data for %s: %w", symbol, err)
	}

	var bars []types.PriceBar
	if err := json.Unmarshal(data, &bars); err != nil {
		if s.metrics != nil {
			s.metrics.DataFetchErrors.WithLabelValues(symbol).Inc()
		}
		return nil, fmt.Errorf("parse data for %s: %w", symbol, err)
	}

	bars = s.clean(symbol, bars)
	s.cache[symbol] = bars
	if s.metrics != nil {
		s.metrics.SymbolCacheSize.Set(float64(len(s.cache)))
	}

	return s.served(filterByDateRange(bars, start, end)), nil
}

// served counts bars handed to callers. Must hold the lock.
func (s *Store) served(bars []types.PriceBar) []types.PriceBar {
	if s.metrics != nil {
		s.metrics.BarsServed.Add(float64(len(bars)))
	}
	return bars
}

// clean runs the quality pass and counts what it discarded. Must hold the
// lock.
func (s *Store) clean(symbol string, bars []types.PriceBar) []types.PriceBar {
	before := len(bars)
	bars = Clean(s.logger, symbol, bars)
	if s.metrics != nil && len(bars) < before {
		s.metrics.BarsDroppedDirty.Add(float64(before - len(bars)))
	}
	return bars
}

// SaveBars writes a symbol's series to disk and refreshes the cache and
// metadata index.
func (s *Store) SaveBars(symbol string, bars []types.PriceBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bars = s.clean(symbol, bars)

	data, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal data for %s: %w", symbol, err)
	}

	if err := os.WriteFile(s.symbolPath(symbol), data, 0644); err != nil {
		return fmt.Errorf("write data for %s: %w", symbol, err)
	}

	s.cache[symbol] = bars
	if s.metrics != nil {
		s.metrics.SymbolCacheSize.Set(float64(len(s.cache)))
	}

	if len(bars) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: bars[0].Date,
			EndDate:   bars[len(bars)-1].Date,
			BarCount:  len(bars),
		}
	}

	return s.saveMetadata()
}

// AvailableSymbols returns the symbols present in the metadata index.
func (s *Store) AvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.metadata))
	for symbol := range s.metadata {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// DataRange returns the available date range for a symbol.
func (s *Store) DataRange(symbol string) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[symbol]; ok {
		return meta.StartDate, meta.EndDate, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("no data available for symbol %s", symbol)
}

// ClearCache drops the in-memory series cache.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]types.PriceBar)
	if s.metrics != nil {
		s.metrics.SymbolCacheSize.Set(0)
	}
}

func (s *Store) symbolPath(symbol string) string {
	// Symbols like "BAJAJ-AUTO.NS" are filesystem-safe apart from any
	// path separators.
	name := strings.ReplaceAll(symbol, string(filepath.Separator), "_")
	return filepath.Join(s.dataDir, name+".json")
}

func filterByDateRange(bars []types.PriceBar, start, end time.Time) []types.PriceBar {
	var filtered []types.PriceBar
	for _, bar := range bars {
		if bar.Date.Before(start) || bar.Date.After(end) {
			continue
		}
		filtered = append(filtered, bar)
	}
	return filtered
}

func (s *Store) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}
	s.metadata = metadata
	return nil
}

func (s *Store) saveMetadata() error {
	data, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, "metadata.json"), data, 0644)
}
