package marketdata_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quantdesk/rebalance-backend/internal/marketdata"
	"github.com/quantdesk/rebalance-backend/internal/observability"
	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func bar(date time.Time, open, high, low, close float64) types.PriceBar {
	return types.PriceBar{
		Date:  date,
		Open:  decimal.NewFromFloat(open),
		High:  decimal.NewFromFloat(high),
		Low:   decimal.NewFromFloat(low),
		Close: decimal.NewFromFloat(close),
	}
}

func TestStoreSaveAndFetch(t *testing.T) {
	store, err := marketdata.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	bars := []types.PriceBar{
		bar(day(2023, 2, 1), 100, 102, 99, 101),
		bar(day(2023, 2, 2), 101, 103, 100, 102),
		bar(day(2023, 2, 3), 102, 104, 101, 103),
	}
	if err := store.SaveBars("DIXON.NS", bars); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Fetch(context.Background(), "DIXON.NS", day(2023, 2, 2), day(2023, 2, 3))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bars in range, got %d", len(got))
	}
	if !got[0].Close.Equal(decimal.NewFromInt(102)) {
		t.Errorf("unexpected first close %s", got[0].Close)
	}

	start, end, err := store.DataRange("DIXON.NS")
	if err != nil {
		t.Fatalf("data range failed: %v", err)
	}
	if !start.Equal(day(2023, 2, 1)) || !end.Equal(day(2023, 2, 3)) {
		t.Errorf("unexpected range %s - %s", start, end)
	}
}

func TestStoreMissingSymbolIsEmptyNotError(t *testing.T) {
	store, err := marketdata.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	got, err := store.Fetch(context.Background(), "NOSUCH.NS", day(2023, 1, 1), day(2023, 12, 31))
	if err != nil {
		t.Fatalf("missing symbol must not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty series, got %d bars", len(got))
	}
}

func TestStoreMetadataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := marketdata.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveBars("TRENT.NS", []types.PriceBar{bar(day(2024, 1, 2), 10, 11, 9, 10.5)}); err != nil {
		t.Fatal(err)
	}

	reopened, err := marketdata.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatal(err)
	}
	symbols := reopened.AvailableSymbols()
	if len(symbols) != 1 || symbols[0] != "TRENT.NS" {
		t.Errorf("metadata not reloaded: %v", symbols)
	}
}

func TestCleanDropsInvalidBars(t *testing.T) {
	bad := bar(day(2023, 2, 2), 100, 98, 99, 100) // high < open
	good := bar(day(2023, 2, 1), 100, 102, 99, 101)

	cleaned := marketdata.Clean(zap.NewNop(), "X.NS", []types.PriceBar{bad, good})
	if len(cleaned) != 1 {
		t.Fatalf("expected 1 bar after cleaning, got %d", len(cleaned))
	}
	if !cleaned[0].Date.Equal(good.Date) {
		t.Errorf("wrong bar survived cleaning")
	}
}

func TestCleanSortsByDate(t *testing.T) {
	bars := []types.PriceBar{
		bar(day(2023, 2, 3), 100, 102, 99, 101),
		bar(day(2023, 2, 1), 100, 102, 99, 101),
		bar(day(2023, 2, 2), 100, 102, 99, 101),
	}

	cleaned := marketdata.Clean(nil, "X.NS", bars)
	for i := 1; i < len(cleaned); i++ {
		if cleaned[i].Date.Before(cleaned[i-1].Date) {
			t.Fatal("bars not sorted ascending")
		}
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	g := marketdata.NewSynthetic(42, 1000)

	a, err := g.Fetch(context.Background(), "DIXON.NS", day(2023, 1, 2), day(2023, 3, 31))
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.Fetch(context.Background(), "DIXON.NS", day(2023, 1, 2), day(2023, 3, 31))
	if err != nil {
		t.Fatal(err)
	}

	if len(a) == 0 || len(a) != len(b) {
		t.Fatalf("series mismatch: %d vs %d bars", len(a), len(b))
	}
	for i := range a {
		if !a[i].Close.Equal(b[i].Close) {
			t.Fatalf("bar %d differs between identical fetches", i)
		}
	}
}

func TestSyntheticOverlappingWindowsAgree(t *testing.T) {
	g := marketdata.NewSynthetic(7, 500)

	full, err := g.Fetch(context.Background(), "IRFC.NS", day(2023, 1, 2), day(2023, 2, 28))
	if err != nil {
		t.Fatal(err)
	}
	tail, err := g.Fetch(context.Background(), "IRFC.NS", day(2023, 2, 1), day(2023, 2, 28))
	if err != nil {
		t.Fatal(err)
	}

	if len(tail) == 0 {
		t.Fatal("empty tail window")
	}
	offset := len(full) - len(tail)
	for i := range tail {
		if !full[offset+i].Close.Equal(tail[i].Close) {
			t.Fatalf("overlapping windows disagree at %s", tail[i].Date)
		}
	}
}

func TestSyntheticBarsValid(t *testing.T) {
	g := marketdata.NewSynthetic(1, 1000)

	bars, err := g.Fetch(context.Background(), "ZOMATO.NS", day(2022, 1, 3), day(2022, 6, 30))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) == 0 {
		t.Fatal("no bars generated")
	}
	for _, b := range bars {
		if !b.Valid() {
			t.Fatalf("invalid bar on %s: O=%s H=%s L=%s C=%s",
				b.Date, b.Open, b.High, b.Low, b.Close)
		}
		if wd := b.Date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Fatalf("weekend bar generated on %s", b.Date)
		}
	}
}

func TestStoreRecordsDataMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	store, err := marketdata.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store.SetMetrics(observability.NewMetrics("", registry))

	bars := []types.PriceBar{
		bar(day(2023, 2, 1), 100, 102, 99, 101),
		bar(day(2023, 2, 2), 101, 103, 100, 102),
	}
	if err := store.SaveBars("DIXON.NS", bars); err != nil {
		t.Fatal(err)
	}
	got, err := store.Fetch(context.Background(), "DIXON.NS", day(2023, 2, 1), day(2023, 2, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(got))
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	values := map[string]float64{}
	for _, f := range families {
		switch f.GetName() {
		case "rebalance_backend_data_bars_served_total":
			values[f.GetName()] = f.GetMetric()[0].GetCounter().GetValue()
		case "rebalance_backend_data_symbol_cache_size":
			values[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
		}
	}

	if got := values["rebalance_backend_data_bars_served_total"]; got != 2 {
		t.Errorf("bars served = %v, want 2", got)
	}
	if got := values["rebalance_backend_data_symbol_cache_size"]; got != 1 {
		t.Errorf("cached symbols = %v, want 1", got)
	}

	store.ClearCache()
	families, err = registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() == "rebalance_backend_data_symbol_cache_size" {
			if got := f.GetMetric()[0].GetGauge().GetValue(); got != 0 {
				t.Errorf("cache gauge after clear = %v, want 0", got)
			}
		}
	}
}
