package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quantdesk/rebalance-backend/internal/catalog"
	"github.com/quantdesk/rebalance-backend/internal/marketdata"
	"github.com/quantdesk/rebalance-backend/internal/observability"
	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := marketdata.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}

	cfg := &types.ServerConfig{
		Host:          "localhost",
		Port:          0,
		WebSocketPath: "/ws",
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
	backtestCfg := types.BacktestConfig{
		InitialCapital: 1_000_000,
		RiskFreeRate:   0.065,
	}

	provider := marketdata.NewSynthetic(1, 1000)
	return NewServer(zap.NewNop(), cfg, store, provider, cat, backtestCfg, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	decoded := map[string]interface{}{}
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON response for %s %s: %v", method, path, err)
		}
	}
	return rec, decoded
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("unexpected health payload %v", body)
	}
}

func TestHandleGetEvents(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/v1/catalog/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["count"].(float64) != 19 {
		t.Errorf("event count = %v, want 19", body["count"])
	}
}

func TestHandleGetHistoryServesSynthetic(t *testing.T) {
	s := newTestServer(t)
	path := "/api/v1/data/history/DIXON.NS?start=2023-01-02T00:00:00Z&end=2023-02-28T00:00:00Z"
	rec, body := doJSON(t, s, http.MethodGet, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["count"].(float64) == 0 {
		t.Error("expected synthetic bars")
	}
}

func TestSearchLifecycle(t *testing.T) {
	s := newTestServer(t)

	runBody := types.SearchConfig{
		ID:         "test-search",
		SampleSize: 3,
		Workers:    2,
		Seed:       42,
		TopN:       2,
	}
	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/search/run", runBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d: %s", rec.Code, rec.Body.String())
	}
	if body["id"] != "test-search" {
		t.Fatalf("unexpected run response %v", body)
	}

	deadline := time.After(60 * time.Second)
	for {
		rec, body = doJSON(t, s, http.MethodGet, "/api/v1/search/test-search", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status endpoint = %d", rec.Code)
		}
		if body["status"] == "completed" {
			break
		}
		if body["status"] == "failed" {
			t.Fatalf("search failed: %v", body)
		}
		select {
		case <-deadline:
			t.Fatal("search did not complete in time")
		case <-time.After(100 * time.Millisecond):
		}
	}

	rec, body = doJSON(t, s, http.MethodGet, "/api/v1/search/test-search/results", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("results status = %d", rec.Code)
	}
	results := body["results"].([]interface{})
	if len(results) == 0 || len(results) > 2 {
		t.Errorf("expected 1-2 results after TopN trim, got %d", len(results))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search/test-search/results.csv", nil)
	csvRec := httptest.NewRecorder()
	s.Router().ServeHTTP(csvRec, req)
	if csvRec.Code != http.StatusOK {
		t.Fatalf("csv status = %d", csvRec.Code)
	}
	if ct := csvRec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("csv content type = %q", ct)
	}
	if !bytes.Contains(csvRec.Body.Bytes(), []byte("annualized_return_pct")) {
		t.Error("csv missing header row")
	}
}

func TestSearchRejectsDuplicateID(t *testing.T) {
	s := newTestServer(t)

	cfg := types.SearchConfig{ID: "dup", SampleSize: 1, Workers: 1, Seed: 1}
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/search/run", cfg); rec.Code != http.StatusOK {
		t.Fatalf("first run = %d", rec.Code)
	}
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/search/run", cfg); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate run = %d, want 409", rec.Code)
	}
}

func TestSearchValidation(t *testing.T) {
	s := newTestServer(t)

	if rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/search/run", types.SearchConfig{SampleSize: 0}); rec.Code != http.StatusBadRequest {
		t.Errorf("zero sample size = %d, want 400", rec.Code)
	}
	if rec, _ := doJSON(t, s, http.MethodGet, "/api/v1/search/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown search = %d, want 404", rec.Code)
	}
	if rec, _ := doJSON(t, s, http.MethodGet, "/api/v1/search/nope/results", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown results = %d, want 404", rec.Code)
	}
}

func TestCancelSearch(t *testing.T) {
	s := newTestServer(t)

	cfg := types.SearchConfig{ID: "to-cancel", SampleSize: 2000, Workers: 1, Seed: 5}
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/search/run", cfg); rec.Code != http.StatusOK {
		t.Fatalf("run failed: %d", rec.Code)
	}

	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/search/to-cancel/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d", rec.Code)
	}
	if body["status"] != "cancelling" {
		t.Errorf("unexpected cancel payload %v", body)
	}

	deadline := time.After(60 * time.Second)
	for {
		_, body = doJSON(t, s, http.MethodGet, "/api/v1/search/to-cancel", nil)
		status := fmt.Sprint(body["status"])
		if status == "cancelled" || status == "completed" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("search never stopped")
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestPlanOrders(t *testing.T) {
	s := newTestServer(t)

	req := map[string]interface{}{
		"eventIndex": 0,
		"params": types.StrategyParameters{
			EntryOffsetDays:      2,
			PositionSizeFraction: decimal.NewFromFloat(0.02),
			TradeMode:            types.TradeModeDelivery,
		},
	}
	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/orders/plan", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("plan = %d: %s", rec.Code, rec.Body.String())
	}
	if body["count"].(float64) < 1 {
		t.Fatalf("expected at least one planned order, got %v", body["count"])
	}
	orders := body["orders"].([]interface{})
	first := orders[0].(map[string]interface{})
	if first["symbol"] == "" || first["quantity"].(float64) < 1 {
		t.Errorf("malformed order %v", first)
	}

	req["execute"] = true
	rec, body = doJSON(t, s, http.MethodPost, "/api/v1/orders/plan", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute = %d: %s", rec.Code, rec.Body.String())
	}
	filled := body["filled"].([]interface{})
	if len(filled) != int(body["count"].(float64)) {
		t.Errorf("filled %d orders, planned %v", len(filled), body["count"])
	}
	if _, ok := body["positions"]; !ok {
		t.Error("execute response missing positions")
	}
}

func TestPlanOrdersValidation(t *testing.T) {
	s := newTestServer(t)

	req := map[string]interface{}{"eventIndex": 999, "params": types.StrategyParameters{}}
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/orders/plan", req); rec.Code != http.StatusNotFound {
		t.Errorf("out-of-range event = %d, want 404", rec.Code)
	}

	req = map[string]interface{}{"eventIndex": 0, "asOf": "not-a-time", "params": types.StrategyParameters{}}
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/orders/plan", req); rec.Code != http.StatusBadRequest {
		t.Errorf("bad asOf = %d, want 400", rec.Code)
	}
}

func TestRunSearchDefaultsWorkersAndArmsCancel(t *testing.T) {
	s := newTestServer(t)

	cfg := types.SearchConfig{ID: "defaulted", SampleSize: 1, Seed: 7}
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/search/run", cfg); rec.Code != http.StatusOK {
		t.Fatalf("run = %d", rec.Code)
	}

	s.mu.RLock()
	state := s.searches["defaulted"]
	s.mu.RUnlock()
	if state.Config.Workers < 1 {
		t.Errorf("workers defaulted to %d, want at least 1", state.Config.Workers)
	}
	if state.cancel == nil {
		t.Error("cancel must be armed before the run response returns")
	}
	waitForSearch(t, s, "defaulted")
}

func TestSearchEquityCurveEndpoint(t *testing.T) {
	s := newTestServer(t)

	cfg := types.SearchConfig{ID: "curve-search", SampleSize: 2, Workers: 2, Seed: 42}
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/search/run", cfg); rec.Code != http.StatusOK {
		t.Fatalf("run = %d", rec.Code)
	}
	waitForSearch(t, s, "curve-search")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search/curve-search/equity.csv", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("equity csv = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}

	lines := bytes.Split(bytes.TrimSpace(rec.Body.Bytes()), []byte("\n"))
	if string(lines[0]) != "event_index,capital" {
		t.Errorf("unexpected header %q", lines[0])
	}
	// One point per catalog event plus the initial capital.
	if want := s.catalog.Len() + 2; len(lines) != want {
		t.Errorf("curve has %d lines, want %d", len(lines), want)
	}

	if rec, _ := doJSON(t, s, http.MethodGet, "/api/v1/search/nope/equity.csv", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown search equity = %d, want 404", rec.Code)
	}
}

func TestServerRecordsRequestAndSearchMetrics(t *testing.T) {
	s := newTestServer(t)
	registry := prometheus.NewRegistry()
	s.metrics = observability.NewMetrics("", registry)

	if rec, _ := doJSON(t, s, http.MethodGet, "/api/v1/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}

	cfg := types.SearchConfig{ID: "metered", SampleSize: 2, Workers: 2, Seed: 42}
	if rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/search/run", cfg); rec.Code != http.StatusOK {
		t.Fatalf("run = %d", rec.Code)
	}
	waitForSearch(t, s, "metered")

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}

	var sawHealthRoute, sawDuration bool
	var bestGauge float64
	for _, f := range families {
		switch f.GetName() {
		case "rebalance_backend_api_http_requests_total":
			for _, m := range f.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "route" && l.GetValue() == "/api/v1/health" {
						sawHealthRoute = true
					}
				}
			}
		case "rebalance_backend_api_http_request_duration_seconds":
			sawDuration = len(f.GetMetric()) > 0
		case "rebalance_backend_search_best_annualized_return_pct":
			bestGauge = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if !sawHealthRoute {
		t.Error("health request not counted by route")
	}
	if !sawDuration {
		t.Error("request duration not observed")
	}

	s.mu.RLock()
	best, found := s.searches["metered"].Report.Best()
	s.mu.RUnlock()
	if !found {
		t.Fatal("completed search has no best result")
	}
	want := best.Metrics.AnnualizedReturn
	if bestGauge != want && !(math.IsNaN(bestGauge) && math.IsNaN(want)) {
		t.Errorf("best gauge = %v, want %v", bestGauge, want)
	}
}

// waitForSearch polls the status endpoint until the search completes.
func waitForSearch(t *testing.T, s *Server, id string) {
	t.Helper()
	deadline := time.After(60 * time.Second)
	for {
		_, body := doJSON(t, s, http.MethodGet, "/api/v1/search/"+id, nil)
		switch body["status"] {
		case "completed":
			return
		case "failed":
			t.Fatalf("search %s failed: %v", id, body)
		}
		select {
		case <-deadline:
			t.Fatalf("search %s did not complete in time", id)
		case <-time.After(100 * time.Millisecond):
		}
	}
}
