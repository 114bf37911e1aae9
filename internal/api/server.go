// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/quantdesk/rebalance-backend/internal/backtester"
	"github.com/quantdesk/rebalance-backend/internal/broker"
	"github.com/quantdesk/rebalance-backend/internal/catalog"
	"github.com/quantdesk/rebalance-backend/internal/marketdata"
	"github.com/quantdesk/rebalance-backend/internal/observability"
	"github.com/quantdesk/rebalance-backend/internal/optimization"
	"github.com/quantdesk/rebalance-backend/internal/reporting"
	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	store       *marketdata.Store
	provider    marketdata.Provider
	catalog     *catalog.Catalog
	backtestCfg types.BacktestConfig
	metrics     *observability.Metrics
	searches    map[string]*SearchState
}

// Client represents a WebSocket client.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// SearchState tracks a running or finished parameter search.
type SearchState struct {
	ID        string
	Config    types.SearchConfig
	Status    string
	Started   time.Time
	Evaluated int
	Total     int
	Report    *optimization.Report
	BestRun   *types.RunResult
	cancel    context.CancelFunc
}

// Message represents a WebSocket message.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"` // request, response, event
	Method    string      `json:"method"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewServer creates a new API server.
func NewServer(
	logger *zap.Logger,
	config *types.ServerConfig,
	store *marketdata.Store,
	provider marketdata.Provider,
	cat *catalog.Catalog,
	backtestCfg types.BacktestConfig,
	metrics *observability.Metrics,
) *Server {
	server := &Server{
		logger:      logger,
		config:      config,
		router:      mux.NewRouter(),
		clients:     make(map[string]*Client),
		store:       store,
		provider:    provider,
		catalog:     cat,
		backtestCfg: backtestCfg,
		metrics:     metrics,
		searches:    make(map[string]*SearchState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	server.setupRoutes()
	return server
}

// Router exposes the underlying router for extra handler registration.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.metricsMiddleware)

	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleGetHistory).Methods("GET")

	s.router.HandleFunc("/api/v1/catalog/events", s.handleGetEvents).Methods("GET")

	s.router.HandleFunc("/api/v1/orders/plan", s.handlePlanOrders).Methods("POST")

	s.router.HandleFunc("/api/v1/search/run", s.handleRunSearch).Methods("POST")
	s.router.HandleFunc("/api/v1/search/{id}", s.handleGetSearch).Methods("GET")
	s.router.HandleFunc("/api/v1/search/{id}/results", s.handleGetSearchResults).Methods("GET")
	s.router.HandleFunc("/api/v1/search/{id}/results.csv", s.handleGetSearchCSV).Methods("GET")
	s.router.HandleFunc("/api/v1/search/{id}/equity.csv", s.handleGetSearchEquityCSV).Methods("GET")
	s.router.HandleFunc("/api/v1/search/{id}/cancel", s.handleCancelSearch).Methods("POST")

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// metricsMiddleware records request counts and latency per route template.
// The WebSocket path is passed through untouched so the upgrader keeps its
// Hijacker.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil || r.URL.Path == s.config.WebSocketPath {
			next.ServeHTTP(w, r)
			return
		}

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(sw, r)

		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
	})
}

// statusWriter captures the response code for the request metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	for _, state := range s.searches {
		if state.Status == "running" && state.cancel != nil {
			state.cancel()
		}
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.store.AvailableSymbols()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbols": symbols,
		"count":   len(symbols),
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()
	if v := r.URL.Query().Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}

	bars, err := s.provider.Fetch(r.Context(), symbol, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol": symbol,
		"bars":   bars,
		"count":  len(bars),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	events := s.catalog.Events()
	start, end := s.catalog.Span()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"events": events,
		"count":  len(events),
		"start":  start,
		"end":    end,
	})
}

// planOrdersRequest selects a catalog event by index and the parameter set to
// size entries with. When Execute is set the plan is also filled on a fresh
// paper broker and the resulting positions are returned.
type planOrdersRequest struct {
	EventIndex int                      `json:"eventIndex"`
	Params     types.StrategyParameters `json:"params"`
	AsOf       string                   `json:"asOf,omitempty"`
	Execute    bool                     `json:"execute,omitempty"`
}

func (s *Server) handlePlanOrders(w http.ResponseWriter, r *http.Request) {
	var req planOrdersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	events := s.catalog.Events()
	if req.EventIndex < 0 || req.EventIndex >= len(events) {
		http.Error(w, "Event index out of range", http.StatusNotFound)
		return
	}
	event := events[req.EventIndex]

	asOf := event.AnnouncementDate.AddDate(0, 0, req.Params.EntryOffsetDays)
	if req.AsOf != "" {
		t, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			http.Error(w, "Invalid asOf timestamp", http.StatusBadRequest)
			return
		}
		asOf = t
	}

	planner := broker.NewPlanner(s.logger, s.provider, decimal.NewFromFloat(s.backtestCfg.InitialCapital))
	orders, err := planner.PlanEntry(r.Context(), event, req.Params, asOf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"eventIndex": req.EventIndex,
		"asOf":       asOf,
		"orders":     orders,
		"count":      len(orders),
	}

	if req.Execute {
		paper := broker.NewPaper(s.logger)
		filled := make([]*broker.Order, 0, len(orders))
		for _, order := range orders {
			placed, err := paper.SubmitOrder(r.Context(), order)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			filled = append(filled, placed)
		}
		positions, err := paper.Positions(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		response["filled"] = filled
		response["positions"] = positions
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleRunSearch(w http.ResponseWriter, r *http.Request) {
	var cfg types.SearchConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.SampleSize <= 0 {
		http.Error(w, "sampleSize must be positive", http.StatusBadRequest)
		return
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &SearchState{
		ID:      cfg.ID,
		Config:  cfg,
		Status:  "running",
		Started: time.Now(),
		Total:   cfg.SampleSize,
		cancel:  cancel,
	}

	s.mu.Lock()
	if _, exists := s.searches[cfg.ID]; exists {
		s.mu.Unlock()
		cancel()
		http.Error(w, "Search ID already in use", http.StatusConflict)
		return
	}
	s.searches[cfg.ID] = state
	s.mu.Unlock()

	go s.runSearchAsync(ctx, state)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      cfg.ID,
		"status":  "running",
		"started": state.Started.Unix(),
	})
}

func (s *Server) runSearchAsync(ctx context.Context, state *SearchState) {
	defer state.cancel()

	if s.metrics != nil {
		s.metrics.SearchesStarted.Inc()
		s.metrics.ActiveSearches.Inc()
		defer s.metrics.ActiveSearches.Dec()
	}

	initial := decimal.NewFromFloat(s.backtestCfg.InitialCapital)
	bt := backtester.NewEventBacktester(s.logger, s.provider, initial)
	acc := backtester.NewPortfolioAccumulator(s.logger, initial, s.backtestCfg.RiskFreeRate)
	runner := backtester.NewRunner(bt, acc, s.catalog.Events())
	bt.SetMetrics(s.metrics)

	engine := optimization.NewSearchEngine(s.logger, optimization.DefaultSpace(), runner)
	engine.SetMetrics(s.metrics)
	engine.OnProgress(func(completed, total int) {
		s.mu.Lock()
		state.Evaluated = completed
		s.mu.Unlock()

		if completed%100 == 0 || completed == total {
			s.broadcast(&Message{
				ID:        uuid.New().String(),
				Type:      "event",
				Method:    "search:progress",
				Payload:   s.progressOf(state),
				Timestamp: time.Now().UnixMilli(),
			})
		}
	})

	report, err := engine.Run(ctx, state.Config)

	// Re-run the winner once so the equity curve of the best parameter set
	// can be served without keeping a curve per sample. A fresh context
	// lets a cancelled search still report its partial winner.
	var bestRun *types.RunResult
	if report != nil {
		if best, found := report.Best(); found {
			if run, evalErr := runner.Evaluate(context.Background(), best.Parameters); evalErr == nil {
				bestRun = &run
			} else {
				s.logger.Warn("Best-run re-evaluation failed",
					zap.String("id", state.ID), zap.Error(evalErr))
			}
		}
	}

	s.mu.Lock()
	if err != nil {
		if ctx.Err() != nil {
			state.Status = "cancelled"
		} else {
			state.Status = "failed"
		}
		s.logger.Error("Search failed", zap.String("id", state.ID), zap.Error(err))
	} else {
		state.Status = "completed"
	}
	state.Report = report
	state.BestRun = bestRun
	s.mu.Unlock()

	if s.metrics != nil && report != nil {
		s.metrics.RecordSearchFinished(state.Status, report.Duration.Seconds())
		s.metrics.SamplesEvaluated.Add(float64(report.Evaluated))
		if best, found := report.Best(); found {
			s.metrics.BestAnnualized.Set(best.Metrics.AnnualizedReturn)
		}
		for reason, n := range report.Dropped {
			for i := 0; i < n; i++ {
				s.metrics.RecordDroppedSample(string(reason))
			}
		}
	}

	s.broadcast(&Message{
		ID:        uuid.New().String(),
		Type:      "event",
		Method:    "search:complete",
		Payload:   map[string]interface{}{"id": state.ID, "status": state.Status},
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) progressOf(state *SearchState) types.SearchProgress {
	dropped := 0
	if state.Report != nil {
		for _, n := range state.Report.Dropped {
			dropped += n
		}
	}
	progress := 0.0
	if state.Total > 0 {
		progress = float64(state.Evaluated) / float64(state.Total) * 100
	}
	return types.SearchProgress{
		ID:        state.ID,
		Status:    state.Status,
		Evaluated: state.Evaluated,
		Dropped:   dropped,
		Total:     state.Total,
		Progress:  progress,
	}
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	s.mu.RLock()
	state, ok := s.searches[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Search not found", http.StatusNotFound)
		return
	}

	s.mu.RLock()
	response := map[string]interface{}{
		"id":       state.ID,
		"status":   state.Status,
		"started":  state.Started.Unix(),
		"progress": s.progressOf(state),
	}
	if state.Report != nil {
		response["evaluated"] = state.Report.Evaluated
		response["dropped"] = state.Report.Dropped
		response["duration"] = state.Report.Duration.String()
		if best, found := state.Report.Best(); found {
			response["best"] = best
		}
	}
	s.mu.RUnlock()

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleGetSearchResults(w http.ResponseWriter, r *http.Request) {
	state, report, ok := s.finishedSearch(w, r)
	if !ok {
		return
	}

	topN := state.Config.TopN
	results := report.Results
	if topN > 0 && topN < len(results) {
		results = results[:topN]
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":      state.ID,
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleGetSearchCSV(w http.ResponseWriter, r *http.Request) {
	state, report, ok := s.finishedSearch(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", state.ID))
	if err := reporting.WriteResultsCSV(w, report.Results); err != nil {
		s.logger.Error("CSV render failed", zap.String("id", state.ID), zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.ReportsRendered.Inc()
	}
}

func (s *Server) handleGetSearchEquityCSV(w http.ResponseWriter, r *http.Request) {
	state, _, ok := s.finishedSearch(w, r)
	if !ok {
		return
	}

	s.mu.RLock()
	run := state.BestRun
	s.mu.RUnlock()
	if run == nil {
		http.Error(w, "No equity curve available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_equity.csv", state.ID))
	if err := reporting.WriteEquityCurveCSV(w, run.EquityCurve); err != nil {
		s.logger.Error("Equity CSV render failed", zap.String("id", state.ID), zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.ReportsRendered.Inc()
	}
}

// finishedSearch resolves the search in the request path and requires it to
// have a report.
func (s *Server) finishedSearch(w http.ResponseWriter, r *http.Request) (*SearchState, *optimization.Report, bool) {
	vars := mux.Vars(r)
	id := vars["id"]

	s.mu.RLock()
	state, ok := s.searches[id]
	var report *optimization.Report
	if ok {
		report = state.Report
	}
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Search not found", http.StatusNotFound)
		return nil, nil, false
	}
	if report == nil {
		http.Error(w, "Search not complete", http.StatusBadRequest)
		return nil, nil, false
	}
	return state, report, true
}

func (s *Server) handleCancelSearch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	s.mu.Lock()
	state, ok := s.searches[id]
	if ok && state.Status == "running" && state.cancel != nil {
		state.cancel()
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "Search not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     id,
		"status": "cancelling",
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
	}
	s.logger.Info("WebSocket client connected", zap.String("id", client.ID))

	go s.readPump(client)
	go s.writePump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.Conn.Close()
		if s.metrics != nil {
			s.metrics.WSConnections.Dec()
		}
		s.logger.Info("WebSocket client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(512 * 1024)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			s.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}

		s.handleMessage(client, &msg)
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(client *Client, msg *Message) {
	response := &Message{
		ID:        msg.ID,
		Type:      "response",
		Method:    msg.Method,
		Timestamp: time.Now().UnixMilli(),
	}

	switch msg.Method {
	case "ping":
		response.Payload = map[string]string{"pong": "ok"}

	case "search:status":
		payload, _ := msg.Payload.(map[string]interface{})
		id, _ := payload["id"].(string)

		s.mu.RLock()
		state, ok := s.searches[id]
		if ok {
			response.Payload = s.progressOf(state)
		}
		s.mu.RUnlock()

		if !ok {
			response.Error = "Search not found"
		}

	case "search:cancel":
		payload, _ := msg.Payload.(map[string]interface{})
		id, _ := payload["id"].(string)

		s.mu.Lock()
		state, ok := s.searches[id]
		if ok && state.Status == "running" && state.cancel != nil {
			state.cancel()
		}
		s.mu.Unlock()

		if !ok {
			response.Error = "Search not found"
		} else {
			response.Payload = map[string]string{"status": "cancelling"}
		}

	default:
		response.Error = "Unknown method"
	}

	responseBytes, _ := json.Marshal(response)
	client.Send <- responseBytes
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msg *Message) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.Send <- msgBytes:
		default:
			// Client buffer full, skip
		}
	}
}
