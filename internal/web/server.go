package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crestline-fi/vaultcore/internal/logger"
	"github.com/crestline-fi/vaultcore/internal/state"
	"github.com/crestline-fi/vaultcore/internal/types"
	"github.com/crestline-fi/vaultcore/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer serves the read-only query API over the vault.
type WebServer struct {
	router *mux.Router
	port   string
	vault  *vault.Vault
}

// NewWebServer creates a new web server instance over the given vault.
// gatherer may be nil to skip the metrics endpoint.
func NewWebServer(port string, v *vault.Vault, gatherer prometheus.Gatherer) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		vault:  v,
	}

	server.setupRoutes(gatherer)
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes(gatherer prometheus.Gatherer) {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	if gatherer != nil {
		ws.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/pools", ws.handleListPools).Methods("GET")
	api.HandleFunc("/pools/{id}", ws.handleGetPool).Methods("GET")
	api.HandleFunc("/pools/{id}/snapshots", ws.handleGetPoolSnapshots).Methods("GET")
	api.HandleFunc("/pools/{id}/shares/{account}", ws.handleGetShareBalance).Methods("GET")
	api.HandleFunc("/internal-balances/{account}", ws.handleGetInternalBalance).Methods("GET")
	api.HandleFunc("/protocol-fees", ws.handleGetProtocolFees).Methods("GET")
	api.HandleFunc("/receipts", ws.handleGetReceipts).Methods("GET")
	api.HandleFunc("/preview/swap", ws.handlePreviewSwap).Methods("POST")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	pools, poolsErr := ws.vault.ListPools()
	ledgerHealthy := poolsErr == nil

	overallStatus := "OK"
	if !dbHealthy || !ledgerHealthy {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "vaultcore",
			"version": "1.0.0",
		},
		"vault_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"ledger_healthy":   ledgerHealthy,
			"pool_count":       len(pools),
		},
	}

	statusCode := http.StatusOK
	if overallStatus != "OK" {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleListPools returns every registered pool
func (ws *WebServer) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := ws.vault.ListPools()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to list pools")
		ws.writeVaultError(w, err)
		return
	}

	response := map[string]interface{}{
		"pools": pools,
		"count": len(pools),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPool returns a specific pool by ID
func (ws *WebServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolIDFromPath(w, r)
	if !ok {
		return
	}

	summary, err := ws.vault.GetPool(id)
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetPoolSnapshots returns the journaled history of a pool
func (ws *WebServer) handleGetPoolSnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolIDFromPath(w, r)
	if !ok {
		return
	}
	limit := queryLimit(r, 20)

	snapshots, err := state.GetRecentPoolSnapshots(id, limit)
	if err != nil {
		webLogger.Error().Err(err).Uint64("poolId", uint64(id)).Msg("Failed to get pool snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve pool snapshots")
		return
	}

	response := map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetShareBalance returns one account's share holding in a pool
func (ws *WebServer) handleGetShareBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolIDFromPath(w, r)
	if !ok {
		return
	}
	account := types.Account(mux.Vars(r)["account"])

	balance, err := ws.vault.ShareBalance(id, account)
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}

	response := map[string]interface{}{
		"pool_id": id,
		"account": account,
		"shares":  balance,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetInternalBalance returns an account's internal balances
func (ws *WebServer) handleGetInternalBalance(w http.ResponseWriter, r *http.Request) {
	account := types.Account(mux.Vars(r)["account"])

	balances, err := ws.vault.InternalBalance(account)
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}

	response := map[string]interface{}{
		"account":  account,
		"balances": balances,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetProtocolFees returns accrued, uncollected protocol fees
func (ws *WebServer) handleGetProtocolFees(w http.ResponseWriter, r *http.Request) {
	fees, err := ws.vault.ProtocolFees()
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}

	response := map[string]interface{}{
		"fees":      fees,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetReceipts returns recent batch receipts from the journal
func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 20)

	receipts, err := state.GetRecentReceipts(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get batch receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve receipts")
		return
	}

	response := map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
		"limit":    limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// previewSwapRequest is the POST body for /api/preview/swap. Amount is an
// 18-decimal integer string.
type previewSwapRequest struct {
	PoolID   uint64 `json:"pool_id"`
	AssetIn  string `json:"asset_in"`
	AssetOut string `json:"asset_out"`
	Amount   string `json:"amount"`
	GivenOut bool   `json:"given_out"`
}

// handlePreviewSwap prices a swap without executing it
func (ws *WebServer) handlePreviewSwap(w http.ResponseWriter, r *http.Request) {
	var req previewSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amount, ok := sdkmath.NewIntFromString(req.Amount)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	result, err := ws.vault.PreviewSwap(types.PoolID(req.PoolID),
		types.Asset(req.AssetIn), types.Asset(req.AssetOut), amount, req.GivenOut)
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}

	response := map[string]interface{}{
		"pool_id":   req.PoolID,
		"asset_in":  req.AssetIn,
		"asset_out": req.AssetOut,
		"given_out": req.GivenOut,
		"amount":    req.Amount,
		"result":    result,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// poolIDFromPath parses the {id} path variable, writing the error response
// itself on failure.
func (ws *WebServer) poolIDFromPath(w http.ResponseWriter, r *http.Request) (types.PoolID, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid pool ID")
		return 0, false
	}
	return types.PoolID(id), true
}

func queryLimit(r *http.Request, def int) int {
	limit := def
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return limit
}

// writeVaultError maps ledger errors onto HTTP status codes.
func (ws *WebServer) writeVaultError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errorsmod.IsOf(err, types.ErrPoolNotFound):
		status = http.StatusNotFound
	case errorsmod.IsOf(err, types.ErrInvalidInput):
		status = http.StatusBadRequest
	case errorsmod.IsOf(err, types.ErrReentrancy):
		status = http.StatusConflict
	case errorsmod.IsOf(err, types.ErrInsufficientLiquidity, types.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	}
	ws.writeErrorResponse(w, status, err.Error())
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
