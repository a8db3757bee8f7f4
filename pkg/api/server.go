// Package api implements the REST + WebSocket external interface of
// spec.md §6: order submission/cancellation/close, read-only account and
// market queries, and the realtime channel pkg/api/websocket.go serves.
//
// Grounded on pkg/api/server.go's transport shape (gorilla/mux router,
// rs/cors, a Server struct owning the router and hub, Start(addr)) with
// every handler rewritten against internal/engine.Supervisor and
// internal/query.Service instead of perp.App — the teacher's handlers
// were themselves mostly TODO-stubbed (uPnL, liquidation price, and
// order/trade listing were never actually computed; see internal/query's
// doc comment) and built against a WireOrder/WireCancel signature scheme
// and pair/position model spec.md §6 doesn't have at all.
package api

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/memeperp/engine/internal/auth"
	"github.com/memeperp/engine/internal/broadcast"
	"github.com/memeperp/engine/internal/engine"
	"github.com/memeperp/engine/internal/errs"
	"github.com/memeperp/engine/internal/ledger"
	"github.com/memeperp/engine/internal/market"
	"github.com/memeperp/engine/internal/metrics"
	"github.com/memeperp/engine/internal/pair"
	"github.com/memeperp/engine/internal/query"
	"github.com/memeperp/engine/internal/types"
)

// Server serves spec.md §6's REST and WebSocket surface over a single
// Supervisor.
type Server struct {
	sup      *engine.Supervisor
	authr    *auth.Authenticator
	accounts *ledger.Manager
	pairs    *pair.Ledger
	markets  *market.Registry
	hub      *broadcast.Hub
	logger   *zap.Logger
	query    *query.Service
	router   *mux.Router
}

// Deps bundles NewServer's construction-time dependencies.
type Deps struct {
	Supervisor    *engine.Supervisor
	Authenticator *auth.Authenticator
	Accounts      *ledger.Manager
	Pairs         *pair.Ledger
	Markets       *market.Registry
	Hub           *broadcast.Hub
	Logger        *zap.Logger
}

// NewServer builds a Server and its route table.
func NewServer(d Deps) *Server {
	s := &Server{
		sup:      d.Supervisor,
		authr:    d.Authenticator,
		accounts: d.Accounts,
		pairs:    d.Pairs,
		markets:  d.Markets,
		hub:      d.Hub,
		logger:   d.Logger,
		query:    query.New(d.Accounts, d.Pairs, d.Markets, d.Supervisor.BookFor, d.Supervisor.CoreFor),
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/order/submit", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/order/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/position/{pairId}/close", s.handleClosePosition).Methods("POST")

	api.HandleFunc("/user/{addr}/balance", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/user/{addr}/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/user/{addr}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/user/{addr}/nonce", s.handleGetNonce).Methods("GET")

	api.HandleFunc("/orderbook/{token}", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/trades/{token}", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/klines/{token}", s.handleGetKlines).Methods("GET")
	api.HandleFunc("/risk/market/{token}", s.handleGetRisk).Methods("GET")
	api.HandleFunc("/liquidation-map/{token}", s.handleGetLiquidationMap).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Start runs the HTTP server; it blocks until the listener errors or is
// closed.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	s.logger.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// Order / position handlers
// ==============================

func bigFromString(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	n, ok := new(big.Int).SetString(s, 10)
	return n, ok
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if !common.IsHexAddress(req.Trader) || !common.IsHexAddress(req.Token) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	size, ok1 := bigFromString(req.Size)
	leverage, ok2 := bigFromString(req.Leverage)
	price, ok3 := bigFromString(req.Price)
	deadline, ok4 := bigFromString(req.Deadline)
	nonce, ok5 := bigFromString(req.Nonce)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		respondError(w, http.StatusBadRequest, "invalid numeric field", "")
		return
	}

	sig, err := decodeSignature(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature encoding", "")
		return
	}

	var tif types.TIF
	switch req.TIF {
	case "", "GTC":
		tif = types.TIFGTC
	case "IOC":
		tif = types.TIFIOC
	case "FOK":
		tif = types.TIFFOK
	default:
		respondError(w, http.StatusBadRequest, "unknown tif", "")
		return
	}

	id := req.ClientID
	if id == "" {
		id = uuid.NewString()
	}

	admitReq := auth.Request{
		ID:       id,
		ClientID: req.ClientID,
		Order: auth.WireOrder{
			Trader:    common.HexToAddress(req.Trader),
			Token:     common.HexToAddress(req.Token),
			IsLong:    req.IsLong,
			Size:      size,
			Leverage:  leverage,
			Price:     price,
			Deadline:  deadline,
			Nonce:     nonce,
			OrderType: req.OrderType,
		},
		Signature:  sig,
		TIF:        tif,
		ReduceOnly: req.ReduceOnly,
	}

	res, err := s.sup.SubmitOrder(admitReq)
	if err != nil {
		respondCategorizedError(w, err)
		return
	}

	respondJSON(w, SubmitOrderResponse{
		OrderID: id,
		Status:  res.Status.String(),
		Filled:  strconv.FormatInt(res.Filled, 10),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if !common.IsHexAddress(req.Trader) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	nonce, ok := bigFromString(req.Nonce)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid nonce", "")
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature encoding", "")
		return
	}

	marketSymbol := req.Token
	if marketSymbol == "" {
		marketSymbol = r.URL.Query().Get("token")
	}
	if marketSymbol == "" {
		respondError(w, http.StatusBadRequest, "missing token", "")
		return
	}

	trader := common.HexToAddress(req.Trader)
	if err := s.sup.CancelOrder(marketSymbol, orderID, trader, nonce, sig); err != nil {
		respondCategorizedError(w, err)
		return
	}
	respondJSON(w, map[string]string{"order_id": orderID, "status": "cancelled"})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	pairID := mux.Vars(r)["pairId"]

	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if !common.IsHexAddress(req.Trader) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature encoding", "")
		return
	}

	res, err := s.sup.ClosePosition(pairID, common.HexToAddress(req.Trader), sig)
	if err != nil {
		respondCategorizedError(w, err)
		return
	}

	status := "closed"
	if res.Remaining > 0 {
		status = "partial"
	}
	respondJSON(w, CloseResponse{
		PairID:      pairID,
		ClosedSize:  strconv.FormatInt(res.ClosedSize, 10),
		RealizedPnL: strconv.FormatInt(res.RealizedPnLLong, 10),
		Status:      status,
	})
}

// ==============================
// Read-only query handlers
// ==============================

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r, "addr")
	if !ok {
		return
	}
	respondJSON(w, s.query.GetBalance(addr))
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r, "addr")
	if !ok {
		return
	}
	respondJSON(w, s.query.GetPositions(addr))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r, "addr")
	if !ok {
		return
	}
	marketSymbol := r.URL.Query().Get("token")
	if marketSymbol == "" {
		respondError(w, http.StatusBadRequest, "missing token query param", "")
		return
	}
	orders, err := s.query.GetOrders(addr, marketSymbol, nil)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	respondJSON(w, orders)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r, "addr")
	if !ok {
		return
	}
	respondJSON(w, map[string]uint64{"nonce": s.query.GetNonce(addr)})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	depth := 0
	if d := r.URL.Query().Get("depth"); d != "" {
		depth, _ = strconv.Atoi(d)
	}
	view, err := s.query.GetBook(token, depth)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	respondJSON(w, view)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	trades, err := s.query.GetTrades(token, limit)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	respondJSON(w, trades)
}

func (s *Server) handleGetKlines(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	resolution := parseResolution(r.URL.Query().Get("resolution"))
	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	candles, err := s.query.GetKlines(token, resolution, limit)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	respondJSON(w, candles)
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	view, err := s.query.GetRiskSnapshot(token)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	respondJSON(w, view)
}

func (s *Server) handleGetLiquidationMap(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	view, err := s.query.GetLiquidationMap(token)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error(), "")
		return
	}
	respondJSON(w, view)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func parseAddress(w http.ResponseWriter, r *http.Request, key string) (types.Address, bool) {
	raw := mux.Vars(r)[key]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return types.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// parseResolution accepts either a Go duration ("1m", "1h") or a bare
// number of minutes (spec.md §6's `?resolution=`), defaulting to 1m.
func parseResolution(raw string) time.Duration {
	if raw == "" {
		return time.Minute
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return time.Duration(n) * time.Minute
	}
	return time.Minute
}

func decodeSignature(hexSig string) ([]byte, error) {
	if hexSig == "" {
		return nil, fmt.Errorf("empty signature")
	}
	return common.FromHex(hexSig), nil
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, category string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Category: category})
}

// respondCategorizedError maps internal/errs categories to HTTP status
// codes (spec.md §7's propagation policy).
func respondCategorizedError(w http.ResponseWriter, err error) {
	cat, ok := errs.CategoryOf(err)
	if !ok {
		metrics.IncOrderRejected("UnknownErr")
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	metrics.IncOrderRejected(cat.String())
	status := http.StatusBadRequest
	switch cat {
	case errs.CategoryAuth:
		status = http.StatusUnauthorized
	case errs.CategoryBalance:
		status = http.StatusPaymentRequired
	case errs.CategoryOrder:
		status = http.StatusConflict
	case errs.CategoryRuntime:
		status = http.StatusServiceUnavailable
	}
	respondError(w, status, err.Error(), cat.String())
}
