package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"LendLedger/internal/core"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/observability"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"
	"LendLedger/internal/state"
	"LendLedger/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// HTTPServer serves the JSON API: live market and account reads from the
// engine, historical reads from the projections, and the admin surface.
// Market mutations (supply, borrow, ...) arrive over the NATS command
// stream, not HTTP.
type HTTPServer struct {
	engine       *core.LedgerEngine
	queries      *query.QueryService
	db           *sql.DB
	defaultModel state.InterestRateModel
	book         *token.Book
	oracle       *state.ManualPriceOracle
	health       *observability.HealthChecker
	metrics      *observability.Metrics
	httpServer   *http.Server
}

// Deps bundles everything the HTTP server reads from or mutates.
type Deps struct {
	Engine       *core.LedgerEngine
	Queries      *query.QueryService
	DB           *sql.DB
	DefaultModel state.InterestRateModel
	Book         *token.Book
	Oracle       *state.ManualPriceOracle
	Health       *observability.HealthChecker
	Metrics      *observability.Metrics
}

func NewHTTPServer(addr string, deps *Deps) *HTTPServer {
	s := &HTTPServer{
		engine:       deps.Engine,
		queries:      deps.Queries,
		db:           deps.DB,
		defaultModel: deps.DefaultModel,
		book:         deps.Book,
		oracle:       deps.Oracle,
		health:       deps.Health,
		metrics:      deps.Metrics,
	}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	return s
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/markets", s.handleListMarkets)
		r.Get("/markets/{asset}", s.handleGetMarket)
		r.Get("/accounts/{account}/balances", s.handleAccountBalances)
		r.Get("/accounts/{account}/balances/{asset}", s.handleAccountAssetBalance)
		r.Get("/accounts/{account}/liquidity", s.handleAccountLiquidity)
		r.Get("/liquidations", s.handleLiquidationHistory)
		r.Get("/events", s.handleEvents)

		r.Post("/block", s.handleSetBlock)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/markets/{asset}/support", s.handleSupportMarket)
			r.Post("/markets/{asset}/suspend", s.handleSuspendMarket)
			r.Post("/markets/{asset}/withdraw-equity", s.handleWithdrawEquity)
			r.Post("/markets/{asset}/rate-model", s.handleSetRateModel)
			r.Post("/risk-params", s.handleSetRiskParams)
			r.Post("/origination-fee", s.handleSetOriginationFee)
			r.Post("/pause", s.handleSetPaused)
			r.Post("/pending-admin", s.handleSetPendingAdmin)
			r.Post("/accept-admin", s.handleAcceptAdmin)
			r.Post("/rebuild-projections", s.handleRebuildProjections)
			r.Get("/verify-integrity", s.handleVerifyIntegrity)
			r.Post("/tokens/{asset}/credit", s.handleCreditToken)
			r.Post("/oracle/prices", s.handleSetPrice)
		})
	})

	return r
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- read handlers ---

type statusResponse struct {
	Sequence  int64  `json:"sequence"`
	Block     uint64 `json:"block"`
	StateHash string `json:"state_hash"`
	Paused    bool   `json:"paused"`
	Admin     string `json:"admin"`
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	hash := s.engine.GetStateHash()
	writeJSON(w, http.StatusOK, statusResponse{
		Sequence:  s.engine.GetSequence(),
		Block:     s.engine.CurrentBlock(),
		StateHash: hex.EncodeToString(hash[:]),
		Paused:    s.engine.Paused(),
		Admin:     s.engine.Admin(),
	})
}

type marketResponse struct {
	Asset        string `json:"asset"`
	Supported    bool   `json:"supported"`
	BlockNumber  uint64 `json:"block_number"`
	Cash         string `json:"cash"`
	TotalSupply  string `json:"total_supply"`
	TotalBorrows string `json:"total_borrows"`
	SupplyRate   string `json:"supply_rate"`
	BorrowRate   string `json:"borrow_rate"`
	SupplyIndex  string `json:"supply_index"`
	BorrowIndex  string `json:"borrow_index"`
}

func marketToResponse(m *state.Market) marketResponse {
	return marketResponse{
		Asset:        m.Asset,
		Supported:    m.Supported,
		BlockNumber:  m.BlockNumber,
		Cash:         m.Cash.Dec(),
		TotalSupply:  m.TotalSupply.Dec(),
		TotalBorrows: m.TotalBorrows.Dec(),
		SupplyRate:   m.SupplyRateMantissa.Dec(),
		BorrowRate:   m.BorrowRateMantissa.Dec(),
		SupplyIndex:  m.SupplyIndex.Dec(),
		BorrowIndex:  m.BorrowIndex.Dec(),
	}
}

func (s *HTTPServer) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	assets := s.engine.ListMarkets()
	markets := make([]marketResponse, 0, len(assets))
	for _, asset := range assets {
		if m, ok := s.engine.MarketState(asset); ok {
			markets = append(markets, marketToResponse(m))
		}
	}
	writeJSON(w, http.StatusOK, markets)
}

func (s *HTTPServer) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	m, ok := s.engine.MarketState(asset)
	if !ok {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	writeJSON(w, http.StatusOK, marketToResponse(m))
}

func (s *HTTPServer) handleAccountBalances(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	balances, err := s.queries.GetBalances(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if balances == nil {
		balances = []query.BalanceResponse{}
	}
	writeJSON(w, http.StatusOK, balances)
}

type liveBalanceResponse struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Supply  string `json:"supply"`
	Borrow  string `json:"borrow"`
	Block   uint64 `json:"block"`
}

// handleAccountAssetBalance reads from the engine, projecting accrued
// interest to the current block.
func (s *HTTPServer) handleAccountAssetBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	asset := chi.URLParam(r, "asset")

	supply, err := s.engine.SupplyBalance(account, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	borrow, err := s.engine.BorrowBalance(account, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, liveBalanceResponse{
		Account: account,
		Asset:   asset,
		Supply:  supply.Dec(),
		Borrow:  borrow.Dec(),
		Block:   s.engine.CurrentBlock(),
	})
}

type liquidityResponse struct {
	Account   string `json:"account"`
	Value     string `json:"value"`
	Shortfall bool   `json:"shortfall"`
}

func (s *HTTPServer) handleAccountLiquidity(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	value, shortfall, err := s.engine.AccountLiquidity(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, liquidityResponse{
		Account:   account,
		Value:     value.Mantissa.Dec(),
		Shortfall: shortfall,
	})
}

func (s *HTTPServer) handleLiquidationHistory(w http.ResponseWriter, r *http.Request) {
	var account *string
	if a := r.URL.Query().Get("account"); a != "" {
		account = &a
	}
	limit := queryInt(r, "limit", 50, 500)
	var before *int64
	if b := r.URL.Query().Get("before"); b != "" {
		v, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		before = &v
	}

	entries, err := s.queries.GetLiquidationHistory(r.Context(), account, limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []query.LiquidationHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	var asset *string
	if a := r.URL.Query().Get("asset"); a != "" {
		asset = &a
	}
	from := int64(0)
	if f := r.URL.Query().Get("from"); f != "" {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from cursor")
			return
		}
		from = v
	}
	limit := queryInt(r, "limit", 100, 1000)

	entries, err := s.queries.GetEvents(r.Context(), asset, from, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []query.EventLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- mutation handlers ---

// opRequest is the common envelope for engine-mutating requests. A missing
// request_id gets a fresh UUID, which opts the request out of idempotent
// retry.
type opRequest struct {
	RequestID string    `json:"request_id,omitempty"`
	Caller    string    `json:"caller"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func (o *opRequest) op() (core.Op, error) {
	op := core.Op{Caller: o.Caller, Timestamp: o.Timestamp}
	if o.Caller == "" {
		return op, errors.New("caller is required")
	}
	if o.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}
	if o.RequestID == "" {
		op.RequestID = uuid.New()
		return op, nil
	}
	id, err := uuid.Parse(o.RequestID)
	if err != nil {
		return op, err
	}
	op.RequestID = id
	return op, nil
}

func (s *HTTPServer) handleSetBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		opRequest
		Block uint64 `json:"block"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := req.op()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondToOp(w, s.engine.SetBlockNumber(op, req.Block))
}

func (s *HTTPServer) handleSupportMarket(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req opRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := req.op()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondToOp(w, s.engine.SupportMarket(op, asset, s.defaultModel))
}

func (s *HTTPServer) handleSuspendMarket(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req opRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := req.op()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondToOp(w, s.engine.SuspendMarket(op, asset))
}

func (s *HTTPServer) handleWithdrawEquity(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req struct {
		opRequest
		Amount string `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := req.op()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	s.respondToOp(w, s.engine.WithdrawEquity(op, asset, amount))
}

// handleSetRateModel swaps a market's rate model for a linear model with the
// given per-block mantissas.
func (s *HTTPServer) handleSetRateModel(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req struct {
		opRequest
		Base  string `json:"base"`
		Slope string `json:"slope"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := req.op()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	base, err := uint256.FromDecimal(req.Base)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base")
		return
	}
	slope, err := uint256.FromDecimal(req.Slope)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid slope")
		return
	}
	model := state.NewLinearRateModel(fpmath.NewExp(base), fpmath.NewExp(slope))
	s.respondToOp(w, s.engine.SetMarketInterestRateModel(op, asset, model))
}

func (s *HTTPServer) handleSetRiskParams(w http.ResponseWriter, r *http.Request) {
	var req struct {
		opRequest
		CollateralRatio     string `json:"collateral_ratio"`
		LiquidationDiscount string `json:"liquidation_discount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := req.op()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ratio, err := uint256.FromDecimal(req.CollateralRatio)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collateral_ratio")
		return
	}
	discount, err := uint256.FromDecimal(req.LiquidationDiscount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid liquidation_discount")
		return
	}
	s.respondToOp(w, s.engine.SetRiskParameters(op, fpmath.NewExp(ratio), fpmath.NewExp(discount)))
}

func (s *HTTPServer) handleSetOriginationFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		opRequest
		Fee string `json:"fee"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := req.op()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fee, err := uint256.FromDecimal(req.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fee")
		return
	}
	s.respondToOp(w, s.engine.SetOriginationFee(op, fpmath.NewExp(fee)))
}

func (s *HTTPServer) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req struct {
		opRequest
		Paused bool `json:"paused"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := req.op()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondToOp(w, s.engine.SetPaused(op, req.Paused))
}

func (s *HTTPServer) handleSetPendingAdmin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		opRequest
		NewAdmin string `json:"new_admin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := req.op()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondToOp(w, s.engine.SetPendingAdmin(op, req.NewAdmin))
}

func (s *HTTPServer) handleAcceptAdmin(w http.ResponseWriter, r *http.Request) {
	var req opRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, err := req.op()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondToOp(w, s.engine.AcceptAdmin(op))
}

func (s *HTTPServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.db); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rebuilt": true})
}

// handleCreditToken credits an account in the custody book. This is the
// deposit on-ramp when the service settles value itself; it does not touch
// ledger state.
func (s *HTTPServer) handleCreditToken(w http.ResponseWriter, r *http.Request) {
	if s.book == nil {
		writeError(w, http.StatusNotImplemented, "custody book not enabled")
		return
	}
	asset := chi.URLParam(r, "asset")
	var req struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	s.book.Credit(asset, req.Account, amount)
	writeJSON(w, http.StatusOK, map[string]bool{"credited": true})
}

// handleSetPrice posts an asset price to the manual oracle. Prices are
// external inputs, not ledger state, so no event is emitted.
func (s *HTTPServer) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	if s.oracle == nil {
		writeError(w, http.StatusNotImplemented, "manual oracle not enabled")
		return
	}
	var req struct {
		Asset string `json:"asset"`
		Price string `json:"price"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Asset == "" {
		writeError(w, http.StatusBadRequest, "asset is required")
		return
	}
	price, err := uint256.FromDecimal(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}
	s.oracle.SetPrice(req.Asset, fpmath.NewExp(price))
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

type opResponse struct {
	Applied  bool   `json:"applied"`
	Sequence int64  `json:"sequence"`
	Kind     string `json:"kind,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Detail   uint64 `json:"detail,omitempty"`
}

// respondToOp maps engine outcomes onto HTTP statuses: success 200, soft
// failure 422 with the taxonomy kind and stage, hard error 500.
func (s *HTTPServer) respondToOp(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, opResponse{Applied: true, Sequence: s.engine.GetSequence() - 1})
		return
	}
	var f *core.Failure
	if errors.As(err, &f) {
		writeJSON(w, http.StatusUnprocessableEntity, opResponse{
			Kind:   f.Kind.String(),
			Stage:  f.Stage,
			Detail: f.Detail,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, def, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
