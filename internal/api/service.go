// Package api provides the HTTP handlers for issuing exchange instances
// and driving their lifecycle, order book, and presale operations.
//
// Caller identity is an explicit "from" field in request bodies: the
// engine is a library and this layer is a thin facade; authentication is
// out of scope. All monetary values use shopspring/decimal — never
// float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sharebook/exchange-engine/internal/exchange"
	"github.com/sharebook/exchange-engine/internal/fees"
	"github.com/sharebook/exchange-engine/internal/ledger"
	"github.com/sharebook/exchange-engine/internal/metrics"
	"github.com/sharebook/exchange-engine/internal/model"
	"github.com/sharebook/exchange-engine/internal/payment"
	"github.com/sharebook/exchange-engine/internal/registry"
	"github.com/sharebook/exchange-engine/internal/state"
	"github.com/sharebook/exchange-engine/internal/store"
)

// Service handles exchange operations over HTTP. The per-instance engine
// lock serializes execution; this layer only persists snapshots and
// broadcasts events after successful mutations.
type Service struct {
	reg   *registry.Registry
	asset payment.Asset
	store store.Store
	wsHub *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(reg *registry.Registry, asset payment.Asset, st store.Store, hub *WSHub) *Service {
	return &Service{
		reg:   reg,
		asset: asset,
		store: st,
		wsHub: hub,
	}
}

// Routes mounts all handlers under the given router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/exchanges", s.ListExchanges)
	r.Post("/exchanges", s.IssueExchange)
	r.Route("/exchanges/{symbol}", func(r chi.Router) {
		r.Get("/", s.GetExchange)
		r.Post("/initialize", s.Initialize)
		r.Post("/presale", s.InitializePresale)
		r.Post("/purchase", s.Purchase)
		r.Post("/orders", s.CreateOrder)
		r.Delete("/orders", s.CancelOrder)
		r.Get("/orders", s.GetOrders)
		r.Post("/accept", s.AcceptOrder)
		r.Post("/transfer", s.Transfer)
		r.Post("/terminate", s.Terminate)
		r.Post("/withdraw", s.Withdraw)
		r.Get("/shares/{holder}", s.GetShares)
		r.Get("/shareholders", s.GetShareholders)
		r.Get("/price", s.GetPrice)
		r.Get("/trades", s.GetTrades)
	})
}

// --- Request types ---

// IssueRequest is the JSON body for POST /exchanges.
type IssueRequest struct {
	From   string          `json:"from"`
	Name   string          `json:"name"`
	Symbol string          `json:"symbol"`
	Fee    decimal.Decimal `json:"fee"`
}

// InitializeRequest is the JSON body for POST /exchanges/{symbol}/initialize.
type InitializeRequest struct {
	From     string `json:"from"`
	Tax      int64  `json:"tax"` // numerator over 1000
	Decimals int32  `json:"decimals"`
}

// PresaleRequest is the JSON body for POST /exchanges/{symbol}/presale.
// Start and End are unix seconds; the window is informational.
type PresaleRequest struct {
	From     string          `json:"from"`
	Target   int64           `json:"target"`
	Decimals int32           `json:"decimals"`
	Price    decimal.Decimal `json:"price"`
	Start    int64           `json:"start"`
	End      int64           `json:"end"`
}

// PurchaseRequest is the JSON body for POST /exchanges/{symbol}/purchase.
type PurchaseRequest struct {
	From   string          `json:"from"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderRequest is the JSON body for POST /exchanges/{symbol}/orders.
type OrderRequest struct {
	From   string          `json:"from"`
	Side   string          `json:"side"` // "BUY" or "SELL"
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// AcceptRequest is the JSON body for POST /exchanges/{symbol}/accept.
type AcceptRequest struct {
	From   string          `json:"from"`
	Holder string          `json:"holder"` // resting order owner
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"` // attached royalty
}

// TransferRequest is the JSON body for POST /exchanges/{symbol}/transfer.
type TransferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"` // attached royalty
}

// CallerRequest is the JSON body for caller-only operations
// (cancel, terminate, withdraw).
type CallerRequest struct {
	From string `json:"from"`
}

// --- Handlers ---

// IssueExchange handles POST /api/v1/exchanges
func (s *Service) IssueExchange(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" {
		writeError(w, "from is required", http.StatusBadRequest)
		return
	}

	x, err := s.reg.Issue(r.Context(), req.From, s.asset, req.Name, req.Symbol, req.Fee)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.ActiveExchanges.Inc()
	s.persist(r, x)

	slog.Info("exchange issued",
		"symbol", x.Symbol(),
		"name", x.Name(),
		"owner", x.Owner(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(x.Info())
}

// ListExchanges handles GET /api/v1/exchanges
func (s *Service) ListExchanges(w http.ResponseWriter, r *http.Request) {
	instances := s.reg.List()
	infos := make([]model.Info, 0, len(instances))
	for _, x := range instances {
		infos = append(infos, x.Info())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

// GetExchange handles GET /api/v1/exchanges/{symbol}
func (s *Service) GetExchange(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}

	resp := struct {
		model.Info
		Presale *model.PresaleState `json:"presale,omitempty"`
	}{Info: x.Info(), Presale: x.PresaleInfo()}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Initialize handles POST /api/v1/exchanges/{symbol}/initialize
func (s *Service) Initialize(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := x.Initialize(r.Context(), req.From, req.Tax, req.Decimals); err != nil {
		writeDomainError(w, err)
		return
	}

	s.persist(r, x)
	s.broadcastPhase(x)

	slog.Info("exchange initialized",
		"symbol", x.Symbol(),
		"tax", req.Tax,
		"decimals", req.Decimals,
		"supply", x.TotalSupply().String(),
	)

	writeJSON(w, x.Info())
}

// InitializePresale handles POST /api/v1/exchanges/{symbol}/presale
func (s *Service) InitializePresale(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req PresaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Unix(req.Start, 0).UTC()
	end := time.Unix(req.End, 0).UTC()
	if err := x.InitializePresale(r.Context(), req.From, req.Target, req.Decimals, req.Price, start, end); err != nil {
		writeDomainError(w, err)
		return
	}

	s.persist(r, x)
	s.broadcastPhase(x)

	slog.Info("presale opened",
		"symbol", x.Symbol(),
		"target", req.Target,
		"price", req.Price.String(),
	)

	writeJSON(w, x.Info())
}

// Purchase handles POST /api/v1/exchanges/{symbol}/purchase
func (s *Service) Purchase(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := x.Purchase(r.Context(), req.From, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.PresalePurchases.Inc()
	s.persist(r, x)

	slog.Info("presale purchase",
		"symbol", x.Symbol(),
		"subscriber", req.From,
		"amount", req.Amount.String(),
		"phase", x.Phase().String(),
	)

	// Reaching the target finalizes in the same call.
	if x.Phase() == state.PresaleFinished {
		s.broadcastPhase(x)
	}

	writeJSON(w, x.Info())
}

// CreateOrder handles POST /api/v1/exchanges/{symbol}/orders
func (s *Service) CreateOrder(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Side {
	case model.SideSell:
		err = x.Sell(r.Context(), req.From, req.Price, req.Amount)
	case model.SideBuy:
		err = x.Buy(r.Context(), req.From, req.Price, req.Amount)
	default:
		writeError(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.OrdersTotal.WithLabelValues(req.Side).Inc()
	s.persist(r, x)

	slog.Info("order created",
		"symbol", x.Symbol(),
		"holder", req.From,
		"side", req.Side,
		"price", req.Price.String(),
		"amount", req.Amount.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:   "order",
			Symbol: x.Symbol(),
			Side:   req.Side,
			Price:  req.Price.String(),
			Amount: req.Amount.String(),
			Holder: req.From,
		})
	}

	w.WriteHeader(http.StatusCreated)
}

// AcceptOrder handles POST /api/v1/exchanges/{symbol}/accept
func (s *Service) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := x.Accept(r.Context(), req.From, req.Holder, req.Amount, req.Fee)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues(entry.Side).Inc()
	metrics.TradeVolume.WithLabelValues(x.Symbol(), entry.Side).Add(toFloat(entry.Amount))
	s.persist(r, x)

	if err := s.store.InsertTrade(r.Context(), &entry); err != nil {
		slog.Error("failed to record trade", "symbol", x.Symbol(), "err", err)
	}

	slog.Info("order accepted",
		"symbol", x.Symbol(),
		"maker", entry.Maker,
		"taker", entry.Taker,
		"side", entry.Side,
		"price", entry.Price.String(),
		"amount", entry.Amount.String(),
		"tax", entry.Tax.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "trade",
			Symbol:    x.Symbol(),
			Side:      entry.Side,
			Price:     entry.Price.String(),
			Amount:    entry.Amount.String(),
			Holder:    entry.Maker,
			LastPrice: x.LastPrice().String(),
		})
	}

	writeJSON(w, entry)
}

// CancelOrder handles DELETE /api/v1/exchanges/{symbol}/orders
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := x.Cancel(r.Context(), req.From); err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.OrdersCancelled.Inc()
	s.persist(r, x)

	slog.Info("order cancelled", "symbol", x.Symbol(), "holder", req.From)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:   "order_cancelled",
			Symbol: x.Symbol(),
			Holder: req.From,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// Transfer handles POST /api/v1/exchanges/{symbol}/transfer
func (s *Service) Transfer(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := x.Transfer(r.Context(), req.From, req.To, req.Amount, req.Fee); err != nil {
		writeDomainError(w, err)
		return
	}

	s.persist(r, x)

	slog.Info("shares transferred",
		"symbol", x.Symbol(),
		"from", req.From,
		"to", req.To,
		"amount", req.Amount.String(),
	)

	w.WriteHeader(http.StatusNoContent)
}

// Terminate handles POST /api/v1/exchanges/{symbol}/terminate
func (s *Service) Terminate(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := x.Terminate(r.Context(), req.From); err != nil {
		writeDomainError(w, err)
		return
	}

	s.persist(r, x)
	s.broadcastPhase(x)

	slog.Info("exchange terminated", "symbol", x.Symbol(), "phase", x.Phase().String())

	writeJSON(w, x.Info())
}

// Withdraw handles POST /api/v1/exchanges/{symbol}/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := x.Withdraw(r.Context(), req.From); err != nil {
		writeDomainError(w, err)
		return
	}

	s.persist(r, x)

	slog.Info("presale refund withdrawn", "symbol", x.Symbol(), "subscriber", req.From)

	w.WriteHeader(http.StatusNoContent)
}

// --- Read-only views ---

// GetOrders handles GET /api/v1/exchanges/{symbol}/orders
func (s *Service) GetOrders(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	orders := x.Orders()
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, orders)
}

// GetShares handles GET /api/v1/exchanges/{symbol}/shares/{holder}
func (s *Service) GetShares(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	holder := chi.URLParam(r, "holder")
	writeJSON(w, map[string]decimal.Decimal{"shares": x.Shares(holder)})
}

// GetShareholders handles GET /api/v1/exchanges/{symbol}/shareholders
func (s *Service) GetShareholders(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	holders := x.Shareholders()
	if holders == nil {
		holders = []string{}
	}
	writeJSON(w, holders)
}

// GetPrice handles GET /api/v1/exchanges/{symbol}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, map[string]decimal.Decimal{"last_price": x.LastPrice()})
}

// GetTrades handles GET /api/v1/exchanges/{symbol}/trades
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	x, ok := s.lookup(w, r)
	if !ok {
		return
	}
	trades, err := s.store.TradesByExchange(r.Context(), x.Symbol())
	if err != nil {
		writeError(w, "failed to load trade history", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.TradeEntry{}
	}
	writeJSON(w, trades)
}

// --- Helpers ---

func (s *Service) lookup(w http.ResponseWriter, r *http.Request) (*exchange.Exchange, bool) {
	symbol := chi.URLParam(r, "symbol")
	x, err := s.reg.Get(symbol)
	if err != nil {
		writeError(w, "exchange not found: "+symbol, http.StatusNotFound)
		return nil, false
	}
	return x, true
}

// persist saves the instance snapshot; failures are logged, not fatal —
// the engine state remains the runtime source of truth.
func (s *Service) persist(r *http.Request, x *exchange.Exchange) {
	snap := x.Snapshot()
	if err := s.store.SaveExchange(r.Context(), &snap); err != nil {
		slog.Error("failed to persist exchange snapshot", "symbol", x.Symbol(), "err", err)
	}
}

func (s *Service) broadcastPhase(x *exchange.Exchange) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{
		Type:   "phase",
		Symbol: x.Symbol(),
		Phase:  x.Phase().String(),
	})
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, state.ErrNotAvailable),
		errors.Is(err, exchange.ErrActiveOrder),
		errors.Is(err, exchange.ErrNoActiveOrder),
		errors.Is(err, exchange.ErrPresaleClosed),
		errors.Is(err, exchange.ErrNothingToWithdraw),
		errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, registry.ErrSymbolTaken):
		status = http.StatusConflict
	case errors.Is(err, exchange.ErrNotOwner),
		errors.Is(err, registry.ErrNotRoot):
		status = http.StatusForbidden
	case errors.Is(err, fees.ErrInsufficientFee),
		errors.Is(err, payment.ErrInsufficientBalance),
		errors.Is(err, payment.ErrInsufficientAllowance):
		status = http.StatusPaymentRequired
	case errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, fees.ErrInvalidTax),
		errors.Is(err, registry.ErrInvalidIdentity):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrUnknownSymbol):
		status = http.StatusNotFound
	}

	writeError(w, err.Error(), status)
}
