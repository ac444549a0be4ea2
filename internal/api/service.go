// Package api provides the HTTP handlers for provisioning accounts,
// creating and executing orders, closing positions and querying the
// ledger, statistics, risk and alerts.
//
// All monetary values use shopspring/decimal; they travel as JSON strings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atmx/position-engine/internal/alerts"
	"github.com/atmx/position-engine/internal/ledger"
	"github.com/atmx/position-engine/internal/model"
	"github.com/atmx/position-engine/internal/risk"
)

// PricePublisher mirrors manually pushed prices back to the price source,
// so the next poll does not undo them.
type PricePublisher interface {
	Publish(ctx context.Context, instrument string, price decimal.Decimal) error
}

// Service serves the ledger over HTTP.
type Service struct {
	ledger   *ledger.Ledger
	history  *alerts.History
	wsHub    *WSHub         // optional WebSocket hub for real-time broadcasts
	prices   PricePublisher // optional
	validate *validator.Validate
}

// NewService creates a new API service.
// Pass nil for hub or prices if they are not configured.
func NewService(l *ledger.Ledger, history *alerts.History, hub *WSHub, prices PricePublisher) *Service {
	return &Service{
		ledger:   l,
		history:  history,
		wsHub:    hub,
		prices:   prices,
		validate: newValidator(),
	}
}

// Routes mounts the API under r. It expects to be mounted at /api/v1.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Post("/accounts", s.OpenAccount)
	r.Get("/accounts/{customerID}", s.GetAccount)

	r.Post("/orders", s.CreateOrder)
	r.Get("/orders/{orderID}", s.GetOrder)
	r.Post("/orders/{orderID}/execute", s.ExecuteOrder)
	r.Post("/orders/{orderID}/cancel", s.CancelOrder)
	r.Post("/orders/{orderID}/reject", s.RejectOrder)

	r.Get("/positions/{positionID}", s.GetPosition)
	r.Post("/positions/{positionID}/close", s.ClosePosition)
	r.Get("/positions/{positionID}/risk", s.GetPositionRisk)

	r.Route("/customers/{customerID}", func(r chi.Router) {
		r.Get("/orders", s.ListOrders)
		r.Get("/positions", s.ListPositions)
		r.Get("/transactions", s.ListTransactions)
		r.Get("/statistics", s.GetStatistics)
		r.Get("/risk", s.GetAccountRisk)
		r.Get("/alerts", s.ListAlerts)
		r.Post("/recalculate", s.Recalculate)
	})

	r.Post("/alerts/{alertID}/ack", s.AcknowledgeAlert)
	r.Get("/statistics", s.GetSystemStatistics)
	r.Get("/prices", s.GetPrices)
	r.Post("/prices", s.PushPrices)
}

// --- Request/Response types ---

// OpenAccountRequest is the JSON body for POST /accounts.
type OpenAccountRequest struct {
	CustomerID     string          `json:"customer_id" validate:"required,max=64"`
	CustomerName   string          `json:"customer_name" validate:"max=128"`
	InitialBalance decimal.Decimal `json:"initial_balance" validate:"gte=0"`
}

// CreateOrderRequest is the JSON body for POST /orders.
type CreateOrderRequest struct {
	CustomerID     string           `json:"customer_id" validate:"required,max=64"`
	Instrument     string           `json:"instrument" validate:"required,max=32"`
	InstrumentType string           `json:"instrument_type" validate:"required"`
	OrderType      string           `json:"order_type" validate:"omitempty,oneof=market limit stop stop_limit"`
	Side           string           `json:"side" validate:"required"`
	Quantity       decimal.Decimal  `json:"quantity" validate:"gt=0"`
	Price          *decimal.Decimal `json:"price,omitempty" validate:"omitempty,gt=0"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty" validate:"omitempty,gt=0"`
	Leverage       decimal.Decimal  `json:"leverage" validate:"gte=0"` // 0 → 1
	Notes          string           `json:"notes" validate:"max=512"`
}

// CreateOrderResponse is returned from POST /orders. Decision is also
// returned when the risk gate refuses the order.
type CreateOrderResponse struct {
	Order    *model.Order  `json:"order,omitempty"`
	Decision risk.Decision `json:"decision"`
	Error    string        `json:"error,omitempty"`
}

// FillRequest is the JSON body for order execution and position closes.
// A missing quantity means the whole remainder.
type FillRequest struct {
	Price    decimal.Decimal  `json:"price" validate:"gt=0"`
	Quantity *decimal.Decimal `json:"quantity,omitempty" validate:"omitempty,gt=0"`
}

// ReasonRequest is the optional JSON body for cancel and reject.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

// PricesRequest is the JSON body for POST /prices.
type PricesRequest struct {
	Prices map[string]decimal.Decimal `json:"prices" validate:"required,min=1"`
}

// --- HTTP Handlers ---

// OpenAccount handles POST /api/v1/accounts
func (s *Service) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	acct, err := s.ledger.OpenAccount(req.CustomerID, req.CustomerName, req.InitialBalance)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// GetAccount handles GET /api/v1/accounts/{customerID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Account(chi.URLParam(r, "customerID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// CreateOrder handles POST /api/v1/orders
// The order is gated by the risk engine; a refusal returns 422 with the
// decision and stores nothing.
func (s *Service) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	side, err := ledger.ParseSide(req.Side)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	instrumentType, err := model.ParseInstrumentType(req.InstrumentType)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	order, decision, err := s.ledger.CreateOrder(ledger.OrderIntent{
		CustomerID:     req.CustomerID,
		Instrument:     req.Instrument,
		InstrumentType: instrumentType,
		Type:           model.OrderType(req.OrderType),
		Side:           side,
		Quantity:       req.Quantity,
		Price:          nullable(req.Price),
		StopPrice:      nullable(req.StopPrice),
		Leverage:       req.Leverage,
		Notes:          req.Notes,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientMargin) || errors.Is(err, ledger.ErrRiskRejected) {
			writeJSON(w, http.StatusUnprocessableEntity, CreateOrderResponse{Decision: decision, Error: err.Error()})
			return
		}
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResponse{Order: &order, Decision: decision})
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.ledger.Order(chi.URLParam(r, "orderID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListOrders handles GET /api/v1/customers/{customerID}/orders?from&to&order
// Newest first unless order=asc.
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	orders, err := s.ledger.Orders(chi.URLParam(r, "customerID"), q)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// ExecuteOrder handles POST /api/v1/orders/{orderID}/execute
func (s *Service) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	exec, err := s.ledger.ExecuteOrder(chi.URLParam(r, "orderID"), req.Price, nullable(req.Quantity))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: MsgExecution, CustomerID: exec.Order.CustomerID, Transaction: &exec.Transaction})
	}
	writeJSON(w, http.StatusOK, exec)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	s.finishOrder(w, r, s.ledger.CancelOrder)
}

// RejectOrder handles POST /api/v1/orders/{orderID}/reject
func (s *Service) RejectOrder(w http.ResponseWriter, r *http.Request) {
	s.finishOrder(w, r, s.ledger.RejectOrder)
}

func (s *Service) finishOrder(w http.ResponseWriter, r *http.Request, fn func(orderID, reason string) (model.Order, error)) {
	var req ReasonRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	order, err := fn(chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListPositions handles GET /api/v1/customers/{customerID}/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.ledger.Positions(chi.URLParam(r, "customerID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPosition handles GET /api/v1/positions/{positionID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.ledger.Position(chi.URLParam(r, "positionID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ClosePosition handles POST /api/v1/positions/{positionID}/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	res, err := s.ledger.ClosePosition(chi.URLParam(r, "positionID"), req.Price, nullable(req.Quantity))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: MsgClose, CustomerID: res.Transaction.CustomerID, Transaction: &res.Transaction})
	}
	writeJSON(w, http.StatusOK, res)
}

// GetPositionRisk handles GET /api/v1/positions/{positionID}/risk
func (s *Service) GetPositionRisk(w http.ResponseWriter, r *http.Request) {
	pr, err := s.ledger.PositionRisk(chi.URLParam(r, "positionID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// ListTransactions handles GET /api/v1/customers/{customerID}/transactions?from&to&order
// Newest first unless order=asc.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	txs, err := s.ledger.Transactions(chi.URLParam(r, "customerID"), q)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetStatistics handles GET /api/v1/customers/{customerID}/statistics?from&to
func (s *Service) GetStatistics(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	st, err := s.ledger.Statistics(chi.URLParam(r, "customerID"), q)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetSystemStatistics handles GET /api/v1/statistics?from&to
func (s *Service) GetSystemStatistics(w http.ResponseWriter, r *http.Request) {
	q, ok := parseQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.SystemStatistics(q))
}

// Recalculate handles POST /api/v1/customers/{customerID}/recalculate
// Rebuilds the account's trade counters from its transaction log.
func (s *Service) Recalculate(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.RecalculateStatistics(chi.URLParam(r, "customerID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// GetAccountRisk handles GET /api/v1/customers/{customerID}/risk
func (s *Service) GetAccountRisk(w http.ResponseWriter, r *http.Request) {
	ar, err := s.ledger.AccountRisk(chi.URLParam(r, "customerID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ar)
}

// ListAlerts handles GET /api/v1/customers/{customerID}/alerts?pending=true
func (s *Service) ListAlerts(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	if _, err := s.ledger.Account(customerID); err != nil {
		writeLedgerError(w, err)
		return
	}
	pending, _ := strconv.ParseBool(r.URL.Query().Get("pending"))
	var list []model.Alert
	if s.history != nil {
		list = s.history.List(customerID, pending)
	}
	if list == nil {
		list = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

// AcknowledgeAlert handles POST /api/v1/alerts/{alertID}/ack
func (s *Service) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, "alert history is not enabled", http.StatusNotFound)
		return
	}
	a, err := s.history.Acknowledge(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetPrices handles GET /api/v1/prices
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Prices())
}

// PushPrices handles POST /api/v1/prices
// Marks the ledger to the given prices and returns the alerts raised.
func (s *Service) PushPrices(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	raised, err := s.ledger.RefreshPrices(req.Prices)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	if s.prices != nil {
		for instrument, price := range req.Prices {
			if err := s.prices.Publish(r.Context(), strings.ToUpper(strings.TrimSpace(instrument)), price); err != nil {
				slog.Warn("price mirror failed", "instrument", instrument, "err", err)
			}
		}
	}
	if s.wsHub != nil {
		s.wsHub.BroadcastPrices(req.Prices)
	}
	if raised == nil {
		raised = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": len(req.Prices), "alerts": raised})
}

// --- helpers ---

// decode reads and validates a JSON body. With optional set, an empty body
// is accepted.
func (s *Service) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return false
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Decimals are compared numerically by the gt/gte tags.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fe.Field() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		parts = append(parts, msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// parseQuery reads from/to (RFC 3339) and order (asc|desc, default desc).
func parseQuery(w http.ResponseWriter, r *http.Request) (ledger.Query, bool) {
	q := ledger.Query{Descending: true}
	params := r.URL.Query()
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		if v := params.Get(bound.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, bound.name+" must be an RFC 3339 timestamp", http.StatusBadRequest)
				return q, false
			}
			*bound.dst = t.UTC()
		}
	}
	switch params.Get("order") {
	case "", "desc":
	case "asc":
		q.Descending = false
	default:
		writeError(w, "order must be asc or desc", http.StatusBadRequest)
		return q, false
	}
	return q, true
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientMargin), errors.Is(err, ledger.ErrRiskRejected):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeLedgerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
