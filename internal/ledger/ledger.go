// Package ledger owns the authoritative in-memory state of the position
// engine: orders, positions, transactions and accounts. Every customer has
// one book guarded by its own mutex; an execution mutates the order, the
// position, the account and the transaction log under that lock, after all
// validation has passed, so no reader ever observes a partial execution.
package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-engine/internal/metrics"
	"github.com/atmx/position-engine/internal/model"
	"github.com/atmx/position-engine/internal/risk"
	"github.com/atmx/position-engine/internal/stats"
)

// CloseOrderPrefix marks the OrderID of close transactions.
const CloseOrderPrefix = "CLOSE_"

// TxSink receives every committed transaction. Implementations must not
// block; they are called after the book lock is released.
type TxSink interface {
	RecordTransaction(tx model.Transaction)
}

// AlertSink receives alerts raised by risk re-evaluation. Implementations
// must not block.
type AlertSink interface {
	PublishAlerts(alerts []model.Alert)
}

// Config holds ledger-wide settings.
type Config struct {
	// CommissionRate is charged on quantity × price of every fill and close.
	CommissionRate decimal.Decimal `yaml:"commission_rate"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{CommissionRate: decimal.RequireFromString("0.001")}
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDs replaces the entity and transaction id generators.
func WithIDs(entity, tx func() string) Option {
	return func(l *Ledger) {
		if entity != nil {
			l.newID = entity
		}
		if tx != nil {
			l.newTxID = tx
		}
	}
}

// WithTxSink registers a sink for committed transactions.
func WithTxSink(s TxSink) Option {
	return func(l *Ledger) { l.txSink = s }
}

// WithAlertSink registers a sink for raised alerts.
func WithAlertSink(s AlertSink) Option {
	return func(l *Ledger) { l.alertSink = s }
}

// WithLogger replaces slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

type book struct {
	mu        sync.Mutex
	account   model.Account
	orders    *OrderManager
	positions *PositionLedger
	txlog     *TransactionLog

	// active holds the keys of the alert conditions that held at the last
	// evaluation; they are not raised again until they clear.
	active map[string]bool
}

// Ledger is the ledger context. It is safe for concurrent use.
type Ledger struct {
	cfg       Config
	risk      *risk.Engine
	log       *slog.Logger
	now       func() time.Time
	newID     func() string
	newTxID   func() string
	txSink    TxSink
	alertSink AlertSink

	// mu guards the maps below. It is never held while acquiring a book
	// lock.
	mu            sync.RWMutex
	books         map[string]*book
	orderOwner    map[string]string
	positionOwner map[string]string
	prices        map[string]decimal.Decimal
}

// New creates an empty ledger evaluated by engine.
func New(cfg Config, engine *risk.Engine, opts ...Option) (*Ledger, error) {
	if cfg.CommissionRate.IsNegative() {
		return nil, fmt.Errorf("%w: commission rate %s must not be negative", ErrValidation, cfg.CommissionRate)
	}
	if engine == nil {
		engine = risk.NewEngine(risk.DefaultConfig(), nil)
	}
	l := &Ledger{
		cfg:           cfg,
		risk:          engine,
		log:           slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         NewEntityID,
		newTxID:       NewTransactionID,
		books:         make(map[string]*book),
		orderOwner:    make(map[string]string),
		positionOwner: make(map[string]string),
		prices:        make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Risk returns the engine the ledger evaluates with.
func (l *Ledger) Risk() *risk.Engine {
	return l.risk
}

// --- lookups ---

func (l *Ledger) book(customerID string) (*book, error) {
	l.mu.RLock()
	b, ok := l.books[customerID]
	l.mu.RUnlock()
	if !ok {
		return nil, notFound("account", customerID)
	}
	return b, nil
}

func (l *Ledger) bookFor(index map[string]string, kind, id string) (*book, error) {
	l.mu.RLock()
	customerID, ok := index[id]
	var b *book
	if ok {
		b = l.books[customerID]
	}
	l.mu.RUnlock()
	if b == nil {
		return nil, notFound(kind, id)
	}
	return b, nil
}

func (l *Ledger) allBooks() []*book {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*book, 0, len(l.books))
	for _, b := range l.books {
		out = append(out, b)
	}
	return out
}

// lastPrice returns the most recent refreshed price for instrument.
func (l *Ledger) lastPrice(instrument string) (decimal.Decimal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.prices[instrument]
	return p, ok
}

// --- accounts ---

// OpenAccount provisions an account for a customer. A customer may hold
// only one account.
func (l *Ledger) OpenAccount(customerID, name string, initialBalance decimal.Decimal) (model.Account, error) {
	acct, err := NewAccount(l.newID(), customerID, name, initialBalance, l.now())
	if err != nil {
		return model.Account{}, err
	}

	l.mu.Lock()
	if _, exists := l.books[acct.CustomerID]; exists {
		l.mu.Unlock()
		return model.Account{}, fmt.Errorf("%w: account for customer %q already exists", ErrValidation, acct.CustomerID)
	}
	l.books[acct.CustomerID] = &book{
		account:   acct,
		orders:    NewOrderManager(l.now),
		positions: NewPositionLedger(l.cfg.CommissionRate, l.now, l.newID),
		txlog:     NewTransactionLog(l.now),
	}
	l.mu.Unlock()

	metrics.Accounts.Inc()
	l.log.Info("account opened",
		"customer", acct.CustomerID,
		"account", acct.ID,
		"balance", acct.Balance.String(),
	)
	return acct, nil
}

// Account returns a copy of the customer's account.
func (l *Ledger) Account(customerID string) (model.Account, error) {
	b, err := l.book(customerID)
	if err != nil {
		return model.Account{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account, nil
}

// Customers returns every customer id with an account, sorted.
func (l *Ledger) Customers() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.books))
	for id := range l.books {
		out = append(out, id)
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ComputeEquity returns balance + Σ unrealized P&L marked at prices.
// Positions on instruments missing from prices keep their last unrealized
// P&L. Nothing is mutated.
func (l *Ledger) ComputeEquity(customerID string, prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	b, err := l.book(customerID)
	if err != nil {
		return decimal.Zero, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	equity, _ := ComputeEquity(b.account, b.positions.List(), prices)
	return equity, nil
}

// --- orders ---

// CreateOrder validates an intent, gates it through the risk engine and
// stores a pending order. The gate prices the order at the intent's limit
// price, else its stop price, else the instrument's last refreshed price.
// A gate failure returns the decision together with ErrInsufficientMargin
// or ErrRiskRejected and stores nothing.
func (l *Ledger) CreateOrder(in OrderIntent) (model.Order, risk.Decision, error) {
	order, err := NewOrder(in, l.risk.Config().MaxLeverage, l.newID(), l.now())
	if err != nil {
		metrics.OrdersTotal.WithLabelValues("invalid").Inc()
		return model.Order{}, risk.Decision{}, err
	}

	b, err := l.book(order.CustomerID)
	if err != nil {
		return model.Order{}, risk.Decision{}, err
	}

	ref := order.Price
	if ref.IsZero() {
		ref = order.StopPrice
	}
	if ref.IsZero() {
		last, ok := l.lastPrice(order.Instrument)
		if !ok {
			metrics.OrdersTotal.WithLabelValues("invalid").Inc()
			return model.Order{}, risk.Decision{}, fmt.Errorf("%w: no reference price for %s", ErrValidation, order.Instrument)
		}
		ref = last
	}

	b.mu.Lock()
	decision := l.risk.CanOpenPosition(b.account, order.Instrument, order.Quantity, ref, order.Leverage)
	if !decision.Allowed {
		b.mu.Unlock()
		for _, v := range decision.Violations {
			metrics.GateRejections.WithLabelValues(v.Code).Inc()
		}
		metrics.OrdersTotal.WithLabelValues("gated").Inc()
		l.log.Warn("order refused by risk gate",
			"customer", order.CustomerID,
			"instrument", order.Instrument,
			"reason", decision.Reason,
		)
		return model.Order{}, decision, decision.Err()
	}
	b.orders.Add(order)
	b.mu.Unlock()

	l.mu.Lock()
	l.orderOwner[order.ID] = order.CustomerID
	l.mu.Unlock()

	metrics.OrdersTotal.WithLabelValues("created").Inc()
	l.log.Info("order created",
		"order", order.ID,
		"customer", order.CustomerID,
		"instrument", order.Instrument,
		"side", order.Side,
		"quantity", order.Quantity.String(),
		"leverage", order.Leverage.String(),
	)
	return order, decision, nil
}

// Order returns a copy of the order.
func (l *Ledger) Order(orderID string) (model.Order, error) {
	b, err := l.bookFor(l.orderOwner, "order", orderID)
	if err != nil {
		return model.Order{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders.Get(orderID)
	if !ok {
		return model.Order{}, notFound("order", orderID)
	}
	return o, nil
}

// Orders returns the customer's orders created within q.
func (l *Ledger) Orders(customerID string, q Query) ([]model.Order, error) {
	b, err := l.book(customerID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders.List(q), nil
}

// CancelOrder cancels a pending or partially filled order. Fills already
// applied stay in place.
func (l *Ledger) CancelOrder(orderID, reason string) (model.Order, error) {
	return l.finishOrder(orderID, reason, "cancelled", (*OrderManager).Cancel)
}

// RejectOrder rejects a pending or partially filled order.
func (l *Ledger) RejectOrder(orderID, reason string) (model.Order, error) {
	return l.finishOrder(orderID, reason, "rejected", (*OrderManager).Reject)
}

func (l *Ledger) finishOrder(orderID, reason, outcome string, fn func(*OrderManager, string, string) (model.Order, error)) (model.Order, error) {
	b, err := l.bookFor(l.orderOwner, "order", orderID)
	if err != nil {
		return model.Order{}, err
	}
	b.mu.Lock()
	o, err := fn(b.orders, orderID, reason)
	b.mu.Unlock()
	if err != nil {
		return model.Order{}, err
	}
	metrics.OrdersTotal.WithLabelValues(outcome).Inc()
	l.log.Info("order "+outcome, "order", orderID, "customer", o.CustomerID, "reason", reason)
	return o, nil
}

// --- execution ---

// Execution is the committed result of one fill.
type Execution struct {
	Order       model.Order       `json:"order"`
	Position    model.Position    `json:"position"`
	Transaction model.Transaction `json:"transaction"`
	Account     model.Account     `json:"account"`
	Alerts      []model.Alert     `json:"alerts,omitempty"`
}

// ExecuteOrder fills an order at price. A null quantity fills the unfilled
// remainder. The order update, position merge, account update and
// transaction append happen atomically; any validation failure leaves
// every record untouched.
func (l *Ledger) ExecuteOrder(orderID string, price decimal.Decimal, quantity decimal.NullDecimal) (Execution, error) {
	b, err := l.bookFor(l.orderOwner, "order", orderID)
	if err != nil {
		return Execution{}, err
	}

	start := time.Now()
	b.mu.Lock()

	order, ok := b.orders.Get(orderID)
	if !ok {
		b.mu.Unlock()
		return Execution{}, notFound("order", orderID)
	}
	qty := order.Remaining()
	if quantity.Valid {
		qty = quantity.Decimal
	}
	if err := b.orders.CheckFill(orderID, qty, price); err != nil {
		b.mu.Unlock()
		return Execution{}, err
	}
	txID := l.newTxID()
	if txID == "" || b.txlog.Contains(txID) {
		b.mu.Unlock()
		return Execution{}, fmt.Errorf("%w: transaction id %q is empty or not unique", ErrValidation, txID)
	}

	// Validation complete; nothing below can fail.
	now := l.now()
	amount := qty.Mul(price)
	commission := amount.Mul(l.cfg.CommissionRate)

	order = b.orders.ApplyFill(orderID, qty, price, commission)
	_, existed := b.positions.Lookup(order.Instrument, order.Side)
	pos := b.positions.OpenOrMerge(Fill{
		CustomerID:     order.CustomerID,
		Instrument:     order.Instrument,
		InstrumentType: order.InstrumentType,
		Side:           order.Side,
		Quantity:       qty,
		Price:          price,
		Leverage:       order.Leverage,
	})

	tx := model.Transaction{
		ID:         txID,
		CustomerID: order.CustomerID,
		OrderID:    order.ID,
		PositionID: pos.ID,
		Instrument: order.Instrument,
		Type:       model.TxOpenPosition,
		Quantity:   qty,
		Price:      price,
		Amount:     amount,
		Commission: commission,
		PnL:        decimal.Zero,
		Timestamp:  now,
	}
	_ = ApplyTransaction(&b.account, &tx) // account exists for every book
	tx, _ = b.txlog.Append(tx)             // id checked above

	positions := b.positions.List()
	Revalue(&b.account, positions)
	alerts := l.evaluate(b, positions)

	exec := Execution{
		Order:       order,
		Position:    *pos,
		Transaction: tx,
		Account:     b.account,
		Alerts:      alerts,
	}
	b.mu.Unlock()

	if !existed {
		l.mu.Lock()
		l.positionOwner[exec.Position.ID] = order.CustomerID
		l.mu.Unlock()
		metrics.OpenPositions.Inc()
	}
	metrics.ExecutionsTotal.WithLabelValues(string(order.Side)).Inc()
	metrics.ExecutionLatency.WithLabelValues(string(order.Side)).Observe(time.Since(start).Seconds())

	l.log.Info("order executed",
		"order", order.ID,
		"customer", order.CustomerID,
		"instrument", order.Instrument,
		"quantity", qty.String(),
		"price", price.String(),
		"status", order.Status,
		"position", exec.Position.ID,
		"balance", tx.BalanceAfter.String(),
	)
	l.dispatch(tx, alerts)
	return exec, nil
}

// Close is the committed result of a position close.
type Close struct {
	Transaction model.Transaction `json:"transaction"`
	GrossPnL    decimal.Decimal   `json:"gross_pnl"`
	Commission  decimal.Decimal   `json:"commission"`
	NetPnL      decimal.Decimal   `json:"net_pnl"`
	Position    model.Position    `json:"position"`
	Removed     bool              `json:"removed"`
	Account     model.Account     `json:"account"`
	Alerts      []model.Alert     `json:"alerts,omitempty"`
}

// ClosePosition realizes quantity units of a position at price. A null
// quantity closes the whole position. The close transaction carries the
// gross P&L and references the position through CloseOrderPrefix.
func (l *Ledger) ClosePosition(positionID string, price decimal.Decimal, quantity decimal.NullDecimal) (Close, error) {
	b, err := l.bookFor(l.positionOwner, "position", positionID)
	if err != nil {
		return Close{}, err
	}

	b.mu.Lock()
	p, ok := b.positions.Get(positionID)
	if !ok {
		b.mu.Unlock()
		return Close{}, notFound("position", positionID)
	}
	qty := p.Quantity
	if quantity.Valid {
		qty = quantity.Decimal
	}
	if err := b.positions.CheckClose(positionID, qty, price); err != nil {
		b.mu.Unlock()
		return Close{}, err
	}
	txID := l.newTxID()
	if txID == "" || b.txlog.Contains(txID) {
		b.mu.Unlock()
		return Close{}, fmt.Errorf("%w: transaction id %q is empty or not unique", ErrValidation, txID)
	}

	res, _ := b.positions.Close(positionID, qty, price) // checked above
	tx := model.Transaction{
		ID:         txID,
		CustomerID: res.Position.CustomerID,
		OrderID:    CloseOrderPrefix + positionID,
		PositionID: positionID,
		Instrument: res.Position.Instrument,
		Type:       model.TxClosePosition,
		Quantity:   qty,
		Price:      price,
		Amount:     qty.Mul(price),
		Commission: res.Commission,
		PnL:        res.GrossPnL,
		Timestamp:  l.now(),
	}
	_ = ApplyTransaction(&b.account, &tx)
	tx, _ = b.txlog.Append(tx)

	positions := b.positions.List()
	Revalue(&b.account, positions)
	alerts := l.evaluate(b, positions)

	out := Close{
		Transaction: tx,
		GrossPnL:    res.GrossPnL,
		Commission:  res.Commission,
		NetPnL:      res.NetPnL,
		Position:    res.Position,
		Removed:     res.Removed,
		Account:     b.account,
		Alerts:      alerts,
	}
	b.mu.Unlock()

	if res.Removed {
		l.mu.Lock()
		delete(l.positionOwner, positionID)
		l.mu.Unlock()
		metrics.OpenPositions.Dec()
	}
	metrics.ClosesTotal.WithLabelValues(closeResult(res.GrossPnL)).Inc()

	l.log.Info("position closed",
		"position", positionID,
		"customer", tx.CustomerID,
		"instrument", tx.Instrument,
		"quantity", qty.String(),
		"price", price.String(),
		"gross_pnl", res.GrossPnL.String(),
		"net_pnl", res.NetPnL.String(),
		"removed", res.Removed,
	)
	l.dispatch(tx, alerts)
	return out, nil
}

func closeResult(pnl decimal.Decimal) string {
	switch pnl.Sign() {
	case 1:
		return "win"
	case -1:
		return "loss"
	}
	return "flat"
}

// --- prices ---

// RefreshPrices marks every open position on the given instruments and
// re-evaluates the affected accounts. Each customer's book is locked in
// turn, so a refresh never interleaves with an execution on the same book.
// It returns the alerts raised.
func (l *Ledger) RefreshPrices(prices map[string]decimal.Decimal) ([]model.Alert, error) {
	marks := make(map[string]decimal.Decimal, len(prices))
	var problems []string
	for symbol, price := range prices {
		instrument, err := model.NormalizeSymbol(symbol)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if !price.IsPositive() {
			problems = append(problems, fmt.Sprintf("price %s for %s must be positive", price, instrument))
			continue
		}
		marks[instrument] = price
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, validationError(problems)
	}
	if len(marks) == 0 {
		return nil, nil
	}

	l.mu.Lock()
	for instrument, price := range marks {
		l.prices[instrument] = price
	}
	l.mu.Unlock()

	var raised []model.Alert
	for _, b := range l.allBooks() {
		b.mu.Lock()
		touched := false
		for instrument, price := range marks {
			if len(b.positions.RefreshPrice(instrument, price)) > 0 {
				touched = true
			}
		}
		var alerts []model.Alert
		if touched {
			positions := b.positions.List()
			Revalue(&b.account, positions)
			b.account.UpdatedAt = l.now()
			alerts = l.evaluate(b, positions)
		}
		b.mu.Unlock()

		if len(alerts) > 0 {
			raised = append(raised, alerts...)
		}
	}

	metrics.PriceRefreshes.Inc()
	l.log.Debug("prices refreshed", "instruments", len(marks), "alerts", len(raised))
	if len(raised) > 0 && l.alertSink != nil {
		l.alertSink.PublishAlerts(raised)
	}
	return raised, nil
}

// Prices returns a copy of the last refreshed price per instrument.
func (l *Ledger) Prices() map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(l.prices))
	for k, v := range l.prices {
		out[k] = v
	}
	return out
}

// --- queries ---

// Positions returns copies of the customer's open positions.
func (l *Ledger) Positions(customerID string) ([]model.Position, error) {
	b, err := l.book(customerID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions.List(), nil
}

// Position returns a copy of an open position.
func (l *Ledger) Position(positionID string) (model.Position, error) {
	b, err := l.bookFor(l.positionOwner, "position", positionID)
	if err != nil {
		return model.Position{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions.Get(positionID)
	if !ok {
		return model.Position{}, notFound("position", positionID)
	}
	return *p, nil
}

// Transactions returns the customer's transactions within q.
func (l *Ledger) Transactions(customerID string, q Query) ([]model.Transaction, error) {
	b, err := l.book(customerID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txlog.Query(q), nil
}

// Statistics aggregates the customer's transactions within q.
func (l *Ledger) Statistics(customerID string, q Query) (stats.Statistics, error) {
	txs, err := l.Transactions(customerID, q)
	if err != nil {
		return stats.Statistics{}, err
	}
	return stats.Compute(txs), nil
}

// SystemStatistics aggregates every customer's transactions within q.
func (l *Ledger) SystemStatistics(q Query) stats.Statistics {
	var all []model.Transaction
	for _, b := range l.allBooks() {
		b.mu.Lock()
		all = append(all, b.txlog.Query(q)...)
		b.mu.Unlock()
	}
	return stats.Compute(all)
}

// RecalculateStatistics rebuilds the account's trade counters and realized
// P&L from its transaction log and returns the corrected account.
func (l *Ledger) RecalculateStatistics(customerID string) (model.Account, error) {
	b, err := l.book(customerID)
	if err != nil {
		return model.Account{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s := stats.Compute(b.txlog.Query(Query{}))
	b.account.TotalTrades = s.TotalTrades
	b.account.WinningTrades = s.WinningTrades
	b.account.LosingTrades = s.LosingTrades
	b.account.RealizedPnL = s.TotalPnL
	b.account.UpdatedAt = l.now()

	l.log.Info("statistics recalculated",
		"customer", customerID,
		"total_trades", s.TotalTrades,
		"realized_pnl", s.TotalPnL.String(),
	)
	return b.account, nil
}

// --- risk ---

// PositionRisk is a position's risk snapshot.
type PositionRisk struct {
	Position model.Position  `json:"position"`
	Score    decimal.Decimal `json:"score"`
	Alerts   []model.Alert   `json:"alerts"`
}

// AccountRisk is an account's risk snapshot.
type AccountRisk struct {
	Account       model.Account   `json:"account"`
	Score         decimal.Decimal `json:"score"`
	TotalExposure decimal.Decimal `json:"total_exposure"`
	Drawdown      decimal.Decimal `json:"drawdown"`
	Positions     int             `json:"positions"`
	Alerts        []model.Alert   `json:"alerts"`
}

// PositionRisk scores a position and lists the alerts it would raise now.
// Nothing is dispatched.
func (l *Ledger) PositionRisk(positionID string) (PositionRisk, error) {
	p, err := l.Position(positionID)
	if err != nil {
		return PositionRisk{}, err
	}
	return PositionRisk{
		Position: p,
		Score:    l.risk.PositionRiskScore(p),
		Alerts:   nonNil(l.risk.CheckPositionRisk(p)),
	}, nil
}

// AccountRisk scores an account and lists the account-level alerts it
// would raise now. Nothing is dispatched.
func (l *Ledger) AccountRisk(customerID string) (AccountRisk, error) {
	b, err := l.book(customerID)
	if err != nil {
		return AccountRisk{}, err
	}
	b.mu.Lock()
	acct := b.account
	positions := b.positions.List()
	b.mu.Unlock()

	dd, _ := risk.Drawdown(acct)
	return AccountRisk{
		Account:       acct,
		Score:         l.risk.AccountRiskScore(acct),
		TotalExposure: risk.TotalExposure(positions),
		Drawdown:      dd,
		Positions:     len(positions),
		Alerts:        nonNil(l.risk.CheckAccountRisk(acct, positions)),
	}, nil
}

// evaluate runs position and account checks and returns the alerts whose
// condition did not already hold at the previous evaluation. Callers hold
// the book lock.
func (l *Ledger) evaluate(b *book, positions []model.Position) []model.Alert {
	var all []model.Alert
	for _, p := range positions {
		all = append(all, l.risk.CheckPositionRisk(p)...)
	}
	all = append(all, l.risk.CheckAccountRisk(b.account, positions)...)

	active := make(map[string]bool, len(all))
	var fresh []model.Alert
	for _, al := range all {
		key := alertKey(al)
		active[key] = true
		if b.active[key] {
			continue
		}
		metrics.AlertsTotal.WithLabelValues(al.Type, string(al.Severity)).Inc()
		fresh = append(fresh, al)
	}
	b.active = active
	return fresh
}

// alertKey identifies an alert condition: its type, plus the position for
// position-level alerts.
func alertKey(a model.Alert) string {
	if id, ok := a.Data["position_id"].(string); ok {
		return a.Type + "/" + id
	}
	return a.Type
}

func (l *Ledger) dispatch(tx model.Transaction, alerts []model.Alert) {
	if l.txSink != nil {
		l.txSink.RecordTransaction(tx)
	}
	if len(alerts) > 0 && l.alertSink != nil {
		l.alertSink.PublishAlerts(alerts)
	}
}

func nonNil(alerts []model.Alert) []model.Alert {
	if alerts == nil {
		return []model.Alert{}
	}
	return alerts
}

// ParseSide accepts buy/sell in any case, plus the long/short aliases.
func ParseSide(s string) (model.Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return model.SideBuy, nil
	case "sell", "short":
		return model.SideSell, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrValidation, s)
}
