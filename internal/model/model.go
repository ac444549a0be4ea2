// Package model defines the core domain types shared across the position engine.
// All monetary values and quantities use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "buy"  // long
	SideSell Side = "sell" // short
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType selects which prices an order must carry.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// RequiresPrice reports whether the order type needs a limit price.
func (t OrderType) RequiresPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// RequiresStopPrice reports whether the order type needs a stop trigger price.
func (t OrderType) RequiresStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further fills can be applied.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// TransactionType distinguishes opening fills from closes.
type TransactionType string

const (
	TxOpenPosition  TransactionType = "open_position"
	TxClosePosition TransactionType = "close_position"
)

// Order is a customer request to open (or add to) a leveraged position.
// Identity fields never change after creation; fills only move
// FilledQuantity, AverageFillPrice, Commission and Status.
type Order struct {
	ID               string          `json:"id" db:"id"`
	CustomerID       string          `json:"customer_id" db:"customer_id"`
	Instrument       string          `json:"instrument" db:"instrument"`
	InstrumentType   InstrumentType  `json:"instrument_type" db:"instrument_type"`
	Type             OrderType       `json:"order_type" db:"order_type"`
	Side             Side            `json:"side" db:"side"`
	Quantity         decimal.Decimal `json:"quantity" db:"quantity"`
	Price            decimal.Decimal `json:"price,omitempty" db:"price"` // zero when absent
	StopPrice        decimal.Decimal `json:"stop_price,omitempty" db:"stop_price"`
	Leverage         decimal.Decimal `json:"leverage" db:"leverage"`
	FilledQuantity   decimal.Decimal `json:"filled_quantity" db:"filled_quantity"`
	AverageFillPrice decimal.Decimal `json:"average_fill_price" db:"average_fill_price"`
	Commission       decimal.Decimal `json:"commission" db:"commission"`
	Status           OrderStatus     `json:"status" db:"status"`
	Notes            string          `json:"notes,omitempty" db:"notes"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Position is an aggregated holding keyed by (customer, instrument, side).
// A position whose quantity reaches zero is removed; its history lives
// only in the transaction log.
type Position struct {
	ID             string          `json:"id" db:"id"`
	CustomerID     string          `json:"customer_id" db:"customer_id"`
	Instrument     string          `json:"instrument" db:"instrument"`
	InstrumentType InstrumentType  `json:"instrument_type" db:"instrument_type"`
	Side           Side            `json:"side" db:"side"`
	Quantity       decimal.Decimal `json:"quantity" db:"quantity"`
	EntryPrice     decimal.Decimal `json:"entry_price" db:"entry_price"` // weighted average
	Leverage       decimal.Decimal `json:"leverage" db:"leverage"`
	MarginUsed     decimal.Decimal `json:"margin_used" db:"margin_used"`
	CurrentPrice   decimal.Decimal `json:"current_price" db:"current_price"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // net of partial closes
	OpenedAt       time.Time       `json:"opened_at" db:"opened_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Notional returns quantity × entry price.
func (p *Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.EntryPrice)
}

// Exposure returns the leveraged notional, quantity × entry price × leverage.
func (p *Position) Exposure() decimal.Decimal {
	return p.Notional().Mul(p.Leverage)
}

// DirectionalPnL returns the profit of moving qty units from the entry price
// to price: (price − entry) for longs, (entry − price) for shorts.
func (p *Position) DirectionalPnL(price, qty decimal.Decimal) decimal.Decimal {
	if p.Side == SideSell {
		return p.EntryPrice.Sub(price).Mul(qty)
	}
	return price.Sub(p.EntryPrice).Mul(qty)
}

// Transaction is an immutable record of a fill or a close.
// Once appended to the log, it is never modified.
type Transaction struct {
	ID           string          `json:"id" db:"id"`
	CustomerID   string          `json:"customer_id" db:"customer_id"`
	OrderID      string          `json:"order_id" db:"order_id"` // CLOSE_<position id> for closes
	PositionID   string          `json:"position_id" db:"position_id"`
	Instrument   string          `json:"instrument" db:"instrument"`
	Type         TransactionType `json:"type" db:"type"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Amount       decimal.Decimal `json:"amount" db:"amount"` // quantity × price
	Commission   decimal.Decimal `json:"commission" db:"commission"`
	PnL          decimal.Decimal `json:"pnl" db:"pnl"` // gross; zero for opens
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// NetPnL returns PnL − Commission, the transaction's effect on the balance.
func (t *Transaction) NetPnL() decimal.Decimal {
	return t.PnL.Sub(t.Commission)
}

// Account is a customer's cash and margin summary.
type Account struct {
	ID              string          `json:"id" db:"id"`
	CustomerID      string          `json:"customer_id" db:"customer_id"`
	CustomerName    string          `json:"customer_name" db:"customer_name"`
	Balance         decimal.Decimal `json:"balance" db:"balance"`
	Equity          decimal.Decimal `json:"equity" db:"equity"`
	MarginUsed      decimal.Decimal `json:"margin_used" db:"margin_used"`
	MarginAvailable decimal.Decimal `json:"margin_available" db:"margin_available"`
	// MarginLevel is equity / margin used × 100. It is meaningless while
	// MarginUnbounded is set (no margin in use).
	MarginLevel     decimal.Decimal `json:"margin_level" db:"margin_level"`
	MarginUnbounded bool            `json:"margin_unbounded" db:"margin_unbounded"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	TotalTrades     int             `json:"total_trades" db:"total_trades"`
	WinningTrades   int             `json:"winning_trades" db:"winning_trades"`
	LosingTrades    int             `json:"losing_trades" db:"losing_trades"`
	Status          string          `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// MarginRatio returns equity / margin used as a plain ratio. ok is false
// when no margin is in use and the ratio is unbounded.
func (a *Account) MarginRatio() (ratio decimal.Decimal, ok bool) {
	if !a.MarginUsed.IsPositive() {
		return decimal.Zero, false
	}
	return a.Equity.Div(a.MarginUsed), true
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert types raised by the risk engine.
const (
	AlertHighLeverage      = "high_leverage"
	AlertLargeLoss         = "large_loss"
	AlertLargeProfit       = "large_profit"
	AlertMarginCall        = "margin_call"
	AlertStopOut           = "stop_out"
	AlertExcessiveExposure = "excessive_exposure"
	AlertHighDrawdown      = "high_drawdown"
)

// Alert is a risk notification for the dispatch layer.
type Alert struct {
	ID           string         `json:"id" db:"id"`
	CustomerID   string         `json:"customer_id" db:"customer_id"`
	Type         string         `json:"type" db:"type"`
	Severity     Severity       `json:"severity" db:"severity"`
	Title        string         `json:"title" db:"title"`
	Message      string         `json:"message" db:"message"`
	Data         map[string]any `json:"data,omitempty" db:"data"`
	TriggeredAt  time.Time      `json:"triggered_at" db:"triggered_at"`
	Acknowledged bool           `json:"acknowledged" db:"acknowledged"`
}
