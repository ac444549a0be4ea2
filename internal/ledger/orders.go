package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-engine/internal/model"
)

// OrderIntent is the validated request an order-entry collaborator hands
// to CreateOrder. Optional fields are left zero.
type OrderIntent struct {
	CustomerID     string
	Instrument     string
	InstrumentType model.InstrumentType
	Type           model.OrderType // empty means market
	Side           model.Side
	Quantity       decimal.Decimal
	Price          decimal.NullDecimal
	StopPrice      decimal.NullDecimal
	Leverage       decimal.Decimal // zero means 1
	Notes          string
}

// NewOrder applies defaults and validates an intent, producing a fully
// populated pending order. Every problem found is reported in one
// ErrValidation.
func NewOrder(in OrderIntent, maxLeverage decimal.Decimal, id string, now time.Time) (model.Order, error) {
	var problems []string

	if strings.TrimSpace(in.CustomerID) == "" {
		problems = append(problems, "customer id is required")
	}

	instrument, err := model.NormalizeSymbol(in.Instrument)
	if err != nil {
		problems = append(problems, err.Error())
	}
	if !in.InstrumentType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown instrument type %q", in.InstrumentType))
	}

	typ := in.Type
	if typ == "" {
		typ = model.OrderTypeMarket
	}
	if !typ.Valid() {
		problems = append(problems, fmt.Sprintf("unknown order type %q", in.Type))
	}
	if !in.Side.Valid() {
		problems = append(problems, fmt.Sprintf("unknown side %q", in.Side))
	}
	if !in.Quantity.IsPositive() {
		problems = append(problems, fmt.Sprintf("quantity %s must be positive", in.Quantity))
	}

	leverage := in.Leverage
	if leverage.IsZero() {
		leverage = decimal.NewFromInt(1)
	}
	if leverage.LessThan(decimal.NewFromInt(1)) || leverage.GreaterThan(maxLeverage) {
		problems = append(problems, fmt.Sprintf("leverage %s must be between 1 and %s", leverage, maxLeverage))
	}

	var price, stop decimal.Decimal
	if in.Price.Valid {
		if !in.Price.Decimal.IsPositive() {
			problems = append(problems, fmt.Sprintf("price %s must be positive", in.Price.Decimal))
		}
		price = in.Price.Decimal
	} else if typ.RequiresPrice() {
		problems = append(problems, fmt.Sprintf("%s order requires a price", typ))
	}
	if in.StopPrice.Valid {
		if !in.StopPrice.Decimal.IsPositive() {
			problems = append(problems, fmt.Sprintf("stop price %s must be positive", in.StopPrice.Decimal))
		}
		stop = in.StopPrice.Decimal
	} else if typ.RequiresStopPrice() {
		problems = append(problems, fmt.Sprintf("%s order requires a stop price", typ))
	}

	if len(problems) > 0 {
		return model.Order{}, validationError(problems)
	}

	return model.Order{
		ID:               id,
		CustomerID:       strings.TrimSpace(in.CustomerID),
		Instrument:       instrument,
		InstrumentType:   in.InstrumentType,
		Type:             typ,
		Side:             in.Side,
		Quantity:         in.Quantity,
		Price:            price,
		StopPrice:        stop,
		Leverage:         leverage,
		FilledQuantity:   decimal.Zero,
		AverageFillPrice: decimal.Zero,
		Commission:       decimal.Zero,
		Status:           model.OrderPending,
		Notes:            in.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// OrderManager holds one customer's orders. It is not safe for concurrent
// use; the owning book serializes access.
type OrderManager struct {
	orders map[string]*model.Order
	now    func() time.Time
}

// NewOrderManager creates an empty manager.
func NewOrderManager(now func() time.Time) *OrderManager {
	return &OrderManager{orders: make(map[string]*model.Order), now: now}
}

// Add stores a new order.
func (m *OrderManager) Add(o model.Order) {
	m.orders[o.ID] = &o
}

// Get returns a copy of the order.
func (m *OrderManager) Get(id string) (model.Order, bool) {
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// CheckFill validates a fill of quantity at price without mutating the order.
func (m *OrderManager) CheckFill(id string, quantity, price decimal.Decimal) error {
	o, ok := m.orders[id]
	if !ok {
		return notFound("order", id)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidState, id, o.Status)
	}
	var problems []string
	if !quantity.IsPositive() {
		problems = append(problems, fmt.Sprintf("execution quantity %s must be positive", quantity))
	}
	if quantity.GreaterThan(o.Remaining()) {
		problems = append(problems, fmt.Sprintf("execution quantity %s exceeds remaining %s", quantity, o.Remaining()))
	}
	if !price.IsPositive() {
		problems = append(problems, fmt.Sprintf("execution price %s must be positive", price))
	}
	if len(problems) > 0 {
		return validationError(problems)
	}
	return nil
}

// ApplyFill records a fill and returns the updated order. Callers run
// CheckFill first.
func (m *OrderManager) ApplyFill(id string, quantity, price, commission decimal.Decimal) model.Order {
	o := m.orders[id]

	newFilled := o.FilledQuantity.Add(quantity)
	o.AverageFillPrice = o.AverageFillPrice.Mul(o.FilledQuantity).Add(price.Mul(quantity)).Div(newFilled)
	o.FilledQuantity = newFilled
	o.Commission = o.Commission.Add(commission)
	if newFilled.GreaterThanOrEqual(o.Quantity) {
		o.Status = model.OrderFilled
	} else {
		o.Status = model.OrderPartiallyFilled
	}
	o.UpdatedAt = m.now()
	return *o
}

// Cancel moves a non-terminal order to cancelled.
func (m *OrderManager) Cancel(id, reason string) (model.Order, error) {
	return m.finish(id, model.OrderCancelled, reason)
}

// Reject moves a non-terminal order to rejected.
func (m *OrderManager) Reject(id, reason string) (model.Order, error) {
	return m.finish(id, model.OrderRejected, reason)
}

func (m *OrderManager) finish(id string, status model.OrderStatus, reason string) (model.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, notFound("order", id)
	}
	if o.Status.Terminal() {
		return *o, fmt.Errorf("%w: order %s is already %s", ErrInvalidState, id, o.Status)
	}
	o.Status = status
	if reason != "" {
		if o.Notes != "" {
			o.Notes += "; "
		}
		o.Notes += reason
	}
	o.UpdatedAt = m.now()
	return *o, nil
}

// List returns copies of the orders created within q in creation order,
// newest first when q.Descending is set.
func (m *OrderManager) List(q Query) []model.Order {
	out := make([]model.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if q.contains(o.CreatedAt) {
			out = append(out, *o)
		}
	}
	newestFirst := q.Descending
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
	return out
}
