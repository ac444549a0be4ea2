package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-engine/internal/model"
)

type positionKey struct {
	instrument string
	side       model.Side
}

// Fill is one opening execution merged into a position.
type Fill struct {
	CustomerID     string
	Instrument     string
	InstrumentType model.InstrumentType
	Side           model.Side
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Leverage       decimal.Decimal
}

// CloseResult reports the P&L of a (partial) close.
type CloseResult struct {
	GrossPnL   decimal.Decimal
	Commission decimal.Decimal
	NetPnL     decimal.Decimal
	// Position is the state after the close. When Removed is set it holds
	// the last state before removal with Quantity zero.
	Position model.Position
	Removed  bool
}

// PositionLedger holds one customer's open positions, one per
// (instrument, side). Opposite sides never net against each other.
// It is not safe for concurrent use.
type PositionLedger struct {
	positions      map[string]*model.Position
	byKey          map[positionKey]string
	commissionRate decimal.Decimal
	now            func() time.Time
	newID          func() string
}

// NewPositionLedger creates an empty ledger.
func NewPositionLedger(commissionRate decimal.Decimal, now func() time.Time, newID func() string) *PositionLedger {
	return &PositionLedger{
		positions:      make(map[string]*model.Position),
		byKey:          make(map[positionKey]string),
		commissionRate: commissionRate,
		now:            now,
		newID:          newID,
	}
}

// Lookup returns the open position for (instrument, side), if any.
func (pl *PositionLedger) Lookup(instrument string, side model.Side) (*model.Position, bool) {
	id, ok := pl.byKey[positionKey{instrument, side}]
	if !ok {
		return nil, false
	}
	return pl.positions[id], true
}

// Get returns the position with the given id.
func (pl *PositionLedger) Get(id string) (*model.Position, bool) {
	p, ok := pl.positions[id]
	return p, ok
}

// OpenOrMerge creates a position for the fill's (instrument, side) or
// merges the fill into the existing one. A merge takes the
// quantity-weighted average entry price and keeps the original leverage.
func (pl *PositionLedger) OpenOrMerge(f Fill) *model.Position {
	now := pl.now()

	if p, ok := pl.Lookup(f.Instrument, f.Side); ok {
		newQty := p.Quantity.Add(f.Quantity)
		p.EntryPrice = p.EntryPrice.Mul(p.Quantity).Add(f.Price.Mul(f.Quantity)).Div(newQty)
		p.Quantity = newQty
		p.MarginUsed = marginFor(p.Quantity, p.EntryPrice, p.Leverage)
		if !p.CurrentPrice.IsZero() {
			p.UnrealizedPnL = p.DirectionalPnL(p.CurrentPrice, p.Quantity)
		}
		p.UpdatedAt = now
		return p
	}

	p := &model.Position{
		ID:             pl.newID(),
		CustomerID:     f.CustomerID,
		Instrument:     f.Instrument,
		InstrumentType: f.InstrumentType,
		Side:           f.Side,
		Quantity:       f.Quantity,
		EntryPrice:     f.Price,
		Leverage:       f.Leverage,
		MarginUsed:     marginFor(f.Quantity, f.Price, f.Leverage),
		CurrentPrice:   f.Price,
		UnrealizedPnL:  decimal.Zero,
		RealizedPnL:    decimal.Zero,
		OpenedAt:       now,
		UpdatedAt:      now,
	}
	pl.positions[p.ID] = p
	pl.byKey[positionKey{p.Instrument, p.Side}] = p.ID
	return p
}

// CheckClose validates a close without mutating anything.
func (pl *PositionLedger) CheckClose(positionID string, quantity, price decimal.Decimal) error {
	p, ok := pl.positions[positionID]
	if !ok {
		return notFound("position", positionID)
	}
	var problems []string
	if !quantity.IsPositive() {
		problems = append(problems, fmt.Sprintf("close quantity %s must be positive", quantity))
	}
	if quantity.GreaterThan(p.Quantity) {
		problems = append(problems, fmt.Sprintf("close quantity %s exceeds position quantity %s", quantity, p.Quantity))
	}
	if !price.IsPositive() {
		problems = append(problems, fmt.Sprintf("close price %s must be positive", price))
	}
	if len(problems) > 0 {
		return validationError(problems)
	}
	return nil
}

// Close realizes quantity units of a position at price. The entry price is
// unchanged; a position whose quantity reaches zero is removed.
func (pl *PositionLedger) Close(positionID string, quantity, price decimal.Decimal) (CloseResult, error) {
	if err := pl.CheckClose(positionID, quantity, price); err != nil {
		return CloseResult{}, err
	}
	p := pl.positions[positionID]

	gross := p.DirectionalPnL(price, quantity)
	commission := quantity.Mul(price).Mul(pl.commissionRate)
	net := gross.Sub(commission)

	p.Quantity = p.Quantity.Sub(quantity)
	p.RealizedPnL = p.RealizedPnL.Add(net)
	p.MarginUsed = marginFor(p.Quantity, p.EntryPrice, p.Leverage)
	p.UpdatedAt = pl.now()
	if !p.CurrentPrice.IsZero() {
		p.UnrealizedPnL = p.DirectionalPnL(p.CurrentPrice, p.Quantity)
	}

	res := CloseResult{GrossPnL: gross, Commission: commission, NetPnL: net, Position: *p}
	if p.Quantity.IsZero() {
		delete(pl.positions, p.ID)
		delete(pl.byKey, positionKey{p.Instrument, p.Side})
		res.Removed = true
	}
	return res, nil
}

// RefreshPrice marks every position on instrument to price and returns the
// refreshed positions. Quantity and entry price are untouched.
func (pl *PositionLedger) RefreshPrice(instrument string, price decimal.Decimal) []*model.Position {
	var out []*model.Position
	for _, side := range []model.Side{model.SideBuy, model.SideSell} {
		p, ok := pl.Lookup(instrument, side)
		if !ok {
			continue
		}
		p.CurrentPrice = price
		p.UnrealizedPnL = p.DirectionalPnL(price, p.Quantity)
		p.UpdatedAt = pl.now()
		out = append(out, p)
	}
	return out
}

// List returns copies of all open positions, oldest first.
func (pl *PositionLedger) List() []model.Position {
	out := make([]model.Position, 0, len(pl.positions))
	for _, p := range pl.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of open positions.
func (pl *PositionLedger) Len() int {
	return len(pl.positions)
}

func marginFor(quantity, price, leverage decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Div(leverage)
}
