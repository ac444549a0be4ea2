// Package store holds the durable side of the position engine. The ledger
// keeps authoritative state in memory; a Journal mirrors every committed
// transaction and raised alert so history survives restarts and can be
// replayed offline. Implementations include PostgreSQL, SQLite and
// in-memory (for testing). Redis serves as the live price source.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-engine/internal/model"
)

// ErrDuplicate is returned when a record with the same id was already
// journaled.
var ErrDuplicate = errors.New("store: duplicate record")

// Journal is the append-only mirror of ledger history.
type Journal interface {
	// RecordTransaction appends a committed transaction.
	RecordTransaction(ctx context.Context, tx model.Transaction) error

	// RecordAlert appends a raised alert.
	RecordAlert(ctx context.Context, alert model.Alert) error

	// Transactions returns a customer's transactions, oldest first.
	Transactions(ctx context.Context, customerID string) ([]model.Transaction, error)

	// Alerts returns a customer's alerts, oldest first.
	Alerts(ctx context.Context, customerID string) ([]model.Alert, error)

	Close() error
}

// rawTransaction carries the decimal columns as text, the way both SQL
// backends hand them back.
type rawTransaction struct {
	tx                                                     model.Transaction
	quantity, price, amount, commission, pnl, balanceAfter string
}

func (r *rawTransaction) decode() (model.Transaction, error) {
	tx := r.tx
	fields := []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"quantity", r.quantity, &tx.Quantity},
		{"price", r.price, &tx.Price},
		{"amount", r.amount, &tx.Amount},
		{"commission", r.commission, &tx.Commission},
		{"pnl", r.pnl, &tx.PnL},
		{"balance_after", r.balanceAfter, &tx.BalanceAfter},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return model.Transaction{}, fmt.Errorf("transaction %s: %s %q: %w", tx.ID, f.name, f.src, err)
		}
		*f.dst = v
	}
	return tx, nil
}

func encodeAlertData(data map[string]any) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode alert data: %w", err)
	}
	return string(b), nil
}

func decodeAlertData(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("decode alert data: %w", err)
	}
	return data, nil
}
