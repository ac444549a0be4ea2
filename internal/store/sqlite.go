package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/atmx/position-engine/internal/model"
)

// SQLiteSchema creates the journal tables. Decimals are stored as TEXT to
// keep them exact; timestamps as Unix nanoseconds so they sort.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	id            TEXT PRIMARY KEY,
	customer_id   TEXT NOT NULL,
	order_id      TEXT NOT NULL,
	position_id   TEXT NOT NULL,
	instrument    TEXT NOT NULL,
	type          TEXT NOT NULL,
	quantity      TEXT NOT NULL,
	price         TEXT NOT NULL,
	amount        TEXT NOT NULL,
	commission    TEXT NOT NULL,
	pnl           TEXT NOT NULL,
	balance_after TEXT NOT NULL,
	ts            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_customer_ts ON transactions(customer_id, ts);

CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT PRIMARY KEY,
	customer_id  TEXT NOT NULL,
	type         TEXT NOT NULL,
	severity     TEXT NOT NULL,
	title        TEXT NOT NULL,
	message      TEXT NOT NULL,
	data         TEXT NOT NULL,
	triggered_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_customer_ts ON alerts(customer_id, triggered_at);
`

// SQLiteJournal implements Journal on a SQLite file. It backs single-node
// deployments and the offline replay command.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (creating if needed) the database at path.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// The driver serializes writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordTransaction(ctx context.Context, tx model.Transaction) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, customer_id, order_id, position_id, instrument, type,
		 quantity, price, amount, commission, pnl, balance_after, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.CustomerID, tx.OrderID, tx.PositionID, tx.Instrument, string(tx.Type),
		tx.Quantity.String(), tx.Price.String(), tx.Amount.String(),
		tx.Commission.String(), tx.PnL.String(), tx.BalanceAfter.String(),
		tx.Timestamp.UnixNano(),
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: transaction %s", ErrDuplicate, tx.ID)
	}
	return err
}

func (j *SQLiteJournal) RecordAlert(ctx context.Context, a model.Alert) error {
	data, err := encodeAlertData(a.Data)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO alerts (id, customer_id, type, severity, title, message, data, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CustomerID, a.Type, string(a.Severity), a.Title, a.Message, data, a.TriggeredAt.UnixNano(),
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: alert %s", ErrDuplicate, a.ID)
	}
	return err
}

func (j *SQLiteJournal) Transactions(ctx context.Context, customerID string) ([]model.Transaction, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, customer_id, order_id, position_id, instrument, type,
		       quantity, price, amount, commission, pnl, balance_after, ts
		FROM transactions WHERE customer_id = ? ORDER BY ts, id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var r rawTransaction
		var typ string
		var ts int64
		if err := rows.Scan(&r.tx.ID, &r.tx.CustomerID, &r.tx.OrderID, &r.tx.PositionID, &r.tx.Instrument, &typ,
			&r.quantity, &r.price, &r.amount, &r.commission, &r.pnl, &r.balanceAfter, &ts); err != nil {
			return nil, err
		}
		r.tx.Type = model.TransactionType(typ)
		r.tx.Timestamp = time.Unix(0, ts).UTC()
		tx, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Alerts(ctx context.Context, customerID string) ([]model.Alert, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, customer_id, type, severity, title, message, data, triggered_at
		FROM alerts WHERE customer_id = ? ORDER BY triggered_at, id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var severity, data string
		var ts int64
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.Type, &severity, &a.Title, &a.Message, &data, &ts); err != nil {
			return nil, err
		}
		a.Severity = model.Severity(severity)
		a.TriggeredAt = time.Unix(0, ts).UTC()
		if a.Data, err = decodeAlertData(data); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Customers returns every customer with journaled transactions.
func (j *SQLiteJournal) Customers(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT DISTINCT customer_id FROM transactions ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func isConstraintViolation(err error) bool {
	var sqErr sqlite3.Error
	return errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrConstraint
}
