package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/position-engine/internal/model"
)

// PostgresSchema creates the journal tables. All monetary values are
// stored as NUMERIC for exact decimal precision.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	id            TEXT PRIMARY KEY,
	customer_id   TEXT NOT NULL,
	order_id      TEXT NOT NULL,
	position_id   TEXT NOT NULL,
	instrument    TEXT NOT NULL,
	type          TEXT NOT NULL,
	quantity      NUMERIC NOT NULL,
	price         NUMERIC NOT NULL,
	amount        NUMERIC NOT NULL,
	commission    NUMERIC NOT NULL,
	pnl           NUMERIC NOT NULL,
	balance_after NUMERIC NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_customer_ts ON transactions (customer_id, timestamp);

CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT PRIMARY KEY,
	customer_id  TEXT NOT NULL,
	type         TEXT NOT NULL,
	severity     TEXT NOT NULL,
	title        TEXT NOT NULL,
	message      TEXT NOT NULL,
	data         JSONB NOT NULL DEFAULT '{}',
	triggered_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_customer_ts ON alerts (customer_id, triggered_at);
`

// PostgresJournal implements Journal on PostgreSQL.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal creates a journal on an existing pool and ensures the
// schema exists.
func NewPostgresJournal(ctx context.Context, pool *pgxpool.Pool) (*PostgresJournal, error) {
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &PostgresJournal{pool: pool}, nil
}

func (j *PostgresJournal) RecordTransaction(ctx context.Context, tx model.Transaction) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO transactions
		   (id, customer_id, order_id, position_id, instrument, type,
		    quantity, price, amount, commission, pnl, balance_after, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13)`,
		tx.ID, tx.CustomerID, tx.OrderID, tx.PositionID, tx.Instrument, string(tx.Type),
		tx.Quantity.String(), tx.Price.String(), tx.Amount.String(),
		tx.Commission.String(), tx.PnL.String(), tx.BalanceAfter.String(),
		tx.Timestamp,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: transaction %s", ErrDuplicate, tx.ID)
	}
	return err
}

func (j *PostgresJournal) RecordAlert(ctx context.Context, a model.Alert) error {
	data, err := encodeAlertData(a.Data)
	if err != nil {
		return err
	}
	_, err = j.pool.Exec(ctx,
		`INSERT INTO alerts (id, customer_id, type, severity, title, message, data, triggered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::JSONB, $8)`,
		a.ID, a.CustomerID, a.Type, string(a.Severity), a.Title, a.Message, data, a.TriggeredAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: alert %s", ErrDuplicate, a.ID)
	}
	return err
}

func (j *PostgresJournal) Transactions(ctx context.Context, customerID string) ([]model.Transaction, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT id, customer_id, order_id, position_id, instrument, type,
		        quantity::TEXT, price::TEXT, amount::TEXT, commission::TEXT, pnl::TEXT, balance_after::TEXT,
		        timestamp
		 FROM transactions WHERE customer_id = $1 ORDER BY timestamp, id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var r rawTransaction
		var typ string
		var ts time.Time
		if err := rows.Scan(&r.tx.ID, &r.tx.CustomerID, &r.tx.OrderID, &r.tx.PositionID, &r.tx.Instrument, &typ,
			&r.quantity, &r.price, &r.amount, &r.commission, &r.pnl, &r.balanceAfter,
			&ts); err != nil {
			return nil, err
		}
		r.tx.Type = model.TransactionType(typ)
		r.tx.Timestamp = ts.UTC()
		tx, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (j *PostgresJournal) Alerts(ctx context.Context, customerID string) ([]model.Alert, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT id, customer_id, type, severity, title, message, data::TEXT, triggered_at
		 FROM alerts WHERE customer_id = $1 ORDER BY triggered_at, id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var severity, data string
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.Type, &severity, &a.Title, &a.Message, &data, &a.TriggeredAt); err != nil {
			return nil, err
		}
		a.Severity = model.Severity(severity)
		a.TriggeredAt = a.TriggeredAt.UTC()
		if a.Data, err = decodeAlertData(data); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close is a no-op; the pool belongs to the caller.
func (j *PostgresJournal) Close() error { return nil }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
