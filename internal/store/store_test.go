package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/position-engine/internal/model"
)

var t0 = time.Date(2024, 1, 2, 9, 0, 0, 123456789, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleTx(id, customer string, at time.Time) model.Transaction {
	return model.Transaction{
		ID:           id,
		CustomerID:   customer,
		OrderID:      "CLOSE_p1",
		PositionID:   "p1",
		Instrument:   "EURUSD",
		Type:         model.TxClosePosition,
		Quantity:     d("150"),
		Price:        d("15"),
		Amount:       d("2250"),
		Commission:   d("2.25"),
		PnL:          d("600"),
		BalanceAfter: d("10597.75"),
		Timestamp:    at,
	}
}

func sampleAlert(id, customer string) model.Alert {
	return model.Alert{
		ID:          id,
		CustomerID:  customer,
		Type:        model.AlertMarginCall,
		Severity:    model.SeverityCritical,
		Title:       "Margin Call",
		Message:     "margin level 16.67%",
		Data:        map[string]any{"margin_level": "16.67"},
		TriggeredAt: t0,
	}
}

// exerciseJournal runs the behaviour every Journal must share.
func exerciseJournal(t *testing.T, j Journal) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, j.RecordTransaction(ctx, sampleTx("tx-2", "c1", t0.Add(time.Second))))
	require.NoError(t, j.RecordTransaction(ctx, sampleTx("tx-1", "c1", t0)))
	require.NoError(t, j.RecordTransaction(ctx, sampleTx("tx-3", "c2", t0)))

	err := j.RecordTransaction(ctx, sampleTx("tx-1", "c1", t0))
	assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)

	txs, err := j.Transactions(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx-1", txs[0].ID)
	assert.Equal(t, "tx-2", txs[1].ID)
	assert.True(t, txs[0].BalanceAfter.Equal(d("10597.75")))
	assert.True(t, txs[0].Commission.Equal(d("2.25")))
	assert.Equal(t, model.TxClosePosition, txs[0].Type)
	assert.True(t, txs[0].Timestamp.Equal(t0), "timestamp %s", txs[0].Timestamp)

	require.NoError(t, j.RecordAlert(ctx, sampleAlert("a1", "c1")))
	alerts, err := j.Alerts(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "16.67", alerts[0].Data["margin_level"])

	empty, err := j.Transactions(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryJournal(t *testing.T) {
	exerciseJournal(t, NewMemoryJournal())
}

func TestSQLiteJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := NewSQLiteJournal(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	exerciseJournal(t, j)

	customers, err := j.Customers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, customers)
}

func TestSQLiteJournal_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewSQLiteJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordTransaction(context.Background(), sampleTx("tx-1", "c1", t0)))
	require.NoError(t, j.Close())

	j, err = NewSQLiteJournal(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	txs, err := j.Transactions(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestParsePrices(t *testing.T) {
	prices, err := parsePrices(map[string]string{"EURUSD": "1.0850", "XAUUSD": "2034.5"})
	require.NoError(t, err)
	assert.True(t, prices["EURUSD"].Equal(d("1.085")))
	assert.True(t, prices["XAUUSD"].Equal(d("2034.5")))

	prices, err = parsePrices(map[string]string{"EURUSD": "1.0850", "BAD": "n/a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAD")
	assert.Len(t, prices, 1, "well-formed entries survive")
}

func TestAlertDataRoundTrip(t *testing.T) {
	s, err := encodeAlertData(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", s)

	data, err := decodeAlertData(s)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	j := NewMemoryJournal()
	r := NewRecorder(j, "memory", 16)

	r.RecordTransaction(sampleTx("tx-1", "c1", t0))
	r.RecordTransaction(sampleTx("tx-1", "c1", t0)) // duplicate is tolerated
	r.PublishAlerts([]model.Alert{sampleAlert("a1", "c1"), sampleAlert("a2", "c1")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	txs, _ := j.Transactions(context.Background(), "c1")
	assert.Len(t, txs, 1)
	alerts, _ := j.Alerts(context.Background(), "c1")
	assert.Len(t, alerts, 2)
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	j := NewMemoryJournal()
	r := NewRecorder(j, "memory", 1)

	r.RecordTransaction(sampleTx("tx-1", "c1", t0))
	r.RecordTransaction(sampleTx("tx-2", "c1", t0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	txs, _ := j.Transactions(context.Background(), "c1")
	assert.Len(t, txs, 1)
}
