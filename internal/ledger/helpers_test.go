package ledger

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atmx/position-engine/internal/model"
	"github.com/atmx/position-engine/internal/risk"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(s))
}

// testClock advances one second per reading so every record gets a
// distinct, ordered timestamp.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func seqIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + strconv.Itoa(n)
	}
}

type captureSink struct {
	mu     sync.Mutex
	txs    []model.Transaction
	alerts []model.Alert
}

func (s *captureSink) RecordTransaction(tx model.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
}

func (s *captureSink) PublishAlerts(alerts []model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alerts...)
}

func (s *captureSink) alertTypes() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, a := range s.alerts {
		out[a.Type] = true
	}
	return out
}

type testEnv struct {
	ledger *Ledger
	sink   *captureSink
	clock  *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newTestClock()
	sink := &captureSink{}
	l, err := New(DefaultConfig(), risk.NewEngine(risk.DefaultConfig(), seqIDs("alert-")),
		WithClock(clock.Now),
		WithIDs(seqIDs("id-"), seqIDs("tx-")),
		WithTxSink(sink),
		WithAlertSink(sink),
	)
	require.NoError(t, err)
	return &testEnv{ledger: l, sink: sink, clock: clock}
}

func (e *testEnv) openAccount(t *testing.T, customer, balance string) model.Account {
	t.Helper()
	a, err := e.ledger.OpenAccount(customer, "Customer "+customer, d(balance))
	require.NoError(t, err)
	return a
}

func (e *testEnv) order(t *testing.T, customer, instrument string, side model.Side, qty, price, leverage string) model.Order {
	t.Helper()
	o, _, err := e.ledger.CreateOrder(OrderIntent{
		CustomerID:     customer,
		Instrument:     instrument,
		InstrumentType: model.InstrumentStock,
		Type:           model.OrderTypeLimit,
		Side:           side,
		Quantity:       d(qty),
		Price:          nd(price),
		Leverage:       d(leverage),
	})
	require.NoError(t, err)
	return o
}

func (e *testEnv) fill(t *testing.T, customer, instrument string, side model.Side, qty, price, leverage string) Execution {
	t.Helper()
	o := e.order(t, customer, instrument, side, qty, price, leverage)
	exec, err := e.ledger.ExecuteOrder(o.ID, d(price), decimal.NullDecimal{})
	require.NoError(t, err)
	return exec
}
