package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/position-engine/internal/model"
	"github.com/atmx/position-engine/internal/risk"
)

func TestOpenAccount_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "10000")

	_, err := env.ledger.OpenAccount("c1", "again", d("1"))
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = env.ledger.Account("c2")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, []string{"c1"}, env.ledger.Customers())
}

func TestExecuteOrder_MergeScenario(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "10000")

	first := env.fill(t, "c1", "AAPL", model.SideBuy, "100", "10", "5")
	assert.True(t, first.Position.MarginUsed.Equal(d("200")))
	assert.Equal(t, model.OrderFilled, first.Order.Status)
	assert.True(t, first.Transaction.Commission.Equal(d("1")))
	assert.True(t, first.Transaction.PnL.IsZero())
	assert.True(t, first.Transaction.BalanceAfter.Equal(d("9999")))

	second := env.fill(t, "c1", "AAPL", model.SideBuy, "100", "12", "5")
	assert.Equal(t, first.Position.ID, second.Position.ID)
	assert.True(t, second.Position.Quantity.Equal(d("200")))
	assert.True(t, second.Position.EntryPrice.Equal(d("11")))
	assert.True(t, second.Position.MarginUsed.Equal(d("440")))

	acct, err := env.ledger.Account("c1")
	require.NoError(t, err)
	assert.True(t, acct.MarginUsed.Equal(d("440")))
	assert.False(t, acct.MarginUnbounded)
	assert.True(t, acct.Balance.Equal(d("9997.8")), "balance %s", acct.Balance)
}

func TestClosePosition_PartialThenFull(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "10000")
	env.fill(t, "c1", "AAPL", model.SideBuy, "100", "10", "5")
	exec := env.fill(t, "c1", "AAPL", model.SideBuy, "100", "12", "5")
	posID := exec.Position.ID

	c, err := env.ledger.ClosePosition(posID, d("15"), nd("150"))
	require.NoError(t, err)
	assert.True(t, c.GrossPnL.Equal(d("600")))
	assert.True(t, c.Commission.Equal(d("2.25")))
	assert.True(t, c.NetPnL.Equal(d("597.75")))
	assert.False(t, c.Removed)
	assert.Equal(t, CloseOrderPrefix+posID, c.Transaction.OrderID)
	assert.Equal(t, model.TxClosePosition, c.Transaction.Type)
	assert.True(t, c.Transaction.PnL.Equal(d("600")))

	p, err := env.ledger.Position(posID)
	require.NoError(t, err)
	assert.True(t, p.Quantity.Equal(d("50")))
	assert.True(t, p.EntryPrice.Equal(d("11")))

	c, err = env.ledger.ClosePosition(posID, d("11"), decimal.NullDecimal{})
	require.NoError(t, err)
	assert.True(t, c.Removed)
	assert.True(t, c.GrossPnL.IsZero())

	_, err = env.ledger.Position(posID)
	assert.True(t, errors.Is(err, ErrNotFound))

	acct, err := env.ledger.Account("c1")
	require.NoError(t, err)
	assert.Equal(t, 2, acct.TotalTrades)
	assert.Equal(t, 1, acct.WinningTrades)
	assert.Equal(t, 0, acct.LosingTrades)
	assert.True(t, acct.MarginUnbounded)
	assert.True(t, acct.MarginUsed.IsZero())
}

func TestBalanceEqualsInitialPlusNetOfTransactions(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "50000")

	long := env.fill(t, "c1", "EURUSD", model.SideBuy, "1000", "1.1", "10")
	short := env.fill(t, "c1", "XAUUSD", model.SideSell, "5", "2000", "2")
	env.fill(t, "c1", "EURUSD", model.SideBuy, "500", "1.2", "10")

	_, err := env.ledger.ClosePosition(long.Position.ID, d("1.15"), nd("700"))
	require.NoError(t, err)
	_, err = env.ledger.ClosePosition(short.Position.ID, d("2100"), nd("2"))
	require.NoError(t, err)
	_, err = env.ledger.ClosePosition(long.Position.ID, d("1.05"), decimal.NullDecimal{})
	require.NoError(t, err)

	txs, err := env.ledger.Transactions("c1", Query{})
	require.NoError(t, err)
	require.Len(t, txs, 6)

	expected := d("50000")
	for _, tx := range txs {
		expected = expected.Add(tx.PnL).Sub(tx.Commission)
		assert.True(t, tx.BalanceAfter.Equal(expected), "running balance at %s", tx.ID)
	}
	acct, err := env.ledger.Account("c1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(expected), "balance %s want %s", acct.Balance, expected)
	assert.Equal(t, acct.TotalTrades, acct.WinningTrades+acct.LosingTrades)

	assert.Len(t, env.sink.txs, 6, "every committed transaction reaches the sink")
}

func TestExecuteOrder_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "10000")
	o := env.order(t, "c1", "AAPL", model.SideBuy, "10", "100", "1")

	_, err := env.ledger.ExecuteOrder("missing", d("1"), decimal.NullDecimal{})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = env.ledger.ExecuteOrder(o.ID, d("100"), nd("11"))
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = env.ledger.ExecuteOrder(o.ID, d("0"), nd("1"))
	assert.True(t, errors.Is(err, ErrValidation))

	// Failed executions leave no trace.
	txs, _ := env.ledger.Transactions("c1", Query{})
	assert.Empty(t, txs)
	positions, _ := env.ledger.Positions("c1")
	assert.Empty(t, positions)
	got, _ := env.ledger.Order(o.ID)
	assert.Equal(t, model.OrderPending, got.Status)

	exec, err := env.ledger.ExecuteOrder(o.ID, d("100"), nd("4"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderPartiallyFilled, exec.Order.Status)

	exec, err = env.ledger.ExecuteOrder(o.ID, d("110"), decimal.NullDecimal{})
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, exec.Order.Status)
	assert.True(t, exec.Order.AverageFillPrice.Equal(d("106")), "avg %s", exec.Order.AverageFillPrice)

	_, err = env.ledger.ExecuteOrder(o.ID, d("100"), nd("1"))
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestCancelledOrderCannotExecute(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "10000")
	o := env.order(t, "c1", "AAPL", model.SideBuy, "10", "100", "1")

	got, err := env.ledger.CancelOrder(o.ID, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)

	_, err = env.ledger.ExecuteOrder(o.ID, d("100"), decimal.NullDecimal{})
	assert.True(t, errors.Is(err, ErrInvalidState))

	_, err = env.ledger.RejectOrder(o.ID, "")
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestCreateOrder_GateFailureStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "1000")

	_, decision, err := env.ledger.CreateOrder(OrderIntent{
		CustomerID:     "c1",
		Instrument:     "AAPL",
		InstrumentType: model.InstrumentStock,
		Type:           model.OrderTypeLimit,
		Side:           model.SideBuy,
		Quantity:       d("100"),
		Price:          nd("100"),
		Leverage:       d("2"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientMargin))
	assert.False(t, decision.Allowed)
	assert.Equal(t, risk.CodeInsufficientMargin, decision.Violations[0].Code)

	orders, err := env.ledger.Orders("c1", Query{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrder_ReferencePrice(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "10000")

	market := OrderIntent{
		CustomerID:     "c1",
		Instrument:     "AAPL",
		InstrumentType: model.InstrumentStock,
		Side:           model.SideBuy,
		Quantity:       d("10"),
	}
	_, _, err := env.ledger.CreateOrder(market)
	assert.True(t, errors.Is(err, ErrValidation), "market order without a known price")

	_, err = env.ledger.RefreshPrices(map[string]decimal.Decimal{"aapl": d("100")})
	require.NoError(t, err)

	o, decision, err := env.ledger.CreateOrder(market)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.RequiredMargin.Equal(d("1000")))
	assert.Equal(t, model.OrderTypeMarket, o.Type)

	_, _, err = env.ledger.CreateOrder(OrderIntent{CustomerID: "ghost", Instrument: "AAPL",
		InstrumentType: model.InstrumentStock, Side: model.SideBuy, Quantity: d("1"), Price: nd("1")})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRefreshPrices_MarksAndAlerts(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "10000")
	exec := env.fill(t, "c1", "AAPL", model.SideBuy, "100", "100", "5")
	require.True(t, exec.Account.MarginUsed.Equal(d("2000")))

	alerts, err := env.ledger.RefreshPrices(map[string]decimal.Decimal{"AAPL": d("90")})
	require.NoError(t, err)

	p, err := env.ledger.Position(exec.Position.ID)
	require.NoError(t, err)
	assert.True(t, p.CurrentPrice.Equal(d("90")))
	assert.True(t, p.UnrealizedPnL.Equal(d("-1000")))

	acct, err := env.ledger.Account("c1")
	require.NoError(t, err)
	assert.True(t, acct.Equity.Equal(acct.Balance.Add(d("-1000"))))
	assert.True(t, acct.UnrealizedPnL.Equal(d("-1000")))

	types := map[string]bool{}
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[model.AlertLargeLoss])
	assert.True(t, env.sink.alertTypes()[model.AlertLargeLoss])

	_, err = env.ledger.RefreshPrices(map[string]decimal.Decimal{"AAPL": d("-1")})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestMergeAfterRefresh_RemarksUnrealized(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "100000")
	first := env.fill(t, "c1", "AAPL", model.SideBuy, "100", "10", "5")

	_, err := env.ledger.RefreshPrices(map[string]decimal.Decimal{"AAPL": d("12")})
	require.NoError(t, err)
	p, err := env.ledger.Position(first.Position.ID)
	require.NoError(t, err)
	require.True(t, p.UnrealizedPnL.Equal(d("200")))

	// 100@10 + 100@14 averages to 12, which is also the current mark.
	merged := env.fill(t, "c1", "AAPL", model.SideBuy, "100", "14", "5")
	require.Equal(t, first.Position.ID, merged.Position.ID)
	assert.True(t, merged.Position.EntryPrice.Equal(d("12")))
	assert.True(t, merged.Position.CurrentPrice.Equal(d("12")))
	assert.True(t, merged.Position.UnrealizedPnL.IsZero(), merged.Position.UnrealizedPnL.String())

	// 100000 − 1 − 1.4 commission, nothing unrealized.
	acct, err := env.ledger.Account("c1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d("99997.6")))
	assert.True(t, acct.UnrealizedPnL.IsZero())
	assert.True(t, acct.Equity.Equal(d("99997.6")), acct.Equity.String())
}

func TestRefreshPrices_AlertsOncePerCondition(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "10000")
	env.fill(t, "c1", "AAPL", model.SideBuy, "100", "100", "5")

	countLoss := func(alerts []model.Alert) int {
		n := 0
		for _, a := range alerts {
			if a.Type == model.AlertLargeLoss {
				n++
			}
		}
		return n
	}

	alerts, err := env.ledger.RefreshPrices(map[string]decimal.Decimal{"AAPL": d("90")})
	require.NoError(t, err)
	assert.Equal(t, 1, countLoss(alerts))

	// Still beyond the loss line: nothing new.
	alerts, err = env.ledger.RefreshPrices(map[string]decimal.Decimal{"AAPL": d("89")})
	require.NoError(t, err)
	assert.Zero(t, countLoss(alerts))

	// The condition clears, then holds again: raised anew.
	alerts, err = env.ledger.RefreshPrices(map[string]decimal.Decimal{"AAPL": d("100")})
	require.NoError(t, err)
	assert.Zero(t, countLoss(alerts))
	alerts, err = env.ledger.RefreshPrices(map[string]decimal.Decimal{"AAPL": d("88")})
	require.NoError(t, err)
	assert.Equal(t, 1, countLoss(alerts))

	assert.Equal(t, 2, countLoss(env.sink.alerts))
}

func TestComputeEquity_DoesNotMutate(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "10000")
	exec := env.fill(t, "c1", "AAPL", model.SideBuy, "10", "100", "1")

	equity, err := env.ledger.ComputeEquity("c1", map[string]decimal.Decimal{"AAPL": d("120")})
	require.NoError(t, err)
	assert.True(t, equity.Equal(exec.Account.Balance.Add(d("200"))))

	p, _ := env.ledger.Position(exec.Position.ID)
	assert.True(t, p.UnrealizedPnL.IsZero())
}

func TestStatisticsAndRecalculate(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "10000")
	env.openAccount(t, "c2", "10000")

	a := env.fill(t, "c1", "AAPL", model.SideBuy, "10", "100", "1")
	_, err := env.ledger.ClosePosition(a.Position.ID, d("110"), nd("5"))
	require.NoError(t, err)
	_, err = env.ledger.ClosePosition(a.Position.ID, d("90"), decimal.NullDecimal{})
	require.NoError(t, err)

	b := env.fill(t, "c2", "MSFT", model.SideSell, "10", "50", "1")
	_, err = env.ledger.ClosePosition(b.Position.ID, d("40"), decimal.NullDecimal{})
	require.NoError(t, err)

	s, err := env.ledger.Statistics("c1", Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalTrades)
	assert.True(t, s.WinRate.Equal(d("50")))
	assert.True(t, s.ProfitFactor.Equal(d("1")))

	sys := env.ledger.SystemStatistics(Query{})
	assert.Equal(t, 3, sys.TotalTrades)
	assert.Equal(t, 2, sys.WinningTrades)

	acct, err := env.ledger.RecalculateStatistics("c1")
	require.NoError(t, err)
	assert.Equal(t, 2, acct.TotalTrades)
	assert.Equal(t, 1, acct.WinningTrades)
	assert.Equal(t, 1, acct.LosingTrades)
	assert.True(t, acct.RealizedPnL.IsZero())
}

func TestRiskAccessors(t *testing.T) {
	env := newTestEnv(t)
	env.openAccount(t, "c1", "10000")
	exec := env.fill(t, "c1", "AAPL", model.SideBuy, "10", "100", "10")

	pr, err := env.ledger.PositionRisk(exec.Position.ID)
	require.NoError(t, err)
	assert.True(t, pr.Score.GreaterThan(decimal.Zero))
	assert.NotNil(t, pr.Alerts)

	ar, err := env.ledger.AccountRisk("c1")
	require.NoError(t, err)
	assert.Equal(t, 1, ar.Positions)
	assert.True(t, ar.TotalExposure.Equal(d("10000")))

	_, err = env.ledger.PositionRisk("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestConcurrentExecutionsAcrossCustomers(t *testing.T) {
	env := newTestEnv(t)
	const customers, fills = 8, 25
	for c := 0; c < customers; c++ {
		env.openAccount(t, fmt.Sprintf("c%d", c), "1000000")
	}

	var wg sync.WaitGroup
	errs := make(chan error, customers*fills*2)
	for c := 0; c < customers; c++ {
		customer := fmt.Sprintf("c%d", c)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < fills; i++ {
				o, _, err := env.ledger.CreateOrder(OrderIntent{
					CustomerID: customer, Instrument: "AAPL", InstrumentType: model.InstrumentStock,
					Type: model.OrderTypeLimit, Side: model.SideBuy, Quantity: d("1"), Price: nd("100"),
				})
				if err != nil {
					errs <- err
					continue
				}
				if _, err := env.ledger.ExecuteOrder(o.ID, d("100"), decimal.NullDecimal{}); err != nil {
					errs <- err
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < fills; i++ {
				if _, err := env.ledger.RefreshPrices(map[string]decimal.Decimal{"AAPL": d("101")}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	for c := 0; c < customers; c++ {
		customer := fmt.Sprintf("c%d", c)
		positions, err := env.ledger.Positions(customer)
		require.NoError(t, err)
		require.Len(t, positions, 1)
		assert.True(t, positions[0].Quantity.Equal(d("25")))

		txs, err := env.ledger.Transactions(customer, Query{})
		require.NoError(t, err)
		assert.Len(t, txs, fills)

		acct, _ := env.ledger.Account(customer)
		expected := d("1000000")
		for _, tx := range txs {
			expected = expected.Add(tx.PnL).Sub(tx.Commission)
		}
		assert.True(t, acct.Balance.Equal(expected))
	}
}
