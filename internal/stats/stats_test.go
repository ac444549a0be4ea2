package stats

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/position-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func closeTx(pnl, commission string) model.Transaction {
	return model.Transaction{Type: model.TxClosePosition, PnL: d(pnl), Commission: d(commission)}
}

func openTx(commission string) model.Transaction {
	return model.Transaction{Type: model.TxOpenPosition, PnL: decimal.Zero, Commission: d(commission)}
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil)
	assert.Zero(t, s.TotalTrades)
	assert.True(t, s.WinRate.IsZero())
	assert.True(t, s.ProfitFactor.IsZero())
	assert.True(t, s.NetPnL.IsZero())
}

func TestCompute_Mixed(t *testing.T) {
	txs := []model.Transaction{
		openTx("1"),
		closeTx("600", "2.25"),
		closeTx("-200", "0.5"),
		closeTx("0", "0.25"),
		closeTx("100", "1"),
		closeTx("-100", "1"),
	}

	s := Compute(txs)

	require.Equal(t, 5, s.TotalTrades)
	assert.Equal(t, 2, s.WinningTrades)
	assert.Equal(t, 2, s.LosingTrades)
	assert.True(t, s.TotalPnL.Equal(d("400")), "total pnl %s", s.TotalPnL)
	assert.True(t, s.TotalCommission.Equal(d("6")), "commission %s", s.TotalCommission)
	assert.True(t, s.NetPnL.Equal(d("394")), "net %s", s.NetPnL)
	assert.True(t, s.WinRate.Equal(d("40")), "win rate %s", s.WinRate)
	assert.True(t, s.AverageWin.Equal(d("350")), "avg win %s", s.AverageWin)
	assert.True(t, s.AverageLoss.Equal(d("-150")), "avg loss %s", s.AverageLoss)
	assert.True(t, s.LargestWin.Equal(d("600")))
	assert.True(t, s.LargestLoss.Equal(d("-200")))
	assert.True(t, s.ProfitFactor.Equal(d("700").Div(d("300"))), "profit factor %s", s.ProfitFactor)
}

func TestCompute_NoLossesProfitFactorZero(t *testing.T) {
	s := Compute([]model.Transaction{closeTx("10", "0"), closeTx("5", "0")})
	assert.Equal(t, 2, s.WinningTrades)
	assert.True(t, s.ProfitFactor.IsZero())
	assert.True(t, s.WinRate.Equal(d("100")))
}

func TestCompute_OrderIndependent(t *testing.T) {
	a := []model.Transaction{closeTx("10", "1"), closeTx("-4", "1"), openTx("2")}
	b := []model.Transaction{openTx("2"), closeTx("-4", "1"), closeTx("10", "1")}
	assert.Equal(t, Compute(a), Compute(b))
}
