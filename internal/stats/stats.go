// Package stats aggregates trading statistics from transaction history.
// Closed trades are the close_position transactions; commission is summed
// over every transaction, opens included.
package stats

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/position-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Statistics summarizes closed trades.
type Statistics struct {
	TotalTrades     int             `json:"total_trades" yaml:"total_trades"`
	WinningTrades   int             `json:"winning_trades" yaml:"winning_trades"`
	LosingTrades    int             `json:"losing_trades" yaml:"losing_trades"`
	TotalPnL        decimal.Decimal `json:"total_pnl" yaml:"total_pnl"`
	TotalCommission decimal.Decimal `json:"total_commission" yaml:"total_commission"`
	NetPnL          decimal.Decimal `json:"net_pnl" yaml:"net_pnl"`
	WinRate         decimal.Decimal `json:"win_rate" yaml:"win_rate"` // percent
	AverageWin      decimal.Decimal `json:"average_win" yaml:"average_win"`
	AverageLoss     decimal.Decimal `json:"average_loss" yaml:"average_loss"` // negative
	LargestWin      decimal.Decimal `json:"largest_win" yaml:"largest_win"`
	LargestLoss     decimal.Decimal `json:"largest_loss" yaml:"largest_loss"` // most negative
	ProfitFactor    decimal.Decimal `json:"profit_factor" yaml:"profit_factor"`
}

// Compute aggregates txs. The result does not depend on their order.
// ProfitFactor is gross wins over gross losses, zero when nothing was lost.
func Compute(txs []model.Transaction) Statistics {
	s := Statistics{
		TotalPnL:        decimal.Zero,
		TotalCommission: decimal.Zero,
		NetPnL:          decimal.Zero,
		WinRate:         decimal.Zero,
		AverageWin:      decimal.Zero,
		AverageLoss:     decimal.Zero,
		LargestWin:      decimal.Zero,
		LargestLoss:     decimal.Zero,
		ProfitFactor:    decimal.Zero,
	}
	wins, losses := decimal.Zero, decimal.Zero

	for _, tx := range txs {
		s.TotalCommission = s.TotalCommission.Add(tx.Commission)
		if tx.Type != model.TxClosePosition {
			continue
		}
		s.TotalTrades++
		s.TotalPnL = s.TotalPnL.Add(tx.PnL)

		switch tx.PnL.Sign() {
		case 1:
			s.WinningTrades++
			wins = wins.Add(tx.PnL)
			if tx.PnL.GreaterThan(s.LargestWin) {
				s.LargestWin = tx.PnL
			}
		case -1:
			s.LosingTrades++
			losses = losses.Add(tx.PnL)
			if tx.PnL.LessThan(s.LargestLoss) {
				s.LargestLoss = tx.PnL
			}
		}
	}

	s.NetPnL = s.TotalPnL.Sub(s.TotalCommission)
	if s.TotalTrades > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).
			Div(decimal.NewFromInt(int64(s.TotalTrades))).Mul(hundred)
	}
	if s.WinningTrades > 0 {
		s.AverageWin = wins.Div(decimal.NewFromInt(int64(s.WinningTrades)))
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = losses.Div(decimal.NewFromInt(int64(s.LosingTrades)))
		s.ProfitFactor = wins.Div(losses.Abs())
	}
	return s
}
