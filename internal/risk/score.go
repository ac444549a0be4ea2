package risk

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/position-engine/internal/model"
)

var (
	scoreCap         = decimal.NewFromInt(100)
	leverageScoreCap = decimal.NewFromInt(40)
	lossScoreCap     = decimal.NewFromInt(40)
	sizeScoreCap     = decimal.NewFromInt(20)
	drawdownScoreCap = decimal.NewFromInt(30)
	lossRatioWeight  = decimal.NewFromInt(20)
)

// PositionRiskScore grades a position in [0, 100]:
//
//	leverage  min(leverage / maxLeverage × 40, 40)
//	loss      min(|unrealized| / notional × 200, 40), only while losing
//	size      min(exposure / maxPositionSize × 20, 20)
func (e *Engine) PositionRiskScore(p model.Position) decimal.Decimal {
	leverageScore := decimal.Min(p.Leverage.Div(e.cfg.MaxLeverage).Mul(leverageScoreCap), leverageScoreCap)

	lossScore := decimal.Zero
	if notional := p.Notional(); p.UnrealizedPnL.IsNegative() && notional.IsPositive() {
		ratio := p.UnrealizedPnL.Abs().Div(notional)
		lossScore = decimal.Min(ratio.Mul(decimal.NewFromInt(200)), lossScoreCap)
	}

	sizeScore := decimal.Min(p.Exposure().Div(e.cfg.MaxPositionSize).Mul(sizeScoreCap), sizeScoreCap)

	return clampScore(leverageScore.Add(lossScore).Add(sizeScore))
}

// AccountRiskScore grades an account in [0, 100]:
//
//	margin     50 / 30 / 10 / 0 for equity/margin below 1 / 2 / 3 / above
//	drawdown   min(drawdown × 150, 30) while the balance is positive
//	loss ratio losing / total trades × 20
func (e *Engine) AccountRiskScore(a model.Account) decimal.Decimal {
	marginScore := decimal.Zero
	if ratio, ok := a.MarginRatio(); ok {
		switch {
		case ratio.LessThan(decimal.NewFromInt(1)):
			marginScore = decimal.NewFromInt(50)
		case ratio.LessThan(decimal.NewFromInt(2)):
			marginScore = decimal.NewFromInt(30)
		case ratio.LessThan(decimal.NewFromInt(3)):
			marginScore = decimal.NewFromInt(10)
		}
	}

	drawdownScore := decimal.Zero
	if dd, ok := Drawdown(a); ok && dd.IsPositive() {
		drawdownScore = decimal.Min(dd.Mul(decimal.NewFromInt(150)), drawdownScoreCap)
	}

	lossRatioScore := decimal.Zero
	if a.TotalTrades > 0 {
		lossRatioScore = decimal.NewFromInt(int64(a.LosingTrades)).
			Div(decimal.NewFromInt(int64(a.TotalTrades))).
			Mul(lossRatioWeight)
	}

	return clampScore(marginScore.Add(drawdownScore).Add(lossRatioScore))
}

func clampScore(s decimal.Decimal) decimal.Decimal {
	if s.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(s, scoreCap)
}
