package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

func (e *Engine) alert(customerID, typ string, sev model.Severity, title, msg string, data map[string]any) model.Alert {
	return model.Alert{
		ID:          e.newID(),
		CustomerID:  customerID,
		Type:        typ,
		Severity:    sev,
		Title:       title,
		Message:     msg,
		Data:        data,
		TriggeredAt: e.now(),
	}
}

// CheckPositionRisk evaluates one position. Leverage, loss and profit
// conditions are independent, so zero to three alerts may be returned.
func (e *Engine) CheckPositionRisk(p model.Position) []model.Alert {
	var alerts []model.Alert

	if p.Leverage.GreaterThan(e.cfg.MaxLeverage) {
		alerts = append(alerts, e.alert(p.CustomerID, model.AlertHighLeverage, model.SeverityWarning,
			"High Leverage Warning",
			fmt.Sprintf("position %s leverage %sx exceeds the %sx limit", p.Instrument, p.Leverage, e.cfg.MaxLeverage),
			map[string]any{"position_id": p.ID, "leverage": p.Leverage.String()}))
	}

	if p.UnrealizedPnL.LessThan(e.cfg.LossAlertThreshold) {
		alerts = append(alerts, e.alert(p.CustomerID, model.AlertLargeLoss, model.SeverityCritical,
			"Large Loss Alert",
			fmt.Sprintf("position %s unrealized loss %s is beyond the alert line", p.Instrument, p.UnrealizedPnL.StringFixed(2)),
			map[string]any{"position_id": p.ID, "unrealized_pnl": p.UnrealizedPnL.String()}))
	}

	if p.UnrealizedPnL.GreaterThan(e.cfg.ProfitAlertThreshold) {
		alerts = append(alerts, e.alert(p.CustomerID, model.AlertLargeProfit, model.SeverityInfo,
			"Profit Alert",
			fmt.Sprintf("position %s unrealized profit %s, consider taking profit", p.Instrument, p.UnrealizedPnL.StringFixed(2)),
			map[string]any{"position_id": p.ID, "unrealized_pnl": p.UnrealizedPnL.String()}))
	}

	return alerts
}

// CheckAccountRisk evaluates an account and its open positions. Margin call
// and stop out may fire together; stop out never suppresses margin call.
func (e *Engine) CheckAccountRisk(a model.Account, positions []model.Position) []model.Alert {
	var alerts []model.Alert

	if ratio, ok := a.MarginRatio(); ok {
		data := map[string]any{
			"margin_level": ratio.String(),
			"equity":       a.Equity.String(),
			"margin_used":  a.MarginUsed.String(),
		}
		pct := ratio.Mul(hundred).StringFixed(2)

		if ratio.LessThan(e.cfg.MarginCallThreshold) {
			alerts = append(alerts, e.alert(a.CustomerID, model.AlertMarginCall, model.SeverityCritical,
				"Margin Call",
				fmt.Sprintf("margin level %s%% is below %s%%, add funds",
					pct, e.cfg.MarginCallThreshold.Mul(hundred).StringFixed(2)),
				data))
		}
		if ratio.LessThan(e.cfg.StopOutThreshold) {
			alerts = append(alerts, e.alert(a.CustomerID, model.AlertStopOut, model.SeverityCritical,
				"Stop Out Warning",
				fmt.Sprintf("margin level %s%% reached the stop out line %s%%",
					pct, e.cfg.StopOutThreshold.Mul(hundred).StringFixed(2)),
				data))
		}
	}

	exposure := TotalExposure(positions)
	limit := e.cfg.MaxPositionSize.Mul(decimal.NewFromInt(int64(len(positions))))
	if exposure.GreaterThan(limit) {
		alerts = append(alerts, e.alert(a.CustomerID, model.AlertExcessiveExposure, model.SeverityWarning,
			"Excessive Exposure",
			fmt.Sprintf("total exposure %s is too large", exposure.StringFixed(2)),
			map[string]any{"total_exposure": exposure.String()}))
	}

	if dd, ok := Drawdown(a); ok && dd.GreaterThan(e.cfg.DrawdownAlertRatio) {
		alerts = append(alerts, e.alert(a.CustomerID, model.AlertHighDrawdown, model.SeverityWarning,
			"Drawdown Alert",
			fmt.Sprintf("account drawdown reached %s%%, consider reducing risk", dd.Mul(hundred).StringFixed(2)),
			map[string]any{"drawdown": dd.String()}))
	}

	return alerts
}

// TotalExposure sums quantity × entry price × leverage over positions.
func TotalExposure(positions []model.Position) decimal.Decimal {
	total := decimal.Zero
	for i := range positions {
		total = total.Add(positions[i].Exposure())
	}
	return total
}

// Drawdown returns (balance − equity) / balance. ok is false when the
// balance is not positive.
func Drawdown(a model.Account) (decimal.Decimal, bool) {
	if !a.Balance.IsPositive() {
		return decimal.Zero, false
	}
	return a.Balance.Sub(a.Equity).Div(a.Balance), true
}
