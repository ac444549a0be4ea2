package risk

import (
	"testing"

	"github.com/atmx/position-engine/internal/model"
)

func alertTypes(alerts []model.Alert) map[string]model.Severity {
	out := make(map[string]model.Severity, len(alerts))
	for _, a := range alerts {
		out[a.Type] = a.Severity
	}
	return out
}

func TestCheckPositionRisk_NoAlerts(t *testing.T) {
	e := newTestEngine()
	p := model.Position{CustomerID: "C1", Leverage: d(5), UnrealizedPnL: d(100)}
	if alerts := e.CheckPositionRisk(p); len(alerts) != 0 {
		t.Errorf("expected no alerts, got %v", alerts)
	}
}

func TestCheckPositionRisk_Independent(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		name     string
		leverage float64
		pnl      float64
		want     map[string]model.Severity
	}{
		{"high leverage", 20, 0, map[string]model.Severity{model.AlertHighLeverage: model.SeverityWarning}},
		{"large loss", 5, -600, map[string]model.Severity{model.AlertLargeLoss: model.SeverityCritical}},
		{"large profit", 5, 1500, map[string]model.Severity{model.AlertLargeProfit: model.SeverityInfo}},
		{"leverage and loss", 20, -600, map[string]model.Severity{
			model.AlertHighLeverage: model.SeverityWarning,
			model.AlertLargeLoss:    model.SeverityCritical,
		}},
		{"at thresholds", 10, -500, map[string]model.Severity{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := model.Position{ID: "P1", CustomerID: "C1", Instrument: "EURUSD", Leverage: d(tt.leverage), UnrealizedPnL: d(tt.pnl)}
			got := alertTypes(e.CheckPositionRisk(p))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for typ, sev := range tt.want {
				if got[typ] != sev {
					t.Errorf("alert %s severity = %q, want %q", typ, got[typ], sev)
				}
			}
		})
	}
}

func TestCheckPositionRisk_AlertFields(t *testing.T) {
	e := newTestEngine()
	p := model.Position{ID: "P1", CustomerID: "C9", Instrument: "EURUSD", Leverage: d(2), UnrealizedPnL: d(-1000)}
	alerts := e.CheckPositionRisk(p)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.ID == "" || a.CustomerID != "C9" || a.TriggeredAt.IsZero() {
		t.Errorf("incomplete alert: %+v", a)
	}
	if a.Data["position_id"] != "P1" {
		t.Errorf("alert data missing position id: %v", a.Data)
	}
}

func TestCheckAccountRisk_MarginCallAndStopOutTogether(t *testing.T) {
	e := newTestEngine()
	a := accountWith(500, 500, 3000) // ratio 0.1667
	got := alertTypes(e.CheckAccountRisk(a, nil))
	if got[model.AlertMarginCall] != model.SeverityCritical {
		t.Error("expected margin call")
	}
	if got[model.AlertStopOut] != model.SeverityCritical {
		t.Error("expected stop out")
	}
}

func TestCheckAccountRisk_MarginCallOnly(t *testing.T) {
	e := newTestEngine()
	a := accountWith(750, 750, 3000) // ratio 0.25
	got := alertTypes(e.CheckAccountRisk(a, nil))
	if _, ok := got[model.AlertMarginCall]; !ok {
		t.Error("expected margin call")
	}
	if _, ok := got[model.AlertStopOut]; ok {
		t.Error("unexpected stop out")
	}
}

func TestCheckAccountRisk_HealthyMargin(t *testing.T) {
	e := newTestEngine()
	a := accountWith(2700, 2700, 3000) // ratio 0.90
	got := alertTypes(e.CheckAccountRisk(a, nil))
	if _, ok := got[model.AlertMarginCall]; ok {
		t.Error("unexpected margin call")
	}
	if _, ok := got[model.AlertStopOut]; ok {
		t.Error("unexpected stop out")
	}
}

func TestCheckAccountRisk_NoMarginUsed(t *testing.T) {
	e := newTestEngine()
	a := accountWith(1000, 1000, 0)
	if alerts := e.CheckAccountRisk(a, nil); len(alerts) != 0 {
		t.Errorf("expected no alerts, got %v", alerts)
	}
}

func TestCheckAccountRisk_ExcessiveExposure(t *testing.T) {
	e := newTestEngine()
	positions := []model.Position{
		{Quantity: d(1000), EntryPrice: d(100), Leverage: d(2)}, // 200000
		{Quantity: d(10), EntryPrice: d(10), Leverage: d(1)},    // 100
	}
	// limit = 100000 × 2 = 200000; exposure 200100.
	got := alertTypes(e.CheckAccountRisk(accountWith(1000000, 1000000, 0), positions))
	if got[model.AlertExcessiveExposure] != model.SeverityWarning {
		t.Errorf("expected excessive exposure warning, got %v", got)
	}
}

func TestCheckAccountRisk_HighDrawdown(t *testing.T) {
	e := newTestEngine()
	got := alertTypes(e.CheckAccountRisk(accountWith(1000, 750, 0), nil)) // 25%
	if got[model.AlertHighDrawdown] != model.SeverityWarning {
		t.Errorf("expected drawdown warning, got %v", got)
	}
	got = alertTypes(e.CheckAccountRisk(accountWith(1000, 800, 0), nil)) // exactly 20%
	if _, ok := got[model.AlertHighDrawdown]; ok {
		t.Error("drawdown of exactly 20% must not alert")
	}
	got = alertTypes(e.CheckAccountRisk(accountWith(0, -100, 0), nil))
	if _, ok := got[model.AlertHighDrawdown]; ok {
		t.Error("non-positive balance must not alert on drawdown")
	}
}
