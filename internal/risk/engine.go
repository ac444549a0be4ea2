// Package risk evaluates leveraged positions and customer accounts against
// configured thresholds. It owns no state beyond its Config: every function
// reads a snapshot handed in by the ledger and returns decisions, alerts or
// scores.
//
// Margin levels are compared as plain ratios (equity / margin used), so a
// MarginCallThreshold of 0.30 means "equity below 30% of margin used".
package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-engine/internal/model"
)

var (
	// ErrInsufficientMargin is returned when the margin a new position needs
	// exceeds the account's available margin.
	ErrInsufficientMargin = errors.New("risk: insufficient margin")

	// ErrRiskRejected is returned when a new position violates a leverage or
	// size limit.
	ErrRiskRejected = errors.New("risk: rejected by risk limits")
)

// Violation codes reported by CanOpenPosition.
const (
	CodeInsufficientMargin = "INSUFFICIENT_MARGIN"
	CodeLeverageTooHigh    = "LEVERAGE_TOO_HIGH"
	CodePositionTooLarge   = "POSITION_TOO_LARGE"
	CodeInvalidLeverage    = "INVALID_LEVERAGE"
)

// Config holds the thresholds the engine evaluates against.
type Config struct {
	// MaxLeverage is the highest leverage a position may carry.
	MaxLeverage decimal.Decimal `yaml:"max_leverage"`

	// MaxPositionSize caps the notional (quantity × price) of a new position
	// and scales the exposure check.
	MaxPositionSize decimal.Decimal `yaml:"max_position_size"`

	// MarginCallThreshold and StopOutThreshold are equity / margin-used
	// ratios. Stop-out is the stricter of the two.
	MarginCallThreshold decimal.Decimal `yaml:"margin_call_threshold"`
	StopOutThreshold    decimal.Decimal `yaml:"stop_out_threshold"`

	// ProfitAlertThreshold and LossAlertThreshold bound unrealized P&L per
	// position. LossAlertThreshold is negative.
	ProfitAlertThreshold decimal.Decimal `yaml:"profit_alert_threshold"`
	LossAlertThreshold   decimal.Decimal `yaml:"loss_alert_threshold"`

	// DrawdownAlertRatio is the (balance − equity) / balance ratio above
	// which a drawdown warning is raised.
	DrawdownAlertRatio decimal.Decimal `yaml:"drawdown_alert_ratio"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxLeverage:          decimal.NewFromInt(10),
		MaxPositionSize:      decimal.NewFromInt(100000),
		MarginCallThreshold:  decimal.RequireFromString("0.3"),
		StopOutThreshold:     decimal.RequireFromString("0.2"),
		ProfitAlertThreshold: decimal.NewFromInt(1000),
		LossAlertThreshold:   decimal.NewFromInt(-500),
		DrawdownAlertRatio:   decimal.RequireFromString("0.2"),
	}
}

// Validate reports configuration that would make the engine misbehave.
func (c Config) Validate() error {
	var errs []error
	if c.MaxLeverage.LessThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("max leverage %s must be >= 1", c.MaxLeverage))
	}
	if !c.MaxPositionSize.IsPositive() {
		errs = append(errs, fmt.Errorf("max position size %s must be positive", c.MaxPositionSize))
	}
	if c.StopOutThreshold.GreaterThan(c.MarginCallThreshold) {
		errs = append(errs, fmt.Errorf("stop out threshold %s must not exceed margin call threshold %s",
			c.StopOutThreshold, c.MarginCallThreshold))
	}
	if c.LossAlertThreshold.IsPositive() {
		errs = append(errs, fmt.Errorf("loss alert threshold %s must not be positive", c.LossAlertThreshold))
	}
	if !c.DrawdownAlertRatio.IsPositive() {
		errs = append(errs, fmt.Errorf("drawdown alert ratio %s must be positive", c.DrawdownAlertRatio))
	}
	return errors.Join(errs...)
}

// Engine evaluates snapshots against a Config.
type Engine struct {
	cfg   Config
	now   func() time.Time
	newID func() string
}

// NewEngine creates an engine. newID generates alert identifiers; nil
// selects random UUIDs.
func NewEngine(cfg Config, newID func() string) *Engine {
	if newID == nil {
		newID = uuidString
	}
	return &Engine{
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		newID: newID,
	}
}

// Config returns the engine's thresholds.
func (e *Engine) Config() Config {
	return e.cfg
}

// Violation is one failed pre-trade check.
type Violation struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
	err  error
}

// Decision is the outcome of CanOpenPosition.
type Decision struct {
	Allowed        bool            `json:"allowed"`
	Reason         string          `json:"reason,omitempty"` // first violation
	Violations     []Violation     `json:"violations,omitempty"`
	RequiredMargin decimal.Decimal `json:"required_margin"`
}

func (d *Decision) add(code, msg string, err error) {
	if d.Allowed {
		d.Reason = msg
	}
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg, err: err})
	d.Allowed = false
}

// Err returns nil when the position is allowed, otherwise the first
// violation wrapped around ErrInsufficientMargin or ErrRiskRejected.
func (d Decision) Err() error {
	if d.Allowed || len(d.Violations) == 0 {
		return nil
	}
	v := d.Violations[0]
	return fmt.Errorf("%w: %s", v.err, v.Msg)
}

// RequiredMargin returns quantity × price / leverage.
func RequiredMargin(quantity, price, leverage decimal.Decimal) decimal.Decimal {
	if !leverage.IsPositive() {
		return quantity.Mul(price)
	}
	return quantity.Mul(price).Div(leverage)
}

// CanOpenPosition gates a new position. The margin, leverage and size
// checks are all evaluated; Reason carries the first failure in that order.
func (e *Engine) CanOpenPosition(
	account model.Account,
	instrument string,
	quantity, price, leverage decimal.Decimal,
) Decision {
	d := Decision{Allowed: true}

	if !leverage.IsPositive() {
		d.add(CodeInvalidLeverage, fmt.Sprintf("leverage %s must be positive", leverage), ErrRiskRejected)
		return d
	}

	d.RequiredMargin = RequiredMargin(quantity, price, leverage)

	// 1. Margin.
	if d.RequiredMargin.GreaterThan(account.MarginAvailable) {
		d.add(CodeInsufficientMargin,
			fmt.Sprintf("insufficient margin: %s requires %s, available %s",
				instrument, d.RequiredMargin.StringFixed(2), account.MarginAvailable.StringFixed(2)),
			ErrInsufficientMargin)
	}

	// 2. Leverage.
	if leverage.GreaterThan(e.cfg.MaxLeverage) {
		d.add(CodeLeverageTooHigh,
			fmt.Sprintf("leverage too high: %sx > %sx", leverage, e.cfg.MaxLeverage),
			ErrRiskRejected)
	}

	// 3. Size.
	notional := quantity.Mul(price)
	if notional.GreaterThan(e.cfg.MaxPositionSize) {
		d.add(CodePositionTooLarge,
			fmt.Sprintf("position too large: %s > %s",
				notional.StringFixed(2), e.cfg.MaxPositionSize.StringFixed(2)),
			ErrRiskRejected)
	}

	return d
}
