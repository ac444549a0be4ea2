package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-engine/internal/model"
)

// AccountStatusActive is the status of every provisioned account.
const AccountStatusActive = "active"

// NewAccount provisions an account. Equity and available margin start at
// the initial balance; with no margin in use the margin level is unbounded.
func NewAccount(id, customerID, name string, initialBalance decimal.Decimal, now time.Time) (model.Account, error) {
	var problems []string
	if strings.TrimSpace(customerID) == "" {
		problems = append(problems, "customer id is required")
	}
	if initialBalance.IsNegative() {
		problems = append(problems, fmt.Sprintf("initial balance %s must not be negative", initialBalance))
	}
	if len(problems) > 0 {
		return model.Account{}, validationError(problems)
	}
	return model.Account{
		ID:              id,
		CustomerID:      strings.TrimSpace(customerID),
		CustomerName:    strings.TrimSpace(name),
		Balance:         initialBalance,
		Equity:          initialBalance,
		MarginUsed:      decimal.Zero,
		MarginAvailable: initialBalance,
		MarginLevel:     decimal.Zero,
		MarginUnbounded: true,
		UnrealizedPnL:   decimal.Zero,
		RealizedPnL:     decimal.Zero,
		Status:          AccountStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// ApplyTransaction books tx against the account and stamps tx.BalanceAfter.
// Only closes count as trades; a zero P&L close counts toward neither the
// winning nor the losing bucket.
func ApplyTransaction(a *model.Account, tx *model.Transaction) error {
	if a == nil {
		return notFound("account", tx.CustomerID)
	}
	a.Balance = a.Balance.Add(tx.PnL).Sub(tx.Commission)
	if tx.Type == model.TxClosePosition {
		a.TotalTrades++
		a.RealizedPnL = a.RealizedPnL.Add(tx.PnL)
		switch tx.PnL.Sign() {
		case 1:
			a.WinningTrades++
		case -1:
			a.LosingTrades++
		}
	}
	a.UpdatedAt = tx.Timestamp
	tx.BalanceAfter = a.Balance
	return nil
}

// ComputeEquity returns balance + Σ unrealized P&L. Positions whose
// instrument is missing from prices contribute their last unrealized P&L.
func ComputeEquity(a model.Account, positions []model.Position, prices map[string]decimal.Decimal) (equity, unrealized decimal.Decimal) {
	unrealized = decimal.Zero
	for i := range positions {
		p := &positions[i]
		if price, ok := prices[p.Instrument]; ok {
			unrealized = unrealized.Add(p.DirectionalPnL(price, p.Quantity))
		} else {
			unrealized = unrealized.Add(p.UnrealizedPnL)
		}
	}
	return a.Balance.Add(unrealized), unrealized
}

// Revalue refreshes the account's derived fields from its open positions.
func Revalue(a *model.Account, positions []model.Position) {
	marginUsed := decimal.Zero
	for _, p := range positions {
		marginUsed = marginUsed.Add(p.MarginUsed)
	}
	a.MarginUsed = marginUsed
	a.Equity, a.UnrealizedPnL = ComputeEquity(*a, positions, nil)
	RecomputeMarginLevel(a)
}

// RecomputeMarginLevel sets MarginLevel to equity / margin used × 100 and
// MarginAvailable to equity − margin used. No margin in use leaves the
// level unbounded.
func RecomputeMarginLevel(a *model.Account) {
	a.MarginAvailable = a.Equity.Sub(a.MarginUsed)
	if !a.MarginUsed.IsPositive() {
		a.MarginLevel = decimal.Zero
		a.MarginUnbounded = true
		return
	}
	a.MarginLevel = a.Equity.Div(a.MarginUsed).Mul(decimal.NewFromInt(100))
	a.MarginUnbounded = false
}
