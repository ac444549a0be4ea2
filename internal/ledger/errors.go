package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atmx/position-engine/internal/risk"
)

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("ledger: validation failed")

	// ErrNotFound is returned for unknown order, position or account ids.
	ErrNotFound = errors.New("ledger: not found")

	// ErrInvalidState is returned when an order's status forbids the
	// requested operation.
	ErrInvalidState = errors.New("ledger: invalid state")

	// ErrInsufficientMargin and ErrRiskRejected are pre-trade gate failures.
	ErrInsufficientMargin = risk.ErrInsufficientMargin
	ErrRiskRejected       = risk.ErrRiskRejected
)

func validationError(problems []string) error {
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}
