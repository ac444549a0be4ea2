package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// InstrumentType is the asset class of a CFD underlying.
type InstrumentType string

// Supported instrument types.
const (
	InstrumentForex     InstrumentType = "forex"
	InstrumentStock     InstrumentType = "stock"
	InstrumentCommodity InstrumentType = "commodity"
	InstrumentIndex     InstrumentType = "index"
	InstrumentCrypto    InstrumentType = "crypto"
)

var validInstrumentTypes = map[InstrumentType]bool{
	InstrumentForex:     true,
	InstrumentStock:     true,
	InstrumentCommodity: true,
	InstrumentIndex:     true,
	InstrumentCrypto:    true,
}

// Valid reports whether t is a supported instrument type.
func (t InstrumentType) Valid() bool {
	return validInstrumentTypes[t]
}

// symbolRegex matches exchange-style symbols: EURUSD, XAUUSD, US500,
// BTC-USD, 0700.HK, EUR/USD.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9._/-]{0,31}$`)

var (
	ErrInvalidSymbol         = errors.New("model: invalid instrument symbol")
	ErrInvalidInstrumentType = errors.New("model: unsupported instrument type")
)

// NormalizeSymbol trims and upper-cases an instrument symbol and checks its
// format. Symbols are compared in normalized form everywhere in the ledger.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// ParseInstrumentType validates an instrument type string. An empty string
// is not accepted; callers pick a type explicitly.
func ParseInstrumentType(s string) (InstrumentType, error) {
	t := InstrumentType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidInstrumentType, s)
	}
	return t, nil
}
