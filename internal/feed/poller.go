// Package feed drives the price pulse: it polls a price source on an
// interval and marks the ledger to the prices it returns.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/position-engine/internal/model"
)

// PriceSource returns the latest price per instrument.
type PriceSource interface {
	Latest(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Marker applies a price pulse. *ledger.Ledger satisfies it.
type Marker interface {
	RefreshPrices(prices map[string]decimal.Decimal) ([]model.Alert, error)
}

// Poller reads a PriceSource every Interval and hands the result to a
// Marker. A failed read skips the tick; the next tick tries again.
type Poller struct {
	Source   PriceSource
	Marker   Marker
	Interval time.Duration
	// Timeout bounds one read; zero means Interval.
	Timeout time.Duration
	Log     *slog.Logger
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.Poll(ctx, log)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll performs one read-and-mark cycle and reports how many instruments
// were applied.
func (p *Poller) Poll(ctx context.Context, log *slog.Logger) int {
	if ctx.Err() != nil {
		return 0
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = p.Interval
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prices, err := p.Source.Latest(readCtx)
	if err != nil {
		log.Warn("price poll failed", "err", err)
		if len(prices) == 0 {
			return 0
		}
	}
	marks := validMarks(prices, log)
	if len(marks) == 0 {
		return 0
	}

	alerts, err := p.Marker.RefreshPrices(marks)
	if err != nil {
		log.Warn("price refresh rejected", "err", err)
		return 0
	}
	if len(alerts) > 0 {
		log.Info("price refresh raised alerts", "instruments", len(marks), "alerts", len(alerts))
	}
	return len(marks)
}

// validMarks drops entries with a malformed symbol or a non-positive price
// so one bad field in the source does not stall every other instrument.
func validMarks(prices map[string]decimal.Decimal, log *slog.Logger) map[string]decimal.Decimal {
	marks := make(map[string]decimal.Decimal, len(prices))
	for symbol, price := range prices {
		instrument, err := model.NormalizeSymbol(symbol)
		if err != nil {
			log.Warn("price dropped", "symbol", symbol, "err", err)
			continue
		}
		if !price.IsPositive() {
			log.Warn("price dropped", "symbol", instrument, "price", price.String())
			continue
		}
		marks[instrument] = price
	}
	return marks
}
