package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/position-engine/internal/model"
)

// MemoryJournal implements Journal with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryJournal struct {
	mu     sync.RWMutex
	txIDs  map[string]struct{}
	txs    map[string][]model.Transaction
	alerts map[string][]model.Alert
}

// NewMemoryJournal creates an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		txIDs:  make(map[string]struct{}),
		txs:    make(map[string][]model.Transaction),
		alerts: make(map[string][]model.Alert),
	}
}

func (j *MemoryJournal) RecordTransaction(_ context.Context, tx model.Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.txIDs[tx.ID]; ok {
		return fmt.Errorf("%w: transaction %s", ErrDuplicate, tx.ID)
	}
	j.txIDs[tx.ID] = struct{}{}
	j.txs[tx.CustomerID] = append(j.txs[tx.CustomerID], tx)
	return nil
}

func (j *MemoryJournal) RecordAlert(_ context.Context, a model.Alert) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.alerts[a.CustomerID] = append(j.alerts[a.CustomerID], a)
	return nil
}

func (j *MemoryJournal) Transactions(_ context.Context, customerID string) ([]model.Transaction, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]model.Transaction, len(j.txs[customerID]))
	copy(out, j.txs[customerID])
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Timestamp.Before(out[b].Timestamp)
	})
	return out, nil
}

func (j *MemoryJournal) Alerts(_ context.Context, customerID string) ([]model.Alert, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]model.Alert, len(j.alerts[customerID]))
	copy(out, j.alerts[customerID])
	return out, nil
}

func (j *MemoryJournal) Close() error { return nil }
