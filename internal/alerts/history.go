package alerts

import (
	"errors"
	"fmt"
	"sync"

	"github.com/atmx/position-engine/internal/model"
)

// ErrUnknownAlert is returned by Acknowledge for ids not in the history.
var ErrUnknownAlert = errors.New("alerts: unknown alert")

// DefaultHistoryLimit caps the alerts kept per customer.
const DefaultHistoryLimit = 500

// History keeps the most recent alerts per customer so they can be listed
// and acknowledged. Older alerts are evicted once a customer exceeds the
// limit.
type History struct {
	mu         sync.RWMutex
	limit      int
	byCustomer map[string][]*model.Alert
	byID       map[string]*model.Alert
}

// NewHistory creates a history keeping up to limit alerts per customer.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{
		limit:      limit,
		byCustomer: make(map[string][]*model.Alert),
		byID:       make(map[string]*model.Alert),
	}
}

func (h *History) PublishAlerts(alerts []model.Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range alerts {
		a := alerts[i]
		if _, seen := h.byID[a.ID]; seen {
			continue
		}
		list := append(h.byCustomer[a.CustomerID], &a)
		if over := len(list) - h.limit; over > 0 {
			for _, old := range list[:over] {
				delete(h.byID, old.ID)
			}
			list = append([]*model.Alert(nil), list[over:]...)
		}
		h.byCustomer[a.CustomerID] = list
		h.byID[a.ID] = &a
	}
}

// List returns a customer's alerts, newest first. With pendingOnly set,
// acknowledged alerts are skipped.
func (h *History) List(customerID string, pendingOnly bool) []model.Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.byCustomer[customerID]
	out := make([]model.Alert, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if pendingOnly && list[i].Acknowledged {
			continue
		}
		out = append(out, *list[i])
	}
	return out
}

// Acknowledge marks an alert as seen and returns it.
func (h *History) Acknowledge(alertID string) (model.Alert, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.byID[alertID]
	if !ok {
		return model.Alert{}, fmt.Errorf("%w: %s", ErrUnknownAlert, alertID)
	}
	a.Acknowledged = true
	return *a, nil
}
