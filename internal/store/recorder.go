package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/atmx/position-engine/internal/metrics"
	"github.com/atmx/position-engine/internal/model"
)

// recordTimeout bounds one journal write.
const recordTimeout = 5 * time.Second

type record struct {
	tx    *model.Transaction
	alert *model.Alert
}

// Recorder mirrors ledger output into a Journal off the hot path. The
// ledger hands records over without blocking; Run writes them in order.
// A failed write is logged and counted, never retried, and never undoes
// the in-memory commit.
type Recorder struct {
	journal Journal
	name    string
	queue   chan record
	log     *slog.Logger
}

// NewRecorder creates a recorder with room for buffer pending records.
// name labels metrics and logs.
func NewRecorder(j Journal, name string, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Recorder{
		journal: j,
		name:    name,
		queue:   make(chan record, buffer),
		log:     slog.Default().With("journal", name),
	}
}

// RecordTransaction queues a committed transaction.
func (r *Recorder) RecordTransaction(tx model.Transaction) {
	r.enqueue(record{tx: &tx})
}

// PublishAlerts queues raised alerts.
func (r *Recorder) PublishAlerts(alerts []model.Alert) {
	for i := range alerts {
		a := alerts[i]
		r.enqueue(record{alert: &a})
	}
}

func (r *Recorder) enqueue(rec record) {
	select {
	case r.queue <- rec:
	default:
		// Drop if buffer full to avoid blocking trade execution.
		metrics.JournalErrors.WithLabelValues(r.name).Inc()
		r.log.Warn("journal queue full, record dropped")
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is
// already queued.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-r.queue:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

// write uses its own deadline so records queued before shutdown still land.
func (r *Recorder) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	var err error
	var id string
	switch {
	case rec.tx != nil:
		id = rec.tx.ID
		err = r.journal.RecordTransaction(ctx, *rec.tx)
	case rec.alert != nil:
		id = rec.alert.ID
		err = r.journal.RecordAlert(ctx, *rec.alert)
	}
	if err == nil {
		return
	}
	if errors.Is(err, ErrDuplicate) {
		r.log.Debug("record already journaled", "id", id)
		return
	}
	metrics.JournalErrors.WithLabelValues(r.name).Inc()
	r.log.Error("journal write failed", "id", id, "err", err)
}
