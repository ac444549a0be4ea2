package ledger

import (
	"fmt"
	"time"

	"github.com/tidwall/btree"

	"github.com/atmx/position-engine/internal/model"
)

// Query bounds a time-ordered read. Zero From/To leave that side open;
// both bounds are inclusive.
type Query struct {
	From       time.Time
	To         time.Time
	Descending bool
}

func (q Query) contains(ts time.Time) bool {
	if !q.From.IsZero() && ts.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ts.After(q.To) {
		return false
	}
	return true
}

// maxID sorts after every ULID and UUID, so a pivot carrying it lands after
// all transactions sharing the pivot's timestamp.
const maxID = "\uffff"

func txLess(a, b *model.Transaction) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// TransactionLog is an append-only record of one customer's fills and
// closes, indexed by (timestamp, id). It is not safe for concurrent use;
// the owning book serializes access.
type TransactionLog struct {
	byTime *btree.BTreeG[*model.Transaction]
	byID   map[string]struct{}
	now    func() time.Time
}

// NewTransactionLog creates an empty log. now stamps transactions that
// arrive without a timestamp.
func NewTransactionLog(now func() time.Time) *TransactionLog {
	return &TransactionLog{
		byTime: btree.NewBTreeGOptions(txLess, btree.Options{NoLocks: true}),
		byID:   make(map[string]struct{}),
		now:    now,
	}
}

// Contains reports whether a transaction id has been appended.
func (l *TransactionLog) Contains(id string) bool {
	_, ok := l.byID[id]
	return ok
}

// Append inserts tx. The id must be unique; a zero timestamp is set to now.
// The stored value is a copy, so later changes to tx do not reach the log.
func (l *TransactionLog) Append(tx model.Transaction) (model.Transaction, error) {
	if tx.ID == "" {
		return tx, fmt.Errorf("%w: transaction id is required", ErrValidation)
	}
	if l.Contains(tx.ID) {
		return tx, fmt.Errorf("%w: duplicate transaction id %q", ErrValidation, tx.ID)
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = l.now()
	}
	stored := tx
	l.byTime.Set(&stored)
	l.byID[tx.ID] = struct{}{}
	return tx, nil
}

// Len returns the number of transactions.
func (l *TransactionLog) Len() int {
	return l.byTime.Len()
}

// Query returns transactions within q's bounds in timestamp order.
func (l *TransactionLog) Query(q Query) []model.Transaction {
	var out []model.Transaction
	collect := func(tx *model.Transaction) bool {
		if !q.contains(tx.Timestamp) {
			return false
		}
		out = append(out, *tx)
		return true
	}

	if q.Descending {
		if q.To.IsZero() {
			l.byTime.Reverse(collect)
		} else {
			l.byTime.Descend(&model.Transaction{Timestamp: q.To, ID: maxID}, collect)
		}
		return out
	}

	if q.From.IsZero() {
		l.byTime.Scan(collect)
	} else {
		l.byTime.Ascend(&model.Transaction{Timestamp: q.From}, collect)
	}
	return out
}
