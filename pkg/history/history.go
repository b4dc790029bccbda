// Package history keeps the append-only ledger of every order the process
// has placed or attempted.
package history

import (
	"sync"
	"time"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/sirupsen/logrus"
)

// Sink receives a copy of every appended order, e.g. a durable journal.
type Sink interface {
	Append(order models.Order) error
}

type Ledger struct {
	mu     sync.RWMutex
	orders []models.Order
	sink   Sink
	logger *logrus.Entry
}

func NewLedger(sink Sink, logger *logrus.Logger) *Ledger {
	return &Ledger{
		sink:   sink,
		logger: logger.WithField("component", "history"),
	}
}

// Append records an order. Sink failures are logged; the in-memory ledger
// is the source of truth for the process lifetime.
func (l *Ledger) Append(order models.Order) {
	l.mu.Lock()
	l.orders = append(l.orders, order)
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Append(order); err != nil {
			l.logger.WithError(err).WithField("pair", order.Pair).Error("Failed to journal order")
		}
	}
}

// Recent returns up to limit orders, most recent first. A limit <= 0
// returns everything.
func (l *Ledger) Recent(limit int) []models.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.orders)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.Order, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.orders[i])
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.orders)
}

// LastOrderTime is the maximum timestamp over executed orders of side that
// were placed on pair or originated from it. Append order is completion
// order, so the scan does not trust position.
func (l *Ledger) LastOrderTime(pair string, side models.OrderSide) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var last time.Time
	found := false
	for _, o := range l.orders {
		if o.Side != side || !o.Executed() || !o.Matches(pair) {
			continue
		}
		if !found || o.Timestamp.After(last) {
			last = o.Timestamp
			found = true
		}
	}
	return last, found
}
