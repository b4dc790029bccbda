// Package signals buffers buy signals raised outside the process (webhook,
// backtest replay) until the rule loop consumes them.
package signals

import (
	"sync"

	"github.com/gregtusar/positrader/pkg/models"
)

// DefaultCapacity bounds the queue; the oldest signals are dropped first.
const DefaultCapacity = 1024

type Queue struct {
	mu       sync.Mutex
	pending  []models.Signal
	capacity int
	dropped  int
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity}
}

func (q *Queue) Push(signals ...models.Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, signals...)
	if over := len(q.pending) - q.capacity; over > 0 {
		q.pending = append([]models.Signal(nil), q.pending[over:]...)
		q.dropped += over
	}
}

// Requeue puts signals back at the front of the queue, ahead of anything
// pushed since they were drained.
func (q *Queue) Requeue(signals ...models.Signal) {
	if len(signals) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(append([]models.Signal(nil), signals...), q.pending...)
	if over := len(q.pending) - q.capacity; over > 0 {
		q.pending = q.pending[:q.capacity]
		q.dropped += over
	}
}

// Drain returns the pending signals in arrival order, collapsing repeats of
// the same pair and rule.
func (q *Queue) Drain() []models.Signal {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	type key struct{ pair, rule string }
	seen := make(map[key]bool, len(pending))
	out := make([]models.Signal, 0, len(pending))
	for _, s := range pending {
		k := key{s.Pair, s.Rule}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
