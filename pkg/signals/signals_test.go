package signals

import (
	"testing"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestQueue_DrainCollapsesRepeats(t *testing.T) {
	q := NewQueue(0)
	q.Push(
		models.Signal{Pair: "ABCUSDT", Rule: "breakout"},
		models.Signal{Pair: "XYZUSDT", Rule: "breakout"},
		models.Signal{Pair: "ABCUSDT", Rule: "breakout"},
	)

	got := q.Drain()
	assert.Len(t, got, 2)
	assert.Equal(t, "ABCUSDT", got[0].Pair)
	assert.Empty(t, q.Drain())
}

func TestQueue_DropsOldestOverCapacity(t *testing.T) {
	q := NewQueue(2)
	q.Push(models.Signal{Pair: "A"}, models.Signal{Pair: "B"}, models.Signal{Pair: "C"})

	got := q.Drain()
	assert.Equal(t, []string{"B", "C"}, []string{got[0].Pair, got[1].Pair})
	assert.Equal(t, 1, q.Dropped())
}

func TestQueue_RequeueGoesFirst(t *testing.T) {
	q := NewQueue(3)
	q.Push(models.Signal{Pair: "C"})
	q.Requeue(models.Signal{Pair: "A"}, models.Signal{Pair: "B"})
	q.Requeue()

	got := q.Drain()
	assert.Equal(t, []string{"A", "B", "C"}, []string{got[0].Pair, got[1].Pair, got[2].Pair})

	q.Push(models.Signal{Pair: "X"}, models.Signal{Pair: "Y"})
	q.Requeue(models.Signal{Pair: "A"}, models.Signal{Pair: "B"})
	got = q.Drain()
	assert.Len(t, got, 3)
	assert.Equal(t, "X", got[2].Pair)
	assert.Equal(t, 1, q.Dropped())
}
