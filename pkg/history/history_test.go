package history

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	orders []models.Order
	err    error
}

func (s *recordingSink) Append(o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
	return s.err
}

func filled(side models.OrderSide, pair string, at time.Time) models.Order {
	return models.Order{
		Side:         side,
		Pair:         pair,
		AmountFilled: decimal.NewFromInt(1),
		Result:       models.OrderResultFilled,
		Timestamp:    at,
	}
}

func TestLedger_LastOrderTimeUsesMaximumTimestamp(t *testing.T) {
	l := NewLedger(nil, logrus.New())
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Completion order differs from timestamp order.
	l.Append(filled(models.OrderSideBuy, "ABCUSDT", base.Add(2*time.Minute)))
	l.Append(filled(models.OrderSideBuy, "ABCUSDT", base))
	l.Append(filled(models.OrderSideSell, "ABCUSDT", base.Add(time.Hour)))

	last, ok := l.LastOrderTime("ABCUSDT", models.OrderSideBuy)
	require.True(t, ok)
	assert.Equal(t, base.Add(2*time.Minute), last)
}

func TestLedger_LastOrderTimeMatchesOriginalPair(t *testing.T) {
	l := NewLedger(nil, logrus.New())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	o := filled(models.OrderSideBuy, "XYZUSDT", at)
	o.OriginalPair = "ABCUSDT"
	l.Append(o)

	last, ok := l.LastOrderTime("ABCUSDT", models.OrderSideBuy)
	require.True(t, ok)
	assert.Equal(t, at, last)
}

func TestLedger_IgnoresFailedOrders(t *testing.T) {
	l := NewLedger(nil, logrus.New())
	l.Append(models.FailedOrder(models.OrderSideBuy, "ABCUSDT", "rejected", time.Now()))

	_, ok := l.LastOrderTime("ABCUSDT", models.OrderSideBuy)
	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())
}

func TestLedger_RecentNewestFirst(t *testing.T) {
	l := NewLedger(nil, logrus.New())
	base := time.Now()
	for i := 0; i < 5; i++ {
		l.Append(filled(models.OrderSideBuy, "P", base.Add(time.Duration(i)*time.Second)))
	}

	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, base.Add(4*time.Second), recent[0].Timestamp)
	assert.Equal(t, base.Add(3*time.Second), recent[1].Timestamp)
	assert.Len(t, l.Recent(0), 5)
}

func TestLedger_SinkFailureKeepsOrder(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	l := NewLedger(sink, logrus.New())
	l.Append(filled(models.OrderSideBuy, "P", time.Now()))

	assert.Equal(t, 1, l.Len())
	assert.Len(t, sink.orders, 1)
}

func TestLedger_ConcurrentAppend(t *testing.T) {
	l := NewLedger(nil, logrus.New())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Append(filled(models.OrderSideBuy, "P", time.Now()))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, l.Len())
}
