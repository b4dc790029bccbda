package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("test", nil)

	m.ObserveAction("buy", "filled")
	m.ObserveAction("buy", "filled")
	m.ObserveDenial("sell", "cancel sell request for ABCUSDT. Reason: pair just bought")
	m.ObserveDenial("sell", "odd")
	m.SetQueueDepth(3)
	m.ObserveOrder(models.Order{
		Side:         models.OrderSideBuy,
		Result:       models.OrderResultFilled,
		AmountFilled: decimal.NewFromInt(10),
		RawCost:      decimal.NewFromInt(100),
		FeesCurrency: "USDT",
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Actions.WithLabelValues("buy", "filled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Denials.WithLabelValues("sell", "pair just bought")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Denials.WithLabelValues("sell", "other")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.OrderCost.WithLabelValues("buy", "USDT")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New("test", nil)
	m.ObserveAction("swap", "failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `test_trader_actions_total{action="swap",outcome="failed"} 1`)
}
