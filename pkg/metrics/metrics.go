// Package metrics exposes Prometheus metrics for the trader.
package metrics

import (
	"net/http"
	"strings"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Actions    *prometheus.CounterVec
	Denials    *prometheus.CounterVec
	Orders     *prometheus.CounterVec
	OrderCost  *prometheus.CounterVec
	QueueDepth prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the trader metrics on reg. A nil reg uses a fresh registry.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "positrader"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trader",
			Name:      "actions_total",
			Help:      "Trading actions by action and outcome",
		}, []string{"action", "outcome"}),
		Denials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trader",
			Name:      "denials_total",
			Help:      "Admission denials by action and reason",
		}, []string{"action", "reason"}),
		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ordering",
			Name:      "orders_total",
			Help:      "Placed orders by side and result",
		}, []string{"side", "result"}),
		OrderCost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ordering",
			Name:      "order_cost_total",
			Help:      "Raw cost of executed orders by side and settlement currency",
		}, []string{"side", "currency"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trader",
			Name:      "queue_depth",
			Help:      "Actions waiting in the trader queue",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveAction(action, outcome string) {
	m.Actions.WithLabelValues(action, outcome).Inc()
}

// ObserveDenial counts a denial. Reasons carry the pair, so only the text
// after "Reason: " is used as the label.
func (m *Metrics) ObserveDenial(action, reason string) {
	m.Denials.WithLabelValues(action, reasonLabel(reason)).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveOrder(order models.Order) {
	m.Orders.WithLabelValues(string(order.Side), string(order.Result)).Inc()
	if order.Executed() {
		m.OrderCost.WithLabelValues(string(order.Side), order.FeesCurrency).Add(order.RawCost.InexactFloat64())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func reasonLabel(reason string) string {
	const marker = "Reason: "
	if i := strings.Index(reason, marker); i >= 0 {
		return reason[i+len(marker):]
	}
	return "other"
}
