package events

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Total payment events emitted by type.",
	}, []string{"type"})

	webhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "events",
		Name:      "webhook_deliveries_total",
		Help:      "Total webhook delivery attempts by final result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(eventsEmitted, webhookDeliveries)
}
