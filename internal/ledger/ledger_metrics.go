package ledger

import "github.com/prometheus/client_golang/prometheus"

var (
	transactionsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "ledger",
		Name:      "transactions_recorded_total",
		Help:      "Total ledger transactions recorded by direction.",
	}, []string{"direction"})

	recordDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paycore",
		Subsystem: "ledger",
		Name:      "record_duration_seconds",
		Help:      "Latency of the atomic transaction-plus-balance write.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(transactionsRecorded, recordDuration)
}
