package verify

import "github.com/prometheus/client_golang/prometheus"

var (
	verifyMismatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paycore",
		Subsystem: "verify",
		Name:      "balance_mismatches",
		Help:      "Number of balance mismatches found in the last verification run.",
	})

	verifyRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "verify",
		Name:      "runs_total",
		Help:      "Total completed verification runs.",
	})

	verifyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "verify",
		Name:      "errors_total",
		Help:      "Total verification run errors.",
	})

	verifyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paycore",
		Subsystem: "verify",
		Name:      "run_duration_seconds",
		Help:      "Duration of verification runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)

func init() {
	prometheus.MustRegister(verifyMismatches, verifyRuns, verifyErrors, verifyDuration)
}
