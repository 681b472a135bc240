package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTransaction = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jstore_transaction_total",
			Help: "Store transactions, by result.",
		},
		[]string{
			"result", // commit, rollback, error
		},
	)

	metricModSeq = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jstore_modseq_allocated_total",
			Help: "Modification sequences allocated for transactions.",
		},
	)

	metricBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jstore_state_broadcast_total",
			Help: "State change broadcasts to registered listeners.",
		},
	)
)

func TransactionInc(result string) {
	metricTransaction.WithLabelValues(result).Inc()
}

func ModSeqInc() {
	metricModSeq.Inc()
}

func BroadcastInc() {
	metricBroadcast.Inc()
}
