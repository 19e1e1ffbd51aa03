package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// messagesSent counts durably stored messages.
	messagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total number of messages durably stored.",
		},
	)

	// pollsFinished counts long-poll waits by terminal outcome: "signal",
	// "fallback", or "timeout". Cancelled waits are not counted; the client
	// that would have read the answer is gone.
	pollsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polls_finished_total",
			Help: "Total number of long-poll waits by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(messagesSent, pollsFinished)
}
