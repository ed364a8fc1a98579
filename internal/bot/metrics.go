// ABOUTME: Prometheus instrumentation for the responder
// ABOUTME: Counts inbound messages, replies, provider errors, and call latency

package bot

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesSeen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sonar_messages_seen_total",
		Help: "Total message events received from sync.",
	})
	repliesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sonar_replies_sent_total",
		Help: "Total replies successfully sent to rooms.",
	})
	providerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sonar_provider_errors_total",
		Help: "Total failed completion calls, including non-2xx responses.",
	})
	completionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sonar_completion_duration_seconds",
		Help:    "Duration of completion API calls.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(messagesSeen, repliesSent, providerErrors, completionDuration)
}
