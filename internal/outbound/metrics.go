package outbound

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chitbox_outbound_enqueued_total",
		Help: "Outbound emails accepted into the queue.",
	})
	metricSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chitbox_outbound_sent_total",
		Help: "Outbound emails handed to the relay.",
	}, []string{"relay"})
	metricRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chitbox_outbound_retried_total",
		Help: "Failed outbound attempts that will be retried.",
	}, []string{"relay"})
	metricFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chitbox_outbound_failed_total",
		Help: "Outbound emails that ran out of attempts.",
	}, []string{"relay"})
)
