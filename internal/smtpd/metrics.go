package smtpd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chitbox_smtp_connections_total",
		Help: "Inbound SMTP connections accepted.",
	})
	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chitbox_smtp_messages_total",
		Help: "Inbound SMTP transactions by result.",
	}, []string{"result"})
	metricRecipients = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chitbox_delivery_recipients_total",
		Help: "Inbound recipients by delivery outcome.",
	}, []string{"outcome"})
	metricAuth = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chitbox_smtp_auth_total",
		Help: "SMTP AUTH attempts by result.",
	}, []string{"result"})
)
