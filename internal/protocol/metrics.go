package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retrace",
		Subsystem: "protocol",
		Name:      "requests_total",
		Help:      "Requests sent to the recording service, by method.",
	}, []string{"method"})

	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retrace",
		Subsystem: "protocol",
		Name:      "request_failures_total",
		Help:      "Failed requests, by method.",
	}, []string{"method"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retrace",
		Subsystem: "protocol",
		Name:      "notifications_total",
		Help:      "Server notifications received, by method.",
	}, []string{"method"})
)
