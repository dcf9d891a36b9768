package buildevent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "buildevent",
			Name:      "events_published_total",
			Help:      "Number of build events published to the event stream.",
		})
	eventsAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "buildevent",
			Name:      "events_acknowledged_total",
			Help:      "Number of published build events durably committed by the collector.",
		})
)
