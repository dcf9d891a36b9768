package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "scheduler",
			Name:      "actions_completed_total",
			Help:      "Number of actions that completed successfully, by category.",
		},
		[]string{"category"},
	)
	actionsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "scheduler",
			Name:      "actions_failed_total",
			Help:      "Number of actions that failed, by category.",
		},
		[]string{"category"},
	)
	dynamicNodesResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "scheduler",
			Name:      "dynamic_nodes_resolved_total",
			Help:      "Number of dynamic nodes whose resolver invocation completed successfully.",
		})
	dynamicNodesDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "scheduler",
			Name:      "dynamic_nodes_discarded_total",
			Help:      "Number of dynamic nodes whose emitted sub-graph was discarded due to cancellation.",
		})
	identityCollisionsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pyrite",
			Subsystem: "scheduler",
			Name:      "identity_collisions_detected_total",
			Help:      "Number of identity collisions detected during action emission.",
		})
)
