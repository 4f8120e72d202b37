package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dozilab"

var (
	// TasksProcessed — обработанные задачи по виду и исходу.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "tasks_processed_total",
		Help:      "Tasks processed by kind and outcome.",
	}, []string{"kind", "outcome"})

	// StepDuration — длительность шага по состоянию развёртывания.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "step_duration_seconds",
		Help:      "Duration of one orchestration step by deployment state.",
		Buckets:   []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"state"})

	// Retries — повторы по виду ошибки.
	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "retries_total",
		Help:      "Step retries by error kind.",
	}, []string{"kind"})

	// LeaseContention — задачи, отложенные из-за занятого lease.
	LeaseContention = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "lease_contention_total",
		Help:      "Tasks requeued because another task held the deployment lease.",
	})

	// StateTransitions — переходы автомата.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "deployments",
		Name:      "state_transitions_total",
		Help:      "Deployment state transitions by source and target state.",
	}, []string{"from", "to"})

	// AdapterCalls — вызовы OpenStack по операции и результату.
	AdapterCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "openstack",
		Name:      "calls_total",
		Help:      "OpenStack adapter calls by operation and result kind.",
	}, []string{"op", "result"})

	// SweeperRequeued — задачи, поставленные восстановительным обходом.
	SweeperRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "requeued_total",
		Help:      "Tasks enqueued by the recovery sweeper for stalled deployments.",
	})
)
