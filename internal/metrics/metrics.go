// Package metrics содержит Prometheus метрики движка синхронизации.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteCalls удалённые вызовы по области и результату.
	RemoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_sync_remote_calls_total",
		Help: "Remote API calls by scope and outcome.",
	}, []string{"scope", "outcome"})

	// RemoteLatency длительность удалённых вызовов.
	RemoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "license_sync_remote_call_duration_seconds",
		Help:    "Remote API call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"scope"})

	// PlanChanges классификация изменений плана после синхронизации.
	PlanChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_sync_plan_changes_total",
		Help: "Plan change classifications produced by license sync.",
	}, []string{"change"})

	// CloneDetections обнаруженные клоны.
	CloneDetections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_sync_clone_detections_total",
		Help: "Installs detected as clones.",
	})

	// BulkActivations массовые активации по результату.
	BulkActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_sync_bulk_activations_total",
		Help: "Network bulk license activations by outcome.",
	}, []string{"outcome"})

	// SchedulerRuns запуски синхронизации планировщиком.
	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_sync_scheduler_runs_total",
		Help: "Scheduled tenant syncs by outcome.",
	}, []string{"outcome"})
)
