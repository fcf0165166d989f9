// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for sync and token operations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SyncRuns          *prometheus.CounterVec
	ResourceSyncs     *prometheus.CounterVec
	RecordsSynced     *prometheus.CounterVec
	SyncDuration      prometheus.Histogram
	LeaseConflicts    prometheus.Counter
	TokenRefreshes    *prometheus.CounterVec
	TokenRevocations  *prometheus.CounterVec
	TasksProcessed    *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec
}

// New registers collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "unifiedse_sync_runs_total",
			Help: "Sync runs by aggregate outcome",
		}, []string{"provider", "status"}),
		ResourceSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "unifiedse_resource_syncs_total",
			Help: "Per resource type sync steps by outcome",
		}, []string{"provider", "resource_type", "status"}),
		RecordsSynced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "unifiedse_records_synced_total",
			Help: "Records upserted, labeled by resource type",
		}, []string{"provider", "resource_type"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "unifiedse_sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		LeaseConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "unifiedse_sync_lease_conflicts_total",
			Help: "Sync requests rejected because a lease was held",
		}),
		TokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "unifiedse_token_refreshes_total",
			Help: "Token refresh attempts by outcome",
		}, []string{"provider", "outcome"}),
		TokenRevocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "unifiedse_token_revocations_total",
			Help: "Consent revocations by upstream outcome",
		}, []string{"provider", "outcome"}),
		TasksProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "unifiedse_worker_tasks_total",
			Help: "Background tasks by type and outcome",
		}, []string{"type", "outcome"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "unifiedse_http_requests_total",
			Help: "HTTP requests by route and status class",
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) ObserveSyncRun(provider, status string, seconds float64) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(provider, status).Inc()
	m.SyncDuration.Observe(seconds)
}

func (m *Metrics) ObserveResource(provider, resourceType, status string, records int) {
	if m == nil {
		return
	}
	m.ResourceSyncs.WithLabelValues(provider, resourceType, status).Inc()
	if records > 0 {
		m.RecordsSynced.WithLabelValues(provider, resourceType).Add(float64(records))
	}
}

func (m *Metrics) IncrementLeaseConflicts() {
	if m == nil {
		return
	}
	m.LeaseConflicts.Inc()
}

func (m *Metrics) IncrementTokenRefresh(provider, outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) IncrementRevocation(provider, outcome string) {
	if m == nil {
		return
	}
	m.TokenRevocations.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) IncrementTask(taskType, outcome string) {
	if m == nil {
		return
	}
	m.TasksProcessed.WithLabelValues(taskType, outcome).Inc()
}

func (m *Metrics) IncrementHTTP(method, route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
}
