package ingest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

// Metrics holds Prometheus metrics for the sync ingestor.
// A nil *Metrics records nothing.
type Metrics struct {
	SyncRunsTotal *prometheus.CounterVec
	RecordsTotal  *prometheus.CounterVec
	SyncDuration  prometheus.Histogram
}

// NewMetrics registers and returns ingest metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_ml_sync_runs_total",
			Help: "Sync runs by final status.",
		}, []string{"status"}),
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_ml_sync_records_total",
			Help: "Fetched records by outcome.",
		}, []string{"outcome"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_ml_sync_duration_seconds",
			Help:    "Duration of sync runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}),
	}

	reg.MustRegister(m.SyncRunsTotal, m.RecordsTotal, m.SyncDuration)
	return m
}

func (m *Metrics) observe(s *models.SyncSummary) {
	if m == nil {
		return
	}
	m.SyncRunsTotal.WithLabelValues(string(s.Status)).Inc()
	m.SyncDuration.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	if s.Status != models.SyncStatusCompleted {
		return
	}
	m.RecordsTotal.WithLabelValues(string(models.RecordStatusInserted)).Add(float64(s.Inserted))
	m.RecordsTotal.WithLabelValues(string(models.RecordStatusDuplicate)).Add(float64(s.Duplicates))
	m.RecordsTotal.WithLabelValues(string(models.RecordStatusRejected)).Add(float64(s.Rejected))
	m.RecordsTotal.WithLabelValues(string(models.LabelSourceDefaulted)).Add(float64(s.Defaulted))
}

