package mlmodel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

// Metrics holds Prometheus metrics for training and prediction.
// A nil *Metrics records nothing.
type Metrics struct {
	TrainingsTotal   *prometheus.CounterVec
	TrainingDuration *prometheus.HistogramVec
	TrainingRecords  *prometheus.GaugeVec
	PredictionsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns model metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TrainingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_ml_trainings_total",
			Help: "Training runs by model kind and status.",
		}, []string{"kind", "status"}),
		TrainingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triage_ml_training_duration_seconds",
			Help:    "Duration of training runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~4min
		}, []string{"kind"}),
		TrainingRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "triage_ml_training_records",
			Help: "Records used by the last successful training run.",
		}, []string{"kind"}),
		PredictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_ml_predictions_total",
			Help: "Predictions and cluster assignments by model kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	reg.MustRegister(
		m.TrainingsTotal,
		m.TrainingDuration,
		m.TrainingRecords,
		m.PredictionsTotal,
	)

	return m
}

func (m *Metrics) observeTraining(kind models.ModelKind, outcome *models.TrainingOutcome, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "failed"
	switch {
	case err == nil && outcome != nil && outcome.Success:
		status = "success"
		m.TrainingRecords.WithLabelValues(string(kind)).Set(float64(outcome.Records))
	case err == nil:
		status = "skipped"
	}
	m.TrainingsTotal.WithLabelValues(string(kind), status).Inc()
	m.TrainingDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) observePrediction(kind models.ModelKind, outcome string) {
	if m == nil {
		return
	}
	m.PredictionsTotal.WithLabelValues(string(kind), outcome).Inc()
}
