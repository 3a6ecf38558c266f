package mlmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/triage-ml/pkg/dataset"
	"github.com/mimir-aip/triage-ml/pkg/models"
	"github.com/mimir-aip/triage-ml/pkg/storage"
)

type memRecords struct {
	records []*models.TriageRecord
	err     error
}

func (m *memRecords) ListAll(context.Context) ([]*models.TriageRecord, error) {
	return m.records, m.err
}

func (m *memRecords) ListAtRisk(context.Context) ([]*models.TriageRecord, error) {
	var out []*models.TriageRecord
	for _, r := range m.records {
		if r.HasInfarctRisk {
			out = append(out, r)
		}
	}
	return out, m.err
}

func newArtifacts(t *testing.T) storage.ArtifactStore {
	t.Helper()
	store, err := storage.NewFileArtifactStore(t.TempDir(), 0)
	require.NoError(t, err)
	return store
}

func storedRecords(n int, atRisk func(i int) bool) []*models.TriageRecord {
	out := make([]*models.TriageRecord, n)
	for i := range out {
		rec := &models.TriageRecord{ID: fmt.Sprintf("r-%03d", i), HasInfarctRisk: atRisk(i)}
		fv := models.FeatureVector{36.6 + float64(i%4)*0.1, 70 + float64(i%7), 16, 98, 65 + float64(i%9), 170}
		if rec.HasInfarctRisk {
			fv = models.FeatureVector{39.0, 128 + float64(i%6), 28, 85, 100 + float64(i%5), 165}
		}
		rec.SetFeatures(fv)
		out[i] = rec
	}
	return out
}

func newRisk(t *testing.T, records *memRecords, metrics *Metrics) *RiskService {
	t.Helper()
	return NewRiskService(dataset.NewProvider(records, nil), records, newArtifacts(t), models.DefaultTrainingConfig(), nil, metrics)
}

func TestRisk_PredictBeforeTraining(t *testing.T) {
	svc := newRisk(t, &memRecords{}, nil)

	_, err := svc.Predict(context.Background(), dataset.BootstrapAtRiskVector())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRisk_BootstrapOnlyTraining(t *testing.T) {
	ctx := context.Background()
	svc := newRisk(t, &memRecords{}, nil)

	outcome, err := svc.TrainFromStore(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, dataset.Bootstrap().Len(), outcome.Records)
	assert.NotEmpty(t, outcome.Version)
	require.NotNil(t, outcome.Metrics)

	pred, err := svc.Predict(ctx, dataset.BootstrapAtRiskVector())
	require.NoError(t, err)
	assert.True(t, pred.AtRisk)
	assert.Equal(t, outcome.Version, pred.Version)

	pred, err = svc.Predict(ctx, dataset.BootstrapNormalVector())
	require.NoError(t, err)
	assert.False(t, pred.AtRisk)
}

func TestRisk_SingleClassStoreTrains(t *testing.T) {
	records := &memRecords{records: storedRecords(25, func(int) bool { return false })}
	svc := newRisk(t, records, nil)

	outcome, err := svc.TrainFromStore(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 25+dataset.Bootstrap().Len(), outcome.Records)
}

func TestRisk_ProbabilityContract(t *testing.T) {
	ctx := context.Background()
	records := &memRecords{records: storedRecords(30, func(i int) bool { return i%3 == 0 })}
	svc := newRisk(t, records, nil)
	_, err := svc.TrainFromStore(ctx)
	require.NoError(t, err)

	vectors := []models.FeatureVector{
		dataset.BootstrapAtRiskVector(),
		dataset.BootstrapNormalVector(),
		{37.8, 100, 22, 92, 85, 168},
		{35.0, 40, 8, 100, 45, 150},
	}
	for _, fv := range vectors {
		pred, err := svc.Predict(ctx, fv)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pred.Probability, 0.0)
		assert.LessOrEqual(t, pred.Probability, 100.0)
		assert.Equal(t, pred.Probability >= 50, pred.AtRisk)
		assert.Equal(t, roundPercent(pred.Probability/100), pred.Probability)
	}
}

func TestRisk_TrainingIsDeterministic(t *testing.T) {
	ctx := context.Background()
	records := &memRecords{records: storedRecords(40, func(i int) bool { return i%2 == 0 })}

	artifactOf := func() models.ClassifierArtifact {
		store := newArtifacts(t)
		svc := NewRiskService(dataset.NewProvider(records, nil), records, store, models.DefaultTrainingConfig(), nil, nil)
		_, err := svc.TrainFromStore(ctx)
		require.NoError(t, err)
		blob, _, err := store.Load(ctx, models.ModelKindRiskClassifier)
		require.NoError(t, err)
		var a models.ClassifierArtifact
		require.NoError(t, json.Unmarshal(blob, &a))
		return a
	}

	a, b := artifactOf(), artifactOf()
	assert.Equal(t, a.Weights, b.Weights)
	assert.Equal(t, a.Intercept, b.Intercept)
	assert.Equal(t, a.Metrics, b.Metrics)
}

func TestRisk_RejectsSingleClassDataset(t *testing.T) {
	svc := newRisk(t, &memRecords{}, nil)
	ds := &models.LabeledDataset{}
	for i := 0; i < 10; i++ {
		ds.Append(models.LabeledSample{Features: dataset.BootstrapNormalVector()})
	}

	_, err := svc.Train(context.Background(), ds)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.Predict(context.Background(), dataset.BootstrapNormalVector())
	assert.ErrorIs(t, err, models.ErrNotFound, "failed training must not publish an artifact")
}

func TestRisk_StoreFailureAbortsTraining(t *testing.T) {
	svc := newRisk(t, &memRecords{err: errors.New("db down")}, nil)

	_, err := svc.TrainFromStore(context.Background())
	assert.ErrorIs(t, err, models.ErrTransientIO)
}

func TestRisk_RejectsMismatchedFeatureOrder(t *testing.T) {
	ctx := context.Background()
	store := newArtifacts(t)
	blob, err := json.Marshal(models.ClassifierArtifact{
		Features: []string{"heart_rate", "temperature", "respiratory_rate", "oxygen_saturation", "weight", "height"},
		Weights:  make([]float64, models.FeatureCount),
	})
	require.NoError(t, err)
	_, err = store.Save(ctx, models.ModelKindRiskClassifier, blob)
	require.NoError(t, err)

	svc := NewRiskService(nil, nil, store, models.DefaultTrainingConfig(), nil, nil)
	_, err = svc.Predict(ctx, dataset.BootstrapNormalVector())
	assert.Error(t, err)
}

func TestRisk_ListAtRisk(t *testing.T) {
	records := &memRecords{records: storedRecords(6, func(i int) bool { return i < 2 })}
	svc := newRisk(t, records, nil)

	atRisk, err := svc.ListAtRisk(context.Background())
	require.NoError(t, err)
	require.Len(t, atRisk, 2)
	assert.Equal(t, "r-000", atRisk[0].ID)
}

func TestRisk_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc := newRisk(t, &memRecords{}, metrics)
	ctx := context.Background()

	_, _ = svc.Predict(ctx, dataset.BootstrapAtRiskVector())
	_, err := svc.TrainFromStore(ctx)
	require.NoError(t, err)
	_, err = svc.Predict(ctx, dataset.BootstrapAtRiskVector())
	require.NoError(t, err)

	kind := string(models.ModelKindRiskClassifier)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TrainingsTotal.WithLabelValues(kind, "success")))
	assert.Equal(t, float64(dataset.Bootstrap().Len()), testutil.ToFloat64(metrics.TrainingRecords.WithLabelValues(kind)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PredictionsTotal.WithLabelValues(kind, "no_model")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PredictionsTotal.WithLabelValues(kind, "at_risk")))
}
