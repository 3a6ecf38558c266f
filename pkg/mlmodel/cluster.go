package mlmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mimir-aip/triage-ml/pkg/logging"
	"github.com/mimir-aip/triage-ml/pkg/mlmodel/training"
	"github.com/mimir-aip/triage-ml/pkg/models"
	"github.com/mimir-aip/triage-ml/pkg/storage"
)

// DefaultClusters is the k used when none is configured
const DefaultClusters = 3

// RecordLister lists every stored record in store order
type RecordLister interface {
	ListAll(ctx context.Context) ([]*models.TriageRecord, error)
}

// ClusterService trains and serves the patient clustering model
type ClusterService struct {
	records   RecordLister
	artifacts storage.ArtifactStore
	config    models.TrainingConfig
	logger    *logging.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewClusterService creates a new clustering service. metrics may be nil.
func NewClusterService(
	records RecordLister,
	artifacts storage.ArtifactStore,
	config models.TrainingConfig,
	logger *logging.Logger,
	metrics *Metrics,
) *ClusterService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ClusterService{
		records:   records,
		artifacts: artifacts,
		config:    config,
		logger:    logger.With(logging.Component("cluster"), logging.String("kind", string(models.ModelKindPatientCluster))),
		metrics:   metrics,
		now:       time.Now,
	}
}

// TrainDefault trains with the configured k, or DefaultClusters when unset
func (s *ClusterService) TrainDefault(ctx context.Context) (*models.TrainingOutcome, error) {
	k := s.config.Clusters
	if k <= 0 {
		k = DefaultClusters
	}
	return s.Train(ctx, k)
}

// Train refits the scaler and k-means from all stored records and
// publishes them as one artifact. An empty store is reported as an
// unsuccessful outcome, not an error.
func (s *ClusterService) Train(ctx context.Context, k int) (*models.TrainingOutcome, error) {
	start := s.now()
	outcome, err := s.train(ctx, k)
	elapsed := s.now().Sub(start)
	s.metrics.observeTraining(models.ModelKindPatientCluster, outcome, err, elapsed)
	if err != nil {
		s.logger.Error("cluster training failed", err, logging.Int("k", k))
		return nil, err
	}
	outcome.Duration = elapsed
	if !outcome.Success {
		s.logger.Warn("cluster training skipped", logging.String("reason", outcome.Message))
		return outcome, nil
	}
	s.logger.Info("cluster model trained",
		logging.Int("k", k),
		logging.Int("records", outcome.Records),
		logging.String("version", outcome.Version),
		logging.Duration("duration", elapsed))
	return outcome, nil
}

func (s *ClusterService) train(ctx context.Context, k int) (*models.TrainingOutcome, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", models.ErrValidation, k)
	}

	records, err := s.listRecords(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &models.TrainingOutcome{
			Kind:    models.ModelKindPatientCluster,
			Success: false,
			Message: "no data to cluster",
		}, nil
	}
	if k > len(records) {
		return nil, fmt.Errorf("%w: k=%d exceeds the %d stored records", models.ErrValidation, k, len(records))
	}

	rows := make([][]float64, len(records))
	for i, rec := range records {
		rows[i] = rec.Features().Slice()
	}

	scaler, err := training.FitScaler(rows)
	if err != nil {
		return nil, err
	}
	scaled, err := scaler.TransformAll(rows)
	if err != nil {
		return nil, err
	}

	km, err := training.FitKMeans(scaled, training.KMeansConfig{
		K:       k,
		Inits:   s.config.ClusterInits,
		MaxIter: s.config.ClusterMaxIterations,
		Seed:    s.config.RandomSeed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fit cluster model: %w", err)
	}

	artifact := &models.ClusterArtifact{
		Scaler: models.ScalerParams{
			Features: models.FeatureNames[:],
			Mean:     scaler.Mean,
			Scale:    scaler.Scale,
		},
		Model: models.CentroidModel{
			K:          k,
			Centroids:  km.Centroids,
			Inertia:    km.Inertia,
			Iterations: km.Iterations,
			Seed:       s.config.RandomSeed,
			Records:    len(records),
			TrainedAt:  s.now().UTC(),
		},
	}
	blob, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cluster model: %w", err)
	}
	version, err := s.artifacts.Save(ctx, models.ModelKindPatientCluster, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to save cluster model: %w", err)
	}

	return &models.TrainingOutcome{
		Kind:    models.ModelKindPatientCluster,
		Records: len(records),
		Success: true,
		Message: fmt.Sprintf("clustered %d records into %d groups", len(records), k),
		Version: version,
	}, nil
}

// AssignOne returns the cluster index for fv under the current artifact
func (s *ClusterService) AssignOne(ctx context.Context, fv models.FeatureVector) (int, error) {
	if err := fv.Validate(); err != nil {
		return 0, err
	}
	artifact, err := s.loadArtifact(ctx)
	if err != nil {
		s.observeAssignError(err)
		return 0, err
	}
	cluster, err := assign(artifact, fv)
	if err != nil {
		s.observeAssignError(err)
		return 0, err
	}
	s.metrics.observePrediction(models.ModelKindPatientCluster, "assigned")
	return cluster, nil
}

// AssignAll assigns every stored record, in store order. An empty store
// yields an empty result without consulting the artifact.
func (s *ClusterService) AssignAll(ctx context.Context) ([]models.ClusterAssignment, error) {
	records, err := s.listRecords(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []models.ClusterAssignment{}, nil
	}

	artifact, err := s.loadArtifact(ctx)
	if err != nil {
		s.observeAssignError(err)
		return nil, err
	}

	out := make([]models.ClusterAssignment, 0, len(records))
	for _, rec := range records {
		cluster, err := assign(artifact, rec.Features())
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		out = append(out, models.ClusterAssignment{RecordID: rec.ID, Cluster: cluster})
	}
	s.metrics.observePrediction(models.ModelKindPatientCluster, "assigned")
	return out, nil
}

func (s *ClusterService) observeAssignError(err error) {
	outcome := "error"
	if errors.Is(err, models.ErrNotFound) {
		outcome = "no_model"
	}
	s.metrics.observePrediction(models.ModelKindPatientCluster, outcome)
}

func (s *ClusterService) listRecords(ctx context.Context) ([]*models.TriageRecord, error) {
	records, err := s.records.ListAll(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrTransientIO) {
			err = fmt.Errorf("%w: %v", models.ErrTransientIO, err)
		}
		return nil, fmt.Errorf("failed to read stored records: %w", err)
	}
	return records, nil
}

func (s *ClusterService) loadArtifact(ctx context.Context) (*models.ClusterArtifact, error) {
	blob, version, err := s.artifacts.Load(ctx, models.ModelKindPatientCluster)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster model: %w", err)
	}

	var artifact models.ClusterArtifact
	if err := json.Unmarshal(blob, &artifact); err != nil {
		return nil, fmt.Errorf("failed to decode cluster model %s: %w", version, err)
	}
	if err := validateClusterArtifact(&artifact); err != nil {
		return nil, fmt.Errorf("cluster model %s: %w", version, err)
	}
	return &artifact, nil
}

func validateClusterArtifact(a *models.ClusterArtifact) error {
	if err := models.CheckFeatureOrder(a.Scaler.Features); err != nil {
		return err
	}
	if len(a.Scaler.Mean) != models.FeatureCount || len(a.Scaler.Scale) != models.FeatureCount {
		return fmt.Errorf("scaler has %d means and %d scales, expected %d", len(a.Scaler.Mean), len(a.Scaler.Scale), models.FeatureCount)
	}
	if len(a.Model.Centroids) == 0 || len(a.Model.Centroids) != a.Model.K {
		return fmt.Errorf("model declares k=%d but has %d centroids", a.Model.K, len(a.Model.Centroids))
	}
	for i, c := range a.Model.Centroids {
		if len(c) != models.FeatureCount {
			return fmt.Errorf("centroid %d has %d dimensions, expected %d", i, len(c), models.FeatureCount)
		}
	}
	return nil
}

func assign(a *models.ClusterArtifact, fv models.FeatureVector) (int, error) {
	scaler := &training.StandardScaler{Mean: a.Scaler.Mean, Scale: a.Scaler.Scale}
	x, err := scaler.Transform(fv.Slice())
	if err != nil {
		return 0, err
	}
	return training.Nearest(a.Model.Centroids, x), nil
}
