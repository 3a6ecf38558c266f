package mlmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mimir-aip/triage-ml/pkg/logging"
	"github.com/mimir-aip/triage-ml/pkg/mlmodel/training"
	"github.com/mimir-aip/triage-ml/pkg/models"
	"github.com/mimir-aip/triage-ml/pkg/storage"
)

// DatasetSource supplies the merged training dataset
type DatasetSource interface {
	Merge(ctx context.Context) (*models.LabeledDataset, error)
}

// AtRiskLister lists records labeled at risk
type AtRiskLister interface {
	ListAtRisk(ctx context.Context) ([]*models.TriageRecord, error)
}

// RiskService trains and serves the binary infarct-risk classifier
type RiskService struct {
	datasets  DatasetSource
	records   AtRiskLister
	artifacts storage.ArtifactStore
	config    models.TrainingConfig
	logger    *logging.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewRiskService creates a new risk classifier service. metrics may be nil.
func NewRiskService(
	datasets DatasetSource,
	records AtRiskLister,
	artifacts storage.ArtifactStore,
	config models.TrainingConfig,
	logger *logging.Logger,
	metrics *Metrics,
) *RiskService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &RiskService{
		datasets:  datasets,
		records:   records,
		artifacts: artifacts,
		config:    config,
		logger:    logger.With(logging.Component("risk"), logging.String("kind", string(models.ModelKindRiskClassifier))),
		metrics:   metrics,
		now:       time.Now,
	}
}

// TrainFromStore merges stored records with the bootstrap set and trains on
// the result. A store failure aborts without touching the current artifact.
func (s *RiskService) TrainFromStore(ctx context.Context) (*models.TrainingOutcome, error) {
	ds, err := s.datasets.Merge(ctx)
	if err != nil {
		s.metrics.observeTraining(models.ModelKindRiskClassifier, nil, err, 0)
		return nil, fmt.Errorf("failed to build training dataset: %w", err)
	}
	return s.Train(ctx, ds)
}

// Train fits the classifier on ds and publishes a new artifact version
func (s *RiskService) Train(ctx context.Context, ds *models.LabeledDataset) (*models.TrainingOutcome, error) {
	start := s.now()
	outcome, err := s.train(ctx, ds)
	elapsed := s.now().Sub(start)
	s.metrics.observeTraining(models.ModelKindRiskClassifier, outcome, err, elapsed)
	if err != nil {
		s.logger.Error("risk classifier training failed", err)
		return nil, err
	}
	outcome.Duration = elapsed
	s.logger.Info("risk classifier trained",
		logging.Int("records", outcome.Records),
		logging.String("version", outcome.Version),
		logging.Float("accuracy", outcome.Metrics.Accuracy),
		logging.Duration("duration", elapsed))
	return outcome, nil
}

func (s *RiskService) train(ctx context.Context, ds *models.LabeledDataset) (*models.TrainingOutcome, error) {
	if ds.Len() == 0 {
		return nil, fmt.Errorf("%w: empty training dataset", models.ErrValidation)
	}
	if ds.ClassCount() < 2 {
		return nil, fmt.Errorf("%w: training dataset needs both classes", models.ErrValidation)
	}
	for i, sample := range ds.Samples {
		if err := sample.Features.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}

	data, err := training.SplitDataset(ds, s.config.TrainTestSplit, s.config.RandomSeed)
	if err != nil {
		return nil, err
	}

	model, err := training.FitLogistic(data.TrainFeatures, data.TrainLabels, s.config.RegularizationC, s.config.MaxIterations)
	if err != nil {
		return nil, fmt.Errorf("failed to fit risk classifier: %w", err)
	}
	if !model.Converged {
		s.logger.Warn("logistic regression reached the iteration limit", logging.Int("iterations", model.Iterations))
	}
	metrics := training.Evaluate(model, data)

	artifact := &models.ClassifierArtifact{
		Features:  models.FeatureNames[:],
		Weights:   model.Weights,
		Intercept: model.Intercept,
		TrainedAt: s.now().UTC(),
		Records:   ds.Len(),
		Metrics:   metrics,
	}
	blob, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to encode risk classifier: %w", err)
	}
	version, err := s.artifacts.Save(ctx, models.ModelKindRiskClassifier, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to save risk classifier: %w", err)
	}

	return &models.TrainingOutcome{
		Kind:    models.ModelKindRiskClassifier,
		Records: ds.Len(),
		Success: true,
		Message: fmt.Sprintf("trained on %d records", ds.Len()),
		Version: version,
		Metrics: metrics,
	}, nil
}

// Predict scores fv against the current classifier. It reloads the artifact
// on every call.
func (s *RiskService) Predict(ctx context.Context, fv models.FeatureVector) (*models.RiskPrediction, error) {
	pred, err := s.predict(ctx, fv)
	if err != nil {
		outcome := "error"
		if errors.Is(err, models.ErrNotFound) {
			outcome = "no_model"
		}
		s.metrics.observePrediction(models.ModelKindRiskClassifier, outcome)
		return nil, err
	}
	outcome := "not_at_risk"
	if pred.AtRisk {
		outcome = "at_risk"
	}
	s.metrics.observePrediction(models.ModelKindRiskClassifier, outcome)
	return pred, nil
}

func (s *RiskService) predict(ctx context.Context, fv models.FeatureVector) (*models.RiskPrediction, error) {
	if err := fv.Validate(); err != nil {
		return nil, err
	}
	artifact, version, err := s.loadArtifact(ctx)
	if err != nil {
		return nil, err
	}

	model := &training.LogisticModel{Weights: artifact.Weights, Intercept: artifact.Intercept}
	probability := roundPercent(model.PredictProba(fv.Slice()))
	return &models.RiskPrediction{
		AtRisk:      probability >= 50,
		Probability: probability,
		Version:     version,
	}, nil
}

// ListAtRisk returns stored records labeled at risk
func (s *RiskService) ListAtRisk(ctx context.Context) ([]*models.TriageRecord, error) {
	records, err := s.records.ListAtRisk(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list at-risk records: %w", err)
	}
	return records, nil
}

func (s *RiskService) loadArtifact(ctx context.Context) (*models.ClassifierArtifact, string, error) {
	blob, version, err := s.artifacts.Load(ctx, models.ModelKindRiskClassifier)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load risk classifier: %w", err)
	}

	var artifact models.ClassifierArtifact
	if err := json.Unmarshal(blob, &artifact); err != nil {
		return nil, "", fmt.Errorf("failed to decode risk classifier %s: %w", version, err)
	}
	if err := models.CheckFeatureOrder(artifact.Features); err != nil {
		return nil, "", fmt.Errorf("risk classifier %s: %w", version, err)
	}
	if len(artifact.Weights) != models.FeatureCount {
		return nil, "", fmt.Errorf("risk classifier %s has %d weights, expected %d", version, len(artifact.Weights), models.FeatureCount)
	}
	return &artifact, version, nil
}

// roundPercent converts a probability to a percentage with two decimals
func roundPercent(p float64) float64 {
	return math.Round(p*10000) / 100
}
