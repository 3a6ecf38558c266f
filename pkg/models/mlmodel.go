package models

import (
	"fmt"
	"time"
)

// ModelKind identifies one of the two persisted artifacts
type ModelKind string

const (
	ModelKindRiskClassifier ModelKind = "risk_classifier"
	ModelKindPatientCluster ModelKind = "patient_clusters"
)

// TrainingConfig holds configuration for both trainers
type TrainingConfig struct {
	TrainTestSplit       float64 `yaml:"train_test_split" json:"train_test_split" env:"TRAIN_TEST_SPLIT"` // e.g., 0.8 for 80% training, 20% testing
	RandomSeed           int64   `yaml:"random_seed" json:"random_seed" env:"RANDOM_SEED"`
	MaxIterations        int     `yaml:"max_iterations" json:"max_iterations" env:"MAX_ITERATIONS"`
	RegularizationC      float64 `yaml:"regularization_c" json:"regularization_c" env:"REGULARIZATION_C"` // inverse L2 strength
	Clusters             int     `yaml:"clusters" json:"clusters" env:"CLUSTERS"`
	ClusterInits         int     `yaml:"cluster_inits" json:"cluster_inits" env:"CLUSTER_INITS"`
	ClusterMaxIterations int     `yaml:"cluster_max_iterations" json:"cluster_max_iterations" env:"CLUSTER_MAX_ITERATIONS"`
}

// DefaultTrainingConfig returns the fixed reproducible settings
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		TrainTestSplit:       0.8,
		RandomSeed:           42,
		MaxIterations:        100,
		RegularizationC:      1.0,
		Clusters:             3,
		ClusterInits:         10,
		ClusterMaxIterations: 300,
	}
}

// Validate checks the training configuration
func (c TrainingConfig) Validate() error {
	if c.TrainTestSplit <= 0 || c.TrainTestSplit >= 1 {
		return fmt.Errorf("train_test_split must be in (0, 1), got %v", c.TrainTestSplit)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive")
	}
	if c.RegularizationC <= 0 {
		return fmt.Errorf("regularization_c must be positive")
	}
	if c.Clusters <= 0 {
		return fmt.Errorf("clusters must be positive")
	}
	if c.ClusterInits <= 0 || c.ClusterMaxIterations <= 0 {
		return fmt.Errorf("cluster_inits and cluster_max_iterations must be positive")
	}
	return nil
}

// PerformanceMetrics holds held-out classifier metrics
type PerformanceMetrics struct {
	Accuracy        float64 `json:"accuracy"`
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	F1Score         float64 `json:"f1_score"`
	ConfusionMatrix [][]int `json:"confusion_matrix,omitempty"` // [actual][predicted], index 0 = no risk
	TestSamples     int     `json:"test_samples"`
}

// TrainingOutcome summarizes one training run
type TrainingOutcome struct {
	Kind     ModelKind           `json:"kind"`
	Records  int                 `json:"records"`
	Success  bool                `json:"success"`
	Message  string              `json:"message"`
	Version  string              `json:"version,omitempty"`
	Metrics  *PerformanceMetrics `json:"metrics,omitempty"`
	Duration time.Duration       `json:"duration"`
}

// RiskPrediction is the scored output for one feature vector
type RiskPrediction struct {
	AtRisk      bool    `json:"at_risk"`
	Probability float64 `json:"probability"` // percentage in [0, 100], two decimals
	Version     string  `json:"version"`
}

// ClusterAssignment pairs a stored record with its cluster
type ClusterAssignment struct {
	RecordID string `json:"record_id"`
	Cluster  int    `json:"cluster"`
}

// ClassifierArtifact is the persisted logistic regression
type ClassifierArtifact struct {
	Features  []string            `json:"features"`
	Weights   []float64           `json:"weights"`
	Intercept float64             `json:"intercept"`
	TrainedAt time.Time           `json:"trained_at"`
	Records   int                 `json:"records"`
	Metrics   *PerformanceMetrics `json:"metrics,omitempty"`
}

// ClusterArtifact is the persisted scaler and k-means pair. The two are
// only meaningful together.
type ClusterArtifact struct {
	Scaler ScalerParams  `json:"scaler"`
	Model  CentroidModel `json:"model"`
}

// ScalerParams is a fitted per-dimension standardizing transform
type ScalerParams struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
}

// CentroidModel is a fitted k-means partition in scaled space
type CentroidModel struct {
	K          int         `json:"k"`
	Centroids  [][]float64 `json:"centroids"`
	Inertia    float64     `json:"inertia"`
	Iterations int         `json:"iterations"`
	Seed       int64       `json:"seed"`
	Records    int         `json:"records"`
	TrainedAt  time.Time   `json:"trained_at"`
}

// CheckFeatureOrder verifies a persisted feature list against FeatureNames
func CheckFeatureOrder(features []string) error {
	if len(features) != FeatureCount {
		return fmt.Errorf("artifact has %d features, expected %d", len(features), FeatureCount)
	}
	for i, name := range features {
		if name != FeatureNames[i] {
			return fmt.Errorf("artifact feature %d is %q, expected %q", i, name, FeatureNames[i])
		}
	}
	return nil
}
