package training

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

// TrainingData holds the data for training and validation
type TrainingData struct {
	TrainFeatures [][]float64 // Training features (rows x features)
	TrainLabels   []float64   // 0/1 labels
	TestFeatures  [][]float64
	TestLabels    []float64
	FeatureNames  []string
}

// SplitDataset partitions ds with a seeded permutation. The first
// ceil((1-trainRatio)*n) permuted rows are held out for testing.
func SplitDataset(ds *models.LabeledDataset, trainRatio float64, seed int64) (*TrainingData, error) {
	n := ds.Len()
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 samples, got %d", models.ErrValidation, n)
	}
	if trainRatio <= 0 || trainRatio >= 1 {
		return nil, fmt.Errorf("%w: train ratio must be in (0, 1), got %v", models.ErrValidation, trainRatio)
	}

	features, labels := ds.Matrix()

	nTest := int(math.Ceil((1-trainRatio)*float64(n) - 1e-9))
	if nTest < 1 {
		nTest = 1
	}
	if nTest > n-1 {
		nTest = n - 1
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	data := &TrainingData{
		TrainFeatures: make([][]float64, 0, n-nTest),
		TrainLabels:   make([]float64, 0, n-nTest),
		TestFeatures:  make([][]float64, 0, nTest),
		TestLabels:    make([]float64, 0, nTest),
		FeatureNames:  models.FeatureNames[:],
	}
	for i, idx := range perm {
		if i < nTest {
			data.TestFeatures = append(data.TestFeatures, features[idx])
			data.TestLabels = append(data.TestLabels, labels[idx])
		} else {
			data.TrainFeatures = append(data.TrainFeatures, features[idx])
			data.TrainLabels = append(data.TrainLabels, labels[idx])
		}
	}
	return data, nil
}

// classCount returns the number of distinct 0/1 labels
func classCount(labels []float64) int {
	var pos, neg bool
	for _, y := range labels {
		if y > 0.5 {
			pos = true
		} else {
			neg = true
		}
	}
	switch {
	case pos && neg:
		return 2
	case pos || neg:
		return 1
	default:
		return 0
	}
}

// toMatrix converts 2D slice to gonum matrix
func toMatrix(data [][]float64) *mat.Dense {
	if len(data) == 0 {
		return mat.NewDense(0, 0, nil)
	}
	rows := len(data)
	cols := len(data[0])
	flat := make([]float64, 0, rows*cols)
	for _, row := range data {
		flat = append(flat, row...)
	}
	return mat.NewDense(rows, cols, flat)
}
