package training

import (
	"math"

	"github.com/sjwhitworth/golearn/evaluation"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

const (
	classPositive = "true"
	classNegative = "false"
)

func classLabel(y float64) string {
	if y > 0.5 {
		return classPositive
	}
	return classNegative
}

// calculateClassificationMetrics scores predictions against actual labels.
// Precision, recall and F1 are reported for the at-risk class; undefined
// ratios (no positive predictions, say) are reported as 0.
func calculateClassificationMetrics(predictions, actual []float64) *models.PerformanceMetrics {
	cm := evaluation.ConfusionMatrix{
		classNegative: {classNegative: 0, classPositive: 0},
		classPositive: {classNegative: 0, classPositive: 0},
	}
	for i := range predictions {
		cm[classLabel(actual[i])][classLabel(predictions[i])]++
	}

	metrics := &models.PerformanceMetrics{
		TestSamples: len(predictions),
		ConfusionMatrix: [][]int{
			{cm[classNegative][classNegative], cm[classNegative][classPositive]},
			{cm[classPositive][classNegative], cm[classPositive][classPositive]},
		},
	}
	if len(predictions) == 0 {
		return metrics
	}

	metrics.Accuracy = finiteOrZero(evaluation.GetAccuracy(cm))
	metrics.Precision = finiteOrZero(evaluation.GetPrecision(classPositive, cm))
	metrics.Recall = finiteOrZero(evaluation.GetRecall(classPositive, cm))
	metrics.F1Score = finiteOrZero(evaluation.GetF1Score(classPositive, cm))
	return metrics
}

// Evaluate scores a fitted model on the held-out partition
func Evaluate(m *LogisticModel, data *TrainingData) *models.PerformanceMetrics {
	predictions := make([]float64, len(data.TestFeatures))
	for i, x := range data.TestFeatures {
		predictions[i] = m.Predict(x)
	}
	return calculateClassificationMetrics(predictions, data.TestLabels)
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
