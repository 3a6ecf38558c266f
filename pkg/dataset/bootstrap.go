package dataset

import "github.com/mimir-aip/triage-ml/pkg/models"

// bootstrapRows are fixed reference encounters. Values are in
// FeatureNames order: temperature (°C), heart rate (bpm), respiratory rate
// (breaths/min), SpO2 (%), weight (kg), height (cm).
var bootstrapRows = []struct {
	features models.FeatureVector
	atRisk   bool
}{
	{models.FeatureVector{38.9, 132, 28, 85, 102, 165}, true},
	{models.FeatureVector{36.6, 72, 16, 98, 68, 172}, false},
	{models.FeatureVector{39.2, 138, 30, 83, 108, 162}, true},
	{models.FeatureVector{36.8, 68, 14, 99, 62, 168}, false},
	{models.FeatureVector{38.5, 124, 26, 87, 96, 170}, true},
	{models.FeatureVector{36.9, 78, 17, 97, 74, 178}, false},
	{models.FeatureVector{39.5, 140, 32, 82, 110, 160}, true},
	{models.FeatureVector{36.5, 65, 15, 98, 60, 165}, false},
	{models.FeatureVector{38.7, 128, 27, 86, 99, 167}, true},
	{models.FeatureVector{37.0, 80, 18, 96, 75, 180}, false},
	{models.FeatureVector{39.0, 135, 29, 84, 105, 163}, true},
	{models.FeatureVector{36.7, 70, 16, 99, 66, 174}, false},
	{models.FeatureVector{38.6, 120, 26, 88, 95, 169}, true},
	{models.FeatureVector{36.8, 75, 15, 97, 71, 176}, false},
	{models.FeatureVector{39.3, 136, 31, 83, 107, 161}, true},
	{models.FeatureVector{36.6, 66, 14, 98, 64, 170}, false},
	{models.FeatureVector{38.8, 130, 28, 85, 100, 166}, true},
	{models.FeatureVector{36.9, 74, 17, 99, 72, 179}, false},
	{models.FeatureVector{39.1, 126, 27, 86, 103, 164}, true},
	{models.FeatureVector{36.7, 69, 16, 97, 67, 173}, false},
}

// Bootstrap returns a fresh copy of the built-in labeled dataset. It always
// contains both classes.
func Bootstrap() *models.LabeledDataset {
	ds := &models.LabeledDataset{Samples: make([]models.LabeledSample, 0, len(bootstrapRows))}
	for _, row := range bootstrapRows {
		ds.Append(models.LabeledSample{
			Features: row.features,
			Label:    row.atRisk,
			Source:   models.SampleSourceBootstrap,
		})
	}
	return ds
}

// BootstrapAtRiskVector returns one bootstrap vector labeled at risk
func BootstrapAtRiskVector() models.FeatureVector {
	return bootstrapRows[0].features
}

// BootstrapNormalVector returns one bootstrap vector labeled not at risk
func BootstrapNormalVector() models.FeatureVector {
	return bootstrapRows[1].features
}
