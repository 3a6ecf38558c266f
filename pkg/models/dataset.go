package models

// SampleSource tells where a labeled sample came from
type SampleSource string

const (
	SampleSourceStore     SampleSource = "store"
	SampleSourceBootstrap SampleSource = "bootstrap"
)

// LabeledSample is one supervised training row
type LabeledSample struct {
	Features FeatureVector `json:"features"`
	Label    bool          `json:"label"`
	Source   SampleSource  `json:"source"`
}

// LabeledDataset is an ordered collection of labeled samples
type LabeledDataset struct {
	Samples []LabeledSample `json:"samples"`
}

// Len returns the number of samples
func (d *LabeledDataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Samples)
}

// Append adds samples in order
func (d *LabeledDataset) Append(samples ...LabeledSample) {
	d.Samples = append(d.Samples, samples...)
}

// ClassCount returns how many distinct label values are present (0, 1 or 2)
func (d *LabeledDataset) ClassCount() int {
	var hasTrue, hasFalse bool
	for _, s := range d.Samples {
		if s.Label {
			hasTrue = true
		} else {
			hasFalse = true
		}
		if hasTrue && hasFalse {
			return 2
		}
	}
	n := 0
	if hasTrue {
		n++
	}
	if hasFalse {
		n++
	}
	return n
}

// Matrix returns the feature rows and 0/1 labels
func (d *LabeledDataset) Matrix() ([][]float64, []float64) {
	features := make([][]float64, len(d.Samples))
	labels := make([]float64, len(d.Samples))
	for i, s := range d.Samples {
		features[i] = s.Features.Slice()
		if s.Label {
			labels[i] = 1
		}
	}
	return features, labels
}
