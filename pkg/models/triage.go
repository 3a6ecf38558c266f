package models

import (
	"fmt"
	"math"
	"time"
)

// FeatureCount is the number of physiological fields both models consume
const FeatureCount = 6

// FeatureNames is the fixed column order shared by training, persisted
// artifacts and prediction. Artifacts record it and are rejected on mismatch.
var FeatureNames = [FeatureCount]string{
	"temperature",
	"heart_rate",
	"respiratory_rate",
	"oxygen_saturation",
	"weight",
	"height",
}

// FeatureVector holds the six vitals in FeatureNames order
type FeatureVector [FeatureCount]float64

// Slice returns a copy of the vector as a slice
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, FeatureCount)
	copy(out, v[:])
	return out
}

// Validate rejects NaN and infinite components
func (v FeatureVector) Validate() error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrValidation, FeatureNames[i])
		}
	}
	return nil
}

// Vitals is a partially known set of measurements, as received from a remote source
type Vitals struct {
	Temperature      *float64 `json:"temperature"`
	HeartRate        *float64 `json:"heart_rate"`
	RespiratoryRate  *float64 `json:"respiratory_rate"`
	OxygenSaturation *float64 `json:"oxygen_saturation"`
	Weight           *float64 `json:"weight"`
	Height           *float64 `json:"height"`
}

// FeatureVector assembles the vector. Any missing field is a validation error.
func (v Vitals) FeatureVector() (FeatureVector, error) {
	var fv FeatureVector
	fields := [FeatureCount]*float64{
		v.Temperature, v.HeartRate, v.RespiratoryRate,
		v.OxygenSaturation, v.Weight, v.Height,
	}
	for i, f := range fields {
		if f == nil {
			return fv, fmt.Errorf("%w: %s is missing", ErrValidation, FeatureNames[i])
		}
		fv[i] = *f
	}
	return fv, fv.Validate()
}

// TriageRecord is one stored patient encounter
type TriageRecord struct {
	ID                string    `json:"id"`
	PatientName       string    `json:"patient_name"`
	Temperature       float64   `json:"temperature"`
	HeartRate         float64   `json:"heart_rate"`
	RespiratoryRate   float64   `json:"respiratory_rate"`
	OxygenSaturation  float64   `json:"oxygen_saturation"`
	Weight            float64   `json:"weight"`
	Height            float64   `json:"height"`
	Allergies         string    `json:"allergies"`
	ChronicConditions string    `json:"chronic_conditions"`
	ReasonForVisit    string    `json:"reason_for_visit"`
	HasInfarctRisk    bool      `json:"has_infarct_risk"`
	IngestedAt        time.Time `json:"ingested_at"`
}

// Features projects the record onto the model feature order
func (r *TriageRecord) Features() FeatureVector {
	return FeatureVector{
		r.Temperature,
		r.HeartRate,
		r.RespiratoryRate,
		r.OxygenSaturation,
		r.Weight,
		r.Height,
	}
}

// SetFeatures copies a vector into the record's vital fields
func (r *TriageRecord) SetFeatures(v FeatureVector) {
	r.Temperature = v[0]
	r.HeartRate = v[1]
	r.RespiratoryRate = v[2]
	r.OxygenSaturation = v[3]
	r.Weight = v[4]
	r.Height = v[5]
}
