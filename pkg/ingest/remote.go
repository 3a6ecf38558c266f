package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

// RemoteRecord is one triage entry as published by the upstream source.
// Invalid holds the reason a field could not be parsed; such a record is
// rejected on its own without failing the batch.
type RemoteRecord struct {
	ID                string
	PatientName       string
	Vitals            models.Vitals
	Allergies         string
	ChronicConditions string
	ReasonForVisit    string
	Invalid           string
}

// ToRecord builds the stored form with the given label
func (r *RemoteRecord) ToRecord(fv models.FeatureVector, atRisk bool, ingestedAt time.Time) *models.TriageRecord {
	name := r.PatientName
	if name == "" {
		name = "patient-" + r.ID
	}
	rec := &models.TriageRecord{
		ID:                r.ID,
		PatientName:       name,
		Allergies:         r.Allergies,
		ChronicConditions: r.ChronicConditions,
		ReasonForVisit:    r.ReasonForVisit,
		HasInfarctRisk:    atRisk,
		IngestedAt:        ingestedAt,
	}
	rec.SetFeatures(fv)
	return rec
}

// wireRecord mirrors the upstream JSON field names
type wireRecord struct {
	ID                     externalID    `json:"id"`
	NombrePaciente         *string       `json:"nombrePaciente"`
	Temperatura            optionalFloat `json:"temperatura"`
	FrecuenciaCardiaca     optionalFloat `json:"frecuenciaCardiaca"`
	FrecuenciaRespiratoria optionalFloat `json:"frecuenciaRespiratoria"`
	SaturacionOxigeno      optionalFloat `json:"saturacionOxigeno"`
	Peso                   optionalFloat `json:"peso"`
	Estatura               optionalFloat `json:"estatura"`
	Alergias               *string       `json:"alergias"`
	EnfermedadesCronicas   *string       `json:"enfermedadesCronicas"`
	MotivoConsulta         *string       `json:"motivoConsulta"`
}

func (w *wireRecord) toRemote() RemoteRecord {
	r := RemoteRecord{
		ID:          w.ID.value,
		PatientName: deref(w.NombrePaciente),
		Vitals: models.Vitals{
			Temperature:      w.Temperatura.value,
			HeartRate:        w.FrecuenciaCardiaca.value,
			RespiratoryRate:  w.FrecuenciaRespiratoria.value,
			OxygenSaturation: w.SaturacionOxigeno.value,
			Weight:           w.Peso.value,
			Height:           w.Estatura.value,
		},
		Allergies:         deref(w.Alergias),
		ChronicConditions: deref(w.EnfermedadesCronicas),
		ReasonForVisit:    deref(w.MotivoConsulta),
	}

	var problems []string
	if w.ID.invalid != "" {
		problems = append(problems, "id: "+w.ID.invalid)
	}
	vitals := [models.FeatureCount]optionalFloat{
		w.Temperatura, w.FrecuenciaCardiaca, w.FrecuenciaRespiratoria,
		w.SaturacionOxigeno, w.Peso, w.Estatura,
	}
	for i, v := range vitals {
		if v.invalid != "" {
			problems = append(problems, models.FeatureNames[i]+": "+v.invalid)
		}
	}
	r.Invalid = strings.Join(problems, "; ")
	return r
}

// externalID accepts a JSON string or number. Integral numbers are
// normalized so 12 and 12.0 name the same record. Any other JSON type is
// recorded as invalid.
type externalID struct {
	value   string
	invalid string
}

func (id *externalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*id = externalID{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			id.invalid = fmt.Sprintf("malformed string %s", data)
			return nil
		}
		id.value = strings.TrimSpace(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		id.invalid = fmt.Sprintf("must be a string or number, got %s", data)
		return nil
	}
	id.value = normalizeNumber(n)
	return nil
}

// maxExactInteger is the largest magnitude a float64 holds without rounding
const maxExactInteger = 1 << 53

func normalizeNumber(n json.Number) string {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactInteger {
		return n.String()
	}
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// optionalFloat accepts a JSON number, a numeric string, or null. Anything
// else is recorded as invalid.
type optionalFloat struct {
	value   *float64
	invalid string
}

func (f *optionalFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*f = optionalFloat{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			f.invalid = fmt.Sprintf("malformed string %s", data)
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			f.invalid = fmt.Sprintf("invalid numeric value %q", s)
			return nil
		}
		f.value = &v
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		f.invalid = fmt.Sprintf("invalid numeric value %s", data)
		return nil
	}
	f.value = &v
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// DecodeBody parses either a bare JSON list or an object wrapping it as
// {"data":{"triajes":[...]}} or {"triajes":[...]}. Only an unreadable
// document fails; a malformed entry comes back with Invalid set.
func DecodeBody(body []byte) ([]RemoteRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response body", models.ErrTransientIO)
	}

	var entries []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("%w: failed to decode triage list: %v", models.ErrTransientIO, err)
		}
	case '{':
		var envelope struct {
			Data *struct {
				Triajes []json.RawMessage `json:"triajes"`
			} `json:"data"`
			Triajes []json.RawMessage `json:"triajes"`
			Errors  []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("%w: failed to decode triage envelope: %v", models.ErrTransientIO, err)
		}
		if len(envelope.Errors) > 0 && (envelope.Data == nil || envelope.Data.Triajes == nil) {
			return nil, fmt.Errorf("%w: upstream returned errors: %s", models.ErrTransientIO, envelope.Errors[0].Message)
		}
		switch {
		case envelope.Data != nil:
			entries = envelope.Data.Triajes
		case envelope.Triajes != nil:
			entries = envelope.Triajes
		default:
			return nil, fmt.Errorf("%w: response has no triajes list", models.ErrTransientIO)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected response body", models.ErrTransientIO)
	}

	out := make([]RemoteRecord, len(entries))
	for i, raw := range entries {
		out[i] = decodeEntry(raw)
	}
	return out, nil
}

// decodeEntry never fails. When the entry does not fit the wire shape, the
// id is still recovered if possible so the record can be deduplicated.
func decodeEntry(raw json.RawMessage) RemoteRecord {
	var w wireRecord
	err := json.Unmarshal(raw, &w)
	if err == nil {
		return w.toRemote()
	}

	var idOnly struct {
		ID externalID `json:"id"`
	}
	_ = json.Unmarshal(raw, &idOnly)
	return RemoteRecord{
		ID:      idOnly.ID.value,
		Invalid: fmt.Sprintf("malformed record: %v", err),
	}
}
