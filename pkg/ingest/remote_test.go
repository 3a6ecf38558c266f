package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

func TestDecodeBody_Shapes(t *testing.T) {
	list := `[{"id": 12, "temperatura": 37.0}]`
	wrapped := `{"data": {"triajes": [{"id": "12", "temperatura": "37.0"}]}}`
	bare := `{"triajes": [{"id": 12.0, "temperatura": 37}]}`

	for name, body := range map[string]string{"list": list, "wrapped": wrapped} {
		recs, err := DecodeBody([]byte(body))
		require.NoError(t, err, name)
		require.Len(t, recs, 1, name)
		assert.Equal(t, "12", recs[0].ID, name)
		require.NotNil(t, recs[0].Vitals.Temperature, name)
		assert.Equal(t, 37.0, *recs[0].Vitals.Temperature, name)
		assert.Nil(t, recs[0].Vitals.HeartRate, name)
	}

	recs, err := DecodeBody([]byte(bare))
	require.NoError(t, err)
	assert.Equal(t, "12", recs[0].ID)
	assert.Empty(t, recs[0].Invalid)
}

func TestDecodeBody_NormalizesNumericIDs(t *testing.T) {
	body := `[{"id": 1}, {"id": 1.0}, {"id": 1e2}, {"id": "007"}, {"id": 2.5}, {"id": -0}, {"id": 12345678901234567890}]`
	recs, err := DecodeBody([]byte(body))
	require.NoError(t, err)

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"1", "1", "100", "007", "2.5", "0", "12345678901234567890"}, ids)
}

func TestDecodeBody_MalformedEntriesStayPerRecord(t *testing.T) {
	body := `[
		{"id": 2, "temperatura": "abc"},
		{"id": true, "temperatura": 37},
		{"id": 4, "nombrePaciente": 99},
		7,
		{"id": 3, "temperatura": 37.2}
	]`
	recs, err := DecodeBody([]byte(body))
	require.NoError(t, err)
	require.Len(t, recs, 5)

	assert.Equal(t, "2", recs[0].ID)
	assert.Contains(t, recs[0].Invalid, "temperature")
	assert.Contains(t, recs[0].Invalid, `"abc"`)
	assert.Nil(t, recs[0].Vitals.Temperature)

	assert.Empty(t, recs[1].ID)
	assert.Contains(t, recs[1].Invalid, "id: must be a string or number")

	assert.Equal(t, "4", recs[2].ID, "id is recovered from a malformed entry")
	assert.Contains(t, recs[2].Invalid, "malformed record")

	assert.Empty(t, recs[3].ID)
	assert.Contains(t, recs[3].Invalid, "malformed record")

	assert.Equal(t, "3", recs[4].ID)
	assert.Empty(t, recs[4].Invalid)
}

func TestDecodeBody_Errors(t *testing.T) {
	for _, body := range []string{"", "not json", `{"other": []}`, `[{"id": 1`, `{"errors": [{"message": "boom"}]}`} {
		_, err := DecodeBody([]byte(body))
		assert.ErrorIs(t, err, models.ErrTransientIO, body)
	}
}

func TestRemoteRecord_ToRecordDefaultsName(t *testing.T) {
	r := RemoteRecord{ID: "44"}
	rec := r.ToRecord(models.FeatureVector{1, 2, 3, 4, 5, 6}, true, time.Unix(0, 0))
	assert.Equal(t, "patient-44", rec.PatientName)
	assert.True(t, rec.HasInfarctRisk)
	assert.Equal(t, 4.0, rec.OxygenSaturation)
}
