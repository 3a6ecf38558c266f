package dataset

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

type stubLister struct {
	records []*models.TriageRecord
	err     error
}

func (s *stubLister) ListAll(context.Context) ([]*models.TriageRecord, error) {
	return s.records, s.err
}

func record(id string, atRisk bool) *models.TriageRecord {
	rec := &models.TriageRecord{ID: id, HasInfarctRisk: atRisk}
	rec.SetFeatures(models.FeatureVector{37, 90, 20, 95, 80, 170})
	return rec
}

func TestBootstrap_HasBothClassesAndIsACopy(t *testing.T) {
	ds := Bootstrap()
	assert.Equal(t, 2, ds.ClassCount())
	assert.Equal(t, len(bootstrapRows), ds.Len())

	ds.Samples[0].Label = !ds.Samples[0].Label
	assert.Equal(t, bootstrapRows[0].atRisk, Bootstrap().Samples[0].Label)
}

func TestMerge_EmptyStoreIsBootstrapOnly(t *testing.T) {
	p := NewProvider(&stubLister{}, nil)

	ds, err := p.Merge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Bootstrap().Samples, ds.Samples)
}

func TestMerge_StoreRowsFirst(t *testing.T) {
	p := NewProvider(&stubLister{records: []*models.TriageRecord{record("a", true), record("b", false)}}, nil)

	ds, err := p.Merge(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2+len(bootstrapRows), ds.Len())
	assert.Equal(t, models.SampleSourceStore, ds.Samples[0].Source)
	assert.True(t, ds.Samples[0].Label)
	assert.Equal(t, models.SampleSourceStore, ds.Samples[1].Source)
	assert.Equal(t, models.SampleSourceBootstrap, ds.Samples[2].Source)
}

func TestMerge_SingleClassStoreStillHasTwoClasses(t *testing.T) {
	records := make([]*models.TriageRecord, 30)
	for i := range records {
		records[i] = record(string(rune('a'+i)), false)
	}
	p := NewProvider(&stubLister{records: records}, nil)

	ds, err := p.Merge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ds.ClassCount())
	assert.GreaterOrEqual(t, ds.Len(), len(records)+len(bootstrapRows))
}

func TestMerge_StoreFailureIsTransient(t *testing.T) {
	p := NewProvider(&stubLister{err: errors.New("connection refused")}, nil)

	ds, err := p.Merge(context.Background())
	assert.Nil(t, ds)
	assert.ErrorIs(t, err, models.ErrTransientIO)
}
