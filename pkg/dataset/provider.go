package dataset

import (
	"context"
	"errors"
	"fmt"

	"github.com/mimir-aip/triage-ml/pkg/logging"
	"github.com/mimir-aip/triage-ml/pkg/models"
)

// RecordLister is the part of the repository the provider reads
type RecordLister interface {
	ListAll(ctx context.Context) ([]*models.TriageRecord, error)
}

// Provider builds training datasets from stored records plus the bootstrap set
type Provider struct {
	store  RecordLister
	logger *logging.Logger
}

// NewProvider creates a new dataset provider
func NewProvider(store RecordLister, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Provider{store: store, logger: logger.With(logging.Component("dataset"))}
}

// Merge returns the stored records followed by the bootstrap rows. If the
// result still has a single class, the bootstrap is appended once more. A
// store failure is returned rather than training on bootstrap rows alone.
func (p *Provider) Merge(ctx context.Context) (*models.LabeledDataset, error) {
	records, err := p.store.ListAll(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrTransientIO) {
			err = fmt.Errorf("%w: %v", models.ErrTransientIO, err)
		}
		return nil, fmt.Errorf("failed to read stored records: %w", err)
	}

	ds := &models.LabeledDataset{Samples: make([]models.LabeledSample, 0, len(records)+len(bootstrapRows))}
	for _, rec := range records {
		ds.Append(models.LabeledSample{
			Features: rec.Features(),
			Label:    rec.HasInfarctRisk,
			Source:   models.SampleSourceStore,
		})
	}
	if len(records) == 0 {
		p.logger.Warn("no stored records, using bootstrap dataset only")
	}
	ds.Append(Bootstrap().Samples...)

	if ds.ClassCount() < 2 {
		p.logger.Warn("merged dataset has a single class, appending bootstrap again",
			logging.Int("records", ds.Len()))
		ds.Append(Bootstrap().Samples...)
	}

	p.logger.Debug("merged training dataset",
		logging.Int("stored", len(records)),
		logging.Int("total", ds.Len()))
	return ds, nil
}
