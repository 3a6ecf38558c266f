package metadatastore

import (
	"context"
	"fmt"

	"github.com/mimir-aip/triage-ml/pkg/config"
	"github.com/mimir-aip/triage-ml/pkg/models"
)

// TriageRepository is the persistence port for triage records.
// Records are immutable once inserted; there is no update or delete.
type TriageRepository interface {
	// FindByID returns the record and true, or nil and false when absent
	FindByID(ctx context.Context, id string) (*models.TriageRecord, bool, error)
	Insert(ctx context.Context, rec *models.TriageRecord) error

	// ListAll returns every record ordered by ingestion time, then id
	ListAll(ctx context.Context) ([]*models.TriageRecord, error)
	ListAtRisk(ctx context.Context) ([]*models.TriageRecord, error)

	// WithTx runs fn inside one transaction. fn returning an error rolls
	// back everything it did; otherwise the transaction commits.
	WithTx(ctx context.Context, fn func(tx TriageTx) error) error

	Close() error
}

// TriageTx is the view of the repository available inside WithTx.
// FindByID sees rows inserted earlier in the same transaction.
type TriageTx interface {
	FindByID(ctx context.Context, id string) (*models.TriageRecord, bool, error)
	Insert(ctx context.Context, rec *models.TriageRecord) error
}

// Open connects to the backend selected by cfg and applies the schema
func Open(ctx context.Context, cfg config.StoreConfig) (TriageRepository, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.DSN)
	case "mysql":
		return NewMySQLStore(ctx, cfg.DSN)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func validateRecord(rec *models.TriageRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", models.ErrValidation)
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", models.ErrValidation)
	}
	return rec.Features().Validate()
}
