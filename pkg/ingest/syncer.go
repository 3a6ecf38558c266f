package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mimir-aip/triage-ml/pkg/logging"
	"github.com/mimir-aip/triage-ml/pkg/metadatastore"
	"github.com/mimir-aip/triage-ml/pkg/models"
)

// RiskPredictor labels a feature vector at insert time
type RiskPredictor interface {
	Predict(ctx context.Context, fv models.FeatureVector) (*models.RiskPrediction, error)
}

// TxRunner opens repository transactions
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx metadatastore.TriageTx) error) error
}

// Syncer pulls the remote dataset and inserts unseen records in one batch
type Syncer struct {
	fetcher   Fetcher
	store     TxRunner
	predictor RiskPredictor
	logger    *logging.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewSyncer creates a new sync ingestor. predictor and metrics may be nil;
// without a predictor every label defaults to false.
func NewSyncer(fetcher Fetcher, store TxRunner, predictor RiskPredictor, logger *logging.Logger, metrics *Metrics) *Syncer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Syncer{
		fetcher:   fetcher,
		store:     store,
		predictor: predictor,
		logger:    logger.With(logging.Component("ingest")),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Sync runs one ingestion pass. It never returns an error: failures are
// reported through the summary status.
func (s *Syncer) Sync(ctx context.Context) *models.SyncSummary {
	summary := &models.SyncSummary{
		RunID:     uuid.New().String(),
		StartedAt: s.now().UTC(),
		Outcomes:  []models.RecordOutcome{},
	}
	log := s.logger.With(logging.String("run_id", summary.RunID))
	defer func() {
		summary.FinishedAt = s.now().UTC()
		s.metrics.observe(summary)
	}()

	remote, err := s.fetcher.Fetch(ctx)
	if err != nil {
		summary.Status = models.SyncStatusFetchFailed
		summary.Error = err.Error()
		log.Error("failed to fetch remote triage data", err)
		return summary
	}
	summary.Fetched = len(remote)
	if len(remote) == 0 {
		summary.Status = models.SyncStatusCompleted
		log.Info("remote source returned no records")
		return summary
	}

	var outcomes []models.RecordOutcome
	err = s.store.WithTx(ctx, func(tx metadatastore.TriageTx) error {
		outcomes = make([]models.RecordOutcome, 0, len(remote))
		for i := range remote {
			outcome, err := s.ingestOne(ctx, tx, &remote[i], log)
			if err != nil {
				return err
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		summary.Status = models.SyncStatusRolledBack
		summary.Error = err.Error()
		log.Error("sync batch rolled back", err, logging.Int("fetched", summary.Fetched))
		return summary
	}

	summary.Status = models.SyncStatusCompleted
	summary.Outcomes = outcomes
	for _, o := range outcomes {
		switch o.Status {
		case models.RecordStatusInserted:
			summary.Inserted++
			if o.LabelSource == models.LabelSourceDefaulted {
				summary.Defaulted++
			}
		case models.RecordStatusDuplicate:
			summary.Duplicates++
		case models.RecordStatusRejected:
			summary.Rejected++
		}
	}

	log.Info("sync completed",
		logging.Int("fetched", summary.Fetched),
		logging.Int("inserted", summary.Inserted),
		logging.Int("duplicates", summary.Duplicates),
		logging.Int("rejected", summary.Rejected),
		logging.Int("defaulted", summary.Defaulted))
	return summary
}

// ingestOne handles a single record inside the batch transaction. Ids are
// checked first, so a stored id is a duplicate whatever its payload. Only
// store errors are returned; they abort the whole batch.
func (s *Syncer) ingestOne(ctx context.Context, tx metadatastore.TriageTx, r *RemoteRecord, log *logging.Logger) (models.RecordOutcome, error) {
	outcome := models.RecordOutcome{ID: r.ID}

	if r.ID == "" {
		reason := "missing id"
		if r.Invalid != "" {
			reason = r.Invalid
		}
		return s.reject(outcome, reason, log), nil
	}

	_, exists, err := tx.FindByID(ctx, r.ID)
	if err != nil {
		return outcome, fmt.Errorf("failed to look up %s: %w", r.ID, err)
	}
	if exists {
		outcome.Status = models.RecordStatusDuplicate
		return outcome, nil
	}

	if r.Invalid != "" {
		return s.reject(outcome, r.Invalid, log), nil
	}
	fv, err := r.Vitals.FeatureVector()
	if err != nil {
		return s.reject(outcome, err.Error(), log), nil
	}

	outcome.LabelSource = models.LabelSourcePredicted
	pred, err := s.predict(ctx, fv)
	if err != nil {
		outcome.Label = false
		outcome.LabelSource = models.LabelSourceDefaulted
		outcome.Reason = err.Error()
		log.Warn("prediction failed, label defaulted to false",
			logging.String("id", r.ID), logging.String("reason", outcome.Reason))
	} else {
		outcome.Label = pred.AtRisk
		outcome.Probability = pred.Probability
	}

	if err := tx.Insert(ctx, r.ToRecord(fv, outcome.Label, s.now().UTC())); err != nil {
		return outcome, err
	}
	outcome.Status = models.RecordStatusInserted
	return outcome, nil
}

func (s *Syncer) reject(outcome models.RecordOutcome, reason string, log *logging.Logger) models.RecordOutcome {
	outcome.Status = models.RecordStatusRejected
	outcome.Reason = reason
	log.Warn("rejected remote record", logging.String("id", outcome.ID), logging.String("reason", reason))
	return outcome
}

var errNoPredictor = errors.New("no risk predictor configured")

func (s *Syncer) predict(ctx context.Context, fv models.FeatureVector) (*models.RiskPrediction, error) {
	if s.predictor == nil {
		return nil, errNoPredictor
	}
	return s.predictor.Predict(ctx, fv)
}
