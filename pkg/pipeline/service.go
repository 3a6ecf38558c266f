package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/mimir-aip/triage-ml/pkg/config"
	"github.com/mimir-aip/triage-ml/pkg/logging"
	"github.com/mimir-aip/triage-ml/pkg/models"
	"github.com/mimir-aip/triage-ml/pkg/scheduler"
)

// Job names used with the scheduler
const (
	JobSync    = "sync"
	JobRetrain = "retrain"
)

// SyncRunner runs one ingestion pass
type SyncRunner interface {
	Sync(ctx context.Context) *models.SyncSummary
}

// RiskTrainer retrains the risk classifier from the merged dataset
type RiskTrainer interface {
	TrainFromStore(ctx context.Context) (*models.TrainingOutcome, error)
}

// ClusterTrainer retrains the patient cluster model with the configured k
type ClusterTrainer interface {
	TrainDefault(ctx context.Context) (*models.TrainingOutcome, error)
}

// Service composes ingestion and training into scheduled jobs
type Service struct {
	syncer   SyncRunner
	risk     RiskTrainer
	clusters ClusterTrainer
	logger   *logging.Logger
}

// NewService creates a new pipeline service. syncer may be nil when no
// remote source is configured.
func NewService(syncer SyncRunner, risk RiskTrainer, clusters ClusterTrainer, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		syncer:   syncer,
		risk:     risk,
		clusters: clusters,
		logger:   logger.With(logging.Component("pipeline")),
	}
}

// SyncJob runs the ingestor. A summary that did not complete is returned as
// an error.
func (s *Service) SyncJob(ctx context.Context) error {
	if s.syncer == nil {
		return fmt.Errorf("no remote source configured")
	}
	summary := s.syncer.Sync(ctx)
	if summary.Succeeded() {
		return nil
	}
	return fmt.Errorf("sync run %s %s: %s", summary.RunID, summary.Status, summary.Error)
}

// RetrainAll retrains the risk classifier, then the cluster model. A failing
// step does not prevent the next one.
func (s *Service) RetrainAll(ctx context.Context) error {
	var errs []error

	if s.risk != nil {
		outcome, err := s.risk.TrainFromStore(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to train risk classifier: %w", err))
		} else {
			s.logOutcome(outcome)
		}
	}

	if s.clusters != nil {
		outcome, err := s.clusters.TrainDefault(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to train patient clusters: %w", err))
		} else {
			s.logOutcome(outcome)
		}
	}

	return errors.Join(errs...)
}

// Register adds the sync and retrain jobs to sched. Nothing is registered
// when scheduling is disabled; the sync job is skipped without a syncer.
func (s *Service) Register(sched scheduler.Scheduler, cfg config.ScheduleConfig) error {
	if !cfg.Enabled {
		s.logger.Info("scheduling disabled")
		return nil
	}
	if s.syncer != nil {
		if err := sched.Schedule(JobSync, cfg.SyncCron, s.SyncJob); err != nil {
			return err
		}
	} else {
		s.logger.Warn("no remote source configured, sync job not scheduled")
	}
	return sched.Schedule(JobRetrain, cfg.RetrainCron, s.RetrainAll)
}

func (s *Service) logOutcome(outcome *models.TrainingOutcome) {
	if outcome == nil {
		return
	}
	fields := []logging.Field{
		logging.String("kind", string(outcome.Kind)),
		logging.Int("records", outcome.Records),
		logging.Bool("success", outcome.Success),
	}
	if outcome.Version != "" {
		fields = append(fields, logging.String("version", outcome.Version))
	}
	if outcome.Success {
		s.logger.Info("model retrained", fields...)
		return
	}
	s.logger.Warn("model not retrained: "+outcome.Message, fields...)
}
