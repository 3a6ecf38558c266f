package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/triage-ml/pkg/config"
	"github.com/mimir-aip/triage-ml/pkg/dataset"
	"github.com/mimir-aip/triage-ml/pkg/ingest"
	"github.com/mimir-aip/triage-ml/pkg/metadatastore"
	"github.com/mimir-aip/triage-ml/pkg/mlmodel"
	"github.com/mimir-aip/triage-ml/pkg/models"
	"github.com/mimir-aip/triage-ml/pkg/scheduler"
	"github.com/mimir-aip/triage-ml/pkg/storage"
)

// remoteSource serves a mutable list of upstream records
type remoteSource struct {
	mu      sync.Mutex
	records []map[string]any
}

func (s *remoteSource) add(id string, fv models.FeatureVector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, map[string]any{
		"id":                     id,
		"nombrePaciente":         "Paciente " + id,
		"temperatura":            fv[0],
		"frecuenciaCardiaca":     fv[1],
		"frecuenciaRespiratoria": fv[2],
		"saturacionOxigeno":      fv[3],
		"peso":                   fv[4],
		"estatura":               fv[5],
	})
}

func (s *remoteSource) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.records)
}

type testEnv struct {
	service  *Service
	store    *metadatastore.SQLStore
	risk     *mlmodel.RiskService
	clusters *mlmodel.ClusterService
	remote   *remoteSource
}

func setupTestService(t *testing.T) *testEnv {
	t.Helper()

	store, err := metadatastore.NewSQLiteStore(filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	artifacts, err := storage.NewFileArtifactStore(t.TempDir(), storage.DefaultRetain)
	require.NoError(t, err)

	training := models.DefaultTrainingConfig()
	risk := mlmodel.NewRiskService(dataset.NewProvider(store, nil), store, artifacts, training, nil, nil)
	clusters := mlmodel.NewClusterService(store, artifacts, training, nil, nil)

	remote := &remoteSource{}
	srv := httptest.NewServer(remote)
	t.Cleanup(srv.Close)

	fetcher, err := ingest.NewHTTPFetcher(config.RemoteConfig{URL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	syncer := ingest.NewSyncer(fetcher, store, risk, nil, nil)

	return &testEnv{
		service:  NewService(syncer, risk, clusters, nil),
		store:    store,
		risk:     risk,
		clusters: clusters,
		remote:   remote,
	}
}

func TestPipeline_SyncRetrainCycle(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t)
	atRisk := dataset.BootstrapAtRiskVector()
	normal := dataset.BootstrapNormalVector()

	// no model yet: labels default to false
	env.remote.add("100", normal)
	require.NoError(t, env.service.SyncJob(ctx))
	rec, ok, err := env.store.FindByID(ctx, "100")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, rec.HasInfarctRisk)

	// one stored record is fewer than the configured clusters
	err = env.service.RetrainAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)

	// the risk classifier still trained
	pred, err := env.risk.Predict(ctx, atRisk)
	require.NoError(t, err)
	assert.True(t, pred.AtRisk)

	env.remote.add("101", atRisk)
	normal[1] += 4
	env.remote.add("102", normal)
	normal[4] -= 6
	env.remote.add("103", normal)
	require.NoError(t, env.service.SyncJob(ctx))

	rec, ok, err = env.store.FindByID(ctx, "101")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.HasInfarctRisk, "labelled by the trained classifier")

	require.NoError(t, env.service.RetrainAll(ctx))

	assignments, err := env.clusters.AssignAll(ctx)
	require.NoError(t, err)
	assert.Len(t, assignments, 4)
}

type stubSyncer struct{ summary *models.SyncSummary }

func (s *stubSyncer) Sync(context.Context) *models.SyncSummary { return s.summary }

type stubTrainer struct {
	outcome *models.TrainingOutcome
	err     error
	calls   int
}

func (s *stubTrainer) TrainFromStore(context.Context) (*models.TrainingOutcome, error) {
	s.calls++
	return s.outcome, s.err
}

func (s *stubTrainer) TrainDefault(context.Context) (*models.TrainingOutcome, error) {
	s.calls++
	return s.outcome, s.err
}

func TestSyncJob_FailedSummaryIsError(t *testing.T) {
	for _, status := range []models.SyncStatus{models.SyncStatusRolledBack, models.SyncStatusFetchFailed} {
		svc := NewService(&stubSyncer{summary: &models.SyncSummary{RunID: "run-1", Status: status, Error: "boom"}}, nil, nil, nil)
		err := svc.SyncJob(context.Background())
		require.Error(t, err, status)
		assert.Contains(t, err.Error(), string(status))
		assert.Contains(t, err.Error(), "boom")
	}

	svc := NewService(&stubSyncer{summary: &models.SyncSummary{Status: models.SyncStatusCompleted}}, nil, nil, nil)
	assert.NoError(t, svc.SyncJob(context.Background()))

	assert.Error(t, NewService(nil, nil, nil, nil).SyncJob(context.Background()))
}

func TestRetrainAll_RiskFailureStillTrainsClusters(t *testing.T) {
	riskErr := errors.New("store unavailable")
	risk := &stubTrainer{err: riskErr}
	clusters := &stubTrainer{outcome: &models.TrainingOutcome{Kind: models.ModelKindPatientCluster, Success: true}}

	err := NewService(nil, risk, clusters, nil).RetrainAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, riskErr)
	assert.Equal(t, 1, clusters.calls)
}

type recordingScheduler struct {
	specs map[string]string
	err   error
}

func (r *recordingScheduler) Schedule(name, spec string, _ scheduler.Task) error {
	if r.err != nil {
		return r.err
	}
	if r.specs == nil {
		r.specs = map[string]string{}
	}
	r.specs[name] = spec
	return nil
}

func (r *recordingScheduler) Trigger(context.Context, string) error { return nil }
func (r *recordingScheduler) Start()                                {}
func (r *recordingScheduler) Stop()                                 {}

func TestRegister(t *testing.T) {
	cfg := config.Default().Schedule
	syncer := &stubSyncer{summary: &models.SyncSummary{Status: models.SyncStatusCompleted}}

	sched := &recordingScheduler{}
	require.NoError(t, NewService(syncer, nil, nil, nil).Register(sched, cfg))
	assert.Equal(t, map[string]string{JobSync: "*/15 * * * *", JobRetrain: "0 2 * * *"}, sched.specs)

	sched = &recordingScheduler{}
	require.NoError(t, NewService(nil, nil, nil, nil).Register(sched, cfg))
	assert.Equal(t, map[string]string{JobRetrain: "0 2 * * *"}, sched.specs)

	sched = &recordingScheduler{}
	cfg.Enabled = false
	require.NoError(t, NewService(syncer, nil, nil, nil).Register(sched, cfg))
	assert.Empty(t, sched.specs)
}

func TestRegister_WithCronScheduler(t *testing.T) {
	sched := scheduler.NewCronScheduler(nil)
	svc := NewService(nil, &stubTrainer{outcome: &models.TrainingOutcome{Success: true}}, nil, nil)
	require.NoError(t, svc.Register(sched, config.Default().Schedule))
	assert.NoError(t, sched.Trigger(context.Background(), JobRetrain))
}
