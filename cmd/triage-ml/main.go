package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mimir-aip/triage-ml/pkg/config"
	"github.com/mimir-aip/triage-ml/pkg/dataset"
	"github.com/mimir-aip/triage-ml/pkg/ingest"
	"github.com/mimir-aip/triage-ml/pkg/logging"
	"github.com/mimir-aip/triage-ml/pkg/metadatastore"
	"github.com/mimir-aip/triage-ml/pkg/mlmodel"
	"github.com/mimir-aip/triage-ml/pkg/pipeline"
	"github.com/mimir-aip/triage-ml/pkg/scheduler"
	"github.com/mimir-aip/triage-ml/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	runOnce := flag.String("run", "", "run one job (sync or retrain) and exit")
	flag.Parse()

	if err := run(*configPath, *runOnce); err != nil {
		fmt.Fprintf(os.Stderr, "triage-ml: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, runOnce string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(os.Stdout, cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("starting triage-ml", logging.String("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := metadatastore.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer store.Close()
	logger.Info("opened triage store", logging.String("driver", cfg.Store.Driver))

	artifacts, err := storage.Open(ctx, cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	logger.Info("opened artifact store", logging.String("backend", cfg.Artifacts.Backend))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	modelMetrics := mlmodel.NewMetrics(reg)
	ingestMetrics := ingest.NewMetrics(reg)

	risk := mlmodel.NewRiskService(dataset.NewProvider(store, logger), store, artifacts, cfg.Training, logger, modelMetrics)
	clusters := mlmodel.NewClusterService(store, artifacts, cfg.Training, logger, modelMetrics)

	var syncer pipeline.SyncRunner
	if cfg.Remote.URL != "" {
		fetcher, err := ingest.NewHTTPFetcher(cfg.Remote)
		if err != nil {
			return fmt.Errorf("failed to create remote fetcher: %w", err)
		}
		syncer = ingest.NewSyncer(fetcher, store, risk, logger, ingestMetrics)
	}
	jobs := pipeline.NewService(syncer, risk, clusters, logger)

	if runOnce != "" {
		return runJob(ctx, jobs, runOnce)
	}

	sched := scheduler.NewCronScheduler(logger)
	if err := jobs.Register(sched, cfg.Schedule); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}

	if cfg.Schedule.RunOnStart {
		for _, name := range []string{pipeline.JobSync, pipeline.JobRetrain} {
			if name == pipeline.JobSync && syncer == nil {
				continue
			}
			// failures are logged by the scheduler; startup continues
			_ = sched.Trigger(ctx, name)
		}
	}

	sched.Start()

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", logging.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("triage-ml started")
	select {
	case <-ctx.Done():
		logger.Info("shutting down triage-ml")
	case err = <-serverErr:
		logger.Error("metrics server failed", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("metrics server shutdown", logging.Err(shutdownErr))
	}
	sched.Stop()
	return err
}

func runJob(ctx context.Context, jobs *pipeline.Service, name string) error {
	switch name {
	case pipeline.JobSync:
		return jobs.SyncJob(ctx)
	case pipeline.JobRetrain:
		return jobs.RetrainAll(ctx)
	default:
		return fmt.Errorf("unknown job %q", name)
	}
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
