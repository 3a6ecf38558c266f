package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mimir-aip/triage-ml/pkg/logging"
)

// Task is one unit of scheduled work
type Task func(ctx context.Context) error

// Scheduler runs named tasks on cron schedules
type Scheduler interface {
	Schedule(name, spec string, task Task) error
	Trigger(ctx context.Context, name string) error
	Start()
	Stop()
}

type job struct {
	name    string
	spec    string
	task    Task
	entryID cron.EntryID
	mu      sync.Mutex // serializes scheduled and triggered runs
}

// CronScheduler schedules tasks with robfig/cron. A job never overlaps with
// itself and a panicking job is recovered.
type CronScheduler struct {
	cron   *cron.Cron
	logger *logging.Logger

	mu   sync.Mutex
	jobs map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCronScheduler creates a new scheduler
func NewCronScheduler(logger *logging.Logger) *CronScheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With(logging.Component("scheduler"))
	cronLogger := cronLogAdapter{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		logger: logger,
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule registers task under name with a standard 5-field cron spec
func (s *CronScheduler) Schedule(name, spec string, task Task) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if task == nil {
		return fmt.Errorf("job %s has no task", name)
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[name]; ok {
		s.cron.Remove(existing.entryID)
	}
	j := &job{name: name, spec: spec, task: task}
	j.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.run(s.ctx, j, "scheduled") //nolint:errcheck // logged in run
	}))
	s.jobs[name] = j

	s.logger.Info("scheduled job",
		logging.String("job", name),
		logging.String("schedule", spec),
		logging.String("next_run", schedule.Next(time.Now()).UTC().Format(time.RFC3339)))
	return nil
}

// Trigger runs a registered job immediately and returns its error. It waits
// if the same job is already running.
func (s *CronScheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job not found: %s", name)
	}
	return s.run(ctx, j, "manual")
}

// Start starts the scheduler in the background
func (s *CronScheduler) Start() {
	s.cron.Start()
	s.logger.Info("job scheduler started", logging.Int("jobs", len(s.Jobs())))
}

// Stop stops scheduling new runs, cancels the context handed to running
// tasks, and waits for them to return.
func (s *CronScheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	s.logger.Info("job scheduler stopped")
}

// Jobs returns the registered job names
func (s *CronScheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

func (s *CronScheduler) run(ctx context.Context, j *job, trigger string) (err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	log := s.logger.With(logging.String("job", j.name), logging.String("trigger", trigger))
	start := time.Now()
	log.Info("executing job")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
		if err != nil {
			log.Error("job failed", err, logging.Duration("duration", time.Since(start)))
			return
		}
		log.Info("job completed", logging.Duration("duration", time.Since(start)))
	}()

	return j.task(ctx)
}

// cronLogAdapter routes robfig/cron's logr-style calls to our logger
type cronLogAdapter struct {
	logger *logging.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, kvFields(keysAndValues)...)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, err, kvFields(keysAndValues)...)
}

func kvFields(kv []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, logging.String(key, fmt.Sprint(kv[i+1])))
	}
	return fields
}
