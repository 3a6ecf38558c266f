package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/mimir-aip/triage-ml/pkg/logging"
	"github.com/mimir-aip/triage-ml/pkg/models"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "TRIAGE_"

// Config holds the application configuration
type Config struct {
	Environment string                `yaml:"environment" env:"ENVIRONMENT"`
	MetricsAddr string                `yaml:"metrics_addr" env:"METRICS_ADDR"`
	Logging     logging.Config        `yaml:"logging" envPrefix:"LOG_"`
	Store       StoreConfig           `yaml:"store" envPrefix:"STORE_"`
	Artifacts   ArtifactsConfig       `yaml:"artifacts" envPrefix:"ARTIFACTS_"`
	Remote      RemoteConfig          `yaml:"remote" envPrefix:"REMOTE_"`
	Training    models.TrainingConfig `yaml:"training" envPrefix:"TRAINING_"`
	Schedule    ScheduleConfig        `yaml:"schedule" envPrefix:"SCHEDULE_"`
}

// StoreConfig selects the relational backend
type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn" env:"DSN"`       // file path for sqlite
}

// ArtifactsConfig selects where trained models are persisted
type ArtifactsConfig struct {
	Backend  string `yaml:"backend" env:"BACKEND"` // file, s3
	Dir      string `yaml:"dir" env:"DIR"`
	Bucket   string `yaml:"bucket" env:"BUCKET"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
	Region   string `yaml:"region" env:"REGION"`
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"` // S3-compatible endpoint, path-style when set
	Retain   int    `yaml:"retain" env:"RETAIN"`
}

// RemoteConfig describes the upstream triage source
type RemoteConfig struct {
	URL     string            `yaml:"url" env:"URL"`
	Method  string            `yaml:"method" env:"METHOD"` // GET (REST) or POST (GraphQL)
	Query   string            `yaml:"query" env:"QUERY"`
	Timeout time.Duration     `yaml:"timeout" env:"TIMEOUT"`
	Headers map[string]string `yaml:"headers" env:"HEADERS"`
}

// ScheduleConfig holds the cron specs for the background jobs
type ScheduleConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	SyncCron    string `yaml:"sync_cron" env:"SYNC_CRON"`
	RetrainCron string `yaml:"retrain_cron" env:"RETRAIN_CRON"`
	RunOnStart  bool   `yaml:"run_on_start" env:"RUN_ON_START"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Environment: "development",
		MetricsAddr: ":9090",
		Logging: logging.Config{
			Level:   "info",
			Format:  "text",
			Service: "triage-ml",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "data/triage.db",
		},
		Artifacts: ArtifactsConfig{
			Backend: "file",
			Dir:     "data/artifacts",
			Prefix:  "triage-ml",
			Retain:  5,
		},
		Remote: RemoteConfig{
			Method:  "GET",
			Timeout: 30 * time.Second,
		},
		Training: models.DefaultTrainingConfig(),
		Schedule: ScheduleConfig{
			Enabled:     true,
			SyncCron:    "*/15 * * * *",
			RetrainCron: "0 2 * * *",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// TRIAGE_-prefixed environment variables, in that order
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.Remote.Method = strings.ToUpper(cfg.Remote.Method)
	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)
	cfg.Artifacts.Backend = strings.ToLower(cfg.Artifacts.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.format %q (must be text or json)", c.Logging.Format))
	}

	switch c.Store.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("invalid store.driver %q (must be sqlite, mysql or postgres)", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}

	switch c.Artifacts.Backend {
	case "file":
		if c.Artifacts.Dir == "" {
			errs = append(errs, errors.New("artifacts.dir is required for the file backend"))
		}
	case "s3":
		if c.Artifacts.Bucket == "" {
			errs = append(errs, errors.New("artifacts.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid artifacts.backend %q (must be file or s3)", c.Artifacts.Backend))
	}
	if c.Artifacts.Retain < 1 {
		errs = append(errs, fmt.Errorf("invalid artifacts.retain %d (must be at least 1)", c.Artifacts.Retain))
	}

	if c.Remote.URL != "" {
		if u, err := url.Parse(c.Remote.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid remote.url %q", c.Remote.URL))
		}
	}
	switch c.Remote.Method {
	case "GET", "POST":
	default:
		errs = append(errs, fmt.Errorf("invalid remote.method %q (must be GET or POST)", c.Remote.Method))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}

	if err := c.Training.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Schedule.Enabled {
		if _, err := cron.ParseStandard(c.Schedule.SyncCron); err != nil {
			errs = append(errs, fmt.Errorf("invalid schedule.sync_cron %q: %w", c.Schedule.SyncCron, err))
		}
		if _, err := cron.ParseStandard(c.Schedule.RetrainCron); err != nil {
			errs = append(errs, fmt.Errorf("invalid schedule.retrain_cron %q: %w", c.Schedule.RetrainCron, err))
		}
	}

	return errors.Join(errs...)
}
