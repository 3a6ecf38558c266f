package metadatastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS triage_records (
		id VARCHAR(64) PRIMARY KEY,
		patient_name TEXT NOT NULL,
		temperature DOUBLE PRECISION NOT NULL,
		heart_rate DOUBLE PRECISION NOT NULL,
		respiratory_rate DOUBLE PRECISION NOT NULL,
		oxygen_saturation DOUBLE PRECISION NOT NULL,
		weight DOUBLE PRECISION NOT NULL,
		height DOUBLE PRECISION NOT NULL,
		allergies TEXT NOT NULL,
		chronic_conditions TEXT NOT NULL,
		reason_for_visit TEXT NOT NULL,
		has_infarct_risk BOOLEAN NOT NULL DEFAULT FALSE,
		ingested_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_triage_records_ingested ON triage_records (ingested_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_triage_records_risk ON triage_records (has_infarct_risk)`,
}

// PostgresStore persists triage records in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStore connects to PostgreSQL, applies the schema, and returns a ready store
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", models.ErrTransientIO, err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

// Close shuts down the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// FindByID retrieves a record by external id
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.TriageRecord, bool, error) {
	return pgFindByID(ctx, s.pool, id)
}

// Insert stores a new record
func (s *PostgresStore) Insert(ctx context.Context, rec *models.TriageRecord) error {
	return pgInsert(ctx, s.pool, rec)
}

// ListAll returns every record in ingestion order
func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.TriageRecord, error) {
	return s.list(ctx, `SELECT `+triageColumns+` FROM triage_records ORDER BY ingested_at, id`)
}

// ListAtRisk returns the records labeled at risk
func (s *PostgresStore) ListAtRisk(ctx context.Context) ([]*models.TriageRecord, error) {
	return s.list(ctx, `SELECT `+triageColumns+` FROM triage_records WHERE has_infarct_risk ORDER BY ingested_at, id`)
}

// WithTx runs fn in a transaction, committing only if fn succeeds
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx TriageTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", models.ErrTransientIO, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", models.ErrTransientIO, err)
	}
	return nil
}

func (s *PostgresStore) list(ctx context.Context, query string) ([]*models.TriageRecord, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list triage records: %v", models.ErrTransientIO, err)
	}
	defer rows.Close()

	var records []*models.TriageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan triage record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate triage records: %v", models.ErrTransientIO, err)
	}
	return records, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindByID(ctx context.Context, id string) (*models.TriageRecord, bool, error) {
	return pgFindByID(ctx, t.tx, id)
}

func (t *pgTx) Insert(ctx context.Context, rec *models.TriageRecord) error {
	return pgInsert(ctx, t.tx, rec)
}

func pgFindByID(ctx context.Context, q pgQuerier, id string) (*models.TriageRecord, bool, error) {
	rec, err := scanRecord(q.QueryRow(ctx, `SELECT `+triageColumns+` FROM triage_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to get triage record: %v", models.ErrTransientIO, err)
	}
	return rec, true, nil
}

func pgInsert(ctx context.Context, q pgQuerier, rec *models.TriageRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `INSERT INTO triage_records (`+triageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.PatientName,
		rec.Temperature, rec.HeartRate, rec.RespiratoryRate,
		rec.OxygenSaturation, rec.Weight, rec.Height,
		rec.Allergies, rec.ChronicConditions, rec.ReasonForVisit,
		rec.HasInfarctRisk, rec.IngestedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert triage record %s: %w", rec.ID, err)
	}
	return nil
}
