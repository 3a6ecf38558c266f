package metadatastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

const triageColumns = `id, patient_name, temperature, heart_rate, respiratory_rate,
	oxygen_saturation, weight, height, allergies, chronic_conditions,
	reason_for_visit, has_infarct_risk, ingested_at`

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS triage_records (
		id TEXT PRIMARY KEY,
		patient_name TEXT NOT NULL,
		temperature REAL NOT NULL,
		heart_rate REAL NOT NULL,
		respiratory_rate REAL NOT NULL,
		oxygen_saturation REAL NOT NULL,
		weight REAL NOT NULL,
		height REAL NOT NULL,
		allergies TEXT NOT NULL,
		chronic_conditions TEXT NOT NULL,
		reason_for_visit TEXT NOT NULL,
		has_infarct_risk BOOLEAN NOT NULL DEFAULT 0,
		ingested_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_triage_records_ingested ON triage_records(ingested_at, id);
	CREATE INDEX IF NOT EXISTS idx_triage_records_risk ON triage_records(has_infarct_risk);
`

// SQLStore implements TriageRepository over database/sql. It serves both
// SQLite and MySQL, which share ? placeholders.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore opens (creating if needed) the SQLite database at dbPath
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", models.ErrValidation)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writes are serialized by SQLite anyway
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to check journal mode: %w", err)
	}
	if journalMode != "wal" && journalMode != "delete" && journalMode != "memory" {
		db.Close()
		return nil, fmt.Errorf("unexpected journal mode: got %s", journalMode)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLStore{db: db, dialect: "sqlite"}, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// FindByID retrieves a record by external id
func (s *SQLStore) FindByID(ctx context.Context, id string) (*models.TriageRecord, bool, error) {
	return findByID(ctx, s.db, id)
}

// Insert stores a new record. An existing id is an error.
func (s *SQLStore) Insert(ctx context.Context, rec *models.TriageRecord) error {
	return insertRecord(ctx, s.db, rec)
}

// ListAll returns every record in ingestion order
func (s *SQLStore) ListAll(ctx context.Context) ([]*models.TriageRecord, error) {
	return s.list(ctx, `SELECT `+triageColumns+` FROM triage_records ORDER BY ingested_at, id`)
}

// ListAtRisk returns the records labeled at risk, in ingestion order
func (s *SQLStore) ListAtRisk(ctx context.Context) ([]*models.TriageRecord, error) {
	return s.list(ctx, `SELECT `+triageColumns+` FROM triage_records WHERE has_infarct_risk = ? ORDER BY ingested_at, id`, true)
}

// WithTx runs fn in a transaction, committing only if fn succeeds
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx TriageTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", models.ErrTransientIO, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", models.ErrTransientIO, err)
	}
	return nil
}

func (s *SQLStore) list(ctx context.Context, query string, args ...any) ([]*models.TriageRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) FindByID(ctx context.Context, id string) (*models.TriageRecord, bool, error) {
	return findByID(ctx, t.tx, id)
}

func (t *sqlTx) Insert(ctx context.Context, rec *models.TriageRecord) error {
	return insertRecord(ctx, t.tx, rec)
}

func findByID(ctx context.Context, q querier, id string) (*models.TriageRecord, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+triageColumns+` FROM triage_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to get triage record: %v", models.ErrTransientIO, err)
	}
	return rec, true, nil
}

func insertRecord(ctx context.Context, q querier, rec *models.TriageRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `INSERT INTO triage_records (`+triageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.TriageRecord, error) {
	var rec models.TriageRecord
	var ingestedAt int64
	err := row.Scan(
		&rec.ID, &rec.PatientName,
		&rec.Temperature, &rec.HeartRate, &rec.RespiratoryRate,
		&rec.OxygenSaturation, &rec.Weight, &rec.Height,
		&rec.Allergies, &rec.ChronicConditions, &rec.ReasonForVisit,
		&rec.HasInfarctRisk, &ingestedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.IngestedAt = time.UnixMilli(ingestedAt).UTC()
	return &rec, nil
}

// splitStatements breaks a schema script into single statements for drivers
// that reject multi-statement Exec
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Dialect returns "sqlite" or "mysql"
func (s *SQLStore) Dialect() string {
	return s.dialect
}
