package metadatastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

const mysqlSchema = `
	CREATE TABLE IF NOT EXISTS triage_records (
		id VARCHAR(64) COLLATE utf8mb4_bin NOT NULL PRIMARY KEY,
		patient_name VARCHAR(255) NOT NULL,
		temperature DOUBLE NOT NULL,
		heart_rate DOUBLE NOT NULL,
		respiratory_rate DOUBLE NOT NULL,
		oxygen_saturation DOUBLE NOT NULL,
		weight DOUBLE NOT NULL,
		height DOUBLE NOT NULL,
		allergies TEXT NOT NULL,
		chronic_conditions TEXT NOT NULL,
		reason_for_visit TEXT NOT NULL,
		has_infarct_risk BOOLEAN NOT NULL DEFAULT FALSE,
		ingested_at BIGINT NOT NULL,
		INDEX idx_triage_records_ingested (ingested_at, id),
		INDEX idx_triage_records_risk (has_infarct_risk)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
`

// NewMySQLStore connects to MySQL with a go-sql-driver DSN
// (user:pass@tcp(host:3306)/db) and applies the schema
func NewMySQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	mcfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid mysql dsn: %v", models.ErrValidation, err)
	}
	if mcfg.Params == nil {
		mcfg.Params = map[string]string{}
	}
	mcfg.Params["charset"] = "utf8mb4"

	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to connect to mysql: %v", models.ErrTransientIO, err)
	}

	for _, stmt := range splitStatements(mysqlSchema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &SQLStore{db: db, dialect: "mysql"}, nil
}
