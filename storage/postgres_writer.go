package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"insights-pipeline/models"
)

// PostgresWriter mirrors processed feature rows into PostgreSQL, one JSONB
// document per row, so they can be queried outside the pipeline.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := NewPostgresWriterFromDB(db)
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pw, nil
}

// NewPostgresWriterFromDB wraps an existing connection without migrating.
func NewPostgresWriterFromDB(db *sql.DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS feature_rows (
			id          BIGSERIAL   PRIMARY KEY,
			domain      VARCHAR(32) NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL,
			features    JSONB       NOT NULL,
			labels      JSONB       NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_feature_rows_domain ON feature_rows(domain, observed_at);
	`)
	return err
}

// WriteFeatures replaces every stored row of domain with the rows of t in a
// single transaction.
func (pw *PostgresWriter) WriteFeatures(ctx context.Context, domain models.Domain, t *models.Table) error {
	if t.Empty() {
		return nil
	}
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM feature_rows WHERE domain = $1", string(domain)); err != nil {
		return fmt.Errorf("postgres: clear %s: %w", domain, err)
	}

	const batchSize = 50
	for start := 0; start < t.Len(); start += batchSize {
		end := start + batchSize
		if end > t.Len() {
			end = t.Len()
		}
		if err := insertBatch(ctx, tx, domain, t, start, end); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, domain models.Domain, t *models.Table, start, end int) error {
	valueStrings := make([]string, 0, end-start)
	valueArgs := make([]any, 0, (end-start)*4)

	for i := start; i < end; i++ {
		features, err := json.Marshal(t.Row(i))
		if err != nil {
			return fmt.Errorf("postgres: encode row %d: %w", i, err)
		}
		labels, err := json.Marshal(t.Labels(i))
		if err != nil {
			return fmt.Errorf("postgres: encode labels %d: %w", i, err)
		}
		base := len(valueArgs)
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4))
		valueArgs = append(valueArgs, string(domain), t.Times[i], string(features), string(labels))
	}

	query := fmt.Sprintf(`
		INSERT INTO feature_rows (domain, observed_at, features, labels)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert batch: %w", err)
	}
	return nil
}

// ReadProcessed rebuilds the stored feature table of domain in timestamp
// order. It returns nil when the domain has no rows.
func (pw *PostgresWriter) ReadProcessed(ctx context.Context, domain models.Domain, timeColumn string) (*models.Table, error) {
	rows, err := pw.db.QueryContext(ctx, `
		SELECT observed_at, features, labels
		FROM feature_rows
		WHERE domain = $1
		ORDER BY observed_at, id
	`, string(domain))
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch %s: %w", domain, err)
	}
	defer rows.Close()

	var t *models.Table
	for rows.Next() {
		var (
			observedAt  time.Time
			featuresRaw []byte
			labelsRaw   []byte
			features    map[string]float64
			labels      map[string]string
		)
		if err := rows.Scan(&observedAt, &featuresRaw, &labelsRaw); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		if err := json.Unmarshal(featuresRaw, &features); err != nil {
			return nil, fmt.Errorf("postgres: decode features: %w", err)
		}
		if err := json.Unmarshal(labelsRaw, &labels); err != nil {
			return nil, fmt.Errorf("postgres: decode labels: %w", err)
		}
		if t == nil {
			t = models.NewTable(timeColumn)
		}
		t.AppendRow(observedAt, features, labels)
	}
	return t, rows.Err()
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
