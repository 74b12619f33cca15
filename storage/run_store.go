package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"insights-pipeline/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one line of the run history.
type RunSummary struct {
	ID          string
	Mode        models.RunMode
	Status      models.RunStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Domains     int
	Trained     int
}

// SQLiteRunStore keeps pipeline run records in a SQLite database.
type SQLiteRunStore struct {
	db *sql.DB
}

// OpenSQLiteRunStore opens (creating if needed) the database at path and
// applies pending migrations. Use ":memory:" for a private in-memory store.
func OpenSQLiteRunStore(ctx context.Context, path string) (*SQLiteRunStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	} else {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	s := &SQLiteRunStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the applied schema version.
func (s *SQLiteRunStore) MigrationVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite"); err != nil {
		return 0, fmt.Errorf("failed to set dialect: %w", err)
	}
	return goose.GetDBVersionContext(ctx, s.db)
}

// SaveRun stores run and its domain records, replacing an earlier save of
// the same id.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, run *models.PipelineRun) error {
	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var completed any
	if !run.CompletedAt.IsZero() {
		completed = run.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, mode, status, started_at, completed_at, bundle_path, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			bundle_path = excluded.bundle_path,
			record = excluded.record
	`, run.ID, string(run.Mode), string(run.Status), run.StartedAt.UTC().Format(time.RFC3339Nano),
		completed, run.BundlePath, string(record))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM domain_runs WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("clear domain runs: %w", err)
	}
	for _, d := range run.Domains {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO domain_runs (run_id, domain, status, rows_collected, rows_cleaned, model, best_candidate, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, string(d.Domain), string(d.Status), d.RowsCollected, d.RowsCleaned, d.Model, d.BestCandidate, d.Reason)
		if err != nil {
			return fmt.Errorf("save domain run %s/%s: %w", run.ID, d.Domain, err)
		}
	}
	return tx.Commit()
}

// GetRun returns the full record of one run.
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	var record string
	err := s.db.QueryRowContext(ctx, "SELECT record FROM pipeline_runs WHERE id = ?", id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	var run models.PipelineRun
	if err := json.Unmarshal([]byte(record), &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.mode, r.status, r.started_at, COALESCE(r.completed_at, ''),
		       COUNT(d.domain),
		       COALESCE(SUM(CASE WHEN d.status = 'trained' THEN 1 ELSE 0 END), 0)
		FROM pipeline_runs r
		LEFT JOIN domain_runs d ON d.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			sum                  RunSummary
			mode, status         string
			startedAt, completed string
		)
		if err := rows.Scan(&sum.ID, &mode, &status, &startedAt, &completed, &sum.Domains, &sum.Trained); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		sum.Mode = models.RunMode(mode)
		sum.Status = models.RunStatus(status)
		sum.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if completed != "" {
			sum.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}
