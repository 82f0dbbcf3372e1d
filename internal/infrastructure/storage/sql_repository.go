package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	_ "modernc.org/sqlite"            // SQLite driver.

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/ports"
)

const jobsTable = "research_jobs"

const schema = `CREATE TABLE IF NOT EXISTS research_jobs (
	id         TEXT PRIMARY KEY,
	company    TEXT NOT NULL,
	input      TEXT NOT NULL,
	status     TEXT NOT NULL,
	result     TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLRepository persists job snapshots in Postgres or SQLite.
type SQLRepository struct {
	db   *sql.DB
	stbl sq.StatementBuilderType
}

var _ ports.JobRepository = (*SQLRepository)(nil)

// NewSQLRepository wires an open database; placeholder must match its driver.
func NewSQLRepository(db *sql.DB, placeholder sq.PlaceholderFormat) *SQLRepository {
	return &SQLRepository{db: db, stbl: sq.StatementBuilder.PlaceholderFormat(placeholder)}
}

// Open picks the driver from the DSN: sqlite:// and file: go to SQLite, everything else to Postgres.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*SQLRepository, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"):
		return OpenSQLite(ctx, dsn)
	default:
		return OpenPostgres(ctx, dsn, logger)
	}
}

// OpenPostgres connects through pgx and waits for the server to answer.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*SQLRepository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Minute
	attempt := 1
	err = backoff.Retry(func() error {
		if err := db.PingContext(ctx); err != nil {
			if logger != nil {
				logger.Info("waiting for the database", "attempt", attempt)
			}
			attempt++
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo := NewSQLRepository(db, sq.Dollar)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenSQLite opens an embedded database, mostly for development and tests.
func OpenSQLite(ctx context.Context, dsn string) (*SQLRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	repo := NewSQLRepository(db, sq.Question)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// EnsureSchema creates the jobs table when missing.
func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// SaveJob upserts the latest snapshot of a job.
func (r *SQLRepository) SaveJob(ctx context.Context, job domain.Job) error {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("marshal job input: %w", err)
	}

	query, args, err := r.stbl.
		Insert(jobsTable).
		Columns("id", "company", "input", "status", "result", "error", "created_at", "updated_at").
		Values(job.ID, job.Input.Company, string(input), string(job.Status), job.Result, job.Error,
			formatTime(job.CreatedAt), formatTime(job.UpdatedAt)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads a job snapshot; missing ids return ports.ErrNotFound.
func (r *SQLRepository) GetJob(ctx context.Context, id string) (domain.Job, error) {
	query, args, err := r.stbl.
		Select("id", "input", "status", "result", "error", "created_at", "updated_at").
		From(jobsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Job{}, fmt.Errorf("build select: %w", err)
	}

	var (
		job                  domain.Job
		input, status        string
		createdAt, updatedAt string
	)
	err = r.db.QueryRowContext(ctx, query, args...).
		Scan(&job.ID, &input, &status, &job.Result, &job.Error, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("select job %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(input), &job.Input); err != nil {
		return domain.Job{}, fmt.Errorf("decode job input: %w", err)
	}
	job.Status = domain.JobStatus(status)
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Job{}, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// Timestamps are stored as RFC 3339 text in both drivers.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}
