package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/ports"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "jobs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLRepositoryUpsertsJobs(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	created := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)
	job := domain.Job{
		ID:        "job-1",
		Input:     domain.JobInput{Company: "Acme", URL: "https://acme.com", RecordID: "rec1"},
		Status:    domain.JobQueued,
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, repo.SaveJob(ctx, job))

	job.Status = domain.JobCompleted
	job.Result = "# Acme Research Report\n"
	job.UpdatedAt = created.Add(time.Minute)
	require.NoError(t, repo.SaveJob(ctx, job))

	got, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, job, got)
}

func TestSQLRepositoryMissingJob(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.EnsureSchema(context.Background()))
}
