package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"CompanyResearcher/internal/domain"
)

var (
	// ErrInvalidInput is returned for submissions without a company name.
	ErrInvalidInput = errors.New("company name is required")
	// ErrShuttingDown is returned once Shutdown was called.
	ErrShuttingDown = errors.New("admission is shutting down")
)

// Admission gates how many jobs may execute their pipeline at once.
type Admission struct {
	sem      *semaphore.Weighted
	capacity int
	registry *Registry
	runner   JobRunner
	logger   *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	wg      sync.WaitGroup
	closed  bool
}

// AdmissionDeps wires the admission controller.
type AdmissionDeps struct {
	Capacity int
	Registry *Registry
	Runner   JobRunner
	Logger   *slog.Logger
}

// NewAdmission builds a controller; capacity defaults to 5.
func NewAdmission(deps AdmissionDeps) *Admission {
	capacity := deps.Capacity
	if capacity <= 0 {
		capacity = 5
	}
	l := deps.Logger
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Admission{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		registry: deps.Registry,
		runner:   deps.Runner,
		logger:   l,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Capacity returns the number of concurrent slots.
func (a *Admission) Capacity() int {
	return a.capacity
}

// Submit registers a queued job and returns immediately; a worker runs it once a slot frees up.
func (a *Admission) Submit(ctx context.Context, input domain.JobInput) (domain.Job, error) {
	input = input.Normalize()
	if input.Company == "" {
		return domain.Job{}, ErrInvalidInput
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return domain.Job{}, ErrShuttingDown
	}

	job := a.registry.Create(ctx, input)
	a.logger.Info("job queued", "job_id", job.ID, "company", input.Company)

	a.wg.Add(1)
	go a.work(job)
	return job, nil
}

func (a *Admission) work(job domain.Job) {
	defer a.wg.Done()
	ctx := a.baseCtx
	bookkeeping := context.WithoutCancel(ctx)

	if err := a.sem.Acquire(ctx, 1); err != nil {
		a.finish(bookkeeping, job.ID, "", fmt.Errorf("admission cancelled: %w", err))
		return
	}
	defer a.sem.Release(1)
	if err := ctx.Err(); err != nil {
		a.finish(bookkeeping, job.ID, "", fmt.Errorf("admission cancelled: %w", err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			a.finish(bookkeeping, job.ID, "", fmt.Errorf("panic: %v", r))
		}
	}()

	running, err := a.registry.MarkRunning(bookkeeping, job.ID)
	if err != nil {
		a.logger.Error("cannot start job", "job_id", job.ID, "error", err)
		return
	}
	a.logger.Info("job running", "job_id", job.ID)

	report, err := a.runner.Run(ctx, running)
	a.finish(bookkeeping, job.ID, report, err)
}

func (a *Admission) finish(ctx context.Context, id, report string, runErr error) {
	var err error
	if runErr != nil {
		_, err = a.registry.Fail(ctx, id, runErr.Error())
		a.logger.Warn("job failed", "job_id", id, "error", runErr)
	} else {
		_, err = a.registry.Complete(ctx, id, report)
		a.logger.Info("job completed", "job_id", id)
	}
	if err != nil {
		a.logger.Error("cannot finish job", "job_id", id, "error", err)
	}
}

// Shutdown stops accepting jobs and waits for workers. When ctx expires first, in-flight
// and queued jobs are cancelled and fail.
func (a *Admission) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-done
		return ctx.Err()
	}
}
