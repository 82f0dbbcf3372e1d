package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/internal/ports"
)

var _ pipeline.Subscriber = (*Registry)(nil)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// JobObserver is told about every status change after it happened.
type JobObserver interface {
	JobChanged(ctx context.Context, job domain.Job)
}

// JobObserverFunc adapts a function to JobObserver.
type JobObserverFunc func(ctx context.Context, job domain.Job)

// JobChanged calls f.
func (f JobObserverFunc) JobChanged(ctx context.Context, job domain.Job) { f(ctx, job) }

// Registry owns job records and their lifecycle.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*domain.Job
	observers []JobObserver
	repo      ports.JobRepository
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// RegistryDeps wires optional collaborators.
type RegistryDeps struct {
	Repository ports.JobRepository
	Observers  []JobObserver
	Logger     *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(deps RegistryDeps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		jobs:      map[string]*domain.Job{},
		observers: deps.Observers,
		repo:      deps.Repository,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// AddObserver registers an observer for later transitions.
func (r *Registry) AddObserver(o JobObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Create stores a new queued job.
func (r *Registry) Create(ctx context.Context, input domain.JobInput) domain.Job {
	now := r.now()
	job := &domain.Job{
		ID:        r.newID(),
		Input:     input,
		Status:    domain.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	snapshot := *job
	r.mu.Unlock()

	r.notify(ctx, snapshot)
	return snapshot
}

// Get returns a job by id, falling back to the repository for pruned jobs.
func (r *Registry) Get(ctx context.Context, id string) (domain.Job, error) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	var snapshot domain.Job
	if ok {
		snapshot = *job
	}
	r.mu.RUnlock()
	if ok {
		return snapshot, nil
	}

	if r.repo != nil {
		stored, err := r.repo.GetJob(ctx, id)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, ports.ErrNotFound) {
			return domain.Job{}, fmt.Errorf("load job %s: %w", id, err)
		}
	}
	return domain.Job{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
}

// List returns in-memory jobs, newest first.
func (r *Registry) List() []domain.Job {
	r.mu.RLock()
	out := make([]domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// CountByStatus reports how many in-memory jobs are in each status.
func (r *Registry) CountByStatus() map[domain.JobStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[domain.JobStatus]int{}
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	return counts
}

// MarkRunning moves a queued job to running.
func (r *Registry) MarkRunning(ctx context.Context, id string) (domain.Job, error) {
	return r.transition(ctx, id, domain.JobRunning, func(*domain.Job) {})
}

// Complete stores the report of a running job.
func (r *Registry) Complete(ctx context.Context, id, report string) (domain.Job, error) {
	return r.transition(ctx, id, domain.JobCompleted, func(job *domain.Job) {
		job.Result = report
	})
}

// Fail stores the error summary of a queued or running job.
func (r *Registry) Fail(ctx context.Context, id, reason string) (domain.Job, error) {
	return r.transition(ctx, id, domain.JobFailed, func(job *domain.Job) {
		job.Error = reason
	})
}

// OnUpdate refreshes UpdatedAt of a running job on every progress event.
func (r *Registry) OnUpdate(u pipeline.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[u.JobID]; ok && job.Status == domain.JobRunning {
		job.UpdatedAt = r.now()
	}
}

// Prune drops terminal jobs last updated before now-maxAge and returns their ids.
func (r *Registry) Prune(maxAge time.Duration) []string {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned []string
	for id, job := range r.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			pruned = append(pruned, id)
		}
	}
	return pruned
}

func (r *Registry) transition(ctx context.Context, id string, to domain.JobStatus, mutate func(*domain.Job)) (domain.Job, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return domain.Job{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err := Transition(job.Status, to); err != nil {
		r.mu.Unlock()
		return domain.Job{}, fmt.Errorf("job %s: %w", id, err)
	}
	job.Status = to
	job.UpdatedAt = r.now()
	mutate(job)
	snapshot := *job
	r.mu.Unlock()

	r.notify(ctx, snapshot)
	return snapshot, nil
}

func (r *Registry) notify(ctx context.Context, job domain.Job) {
	r.mu.RLock()
	observers := append([]JobObserver(nil), r.observers...)
	r.mu.RUnlock()

	if r.repo != nil {
		if err := r.repo.SaveJob(ctx, job); err != nil {
			r.logger.Warn("persist job failed", "job_id", job.ID, "status", job.Status, "error", err)
		}
	}
	for _, o := range observers {
		o.JobChanged(ctx, job)
	}
}

// Transition validates a status change.
func Transition(from, to domain.JobStatus) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func isAllowedTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobQueued:
		return to == domain.JobRunning || to == domain.JobFailed
	case domain.JobRunning:
		return to == domain.JobCompleted || to == domain.JobFailed
	default:
		return false
	}
}
