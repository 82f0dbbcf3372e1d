package usecase

import (
	"context"
	"io"
	"log/slog"
	"time"

	"CompanyResearcher/internal/ports"
)

// RetentionDeps wires the periodic pruning of finished jobs.
type RetentionDeps struct {
	Driver   ports.Scheduler
	Registry *Registry
	MaxAge   time.Duration
	// Forget is called for every pruned job id, e.g. to drop progress state.
	Forget func(jobID string)
	Logger *slog.Logger
}

// Retention drops terminal jobs from memory on every tick of the driver.
type Retention struct {
	driver   ports.Scheduler
	registry *Registry
	maxAge   time.Duration
	forget   func(string)
	logger   *slog.Logger
}

// NewRetention returns a helper to start/stop recurring pruning.
func NewRetention(deps RetentionDeps) *Retention {
	l := deps.Logger
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Retention{
		driver:   deps.Driver,
		registry: deps.Registry,
		maxAge:   deps.MaxAge,
		forget:   deps.Forget,
		logger:   l,
	}
}

// Start registers the prune job with the driver.
func (r *Retention) Start(ctx context.Context) error {
	if r.driver == nil || r.registry == nil || r.maxAge <= 0 {
		return nil
	}
	return r.driver.Start(ctx, func(context.Context) { r.Prune() })
}

// Prune runs one pass and returns the dropped ids.
func (r *Retention) Prune() []string {
	pruned := r.registry.Prune(r.maxAge)
	if r.forget != nil {
		for _, id := range pruned {
			r.forget(id)
		}
	}
	if len(pruned) > 0 {
		r.logger.Info("pruned finished jobs", "count", len(pruned))
	}
	return pruned
}

// Stop gracefully tears down the underlying driver.
func (r *Retention) Stop(ctx context.Context) error {
	if r.driver == nil {
		return nil
	}
	return r.driver.Stop(ctx)
}
