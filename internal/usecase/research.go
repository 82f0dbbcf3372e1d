package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/pkg/logger"
)

// ErrNoReport marks a job whose pipeline finished without a usable report.
var ErrNoReport = errors.New("no report generated")

// JobRunner executes one admitted job and returns its final artifact.
type JobRunner interface {
	Run(ctx context.Context, job domain.Job) (string, error)
}

// ResearcherDeps wires the pipeline into the research use case.
type ResearcherDeps struct {
	Executor *pipeline.Executor
	Logger   *slog.Logger
}

// Researcher runs the stage graph for a job and decides its outcome.
type Researcher struct {
	executor *pipeline.Executor
	logger   *slog.Logger
}

var _ JobRunner = (*Researcher)(nil)

// NewResearcher constructs the research use case.
func NewResearcher(deps ResearcherDeps) *Researcher {
	l := deps.Logger
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Researcher{executor: deps.Executor, logger: l}
}

// Run executes the graph. Only an executor failure or a missing report is an error.
func (r *Researcher) Run(ctx context.Context, job domain.Job) (string, error) {
	if r.executor == nil {
		return "", fmt.Errorf("researcher has no executor")
	}

	jobLogger := r.logger.With("job_id", job.ID, "company", job.Input.Company)
	ctx = logger.WithLogger(ctx, jobLogger)

	jobLogger.Info("research started")
	final, err := r.executor.Execute(ctx, domain.NewState(job.ID, job.Input))
	if err != nil {
		return "", fmt.Errorf("execute pipeline: %w", err)
	}

	for _, d := range final.Diagnostics {
		jobLogger.Warn("stage diagnostic", "stage", d.Stage, "message", d.Message)
	}

	report := strings.TrimSpace(final.Report)
	if report == "" {
		return "", ErrNoReport
	}

	jobLogger.Info("research finished",
		"diagnostics", len(final.Diagnostics),
		"references", len(final.References),
		"report_length", len(report),
	)
	return final.Report, nil
}
