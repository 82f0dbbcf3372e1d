package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/pkg/logger"
)

// EndStage is reported once after the last group finished.
const EndStage = "__end__"

// Reporter receives a notification after every finished stage.
type Reporter interface {
	Report(jobID, stage string, keys []string)
}

// StageObserver records per-stage timings.
type StageObserver interface {
	ObserveStage(stage string, elapsed time.Duration, ok bool)
}

// Executor walks a Graph group by group.
type Executor struct {
	graph    *Graph
	reporter Reporter
	observer StageObserver
}

// Option configures an Executor.
type Option func(*Executor)

// WithReporter sets the progress reporter.
func WithReporter(r Reporter) Option {
	return func(e *Executor) { e.reporter = r }
}

// WithObserver sets the stage timing observer.
func WithObserver(o StageObserver) Option {
	return func(e *Executor) { e.observer = o }
}

// NewExecutor binds options to a graph.
func NewExecutor(graph *Graph, opts ...Option) *Executor {
	e := &Executor{graph: graph}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type outcome struct {
	stage   string
	result  Result
	elapsed time.Duration
}

// Execute runs every stage and returns the final state. An error means the executor
// itself could not proceed; stage failures only show up as diagnostics.
func (e *Executor) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	log := logger.FromContext(ctx)

	for _, group := range e.graph.groups {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("execute %v: %w", group, err)
		}

		snapshot := state.Clone()
		p := pool.NewWithResults[outcome]()
		for _, name := range group {
			st := e.graph.stages[name]
			p.Go(func() outcome {
				stageCtx := logger.With(ctx, "stage", st.Name)
				start := time.Now()
				res := st.invoke(stageCtx, snapshot.Clone())
				return outcome{stage: st.Name, result: res, elapsed: time.Since(start)}
			})
		}
		outcomes := p.Wait()

		sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].stage < outcomes[j].stage })
		for _, out := range outcomes {
			update := out.result.Update
			if !out.result.OK {
				msg := out.result.Diagnostic
				if msg == "" {
					msg = "stage reported failure"
				}
				update.Diagnostics = append(update.Diagnostics, domain.Diagnostic{Stage: out.stage, Message: msg})
				log.Warn("stage degraded", "stage", out.stage, "diagnostic", msg)
			}
			if err := state.Apply(update); err != nil {
				return state, fmt.Errorf("merge %s output: %w", out.stage, err)
			}
			if e.observer != nil {
				e.observer.ObserveStage(out.stage, out.elapsed, out.result.OK)
			}
			log.Debug("stage finished", "stage", out.stage, "ok", out.result.OK, "elapsed", out.elapsed)
		}

		if e.reporter != nil {
			keys := state.Keys()
			for _, name := range group {
				e.reporter.Report(state.JobID, name, keys)
			}
		}
	}

	if e.reporter != nil {
		e.reporter.Report(state.JobID, EndStage, state.Keys())
	}
	return state, nil
}
