package pipeline

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"

	"CompanyResearcher/internal/domain"
)

// Result is what a stage hands back to the executor.
type Result struct {
	Update     domain.StateUpdate
	OK         bool
	Diagnostic string
}

// Succeeded wraps a successful update.
func Succeeded(update domain.StateUpdate) Result {
	return Result{Update: update, OK: true}
}

// Failed wraps a neutral update together with the failure description.
func Failed(update domain.StateUpdate, format string, args ...any) Result {
	return Result{Update: update, Diagnostic: fmt.Sprintf(format, args...)}
}

// StageFunc reads a state snapshot and returns its partial update. It must not modify the snapshot.
type StageFunc func(ctx context.Context, state domain.State) Result

// Stage is a named unit of pipeline work.
type Stage struct {
	Name string
	Run  StageFunc
	// Fallback yields the neutral update used when Run panics.
	Fallback func() domain.StateUpdate
}

func (s Stage) invoke(ctx context.Context, state domain.State) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			var update domain.StateUpdate
			if s.Fallback != nil {
				update = s.Fallback()
			}
			res = Failed(update, "panic: %v", r)
		}
	}()
	return s.Run(ctx, state)
}

// Guard runs one child task of a stage and turns a panic into an error.
func Guard(task func() error) (err error) {
	if r := panics.Try(func() { err = task() }); r != nil {
		return fmt.Errorf("panic: %v", r.Value)
	}
	return err
}
