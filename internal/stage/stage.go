package stage

import (
	"context"
	"fmt"

	"ResearchBrief/internal/budget"
	"ResearchBrief/internal/domain"
)

// Runner advances a job that sits in one stage. Implementations persist their
// own state transition before returning nil.
type Runner interface {
	Stage() domain.Stage
	Run(ctx context.Context, job *domain.Job, guard budget.Guard) error
}

// Registry keeps a mapping from stages to their runners.
type Registry struct {
	runners map[domain.Stage]Runner
}

// NewRegistry builds a registry holding the given runners.
func NewRegistry(runners ...Runner) *Registry {
	r := &Registry{runners: map[domain.Stage]Runner{}}
	for _, runner := range runners {
		r.Register(runner)
	}
	return r
}

// Register adds or replaces a runner.
func (r *Registry) Register(runner Runner) {
	if r.runners == nil {
		r.runners = map[domain.Stage]Runner{}
	}
	r.runners[runner.Stage()] = runner
}

// Resolve returns the runner for a stage or an error if it is absent.
func (r *Registry) Resolve(s domain.Stage) (Runner, error) {
	if runner, ok := r.runners[s]; ok {
		return runner, nil
	}
	return nil, fmt.Errorf("no runner registered for stage %q", s)
}
