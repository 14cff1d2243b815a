package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ResearchBrief/internal/budget"
	"ResearchBrief/internal/config"
	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/report"
	"ResearchBrief/internal/stage"
)

// Orchestrator advances one job by exactly one stage per call.
type Orchestrator struct {
	deps        Deps
	registry    *stage.Registry
	publisher   *Publisher
	maxAttempts int
	maxSteps    int
	buffer      time.Duration
	readyCap    int
	fetchUnit   time.Duration
	synthesis   config.SynthesisConfig
	logger      *slog.Logger
}

// NewOrchestrator wires the four stage runners.
func NewOrchestrator(deps Deps, cfg config.ResearchConfig) *Orchestrator {
	publisher := NewPublisher(deps)
	o := &Orchestrator{
		deps: deps,
		registry: stage.NewRegistry(
			NewDiscovery(deps, cfg),
			NewExtractor(deps, cfg),
			NewSynthesizer(deps, cfg),
			publisher,
		),
		publisher:   publisher,
		maxAttempts: cfg.MaxAttempts,
		maxSteps:    cfg.MaxSteps,
		buffer:      cfg.BudgetBuffer,
		readyCap:    synthesisSettings(cfg).MaxSources,
		fetchUnit:   cfg.Fetch.Timeout,
		synthesis:   synthesisSettings(cfg),
		logger:      deps.logger("orchestrator"),
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = 3
	}
	if o.maxSteps < o.maxAttempts {
		o.maxSteps = 4 * o.maxAttempts
	}
	if o.buffer <= 0 {
		o.buffer = budget.DefaultBuffer
	}
	return o
}

// Step runs the stage the job currently sits in within maxDuration. Stage
// failures are absorbed into the job status; the returned error only reports
// that the job row itself could not be read or written.
func (o *Orchestrator) Step(ctx context.Context, jobID string, maxDuration time.Duration) error {
	guard := budget.New(o.deps.clock(), maxDuration, o.buffer)

	job, err := o.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil || job.Status.IsHardTerminal() {
		return nil
	}
	log := o.logger.With("job_id", job.ID, "stage", job.State.Stage, "attempt", job.Attempt)

	if job.Attempt >= o.maxSteps {
		log.Warn("step limit reached, forcing publish")
		if err := o.forcePublish(ctx, job, guard); err != nil {
			log.Error("forced publish failed, aborting job", "error", err)
			job.Status = domain.StatusAborted
			return o.persist(ctx, job)
		}
		return nil
	}

	if err := job.State.Validate(); err != nil {
		log.Warn("unrecognised job state, restarting discovery", "error", err)
		job.State.Reset()
	}

	job.Attempt++
	job.Status = domain.StatusRunning
	if err := o.persist(ctx, job); err != nil {
		return err
	}

	runner, err := o.registry.Resolve(job.State.Stage)
	if err == nil {
		err = runner.Run(ctx, job, guard)
	}
	if err == nil {
		return nil
	}
	return o.settleFailure(ctx, job.ID, guard, err)
}

// FitShare raises share to the least time the job's current stage needs for
// one unit of work, trying the unit of its recorded strategy before cheaper
// ones. It reports false when no unit fits in remaining.
func (o *Orchestrator) FitShare(state domain.JobState, share, remaining time.Duration) (time.Duration, bool) {
	for _, unit := range o.units(state) {
		need := unit + o.buffer
		if share >= need {
			return share, true
		}
		if remaining >= need {
			return need, true
		}
	}
	return share, false
}

// units lists the work units a step in this state may start, most preferred first.
func (o *Orchestrator) units(state domain.JobState) []time.Duration {
	switch state.Stage {
	case domain.StageFetch:
		return []time.Duration{o.fetchUnit}
	case domain.StageSynthesize:
		if state.Synthesis == nil {
			break
		}
		mapReduce := o.synthesis.MapTimeout + o.synthesis.ReduceTimeout
		switch state.Synthesis.Strategy {
		case domain.StrategyDirect:
			return []time.Duration{o.synthesis.DirectTimeout, mapReduce}
		case domain.StrategyMapReduce:
			return []time.Duration{mapReduce}
		}
	}
	return []time.Duration{0}
}

// settleFailure settles a job after its stage failed. The job is reloaded so that
// half-applied in-memory transitions are discarded.
func (o *Orchestrator) settleFailure(ctx context.Context, jobID string, guard budget.Guard, cause error) error {
	job, err := o.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reload job %s: %w", jobID, err)
	}
	if job == nil {
		return nil
	}
	log := o.logger.With("job_id", job.ID, "stage", job.State.Stage, "attempt", job.Attempt)

	switch {
	case domain.IsFatal(cause):
		log.Error("stage failed permanently", "error", cause)
		job.Status = domain.StatusFailed
	case job.Attempt >= o.maxAttempts:
		log.Warn("attempts exhausted, forcing publish", "error", cause)
		if err := o.forcePublish(ctx, job, guard); err != nil {
			log.Error("forced publish failed", "error", err)
			job.Status = domain.StatusFailed
			break
		}
		return nil
	default:
		log.Warn("stage failed, will retry", "error", cause)
		job.Status = job.RestingStatus()
	}
	return o.persist(ctx, job)
}

// forcePublish jumps to PUBLISH with whatever draft exists, building a
// template draft from ready sources when there is none.
func (o *Orchestrator) forcePublish(ctx context.Context, job *domain.Job, guard budget.Guard) error {
	job.State.ForcePublish()
	if strings.TrimSpace(job.State.Synthesis.PartialMarkdown) == "" {
		topic := topicLabel(ctx, o.deps.Directory, job.TopicID)
		ready, err := o.deps.Sources.ReadySources(ctx, job.ID, o.readyCap)
		if err != nil {
			o.logger.Warn("ready sources unavailable for forced publish", "job_id", job.ID, "error", err)
			ready = nil
		}
		job.State.Synthesis.Strategy = domain.StrategyTemplate
		job.State.Synthesis.PartialMarkdown = report.Template(topic, sourceRefs(ready), o.deps.now())
	}
	job.Status = domain.StatusPartial
	if err := o.persist(ctx, job); err != nil {
		return err
	}
	return o.publisher.Run(ctx, job, guard)
}

// Artifact returns the job status, stage and report if one exists.
func (o *Orchestrator) Artifact(ctx context.Context, jobID string) (*domain.Artifact, error) {
	job, err := o.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	rep, err := o.deps.Reports.GetReportByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load report for job %s: %w", jobID, err)
	}
	return &domain.Artifact{JobID: job.ID, Status: job.Status, Stage: job.State.Stage, Report: rep}, nil
}

func (o *Orchestrator) persist(ctx context.Context, job *domain.Job) error {
	if err := o.deps.Jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	return nil
}
