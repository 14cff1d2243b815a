package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ResearchBrief/internal/budget"
	"ResearchBrief/internal/config"
	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
)

// TickResult summarizes one scheduler tick.
type TickResult struct {
	Created  int
	Advanced int
}

// Scheduler creates due jobs and advances in-flight ones within a shared
// time budget. In daemon mode it is driven by a cron-like ports.Scheduler.
type Scheduler struct {
	driver       ports.Scheduler
	deps         Deps
	orchestrator *Orchestrator
	cfg          config.ResearchConfig
	period       domain.PeriodKind
	location     *time.Location
	logger       *slog.Logger
}

// NewScheduler returns the job creation and advance loop.
func NewScheduler(driver ports.Scheduler, deps Deps, orchestrator *Orchestrator, cfg config.ResearchConfig, period domain.PeriodKind, location *time.Location) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	if period == "" {
		period = domain.PeriodWeek
	}
	return &Scheduler{
		driver:       driver,
		deps:         deps,
		orchestrator: orchestrator,
		cfg:          cfg,
		period:       period,
		location:     location,
		logger:       deps.logger("scheduler"),
	}
}

// RunOnce creates at most one job per enabled user for the period containing
// now. Existing jobs for the same period are left alone.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (int, error) {
	users, err := s.deps.Directory.ListEnabledUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list enabled users: %w", err)
	}

	local := now.In(s.location)
	period := domain.PeriodKey(local, s.period)
	created := 0
	var errs []error
	for _, user := range users {
		if len(user.TopicIDs) == 0 || !s.due(user, local) {
			continue
		}
		topicID, err := s.nextTopic(ctx, user)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		job := &domain.Job{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Period:    period,
			TopicID:   topicID,
			Status:    domain.StatusQueued,
			State:     domain.NewJobState(),
			CreatedAt: now.UTC(),
		}
		ok, err := s.deps.Jobs.CreateJob(ctx, job)
		if err != nil {
			errs = append(errs, fmt.Errorf("create job for user %s: %w", user.ID, err))
			continue
		}
		if ok {
			created++
			s.logger.Info("job created", "job_id", job.ID, "user_id", user.ID, "period", period, "topic", topicID)
		}
	}
	return created, errors.Join(errs...)
}

// due applies the research weekday: within a week period a job is created
// on the configured weekday or any later one.
func (s *Scheduler) due(user domain.User, local time.Time) bool {
	if user.ResearchWeekday == nil || s.period != domain.PeriodWeek {
		return true
	}
	return domain.WeekdayIndex(local.Weekday()) >= domain.WeekdayIndex(*user.ResearchWeekday)
}

// nextTopic picks the least recently used topic, never-used topics first and
// ties broken by the user's topic order.
func (s *Scheduler) nextTopic(ctx context.Context, user domain.User) (string, error) {
	lastUse, err := s.deps.Jobs.LastTopicUse(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("topic history for user %s: %w", user.ID, err)
	}
	best := ""
	var bestAt time.Time
	for _, id := range user.TopicIDs {
		at, used := lastUse[id]
		if !used {
			return id, nil
		}
		if best == "" || at.Before(bestAt) {
			best, bestAt = id, at
		}
	}
	return best, nil
}

// Advance steps up to maxJobs advanceable jobs. Each job gets an even share of
// what is left, clamped between the configured floor and ceiling and never
// more than what remains. A share too small for one unit of the job's stage is
// raised to that unit when the remainder allows it; otherwise the job is left
// for a later tick without spending an attempt. The loop stops once the budget
// is spent.
func (s *Scheduler) Advance(ctx context.Context, maxJobs int, maxDuration time.Duration) (int, error) {
	if maxJobs <= 0 {
		return 0, nil
	}
	guard := budget.New(s.deps.clock(), maxDuration, s.cfg.BudgetBuffer)

	jobs, err := s.deps.Jobs.ListAdvanceable(ctx, maxJobs)
	if err != nil {
		return 0, fmt.Errorf("list advanceable jobs: %w", err)
	}

	advanced := 0
	var errs []error
	for i, job := range jobs {
		if ctx.Err() != nil || !guard.HasBudget() {
			break
		}
		remaining := guard.Remaining()
		share := JobShare(remaining, len(jobs)-i, s.cfg.JobShareFloor, s.cfg.JobShareCeiling)
		share, fits := s.orchestrator.FitShare(job.State, share, remaining)
		if !fits {
			s.logger.Info("job skipped, its next unit of work does not fit", "job_id", job.ID, "stage", job.State.Stage, "remaining", remaining)
			continue
		}
		if err := s.orchestrator.Step(ctx, job.ID, share); err != nil {
			errs = append(errs, err)
			s.logger.Error("step failed", "job_id", job.ID, "error", err)
			continue
		}
		advanced++
	}
	return advanced, errors.Join(errs...)
}

// JobShare is remaining split across jobsLeft, clamped to [floor, ceiling]
// and then to remaining.
func JobShare(remaining time.Duration, jobsLeft int, floor, ceiling time.Duration) time.Duration {
	if jobsLeft < 1 {
		jobsLeft = 1
	}
	share := remaining / time.Duration(jobsLeft)
	if share < floor {
		share = floor
	}
	if ceiling > 0 && share > ceiling {
		share = ceiling
	}
	if share > remaining {
		share = remaining
	}
	return share
}

// Tick creates due jobs and then advances in-flight ones.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	var result TickResult
	created, createErr := s.RunOnce(ctx, now)
	result.Created = created

	advanced, advanceErr := s.Advance(ctx, s.cfg.MaxJobsPerTick, s.cfg.AdvanceBudget)
	result.Advanced = advanced

	s.logger.Info("tick finished", "created", created, "advanced", advanced)
	return result, errors.Join(createErr, advanceErr)
}

// Start registers Tick with the provided driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if _, err := s.Tick(ctx, trigger); err != nil {
			s.logger.Error("tick failed", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
