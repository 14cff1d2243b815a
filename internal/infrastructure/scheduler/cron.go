package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ResearchBrief/internal/ports"
	"ResearchBrief/pkg/logger"
)

// CronScheduler fires the job on a cron expression. Runs never overlap: a
// trigger that arrives while the previous run is still busy is skipped.
type CronScheduler struct {
	spec     string
	location *time.Location
	log      cron.Logger

	mu   sync.Mutex
	cron *cron.Cron
	done chan struct{}
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler for a standard five-field cron spec.
func NewCronScheduler(spec string, location *time.Location, base *slog.Logger) *CronScheduler {
	if location == nil {
		location = time.UTC
	}
	return &CronScheduler{
		spec:     spec,
		location: location,
		log:      cron.PrintfLogger(logger.New("cron", base)),
	}
}

// Start registers the job and begins scheduling. It stops on its own when ctx ends.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	runner := cron.New(
		cron.WithLocation(c.location),
		cron.WithLogger(c.log),
		cron.WithChain(cron.Recover(c.log), cron.SkipIfStillRunning(c.log)),
	)
	if _, err := runner.AddFunc(c.spec, func() { job(time.Now().In(c.location)) }); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", c.spec, err)
	}
	runner.Start()

	c.cron = runner
	c.done = make(chan struct{})
	go func(done <-chan struct{}) {
		select {
		case <-ctx.Done():
			_ = c.Stop(context.Background())
		case <-done:
		}
	}(c.done)
	return nil
}

// Stop halts scheduling and waits for a running job until ctx ends.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	runner, done := c.cron, c.done
	c.cron, c.done = nil, nil
	c.mu.Unlock()

	if runner == nil {
		return nil
	}
	close(done)

	select {
	case <-runner.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
