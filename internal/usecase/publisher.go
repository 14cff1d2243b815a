package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ResearchBrief/internal/budget"
	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/stage"
)

// Publisher stores the single report of a job and notifies its owner.
type Publisher struct {
	deps   Deps
	logger *slog.Logger
}

var _ stage.Runner = (*Publisher)(nil)

// NewPublisher builds the PUBLISH stage runner.
func NewPublisher(deps Deps) *Publisher {
	return &Publisher{deps: deps, logger: deps.logger("publisher")}
}

func (p *Publisher) Stage() domain.Stage { return domain.StagePublish }

// Run creates the report at most once and settles the job on its final
// status. A notification failure is recorded on the job but never fails it.
func (p *Publisher) Run(ctx context.Context, job *domain.Job, _ budget.Guard) error {
	existing, err := p.deps.Reports.GetReportByJob(ctx, job.ID)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StagePublish, "load report", "", err)
	}
	if existing != nil {
		if job.State.Publish == nil {
			job.State.Publish = &domain.PublishState{ReportID: existing.ID, PublishedAt: existing.CreatedAt}
		}
		job.Status = job.FinalStatus()
		return save(ctx, p.deps.Jobs, job, domain.StagePublish)
	}

	draft := job.State.Synthesis
	if draft == nil || strings.TrimSpace(draft.PartialMarkdown) == "" {
		return domain.Wrap(domain.ErrConfiguration, domain.StagePublish, "load draft", "job has no draft markdown", nil)
	}

	now := p.deps.now()
	topic := topicLabel(ctx, p.deps.Directory, job.TopicID)
	body, err := p.deps.Renderer.Markdown(draft.PartialMarkdown)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StagePublish, "render markdown", "", err)
	}

	rep := &domain.Report{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Subject:   Subject(topic, now),
		Markdown:  draft.PartialMarkdown,
		HTML:      body,
		CreatedAt: now,
	}
	created, err := p.deps.Reports.CreateReport(ctx, rep)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StagePublish, "create report", "", err)
	}

	state := &domain.PublishState{ReportID: rep.ID, PublishedAt: now}
	if created {
		if err := p.notify(ctx, job, rep); errors.Is(err, domain.ErrNoChannel) {
			p.logger.Info("notification not delivered", "job_id", job.ID, "error", err)
			state.DeliveryError = err.Error()
		} else if err != nil {
			p.logger.Warn("notification not delivered", "job_id", job.ID, "error", err)
			state.DeliveryError = err.Error()
		} else {
			state.Delivered = true
		}
	} else if stored, err := p.deps.Reports.GetReportByJob(ctx, job.ID); err == nil && stored != nil {
		state.ReportID = stored.ID
		state.PublishedAt = stored.CreatedAt
	}

	job.State.Publish = state
	job.Status = job.FinalStatus()
	if err := save(ctx, p.deps.Jobs, job, domain.StagePublish); err != nil {
		return err
	}
	p.logger.Info("report published",
		"job_id", job.ID, "report_id", state.ReportID, "status", job.Status, "delivered", state.Delivered)
	return nil
}

func (p *Publisher) notify(ctx context.Context, job *domain.Job, rep *domain.Report) error {
	if p.deps.Sender == nil {
		return errors.New("no sender configured")
	}

	user, err := p.deps.Directory.GetUser(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}
	if user == nil {
		return fmt.Errorf("recipient %s: %w", job.UserID, domain.ErrNotFound)
	}

	var tokens domain.LinkTokens
	if p.deps.Tokens != nil {
		issued, err := p.deps.Tokens.IssueScopedTokens(ctx, job.UserID)
		if err != nil {
			return fmt.Errorf("issue link tokens: %w", err)
		}
		tokens = issued
	}

	html, err := p.deps.Renderer.Notification(rep.Subject, rep.HTML, tokens)
	if err != nil {
		return fmt.Errorf("render notification: %w", err)
	}
	if err := p.deps.Sender.Send(ctx, user.ChatID, rep.Subject, html); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// Subject is the report title shown to the recipient.
func Subject(topic string, at time.Time) string {
	return fmt.Sprintf("%s research brief: %s", topic, at.Format("Jan 2, 2006"))
}
