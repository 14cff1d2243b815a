package ports

import (
	"context"
	"time"

	"ResearchBrief/internal/domain"
)

// JobRepository is the Job State Store.
type JobRepository interface {
	// CreateJob inserts the job unless one already exists for its (user, period).
	CreateJob(ctx context.Context, job *domain.Job) (bool, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	// UpdateJob writes status, attempt and state in a single row update.
	UpdateJob(ctx context.Context, job *domain.Job) error
	ListAdvanceable(ctx context.Context, limit int) ([]domain.Job, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Job, error)
	LastTopicUse(ctx context.Context, userID string) (map[string]time.Time, error)
}

// SourceRepository persists evidence rows attached to jobs.
type SourceRepository interface {
	InsertSources(ctx context.Context, jobID string, sources []domain.Source) (int, error)
	PendingSources(ctx context.Context, jobID string, limit int) ([]domain.Source, error)
	// RecordOutcome sets the fetch outcome of a source that is still unknown.
	RecordOutcome(ctx context.Context, source domain.Source) error
	CountSources(ctx context.Context, jobID string) (domain.SourceCounts, error)
	ReadySources(ctx context.Context, jobID string, limit int) ([]domain.Source, error)
}

// ReportRepository stores the published artifact.
type ReportRepository interface {
	GetReportByJob(ctx context.Context, jobID string) (*domain.Report, error)
	// CreateReport inserts the report unless the job already has one.
	CreateReport(ctx context.Context, report *domain.Report) (bool, error)
}

// Directory is read-only access to topics and users.
type Directory interface {
	GetTopic(ctx context.Context, id string) (*domain.Topic, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListEnabledUsers(ctx context.Context) ([]domain.User, error)
}

// Corpus exposes recent documents and source quality signals.
type Corpus interface {
	RecentCandidates(ctx context.Context, topic domain.Topic, since time.Time) ([]domain.Candidate, error)
	SourceQualityTier(ctx context.Context, rawURL string) (int, error)
	BlockedHostPatterns(ctx context.Context) ([]string, error)
}

// Fetcher retrieves documents following redirects with a fixed client identity.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (domain.FetchedDocument, error)
}

// GenerateRequest describes one generation call.
type GenerateRequest struct {
	SystemPrompt    string
	UserPrompt      string
	MaxOutputTokens int
	Temperature     float64
	Timeout         time.Duration
}

// Generator is the generation service.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Sender delivers the outward notification.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// TokenIssuer issues recipient-scoped link tokens.
type TokenIssuer interface {
	IssueScopedTokens(ctx context.Context, userID string) (domain.LinkTokens, error)
}

// Renderer turns markdown into safe HTML and wraps it for delivery.
type Renderer interface {
	Markdown(markdown string) (string, error)
	Notification(subject, body string, tokens domain.LinkTokens) (string, error)
}

// Scheduler controls when ticks execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
