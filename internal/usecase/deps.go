package usecase

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"ResearchBrief/internal/config"
	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
	"ResearchBrief/internal/report"
)

// Deps groups every collaborator the research use cases rely on.
type Deps struct {
	Jobs      ports.JobRepository
	Sources   ports.SourceRepository
	Reports   ports.ReportRepository
	Directory ports.Directory
	Corpus    ports.Corpus
	Fetcher   ports.Fetcher
	Generator ports.Generator
	Sender    ports.Sender
	Tokens    ports.TokenIssuer
	Renderer  ports.Renderer
	Clock     func() time.Time
	Logger    *slog.Logger
}

func (d Deps) now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}
	return d.Clock().UTC()
}

func (d Deps) clock() func() time.Time {
	if d.Clock == nil {
		return time.Now
	}
	return d.Clock
}

func (d Deps) logger(component string) *slog.Logger {
	base := d.Logger
	if base == nil {
		base = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return base.With("component", component)
}

// save persists the job row after a stage transition.
func save(ctx context.Context, jobs ports.JobRepository, job *domain.Job, stage domain.Stage) error {
	if err := jobs.UpdateJob(ctx, job); err != nil {
		return domain.Wrap(domain.ErrTransient, stage, "persist job", "", err)
	}
	return nil
}

// rest persists a non-final transition; the job settles into queued or partial.
func rest(ctx context.Context, jobs ports.JobRepository, job *domain.Job, stage domain.Stage) error {
	job.Status = job.RestingStatus()
	return save(ctx, jobs, job, stage)
}

// topicLabel resolves a topic label, falling back to its id.
func topicLabel(ctx context.Context, dir ports.Directory, topicID string) string {
	if dir == nil {
		return topicID
	}
	topic, err := dir.GetTopic(ctx, topicID)
	if err != nil || topic == nil || strings.TrimSpace(topic.Label) == "" {
		return topicID
	}
	return topic.Label
}

func sourceRefs(sources []domain.Source) []report.SourceRef {
	refs := make([]report.SourceRef, 0, len(sources))
	for _, src := range sources {
		refs = append(refs, report.SourceRef{
			Title:       src.Title,
			URL:         src.URL,
			SourceName:  src.SourceName,
			PublishedAt: src.PublishedAt,
		})
	}
	return refs
}

func sourceTexts(sources []domain.Source) []string {
	texts := make([]string, 0, len(sources))
	for _, src := range sources {
		texts = append(texts, src.ExtractedText)
	}
	return texts
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func strategyFromConfig(value string, fallback domain.Strategy) domain.Strategy {
	switch s := domain.Strategy(value); s {
	case domain.StrategyDirect, domain.StrategyMapReduce, domain.StrategyTemplate:
		return s
	default:
		return fallback
	}
}

func synthesisSettings(cfg config.ResearchConfig) config.SynthesisConfig {
	s := cfg.Synthesis
	if s.MaxSources <= 0 {
		s.MaxSources = 8
	}
	if s.ExcerptChars <= 0 {
		s.ExcerptChars = 3000
	}
	if s.DirectTimeout <= 0 {
		s.DirectTimeout = 35 * time.Second
	}
	if s.MapTimeout <= 0 {
		s.MapTimeout = 12 * time.Second
	}
	if s.ReduceTimeout <= 0 {
		s.ReduceTimeout = 20 * time.Second
	}
	if s.MaxOutputTokens <= 0 {
		s.MaxOutputTokens = 1800
	}
	if s.MapOutputTokens <= 0 {
		s.MapOutputTokens = 220
	}
	return s
}
