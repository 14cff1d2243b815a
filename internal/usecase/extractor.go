package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"ResearchBrief/internal/budget"
	"ResearchBrief/internal/config"
	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/infrastructure/parser"
	"ResearchBrief/internal/stage"
)

// Extractor fetches pending sources in small parallel batches and classifies
// each one as ok, paywalled or blocked.
type Extractor struct {
	deps   Deps
	cfg    config.ResearchConfig
	logger *slog.Logger
}

var _ stage.Runner = (*Extractor)(nil)

// NewExtractor builds the FETCH stage runner.
func NewExtractor(deps Deps, cfg config.ResearchConfig) *Extractor {
	if cfg.Fetch.BatchSize <= 0 {
		cfg.Fetch.BatchSize = 4
	}
	if cfg.Fetch.MinReadableChars <= 0 {
		cfg.Fetch.MinReadableChars = 1200
	}
	if cfg.Synthesis.MinSourcesDirect <= 0 {
		cfg.Synthesis.MinSourcesDirect = 4
	}
	if cfg.Synthesis.MinSourcesPartial <= 0 {
		cfg.Synthesis.MinSourcesPartial = 2
	}
	return &Extractor{deps: deps, cfg: cfg, logger: deps.logger("extractor")}
}

func (e *Extractor) Stage() domain.Stage { return domain.StageFetch }

// Run fetches one batch of still unknown sources, records every outcome and
// decides whether the job moves on to SYNTHESIZE. A batch is launched only
// while the guard leaves room for one full fetch plus the closing writes.
func (e *Extractor) Run(ctx context.Context, job *domain.Job, guard budget.Guard) error {
	pending, err := e.deps.Sources.PendingSources(ctx, job.ID, e.cfg.Fetch.BatchSize)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StageFetch, "load pending sources", "", err)
	}

	outcomes := make([]domain.Source, len(pending))
	launched := 0
	g, gctx := errgroup.WithContext(ctx)
	for i := range pending {
		if !guard.Allows(e.cfg.Fetch.Timeout) {
			e.logger.Info("fetch budget exhausted", "job_id", job.ID, "launched", launched, "pending", len(pending))
			break
		}
		launched++
		g.Go(func() error {
			outcomes[i] = e.fetchOne(gctx, pending[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, src := range outcomes[:launched] {
		if err := e.deps.Sources.RecordOutcome(ctx, src); err != nil {
			return domain.Wrap(domain.ErrTransient, domain.StageFetch, "record outcome", src.URL, err)
		}
	}

	counts, err := e.deps.Sources.CountSources(ctx, job.ID)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StageFetch, "count sources", "", err)
	}

	progress := job.State.Fetch
	if progress == nil {
		progress = &domain.FetchState{}
		job.State.Fetch = progress
	}
	progress.Attempted += launched
	progress.OK = counts.OK
	progress.Paywalled = counts.Paywalled
	progress.Blocked = counts.Blocked
	progress.NextIndex = counts.Total() - counts.Unknown

	preferred := strategyFromConfig(e.cfg.Synthesis.PreferredStrategy, domain.StrategyDirect)
	fallback := strategyFromConfig(e.cfg.Synthesis.FallbackStrategy, domain.StrategyMapReduce)

	switch {
	case counts.OK >= e.cfg.Synthesis.MinSourcesDirect:
		err = job.State.ToSynthesize(preferred)
	case counts.Unknown > 0:
		e.logger.Info("fetch batch done",
			"job_id", job.ID, "ok", counts.OK, "paywalled", counts.Paywalled, "blocked", counts.Blocked, "remaining", counts.Unknown)
		return rest(ctx, e.deps.Jobs, job, domain.StageFetch)
	case counts.OK >= e.cfg.Synthesis.MinSourcesPartial:
		err = job.State.ToSynthesize(preferred)
		job.MarkPartial()
	default:
		err = job.State.ToSynthesize(fallback)
		job.MarkPartial()
	}
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StageFetch, "transition", "", err)
	}

	e.logger.Info("evidence extraction finished",
		"job_id", job.ID, "ok", counts.OK, "paywalled", counts.Paywalled, "blocked", counts.Blocked,
		"strategy", job.State.Synthesis.Strategy, "partial", job.State.Partial)
	return rest(ctx, e.deps.Jobs, job, domain.StageFetch)
}

// fetchOne never fails: every problem becomes a blocked or paywalled outcome.
func (e *Extractor) fetchOne(ctx context.Context, src domain.Source) (out domain.Source) {
	out = src
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extraction panicked", "url", src.URL, "panic", fmt.Sprint(r))
			out.AccessStatus = domain.AccessBlocked
			out.ExtractedText = ""
		}
		now := e.deps.now()
		out.FetchedAt = &now
	}()

	doc, err := e.deps.Fetcher.Get(ctx, src.URL)
	if err != nil {
		e.logger.Debug("fetch failed", "url", src.URL, "error", err)
		out.AccessStatus = domain.AccessBlocked
		return out
	}
	out.AccessStatus = classify(doc, src.URL)
	if out.AccessStatus != domain.AccessUnknown {
		return out
	}

	finalURL := doc.FinalURL
	if finalURL == "" {
		finalURL = src.URL
	}
	readable, err := parser.Extract(doc.Body, finalURL, e.cfg.Fetch.MinReadableChars)
	if err != nil {
		out.AccessStatus = domain.AccessBlocked
		return out
	}
	if readable.Paywalled {
		out.AccessStatus = domain.AccessPaywalled
		return out
	}

	if strings.TrimSpace(out.Title) == "" {
		out.Title = readable.Title
	}
	if strings.TrimSpace(out.SourceName) == "" {
		out.SourceName = readable.SourceName
	}
	if out.PublishedAt == nil {
		out.PublishedAt = readable.PublishedAt
	}

	if utf8.RuneCountInString(readable.Text) < e.cfg.Fetch.MinReadableChars {
		out.AccessStatus = domain.AccessBlocked
		return out
	}
	out.AccessStatus = domain.AccessOK
	out.ExtractedText = parser.Truncate(readable.Text, e.cfg.Fetch.MaxStoredChars)
	return out
}

// classify decides on transport-level signals alone; AccessUnknown means the
// body still has to be inspected.
func classify(doc domain.FetchedDocument, requested string) domain.AccessStatus {
	switch {
	case doc.StatusCode == http.StatusUnauthorized || doc.StatusCode == http.StatusForbidden || doc.StatusCode == http.StatusPaymentRequired:
		return domain.AccessPaywalled
	case doc.StatusCode < 200 || doc.StatusCode >= 300:
		return domain.AccessBlocked
	}
	final := doc.FinalURL
	if final == "" {
		final = requested
	}
	if parser.IsPaywallURL(final) {
		return domain.AccessPaywalled
	}
	if ct := strings.ToLower(doc.ContentType); ct != "" && !strings.Contains(ct, "html") && !strings.HasPrefix(ct, "text/") {
		return domain.AccessBlocked
	}
	return domain.AccessUnknown
}
