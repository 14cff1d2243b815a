package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ResearchBrief/internal/budget"
	"ResearchBrief/internal/config"
	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/ports"
	"ResearchBrief/internal/report"
	"ResearchBrief/internal/stage"
)

var (
	errEmptyDraft    = errors.New("generation returned an empty draft")
	errNoSummaries   = errors.New("every map call failed")
	strategyOrdering = []domain.Strategy{domain.StrategyDirect, domain.StrategyMapReduce, domain.StrategyTemplate}
)

// Synthesizer turns ready sources into a validated markdown brief.
type Synthesizer struct {
	deps   Deps
	cfg    config.SynthesisConfig
	logger *slog.Logger
}

var _ stage.Runner = (*Synthesizer)(nil)

// NewSynthesizer builds the SYNTHESIZE stage runner.
func NewSynthesizer(deps Deps, cfg config.ResearchConfig) *Synthesizer {
	return &Synthesizer{deps: deps, cfg: synthesisSettings(cfg), logger: deps.logger("synthesizer")}
}

func (s *Synthesizer) Stage() domain.Stage { return domain.StageSynthesize }

// Run drafts the brief with the recorded strategy, degrading along
// direct, map_reduce and template, validates it and moves the job to PUBLISH.
// It only fails when the job row cannot be read or written.
func (s *Synthesizer) Run(ctx context.Context, job *domain.Job, guard budget.Guard) error {
	progress := job.State.Synthesis
	if progress == nil {
		progress = &domain.SynthesisState{Strategy: domain.StrategyDirect}
	}
	now := s.deps.now()
	topic := topicLabel(ctx, s.deps.Directory, job.TopicID)

	ready, err := s.deps.Sources.ReadySources(ctx, job.ID, s.cfg.MaxSources)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StageSynthesize, "load ready sources", "", err)
	}

	if len(ready) == 0 {
		s.logger.Warn("no usable sources, publishing no-coverage brief", "job_id", job.ID)
		markdown := report.NoCoverage(topic, now)
		verdict := report.Validate(markdown, nil)
		draft := domain.SynthesisState{
			Strategy:         domain.StrategyTemplate,
			Retries:          progress.Retries,
			PartialMarkdown:  markdown,
			Valid:            verdict.Valid,
			ValidationErrors: verdict.Errors,
		}
		if err := job.State.ToPublish(draft); err != nil {
			return domain.Wrap(domain.ErrTransient, domain.StageSynthesize, "transition", "", err)
		}
		job.MarkPartial()
		return rest(ctx, s.deps.Jobs, job, domain.StageSynthesize)
	}

	refs := sourceRefs(ready)
	texts := sourceTexts(ready)

	used, markdown, resume := s.draft(ctx, job, guard, progress.Strategy, topic, ready)
	if resume != "" {
		progress.Strategy = resume
		job.State.Synthesis = progress
		s.logger.Info("no model strategy fits the remaining budget, waiting for the next step",
			"job_id", job.ID, "strategy", resume, "remaining", guard.Remaining())
		return rest(ctx, s.deps.Jobs, job, domain.StageSynthesize)
	}
	markdown = report.Normalize(markdown, refs)
	verdict := report.Validate(markdown, texts)

	retries := progress.Retries
	if !verdict.Valid && retries == 0 && used != domain.StrategyTemplate && guard.Allows(s.cfg.DirectTimeout) {
		retries++
		s.logger.Info("draft rejected, retrying with strict prompt", "job_id", job.ID, "errors", verdict.Errors)
		strict, err := s.safely(ctx, func(ctx context.Context) (string, error) {
			return s.direct(ctx, topic, ready, true)
		})
		if err != nil {
			s.logger.Warn("strict retry failed", "job_id", job.ID, "error", err)
		} else {
			strict = report.Normalize(strict, refs)
			if again := report.Validate(strict, texts); again.Valid {
				used, markdown, verdict = domain.StrategyDirect, strict, again
			}
		}
	}

	if !verdict.Valid || used == domain.StrategyTemplate {
		job.MarkPartial()
	}
	draft := domain.SynthesisState{
		Strategy:         used,
		Retries:          retries,
		PartialMarkdown:  markdown,
		Valid:            verdict.Valid,
		ValidationErrors: verdict.Errors,
	}
	if err := job.State.ToPublish(draft); err != nil {
		return domain.Wrap(domain.ErrTransient, domain.StageSynthesize, "transition", "", err)
	}

	s.logger.Info("brief drafted",
		"job_id", job.ID, "strategy", used, "sources", len(ready), "valid", verdict.Valid, "retries", retries)
	return rest(ctx, s.deps.Jobs, job, domain.StageSynthesize)
}

// draft walks the strategy chain from start and returns the first non-empty
// result. A model strategy that does not fit the guard gives way to a cheaper
// one; when none fits, nothing is drafted and resume names the strategy the
// next step starts from. The template is used only once the model strategies
// have failed.
func (s *Synthesizer) draft(ctx context.Context, job *domain.Job, guard budget.Guard, start domain.Strategy, topic string, ready []domain.Source) (used domain.Strategy, text string, resume domain.Strategy) {
	if s.deps.Generator == nil {
		s.logger.Warn("no generator configured, using template", "job_id", job.ID)
		return domain.StrategyTemplate, report.Template(topic, sourceRefs(ready), s.deps.now()), ""
	}

	begin := 0
	for i, strategy := range strategyOrdering {
		if strategy == start {
			begin = i
		}
	}

	for _, strategy := range strategyOrdering[begin:] {
		var err error
		switch strategy {
		case domain.StrategyDirect:
			if !guard.Allows(s.directCost()) {
				if guard.Allows(s.mapReduceCost()) {
					s.logger.Info("direct does not fit the budget, trying map_reduce", "job_id", job.ID)
					continue
				}
				return "", "", domain.StrategyDirect
			}
			text, err = s.safely(ctx, func(ctx context.Context) (string, error) {
				return s.direct(ctx, topic, ready, false)
			})
		case domain.StrategyMapReduce:
			if !guard.Allows(s.mapReduceCost()) {
				return "", "", domain.StrategyMapReduce
			}
			text, err = s.safely(ctx, func(ctx context.Context) (string, error) {
				return s.mapReduce(ctx, topic, ready)
			})
		default:
			return domain.StrategyTemplate, report.Template(topic, sourceRefs(ready), s.deps.now()), ""
		}
		if err == nil {
			return strategy, text, ""
		}
		s.logger.Warn("strategy failed", "job_id", job.ID, "strategy", strategy, "error", err)
	}
	return domain.StrategyTemplate, report.Template(topic, sourceRefs(ready), s.deps.now()), ""
}

func (s *Synthesizer) directCost() time.Duration {
	return s.cfg.DirectTimeout
}

// mapReduceCost is one map timeout, since the map calls run concurrently,
// plus the reduce call.
func (s *Synthesizer) mapReduceCost() time.Duration {
	return s.cfg.MapTimeout + s.cfg.ReduceTimeout
}

// safely converts panics inside a strategy into errors.
func (s *Synthesizer) safely(ctx context.Context, fn func(ctx context.Context) (string, error)) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()
	text, err = fn(ctx)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyDraft
	}
	return text, err
}

func (s *Synthesizer) direct(ctx context.Context, topic string, sources []domain.Source, strict bool) (string, error) {
	system := briefSystemPrompt
	if strict {
		system += strictSuffix
	}
	return s.generate(ctx, ports.GenerateRequest{
		SystemPrompt:    system,
		UserPrompt:      directPrompt(topic, sources, s.cfg.ExcerptChars, s.deps.now()),
		MaxOutputTokens: s.cfg.MaxOutputTokens,
		Temperature:     s.cfg.Temperature,
		Timeout:         s.cfg.DirectTimeout,
	})
}

// mapReduce summarizes every source in parallel and then writes the brief
// from the summaries. Failed map calls leave their source out.
func (s *Synthesizer) mapReduce(ctx context.Context, topic string, sources []domain.Source) (string, error) {
	summaries := make([]string, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i := range sources {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("map call panicked", "url", sources[i].URL, "panic", fmt.Sprint(r))
				}
			}()
			text, err := s.generate(gctx, ports.GenerateRequest{
				SystemPrompt:    mapSystemPrompt,
				UserPrompt:      mapPrompt(topic, sources[i], s.cfg.ExcerptChars),
				MaxOutputTokens: s.cfg.MapOutputTokens,
				Temperature:     s.cfg.Temperature,
				Timeout:         s.cfg.MapTimeout,
			})
			if err != nil {
				s.logger.Debug("map call failed", "url", sources[i].URL, "error", err)
				return nil
			}
			summaries[i] = text
			return nil
		})
	}
	_ = g.Wait()

	usable := 0
	for _, summary := range summaries {
		if strings.TrimSpace(summary) != "" {
			usable++
		}
	}
	if usable == 0 {
		return "", errNoSummaries
	}

	return s.generate(ctx, ports.GenerateRequest{
		SystemPrompt:    briefSystemPrompt,
		UserPrompt:      reducePrompt(topic, sources, summaries, s.deps.now()),
		MaxOutputTokens: s.cfg.MaxOutputTokens,
		Temperature:     s.cfg.Temperature,
		Timeout:         s.cfg.ReduceTimeout,
	})
}

// generate bounds each call by its own timeout regardless of the caller's budget.
func (s *Synthesizer) generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	if s.deps.Generator == nil {
		return "", errors.New("no generator configured")
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	return s.deps.Generator.Generate(ctx, req)
}
